/*
 * @module service/event/event_service
 * @description 事件管理服务：预测生命周期事件的SSE推送，叠加PostgreSQL LISTEN/NOTIFY
 *              的数据库变更转发，事件按组织隔离
 * @architecture 事件驱动架构 - 业务服务层
 * @documentReference ai_docs/forecast_engine_req.md
 * @stateFlow 事件产生/数据库通知 -> 落库 -> 分发到组织内全部活跃连接
 * @rules 连接队列满时丢弃该连接的事件而不阻塞发布方；监听器断开由pq自动重连
 * @dependencies gorm.io/gorm, github.com/lib/pq
 * @refs service/lifecycle/lifecycle_service.go, api/controllers/event_controller.go
 */

package event

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/lib/pq"
	"gorm.io/gorm"

	"foresight-service/service/models"
)

// notifyChannel 数据库变更通知通道名
const notifyChannel = "foresight_changes"

// getEnvWithDefault 获取环境变量，如果不存在则返回默认值
func getEnvWithDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// SSEClient SSE客户端连接
type SSEClient struct {
	ID      string
	OrgID   string
	Channel chan *models.SSEEvent
	Done    chan bool
}

// EventService 事件管理服务
type EventService struct {
	db          *gorm.DB
	mu          sync.RWMutex
	connections map[string]map[string]*SSEClient // orgID -> connectionID -> client
	dbListener  *pq.Listener
	ctx         context.Context
	cancel      context.CancelFunc
}

// NewEventService 创建事件服务实例并启动数据库监听
func NewEventService(db *gorm.DB) *EventService {
	ctx, cancel := context.WithCancel(context.Background())

	service := &EventService{
		db:          db,
		connections: make(map[string]map[string]*SSEClient),
		ctx:         ctx,
		cancel:      cancel,
	}

	go service.startDBListener()
	return service
}

// Stop 停止事件服务
func (s *EventService) Stop() {
	s.cancel()
	if s.dbListener != nil {
		s.dbListener.Close()
	}
}

// AddConnection 添加SSE连接
func (s *EventService) AddConnection(orgID, connectionID, clientIP string) *SSEClient {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.connections[orgID] == nil {
		s.connections[orgID] = make(map[string]*SSEClient)
	}

	client := &SSEClient{
		ID:      connectionID,
		OrgID:   orgID,
		Channel: make(chan *models.SSEEvent, 100), // 缓冲100个事件
		Done:    make(chan bool),
	}
	s.connections[orgID][connectionID] = client

	s.db.Create(&models.SSEConnection{
		OrgID:        orgID,
		ConnectionID: connectionID,
		ClientIP:     clientIP,
		ConnectedAt:  time.Now(),
		IsActive:     true,
	})

	slog.Info("SSE连接已建立", "org_id", orgID, "connection_id", connectionID, "ip", clientIP)
	return client
}

// RemoveConnection 移除SSE连接
func (s *EventService) RemoveConnection(orgID, connectionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	orgConnections, exists := s.connections[orgID]
	if !exists {
		return
	}
	client, exists := orgConnections[connectionID]
	if !exists {
		return
	}

	close(client.Done)
	delete(orgConnections, connectionID)
	if len(orgConnections) == 0 {
		delete(s.connections, orgID)
	}

	now := time.Now()
	s.db.Model(&models.SSEConnection{}).
		Where("connection_id = ?", connectionID).
		Updates(map[string]interface{}{"is_active": false, "closed_at": now})

	slog.Info("SSE连接已断开", "org_id", orgID, "connection_id", connectionID)
}

// PublishPredictionEvent 发布预测生命周期事件（实现 lifecycle.EventPublisher）。
// 事件按 payload 中的 org_id 定向推送，缺失时广播。
func (s *EventService) PublishPredictionEvent(eventType string, payload map[string]interface{}) {
	orgID, _ := payload["org_id"].(string)
	event := &models.SSEEvent{
		OrgID:     orgID,
		EventType: eventType,
		Payload:   models.JSONB(payload),
	}
	if err := s.publish(event); err != nil {
		slog.Error("生命周期事件发布失败", "event_type", eventType, "error", err)
	}
}

// publish 落库并分发事件
func (s *EventService) publish(event *models.SSEEvent) error {
	if err := s.db.Create(event).Error; err != nil {
		return fmt.Errorf("事件落库失败: %w", err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	deliver := func(client *SSEClient) {
		select {
		case client.Channel <- event:
		default:
			// 队列满：丢弃该连接的事件，不阻塞发布方
			slog.Warn("SSE事件队列已满", "connection_id", client.ID)
		}
	}

	if event.OrgID != "" {
		for _, client := range s.connections[event.OrgID] {
			deliver(client)
		}
		return nil
	}
	for _, orgConnections := range s.connections {
		for _, client := range orgConnections {
			deliver(client)
		}
	}
	return nil
}

// startDBListener 启动PostgreSQL变更监听，通知转发为SSE事件
func (s *EventService) startDBListener() {
	connStr := os.Getenv("DATABASE_URL")
	if connStr == "" {
		host := getEnvWithDefault("DB_HOST", "localhost")
		port := getEnvWithDefault("DB_PORT", "5432")
		user := getEnvWithDefault("DB_USER", "postgres")
		password := getEnvWithDefault("DB_PASSWORD", "postgres")
		dbname := getEnvWithDefault("DB_NAME", "postgres")
		sslmode := getEnvWithDefault("DB_SSLMODE", "disable")

		connStr = fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
			host, port, user, password, dbname, sslmode)
	}

	s.dbListener = pq.NewListener(connStr, 10*time.Second, time.Minute,
		func(ev pq.ListenerEventType, err error) {
			if err != nil {
				slog.Warn("PostgreSQL监听器事件", "event", ev, "error", err)
			}
		})

	if err := s.dbListener.Listen(notifyChannel); err != nil {
		slog.Error("监听数据库通知失败", "channel", notifyChannel, "error", err)
		return
	}
	slog.Info("数据库变更监听器已启动", "channel", notifyChannel)

	for {
		select {
		case notification := <-s.dbListener.Notify:
			if notification != nil {
				s.handleDBNotification(notification)
			}
		case <-s.ctx.Done():
			slog.Info("数据库变更监听器已停止")
			return
		}
	}
}

// handleDBNotification 将数据库变更通知转发为SSE事件
func (s *EventService) handleDBNotification(notification *pq.Notification) {
	var changeData map[string]interface{}
	if err := json.Unmarshal([]byte(notification.Extra), &changeData); err != nil {
		slog.Warn("解析数据库通知失败", "error", err)
		return
	}

	tableName, _ := changeData["table"].(string)
	changeType, _ := changeData["type"].(string)
	orgID, _ := changeData["org_id"].(string)

	event := &models.SSEEvent{
		OrgID:     orgID,
		EventType: fmt.Sprintf("db.%s.%s", tableName, changeType),
		Payload:   models.JSONB(changeData),
	}
	if err := s.publish(event); err != nil {
		slog.Warn("数据库变更事件分发失败", "table", tableName, "error", err)
	}
}

// RecentEvents 查询组织最近的事件（供断线补偿）
func (s *EventService) RecentEvents(ctx context.Context, orgID string, since time.Time, limit int) ([]models.SSEEvent, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var events []models.SSEEvent
	if err := s.db.WithContext(ctx).
		Where("(org_id = ? OR org_id = '') AND created_at > ?", orgID, since).
		Order("created_at ASC").
		Limit(limit).
		Find(&events).Error; err != nil {
		return nil, fmt.Errorf("查询事件失败: %w", err)
	}
	return events, nil
}
