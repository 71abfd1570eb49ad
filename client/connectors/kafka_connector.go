/*
 * @module client/connectors/kafka_connector
 * @description Kafka摄取连接器：订阅内容推送主题，将消息解析为原始条目送入去重管线，
 *              按topic分组的消费者与连接管理
 * @architecture 适配器模式 - 封装第三方Kafka客户端，提供统一的摄取入口
 * @documentReference ai_docs/crawler_req.md
 * @stateFlow 连接建立 -> 消息消费 -> 解析提交 -> 连接断开
 * @rules 单条消息解析失败只记录不中断消费;消费循环随上下文取消退出
 * @dependencies github.com/segmentio/kafka-go, encoding/json
 * @refs service/content/content_service.go
 */
package connectors

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"foresight-service/service/models"
)

// ItemSubmitter 原始条目提交接口，由内容服务实现
type ItemSubmitter interface {
	Submit(ctx context.Context, item *models.RawItem) (*models.DedupResult, error)
}

// ingestMessage 推送主题上的单条内容消息
type ingestMessage struct {
	OrgID          string  `json:"org_id"`
	SourceID       string  `json:"source_id"`
	Title          string  `json:"title"`
	Content        string  `json:"content"`
	URL            string  `json:"url"`
	PublishedAt    string  `json:"published_at"`
	Charset        string  `json:"charset"`
	TestScenarioID *string `json:"test_scenario_id,omitempty"`
}

// toRawItem 转换为去重管线的原始条目
func (m *ingestMessage) toRawItem() *models.RawItem {
	item := &models.RawItem{
		OrgID:          m.OrgID,
		SourceID:       m.SourceID,
		Title:          m.Title,
		Content:        m.Content,
		URL:            m.URL,
		Charset:        m.Charset,
		TestScenarioID: m.TestScenarioID,
	}
	if m.PublishedAt != "" {
		if ts, err := time.Parse(time.RFC3339, m.PublishedAt); err == nil {
			item.PublishedAt = ts
		}
	}
	return item
}

// KafkaConnector Kafka摄取连接器
type KafkaConnector struct {
	brokers   []string
	topics    []string
	groupID   string
	submitter ItemSubmitter

	mutex       sync.RWMutex
	readers     map[string]*kafka.Reader
	ctx         context.Context
	cancel      context.CancelFunc
	isConnected bool
}

// NewKafkaConnector 创建Kafka摄取连接器，连接参数从环境变量读取
// （KAFKA_BROKERS 逗号分隔、KAFKA_INGEST_TOPICS 逗号分隔、KAFKA_GROUP_ID）
func NewKafkaConnector(submitter ItemSubmitter) *KafkaConnector {
	ctx, cancel := context.WithCancel(context.Background())
	return &KafkaConnector{
		brokers:   splitEnvList("KAFKA_BROKERS", "localhost:9092"),
		topics:    splitEnvList("KAFKA_INGEST_TOPICS", "foresight.content"),
		groupID:   envDefault("KAFKA_GROUP_ID", "foresight-ingest"),
		submitter: submitter,
		readers:   make(map[string]*kafka.Reader),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Connect 建立消费者并启动消费循环
func (kc *KafkaConnector) Connect() error {
	kc.mutex.Lock()
	defer kc.mutex.Unlock()

	if kc.isConnected {
		return nil
	}

	for _, topic := range kc.topics {
		reader := kafka.NewReader(kafka.ReaderConfig{
			Brokers:        kc.brokers,
			Topic:          topic,
			GroupID:        kc.groupID,
			MinBytes:       1,
			MaxBytes:       10e6,
			MaxWait:        time.Second,
			CommitInterval: time.Second,
			StartOffset:    kafka.LastOffset,
		})
		kc.readers[topic] = reader
		go kc.consumeLoop(topic, reader)
	}

	kc.isConnected = true
	slog.Info("Kafka摄取连接器已启动", "brokers", kc.brokers, "topics", kc.topics)
	return nil
}

// Disconnect 停止消费并关闭全部消费者
func (kc *KafkaConnector) Disconnect() error {
	kc.mutex.Lock()
	defer kc.mutex.Unlock()

	if !kc.isConnected {
		return nil
	}

	kc.cancel()
	var errs []string
	for topic, reader := range kc.readers {
		if err := reader.Close(); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", topic, err))
		}
	}
	kc.readers = make(map[string]*kafka.Reader)
	kc.isConnected = false

	if len(errs) > 0 {
		return fmt.Errorf("关闭Kafka消费者失败: %s", strings.Join(errs, "; "))
	}
	slog.Info("Kafka摄取连接器已停止")
	return nil
}

// consumeLoop 单topic消费循环
func (kc *KafkaConnector) consumeLoop(topic string, reader *kafka.Reader) {
	for {
		msg, err := reader.ReadMessage(kc.ctx)
		if err != nil {
			if kc.ctx.Err() != nil {
				return
			}
			slog.Warn("Kafka消息读取失败", "topic", topic, "error", err)
			continue
		}
		kc.handleMessage(topic, msg.Value)
	}
}

// handleMessage 解析并提交单条消息
func (kc *KafkaConnector) handleMessage(topic string, value []byte) {
	var msg ingestMessage
	if err := json.Unmarshal(value, &msg); err != nil {
		slog.Warn("Kafka消息解析失败", "topic", topic, "error", err)
		return
	}
	if msg.OrgID == "" || msg.SourceID == "" {
		slog.Warn("Kafka消息缺少必填字段", "topic", topic)
		return
	}

	ctx, cancel := context.WithTimeout(kc.ctx, 30*time.Second)
	defer cancel()

	result, err := kc.submitter.Submit(ctx, msg.toRawItem())
	if err != nil {
		slog.Warn("Kafka条目提交失败", "topic", topic, "title", msg.Title, "error", err)
		return
	}
	slog.Debug("Kafka条目已摄取",
		"topic", topic, "article_id", result.ArticleID, "classification", result.Classification)
}

// IsConnected 返回连接状态
func (kc *KafkaConnector) IsConnected() bool {
	kc.mutex.RLock()
	defer kc.mutex.RUnlock()
	return kc.isConnected
}

// GetStatistics 返回连接器统计信息
func (kc *KafkaConnector) GetStatistics() map[string]interface{} {
	kc.mutex.RLock()
	defer kc.mutex.RUnlock()

	stats := map[string]interface{}{
		"is_connected": kc.isConnected,
		"brokers":      kc.brokers,
		"group_id":     kc.groupID,
		"topics":       kc.topics,
	}
	return stats
}

// splitEnvList 读取逗号分隔的环境变量列表
func splitEnvList(key, defaultValue string) []string {
	raw := envDefault(key, defaultValue)
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// envDefault 获取环境变量，如果不存在则返回默认值
func envDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
