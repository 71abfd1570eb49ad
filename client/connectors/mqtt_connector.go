/*
 * @module client/connectors/mqtt_connector
 * @description MQTT摄取连接器：订阅推送型内容主题（低延迟快讯源），消息解析后送入去重管线，
 *              断线自动重连并恢复订阅
 * @architecture 适配器模式 - 封装paho MQTT客户端，提供统一的摄取入口
 * @documentReference ai_docs/crawler_req.md
 * @stateFlow 连接建立 -> 订阅 -> 消息处理 -> 断线重连恢复订阅 -> 断开
 * @rules QoS 1 保证至少一次投递，重复投递由去重管线兜底
 * @dependencies github.com/eclipse/paho.mqtt.golang, encoding/json
 * @refs service/content/dedup_engine.go
 */
package connectors

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// MQTTConnector MQTT摄取连接器
type MQTTConnector struct {
	broker    string
	clientID  string
	username  string
	password  string
	topics    []string
	submitter ItemSubmitter

	mutex       sync.RWMutex
	client      mqtt.Client
	isConnected bool
	lastError   string
}

// NewMQTTConnector 创建MQTT摄取连接器，连接参数从环境变量读取
// （MQTT_BROKER、MQTT_CLIENT_ID、MQTT_USERNAME、MQTT_PASSWORD、MQTT_INGEST_TOPICS 逗号分隔）
func NewMQTTConnector(submitter ItemSubmitter) *MQTTConnector {
	return &MQTTConnector{
		broker:    envDefault("MQTT_BROKER", "tcp://localhost:1883"),
		clientID:  envDefault("MQTT_CLIENT_ID", "foresight-ingest"),
		username:  envDefault("MQTT_USERNAME", ""),
		password:  envDefault("MQTT_PASSWORD", ""),
		topics:    splitEnvList("MQTT_INGEST_TOPICS", "foresight/content/#"),
		submitter: submitter,
	}
}

// Connect 建立MQTT连接并订阅全部摄取主题
func (mc *MQTTConnector) Connect() error {
	mc.mutex.Lock()
	defer mc.mutex.Unlock()

	if mc.isConnected {
		return nil
	}

	opts := mqtt.NewClientOptions().
		AddBroker(mc.broker).
		SetClientID(mc.clientID).
		SetAutoReconnect(true).
		SetMaxReconnectInterval(time.Minute).
		SetConnectTimeout(10 * time.Second).
		SetKeepAlive(30 * time.Second).
		SetOnConnectHandler(mc.onConnected).
		SetConnectionLostHandler(mc.onConnectionLost)

	if mc.username != "" {
		opts.SetUsername(mc.username)
		opts.SetPassword(mc.password)
	}

	mc.client = mqtt.NewClient(opts)
	token := mc.client.Connect()
	if !token.WaitTimeout(15 * time.Second) {
		return fmt.Errorf("MQTT连接超时: %s", mc.broker)
	}
	if err := token.Error(); err != nil {
		mc.lastError = err.Error()
		return fmt.Errorf("MQTT连接失败: %w", err)
	}

	mc.isConnected = true
	slog.Info("MQTT摄取连接器已启动", "broker", mc.broker, "topics", mc.topics)
	return nil
}

// Disconnect 断开MQTT连接
func (mc *MQTTConnector) Disconnect() error {
	mc.mutex.Lock()
	defer mc.mutex.Unlock()

	if !mc.isConnected || mc.client == nil {
		return nil
	}
	mc.client.Disconnect(250)
	mc.isConnected = false
	slog.Info("MQTT摄取连接器已停止")
	return nil
}

// onConnected 连接（含重连）成功后恢复订阅
func (mc *MQTTConnector) onConnected(client mqtt.Client) {
	for _, topic := range mc.topics {
		token := client.Subscribe(topic, 1, mc.messageHandler)
		if token.WaitTimeout(10*time.Second) && token.Error() != nil {
			slog.Error("MQTT订阅失败", "topic", topic, "error", token.Error())
			continue
		}
		slog.Info("MQTT主题已订阅", "topic", topic)
	}
}

// onConnectionLost 连接丢失回调，自动重连由客户端负责
func (mc *MQTTConnector) onConnectionLost(client mqtt.Client, err error) {
	mc.mutex.Lock()
	mc.lastError = err.Error()
	mc.mutex.Unlock()
	slog.Warn("MQTT连接丢失，等待自动重连", "broker", mc.broker, "error", err)
}

// messageHandler 解析并提交单条消息
func (mc *MQTTConnector) messageHandler(client mqtt.Client, msg mqtt.Message) {
	var item ingestMessage
	if err := json.Unmarshal(msg.Payload(), &item); err != nil {
		slog.Warn("MQTT消息解析失败", "topic", msg.Topic(), "error", err)
		return
	}
	if item.OrgID == "" || item.SourceID == "" {
		slog.Warn("MQTT消息缺少必填字段", "topic", msg.Topic())
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	result, err := mc.submitter.Submit(ctx, item.toRawItem())
	if err != nil {
		slog.Warn("MQTT条目提交失败", "topic", msg.Topic(), "title", item.Title, "error", err)
		return
	}
	slog.Debug("MQTT条目已摄取",
		"topic", msg.Topic(), "article_id", result.ArticleID, "classification", result.Classification)
}

// IsConnected 返回连接状态
func (mc *MQTTConnector) IsConnected() bool {
	mc.mutex.RLock()
	defer mc.mutex.RUnlock()
	return mc.isConnected && mc.client != nil && mc.client.IsConnected()
}

// GetStatistics 返回连接器统计信息
func (mc *MQTTConnector) GetStatistics() map[string]interface{} {
	mc.mutex.RLock()
	defer mc.mutex.RUnlock()

	return map[string]interface{}{
		"is_connected": mc.isConnected,
		"broker":       mc.broker,
		"client_id":    mc.clientID,
		"topics":       mc.topics,
		"last_error":   mc.lastError,
	}
}
