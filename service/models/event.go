/*
 * @module service/models/event
 * @description SSE事件与连接模型定义：预测生命周期事件的推送载体
 * @architecture 事件驱动架构 - 数据模型
 * @documentReference ai_docs/forecast_engine_req.md
 * @stateFlow 事件产生 -> 落库 -> 推送到组织内活跃连接
 * @rules 事件按组织隔离推送
 * @dependencies gorm.io/gorm, github.com/google/uuid
 * @refs service/event/event_service.go
 */

package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// SSEEvent 服务端推送事件
type SSEEvent struct {
	ID        string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	OrgID     string    `json:"org_id" gorm:"not null;type:varchar(36);index"`
	EventType string    `json:"event_type" gorm:"not null;size:100;index"` // prediction.resolved, evaluation.created, ...
	Payload   JSONB     `json:"payload,omitempty" gorm:"type:jsonb"`
	CreatedAt time.Time `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// BeforeCreate GORM钩子，创建前生成UUID
func (e *SSEEvent) BeforeCreate(tx *gorm.DB) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	return nil
}

// SSEConnection SSE连接记录
type SSEConnection struct {
	ID           string     `json:"id" gorm:"primaryKey;type:varchar(36)"`
	OrgID        string     `json:"org_id" gorm:"not null;type:varchar(36);index"`
	ConnectionID string     `json:"connection_id" gorm:"not null;size:64;index"`
	ClientIP     string     `json:"client_ip" gorm:"size:45"`
	ConnectedAt  time.Time  `json:"connected_at" gorm:"not null"`
	ClosedAt     *time.Time `json:"closed_at,omitempty"`
	IsActive     bool       `json:"is_active" gorm:"not null;default:true"`
}

// BeforeCreate GORM钩子，创建前生成UUID
func (c *SSEConnection) BeforeCreate(tx *gorm.DB) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	return nil
}
