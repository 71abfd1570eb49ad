/*
 * @module service/models/universe
 * @description 标的集与标的模型定义，含测试镜像标的映射；标的创建时由测试隔离层同步派生镜像
 * @architecture DDD领域驱动设计 - 实体模型
 * @documentReference ai_docs/forecast_engine_req.md
 * @stateFlow 标的注册 -> 镜像派生 -> 激活/停用
 * @rules 标的集按 (org, agent, name) 唯一；标的身份 (symbol, universe) 创建后不可变
 * @dependencies gorm.io/gorm, github.com/google/uuid
 * @refs service/testdata/isolation_service.go
 */

package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"foresight-service/service/meta"
)

// Universe 标的集模型，一个组织内某产出代理所拥有的一组同领域标的
type Universe struct {
	ID        string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	OrgID     string    `json:"org_id" gorm:"not null;type:varchar(36);uniqueIndex:idx_universe_identity;index"`
	AgentID   string    `json:"agent_id" gorm:"not null;type:varchar(36);uniqueIndex:idx_universe_identity"`
	Name      string    `json:"name" gorm:"not null;size:255;uniqueIndex:idx_universe_identity"`
	Domain    string    `json:"domain" gorm:"not null;size:50"` // stocks, crypto, event_market
	CreatedAt time.Time `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
	CreatedBy string    `json:"created_by" gorm:"not null;default:'system';size:100"`
	UpdatedAt time.Time `json:"updated_at" gorm:"not null;default:CURRENT_TIMESTAMP"`

	// 关联关系
	Targets []Target `json:"targets,omitempty" gorm:"foreignKey:UniverseID"`
}

// BeforeCreate GORM钩子，创建前生成UUID并校验领域
func (u *Universe) BeforeCreate(tx *gorm.DB) error {
	if u.ID == "" {
		u.ID = uuid.New().String()
	}
	if !meta.IsValidDomain(u.Domain) {
		return NewValidationError("domain", "无效的标的领域: "+u.Domain)
	}
	return nil
}

// Target 标的模型，一个可预测的工具/合约
type Target struct {
	ID         string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	UniverseID string    `json:"universe_id" gorm:"not null;type:varchar(36);uniqueIndex:idx_target_identity;index"`
	OrgID      string    `json:"org_id" gorm:"not null;type:varchar(36);index"`
	Symbol     string    `json:"symbol" gorm:"not null;size:64;uniqueIndex:idx_target_identity"`
	Name       string    `json:"name" gorm:"size:255"`
	Domain     string    `json:"domain" gorm:"not null;size:50"`                  // 继承自标的集，固定方向词汇表
	Status     string    `json:"status" gorm:"not null;default:'active';size:20"` // active, inactive
	IsTest     bool      `json:"is_test" gorm:"not null;default:false;index"`     // 是否为测试镜像标的
	CreatedAt  time.Time `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
	CreatedBy  string    `json:"created_by" gorm:"not null;default:'system';size:100"`
	UpdatedAt  time.Time `json:"updated_at" gorm:"not null;default:CURRENT_TIMESTAMP"`

	// 关联关系
	Universe *Universe `json:"universe,omitempty" gorm:"foreignKey:UniverseID"`
}

// BeforeCreate GORM钩子，创建前生成UUID并校验领域
func (t *Target) BeforeCreate(tx *gorm.DB) error {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	if !meta.IsValidDomain(t.Domain) {
		return NewValidationError("domain", "无效的标的领域: "+t.Domain)
	}
	if t.Symbol == "" {
		return NewValidationError("symbol", "标的代码不能为空")
	}
	return nil
}

// BeforeUpdate GORM钩子，禁止修改标的身份
func (t *Target) BeforeUpdate(tx *gorm.DB) error {
	if tx.Statement.Changed("Symbol") || tx.Statement.Changed("UniverseID") {
		return NewValidationError("symbol", "标的身份 (symbol, universe) 创建后不可变")
	}
	return nil
}

// IsActive 判断标的是否处于激活状态
func (t *Target) IsActive() bool {
	return t.Status == "active"
}

// TestTargetMirror 真实标的与其 T_ 前缀测试镜像的 1:1 双向唯一映射
type TestTargetMirror struct {
	ID             string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	RealTargetID   string    `json:"real_target_id" gorm:"not null;type:varchar(36);uniqueIndex"`
	MirrorTargetID string    `json:"mirror_target_id" gorm:"not null;type:varchar(36);uniqueIndex"`
	CreatedAt      time.Time `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`

	// 关联关系
	RealTarget   *Target `json:"real_target,omitempty" gorm:"foreignKey:RealTargetID"`
	MirrorTarget *Target `json:"mirror_target,omitempty" gorm:"foreignKey:MirrorTargetID"`
}

// BeforeCreate GORM钩子，创建前生成UUID
func (m *TestTargetMirror) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	return nil
}
