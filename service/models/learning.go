/*
 * @module service/models/learning
 * @description Learning、LearningQueueEntry与AuditLogEntry模型定义：人审门控的持续学习闭环
 * @architecture DDD领域驱动设计 - 实体模型
 * @documentReference ai_docs/forecast_engine_req.md
 * @stateFlow queue: pending -> {approved|rejected|modified}; learning: active -> {superseded|disabled}
 * @rules 生产Learning只能经由队列审批创建；superseded 必须携带 superseded_by；times_helpful <= times_applied 恒成立；审计日志只追加
 * @dependencies gorm.io/gorm, github.com/google/uuid
 * @refs service/learning/learning_service.go
 */

package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"foresight-service/service/meta"
)

// Learning 有作用域、有版本的洞察，被后续集成运行在其作用域层级消费
type Learning struct {
	ID      string `json:"id" gorm:"primaryKey;type:varchar(36)"`
	OrgID   string `json:"org_id" gorm:"not null;type:varchar(36);index"`
	Kind    string `json:"kind" gorm:"not null;size:30"` // rule, pattern, weight_adjustment, threshold, avoid_condition
	Content string `json:"content" gorm:"not null;type:text"`
	Scope   Scope  `json:"scope" gorm:"embedded"`
	Version int    `json:"version" gorm:"not null;default:1"`

	// 权重调整类携带的明细：{analyst_id, delta}
	Adjustment JSONB `json:"adjustment,omitempty" gorm:"type:jsonb"`

	Status       string  `json:"status" gorm:"not null;default:'active';size:20;index"` // active, superseded, disabled
	SupersededBy *string `json:"superseded_by,omitempty" gorm:"type:varchar(36)"`

	// 有效性追踪：times_helpful <= times_applied 恒成立
	TimesApplied int `json:"times_applied" gorm:"not null;default:0"`
	TimesHelpful int `json:"times_helpful" gorm:"not null;default:0"`

	IsTestData     bool      `json:"is_test_data" gorm:"not null;default:false;index"`
	TestScenarioID *string   `json:"test_scenario_id,omitempty" gorm:"type:varchar(36);index"`
	CreatedAt      time.Time `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
	CreatedBy      string    `json:"created_by" gorm:"not null;default:'system';size:100"`
	UpdatedAt      time.Time `json:"updated_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// BeforeCreate GORM钩子，创建前生成UUID并校验
func (l *Learning) BeforeCreate(tx *gorm.DB) error {
	if l.ID == "" {
		l.ID = uuid.New().String()
	}
	return l.validate()
}

// BeforeUpdate GORM钩子，更新前重新校验
func (l *Learning) BeforeUpdate(tx *gorm.DB) error {
	return l.validate()
}

func (l *Learning) validate() error {
	if !meta.IsValidLearningKind(l.Kind) {
		return NewValidationError("kind", "无效的学习条目类型: "+l.Kind)
	}
	if err := l.Scope.Validate(); err != nil {
		return err
	}
	if l.TimesHelpful > l.TimesApplied {
		return NewStateError("Learning", "", "", "times_helpful 不得超过 times_applied")
	}
	if l.Status == meta.LearningStatusSuperseded && (l.SupersededBy == nil || *l.SupersededBy == "") {
		return NewStateError("Learning", "", meta.LearningStatusSuperseded, "superseded 状态必须携带 superseded_by 继任链接")
	}
	return nil
}

// IsActive 判断学习条目是否可被集成消费
func (l *Learning) IsActive() bool {
	return l.Status == meta.LearningStatusActive
}

// LearningQueueEntry AI提议的待人审学习条目，生产Learning的唯一创建路径
type LearningQueueEntry struct {
	ID    string `json:"id" gorm:"primaryKey;type:varchar(36)"`
	OrgID string `json:"org_id" gorm:"not null;type:varchar(36);index"`

	// 提议来源：evaluation 或 missed_opportunity
	SourceType string `json:"source_type" gorm:"not null;size:30"`
	SourceID   string `json:"source_id" gorm:"not null;type:varchar(36);index"`

	ProposedKind    string  `json:"proposed_kind" gorm:"not null;size:30"`
	ProposedContent string  `json:"proposed_content" gorm:"not null;type:text"`
	ProposedScope   Scope   `json:"proposed_scope" gorm:"embedded;embeddedPrefix:proposed_"`
	AIConfidence    float64 `json:"ai_confidence" gorm:"not null"` // [0,1]
	Reasoning       string  `json:"reasoning" gorm:"type:text"`

	// 人审处置
	Status          string     `json:"status" gorm:"not null;default:'pending';size:20;index"` // pending, approved, rejected, modified
	LearningID      *string    `json:"learning_id,omitempty" gorm:"type:varchar(36)"`          // approved/modified 时必填
	ReviewedBy      string     `json:"reviewed_by,omitempty" gorm:"size:100"`
	ReviewedAt      *time.Time `json:"reviewed_at,omitempty"`
	ReviewNote      string     `json:"review_note,omitempty" gorm:"size:2000"`
	ModifiedContent string     `json:"modified_content,omitempty" gorm:"type:text"` // modified 时的人工终稿
	ModifiedScope   JSONB      `json:"modified_scope,omitempty" gorm:"type:jsonb"`  // modified 时的人工终稿作用域

	IsTestData     bool      `json:"is_test_data" gorm:"not null;default:false;index"`
	TestScenarioID *string   `json:"test_scenario_id,omitempty" gorm:"type:varchar(36);index"`
	CreatedAt      time.Time `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// BeforeCreate GORM钩子，创建前生成UUID并校验提议内容
func (q *LearningQueueEntry) BeforeCreate(tx *gorm.DB) error {
	if q.ID == "" {
		q.ID = uuid.New().String()
	}
	if q.AIConfidence < 0 || q.AIConfidence > 1 {
		return NewValidationError("ai_confidence", "AI置信度必须在 [0,1] 区间内")
	}
	if !meta.IsValidLearningKind(q.ProposedKind) {
		return NewValidationError("proposed_kind", "无效的学习条目类型: "+q.ProposedKind)
	}
	if err := q.ProposedScope.Validate(); err != nil {
		return err
	}
	return q.validateDisposition()
}

// BeforeUpdate GORM钩子，更新前校验处置不变量
func (q *LearningQueueEntry) BeforeUpdate(tx *gorm.DB) error {
	return q.validateDisposition()
}

// validateDisposition 校验处置状态与必需关联
func (q *LearningQueueEntry) validateDisposition() error {
	switch q.Status {
	case meta.QueueStatusPending:
		if q.LearningID != nil {
			return NewStateError("LearningQueueEntry", q.Status, "", "pending 状态不允许携带 learning_id")
		}
	case meta.QueueStatusApproved, meta.QueueStatusModified:
		if q.LearningID == nil || *q.LearningID == "" {
			return NewStateError("LearningQueueEntry", "", q.Status, q.Status+" 状态必须携带新建Learning的 learning_id")
		}
	case meta.QueueStatusRejected:
		// rejected 不要求关联
	default:
		return NewStateError("LearningQueueEntry", q.Status, "", "无效的队列状态")
	}
	return nil
}

// IsPending 判断是否待人审
func (q *LearningQueueEntry) IsPending() bool {
	return q.Status == meta.QueueStatusPending
}

// AuditLogEntry 只追加的审计日志，记录每个学习与测试系统动作
type AuditLogEntry struct {
	ID         string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	OrgID      string    `json:"org_id" gorm:"not null;type:varchar(36);index"`
	Actor      string    `json:"actor" gorm:"not null;size:100"`
	Action     string    `json:"action" gorm:"not null;size:100;index"`
	EntityType string    `json:"entity_type" gorm:"not null;size:50"`
	EntityID   string    `json:"entity_id" gorm:"not null;type:varchar(36);index"`
	Detail     JSONB     `json:"detail,omitempty" gorm:"type:jsonb"`
	CreatedAt  time.Time `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// BeforeCreate GORM钩子，创建前生成UUID
func (a *AuditLogEntry) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	return nil
}

// BeforeUpdate GORM钩子，审计日志不可变更
func (a *AuditLogEntry) BeforeUpdate(tx *gorm.DB) error {
	return NewStateError("AuditLogEntry", "", "", "审计日志只追加，不可变更")
}

// BeforeDelete GORM钩子，审计日志不可删除
func (a *AuditLogEntry) BeforeDelete(tx *gorm.DB) error {
	return NewStateError("AuditLogEntry", "", "", "审计日志只追加，不可删除")
}
