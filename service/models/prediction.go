/*
 * @module service/models/prediction
 * @description Prediction与Snapshot模型定义：合成预测及其不可变的溯源快照，快照与预测事务性同生共灭
 * @architecture DDD领域驱动设计 - 聚合根
 * @documentReference ai_docs/forecast_engine_req.md
 * @stateFlow active -> {resolved | expired | cancelled}，三个终态均不可再迁移
 * @rules 方向必须通过标的领域词汇表校验；每个Prediction恰好拥有一个Snapshot；Snapshot写入后不可变
 * @dependencies gorm.io/gorm, github.com/google/uuid
 * @refs service/lifecycle/lifecycle_service.go, service/ensemble/engine.go
 */

package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"foresight-service/service/meta"
)

// Prediction 合成预测：某标的的生命周期受管预报
type Prediction struct {
	ID       string `json:"id" gorm:"primaryKey;type:varchar(36)"`
	OrgID    string `json:"org_id" gorm:"not null;type:varchar(36);index"`
	TargetID string `json:"target_id" gorm:"not null;type:varchar(36);index"`

	Direction  string   `json:"direction" gorm:"not null;size:20"`
	Confidence float64  `json:"confidence" gorm:"not null"` // [0,1]
	Magnitude  *float64 `json:"magnitude,omitempty"`        // 可选的预期幅度（百分比）
	PriceLow   *float64 `json:"price_low,omitempty"`        // 可选的价格目标下沿
	PriceHigh  *float64 `json:"price_high,omitempty"`       // 可选的价格目标上沿

	TimeframeHours int       `json:"timeframe_hours" gorm:"not null;default:24"`
	ExpiresAt      time.Time `json:"expires_at" gorm:"not null;index"`

	// 产生本预测的集成快照：分析师集成与档位集成
	AnalystEnsemble JSONBArray `json:"analyst_ensemble" gorm:"type:jsonb"` // [{analyst_id, direction, weight, confidence}]
	TierEnsemble    JSONB      `json:"tier_ensemble" gorm:"type:jsonb"`    // {tier: {calls, timeouts, avg_latency_ms}}

	Status     string     `json:"status" gorm:"not null;default:'active';size:20;index"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
	Outcome    JSONB      `json:"outcome,omitempty" gorm:"type:jsonb"` // 结算时的实际走势

	IsTestData     bool      `json:"is_test_data" gorm:"not null;default:false;index"`
	TestScenarioID *string   `json:"test_scenario_id,omitempty" gorm:"type:varchar(36);index"`
	CreatedAt      time.Time `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt      time.Time `json:"updated_at" gorm:"not null;default:CURRENT_TIMESTAMP"`

	// 关联关系
	Target   *Target   `json:"target,omitempty" gorm:"foreignKey:TargetID"`
	Snapshot *Snapshot `json:"snapshot,omitempty" gorm:"foreignKey:PredictionID"`
}

// BeforeCreate GORM钩子，创建前生成UUID并校验置信度
func (p *Prediction) BeforeCreate(tx *gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.Confidence < 0 || p.Confidence > 1 {
		return NewValidationError("confidence", "预测置信度必须在 [0,1] 区间内")
	}
	if p.Status == "" {
		p.Status = meta.PredictionStatusActive
	}
	return nil
}

// CanTransition 判定状态迁移是否合法：active 是唯一非终态
func (p *Prediction) CanTransition(to string) error {
	if p.Status != meta.PredictionStatusActive {
		return NewStateError("Prediction", p.Status, to, "终态不允许任何迁移")
	}
	if !meta.IsTerminalPredictionStatus(to) {
		return NewStateError("Prediction", p.Status, to, "active 只能迁移到 resolved/expired/cancelled")
	}
	return nil
}

// IsActive 判断预测是否处于活跃状态
func (p *Prediction) IsActive() bool {
	return p.Status == meta.PredictionStatusActive
}

// Snapshot 预测的不可变溯源快照：每个Prediction恰好一个，随Prediction删除
type Snapshot struct {
	ID           string `json:"id" gorm:"primaryKey;type:varchar(36)"`
	PredictionID string `json:"prediction_id" gorm:"not null;type:varchar(36);uniqueIndex"`

	// 溯源内容
	ConsideredPredictors JSONBArray       `json:"considered_predictors" gorm:"type:jsonb"` // 每个被考虑的Predictor
	RejectedSignals      JSONBArray       `json:"rejected_signals" gorm:"type:jsonb"`      // 每个被拒绝的信号及原因
	ThresholdEvaluation  JSONB            `json:"threshold_evaluation" gorm:"type:jsonb"`  // 晋升门槛评估明细
	AppliedLearnings     JSONBStringArray `json:"applied_learnings" gorm:"type:jsonb"`     // 本次运行应用的Learning ID
	Timeline             JSONBArray       `json:"timeline" gorm:"type:jsonb"`              // 有序事件时间线

	IsTestData     bool      `json:"is_test_data" gorm:"not null;default:false;index"`
	TestScenarioID *string   `json:"test_scenario_id,omitempty" gorm:"type:varchar(36);index"`
	CreatedAt      time.Time `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// BeforeCreate GORM钩子，创建前生成UUID并校验归属
func (s *Snapshot) BeforeCreate(tx *gorm.DB) error {
	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	if s.PredictionID == "" {
		return NewValidationError("prediction_id", "Snapshot必须归属于一个Prediction")
	}
	return nil
}

// BeforeUpdate GORM钩子，Snapshot写入后不可变
func (s *Snapshot) BeforeUpdate(tx *gorm.DB) error {
	return NewStateError("Snapshot", "", "", "Snapshot写入后不可变")
}

// TimelineEvent 快照时间线上的单个事件
type TimelineEvent struct {
	At     time.Time `json:"at"`
	Event  string    `json:"event"`
	Detail string    `json:"detail,omitempty"`
}

// EnsembleAttempt 未达晋升门槛的集成尝试记录：不产生Prediction时的可追溯落点
type EnsembleAttempt struct {
	ID       string `json:"id" gorm:"primaryKey;type:varchar(36)"`
	OrgID    string `json:"org_id" gorm:"not null;type:varchar(36);index"`
	TargetID string `json:"target_id" gorm:"not null;type:varchar(36);index"`

	ThresholdEvaluation JSONB      `json:"threshold_evaluation" gorm:"type:jsonb"`
	RejectedSignals     JSONBArray `json:"rejected_signals" gorm:"type:jsonb"`

	IsTestData     bool      `json:"is_test_data" gorm:"not null;default:false;index"`
	TestScenarioID *string   `json:"test_scenario_id,omitempty" gorm:"type:varchar(36);index"`
	CreatedAt      time.Time `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// BeforeCreate GORM钩子，创建前生成UUID
func (a *EnsembleAttempt) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	return nil
}
