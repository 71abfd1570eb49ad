/*
 * @module service/models/evaluation
 * @description Evaluation、MissedOpportunity与ToolRequest模型定义：结算后评分与错失机会分析
 * @architecture DDD领域驱动设计 - 实体模型
 * @documentReference ai_docs/forecast_engine_req.md
 * @stateFlow 预测结算 -> 评估创建（幂等，每个Prediction恰好一个）-> 学习建议产出
 * @rules Evaluation 按 prediction_id 唯一；MissedOpportunity 异步分析为 detected -> analyzed
 * @dependencies gorm.io/gorm, github.com/google/uuid
 * @refs service/lifecycle/evaluation_service.go, service/learning/learning_service.go
 */

package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Evaluation 已结算预测的结果评分，每个Prediction恰好一个
type Evaluation struct {
	ID           string `json:"id" gorm:"primaryKey;type:varchar(36)"`
	OrgID        string `json:"org_id" gorm:"not null;type:varchar(36);index"`
	PredictionID string `json:"prediction_id" gorm:"not null;type:varchar(36);uniqueIndex"`
	TargetID     string `json:"target_id" gorm:"not null;type:varchar(36);index"`

	DirectionCorrect  bool    `json:"direction_correct" gorm:"not null"`
	MagnitudeAccuracy float64 `json:"magnitude_accuracy" gorm:"not null;default:0"` // [0,1]
	TimingAccuracy    float64 `json:"timing_accuracy" gorm:"not null;default:0"`    // [0,1]

	AnalystAccuracy JSONB `json:"analyst_accuracy" gorm:"type:jsonb"` // {analyst_id: {direction_correct, weight}}
	TierAccuracy    JSONB `json:"tier_accuracy" gorm:"type:jsonb"`    // {tier: {calls, correct}}

	SuggestedLearnings JSONBArray `json:"suggested_learnings" gorm:"type:jsonb"` // 提交到LearningQueue的建议

	IsTestData     bool      `json:"is_test_data" gorm:"not null;default:false;index"`
	TestScenarioID *string   `json:"test_scenario_id,omitempty" gorm:"type:varchar(36);index"`
	CreatedAt      time.Time `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`

	// 关联关系
	Prediction *Prediction `json:"prediction,omitempty" gorm:"foreignKey:PredictionID"`
}

// BeforeCreate GORM钩子，创建前生成UUID
func (e *Evaluation) BeforeCreate(tx *gorm.DB) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.PredictionID == "" {
		return NewValidationError("prediction_id", "Evaluation必须归属于一个Prediction")
	}
	return nil
}

// MissedOpportunity 错失机会：标的发生显著走势但无活跃预测覆盖
type MissedOpportunity struct {
	ID       string `json:"id" gorm:"primaryKey;type:varchar(36)"`
	OrgID    string `json:"org_id" gorm:"not null;type:varchar(36);index"`
	TargetID string `json:"target_id" gorm:"not null;type:varchar(36);index"`

	MovePct     float64   `json:"move_pct" gorm:"not null"` // 观察到的走势幅度（百分比）
	WindowStart time.Time `json:"window_start" gorm:"not null"`
	WindowEnd   time.Time `json:"window_end" gorm:"not null"`

	Status string `json:"status" gorm:"not null;default:'detected';size:20;index"` // detected, analyzed

	// 异步分析结果
	Drivers            JSONBArray `json:"drivers,omitempty" gorm:"type:jsonb"`        // 事后发现的驱动因素
	UnusedSignals      JSONBArray `json:"unused_signals,omitempty" gorm:"type:jsonb"` // 存在但未被使用的信号
	SourceGaps         JSONBArray `json:"source_gaps,omitempty" gorm:"type:jsonb"`    // 缺失的内容源
	SuggestedLearnings JSONBArray `json:"suggested_learnings,omitempty" gorm:"type:jsonb"`
	AnalyzedAt         *time.Time `json:"analyzed_at,omitempty"`

	IsTestData     bool      `json:"is_test_data" gorm:"not null;default:false;index"`
	TestScenarioID *string   `json:"test_scenario_id,omitempty" gorm:"type:varchar(36);index"`
	CreatedAt      time.Time `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// BeforeCreate GORM钩子，创建前生成UUID
func (m *MissedOpportunity) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	return nil
}

// ToolRequest 工具请求：错失机会分析产出的新源/新分析师需求积压
type ToolRequest struct {
	ID                  string  `json:"id" gorm:"primaryKey;type:varchar(36)"`
	OrgID               string  `json:"org_id" gorm:"not null;type:varchar(36);index"`
	MissedOpportunityID *string `json:"missed_opportunity_id,omitempty" gorm:"type:varchar(36);index"`

	Kind        string `json:"kind" gorm:"not null;size:20"` // source, analyst
	Description string `json:"description" gorm:"not null;size:2000"`
	Status      string `json:"status" gorm:"not null;default:'open';size:20"` // open, fulfilled, declined

	IsTestData     bool      `json:"is_test_data" gorm:"not null;default:false;index"`
	TestScenarioID *string   `json:"test_scenario_id,omitempty" gorm:"type:varchar(36);index"`
	CreatedAt      time.Time `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// BeforeCreate GORM钩子，创建前生成UUID
func (t *ToolRequest) BeforeCreate(tx *gorm.DB) error {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	return nil
}
