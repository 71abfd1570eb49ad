/*
 * @module service/models/predictor
 * @description Predictor模型定义：单个分析师对单个标的的时点方向评估，供合成步骤一次性原子认领
 * @architecture DDD领域驱动设计 - 实体模型
 * @documentReference ai_docs/forecast_engine_req.md
 * @stateFlow unconsumed -> consumed（一次性，不可回退不可复用）
 * @rules consumed 必须同时携带 consumed_by_prediction_id 与 consumed_at；认领通过条件更新原子完成
 * @dependencies gorm.io/gorm, github.com/google/uuid
 * @refs service/ensemble/synthesis.go
 */

package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"foresight-service/service/meta"
)

// Predictor 单个分析师对单个标的的一次方向评估
type Predictor struct {
	ID        string `json:"id" gorm:"primaryKey;type:varchar(36)"`
	OrgID     string `json:"org_id" gorm:"not null;type:varchar(36);index"`
	TargetID  string `json:"target_id" gorm:"not null;type:varchar(36);index"`
	AnalystID string `json:"analyst_id" gorm:"not null;type:varchar(36);index"`

	Direction  string  `json:"direction" gorm:"not null;size:20"`
	Strength   float64 `json:"strength" gorm:"not null"`   // [0,1]
	Confidence float64 `json:"confidence" gorm:"not null"` // [0,1]
	Reasoning  string  `json:"reasoning" gorm:"type:text"`
	Weight     float64 `json:"weight" gorm:"not null;default:1.0"` // 合成时的有效权重（默认权重经Learning调整后）

	// 产生本次评估的档位明细：{tier: {model, latency_ms, timed_out}}
	TierDetail JSONB `json:"tier_detail,omitempty" gorm:"type:jsonb"`

	// 消费状态：consumed 后三列必须同时置位且永不复用
	Status                 string     `json:"status" gorm:"not null;default:'unconsumed';size:20;index"`
	ConsumedByPredictionID *string    `json:"consumed_by_prediction_id,omitempty" gorm:"type:varchar(36);index"`
	ConsumedAt             *time.Time `json:"consumed_at,omitempty"`

	IsTestData     bool      `json:"is_test_data" gorm:"not null;default:false;index"`
	TestScenarioID *string   `json:"test_scenario_id,omitempty" gorm:"type:varchar(36);index"`
	CreatedAt      time.Time `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`

	// 关联关系
	Analyst *Analyst `json:"analyst,omitempty" gorm:"foreignKey:AnalystID"`
	Target  *Target  `json:"target,omitempty" gorm:"foreignKey:TargetID"`
}

// BeforeCreate GORM钩子，创建前生成UUID并校验取值范围
func (p *Predictor) BeforeCreate(tx *gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.Strength < 0 || p.Strength > 1 {
		return NewValidationError("strength", "评估强度必须在 [0,1] 区间内")
	}
	if p.Confidence < 0 || p.Confidence > 1 {
		return NewValidationError("confidence", "评估置信度必须在 [0,1] 区间内")
	}
	return p.validateConsumption()
}

// BeforeUpdate GORM钩子，更新前校验消费不变量
func (p *Predictor) BeforeUpdate(tx *gorm.DB) error {
	return p.validateConsumption()
}

// validateConsumption 校验 consumed 状态与关联列同时置位
func (p *Predictor) validateConsumption() error {
	switch p.Status {
	case meta.PredictorStatusUnconsumed:
		if p.ConsumedByPredictionID != nil || p.ConsumedAt != nil {
			return NewStateError("Predictor", p.Status, "",
				"unconsumed 状态不允许携带 consumed_by_prediction_id/consumed_at")
		}
	case meta.PredictorStatusConsumed:
		if p.ConsumedByPredictionID == nil || p.ConsumedAt == nil {
			return NewStateError("Predictor", p.Status, "",
				"consumed 状态必须同时携带 consumed_by_prediction_id 与 consumed_at")
		}
	default:
		return NewStateError("Predictor", p.Status, "", "无效的Predictor状态")
	}
	return nil
}

// IsConsumed 判断是否已被某个Prediction消费
func (p *Predictor) IsConsumed() bool {
	return p.Status == meta.PredictorStatusConsumed
}
