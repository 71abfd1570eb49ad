/*
 * @module service/models/signal
 * @description 信号模型定义，从Article提取并挂接到Target的观察项，携带测试隔离标记
 * @architecture DDD领域驱动设计 - 实体模型
 * @documentReference ai_docs/forecast_engine_req.md
 * @stateFlow 内容入库 -> 信号提取 -> 集成引擎消费
 * @rules Signal 及其下游所有行必须携带 is_test_data 标记，实现结构性测试隔离
 * @dependencies gorm.io/gorm, github.com/google/uuid
 * @refs service/content/content_service.go, service/ensemble/engine.go
 */

package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Signal 信号模型，一条从内容中提取、指向某个标的的观察项
type Signal struct {
	ID             string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	OrgID          string    `json:"org_id" gorm:"not null;type:varchar(36);index"`
	ArticleID      string    `json:"article_id" gorm:"not null;type:varchar(36);index"`
	TargetID       string    `json:"target_id" gorm:"not null;type:varchar(36);index"`
	Kind           string    `json:"kind" gorm:"not null;size:50"` // mention, sentiment, event
	Summary        string    `json:"summary" gorm:"size:2000"`
	Strength       float64   `json:"strength" gorm:"not null;default:0"` // [0,1]
	IsTestData     bool      `json:"is_test_data" gorm:"not null;default:false;index"`
	TestScenarioID *string   `json:"test_scenario_id,omitempty" gorm:"type:varchar(36);index"`
	CreatedAt      time.Time `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`

	// 关联关系
	Article *Article `json:"article,omitempty" gorm:"foreignKey:ArticleID"`
	Target  *Target  `json:"target,omitempty" gorm:"foreignKey:TargetID"`
}

// BeforeCreate GORM钩子，创建前生成UUID并校验强度范围
func (s *Signal) BeforeCreate(tx *gorm.DB) error {
	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	if s.Strength < 0 || s.Strength > 1 {
		return NewValidationError("strength", "信号强度必须在 [0,1] 区间内")
	}
	return nil
}
