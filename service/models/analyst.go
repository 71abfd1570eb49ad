/*
 * @module service/models/analyst
 * @description 分析师模型定义：人格型（独立投票视角，携带三档指令集）与上下文提供者（非投票知识层）
 * @architecture DDD领域驱动设计 - 实体模型
 * @documentReference ai_docs/forecast_engine_req.md
 * @stateFlow 注册 -> 作用域解析 -> 集成引擎按档位调用
 * @rules 人格型分析师必须携带完整的 gold/silver/bronze 三档指令集；指令集残缺视为校验错误
 * @dependencies gorm.io/gorm, github.com/google/uuid
 * @refs service/ensemble/engine.go, service/scope/resolver.go
 */

package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"foresight-service/service/meta"
)

// TierInstructions 三档分析指令集，深度/成本递减
type TierInstructions struct {
	Gold   string `json:"gold"`
	Silver string `json:"silver"`
	Bronze string `json:"bronze"`
}

// Validate 校验三档指令集完整性
func (ti TierInstructions) Validate() error {
	if ti.Gold == "" || ti.Silver == "" || ti.Bronze == "" {
		return NewValidationError("tier_instructions", "人格型分析师必须携带完整的 gold/silver/bronze 三档指令集")
	}
	return nil
}

// ForTier 返回指定档位的指令
func (ti TierInstructions) ForTier(tier string) (string, error) {
	switch tier {
	case meta.TierGold:
		return ti.Gold, nil
	case meta.TierSilver:
		return ti.Silver, nil
	case meta.TierBronze:
		return ti.Bronze, nil
	}
	return "", NewValidationError("tier", "无效的分析档位: "+tier)
}

// Analyst 分析师模型：人格型为独立决策者，上下文提供者为注入所有人格上下文的知识层
type Analyst struct {
	ID          string  `json:"id" gorm:"primaryKey;type:varchar(36)"`
	OrgID       string  `json:"org_id" gorm:"not null;type:varchar(36);index"`
	Kind        string  `json:"kind" gorm:"not null;size:30;index"` // personality, context_provider
	Name        string  `json:"name" gorm:"not null;size:255"`
	Perspective string  `json:"perspective" gorm:"size:2000"`       // 人格型的视角描述
	Weight      float64 `json:"weight" gorm:"not null;default:1.0"` // 人格型的默认投票权重
	Scope       Scope   `json:"scope" gorm:"embedded"`

	// 人格型：三档指令集；上下文提供者：仅 Material
	Instructions JSONB  `json:"instructions,omitempty" gorm:"type:jsonb"` // {gold, silver, bronze}
	Material     string `json:"material,omitempty" gorm:"type:text"`      // 上下文提供者的知识材料

	Status    string    `json:"status" gorm:"not null;default:'active';size:20"`
	CreatedAt time.Time `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
	CreatedBy string    `json:"created_by" gorm:"not null;default:'system';size:100"`
	UpdatedAt time.Time `json:"updated_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// BeforeCreate GORM钩子，创建前生成UUID并校验类型、作用域与指令集
func (a *Analyst) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	return a.validate()
}

// BeforeUpdate GORM钩子，更新前重新校验
func (a *Analyst) BeforeUpdate(tx *gorm.DB) error {
	return a.validate()
}

func (a *Analyst) validate() error {
	if !meta.IsValidAnalystKind(a.Kind) {
		return NewValidationError("kind", "无效的分析师类型: "+a.Kind)
	}
	if err := a.Scope.Validate(); err != nil {
		return err
	}
	if a.Kind == meta.AnalystKindPersonality {
		ti, err := a.GetTierInstructions()
		if err != nil {
			return err
		}
		if err := ti.Validate(); err != nil {
			return err
		}
		if a.Weight <= 0 {
			return NewValidationError("weight", "人格型分析师权重必须大于0")
		}
	}
	return nil
}

// IsPersonality 判断是否为人格型（投票）分析师
func (a *Analyst) IsPersonality() bool {
	return a.Kind == meta.AnalystKindPersonality
}

// GetTierInstructions 从JSONB列解析三档指令集
func (a *Analyst) GetTierInstructions() (TierInstructions, error) {
	var ti TierInstructions
	if a.Instructions == nil {
		return ti, NewValidationError("instructions", "人格型分析师缺少指令集")
	}
	read := func(key string) string {
		if v, ok := a.Instructions[key].(string); ok {
			return v
		}
		return ""
	}
	ti.Gold = read("gold")
	ti.Silver = read("silver")
	ti.Bronze = read("bronze")
	return ti, nil
}

// SetTierInstructions 写入三档指令集到JSONB列
func (a *Analyst) SetTierInstructions(ti TierInstructions) {
	a.Instructions = JSONB{
		"gold":   ti.Gold,
		"silver": ti.Silver,
		"bronze": ti.Bronze,
	}
}
