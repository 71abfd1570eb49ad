/*
 * @module service/models/scope
 * @description 四级作用域标签联合类型（runner/domain/universe/target），内嵌到 Source、Analyst、Learning 等可作用域实体
 * @architecture DDD领域驱动设计 - 值对象
 * @documentReference ai_docs/forecast_engine_req.md
 * @stateFlow 构造时固定，写入时校验"层级与填充列一致"不变量
 * @rules scope_level 与 {domain, universe_id, target_id} 的填充情况必须一致，写入时强制校验
 * @dependencies foresight-service/service/meta
 * @refs service/scope/resolver.go
 */

package models

import (
	"foresight-service/service/meta"
)

// Scope 作用域值对象，按标签联合建模：
// runner 级不携带任何列，domain 级仅携带 domain，
// universe 级仅携带 universe_id，target 级携带 universe_id 与 target_id。
// 通过构造函数创建可保证不变量成立；直接反序列化的实例须调用 Validate。
type Scope struct {
	Level      string  `json:"scope_level" gorm:"column:scope_level;not null;size:20;index"`
	Domain     *string `json:"domain,omitempty" gorm:"column:scope_domain;size:50"`
	UniverseID *string `json:"universe_id,omitempty" gorm:"column:scope_universe_id;type:varchar(36);index"`
	TargetID   *string `json:"target_id,omitempty" gorm:"column:scope_target_id;type:varchar(36);index"`
}

// RunnerScope 创建运行器级（全局）作用域
func RunnerScope() Scope {
	return Scope{Level: meta.ScopeLevelRunner}
}

// DomainScope 创建领域级作用域
func DomainScope(domain string) Scope {
	return Scope{Level: meta.ScopeLevelDomain, Domain: &domain}
}

// UniverseScope 创建标的集级作用域
func UniverseScope(universeID string) Scope {
	return Scope{Level: meta.ScopeLevelUniverse, UniverseID: &universeID}
}

// TargetScope 创建标的级作用域
func TargetScope(universeID, targetID string) Scope {
	return Scope{Level: meta.ScopeLevelTarget, UniverseID: &universeID, TargetID: &targetID}
}

// Validate 校验作用域层级与填充列的一致性不变量
func (s Scope) Validate() error {
	if !meta.IsValidScopeLevel(s.Level) {
		return NewValidationError("scope_level", "无效的作用域层级: "+s.Level)
	}

	switch s.Level {
	case meta.ScopeLevelRunner:
		if s.Domain != nil || s.UniverseID != nil || s.TargetID != nil {
			return NewValidationError("scope_level", "runner 级作用域不允许携带 domain/universe/target 列")
		}
	case meta.ScopeLevelDomain:
		if s.Domain == nil || *s.Domain == "" {
			return NewValidationError("scope_domain", "domain 级作用域必须填充 domain 列")
		}
		if !meta.IsValidDomain(*s.Domain) {
			return NewValidationError("scope_domain", "无效的标的领域: "+*s.Domain)
		}
		if s.UniverseID != nil || s.TargetID != nil {
			return NewValidationError("scope_level", "domain 级作用域不允许携带 universe/target 列")
		}
	case meta.ScopeLevelUniverse:
		if s.UniverseID == nil || *s.UniverseID == "" {
			return NewValidationError("scope_universe_id", "universe 级作用域必须填充 universe_id 列")
		}
		if s.Domain != nil || s.TargetID != nil {
			return NewValidationError("scope_level", "universe 级作用域仅允许填充 universe_id 列")
		}
	case meta.ScopeLevelTarget:
		if s.TargetID == nil || *s.TargetID == "" {
			return NewValidationError("scope_target_id", "target 级作用域必须填充 target_id 列")
		}
		if s.UniverseID == nil || *s.UniverseID == "" {
			return NewValidationError("scope_universe_id", "target 级作用域必须携带所属 universe_id")
		}
		if s.Domain != nil {
			return NewValidationError("scope_level", "target 级作用域不允许携带 domain 列")
		}
	}

	return nil
}

// Specificity 返回作用域特异性，runner 最低，target 最高，用于排序
func (s Scope) Specificity() int {
	switch s.Level {
	case meta.ScopeLevelRunner:
		return 0
	case meta.ScopeLevelDomain:
		return 1
	case meta.ScopeLevelUniverse:
		return 2
	case meta.ScopeLevelTarget:
		return 3
	}
	return -1
}

// Matches 判断作用域是否覆盖给定标的（domain、universe、target 三元组）
func (s Scope) Matches(domain, universeID, targetID string) bool {
	switch s.Level {
	case meta.ScopeLevelRunner:
		return true
	case meta.ScopeLevelDomain:
		return s.Domain != nil && *s.Domain == domain
	case meta.ScopeLevelUniverse:
		return s.UniverseID != nil && *s.UniverseID == universeID
	case meta.ScopeLevelTarget:
		return s.TargetID != nil && *s.TargetID == targetID
	}
	return false
}
