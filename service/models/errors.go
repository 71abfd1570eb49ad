/*
 * @module service/models/errors
 * @description 领域错误类型定义，区分校验错误、状态错误与完整性错误，供控制器映射HTTP状态码
 * @architecture DDD领域驱动设计 - 错误分类
 * @documentReference ai_docs/forecast_engine_req.md
 * @stateFlow 同步拒绝，不做静默修正
 * @rules 校验错误与状态错误必须携带被违反的具体约束
 * @dependencies errors, fmt
 * @refs api/controllers/response.go
 */

package models

import (
	"errors"
	"fmt"
)

// ValidationError 校验错误：输入不满足领域约束，同步拒绝
type ValidationError struct {
	Field      string // 违反约束的字段
	Constraint string // 被违反的约束描述
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("校验失败 [%s]: %s", e.Field, e.Constraint)
}

// NewValidationError 创建校验错误
func NewValidationError(field, constraint string) error {
	return &ValidationError{Field: field, Constraint: constraint}
}

// StateError 状态错误：非法状态迁移或缺失必需关联
type StateError struct {
	Entity     string // 实体类型
	From       string // 当前状态
	To         string // 目标状态
	Constraint string // 被违反的约束描述
}

func (e *StateError) Error() string {
	if e.From != "" || e.To != "" {
		return fmt.Sprintf("状态错误 [%s]: %s -> %s 不允许, %s", e.Entity, e.From, e.To, e.Constraint)
	}
	return fmt.Sprintf("状态错误 [%s]: %s", e.Entity, e.Constraint)
}

// NewStateError 创建状态迁移错误
func NewStateError(entity, from, to, constraint string) error {
	return &StateError{Entity: entity, From: from, To: to, Constraint: constraint}
}

// IsValidationError 判断是否为校验错误
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsStateError 判断是否为状态错误
func IsStateError(err error) bool {
	var se *StateError
	return errors.As(err, &se)
}

// ErrNotFound 通用未找到错误
var ErrNotFound = errors.New("记录不存在")
