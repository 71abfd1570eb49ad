/*
 * @module service/models/vocabulary
 * @description 领域方向词汇表，按标的领域多态校验预测方向（价格类 up/down/flat，事件类 yes/no/uncertain）
 * @architecture DDD领域驱动设计 - 策略接口
 * @documentReference ai_docs/forecast_engine_req.md
 * @stateFlow 静态注册，按领域查找
 * @rules 方向不在词汇表内时同步拒绝，不做静默修正；新增领域只需注册新实现
 * @dependencies foresight-service/service/meta
 * @refs service/models/prediction.go, service/ensemble/engine.go
 */

package models

import (
	"strings"

	"foresight-service/service/meta"
)

// DomainVocabulary 领域方向词汇表接口，每个标的领域一个实现
type DomainVocabulary interface {
	// Domain 返回词汇表所属的标的领域
	Domain() string
	// Directions 返回该领域允许的全部方向
	Directions() []string
	// Contains 判断方向是否属于该领域词汇表
	Contains(direction string) bool
}

// priceVocabulary 价格类领域词汇表（stocks、crypto 共用）
type priceVocabulary struct {
	domain string
}

func (v *priceVocabulary) Domain() string {
	return v.domain
}

func (v *priceVocabulary) Directions() []string {
	return []string{meta.DirectionUp, meta.DirectionDown, meta.DirectionFlat}
}

func (v *priceVocabulary) Contains(direction string) bool {
	switch direction {
	case meta.DirectionUp, meta.DirectionDown, meta.DirectionFlat:
		return true
	}
	return false
}

// eventVocabulary 事件市场领域词汇表
type eventVocabulary struct{}

func (v *eventVocabulary) Domain() string {
	return meta.DomainEventMarket
}

func (v *eventVocabulary) Directions() []string {
	return []string{meta.DirectionYes, meta.DirectionNo, meta.DirectionUncertain}
}

func (v *eventVocabulary) Contains(direction string) bool {
	switch direction {
	case meta.DirectionYes, meta.DirectionNo, meta.DirectionUncertain:
		return true
	}
	return false
}

// vocabularies 领域到词汇表的静态注册表
var vocabularies = map[string]DomainVocabulary{
	meta.DomainStocks:      &priceVocabulary{domain: meta.DomainStocks},
	meta.DomainCrypto:      &priceVocabulary{domain: meta.DomainCrypto},
	meta.DomainEventMarket: &eventVocabulary{},
}

// VocabularyFor 按标的领域查找方向词汇表
func VocabularyFor(domain string) (DomainVocabulary, error) {
	vocab, ok := vocabularies[domain]
	if !ok {
		return nil, NewValidationError("domain", "无效的标的领域: "+domain)
	}
	return vocab, nil
}

// ValidateDirection 校验方向是否属于领域词汇表
func ValidateDirection(domain, direction string) error {
	vocab, err := VocabularyFor(domain)
	if err != nil {
		return err
	}
	if !vocab.Contains(direction) {
		return NewValidationError("direction",
			"方向 '"+direction+"' 不在领域 '"+domain+"' 的词汇表内, 允许: "+strings.Join(vocab.Directions(), "/"))
	}
	return nil
}
