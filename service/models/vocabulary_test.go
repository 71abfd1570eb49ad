/*
 * @module service/models/vocabulary_test
 * @description 领域方向词汇表测试
 * @architecture 单元测试
 */

package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVocabularyFor(t *testing.T) {
	t.Run("价格类领域使用up/down/flat", func(t *testing.T) {
		for _, domain := range []string{"stocks", "crypto"} {
			vocab, err := VocabularyFor(domain)
			assert.NoError(t, err)
			assert.Equal(t, []string{"up", "down", "flat"}, vocab.Directions())
		}
	})

	t.Run("事件市场领域使用yes/no/uncertain", func(t *testing.T) {
		vocab, err := VocabularyFor("event_market")
		assert.NoError(t, err)
		assert.Equal(t, []string{"yes", "no", "uncertain"}, vocab.Directions())
	})

	t.Run("未知领域被拒绝", func(t *testing.T) {
		_, err := VocabularyFor("forex")
		assert.Error(t, err)
		assert.True(t, IsValidationError(err))
	})
}

func TestValidateDirection(t *testing.T) {
	t.Run("词汇表内的方向通过", func(t *testing.T) {
		assert.NoError(t, ValidateDirection("stocks", "up"))
		assert.NoError(t, ValidateDirection("event_market", "uncertain"))
	})

	t.Run("跨词汇表方向被拒绝不做修正", func(t *testing.T) {
		// 价格方向不能流入事件市场，反之亦然
		assert.Error(t, ValidateDirection("event_market", "up"))
		assert.Error(t, ValidateDirection("stocks", "yes"))
	})

	t.Run("空方向被拒绝", func(t *testing.T) {
		assert.Error(t, ValidateDirection("stocks", ""))
	})
}
