/*
 * @module service/models/scope_test
 * @description 作用域值对象的不变量与匹配测试
 * @architecture 单元测试
 */

package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func strPtr(s string) *string {
	return &s
}

func TestScopeValidate(t *testing.T) {
	t.Run("构造函数产出的作用域全部合法", func(t *testing.T) {
		assert.NoError(t, RunnerScope().Validate())
		assert.NoError(t, DomainScope("stocks").Validate())
		assert.NoError(t, UniverseScope("u-1").Validate())
		assert.NoError(t, TargetScope("u-1", "t-1").Validate())
	})

	t.Run("runner级携带多余列被拒绝", func(t *testing.T) {
		s := Scope{Level: "runner", Domain: strPtr("stocks")}
		err := s.Validate()
		assert.Error(t, err)
		assert.True(t, IsValidationError(err))
	})

	t.Run("domain级缺domain列被拒绝", func(t *testing.T) {
		s := Scope{Level: "domain"}
		assert.Error(t, s.Validate())
	})

	t.Run("domain级非法领域被拒绝", func(t *testing.T) {
		s := DomainScope("forex")
		assert.Error(t, s.Validate())
	})

	t.Run("universe级携带target列被拒绝", func(t *testing.T) {
		s := Scope{Level: "universe", UniverseID: strPtr("u-1"), TargetID: strPtr("t-1")}
		assert.Error(t, s.Validate())
	})

	t.Run("target级必须携带universe_id", func(t *testing.T) {
		s := Scope{Level: "target", TargetID: strPtr("t-1")}
		assert.Error(t, s.Validate())
	})

	t.Run("未知层级被拒绝", func(t *testing.T) {
		s := Scope{Level: "galaxy"}
		assert.Error(t, s.Validate())
	})
}

func TestScopeSpecificity(t *testing.T) {
	t.Run("特异性从runner到target严格递增", func(t *testing.T) {
		scopes := []Scope{
			RunnerScope(),
			DomainScope("stocks"),
			UniverseScope("u-1"),
			TargetScope("u-1", "t-1"),
		}
		for i := 1; i < len(scopes); i++ {
			assert.Greater(t, scopes[i].Specificity(), scopes[i-1].Specificity())
		}
	})

	t.Run("未知层级特异性为负", func(t *testing.T) {
		assert.Equal(t, -1, Scope{Level: "galaxy"}.Specificity())
	})
}

func TestScopeMatches(t *testing.T) {
	t.Run("runner级覆盖一切标的", func(t *testing.T) {
		assert.True(t, RunnerScope().Matches("crypto", "u-x", "t-x"))
	})

	t.Run("domain级仅覆盖同领域", func(t *testing.T) {
		s := DomainScope("stocks")
		assert.True(t, s.Matches("stocks", "u-1", "t-1"))
		assert.False(t, s.Matches("crypto", "u-1", "t-1"))
	})

	t.Run("universe级仅覆盖同标的集", func(t *testing.T) {
		s := UniverseScope("u-1")
		assert.True(t, s.Matches("stocks", "u-1", "t-9"))
		assert.False(t, s.Matches("stocks", "u-2", "t-9"))
	})

	t.Run("target级仅覆盖该标的", func(t *testing.T) {
		s := TargetScope("u-1", "t-1")
		assert.True(t, s.Matches("stocks", "u-1", "t-1"))
		assert.False(t, s.Matches("stocks", "u-1", "t-2"))
	})
}
