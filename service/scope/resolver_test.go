/*
 * @module service/scope/resolver_test
 * @description 作用域解析器测试：四级收集、特异性排序与组织/状态过滤
 * @architecture 单元测试
 */

package scope

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"foresight-service/service/models"
	"foresight-service/testutil"
)

func TestResolveAnalysts(t *testing.T) {
	tdb := testutil.NewTestDB()
	t.Cleanup(tdb.Close)
	factory := testutil.NewTestDataFactory(tdb.DB)
	resolver := NewResolver(tdb.DB)
	ctx := context.Background()

	universe := factory.CreateUniverse(testutil.WithDomain("stocks"))
	target := factory.CreateTarget(universe, testutil.WithSymbol("AAPL"))

	runnerAnalyst := factory.CreateAnalyst(testutil.WithAnalystScope(models.RunnerScope()))
	domainAnalyst := factory.CreateAnalyst(testutil.WithAnalystScope(models.DomainScope("stocks")))
	universeAnalyst := factory.CreateAnalyst(testutil.WithAnalystScope(models.UniverseScope(universe.ID)))
	targetAnalyst := factory.CreateAnalyst(testutil.WithAnalystScope(models.TargetScope(universe.ID, target.ID)))

	// 不适用的条目：其他领域与其他标的集
	factory.CreateAnalyst(testutil.WithAnalystScope(models.DomainScope("crypto")))
	otherUniverse := factory.CreateUniverse(testutil.WithDomain("stocks"))
	factory.CreateAnalyst(testutil.WithAnalystScope(models.UniverseScope(otherUniverse.ID)))

	t.Run("四级作用域全部收集并按特异性升序", func(t *testing.T) {
		analysts, err := resolver.ResolveAnalysts(ctx, target.ID)
		require.NoError(t, err)
		require.Len(t, analysts, 4)

		assert.Equal(t, runnerAnalyst.ID, analysts[0].ID)
		assert.Equal(t, domainAnalyst.ID, analysts[1].ID)
		assert.Equal(t, universeAnalyst.ID, analysts[2].ID)
		assert.Equal(t, targetAnalyst.ID, analysts[3].ID)
	})

	t.Run("非active分析师被排除", func(t *testing.T) {
		require.NoError(t, tdb.DB.Model(&models.Analyst{}).
			Where("id = ?", domainAnalyst.ID).
			Update("status", "inactive").Error)

		analysts, err := resolver.ResolveAnalysts(ctx, target.ID)
		require.NoError(t, err)
		assert.Len(t, analysts, 3)
		for _, a := range analysts {
			assert.NotEqual(t, domainAnalyst.ID, a.ID)
		}
	})

	t.Run("标的不存在返回错误", func(t *testing.T) {
		_, err := resolver.ResolveAnalysts(ctx, "missing-target")
		assert.Error(t, err)
	})
}

func TestResolveSources(t *testing.T) {
	tdb := testutil.NewTestDB()
	t.Cleanup(tdb.Close)
	factory := testutil.NewTestDataFactory(tdb.DB)
	resolver := NewResolver(tdb.DB)
	ctx := context.Background()

	universe := factory.CreateUniverse(testutil.WithDomain("crypto"))
	target := factory.CreateTarget(universe, testutil.WithSymbol("BTC"))

	factory.CreateSource(testutil.WithSourceScope(models.RunnerScope()))
	factory.CreateSource(testutil.WithSourceScope(models.DomainScope("crypto")))
	factory.CreateSource(testutil.WithSourceScope(models.DomainScope("stocks"))) // 不适用

	sources, err := resolver.ResolveSources(ctx, target.ID)
	require.NoError(t, err)
	require.Len(t, sources, 2)
	assert.True(t, sources[0].Scope.Specificity() <= sources[1].Scope.Specificity())
}

func TestResolveLearnings(t *testing.T) {
	tdb := testutil.NewTestDB()
	t.Cleanup(tdb.Close)
	factory := testutil.NewTestDataFactory(tdb.DB)
	resolver := NewResolver(tdb.DB)
	ctx := context.Background()

	universe := factory.CreateUniverse(testutil.WithDomain("stocks"))
	target := factory.CreateTarget(universe, testutil.WithSymbol("MSFT"))

	active := models.Learning{
		OrgID:   testutil.TestOrgID,
		Kind:    "rule",
		Content: "财报发布前24小时降低置信度",
		Scope:   models.TargetScope(universe.ID, target.ID),
		Version: 1,
		Status:  "active",
	}
	require.NoError(t, tdb.DB.Create(&active).Error)

	disabled := models.Learning{
		OrgID:   testutil.TestOrgID,
		Kind:    "rule",
		Content: "已停用的规则",
		Scope:   models.RunnerScope(),
		Version: 1,
		Status:  "disabled",
	}
	require.NoError(t, tdb.DB.Create(&disabled).Error)

	t.Run("只返回激活的学习条目", func(t *testing.T) {
		learnings, err := resolver.ResolveLearnings(ctx, target.ID)
		require.NoError(t, err)
		require.Len(t, learnings, 1)
		assert.Equal(t, active.ID, learnings[0].ID)
	})

	t.Run("其他组织的条目不可见", func(t *testing.T) {
		foreign := models.Learning{
			OrgID:   "22222222-2222-2222-2222-222222222222",
			Kind:    "rule",
			Content: "他组织规则",
			Scope:   models.RunnerScope(),
			Version: 1,
			Status:  "active",
		}
		require.NoError(t, tdb.DB.Create(&foreign).Error)

		learnings, err := resolver.ResolveLearnings(ctx, target.ID)
		require.NoError(t, err)
		assert.Len(t, learnings, 1)
	})
}

func TestResolveByKind(t *testing.T) {
	tdb := testutil.NewTestDB()
	t.Cleanup(tdb.Close)
	factory := testutil.NewTestDataFactory(tdb.DB)
	resolver := NewResolver(tdb.DB)
	ctx := context.Background()

	universe := factory.CreateUniverse()
	target := factory.CreateTarget(universe)

	t.Run("无效解析类型被拒绝", func(t *testing.T) {
		_, err := resolver.Resolve(ctx, target.ID, "widgets")
		assert.Error(t, err)
		assert.True(t, models.IsValidationError(err))
	})

	t.Run("analysts类型返回分析师列表", func(t *testing.T) {
		factory.CreateAnalyst()
		out, err := resolver.Resolve(ctx, target.ID, "analysts")
		require.NoError(t, err)
		analysts, ok := out.([]models.Analyst)
		require.True(t, ok)
		assert.Len(t, analysts, 1)
	})
}
