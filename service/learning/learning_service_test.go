/*
 * @module service/learning/learning_service_test
 * @description 学习闭环服务测试：建议入队、人审处置、继任两步链接、停用与审计日志
 * @architecture 单元测试
 */

package learning

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"foresight-service/service/models"
	"foresight-service/testutil"
)

func newLearningFixture(t *testing.T) (*LearningService, *testutil.TestDB, *testutil.TestDataFactory) {
	t.Helper()
	tdb := testutil.NewTestDB()
	t.Cleanup(tdb.Close)
	return NewLearningService(tdb.DB), tdb, testutil.NewTestDataFactory(tdb.DB)
}

func createPendingEntry(t *testing.T, tdb *testutil.TestDB, scope models.Scope) *models.LearningQueueEntry {
	t.Helper()
	entry := &models.LearningQueueEntry{
		OrgID:           testutil.TestOrgID,
		SourceType:      "evaluation",
		SourceID:        "eval-1",
		ProposedKind:    "rule",
		ProposedContent: "财报周收紧晋升门槛",
		ProposedScope:   scope,
		AIConfidence:    0.7,
		Reasoning:       "历史上财报周误报偏多",
		Status:          "pending",
	}
	require.NoError(t, tdb.DB.Create(entry).Error)
	return entry
}

func TestSuggestFromEvaluation(t *testing.T) {
	service, tdb, factory := newLearningFixture(t)
	ctx := context.Background()

	universe := factory.CreateUniverse(testutil.WithDomain("stocks"))
	target := factory.CreateTarget(universe)

	evaluation := &models.Evaluation{
		OrgID:        testutil.TestOrgID,
		PredictionID: "pred-1",
		TargetID:     target.ID,
		SuggestedLearnings: models.JSONBArray{
			{"kind": "pattern", "reason": "方向评错，值得复盘驱动信号"},
			{"kind": "weight_adjustment", "reason": "该分析师单独评对", "confidence": 0.9},
			{"kind": "nonsense", "reason": "无效类型被跳过"},
		},
	}

	require.NoError(t, service.SuggestFromEvaluation(ctx, evaluation))

	entries, err := service.ListQueue(ctx, testutil.TestOrgID, "pending")
	require.NoError(t, err)
	require.Len(t, entries, 2) // 无效类型被跳过

	for _, entry := range entries {
		assert.Equal(t, "evaluation", entry.SourceType)
		assert.Equal(t, "target", entry.ProposedScope.Level)
		require.NotNil(t, entry.ProposedScope.TargetID)
		assert.Equal(t, target.ID, *entry.ProposedScope.TargetID)
		assert.True(t, entry.IsPending())
	}

	t.Run("建议绝不直接创建生产Learning", func(t *testing.T) {
		var count int64
		tdb.DB.Model(&models.Learning{}).Count(&count)
		assert.Equal(t, int64(0), count)
	})
}

func TestReviewApprove(t *testing.T) {
	service, tdb, _ := newLearningFixture(t)
	ctx := context.Background()

	entry := createPendingEntry(t, tdb, models.RunnerScope())

	reviewed, err := service.Review(ctx, entry.ID, ReviewRequest{
		Decision: "approve",
		Reviewer: "ops@example.com",
		Note:     "合理",
	})
	require.NoError(t, err)
	assert.Equal(t, "approved", reviewed.Status)
	require.NotNil(t, reviewed.LearningID)

	t.Run("审批原子创建激活的Learning", func(t *testing.T) {
		var learning models.Learning
		require.NoError(t, tdb.DB.First(&learning, "id = ?", *reviewed.LearningID).Error)
		assert.Equal(t, "rule", learning.Kind)
		assert.Equal(t, entry.ProposedContent, learning.Content)
		assert.Equal(t, "active", learning.Status)
		assert.Equal(t, "ops@example.com", learning.CreatedBy)
		assert.Equal(t, 1, learning.Version)
	})

	t.Run("处置动作写入审计日志", func(t *testing.T) {
		audit, err := service.QueryAudit(ctx, testutil.TestOrgID, "LearningQueueEntry", entry.ID, 10)
		require.NoError(t, err)
		require.Len(t, audit, 1)
		assert.Equal(t, "learning_queue.review.approve", audit[0].Action)
		assert.Equal(t, "ops@example.com", audit[0].Actor)
	})

	t.Run("已处置条目拒绝再次审核", func(t *testing.T) {
		_, err := service.Review(ctx, entry.ID, ReviewRequest{Decision: "reject", Reviewer: "r2"})
		assert.Error(t, err)
		assert.True(t, models.IsStateError(err))
	})
}

func TestReviewReject(t *testing.T) {
	service, tdb, _ := newLearningFixture(t)
	ctx := context.Background()

	entry := createPendingEntry(t, tdb, models.RunnerScope())

	reviewed, err := service.Review(ctx, entry.ID, ReviewRequest{
		Decision: "reject",
		Reviewer: "ops@example.com",
		Note:     "证据不足",
	})
	require.NoError(t, err)
	assert.Equal(t, "rejected", reviewed.Status)
	assert.Nil(t, reviewed.LearningID)

	var count int64
	tdb.DB.Model(&models.Learning{}).Count(&count)
	assert.Equal(t, int64(0), count)
}

func TestReviewModify(t *testing.T) {
	service, tdb, factory := newLearningFixture(t)
	ctx := context.Background()

	universe := factory.CreateUniverse(testutil.WithDomain("stocks"))
	entry := createPendingEntry(t, tdb, models.RunnerScope())

	modifiedScope := models.UniverseScope(universe.ID)
	reviewed, err := service.Review(ctx, entry.ID, ReviewRequest{
		Decision:        "modify",
		Reviewer:        "ops@example.com",
		ModifiedContent: "财报周将最小共识比例提高到0.75",
		ModifiedScope:   &modifiedScope,
	})
	require.NoError(t, err)
	assert.Equal(t, "modified", reviewed.Status)
	require.NotNil(t, reviewed.LearningID)

	var learning models.Learning
	require.NoError(t, tdb.DB.First(&learning, "id = ?", *reviewed.LearningID).Error)
	assert.Equal(t, "财报周将最小共识比例提高到0.75", learning.Content)
	assert.Equal(t, "universe", learning.Scope.Level)
	require.NotNil(t, learning.Scope.UniverseID)
	assert.Equal(t, universe.ID, *learning.Scope.UniverseID)

	t.Run("非法修改作用域被拒绝", func(t *testing.T) {
		another := createPendingEntry(t, tdb, models.RunnerScope())
		bad := models.Scope{Level: "target"} // 缺必填列
		_, err := service.Review(ctx, another.ID, ReviewRequest{
			Decision:      "modify",
			Reviewer:      "ops@example.com",
			ModifiedScope: &bad,
		})
		assert.Error(t, err)
		assert.True(t, models.IsValidationError(err))
	})
}

func TestReviewValidation(t *testing.T) {
	service, tdb, _ := newLearningFixture(t)
	ctx := context.Background()

	entry := createPendingEntry(t, tdb, models.RunnerScope())

	t.Run("无效审核决定被拒绝", func(t *testing.T) {
		_, err := service.Review(ctx, entry.ID, ReviewRequest{Decision: "maybe", Reviewer: "r"})
		assert.Error(t, err)
		assert.True(t, models.IsValidationError(err))
	})

	t.Run("缺少审核人被拒绝", func(t *testing.T) {
		_, err := service.Review(ctx, entry.ID, ReviewRequest{Decision: "approve"})
		assert.Error(t, err)
		assert.True(t, models.IsValidationError(err))
	})

	t.Run("不存在的条目返回未找到", func(t *testing.T) {
		_, err := service.Review(ctx, "missing", ReviewRequest{Decision: "approve", Reviewer: "r"})
		assert.ErrorIs(t, err, models.ErrNotFound)
	})
}

func TestSupersede(t *testing.T) {
	service, tdb, _ := newLearningFixture(t)
	ctx := context.Background()

	old := models.Learning{
		OrgID:   testutil.TestOrgID,
		Kind:    "rule",
		Content: "版本一",
		Scope:   models.RunnerScope(),
		Version: 1,
		Status:  "active",
	}
	require.NoError(t, tdb.DB.Create(&old).Error)

	successor, err := service.Supersede(ctx, old.ID, "版本二：补充适用条件", "ops@example.com")
	require.NoError(t, err)
	assert.Equal(t, 2, successor.Version)
	assert.Equal(t, "active", successor.Status)
	assert.Equal(t, old.Kind, successor.Kind)

	t.Run("旧条目翻转为superseded并携带继任链接", func(t *testing.T) {
		var stored models.Learning
		require.NoError(t, tdb.DB.First(&stored, "id = ?", old.ID).Error)
		assert.Equal(t, "superseded", stored.Status)
		require.NotNil(t, stored.SupersededBy)
		assert.Equal(t, successor.ID, *stored.SupersededBy)
	})

	t.Run("已继任条目不允许再次继任", func(t *testing.T) {
		_, err := service.Supersede(ctx, old.ID, "版本三", "ops@example.com")
		assert.Error(t, err)
		assert.True(t, models.IsStateError(err))
	})

	t.Run("空内容被拒绝", func(t *testing.T) {
		_, err := service.Supersede(ctx, successor.ID, "", "ops@example.com")
		assert.Error(t, err)
		assert.True(t, models.IsValidationError(err))
	})

	t.Run("继任动作写入审计日志", func(t *testing.T) {
		audit, err := service.QueryAudit(ctx, testutil.TestOrgID, "Learning", old.ID, 10)
		require.NoError(t, err)
		require.Len(t, audit, 1)
		assert.Equal(t, "learning.supersede", audit[0].Action)
	})
}

func TestDisable(t *testing.T) {
	service, tdb, _ := newLearningFixture(t)
	ctx := context.Background()

	learning := models.Learning{
		OrgID:   testutil.TestOrgID,
		Kind:    "pattern",
		Content: "待停用",
		Scope:   models.RunnerScope(),
		Version: 1,
		Status:  "active",
	}
	require.NoError(t, tdb.DB.Create(&learning).Error)

	require.NoError(t, service.Disable(ctx, learning.ID, "ops@example.com"))

	var stored models.Learning
	require.NoError(t, tdb.DB.First(&stored, "id = ?", learning.ID).Error)
	assert.Equal(t, "disabled", stored.Status)

	t.Run("停用幂等冲突返回状态错误", func(t *testing.T) {
		err := service.Disable(ctx, learning.ID, "ops@example.com")
		assert.Error(t, err)
		assert.True(t, models.IsStateError(err))
	})
}
