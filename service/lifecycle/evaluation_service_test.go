/*
 * @module service/lifecycle/evaluation_service_test
 * @description 评估服务测试：评分、幂等、事件域结算数据、Learning效果回填与错失机会分析
 * @architecture 单元测试
 */

package lifecycle

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"foresight-service/service/models"
	"foresight-service/service/scope"
	"foresight-service/testutil"
)

// recordingSuggester 记录建议调用的学习服务替身
type recordingSuggester struct {
	evaluations   []*models.Evaluation
	opportunities []*models.MissedOpportunity
}

func (r *recordingSuggester) SuggestFromEvaluation(ctx context.Context, evaluation *models.Evaluation) error {
	r.evaluations = append(r.evaluations, evaluation)
	return nil
}

func (r *recordingSuggester) SuggestFromMissedOpportunity(ctx context.Context, opp *models.MissedOpportunity) error {
	r.opportunities = append(r.opportunities, opp)
	return nil
}

func newEvaluationFixture(t *testing.T) (*EvaluationService, *testutil.TestDB, *testutil.TestDataFactory, *recordingSuggester) {
	t.Helper()
	tdb := testutil.NewTestDB()
	t.Cleanup(tdb.Close)
	factory := testutil.NewTestDataFactory(tdb.DB)
	service := NewEvaluationService(tdb.DB, scope.NewResolver(tdb.DB))
	suggester := &recordingSuggester{}
	service.SetSuggester(suggester)
	return service, tdb, factory, suggester
}

// resolvePrediction 直接将预测标记为已结算
func resolvePrediction(t *testing.T, tdb *testutil.TestDB, predictionID string, outcome models.JSONB) {
	t.Helper()
	now := time.Now()
	require.NoError(t, tdb.DB.Model(&models.Prediction{}).
		Where("id = ?", predictionID).
		Updates(map[string]interface{}{
			"status":      "resolved",
			"resolved_at": now,
			"outcome":     outcome,
		}).Error)
}

func TestEnsureEvaluationEventMarket(t *testing.T) {
	service, tdb, factory, suggester := newEvaluationFixture(t)
	ctx := context.Background()

	universe := factory.CreateUniverse(testutil.WithDomain("event_market"))
	target := factory.CreateTarget(universe, testutil.WithSymbol("FED-CUT-MARCH"))

	newEventPrediction := func(direction string) *models.Prediction {
		p := &models.Prediction{
			OrgID:          target.OrgID,
			TargetID:       target.ID,
			Direction:      direction,
			Confidence:     0.8,
			TimeframeHours: 24,
			ExpiresAt:      time.Now().Add(24 * time.Hour),
		}
		require.NoError(t, tdb.DB.Create(p).Error)
		require.NoError(t, tdb.DB.Create(&models.Snapshot{PredictionID: p.ID}).Error)
		return p
	}

	t.Run("事件域由结算数据提供实际方向", func(t *testing.T) {
		prediction := newEventPrediction("yes")
		resolvePrediction(t, tdb, prediction.ID, models.JSONB{"actual_direction": "yes"})

		evaluation, err := service.EnsureEvaluation(ctx, prediction.ID)
		require.NoError(t, err)
		assert.True(t, evaluation.DirectionCorrect)
		assert.Equal(t, 1.0, evaluation.TimingAccuracy)
		assert.Len(t, suggester.evaluations, 1)
	})

	t.Run("结算数据缺少实际方向是显式错误", func(t *testing.T) {
		prediction := newEventPrediction("no")
		resolvePrediction(t, tdb, prediction.ID, models.JSONB{})

		_, err := service.EnsureEvaluation(ctx, prediction.ID)
		assert.Error(t, err)
		assert.True(t, models.IsValidationError(err))
	})

	t.Run("未结算预测不允许评估", func(t *testing.T) {
		prediction := newEventPrediction("yes")
		_, err := service.EnsureEvaluation(ctx, prediction.ID)
		assert.Error(t, err)
		assert.True(t, models.IsStateError(err))
	})
}

func TestEnsureEvaluationBackfillsLearningEffect(t *testing.T) {
	service, tdb, factory, _ := newEvaluationFixture(t)
	ctx := context.Background()

	universe := factory.CreateUniverse(testutil.WithDomain("event_market"))
	target := factory.CreateTarget(universe)

	learning := models.Learning{
		OrgID:        testutil.TestOrgID,
		Kind:         "rule",
		Content:      "联储会议周优先关注官方声明",
		Scope:        models.RunnerScope(),
		Version:      1,
		Status:       "active",
		TimesApplied: 1,
	}
	require.NoError(t, tdb.DB.Create(&learning).Error)

	prediction := &models.Prediction{
		OrgID:          target.OrgID,
		TargetID:       target.ID,
		Direction:      "yes",
		Confidence:     0.8,
		TimeframeHours: 24,
		ExpiresAt:      time.Now().Add(24 * time.Hour),
	}
	require.NoError(t, tdb.DB.Create(prediction).Error)
	require.NoError(t, tdb.DB.Create(&models.Snapshot{
		PredictionID:     prediction.ID,
		AppliedLearnings: models.JSONBStringArray{learning.ID},
	}).Error)
	resolvePrediction(t, tdb, prediction.ID, models.JSONB{"actual_direction": "yes"})

	_, err := service.EnsureEvaluation(ctx, prediction.ID)
	require.NoError(t, err)

	var stored models.Learning
	require.NoError(t, tdb.DB.First(&stored, "id = ?", learning.ID).Error)
	assert.Equal(t, 1, stored.TimesHelpful)

	t.Run("幂等评估不重复回填", func(t *testing.T) {
		_, err := service.EnsureEvaluation(ctx, prediction.ID)
		require.NoError(t, err)

		require.NoError(t, tdb.DB.First(&stored, "id = ?", learning.ID).Error)
		assert.Equal(t, 1, stored.TimesHelpful)
	})
}

func TestAnalyzeMissedOpportunity(t *testing.T) {
	service, tdb, factory, suggester := newEvaluationFixture(t)
	ctx := context.Background()

	universe := factory.CreateUniverse(testutil.WithDomain("stocks"))
	target := factory.CreateTarget(universe, testutil.WithSymbol("NVDA"))

	now := time.Now()
	opp := models.MissedOpportunity{
		OrgID:       testutil.TestOrgID,
		TargetID:    target.ID,
		MovePct:     7.5,
		WindowStart: now.Add(-24 * time.Hour),
		WindowEnd:   now,
		Status:      "detected",
	}
	require.NoError(t, tdb.DB.Create(&opp).Error)

	t.Run("无信号无内容源时登记工具请求", func(t *testing.T) {
		require.NoError(t, service.AnalyzeMissedOpportunity(ctx, opp.ID))

		var analyzed models.MissedOpportunity
		require.NoError(t, tdb.DB.First(&analyzed, "id = ?", opp.ID).Error)
		assert.Equal(t, "analyzed", analyzed.Status)
		require.NotNil(t, analyzed.AnalyzedAt)
		require.Len(t, analyzed.SuggestedLearnings, 1)
		assert.Equal(t, "rule", analyzed.SuggestedLearnings[0]["kind"])

		var requests []models.ToolRequest
		require.NoError(t, tdb.DB.Find(&requests).Error)
		require.Len(t, requests, 1)
		assert.Equal(t, "source", requests[0].Kind)
		assert.Equal(t, "open", requests[0].Status)

		assert.Len(t, suggester.opportunities, 1)
	})

	t.Run("重复分析幂等", func(t *testing.T) {
		require.NoError(t, service.AnalyzeMissedOpportunity(ctx, opp.ID))

		var count int64
		tdb.DB.Model(&models.ToolRequest{}).Count(&count)
		assert.Equal(t, int64(1), count)
	})

	t.Run("窗口内有信号时建议复盘阈值", func(t *testing.T) {
		article := models.Article{
			OrgID:       testutil.TestOrgID,
			SourceID:    "source-x",
			ContentHash: "hash-analyze-test",
			Title:       "数据中心需求激增",
		}
		require.NoError(t, tdb.DB.Create(&article).Error)
		signal := models.Signal{
			OrgID:     testutil.TestOrgID,
			ArticleID: article.ID,
			TargetID:  target.ID,
			Kind:      "event",
			Summary:   "新一代芯片发布",
			Strength:  0.8,
		}
		require.NoError(t, tdb.DB.Create(&signal).Error)

		second := models.MissedOpportunity{
			OrgID:       testutil.TestOrgID,
			TargetID:    target.ID,
			MovePct:     6.0,
			WindowStart: now.Add(-24 * time.Hour),
			WindowEnd:   now,
			Status:      "detected",
		}
		require.NoError(t, tdb.DB.Create(&second).Error)
		require.NoError(t, service.AnalyzeMissedOpportunity(ctx, second.ID))

		var analyzed models.MissedOpportunity
		require.NoError(t, tdb.DB.First(&analyzed, "id = ?", second.ID).Error)
		require.Len(t, analyzed.UnusedSignals, 1)
		require.Len(t, analyzed.Drivers, 1) // 强度>=0.5的信号计入驱动因素
		require.Len(t, analyzed.SuggestedLearnings, 1)
		assert.Equal(t, "pattern", analyzed.SuggestedLearnings[0]["kind"])
	})
}

func TestDetectMissedOpportunitiesSkipsCovered(t *testing.T) {
	service, _, factory, _ := newEvaluationFixture(t)
	ctx := context.Background()

	universe := factory.CreateUniverse(testutil.WithDomain("stocks"))
	target := factory.CreateTarget(universe)
	factory.CreatePrediction(target) // 窗口内的活跃预测即覆盖

	created, err := service.DetectMissedOpportunities(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, created)
}

func TestDetectMissedOpportunitiesSkipsEventMarket(t *testing.T) {
	service, _, factory, _ := newEvaluationFixture(t)
	ctx := context.Background()

	universe := factory.CreateUniverse(testutil.WithDomain("event_market"))
	factory.CreateTarget(universe)

	created, err := service.DetectMissedOpportunities(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, created)
}
