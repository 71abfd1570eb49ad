/*
 * @module service/ensemble/engine_test
 * @description 集成引擎测试：晋升路径、门槛未达、学习否决、词汇表拒绝、限流与在途取消
 * @architecture 单元测试
 */

package ensemble

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"foresight-service/client"
	"foresight-service/service/models"
	"foresight-service/service/scope"
	"foresight-service/testutil"
)

// stubLLM 返回固定评估的LLM替身
type stubLLM struct {
	direction  string
	strength   float64
	confidence float64
}

func (s *stubLLM) Assess(ctx context.Context, req *client.AssessRequest) (*client.Assessment, error) {
	return &client.Assessment{
		Direction:  s.direction,
		Strength:   s.strength,
		Confidence: s.confidence,
		Reasoning:  "测试推理",
		Provider:   "stub",
		Model:      "stub-model",
		LatencyMS:  5,
	}, nil
}

// blockingLLM 阻塞到上下文取消的LLM替身，用于取消路径测试
type blockingLLM struct {
	started chan struct{}
	once    sync.Once
}

func (b *blockingLLM) Assess(ctx context.Context, req *client.AssessRequest) (*client.Assessment, error) {
	b.once.Do(func() { close(b.started) })
	<-ctx.Done()
	return nil, ctx.Err()
}

// denyLimiter 拒绝全部调用的限流替身
type denyLimiter struct{}

func (denyLimiter) AllowLLMCall(ctx context.Context, provider string) (bool, error) {
	return false, nil
}

func newEngineFixture(t *testing.T, llm client.LLMCapability) (*Engine, *testutil.TestDB, *testutil.TestDataFactory) {
	t.Helper()
	tdb := testutil.NewTestDB()
	t.Cleanup(tdb.Close)
	factory := testutil.NewTestDataFactory(tdb.DB)
	resolver := scope.NewResolver(tdb.DB)
	synthesizer := NewSynthesizer(tdb.DB, LoadThresholdPolicy(), DefaultEvaluationWindow)
	engine := NewEngine(tdb.DB, resolver, llm, nil, nil, synthesizer)
	return engine, tdb, factory
}

func TestPredictPromotes(t *testing.T) {
	engine, tdb, factory := newEngineFixture(t, &stubLLM{direction: "up", strength: 0.8, confidence: 0.9})
	ctx := context.Background()

	universe := factory.CreateUniverse(testutil.WithDomain("stocks"))
	target := factory.CreateTarget(universe, testutil.WithSymbol("AAPL"))
	for i := 0; i < 3; i++ {
		factory.CreateAnalyst()
	}

	prediction, err := engine.Predict(ctx, target.ID)
	require.NoError(t, err)
	require.NotNil(t, prediction)

	t.Run("预测方向与置信度来自加权合成", func(t *testing.T) {
		assert.Equal(t, "up", prediction.Direction)
		assert.InDelta(t, 0.9, prediction.Confidence, 1e-9) // 全体一致，共识比例为1
		assert.Equal(t, "active", prediction.Status)
		assert.Len(t, prediction.AnalystEnsemble, 3)
	})

	t.Run("快照与预测同事务落库", func(t *testing.T) {
		var snapshot models.Snapshot
		require.NoError(t, tdb.DB.First(&snapshot, "prediction_id = ?", prediction.ID).Error)
		assert.Len(t, snapshot.ConsideredPredictors, 3)
		assert.NotEmpty(t, snapshot.Timeline)
	})

	t.Run("全部Predictor被原子认领", func(t *testing.T) {
		var predictors []models.Predictor
		require.NoError(t, tdb.DB.Find(&predictors).Error)
		require.Len(t, predictors, 3)
		for _, p := range predictors {
			assert.True(t, p.IsConsumed())
			require.NotNil(t, p.ConsumedByPredictionID)
			assert.Equal(t, prediction.ID, *p.ConsumedByPredictionID)
			assert.NotNil(t, p.ConsumedAt)
		}
	})
}

func TestPredictBelowThreshold(t *testing.T) {
	engine, tdb, factory := newEngineFixture(t, &stubLLM{direction: "up", strength: 0.8, confidence: 0.9})
	ctx := context.Background()

	universe := factory.CreateUniverse(testutil.WithDomain("stocks"))
	target := factory.CreateTarget(universe)
	factory.CreateAnalyst()
	factory.CreateAnalyst() // 两个分析师，低于最小Predictor数

	prediction, err := engine.Predict(ctx, target.ID)
	require.NoError(t, err)
	assert.Nil(t, prediction)

	t.Run("落库未达标尝试记录", func(t *testing.T) {
		var attempts []models.EnsembleAttempt
		require.NoError(t, tdb.DB.Find(&attempts).Error)
		require.Len(t, attempts, 1)
		assert.Equal(t, "min_predictors", attempts[0].ThresholdEvaluation["failed_constraint"])
	})

	t.Run("Predictor保持未消费", func(t *testing.T) {
		var count int64
		tdb.DB.Model(&models.Predictor{}).Where("status = ?", "unconsumed").Count(&count)
		assert.Equal(t, int64(2), count)
	})
}

func TestPredictVetoedByLearning(t *testing.T) {
	engine, tdb, factory := newEngineFixture(t, &stubLLM{direction: "up", strength: 0.8, confidence: 0.9})
	ctx := context.Background()

	universe := factory.CreateUniverse(testutil.WithDomain("stocks"))
	target := factory.CreateTarget(universe)
	factory.CreateAnalyst()

	veto := models.Learning{
		OrgID:   testutil.TestOrgID,
		Kind:    "avoid_condition",
		Content: "市场异常波动期间不做预测",
		Scope:   models.RunnerScope(),
		Version: 1,
		Status:  "active",
	}
	require.NoError(t, tdb.DB.Create(&veto).Error)

	prediction, err := engine.Predict(ctx, target.ID)
	require.NoError(t, err)
	assert.Nil(t, prediction)

	var attempts []models.EnsembleAttempt
	require.NoError(t, tdb.DB.Find(&attempts).Error)
	require.Len(t, attempts, 1)
	assert.Equal(t, "avoid_condition", attempts[0].ThresholdEvaluation["failed_constraint"])
	assert.Equal(t, veto.ID, attempts[0].ThresholdEvaluation["learning_id"])

	// 否决短路发生在评估之前
	var count int64
	tdb.DB.Model(&models.Predictor{}).Count(&count)
	assert.Equal(t, int64(0), count)
}

func TestPredictRejectsOutOfVocabularyDirection(t *testing.T) {
	// stocks 领域词汇表不含 "yes"
	engine, tdb, factory := newEngineFixture(t, &stubLLM{direction: "yes", strength: 0.8, confidence: 0.9})
	ctx := context.Background()

	universe := factory.CreateUniverse(testutil.WithDomain("stocks"))
	target := factory.CreateTarget(universe)
	for i := 0; i < 3; i++ {
		factory.CreateAnalyst()
	}

	prediction, err := engine.Predict(ctx, target.ID)
	require.NoError(t, err)
	assert.Nil(t, prediction)

	// 出界方向不做修正，全部评估被拒，不产生Predictor
	var count int64
	tdb.DB.Model(&models.Predictor{}).Count(&count)
	assert.Equal(t, int64(0), count)
}

func TestPredictRateLimited(t *testing.T) {
	tdb := testutil.NewTestDB()
	t.Cleanup(tdb.Close)
	factory := testutil.NewTestDataFactory(tdb.DB)
	resolver := scope.NewResolver(tdb.DB)
	synthesizer := NewSynthesizer(tdb.DB, LoadThresholdPolicy(), DefaultEvaluationWindow)
	engine := NewEngine(tdb.DB, resolver, &stubLLM{direction: "up", strength: 0.8, confidence: 0.9},
		nil, denyLimiter{}, synthesizer)
	ctx := context.Background()

	universe := factory.CreateUniverse(testutil.WithDomain("stocks"))
	target := factory.CreateTarget(universe)
	factory.CreateAnalyst()

	prediction, err := engine.Predict(ctx, target.ID)
	require.NoError(t, err)
	assert.Nil(t, prediction)

	var count int64
	tdb.DB.Model(&models.Predictor{}).Count(&count)
	assert.Equal(t, int64(0), count)
}

func TestPredictInactiveTarget(t *testing.T) {
	engine, tdb, factory := newEngineFixture(t, &stubLLM{direction: "up", strength: 0.8, confidence: 0.9})
	ctx := context.Background()

	universe := factory.CreateUniverse(testutil.WithDomain("stocks"))
	target := factory.CreateTarget(universe)
	require.NoError(t, tdb.DB.Model(&models.Target{}).
		Where("id = ?", target.ID).Update("status", "inactive").Error)

	_, err := engine.Predict(ctx, target.ID)
	assert.Error(t, err)
	assert.True(t, models.IsStateError(err))
}

func TestPredictWithoutLLMClient(t *testing.T) {
	// LLM客户端初始化失败时引擎仍会被装配，运行必须以状态错误拒绝而非崩溃
	engine, _, factory := newEngineFixture(t, nil)
	ctx := context.Background()

	universe := factory.CreateUniverse(testutil.WithDomain("stocks"))
	target := factory.CreateTarget(universe)
	factory.CreateAnalyst()

	prediction, err := engine.Predict(ctx, target.ID)
	assert.Nil(t, prediction)
	require.Error(t, err)
	assert.True(t, models.IsStateError(err))
}

func TestCancelRunAbortsInFlight(t *testing.T) {
	llm := &blockingLLM{started: make(chan struct{})}
	engine, _, factory := newEngineFixture(t, llm)
	ctx := context.Background()

	universe := factory.CreateUniverse(testutil.WithDomain("stocks"))
	target := factory.CreateTarget(universe)
	for i := 0; i < 3; i++ {
		factory.CreateAnalyst()
	}

	done := make(chan error, 1)
	go func() {
		_, err := engine.Predict(ctx, target.ID)
		done <- err
	}()

	<-llm.started
	engine.CancelRun(target.ID)

	select {
	case err := <-done:
		assert.True(t, errors.Is(err, ErrRunCancelled))
	case <-time.After(5 * time.Second):
		t.Fatal("取消后运行未在期限内返回")
	}
}

func TestPredictAppliesWeightAdjustment(t *testing.T) {
	engine, tdb, factory := newEngineFixture(t, &stubLLM{direction: "up", strength: 0.8, confidence: 0.9})
	ctx := context.Background()

	universe := factory.CreateUniverse(testutil.WithDomain("stocks"))
	target := factory.CreateTarget(universe)
	adjusted := factory.CreateAnalyst()
	factory.CreateAnalyst()
	factory.CreateAnalyst()

	adjustment := models.Learning{
		OrgID:      testutil.TestOrgID,
		Kind:       "weight_adjustment",
		Content:    "下调该分析师权重",
		Scope:      models.RunnerScope(),
		Adjustment: models.JSONB{"analyst_id": adjusted.ID, "delta": -0.4},
		Version:    1,
		Status:     "active",
	}
	require.NoError(t, tdb.DB.Create(&adjustment).Error)

	prediction, err := engine.Predict(ctx, target.ID)
	require.NoError(t, err)
	require.NotNil(t, prediction)

	t.Run("被调整分析师的Predictor携带调整后权重", func(t *testing.T) {
		var predictor models.Predictor
		require.NoError(t, tdb.DB.First(&predictor, "analyst_id = ?", adjusted.ID).Error)
		assert.InDelta(t, 0.6, predictor.Weight, 1e-9)
	})

	t.Run("应用的Learning累计次数并记入快照", func(t *testing.T) {
		var learning models.Learning
		require.NoError(t, tdb.DB.First(&learning, "id = ?", adjustment.ID).Error)
		assert.Equal(t, 1, learning.TimesApplied)

		var snapshot models.Snapshot
		require.NoError(t, tdb.DB.First(&snapshot, "prediction_id = ?", prediction.ID).Error)
		assert.Contains(t, []string(snapshot.AppliedLearnings), adjustment.ID)
	})
}
