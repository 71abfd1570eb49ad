/*
 * @module service/ensemble/synthesis_test
 * @description 合成器测试：加权投票、门槛评估、评估窗口、认领的测试数据隔离
 * @architecture 单元测试
 */

package ensemble

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"foresight-service/service/models"
	"foresight-service/testutil"
)

func newSynthesisFixture(t *testing.T) (*Synthesizer, *testutil.TestDB, *testutil.TestDataFactory) {
	t.Helper()
	tdb := testutil.NewTestDB()
	t.Cleanup(tdb.Close)
	factory := testutil.NewTestDataFactory(tdb.DB)
	return NewSynthesizer(tdb.DB, LoadThresholdPolicy(), DefaultEvaluationWindow), tdb, factory
}

func createPredictor(t *testing.T, tdb *testutil.TestDB, target *models.Target, analystID, direction string, weight, strength, confidence float64) *models.Predictor {
	t.Helper()
	p := &models.Predictor{
		OrgID:      target.OrgID,
		TargetID:   target.ID,
		AnalystID:  analystID,
		Direction:  direction,
		Strength:   strength,
		Confidence: confidence,
		Weight:     weight,
		Status:     "unconsumed",
		IsTestData: target.IsTest,
	}
	require.NoError(t, tdb.DB.Create(p).Error)
	return p
}

func TestSynthesizeWeightedVote(t *testing.T) {
	synthesizer, tdb, factory := newSynthesisFixture(t)
	ctx := context.Background()

	universe := factory.CreateUniverse(testutil.WithDomain("stocks"))
	target := factory.CreateTarget(universe)

	// 两票up对一票down，权重使up胜出；共识比例折减置信度
	createPredictor(t, tdb, target, "a-1", "up", 2.0, 0.8, 0.9)
	createPredictor(t, tdb, target, "a-2", "up", 1.0, 0.6, 0.8)
	createPredictor(t, tdb, target, "a-3", "down", 1.0, 0.9, 0.7)

	prediction, err := synthesizer.Synthesize(ctx, &SynthesisInput{
		Target:         target,
		TimeframeHours: 24,
	})
	require.NoError(t, err)
	require.NotNil(t, prediction)

	assert.Equal(t, "up", prediction.Direction)
	// 共识 = up票(2*0.9+1*0.8) / 总票(2*0.9+1*0.8+1*0.7) = 2.6/3.3
	consensus := 2.6 / 3.3
	weightedConfidence := (2*0.9 + 1*0.8 + 1*0.7) / 4.0
	assert.InDelta(t, weightedConfidence*consensus, prediction.Confidence, 1e-9)
	assert.Equal(t, 24, prediction.TimeframeHours)
	require.NotNil(t, prediction.Magnitude)
}

func TestSynthesizeEachAnalystClaimedOnce(t *testing.T) {
	synthesizer, tdb, factory := newSynthesisFixture(t)
	ctx := context.Background()

	universe := factory.CreateUniverse(testutil.WithDomain("stocks"))
	target := factory.CreateTarget(universe)

	// 同一分析师的两个候选只认领最新的一个
	older := createPredictor(t, tdb, target, "a-1", "up", 1.0, 0.8, 0.9)
	require.NoError(t, tdb.DB.Model(older).
		UpdateColumn("created_at", time.Now().Add(-10*time.Minute)).Error)
	newer := createPredictor(t, tdb, target, "a-1", "down", 1.0, 0.8, 0.9)
	createPredictor(t, tdb, target, "a-2", "down", 1.0, 0.8, 0.9)
	createPredictor(t, tdb, target, "a-3", "down", 1.0, 0.8, 0.9)

	prediction, err := synthesizer.Synthesize(ctx, &SynthesisInput{Target: target, TimeframeHours: 24})
	require.NoError(t, err)
	require.NotNil(t, prediction)
	assert.Equal(t, "down", prediction.Direction)

	var stale models.Predictor
	require.NoError(t, tdb.DB.First(&stale, "id = ?", older.ID).Error)
	assert.False(t, stale.IsConsumed())

	var claimed models.Predictor
	require.NoError(t, tdb.DB.First(&claimed, "id = ?", newer.ID).Error)
	assert.True(t, claimed.IsConsumed())
}

func TestSynthesizeWindowExcludesStale(t *testing.T) {
	synthesizer, tdb, factory := newSynthesisFixture(t)
	ctx := context.Background()

	universe := factory.CreateUniverse(testutil.WithDomain("stocks"))
	target := factory.CreateTarget(universe)

	for _, analyst := range []string{"a-1", "a-2", "a-3"} {
		p := createPredictor(t, tdb, target, analyst, "up", 1.0, 0.8, 0.9)
		require.NoError(t, tdb.DB.Model(p).
			UpdateColumn("created_at", time.Now().Add(-2*DefaultEvaluationWindow)).Error)
	}

	prediction, err := synthesizer.Synthesize(ctx, &SynthesisInput{Target: target, TimeframeHours: 24})
	require.NoError(t, err)
	assert.Nil(t, prediction)

	var attempts []models.EnsembleAttempt
	require.NoError(t, tdb.DB.Find(&attempts).Error)
	require.Len(t, attempts, 1)
	assert.Equal(t, "min_predictors", attempts[0].ThresholdEvaluation["failed_constraint"])
}

func TestSynthesizeTestIsolation(t *testing.T) {
	synthesizer, tdb, factory := newSynthesisFixture(t)
	ctx := context.Background()

	universe := factory.CreateUniverse(testutil.WithDomain("stocks"))
	production := factory.CreateTarget(universe, testutil.WithSymbol("AAPL"))

	// 生产标的的候选全部是测试数据：合成只认领 is_test_data 一致的候选
	for _, analyst := range []string{"a-1", "a-2", "a-3"} {
		p := &models.Predictor{
			OrgID:      production.OrgID,
			TargetID:   production.ID,
			AnalystID:  analyst,
			Direction:  "up",
			Strength:   0.8,
			Confidence: 0.9,
			Weight:     1.0,
			Status:     "unconsumed",
			IsTestData: true,
		}
		require.NoError(t, tdb.DB.Create(p).Error)
	}

	prediction, err := synthesizer.Synthesize(ctx, &SynthesisInput{Target: production, TimeframeHours: 24})
	require.NoError(t, err)
	assert.Nil(t, prediction)

	var count int64
	tdb.DB.Model(&models.Predictor{}).Where("status = ?", "consumed").Count(&count)
	assert.Equal(t, int64(0), count)
}

func TestThresholdPolicyEvaluate(t *testing.T) {
	policy := ThresholdPolicy{MinPredictors: 3, MinCombinedStrength: 0.5, MinConsensusRatio: 0.6}

	t.Run("三项约束全部满足才晋升", func(t *testing.T) {
		outcome := policy.Evaluate(3, 0.5, 0.6)
		assert.True(t, outcome.Met)
		assert.Empty(t, outcome.FailedConstraint)
	})

	t.Run("按序报告第一个未满足的约束", func(t *testing.T) {
		assert.Equal(t, "min_predictors", policy.Evaluate(2, 0.9, 0.9).FailedConstraint)
		assert.Equal(t, "min_combined_strength", policy.Evaluate(3, 0.4, 0.9).FailedConstraint)
		assert.Equal(t, "min_consensus_ratio", policy.Evaluate(3, 0.9, 0.5).FailedConstraint)
	})
}
