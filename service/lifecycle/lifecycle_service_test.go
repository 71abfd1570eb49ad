/*
 * @module service/lifecycle/lifecycle_service_test
 * @description 生命周期服务测试：结算幂等、取消、过期清扫与状态机终态保护
 * @architecture 单元测试
 */

package lifecycle

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"foresight-service/client"
	"foresight-service/service/models"
	"foresight-service/service/scope"
	"foresight-service/testutil"
)

// stubMarketServer 启动返回固定走势的行情服务替身，100 -> 100+movePct
func stubMarketServer(t *testing.T, movePct float64) {
	t.Helper()
	now := time.Now()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := map[string]interface{}{
			"status": "success",
			"data": map[string]interface{}{
				"result": []map[string]interface{}{
					{
						"metric": map[string]string{"symbol": "AAPL"},
						"values": [][]interface{}{
							{now.Add(-time.Hour).Unix(), "100"},
							{now.Unix(), fmt.Sprintf("%g", 100+movePct)},
						},
					},
				},
			},
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(server.Close)
	client.SetMarketDataURL(server.URL)
	t.Cleanup(func() { client.SetMarketDataURL("http://localhost:38428") })
}

func newLifecycleFixture(t *testing.T) (*LifecycleService, *testutil.TestDB, *testutil.TestDataFactory) {
	t.Helper()
	tdb := testutil.NewTestDB()
	t.Cleanup(tdb.Close)
	factory := testutil.NewTestDataFactory(tdb.DB)
	evaluator := NewEvaluationService(tdb.DB, scope.NewResolver(tdb.DB))
	service := NewLifecycleService(tdb.DB, evaluator, nil)
	service.SyncEvaluation = true
	return service, tdb, factory
}

func TestResolvePrediction(t *testing.T) {
	stubMarketServer(t, 8.0) // 实际上涨8%
	service, tdb, factory := newLifecycleFixture(t)
	ctx := context.Background()

	universe := factory.CreateUniverse(testutil.WithDomain("stocks"))
	target := factory.CreateTarget(universe, testutil.WithSymbol("AAPL"))
	prediction := factory.CreatePrediction(target) // direction=up

	resolved, err := service.Resolve(ctx, prediction.ID, models.JSONB{"note": "earnings beat"})
	require.NoError(t, err)
	assert.Equal(t, "resolved", resolved.Status)
	require.NotNil(t, resolved.ResolvedAt)

	t.Run("结算同步触发评估且方向评对", func(t *testing.T) {
		var evaluation models.Evaluation
		require.NoError(t, tdb.DB.First(&evaluation, "prediction_id = ?", prediction.ID).Error)
		assert.True(t, evaluation.DirectionCorrect)
		assert.Greater(t, evaluation.TimingAccuracy, 0.0)
	})

	t.Run("重复结算幂等且不产生第二份评估", func(t *testing.T) {
		again, err := service.Resolve(ctx, prediction.ID, models.JSONB{"note": "duplicate"})
		require.NoError(t, err)
		assert.Equal(t, "resolved", again.Status)

		var count int64
		tdb.DB.Model(&models.Evaluation{}).Where("prediction_id = ?", prediction.ID).Count(&count)
		assert.Equal(t, int64(1), count)
	})

	t.Run("不存在的预测返回未找到", func(t *testing.T) {
		_, err := service.Resolve(ctx, "missing-id", nil)
		assert.ErrorIs(t, err, models.ErrNotFound)
	})
}

func TestCancelPrediction(t *testing.T) {
	service, tdb, factory := newLifecycleFixture(t)
	ctx := context.Background()

	universe := factory.CreateUniverse(testutil.WithDomain("stocks"))
	target := factory.CreateTarget(universe)
	prediction := factory.CreatePrediction(target)

	cancelled, err := service.Cancel(ctx, prediction.ID, "标的停牌")
	require.NoError(t, err)
	assert.Equal(t, "cancelled", cancelled.Status)

	t.Run("取消原因记入结果字段", func(t *testing.T) {
		var stored models.Prediction
		require.NoError(t, tdb.DB.First(&stored, "id = ?", prediction.ID).Error)
		assert.Equal(t, "标的停牌", stored.Outcome["cancel_reason"])
	})

	t.Run("终态不允许再次取消", func(t *testing.T) {
		_, err := service.Cancel(ctx, prediction.ID, "再来一次")
		assert.Error(t, err)
		assert.True(t, models.IsStateError(err))
	})

	t.Run("终态不允许结算", func(t *testing.T) {
		_, err := service.Resolve(ctx, prediction.ID, nil)
		assert.Error(t, err)
		assert.True(t, models.IsStateError(err))
	})
}

func TestSweepExpired(t *testing.T) {
	service, tdb, factory := newLifecycleFixture(t)
	ctx := context.Background()

	universe := factory.CreateUniverse(testutil.WithDomain("stocks"))
	target := factory.CreateTarget(universe)

	expired := factory.CreatePrediction(target, testutil.ExpiredAt(time.Now().Add(-time.Hour)))
	active := factory.CreatePrediction(target) // 24小时后到期

	count, err := service.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	var stored models.Prediction
	require.NoError(t, tdb.DB.First(&stored, "id = ?", expired.ID).Error)
	assert.Equal(t, "expired", stored.Status)

	require.NoError(t, tdb.DB.First(&stored, "id = ?", active.ID).Error)
	assert.Equal(t, "active", stored.Status)

	t.Run("清扫幂等", func(t *testing.T) {
		count, err := service.SweepExpired(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(0), count)
	})
}

func TestListPredictionsExcludesTestData(t *testing.T) {
	service, _, factory := newLifecycleFixture(t)
	ctx := context.Background()

	universe := factory.CreateUniverse(testutil.WithDomain("stocks"))
	target := factory.CreateTarget(universe)
	factory.CreatePrediction(target)
	factory.CreatePrediction(target, testutil.WithScenario("scenario-1"))

	normal, err := service.ListPredictions(ctx, testutil.TestOrgID, target.ID, "", false)
	require.NoError(t, err)
	assert.Len(t, normal, 1)

	all, err := service.ListPredictions(ctx, testutil.TestOrgID, target.ID, "", true)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}
