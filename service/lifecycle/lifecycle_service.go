/*
 * @module service/lifecycle/lifecycle_service
 * @description 预测生命周期服务：强制执行 active -> {resolved|expired|cancelled} 状态机，
 *              结算时幂等触发评估，过期由定时清扫标记
 * @architecture 分层架构 - 领域服务层
 * @documentReference ai_docs/forecast_engine_req.md
 * @stateFlow active 是唯一非终态；任何离开终态的迁移都被拒绝；结算 -> 异步评估 -> 学习建议
 * @rules 状态迁移通过条件更新实现，并发迁移不可能双重生效；评估失败必须上报，不允许静默跳过
 * @dependencies gorm.io/gorm, log/slog
 * @refs service/lifecycle/evaluation_service.go, api/controllers/prediction_controller.go
 */

package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/gorm"

	"foresight-service/service/meta"
	"foresight-service/service/models"
)

// EventPublisher 生命周期事件发布接口，由事件服务实现
type EventPublisher interface {
	PublishPredictionEvent(eventType string, payload map[string]interface{})
}

// LifecycleService 预测生命周期服务
type LifecycleService struct {
	db        *gorm.DB
	evaluator *EvaluationService
	publisher EventPublisher

	// SyncEvaluation 为true时结算后同步执行评估（测试用），默认异步
	SyncEvaluation bool
}

// NewLifecycleService 创建生命周期服务
func NewLifecycleService(db *gorm.DB, evaluator *EvaluationService, publisher EventPublisher) *LifecycleService {
	return &LifecycleService{
		db:        db,
		evaluator: evaluator,
		publisher: publisher,
	}
}

// GetPrediction 按ID获取预测（含标的与快照）
func (s *LifecycleService) GetPrediction(ctx context.Context, id string) (*models.Prediction, error) {
	var prediction models.Prediction
	err := s.db.WithContext(ctx).
		Preload("Target").
		Preload("Snapshot").
		First(&prediction, "id = ?", id).Error
	if err == gorm.ErrRecordNotFound {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("查询预测失败: %w", err)
	}
	return &prediction, nil
}

// ListPredictions 按条件列出预测
func (s *LifecycleService) ListPredictions(ctx context.Context, orgID, targetID, status string, includeTest bool) ([]models.Prediction, error) {
	query := s.db.WithContext(ctx).Where("org_id = ?", orgID)
	if targetID != "" {
		query = query.Where("target_id = ?", targetID)
	}
	if status != "" {
		query = query.Where("status = ?", status)
	}
	if !includeTest {
		query = query.Where("is_test_data = ?", false)
	}

	var predictions []models.Prediction
	if err := query.Order("created_at DESC").Limit(200).Find(&predictions).Error; err != nil {
		return nil, fmt.Errorf("查询预测列表失败: %w", err)
	}
	return predictions, nil
}

// GetSnapshot 获取预测的溯源快照
func (s *LifecycleService) GetSnapshot(ctx context.Context, predictionID string) (*models.Snapshot, error) {
	var snapshot models.Snapshot
	err := s.db.WithContext(ctx).First(&snapshot, "prediction_id = ?", predictionID).Error
	if err == gorm.ErrRecordNotFound {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("查询快照失败: %w", err)
	}
	return &snapshot, nil
}

// Resolve 结算预测。幂等：已结算的预测只补齐评估，不产生第二次迁移；
// 其余终态（expired/cancelled）拒绝结算。
// outcome 携带结算时的实际结果（事件域必须提供 actual_direction）。
func (s *LifecycleService) Resolve(ctx context.Context, predictionID string, outcome models.JSONB) (*models.Prediction, error) {
	prediction, err := s.GetPrediction(ctx, predictionID)
	if err != nil {
		return nil, err
	}

	// 重复结算：不迁移，只确保评估存在
	if prediction.Status == meta.PredictionStatusResolved {
		s.triggerEvaluation(prediction.ID)
		return prediction, nil
	}

	if err := prediction.CanTransition(meta.PredictionStatusResolved); err != nil {
		return nil, err
	}

	now := time.Now()
	res := s.db.WithContext(ctx).Model(&models.Prediction{}).
		Where("id = ? AND status = ?", predictionID, meta.PredictionStatusActive).
		Updates(map[string]interface{}{
			"status":      meta.PredictionStatusResolved,
			"resolved_at": now,
			"outcome":     outcome,
			"updated_at":  now,
		})
	if res.Error != nil {
		return nil, fmt.Errorf("结算预测失败: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		// 并发迁移抢先生效，重读后按当前状态处理
		current, err := s.GetPrediction(ctx, predictionID)
		if err != nil {
			return nil, err
		}
		if current.Status == meta.PredictionStatusResolved {
			s.triggerEvaluation(current.ID)
			return current, nil
		}
		return nil, models.NewStateError("Prediction", current.Status,
			meta.PredictionStatusResolved, "终态不允许任何迁移")
	}

	prediction.Status = meta.PredictionStatusResolved
	prediction.ResolvedAt = &now
	prediction.Outcome = outcome

	slog.Info("预测已结算", "prediction_id", predictionID, "target_id", prediction.TargetID)
	s.publish("prediction.resolved", prediction)
	s.triggerEvaluation(predictionID)

	return prediction, nil
}

// Cancel 取消活跃预测
func (s *LifecycleService) Cancel(ctx context.Context, predictionID, reason string) (*models.Prediction, error) {
	prediction, err := s.GetPrediction(ctx, predictionID)
	if err != nil {
		return nil, err
	}
	if err := prediction.CanTransition(meta.PredictionStatusCancelled); err != nil {
		return nil, err
	}

	now := time.Now()
	res := s.db.WithContext(ctx).Model(&models.Prediction{}).
		Where("id = ? AND status = ?", predictionID, meta.PredictionStatusActive).
		Updates(map[string]interface{}{
			"status":     meta.PredictionStatusCancelled,
			"outcome":    models.JSONB{"cancel_reason": reason},
			"updated_at": now,
		})
	if res.Error != nil {
		return nil, fmt.Errorf("取消预测失败: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		current, err := s.GetPrediction(ctx, predictionID)
		if err != nil {
			return nil, err
		}
		return nil, models.NewStateError("Prediction", current.Status,
			meta.PredictionStatusCancelled, "终态不允许任何迁移")
	}

	prediction.Status = meta.PredictionStatusCancelled
	slog.Info("预测已取消", "prediction_id", predictionID, "reason", reason)
	s.publish("prediction.cancelled", prediction)

	return prediction, nil
}

// SweepExpired 过期清扫：将超过 expires_at 的活跃预测批量标记为 expired。
// 预测允许在清扫到来之前短暂地停留在过期的 active 状态。
func (s *LifecycleService) SweepExpired(ctx context.Context) (int64, error) {
	now := time.Now()
	res := s.db.WithContext(ctx).Model(&models.Prediction{}).
		Where("status = ? AND expires_at < ?", meta.PredictionStatusActive, now).
		Updates(map[string]interface{}{
			"status":     meta.PredictionStatusExpired,
			"updated_at": now,
		})
	if res.Error != nil {
		return 0, fmt.Errorf("过期清扫失败: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		slog.Info("过期清扫完成", "expired", res.RowsAffected)
		s.publish("prediction.expired", map[string]interface{}{"count": res.RowsAffected})
	}
	return res.RowsAffected, nil
}

// triggerEvaluation 触发评估。评估失败上报为错误日志与事件，绝不静默吞掉。
func (s *LifecycleService) triggerEvaluation(predictionID string) {
	run := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()

		if _, err := s.evaluator.EnsureEvaluation(ctx, predictionID); err != nil {
			slog.Error("预测评估失败", "prediction_id", predictionID, "error", err)
			s.publish("evaluation.failed", map[string]interface{}{
				"prediction_id": predictionID,
				"error":         err.Error(),
			})
			return
		}
		s.publish("evaluation.created", map[string]interface{}{"prediction_id": predictionID})
	}

	if s.SyncEvaluation {
		run()
		return
	}
	// 评估异步执行，不阻塞新的信号摄取与其他标的的集成运行
	go run()
}

// publish 发布生命周期事件，publisher 未注入时静默跳过
func (s *LifecycleService) publish(eventType string, payload interface{}) {
	if s.publisher == nil {
		return
	}
	var data map[string]interface{}
	switch v := payload.(type) {
	case map[string]interface{}:
		data = v
	case *models.Prediction:
		data = map[string]interface{}{
			"prediction_id": v.ID,
			"target_id":     v.TargetID,
			"status":        v.Status,
			"direction":     v.Direction,
		}
	default:
		data = map[string]interface{}{"payload": payload}
	}
	s.publisher.PublishPredictionEvent(eventType, data)
}
