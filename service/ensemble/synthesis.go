/*
 * @module service/ensemble/synthesis
 * @description 合成步骤：原子认领一致的未消费Predictor集合（每分析师恰好一个），加权合成单个Prediction并事务性落库快照
 * @architecture 分层架构 - 业务服务层
 * @documentReference ai_docs/forecast_engine_req.md
 * @stateFlow 认领候选 -> 加权投票 -> 门槛评估 -> (晋升: 预测+快照事务落库 / 未达标: 记录尝试)
 * @rules 认领必须以条件更新原子完成，受影响行数与认领集不符即回滚；Prediction与Snapshot同事务写入
 * @dependencies gorm.io/gorm, foresight-service/service/models
 * @refs service/ensemble/engine.go
 */

package ensemble

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/gorm"

	"foresight-service/service/meta"
	"foresight-service/service/models"
)

// DefaultEvaluationWindow 合成认领的默认评估窗口
const DefaultEvaluationWindow = 30 * time.Minute

// Synthesizer 合成器：Predictor认领与Prediction产出
type Synthesizer struct {
	db     *gorm.DB
	policy ThresholdPolicy
	window time.Duration
}

// NewSynthesizer 创建合成器
func NewSynthesizer(db *gorm.DB, policy ThresholdPolicy, window time.Duration) *Synthesizer {
	if window <= 0 {
		window = DefaultEvaluationWindow
	}
	return &Synthesizer{db: db, policy: policy, window: window}
}

// SynthesisInput 合成输入：目标上下文与本次运行的观测材料
type SynthesisInput struct {
	Target          *models.Target
	TimeframeHours  int
	RejectedSignals models.JSONBArray // 被拒绝的信号及原因，完整记入快照
	AppliedLearning []string          // 本次运行实际应用的Learning ID
	TierEnsemble    models.JSONB      // 档位集成统计
	TestScenarioID  *string
}

// Synthesize 认领评估窗口内的未消费Predictor并合成Prediction。
// 未达晋升门槛时返回 (nil, nil) 并落库尝试记录。
func (s *Synthesizer) Synthesize(ctx context.Context, input *SynthesisInput) (*models.Prediction, error) {
	target := input.Target
	vocab, err := models.VocabularyFor(target.Domain)
	if err != nil {
		return nil, err
	}

	// 评估窗口内的未消费候选，按产生时间降序
	cutoff := time.Now().Add(-s.window)
	var candidates []models.Predictor
	if err := s.db.WithContext(ctx).
		Where("target_id = ? AND status = ? AND created_at >= ? AND is_test_data = ?",
			target.ID, meta.PredictorStatusUnconsumed, cutoff, target.IsTest).
		Order("created_at DESC").
		Find(&candidates).Error; err != nil {
		return nil, fmt.Errorf("加载候选Predictor失败: %w", err)
	}

	// 每分析师恰好认领一个：取最新（fork产生的档位变体已在上游合并为单Predictor）
	claimed := make([]models.Predictor, 0, len(candidates))
	seen := make(map[string]bool)
	for _, p := range candidates {
		if seen[p.AnalystID] {
			continue
		}
		seen[p.AnalystID] = true
		claimed = append(claimed, p)
	}

	direction, combinedStrength, confidence, consensus := s.vote(claimed)
	outcome := s.policy.Evaluate(len(claimed), combinedStrength, consensus)

	if !outcome.Met {
		attempt := &models.EnsembleAttempt{
			OrgID:               target.OrgID,
			TargetID:            target.ID,
			ThresholdEvaluation: outcome.ToJSONB(),
			RejectedSignals:     input.RejectedSignals,
			IsTestData:          target.IsTest,
			TestScenarioID:      input.TestScenarioID,
		}
		if err := s.db.WithContext(ctx).Create(attempt).Error; err != nil {
			return nil, fmt.Errorf("记录未达标尝试失败: %w", err)
		}
		slog.Info("集成未达晋升门槛",
			"target_id", target.ID,
			"failed_constraint", outcome.FailedConstraint,
			"predictors", len(claimed))
		return nil, nil
	}

	// 方向必须通过标的领域词汇表校验，不做静默修正
	if !vocab.Contains(direction) {
		return nil, models.NewValidationError("direction",
			"合成方向 '"+direction+"' 不在领域 '"+target.Domain+"' 的词汇表内")
	}

	magnitude := combinedStrength * 10 // 预期幅度（百分比），由合并强度折算
	now := time.Now()

	prediction := &models.Prediction{
		OrgID:           target.OrgID,
		TargetID:        target.ID,
		Direction:       direction,
		Confidence:      confidence,
		Magnitude:       &magnitude,
		TimeframeHours:  input.TimeframeHours,
		ExpiresAt:       now.Add(time.Duration(input.TimeframeHours) * time.Hour),
		AnalystEnsemble: s.analystEnsemble(claimed),
		TierEnsemble:    input.TierEnsemble,
		Status:          meta.PredictionStatusActive,
		IsTestData:      target.IsTest,
		TestScenarioID:  input.TestScenarioID,
	}

	// 预测、认领、快照在同一事务内完成：Prediction绝不在无Snapshot的状态下存在
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(prediction).Error; err != nil {
			return fmt.Errorf("预测落库失败: %w", err)
		}

		ids := make([]string, len(claimed))
		for i, p := range claimed {
			ids[i] = p.ID
		}

		// 条件更新实现原子认领：并发合成不可能双重消费
		res := tx.Model(&models.Predictor{}).
			Where("id IN ? AND status = ?", ids, meta.PredictorStatusUnconsumed).
			Updates(map[string]interface{}{
				"status":                    meta.PredictorStatusConsumed,
				"consumed_by_prediction_id": prediction.ID,
				"consumed_at":               now,
			})
		if res.Error != nil {
			return fmt.Errorf("认领Predictor失败: %w", res.Error)
		}
		if res.RowsAffected != int64(len(ids)) {
			return models.NewStateError("Predictor", "", "",
				fmt.Sprintf("原子认领失败: 期望 %d 个, 实际认领 %d 个", len(ids), res.RowsAffected))
		}

		snapshot := &models.Snapshot{
			PredictionID:         prediction.ID,
			ConsideredPredictors: s.consideredPredictors(claimed),
			RejectedSignals:      input.RejectedSignals,
			ThresholdEvaluation:  outcome.ToJSONB(),
			AppliedLearnings:     models.JSONBStringArray(input.AppliedLearning),
			Timeline: models.JSONBArray{
				{"at": now.Format(time.RFC3339Nano), "event": "predictors_claimed", "detail": fmt.Sprintf("%d predictors", len(ids))},
				{"at": now.Format(time.RFC3339Nano), "event": "threshold_met"},
				{"at": now.Format(time.RFC3339Nano), "event": "prediction_created", "detail": prediction.ID},
			},
			IsTestData:     target.IsTest,
			TestScenarioID: input.TestScenarioID,
		}
		if err := tx.Create(snapshot).Error; err != nil {
			return fmt.Errorf("快照落库失败: %w", err)
		}

		// 应用过的Learning累计 times_applied（times_helpful 由评估阶段回填）
		if len(input.AppliedLearning) > 0 {
			if err := tx.Model(&models.Learning{}).
				Where("id IN ?", input.AppliedLearning).
				UpdateColumn("times_applied", gorm.Expr("times_applied + 1")).Error; err != nil {
				return fmt.Errorf("累计Learning应用次数失败: %w", err)
			}
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	slog.Info("预测已晋升",
		"prediction_id", prediction.ID,
		"target_id", target.ID,
		"direction", direction,
		"confidence", confidence,
		"predictors", len(claimed))

	return prediction, nil
}

// vote 加权投票：方向按 weight*confidence 累计，胜出方向的占比即共识比例
func (s *Synthesizer) vote(claimed []models.Predictor) (direction string, combinedStrength, confidence, consensus float64) {
	if len(claimed) == 0 {
		return "", 0, 0, 0
	}

	votes := make(map[string]float64)
	totalVote := 0.0
	totalWeight := 0.0
	weightedStrength := 0.0
	weightedConfidence := 0.0

	for _, p := range claimed {
		vote := p.Weight * p.Confidence
		votes[p.Direction] += vote
		totalVote += vote
		totalWeight += p.Weight
		weightedStrength += p.Weight * p.Strength
		weightedConfidence += p.Weight * p.Confidence
	}

	best := 0.0
	for dir, v := range votes {
		if v > best {
			best = v
			direction = dir
		}
	}

	if totalVote > 0 {
		consensus = best / totalVote
	}
	if totalWeight > 0 {
		combinedStrength = weightedStrength / totalWeight
		confidence = (weightedConfidence / totalWeight) * consensus
	}
	return direction, combinedStrength, confidence, consensus
}

// analystEnsemble 构造预测携带的分析师集成快照
func (s *Synthesizer) analystEnsemble(claimed []models.Predictor) models.JSONBArray {
	out := make(models.JSONBArray, 0, len(claimed))
	for _, p := range claimed {
		out = append(out, models.JSONB{
			"analyst_id":   p.AnalystID,
			"predictor_id": p.ID,
			"direction":    p.Direction,
			"weight":       p.Weight,
			"strength":     p.Strength,
			"confidence":   p.Confidence,
		})
	}
	return out
}

// consideredPredictors 构造快照的Predictor溯源明细
func (s *Synthesizer) consideredPredictors(claimed []models.Predictor) models.JSONBArray {
	out := make(models.JSONBArray, 0, len(claimed))
	for _, p := range claimed {
		entry := models.JSONB{
			"predictor_id": p.ID,
			"analyst_id":   p.AnalystID,
			"direction":    p.Direction,
			"strength":     p.Strength,
			"confidence":   p.Confidence,
			"weight":       p.Weight,
			"reasoning":    p.Reasoning,
		}
		if p.TierDetail != nil {
			entry["tier_detail"] = map[string]interface{}(p.TierDetail)
		}
		out = append(out, entry)
	}
	return out
}
