/*
 * @module service/lifecycle/evaluation_service
 * @description 评估服务：对已结算预测打分（方向/幅度/时机/分析师/档位），回填Learning效果计数，
 *              并扫描无预测覆盖的显著走势生成错失机会记录
 * @architecture 分层架构 - 领域服务层
 * @documentReference ai_docs/forecast_engine_req.md
 * @stateFlow resolved预测 -> 行情回查 -> 评分 -> Evaluation落库（幂等）-> 学习建议；
 *            显著走势无覆盖 -> MissedOpportunity(detected) -> 异步分析 -> analyzed
 * @rules 每个Prediction恰好一个Evaluation；行情缺失是显式错误而非跳过；times_helpful 只增不减且不超过 times_applied
 * @dependencies gorm.io/gorm, foresight-service/client
 * @refs service/lifecycle/lifecycle_service.go, service/learning/learning_service.go
 */

package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"strconv"
	"time"

	"gorm.io/gorm"

	"foresight-service/client"
	"foresight-service/service/meta"
	"foresight-service/service/models"
	"foresight-service/service/scope"
)

// 评分参数
const (
	// FlatBandPct 涨跌幅绝对值低于该值视为 flat
	FlatBandPct = 1.0
	// DefaultMissedMovePct 错失机会扫描的显著走势门槛（百分比）
	DefaultMissedMovePct = 5.0
	// DefaultMissedWindowHours 错失机会扫描回看窗口
	DefaultMissedWindowHours = 24
)

// LearningSuggester 学习建议生成接口，由学习服务实现
type LearningSuggester interface {
	SuggestFromEvaluation(ctx context.Context, evaluation *models.Evaluation) error
	SuggestFromMissedOpportunity(ctx context.Context, opp *models.MissedOpportunity) error
}

// EvaluationService 结算评估服务
type EvaluationService struct {
	db        *gorm.DB
	resolver  *scope.Resolver
	suggester LearningSuggester
}

// NewEvaluationService 创建评估服务
func NewEvaluationService(db *gorm.DB, resolver *scope.Resolver) *EvaluationService {
	return &EvaluationService{db: db, resolver: resolver}
}

// SetSuggester 注入学习建议生成器（初始化期装配，避免循环依赖）
func (s *EvaluationService) SetSuggester(suggester LearningSuggester) {
	s.suggester = suggester
}

// EnsureEvaluation 为已结算预测创建评估，幂等：已存在时直接返回既有评估。
func (s *EvaluationService) EnsureEvaluation(ctx context.Context, predictionID string) (*models.Evaluation, error) {
	var existing models.Evaluation
	err := s.db.WithContext(ctx).First(&existing, "prediction_id = ?", predictionID).Error
	if err == nil {
		return &existing, nil
	}
	if err != gorm.ErrRecordNotFound {
		return nil, fmt.Errorf("查询既有评估失败: %w", err)
	}

	var prediction models.Prediction
	err = s.db.WithContext(ctx).
		Preload("Target").
		Preload("Snapshot").
		First(&prediction, "id = ?", predictionID).Error
	if err == gorm.ErrRecordNotFound {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("查询预测失败: %w", err)
	}
	if prediction.Status != meta.PredictionStatusResolved {
		return nil, models.NewStateError("Prediction", prediction.Status,
			meta.PredictionStatusResolved, "只有已结算的预测可以评估")
	}
	if prediction.Target == nil {
		return nil, models.NewValidationError("target_id", "预测缺少标的关联")
	}

	evaluation, err := s.score(ctx, &prediction)
	if err != nil {
		return nil, err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(evaluation).Error; err != nil {
			return err
		}
		// 方向评对时回填应用过的Learning的 times_helpful
		if evaluation.DirectionCorrect && prediction.Snapshot != nil && len(prediction.Snapshot.AppliedLearnings) > 0 {
			if err := tx.Model(&models.Learning{}).
				Where("id IN ? AND times_helpful < times_applied", []string(prediction.Snapshot.AppliedLearnings)).
				UpdateColumn("times_helpful", gorm.Expr("times_helpful + 1")).Error; err != nil {
				return fmt.Errorf("回填Learning效果计数失败: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		// 并发创建撞唯一索引：以既有评估为准
		var concurrent models.Evaluation
		if lookupErr := s.db.WithContext(ctx).
			First(&concurrent, "prediction_id = ?", predictionID).Error; lookupErr == nil {
			return &concurrent, nil
		}
		return nil, fmt.Errorf("评估落库失败: %w", err)
	}

	slog.Info("评估已创建",
		"evaluation_id", evaluation.ID,
		"prediction_id", predictionID,
		"direction_correct", evaluation.DirectionCorrect)

	if s.suggester != nil {
		if err := s.suggester.SuggestFromEvaluation(ctx, evaluation); err != nil {
			slog.Error("生成学习建议失败", "evaluation_id", evaluation.ID, "error", err)
		}
	}
	return evaluation, nil
}

// score 对单个预测计算评分
func (s *EvaluationService) score(ctx context.Context, prediction *models.Prediction) (*models.Evaluation, error) {
	target := prediction.Target

	windowEnd := prediction.ExpiresAt
	if prediction.ResolvedAt != nil {
		windowEnd = *prediction.ResolvedAt
	}

	var (
		actualDirection string
		actualMovePct   float64
		timingAccuracy  float64
	)

	if target.Domain == meta.DomainEventMarket {
		// 事件域没有行情序列，实际结果由结算方提供
		dir, ok := prediction.Outcome["actual_direction"].(string)
		if !ok || dir == "" {
			return nil, models.NewValidationError("outcome",
				"事件域预测评估缺少 actual_direction 结算数据")
		}
		actualDirection = dir
		timingAccuracy = 1.0
	} else {
		move, err := client.QueryMove(ctx, target.Symbol, prediction.CreatedAt, windowEnd)
		if err != nil {
			if errors.Is(err, client.ErrNoMarketData) {
				return nil, fmt.Errorf("评估缺少行情数据 (symbol=%s): %w", target.Symbol, err)
			}
			return nil, fmt.Errorf("行情回查失败: %w", err)
		}
		actualMovePct = move.MovePct
		actualDirection = directionFromMove(move.MovePct)
		timingAccuracy = timingScore(move.PeakAt, prediction.ExpiresAt, prediction.TimeframeHours)
	}

	directionCorrect := prediction.Direction == actualDirection

	return &models.Evaluation{
		OrgID:              prediction.OrgID,
		PredictionID:       prediction.ID,
		TargetID:           prediction.TargetID,
		DirectionCorrect:   directionCorrect,
		MagnitudeAccuracy:  magnitudeScore(prediction.Magnitude, actualMovePct),
		TimingAccuracy:     timingAccuracy,
		AnalystAccuracy:    analystScores(prediction.AnalystEnsemble, actualDirection),
		TierAccuracy:       tierScores(prediction.Snapshot, actualDirection),
		SuggestedLearnings: suggestFromScores(prediction, directionCorrect, actualDirection, actualMovePct),
		IsTestData:         prediction.IsTestData,
		TestScenarioID:     prediction.TestScenarioID,
	}, nil
}

// directionFromMove 按涨跌幅推导实际方向，幅度落在平盘带内视为 flat
func directionFromMove(movePct float64) string {
	switch {
	case movePct > FlatBandPct:
		return meta.DirectionUp
	case movePct < -FlatBandPct:
		return meta.DirectionDown
	default:
		return meta.DirectionFlat
	}
}

// magnitudeScore 幅度评分：预测幅度与实际幅度的相对偏差，越接近越高
func magnitudeScore(predicted *float64, actualMovePct float64) float64 {
	if predicted == nil {
		return 0
	}
	actual := math.Abs(actualMovePct)
	expected := math.Abs(*predicted)
	denom := math.Max(math.Max(expected, actual), 1e-9)
	score := 1 - math.Abs(expected-actual)/denom
	if score < 0 {
		return 0
	}
	return score
}

// timingScore 时机评分：峰值落在时间框架内得满分，超出部分按时间框架比例衰减
func timingScore(peakAt, expiresAt time.Time, timeframeHours int) float64 {
	if peakAt.IsZero() || timeframeHours <= 0 {
		return 0
	}
	if !peakAt.After(expiresAt) {
		return 1.0
	}
	overshoot := peakAt.Sub(expiresAt).Hours() / float64(timeframeHours)
	score := 1 - overshoot
	if score < 0 {
		return 0
	}
	return score
}

// analystScores 逐分析师方向正确性
func analystScores(ensemble models.JSONBArray, actualDirection string) models.JSONB {
	out := models.JSONB{}
	for _, entry := range ensemble {
		analystID, _ := entry["analyst_id"].(string)
		if analystID == "" {
			continue
		}
		direction, _ := entry["direction"].(string)
		out[analystID] = map[string]interface{}{
			"direction":         direction,
			"direction_correct": direction == actualDirection,
			"weight":            entry["weight"],
		}
	}
	return out
}

// tierScores 逐档位方向正确性，由快照中Predictor的档位明细聚合
func tierScores(snapshot *models.Snapshot, actualDirection string) models.JSONB {
	out := models.JSONB{}
	if snapshot == nil {
		return out
	}
	type agg struct{ calls, correct int }
	tiers := map[string]*agg{}
	for _, entry := range snapshot.ConsideredPredictors {
		detail, ok := entry["tier_detail"].(map[string]interface{})
		if !ok {
			continue
		}
		for _, tier := range meta.AllTiers {
			sub, ok := detail[tier].(map[string]interface{})
			if !ok {
				continue
			}
			a := tiers[tier]
			if a == nil {
				a = &agg{}
				tiers[tier] = a
			}
			a.calls++
			if dir, _ := sub["direction"].(string); dir == actualDirection {
				a.correct++
			}
		}
	}
	for tier, a := range tiers {
		out[tier] = map[string]interface{}{"calls": a.calls, "correct": a.correct}
	}
	return out
}

// suggestFromScores 根据评分结果生成学习建议原料，供学习服务转化为队列条目
func suggestFromScores(prediction *models.Prediction, directionCorrect bool, actualDirection string, actualMovePct float64) models.JSONBArray {
	var suggestions models.JSONBArray
	if !directionCorrect {
		for _, entry := range prediction.AnalystEnsemble {
			dir, _ := entry["direction"].(string)
			if dir != actualDirection {
				continue
			}
			// 评错的整体预测里评对的分析师值得加权
			suggestions = append(suggestions, models.JSONB{
				"kind":       meta.LearningKindWeightAdjustment,
				"analyst_id": entry["analyst_id"],
				"delta":      0.1,
				"reason": fmt.Sprintf("整体方向评错（实际 %s），该分析师单独评对",
					actualDirection),
			})
		}
		suggestions = append(suggestions, models.JSONB{
			"kind": meta.LearningKindPattern,
			"reason": fmt.Sprintf("预测方向 %s 与实际 %s 不符（实际涨跌 %.2f%%），值得复盘驱动信号",
				prediction.Direction, actualDirection, actualMovePct),
		})
	} else if prediction.Confidence < 0.5 {
		suggestions = append(suggestions, models.JSONB{
			"kind": meta.LearningKindThreshold,
			"reason": fmt.Sprintf("低置信度（%.2f）预测评对，或可放宽晋升门槛",
				prediction.Confidence),
		})
	}
	return suggestions
}

// DetectMissedOpportunities 扫描活跃标的：窗口内出现显著走势且无任何活跃预测覆盖时记录错失机会。
// 返回新建的错失机会数量。
func (s *EvaluationService) DetectMissedOpportunities(ctx context.Context) (int, error) {
	movePct := envFloat("MISSED_OPP_MOVE_PCT", DefaultMissedMovePct)
	windowHours := envFloat("MISSED_OPP_WINDOW_HOURS", DefaultMissedWindowHours)

	var targets []models.Target
	if err := s.db.WithContext(ctx).
		Where("status = ? AND is_test = ?", "active", false).
		Find(&targets).Error; err != nil {
		return 0, fmt.Errorf("查询活跃标的失败: %w", err)
	}

	now := time.Now()
	windowStart := now.Add(-time.Duration(windowHours * float64(time.Hour)))
	created := 0

	for _, target := range targets {
		if target.Domain == meta.DomainEventMarket {
			continue // 事件域没有连续行情序列
		}

		// 窗口内存在任何活跃或已结算预测即视为有覆盖
		var covered int64
		if err := s.db.WithContext(ctx).Model(&models.Prediction{}).
			Where("target_id = ? AND created_at >= ? AND status IN ?",
				target.ID, windowStart,
				[]string{meta.PredictionStatusActive, meta.PredictionStatusResolved}).
			Count(&covered).Error; err != nil {
			return created, fmt.Errorf("覆盖检查失败: %w", err)
		}
		if covered > 0 {
			continue
		}

		move, err := client.QueryMove(ctx, target.Symbol, windowStart, now)
		if err != nil {
			if errors.Is(err, client.ErrNoMarketData) {
				continue
			}
			slog.Warn("错失机会扫描行情回查失败", "symbol", target.Symbol, "error", err)
			continue
		}
		if math.Abs(move.MovePct) < movePct {
			continue
		}

		// 同一窗口不重复记录
		var dup int64
		if err := s.db.WithContext(ctx).Model(&models.MissedOpportunity{}).
			Where("target_id = ? AND window_end > ?", target.ID, windowStart).
			Count(&dup).Error; err != nil {
			return created, fmt.Errorf("错失机会去重检查失败: %w", err)
		}
		if dup > 0 {
			continue
		}

		opp := &models.MissedOpportunity{
			OrgID:       target.OrgID,
			TargetID:    target.ID,
			MovePct:     move.MovePct,
			WindowStart: windowStart,
			WindowEnd:   now,
			Status:      meta.MissedOppStatusDetected,
		}
		if err := s.db.WithContext(ctx).Create(opp).Error; err != nil {
			return created, fmt.Errorf("错失机会落库失败: %w", err)
		}
		created++
		slog.Info("记录错失机会",
			"target_id", target.ID, "symbol", target.Symbol, "move_pct", move.MovePct)

		// 分析异步进行，不阻塞扫描
		go s.analyzeAsync(opp.ID)
	}
	return created, nil
}

// analyzeAsync 后台分析错失机会
func (s *EvaluationService) analyzeAsync(oppID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	if err := s.AnalyzeMissedOpportunity(ctx, oppID); err != nil {
		slog.Error("错失机会分析失败", "missed_opportunity_id", oppID, "error", err)
	}
}

// AnalyzeMissedOpportunity 分析一条错失机会：挖掘未被使用的信号、内容源缺口与驱动因素，
// 产出学习建议与工具请求，并将状态迁移为 analyzed（条件更新，幂等）。
func (s *EvaluationService) AnalyzeMissedOpportunity(ctx context.Context, oppID string) error {
	var opp models.MissedOpportunity
	err := s.db.WithContext(ctx).First(&opp, "id = ?", oppID).Error
	if err == gorm.ErrRecordNotFound {
		return models.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("查询错失机会失败: %w", err)
	}
	if opp.Status != meta.MissedOppStatusDetected {
		return nil // 已分析过
	}

	var target models.Target
	if err := s.db.WithContext(ctx).First(&target, "id = ?", opp.TargetID).Error; err != nil {
		return fmt.Errorf("查询标的失败: %w", err)
	}

	// 窗口内存在但未被任何集成运行使用的信号
	var signals []models.Signal
	if err := s.db.WithContext(ctx).
		Where("target_id = ? AND created_at BETWEEN ? AND ?", opp.TargetID, opp.WindowStart, opp.WindowEnd).
		Where("is_test_data = ?", false).
		Find(&signals).Error; err != nil {
		return fmt.Errorf("查询未使用信号失败: %w", err)
	}

	unused := make(models.JSONBArray, 0, len(signals))
	drivers := make(models.JSONBArray, 0, len(signals))
	for _, sig := range signals {
		unused = append(unused, models.JSONB{
			"signal_id": sig.ID,
			"kind":      sig.Kind,
			"strength":  sig.Strength,
			"summary":   sig.Summary,
		})
		if sig.Strength >= 0.5 {
			drivers = append(drivers, models.JSONB{
				"summary":  sig.Summary,
				"strength": sig.Strength,
			})
		}
	}

	// 内容源缺口：标的作用域内没有健康的内容源
	var sourceGaps models.JSONBArray
	sources, err := s.resolver.ResolveSources(ctx, target.ID)
	if err != nil {
		return fmt.Errorf("解析标的内容源失败: %w", err)
	}
	healthy := 0
	for _, src := range sources {
		if src.ConsecutiveFailures == 0 {
			healthy++
		} else {
			sourceGaps = append(sourceGaps, models.JSONB{
				"source_id":            src.ID,
				"name":                 src.Name,
				"consecutive_failures": src.ConsecutiveFailures,
			})
		}
	}

	var suggestions models.JSONBArray
	if len(signals) == 0 {
		suggestions = append(suggestions, models.JSONB{
			"kind": meta.LearningKindRule,
			"reason": fmt.Sprintf("标的 %s 走势 %.2f%% 而窗口内没有任何信号，内容覆盖存在盲区",
				target.Symbol, opp.MovePct),
		})
	} else {
		suggestions = append(suggestions, models.JSONB{
			"kind": meta.LearningKindPattern,
			"reason": fmt.Sprintf("窗口内存在 %d 个信号但未触发集成运行，值得检查信号强度阈值",
				len(signals)),
		})
	}

	now := time.Now()
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.MissedOpportunity{}).
			Where("id = ? AND status = ?", oppID, meta.MissedOppStatusDetected).
			Updates(map[string]interface{}{
				"status":              meta.MissedOppStatusAnalyzed,
				"drivers":             drivers,
				"unused_signals":      unused,
				"source_gaps":         sourceGaps,
				"suggested_learnings": suggestions,
				"analyzed_at":         now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil // 并发分析已完成
		}

		// 完全没有信号来源时登记新内容源需求
		if len(signals) == 0 && healthy == 0 {
			req := &models.ToolRequest{
				OrgID:               opp.OrgID,
				MissedOpportunityID: &opp.ID,
				Kind:                meta.ToolRequestKindSource,
				Description: fmt.Sprintf("标的 %s 的显著走势（%.2f%%）无任何健康内容源覆盖",
					target.Symbol, opp.MovePct),
				Status: meta.ToolRequestStatusOpen,
			}
			if err := tx.Create(req).Error; err != nil {
				return fmt.Errorf("工具请求落库失败: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("错失机会分析落库失败: %w", err)
	}

	opp.Status = meta.MissedOppStatusAnalyzed
	opp.Drivers = drivers
	opp.UnusedSignals = unused
	opp.SourceGaps = sourceGaps
	opp.SuggestedLearnings = suggestions
	opp.AnalyzedAt = &now

	slog.Info("错失机会分析完成",
		"missed_opportunity_id", oppID,
		"unused_signals", len(unused),
		"source_gaps", len(sourceGaps))

	if s.suggester != nil {
		if err := s.suggester.SuggestFromMissedOpportunity(ctx, &opp); err != nil {
			slog.Error("生成学习建议失败", "missed_opportunity_id", oppID, "error", err)
		}
	}
	return nil
}

// envFloat 读取浮点环境变量，解析失败时返回默认值
func envFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil && f > 0 {
			return f
		}
	}
	return defaultValue
}
