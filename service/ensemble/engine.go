/*
 * @module service/ensemble/engine
 * @description 集成引擎：为标的并发调度全部人格分析师跨档位评估，收集Predictor并交由合成步骤产出单个Prediction
 * @architecture 分层架构 - 核心服务层
 * @documentReference ai_docs/forecast_engine_req.md
 * @stateFlow 解析作用域 -> 按分析师×档位并发评估（带超时汇合） -> Predictor落库 -> 锁内合成 -> 晋升或记录尝试
 * @rules 单档位超时按"无评估"降级，不中断整次运行；上下文fork仅做材料组合，每分析师每窗口恰好产出一个Predictor；标的停用可取消在途运行
 * @dependencies gorm.io/gorm, foresight-service/client, foresight-service/service/scope
 * @refs service/ensemble/synthesis.go, service/lifecycle/lifecycle_service.go
 */

package ensemble

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"gorm.io/gorm"

	"foresight-service/client"
	"foresight-service/service/distributed_lock"
	"foresight-service/service/meta"
	"foresight-service/service/models"
	"foresight-service/service/scope"
)

// 引擎默认参数
const (
	DefaultTierTimeout    = 90 * time.Second
	DefaultSignalWindow   = 24 * time.Hour
	DefaultTimeframeHours = 24
	signalStrengthFloor   = 0.1
	synthesisLockTTL      = 2 * time.Minute
	maxSignalsPerRun      = 20
)

// ErrRunCancelled 集成运行被取消（标的停用）
var ErrRunCancelled = errors.New("集成运行已取消")

// ErrSynthesisBusy 同标的的合成正在进行
var ErrSynthesisBusy = errors.New("该标的的合成正在进行中")

// RateLimiter LLM调用限流接口
type RateLimiter interface {
	AllowLLMCall(ctx context.Context, provider string) (bool, error)
}

// Engine 集成引擎
type Engine struct {
	db          *gorm.DB
	resolver    *scope.Resolver
	llm         client.LLMCapability
	lock        distributed_lock.DistributedLock
	limiter     RateLimiter
	synthesizer *Synthesizer

	tiers       []string
	tierTimeout time.Duration

	// 在途运行登记，用于标的停用时的取消
	runningRuns map[string]context.CancelFunc
	runMutex    sync.Mutex
}

// NewEngine 创建集成引擎
func NewEngine(db *gorm.DB, resolver *scope.Resolver, llm client.LLMCapability,
	lock distributed_lock.DistributedLock, limiter RateLimiter, synthesizer *Synthesizer) *Engine {
	return &Engine{
		db:          db,
		resolver:    resolver,
		llm:         llm,
		lock:        lock,
		limiter:     limiter,
		synthesizer: synthesizer,
		tiers:       meta.AllTiers,
		tierTimeout: DefaultTierTimeout,
		runningRuns: make(map[string]context.CancelFunc),
	}
}

// SetTiers 配置本引擎启用的档位（用于降成本运行）
func (e *Engine) SetTiers(tiers []string) {
	if len(tiers) > 0 {
		e.tiers = tiers
	}
}

// SetTierTimeout 配置单档位调用超时
func (e *Engine) SetTierTimeout(d time.Duration) {
	if d > 0 {
		e.tierTimeout = d
	}
}

// CancelRun 取消标的的在途集成运行；已产出的Predictor保持未消费，留待下次运行或回收
func (e *Engine) CancelRun(targetID string) {
	e.runMutex.Lock()
	defer e.runMutex.Unlock()
	if cancel, ok := e.runningRuns[targetID]; ok {
		cancel()
		delete(e.runningRuns, targetID)
		slog.Info("集成运行已请求取消", "target_id", targetID)
	}
}

// Predict 为标的执行一次集成运行，未达晋升门槛时返回 (nil, nil)
func (e *Engine) Predict(ctx context.Context, targetID string) (*models.Prediction, error) {
	// LLM客户端缺失时引擎处于降级态，运行直接拒绝而不进入评估协程
	if e.llm == nil {
		return nil, models.NewStateError("Engine", "degraded", "", "LLM客户端未配置，集成运行不可用")
	}

	var target models.Target
	if err := e.db.WithContext(ctx).First(&target, "id = ?", targetID).Error; err != nil {
		return nil, fmt.Errorf("加载标的失败: %w", err)
	}
	if !target.IsActive() {
		return nil, models.NewStateError("Target", target.Status, "", "停用标的不允许发起集成运行")
	}

	vocab, err := models.VocabularyFor(target.Domain)
	if err != nil {
		return nil, err
	}

	// 登记可取消的运行上下文
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	e.runMutex.Lock()
	e.runningRuns[target.ID] = cancel
	e.runMutex.Unlock()
	defer func() {
		e.runMutex.Lock()
		delete(e.runningRuns, target.ID)
		e.runMutex.Unlock()
	}()

	// 作用域解析：人格分析师投票，上下文提供者注入材料
	analysts, err := e.resolver.ResolveAnalysts(runCtx, target.ID)
	if err != nil {
		return nil, err
	}
	var personalities []models.Analyst
	var contextMaterial strings.Builder
	for _, a := range analysts {
		if a.IsPersonality() {
			personalities = append(personalities, a)
		} else if a.Material != "" {
			contextMaterial.WriteString(a.Material)
			contextMaterial.WriteString("\n\n")
		}
	}
	if len(personalities) == 0 {
		runOutcomes.WithLabelValues("failed").Inc()
		return nil, models.NewValidationError("analysts", "标的无可用的人格分析师")
	}

	learnings, err := e.resolver.ResolveLearnings(runCtx, target.ID)
	if err != nil {
		return nil, err
	}

	// avoid_condition 学习条目直接否决本次运行
	for _, l := range learnings {
		if l.Kind == meta.LearningKindAvoidCondition {
			return nil, e.recordVeto(runCtx, &target, &l)
		}
	}
	weightDeltas, appliedLearnings := e.weightAdjustments(learnings)

	// 近期信号收集与过滤：测试镜像标的只消费测试信号
	signals, rejected, err := e.gatherSignals(runCtx, &target)
	if err != nil {
		return nil, err
	}

	// 按分析师并发评估；每分析师内部跨档位并发、带超时汇合
	type analystResult struct {
		predictor *models.Predictor
		tierStats map[string]models.JSONB
	}
	results := make([]analystResult, len(personalities))
	var wg sync.WaitGroup
	for i := range personalities {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			analyst := personalities[idx]
			predictor, stats := e.assessAnalyst(runCtx, &target, vocab, &analyst,
				contextMaterial.String(), signals, weightDeltas[analyst.ID])
			results[idx] = analystResult{predictor: predictor, tierStats: stats}
		}(i)
	}
	wg.Wait()

	if runCtx.Err() != nil {
		runOutcomes.WithLabelValues("cancelled").Inc()
		return nil, ErrRunCancelled
	}

	// Predictor落库（未消费），并汇总档位统计
	tierEnsemble := models.JSONB{}
	tierAgg := map[string]*tierStat{}
	produced := 0
	for _, r := range results {
		for tier, stat := range r.tierStats {
			agg := tierAgg[tier]
			if agg == nil {
				agg = &tierStat{}
				tierAgg[tier] = agg
			}
			agg.absorb(stat)
		}
		if r.predictor == nil {
			continue
		}
		if err := e.db.WithContext(runCtx).Create(r.predictor).Error; err != nil {
			return nil, fmt.Errorf("Predictor落库失败: %w", err)
		}
		produced++
	}
	for tier, agg := range tierAgg {
		tierEnsemble[tier] = agg.toJSONB()
	}
	slog.Info("集成评估完成", "target_id", target.ID, "predictors", produced)

	// 合成是标的级的唯一串行点：锁防并发，条件更新防双重消费。
	// 锁缺失时单实例模式照常工作，认领的条件更新仍保证不双重消费。
	if e.lock != nil {
		acquired, err := e.lock.TryLock(runCtx, "synthesis:"+target.ID, synthesisLockTTL)
		if err != nil {
			return nil, fmt.Errorf("获取合成锁失败: %w", err)
		}
		if !acquired {
			return nil, ErrSynthesisBusy
		}
		defer func() {
			if err := e.lock.Unlock(context.Background(), "synthesis:"+target.ID); err != nil {
				slog.Error("释放合成锁失败", "target_id", target.ID, "error", err)
			}
		}()
	}

	scenarioID := e.scenarioFromSignals(signals)
	prediction, err := e.synthesizer.Synthesize(runCtx, &SynthesisInput{
		Target:          &target,
		TimeframeHours:  DefaultTimeframeHours,
		RejectedSignals: rejected,
		AppliedLearning: appliedLearnings,
		TierEnsemble:    tierEnsemble,
		TestScenarioID:  scenarioID,
	})
	if err != nil {
		runOutcomes.WithLabelValues("failed").Inc()
		return nil, err
	}
	if prediction == nil {
		runOutcomes.WithLabelValues("below_threshold").Inc()
		return nil, nil
	}
	runOutcomes.WithLabelValues("promoted").Inc()
	return prediction, nil
}

// assessAnalyst 对单个人格分析师跨档位并发评估，合并为恰好一个未消费Predictor。
// 档位变体是材料组合细节而非独立投票：单档位超时或失败只降低本Predictor的信息量。
func (e *Engine) assessAnalyst(ctx context.Context, target *models.Target, vocab models.DomainVocabulary,
	analyst *models.Analyst, contextMaterial string, signals []models.Signal, weightDelta float64) (*models.Predictor, map[string]models.JSONB) {

	instructions, err := analyst.GetTierInstructions()
	if err != nil {
		slog.Error("分析师指令集残缺", "analyst_id", analyst.ID, "error", err)
		return nil, nil
	}

	signalSummaries := make([]string, 0, len(signals))
	for _, s := range signals {
		signalSummaries = append(signalSummaries, s.Summary)
	}

	type tierResult struct {
		tier       string
		assessment *client.Assessment
		timedOut   bool
		err        error
	}
	resultCh := make(chan tierResult, len(e.tiers))

	for _, tier := range e.tiers {
		go func(tier string) {
			res := tierResult{tier: tier}
			defer func() { resultCh <- res }()

			if e.limiter != nil {
				allowed, err := e.limiter.AllowLLMCall(ctx, tier)
				if err != nil || !allowed {
					res.err = fmt.Errorf("档位 %s 被限流", tier)
					return
				}
			}

			tierInstr, err := instructions.ForTier(tier)
			if err != nil {
				res.err = err
				return
			}

			tierCtx, cancel := context.WithTimeout(ctx, e.tierTimeout)
			defer cancel()

			start := time.Now()
			assessment, err := e.llm.Assess(tierCtx, &client.AssessRequest{
				TargetSymbol:    target.Symbol,
				TargetDomain:    target.Domain,
				Directions:      vocab.Directions(),
				Instructions:    analyst.Perspective + "\n\n" + tierInstr,
				ContextMaterial: contextMaterial,
				Tier:            tier,
				Signals:         signalSummaries,
			})
			tierLatency.WithLabelValues(tier).Observe(time.Since(start).Seconds())

			if err != nil {
				if errors.Is(err, context.DeadlineExceeded) || tierCtx.Err() == context.DeadlineExceeded {
					// 档位超时按"无评估"降级
					res.timedOut = true
					tierTimeouts.WithLabelValues(tier).Inc()
					return
				}
				res.err = err
				return
			}
			res.assessment = assessment
		}(tier)
	}

	// 汇合全部档位
	tierStats := make(map[string]models.JSONB, len(e.tiers))
	var valid []tierResult
	for range e.tiers {
		res := <-resultCh
		stat := models.JSONB{"calls": 1, "timeouts": 0}
		switch {
		case res.timedOut:
			stat["timeouts"] = 1
			slog.Warn("档位调用超时", "analyst_id", analyst.ID, "tier", res.tier)
		case res.err != nil:
			stat["errors"] = 1
			slog.Warn("档位调用失败", "analyst_id", analyst.ID, "tier", res.tier, "error", res.err)
		case !vocab.Contains(res.assessment.Direction):
			// 方向出界按校验拒绝，不做修正
			stat["invalid_direction"] = 1
			slog.Warn("档位评估方向出界",
				"analyst_id", analyst.ID, "tier", res.tier, "direction", res.assessment.Direction)
		default:
			stat["latency_ms"] = res.assessment.LatencyMS
			stat["model"] = res.assessment.Model
			valid = append(valid, res)
		}
		tierStats[res.tier] = stat
	}

	if len(valid) == 0 {
		return nil, tierStats
	}

	// 档位合并：按档位权重×置信度投票出方向，强度/置信度取加权均值
	tierWeight := map[string]float64{meta.TierGold: 3, meta.TierSilver: 2, meta.TierBronze: 1}
	votes := make(map[string]float64)
	var weightSum, strengthSum, confidenceSum float64
	var reasoning, provider, model string
	bestTierWeight := 0.0
	tierDetail := models.JSONB{}

	for _, v := range valid {
		w := tierWeight[v.tier]
		votes[v.assessment.Direction] += w * v.assessment.Confidence
		weightSum += w
		strengthSum += w * v.assessment.Strength
		confidenceSum += w * v.assessment.Confidence
		if w > bestTierWeight {
			bestTierWeight = w
			reasoning = v.assessment.Reasoning
			provider = v.assessment.Provider
			model = v.assessment.Model
		}
		tierDetail[v.tier] = models.JSONB{
			"model":      v.assessment.Model,
			"provider":   v.assessment.Provider,
			"latency_ms": v.assessment.LatencyMS,
			"direction":  v.assessment.Direction,
		}
	}

	direction := ""
	best := 0.0
	for dir, v := range votes {
		if v > best {
			best = v
			direction = dir
		}
	}

	weight := analyst.Weight + weightDelta
	if weight <= 0 {
		weight = 0.1 // 权重经调整后不允许归零，保底参与
	}
	tierDetail["provider"] = provider
	tierDetail["model"] = model

	var scenarioID *string
	if len(signals) > 0 {
		scenarioID = signals[0].TestScenarioID
	}

	return &models.Predictor{
		OrgID:          target.OrgID,
		TargetID:       target.ID,
		AnalystID:      analyst.ID,
		Direction:      direction,
		Strength:       strengthSum / weightSum,
		Confidence:     confidenceSum / weightSum,
		Reasoning:      reasoning,
		Weight:         weight,
		TierDetail:     tierDetail,
		Status:         meta.PredictorStatusUnconsumed,
		IsTestData:     target.IsTest,
		TestScenarioID: scenarioID,
	}, tierStats
}

// gatherSignals 收集评估窗口内的标的信号并过滤，返回通过集与带原因的拒绝集
func (e *Engine) gatherSignals(ctx context.Context, target *models.Target) ([]models.Signal, models.JSONBArray, error) {
	cutoff := time.Now().Add(-DefaultSignalWindow)
	var all []models.Signal
	if err := e.db.WithContext(ctx).
		Where("target_id = ? AND created_at >= ?", target.ID, cutoff).
		Order("created_at DESC").
		Find(&all).Error; err != nil {
		return nil, nil, fmt.Errorf("加载信号失败: %w", err)
	}

	var passed []models.Signal
	var rejected models.JSONBArray
	for _, s := range all {
		switch {
		case s.IsTestData != target.IsTest:
			// 结构性隔离：生产运行绝不消费测试信号，反之亦然
			rejected = append(rejected, models.JSONB{
				"signal_id": s.ID, "reason": "test_isolation_mismatch",
			})
		case s.Strength < signalStrengthFloor:
			rejected = append(rejected, models.JSONB{
				"signal_id": s.ID, "reason": "below_strength_floor", "strength": s.Strength,
			})
		case len(passed) >= maxSignalsPerRun:
			rejected = append(rejected, models.JSONB{
				"signal_id": s.ID, "reason": "window_capacity_exceeded",
			})
		default:
			passed = append(passed, s)
		}
	}
	return passed, rejected, nil
}

// weightAdjustments 从学习条目提取分析师权重调整，并返回实际应用的Learning ID
func (e *Engine) weightAdjustments(learnings []models.Learning) (map[string]float64, []string) {
	deltas := make(map[string]float64)
	var applied []string
	for _, l := range learnings {
		if l.Kind != meta.LearningKindWeightAdjustment || l.Adjustment == nil {
			continue
		}
		analystID, _ := l.Adjustment["analyst_id"].(string)
		delta, ok := l.Adjustment["delta"].(float64)
		if analystID == "" || !ok {
			continue
		}
		// 越特异的作用域越靠后解析，天然覆盖前序调整
		deltas[analystID] = delta
		applied = append(applied, l.ID)
	}
	return deltas, applied
}

// recordVeto 落库否决尝试记录
func (e *Engine) recordVeto(ctx context.Context, target *models.Target, learning *models.Learning) error {
	attempt := &models.EnsembleAttempt{
		OrgID:    target.OrgID,
		TargetID: target.ID,
		ThresholdEvaluation: models.JSONB{
			"met":               false,
			"failed_constraint": "avoid_condition",
			"learning_id":       learning.ID,
		},
		IsTestData: target.IsTest,
	}
	if err := e.db.WithContext(ctx).Create(attempt).Error; err != nil {
		return fmt.Errorf("记录否决尝试失败: %w", err)
	}
	runOutcomes.WithLabelValues("vetoed").Inc()
	slog.Info("集成运行被学习条目否决", "target_id", target.ID, "learning_id", learning.ID)
	return nil
}

// scenarioFromSignals 从通过的信号中提取测试场景标识
func (e *Engine) scenarioFromSignals(signals []models.Signal) *string {
	for _, s := range signals {
		if s.TestScenarioID != nil {
			return s.TestScenarioID
		}
	}
	return nil
}

// tierStat 档位统计聚合
type tierStat struct {
	calls    int
	timeouts int
	errors   int
	totalMS  int64
	okCalls  int
}

func (t *tierStat) absorb(stat models.JSONB) {
	t.calls++
	if v, ok := stat["timeouts"].(int); ok {
		t.timeouts += v
	}
	if v, ok := stat["errors"].(int); ok {
		t.errors += v
	}
	if v, ok := stat["latency_ms"].(int64); ok {
		t.totalMS += v
		t.okCalls++
	}
}

func (t *tierStat) toJSONB() models.JSONB {
	out := models.JSONB{
		"calls":    t.calls,
		"timeouts": t.timeouts,
		"errors":   t.errors,
	}
	if t.okCalls > 0 {
		out["avg_latency_ms"] = t.totalMS / int64(t.okCalls)
	}
	return out
}
