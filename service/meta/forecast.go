/*
 * @module service/meta/forecast
 * @description 预测领域元数据定义，包括标的领域、方向词汇表、分析档位、去重分类等常量
 * @architecture 元数据层
 * @documentReference ai_docs/forecast_engine_req.md
 * @stateFlow 静态元数据定义
 * @rules 提供标准化的预测领域元数据定义，确保系统一致性
 * @dependencies 无
 * @refs service/models/target.go, service/models/prediction.go
 */

package meta

// 标的领域类型
const (
	DomainStocks      = "stocks"       // 股票
	DomainCrypto      = "crypto"       // 加密资产
	DomainEventMarket = "event_market" // 事件市场合约
)

// AllDomains 所有支持的标的领域
var AllDomains = []string{DomainStocks, DomainCrypto, DomainEventMarket}

// IsValidDomain 验证标的领域是否合法
func IsValidDomain(domain string) bool {
	for _, d := range AllDomains {
		if d == domain {
			return true
		}
	}
	return false
}

// 价格类领域的方向词汇
const (
	DirectionUp   = "up"
	DirectionDown = "down"
	DirectionFlat = "flat"
)

// 事件类领域的方向词汇
const (
	DirectionYes       = "yes"
	DirectionNo        = "no"
	DirectionUncertain = "uncertain"
)

// 分析档位（成本/质量递减）
const (
	TierGold   = "gold"
	TierSilver = "silver"
	TierBronze = "bronze"
)

// AllTiers 所有分析档位，按成本从高到低排列
var AllTiers = []string{TierGold, TierSilver, TierBronze}

// IsValidTier 验证分析档位是否合法
func IsValidTier(tier string) bool {
	return tier == TierGold || tier == TierSilver || tier == TierBronze
}

// 作用域层级（特异性递增）
const (
	ScopeLevelRunner   = "runner"
	ScopeLevelDomain   = "domain"
	ScopeLevelUniverse = "universe"
	ScopeLevelTarget   = "target"
)

// AllScopeLevels 所有作用域层级，按特异性从低到高排列
var AllScopeLevels = []string{ScopeLevelRunner, ScopeLevelDomain, ScopeLevelUniverse, ScopeLevelTarget}

// IsValidScopeLevel 验证作用域层级是否合法
func IsValidScopeLevel(level string) bool {
	for _, l := range AllScopeLevels {
		if l == level {
			return true
		}
	}
	return false
}

// 内容去重分类（四层去重结果）
const (
	DedupNew                      = "new"
	DedupExactSameSource          = "duplicate_exact_same_source"
	DedupExactCrossSource         = "duplicate_exact_cross_source"
	DedupFuzzyTitle               = "duplicate_fuzzy_title"
	DedupPhraseOverlap            = "duplicate_phrase_overlap"
	DedupClassificationFieldWidth = 40 // 数据库列宽
)

// AllDedupClassifications 所有去重分类
var AllDedupClassifications = []string{
	DedupNew,
	DedupExactSameSource,
	DedupExactCrossSource,
	DedupFuzzyTitle,
	DedupPhraseOverlap,
}

// 分析师类型
const (
	AnalystKindPersonality     = "personality"      // 独立投票视角
	AnalystKindContextProvider = "context_provider" // 非投票知识层
)

// IsValidAnalystKind 验证分析师类型是否合法
func IsValidAnalystKind(kind string) bool {
	return kind == AnalystKindPersonality || kind == AnalystKindContextProvider
}

// Predictor 状态
const (
	PredictorStatusUnconsumed = "unconsumed"
	PredictorStatusConsumed   = "consumed"
)

// Prediction 状态
const (
	PredictionStatusActive    = "active"
	PredictionStatusResolved  = "resolved"
	PredictionStatusExpired   = "expired"
	PredictionStatusCancelled = "cancelled"
)

// AllPredictionStatuses 所有预测状态
var AllPredictionStatuses = []string{
	PredictionStatusActive,
	PredictionStatusResolved,
	PredictionStatusExpired,
	PredictionStatusCancelled,
}

// IsTerminalPredictionStatus 判断预测状态是否为终态
func IsTerminalPredictionStatus(status string) bool {
	return status == PredictionStatusResolved ||
		status == PredictionStatusExpired ||
		status == PredictionStatusCancelled
}

// Learning 状态
const (
	LearningStatusActive     = "active"
	LearningStatusSuperseded = "superseded"
	LearningStatusDisabled   = "disabled"
)

// Learning 类型
const (
	LearningKindRule             = "rule"
	LearningKindPattern          = "pattern"
	LearningKindWeightAdjustment = "weight_adjustment"
	LearningKindThreshold        = "threshold"
	LearningKindAvoidCondition   = "avoid_condition"
)

// AllLearningKinds 所有学习条目类型
var AllLearningKinds = []string{
	LearningKindRule,
	LearningKindPattern,
	LearningKindWeightAdjustment,
	LearningKindThreshold,
	LearningKindAvoidCondition,
}

// IsValidLearningKind 验证学习条目类型是否合法
func IsValidLearningKind(kind string) bool {
	for _, k := range AllLearningKinds {
		if k == kind {
			return true
		}
	}
	return false
}

// LearningQueue 审核状态
const (
	QueueStatusPending  = "pending"
	QueueStatusApproved = "approved"
	QueueStatusRejected = "rejected"
	QueueStatusModified = "modified"
)

// 审核决定
const (
	ReviewDecisionApprove = "approve"
	ReviewDecisionReject  = "reject"
	ReviewDecisionModify  = "modify"
)

// IsValidReviewDecision 验证审核决定是否合法
func IsValidReviewDecision(decision string) bool {
	return decision == ReviewDecisionApprove ||
		decision == ReviewDecisionReject ||
		decision == ReviewDecisionModify
}

// 解析分类（可解析的资源类型）
const (
	ResolveKindAnalysts  = "analysts"
	ResolveKindSources   = "sources"
	ResolveKindLearnings = "learnings"
)

// IsValidResolveKind 验证解析类型是否合法
func IsValidResolveKind(kind string) bool {
	return kind == ResolveKindAnalysts || kind == ResolveKindSources || kind == ResolveKindLearnings
}

// 错失机会状态
const (
	MissedOppStatusDetected = "detected"
	MissedOppStatusAnalyzed = "analyzed"
)

// ToolRequest 类型与状态
const (
	ToolRequestKindSource  = "source"
	ToolRequestKindAnalyst = "analyst"

	ToolRequestStatusOpen      = "open"
	ToolRequestStatusFulfilled = "fulfilled"
	ToolRequestStatusDeclined  = "declined"
)

// 测试镜像标的符号前缀
const TestMirrorSymbolPrefix = "T_"
