/*
 * @module testutil/test_helper
 * @description 测试工具和辅助函数
 * @architecture 测试基础设施 - 提供测试通用工具和数据工厂
 * @documentReference dev_docs/test_plan.md
 * @stateFlow 测试环境初始化 -> 测试数据创建 -> 测试执行 -> 清理资源
 * @rules 提供可重用的测试工具，确保测试环境的一致性
 * @dependencies gorm, sqlite, testify, time
 * @refs service/models
 */

package testutil

import (
	"fmt"
	"time"

	"foresight-service/service/meta"
	"foresight-service/service/models"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// TestDB 测试数据库配置
type TestDB struct {
	DB *gorm.DB
}

// NewTestDB 创建测试数据库
func NewTestDB() *TestDB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		panic(fmt.Sprintf("failed to connect test database: %v", err))
	}

	// 自动迁移所有模型
	err = db.AutoMigrate(
		&models.Universe{},
		&models.Target{},
		&models.TestTargetMirror{},
		&models.Source{},
		&models.CrawlRun{},
		&models.Article{},
		&models.ArticleSourceRef{},
		&models.Signal{},
		&models.Analyst{},
		&models.Predictor{},
		&models.Prediction{},
		&models.Snapshot{},
		&models.EnsembleAttempt{},
		&models.Evaluation{},
		&models.MissedOpportunity{},
		&models.ToolRequest{},
		&models.Learning{},
		&models.LearningQueueEntry{},
		&models.AuditLogEntry{},
		&models.SSEEvent{},
		&models.SSEConnection{},
	)
	if err != nil {
		panic(fmt.Sprintf("failed to migrate test database: %v", err))
	}

	return &TestDB{DB: db}
}

// CleanDB 清理数据库
func (tdb *TestDB) CleanDB() {
	tables := []string{
		"audit_log_entries",
		"learning_queue_entries",
		"learnings",
		"tool_requests",
		"missed_opportunities",
		"evaluations",
		"ensemble_attempts",
		"snapshots",
		"predictions",
		"predictors",
		"analysts",
		"signals",
		"article_source_refs",
		"articles",
		"crawl_runs",
		"sources",
		"test_target_mirrors",
		"targets",
		"universes",
		"sse_events",
		"sse_connections",
	}

	for _, table := range tables {
		tdb.DB.Exec(fmt.Sprintf("DELETE FROM %s", table))
	}
}

// Close 关闭数据库连接
func (tdb *TestDB) Close() {
	if db, err := tdb.DB.DB(); err == nil {
		db.Close()
	}
}

// TestOrgID 测试用的组织ID
const TestOrgID = "00000000-0000-0000-0000-000000000000"

// TestDataFactory 测试数据工厂
type TestDataFactory struct {
	DB *gorm.DB
}

// NewTestDataFactory 创建测试数据工厂
func NewTestDataFactory(db *gorm.DB) *TestDataFactory {
	return &TestDataFactory{DB: db}
}

// UniverseOption 标的集选项函数类型
type UniverseOption func(*models.Universe)

// CreateUniverse 创建测试标的集
func (f *TestDataFactory) CreateUniverse(opts ...UniverseOption) *models.Universe {
	universe := &models.Universe{
		OrgID:   TestOrgID,
		AgentID: "agent-" + generateSuffix(),
		Name:    "测试标的集-" + generateSuffix(),
		Domain:  "stocks",
	}

	for _, opt := range opts {
		opt(universe)
	}

	if err := f.DB.Create(universe).Error; err != nil {
		panic(fmt.Sprintf("failed to create test universe: %v", err))
	}

	return universe
}

// WithDomain 指定标的集领域
func WithDomain(domain string) UniverseOption {
	return func(u *models.Universe) {
		u.Domain = domain
	}
}

// TargetOption 标的选项函数类型
type TargetOption func(*models.Target)

// CreateTarget 创建测试标的
func (f *TestDataFactory) CreateTarget(universe *models.Universe, opts ...TargetOption) *models.Target {
	target := &models.Target{
		UniverseID: universe.ID,
		OrgID:      universe.OrgID,
		Symbol:     "SYM" + generateSuffix(),
		Name:       "测试标的",
		Domain:     universe.Domain,
		Status:     "active",
	}

	for _, opt := range opts {
		opt(target)
	}

	if err := f.DB.Create(target).Error; err != nil {
		panic(fmt.Sprintf("failed to create test target: %v", err))
	}

	return target
}

// WithSymbol 指定标的代码
func WithSymbol(symbol string) TargetOption {
	return func(t *models.Target) {
		t.Symbol = symbol
	}
}

// AsTestMirror 标记为测试镜像标的
func AsTestMirror() TargetOption {
	return func(t *models.Target) {
		t.IsTest = true
	}
}

// AnalystOption 分析师选项函数类型
type AnalystOption func(*models.Analyst)

// CreateAnalyst 创建测试人格型分析师，默认运行器级作用域、三档同一指令
func (f *TestDataFactory) CreateAnalyst(opts ...AnalystOption) *models.Analyst {
	analyst := &models.Analyst{
		OrgID:       TestOrgID,
		Kind:        "personality",
		Name:        "测试分析师-" + generateSuffix(),
		Perspective: "测试视角",
		Weight:      1.0,
		Scope:       models.RunnerScope(),
		Status:      "active",
	}
	analyst.SetTierInstructions(models.TierInstructions{
		Gold:   "深入分析",
		Silver: "标准分析",
		Bronze: "快速分析",
	})

	for _, opt := range opts {
		opt(analyst)
	}

	if err := f.DB.Create(analyst).Error; err != nil {
		panic(fmt.Sprintf("failed to create test analyst: %v", err))
	}

	return analyst
}

// WithWeight 指定分析师权重
func WithWeight(weight float64) AnalystOption {
	return func(a *models.Analyst) {
		a.Weight = weight
	}
}

// WithAnalystScope 指定分析师作用域
func WithAnalystScope(scope models.Scope) AnalystOption {
	return func(a *models.Analyst) {
		a.Scope = scope
	}
}

// AsContextProvider 标记为上下文提供者
func AsContextProvider(material string) AnalystOption {
	return func(a *models.Analyst) {
		a.Kind = "context_provider"
		a.Instructions = nil
		a.Material = material
	}
}

// SourceOption 来源选项函数类型
type SourceOption func(*models.Source)

// CreateSource 创建测试内容来源
func (f *TestDataFactory) CreateSource(opts ...SourceOption) *models.Source {
	source := &models.Source{
		OrgID:  TestOrgID,
		Name:   "测试来源-" + generateSuffix(),
		Type:   "http",
		URL:    "https://feed.example.com/items",
		Scope:  models.RunnerScope(),
		Status: "active",
	}

	for _, opt := range opts {
		opt(source)
	}

	if err := f.DB.Create(source).Error; err != nil {
		panic(fmt.Sprintf("failed to create test source: %v", err))
	}

	return source
}

// WithSourceScope 指定来源作用域
func WithSourceScope(scope models.Scope) SourceOption {
	return func(s *models.Source) {
		s.Scope = scope
	}
}

// PredictionOption 预测选项函数类型
type PredictionOption func(*models.Prediction)

// CreatePrediction 创建测试预测及其快照
func (f *TestDataFactory) CreatePrediction(target *models.Target, opts ...PredictionOption) *models.Prediction {
	now := time.Now()
	magnitude := 5.0
	prediction := &models.Prediction{
		OrgID:          target.OrgID,
		TargetID:       target.ID,
		Direction:      "up",
		Confidence:     0.8,
		Magnitude:      &magnitude,
		TimeframeHours: 24,
		Status:         meta.PredictionStatusActive,
		ExpiresAt:      now.Add(24 * time.Hour),
		IsTestData:     target.IsTest,
	}

	for _, opt := range opts {
		opt(prediction)
	}

	if err := f.DB.Create(prediction).Error; err != nil {
		panic(fmt.Sprintf("failed to create test prediction: %v", err))
	}

	snapshot := &models.Snapshot{
		PredictionID:   prediction.ID,
		Timeline:       models.JSONBArray{models.JSONB{"event": "synthesized"}},
		IsTestData:     prediction.IsTestData,
		TestScenarioID: prediction.TestScenarioID,
	}
	if err := f.DB.Create(snapshot).Error; err != nil {
		panic(fmt.Sprintf("failed to create test snapshot: %v", err))
	}

	return prediction
}

// WithStatus 指定预测状态
func WithStatus(status string) PredictionOption {
	return func(p *models.Prediction) {
		p.Status = status
	}
}

// WithScenario 指定测试场景ID
func WithScenario(scenarioID string) PredictionOption {
	return func(p *models.Prediction) {
		p.IsTestData = true
		p.TestScenarioID = &scenarioID
	}
}

// ExpiredAt 指定到期时间
func ExpiredAt(t time.Time) PredictionOption {
	return func(p *models.Prediction) {
		p.ExpiresAt = t
	}
}

var suffixCounter int64

// 辅助函数
func generateSuffix() string {
	suffixCounter++
	return fmt.Sprintf("%d%d", time.Now().UnixNano()%100000, suffixCounter)
}
