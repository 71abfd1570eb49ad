/*
 * @module service/database/migrate
 * @description 数据库迁移模块，负责创建和更新数据库表结构，并播种缺省分析师组合
 * @architecture 数据访问层 - 迁移管理
 * @documentReference ai_docs/forecast_engine_req.md
 * @stateFlow 应用启动时执行数据库迁移 -> 播种缺省数据（幂等）
 * @rules 确保数据库结构与模型定义保持一致；播种按名称幂等，不覆盖既有配置
 * @dependencies foresight-service/service/models, gorm.io/gorm
 * @refs service/init.go
 */

package database

import (
	"log/slog"

	"gorm.io/gorm"

	"foresight-service/service/meta"
	"foresight-service/service/models"
)

// AutoMigrate 自动迁移数据库表结构
func AutoMigrate(db *gorm.DB) error {
	slog.Info("开始数据库迁移")

	// 标的与内容源
	err := db.AutoMigrate(
		&models.Universe{},
		&models.Target{},
		&models.TestTargetMirror{},
		&models.Source{},
		&models.CrawlRun{},
	)
	if err != nil {
		return err
	}

	// 内容与信号
	err = db.AutoMigrate(
		&models.Article{},
		&models.ArticleSourceRef{},
		&models.Signal{},
	)
	if err != nil {
		return err
	}

	// 集成与预测
	err = db.AutoMigrate(
		&models.Analyst{},
		&models.Predictor{},
		&models.Prediction{},
		&models.Snapshot{},
		&models.EnsembleAttempt{},
	)
	if err != nil {
		return err
	}

	// 评估与学习闭环
	err = db.AutoMigrate(
		&models.Evaluation{},
		&models.MissedOpportunity{},
		&models.ToolRequest{},
		&models.Learning{},
		&models.LearningQueueEntry{},
		&models.AuditLogEntry{},
	)
	if err != nil {
		return err
	}

	// 事件管理
	err = db.AutoMigrate(
		&models.SSEEvent{},
		&models.SSEConnection{},
	)
	if err != nil {
		return err
	}

	slog.Info("数据库迁移完成")
	return nil
}

// defaultOrgID 播种数据归属的缺省组织
const defaultOrgID = "00000000-0000-0000-0000-000000000000"

// InitializeData 初始化缺省分析师组合（幂等，按名称判重）
func InitializeData(db *gorm.DB) error {
	slog.Info("开始初始化缺省数据")

	personalities := []struct {
		name        string
		perspective string
		weight      float64
		gold        string
		silver      string
		bronze      string
	}{
		{
			name:        "fundamental",
			perspective: "基本面分析师：关注财报、营收指引、行业供需与宏观数据",
			weight:      1.2,
			gold:        "逐条核对信号中的财务事实与历史基数，给出带有量化依据的方向判断与推理链",
			silver:      "评估信号对基本面的边际影响，给出方向与强度",
			bronze:      "快速判断信号对基本面是利好还是利空",
		},
		{
			name:        "sentiment",
			perspective: "情绪面分析师：关注舆论热度、措辞倾向与市场情绪的拐点",
			weight:      1.0,
			gold:        "分析信号的传播面、措辞强度与历史类似情绪事件的后续走势，输出完整推理",
			silver:      "评估信号的情绪倾向与可能的短期反应",
			bronze:      "快速判断信号的情绪极性",
		},
		{
			name:        "contrarian",
			perspective: "逆向分析师：质疑共识，寻找被过度定价的预期",
			weight:      0.8,
			gold:        "假设市场已对该信号定价，论证共识可能错在哪里，输出逆向判断与推理",
			silver:      "评估该信号是否已被充分预期",
			bronze:      "快速判断该信号是否已被定价",
		},
	}

	for _, p := range personalities {
		var count int64
		if err := db.Model(&models.Analyst{}).
			Where("org_id = ? AND name = ?", defaultOrgID, p.name).
			Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			continue
		}

		analyst := &models.Analyst{
			OrgID:       defaultOrgID,
			Kind:        meta.AnalystKindPersonality,
			Name:        p.name,
			Perspective: p.perspective,
			Weight:      p.weight,
			Scope:       models.RunnerScope(),
			Status:      "active",
		}
		analyst.SetTierInstructions(models.TierInstructions{
			Gold:   p.gold,
			Silver: p.silver,
			Bronze: p.bronze,
		})
		if err := db.Create(analyst).Error; err != nil {
			return err
		}
		slog.Info("缺省分析师已播种", "name", p.name)
	}

	// 缺省上下文提供者：行业术语与常见事件模式
	var count int64
	if err := db.Model(&models.Analyst{}).
		Where("org_id = ? AND name = ?", defaultOrgID, "market-context").
		Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		provider := &models.Analyst{
			OrgID:    defaultOrgID,
			Kind:     meta.AnalystKindContextProvider,
			Name:     "market-context",
			Scope:    models.RunnerScope(),
			Material: "财报发布通常伴随指引调整；监管审批事件呈二元分布；幅度超过5%的走势多由突发信息驱动。",
			Status:   "active",
		}
		if err := db.Create(provider).Error; err != nil {
			return err
		}
		slog.Info("缺省上下文提供者已播种", "name", "market-context")
	}

	slog.Info("缺省数据初始化完成")
	return nil
}
