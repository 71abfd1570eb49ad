/*
 * @module service/content/content_service
 * @description 内容存储服务：对外的 submit 契约入口，去重判定后为新内容提取并落库下游信号
 * @architecture 分层架构 - 业务服务层
 * @documentReference ai_docs/forecast_engine_req.md
 * @stateFlow 提交 -> 四层去重 -> 新内容提取信号 -> 下游集成消费
 * @rules 只有分类为 new 的内容产出信号；测试镜像标的的信号强制携带 is_test_data
 * @dependencies gorm.io/gorm, foresight-service/service/models
 * @refs service/content/dedup_engine.go, service/ensemble/engine.go
 */

package content

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"gorm.io/gorm"

	"foresight-service/service/meta"
	"foresight-service/service/models"
)

// ContentService 内容存储与去重服务
type ContentService struct {
	db     *gorm.DB
	engine *DedupEngine
}

// NewContentService 创建内容存储服务
func NewContentService(db *gorm.DB, engine *DedupEngine) *ContentService {
	return &ContentService{db: db, engine: engine}
}

// Engine 返回底层去重引擎
func (s *ContentService) Engine() *DedupEngine {
	return s.engine
}

// Submit 提交原始条目：去重判定，新内容提取信号，返回Article ID与分类
func (s *ContentService) Submit(ctx context.Context, item *models.RawItem) (*models.DedupResult, error) {
	result, err := s.engine.Submit(ctx, item)
	if err != nil {
		return nil, err
	}

	if result.Classification == meta.DedupNew {
		emitted, err := s.emitSignals(ctx, item, result.ArticleID)
		if err != nil {
			// 信号提取失败不回滚已入库内容，记录后继续
			slog.Error("信号提取失败", "article_id", result.ArticleID, "error", err)
		} else if emitted > 0 {
			slog.Info("信号提取完成", "article_id", result.ArticleID, "signals", emitted)
		}
	}

	return result, nil
}

// emitSignals 扫描组织内激活标的，为被提及的标的落库信号
func (s *ContentService) emitSignals(ctx context.Context, item *models.RawItem, articleID string) (int, error) {
	var targets []models.Target
	if err := s.db.WithContext(ctx).
		Where("org_id = ? AND status = ?", item.OrgID, "active").
		Find(&targets).Error; err != nil {
		return 0, fmt.Errorf("加载标的失败: %w", err)
	}

	haystack := strings.ToLower(item.Title + " " + item.Content)
	emitted := 0

	for _, target := range targets {
		if !s.mentions(haystack, &target) {
			continue
		}

		signal := &models.Signal{
			OrgID:      item.OrgID,
			ArticleID:  articleID,
			TargetID:   target.ID,
			Kind:       "mention",
			Summary:    s.summarize(item.Title),
			Strength:   s.mentionStrength(haystack, &target),
			IsTestData: target.IsTest,
		}
		if target.IsTest {
			signal.TestScenarioID = item.TestScenarioID
		}

		if err := s.db.WithContext(ctx).Create(signal).Error; err != nil {
			return emitted, fmt.Errorf("信号落库失败: %w", err)
		}
		signalCounter.Inc()
		emitted++
	}

	return emitted, nil
}

// mentions 判断内容是否提及标的（按符号或名称）
func (s *ContentService) mentions(haystack string, target *models.Target) bool {
	symbol := strings.ToLower(target.Symbol)
	if symbol != "" && containsToken(haystack, symbol) {
		return true
	}
	name := strings.ToLower(target.Name)
	return name != "" && strings.Contains(haystack, name)
}

// mentionStrength 按提及次数折算信号强度，封顶1.0
func (s *ContentService) mentionStrength(haystack string, target *models.Target) float64 {
	count := strings.Count(haystack, strings.ToLower(target.Symbol))
	if name := strings.ToLower(target.Name); name != "" {
		count += strings.Count(haystack, name)
	}
	strength := 0.2 + 0.2*float64(count)
	if strength > 1.0 {
		strength = 1.0
	}
	return strength
}

// summarize 截断标题作为信号摘要
func (s *ContentService) summarize(title string) string {
	const maxLen = 500
	if len(title) > maxLen {
		return title[:maxLen]
	}
	return title
}

// containsToken 判断词元是否以独立词形式出现
func containsToken(haystack, token string) bool {
	idx := 0
	for {
		pos := strings.Index(haystack[idx:], token)
		if pos < 0 {
			return false
		}
		start := idx + pos
		end := start + len(token)
		beforeOK := start == 0 || !isWordChar(haystack[start-1])
		afterOK := end == len(haystack) || !isWordChar(haystack[end])
		if beforeOK && afterOK {
			return true
		}
		idx = end
	}
}

func isWordChar(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= '0' && c <= '9' || c >= 'A' && c <= 'Z'
}
