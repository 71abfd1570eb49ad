/*
 * @module service/content/dedup_engine
 * @description 四层内容去重引擎：精确同源 -> 精确跨源 -> 标题模糊 -> 短语重合，按序短路判定
 * @architecture 分层架构 - 业务服务层
 * @documentReference ai_docs/forecast_engine_req.md
 * @stateFlow 原始条目 -> 哈希查重 -> 近窗模糊匹配 -> 入库或引用
 * @rules 首层命中即短路；跨源重复仅存一份并记录引用；四类结果逐一计数
 * @dependencies gorm.io/gorm, foresight-service/service/models
 * @refs service/content/content_service.go, service/content/recent_window.go
 */

package content

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/gorm"

	"foresight-service/service/meta"
	"foresight-service/service/models"
)

// 模糊匹配阈值
const (
	TitleSimilarityThreshold = 0.85 // 标题Jaccard相似度阈值
	PhraseOverlapThreshold   = 0.70 // 关键短语重合比例阈值
)

// DedupEngine 四层去重引擎
type DedupEngine struct {
	db         *gorm.DB
	normalizer *Normalizer
	window     *RecentWindow
}

// NewDedupEngine 创建去重引擎
func NewDedupEngine(db *gorm.DB, window *RecentWindow) *DedupEngine {
	return &DedupEngine{
		db:         db,
		normalizer: NewNormalizer(),
		window:     window,
	}
}

// Submit 提交一条原始内容，按四层算法判定并入库，返回Article ID与去重分类
func (e *DedupEngine) Submit(ctx context.Context, item *models.RawItem) (*models.DedupResult, error) {
	if item.OrgID == "" {
		return nil, models.NewValidationError("org_id", "原始条目必须携带组织标识")
	}
	if item.SourceID == "" {
		return nil, models.NewValidationError("source_id", "原始条目必须携带来源标识")
	}

	// 字符集归一后计算内容哈希
	body := item.Content
	if item.Charset != "" {
		converted, err := e.normalizer.ToUTF8([]byte(body), item.Charset)
		if err != nil {
			return nil, fmt.Errorf("字符集转换失败: %w", err)
		}
		body = string(converted)
	}
	contentHash := e.normalizer.HashContent(body)

	// 第一、二层：精确哈希匹配（同源 / 跨源）
	var existing models.Article
	err := e.db.WithContext(ctx).
		Where("org_id = ? AND content_hash = ?", item.OrgID, contentHash).
		First(&existing).Error
	if err == nil {
		return e.classifyExact(ctx, item, &existing)
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("查询既有内容失败: %w", err)
	}

	// 第三层：近窗标题Jaccard相似度
	titleTokens := e.normalizer.TitleTokens(item.Title)
	keyPhrases := e.normalizer.ExtractKeyPhrases(item.Title, body)

	for _, entry := range e.window.Entries(item.OrgID) {
		similarity := e.normalizer.JaccardSimilarity(titleTokens, entry.TitleTokens)
		if similarity > TitleSimilarityThreshold {
			dedupCounter.WithLabelValues(meta.DedupFuzzyTitle).Inc()
			return &models.DedupResult{
				ArticleID:      entry.ArticleID,
				Classification: meta.DedupFuzzyTitle,
				MatchedID:      entry.ArticleID,
				Similarity:     similarity,
			}, nil
		}
	}

	// 第四层：近窗关键短语重合比例
	for _, entry := range e.window.Entries(item.OrgID) {
		overlap := e.normalizer.PhraseOverlapRatio(keyPhrases, entry.KeyPhrases)
		if overlap > PhraseOverlapThreshold {
			dedupCounter.WithLabelValues(meta.DedupPhraseOverlap).Inc()
			return &models.DedupResult{
				ArticleID:      entry.ArticleID,
				Classification: meta.DedupPhraseOverlap,
				MatchedID:      entry.ArticleID,
				Similarity:     overlap,
			}, nil
		}
	}

	// 四层均未命中：作为新内容入库
	article := &models.Article{
		OrgID:           item.OrgID,
		SourceID:        item.SourceID,
		ContentHash:     contentHash,
		Title:           item.Title,
		NormalizedTitle: e.normalizer.NormalizeTitle(item.Title),
		KeyPhrases:      keyPhrases,
		Content:         body,
		URL:             item.URL,
	}
	if !item.PublishedAt.IsZero() {
		published := item.PublishedAt
		article.PublishedAt = &published
	}

	if err := e.db.WithContext(ctx).Create(article).Error; err != nil {
		return nil, fmt.Errorf("内容入库失败: %w", err)
	}

	e.window.Add(item.OrgID, WindowEntry{
		ArticleID:   article.ID,
		TitleTokens: titleTokens,
		KeyPhrases:  keyPhrases,
		AddedAt:     time.Now(),
	})
	windowSizeGauge.WithLabelValues(item.OrgID).Set(float64(e.window.Size(item.OrgID)))
	dedupCounter.WithLabelValues(meta.DedupNew).Inc()

	slog.Debug("新内容入库", "article_id", article.ID, "source_id", item.SourceID)

	return &models.DedupResult{
		ArticleID:      article.ID,
		Classification: meta.DedupNew,
	}, nil
}

// classifyExact 哈希命中时区分同源与跨源重复，跨源重复登记引用
func (e *DedupEngine) classifyExact(ctx context.Context, item *models.RawItem, existing *models.Article) (*models.DedupResult, error) {
	if existing.SourceID == item.SourceID {
		dedupCounter.WithLabelValues(meta.DedupExactSameSource).Inc()
		return &models.DedupResult{
			ArticleID:      existing.ID,
			Classification: meta.DedupExactSameSource,
			MatchedID:      existing.ID,
		}, nil
	}

	// 同一源的重复引用不重复登记
	var refCount int64
	if err := e.db.WithContext(ctx).Model(&models.ArticleSourceRef{}).
		Where("article_id = ? AND source_id = ?", existing.ID, item.SourceID).
		Count(&refCount).Error; err != nil {
		return nil, fmt.Errorf("查询跨源引用失败: %w", err)
	}
	if refCount > 0 {
		dedupCounter.WithLabelValues(meta.DedupExactSameSource).Inc()
		return &models.DedupResult{
			ArticleID:      existing.ID,
			Classification: meta.DedupExactSameSource,
			MatchedID:      existing.ID,
		}, nil
	}

	ref := &models.ArticleSourceRef{
		ArticleID: existing.ID,
		SourceID:  item.SourceID,
		SeenAt:    time.Now(),
	}
	if err := e.db.WithContext(ctx).Create(ref).Error; err != nil {
		return nil, fmt.Errorf("登记跨源引用失败: %w", err)
	}

	dedupCounter.WithLabelValues(meta.DedupExactCrossSource).Inc()
	return &models.DedupResult{
		ArticleID:      existing.ID,
		Classification: meta.DedupExactCrossSource,
		MatchedID:      existing.ID,
	}, nil
}
