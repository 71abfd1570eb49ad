/*
 * @module service/models/article
 * @description 去重后内容模型定义，含原始条目、跨源引用与四层去重结果结构
 * @architecture DDD领域驱动设计 - 实体模型
 * @documentReference ai_docs/forecast_engine_req.md
 * @stateFlow 原始条目提交 -> 四层去重 -> 入库或跨源引用
 * @rules Article 按 (org, content_hash) 全局唯一；normalized_title 与 key_phrases 仅用于模糊匹配，不参与精确身份
 * @dependencies gorm.io/gorm, github.com/google/uuid
 * @refs service/content/dedup_engine.go
 */

package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"foresight-service/service/meta"
)

// RawItem 抓取器提交的原始内容条目
type RawItem struct {
	OrgID       string    `json:"org_id"`
	SourceID    string    `json:"source_id"`
	Title       string    `json:"title"`
	Content     string    `json:"content"`
	URL         string    `json:"url,omitempty"`
	PublishedAt time.Time `json:"published_at,omitempty"`
	Charset     string    `json:"charset,omitempty"` // 非UTF-8内容的原始字符集

	// 测试场景注入：由测试隔离层填充，随信号向下游传播
	TestScenarioID *string `json:"test_scenario_id,omitempty"`
}

// Article 去重后的规范内容，按 (org, content_hash) 全局唯一
type Article struct {
	ID              string           `json:"id" gorm:"primaryKey;type:varchar(36)"`
	OrgID           string           `json:"org_id" gorm:"not null;type:varchar(36);uniqueIndex:idx_article_hash;index"`
	SourceID        string           `json:"source_id" gorm:"not null;type:varchar(36);index"`
	ContentHash     string           `json:"content_hash" gorm:"not null;size:64;uniqueIndex:idx_article_hash"`
	Title           string           `json:"title" gorm:"not null;size:1024"`
	NormalizedTitle string           `json:"normalized_title" gorm:"not null;size:1024"` // 仅用于模糊匹配
	KeyPhrases      JSONBStringArray `json:"key_phrases" gorm:"type:jsonb"`              // 仅用于短语重合匹配
	Content         string           `json:"content" gorm:"type:text"`
	URL             string           `json:"url" gorm:"size:2048"`
	PublishedAt     *time.Time       `json:"published_at,omitempty"`
	CreatedAt       time.Time        `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`

	// 关联关系
	SourceRefs []ArticleSourceRef `json:"source_refs,omitempty" gorm:"foreignKey:ArticleID"`
}

// BeforeCreate GORM钩子，创建前生成UUID
func (a *Article) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if a.ContentHash == "" {
		return NewValidationError("content_hash", "内容哈希不能为空")
	}
	return nil
}

// ArticleSourceRef 跨源重复引用：同一内容在不同源出现时只存一份，其余源记录引用
type ArticleSourceRef struct {
	ID        string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	ArticleID string    `json:"article_id" gorm:"not null;type:varchar(36);uniqueIndex:idx_article_source;index"`
	SourceID  string    `json:"source_id" gorm:"not null;type:varchar(36);uniqueIndex:idx_article_source"`
	SeenAt    time.Time `json:"seen_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// BeforeCreate GORM钩子，创建前生成UUID
func (r *ArticleSourceRef) BeforeCreate(tx *gorm.DB) error {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	return nil
}

// DedupResult 四层去重的判定结果
type DedupResult struct {
	ArticleID      string  `json:"article_id"`
	Classification string  `json:"classification"`       // new, duplicate_exact_same_source, duplicate_exact_cross_source, duplicate_fuzzy_title, duplicate_phrase_overlap
	MatchedID      string  `json:"matched_id,omitempty"` // 命中的既有Article
	Similarity     float64 `json:"similarity,omitempty"` // 模糊层命中时的相似度
}

// DedupCounters 单次抓取的四层去重计数，用于可观测性
type DedupCounters struct {
	New              int `json:"new"`
	ExactSameSource  int `json:"duplicate_exact_same_source"`
	ExactCrossSource int `json:"duplicate_exact_cross_source"`
	FuzzyTitle       int `json:"duplicate_fuzzy_title"`
	PhraseOverlap    int `json:"duplicate_phrase_overlap"`
}

// Total 返回计数总和
func (c DedupCounters) Total() int {
	return c.New + c.ExactSameSource + c.ExactCrossSource + c.FuzzyTitle + c.PhraseOverlap
}

// Record 按去重分类累加计数
func (c *DedupCounters) Record(classification string) {
	switch classification {
	case meta.DedupNew:
		c.New++
	case meta.DedupExactSameSource:
		c.ExactSameSource++
	case meta.DedupExactCrossSource:
		c.ExactCrossSource++
	case meta.DedupFuzzyTitle:
		c.FuzzyTitle++
	case meta.DedupPhraseOverlap:
		c.PhraseOverlap++
	}
}
