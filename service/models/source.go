/*
 * @module service/models/source
 * @description 内容源模型定义，携带四级作用域、抓取节奏与连续失败计数
 * @architecture DDD领域驱动设计 - 实体模型
 * @documentReference ai_docs/forecast_engine_req.md
 * @stateFlow 注册 -> 按节奏抓取 -> 失败累计/恢复清零 -> 停用
 * @rules scope_level 与作用域列的一致性在写入时强制校验
 * @dependencies gorm.io/gorm, github.com/google/uuid
 * @refs service/crawler/crawler_service.go, service/scope/resolver.go
 */

package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// 源抓取结果
const (
	SourceRunSuccess = "success"
	SourceRunFailed  = "failed"
	SourceRunSkipped = "skipped"
)

// Source 内容源模型，一个可抓取的内容来源
type Source struct {
	ID       string `json:"id" gorm:"primaryKey;type:varchar(36)"`
	OrgID    string `json:"org_id" gorm:"not null;type:varchar(36);index"`
	Name     string `json:"name" gorm:"not null;size:255"`
	Type     string `json:"type" gorm:"not null;size:50"` // http, kafka, mqtt
	URL      string `json:"url" gorm:"size:2048"`
	Scope    Scope  `json:"scope" gorm:"embedded"`
	Status   string `json:"status" gorm:"not null;default:'active';size:20"`            // active, inactive
	CronExpr string `json:"cron_expr" gorm:"not null;default:'0 */15 * * * *';size:64"` // 抓取节奏（秒级cron表达式）

	// 鉴权配置：可选的 yaegi 脚本，用于非标准鉴权流程
	AuthScript        string `json:"auth_script,omitempty" gorm:"type:text"`
	AuthScriptEnabled bool   `json:"auth_script_enabled" gorm:"not null;default:false"`

	// 抓取健康状态
	ConsecutiveFailures int        `json:"consecutive_failures" gorm:"not null;default:0"`
	LastRunAt           *time.Time `json:"last_run_at,omitempty"`
	LastRunStatus       string     `json:"last_run_status" gorm:"size:20"` // success, failed, skipped
	LastRunError        string     `json:"last_run_error,omitempty" gorm:"size:1000"`

	CreatedAt time.Time `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
	CreatedBy string    `json:"created_by" gorm:"not null;default:'system';size:100"`
	UpdatedAt time.Time `json:"updated_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// BeforeCreate GORM钩子，创建前生成UUID并校验作用域一致性
func (s *Source) BeforeCreate(tx *gorm.DB) error {
	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	return s.Scope.Validate()
}

// BeforeUpdate GORM钩子，更新前校验作用域一致性
func (s *Source) BeforeUpdate(tx *gorm.DB) error {
	return s.Scope.Validate()
}

// IsActive 判断源是否处于激活状态
func (s *Source) IsActive() bool {
	return s.Status == "active"
}

// CrawlRun 单次抓取执行记录，保留四层去重计数以供观测
type CrawlRun struct {
	ID       string `json:"id" gorm:"primaryKey;type:varchar(36)"`
	OrgID    string `json:"org_id" gorm:"not null;type:varchar(36);index"`
	SourceID string `json:"source_id" gorm:"not null;type:varchar(36);index"`

	Status    string     `json:"status" gorm:"not null;size:20"` // success, failed
	Error     string     `json:"error,omitempty" gorm:"size:1000"`
	StartedAt time.Time  `json:"started_at" gorm:"not null"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`

	// 四层去重计数
	ItemsSubmitted   int `json:"items_submitted" gorm:"not null;default:0"`
	NewCount         int `json:"new_count" gorm:"not null;default:0"`
	ExactSameSource  int `json:"exact_same_source" gorm:"not null;default:0"`
	ExactCrossSource int `json:"exact_cross_source" gorm:"not null;default:0"`
	FuzzyTitle       int `json:"fuzzy_title" gorm:"not null;default:0"`
	PhraseOverlap    int `json:"phrase_overlap" gorm:"not null;default:0"`

	CreatedAt time.Time `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// BeforeCreate GORM钩子，创建前生成UUID
func (c *CrawlRun) BeforeCreate(tx *gorm.DB) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	return nil
}

// RecordCounters 将去重计数写回执行记录
func (c *CrawlRun) RecordCounters(counters DedupCounters) {
	c.ItemsSubmitted = counters.Total()
	c.NewCount = counters.New
	c.ExactSameSource = counters.ExactSameSource
	c.ExactCrossSource = counters.ExactCrossSource
	c.FuzzyTitle = counters.FuzzyTitle
	c.PhraseOverlap = counters.PhraseOverlap
}
