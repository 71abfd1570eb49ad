/*
 * @module service/crawler/source_runner
 * @description 单个内容源的抓取执行：HTTP拉取、可选鉴权脚本、条目提交去重管线、
 *              去重计数与连续失败追踪
 * @architecture 分层架构 - 采集执行层
 * @documentReference ai_docs/crawler_req.md
 * @stateFlow 加载源 -> 鉴权 -> 拉取 -> 逐条提交去重 -> CrawlRun落库 -> 健康状态回写
 * @rules 抓取失败累计 consecutive_failures，成功清零；连续失败超限自动停用；
 *        每次执行都留下CrawlRun记录，含四层去重计数
 * @dependencies gorm.io/gorm, net/http
 * @refs service/crawler/crawler_service.go, service/content/content_service.go
 */

package crawler

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"gorm.io/gorm"

	"foresight-service/service/content"
	"foresight-service/service/models"
)

// maxConsecutiveFailures 连续失败超过该值后源被自动停用
const maxConsecutiveFailures = 10

// feedItem 内容源响应中的单个条目
type feedItem struct {
	Title       string `json:"title"`
	Content     string `json:"content"`
	URL         string `json:"url"`
	PublishedAt string `json:"published_at"`
	Charset     string `json:"charset"`
}

// feedResponse 内容源响应，兼容裸数组与 {items: [...]} 两种形态
type feedResponse struct {
	Items []feedItem `json:"items"`
}

// SourceRunner 单源抓取执行器
type SourceRunner struct {
	db         *gorm.DB
	contentSvc *content.ContentService
	auth       *AuthScriptExecutor
	httpClient *http.Client
}

// NewSourceRunner 创建抓取执行器
func NewSourceRunner(db *gorm.DB, contentSvc *content.ContentService) *SourceRunner {
	return &SourceRunner{
		db:         db,
		contentSvc: contentSvc,
		auth:       NewAuthScriptExecutor(),
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

// Run 执行一次抓取并落库执行记录，返回CrawlRun
func (r *SourceRunner) Run(ctx context.Context, sourceID string) (*models.CrawlRun, error) {
	var source models.Source
	err := r.db.WithContext(ctx).First(&source, "id = ?", sourceID).Error
	if err == gorm.ErrRecordNotFound {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("查询内容源失败: %w", err)
	}

	run := &models.CrawlRun{
		OrgID:     source.OrgID,
		SourceID:  source.ID,
		StartedAt: time.Now(),
	}

	if !source.IsActive() {
		run.Status = models.SourceRunSkipped
		now := time.Now()
		run.EndedAt = &now
		if err := r.db.WithContext(ctx).Create(run).Error; err != nil {
			return nil, fmt.Errorf("抓取记录落库失败: %w", err)
		}
		return run, nil
	}

	counters, runErr := r.crawl(ctx, &source)
	now := time.Now()
	run.EndedAt = &now
	run.RecordCounters(counters)

	if runErr != nil {
		run.Status = models.SourceRunFailed
		run.Error = runErr.Error()
	} else {
		run.Status = models.SourceRunSuccess
	}

	if err := r.db.WithContext(ctx).Create(run).Error; err != nil {
		return nil, fmt.Errorf("抓取记录落库失败: %w", err)
	}
	if err := r.updateHealth(ctx, &source, run); err != nil {
		return nil, err
	}

	slog.Info("内容源抓取完成",
		"source_id", source.ID,
		"name", source.Name,
		"status", run.Status,
		"items", run.ItemsSubmitted,
		"new", run.NewCount)
	return run, nil
}

// crawl 拉取并提交全部条目，返回四层去重计数
func (r *SourceRunner) crawl(ctx context.Context, source *models.Source) (models.DedupCounters, error) {
	var counters models.DedupCounters

	items, err := r.fetch(ctx, source)
	if err != nil {
		return counters, err
	}

	for _, item := range items {
		raw := &models.RawItem{
			OrgID:    source.OrgID,
			SourceID: source.ID,
			Title:    item.Title,
			Content:  item.Content,
			URL:      item.URL,
			Charset:  item.Charset,
		}
		if item.PublishedAt != "" {
			if ts, err := time.Parse(time.RFC3339, item.PublishedAt); err == nil {
				raw.PublishedAt = ts
			}
		}

		result, err := r.contentSvc.Submit(ctx, raw)
		if err != nil {
			slog.Warn("条目提交失败",
				"source_id", source.ID, "title", item.Title, "error", err)
			continue
		}
		counters.Record(result.Classification)
	}
	return counters, nil
}

// fetch 执行HTTP拉取并解析条目
func (r *SourceRunner) fetch(ctx context.Context, source *models.Source) ([]feedItem, error) {
	if source.URL == "" {
		return nil, models.NewValidationError("url", "HTTP内容源缺少URL")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, source.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("创建抓取请求失败: %w", err)
	}

	// 非标准鉴权流程由脚本产出请求头
	if source.AuthScriptEnabled && source.AuthScript != "" {
		headers, err := r.auth.Headers(source.AuthScript, source.URL)
		if err != nil {
			return nil, err
		}
		for k, v := range headers {
			req.Header.Set(k, v)
		}
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("抓取请求失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("内容源返回异常状态码: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return nil, fmt.Errorf("读取内容源响应失败: %w", err)
	}

	// 先按 {items: [...]} 解析，失败再按裸数组解析
	var wrapped feedResponse
	if err := json.Unmarshal(body, &wrapped); err == nil && wrapped.Items != nil {
		return wrapped.Items, nil
	}
	var items []feedItem
	if err := json.Unmarshal(body, &items); err != nil {
		return nil, fmt.Errorf("内容源响应解析失败: %w", err)
	}
	return items, nil
}

// updateHealth 回写源健康状态：失败累计、成功清零、连续失败超限自动停用
func (r *SourceRunner) updateHealth(ctx context.Context, source *models.Source, run *models.CrawlRun) error {
	updates := map[string]interface{}{
		"last_run_at":     run.StartedAt,
		"last_run_status": run.Status,
		"last_run_error":  run.Error,
		"updated_at":      time.Now(),
	}

	switch run.Status {
	case models.SourceRunSuccess:
		updates["consecutive_failures"] = 0
	case models.SourceRunFailed:
		failures := source.ConsecutiveFailures + 1
		updates["consecutive_failures"] = failures
		if failures >= maxConsecutiveFailures {
			updates["status"] = "inactive"
			slog.Warn("内容源连续失败超限，自动停用",
				"source_id", source.ID, "failures", failures)
		}
	}

	if err := r.db.WithContext(ctx).Model(&models.Source{}).
		Where("id = ?", source.ID).
		Updates(updates).Error; err != nil {
		return fmt.Errorf("源健康状态回写失败: %w", err)
	}
	return nil
}
