/*
 * @module service/crawler/crawler_service
 * @description 抓取调度服务：每个内容源按自身节奏独立调度，源之间绝不互相串行，
 *              并发由全局工作池上限约束以尊重下游限流
 * @architecture 基于Go协程和cron定时器的调度器模式
 * @documentReference ai_docs/crawler_req.md
 * @stateFlow 加载激活源 -> 注册秒级cron -> 触发时占用工作池槽位 -> 执行抓取 -> 释放
 * @rules 源配置变更后需Reload重建调度表；手动触发与定时触发共用同一工作池
 * @dependencies github.com/robfig/cron/v3, gorm.io/gorm
 * @refs service/crawler/source_runner.go, service/scheduler/scheduler_service.go
 */

package crawler

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"gorm.io/gorm"

	"foresight-service/service/models"
)

// defaultMaxWorkers 工作池默认并发上限
const defaultMaxWorkers = 5

// CrawlerService 抓取调度服务
type CrawlerService struct {
	db     *gorm.DB
	runner *SourceRunner
	cron   *cron.Cron
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	entries map[string]cron.EntryID // source_id -> cron条目

	workerPool chan struct{}
}

// NewCrawlerService 创建抓取调度服务
func NewCrawlerService(db *gorm.DB, runner *SourceRunner) *CrawlerService {
	ctx, cancel := context.WithCancel(context.Background())

	maxWorkers := defaultMaxWorkers
	if v := os.Getenv("CRAWLER_MAX_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			maxWorkers = n
		}
	}

	return &CrawlerService{
		db:         db,
		runner:     runner,
		cron:       cron.New(cron.WithSeconds()),
		ctx:        ctx,
		cancel:     cancel,
		entries:    make(map[string]cron.EntryID),
		workerPool: make(chan struct{}, maxWorkers),
	}
}

// Start 启动调度器并加载全部激活源
func (s *CrawlerService) Start() error {
	slog.Info("启动内容源抓取调度器", "max_workers", cap(s.workerPool))
	s.cron.Start()
	if err := s.loadSources(); err != nil {
		return err
	}
	return nil
}

// Stop 停止调度器
func (s *CrawlerService) Stop() {
	slog.Info("停止内容源抓取调度器")
	s.cancel()
	s.cron.Stop()
}

// Reload 重建调度表（源配置变更后调用）
func (s *CrawlerService) Reload() error {
	s.mu.Lock()
	for sourceID, entryID := range s.entries {
		s.cron.Remove(entryID)
		delete(s.entries, sourceID)
	}
	s.mu.Unlock()
	return s.loadSources()
}

// loadSources 加载激活源并逐个注册到调度器
func (s *CrawlerService) loadSources() error {
	var sources []models.Source
	if err := s.db.Where("status = ? AND type = ?", "active", "http").
		Find(&sources).Error; err != nil {
		return fmt.Errorf("加载内容源失败: %w", err)
	}

	for _, source := range sources {
		if err := s.schedule(&source); err != nil {
			slog.Error("注册内容源调度失败",
				"source_id", source.ID, "cron", source.CronExpr, "error", err)
		}
	}
	slog.Info("内容源调度表加载完成", "sources", len(sources))
	return nil
}

// schedule 按源自身节奏注册cron条目
func (s *CrawlerService) schedule(source *models.Source) error {
	sourceID := source.ID
	entryID, err := s.cron.AddFunc(source.CronExpr, func() {
		s.dispatch(sourceID)
	})
	if err != nil {
		return fmt.Errorf("无效的cron表达式 %q: %w", source.CronExpr, err)
	}

	s.mu.Lock()
	s.entries[sourceID] = entryID
	s.mu.Unlock()
	return nil
}

// dispatch 占用工作池槽位后执行抓取；调度器停止时放弃本次触发
func (s *CrawlerService) dispatch(sourceID string) {
	select {
	case s.workerPool <- struct{}{}:
	case <-s.ctx.Done():
		return
	}

	go func() {
		defer func() { <-s.workerPool }()

		ctx, cancel := context.WithTimeout(s.ctx, 5*time.Minute)
		defer cancel()

		if _, err := s.runner.Run(ctx, sourceID); err != nil {
			slog.Error("内容源抓取执行失败", "source_id", sourceID, "error", err)
		}
	}()
}

// TriggerCrawl 手动触发一次抓取，同步等待结果（共用工作池）
func (s *CrawlerService) TriggerCrawl(ctx context.Context, sourceID string) (*models.CrawlRun, error) {
	select {
	case s.workerPool <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-s.workerPool }()

	return s.runner.Run(ctx, sourceID)
}

// SourceHealth 内容源健康概览
type SourceHealth struct {
	SourceID            string     `json:"source_id"`
	Name                string     `json:"name"`
	Status              string     `json:"status"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	LastRunAt           *time.Time `json:"last_run_at,omitempty"`
	LastRunStatus       string     `json:"last_run_status,omitempty"`
	LastRunError        string     `json:"last_run_error,omitempty"`
	Scheduled           bool       `json:"scheduled"`
}

// Health 返回指定组织全部内容源的健康概览
func (s *CrawlerService) Health(ctx context.Context, orgID string) ([]SourceHealth, error) {
	var sources []models.Source
	if err := s.db.WithContext(ctx).
		Where("org_id = ?", orgID).
		Order("name").
		Find(&sources).Error; err != nil {
		return nil, fmt.Errorf("查询内容源失败: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]SourceHealth, 0, len(sources))
	for _, src := range sources {
		_, scheduled := s.entries[src.ID]
		out = append(out, SourceHealth{
			SourceID:            src.ID,
			Name:                src.Name,
			Status:              src.Status,
			ConsecutiveFailures: src.ConsecutiveFailures,
			LastRunAt:           src.LastRunAt,
			LastRunStatus:       src.LastRunStatus,
			LastRunError:        src.LastRunError,
			Scheduled:           scheduled,
		})
	}
	return out, nil
}

// ListRuns 查询某内容源最近的抓取记录
func (s *CrawlerService) ListRuns(ctx context.Context, sourceID string, limit int) ([]models.CrawlRun, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var runs []models.CrawlRun
	if err := s.db.WithContext(ctx).
		Where("source_id = ?", sourceID).
		Order("started_at DESC").
		Limit(limit).
		Find(&runs).Error; err != nil {
		return nil, fmt.Errorf("查询抓取记录失败: %w", err)
	}
	return runs, nil
}
