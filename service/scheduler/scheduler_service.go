/*
 * @module service/scheduler/scheduler_service
 * @description 系统级定时任务调度器：预测过期清扫与错失机会扫描，节奏由环境变量配置
 * @architecture 基于Go协程和定时器的调度器模式
 * @documentReference ai_docs/forecast_engine_req.md
 * @stateFlow 注册cron条目 -> 按节奏触发 -> 领域服务执行 -> 记录结果
 * @rules 清扫与扫描互不阻塞；调度器停止后在途任务随上下文取消
 * @dependencies github.com/robfig/cron/v3
 * @refs service/lifecycle/lifecycle_service.go, service/lifecycle/evaluation_service.go
 */

package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/robfig/cron/v3"

	"foresight-service/service/lifecycle"
)

// 默认节奏（秒级cron表达式）
const (
	defaultExpirySweepCron = "0 */5 * * * *" // 每5分钟
	defaultMissedScanCron  = "0 0 * * * *"   // 每小时
)

// SchedulerService 系统定时任务调度器
type SchedulerService struct {
	lifecycleSvc  *lifecycle.LifecycleService
	evaluationSvc *lifecycle.EvaluationService
	cron          *cron.Cron
	ctx           context.Context
	cancel        context.CancelFunc
}

// NewSchedulerService 创建调度器服务
func NewSchedulerService(lifecycleSvc *lifecycle.LifecycleService, evaluationSvc *lifecycle.EvaluationService) *SchedulerService {
	ctx, cancel := context.WithCancel(context.Background())
	return &SchedulerService{
		lifecycleSvc:  lifecycleSvc,
		evaluationSvc: evaluationSvc,
		cron:          cron.New(cron.WithSeconds()),
		ctx:           ctx,
		cancel:        cancel,
	}
}

// Start 启动调度器
func (s *SchedulerService) Start() error {
	sweepCron := envOr("EXPIRY_SWEEP_CRON", defaultExpirySweepCron)
	scanCron := envOr("MISSED_OPP_SCAN_CRON", defaultMissedScanCron)

	if _, err := s.cron.AddFunc(sweepCron, s.runExpirySweep); err != nil {
		return fmt.Errorf("注册过期清扫任务失败: %w", err)
	}
	if _, err := s.cron.AddFunc(scanCron, s.runMissedScan); err != nil {
		return fmt.Errorf("注册错失机会扫描任务失败: %w", err)
	}

	s.cron.Start()
	slog.Info("系统调度器启动完成",
		"expiry_sweep", sweepCron,
		"missed_scan", scanCron)
	return nil
}

// Stop 停止调度器
func (s *SchedulerService) Stop() {
	slog.Info("停止系统调度器")
	s.cancel()
	s.cron.Stop()
}

// runExpirySweep 过期清扫：将超过 expires_at 的活跃预测标记为 expired
func (s *SchedulerService) runExpirySweep() {
	ctx, cancel := context.WithTimeout(s.ctx, time.Minute)
	defer cancel()

	if _, err := s.lifecycleSvc.SweepExpired(ctx); err != nil {
		slog.Error("过期清扫执行失败", "error", err)
	}
}

// runMissedScan 错失机会扫描
func (s *SchedulerService) runMissedScan() {
	ctx, cancel := context.WithTimeout(s.ctx, 10*time.Minute)
	defer cancel()

	created, err := s.evaluationSvc.DetectMissedOpportunities(ctx)
	if err != nil {
		slog.Error("错失机会扫描执行失败", "error", err)
		return
	}
	if created > 0 {
		slog.Info("错失机会扫描完成", "created", created)
	}
}

// envOr 读取环境变量，缺省时返回默认值
func envOr(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}
