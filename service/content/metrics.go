/*
 * @module service/content/metrics
 * @description 去重可观测性指标：四层去重结果计数器与近窗规模，暴露到 /metrics
 * @architecture 工具层 - Prometheus指标
 * @documentReference ai_docs/forecast_engine_req.md
 * @stateFlow 每次提交判定后递增对应分类计数器
 * @rules 四层去重结果必须逐一计数以满足可观测性要求
 * @dependencies github.com/prometheus/client_golang
 * @refs service/content/dedup_engine.go, main.go
 */

package content

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// dedupCounter 四层去重结果计数器
	dedupCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "foresight",
		Subsystem: "dedup",
		Name:      "submissions_total",
		Help:      "按去重分类统计的内容提交计数",
	}, []string{"classification"})

	// windowSizeGauge 近窗缓存规模
	windowSizeGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "foresight",
		Subsystem: "dedup",
		Name:      "recent_window_size",
		Help:      "按组织统计的去重近窗条目数",
	}, []string{"org_id"})

	// signalCounter 下游信号产出计数
	signalCounter = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "foresight",
		Subsystem: "content",
		Name:      "signals_emitted_total",
		Help:      "新内容入库后产出的信号计数",
	})
)
