/*
 * @module service/ensemble/metrics
 * @description 集成引擎可观测性指标：档位调用延迟、超时计数与晋升结果计数
 * @architecture 工具层 - Prometheus指标
 * @documentReference ai_docs/forecast_engine_req.md
 * @stateFlow 每次档位调用与合成结束后记录
 * @rules 档位超时按降级处理，指标单独计数
 * @dependencies github.com/prometheus/client_golang
 * @refs service/ensemble/engine.go, main.go
 */

package ensemble

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// tierLatency 档位调用延迟
	tierLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "foresight",
		Subsystem: "ensemble",
		Name:      "tier_call_seconds",
		Help:      "按档位统计的LLM调用延迟",
		Buckets:   prometheus.ExponentialBuckets(0.5, 2, 10),
	}, []string{"tier"})

	// tierTimeouts 档位超时计数
	tierTimeouts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "foresight",
		Subsystem: "ensemble",
		Name:      "tier_timeouts_total",
		Help:      "按档位统计的LLM调用超时次数",
	}, []string{"tier"})

	// runOutcomes 集成运行结果计数
	runOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "foresight",
		Subsystem: "ensemble",
		Name:      "runs_total",
		Help:      "按结果统计的集成运行次数",
	}, []string{"outcome"}) // promoted, below_threshold, vetoed, cancelled, failed
)
