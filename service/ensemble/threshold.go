/*
 * @module service/ensemble/threshold
 * @description 晋升门槛策略：最小Predictor数量、最小合并强度、最小共识比例，未达标则不产生Prediction
 * @architecture 分层架构 - 策略对象
 * @documentReference ai_docs/forecast_engine_req.md
 * @stateFlow 合成前评估 -> 达标晋升 / 未达标记录尝试
 * @rules 未达门槛返回"无预测"而非低置信度预测
 * @dependencies os, strconv
 * @refs service/ensemble/synthesis.go
 */

package ensemble

import (
	"os"
	"strconv"

	"foresight-service/service/models"
)

// 门槛默认值
const (
	DefaultMinPredictors       = 3
	DefaultMinCombinedStrength = 0.5
	DefaultMinConsensusRatio   = 0.6
)

// ThresholdPolicy 晋升门槛策略
type ThresholdPolicy struct {
	MinPredictors       int     `json:"min_predictors"`
	MinCombinedStrength float64 `json:"min_combined_strength"`
	MinConsensusRatio   float64 `json:"min_consensus_ratio"`
}

// ThresholdOutcome 门槛评估结果，完整记入Snapshot
type ThresholdOutcome struct {
	Met                 bool    `json:"met"`
	PredictorCount      int     `json:"predictor_count"`
	CombinedStrength    float64 `json:"combined_strength"`
	ConsensusRatio      float64 `json:"consensus_ratio"`
	MinPredictors       int     `json:"min_predictors"`
	MinCombinedStrength float64 `json:"min_combined_strength"`
	MinConsensusRatio   float64 `json:"min_consensus_ratio"`
	FailedConstraint    string  `json:"failed_constraint,omitempty"`
}

// LoadThresholdPolicy 从环境变量加载门槛策略，缺省使用默认值
func LoadThresholdPolicy() ThresholdPolicy {
	policy := ThresholdPolicy{
		MinPredictors:       DefaultMinPredictors,
		MinCombinedStrength: DefaultMinCombinedStrength,
		MinConsensusRatio:   DefaultMinConsensusRatio,
	}
	if v := os.Getenv("ENSEMBLE_MIN_PREDICTORS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			policy.MinPredictors = n
		}
	}
	if v := os.Getenv("ENSEMBLE_MIN_STRENGTH"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f >= 0 {
			policy.MinCombinedStrength = f
		}
	}
	if v := os.Getenv("ENSEMBLE_MIN_CONSENSUS"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f >= 0 {
			policy.MinConsensusRatio = f
		}
	}
	return policy
}

// Evaluate 按三项约束评估合成结果是否达到晋升门槛
func (p ThresholdPolicy) Evaluate(predictorCount int, combinedStrength, consensusRatio float64) ThresholdOutcome {
	outcome := ThresholdOutcome{
		PredictorCount:      predictorCount,
		CombinedStrength:    combinedStrength,
		ConsensusRatio:      consensusRatio,
		MinPredictors:       p.MinPredictors,
		MinCombinedStrength: p.MinCombinedStrength,
		MinConsensusRatio:   p.MinConsensusRatio,
	}

	switch {
	case predictorCount < p.MinPredictors:
		outcome.FailedConstraint = "min_predictors"
	case combinedStrength < p.MinCombinedStrength:
		outcome.FailedConstraint = "min_combined_strength"
	case consensusRatio < p.MinConsensusRatio:
		outcome.FailedConstraint = "min_consensus_ratio"
	default:
		outcome.Met = true
	}
	return outcome
}

// ToJSONB 转换为可入库的JSONB表示
func (o ThresholdOutcome) ToJSONB() models.JSONB {
	return models.JSONB{
		"met":                   o.Met,
		"predictor_count":       o.PredictorCount,
		"combined_strength":     o.CombinedStrength,
		"consensus_ratio":       o.ConsensusRatio,
		"min_predictors":        o.MinPredictors,
		"min_combined_strength": o.MinCombinedStrength,
		"min_consensus_ratio":   o.MinConsensusRatio,
		"failed_constraint":     o.FailedConstraint,
	}
}
