/*
 * @module client/market_client
 * @description 行情查询客户端：查询标的在时间窗口内的实际走势，供结算评估与错失机会扫描使用
 * @architecture 适配器模式 - 封装行情服务的HTTP查询接口
 * @documentReference ai_docs/forecast_engine_req.md
 * @stateFlow 构造查询 -> HTTP请求 -> 解析样本序列 -> 计算区间涨跌幅
 * @rules 行情缺失返回明确错误，调用方负责将其作为"评估失败"上报而非静默跳过
 * @dependencies net/http, encoding/json, github.com/spf13/cast
 * @refs service/lifecycle/evaluation_service.go
 */

package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cast"
)

var marketDataURL = "http://localhost:38428"

func init() {
	if envURL := os.Getenv("MARKET_DATA_URL"); envURL != "" {
		marketDataURL = envURL
	}
}

// SetMarketDataURL 设置行情服务地址（用于测试）
func SetMarketDataURL(u string) {
	marketDataURL = u
}

// PricePoint 单个行情样本
type PricePoint struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

// MoveObservation 窗口内实际走势观察
type MoveObservation struct {
	Symbol     string       `json:"symbol"`
	StartValue float64      `json:"start_value"`
	EndValue   float64      `json:"end_value"`
	MovePct    float64      `json:"move_pct"` // (end-start)/start * 100
	PeakAt     time.Time    `json:"peak_at"`  // 绝对幅度峰值时刻
	Samples    []PricePoint `json:"samples,omitempty"`
}

// queryRangeResp 行情服务的区间查询响应（Prometheus风格）
type queryRangeResp struct {
	Status string `json:"status"`
	Data   struct {
		Result []struct {
			Metric map[string]string `json:"metric"`
			Values [][]interface{}   `json:"values"` // [unix_ts, "value"]
		} `json:"result"`
	} `json:"data"`
}

// ErrNoMarketData 窗口内无行情样本
var ErrNoMarketData = errors.New("窗口内无行情数据")

var marketHTTPClient = &http.Client{
	Timeout: 30 * time.Second,
}

// QueryMove 查询标的在时间窗口内的实际走势
func QueryMove(ctx context.Context, symbol string, start, end time.Time) (*MoveObservation, error) {
	if symbol == "" {
		return nil, errors.New("symbol 不能为空")
	}
	if !end.After(start) {
		return nil, errors.New("窗口结束时间必须晚于开始时间")
	}

	values := url.Values{}
	values.Add("query", fmt.Sprintf(`price{symbol=%q}`, symbol))
	values.Add("start", strconv.FormatInt(start.Unix(), 10))
	values.Add("end", strconv.FormatInt(end.Unix(), 10))
	values.Add("step", "60")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, marketDataURL+"/api/v1/query_range", nil)
	if err != nil {
		return nil, fmt.Errorf("创建HTTP请求失败: %w", err)
	}
	req.URL.RawQuery = values.Encode()

	resp, err := marketHTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("发送HTTP请求失败: %w", err)
	}
	defer resp.Body.Close()

	var parsed queryRangeResp
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("解析响应失败: %w", err)
	}
	if parsed.Status != "success" {
		return nil, fmt.Errorf("行情查询失败: %s", parsed.Status)
	}
	if len(parsed.Data.Result) == 0 || len(parsed.Data.Result[0].Values) == 0 {
		return nil, ErrNoMarketData
	}

	samples := make([]PricePoint, 0, len(parsed.Data.Result[0].Values))
	for _, pair := range parsed.Data.Result[0].Values {
		if len(pair) != 2 {
			continue
		}
		ts, err := cast.ToInt64E(pair[0])
		if err != nil {
			continue
		}
		val, err := cast.ToFloat64E(pair[1])
		if err != nil {
			continue
		}
		samples = append(samples, PricePoint{
			Timestamp: time.Unix(ts, 0),
			Value:     val,
		})
	}
	if len(samples) == 0 {
		return nil, ErrNoMarketData
	}

	obs := &MoveObservation{
		Symbol:     symbol,
		StartValue: samples[0].Value,
		EndValue:   samples[len(samples)-1].Value,
		Samples:    samples,
	}
	if obs.StartValue != 0 {
		obs.MovePct = (obs.EndValue - obs.StartValue) / obs.StartValue * 100
	}

	// 峰值时刻：相对起点绝对幅度最大的样本
	peakDiff := 0.0
	obs.PeakAt = samples[0].Timestamp
	for _, p := range samples {
		diff := p.Value - obs.StartValue
		if diff < 0 {
			diff = -diff
		}
		if diff > peakDiff {
			peakDiff = diff
			obs.PeakAt = p.Timestamp
		}
	}

	return obs, nil
}
