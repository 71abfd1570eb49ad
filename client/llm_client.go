/*
 * @module client/llm_client
 * @description LLM能力客户端：按档位向大模型提供方发起评估请求，记录提供方/模型身份供审计，黑盒对待
 * @architecture 适配器模式 - 封装OpenAI兼容的Chat Completions接口
 * @documentReference ai_docs/forecast_engine_req.md
 * @stateFlow 构造指令 -> 按档位选择模型 -> 请求 -> 解析结构化评估
 * @rules 单档位超时按"无评估"处理由调用方决定；本客户端只负责传输与解析
 * @dependencies net/http, encoding/json
 * @refs service/ensemble/engine.go
 */

package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

// AssessRequest 一次评估请求：分析师指令 + 上下文材料 + 档位
type AssessRequest struct {
	TargetSymbol    string   `json:"target_symbol"`
	TargetDomain    string   `json:"target_domain"`
	Directions      []string `json:"directions"` // 领域允许的方向词汇
	Instructions    string   `json:"instructions"`
	ContextMaterial string   `json:"context_material"`
	Tier            string   `json:"tier"`
	Signals         []string `json:"signals,omitempty"` // 近期信号摘要
}

// Assessment LLM返回的结构化评估
type Assessment struct {
	Direction  string  `json:"direction"`
	Strength   float64 `json:"strength"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`

	// 审计信息
	Provider  string `json:"provider"`
	Model     string `json:"model"`
	LatencyMS int64  `json:"latency_ms"`
}

// LLMCapability LLM能力接口，集成引擎对提供方保持黑盒
type LLMCapability interface {
	Assess(ctx context.Context, req *AssessRequest) (*Assessment, error)
}

// LLMClient OpenAI兼容的LLM能力客户端
type LLMClient struct {
	baseURL    string
	apiKey     string
	provider   string
	tierModels map[string]string // tier -> model
	httpClient *http.Client
}

// NewLLMClient 从环境变量创建LLM客户端
func NewLLMClient() (*LLMClient, error) {
	apiKey := os.Getenv("LLM_API_KEY")
	if apiKey == "" {
		return nil, fmt.Errorf("LLM_API_KEY 未配置")
	}

	baseURL := getEnvWithDefault("LLM_BASE_URL", "https://api.openai.com/v1")
	provider := getEnvWithDefault("LLM_PROVIDER", "openai")

	tierModels := map[string]string{
		"gold":   getEnvWithDefault("LLM_GOLD_MODEL", "gpt-4o"),
		"silver": getEnvWithDefault("LLM_SILVER_MODEL", "gpt-4o-mini"),
		"bronze": getEnvWithDefault("LLM_BRONZE_MODEL", "gpt-3.5-turbo"),
	}

	return &LLMClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		provider:   provider,
		tierModels: tierModels,
		httpClient: &http.Client{
			Timeout: 120 * time.Second,
		},
	}, nil
}

// chatRequest OpenAI兼容的请求体
type chatRequest struct {
	Model          string        `json:"model"`
	Messages       []chatMessage `json:"messages"`
	Temperature    float64       `json:"temperature"`
	ResponseFormat *respFormat   `json:"response_format,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type respFormat struct {
	Type string `json:"type"`
}

// chatResponse OpenAI兼容的响应体
type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Assess 发起一次档位评估，返回结构化方向评估
func (c *LLMClient) Assess(ctx context.Context, req *AssessRequest) (*Assessment, error) {
	model, ok := c.tierModels[req.Tier]
	if !ok {
		return nil, fmt.Errorf("未配置档位 %s 对应的模型", req.Tier)
	}

	system := fmt.Sprintf(
		"你是针对标的 %s（领域 %s）的预测分析师。只输出JSON对象，字段: direction（取值限定 %s）、strength（0-1）、confidence（0-1）、reasoning。",
		req.TargetSymbol, req.TargetDomain, strings.Join(req.Directions, "/"))

	var user strings.Builder
	user.WriteString(req.Instructions)
	if req.ContextMaterial != "" {
		user.WriteString("\n\n背景知识:\n")
		user.WriteString(req.ContextMaterial)
	}
	if len(req.Signals) > 0 {
		user.WriteString("\n\n近期信号:\n")
		for _, s := range req.Signals {
			user.WriteString("- " + s + "\n")
		}
	}

	payload := chatRequest{
		Model: model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user.String()},
		},
		Temperature:    0.2,
		ResponseFormat: &respFormat{Type: "json_object"},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("序列化请求失败: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("创建HTTP请求失败: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("发送HTTP请求失败: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("读取响应失败: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("LLM请求失败, 状态码 %d: %s", resp.StatusCode, truncate(string(respBody), 300))
	}

	var chat chatResponse
	if err := json.Unmarshal(respBody, &chat); err != nil {
		return nil, fmt.Errorf("解析响应失败: %w", err)
	}
	if chat.Error != nil {
		return nil, fmt.Errorf("LLM返回错误: %s", chat.Error.Message)
	}
	if len(chat.Choices) == 0 {
		return nil, fmt.Errorf("LLM响应不含choices")
	}

	var assessment Assessment
	if err := json.Unmarshal([]byte(chat.Choices[0].Message.Content), &assessment); err != nil {
		return nil, fmt.Errorf("解析评估JSON失败: %w", err)
	}

	assessment.Provider = c.provider
	assessment.Model = chat.Model
	if assessment.Model == "" {
		assessment.Model = model
	}
	assessment.LatencyMS = time.Since(start).Milliseconds()

	return &assessment, nil
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}

func getEnvWithDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
