/*
 * @module service/rate_limiter/redis_rate_limiter
 * @description 基于Redis的分布式LLM调用限流服务，按档位（gold/silver/bronze）独立计数
 * @architecture 工具层 - 为集成引擎提供跨实例的LLM调用配额控制
 * @documentReference ai_docs/ensemble_design.md
 * @stateFlow 构造档位限流Key -> Lua脚本原子计数 -> 判断是否超限
 * @rules 使用Redis INCR和EXPIRE实现固定窗口限流，窗口与配额可按档位通过环境变量配置
 * @dependencies github.com/go-redis/redis/v8
 * @refs service/ensemble/engine.go
 */

package rate_limiter

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
)

const rateLimitKeyPrefix = "foresight:rate"

// 默认每个档位每分钟允许的LLM调用次数
const (
	defaultGoldLimit   = 30
	defaultSilverLimit = 60
	defaultBronzeLimit = 120
	defaultWindowSec   = 60
)

// TierLimit 单个档位的限流配额
type TierLimit struct {
	Tier        string // gold/silver/bronze
	TimeWindow  int    // 时间窗口（秒）
	MaxRequests int    // 窗口内最大调用数
}

// LimitResult 限流检查结果
type LimitResult struct {
	Allowed   bool   `json:"allowed"`   // 是否允许调用
	Tier      string `json:"tier"`      // 被检查的档位
	Limit     int    `json:"limit"`     // 配额
	Remaining int    `json:"remaining"` // 剩余配额
	ResetAt   int64  `json:"reset_at"`  // 窗口重置时间（Unix时间戳）
}

// RedisRateLimiter Redis限流器
type RedisRateLimiter struct {
	client *redis.Client
	limits map[string]TierLimit
}

// NewRedisRateLimiter 创建Redis限流器，档位配额从环境变量读取
func NewRedisRateLimiter() (*RedisRateLimiter, error) {
	// 从环境变量读取Redis配置
	host := getEnvWithDefault("REDIS_HOST", "localhost")
	port := getEnvWithDefault("REDIS_PORT", "6379")
	password := os.Getenv("REDIS_PASSWORD")
	db := 0
	if dbStr := os.Getenv("REDIS_DB"); dbStr != "" {
		fmt.Sscanf(dbStr, "%d", &db)
	}

	client := redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%s", host, port),
		Password:     password,
		DB:           db,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 5,
	})

	// 测试连接
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis连接失败: %w", err)
	}

	limits := loadTierLimits()

	slog.Info("Redis限流器初始化成功",
		"redis_host", host,
		"redis_port", port,
		"tiers", len(limits))

	return &RedisRateLimiter{
		client: client,
		limits: limits,
	}, nil
}

// loadTierLimits 从环境变量加载各档位配额，缺省时使用默认值
func loadTierLimits() map[string]TierLimit {
	window := envInt("LLM_RATE_LIMIT_WINDOW_SEC", defaultWindowSec)
	return map[string]TierLimit{
		"gold": {
			Tier:        "gold",
			TimeWindow:  window,
			MaxRequests: envInt("LLM_RATE_LIMIT_GOLD", defaultGoldLimit),
		},
		"silver": {
			Tier:        "silver",
			TimeWindow:  window,
			MaxRequests: envInt("LLM_RATE_LIMIT_SILVER", defaultSilverLimit),
		},
		"bronze": {
			Tier:        "bronze",
			TimeWindow:  window,
			MaxRequests: envInt("LLM_RATE_LIMIT_BRONZE", defaultBronzeLimit),
		},
	}
}

// AllowLLMCall 检查指定档位是否还有LLM调用配额。
// 未配置的档位不做限制，直接放行。
func (r *RedisRateLimiter) AllowLLMCall(ctx context.Context, tier string) (bool, error) {
	limit, ok := r.limits[tier]
	if !ok {
		return true, nil
	}

	result, err := r.check(ctx, limit)
	if err != nil {
		return false, err
	}
	if !result.Allowed {
		slog.Warn("LLM调用触发限流",
			"tier", tier,
			"limit", result.Limit,
			"reset_at", result.ResetAt)
	}
	return result.Allowed, nil
}

// check 对单个档位执行原子限流检查
func (r *RedisRateLimiter) check(ctx context.Context, limit TierLimit) (*LimitResult, error) {
	key := r.buildKey(limit.Tier, limit.TimeWindow)

	// 使用Lua脚本实现原子性限流检查
	script := `
		local key = KEYS[1]
		local max_requests = tonumber(ARGV[1])
		local window = tonumber(ARGV[2])

		-- 获取当前计数
		local current = redis.call('GET', key)
		if current == false then
			current = 0
		else
			current = tonumber(current)
		end

		-- 检查是否超限
		if current >= max_requests then
			local ttl = redis.call('TTL', key)
			if ttl == -1 then
				ttl = window
			end
			return {0, current, ttl}
		end

		-- 增加计数
		local new_count = redis.call('INCR', key)

		-- 如果是第一次请求，设置过期时间
		if new_count == 1 then
			redis.call('EXPIRE', key, window)
		end

		local ttl = redis.call('TTL', key)
		if ttl == -1 then
			ttl = window
		end

		return {1, new_count, ttl}
	`

	result, err := r.client.Eval(ctx, script, []string{key}, limit.MaxRequests, limit.TimeWindow).Result()
	if err != nil {
		return nil, fmt.Errorf("限流检查失败: %w", err)
	}

	results := result.([]interface{})
	allowed := results[0].(int64) == 1
	currentCount := int(results[1].(int64))
	ttl := int(results[2].(int64))

	remaining := limit.MaxRequests - currentCount
	if remaining < 0 {
		remaining = 0
	}

	return &LimitResult{
		Allowed:   allowed,
		Tier:      limit.Tier,
		Limit:     limit.MaxRequests,
		Remaining: remaining,
		ResetAt:   time.Now().Add(time.Duration(ttl) * time.Second).Unix(),
	}, nil
}

// buildKey 构造档位限流Key，按窗口编号分片
func (r *RedisRateLimiter) buildKey(tier string, window int) string {
	currentWindow := time.Now().Unix() / int64(window)
	return fmt.Sprintf("%s:%s:%d", rateLimitKeyPrefix, tier, currentWindow)
}

// GetStats 获取指定档位的限流统计信息
func (r *RedisRateLimiter) GetStats(ctx context.Context, tier string) (map[string]interface{}, error) {
	limit, ok := r.limits[tier]
	if !ok {
		return nil, fmt.Errorf("未知档位: %s", tier)
	}

	key := r.buildKey(limit.Tier, limit.TimeWindow)

	current, err := r.client.Get(ctx, key).Int()
	if err != nil && err != redis.Nil {
		return nil, err
	}

	ttl, err := r.client.TTL(ctx, key).Result()
	if err != nil {
		return nil, err
	}

	remaining := limit.MaxRequests - current
	if remaining < 0 {
		remaining = 0
	}

	return map[string]interface{}{
		"tier":        limit.Tier,
		"current":     current,
		"limit":       limit.MaxRequests,
		"remaining":   remaining,
		"window":      limit.TimeWindow,
		"ttl_seconds": int(ttl.Seconds()),
		"reset_at":    time.Now().Add(ttl).Unix(),
	}, nil
}

// ResetTier 重置档位限流计数（仅用于测试或管理）
func (r *RedisRateLimiter) ResetTier(ctx context.Context, tier string) error {
	limit, ok := r.limits[tier]
	if !ok {
		return nil
	}
	key := r.buildKey(limit.Tier, limit.TimeWindow)
	return r.client.Del(ctx, key).Err()
}

// Close 关闭Redis客户端
func (r *RedisRateLimiter) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}

// getEnvWithDefault 获取环境变量，如果不存在则返回默认值
func getEnvWithDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// envInt 读取整型环境变量，解析失败时返回默认值
func envInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil && n > 0 {
			return n
		}
	}
	return defaultValue
}
