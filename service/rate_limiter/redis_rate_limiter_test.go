/*
 * @module service/rate_limiter/redis_rate_limiter_test
 * @description LLM档位限流器单元测试，依赖本地Redis，不可用时跳过
 * @architecture 测试层
 * @documentReference ai_docs/ensemble_design.md
 */

package rate_limiter

import (
	"context"
	"os"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestLimiter 设置测试用限流器，Redis不可用时跳过测试
func setupTestLimiter(t *testing.T) *RedisRateLimiter {
	os.Setenv("LLM_RATE_LIMIT_WINDOW_SEC", "60")
	os.Setenv("LLM_RATE_LIMIT_GOLD", "5")
	os.Setenv("LLM_RATE_LIMIT_SILVER", "10")
	os.Setenv("LLM_RATE_LIMIT_BRONZE", "20")

	limiter, err := NewRedisRateLimiter()
	if err != nil {
		t.Skipf("Redis不可用，跳过限流测试: %v", err)
	}
	require.NotNil(t, limiter)

	// 清理测试数据
	ctx := context.Background()
	limiter.client.FlushDB(ctx)

	return limiter
}

// TestAllowLLMCall_WithinQuota 测试配额内的调用全部放行
func TestAllowLLMCall_WithinQuota(t *testing.T) {
	limiter := setupTestLimiter(t)
	defer limiter.Close()

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		allowed, err := limiter.AllowLLMCall(ctx, "gold")
		require.NoError(t, err)
		assert.True(t, allowed, "第%d次调用应被放行", i+1)
	}
}

// TestAllowLLMCall_ExceedsQuota 测试超过配额后拒绝
func TestAllowLLMCall_ExceedsQuota(t *testing.T) {
	limiter := setupTestLimiter(t)
	defer limiter.Close()

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		allowed, err := limiter.AllowLLMCall(ctx, "gold")
		require.NoError(t, err)
		require.True(t, allowed)
	}

	allowed, err := limiter.AllowLLMCall(ctx, "gold")
	require.NoError(t, err)
	assert.False(t, allowed, "超出配额的调用应被拒绝")
}

// TestAllowLLMCall_TiersAreIndependent 测试档位之间配额互不影响
func TestAllowLLMCall_TiersAreIndependent(t *testing.T) {
	limiter := setupTestLimiter(t)
	defer limiter.Close()

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		allowed, err := limiter.AllowLLMCall(ctx, "gold")
		require.NoError(t, err)
		require.True(t, allowed)
	}

	// gold已耗尽，silver仍有配额
	allowed, err := limiter.AllowLLMCall(ctx, "gold")
	require.NoError(t, err)
	assert.False(t, allowed)

	allowed, err = limiter.AllowLLMCall(ctx, "silver")
	require.NoError(t, err)
	assert.True(t, allowed)
}

// TestAllowLLMCall_UnknownTier 测试未配置档位直接放行
func TestAllowLLMCall_UnknownTier(t *testing.T) {
	limiter := setupTestLimiter(t)
	defer limiter.Close()

	allowed, err := limiter.AllowLLMCall(context.Background(), "platinum")
	require.NoError(t, err)
	assert.True(t, allowed)
}

// TestAllowLLMCall_Concurrent 测试并发调用不会超发配额
func TestAllowLLMCall_Concurrent(t *testing.T) {
	limiter := setupTestLimiter(t)
	defer limiter.Close()

	ctx := context.Background()
	var wg sync.WaitGroup
	var mu sync.Mutex
	allowedCount := 0

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			allowed, err := limiter.AllowLLMCall(ctx, "gold")
			if err == nil && allowed {
				mu.Lock()
				allowedCount++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 5, allowedCount, "并发场景下放行次数不应超过配额")
}

// TestGetStats 测试限流统计信息
func TestGetStats(t *testing.T) {
	limiter := setupTestLimiter(t)
	defer limiter.Close()

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := limiter.AllowLLMCall(ctx, "silver")
		require.NoError(t, err)
	}

	stats, err := limiter.GetStats(ctx, "silver")
	require.NoError(t, err)
	assert.Equal(t, 3, stats["current"])
	assert.Equal(t, 10, stats["limit"])
	assert.Equal(t, 7, stats["remaining"])

	_, err = limiter.GetStats(ctx, "platinum")
	assert.Error(t, err)
}

// TestResetTier 测试重置后配额恢复
func TestResetTier(t *testing.T) {
	limiter := setupTestLimiter(t)
	defer limiter.Close()

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_, err := limiter.AllowLLMCall(ctx, "gold")
		require.NoError(t, err)
	}

	allowed, err := limiter.AllowLLMCall(ctx, "gold")
	require.NoError(t, err)
	require.False(t, allowed)

	require.NoError(t, limiter.ResetTier(ctx, "gold"))

	allowed, err = limiter.AllowLLMCall(ctx, "gold")
	require.NoError(t, err)
	assert.True(t, allowed, "重置后应重新放行")
}
