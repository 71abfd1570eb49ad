/*
 * @module service/crawler/auth_script_test
 * @description 鉴权脚本执行器测试：脚本执行、参数注入、返回值约束与语法校验
 * @architecture 单元测试
 */

package crawler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthScriptHeaders(t *testing.T) {
	executor := NewAuthScriptExecutor()

	t.Run("脚本返回的键值对作为请求头", func(t *testing.T) {
		script := `
	token := fmt.Sprintf("Bearer %d", 42)
	return map[string]interface{}{
		"Authorization": token,
		"X-Api-Version": "v2",
	}, nil`

		headers, err := executor.Headers(script, "https://feed.example.com")
		require.NoError(t, err)
		assert.Equal(t, "Bearer 42", headers["Authorization"])
		assert.Equal(t, "v2", headers["X-Api-Version"])
	})

	t.Run("脚本可以读取sourceURL参数", func(t *testing.T) {
		script := `
	return map[string]interface{}{
		"X-Source": fmt.Sprintf("%v", params["sourceURL"]),
	}, nil`

		headers, err := executor.Headers(script, "https://feed.example.com/items")
		require.NoError(t, err)
		assert.Equal(t, "https://feed.example.com/items", headers["X-Source"])
	})

	t.Run("非map返回值被拒绝", func(t *testing.T) {
		script := `
	_ = fmt.Sprintf("")
	return 42, nil`

		_, err := executor.Headers(script, "https://feed.example.com")
		assert.Error(t, err)
	})

	t.Run("脚本执行错误向上传播", func(t *testing.T) {
		script := `
	_ = fmt.Sprintf("")
	return nil, fmt.Errorf("token服务不可用")`

		_, err := executor.Headers(script, "https://feed.example.com")
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "鉴权脚本执行失败")
	})
}

func TestAuthScriptValidate(t *testing.T) {
	executor := NewAuthScriptExecutor()

	t.Run("合法脚本通过校验", func(t *testing.T) {
		script := `
	return map[string]interface{}{"X-Token": fmt.Sprintf("%d", 1)}, nil`
		assert.NoError(t, executor.Validate(script))
	})

	t.Run("语法错误被拒绝", func(t *testing.T) {
		script := `this is not go code {{{`
		assert.Error(t, executor.Validate(script))
	})
}
