/*
 * @module service/crawler/auth_script
 * @description 内容源鉴权脚本执行器：用 yaegi 解释执行用户提供的Go脚本，产出抓取请求的鉴权头，
 *              编译结果按脚本哈希缓存
 * @architecture 解释器模式 - 动态脚本扩展非标准鉴权流程
 * @documentReference ai_docs/crawler_req.md
 * @stateFlow 脚本哈希 -> 缓存命中/编译 -> 调用 Run(params) -> 鉴权头
 * @rules 脚本必须返回 map[string]interface{}，键值对作为HTTP请求头注入；执行失败视为本次抓取失败
 * @dependencies github.com/traefik/yaegi
 * @refs service/crawler/source_runner.go
 */

package crawler

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"
)

// compiledAuthScript 编译后的鉴权脚本
type compiledAuthScript struct {
	fn func(params map[string]interface{}) (interface{}, error)
}

// AuthScriptExecutor yaegi鉴权脚本执行器，带编译缓存
type AuthScriptExecutor struct {
	mu    sync.RWMutex
	cache map[string]*compiledAuthScript
}

// NewAuthScriptExecutor 创建鉴权脚本执行器
func NewAuthScriptExecutor() *AuthScriptExecutor {
	return &AuthScriptExecutor{
		cache: make(map[string]*compiledAuthScript),
	}
}

// Headers 执行鉴权脚本并返回请求头键值对
func (e *AuthScriptExecutor) Headers(script, sourceURL string) (map[string]string, error) {
	hash := scriptHash(script)

	e.mu.RLock()
	compiled, ok := e.cache[hash]
	e.mu.RUnlock()

	if !ok {
		var err error
		compiled, err = e.compile(script)
		if err != nil {
			return nil, fmt.Errorf("鉴权脚本编译失败: %w", err)
		}
		e.mu.Lock()
		e.cache[hash] = compiled
		e.mu.Unlock()
	}

	result, err := compiled.fn(map[string]interface{}{
		"sourceURL": sourceURL,
	})
	if err != nil {
		return nil, fmt.Errorf("鉴权脚本执行失败: %w", err)
	}

	raw, ok := result.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("鉴权脚本必须返回 map[string]interface{}, 实际返回 %T", result)
	}

	headers := make(map[string]string, len(raw))
	for k, v := range raw {
		headers[k] = fmt.Sprintf("%v", v)
	}
	return headers, nil
}

// compile 编译脚本为可执行函数
func (e *AuthScriptExecutor) compile(script string) (*compiledAuthScript, error) {
	i := interp.New(interp.Options{})
	if err := i.Use(stdlib.Symbols); err != nil {
		return nil, fmt.Errorf("加载标准库失败: %w", err)
	}

	// 包装脚本：要求脚本必须实现一个 Run 函数
	wrapped := fmt.Sprintf(`
package main

import (
	"fmt"
	"time"
	"encoding/json"
	"crypto/sha1"
	"encoding/hex"
	"sort"
	"strings"
)

// 必须提供一个 Run 函数作为入口
func Run(params map[string]interface{}) (interface{}, error) {
	var sourceURL interface{}
	if u, exists := params["sourceURL"]; exists {
		sourceURL = u
	}
	_ = sourceURL

	// 脚本内容
%s
}
`, script)

	if _, err := i.Eval(wrapped); err != nil {
		return nil, fmt.Errorf("脚本求值失败: %w", err)
	}

	v, err := i.Eval("main.Run")
	if err != nil {
		return nil, fmt.Errorf("脚本缺少 Run 入口: %w", err)
	}
	fn, ok := v.Interface().(func(map[string]interface{}) (interface{}, error))
	if !ok {
		return nil, fmt.Errorf("Run 签名必须是 func(map[string]interface{}) (interface{}, error)")
	}
	return &compiledAuthScript{fn: fn}, nil
}

// Validate 验证脚本语法（快速校验，供源注册时调用）
func (e *AuthScriptExecutor) Validate(script string) error {
	_, err := e.compile(script)
	return err
}

// ClearCache 清理编译缓存
func (e *AuthScriptExecutor) ClearCache() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cache = make(map[string]*compiledAuthScript)
}

// scriptHash 脚本内容哈希，作为缓存键
func scriptHash(script string) string {
	sum := sha1.Sum([]byte(script))
	return hex.EncodeToString(sum[:])
}
