/*
 * @module api/middleware/org_context
 * @description 组织上下文中间件，从请求头提取组织ID并注入请求上下文
 * @architecture 中间件模式 - HTTP请求拦截和上下文注入
 * @stateFlow 请求头提取 -> 格式校验 -> 上下文注入 -> 下一个处理器
 * @rules 所有业务数据按组织隔离；缺省组织用于单租户部署
 * @dependencies net/http, github.com/google/uuid
 * @refs api/routes.go
 */

package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

// ContextKey 上下文键类型
type ContextKey string

// OrgIDKey 组织ID在上下文中的键
const OrgIDKey ContextKey = "org_id"

// OrgHeader 携带组织ID的请求头
const OrgHeader = "X-Org-ID"

// DefaultOrgID 单租户部署的缺省组织
const DefaultOrgID = "00000000-0000-0000-0000-000000000000"

// OrgContext 提取组织ID注入上下文；请求头缺失时使用缺省组织
func OrgContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		orgID := r.Header.Get(OrgHeader)
		if orgID == "" {
			orgID = DefaultOrgID
		} else if _, err := uuid.Parse(orgID); err != nil {
			http.Error(w, "无效的组织ID", http.StatusBadRequest)
			return
		}
		ctx := context.WithValue(r.Context(), OrgIDKey, orgID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// OrgID 从请求上下文读取组织ID
func OrgID(r *http.Request) string {
	if v, ok := r.Context().Value(OrgIDKey).(string); ok && v != "" {
		return v
	}
	return DefaultOrgID
}
