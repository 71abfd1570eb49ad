/*
 * @module api/controllers/testdata_controller
 * @description 测试数据管理控制器，处理测试场景清理与全量测试数据清除
 * @architecture RESTful API架构 - 控制器层
 * @documentReference dev_docs/backend_requirements.md
 * @stateFlow HTTP请求 -> 按表事务删除 -> 计数响应
 * @rules 清理只触碰带测试标记的行；全量清除需要管理令牌
 * @dependencies foresight-service/service, github.com/go-chi/render
 * @refs dev_docs/model.md
 */

package controllers

import (
	"net/http"

	"foresight-service/service"
	"foresight-service/service/testdata"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
)

// TestDataController 测试数据管理控制器
type TestDataController struct {
	isolationService *testdata.IsolationService
}

// NewTestDataController 创建测试数据控制器实例
func NewTestDataController() *TestDataController {
	return &TestDataController{
		isolationService: service.GlobalIsolationService,
	}
}

// CleanupScenario 清理测试场景
// @Summary 清理测试场景
// @Description 删除指定测试场景的全部数据，按表独立事务执行，幂等
// @Tags 测试数据
// @Produce json
// @Param id path string true "测试场景ID"
// @Success 200 {object} APIResponse{data=map[string]int64}
// @Router /testdata/scenarios/{id} [delete]
func (c *TestDataController) CleanupScenario(w http.ResponseWriter, r *http.Request) {
	scenarioID := chi.URLParam(r, "id")

	counts, err := c.isolationService.CleanupScenario(r.Context(), scenarioID)
	if err != nil {
		render.Render(w, r, ErrorResponse(http.StatusInternalServerError, "测试场景清理失败", err))
		return
	}

	render.JSON(w, r, SuccessResponse("清理完成", counts))
}

// PurgeRequest 全量清除请求
type PurgeRequest struct {
	Token string `json:"token"`
}

// PurgeAllTestData 清除全部测试数据
// @Summary 清除全部测试数据
// @Description 跨组织删除所有带测试标记的数据，需要管理令牌
// @Tags 测试数据
// @Accept json
// @Produce json
// @Param request body PurgeRequest true "管理令牌"
// @Success 200 {object} APIResponse{data=map[string]int64}
// @Failure 403 {object} APIResponse
// @Router /testdata/purge [post]
func (c *TestDataController) PurgeAllTestData(w http.ResponseWriter, r *http.Request) {
	var req PurgeRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		render.Render(w, r, ErrorResponse(http.StatusBadRequest, "请求参数解析失败", err))
		return
	}

	counts, err := c.isolationService.PurgeAllTestData(r.Context(), req.Token)
	if err != nil {
		render.Render(w, r, ErrorResponse(http.StatusForbidden, "全量清除被拒绝", err))
		return
	}

	render.JSON(w, r, SuccessResponse("清除完成", counts))
}
