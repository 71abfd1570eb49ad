/*
 * @module api/controllers/universe_controller
 * @description 标的集与标的管理控制器，处理标的宇宙层级的增删改查
 * @architecture MVC架构 - 控制器层
 * @documentReference dev_docs/backend_requirements.md
 * @stateFlow HTTP请求处理流程
 * @rules 生产标的创建时同步建立测试镜像；标的停用时取消在途集成运行
 * @dependencies foresight-service/service, github.com/go-chi/render
 * @refs dev_docs/model.md
 */

package controllers

import (
	"net/http"

	"foresight-service/api/middleware"
	"foresight-service/service"
	"foresight-service/service/models"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
)

// UniverseController 标的集管理控制器
type UniverseController struct{}

// NewUniverseController 创建标的集控制器实例
func NewUniverseController() *UniverseController {
	return &UniverseController{}
}

// CreateUniverseRequest 创建标的集请求
type CreateUniverseRequest struct {
	AgentID string `json:"agent_id" example:"agent-001"`
	Name    string `json:"name" example:"美股科技"`
	Domain  string `json:"domain" example:"stocks"`
}

// CreateUniverse 创建标的集
// @Summary 创建标的集
// @Description 创建新的标的集，领域决定其下所有标的的方向词汇表
// @Tags 标的管理
// @Accept json
// @Produce json
// @Param request body CreateUniverseRequest true "标的集"
// @Success 200 {object} APIResponse{data=models.Universe}
// @Failure 400 {object} APIResponse
// @Router /universes [post]
func (c *UniverseController) CreateUniverse(w http.ResponseWriter, r *http.Request) {
	var req CreateUniverseRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		render.Render(w, r, ErrorResponse(http.StatusBadRequest, "请求参数解析失败", err))
		return
	}
	if req.AgentID == "" || req.Name == "" {
		render.Render(w, r, ErrorResponse(http.StatusBadRequest, "agent_id和name不能为空", nil))
		return
	}

	universe := models.Universe{
		OrgID:   middleware.OrgID(r),
		AgentID: req.AgentID,
		Name:    req.Name,
		Domain:  req.Domain,
	}
	if err := service.DB.WithContext(r.Context()).Create(&universe).Error; err != nil {
		render.Render(w, r, ServiceErrorResponse("创建标的集失败", err))
		return
	}

	render.JSON(w, r, SuccessResponse("创建成功", universe))
}

// ListUniverses 查询标的集列表
// @Summary 查询标的集列表
// @Description 查询组织下所有标的集
// @Tags 标的管理
// @Produce json
// @Success 200 {object} APIResponse{data=[]models.Universe}
// @Router /universes [get]
func (c *UniverseController) ListUniverses(w http.ResponseWriter, r *http.Request) {
	var universes []models.Universe
	err := service.DB.WithContext(r.Context()).
		Where("org_id = ?", middleware.OrgID(r)).
		Order("created_at DESC").
		Find(&universes).Error
	if err != nil {
		render.Render(w, r, ErrorResponse(http.StatusInternalServerError, "查询标的集失败", err))
		return
	}

	render.JSON(w, r, SuccessResponse("查询成功", universes))
}

// GetUniverse 查询标的集
// @Summary 查询标的集
// @Description 按ID查询标的集及其下属标的
// @Tags 标的管理
// @Produce json
// @Param id path string true "标的集ID"
// @Success 200 {object} APIResponse{data=models.Universe}
// @Failure 404 {object} APIResponse
// @Router /universes/{id} [get]
func (c *UniverseController) GetUniverse(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var universe models.Universe
	err := service.DB.WithContext(r.Context()).
		Preload("Targets").
		Where("id = ? AND org_id = ?", id, middleware.OrgID(r)).
		First(&universe).Error
	if err != nil {
		render.Render(w, r, ErrorResponse(http.StatusNotFound, "标的集不存在", err))
		return
	}

	render.JSON(w, r, SuccessResponse("查询成功", universe))
}

// CreateTargetRequest 创建标的请求
type CreateTargetRequest struct {
	Symbol string `json:"symbol" example:"AAPL"`
	Name   string `json:"name" example:"苹果公司"`
}

// CreateTarget 创建标的
// @Summary 创建标的
// @Description 在标的集下创建标的，领域继承自标的集，同时建立测试镜像
// @Tags 标的管理
// @Accept json
// @Produce json
// @Param id path string true "标的集ID"
// @Param request body CreateTargetRequest true "标的"
// @Success 200 {object} APIResponse{data=models.Target}
// @Failure 400 {object} APIResponse
// @Router /universes/{id}/targets [post]
func (c *UniverseController) CreateTarget(w http.ResponseWriter, r *http.Request) {
	universeID := chi.URLParam(r, "id")

	var req CreateTargetRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		render.Render(w, r, ErrorResponse(http.StatusBadRequest, "请求参数解析失败", err))
		return
	}

	var universe models.Universe
	err := service.DB.WithContext(r.Context()).
		Where("id = ? AND org_id = ?", universeID, middleware.OrgID(r)).
		First(&universe).Error
	if err != nil {
		render.Render(w, r, ErrorResponse(http.StatusNotFound, "标的集不存在", err))
		return
	}

	target := models.Target{
		UniverseID: universe.ID,
		OrgID:      universe.OrgID,
		Symbol:     req.Symbol,
		Name:       req.Name,
		Domain:     universe.Domain,
		Status:     "active",
	}
	// 标的与其测试镜像在同一事务内建立，镜像失败则整体回滚
	if err := service.GlobalIsolationService.RegisterTarget(r.Context(), &target); err != nil {
		render.Render(w, r, ServiceErrorResponse("创建标的失败", err))
		return
	}

	render.JSON(w, r, SuccessResponse("创建成功", target))
}

// GetTarget 查询标的
// @Summary 查询标的
// @Description 按ID查询标的
// @Tags 标的管理
// @Produce json
// @Param id path string true "标的ID"
// @Success 200 {object} APIResponse{data=models.Target}
// @Failure 404 {object} APIResponse
// @Router /targets/{id} [get]
func (c *UniverseController) GetTarget(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var target models.Target
	err := service.DB.WithContext(r.Context()).
		Where("id = ? AND org_id = ?", id, middleware.OrgID(r)).
		First(&target).Error
	if err != nil {
		render.Render(w, r, ErrorResponse(http.StatusNotFound, "标的不存在", err))
		return
	}

	render.JSON(w, r, SuccessResponse("查询成功", target))
}

// GetTargetMirror 查询标的的测试镜像
// @Summary 查询测试镜像
// @Description 查询生产标的对应的测试镜像标的
// @Tags 标的管理
// @Produce json
// @Param id path string true "生产标的ID"
// @Success 200 {object} APIResponse{data=models.Target}
// @Failure 404 {object} APIResponse
// @Router /targets/{id}/mirror [get]
func (c *UniverseController) GetTargetMirror(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	mirror, err := service.GlobalIsolationService.MirrorOf(r.Context(), id)
	if err != nil {
		render.Render(w, r, ServiceErrorResponse("查询测试镜像失败", err))
		return
	}

	render.JSON(w, r, SuccessResponse("查询成功", mirror))
}

// DeactivateTarget 停用标的
// @Summary 停用标的
// @Description 停用标的并取消其在途集成运行，已产出的Predictor保持未消费
// @Tags 标的管理
// @Produce json
// @Param id path string true "标的ID"
// @Success 200 {object} APIResponse
// @Failure 404 {object} APIResponse
// @Router /targets/{id}/deactivate [post]
func (c *UniverseController) DeactivateTarget(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	result := service.DB.WithContext(r.Context()).
		Model(&models.Target{}).
		Where("id = ? AND org_id = ? AND status = ?", id, middleware.OrgID(r), "active").
		Update("status", "inactive")
	if result.Error != nil {
		render.Render(w, r, ErrorResponse(http.StatusInternalServerError, "停用标的失败", result.Error))
		return
	}
	if result.RowsAffected == 0 {
		render.Render(w, r, ErrorResponse(http.StatusNotFound, "标的不存在或已停用", nil))
		return
	}

	// 取消该标的的在途集成运行
	service.GlobalEnsembleEngine.CancelRun(id)

	render.JSON(w, r, SuccessResponse("停用成功", map[string]string{"target_id": id}))
}

// ActivateTarget 启用标的
// @Summary 启用标的
// @Description 重新启用已停用的标的
// @Tags 标的管理
// @Produce json
// @Param id path string true "标的ID"
// @Success 200 {object} APIResponse
// @Failure 404 {object} APIResponse
// @Router /targets/{id}/activate [post]
func (c *UniverseController) ActivateTarget(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	result := service.DB.WithContext(r.Context()).
		Model(&models.Target{}).
		Where("id = ? AND org_id = ? AND status = ?", id, middleware.OrgID(r), "inactive").
		Update("status", "active")
	if result.Error != nil {
		render.Render(w, r, ErrorResponse(http.StatusInternalServerError, "启用标的失败", result.Error))
		return
	}
	if result.RowsAffected == 0 {
		render.Render(w, r, ErrorResponse(http.StatusNotFound, "标的不存在或已启用", nil))
		return
	}

	render.JSON(w, r, SuccessResponse("启用成功", map[string]string{"target_id": id}))
}
