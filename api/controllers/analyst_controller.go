/*
 * @module api/controllers/analyst_controller
 * @description 分析师管理控制器，处理人格型分析师与上下文提供者的配置
 * @architecture MVC架构 - 控制器层
 * @documentReference dev_docs/backend_requirements.md
 * @stateFlow HTTP请求处理流程
 * @rules 人格型分析师必须携带三档指令集；上下文提供者仅携带知识材料
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

// AnalystController 分析师管理控制器
type AnalystController struct{}

// NewAnalystController 创建分析师控制器实例
func NewAnalystController() *AnalystController {
	return &AnalystController{}
}

// CreateAnalystRequest 创建分析师请求
type CreateAnalystRequest struct {
	Kind         string                  `json:"kind" example:"personality"`
	Name         string                  `json:"name" example:"基本面分析师"`
	Perspective  string                  `json:"perspective,omitempty"`
	Weight       float64                 `json:"weight,omitempty" example:"1.0"`
	Scope        models.Scope            `json:"scope"`
	Instructions models.TierInstructions `json:"instructions,omitempty"`
	Material     string                  `json:"material,omitempty"`
}

// CreateAnalyst 创建分析师
// @Summary 创建分析师
// @Description 创建人格型分析师或上下文提供者，作用域决定其参与哪些标的的集成
// @Tags 分析师管理
// @Accept json
// @Produce json
// @Param request body CreateAnalystRequest true "分析师配置"
// @Success 200 {object} APIResponse{data=models.Analyst}
// @Failure 400 {object} APIResponse
// @Router /analysts [post]
func (c *AnalystController) CreateAnalyst(w http.ResponseWriter, r *http.Request) {
	var req CreateAnalystRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		render.Render(w, r, ErrorResponse(http.StatusBadRequest, "请求参数解析失败", err))
		return
	}

	analyst := models.Analyst{
		OrgID:       middleware.OrgID(r),
		Kind:        req.Kind,
		Name:        req.Name,
		Perspective: req.Perspective,
		Weight:      req.Weight,
		Scope:       req.Scope,
		Material:    req.Material,
	}
	if analyst.Weight == 0 {
		analyst.Weight = 1.0
	}
	analyst.SetTierInstructions(req.Instructions)

	if err := service.DB.WithContext(r.Context()).Create(&analyst).Error; err != nil {
		render.Render(w, r, ServiceErrorResponse("创建分析师失败", err))
		return
	}

	render.JSON(w, r, SuccessResponse("创建成功", analyst))
}

// ListAnalysts 查询分析师列表
// @Summary 查询分析师列表
// @Description 查询组织下所有分析师，支持按类型过滤
// @Tags 分析师管理
// @Produce json
// @Param kind query string false "类型过滤 personality|context_provider"
// @Success 200 {object} APIResponse{data=[]models.Analyst}
// @Router /analysts [get]
func (c *AnalystController) ListAnalysts(w http.ResponseWriter, r *http.Request) {
	query := service.DB.WithContext(r.Context()).Where("org_id = ?", middleware.OrgID(r))
	if kind := r.URL.Query().Get("kind"); kind != "" {
		query = query.Where("kind = ?", kind)
	}

	var analysts []models.Analyst
	if err := query.Order("created_at").Find(&analysts).Error; err != nil {
		render.Render(w, r, ErrorResponse(http.StatusInternalServerError, "查询分析师失败", err))
		return
	}

	render.JSON(w, r, SuccessResponse("查询成功", analysts))
}

// GetAnalyst 查询分析师
// @Summary 查询分析师
// @Description 按ID查询分析师
// @Tags 分析师管理
// @Produce json
// @Param id path string true "分析师ID"
// @Success 200 {object} APIResponse{data=models.Analyst}
// @Failure 404 {object} APIResponse
// @Router /analysts/{id} [get]
func (c *AnalystController) GetAnalyst(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var analyst models.Analyst
	err := service.DB.WithContext(r.Context()).
		Where("id = ? AND org_id = ?", id, middleware.OrgID(r)).
		First(&analyst).Error
	if err != nil {
		render.Render(w, r, ErrorResponse(http.StatusNotFound, "分析师不存在", err))
		return
	}

	render.JSON(w, r, SuccessResponse("查询成功", analyst))
}

// UpdateAnalystRequest 更新分析师请求
type UpdateAnalystRequest struct {
	Perspective  *string                  `json:"perspective,omitempty"`
	Weight       *float64                 `json:"weight,omitempty"`
	Instructions *models.TierInstructions `json:"instructions,omitempty"`
	Material     *string                  `json:"material,omitempty"`
	Status       *string                  `json:"status,omitempty"`
}

// UpdateAnalyst 更新分析师
// @Summary 更新分析师
// @Description 更新分析师的视角、权重、指令集、材料或状态
// @Tags 分析师管理
// @Accept json
// @Produce json
// @Param id path string true "分析师ID"
// @Param request body UpdateAnalystRequest true "更新内容"
// @Success 200 {object} APIResponse{data=models.Analyst}
// @Failure 404 {object} APIResponse
// @Router /analysts/{id} [put]
func (c *AnalystController) UpdateAnalyst(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req UpdateAnalystRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		render.Render(w, r, ErrorResponse(http.StatusBadRequest, "请求参数解析失败", err))
		return
	}

	var analyst models.Analyst
	err := service.DB.WithContext(r.Context()).
		Where("id = ? AND org_id = ?", id, middleware.OrgID(r)).
		First(&analyst).Error
	if err != nil {
		render.Render(w, r, ErrorResponse(http.StatusNotFound, "分析师不存在", err))
		return
	}

	if req.Perspective != nil {
		analyst.Perspective = *req.Perspective
	}
	if req.Weight != nil {
		analyst.Weight = *req.Weight
	}
	if req.Instructions != nil {
		analyst.SetTierInstructions(*req.Instructions)
	}
	if req.Material != nil {
		analyst.Material = *req.Material
	}
	if req.Status != nil {
		analyst.Status = *req.Status
	}

	if err := service.DB.WithContext(r.Context()).Save(&analyst).Error; err != nil {
		render.Render(w, r, ServiceErrorResponse("更新分析师失败", err))
		return
	}

	render.JSON(w, r, SuccessResponse("更新成功", analyst))
}
