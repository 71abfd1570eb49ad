/*
 * @module api/controllers/source_controller
 * @description 内容来源管理控制器，处理来源配置、手动抓取与健康状态查询
 * @architecture MVC架构 - 控制器层
 * @documentReference dev_docs/backend_requirements.md
 * @stateFlow HTTP请求处理流程
 * @rules 来源配置变更后重载抓取调度；鉴权脚本在保存时做语法校验
 * @dependencies foresight-service/service, github.com/go-chi/render
 * @refs dev_docs/model.md
 */

package controllers

import (
	"net/http"
	"strconv"

	"foresight-service/api/middleware"
	"foresight-service/service"
	"foresight-service/service/crawler"
	"foresight-service/service/models"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
)

// SourceController 内容来源管理控制器
type SourceController struct {
	crawlerService *crawler.CrawlerService
}

// NewSourceController 创建来源控制器实例
func NewSourceController() *SourceController {
	return &SourceController{
		crawlerService: service.GlobalCrawlerService,
	}
}

// CreateSourceRequest 创建来源请求
type CreateSourceRequest struct {
	Name              string       `json:"name" example:"财经快讯"`
	Type              string       `json:"type" example:"http"`
	URL               string       `json:"url" example:"https://feed.example.com/items"`
	Scope             models.Scope `json:"scope"`
	CronExpr          string       `json:"cron_expr,omitempty" example:"0 */15 * * * *"`
	AuthScript        string       `json:"auth_script,omitempty"`
	AuthScriptEnabled bool         `json:"auth_script_enabled"`
}

// CreateSource 创建来源
// @Summary 创建来源
// @Description 创建内容来源并纳入抓取调度
// @Tags 来源管理
// @Accept json
// @Produce json
// @Param request body CreateSourceRequest true "来源配置"
// @Success 200 {object} APIResponse{data=models.Source}
// @Failure 400 {object} APIResponse
// @Router /sources [post]
func (c *SourceController) CreateSource(w http.ResponseWriter, r *http.Request) {
	var req CreateSourceRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		render.Render(w, r, ErrorResponse(http.StatusBadRequest, "请求参数解析失败", err))
		return
	}
	if req.Name == "" {
		render.Render(w, r, ErrorResponse(http.StatusBadRequest, "来源名称不能为空", nil))
		return
	}

	// 鉴权脚本在保存时做语法校验，抓取期再失败代价太高
	if req.AuthScriptEnabled && req.AuthScript != "" {
		if err := crawler.NewAuthScriptExecutor().Validate(req.AuthScript); err != nil {
			render.Render(w, r, ErrorResponse(http.StatusBadRequest, "鉴权脚本校验失败", err))
			return
		}
	}

	source := models.Source{
		OrgID:             middleware.OrgID(r),
		Name:              req.Name,
		Type:              req.Type,
		URL:               req.URL,
		Scope:             req.Scope,
		AuthScript:        req.AuthScript,
		AuthScriptEnabled: req.AuthScriptEnabled,
	}
	if req.CronExpr != "" {
		source.CronExpr = req.CronExpr
	}
	if err := service.DB.WithContext(r.Context()).Create(&source).Error; err != nil {
		render.Render(w, r, ServiceErrorResponse("创建来源失败", err))
		return
	}

	if err := c.crawlerService.Reload(); err != nil {
		render.Render(w, r, ErrorResponse(http.StatusInternalServerError, "抓取调度重载失败", err))
		return
	}

	render.JSON(w, r, SuccessResponse("创建成功", source))
}

// ListSources 查询来源列表
// @Summary 查询来源列表
// @Description 查询组织下所有内容来源
// @Tags 来源管理
// @Produce json
// @Success 200 {object} APIResponse{data=[]models.Source}
// @Router /sources [get]
func (c *SourceController) ListSources(w http.ResponseWriter, r *http.Request) {
	var sources []models.Source
	err := service.DB.WithContext(r.Context()).
		Where("org_id = ?", middleware.OrgID(r)).
		Order("created_at DESC").
		Find(&sources).Error
	if err != nil {
		render.Render(w, r, ErrorResponse(http.StatusInternalServerError, "查询来源失败", err))
		return
	}

	render.JSON(w, r, SuccessResponse("查询成功", sources))
}

// SetSourceStatusRequest 来源状态变更请求
type SetSourceStatusRequest struct {
	Status string `json:"status" example:"inactive"`
}

// SetSourceStatus 启停来源
// @Summary 启停来源
// @Description 启用或停用来源，启用时重置连续失败计数
// @Tags 来源管理
// @Accept json
// @Produce json
// @Param id path string true "来源ID"
// @Param request body SetSourceStatusRequest true "目标状态"
// @Success 200 {object} APIResponse
// @Failure 404 {object} APIResponse
// @Router /sources/{id}/status [put]
func (c *SourceController) SetSourceStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req SetSourceStatusRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		render.Render(w, r, ErrorResponse(http.StatusBadRequest, "请求参数解析失败", err))
		return
	}
	if req.Status != "active" && req.Status != "inactive" {
		render.Render(w, r, ErrorResponse(http.StatusBadRequest, "无效的来源状态: "+req.Status, nil))
		return
	}

	updates := map[string]interface{}{"status": req.Status}
	if req.Status == "active" {
		updates["consecutive_failures"] = 0
	}

	result := service.DB.WithContext(r.Context()).
		Model(&models.Source{}).
		Where("id = ? AND org_id = ?", id, middleware.OrgID(r)).
		Updates(updates)
	if result.Error != nil {
		render.Render(w, r, ErrorResponse(http.StatusInternalServerError, "来源状态变更失败", result.Error))
		return
	}
	if result.RowsAffected == 0 {
		render.Render(w, r, ErrorResponse(http.StatusNotFound, "来源不存在", nil))
		return
	}

	if err := c.crawlerService.Reload(); err != nil {
		render.Render(w, r, ErrorResponse(http.StatusInternalServerError, "抓取调度重载失败", err))
		return
	}

	render.JSON(w, r, SuccessResponse("状态变更成功", map[string]string{"source_id": id, "status": req.Status}))
}

// TriggerCrawl 手动触发抓取
// @Summary 手动触发抓取
// @Description 立即对指定来源执行一次抓取，与调度抓取共享工作池
// @Tags 来源管理
// @Produce json
// @Param id path string true "来源ID"
// @Success 200 {object} APIResponse{data=models.CrawlRun}
// @Failure 404 {object} APIResponse
// @Router /sources/{id}/crawl [post]
func (c *SourceController) TriggerCrawl(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	run, err := c.crawlerService.TriggerCrawl(r.Context(), id)
	if err != nil {
		render.Render(w, r, ServiceErrorResponse("触发抓取失败", err))
		return
	}

	render.JSON(w, r, SuccessResponse("抓取完成", run))
}

// GetSourceHealth 查询来源健康状态
// @Summary 查询来源健康状态
// @Description 查询组织下所有来源的抓取健康状态与调度情况
// @Tags 来源管理
// @Produce json
// @Success 200 {object} APIResponse{data=[]crawler.SourceHealth}
// @Router /sources/health [get]
func (c *SourceController) GetSourceHealth(w http.ResponseWriter, r *http.Request) {
	health, err := c.crawlerService.Health(r.Context(), middleware.OrgID(r))
	if err != nil {
		render.Render(w, r, ErrorResponse(http.StatusInternalServerError, "查询来源健康状态失败", err))
		return
	}

	render.JSON(w, r, SuccessResponse("查询成功", health))
}

// ListCrawlRuns 查询抓取记录
// @Summary 查询抓取记录
// @Description 按来源查询最近的抓取记录，含四层去重计数
// @Tags 来源管理
// @Produce json
// @Param id path string true "来源ID"
// @Param limit query int false "返回条数上限" default(50)
// @Success 200 {object} APIResponse{data=[]models.CrawlRun}
// @Router /sources/{id}/runs [get]
func (c *SourceController) ListCrawlRuns(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}

	runs, err := c.crawlerService.ListRuns(r.Context(), id, limit)
	if err != nil {
		render.Render(w, r, ErrorResponse(http.StatusInternalServerError, "查询抓取记录失败", err))
		return
	}

	render.JSON(w, r, SuccessResponse("查询成功", runs))
}
