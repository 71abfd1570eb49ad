/*
 * @module api/controllers/content_controller
 * @description 内容摄取控制器，提供原始内容提交、文章与信号查询API
 * @architecture RESTful API架构 - 控制器层
 * @documentReference dev_docs/backend_requirements.md
 * @stateFlow HTTP请求 -> 四层去重 -> 信号提取 -> 响应返回
 * @rules 提交接口幂等：重复内容返回去重分类而非错误
 * @dependencies foresight-service/service, github.com/go-chi/render
 * @refs dev_docs/model.md
 */

package controllers

import (
	"net/http"
	"strconv"
	"time"

	"foresight-service/api/middleware"
	"foresight-service/service"
	"foresight-service/service/content"
	"foresight-service/service/models"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
)

// ContentController 内容摄取控制器
type ContentController struct {
	contentService *content.ContentService
}

// NewContentController 创建内容摄取控制器实例
func NewContentController() *ContentController {
	return &ContentController{
		contentService: service.GlobalContentService,
	}
}

// SubmitItemRequest 原始内容提交请求
type SubmitItemRequest struct {
	SourceID       string  `json:"source_id" example:"a1b2c3d4-..."`
	Title          string  `json:"title" example:"央行宣布降息25个基点"`
	Content        string  `json:"content"`
	URL            string  `json:"url,omitempty"`
	PublishedAt    string  `json:"published_at,omitempty" example:"2024-01-01T00:00:00Z"`
	Charset        string  `json:"charset,omitempty" example:"gbk"`
	TestScenarioID *string `json:"test_scenario_id,omitempty"`
}

// SubmitItem 提交原始内容
// @Summary 提交原始内容
// @Description 提交一条原始内容，经四层去重后入库并提取信号
// @Tags 内容
// @Accept json
// @Produce json
// @Param request body SubmitItemRequest true "原始内容"
// @Success 200 {object} APIResponse{data=models.DedupResult}
// @Failure 400 {object} APIResponse
// @Router /content/items [post]
func (c *ContentController) SubmitItem(w http.ResponseWriter, r *http.Request) {
	var req SubmitItemRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		render.Render(w, r, ErrorResponse(http.StatusBadRequest, "请求参数解析失败", err))
		return
	}
	if req.SourceID == "" {
		render.Render(w, r, ErrorResponse(http.StatusBadRequest, "来源ID不能为空", nil))
		return
	}
	if req.Title == "" {
		render.Render(w, r, ErrorResponse(http.StatusBadRequest, "标题不能为空", nil))
		return
	}

	item := &models.RawItem{
		OrgID:          middleware.OrgID(r),
		SourceID:       req.SourceID,
		Title:          req.Title,
		Content:        req.Content,
		URL:            req.URL,
		Charset:        req.Charset,
		TestScenarioID: req.TestScenarioID,
	}
	if req.PublishedAt != "" {
		parsed, err := time.Parse(time.RFC3339, req.PublishedAt)
		if err != nil {
			render.Render(w, r, ErrorResponse(http.StatusBadRequest, "published_at时间格式错误", err))
			return
		}
		item.PublishedAt = parsed
	}

	result, err := c.contentService.Submit(r.Context(), item)
	if err != nil {
		render.Render(w, r, ServiceErrorResponse("内容提交失败", err))
		return
	}

	render.JSON(w, r, SuccessResponse("内容提交成功", result))
}

// GetArticle 查询文章
// @Summary 查询文章
// @Description 按ID查询去重后的规范文章，含来源引用
// @Tags 内容
// @Produce json
// @Param id path string true "文章ID"
// @Success 200 {object} APIResponse{data=models.Article}
// @Failure 404 {object} APIResponse
// @Router /content/articles/{id} [get]
func (c *ContentController) GetArticle(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var article models.Article
	err := service.DB.WithContext(r.Context()).
		Preload("SourceRefs").
		Where("id = ? AND org_id = ?", id, middleware.OrgID(r)).
		First(&article).Error
	if err != nil {
		render.Render(w, r, ErrorResponse(http.StatusNotFound, "文章不存在", err))
		return
	}

	render.JSON(w, r, SuccessResponse("查询成功", article))
}

// ListSignals 查询信号
// @Summary 查询信号
// @Description 按标的查询提取出的信号，按时间倒序
// @Tags 内容
// @Produce json
// @Param target_id query string true "标的ID"
// @Param limit query int false "返回条数上限" default(100)
// @Success 200 {object} APIResponse{data=[]models.Signal}
// @Router /content/signals [get]
func (c *ContentController) ListSignals(w http.ResponseWriter, r *http.Request) {
	targetID := r.URL.Query().Get("target_id")
	if targetID == "" {
		render.Render(w, r, ErrorResponse(http.StatusBadRequest, "标的ID不能为空", nil))
		return
	}

	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}

	var signals []models.Signal
	err := service.DB.WithContext(r.Context()).
		Where("target_id = ? AND org_id = ?", targetID, middleware.OrgID(r)).
		Order("created_at DESC").
		Limit(limit).
		Find(&signals).Error
	if err != nil {
		render.Render(w, r, ErrorResponse(http.StatusInternalServerError, "查询信号失败", err))
		return
	}

	render.JSON(w, r, SuccessResponse("查询成功", signals))
}
