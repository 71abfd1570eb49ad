/*
 * @module api/controllers/learning_controller
 * @description 学习管理控制器，处理学习队列人工审核、学习条目生命周期与审计查询
 * @architecture RESTful API架构 - 控制器层
 * @documentReference dev_docs/backend_requirements.md
 * @stateFlow 建议入队 -> 人工审核 -> 学习生效 -> 替代/停用
 * @rules 学习条目只能经人工审核产生；审计日志只追加不修改
 * @dependencies foresight-service/service, github.com/go-chi/render
 * @refs dev_docs/model.md
 */

package controllers

import (
	"net/http"
	"strconv"

	"foresight-service/api/middleware"
	"foresight-service/service"
	"foresight-service/service/learning"
	"foresight-service/service/models"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
)

// LearningController 学习管理控制器
type LearningController struct {
	learningService *learning.LearningService
}

// NewLearningController 创建学习控制器实例
func NewLearningController() *LearningController {
	return &LearningController{
		learningService: service.GlobalLearningService,
	}
}

// ListQueue 查询学习队列
// @Summary 查询学习队列
// @Description 查询待审核的学习建议队列，支持按状态过滤
// @Tags 学习管理
// @Produce json
// @Param status query string false "状态过滤 pending|approved|rejected|modified"
// @Success 200 {object} APIResponse{data=[]models.LearningQueueEntry}
// @Router /learning/queue [get]
func (c *LearningController) ListQueue(w http.ResponseWriter, r *http.Request) {
	entries, err := c.learningService.ListQueue(r.Context(), middleware.OrgID(r), r.URL.Query().Get("status"))
	if err != nil {
		render.Render(w, r, ErrorResponse(http.StatusInternalServerError, "查询学习队列失败", err))
		return
	}

	render.JSON(w, r, SuccessResponse("查询成功", entries))
}

// ReviewQueueEntryRequest 学习队列审核请求
type ReviewQueueEntryRequest struct {
	Decision        string        `json:"decision" example:"approve"`
	Reviewer        string        `json:"reviewer" example:"ops@example.com"`
	Note            string        `json:"note,omitempty"`
	ModifiedContent string        `json:"modified_content,omitempty"`
	ModifiedScope   *models.Scope `json:"modified_scope,omitempty"`
}

// ReviewQueueEntry 审核学习建议
// @Summary 审核学习建议
// @Description 对待审核条目做出批准/拒绝/修改后批准的决定，批准即产生学习条目
// @Tags 学习管理
// @Accept json
// @Produce json
// @Param id path string true "队列条目ID"
// @Param request body ReviewQueueEntryRequest true "审核决定"
// @Success 200 {object} APIResponse{data=models.LearningQueueEntry}
// @Failure 400 {object} APIResponse
// @Failure 409 {object} APIResponse
// @Router /learning/queue/{id}/review [post]
func (c *LearningController) ReviewQueueEntry(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req ReviewQueueEntryRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		render.Render(w, r, ErrorResponse(http.StatusBadRequest, "请求参数解析失败", err))
		return
	}

	entry, err := c.learningService.Review(r.Context(), id, learning.ReviewRequest{
		Decision:        req.Decision,
		Reviewer:        req.Reviewer,
		Note:            req.Note,
		ModifiedContent: req.ModifiedContent,
		ModifiedScope:   req.ModifiedScope,
	})
	if err != nil {
		render.Render(w, r, ServiceErrorResponse("学习建议审核失败", err))
		return
	}

	render.JSON(w, r, SuccessResponse("审核完成", entry))
}

// ListLearnings 查询学习条目
// @Summary 查询学习条目
// @Description 查询组织下的学习条目，支持按状态过滤
// @Tags 学习管理
// @Produce json
// @Param status query string false "状态过滤 active|superseded|disabled"
// @Success 200 {object} APIResponse{data=[]models.Learning}
// @Router /learning/learnings [get]
func (c *LearningController) ListLearnings(w http.ResponseWriter, r *http.Request) {
	learnings, err := c.learningService.ListLearnings(r.Context(), middleware.OrgID(r), r.URL.Query().Get("status"))
	if err != nil {
		render.Render(w, r, ErrorResponse(http.StatusInternalServerError, "查询学习条目失败", err))
		return
	}

	render.JSON(w, r, SuccessResponse("查询成功", learnings))
}

// SupersedeLearningRequest 学习条目替代请求
type SupersedeLearningRequest struct {
	Content string `json:"content"`
	Actor   string `json:"actor" example:"ops@example.com"`
}

// SupersedeLearning 替代学习条目
// @Summary 替代学习条目
// @Description 用新版本替代活跃学习条目，版本号递增，旧条目保留链路
// @Tags 学习管理
// @Accept json
// @Produce json
// @Param id path string true "学习条目ID"
// @Param request body SupersedeLearningRequest true "新版本内容"
// @Success 200 {object} APIResponse{data=models.Learning}
// @Failure 404 {object} APIResponse
// @Failure 409 {object} APIResponse
// @Router /learning/learnings/{id}/supersede [post]
func (c *LearningController) SupersedeLearning(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req SupersedeLearningRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		render.Render(w, r, ErrorResponse(http.StatusBadRequest, "请求参数解析失败", err))
		return
	}
	if req.Content == "" || req.Actor == "" {
		render.Render(w, r, ErrorResponse(http.StatusBadRequest, "content和actor不能为空", nil))
		return
	}

	successor, err := c.learningService.Supersede(r.Context(), id, req.Content, req.Actor)
	if err != nil {
		render.Render(w, r, ServiceErrorResponse("学习条目替代失败", err))
		return
	}

	render.JSON(w, r, SuccessResponse("替代成功", successor))
}

// DisableLearningRequest 学习条目停用请求
type DisableLearningRequest struct {
	Actor string `json:"actor" example:"ops@example.com"`
}

// DisableLearning 停用学习条目
// @Summary 停用学习条目
// @Description 停用活跃学习条目，停用后不再参与集成
// @Tags 学习管理
// @Accept json
// @Produce json
// @Param id path string true "学习条目ID"
// @Param request body DisableLearningRequest true "操作者"
// @Success 200 {object} APIResponse
// @Failure 404 {object} APIResponse
// @Failure 409 {object} APIResponse
// @Router /learning/learnings/{id}/disable [post]
func (c *LearningController) DisableLearning(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req DisableLearningRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		render.Render(w, r, ErrorResponse(http.StatusBadRequest, "请求参数解析失败", err))
		return
	}

	if err := c.learningService.Disable(r.Context(), id, req.Actor); err != nil {
		render.Render(w, r, ServiceErrorResponse("学习条目停用失败", err))
		return
	}

	render.JSON(w, r, SuccessResponse("停用成功", map[string]string{"learning_id": id}))
}

// QueryAudit 查询审计日志
// @Summary 查询审计日志
// @Description 查询追加式审计日志，支持按实体类型与实体ID过滤
// @Tags 学习管理
// @Produce json
// @Param entity_type query string false "实体类型过滤"
// @Param entity_id query string false "实体ID过滤"
// @Param limit query int false "返回条数上限" default(100)
// @Success 200 {object} APIResponse{data=[]models.AuditLogEntry}
// @Router /learning/audit [get]
func (c *LearningController) QueryAudit(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}

	entries, err := c.learningService.QueryAudit(r.Context(), middleware.OrgID(r),
		r.URL.Query().Get("entity_type"), r.URL.Query().Get("entity_id"), limit)
	if err != nil {
		render.Render(w, r, ErrorResponse(http.StatusInternalServerError, "查询审计日志失败", err))
		return
	}

	render.JSON(w, r, SuccessResponse("查询成功", entries))
}
