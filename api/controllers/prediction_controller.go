/*
 * @module api/controllers/prediction_controller
 * @description 预测控制器，处理集成运行触发、预测生命周期与评估查询
 * @architecture RESTful API架构 - 控制器层
 * @documentReference dev_docs/backend_requirements.md
 * @stateFlow 触发集成 -> 预测产出 -> 决议/取消/到期 -> 评估
 * @rules 状态迁移全部走条件更新；快照在预测产出后不可变
 * @dependencies foresight-service/service, github.com/go-chi/render
 * @refs dev_docs/model.md
 */

package controllers

import (
	"errors"
	"net/http"
	"strconv"

	"foresight-service/api/middleware"
	"foresight-service/service"
	"foresight-service/service/ensemble"
	"foresight-service/service/lifecycle"
	"foresight-service/service/models"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
)

// PredictionController 预测控制器
type PredictionController struct {
	engine            *ensemble.Engine
	lifecycleService  *lifecycle.LifecycleService
	evaluationService *lifecycle.EvaluationService
}

// NewPredictionController 创建预测控制器实例
func NewPredictionController() *PredictionController {
	return &PredictionController{
		engine:            service.GlobalEnsembleEngine,
		lifecycleService:  service.GlobalLifecycleService,
		evaluationService: service.GlobalEvaluationService,
	}
}

// RunEnsembleRequest 集成运行请求
type RunEnsembleRequest struct {
	TargetID string `json:"target_id" example:"a1b2c3d4-..."`
}

// RunEnsemble 触发集成运行
// @Summary 触发集成运行
// @Description 对标的执行一次完整的分析师集成，达到晋升门槛时产出预测
// @Tags 预测
// @Accept json
// @Produce json
// @Param request body RunEnsembleRequest true "集成运行请求"
// @Success 200 {object} APIResponse{data=models.Prediction}
// @Failure 400 {object} APIResponse
// @Failure 409 {object} APIResponse
// @Router /predictions/run [post]
func (c *PredictionController) RunEnsemble(w http.ResponseWriter, r *http.Request) {
	var req RunEnsembleRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		render.Render(w, r, ErrorResponse(http.StatusBadRequest, "请求参数解析失败", err))
		return
	}
	if req.TargetID == "" {
		render.Render(w, r, ErrorResponse(http.StatusBadRequest, "标的ID不能为空", nil))
		return
	}

	prediction, err := c.engine.Predict(r.Context(), req.TargetID)
	if err != nil {
		if errors.Is(err, ensemble.ErrSynthesisBusy) {
			render.Render(w, r, ErrorResponse(http.StatusConflict, "该标的的合成正在进行中", err))
			return
		}
		if errors.Is(err, ensemble.ErrRunCancelled) {
			render.Render(w, r, ErrorResponse(http.StatusConflict, "集成运行已取消", err))
			return
		}
		render.Render(w, r, ServiceErrorResponse("集成运行失败", err))
		return
	}

	if prediction == nil {
		// 未达晋升门槛：无预测产出，尝试记录已落库
		render.JSON(w, r, SuccessResponse("集成完成，未达晋升门槛", nil))
		return
	}

	render.JSON(w, r, SuccessResponse("预测产出成功", prediction))
}

// ListPredictions 查询预测列表
// @Summary 查询预测列表
// @Description 查询组织下的预测，支持按标的、状态过滤，默认不含测试数据
// @Tags 预测
// @Produce json
// @Param target_id query string false "标的ID过滤"
// @Param status query string false "状态过滤"
// @Param include_test query bool false "是否包含测试数据"
// @Success 200 {object} APIResponse{data=[]models.Prediction}
// @Router /predictions [get]
func (c *PredictionController) ListPredictions(w http.ResponseWriter, r *http.Request) {
	includeTest := r.URL.Query().Get("include_test") == "true"

	predictions, err := c.lifecycleService.ListPredictions(r.Context(),
		middleware.OrgID(r),
		r.URL.Query().Get("target_id"),
		r.URL.Query().Get("status"),
		includeTest)
	if err != nil {
		render.Render(w, r, ErrorResponse(http.StatusInternalServerError, "查询预测失败", err))
		return
	}

	render.JSON(w, r, SuccessResponse("查询成功", predictions))
}

// GetPrediction 查询预测
// @Summary 查询预测
// @Description 按ID查询预测及其标的与快照
// @Tags 预测
// @Produce json
// @Param id path string true "预测ID"
// @Success 200 {object} APIResponse{data=models.Prediction}
// @Failure 404 {object} APIResponse
// @Router /predictions/{id} [get]
func (c *PredictionController) GetPrediction(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	prediction, err := c.lifecycleService.GetPrediction(r.Context(), id)
	if err != nil {
		render.Render(w, r, ServiceErrorResponse("查询预测失败", err))
		return
	}

	render.JSON(w, r, SuccessResponse("查询成功", prediction))
}

// GetSnapshot 查询预测快照
// @Summary 查询预测快照
// @Description 查询预测产出时的不可变快照，含全部输入与被拒信号
// @Tags 预测
// @Produce json
// @Param id path string true "预测ID"
// @Success 200 {object} APIResponse{data=models.Snapshot}
// @Failure 404 {object} APIResponse
// @Router /predictions/{id}/snapshot [get]
func (c *PredictionController) GetSnapshot(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	snapshot, err := c.lifecycleService.GetSnapshot(r.Context(), id)
	if err != nil {
		render.Render(w, r, ServiceErrorResponse("查询快照失败", err))
		return
	}

	render.JSON(w, r, SuccessResponse("查询成功", snapshot))
}

// ResolvePredictionRequest 预测决议请求
type ResolvePredictionRequest struct {
	Outcome models.JSONB `json:"outcome"`
}

// ResolvePrediction 决议预测
// @Summary 决议预测
// @Description 将活跃预测标记为已决议并触发异步评估；重复决议幂等
// @Tags 预测
// @Accept json
// @Produce json
// @Param id path string true "预测ID"
// @Param request body ResolvePredictionRequest true "观察到的结局"
// @Success 200 {object} APIResponse{data=models.Prediction}
// @Failure 404 {object} APIResponse
// @Failure 409 {object} APIResponse
// @Router /predictions/{id}/resolve [post]
func (c *PredictionController) ResolvePrediction(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req ResolvePredictionRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		render.Render(w, r, ErrorResponse(http.StatusBadRequest, "请求参数解析失败", err))
		return
	}

	prediction, err := c.lifecycleService.Resolve(r.Context(), id, req.Outcome)
	if err != nil {
		render.Render(w, r, ServiceErrorResponse("预测决议失败", err))
		return
	}

	render.JSON(w, r, SuccessResponse("决议成功", prediction))
}

// CancelPredictionRequest 预测取消请求
type CancelPredictionRequest struct {
	Reason string `json:"reason" example:"标的停牌"`
}

// CancelPrediction 取消预测
// @Summary 取消预测
// @Description 取消活跃预测，取消的预测不参与评估
// @Tags 预测
// @Accept json
// @Produce json
// @Param id path string true "预测ID"
// @Param request body CancelPredictionRequest true "取消原因"
// @Success 200 {object} APIResponse{data=models.Prediction}
// @Failure 404 {object} APIResponse
// @Failure 409 {object} APIResponse
// @Router /predictions/{id}/cancel [post]
func (c *PredictionController) CancelPrediction(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req CancelPredictionRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		render.Render(w, r, ErrorResponse(http.StatusBadRequest, "请求参数解析失败", err))
		return
	}

	prediction, err := c.lifecycleService.Cancel(r.Context(), id, req.Reason)
	if err != nil {
		render.Render(w, r, ServiceErrorResponse("预测取消失败", err))
		return
	}

	render.JSON(w, r, SuccessResponse("取消成功", prediction))
}

// GetEvaluation 查询预测评估
// @Summary 查询预测评估
// @Description 查询已决议预测的评估结果，缺失时同步补算（幂等）
// @Tags 预测
// @Produce json
// @Param id path string true "预测ID"
// @Success 200 {object} APIResponse{data=models.Evaluation}
// @Failure 404 {object} APIResponse
// @Failure 409 {object} APIResponse
// @Router /predictions/{id}/evaluation [get]
func (c *PredictionController) GetEvaluation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	evaluation, err := c.evaluationService.EnsureEvaluation(r.Context(), id)
	if err != nil {
		render.Render(w, r, ServiceErrorResponse("查询评估失败", err))
		return
	}

	render.JSON(w, r, SuccessResponse("查询成功", evaluation))
}

// ListAttempts 查询集成尝试记录
// @Summary 查询集成尝试记录
// @Description 查询标的未达晋升门槛的集成尝试，含门槛评估详情
// @Tags 预测
// @Produce json
// @Param target_id query string true "标的ID"
// @Param limit query int false "返回条数上限" default(50)
// @Success 200 {object} APIResponse{data=[]models.EnsembleAttempt}
// @Router /predictions/attempts [get]
func (c *PredictionController) ListAttempts(w http.ResponseWriter, r *http.Request) {
	targetID := r.URL.Query().Get("target_id")
	if targetID == "" {
		render.Render(w, r, ErrorResponse(http.StatusBadRequest, "标的ID不能为空", nil))
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}

	var attempts []models.EnsembleAttempt
	err := service.DB.WithContext(r.Context()).
		Where("target_id = ? AND org_id = ?", targetID, middleware.OrgID(r)).
		Order("created_at DESC").
		Limit(limit).
		Find(&attempts).Error
	if err != nil {
		render.Render(w, r, ErrorResponse(http.StatusInternalServerError, "查询集成尝试失败", err))
		return
	}

	render.JSON(w, r, SuccessResponse("查询成功", attempts))
}

// ListMissedOpportunities 查询错失机会
// @Summary 查询错失机会
// @Description 查询扫描到的错失机会，支持按状态过滤
// @Tags 预测
// @Produce json
// @Param status query string false "状态过滤 detected|analyzed"
// @Success 200 {object} APIResponse{data=[]models.MissedOpportunity}
// @Router /missed-opportunities [get]
func (c *PredictionController) ListMissedOpportunities(w http.ResponseWriter, r *http.Request) {
	query := service.DB.WithContext(r.Context()).Where("org_id = ?", middleware.OrgID(r))
	if status := r.URL.Query().Get("status"); status != "" {
		query = query.Where("status = ?", status)
	}

	var opportunities []models.MissedOpportunity
	if err := query.Order("created_at DESC").Limit(200).Find(&opportunities).Error; err != nil {
		render.Render(w, r, ErrorResponse(http.StatusInternalServerError, "查询错失机会失败", err))
		return
	}

	render.JSON(w, r, SuccessResponse("查询成功", opportunities))
}

// AnalyzeMissedOpportunity 触发错失机会分析
// @Summary 触发错失机会分析
// @Description 对已检出的错失机会执行事后分析，产出驱动因素与学习建议
// @Tags 预测
// @Produce json
// @Param id path string true "错失机会ID"
// @Success 200 {object} APIResponse
// @Failure 404 {object} APIResponse
// @Router /missed-opportunities/{id}/analyze [post]
func (c *PredictionController) AnalyzeMissedOpportunity(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := c.evaluationService.AnalyzeMissedOpportunity(r.Context(), id); err != nil {
		render.Render(w, r, ServiceErrorResponse("错失机会分析失败", err))
		return
	}

	render.JSON(w, r, SuccessResponse("分析完成", map[string]string{"missed_opportunity_id": id}))
}

// ListToolRequests 查询工具请求
// @Summary 查询工具请求
// @Description 查询错失机会分析产出的新源/新分析师需求积压
// @Tags 预测
// @Produce json
// @Param status query string false "状态过滤 open|fulfilled|declined"
// @Success 200 {object} APIResponse{data=[]models.ToolRequest}
// @Router /tool-requests [get]
func (c *PredictionController) ListToolRequests(w http.ResponseWriter, r *http.Request) {
	query := service.DB.WithContext(r.Context()).Where("org_id = ?", middleware.OrgID(r))
	if status := r.URL.Query().Get("status"); status != "" {
		query = query.Where("status = ?", status)
	}

	var requests []models.ToolRequest
	if err := query.Order("created_at DESC").Limit(200).Find(&requests).Error; err != nil {
		render.Render(w, r, ErrorResponse(http.StatusInternalServerError, "查询工具请求失败", err))
		return
	}

	render.JSON(w, r, SuccessResponse("查询成功", requests))
}
