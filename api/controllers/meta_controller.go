package controllers

import (
	"net/http"

	"foresight-service/service/meta"

	"github.com/go-chi/render"
)

type MetaController struct {
}

func NewMetaController() *MetaController {
	return &MetaController{}
}

// @Summary 获取所有标的领域
// @Description 获取所有支持的标的领域枚举
// @Tags 元数据
// @Produce json
// @Success 200 {object} APIResponse{data=[]string}
// @Router /meta/domains [get]
func (c *MetaController) GetDomains(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, SuccessResponse("获取标的领域元数据成功", meta.AllDomains))
}

// @Summary 获取所有分析档位
// @Description 获取所有分析档位枚举，按成本从高到低排列
// @Tags 元数据
// @Produce json
// @Success 200 {object} APIResponse{data=[]string}
// @Router /meta/tiers [get]
func (c *MetaController) GetTiers(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, SuccessResponse("获取分析档位元数据成功", meta.AllTiers))
}

// @Summary 获取所有作用域层级
// @Description 获取所有作用域层级枚举，按特异性从低到高排列
// @Tags 元数据
// @Produce json
// @Success 200 {object} APIResponse{data=[]string}
// @Router /meta/scope-levels [get]
func (c *MetaController) GetScopeLevels(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, SuccessResponse("获取作用域层级元数据成功", meta.AllScopeLevels))
}

// @Summary 获取所有去重分类
// @Description 获取内容四层去重的分类枚举
// @Tags 元数据
// @Produce json
// @Success 200 {object} APIResponse{data=[]string}
// @Router /meta/dedup-classifications [get]
func (c *MetaController) GetDedupClassifications(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, SuccessResponse("获取去重分类元数据成功", meta.AllDedupClassifications))
}

// @Summary 获取所有预测状态
// @Description 获取预测生命周期状态枚举
// @Tags 元数据
// @Produce json
// @Success 200 {object} APIResponse{data=[]string}
// @Router /meta/prediction-statuses [get]
func (c *MetaController) GetPredictionStatuses(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, SuccessResponse("获取预测状态元数据成功", meta.AllPredictionStatuses))
}

// @Summary 获取所有学习条目类型
// @Description 获取学习条目类型枚举
// @Tags 元数据
// @Produce json
// @Success 200 {object} APIResponse{data=[]string}
// @Router /meta/learning-kinds [get]
func (c *MetaController) GetLearningKinds(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, SuccessResponse("获取学习条目类型元数据成功", meta.AllLearningKinds))
}

// @Summary 获取所有审核决定
// @Description 获取学习队列人工审核决定枚举
// @Tags 元数据
// @Produce json
// @Success 200 {object} APIResponse{data=[]string}
// @Router /meta/review-decisions [get]
func (c *MetaController) GetReviewDecisions(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, SuccessResponse("获取审核决定元数据成功", []string{
		meta.ReviewDecisionApprove, meta.ReviewDecisionReject, meta.ReviewDecisionModify,
	}))
}
