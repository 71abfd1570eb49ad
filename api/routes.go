/*
 * @module api/routes
 * @description API路由配置模块，负责初始化和配置所有HTTP路由
 * @architecture RESTful API架构
 * @documentReference dev_docs/backend_requirements.md
 * @stateFlow 无状态HTTP请求处理
 * @rules 遵循RESTful API设计规范，统一错误处理和响应格式
 * @dependencies github.com/go-chi/chi/v5, github.com/go-chi/cors, github.com/go-chi/render
 * @refs dev_docs/model.md
 */

package api

import (
	"foresight-service/api/controllers"
	orgmw "foresight-service/api/middleware"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/render"
)

// InitRoute 初始化所有API路由
func InitRoute(r *chi.Mux) {
	// 基础中间件
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(render.SetContentType(render.ContentTypeJSON))
	r.Use(orgmw.OrgContext)

	// CORS配置
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token", "X-Org-ID"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// 健康检查
	healthController := controllers.NewHealthController()
	r.Get("/health", healthController.Health)
	r.Get("/ready", healthController.Ready)

	// SSE事件订阅与历史事件
	eventController := controllers.NewEventController()
	r.Get("/sse", eventController.HandleSSE)
	r.Get("/events/recent", eventController.RecentEvents)

	// 元数据枚举
	r.Route("/meta", func(r chi.Router) {
		metaController := controllers.NewMetaController()
		r.Get("/domains", metaController.GetDomains)
		r.Get("/tiers", metaController.GetTiers)
		r.Get("/scope-levels", metaController.GetScopeLevels)
		r.Get("/dedup-classifications", metaController.GetDedupClassifications)
		r.Get("/prediction-statuses", metaController.GetPredictionStatuses)
		r.Get("/learning-kinds", metaController.GetLearningKinds)
		r.Get("/review-decisions", metaController.GetReviewDecisions)
	})

	// 标的集与标的管理
	universeController := controllers.NewUniverseController()
	r.Route("/universes", func(r chi.Router) {
		r.Post("/", universeController.CreateUniverse)
		r.Get("/", universeController.ListUniverses)
		r.Get("/{id}", universeController.GetUniverse)
		r.Post("/{id}/targets", universeController.CreateTarget)
	})
	r.Route("/targets", func(r chi.Router) {
		r.Get("/{id}", universeController.GetTarget)
		r.Get("/{id}/mirror", universeController.GetTargetMirror)
		r.Post("/{id}/activate", universeController.ActivateTarget)
		r.Post("/{id}/deactivate", universeController.DeactivateTarget)
	})

	// 内容来源管理
	r.Route("/sources", func(r chi.Router) {
		sourceController := controllers.NewSourceController()
		r.Post("/", sourceController.CreateSource)
		r.Get("/", sourceController.ListSources)
		r.Get("/health", sourceController.GetSourceHealth)
		r.Put("/{id}/status", sourceController.SetSourceStatus)
		r.Post("/{id}/crawl", sourceController.TriggerCrawl)
		r.Get("/{id}/runs", sourceController.ListCrawlRuns)
	})

	// 内容摄取
	r.Route("/content", func(r chi.Router) {
		contentController := controllers.NewContentController()
		r.Post("/items", contentController.SubmitItem)
		r.Get("/articles/{id}", contentController.GetArticle)
		r.Get("/signals", contentController.ListSignals)
	})

	// 分析师管理
	r.Route("/analysts", func(r chi.Router) {
		analystController := controllers.NewAnalystController()
		r.Post("/", analystController.CreateAnalyst)
		r.Get("/", analystController.ListAnalysts)
		r.Get("/{id}", analystController.GetAnalyst)
		r.Put("/{id}", analystController.UpdateAnalyst)
	})

	// 预测与评估
	predictionController := controllers.NewPredictionController()
	r.Route("/predictions", func(r chi.Router) {
		r.Post("/run", predictionController.RunEnsemble)
		r.Get("/", predictionController.ListPredictions)
		r.Get("/attempts", predictionController.ListAttempts)
		r.Get("/{id}", predictionController.GetPrediction)
		r.Get("/{id}/snapshot", predictionController.GetSnapshot)
		r.Post("/{id}/resolve", predictionController.ResolvePrediction)
		r.Post("/{id}/cancel", predictionController.CancelPrediction)
		r.Get("/{id}/evaluation", predictionController.GetEvaluation)
	})
	r.Route("/missed-opportunities", func(r chi.Router) {
		r.Get("/", predictionController.ListMissedOpportunities)
		r.Post("/{id}/analyze", predictionController.AnalyzeMissedOpportunity)
	})
	r.Get("/tool-requests", predictionController.ListToolRequests)

	// 学习管理
	r.Route("/learning", func(r chi.Router) {
		learningController := controllers.NewLearningController()
		r.Get("/queue", learningController.ListQueue)
		r.Post("/queue/{id}/review", learningController.ReviewQueueEntry)
		r.Get("/learnings", learningController.ListLearnings)
		r.Post("/learnings/{id}/supersede", learningController.SupersedeLearning)
		r.Post("/learnings/{id}/disable", learningController.DisableLearning)
		r.Get("/audit", learningController.QueryAudit)
	})

	// 测试数据管理
	r.Route("/testdata", func(r chi.Router) {
		testDataController := controllers.NewTestDataController()
		r.Delete("/scenarios/{id}", testDataController.CleanupScenario)
		r.Post("/purge", testDataController.PurgeAllTestData)
	})
}
