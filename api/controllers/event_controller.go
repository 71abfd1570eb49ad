/*
 * @module api/controllers/event_controller
 * @description 事件控制器，提供SSE实时订阅与历史事件查询API
 * @architecture RESTful API架构 - 控制器层
 * @documentReference dev_docs/backend_requirements.md
 * @stateFlow HTTP请求 -> 业务逻辑处理 -> 响应返回
 * @rules 遵循RESTful API设计规范，统一错误处理和响应格式
 * @dependencies foresight-service/service, github.com/go-chi/render
 * @refs dev_docs/model.md
 */

package controllers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"foresight-service/api/middleware"
	"foresight-service/service"
	"foresight-service/service/event"

	"github.com/go-chi/render"
	"github.com/google/uuid"
)

// EventController 事件控制器
type EventController struct {
	eventService *event.EventService
}

// NewEventController 创建事件控制器实例
func NewEventController() *EventController {
	return &EventController{
		eventService: service.GlobalEventService,
	}
}

// HandleSSE 处理SSE连接
// @Summary 建立SSE连接
// @Description 按组织订阅预测生命周期与学习事件的实时推送
// @Tags 事件
// @Success 200 {string} string "SSE事件流"
// @Router /sse [get]
func (c *EventController) HandleSSE(w http.ResponseWriter, r *http.Request) {
	orgID := middleware.OrgID(r)

	// 设置SSE响应头
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Headers", "Cache-Control")

	// 生成连接ID
	connectionID := uuid.New().String()
	clientIP := r.RemoteAddr
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		clientIP = forwarded
	}

	client := c.eventService.AddConnection(orgID, connectionID, clientIP)
	defer c.eventService.RemoveConnection(orgID, connectionID)

	// 发送连接成功事件
	fmt.Fprintf(w, "data: {\"type\":\"connected\",\"connection_id\":\"%s\",\"timestamp\":\"%s\"}\n\n",
		connectionID, time.Now().Format(time.RFC3339))

	if flusher, ok := w.(http.Flusher); ok {
		flusher.Flush()
	}

	for {
		select {
		case event := <-client.Channel:
			fmt.Fprintf(w, "data: %s\n\n", toJSON(event))

			if flusher, ok := w.(http.Flusher); ok {
				flusher.Flush()
			}

		case <-client.Done:
			return

		case <-r.Context().Done():
			return
		}
	}
}

// RecentEvents 查询历史事件
// @Summary 查询历史事件
// @Description 查询组织最近发布的事件，支持since时间过滤
// @Tags 事件
// @Produce json
// @Param since query string false "起始时间（RFC3339）"
// @Param limit query int false "返回条数上限" default(100)
// @Success 200 {object} APIResponse
// @Router /events/recent [get]
func (c *EventController) RecentEvents(w http.ResponseWriter, r *http.Request) {
	orgID := middleware.OrgID(r)

	since := time.Now().Add(-24 * time.Hour)
	if raw := r.URL.Query().Get("since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			render.Render(w, r, ErrorResponse(http.StatusBadRequest, "since时间格式错误", err))
			return
		}
		since = parsed
	}

	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}

	events, err := c.eventService.RecentEvents(r.Context(), orgID, since, limit)
	if err != nil {
		render.Render(w, r, ErrorResponse(http.StatusInternalServerError, "查询历史事件失败", err))
		return
	}

	render.JSON(w, r, SuccessResponse("查询成功", events))
}

func toJSON(v interface{}) string {
	data, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(data)
}
