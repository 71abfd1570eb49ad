package controllers

import (
	"errors"
	"net/http"

	"foresight-service/service/models"

	"github.com/go-chi/render"
)

// APIResponse 统一API响应结构
type APIResponse struct {
	Status int         `json:"status" example:"0"`
	Msg    string      `json:"msg" example:"操作成功"`
	Data   interface{} `json:"data,omitempty"`

	httpStatus int `json:"-"`
}

// PaginatedResponse 分页响应结构
type PaginatedResponse struct {
	Status int         `json:"status" example:"0"`
	Msg    string      `json:"msg" example:"操作成功"`
	Data   interface{} `json:"data"`
	Total  int64       `json:"total" example:"100"`
	Page   int         `json:"page" example:"1"`
	Size   int         `json:"size" example:"10"`
}

// Render 实现render.Renderer，写入HTTP状态码
func (resp *APIResponse) Render(w http.ResponseWriter, r *http.Request) error {
	if resp.httpStatus != 0 {
		render.Status(r, resp.httpStatus)
	}
	return nil
}

// SuccessResponse 构建成功响应
func SuccessResponse(msg string, data interface{}) *APIResponse {
	return &APIResponse{Status: 0, Msg: msg, Data: data, httpStatus: http.StatusOK}
}

// ErrorResponse 构建错误响应
func ErrorResponse(httpStatus int, msg string, err error) *APIResponse {
	resp := &APIResponse{Status: httpStatus, Msg: msg, httpStatus: httpStatus}
	if err != nil {
		resp.Data = map[string]string{"error": err.Error()}
	}
	return resp
}

// ServiceErrorResponse 按领域错误类型映射HTTP状态码
func ServiceErrorResponse(msg string, err error) *APIResponse {
	switch {
	case errors.Is(err, models.ErrNotFound):
		return ErrorResponse(http.StatusNotFound, msg, err)
	case models.IsValidationError(err):
		return ErrorResponse(http.StatusBadRequest, msg, err)
	case models.IsStateError(err):
		return ErrorResponse(http.StatusConflict, msg, err)
	default:
		return ErrorResponse(http.StatusInternalServerError, msg, err)
	}
}
