package handlers

import (
	"errors"
	"net/http"

	"autoflow/internal/services"
)

// ErrorResponse 错误响应结构
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Kind    string `json:"kind,omitempty"`
}

// PaginatedResponse 分页响应结构
type PaginatedResponse struct {
	Data     interface{} `json:"data"`
	Total    int64       `json:"total"`
	Page     int         `json:"page"`
	PageSize int         `json:"page_size"`
	Pages    int         `json:"pages"`
}

// SuccessResponse 成功响应结构
type SuccessResponse struct {
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// EnvelopeResponse is the body of a successful automation request.
type EnvelopeResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data"`
}

// statusFor maps an engine error to its HTTP status.
func statusFor(err error) int {
	var ae *services.AutomationError
	if !errors.As(err, &ae) {
		return http.StatusInternalServerError
	}
	switch ae.Kind {
	case services.KindNotFound:
		return http.StatusNotFound
	case services.KindDisabledRule:
		return http.StatusConflict
	case services.KindUnsupportedAction, services.KindUnsupportedStep, services.KindInvalidConfig:
		return http.StatusUnprocessableEntity
	case services.KindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func errorBody(err error) ErrorResponse {
	resp := ErrorResponse{Error: err.Error()}
	var ae *services.AutomationError
	if errors.As(err, &ae) {
		resp.Kind = string(ae.Kind)
	}
	return resp
}
