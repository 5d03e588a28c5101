package handlers

import (
	"net/http"
	"strconv"

	"autoflow/internal/services"

	"github.com/gin-gonic/gin"
)

// Envelope actions
const (
	ActionExecuteRule      = "execute_rule"
	ActionExecuteScheduled = "execute_scheduled"
	ActionTriggerEvent     = "trigger_event"
)

// AutomationRequest 单入口请求体
type AutomationRequest struct {
	Action      string                 `json:"action" binding:"required"`
	RuleID      uint                   `json:"rule_id"`
	TriggerData map[string]interface{} `json:"trigger_data"`
}

type setEnabledRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

// AutomationHandler 自动化引擎的 HTTP 入口
type AutomationHandler struct {
	engine *services.Engine
}

func NewAutomationHandler(engine *services.Engine) *AutomationHandler {
	return &AutomationHandler{engine: engine}
}

// Handle dispatches the request envelope. The single-rule action surfaces
// engine errors as non-2xx responses; the two batch actions always answer
// 200 with per-rule results.
func (h *AutomationHandler) Handle(c *gin.Context) {
	var req AutomationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Message: err.Error()})
		return
	}
	ctx := c.Request.Context()

	switch req.Action {
	case ActionExecuteRule:
		if req.RuleID == 0 {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "rule_id required"})
			return
		}
		res, err := h.engine.Coordinator.ExecuteRule(ctx, req.RuleID, req.TriggerData)
		if err != nil {
			c.JSON(statusFor(err), errorBody(err))
			return
		}
		c.JSON(http.StatusOK, EnvelopeResponse{Success: true, Data: res})

	case ActionExecuteScheduled:
		res, err := h.engine.Triggers.ExecuteScheduledRules(ctx)
		if err != nil {
			c.JSON(statusFor(err), errorBody(err))
			return
		}
		c.JSON(http.StatusOK, EnvelopeResponse{Success: true, Data: res})

	case ActionTriggerEvent:
		evt, ok := eventFromTriggerData(req.TriggerData)
		if !ok {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "trigger_data.event_type required"})
			return
		}
		res, err := h.engine.Triggers.TriggerEventBasedRules(ctx, evt)
		if err != nil {
			c.JSON(statusFor(err), errorBody(err))
			return
		}
		c.JSON(http.StatusOK, EnvelopeResponse{Success: true, Data: res})

	default:
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Unknown action: " + req.Action})
	}
}

func eventFromTriggerData(td map[string]interface{}) (services.EventData, bool) {
	var evt services.EventData
	evt.EventType, _ = td["event_type"].(string)
	evt.EventSource, _ = td["event_source"].(string)
	evt.Data, _ = td["data"].(map[string]interface{})
	return evt, evt.EventType != ""
}

// ListRules 规则列表，支持 module / enabled 过滤
func (h *AutomationHandler) ListRules(c *gin.Context) {
	f := services.RuleFilter{Module: c.Query("module")}
	if v := c.Query("enabled"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid enabled", Message: err.Error()})
			return
		}
		f.Enabled = &b
	}
	rules, err := h.engine.Rules.ListRules(c.Request.Context(), f)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to list rules", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, rules)
}

// CreateRule 创建规则
func (h *AutomationHandler) CreateRule(c *gin.Context) {
	var req services.RuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Message: err.Error()})
		return
	}
	rule, err := h.engine.Rules.CreateRule(c.Request.Context(), &req)
	if err != nil {
		c.JSON(statusFor(err), errorBody(err))
		return
	}
	c.JSON(http.StatusCreated, rule)
}

// GetRule 规则详情
func (h *AutomationHandler) GetRule(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	rule, err := h.engine.Rules.GetRule(c.Request.Context(), id)
	if err != nil {
		c.JSON(statusFor(err), errorBody(err))
		return
	}
	c.JSON(http.StatusOK, rule)
}

// SetRuleEnabled 启用/停用
func (h *AutomationHandler) SetRuleEnabled(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	var req setEnabledRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Message: err.Error()})
		return
	}
	if err := h.engine.Rules.SetRuleEnabled(c.Request.Context(), id, *req.Enabled); err != nil {
		c.JSON(statusFor(err), errorBody(err))
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Message: "updated", Data: gin.H{"id": id, "enabled": *req.Enabled}})
}

// DeleteRule 删除规则
func (h *AutomationHandler) DeleteRule(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	if err := h.engine.Rules.DeleteRule(c.Request.Context(), id); err != nil {
		c.JSON(statusFor(err), errorBody(err))
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Message: "deleted"})
}

// ListExecutions 执行记录（分页）
func (h *AutomationHandler) ListExecutions(c *gin.Context) {
	f := services.ExecutionFilter{Status: c.Query("status")}
	if v := c.Query("rule_id"); v != "" {
		id, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid rule_id", Message: err.Error()})
			return
		}
		f.RuleID = uint(id)
	}
	f.Page, _ = strconv.Atoi(c.DefaultQuery("page", "1"))
	f.PageSize, _ = strconv.Atoi(c.DefaultQuery("page_size", "20"))
	if f.Page <= 0 {
		f.Page = 1
	}
	if f.PageSize <= 0 || f.PageSize > 100 {
		f.PageSize = 20
	}

	execs, total, err := h.engine.Rules.ListExecutions(c.Request.Context(), f)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to list executions", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, PaginatedResponse{
		Data:     execs,
		Total:    total,
		Page:     f.Page,
		PageSize: f.PageSize,
		Pages:    int((total + int64(f.PageSize) - 1) / int64(f.PageSize)),
	})
}

// ListExecutionLogs 某次执行的日志
func (h *AutomationHandler) ListExecutionLogs(c *gin.Context) {
	logs, err := h.engine.Rules.ListExecutionLogs(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to list logs", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, logs)
}

func parseID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid id", Message: err.Error()})
		return 0, false
	}
	return uint(id), true
}

// RegisterAutomationRoutes 注册路由
func RegisterAutomationRoutes(r *gin.RouterGroup, handler *AutomationHandler) {
	auto := r.Group("/automation")
	{
		auto.POST("", handler.Handle)
		auto.GET("/rules", handler.ListRules)
		auto.POST("/rules", handler.CreateRule)
		auto.GET("/rules/:id", handler.GetRule)
		auto.PUT("/rules/:id/enabled", handler.SetRuleEnabled)
		auto.DELETE("/rules/:id", handler.DeleteRule)
		auto.GET("/executions", handler.ListExecutions)
		auto.GET("/executions/:id/logs", handler.ListExecutionLogs)
	}
}
