package handlers

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"autoflow/internal/metrics"
	"autoflow/internal/version"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// HealthHandler 健康检查处理器
type HealthHandler struct {
	db *gorm.DB
}

func NewHealthHandler(db *gorm.DB) *HealthHandler {
	return &HealthHandler{db: db}
}

// HealthResponse 健康检查响应
type HealthResponse struct {
	Status    string            `json:"status"`
	Version   string            `json:"version"`
	Timestamp time.Time         `json:"timestamp"`
	Uptime    string            `json:"uptime"`
	GoVersion string            `json:"go_version"`
	Services  map[string]string `json:"services"`
}

// Health 存活检查；数据库不可用时返回 degraded，但仍是 200
func (h *HealthHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	resp := HealthResponse{
		Status:    "healthy",
		Version:   version.Version,
		Timestamp: time.Now().UTC(),
		Uptime:    metrics.Uptime().Truncate(time.Second).String(),
		GoVersion: runtime.Version(),
		Services:  map[string]string{"database": "healthy"},
	}
	if err := h.ping(ctx); err != nil {
		resp.Status = "degraded"
		resp.Services["database"] = err.Error()
	}
	c.JSON(http.StatusOK, resp)
}

// Ready 就绪检查，数据库不可达时 503
func (h *HealthHandler) Ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	ready := h.ping(ctx) == nil
	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{
		"ready":     ready,
		"timestamp": time.Now().UTC(),
	})
}

func (h *HealthHandler) ping(ctx context.Context) error {
	if h.db == nil {
		return errNoDatabase
	}
	sqlDB, err := h.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}
