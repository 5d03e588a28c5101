package server

import (
	"autoflow/internal/config"
	"autoflow/internal/handlers"
	"autoflow/internal/middleware"
	"autoflow/internal/services"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"
)

// NewRouter 组装 gin 路由：中间件、健康检查、指标与自动化 API
func NewRouter(cfg *config.Config, db *gorm.DB, engine *services.Engine) *gin.Engine {
	r := gin.New()
	r.Use(gin.Logger())
	r.Use(gin.Recovery())
	r.Use(middleware.CORS(cfg))
	r.Use(middleware.RateLimit(cfg))
	if cfg.Monitoring.Tracing.Enabled {
		r.Use(otelgin.Middleware(firstNonEmpty(cfg.Monitoring.Tracing.ServiceName, "autoflow")))
	}

	health := handlers.NewHealthHandler(db)
	r.GET("/health", health.Health)
	r.GET("/ready", health.Ready)

	if cfg.Monitoring.Enabled {
		r.GET(firstNonEmpty(cfg.Monitoring.MetricsPath, "/metrics"), handlers.NewMetricsHandler(db).GetMetrics)
	}

	api := r.Group("/api")
	handlers.RegisterAutomationRoutes(api, handlers.NewAutomationHandler(engine))
	return r
}
