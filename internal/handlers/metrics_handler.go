package handlers

import (
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"runtime"
	"sort"
	"strings"

	"autoflow/internal/metrics"
	"autoflow/internal/version"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

var errNoDatabase = errors.New("database connection not initialized")

// MetricsHandler 指标处理器
type MetricsHandler struct {
	db *gorm.DB
}

func NewMetricsHandler(db *gorm.DB) *MetricsHandler {
	return &MetricsHandler{db: db}
}

// GetMetrics 获取系统指标（Prometheus 格式）
func (h *MetricsHandler) GetMetrics(c *gin.Context) {
	c.Header("Content-Type", "text/plain; version=0.0.4")

	b := &strings.Builder{}
	fmt.Fprintf(b, "# HELP autoflow_info Information about the autoflow instance\n")
	fmt.Fprintf(b, "# TYPE autoflow_info gauge\n")
	fmt.Fprintf(b, "autoflow_info{version=\"%s\",commit=\"%s\",build_time=\"%s\"} 1\n\n",
		escapeLabel(version.Version), escapeLabel(version.Commit), escapeLabel(version.BuildTime))

	fmt.Fprintf(b, "# HELP autoflow_uptime_seconds Total uptime of the autoflow instance in seconds\n")
	fmt.Fprintf(b, "# TYPE autoflow_uptime_seconds counter\n")
	fmt.Fprintf(b, "autoflow_uptime_seconds %.0f\n\n", metrics.Uptime().Seconds())

	total, skipped, samples, durationMs := metrics.ExecutionSnapshot()
	fmt.Fprintf(b, "# HELP autoflow_executions_total Finished rule executions by action type and status\n")
	fmt.Fprintf(b, "# TYPE autoflow_executions_total counter\n")
	for _, s := range samples {
		fmt.Fprintf(b, "autoflow_executions_total{action_type=\"%s\",status=\"%s\"} %d\n",
			escapeLabel(s.ActionType), escapeLabel(s.Status), s.Count)
	}
	fmt.Fprintf(b, "autoflow_executions_sum %d\n\n", total)

	fmt.Fprintf(b, "# HELP autoflow_execution_duration_ms_total Summed execution duration in milliseconds\n")
	fmt.Fprintf(b, "# TYPE autoflow_execution_duration_ms_total counter\n")
	actions := make([]string, 0, len(durationMs))
	for k := range durationMs {
		actions = append(actions, k)
	}
	sort.Strings(actions)
	for _, a := range actions {
		fmt.Fprintf(b, "autoflow_execution_duration_ms_total{action_type=\"%s\"} %d\n", escapeLabel(a), durationMs[a])
	}
	b.WriteString("\n")

	fmt.Fprintf(b, "# HELP autoflow_dispatch_skipped_total Dispatches skipped for disabled rules or lost schedule claims\n")
	fmt.Fprintf(b, "# TYPE autoflow_dispatch_skipped_total counter\n")
	fmt.Fprintf(b, "autoflow_dispatch_skipped_total %d\n\n", skipped)

	fmt.Fprintf(b, "# HELP autoflow_go_goroutines Number of goroutines\n")
	fmt.Fprintf(b, "# TYPE autoflow_go_goroutines gauge\n")
	fmt.Fprintf(b, "autoflow_go_goroutines %d\n\n", runtime.NumGoroutine())

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	fmt.Fprintf(b, "# HELP autoflow_go_mem_alloc_bytes Bytes of allocated heap objects\n")
	fmt.Fprintf(b, "# TYPE autoflow_go_mem_alloc_bytes gauge\n")
	fmt.Fprintf(b, "autoflow_go_mem_alloc_bytes %d\n", ms.Alloc)

	if h.db != nil {
		if sqlDB, err := h.db.DB(); err == nil {
			writeDBStats(b, sqlDB.Stats())
		}
	}

	totalDrops, byPrefix := metrics.RateLimitSnapshot()
	fmt.Fprintf(b, "\n# HELP autoflow_ratelimit_dropped_total Total HTTP 429 responses due to rate limiting\n")
	fmt.Fprintf(b, "# TYPE autoflow_ratelimit_dropped_total counter\n")
	if len(byPrefix) == 0 {
		fmt.Fprintf(b, "autoflow_ratelimit_dropped_total{prefix=\"global\"} 0\n")
	} else {
		prefixes := make([]string, 0, len(byPrefix))
		for p := range byPrefix {
			prefixes = append(prefixes, p)
		}
		sort.Strings(prefixes)
		for _, p := range prefixes {
			fmt.Fprintf(b, "autoflow_ratelimit_dropped_total{prefix=\"%s\"} %d\n", escapeLabel(p), byPrefix[p])
		}
	}
	fmt.Fprintf(b, "autoflow_ratelimit_dropped_sum %d\n", totalDrops)

	c.String(http.StatusOK, b.String())
}

func writeDBStats(b *strings.Builder, ds sql.DBStats) {
	fmt.Fprintf(b, "\n# HELP autoflow_db_max_open_connections Maximum number of open connections to the database\n")
	fmt.Fprintf(b, "# TYPE autoflow_db_max_open_connections gauge\n")
	fmt.Fprintf(b, "autoflow_db_max_open_connections %d\n", ds.MaxOpenConnections)

	fmt.Fprintf(b, "# HELP autoflow_db_open_connections The number of established connections both in use and idle\n")
	fmt.Fprintf(b, "# TYPE autoflow_db_open_connections gauge\n")
	fmt.Fprintf(b, "autoflow_db_open_connections %d\n", ds.OpenConnections)

	fmt.Fprintf(b, "# HELP autoflow_db_inuse_connections The number of connections currently in use\n")
	fmt.Fprintf(b, "# TYPE autoflow_db_inuse_connections gauge\n")
	fmt.Fprintf(b, "autoflow_db_inuse_connections %d\n", ds.InUse)

	fmt.Fprintf(b, "# HELP autoflow_db_idle_connections The number of idle connections\n")
	fmt.Fprintf(b, "# TYPE autoflow_db_idle_connections gauge\n")
	fmt.Fprintf(b, "autoflow_db_idle_connections %d\n", ds.Idle)

	fmt.Fprintf(b, "# HELP autoflow_db_wait_count The total number of connections waited for\n")
	fmt.Fprintf(b, "# TYPE autoflow_db_wait_count counter\n")
	fmt.Fprintf(b, "autoflow_db_wait_count %d\n", ds.WaitCount)

	fmt.Fprintf(b, "# HELP autoflow_db_wait_duration_seconds The total time blocked waiting for a new connection\n")
	fmt.Fprintf(b, "# TYPE autoflow_db_wait_duration_seconds counter\n")
	fmt.Fprintf(b, "autoflow_db_wait_duration_seconds %.6f\n", ds.WaitDuration.Seconds())
}

func escapeLabel(s string) string {
	return strings.ReplaceAll(s, "\"", "\\\"")
}
