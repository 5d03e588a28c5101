package services

import (
	"context"

	"autoflow/internal/models"

	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ExecutionLogger appends structured log entries to an execution's trail and
// mirrors them to the process logger. Logging is best-effort: a failed write
// is reported to the process logger and never returned to the caller, so it
// cannot mask the handler outcome.
type ExecutionLogger struct {
	db     *gorm.DB
	logger *logrus.Logger
	clock  Clock
}

func NewExecutionLogger(db *gorm.DB, logger *logrus.Logger, clock Clock) *ExecutionLogger {
	if logger == nil {
		logger = logrus.New()
	}
	if clock == nil {
		clock = SystemClock()
	}
	return &ExecutionLogger{db: db, logger: logger, clock: clock}
}

// Log appends one entry. metadata may be nil.
func (l *ExecutionLogger) Log(ctx context.Context, executionID string, ruleID uint, level, message string, metadata map[string]interface{}) {
	entry := l.logger.WithFields(logrus.Fields{"execution_id": executionID, "rule_id": ruleID})
	switch level {
	case models.LogLevelError:
		entry.Error(message)
	case models.LogLevelWarn:
		entry.Warn(message)
	case models.LogLevelDebug:
		entry.Debug(message)
	default:
		entry.Info(message)
	}

	if l.db == nil {
		return
	}
	row := &models.AutomationLog{
		ExecutionID: executionID,
		RuleID:      ruleID,
		Level:       level,
		Message:     message,
		Timestamp:   l.clock.Now(),
	}
	if len(metadata) > 0 {
		row.Metadata = datatypes.JSONMap(metadata)
	}
	// 日志写入不使用调用方可能已超时的 ctx
	if err := l.db.WithContext(context.WithoutCancel(ctx)).Create(row).Error; err != nil {
		entry.Warnf("automation: write execution log failed: %v", err)
	}
}

// Entries returns the trail of one execution in append order.
func (l *ExecutionLogger) Entries(ctx context.Context, executionID string) ([]models.AutomationLog, error) {
	var logs []models.AutomationLog
	if err := l.db.WithContext(ctx).
		Where("execution_id = ?", executionID).
		Order("id ASC").
		Find(&logs).Error; err != nil {
		return nil, err
	}
	return logs, nil
}
