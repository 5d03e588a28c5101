package services

import (
	"autoflow/internal/config"
	"autoflow/internal/datastore"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Engine 组装自动化引擎的各组件
type Engine struct {
	Logs        *ExecutionLogger
	Dispatcher  *ActionDispatcher
	Coordinator *ExecutionCoordinator
	Triggers    *TriggerDispatcher
	Rules       *RuleService
	Worker      *ScheduleWorker
}

// NewEngine wires every component over one database handle. clock may be nil.
func NewEngine(db *gorm.DB, cfg config.AutomationConfig, logger *logrus.Logger, clock Clock) *Engine {
	if logger == nil {
		logger = logrus.New()
	}
	if clock == nil {
		clock = SystemClock()
	}
	policy := datastore.RetryPolicy{
		MaxAttempts:     cfg.Retry.MaxAttempts,
		InitialInterval: cfg.Retry.InitialInterval,
		MaxInterval:     cfg.Retry.MaxInterval,
	}
	store := datastore.NewRetryStore(datastore.NewGormStore(db), policy, logger)

	logs := NewExecutionLogger(db, logger, clock)
	dispatcher := NewActionDispatcher(store, logs, DispatcherOptions{
		RowLimit:         cfg.RowLimit,
		ReplaceAllTokens: cfg.ReplaceAllTokens,
		Clock:            clock,
	})
	coordinator := NewExecutionCoordinator(db, dispatcher, logs, logger, CoordinatorOptions{
		ActionTimeout: cfg.ActionTimeout,
		Retry:         policy,
		Clock:         clock,
	})
	triggers := NewTriggerDispatcher(db, coordinator, logger, TriggerDispatcherOptions{
		DefaultCadence:      cfg.DefaultCadence,
		ReportSkippedEvents: cfg.ReportSkippedEvents,
		Clock:               clock,
	})

	return &Engine{
		Logs:        logs,
		Dispatcher:  dispatcher,
		Coordinator: coordinator,
		Triggers:    triggers,
		Rules:       NewRuleService(db, logs, logger, clock, cfg.DefaultCadence),
		Worker:      NewScheduleWorker(triggers, cfg.SweepInterval, logger),
	}
}
