package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"autoflow/internal/datastore"
	"autoflow/internal/metrics"
	"autoflow/internal/models"
	"autoflow/internal/observability"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ExecutionResult is what callers of ExecuteRule receive.
type ExecutionResult struct {
	ExecutionID string      `json:"execution_id"`
	RuleID      uint        `json:"rule_id"`
	Status      string      `json:"status"`
	DurationMs  int64       `json:"duration_ms"`
	Result      interface{} `json:"result,omitempty"`
}

// RuleExecutor runs a single rule. The trigger dispatcher depends on this
// rather than on the coordinator directly.
type RuleExecutor interface {
	ExecuteRule(ctx context.Context, ruleID uint, triggerData map[string]interface{}) (*ExecutionResult, error)
}

// CoordinatorOptions configure an ExecutionCoordinator.
type CoordinatorOptions struct {
	ActionTimeout time.Duration // 0 disables the deadline
	Retry         datastore.RetryPolicy
	Clock         Clock
}

// ExecutionCoordinator owns the execution record lifecycle around one rule
// invocation: running -> success | failed, exactly once.
type ExecutionCoordinator struct {
	db         *gorm.DB
	dispatcher *ActionDispatcher
	execLog    *ExecutionLogger
	logger     *logrus.Logger
	opts       CoordinatorOptions
}

func NewExecutionCoordinator(db *gorm.DB, dispatcher *ActionDispatcher, execLog *ExecutionLogger, logger *logrus.Logger, opts CoordinatorOptions) *ExecutionCoordinator {
	if logger == nil {
		logger = logrus.New()
	}
	if opts.Clock == nil {
		opts.Clock = SystemClock()
	}
	return &ExecutionCoordinator{db: db, dispatcher: dispatcher, execLog: execLog, logger: logger, opts: opts}
}

// CanDispatch is the gate applied to a fetched rule before any execution
// record is written.
func CanDispatch(rule *models.AutomationRule) error {
	if rule == nil {
		return newError(KindNotFound, "Rule not found")
	}
	if !rule.Enabled {
		return &AutomationError{Kind: KindDisabledRule, RuleID: rule.ID, Message: "Rule is disabled"}
	}
	return nil
}

// ExecuteRule runs ruleID once. A not-found or disabled rule fails without
// creating an execution. Otherwise the returned result carries the execution
// id even when err is non-nil.
func (c *ExecutionCoordinator) ExecuteRule(ctx context.Context, ruleID uint, triggerData map[string]interface{}) (*ExecutionResult, error) {
	ctx, span := observability.Tracer().Start(ctx, "automation.execute_rule",
		trace.WithAttributes(attribute.Int64("automation.rule_id", int64(ruleID))))
	defer span.End()

	rule, err := c.loadRule(ctx, ruleID)
	if err == nil {
		err = CanDispatch(rule)
	}
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		if IsKind(err, KindDisabledRule) {
			metrics.IncSkipped()
		}
		return nil, err
	}
	span.SetAttributes(attribute.String("automation.action_type", rule.ActionType))

	if triggerData == nil {
		triggerData = map[string]interface{}{}
	}
	exec := &models.AutomationExecution{
		ID:          uuid.NewString(),
		RuleID:      rule.ID,
		Status:      models.ExecutionStatusRunning,
		StartedAt:   c.opts.Clock.Now(),
		TriggerData: datatypes.JSONMap(triggerData),
	}
	if err := c.createExecution(ctx, exec); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("create execution: %w", err)
	}
	span.SetAttributes(attribute.String("automation.execution_id", exec.ID))

	c.execLog.Log(ctx, exec.ID, rule.ID, models.LogLevelInfo,
		fmt.Sprintf("Starting execution of %s", rule.Name), nil)

	result, actionErr := c.dispatch(ctx, rule, triggerData, exec.ID)

	completed := c.opts.Clock.Now()
	duration := completed.Sub(exec.StartedAt)
	out := &ExecutionResult{
		ExecutionID: exec.ID,
		RuleID:      rule.ID,
		DurationMs:  duration.Milliseconds(),
		Result:      result,
	}

	if actionErr != nil {
		out.Status = models.ExecutionStatusFailed
		kind := KindOf(actionErr)
		c.finalize(ctx, exec.ID, map[string]interface{}{
			"status":        models.ExecutionStatusFailed,
			"completed_at":  completed,
			"duration_ms":   out.DurationMs,
			"error_kind":    string(kind),
			"error_message": actionErr.Error(),
			"error_stack":   errorStack(actionErr),
		})
		c.execLog.Log(ctx, exec.ID, rule.ID, models.LogLevelError,
			fmt.Sprintf("Execution failed: %s", actionErr.Error()),
			map[string]interface{}{"error_kind": string(kind), "duration_ms": out.DurationMs})
		metrics.ObserveExecution(rule.ActionType, models.ExecutionStatusFailed, duration)
		span.RecordError(actionErr)
		span.SetStatus(codes.Error, actionErr.Error())
		return out, actionErr
	}

	out.Status = models.ExecutionStatusSuccess
	updates := map[string]interface{}{
		"status":       models.ExecutionStatusSuccess,
		"completed_at": completed,
		"duration_ms":  out.DurationMs,
	}
	if rd, err := toJSONMap(result); err != nil {
		c.logger.Warnf("automation: encode result of execution %s: %v", exec.ID, err)
	} else if rd != nil {
		updates["result_data"] = rd
	}
	c.finalize(ctx, exec.ID, updates)
	c.execLog.Log(ctx, exec.ID, rule.ID, models.LogLevelSuccess,
		fmt.Sprintf("Execution completed successfully in %dms", out.DurationMs),
		map[string]interface{}{"duration_ms": out.DurationMs})
	metrics.ObserveExecution(rule.ActionType, models.ExecutionStatusSuccess, duration)
	return out, nil
}

// createExecution inserts the running row. A failed attempt whose commit in
// fact landed leaves the row behind, so an error is only returned when no row
// with this id exists afterwards.
func (c *ExecutionCoordinator) createExecution(ctx context.Context, exec *models.AutomationExecution) error {
	err := datastore.Retry(ctx, c.opts.Retry, func() error {
		return c.db.WithContext(ctx).Create(exec).Error
	})
	if err == nil {
		return nil
	}
	var existing models.AutomationExecution
	lookupErr := c.db.WithContext(context.WithoutCancel(ctx)).
		Where("id = ? AND rule_id = ? AND status = ?", exec.ID, exec.RuleID, models.ExecutionStatusRunning).
		Take(&existing).Error
	if lookupErr != nil {
		return err
	}
	c.logger.Warnf("automation: execution %s was stored despite create error: %v", exec.ID, err)
	return nil
}

func (c *ExecutionCoordinator) loadRule(ctx context.Context, ruleID uint) (*models.AutomationRule, error) {
	var rule models.AutomationRule
	err := datastore.Retry(ctx, c.opts.Retry, func() error {
		return c.db.WithContext(ctx).First(&rule, ruleID).Error
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &AutomationError{Kind: KindNotFound, RuleID: ruleID, Message: fmt.Sprintf("Rule not found: %d", ruleID)}
	}
	if err != nil {
		return nil, err
	}
	return &rule, nil
}

type dispatchOutcome struct {
	result interface{}
	err    error
}

// dispatch runs the action under the configured deadline. When the deadline
// passes first the handler goroutine is abandoned and a timeout is reported.
func (c *ExecutionCoordinator) dispatch(ctx context.Context, rule *models.AutomationRule, triggerData map[string]interface{}, executionID string) (interface{}, error) {
	var (
		dctx   context.Context
		cancel context.CancelFunc
	)
	if c.opts.ActionTimeout > 0 {
		dctx, cancel = context.WithTimeout(ctx, c.opts.ActionTimeout)
	} else {
		dctx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	done := make(chan dispatchOutcome, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- dispatchOutcome{err: &AutomationError{
					Kind:    KindHandler,
					Message: fmt.Sprintf("action panicked: %v\n%s", p, debug.Stack()),
					Err:     fmt.Errorf("action panicked: %v", p),
				}}
			}
		}()
		res, err := c.dispatcher.ExecuteAction(dctx, rule, triggerData, executionID)
		done <- dispatchOutcome{result: res, err: err}
	}()

	select {
	case o := <-done:
		if o.err != nil && errors.Is(o.err, context.DeadlineExceeded) && errors.Is(dctx.Err(), context.DeadlineExceeded) {
			return o.result, c.timeoutError(rule.ID, executionID, o.err)
		}
		return o.result, o.err
	case <-dctx.Done():
		if errors.Is(dctx.Err(), context.DeadlineExceeded) {
			return nil, c.timeoutError(rule.ID, executionID, dctx.Err())
		}
		return nil, dctx.Err()
	}
}

func (c *ExecutionCoordinator) timeoutError(ruleID uint, executionID string, cause error) error {
	return &AutomationError{
		Kind:        KindTimeout,
		RuleID:      ruleID,
		ExecutionID: executionID,
		Err:         fmt.Errorf("action timed out after %s: %w", c.opts.ActionTimeout, cause),
	}
}

// finalize moves a running execution to its terminal state. The update is
// conditional on the row still being running, so it applies at most once.
func (c *ExecutionCoordinator) finalize(ctx context.Context, executionID string, updates map[string]interface{}) {
	wctx := context.WithoutCancel(ctx)
	var affected int64
	err := datastore.Retry(wctx, c.opts.Retry, func() error {
		res := c.db.WithContext(wctx).Model(&models.AutomationExecution{}).
			Where("id = ? AND status = ?", executionID, models.ExecutionStatusRunning).
			Updates(updates)
		affected = res.RowsAffected
		return res.Error
	})
	if err != nil {
		c.logger.Errorf("automation: finalize execution %s failed: %v", executionID, err)
		return
	}
	if affected == 0 {
		c.logger.Warnf("automation: execution %s was already finalized", executionID)
	}
}

// errorStack renders the wrap chain of err, outermost first.
func errorStack(err error) string {
	var ae *AutomationError
	if errors.As(err, &ae) && ae.Err != nil && ae.Message != "" && ae.Message != ae.Err.Error() {
		// panics keep their goroutine stack in Message
		return ae.Message
	}
	var lines []string
	for e := err; e != nil; e = errors.Unwrap(e) {
		lines = append(lines, fmt.Sprintf("%T: %s", e, e.Error()))
	}
	return strings.Join(lines, "\n")
}

func toJSONMap(v interface{}) (datatypes.JSONMap, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	if string(b) == "null" {
		return nil, nil
	}
	m := map[string]interface{}{}
	if err := json.Unmarshal(b, &m); err != nil {
		return datatypes.JSONMap{"value": json.RawMessage(b)}, nil
	}
	return datatypes.JSONMap(m), nil
}
