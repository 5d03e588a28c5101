package services

import (
	"context"
	"fmt"
	"time"

	"autoflow/internal/metrics"
	"autoflow/internal/models"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

type ScheduleRunResult struct {
	ScheduleID  uint   `json:"schedule_id"`
	RuleID      uint   `json:"rule_id"`
	Success     bool   `json:"success"`
	ExecutionID string `json:"execution_id,omitempty"`
	Error       string `json:"error,omitempty"`
}

type ScheduledSweepResult struct {
	ExecutedSchedules int                 `json:"executed_schedules"`
	Results           []ScheduleRunResult `json:"results"`
}

// EventData is an external event offered to the event triggers.
type EventData struct {
	EventType   string                 `json:"event_type"`
	EventSource string                 `json:"event_source"`
	Data        map[string]interface{} `json:"data,omitempty"`
}

type EventRuleResult struct {
	RuleID      uint   `json:"rule_id"`
	Success     bool   `json:"success"`
	Skipped     bool   `json:"skipped,omitempty"`
	Reason      string `json:"reason,omitempty"`
	ExecutionID string `json:"execution_id,omitempty"`
	Error       string `json:"error,omitempty"`
}

type EventDispatchResult struct {
	TriggeredRules int               `json:"triggered_rules"`
	Results        []EventRuleResult `json:"results"`
}

// TriggerDispatcherOptions configure a TriggerDispatcher.
type TriggerDispatcherOptions struct {
	DefaultCadence      string
	ReportSkippedEvents bool
	Clock               Clock
}

// TriggerDispatcher finds due or matching rules and runs each one through the
// executor, sequentially, isolating per-rule failures.
type TriggerDispatcher struct {
	db       *gorm.DB
	executor RuleExecutor
	logger   *logrus.Logger
	opts     TriggerDispatcherOptions
}

func NewTriggerDispatcher(db *gorm.DB, executor RuleExecutor, logger *logrus.Logger, opts TriggerDispatcherOptions) *TriggerDispatcher {
	if logger == nil {
		logger = logrus.New()
	}
	if opts.Clock == nil {
		opts.Clock = SystemClock()
	}
	if opts.DefaultCadence == "" {
		opts.DefaultCadence = DefaultCadence
	}
	return &TriggerDispatcher{db: db, executor: executor, logger: logger, opts: opts}
}

// ExecuteScheduledRules runs every enabled schedule whose next_run_at has
// passed. Each schedule is claimed by advancing next_run_at with a conditional
// update before its rule runs; a schedule claimed by a concurrent sweep is
// left to that sweep. Rule failures are reported per entry and never abort
// the sweep.
func (d *TriggerDispatcher) ExecuteScheduledRules(ctx context.Context) (*ScheduledSweepResult, error) {
	now := d.opts.Clock.Now()

	var due []models.AutomationSchedule
	if err := d.db.WithContext(ctx).
		Where("enabled = ? AND next_run_at <= ?", true, now).
		Order("next_run_at ASC, id ASC").
		Find(&due).Error; err != nil {
		return nil, fmt.Errorf("load due schedules: %w", err)
	}

	out := &ScheduledSweepResult{Results: []ScheduleRunResult{}}
	for _, s := range due {
		claimed, err := d.claim(ctx, s, now)
		if err != nil {
			d.logger.Warnf("automation: claim schedule %d failed: %v", s.ID, err)
			out.Results = append(out.Results, ScheduleRunResult{ScheduleID: s.ID, RuleID: s.RuleID, Error: err.Error()})
			continue
		}
		if !claimed {
			d.logger.Debugf("automation: schedule %d already claimed by another sweep", s.ID)
			metrics.IncSkipped()
			continue
		}

		res, err := d.executor.ExecuteRule(ctx, s.RuleID, map[string]interface{}{"scheduled": true})
		entry := ScheduleRunResult{ScheduleID: s.ID, RuleID: s.RuleID, Success: err == nil}
		if res != nil {
			entry.ExecutionID = res.ExecutionID
		}
		if err != nil {
			entry.Error = err.Error()
			d.logger.WithFields(logrus.Fields{"schedule_id": s.ID, "rule_id": s.RuleID}).
				Warnf("automation: scheduled rule failed: %v", err)
		}
		d.stampLastRun(ctx, s.ID)
		out.Results = append(out.Results, entry)
	}
	out.ExecutedSchedules = len(out.Results)
	return out, nil
}

// claim advances the schedule only if next_run_at still holds the value read
// by this sweep.
func (d *TriggerDispatcher) claim(ctx context.Context, s models.AutomationSchedule, now time.Time) (bool, error) {
	res := d.db.WithContext(ctx).Model(&models.AutomationSchedule{}).
		Where("id = ? AND next_run_at = ?", s.ID, s.NextRunAt).
		Update("next_run_at", d.nextRun(s.Cadence, now))
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// stampLastRun records the attempt regardless of its outcome.
func (d *TriggerDispatcher) stampLastRun(ctx context.Context, scheduleID uint) {
	err := d.db.WithContext(context.WithoutCancel(ctx)).Model(&models.AutomationSchedule{}).
		Where("id = ?", scheduleID).
		Update("last_run_at", d.opts.Clock.Now()).Error
	if err != nil {
		d.logger.Warnf("automation: stamp last_run_at on schedule %d: %v", scheduleID, err)
	}
}

func (d *TriggerDispatcher) nextRun(cadence string, now time.Time) time.Time {
	if cadence == "" {
		cadence = d.opts.DefaultCadence
	}
	next, err := ComputeNextRun(cadence, now)
	if err == nil {
		return next
	}
	d.logger.Warnf("automation: %v; falling back to %s", err, d.opts.DefaultCadence)
	if next, err = ComputeNextRun(d.opts.DefaultCadence, now); err == nil {
		return next
	}
	return now.Add(time.Hour)
}

// TriggerEventBasedRules runs every rule bound to the event's type and source.
// Disabled rules are skipped before the executor is called.
func (d *TriggerDispatcher) TriggerEventBasedRules(ctx context.Context, evt EventData) (*EventDispatchResult, error) {
	if evt.EventType == "" {
		return nil, newError(KindInvalidConfig, "event_type required")
	}

	var matches []models.AutomationEventTrigger
	if err := d.db.WithContext(ctx).
		Preload("Rule").
		Where("event_type = ? AND event_source = ?", evt.EventType, evt.EventSource).
		Order("id ASC").
		Find(&matches).Error; err != nil {
		return nil, fmt.Errorf("load event triggers: %w", err)
	}

	triggerData := make(map[string]interface{}, len(evt.Data)+1)
	triggerData["event"] = evt.EventType
	for k, v := range evt.Data {
		triggerData[k] = v
	}

	out := &EventDispatchResult{Results: []EventRuleResult{}}
	for _, m := range matches {
		rule := &m.Rule
		if rule.ID == 0 {
			rule = nil
		}
		if err := CanDispatch(rule); err != nil {
			metrics.IncSkipped()
			d.logger.Debugf("automation: event %s skipped rule %d: %v", evt.EventType, m.RuleID, err)
			if d.opts.ReportSkippedEvents {
				out.Results = append(out.Results, EventRuleResult{RuleID: m.RuleID, Skipped: true, Reason: err.Error()})
			}
			continue
		}

		res, err := d.executor.ExecuteRule(ctx, m.RuleID, copyMap(triggerData))
		entry := EventRuleResult{RuleID: m.RuleID, Success: err == nil}
		if res != nil {
			entry.ExecutionID = res.ExecutionID
		}
		if err != nil {
			entry.Error = err.Error()
			d.logger.WithFields(logrus.Fields{"rule_id": m.RuleID, "event": evt.EventType}).
				Warnf("automation: event rule failed: %v", err)
		}
		out.Results = append(out.Results, entry)
		out.TriggeredRules++
	}
	return out, nil
}

func copyMap(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
