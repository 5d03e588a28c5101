package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"autoflow/internal/datastore"
	"autoflow/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func seedSchedule(t *testing.T, db *gorm.DB, ruleID uint, cadence string, nextRun time.Time, enabled bool) models.AutomationSchedule {
	t.Helper()
	s := models.AutomationSchedule{RuleID: ruleID, Enabled: enabled, Cadence: cadence, NextRunAt: nextRun}
	require.NoError(t, db.Omit("Rule").Create(&s).Error)
	return s
}

func newTestTriggerDispatcher(db *gorm.DB, reportSkipped bool) *TriggerDispatcher {
	c := newTestCoordinator(db, datastore.NewGormStore(db), fixedClock{testNow}, time.Minute)
	return NewTriggerDispatcher(db, c, quietLogger(), TriggerDispatcherOptions{
		ReportSkippedEvents: reportSkipped,
		Clock:               fixedClock{testNow},
	})
}

func TestExecuteScheduledRules_IsolatesFailures(t *testing.T) {
	db := newEngineTestDB(t)
	d := newTestTriggerDispatcher(db, true)

	r1 := seedRule(t, db, "first", ActionNotification, notifyConfig, true)
	r2 := seedRule(t, db, "second", ActionDataSync,
		`{"source_table":"missing_src","target_table":"t2","sync_type":"insert","field_mappings":{"a":"x"}}`, true)
	r3 := seedRule(t, db, "third", ActionNotification, notifyConfig, true)
	s1 := seedSchedule(t, db, r1.ID, "@every 1h", testNow.Add(-3*time.Minute), true)
	s2 := seedSchedule(t, db, r2.ID, "@every 1h", testNow.Add(-2*time.Minute), true)
	s3 := seedSchedule(t, db, r3.ID, "@every 1h", testNow.Add(-1*time.Minute), true)

	res, err := d.ExecuteScheduledRules(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, res.ExecutedSchedules)
	require.Len(t, res.Results, 3)
	assert.True(t, res.Results[0].Success)
	assert.False(t, res.Results[1].Success)
	assert.NotEmpty(t, res.Results[1].Error)
	assert.True(t, res.Results[2].Success)
	assert.Equal(t, []uint{s1.ID, s2.ID, s3.ID}, []uint{res.Results[0].ScheduleID, res.Results[1].ScheduleID, res.Results[2].ScheduleID})

	var scheds []models.AutomationSchedule
	require.NoError(t, db.Order("id").Find(&scheds).Error)
	for _, s := range scheds {
		assert.True(t, s.NextRunAt.Equal(testNow.Add(time.Hour)), "schedule %d next_run_at = %s", s.ID, s.NextRunAt)
		require.NotNil(t, s.LastRunAt)
		assert.True(t, s.LastRunAt.Equal(testNow))
	}

	var execs []models.AutomationExecution
	require.NoError(t, db.Find(&execs).Error)
	assert.Len(t, execs, 3)
	for _, e := range execs {
		assert.Equal(t, true, e.TriggerData["scheduled"])
	}
}

func TestExecuteScheduledRules_SkipsNotDueAndDisabled(t *testing.T) {
	db := newEngineTestDB(t)
	d := newTestTriggerDispatcher(db, true)

	due := seedRule(t, db, "due", ActionNotification, notifyConfig, true)
	later := seedRule(t, db, "later", ActionNotification, notifyConfig, true)
	paused := seedRule(t, db, "paused", ActionNotification, notifyConfig, true)
	seedSchedule(t, db, due.ID, "", testNow, true)
	seedSchedule(t, db, later.ID, "@every 1h", testNow.Add(5*time.Minute), true)
	seedSchedule(t, db, paused.ID, "@every 1h", testNow.Add(-time.Hour), false)

	res, err := d.ExecuteScheduledRules(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, res.ExecutedSchedules)
	assert.Equal(t, due.ID, res.Results[0].RuleID)
	assert.NotEmpty(t, res.Results[0].ExecutionID)

	// second sweep at the same instant finds nothing due
	res, err = d.ExecuteScheduledRules(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, res.ExecutedSchedules)
	assert.NotNil(t, res.Results)
}

func TestExecuteScheduledRules_DisabledRuleReportsFailure(t *testing.T) {
	db := newEngineTestDB(t)
	d := newTestTriggerDispatcher(db, true)

	r := seedRule(t, db, "off", ActionNotification, notifyConfig, false)
	seedSchedule(t, db, r.ID, "@every 1h", testNow.Add(-time.Minute), true)

	res, err := d.ExecuteScheduledRules(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Results, 1)
	assert.False(t, res.Results[0].Success)
	assert.Equal(t, "Rule is disabled", res.Results[0].Error)
	assert.EqualValues(t, 0, countRows(t, db, "automation_executions"))
}

func TestClaim_LosingSweepSkips(t *testing.T) {
	db := newEngineTestDB(t)
	d := newTestTriggerDispatcher(db, true)
	r := seedRule(t, db, "r", ActionNotification, notifyConfig, true)
	seedSchedule(t, db, r.ID, "*/15 * * * *", testNow.Add(-time.Minute), true)

	var read models.AutomationSchedule
	require.NoError(t, db.First(&read).Error)

	ok, err := d.claim(context.Background(), read, testNow)
	require.NoError(t, err)
	assert.True(t, ok)

	// a concurrent sweep holding the same snapshot loses
	ok, err = d.claim(context.Background(), read, testNow)
	require.NoError(t, err)
	assert.False(t, ok)

	var after models.AutomationSchedule
	require.NoError(t, db.First(&after).Error)
	assert.True(t, after.NextRunAt.Equal(testNow.Add(15*time.Minute)), "got %s", after.NextRunAt)
}

func TestNextRun_FallsBackOnBadCadence(t *testing.T) {
	d := NewTriggerDispatcher(nil, nil, quietLogger(), TriggerDispatcherOptions{DefaultCadence: "@every 30m"})
	assert.Equal(t, testNow.Add(30*time.Minute), d.nextRun("not a cadence", testNow))
	assert.Equal(t, testNow.Add(30*time.Minute), d.nextRun("", testNow))
	assert.Equal(t, testNow.Add(14*time.Hour), d.nextRun("@daily", testNow.Add(-10*time.Hour)))

	broken := NewTriggerDispatcher(nil, nil, quietLogger(), TriggerDispatcherOptions{DefaultCadence: "nope"})
	assert.Equal(t, testNow.Add(time.Hour), broken.nextRun("", testNow))
}

func seedEventTrigger(t *testing.T, db *gorm.DB, ruleID uint, eventType, source string) {
	t.Helper()
	require.NoError(t, db.Omit("Rule").Create(&models.AutomationEventTrigger{RuleID: ruleID, EventType: eventType, EventSource: source}).Error)
}

func TestTriggerEventBasedRules_SkipsDisabled(t *testing.T) {
	tests := []struct {
		name          string
		reportSkipped bool
		wantResults   int
	}{
		{"skipped reported", true, 2},
		{"skipped omitted", false, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := newEngineTestDB(t)
			d := newTestTriggerDispatcher(db, tt.reportSkipped)

			on := seedRule(t, db, "on", ActionNotification, notifyConfig, true)
			off := seedRule(t, db, "off", ActionNotification, notifyConfig, false)
			other := seedRule(t, db, "other source", ActionNotification, notifyConfig, true)
			seedEventTrigger(t, db, on.ID, "ticket_created", "helpdesk")
			seedEventTrigger(t, db, off.ID, "ticket_created", "helpdesk")
			seedEventTrigger(t, db, other.ID, "ticket_created", "email")

			res, err := d.TriggerEventBasedRules(context.Background(), EventData{
				EventType:   "ticket_created",
				EventSource: "helpdesk",
				Data:        map[string]interface{}{"name": "Ana", "ticket_id": 7},
			})
			require.NoError(t, err)
			assert.Equal(t, 1, res.TriggeredRules)
			require.Len(t, res.Results, tt.wantResults)
			assert.Equal(t, on.ID, res.Results[0].RuleID)
			assert.True(t, res.Results[0].Success)
			if tt.reportSkipped {
				assert.Equal(t, EventRuleResult{RuleID: off.ID, Skipped: true, Reason: "Rule is disabled"}, res.Results[1])
			}

			var execs []models.AutomationExecution
			require.NoError(t, db.Find(&execs).Error)
			require.Len(t, execs, 1)
			assert.Equal(t, on.ID, execs[0].RuleID)
			assert.Equal(t, "ticket_created", execs[0].TriggerData["event"])
			assert.Equal(t, "Ana", execs[0].TriggerData["name"])

			var n models.Notification
			require.NoError(t, db.First(&n).Error)
			assert.Equal(t, "Hi Ana", n.Message)
		})
	}
}

func TestTriggerEventBasedRules_FailureIsIsolated(t *testing.T) {
	db := newEngineTestDB(t)
	d := newTestTriggerDispatcher(db, true)

	bad := seedRule(t, db, "bad", "send_fax", `{}`, true)
	good := seedRule(t, db, "good", ActionNotification, notifyConfig, true)
	seedEventTrigger(t, db, bad.ID, "lead_won", "crm")
	seedEventTrigger(t, db, good.ID, "lead_won", "crm")

	res, err := d.TriggerEventBasedRules(context.Background(), EventData{EventType: "lead_won", EventSource: "crm"})
	require.NoError(t, err)
	assert.Equal(t, 2, res.TriggeredRules)
	require.Len(t, res.Results, 2)
	assert.False(t, res.Results[0].Success)
	assert.Equal(t, "Unsupported action type: send_fax", res.Results[0].Error)
	assert.True(t, res.Results[1].Success)
}

func TestTriggerEventBasedRules_NoMatchesAndValidation(t *testing.T) {
	db := newEngineTestDB(t)
	d := newTestTriggerDispatcher(db, true)

	res, err := d.TriggerEventBasedRules(context.Background(), EventData{EventType: "nothing", EventSource: "x"})
	require.NoError(t, err)
	assert.Equal(t, 0, res.TriggeredRules)
	assert.Empty(t, res.Results)

	_, err = d.TriggerEventBasedRules(context.Background(), EventData{})
	assert.True(t, IsKind(err, KindInvalidConfig))
}

type countingExecutor struct {
	calls []uint
	fail  map[uint]bool
}

func (e *countingExecutor) ExecuteRule(ctx context.Context, ruleID uint, triggerData map[string]interface{}) (*ExecutionResult, error) {
	e.calls = append(e.calls, ruleID)
	if e.fail[ruleID] {
		return &ExecutionResult{RuleID: ruleID, Status: models.ExecutionStatusFailed}, errors.New("handler exploded")
	}
	return &ExecutionResult{RuleID: ruleID, Status: models.ExecutionStatusSuccess}, nil
}

func TestExecuteScheduledRules_SequentialOrder(t *testing.T) {
	db := newEngineTestDB(t)
	exec := &countingExecutor{fail: map[uint]bool{}}
	d := NewTriggerDispatcher(db, exec, quietLogger(), TriggerDispatcherOptions{Clock: fixedClock{testNow}})

	var ids []uint
	for i := 0; i < 4; i++ {
		r := seedRule(t, db, "r", ActionNotification, notifyConfig, true)
		seedSchedule(t, db, r.ID, "@hourly", testNow.Add(-time.Duration(4-i)*time.Minute), true)
		ids = append(ids, r.ID)
	}
	exec.fail[ids[1]] = true

	res, err := d.ExecuteScheduledRules(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ids, exec.calls)
	assert.Equal(t, "handler exploded", res.Results[1].Error)
}
