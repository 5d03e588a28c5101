package services

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"autoflow/internal/datastore"
	"autoflow/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRuleService(t *testing.T) (*RuleService, *ExecutionCoordinator) {
	db := newEngineTestDB(t)
	logs := NewExecutionLogger(db, quietLogger(), nil)
	rules := NewRuleService(db, logs, quietLogger(), fixedClock{testNow}, "")
	return rules, newTestCoordinator(db, datastore.NewGormStore(db), nil, time.Minute)
}

func TestRuleService_CreateScheduled(t *testing.T) {
	svc, _ := newTestRuleService(t)
	ctx := context.Background()

	rule, err := svc.CreateRule(ctx, &RuleRequest{
		Name:          "Nightly sync",
		Module:        "crm",
		TriggerType:   models.TriggerTypeScheduled,
		TriggerConfig: json.RawMessage(`{"cadence":"0 2 * * *"}`),
		ActionType:    ActionDataSync,
		ActionConfig:  json.RawMessage(`{"source_table":"contacts","target_table":"leads","sync_type":"upsert","field_mappings":{"id":"id"}}`),
	})
	require.NoError(t, err)
	assert.True(t, rule.Enabled)
	require.NotNil(t, rule.Schedule)
	assert.Equal(t, "0 2 * * *", rule.Schedule.Cadence)
	assert.True(t, rule.Schedule.NextRunAt.Equal(time.Date(2026, 1, 2, 2, 0, 0, 0, time.UTC)))

	got, err := svc.GetRule(ctx, rule.ID)
	require.NoError(t, err)
	assert.Equal(t, "Nightly sync", got.Name)
	require.NotNil(t, got.Schedule)
	assert.Equal(t, rule.ID, got.Schedule.RuleID)
	assert.Empty(t, got.EventTriggers)
}

func TestRuleService_CreateScheduledDefaultsCadence(t *testing.T) {
	svc, _ := newTestRuleService(t)
	rule, err := svc.CreateRule(context.Background(), &RuleRequest{
		Name:        "Hourly report",
		TriggerType: models.TriggerTypeScheduled,
		ActionType:  ActionReportGeneration,
	})
	require.NoError(t, err)
	assert.Equal(t, DefaultCadence, rule.Schedule.Cadence)
	assert.True(t, rule.Schedule.NextRunAt.Equal(testNow.Add(time.Hour)))
}

func TestRuleService_CreateEvent(t *testing.T) {
	svc, _ := newTestRuleService(t)
	ctx := context.Background()
	disabled := false

	single, err := svc.CreateRule(ctx, &RuleRequest{
		Name:          "Greet",
		TriggerType:   models.TriggerTypeEvent,
		TriggerConfig: json.RawMessage(`{"event_type":"contact_created","event_source":"crm"}`),
		ActionType:    ActionNotification,
		ActionConfig:  json.RawMessage(notifyConfig),
		Enabled:       &disabled,
	})
	require.NoError(t, err)
	assert.False(t, single.Enabled)
	require.Len(t, single.EventTriggers, 1)
	assert.Equal(t, "contact_created", single.EventTriggers[0].EventType)

	multi, err := svc.CreateRule(ctx, &RuleRequest{
		Name:        "Audit",
		TriggerType: models.TriggerTypeEvent,
		TriggerConfig: json.RawMessage(`{"events":[
			{"event_type":"ticket_created","event_source":"helpdesk"},
			{"event_type":"ticket_closed","event_source":"helpdesk"}]}`),
		ActionType:   ActionWorkflow,
		ActionConfig: json.RawMessage(`{"workflow_steps":[{"step_type":"create_record","step_config":{"table":"audit","data":{"note":"x"}}}]}`),
	})
	require.NoError(t, err)
	assert.Len(t, multi.EventTriggers, 2)

	got, err := svc.GetRule(ctx, single.ID)
	require.NoError(t, err)
	assert.False(t, got.Enabled)
	assert.Nil(t, got.Schedule)
	assert.Len(t, got.EventTriggers, 1)
}

func TestRuleService_CreateRejectsInvalid(t *testing.T) {
	svc, _ := newTestRuleService(t)

	tests := []struct {
		name string
		req  *RuleRequest
		kind ErrorKind
	}{
		{"nil request", nil, KindInvalidConfig},
		{"blank name", &RuleRequest{Name: " ", TriggerType: "event", ActionType: ActionNotification}, KindInvalidConfig},
		{"unknown action", &RuleRequest{Name: "x", TriggerType: "event", ActionType: "send_fax"}, KindUnsupportedAction},
		{"bad workflow step", &RuleRequest{Name: "x", TriggerType: "event", ActionType: ActionWorkflow,
			ActionConfig: json.RawMessage(`{"workflow_steps":[{"step_type":"teleport"}]}`)}, KindUnsupportedStep},
		{"data_sync missing mappings", &RuleRequest{Name: "x", TriggerType: "event", ActionType: ActionDataSync,
			ActionConfig: json.RawMessage(`{"source_table":"a","target_table":"b","sync_type":"insert"}`)}, KindInvalidConfig},
		{"unknown trigger type", &RuleRequest{Name: "x", TriggerType: "webhook", ActionType: ActionNotification}, KindInvalidConfig},
		{"event without type", &RuleRequest{Name: "x", TriggerType: "event", ActionType: ActionNotification}, KindInvalidConfig},
		{"bad cadence", &RuleRequest{Name: "x", TriggerType: "scheduled", ActionType: ActionNotification,
			TriggerConfig: json.RawMessage(`{"cadence":"every tuesday"}`)}, KindInvalidConfig},
		{"malformed trigger config", &RuleRequest{Name: "x", TriggerType: "scheduled", ActionType: ActionNotification,
			TriggerConfig: json.RawMessage(`{"cadence":`)}, KindInvalidConfig},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.CreateRule(context.Background(), tt.req)
			require.Error(t, err)
			assert.Equal(t, tt.kind, KindOf(err), "err = %v", err)
		})
	}

	rules, err := svc.ListRules(context.Background(), RuleFilter{})
	require.NoError(t, err)
	assert.Empty(t, rules)
}

func TestRuleService_ListRulesOrderAndFilter(t *testing.T) {
	svc, _ := newTestRuleService(t)
	ctx := context.Background()
	off := false
	for i, name := range []string{"low", "high", "mid"} {
		req := &RuleRequest{
			Name: name, Module: "crm", TriggerType: models.TriggerTypeScheduled,
			ActionType: ActionReportGeneration, Priority: []int{1, 10, 5}[i],
		}
		if name == "mid" {
			req.Enabled = &off
			req.Module = "billing"
		}
		_, err := svc.CreateRule(ctx, req)
		require.NoError(t, err)
	}

	all, err := svc.ListRules(ctx, RuleFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"high", "mid", "low"}, []string{all[0].Name, all[1].Name, all[2].Name})

	on := true
	enabled, err := svc.ListRules(ctx, RuleFilter{Enabled: &on})
	require.NoError(t, err)
	assert.Len(t, enabled, 2)

	billing, err := svc.ListRules(ctx, RuleFilter{Module: "billing"})
	require.NoError(t, err)
	require.Len(t, billing, 1)
	assert.Equal(t, "mid", billing[0].Name)
}

func TestRuleService_SetEnabledGatesExecution(t *testing.T) {
	svc, coord := newTestRuleService(t)
	ctx := context.Background()

	rule, err := svc.CreateRule(ctx, &RuleRequest{
		Name: "Greet", TriggerType: models.TriggerTypeScheduled,
		ActionType: ActionNotification, ActionConfig: json.RawMessage(notifyConfig),
	})
	require.NoError(t, err)

	require.NoError(t, svc.SetRuleEnabled(ctx, rule.ID, false))
	got, err := svc.GetRule(ctx, rule.ID)
	require.NoError(t, err)
	assert.False(t, got.Enabled)
	assert.False(t, got.Schedule.Enabled)

	_, err = coord.ExecuteRule(ctx, rule.ID, nil)
	assert.True(t, IsKind(err, KindDisabledRule))

	require.NoError(t, svc.SetRuleEnabled(ctx, rule.ID, true))
	_, err = coord.ExecuteRule(ctx, rule.ID, map[string]interface{}{"name": "Ana"})
	assert.NoError(t, err)

	err = svc.SetRuleEnabled(ctx, 999, true)
	assert.True(t, IsKind(err, KindNotFound))
}

func TestRuleService_DeleteRule(t *testing.T) {
	svc, coord := newTestRuleService(t)
	ctx := context.Background()

	rule, err := svc.CreateRule(ctx, &RuleRequest{
		Name: "Greet", TriggerType: models.TriggerTypeEvent,
		TriggerConfig: json.RawMessage(`{"event_type":"signup"}`),
		ActionType:    ActionNotification, ActionConfig: json.RawMessage(notifyConfig),
	})
	require.NoError(t, err)
	res, err := coord.ExecuteRule(ctx, rule.ID, nil)
	require.NoError(t, err)

	require.NoError(t, svc.DeleteRule(ctx, rule.ID))
	_, err = svc.GetRule(ctx, rule.ID)
	assert.True(t, IsKind(err, KindNotFound))
	assert.True(t, IsKind(svc.DeleteRule(ctx, rule.ID), KindNotFound))

	// execution history outlives the rule
	execs, total, err := svc.ListExecutions(ctx, ExecutionFilter{RuleID: rule.ID})
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
	assert.Equal(t, res.ExecutionID, execs[0].ID)
}

func TestRuleService_ListExecutionsAndLogs(t *testing.T) {
	svc, coord := newTestRuleService(t)
	ctx := context.Background()

	good, err := svc.CreateRule(ctx, &RuleRequest{
		Name: "good", TriggerType: models.TriggerTypeScheduled,
		ActionType: ActionNotification, ActionConfig: json.RawMessage(notifyConfig),
	})
	require.NoError(t, err)
	bad, err := svc.CreateRule(ctx, &RuleRequest{
		Name: "bad", TriggerType: models.TriggerTypeScheduled,
		ActionType: ActionReportGeneration, ActionConfig: json.RawMessage(`{"data_sources":[{"table":"no_such_table"}]}`),
	})
	require.NoError(t, err)

	var lastID string
	for i := 0; i < 3; i++ {
		res, err := coord.ExecuteRule(ctx, good.ID, nil)
		require.NoError(t, err)
		lastID = res.ExecutionID
	}
	_, err = coord.ExecuteRule(ctx, bad.ID, nil)
	require.Error(t, err)

	all, total, err := svc.ListExecutions(ctx, ExecutionFilter{})
	require.NoError(t, err)
	assert.EqualValues(t, 4, total)
	assert.Len(t, all, 4)

	failed, total, err := svc.ListExecutions(ctx, ExecutionFilter{Status: models.ExecutionStatusFailed})
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
	assert.Equal(t, bad.ID, failed[0].RuleID)

	page, total, err := svc.ListExecutions(ctx, ExecutionFilter{RuleID: good.ID, Page: 2, PageSize: 2})
	require.NoError(t, err)
	assert.EqualValues(t, 3, total)
	assert.Len(t, page, 1)

	logs, err := svc.ListExecutionLogs(ctx, lastID)
	require.NoError(t, err)
	require.Len(t, logs, 3)
	assert.Equal(t, "Starting execution of good", logs[0].Message)

	none, err := svc.ListExecutionLogs(ctx, "unknown")
	require.NoError(t, err)
	assert.Empty(t, none)
}
