package services

import (
	"context"
	"encoding/json"
	"testing"

	"autoflow/internal/config"
	"autoflow/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEngine_EndToEnd(t *testing.T) {
	db := newEngineTestDB(t)
	cfg := config.GetDefaultConfig().Automation
	e := NewEngine(db, cfg, quietLogger(), fixedClock{testNow})
	ctx := context.Background()
	require.NoError(t, db.Exec("INSERT INTO t1 (a) VALUES (1), (2)").Error)

	sync, err := e.Rules.CreateRule(ctx, &RuleRequest{
		Name:          "copy t1",
		TriggerType:   models.TriggerTypeScheduled,
		TriggerConfig: json.RawMessage(`{"cadence":"@every 1h"}`),
		ActionType:    ActionDataSync,
		ActionConfig:  json.RawMessage(`{"source_table":"t1","target_table":"t2","sync_type":"insert","field_mappings":{"a":"x"}}`),
	})
	require.NoError(t, err)

	res, err := e.Coordinator.ExecuteRule(ctx, sync.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, &DataSyncResult{SyncedRecords: 2, Source: "t1", Target: "t2"}, res.Result)
	assert.EqualValues(t, 2, countRows(t, db, "t2"))

	// not due until an hour after creation
	sweep, err := e.Triggers.ExecuteScheduledRules(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, sweep.ExecutedSchedules)

	_, err = e.Rules.CreateRule(ctx, &RuleRequest{
		Name:          "welcome",
		TriggerType:   models.TriggerTypeEvent,
		TriggerConfig: json.RawMessage(`{"event_type":"signup","event_source":"web"}`),
		ActionType:    ActionNotification,
		ActionConfig:  json.RawMessage(notifyConfig),
	})
	require.NoError(t, err)

	ev, err := e.Triggers.TriggerEventBasedRules(ctx, EventData{EventType: "signup", EventSource: "web", Data: map[string]interface{}{"name": "Bo"}})
	require.NoError(t, err)
	assert.Equal(t, 1, ev.TriggeredRules)
	assert.EqualValues(t, 2, countRows(t, db, "notifications"))

	execs, total, err := e.Rules.ListExecutions(ctx, ExecutionFilter{})
	require.NoError(t, err)
	assert.EqualValues(t, 2, total)
	for _, x := range execs {
		assert.Equal(t, models.ExecutionStatusSuccess, x.Status)
	}
}
