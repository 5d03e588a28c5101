package services

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"autoflow/internal/models"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecutionLogger_AppendsInOrder(t *testing.T) {
	db := newEngineTestDB(t)
	l := NewExecutionLogger(db, quietLogger(), fixedClock{testNow})
	ctx := context.Background()

	l.Log(ctx, "e1", 7, models.LogLevelInfo, "first", nil)
	l.Log(ctx, "e1", 7, models.LogLevelWarn, "second", map[string]interface{}{"step": 2})
	l.Log(ctx, "e2", 8, models.LogLevelError, "other", nil)

	entries, err := l.Entries(ctx, "e1")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "first", entries[0].Message)
	assert.Equal(t, models.LogLevelWarn, entries[1].Level)
	assert.Equal(t, json.Number("2"), entries[1].Metadata["step"])
	assert.EqualValues(t, 7, entries[1].RuleID)
	assert.True(t, entries[0].Timestamp.Equal(testNow))
	assert.Empty(t, entries[0].Metadata)
}

func TestExecutionLogger_WriteFailureIsSwallowed(t *testing.T) {
	db := newEngineTestDB(t)
	var buf bytes.Buffer
	logger := logrus.New()
	logger.SetOutput(&buf)
	logger.SetFormatter(&logrus.JSONFormatter{})
	l := NewExecutionLogger(db, logger, nil)

	require.NoError(t, db.Migrator().DropTable(&models.AutomationLog{}))
	assert.NotPanics(t, func() {
		l.Log(context.Background(), "e1", 1, models.LogLevelInfo, "still mirrored", nil)
	})
	assert.Contains(t, buf.String(), "still mirrored")
	assert.Contains(t, buf.String(), "write execution log failed")
}

func TestExecutionLogger_MirrorsFields(t *testing.T) {
	var buf bytes.Buffer
	logger := logrus.New()
	logger.SetOutput(&buf)
	logger.SetFormatter(&logrus.JSONFormatter{})
	l := NewExecutionLogger(nil, logger, nil)

	l.Log(context.Background(), "e9", 3, models.LogLevelError, "kaput", nil)

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(bytes.Split(buf.Bytes(), []byte("\n"))[0], &line))
	assert.Equal(t, "e9", line["execution_id"])
	assert.EqualValues(t, 3, line["rule_id"])
	assert.Equal(t, "error", line["level"])
	assert.Equal(t, "kaput", line["msg"])
}

func TestExecutionLogger_CancelledContextStillWrites(t *testing.T) {
	db := newEngineTestDB(t)
	l := NewExecutionLogger(db, quietLogger(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	l.Log(ctx, "e1", 1, models.LogLevelError, "after timeout", nil)

	entries, err := l.Entries(context.Background(), "e1")
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}
