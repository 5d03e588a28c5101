package services

import (
	"context"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"autoflow/internal/datastore"
	"autoflow/internal/models"

	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var testNow = time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)

func newEngineTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_", "#", "_").Replace(t.Name())
	db, err := gorm.Open(sqlite.Open("file:services_"+name+"?mode=memory&cache=shared"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, _ := db.DB()
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := db.AutoMigrate(models.AllModels()...); err != nil {
		t.Fatalf("auto migrate: %v", err)
	}
	stmts := []string{
		"CREATE TABLE t1 (a INTEGER)",
		"CREATE TABLE t2 (x INTEGER)",
		"CREATE TABLE contacts (id INTEGER PRIMARY KEY, name TEXT, email TEXT)",
		"CREATE TABLE leads (id INTEGER PRIMARY KEY, full_name TEXT, email TEXT)",
		"CREATE TABLE tickets (id INTEGER PRIMARY KEY, status TEXT)",
		"CREATE TABLE audit (id INTEGER PRIMARY KEY AUTOINCREMENT, note TEXT)",
	}
	for _, s := range stmts {
		if err := db.Exec(s).Error; err != nil {
			t.Fatalf("create table: %v", err)
		}
	}
	return db
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

// stepClock advances by step on every call.
type stepClock struct {
	mu   sync.Mutex
	t    time.Time
	step time.Duration
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.t
	c.t = c.t.Add(c.step)
	return now
}

func seedRule(t *testing.T, db *gorm.DB, name, actionType, actionConfig string, enabled bool) models.AutomationRule {
	t.Helper()
	rule := models.AutomationRule{
		Name:          name,
		Module:        "crm",
		Enabled:       enabled,
		TriggerType:   models.TriggerTypeScheduled,
		TriggerConfig: datatypes.JSON("{}"),
		ActionType:    actionType,
		ActionConfig:  datatypes.JSON(actionConfig),
	}
	if err := db.Create(&rule).Error; err != nil {
		t.Fatalf("seed rule: %v", err)
	}
	return rule
}

func newTestCoordinator(db *gorm.DB, store datastore.Store, clock Clock, timeout time.Duration) *ExecutionCoordinator {
	logs := NewExecutionLogger(db, quietLogger(), nil)
	dispatcher := NewActionDispatcher(store, logs, DispatcherOptions{})
	return NewExecutionCoordinator(db, dispatcher, logs, quietLogger(), CoordinatorOptions{
		ActionTimeout: timeout,
		Clock:         clock,
	})
}

func countRows(t *testing.T, db *gorm.DB, table string) int64 {
	t.Helper()
	var n int64
	if err := db.Table(table).Count(&n).Error; err != nil {
		t.Fatalf("count %s: %v", table, err)
	}
	return n
}

// hangStore never answers until the test ends.
type hangStore struct {
	release chan struct{}
}

func (s *hangStore) Query(ctx context.Context, table string, q datastore.Query) ([]datastore.Row, error) {
	<-s.release
	return nil, nil
}

func (s *hangStore) Insert(ctx context.Context, table string, row datastore.Row) error {
	<-s.release
	return nil
}

func (s *hangStore) Update(ctx context.Context, table string, filter, updates datastore.Row) (int64, error) {
	<-s.release
	return 0, nil
}

func (s *hangStore) Upsert(ctx context.Context, table string, row datastore.Row, conflictColumns ...string) error {
	<-s.release
	return nil
}

type panicStore struct{}

func (panicStore) Query(ctx context.Context, table string, q datastore.Query) ([]datastore.Row, error) {
	panic("boom")
}

func (panicStore) Insert(ctx context.Context, table string, row datastore.Row) error { panic("boom") }

func (panicStore) Update(ctx context.Context, table string, filter, updates datastore.Row) (int64, error) {
	panic("boom")
}

func (panicStore) Upsert(ctx context.Context, table string, row datastore.Row, conflictColumns ...string) error {
	panic("boom")
}
