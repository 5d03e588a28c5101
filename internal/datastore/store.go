// Package datastore is the tabular data-access capability shared by the
// automation engine and its collaborators: query/insert/update/upsert of rows
// in named tables.
package datastore

import (
	"context"
	"fmt"
	"sort"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DefaultConflictColumn is used by Upsert when no conflict columns are given.
const DefaultConflictColumn = "id"

// Row is a single table row keyed by column name.
type Row = map[string]interface{}

// Query selects rows from one table.
type Query struct {
	Filter  Row      // equality conditions, ANDed
	Fields  []string // projection; empty selects every column
	Limit   int      // <= 0 means no limit
	OrderBy string
}

// Store is the generic table access used by action handlers.
type Store interface {
	Query(ctx context.Context, table string, q Query) ([]Row, error)
	Insert(ctx context.Context, table string, row Row) error
	Update(ctx context.Context, table string, filter Row, updates Row) (int64, error)
	Upsert(ctx context.Context, table string, row Row, conflictColumns ...string) error
}

// GormStore implements Store on top of a gorm connection.
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) Query(ctx context.Context, table string, q Query) ([]Row, error) {
	if table == "" {
		return nil, fmt.Errorf("table required")
	}
	tx := s.db.WithContext(ctx).Table(table)
	if len(q.Fields) > 0 {
		tx = tx.Select(q.Fields)
	}
	if len(q.Filter) > 0 {
		tx = tx.Where(map[string]interface{}(q.Filter))
	}
	if q.OrderBy != "" {
		tx = tx.Order(q.OrderBy)
	}
	if q.Limit > 0 {
		tx = tx.Limit(q.Limit)
	}
	rows := []map[string]interface{}{}
	if err := tx.Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]Row, len(rows))
	for i, r := range rows {
		out[i] = r
	}
	return out, nil
}

func (s *GormStore) Insert(ctx context.Context, table string, row Row) error {
	if table == "" {
		return fmt.Errorf("table required")
	}
	return s.db.WithContext(ctx).Table(table).Create(map[string]interface{}(copyRow(row))).Error
}

func (s *GormStore) Update(ctx context.Context, table string, filter Row, updates Row) (int64, error) {
	if table == "" {
		return 0, fmt.Errorf("table required")
	}
	if len(filter) == 0 {
		// 禁止无条件全表更新
		return 0, fmt.Errorf("update on %s requires a filter", table)
	}
	if len(updates) == 0 {
		return 0, nil
	}
	res := s.db.WithContext(ctx).Table(table).
		Where(map[string]interface{}(filter)).
		Updates(map[string]interface{}(updates))
	return res.RowsAffected, res.Error
}

// Upsert inserts row, or on conflict over conflictColumns overwrites every
// other column present in row.
func (s *GormStore) Upsert(ctx context.Context, table string, row Row, conflictColumns ...string) error {
	if table == "" {
		return fmt.Errorf("table required")
	}
	if len(conflictColumns) == 0 {
		conflictColumns = []string{DefaultConflictColumn}
	}
	for _, c := range conflictColumns {
		if _, ok := row[c]; !ok {
			return fmt.Errorf("upsert into %s: row is missing conflict column %q", table, c)
		}
	}
	onConflict := clause.OnConflict{Columns: make([]clause.Column, 0, len(conflictColumns))}
	for _, c := range conflictColumns {
		onConflict.Columns = append(onConflict.Columns, clause.Column{Name: c})
	}
	if cols := updateColumns(row, conflictColumns); len(cols) > 0 {
		onConflict.DoUpdates = clause.AssignmentColumns(cols)
	} else {
		onConflict.DoNothing = true
	}
	return s.db.WithContext(ctx).Table(table).
		Clauses(onConflict).
		Create(map[string]interface{}(copyRow(row))).Error
}

func updateColumns(row Row, keys []string) []string {
	skip := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		skip[k] = struct{}{}
	}
	cols := make([]string, 0, len(row))
	for k := range row {
		if _, ok := skip[k]; !ok {
			cols = append(cols, k)
		}
	}
	sort.Strings(cols)
	return cols
}

// gorm may write generated keys back into the map it is given.
func copyRow(row Row) Row {
	out := make(Row, len(row))
	for k, v := range row {
		out[k] = v
	}
	return out
}
