package services

import (
	"context"

	"autoflow/internal/datastore"
)

// DefaultRowLimit caps rows read per source table. There is no pagination
// beyond it.
const DefaultRowLimit = 100

// ActionContext is what every handler receives about the invocation.
type ActionContext struct {
	RuleID      uint
	RuleName    string
	Module      string
	ExecutionID string
	TriggerData map[string]interface{}
}

type DataSyncResult struct {
	SyncedRecords int    `json:"synced_records"`
	Source        string `json:"source"`
	Target        string `json:"target"`
}

// DataSyncHandler copies rows from one table to another through a field mapping.
type DataSyncHandler struct {
	store    datastore.Store
	rowLimit int
}

func NewDataSyncHandler(store datastore.Store, rowLimit int) *DataSyncHandler {
	if rowLimit <= 0 {
		rowLimit = DefaultRowLimit
	}
	return &DataSyncHandler{store: store, rowLimit: rowLimit}
}

// Execute reads up to the row limit from the source and writes each projected
// row to the target. The first failing write aborts the batch and its error is
// returned as is.
func (h *DataSyncHandler) Execute(ctx context.Context, cfg DataSyncConfig, _ ActionContext) (*DataSyncResult, error) {
	rows, err := h.store.Query(ctx, cfg.SourceTable, datastore.Query{Limit: h.rowLimit})
	if err != nil {
		return nil, err
	}

	conflictKey := cfg.conflictColumn()

	synced := 0
	for _, row := range rows {
		mapped := projectRow(row, cfg.FieldMappings)
		if cfg.SyncType == SyncTypeUpsert {
			err = h.store.Upsert(ctx, cfg.TargetTable, mapped, conflictKey)
		} else {
			err = h.store.Insert(ctx, cfg.TargetTable, mapped)
		}
		if err != nil {
			return nil, err
		}
		synced++
	}

	return &DataSyncResult{SyncedRecords: synced, Source: cfg.SourceTable, Target: cfg.TargetTable}, nil
}

// projectRow renames mapped columns; source columns absent from the row are skipped.
func projectRow(row datastore.Row, mappings map[string]string) datastore.Row {
	out := make(datastore.Row, len(mappings))
	for src, dst := range mappings {
		if v, ok := row[src]; ok {
			out[dst] = v
		}
	}
	return out
}
