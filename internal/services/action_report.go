package services

import (
	"context"
	"time"

	"autoflow/internal/datastore"
)

type ReportSummary struct {
	TotalRecords int `json:"total_records"`
}

// Report is handed back to the caller; persisting or rendering it is not the
// engine's concern.
type Report struct {
	Type        string                     `json:"type"`
	Module      string                     `json:"module"`
	GeneratedAt time.Time                  `json:"generated_at"`
	Format      string                     `json:"format"`
	Data        map[string][]datastore.Row `json:"data"`
	Summary     ReportSummary              `json:"summary"`
}

type ReportHandler struct {
	store        datastore.Store
	clock        Clock
	defaultLimit int
}

func NewReportHandler(store datastore.Store, clock Clock, defaultLimit int) *ReportHandler {
	if clock == nil {
		clock = SystemClock()
	}
	if defaultLimit <= 0 {
		defaultLimit = DefaultRowLimit
	}
	return &ReportHandler{store: store, clock: clock, defaultLimit: defaultLimit}
}

// Execute gathers each data source under its table name. Two sources naming
// the same table overwrite each other in Data but both count toward the total.
func (h *ReportHandler) Execute(ctx context.Context, cfg ReportConfig, ac ActionContext) (*Report, error) {
	report := &Report{
		Type:        cfg.ReportType,
		Module:      ac.Module,
		GeneratedAt: h.clock.Now(),
		Format:      cfg.Format,
		Data:        make(map[string][]datastore.Row, len(cfg.DataSources)),
	}

	for _, ds := range cfg.DataSources {
		limit := ds.Limit
		if limit <= 0 {
			limit = h.defaultLimit
		}
		rows, err := h.store.Query(ctx, ds.Table, datastore.Query{Fields: ds.Fields, Limit: limit})
		if err != nil {
			return nil, err
		}
		report.Data[ds.Table] = rows
		report.Summary.TotalRecords += len(rows)
	}
	return report, nil
}
