package services

import (
	"bytes"
	"encoding/json"
	"fmt"

	"autoflow/internal/datastore"
)

// Action types
const (
	ActionDataSync         = "data_sync"
	ActionNotification     = "notification"
	ActionReportGeneration = "report_generation"
	ActionWorkflow         = "workflow"
)

// Workflow step types
const (
	StepUpdateRecord     = "update_record"
	StepCreateRecord     = "create_record"
	StepSendNotification = "send_notification"
)

// Sync types
const (
	SyncTypeInsert = "insert"
	SyncTypeUpsert = "upsert"
)

// ActionConfig is the closed set of action configurations. Dispatch is a
// type switch over the implementations in this file.
type ActionConfig interface {
	ActionType() string
	sealedAction()
}

type DataSyncConfig struct {
	SourceTable   string            `json:"source_table"`
	TargetTable   string            `json:"target_table"`
	SyncType      string            `json:"sync_type"`
	FieldMappings map[string]string `json:"field_mappings"` // source column -> target column
	ConflictKey   string            `json:"conflict_key,omitempty"`
}

type Recipient struct {
	UserID string `json:"user_id,omitempty"`
}

// UnmarshalJSON accepts user_id as a string or a number.
func (r *Recipient) UnmarshalJSON(b []byte) error {
	var raw struct {
		UserID json.RawMessage `json:"user_id"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	r.UserID = ""
	if len(raw.UserID) == 0 || bytes.Equal(raw.UserID, []byte("null")) {
		return nil
	}
	var s string
	if err := json.Unmarshal(raw.UserID, &s); err == nil {
		r.UserID = s
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(raw.UserID, &n); err != nil {
		return fmt.Errorf("recipient user_id must be a string or number: %s", raw.UserID)
	}
	r.UserID = n.String()
	return nil
}

type NotificationConfig struct {
	NotificationType string      `json:"notification_type"`
	Recipients       []Recipient `json:"recipients"`
	Title            string      `json:"title"`
	MessageTemplate  string      `json:"message_template"`
}

type ReportDataSource struct {
	Table  string   `json:"table"`
	Fields []string `json:"fields,omitempty"`
	Limit  int      `json:"limit,omitempty"`
}

type ReportConfig struct {
	ReportType  string             `json:"report_type"`
	DataSources []ReportDataSource `json:"data_sources"`
	Format      string             `json:"format"`
}

// RawStep is resolved into a WorkflowStep only when the workflow reaches it.
type RawStep struct {
	StepType   string          `json:"step_type"`
	StepConfig json.RawMessage `json:"step_config"`
}

type WorkflowConfig struct {
	Steps []RawStep `json:"workflow_steps"`
}

func (DataSyncConfig) ActionType() string     { return ActionDataSync }
func (NotificationConfig) ActionType() string { return ActionNotification }
func (ReportConfig) ActionType() string       { return ActionReportGeneration }
func (WorkflowConfig) ActionType() string     { return ActionWorkflow }

func (DataSyncConfig) sealedAction()     {}
func (NotificationConfig) sealedAction() {}
func (ReportConfig) sealedAction()       {}
func (WorkflowConfig) sealedAction()     {}

// WorkflowStep is the closed set of workflow step kinds.
type WorkflowStep interface {
	StepType() string
	sealedStep()
}

type UpdateRecordStep struct {
	Table   string                 `json:"table"`
	Updates map[string]interface{} `json:"updates"`
}

type CreateRecordStep struct {
	Table string                 `json:"table"`
	Data  map[string]interface{} `json:"data"`
}

type SendNotificationStep struct {
	NotificationConfig
}

func (UpdateRecordStep) StepType() string     { return StepUpdateRecord }
func (CreateRecordStep) StepType() string     { return StepCreateRecord }
func (SendNotificationStep) StepType() string { return StepSendNotification }

func (UpdateRecordStep) sealedStep()     {}
func (CreateRecordStep) sealedStep()     {}
func (SendNotificationStep) sealedStep() {}

// ParseAction decodes raw into the typed config for actionType.
func ParseAction(actionType string, raw []byte) (ActionConfig, error) {
	var (
		cfg ActionConfig
		err error
	)
	switch actionType {
	case ActionDataSync:
		var c DataSyncConfig
		err = decodeConfig(raw, &c)
		if err == nil {
			err = c.validate()
		}
		cfg = c
	case ActionNotification:
		var c NotificationConfig
		err = decodeConfig(raw, &c)
		cfg = c
	case ActionReportGeneration:
		var c ReportConfig
		err = decodeConfig(raw, &c)
		if err == nil {
			err = c.validate()
		}
		cfg = c
	case ActionWorkflow:
		var c WorkflowConfig
		err = decodeConfig(raw, &c)
		cfg = c
	default:
		return nil, newError(KindUnsupportedAction, "Unsupported action type: %s", actionType)
	}
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// ParseStep resolves one workflow step.
func ParseStep(step RawStep) (WorkflowStep, error) {
	switch step.StepType {
	case StepUpdateRecord:
		var s UpdateRecordStep
		if err := decodeConfig(step.StepConfig, &s); err != nil {
			return nil, err
		}
		if s.Table == "" {
			return nil, newError(KindInvalidConfig, "update_record step requires table")
		}
		return s, nil
	case StepCreateRecord:
		var s CreateRecordStep
		if err := decodeConfig(step.StepConfig, &s); err != nil {
			return nil, err
		}
		if s.Table == "" {
			return nil, newError(KindInvalidConfig, "create_record step requires table")
		}
		return s, nil
	case StepSendNotification:
		var s SendNotificationStep
		if err := decodeConfig(step.StepConfig, &s.NotificationConfig); err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, newError(KindUnsupportedStep, "Unsupported workflow step: %s", step.StepType)
	}
}

// ValidateAction fully checks an action config ahead of time, including every
// workflow step. Used when rules are created, not on the dispatch path.
func ValidateAction(actionType string, raw []byte) error {
	cfg, err := ParseAction(actionType, raw)
	if err != nil {
		return err
	}
	if wf, ok := cfg.(WorkflowConfig); ok {
		for i, step := range wf.Steps {
			if _, err := ParseStep(step); err != nil {
				return fmt.Errorf("workflow step %d: %w", i, err)
			}
		}
	}
	return nil
}

func (c DataSyncConfig) validate() error {
	if c.SourceTable == "" || c.TargetTable == "" {
		return newError(KindInvalidConfig, "data_sync requires source_table and target_table")
	}
	switch c.SyncType {
	case SyncTypeInsert, SyncTypeUpsert:
	default:
		return newError(KindInvalidConfig, "data_sync: unsupported sync_type %q", c.SyncType)
	}
	if len(c.FieldMappings) == 0 {
		return newError(KindInvalidConfig, "data_sync requires field_mappings")
	}
	if c.SyncType == SyncTypeUpsert {
		key := c.conflictColumn()
		for _, target := range c.FieldMappings {
			if target == key {
				return nil
			}
		}
		return newError(KindInvalidConfig, "data_sync upsert requires field_mappings to produce conflict column %q", key)
	}
	return nil
}

func (c DataSyncConfig) conflictColumn() string {
	if c.ConflictKey != "" {
		return c.ConflictKey
	}
	return datastore.DefaultConflictColumn
}

func (c ReportConfig) validate() error {
	for i, ds := range c.DataSources {
		if ds.Table == "" {
			return newError(KindInvalidConfig, "report data source %d requires table", i)
		}
	}
	return nil
}

func decodeConfig(raw []byte, v interface{}) error {
	if len(raw) == 0 {
		raw = []byte("{}")
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return &AutomationError{Kind: KindInvalidConfig, Message: "invalid config", Err: fmt.Errorf("invalid config: %w", err)}
	}
	return nil
}
