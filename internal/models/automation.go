package models

import (
	"time"

	"gorm.io/datatypes"
)

// Trigger types
const (
	TriggerTypeScheduled = "scheduled"
	TriggerTypeEvent     = "event"
)

// Execution statuses
const (
	ExecutionStatusRunning = "running"
	ExecutionStatusSuccess = "success"
	ExecutionStatusFailed  = "failed"
)

// Log levels
const (
	LogLevelDebug   = "debug"
	LogLevelInfo    = "info"
	LogLevelSuccess = "success"
	LogLevelWarn    = "warn"
	LogLevelError   = "error"
)

const NotificationStatusPending = "pending"

// AutomationRule 触发条件与动作的绑定
type AutomationRule struct {
	ID            uint           `gorm:"primaryKey" json:"id"`
	Name          string         `gorm:"not null" json:"name"`
	Module        string         `gorm:"index" json:"module"`
	Enabled       bool           `gorm:"not null;index" json:"enabled"`
	TriggerType   string         `gorm:"not null" json:"trigger_type"` // scheduled, event
	TriggerConfig datatypes.JSON `json:"trigger_config"`
	ActionType    string         `gorm:"not null" json:"action_type"` // data_sync, notification, report_generation, workflow
	ActionConfig  datatypes.JSON `json:"action_config"`
	Priority      int            `gorm:"not null;default:0" json:"priority"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

func (AutomationRule) TableName() string { return "automation_rules" }

// AutomationExecution 一次规则执行的审计记录，终态后不可变
type AutomationExecution struct {
	ID           string            `gorm:"primaryKey;size:36" json:"id"`
	RuleID       uint              `gorm:"index;not null" json:"rule_id"`
	Status       string            `gorm:"index;not null" json:"status"` // running, success, failed
	StartedAt    time.Time         `gorm:"not null" json:"started_at"`
	CompletedAt  *time.Time        `json:"completed_at,omitempty"`
	DurationMs   int64             `json:"duration_ms"`
	TriggerData  datatypes.JSONMap `json:"trigger_data,omitempty"`
	ResultData   datatypes.JSONMap `json:"result_data,omitempty"`
	ErrorKind    string            `gorm:"size:32" json:"error_kind,omitempty"`
	ErrorMessage string            `gorm:"type:text" json:"error_message,omitempty"`
	ErrorStack   string            `gorm:"type:text" json:"error_stack,omitempty"`
}

func (AutomationExecution) TableName() string { return "automation_executions" }

// AutomationLog 执行日志，只追加
type AutomationLog struct {
	ID          uint              `gorm:"primaryKey" json:"id"`
	ExecutionID string            `gorm:"index;size:36" json:"execution_id"`
	RuleID      uint              `gorm:"index" json:"rule_id"`
	Level       string            `gorm:"size:16" json:"level"`
	Message     string            `gorm:"type:text" json:"message"`
	Metadata    datatypes.JSONMap `json:"metadata,omitempty"`
	Timestamp   time.Time         `gorm:"index" json:"timestamp"`
}

func (AutomationLog) TableName() string { return "automation_logs" }

// AutomationSchedule per-rule cursor for scheduled triggers.
// Cadence accepts a 5-field cron expression or a descriptor such as "@every 15m" / "@hourly".
type AutomationSchedule struct {
	ID        uint       `gorm:"primaryKey" json:"id"`
	RuleID    uint       `gorm:"uniqueIndex;not null" json:"rule_id"`
	Enabled   bool       `gorm:"not null;index" json:"enabled"`
	Cadence   string     `json:"cadence"`
	LastRunAt *time.Time `json:"last_run_at,omitempty"`
	NextRunAt time.Time  `gorm:"index;not null" json:"next_run_at"`

	Rule AutomationRule `gorm:"foreignKey:RuleID" json:"-"`
}

func (AutomationSchedule) TableName() string { return "automation_schedules" }

// AutomationEventTrigger 外部事件到规则的静态映射
type AutomationEventTrigger struct {
	ID          uint   `gorm:"primaryKey" json:"id"`
	RuleID      uint   `gorm:"index;not null" json:"rule_id"`
	EventType   string `gorm:"index:idx_event_lookup;not null" json:"event_type"`
	EventSource string `gorm:"index:idx_event_lookup" json:"event_source"`

	Rule AutomationRule `gorm:"foreignKey:RuleID" json:"-"`
}

func (AutomationEventTrigger) TableName() string { return "automation_event_triggers" }

// Notification 待投递通知；投递由外部 worker 负责
type Notification struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	ExecutionID string    `gorm:"index;size:36" json:"execution_id"`
	UserID      string    `gorm:"index" json:"user_id"`
	Type        string    `json:"type"`
	Title       string    `json:"title"`
	Message     string    `gorm:"type:text" json:"message"`
	Status      string    `gorm:"index;not null" json:"status"`
	CreatedAt   time.Time `json:"created_at"`
}

func (Notification) TableName() string { return "notifications" }

// AllModels 供 AutoMigrate 使用
func AllModels() []interface{} {
	return []interface{}{
		&AutomationRule{},
		&AutomationExecution{},
		&AutomationLog{},
		&AutomationSchedule{},
		&AutomationEventTrigger{},
		&Notification{},
	}
}
