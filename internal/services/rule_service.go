package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"autoflow/internal/models"

	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// RuleRequest 创建规则的请求
type RuleRequest struct {
	Name          string          `json:"name" binding:"required"`
	Module        string          `json:"module"`
	TriggerType   string          `json:"trigger_type" binding:"required"`
	TriggerConfig json.RawMessage `json:"trigger_config"`
	ActionType    string          `json:"action_type" binding:"required"`
	ActionConfig  json.RawMessage `json:"action_config"`
	Priority      int             `json:"priority"`
	Enabled       *bool           `json:"enabled"`
}

// EventBinding 事件类型 + 来源
type EventBinding struct {
	EventType   string `json:"event_type"`
	EventSource string `json:"event_source"`
}

// triggerSpec is the accepted shape of trigger_config.
type triggerSpec struct {
	Cadence     string         `json:"cadence"`
	EventType   string         `json:"event_type"`
	EventSource string         `json:"event_source"`
	Events      []EventBinding `json:"events"`
}

func (t triggerSpec) bindings() []EventBinding {
	if len(t.Events) > 0 {
		return t.Events
	}
	if t.EventType != "" {
		return []EventBinding{{EventType: t.EventType, EventSource: t.EventSource}}
	}
	return nil
}

// RuleDetail 规则及其触发器
type RuleDetail struct {
	models.AutomationRule
	Schedule      *models.AutomationSchedule      `json:"schedule,omitempty"`
	EventTriggers []models.AutomationEventTrigger `json:"event_triggers,omitempty"`
}

type RuleFilter struct {
	Module  string
	Enabled *bool
}

type ExecutionFilter struct {
	RuleID   uint
	Status   string
	Page     int
	PageSize int
}

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// RuleService 规则管理：增删查、启停、执行记录查询
type RuleService struct {
	db             *gorm.DB
	execLog        *ExecutionLogger
	logger         *logrus.Logger
	clock          Clock
	defaultCadence string
}

func NewRuleService(db *gorm.DB, execLog *ExecutionLogger, logger *logrus.Logger, clock Clock, defaultCadence string) *RuleService {
	if logger == nil {
		logger = logrus.New()
	}
	if clock == nil {
		clock = SystemClock()
	}
	if defaultCadence == "" {
		defaultCadence = DefaultCadence
	}
	return &RuleService{db: db, execLog: execLog, logger: logger, clock: clock, defaultCadence: defaultCadence}
}

// ListRules 按优先级返回规则
func (s *RuleService) ListRules(ctx context.Context, f RuleFilter) ([]models.AutomationRule, error) {
	q := s.db.WithContext(ctx).Model(&models.AutomationRule{})
	if f.Module != "" {
		q = q.Where("module = ?", f.Module)
	}
	if f.Enabled != nil {
		q = q.Where("enabled = ?", *f.Enabled)
	}
	var rules []models.AutomationRule
	if err := q.Order("priority DESC, id ASC").Find(&rules).Error; err != nil {
		return nil, err
	}
	return rules, nil
}

// GetRule 返回规则及其 schedule / event triggers
func (s *RuleService) GetRule(ctx context.Context, id uint) (*RuleDetail, error) {
	var rule models.AutomationRule
	if err := s.db.WithContext(ctx).First(&rule, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &AutomationError{Kind: KindNotFound, RuleID: id, Message: fmt.Sprintf("Rule not found: %d", id)}
		}
		return nil, err
	}
	out := &RuleDetail{AutomationRule: rule}

	var sched models.AutomationSchedule
	err := s.db.WithContext(ctx).Where("rule_id = ?", id).First(&sched).Error
	switch {
	case err == nil:
		out.Schedule = &sched
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return nil, err
	}
	if err := s.db.WithContext(ctx).Where("rule_id = ?", id).Order("id ASC").Find(&out.EventTriggers).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// CreateRule validates the action config and trigger config, then writes the
// rule together with its schedule or event bindings.
func (s *RuleService) CreateRule(ctx context.Context, req *RuleRequest) (*RuleDetail, error) {
	if req == nil {
		return nil, newError(KindInvalidConfig, "request required")
	}
	if strings.TrimSpace(req.Name) == "" {
		return nil, newError(KindInvalidConfig, "name required")
	}
	if err := ValidateAction(req.ActionType, req.ActionConfig); err != nil {
		return nil, err
	}

	var spec triggerSpec
	if err := decodeConfig(req.TriggerConfig, &spec); err != nil {
		return nil, err
	}

	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}
	rule := models.AutomationRule{
		Name:          req.Name,
		Module:        req.Module,
		Enabled:       enabled,
		TriggerType:   req.TriggerType,
		TriggerConfig: rawJSON(req.TriggerConfig),
		ActionType:    req.ActionType,
		ActionConfig:  rawJSON(req.ActionConfig),
		Priority:      req.Priority,
	}
	out := &RuleDetail{}

	switch req.TriggerType {
	case models.TriggerTypeScheduled:
		cadence := spec.Cadence
		if cadence == "" {
			cadence = s.defaultCadence
		}
		next, err := ComputeNextRun(cadence, s.clock.Now())
		if err != nil {
			return nil, &AutomationError{Kind: KindInvalidConfig, Err: err}
		}
		out.Schedule = &models.AutomationSchedule{Enabled: enabled, Cadence: cadence, NextRunAt: next}
	case models.TriggerTypeEvent:
		bindings := spec.bindings()
		if len(bindings) == 0 {
			return nil, newError(KindInvalidConfig, "event trigger requires event_type or events")
		}
		for _, b := range bindings {
			if b.EventType == "" {
				return nil, newError(KindInvalidConfig, "event_type required")
			}
			out.EventTriggers = append(out.EventTriggers, models.AutomationEventTrigger{EventType: b.EventType, EventSource: b.EventSource})
		}
	default:
		return nil, newError(KindInvalidConfig, "unsupported trigger type: %s", req.TriggerType)
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&rule).Error; err != nil {
			return err
		}
		if out.Schedule != nil {
			out.Schedule.RuleID = rule.ID
			if err := tx.Omit("Rule").Create(out.Schedule).Error; err != nil {
				return err
			}
		}
		for i := range out.EventTriggers {
			out.EventTriggers[i].RuleID = rule.ID
			if err := tx.Omit("Rule").Create(&out.EventTriggers[i]).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	out.AutomationRule = rule
	s.logger.WithFields(logrus.Fields{"rule_id": rule.ID, "trigger_type": rule.TriggerType, "action_type": rule.ActionType}).
		Info("automation: rule created")
	return out, nil
}

// SetRuleEnabled 启用/停用规则，同步其 schedule
func (s *RuleService) SetRuleEnabled(ctx context.Context, id uint, enabled bool) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.AutomationRule{}).Where("id = ?", id).Update("enabled", enabled)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return &AutomationError{Kind: KindNotFound, RuleID: id, Message: fmt.Sprintf("Rule not found: %d", id)}
		}
		return tx.Model(&models.AutomationSchedule{}).Where("rule_id = ?", id).Update("enabled", enabled).Error
	})
}

// DeleteRule removes the rule and its triggers. Executions and logs are kept.
func (s *RuleService) DeleteRule(ctx context.Context, id uint) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("rule_id = ?", id).Delete(&models.AutomationSchedule{}).Error; err != nil {
			return err
		}
		if err := tx.Where("rule_id = ?", id).Delete(&models.AutomationEventTrigger{}).Error; err != nil {
			return err
		}
		res := tx.Delete(&models.AutomationRule{}, id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return &AutomationError{Kind: KindNotFound, RuleID: id, Message: fmt.Sprintf("Rule not found: %d", id)}
		}
		return nil
	})
}

// ListExecutions returns one page of executions, newest first, and the total
// count for the filter.
func (s *RuleService) ListExecutions(ctx context.Context, f ExecutionFilter) ([]models.AutomationExecution, int64, error) {
	q := s.db.WithContext(ctx).Model(&models.AutomationExecution{})
	if f.RuleID != 0 {
		q = q.Where("rule_id = ?", f.RuleID)
	}
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}

	var total int64
	if err := q.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	if f.Page <= 0 {
		f.Page = 1
	}
	if f.PageSize <= 0 {
		f.PageSize = defaultPageSize
	}
	if f.PageSize > maxPageSize {
		f.PageSize = maxPageSize
	}

	var execs []models.AutomationExecution
	if err := q.Order("started_at DESC, id ASC").
		Offset((f.Page - 1) * f.PageSize).
		Limit(f.PageSize).
		Find(&execs).Error; err != nil {
		return nil, 0, err
	}
	return execs, total, nil
}

// ListExecutionLogs 返回某次执行的日志
func (s *RuleService) ListExecutionLogs(ctx context.Context, executionID string) ([]models.AutomationLog, error) {
	return s.execLog.Entries(ctx, executionID)
}

func rawJSON(raw json.RawMessage) datatypes.JSON {
	if len(raw) == 0 {
		return datatypes.JSON("{}")
	}
	return datatypes.JSON(raw)
}
