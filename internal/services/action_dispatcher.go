package services

import (
	"context"
	"fmt"

	"autoflow/internal/datastore"
	"autoflow/internal/models"
)

// ActionDispatcher routes a rule's action to its handler.
type ActionDispatcher struct {
	dataSync      *DataSyncHandler
	notifications *NotificationHandler
	reports       *ReportHandler
	workflows     *WorkflowHandler
	execLog       *ExecutionLogger
}

// DispatcherOptions tune the handlers built by NewActionDispatcher.
type DispatcherOptions struct {
	RowLimit         int
	ReplaceAllTokens bool
	Clock            Clock
}

func NewActionDispatcher(store datastore.Store, execLog *ExecutionLogger, opts DispatcherOptions) *ActionDispatcher {
	notifications := NewNotificationHandler(store, opts.Clock, opts.ReplaceAllTokens)
	return &ActionDispatcher{
		dataSync:      NewDataSyncHandler(store, opts.RowLimit),
		notifications: notifications,
		reports:       NewReportHandler(store, opts.Clock, opts.RowLimit),
		workflows:     NewWorkflowHandler(store, notifications),
		execLog:       execLog,
	}
}

// ExecuteAction runs rule's action and returns the handler's result value.
func (d *ActionDispatcher) ExecuteAction(ctx context.Context, rule *models.AutomationRule, triggerData map[string]interface{}, executionID string) (interface{}, error) {
	d.execLog.Log(ctx, executionID, rule.ID, models.LogLevelInfo,
		fmt.Sprintf("Executing %s action for module %s", rule.ActionType, rule.Module),
		map[string]interface{}{"action_type": rule.ActionType, "module": rule.Module})

	cfg, err := ParseAction(rule.ActionType, rule.ActionConfig)
	if err != nil {
		return nil, err
	}

	ac := ActionContext{
		RuleID:      rule.ID,
		RuleName:    rule.Name,
		Module:      rule.Module,
		ExecutionID: executionID,
		TriggerData: triggerData,
	}

	switch c := cfg.(type) {
	case DataSyncConfig:
		return d.dataSync.Execute(ctx, c, ac)
	case NotificationConfig:
		return d.notifications.Execute(ctx, c, ac)
	case ReportConfig:
		return d.reports.Execute(ctx, c, ac)
	case WorkflowConfig:
		res, err := d.workflows.Execute(ctx, c, ac)
		if err != nil {
			d.execLog.Log(ctx, executionID, rule.ID, models.LogLevelWarn,
				fmt.Sprintf("Workflow aborted at step %d", res.Run.Step),
				map[string]interface{}{"step": res.Run.Step, "completed_steps": len(res.Results)})
			return res, err
		}
		return res, nil
	default:
		return nil, newError(KindUnsupportedAction, "Unsupported action type: %s", rule.ActionType)
	}
}
