package services

import (
	"context"
	"fmt"

	"autoflow/internal/datastore"
)

// WorkflowState is the lifecycle of one workflow run.
type WorkflowState string

const (
	WorkflowPending     WorkflowState = "pending"
	WorkflowStepRunning WorkflowState = "step_running"
	WorkflowCompleted   WorkflowState = "completed"
	WorkflowAborted     WorkflowState = "aborted"
)

// WorkflowRun tracks progress through the steps. Step is the index of the
// running step, or of the step that aborted the run.
type WorkflowRun struct {
	State WorkflowState `json:"state"`
	Step  int           `json:"step"`
	Err   string        `json:"error,omitempty"`
}

func (r *WorkflowRun) start(i int) {
	r.State = WorkflowStepRunning
	r.Step = i
}

func (r *WorkflowRun) abort(err error) {
	r.State = WorkflowAborted
	r.Err = err.Error()
}

func (r *WorkflowRun) complete() {
	r.State = WorkflowCompleted
}

type StepResult struct {
	Index    int         `json:"index"`
	StepType string      `json:"step_type"`
	Result   interface{} `json:"result"`
}

type WorkflowResult struct {
	Results []StepResult `json:"results"`
	Run     WorkflowRun  `json:"run"`
}

// WorkflowHandler runs steps strictly in order. The first failing step aborts
// the run; steps already applied stay applied.
type WorkflowHandler struct {
	store         datastore.Store
	notifications *NotificationHandler
}

func NewWorkflowHandler(store datastore.Store, notifications *NotificationHandler) *WorkflowHandler {
	return &WorkflowHandler{store: store, notifications: notifications}
}

// Execute always returns the result collected so far, including on error.
func (h *WorkflowHandler) Execute(ctx context.Context, cfg WorkflowConfig, ac ActionContext) (*WorkflowResult, error) {
	out := &WorkflowResult{Results: []StepResult{}, Run: WorkflowRun{State: WorkflowPending}}

	for i, raw := range cfg.Steps {
		out.Run.start(i)
		step, err := ParseStep(raw)
		if err != nil {
			out.Run.abort(err)
			return out, err
		}
		res, err := h.executeStep(ctx, step, ac)
		if err != nil {
			out.Run.abort(err)
			return out, err
		}
		out.Results = append(out.Results, StepResult{Index: i, StepType: step.StepType(), Result: res})
	}
	out.Run.complete()
	return out, nil
}

func (h *WorkflowHandler) executeStep(ctx context.Context, step WorkflowStep, ac ActionContext) (interface{}, error) {
	switch s := step.(type) {
	case UpdateRecordStep:
		recordID, ok := ac.TriggerData["record_id"]
		if !ok || recordID == nil || recordID == "" {
			return nil, &AutomationError{Kind: KindHandler, Message: fmt.Sprintf("update_record on %s requires trigger_data.record_id", s.Table)}
		}
		n, err := h.store.Update(ctx, s.Table, datastore.Row{"id": recordID}, s.Updates)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"table": s.Table, "record_id": recordID, "updated": n}, nil
	case CreateRecordStep:
		if err := h.store.Insert(ctx, s.Table, s.Data); err != nil {
			return nil, err
		}
		return map[string]interface{}{"table": s.Table, "created": true}, nil
	case SendNotificationStep:
		return h.notifications.Execute(ctx, s.NotificationConfig, ac)
	default:
		return nil, newError(KindUnsupportedStep, "Unsupported workflow step: %s", step.StepType())
	}
}
