package models

import (
	"time"

	"github.com/dmayes77/clientflow/pkg/clientflow/domain"
)

// WorkflowRequest is the payload for creating or replacing a workflow.
type WorkflowRequest struct {
	Name         string              `json:"name"`
	Description  string              `json:"description,omitempty"`
	TriggerType  domain.TriggerType  `json:"triggerType"`
	EventName    string              `json:"eventName,omitempty"`
	TriggerTagID string              `json:"triggerTagId,omitempty"`
	DelayMinutes int                 `json:"delayMinutes"`
	Actions      []domain.ActionSpec `json:"actions"`
	// Active defaults to true on create when omitted
	Active *bool `json:"active,omitempty"`
}

// ToWorkflow builds the domain workflow for tenantID, keeping id and system flag from existing when set.
func (r WorkflowRequest) ToWorkflow(tenantID string, existing *domain.Workflow) *domain.Workflow {
	wf := &domain.Workflow{
		TenantID:     tenantID,
		Name:         r.Name,
		Description:  r.Description,
		TriggerType:  r.TriggerType,
		EventName:    r.EventName,
		TriggerTagID: r.TriggerTagID,
		DelayMinutes: r.DelayMinutes,
		Actions:      r.Actions,
		Active:       true,
	}
	if existing != nil {
		wf.ID = existing.ID
		wf.System = existing.System
		wf.Created = existing.Created
		wf.Active = existing.Active
	}
	if r.Active != nil {
		wf.Active = *r.Active
	}
	return wf
}

type SetActiveRequest struct {
	Active bool `json:"active"`
}

// RunResponse is the API view of a workflow run.
type RunResponse struct {
	ID              string                `json:"id"`
	WorkflowID      string                `json:"workflowId"`
	TriggerEvent    string                `json:"triggerEvent"`
	TriggerSnapshot domain.TriggerContext `json:"triggerSnapshot"`
	Actions         []domain.ActionSpec   `json:"actions"`
	Status          domain.RunStatus      `json:"status"`
	ScheduledAt     time.Time             `json:"scheduledAt"`
	DueAt           time.Time             `json:"dueAt"`
	StartedAt       *time.Time            `json:"startedAt,omitempty"`
	CompletedAt     *time.Time            `json:"completedAt,omitempty"`
	ExecutorID      int64                 `json:"executorId,omitempty"`
	Error           string                `json:"error,omitempty"`
	ActionResults   []domain.ActionResult `json:"actionResults"`
}

func NewRunResponse(run *domain.WorkflowRun) RunResponse {
	resp := RunResponse{
		ID:              run.ID,
		WorkflowID:      run.WorkflowID,
		TriggerEvent:    run.TriggerEvent,
		TriggerSnapshot: run.TriggerSnapshot,
		Actions:         run.Actions,
		Status:          run.Status,
		ScheduledAt:     run.ScheduledAt,
		DueAt:           run.DueAt,
		Error:           run.Error,
		ActionResults:   run.ActionResults,
	}
	if run.StartedAt.Valid {
		resp.StartedAt = &run.StartedAt.Time
	}
	if run.CompletedAt.Valid {
		resp.CompletedAt = &run.CompletedAt.Time
	}
	if run.ExecutorID.Valid {
		resp.ExecutorID = run.ExecutorID.Int64
	}
	if resp.ActionResults == nil {
		resp.ActionResults = []domain.ActionResult{}
	}
	return resp
}

type ErrorResponse struct {
	Error string `json:"error"`
}
