package domain

import (
	"database/sql"
	"time"
)

type RunStatus string

const (
	RunScheduled           RunStatus = "scheduled"
	RunRunning             RunStatus = "running"
	RunCompleted           RunStatus = "completed"
	RunCompletedWithErrors RunStatus = "completed_with_errors"
	RunFailed              RunStatus = "failed"
)

// Terminal reports whether no further transitions are possible.
func (s RunStatus) Terminal() bool {
	return s == RunCompleted || s == RunCompletedWithErrors || s == RunFailed
}

type ActionStatus string

const (
	ActionSuccess ActionStatus = "success"
	ActionError   ActionStatus = "error"
)

// ActionResult is the outcome of one attempted action, stored in the order attempted.
type ActionResult struct {
	Position   int          `json:"position"`
	ActionType ActionType   `json:"actionType"`
	Status     ActionStatus `json:"status"`
	Error      string       `json:"error,omitempty"`
	StartedAt  time.Time    `json:"startedAt"`
	FinishedAt time.Time    `json:"finishedAt"`
}

// WorkflowRun is one audited execution of a matched workflow. TriggerSnapshot and Actions are
// value copies taken when the run was scheduled.
type WorkflowRun struct {
	ID              string         `json:"id"`
	WorkflowID      string         `json:"workflowId"`
	TenantID        string         `json:"tenantId"`
	TriggerEvent    string         `json:"triggerEvent"`
	TriggerSnapshot TriggerContext `json:"triggerSnapshot"`
	Actions         []ActionSpec   `json:"actions"`
	Status          RunStatus      `json:"status"`
	ScheduledAt     time.Time      `json:"scheduledAt"`
	DueAt           time.Time      `json:"dueAt"`
	StartedAt       sql.NullTime   `json:"-"`
	CompletedAt     sql.NullTime   `json:"-"`
	ExecutorID      sql.NullInt64  `json:"-"`
	Error           string         `json:"error,omitempty"`
	ActionResults   []ActionResult `json:"actionResults"`
}
