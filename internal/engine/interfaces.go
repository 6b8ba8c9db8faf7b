package engine

import (
	"context"
	"time"

	"github.com/dmayes77/clientflow/internal/actions"
	"github.com/dmayes77/clientflow/pkg/clientflow/domain"
)

// WorkflowStore is the read side of workflow persistence used for matching, satisfied by
// repository.WorkflowRepository.
type WorkflowStore interface {
	FindActiveByEvent(ctx context.Context, tenantID, eventName string) ([]domain.Workflow, error)
	FindActiveByTag(ctx context.Context, tenantID, tagID string, triggerType domain.TriggerType) ([]domain.Workflow, error)
}

// Recorder persists runs and their outcomes. It does no business logic.
type Recorder interface {
	Create(ctx context.Context, run *domain.WorkflowRun) error
	AppendActionResult(ctx context.Context, runID string, res domain.ActionResult) error
	Complete(ctx context.Context, runID string, status domain.RunStatus, errText string) error
}

// RunStore is the full run persistence contract the engine needs, matching
// repository.WorkflowRunRepository and MemoryRunStore.
type RunStore interface {
	Recorder
	ClaimRun(ctx context.Context, runID string, executorID int64) (bool, error)
	FindDueRuns(ctx context.Context, now time.Time, limit int) ([]domain.WorkflowRun, error)
	FindOrphanedRuns(ctx context.Context, cutoff, hardCutoff time.Time, limit int) ([]domain.WorkflowRun, error)
	FailRun(ctx context.Context, runID string, executorID int64, errText string) (bool, error)
}

// ExecutorRepo defines the interface for executor persistence.
type ExecutorRepo interface {
	Save(ctx context.Context, e *domain.Executor) (int64, error)
	UpdateLastActive(ctx context.Context, id int64, ts time.Time) error
	GetExecutorsByLastActive(ctx context.Context, limit int) ([]*domain.Executor, error)
}

// ActionRunner runs one action spec, satisfied by *actions.Registry.
type ActionRunner interface {
	Execute(ctx context.Context, spec domain.ActionSpec, req actions.Request) error
}
