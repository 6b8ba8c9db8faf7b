package engine

import (
	"context"
	"log/slog"
	"strconv"
	"sync"

	"github.com/dmayes77/clientflow/pkg/clientflow/core"
	"github.com/dmayes77/clientflow/pkg/clientflow/domain"
	"github.com/google/uuid"
)

// Scheduler persists runs and feeds due runs to the worker queue. A run is always stored in
// scheduled state before it is offered, so a restart never loses one.
type Scheduler struct {
	runs      RunStore
	clock     core.Clock
	queue     chan *domain.WorkflowRun
	batchSize int

	// ids of runs sitting in the queue, so sweeps do not enqueue them twice
	queued sync.Map
}

func NewScheduler(runs RunStore, clock core.Clock, queue chan *domain.WorkflowRun, batchSize int) *Scheduler {
	if batchSize <= 0 {
		batchSize = cap(queue)
	}
	return &Scheduler{runs: runs, clock: clock, queue: queue, batchSize: batchSize}
}

// Schedule stores a scheduled run for wf due now + the workflow delay. The trigger context and
// action list are copied so later edits to either do not reach the run. A run with no delay is
// offered to the queue straight away; if the queue is full the next sweep picks it up.
func (s *Scheduler) Schedule(ctx context.Context, wf domain.Workflow, tc domain.TriggerContext, triggerLabel string) (*domain.WorkflowRun, error) {
	now := s.clock.Now()
	run := &domain.WorkflowRun{
		ID:              uuid.NewString(),
		WorkflowID:      wf.ID,
		TenantID:        wf.TenantID,
		TriggerEvent:    triggerLabel,
		TriggerSnapshot: cloneContext(tc),
		Actions:         wf.CopyActions(),
		Status:          domain.RunScheduled,
		ScheduledAt:     now,
		DueAt:           now.Add(wf.Delay()),
	}
	if err := s.runs.Create(ctx, run); err != nil {
		return nil, err
	}
	immediate := wf.DelayMinutes == 0
	runsScheduled.WithLabelValues(strconv.FormatBool(immediate)).Inc()
	slog.InfoContext(ctx, "Scheduled workflow run", "run_id", run.ID, "workflow_id", wf.ID, "tenant_id", wf.TenantID, "due_at", run.DueAt)

	// the queue gets its own copy; workers mutate status and results on it
	if immediate && !s.offer(cloneRun(run)) {
		slog.WarnContext(ctx, "Worker queue full, run left for the next sweep", "run_id", run.ID)
	}
	return run, nil
}

// Sweep enqueues scheduled runs that are due, returning how many were enqueued. The sweep is
// skipped when the queue is already full.
func (s *Scheduler) Sweep(ctx context.Context) int {
	if len(s.queue) >= cap(s.queue) {
		slog.WarnContext(ctx, "Worker queue full, skipping sweep, possibly long running webhooks or stuck workers")
		return 0
	}
	due, err := s.runs.FindDueRuns(ctx, s.clock.Now(), s.batchSize)
	if err != nil {
		slog.ErrorContext(ctx, "Error fetching due runs", "error", err)
		return 0
	}

	enqueued := 0
	for i := range due {
		run := due[i]
		if _, inQueue := s.queued.Load(run.ID); inQueue {
			continue
		}
		if !s.offer(&run) {
			slog.WarnContext(ctx, "Worker queue filled during sweep", "enqueued", enqueued, "due", len(due))
			break
		}
		enqueued++
	}
	if enqueued > 0 {
		slog.DebugContext(ctx, "Sweep enqueued due runs", "count", enqueued)
	}
	return enqueued
}

func (s *Scheduler) offer(run *domain.WorkflowRun) bool {
	if _, loaded := s.queued.LoadOrStore(run.ID, struct{}{}); loaded {
		return true
	}
	select {
	case s.queue <- run:
		return true
	default:
		s.queued.Delete(run.ID)
		return false
	}
}

// release marks a run as taken off the queue.
func (s *Scheduler) release(runID string) {
	s.queued.Delete(runID)
}
