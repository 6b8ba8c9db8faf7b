package engine

import (
	"context"
	"log/slog"

	"github.com/dmayes77/clientflow/pkg/clientflow/core"
	"github.com/dmayes77/clientflow/pkg/clientflow/domain"
)

// Worker takes runs off the queue until ctx is cancelled. Each run is claimed before it
// executes; a run claimed elsewhere is skipped. Cancelling ctx stops new claims, but a run
// already claimed is executed to the end.
func Worker(ctx context.Context, id int, executor *Executor, scheduler *Scheduler, queue <-chan *domain.WorkflowRun) {
	ctx = context.WithValue(ctx, core.CtxKeyWorkerId, id)
	for {
		select {
		case <-ctx.Done():
			slog.DebugContext(ctx, "Worker stopping", "worker_id", id)
			return
		case run := <-queue:
			if ctx.Err() != nil {
				// left scheduled for the next sweep, here or on another instance
				scheduler.release(run.ID)
				slog.DebugContext(ctx, "Worker stopping", "worker_id", id)
				return
			}
			processRun(ctx, id, executor, scheduler, run)
		}
	}
}

func processRun(ctx context.Context, workerID int, executor *Executor, scheduler *Scheduler, run *domain.WorkflowRun) {
	claimed, err := executor.Claim(ctx, run)
	scheduler.release(run.ID)
	if err != nil {
		slog.ErrorContext(ctx, "Error claiming run", "run_id", run.ID, "worker_id", workerID, "error", err)
		return
	}
	if !claimed {
		claimsLost.Inc()
		slog.InfoContext(ctx, "Unable to claim run, possibly picked up by another executor", "run_id", run.ID, "worker_id", workerID)
		return
	}
	slog.InfoContext(ctx, "Worker starting run", "run_id", run.ID, "worker_id", workerID)
	executor.Execute(context.WithoutCancel(ctx), run)
	slog.InfoContext(ctx, "Worker finished run", "run_id", run.ID, "worker_id", workerID)
}
