package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/dmayes77/clientflow/internal/actions"
	"github.com/dmayes77/clientflow/pkg/clientflow/core"
	"github.com/dmayes77/clientflow/pkg/clientflow/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/dmayes77/clientflow/internal/engine"

// Executor claims runs and executes their action snapshot in order.
type Executor struct {
	runs       RunStore
	actions    ActionRunner
	clock      core.Clock
	tracer     trace.Tracer
	executorID int64

	// retry returns the backoff used for run store writes after a run is claimed.
	retry func() backoff.BackOff
}

func NewExecutor(runs RunStore, runner ActionRunner, clock core.Clock) *Executor {
	return &Executor{
		runs:    runs,
		actions: runner,
		clock:   clock,
		tracer:  otel.Tracer(instrumentationName),
		retry:   defaultRetry,
	}
}

func defaultRetry() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = 5 * time.Second
	return backoff.WithMaxRetries(b, 5)
}

// SetTracerProvider replaces the global provider for the run and action spans.
func (e *Executor) SetTracerProvider(tp trace.TracerProvider) {
	e.tracer = tp.Tracer(instrumentationName)
}

// SetExecutorID sets the id written to claimed runs. Call it before any worker starts.
func (e *Executor) SetExecutorID(id int64) {
	e.executorID = id
}

// Claim moves run from scheduled to running for this executor. False means another worker
// or instance already has it.
func (e *Executor) Claim(ctx context.Context, run *domain.WorkflowRun) (bool, error) {
	ok, err := e.runs.ClaimRun(ctx, run.ID, e.executorID)
	if err != nil {
		return false, fmt.Errorf("claim run %s: %w", run.ID, err)
	}
	if ok {
		run.Status = domain.RunRunning
	}
	return ok, nil
}

// Execute runs every action of a claimed run. A failing action is recorded and the next one
// still runs. The returned status is the terminal status written through the recorder.
// Callers pass a context that outlives shutdown; a claimed run is always taken to a terminal
// status.
func (e *Executor) Execute(ctx context.Context, run *domain.WorkflowRun) domain.RunStatus {
	ctx, span := e.tracer.Start(ctx, "workflow.run", trace.WithAttributes(
		attribute.String("run.id", run.ID),
		attribute.String("workflow.id", run.WorkflowID),
		attribute.String("tenant.id", run.TenantID),
		attribute.Int("run.actions", len(run.Actions)),
	))
	defer span.End()

	slog.InfoContext(ctx, "Running workflow run", "run_id", run.ID, "workflow_id", run.WorkflowID, "actions", len(run.Actions))

	failures := 0
	for i, spec := range run.Actions {
		res := e.runAction(ctx, run, i, spec)
		if res.Status == domain.ActionError {
			failures++
		}
		run.ActionResults = append(run.ActionResults, res)
		if err := e.withRetry(ctx, func() error { return e.runs.AppendActionResult(ctx, run.ID, res) }); err != nil {
			slog.ErrorContext(ctx, "Failed to record action result", "run_id", run.ID, "position", i, "error", err)
		}
	}

	status := domain.RunCompleted
	if failures > 0 {
		status = domain.RunCompletedWithErrors
		span.SetStatus(codes.Error, fmt.Sprintf("%d of %d actions failed", failures, len(run.Actions)))
	}
	if err := e.withRetry(ctx, func() error { return e.runs.Complete(ctx, run.ID, status, "") }); err != nil {
		slog.ErrorContext(ctx, "Failed to complete run", "run_id", run.ID, "status", status, "error", err)
	}
	run.Status = status
	runsFinished.WithLabelValues(string(status)).Inc()
	slog.InfoContext(ctx, "Workflow run finished", "run_id", run.ID, "status", status, "failed_actions", failures)
	return status
}

// withRetry retries op on transient store errors. ErrNotFound means the run is no longer
// running, so it is not retried.
func (e *Executor) withRetry(ctx context.Context, op func() error) error {
	attempt := 0
	return backoff.Retry(func() error {
		attempt++
		err := op()
		if err == nil {
			return nil
		}
		if errors.Is(err, domain.ErrNotFound) {
			return backoff.Permanent(err)
		}
		storeRetries.Inc()
		slog.WarnContext(ctx, "Run store write failed, retrying", "attempt", attempt, "error", err)
		return err
	}, backoff.WithContext(e.retry(), ctx))
}

func (e *Executor) runAction(ctx context.Context, run *domain.WorkflowRun, position int, spec domain.ActionSpec) domain.ActionResult {
	ctx, span := e.tracer.Start(ctx, "workflow.action", trace.WithAttributes(
		attribute.String("action.type", string(spec.Type)),
		attribute.Int("action.position", position),
	))
	defer span.End()

	res := domain.ActionResult{
		Position:   position,
		ActionType: spec.Type,
		Status:     domain.ActionSuccess,
		StartedAt:  e.clock.Now(),
	}
	err := e.invoke(ctx, run, spec)
	res.FinishedAt = e.clock.Now()
	if err != nil {
		res.Status = domain.ActionError
		res.Error = err.Error()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		slog.WarnContext(ctx, "Action failed", "run_id", run.ID, "position", position, "type", spec.Type, "error", err)
	}
	actionsExecuted.WithLabelValues(string(spec.Type), string(res.Status)).Inc()
	actionDuration.WithLabelValues(string(spec.Type)).Observe(res.FinishedAt.Sub(res.StartedAt).Seconds())
	return res
}

// invoke calls the handler, turning a panic into an error.
func (e *Executor) invoke(ctx context.Context, run *domain.WorkflowRun, spec domain.ActionSpec) (err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "Action panicked", "run_id", run.ID, "type", spec.Type, "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("action panicked: %v", r)
		}
	}()
	return e.actions.Execute(ctx, spec, actions.Request{
		RunID:        run.ID,
		WorkflowID:   run.WorkflowID,
		TenantID:     run.TenantID,
		TriggerEvent: run.TriggerEvent,
		Params:       spec.Params,
		Snapshot:     run.TriggerSnapshot,
	})
}
