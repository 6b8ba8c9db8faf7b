package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime/debug"
	"sync"
	"time"

	"github.com/dmayes77/clientflow/internal/config"
	"github.com/dmayes77/clientflow/pkg/clientflow/core"
	"github.com/dmayes77/clientflow/pkg/clientflow/domain"
	"github.com/robfig/cron/v3"
)

// ExecutorLost is the error recorded on runs failed by the repair service.
const ExecutorLost = "executor lost"

type Options struct {
	WorkerCount    int
	QueueSize      int
	SweepInterval  time.Duration
	RepairInterval time.Duration
	RepairAfter    time.Duration
	// StallAfter fails a running run untouched this long even if its executor is alive.
	StallAfter        time.Duration
	HeartbeatInterval time.Duration
	ExecutorName      string
}

// OptionsFromConfig reads engine options from the system settings.
func OptionsFromConfig() Options {
	return Options{
		WorkerCount:       config.GetSystemSettingInteger(config.ENGINE_EXECUTOR_SIZE),
		QueueSize:         config.GetSystemSettingInteger(config.ENGINE_BATCH_SIZE),
		SweepInterval:     config.GetSystemSettingDuration(config.ENGINE_SWEEP_INTERVAL, time.Minute),
		RepairInterval:    config.GetSystemSettingDuration(config.ENGINE_STUCK_RUNS_INTERVAL, time.Minute),
		RepairAfter:       time.Duration(config.GetSystemSettingInteger(config.ENGINE_STUCK_RUNS_REPAIR_AFTER_MINUTES)) * time.Minute,
		StallAfter:        time.Duration(config.GetSystemSettingInteger(config.ENGINE_STUCK_RUNS_STALL_AFTER_MINUTES)) * time.Minute,
		HeartbeatInterval: config.GetSystemSettingDuration(config.ENGINE_HEARTBEAT_INTERVAL, 30*time.Second),
		ExecutorName:      config.GetSystemSettingString(config.ENGINE_EXECUTOR_NAME),
	}
}

func (o *Options) applyDefaults() {
	if o.WorkerCount <= 0 {
		o.WorkerCount = 5
	}
	if o.QueueSize <= 0 {
		o.QueueSize = 10 // fallback default
	}
	if o.SweepInterval <= 0 {
		o.SweepInterval = time.Minute
	}
	if o.RepairInterval <= 0 {
		o.RepairInterval = time.Minute
	}
	if o.RepairAfter <= 0 {
		o.RepairAfter = 5 * time.Minute
	}
	if o.StallAfter < o.RepairAfter {
		o.StallAfter = 60 * time.Minute
		if o.StallAfter < o.RepairAfter {
			o.StallAfter = o.RepairAfter
		}
	}
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = 30 * time.Second
	}
}

// TagChange is a tag being attached to or detached from an entity.
type TagChange struct {
	TagID      string
	Action     TagAction
	EntityType domain.EntityType
}

// Engine wires matching, scheduling and execution together. Producers call Fire or FireTag;
// Start runs the workers and the sweep, repair and heartbeat schedules.
type Engine struct {
	matcher   *Matcher
	scheduler *Scheduler
	executor  *Executor
	runs      RunStore
	executors ExecutorRepo
	clock     core.Clock
	opts      Options
	queue     chan *domain.WorkflowRun

	dispatches sync.WaitGroup
	executorID int64
}

func New(workflows WorkflowStore, runs RunStore, executors ExecutorRepo, runner ActionRunner, clock core.Clock, opts Options) *Engine {
	opts.applyDefaults()
	queue := make(chan *domain.WorkflowRun, opts.QueueSize)
	return &Engine{
		matcher:   NewMatcher(workflows),
		scheduler: NewScheduler(runs, clock, queue, opts.QueueSize),
		executor:  NewExecutor(runs, runner, clock),
		runs:      runs,
		executors: executors,
		clock:     clock,
		opts:      opts,
		queue:     queue,
	}
}

func (e *Engine) Matcher() *Matcher     { return e.matcher }
func (e *Engine) Scheduler() *Scheduler { return e.scheduler }
func (e *Engine) Executor() *Executor   { return e.executor }

// Fire raises a named event. It returns immediately; matching and scheduling happen in the
// background and failures are only logged.
func (e *Engine) Fire(ctx context.Context, eventName string, tc domain.TriggerContext) {
	e.dispatchAsync(ctx, Trigger{TenantID: tc.Tenant.ID, EventName: eventName}, tc)
}

// FireTag raises a tag change, filling in the context tag when the caller left it empty.
func (e *Engine) FireTag(ctx context.Context, change TagChange, tc domain.TriggerContext) {
	if tc.Tag == nil {
		tc.Tag = &domain.Tag{ID: change.TagID}
	}
	e.dispatchAsync(ctx, Trigger{
		TenantID:   tc.Tenant.ID,
		TagID:      change.TagID,
		TagAction:  change.Action,
		EntityType: change.EntityType,
	}, tc)
}

func (e *Engine) dispatchAsync(ctx context.Context, trigger Trigger, tc domain.TriggerContext) {
	ctx = context.WithoutCancel(ctx)
	tc = cloneContext(tc)
	e.dispatches.Add(1)
	go func() {
		defer e.dispatches.Done()
		defer func() {
			if r := recover(); r != nil {
				slog.ErrorContext(ctx, "Dispatch panicked", "trigger", trigger.Label(), "panic", r, "stack", string(debug.Stack()))
			}
		}()
		if _, err := e.Dispatch(ctx, trigger, tc); err != nil {
			slog.ErrorContext(ctx, "Dispatch failed", "trigger", trigger.Label(), "tenant_id", trigger.TenantID, "error", err)
		}
	}()
}

// Dispatch matches trigger and schedules a run per matching workflow. A failure to schedule
// one workflow does not stop the others; all such failures are joined into the error.
func (e *Engine) Dispatch(ctx context.Context, trigger Trigger, tc domain.TriggerContext) ([]*domain.WorkflowRun, error) {
	if tc.Tenant.ID == "" || trigger.TenantID != tc.Tenant.ID {
		return nil, domain.ErrMissingTenant
	}
	matches, err := e.matcher.Match(ctx, trigger)
	if err != nil {
		return nil, err
	}
	slog.DebugContext(ctx, "Matched workflows", "trigger", trigger.Label(), "tenant_id", trigger.TenantID, "matches", len(matches))

	var (
		runs []*domain.WorkflowRun
		errs []error
	)
	for _, wf := range matches {
		run, err := e.scheduler.Schedule(ctx, wf, tc, trigger.Label())
		if err != nil {
			scheduleErrors.Inc()
			slog.ErrorContext(ctx, "Failed to schedule workflow run", "workflow_id", wf.ID, "tenant_id", wf.TenantID, "error", err)
			errs = append(errs, fmt.Errorf("schedule workflow %s: %w", wf.ID, err))
			continue
		}
		runs = append(runs, run)
	}
	return runs, errors.Join(errs...)
}

// Wait blocks until every background dispatch started by Fire or FireTag has finished.
func (e *Engine) Wait() {
	e.dispatches.Wait()
}

// Drain executes queued runs on the calling goroutine until the queue is empty, returning
// how many were taken off the queue. Useful for embedding without workers and in tests.
func (e *Engine) Drain(ctx context.Context) int {
	n := 0
	for {
		select {
		case run := <-e.queue:
			processRun(ctx, 0, e.executor, e.scheduler, run)
			n++
		default:
			return n
		}
	}
}

// Register records this engine instance in the executors table and returns its id.
func (e *Engine) Register(ctx context.Context) (int64, error) {
	name := e.opts.ExecutorName
	if name == "" {
		hostname, err := os.Hostname()
		if err != nil {
			name = "clientflow-engine"
		} else {
			name = hostname
		}
	}
	now := e.clock.Now()
	id, err := e.executors.Save(ctx, &domain.Executor{Name: name, Started: now, LastActive: now})
	if err != nil {
		return 0, fmt.Errorf("register executor: %w", err)
	}
	e.executorID = id
	e.executor.SetExecutorID(id)
	slog.InfoContext(ctx, "Registered executor", "executor_id", id, "name", name)
	return id, nil
}

// Start registers the executor, starts the workers and the cron schedules, sweeps once to
// recover runs left from before a restart, and then blocks until ctx is cancelled.
func (e *Engine) Start(ctx context.Context) error {
	if _, err := e.Register(ctx); err != nil {
		return err
	}
	ctx = context.WithValue(ctx, core.CtxKeyExecutorId, e.executorID)

	slog.InfoContext(ctx, "Starting workflow engine", "workers", e.opts.WorkerCount, "queue_size", e.opts.QueueSize)
	var workers sync.WaitGroup
	for i := 0; i < e.opts.WorkerCount; i++ {
		workers.Add(1)
		go func(id int) {
			defer workers.Done()
			Worker(ctx, id, e.executor, e.scheduler, e.queue)
		}(i)
	}

	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	jobs := []struct {
		name  string
		every time.Duration
		fn    func()
	}{
		{"sweep", e.opts.SweepInterval, func() { e.scheduler.Sweep(ctx) }},
		{"repair", e.opts.RepairInterval, func() { e.Repair(ctx) }},
		{"heartbeat", e.opts.HeartbeatInterval, func() { e.heartbeat(ctx) }},
	}
	for _, job := range jobs {
		if _, err := c.AddFunc("@every "+job.every.String(), job.fn); err != nil {
			return fmt.Errorf("schedule %s: %w", job.name, err)
		}
	}
	c.Start()

	recovered := e.scheduler.Sweep(ctx)
	slog.InfoContext(ctx, "Workflow engine started", "sweep_interval", e.opts.SweepInterval.String(), "recovered_runs", recovered)

	<-ctx.Done()
	slog.InfoContext(ctx, "Workflow engine stopping due to context cancel")
	<-c.Stop().Done()
	workers.Wait()
	e.dispatches.Wait()
	return nil
}

// Repair fails runs stuck in running whose executor stopped heart-beating for longer than the
// repair window, and runs that have not been written to for the stall window even though
// their executor is alive. Their actions are not re-run because some may already have had
// side effects.
func (e *Engine) Repair(ctx context.Context) int {
	now := e.clock.Now()
	orphans, err := e.runs.FindOrphanedRuns(ctx, now.Add(-e.opts.RepairAfter), now.Add(-e.opts.StallAfter), 100)
	if err != nil {
		slog.ErrorContext(ctx, "Error finding orphaned runs", "error", err)
		return 0
	}
	repaired := 0
	for _, run := range orphans {
		slog.WarnContext(ctx, "Failing orphaned run", "run_id", run.ID, "workflow_id", run.WorkflowID, "previous_executor", run.ExecutorID.Int64)
		ok, err := e.runs.FailRun(ctx, run.ID, run.ExecutorID.Int64, ExecutorLost)
		if err != nil {
			slog.ErrorContext(ctx, "Failed to mark orphaned run as failed", "run_id", run.ID, "error", err)
			continue
		}
		if ok {
			repaired++
			runsFinished.WithLabelValues(string(domain.RunFailed)).Inc()
		}
	}
	return repaired
}

func (e *Engine) heartbeat(ctx context.Context) {
	if err := e.executors.UpdateLastActive(ctx, e.executorID, e.clock.Now()); err != nil {
		slog.ErrorContext(ctx, "Failed to update executor last_active", "executor_id", e.executorID, "error", err)
		return
	}
	slog.DebugContext(ctx, "Updated executor last_active", "executor_id", e.executorID)
}

// ListExecutors returns recent executors ordered by last_active desc.
func (e *Engine) ListExecutors(ctx context.Context, limit int) ([]*domain.Executor, error) {
	return e.executors.GetExecutorsByLastActive(ctx, limit)
}
