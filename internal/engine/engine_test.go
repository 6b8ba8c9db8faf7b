package engine

import (
	"context"
	"database/sql"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dmayes77/clientflow/internal/actions"
	"github.com/dmayes77/clientflow/internal/config"
	"github.com/dmayes77/clientflow/internal/repository"
	"github.com/dmayes77/clientflow/pkg/clientflow/core"
	"github.com/dmayes77/clientflow/pkg/clientflow/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEngine(store *memWorkflowStore, runs *MemoryRunStore, runner ActionRunner, clock core.Clock) *Engine {
	return New(store, runs, runs, runner, clock, Options{WorkerCount: 2, QueueSize: 16, ExecutorName: "test"})
}

func TestEngine_DispatchSchedulesEveryMatch(t *testing.T) {
	clock := core.NewFakeClock(testStart)
	store := &memWorkflowStore{}
	store.add(eventWF("a", "t1", "lead_created", true))
	store.add(eventWF("b", "t1", "lead_created", true))
	runs := NewMemoryRunStore(clock)
	e := newTestEngine(store, runs, &MockActionRunner{}, clock)

	got, err := e.Dispatch(context.Background(), Trigger{TenantID: "t1", EventName: "lead_created"}, testContext())
	require.NoError(t, err)
	assert.Len(t, got, 2)
	for _, run := range runs.Runs() {
		assert.Equal(t, domain.RunScheduled, run.Status)
		assert.Equal(t, "lead_created", run.TriggerEvent)
	}
	assert.Equal(t, 2, e.Drain(context.Background()))
	for _, run := range runs.Runs() {
		assert.Equal(t, domain.RunCompleted, run.Status)
	}
}

func TestEngine_ScheduleFailureDoesNotBlockOtherMatches(t *testing.T) {
	clock := core.NewFakeClock(testStart)
	store := &memWorkflowStore{}
	store.add(eventWF("broken", "t1", "lead_created", true))
	store.add(eventWF("fine", "t1", "lead_created", true))
	runs := &failingRunStore{MemoryRunStore: NewMemoryRunStore(clock), failFor: "broken"}
	e := New(store, runs, runs.MemoryRunStore, &MockActionRunner{}, clock, Options{QueueSize: 4})

	got, err := e.Dispatch(context.Background(), Trigger{TenantID: "t1", EventName: "lead_created"}, testContext())
	assert.ErrorContains(t, err, "disk full")
	require.Len(t, got, 1)
	assert.Equal(t, "fine", got[0].WorkflowID)
}

func TestEngine_FireIsAsyncAndDetachedFromCaller(t *testing.T) {
	clock := core.NewFakeClock(testStart)
	store := &memWorkflowStore{}
	store.add(eventWF("a", "t1", "lead_created", true))
	runs := NewMemoryRunStore(clock)
	e := newTestEngine(store, runs, &MockActionRunner{}, clock)

	ctx, cancel := context.WithCancel(context.Background())
	e.Fire(ctx, "lead_created", testContext())
	cancel()
	e.Wait()

	require.Len(t, runs.Runs(), 1)
	assert.Equal(t, domain.RunScheduled, runs.Runs()[0].Status)
}

func TestEngine_FireSwallowsErrors(t *testing.T) {
	clock := core.NewFakeClock(testStart)
	store := &memWorkflowStore{}
	runs := NewMemoryRunStore(clock)
	e := newTestEngine(store, runs, &MockActionRunner{}, clock)

	e.Fire(context.Background(), "lead_created", domain.TriggerContext{})
	e.FireTag(context.Background(), TagChange{TagID: "vip", Action: "sideways"}, testContext())
	e.Wait()
	assert.Empty(t, runs.Runs())
}

// Tagging a contact VIP runs the welcome workflow once, with one successful email.
func TestEngine_VIPScenario(t *testing.T) {
	clock := core.NewFakeClock(testStart)
	store := &memWorkflowStore{}
	store.add(domain.Workflow{
		ID:           "vip-welcome",
		TenantID:     "t1",
		Name:         "VIP welcome",
		TriggerType:  domain.TriggerTagAdded,
		TriggerTagID: "VIP",
		DelayMinutes: 0,
		Active:       true,
		Actions:      []domain.ActionSpec{spec(domain.ActionSendEmail, `{"template":"vip-welcome"}`)},
	})
	mailer := &fakeMailer{}
	registry, err := actions.NewRegistry(
		actions.NewSendEmailHandler(mailer, "noreply@example.com"),
		actions.NewAddTagHandler(&fakeTags{}),
		actions.NewRemoveTagHandler(&fakeTags{}),
	)
	require.NoError(t, err)
	runs := NewMemoryRunStore(clock)
	e := newTestEngine(store, runs, registry, clock)

	tc, err := NewTriggerContext(domain.Tenant{ID: "t1"}, WithContact(domain.Contact{ID: "C", FirstName: "Cam", Email: "cam@example.com"}))
	require.NoError(t, err)
	e.FireTag(context.Background(), TagChange{TagID: "VIP", Action: TagAdded, EntityType: domain.EntityContact}, tc)
	e.Wait()
	e.Drain(context.Background())

	all := runs.Runs()
	require.Len(t, all, 1)
	run := all[0]
	assert.Equal(t, domain.RunCompleted, run.Status)
	assert.Equal(t, "tag_added:VIP", run.TriggerEvent)
	assert.Equal(t, "VIP", run.TriggerSnapshot.Tag.ID)
	require.Len(t, run.ActionResults, 1)
	assert.Equal(t, domain.ActionSendEmail, run.ActionResults[0].ActionType)
	assert.Equal(t, domain.ActionSuccess, run.ActionResults[0].Status)

	require.Len(t, mailer.sent, 1)
	assert.Equal(t, "cam@example.com", mailer.sent[0].To)
}

func TestEngine_SnapshotIsolation(t *testing.T) {
	clock := core.NewFakeClock(testStart)
	store := &memWorkflowStore{}
	wf := eventWF("wf", "t1", "lead_created", true)
	wf.DelayMinutes = 30
	wf.Actions = []domain.ActionSpec{spec(domain.ActionAddTag, `{"tagId":"old"}`)}
	store.add(wf)
	runs := NewMemoryRunStore(clock)
	runner := &MockActionRunner{}
	e := newTestEngine(store, runs, runner, clock)

	contact := &domain.Contact{ID: "c1", Email: "before@example.com"}
	tc := domain.TriggerContext{Tenant: domain.Tenant{ID: "t1"}, Contact: contact}
	_, err := e.Dispatch(context.Background(), Trigger{TenantID: "t1", EventName: "lead_created"}, tc)
	require.NoError(t, err)

	store.setActions("wf", []domain.ActionSpec{
		spec(domain.ActionSendEmail, `{"subject":"x","body":"y"}`),
		spec(domain.ActionCallWebhook, `{"url":"https://example.com"}`),
	})
	contact.Email = "after@example.com"

	clock.Add(30 * time.Minute)
	require.Equal(t, 1, e.Scheduler().Sweep(context.Background()))
	e.Drain(context.Background())

	calls := runner.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, domain.ActionAddTag, calls[0].Type)
	assert.JSONEq(t, `{"tagId":"old"}`, string(calls[0].Params))
	assert.Equal(t, "before@example.com", runner.Requests[0].Snapshot.Contact.Email)
	assert.Len(t, runs.Runs()[0].ActionResults, 1)
}

func TestEngine_DelayedRunNotExecutedEarly(t *testing.T) {
	clock := core.NewFakeClock(testStart)
	store := &memWorkflowStore{}
	wf := eventWF("wf", "t1", "lead_created", true)
	wf.DelayMinutes = 15
	wf.Actions = []domain.ActionSpec{spec(domain.ActionAddTag, `{}`)}
	store.add(wf)
	runs := NewMemoryRunStore(clock)
	runner := &MockActionRunner{}
	e := newTestEngine(store, runs, runner, clock)

	_, err := e.Dispatch(context.Background(), Trigger{TenantID: "t1", EventName: "lead_created"}, testContext())
	require.NoError(t, err)

	for i := 0; i < 14; i++ {
		clock.Add(time.Minute)
		e.Scheduler().Sweep(context.Background())
		e.Drain(context.Background())
		require.Empty(t, runner.calls(), "executed at minute %d", i+1)
	}
	clock.Add(time.Minute)
	e.Scheduler().Sweep(context.Background())
	e.Drain(context.Background())
	require.Len(t, runner.calls(), 1)

	run := runs.Runs()[0]
	assert.False(t, run.StartedAt.Time.Before(run.ScheduledAt.Add(15*time.Minute)))
}

func TestEngine_ConcurrentWorkersExecuteRunOnce(t *testing.T) {
	clock := core.NewFakeClock(testStart)
	runs := NewMemoryRunStore(clock)
	var executed atomic.Int32
	runner := &MockActionRunner{ExecuteFunc: func(ctx context.Context, s domain.ActionSpec, req actions.Request) error {
		executed.Add(1)
		return nil
	}}
	exec := NewExecutor(runs, runner, clock)
	queue := make(chan *domain.WorkflowRun, 1)
	sched := NewScheduler(runs, clock, queue, 1)

	run := scheduledRun(t, runs, spec(domain.ActionAddTag, `{}`))
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			cp := *run
			processRun(context.Background(), worker, exec, sched, &cp)
		}(i)
	}
	wg.Wait()
	assert.Equal(t, int32(1), executed.Load())
}

func TestEngine_RepairFailsOrphanedRuns(t *testing.T) {
	clock := core.NewFakeClock(testStart)
	runs := NewMemoryRunStore(clock)
	runner := &MockActionRunner{}
	e := New(&memWorkflowStore{}, runs, runs, runner, clock, Options{QueueSize: 4, RepairAfter: 5 * time.Minute})

	deadID, err := runs.Save(context.Background(), &domain.Executor{Name: "dead"})
	require.NoError(t, err)
	_, err = e.Register(context.Background())
	require.NoError(t, err)

	orphan := scheduledRun(t, runs, spec(domain.ActionAddTag, `{}`))
	ok, err := runs.ClaimRun(context.Background(), orphan.ID, deadID)
	require.NoError(t, err)
	require.True(t, ok)

	assert.Equal(t, 0, e.Repair(context.Background()), "inside the repair window")

	clock.Add(6 * time.Minute)
	e.heartbeat(context.Background())
	assert.Equal(t, 1, e.Repair(context.Background()))

	got, err := runs.FindByID(context.Background(), "t1", orphan.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunFailed, got.Status)
	assert.Equal(t, ExecutorLost, got.Error)
	assert.Empty(t, runner.calls(), "orphaned runs are not re-executed")
}

func TestEngine_RepairFailsStalledRunOfLiveExecutor(t *testing.T) {
	clock := core.NewFakeClock(testStart)
	runs := NewMemoryRunStore(clock)
	e := New(&memWorkflowStore{}, runs, runs, &MockActionRunner{}, clock, Options{QueueSize: 4, RepairAfter: 5 * time.Minute, StallAfter: time.Hour})
	id, err := e.Register(context.Background())
	require.NoError(t, err)

	stuck := scheduledRun(t, runs, spec(domain.ActionAddTag, `{}`))
	ok, err := runs.ClaimRun(context.Background(), stuck.ID, id)
	require.NoError(t, err)
	require.True(t, ok)

	clock.Add(30 * time.Minute)
	e.heartbeat(context.Background())
	assert.Equal(t, 0, e.Repair(context.Background()), "live executor inside the stall window")

	clock.Add(31 * time.Minute)
	e.heartbeat(context.Background())
	assert.Equal(t, 1, e.Repair(context.Background()))

	got, err := runs.FindByID(context.Background(), "t1", stuck.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunFailed, got.Status)
}

func TestEngine_ShutdownFinishesClaimedRun(t *testing.T) {
	clock := core.NewFakeClock(testStart)
	runs := NewMemoryRunStore(clock)
	started := make(chan struct{})
	release := make(chan struct{})
	runner := &MockActionRunner{ExecuteFunc: func(ctx context.Context, s domain.ActionSpec, req actions.Request) error {
		if string(s.Params) == `{"n":1}` {
			close(started)
			<-release
		}
		return ctx.Err()
	}}
	run := scheduledRun(t, runs, spec(domain.ActionAddTag, `{"n":1}`), spec(domain.ActionSendEmail, `{"n":2}`))

	e := New(&memWorkflowStore{}, runs, runs, runner, clock, Options{WorkerCount: 1, QueueSize: 4, ExecutorName: "test"})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Start(ctx) }()

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("run did not start")
	}
	cancel()
	close(release)
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("engine did not stop")
	}

	got, err := runs.FindByID(context.Background(), "t1", run.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunCompleted, got.Status)
	require.Len(t, got.ActionResults, 2)
	for _, res := range got.ActionResults {
		assert.Equal(t, domain.ActionSuccess, res.Status, res.Error)
	}
}

func TestWorker_StoppedWorkerLeavesQueuedRunScheduled(t *testing.T) {
	clock := core.NewFakeClock(testStart)
	runs := NewMemoryRunStore(clock)
	runner := &MockActionRunner{}
	e := New(&memWorkflowStore{}, runs, runs, runner, clock, Options{QueueSize: 4})
	run := scheduledRun(t, runs, spec(domain.ActionAddTag, `{}`))
	require.Equal(t, 1, e.Scheduler().Sweep(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	Worker(ctx, 0, e.Executor(), e.Scheduler(), e.queue)

	got, err := runs.FindByID(context.Background(), "t1", run.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunScheduled, got.Status)
	assert.Empty(t, runner.calls())
}

func TestEngine_DispatchReturnsCopyOfQueuedRun(t *testing.T) {
	clock := core.NewFakeClock(testStart)
	store := &memWorkflowStore{}
	store.add(eventWF("wf", "t1", "lead_created", true))
	runs := NewMemoryRunStore(clock)
	e := newTestEngine(store, runs, &MockActionRunner{}, clock)

	got, err := e.Dispatch(context.Background(), Trigger{TenantID: "t1", EventName: "lead_created"}, testContext())
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, 1, e.Drain(context.Background()))

	assert.Equal(t, domain.RunScheduled, got[0].Status)
	assert.Empty(t, got[0].ActionResults)
	stored, err := runs.FindByID(context.Background(), "t1", got[0].ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunCompleted, stored.Status)
}

func TestEngine_StartRecoversPersistedRuns(t *testing.T) {
	clock := core.NewFakeClock(testStart)
	runs := NewMemoryRunStore(clock)
	runner := &MockActionRunner{}
	run := scheduledRun(t, runs, spec(domain.ActionAddTag, `{}`))

	e := New(&memWorkflowStore{}, runs, runs, runner, clock, Options{WorkerCount: 2, QueueSize: 4, ExecutorName: "test"})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Start(ctx) }()

	require.Eventually(t, func() bool {
		got, err := runs.FindByID(context.Background(), "t1", run.ID)
		return err == nil && got.Status == domain.RunCompleted
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("engine did not stop")
	}

	executors, err := e.ListExecutors(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, executors, 1)
	assert.Equal(t, "test", executors[0].Name)
}

// A delayed run written by one process is executed exactly once by the next, using the SQL store.
func TestEngine_RestartDurabilityWithSQLite(t *testing.T) {
	config.SetSystemSetting(config.DATABASE_TYPE, config.DATABASE_TYPE_SQLLITE)
	db, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "engine_test.db"))
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	defer db.Close()
	require.NoError(t, repository.RunMigrations(db))

	ctx := context.Background()
	clock := core.NewFakeClock(testStart)
	workflows := repository.NewWorkflowRepository(db, clock)
	wf := &domain.Workflow{
		TenantID:     "t1",
		Name:         "follow up",
		TriggerType:  domain.TriggerEvent,
		EventName:    "lead_created",
		DelayMinutes: 60,
		Active:       true,
		Actions:      []domain.ActionSpec{spec(domain.ActionAddTag, `{"tagId":"followed-up"}`)},
	}
	require.NoError(t, workflows.Save(ctx, wf))

	before := New(workflows, repository.NewWorkflowRunRepository(db, clock), repository.NewExecutorRepository(db), &MockActionRunner{}, clock, Options{QueueSize: 4})
	scheduled, err := before.Dispatch(ctx, Trigger{TenantID: "t1", EventName: "lead_created"}, testContext())
	require.NoError(t, err)
	require.Len(t, scheduled, 1)

	// new process: fresh engines over the same database, racing on the same due run
	clock.Add(61 * time.Minute)
	var executed atomic.Int32
	runner := &MockActionRunner{ExecuteFunc: func(ctx context.Context, s domain.ActionSpec, req actions.Request) error {
		executed.Add(1)
		return nil
	}}
	runStore := repository.NewWorkflowRunRepository(db, clock)
	var after []*Engine
	for i := 0; i < 3; i++ {
		e := New(workflows, runStore, repository.NewExecutorRepository(db), runner, clock, Options{QueueSize: 4})
		_, err := e.Register(ctx)
		require.NoError(t, err)
		require.Equal(t, 1, e.Scheduler().Sweep(ctx))
		after = append(after, e)
	}
	for _, e := range after {
		e.Drain(ctx)
	}
	assert.Equal(t, int32(1), executed.Load())

	got, err := runStore.FindByID(ctx, "t1", scheduled[0].ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunCompleted, got.Status)
	require.Len(t, got.ActionResults, 1)
	assert.Equal(t, domain.ActionSuccess, got.ActionResults[0].Status)
}

func TestOptionsFromConfig(t *testing.T) {
	opts := OptionsFromConfig()
	assert.Equal(t, 5, opts.WorkerCount)
	assert.Equal(t, 20, opts.QueueSize)
	assert.Equal(t, time.Minute, opts.SweepInterval)
	assert.Equal(t, 5*time.Minute, opts.RepairAfter)
	assert.Equal(t, time.Hour, opts.StallAfter)
	assert.Equal(t, 30*time.Second, opts.HeartbeatInterval)
}
