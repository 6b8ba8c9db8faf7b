package engine

import (
	"context"
	"testing"
	"time"

	"github.com/dmayes77/clientflow/pkg/clientflow/core"
	"github.com/dmayes77/clientflow/pkg/clientflow/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testStart = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

func newTestScheduler(queueSize int) (*Scheduler, *MemoryRunStore, *core.FakeClock, chan *domain.WorkflowRun) {
	clock := core.NewFakeClock(testStart)
	store := NewMemoryRunStore(clock)
	queue := make(chan *domain.WorkflowRun, queueSize)
	return NewScheduler(store, clock, queue, queueSize), store, clock, queue
}

func testContext() domain.TriggerContext {
	return domain.TriggerContext{Tenant: domain.Tenant{ID: "t1"}, Contact: &domain.Contact{ID: "c1", Email: "ann@example.com"}}
}

func TestScheduler_ImmediateRunIsPersistedAndQueued(t *testing.T) {
	s, store, _, queue := newTestScheduler(4)
	wf := eventWF("wf", "t1", "lead_created", true)

	run, err := s.Schedule(context.Background(), wf, testContext(), "lead_created")
	require.NoError(t, err)
	assert.Equal(t, domain.RunScheduled, run.Status)
	assert.True(t, run.DueAt.Equal(testStart))

	require.Len(t, store.Runs(), 1)
	assert.Equal(t, domain.RunScheduled, store.Runs()[0].Status)
	require.Len(t, queue, 1)
	assert.Equal(t, run.ID, (<-queue).ID)
}

func TestScheduler_DelayedRunWaitsForDueTime(t *testing.T) {
	s, store, clock, queue := newTestScheduler(4)
	wf := eventWF("wf", "t1", "lead_created", true)
	wf.DelayMinutes = 10

	run, err := s.Schedule(context.Background(), wf, testContext(), "lead_created")
	require.NoError(t, err)
	assert.True(t, run.DueAt.Equal(testStart.Add(10*time.Minute)))
	assert.Empty(t, queue)

	clock.Add(9*time.Minute + 59*time.Second)
	assert.Equal(t, 0, s.Sweep(context.Background()))
	assert.Empty(t, queue)

	clock.Add(time.Second)
	assert.Equal(t, 1, s.Sweep(context.Background()))
	require.Len(t, queue, 1)
	assert.Equal(t, run.ID, (<-queue).ID)
	assert.Equal(t, domain.RunScheduled, store.Runs()[0].Status)
}

func TestScheduler_FullQueueLeavesRunForSweep(t *testing.T) {
	s, store, _, queue := newTestScheduler(1)
	wf := eventWF("wf", "t1", "lead_created", true)

	first, err := s.Schedule(context.Background(), wf, testContext(), "lead_created")
	require.NoError(t, err)
	second, err := s.Schedule(context.Background(), wf, testContext(), "lead_created")
	require.NoError(t, err)

	assert.Equal(t, 0, s.Sweep(context.Background()), "sweep is skipped while the queue is full")

	got := <-queue
	s.release(got.ID)
	assert.Equal(t, first.ID, got.ID)
	claimed, err := store.ClaimRun(context.Background(), got.ID, 1)
	require.NoError(t, err)
	require.True(t, claimed)

	assert.Equal(t, 1, s.Sweep(context.Background()))
	got = <-queue
	assert.Equal(t, second.ID, got.ID)
}

func TestScheduler_SweepDoesNotRequeueQueuedRuns(t *testing.T) {
	s, _, clock, queue := newTestScheduler(4)
	wf := eventWF("wf", "t1", "lead_created", true)
	wf.DelayMinutes = 1

	_, err := s.Schedule(context.Background(), wf, testContext(), "lead_created")
	require.NoError(t, err)
	clock.Add(time.Minute)

	assert.Equal(t, 1, s.Sweep(context.Background()))
	assert.Equal(t, 0, s.Sweep(context.Background()))
	assert.Len(t, queue, 1)
}

func TestScheduler_CreateFailure(t *testing.T) {
	clock := core.NewFakeClock(testStart)
	store := &failingRunStore{MemoryRunStore: NewMemoryRunStore(clock), failFor: "wf"}
	queue := make(chan *domain.WorkflowRun, 1)
	s := NewScheduler(store, clock, queue, 1)

	_, err := s.Schedule(context.Background(), eventWF("wf", "t1", "lead_created", true), testContext(), "lead_created")
	assert.Error(t, err)
	assert.Empty(t, queue)
}
