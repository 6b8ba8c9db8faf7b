package engine

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dmayes77/clientflow/pkg/clientflow/core"
	"github.com/dmayes77/clientflow/pkg/clientflow/domain"
)

// MemoryRunStore keeps runs and executors in memory. It satisfies RunStore and ExecutorRepo
// with the same claim semantics as the SQL repositories, and hands out copies only.
type MemoryRunStore struct {
	mu        sync.Mutex
	clock     core.Clock
	runs      map[string]*domain.WorkflowRun
	order     []string
	executors map[int64]*domain.Executor
	nextExec  int64

	// last write per run, standing in for the modified column
	touched map[string]time.Time
}

func NewMemoryRunStore(clock core.Clock) *MemoryRunStore {
	return &MemoryRunStore{
		clock:     clock,
		runs:      make(map[string]*domain.WorkflowRun),
		executors: make(map[int64]*domain.Executor),
		touched:   make(map[string]time.Time),
	}
}

func cloneRun(r *domain.WorkflowRun) *domain.WorkflowRun {
	out := *r
	out.TriggerSnapshot = cloneContext(r.TriggerSnapshot)
	wf := domain.Workflow{Actions: r.Actions}
	out.Actions = wf.CopyActions()
	out.ActionResults = append([]domain.ActionResult(nil), r.ActionResults...)
	return &out
}

func (m *MemoryRunStore) Create(ctx context.Context, run *domain.WorkflowRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.runs[run.ID]; exists {
		return fmt.Errorf("run %s already exists", run.ID)
	}
	m.runs[run.ID] = cloneRun(run)
	m.order = append(m.order, run.ID)
	return nil
}

func (m *MemoryRunStore) AppendActionResult(ctx context.Context, runID string, res domain.ActionResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[runID]
	if !ok {
		return domain.ErrNotFound
	}
	run.ActionResults = append(run.ActionResults, res)
	m.touched[runID] = m.clock.Now()
	return nil
}

func (m *MemoryRunStore) Complete(ctx context.Context, runID string, status domain.RunStatus, errText string) error {
	if !status.Terminal() {
		return fmt.Errorf("complete run %s: status %q is not terminal", runID, status)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[runID]
	if !ok || run.Status != domain.RunRunning {
		return fmt.Errorf("complete run %s: no running run: %w", runID, domain.ErrNotFound)
	}
	run.Status = status
	run.Error = errText
	run.CompletedAt = validTime(m.clock.Now())
	return nil
}

func (m *MemoryRunStore) ClaimRun(ctx context.Context, runID string, executorID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[runID]
	if !ok || run.Status != domain.RunScheduled {
		return false, nil
	}
	run.Status = domain.RunRunning
	run.ExecutorID = sql.NullInt64{Int64: executorID, Valid: true}
	run.StartedAt = validTime(m.clock.Now())
	m.touched[runID] = m.clock.Now()
	return true, nil
}

func (m *MemoryRunStore) FindDueRuns(ctx context.Context, now time.Time, limit int) ([]domain.WorkflowRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var due []domain.WorkflowRun
	for _, id := range m.order {
		run := m.runs[id]
		if run.Status == domain.RunScheduled && !run.DueAt.After(now) {
			due = append(due, *cloneRun(run))
		}
	}
	sort.SliceStable(due, func(i, j int) bool { return due[i].DueAt.Before(due[j].DueAt) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (m *MemoryRunStore) FindOrphanedRuns(ctx context.Context, cutoff, hardCutoff time.Time, limit int) ([]domain.WorkflowRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.WorkflowRun
	for _, id := range m.order {
		run := m.runs[id]
		modified := m.touched[id]
		if run.Status != domain.RunRunning || !modified.Before(cutoff) {
			continue
		}
		if e, ok := m.executors[run.ExecutorID.Int64]; ok && e.LastActive.After(cutoff) && !modified.Before(hardCutoff) {
			continue
		}
		out = append(out, *cloneRun(run))
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *MemoryRunStore) FailRun(ctx context.Context, runID string, executorID int64, errText string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[runID]
	if !ok || run.Status != domain.RunRunning || run.ExecutorID.Int64 != executorID {
		return false, nil
	}
	run.Status = domain.RunFailed
	run.Error = errText
	run.CompletedAt = validTime(m.clock.Now())
	return true, nil
}

// FindByID returns a copy of the run, results included.
func (m *MemoryRunStore) FindByID(ctx context.Context, tenantID, id string) (*domain.WorkflowRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[id]
	if !ok || run.TenantID != tenantID {
		return nil, domain.ErrNotFound
	}
	return cloneRun(run), nil
}

// Runs returns copies of every run in creation order.
func (m *MemoryRunStore) Runs() []domain.WorkflowRun {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.WorkflowRun, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, *cloneRun(m.runs[id]))
	}
	return out
}

func (m *MemoryRunStore) Save(ctx context.Context, e *domain.Executor) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextExec++
	e.ID = m.nextExec
	if e.Started.IsZero() {
		e.Started = m.clock.Now()
	}
	if e.LastActive.IsZero() {
		e.LastActive = e.Started
	}
	cp := *e
	m.executors[e.ID] = &cp
	return e.ID, nil
}

func (m *MemoryRunStore) UpdateLastActive(ctx context.Context, id int64, ts time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.executors[id]
	if !ok {
		return domain.ErrNotFound
	}
	e.LastActive = ts
	return nil
}

func (m *MemoryRunStore) GetExecutorsByLastActive(ctx context.Context, limit int) ([]*domain.Executor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*domain.Executor, 0, len(m.executors))
	for _, e := range m.executors {
		cp := *e
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastActive.After(out[j].LastActive) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func validTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: true}
}
