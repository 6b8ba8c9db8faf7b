package engine

import (
	"context"
	"errors"
	"sync"

	"github.com/dmayes77/clientflow/internal/actions"
	"github.com/dmayes77/clientflow/pkg/clientflow/domain"
)

// memWorkflowStore filters workflows the way the SQL repository does.
type memWorkflowStore struct {
	mu        sync.Mutex
	workflows []domain.Workflow
	err       error
}

func (m *memWorkflowStore) add(wf domain.Workflow) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.workflows = append(m.workflows, wf)
}

func (m *memWorkflowStore) setActions(id string, a []domain.ActionSpec) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.workflows {
		if m.workflows[i].ID == id {
			m.workflows[i].Actions = a
		}
	}
}

func (m *memWorkflowStore) FindActiveByEvent(ctx context.Context, tenantID, eventName string) ([]domain.Workflow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	var out []domain.Workflow
	for _, wf := range m.workflows {
		if wf.TenantID == tenantID && wf.EventName == eventName && wf.Active {
			out = append(out, wf)
		}
	}
	return out, nil
}

func (m *memWorkflowStore) FindActiveByTag(ctx context.Context, tenantID, tagID string, triggerType domain.TriggerType) ([]domain.Workflow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	var out []domain.Workflow
	for _, wf := range m.workflows {
		if wf.TenantID == tenantID && wf.TriggerTagID == tagID && wf.TriggerType == triggerType && wf.Active {
			out = append(out, wf)
		}
	}
	return out, nil
}

// MockActionRunner records every spec it is asked to run.
type MockActionRunner struct {
	mu          sync.Mutex
	Calls       []domain.ActionSpec
	Requests    []actions.Request
	ExecuteFunc func(ctx context.Context, spec domain.ActionSpec, req actions.Request) error
}

func (m *MockActionRunner) Execute(ctx context.Context, spec domain.ActionSpec, req actions.Request) error {
	m.mu.Lock()
	m.Calls = append(m.Calls, spec)
	m.Requests = append(m.Requests, req)
	m.mu.Unlock()
	if m.ExecuteFunc != nil {
		return m.ExecuteFunc(ctx, spec, req)
	}
	return nil
}

func (m *MockActionRunner) calls() []domain.ActionSpec {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.ActionSpec(nil), m.Calls...)
}

// failingRunStore wraps a MemoryRunStore and fails Create for chosen workflows.
type failingRunStore struct {
	*MemoryRunStore
	failFor string
}

func (f *failingRunStore) Create(ctx context.Context, run *domain.WorkflowRun) error {
	if run.WorkflowID == f.failFor {
		return errors.New("disk full")
	}
	return f.MemoryRunStore.Create(ctx, run)
}

type fakeMailer struct {
	mu   sync.Mutex
	sent []actions.Message
}

func (f *fakeMailer) Send(ctx context.Context, msg actions.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, msg)
	return nil
}

type fakeTags struct {
	mu    sync.Mutex
	added map[string]bool
}

func (f *fakeTags) Add(ctx context.Context, tenantID string, entityType domain.EntityType, entityID, tagID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.added == nil {
		f.added = map[string]bool{}
	}
	f.added[tenantID+"/"+string(entityType)+"/"+entityID+"/"+tagID] = true
	return nil
}

func (f *fakeTags) Remove(ctx context.Context, tenantID string, entityType domain.EntityType, entityID, tagID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.added, tenantID+"/"+string(entityType)+"/"+entityID+"/"+tagID)
	return nil
}

// flakyRunStore fails the first completeFailures calls to Complete.
type flakyRunStore struct {
	*MemoryRunStore
	mu               sync.Mutex
	completeFailures int
	completeCalls    int
}

func (f *flakyRunStore) Complete(ctx context.Context, runID string, status domain.RunStatus, errText string) error {
	f.mu.Lock()
	f.completeCalls++
	fail := f.completeCalls <= f.completeFailures
	f.mu.Unlock()
	if fail {
		return errors.New("connection reset by peer")
	}
	return f.MemoryRunStore.Complete(ctx, runID, status, errText)
}
