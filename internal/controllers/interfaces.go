package controllers

import (
	"context"
	"time"

	"github.com/dmayes77/clientflow/internal/engine"
	"github.com/dmayes77/clientflow/pkg/clientflow/domain"
)

// ApiKeyRepo is satisfied by repository.ApiKeyRepository.
type ApiKeyRepo interface {
	FindByPrefix(ctx context.Context, prefix string) (*domain.ApiKey, error)
	TouchLastUsed(ctx context.Context, id string, ts time.Time) error
}

// WorkflowRepo is satisfied by repository.WorkflowRepository.
type WorkflowRepo interface {
	Save(ctx context.Context, wf *domain.Workflow) error
	Update(ctx context.Context, wf *domain.Workflow) error
	FindByID(ctx context.Context, tenantID, id string) (*domain.Workflow, error)
	FindAllByTenant(ctx context.Context, tenantID string) ([]domain.Workflow, error)
	SetActive(ctx context.Context, tenantID, id string, active bool) error
	Delete(ctx context.Context, tenantID, id string) error
}

// RunReader is satisfied by repository.WorkflowRunRepository.
type RunReader interface {
	FindByID(ctx context.Context, tenantID, id string) (*domain.WorkflowRun, error)
	FindByWorkflow(ctx context.Context, tenantID, workflowID string, limit int) ([]domain.WorkflowRun, error)
}

// EventFirer is satisfied by *engine.Engine.
type EventFirer interface {
	Fire(ctx context.Context, eventName string, tc domain.TriggerContext)
	FireTag(ctx context.Context, change engine.TagChange, tc domain.TriggerContext)
}
