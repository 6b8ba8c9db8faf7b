// Package seed creates the system workflows every tenant starts with.
package seed

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dmayes77/clientflow/internal/engine"
	"github.com/dmayes77/clientflow/pkg/clientflow/domain"
	"gopkg.in/yaml.v3"
)

//go:embed system_workflows.yaml
var systemWorkflowsYAML []byte

type seedFile struct {
	Workflows []seedWorkflow `yaml:"workflows"`
}

type seedWorkflow struct {
	Name         string       `yaml:"name"`
	Description  string       `yaml:"description"`
	TriggerType  string       `yaml:"triggerType"`
	EventName    string       `yaml:"eventName"`
	TriggerTagID string       `yaml:"triggerTagId"`
	DelayMinutes int          `yaml:"delayMinutes"`
	Actions      []seedAction `yaml:"actions"`
}

type seedAction struct {
	Type   string         `yaml:"type"`
	Params map[string]any `yaml:"params"`
}

// Store is satisfied by repository.WorkflowRepository.
type Store interface {
	FindByName(ctx context.Context, tenantID, name string) (*domain.Workflow, error)
	Save(ctx context.Context, wf *domain.Workflow) error
}

// SystemWorkflows parses the embedded definitions into workflows for tenantID.
func SystemWorkflows(tenantID string) ([]domain.Workflow, error) {
	return parse(systemWorkflowsYAML, tenantID)
}

func parse(data []byte, tenantID string) ([]domain.Workflow, error) {
	var f seedFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse system workflows: %w", err)
	}
	out := make([]domain.Workflow, 0, len(f.Workflows))
	for _, sw := range f.Workflows {
		wf := domain.Workflow{
			TenantID:     tenantID,
			Name:         sw.Name,
			Description:  sw.Description,
			TriggerType:  domain.TriggerType(sw.TriggerType),
			EventName:    sw.EventName,
			TriggerTagID: sw.TriggerTagID,
			DelayMinutes: sw.DelayMinutes,
			Active:       true,
			System:       true,
		}
		for _, a := range sw.Actions {
			spec := domain.ActionSpec{Type: domain.ActionType(a.Type)}
			if a.Params != nil {
				params, err := json.Marshal(a.Params)
				if err != nil {
					return nil, fmt.Errorf("system workflow %q: encode params: %w", sw.Name, err)
				}
				spec.Params = params
			}
			wf.Actions = append(wf.Actions, spec)
		}
		out = append(out, wf)
	}
	return out, nil
}

// SeedTenant saves any system workflow the tenant does not have yet, matched by name, and
// returns how many were created. Running it again is a no-op.
func SeedTenant(ctx context.Context, store Store, validator engine.ParamValidator, tenantID string) (int, error) {
	if tenantID == "" {
		return 0, domain.ErrMissingTenant
	}
	workflows, err := SystemWorkflows(tenantID)
	if err != nil {
		return 0, err
	}
	created := 0
	for i := range workflows {
		wf := &workflows[i]
		if err := engine.ValidateWorkflow(wf, validator); err != nil {
			return created, fmt.Errorf("system workflow %q: %w", wf.Name, err)
		}
		_, err := store.FindByName(ctx, tenantID, wf.Name)
		if err == nil {
			continue
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return created, fmt.Errorf("look up system workflow %q: %w", wf.Name, err)
		}
		if err := store.Save(ctx, wf); err != nil {
			return created, fmt.Errorf("save system workflow %q: %w", wf.Name, err)
		}
		created++
		slog.InfoContext(ctx, "Seeded system workflow", "tenant_id", tenantID, "workflow_id", wf.ID, "name", wf.Name)
	}
	return created, nil
}
