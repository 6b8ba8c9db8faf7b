package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dmayes77/clientflow/pkg/clientflow/domain"
)

type TagAction string

const (
	TagAdded   TagAction = "added"
	TagRemoved TagAction = "removed"
)

func (a TagAction) triggerType() (domain.TriggerType, bool) {
	switch a {
	case TagAdded:
		return domain.TriggerTagAdded, true
	case TagRemoved:
		return domain.TriggerTagRemoved, true
	}
	return "", false
}

// Trigger describes what happened. Set EventName for a named event, or TagID and TagAction
// for a tag change. EntityType is optional on tag changes.
type Trigger struct {
	TenantID   string
	EventName  string
	TagID      string
	TagAction  TagAction
	EntityType domain.EntityType
}

// Label is the trigger description stored on runs.
func (t Trigger) Label() string {
	if t.TagID != "" {
		return fmt.Sprintf("tag_%s:%s", t.TagAction, t.TagID)
	}
	return t.EventName
}

// Matcher selects the active workflows of a tenant that a trigger fires.
type Matcher struct {
	workflows WorkflowStore
}

func NewMatcher(workflows WorkflowStore) *Matcher {
	return &Matcher{workflows: workflows}
}

// Match returns matching workflows de-duplicated by id. A tag change carrying an entity type
// also matches event workflows named "<entity>_tag_added" or "<entity>_tag_removed".
// Malformed workflows are logged and skipped.
func (m *Matcher) Match(ctx context.Context, trigger Trigger) ([]domain.Workflow, error) {
	if trigger.TenantID == "" {
		return nil, domain.ErrMissingTenant
	}

	seen := make(map[string]struct{})
	var out []domain.Workflow
	add := func(candidates []domain.Workflow, want domain.TriggerType) {
		for i := range candidates {
			wf := candidates[i]
			if !wf.Active || wf.TenantID != trigger.TenantID {
				continue
			}
			if err := checkTriggerShape(&wf); err != nil {
				slog.WarnContext(ctx, "Skipping malformed workflow", "workflow_id", wf.ID, "tenant_id", wf.TenantID, "error", err)
				continue
			}
			if wf.TriggerType != want {
				continue
			}
			if _, dup := seen[wf.ID]; dup {
				continue
			}
			seen[wf.ID] = struct{}{}
			out = append(out, wf)
		}
	}

	switch {
	case trigger.TagID != "":
		triggerType, ok := trigger.TagAction.triggerType()
		if !ok {
			return nil, fmt.Errorf("unknown tag action %q", trigger.TagAction)
		}
		found, err := m.workflows.FindActiveByTag(ctx, trigger.TenantID, trigger.TagID, triggerType)
		if err != nil {
			return nil, fmt.Errorf("find tag workflows: %w", err)
		}
		add(found, triggerType)

		if trigger.EntityType.Valid() {
			eventName := fmt.Sprintf("%s_tag_%s", trigger.EntityType, trigger.TagAction)
			found, err := m.workflows.FindActiveByEvent(ctx, trigger.TenantID, eventName)
			if err != nil {
				return nil, fmt.Errorf("find entity tag workflows: %w", err)
			}
			add(found, domain.TriggerEvent)
		}
	case trigger.EventName != "":
		found, err := m.workflows.FindActiveByEvent(ctx, trigger.TenantID, trigger.EventName)
		if err != nil {
			return nil, fmt.Errorf("find event workflows: %w", err)
		}
		add(found, domain.TriggerEvent)
	default:
		return nil, fmt.Errorf("trigger has neither event name nor tag id")
	}
	return out, nil
}
