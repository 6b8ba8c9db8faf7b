package engine

import (
	"fmt"

	"github.com/dmayes77/clientflow/pkg/clientflow/domain"
)

// ParamValidator checks an action spec, satisfied by *actions.Registry.
type ParamValidator interface {
	Validate(spec domain.ActionSpec) error
}

// checkTriggerShape reports why a workflow's trigger cannot match anything, or nil.
func checkTriggerShape(wf *domain.Workflow) error {
	switch wf.TriggerType {
	case domain.TriggerEvent:
		if wf.EventName == "" {
			return fmt.Errorf("%w: event trigger without event name", domain.ErrInvalidWorkflow)
		}
		if wf.TriggerTagID != "" {
			return fmt.Errorf("%w: event trigger with a tag id", domain.ErrInvalidWorkflow)
		}
	case domain.TriggerTagAdded, domain.TriggerTagRemoved:
		if wf.TriggerTagID == "" {
			return fmt.Errorf("%w: tag trigger without tag id", domain.ErrInvalidWorkflow)
		}
		if wf.EventName != "" {
			return fmt.Errorf("%w: tag trigger with an event name", domain.ErrInvalidWorkflow)
		}
	default:
		return fmt.Errorf("%w: unknown trigger type %q", domain.ErrInvalidWorkflow, wf.TriggerType)
	}
	return nil
}

// ValidateWorkflow is the save-time check: trigger shape, delay, and every action's params.
func ValidateWorkflow(wf *domain.Workflow, params ParamValidator) error {
	if wf.TenantID == "" {
		return domain.ErrMissingTenant
	}
	if wf.Name == "" {
		return fmt.Errorf("%w: name is required", domain.ErrInvalidWorkflow)
	}
	if err := checkTriggerShape(wf); err != nil {
		return err
	}
	if wf.DelayMinutes < 0 {
		return fmt.Errorf("%w: delay minutes must not be negative", domain.ErrInvalidWorkflow)
	}
	for i, a := range wf.Actions {
		if err := params.Validate(a); err != nil {
			return fmt.Errorf("%w: action %d (%s): %v", domain.ErrInvalidWorkflow, i, a.Type, err)
		}
	}
	return nil
}
