package domain

import (
	"encoding/json"
	"time"
)

type TriggerType string

const (
	TriggerEvent      TriggerType = "event"
	TriggerTagAdded   TriggerType = "tag_added"
	TriggerTagRemoved TriggerType = "tag_removed"
)

type ActionType string

const (
	ActionSendEmail   ActionType = "send_email"
	ActionAddTag      ActionType = "add_tag"
	ActionRemoveTag   ActionType = "remove_tag"
	ActionCallWebhook ActionType = "call_webhook"
)

// ActionSpec is one step of a workflow. Params are decoded by the handler registered for Type.
type ActionSpec struct {
	Type   ActionType      `json:"type"`
	Params json.RawMessage `json:"params,omitempty"`
}

// Workflow is a tenant-owned automation definition.
type Workflow struct {
	ID           string       `json:"id"`
	TenantID     string       `json:"tenantId"`
	Name         string       `json:"name"`
	Description  string       `json:"description,omitempty"`
	TriggerType  TriggerType  `json:"triggerType"`
	EventName    string       `json:"eventName,omitempty"`
	TriggerTagID string       `json:"triggerTagId,omitempty"`
	DelayMinutes int          `json:"delayMinutes"`
	Actions      []ActionSpec `json:"actions"`
	Active       bool         `json:"active"`
	System       bool         `json:"system"`
	Created      time.Time    `json:"created"`
	Modified     time.Time    `json:"modified"`
}

// Delay returns DelayMinutes as a duration.
func (w *Workflow) Delay() time.Duration {
	return time.Duration(w.DelayMinutes) * time.Minute
}

// IsTagTrigger reports whether the workflow fires on tag association changes.
func (w *Workflow) IsTagTrigger() bool {
	return w.TriggerType == TriggerTagAdded || w.TriggerType == TriggerTagRemoved
}

// CopyActions returns a deep copy of the action list, params included.
func (w *Workflow) CopyActions() []ActionSpec {
	out := make([]ActionSpec, len(w.Actions))
	for i, a := range w.Actions {
		out[i] = ActionSpec{Type: a.Type}
		if a.Params != nil {
			out[i].Params = append(json.RawMessage(nil), a.Params...)
		}
	}
	return out
}
