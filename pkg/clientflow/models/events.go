package models

import "github.com/dmayes77/clientflow/pkg/clientflow/domain"

// FireEventRequest raises a named event for the authenticated tenant. The tenant inside
// Context is ignored and replaced with the caller's.
type FireEventRequest struct {
	EventName string                `json:"eventName"`
	Context   domain.TriggerContext `json:"context"`
}

// FireTagEventRequest raises a tag change. Action is "added" or "removed".
type FireTagEventRequest struct {
	TagID      string                `json:"tagId"`
	Action     string                `json:"action"`
	EntityType domain.EntityType     `json:"entityType,omitempty"`
	Context    domain.TriggerContext `json:"context"`
}

type AcceptedResponse struct {
	Accepted bool `json:"accepted"`
}
