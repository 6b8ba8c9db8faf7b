package actions

import (
	"context"
	"fmt"

	"github.com/dmayes77/clientflow/pkg/clientflow/domain"
)

// TagAssociator attaches and detaches tags. Both operations are idempotent.
type TagAssociator interface {
	Add(ctx context.Context, tenantID string, entityType domain.EntityType, entityID, tagID string) error
	Remove(ctx context.Context, tenantID string, entityType domain.EntityType, entityID, tagID string) error
}

type tagParams struct {
	TagID      string            `json:"tagId"`
	EntityType domain.EntityType `json:"entityType"`
}

const tagSchema = `{
  "type": "object",
  "required": ["tagId"],
  "properties": {
    "tagId": { "type": "string", "minLength": 1 },
    "entityType": { "enum": ["contact", "booking", "invoice", "payment"] }
  },
  "additionalProperties": false
}`

// TagHandler implements add_tag and remove_tag. The target entity is params.entityType from the
// snapshot, or the snapshot's primary entity when omitted.
type TagHandler struct {
	actionType domain.ActionType
	tags       TagAssociator
}

func NewAddTagHandler(tags TagAssociator) *TagHandler {
	return &TagHandler{actionType: domain.ActionAddTag, tags: tags}
}

func NewRemoveTagHandler(tags TagAssociator) *TagHandler {
	return &TagHandler{actionType: domain.ActionRemoveTag, tags: tags}
}

func (h *TagHandler) Type() domain.ActionType { return h.actionType }

func (h *TagHandler) Schema() string { return tagSchema }

func (h *TagHandler) Execute(ctx context.Context, req Request) error {
	p, err := decodeParams[tagParams](req.Params)
	if err != nil {
		return err
	}
	entityType, entityID, err := target(p.EntityType, req.Snapshot)
	if err != nil {
		return fmt.Errorf("%s: %w", h.actionType, err)
	}
	if h.actionType == domain.ActionAddTag {
		return h.tags.Add(ctx, req.TenantID, entityType, entityID, p.TagID)
	}
	return h.tags.Remove(ctx, req.TenantID, entityType, entityID, p.TagID)
}

func target(want domain.EntityType, snapshot domain.TriggerContext) (domain.EntityType, string, error) {
	if want != "" {
		if id := snapshot.EntityID(want); id != "" {
			return want, id, nil
		}
		return "", "", fmt.Errorf("no %s in trigger context", want)
	}
	t, id, ok := snapshot.PrimaryEntity()
	if !ok {
		return "", "", fmt.Errorf("trigger context has no taggable entity")
	}
	return t, id, nil
}
