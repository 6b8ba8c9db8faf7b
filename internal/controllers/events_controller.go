package controllers

import (
	"net/http"

	"github.com/dmayes77/clientflow/internal/engine"
	"github.com/dmayes77/clientflow/internal/util"
	"github.com/dmayes77/clientflow/pkg/clientflow/models"
)

// EventsController accepts events from producers running out of process. Matching happens in
// the background, so a 202 says nothing about whether any workflow fired.
type EventsController struct {
	AuthController
	Engine EventFirer
}

func NewEventsController(firer EventFirer, auth AuthController) *EventsController {
	return &EventsController{AuthController: auth, Engine: firer}
}

func (c *EventsController) handleFireEvent(w http.ResponseWriter, r *http.Request) {
	req, err := util.DecodeJSONBody[models.FireEventRequest](w, r)
	if err != nil {
		writeDecodeError(w, err)
		return
	}
	if req.EventName == "" {
		writeError(w, http.StatusBadRequest, "eventName is required")
		return
	}
	tc := req.Context
	tc.Tenant.ID = tenantOf(r)
	c.Engine.Fire(r.Context(), req.EventName, tc)
	util.WriteJSONResponse(w, http.StatusAccepted, models.AcceptedResponse{Accepted: true})
}

func (c *EventsController) handleFireTagEvent(w http.ResponseWriter, r *http.Request) {
	req, err := util.DecodeJSONBody[models.FireTagEventRequest](w, r)
	if err != nil {
		writeDecodeError(w, err)
		return
	}
	if req.TagID == "" {
		writeError(w, http.StatusBadRequest, "tagId is required")
		return
	}
	action := engine.TagAction(req.Action)
	if action != engine.TagAdded && action != engine.TagRemoved {
		writeError(w, http.StatusBadRequest, "action must be added or removed")
		return
	}
	if req.EntityType != "" && !req.EntityType.Valid() {
		writeError(w, http.StatusBadRequest, "unknown entityType")
		return
	}
	tc := req.Context
	tc.Tenant.ID = tenantOf(r)
	c.Engine.FireTag(r.Context(), engine.TagChange{TagID: req.TagID, Action: action, EntityType: req.EntityType}, tc)
	util.WriteJSONResponse(w, http.StatusAccepted, models.AcceptedResponse{Accepted: true})
}
