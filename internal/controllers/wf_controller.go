package controllers

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/dmayes77/clientflow/internal/engine"
	"github.com/dmayes77/clientflow/internal/util"
	"github.com/dmayes77/clientflow/pkg/clientflow/domain"
	"github.com/dmayes77/clientflow/pkg/clientflow/models"
)

// WorkflowsController serves workflow CRUD and run history for the authenticated tenant.
type WorkflowsController struct {
	AuthController
	WorkflowRepo WorkflowRepo
	RunRepo      RunReader
	Validator    engine.ParamValidator
}

func NewWorkflowsController(workflowRepo WorkflowRepo, runRepo RunReader, validator engine.ParamValidator, auth AuthController) *WorkflowsController {
	return &WorkflowsController{AuthController: auth, WorkflowRepo: workflowRepo, RunRepo: runRepo, Validator: validator}
}

func (c *WorkflowsController) handleCreateWorkflow(w http.ResponseWriter, r *http.Request) {
	req, err := util.DecodeJSONBody[models.WorkflowRequest](w, r)
	if err != nil {
		writeDecodeError(w, err)
		return
	}
	wf := req.ToWorkflow(tenantOf(r), nil)
	if err := engine.ValidateWorkflow(wf, c.Validator); err != nil {
		writeDomainError(w, r, err)
		return
	}
	if err := c.WorkflowRepo.Save(r.Context(), wf); err != nil {
		writeDomainError(w, r, err)
		return
	}
	slog.InfoContext(r.Context(), "Created workflow", "workflow_id", wf.ID, "tenant_id", wf.TenantID, "trigger_type", wf.TriggerType)
	util.WriteJSONResponse(w, http.StatusCreated, wf)
}

func (c *WorkflowsController) handleListWorkflows(w http.ResponseWriter, r *http.Request) {
	wfs, err := c.WorkflowRepo.FindAllByTenant(r.Context(), tenantOf(r))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	if wfs == nil {
		wfs = []domain.Workflow{}
	}
	util.WriteJSONResponse(w, http.StatusOK, wfs)
}

func (c *WorkflowsController) handleGetWorkflow(w http.ResponseWriter, r *http.Request) {
	wf, err := c.WorkflowRepo.FindByID(r.Context(), tenantOf(r), r.PathValue("id"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	util.WriteJSONResponse(w, http.StatusOK, wf)
}

// handleUpdateWorkflow replaces a workflow definition. Runs already scheduled keep the actions
// they were scheduled with.
func (c *WorkflowsController) handleUpdateWorkflow(w http.ResponseWriter, r *http.Request) {
	tenantID := tenantOf(r)
	existing, err := c.WorkflowRepo.FindByID(r.Context(), tenantID, r.PathValue("id"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	req, err := util.DecodeJSONBody[models.WorkflowRequest](w, r)
	if err != nil {
		writeDecodeError(w, err)
		return
	}
	wf := req.ToWorkflow(tenantID, existing)
	if err := engine.ValidateWorkflow(wf, c.Validator); err != nil {
		writeDomainError(w, r, err)
		return
	}
	if err := c.WorkflowRepo.Update(r.Context(), wf); err != nil {
		writeDomainError(w, r, err)
		return
	}
	util.WriteJSONResponse(w, http.StatusOK, wf)
}

func (c *WorkflowsController) handleSetActive(w http.ResponseWriter, r *http.Request) {
	req, err := util.DecodeJSONBody[models.SetActiveRequest](w, r)
	if err != nil {
		writeDecodeError(w, err)
		return
	}
	tenantID, id := tenantOf(r), r.PathValue("id")
	if err := c.WorkflowRepo.SetActive(r.Context(), tenantID, id, req.Active); err != nil {
		writeDomainError(w, r, err)
		return
	}
	slog.InfoContext(r.Context(), "Workflow state changed", "workflow_id", id, "tenant_id", tenantID, "active", req.Active)
	w.WriteHeader(http.StatusNoContent)
}

func (c *WorkflowsController) handleDeleteWorkflow(w http.ResponseWriter, r *http.Request) {
	if err := c.WorkflowRepo.Delete(r.Context(), tenantOf(r), r.PathValue("id")); err != nil {
		writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (c *WorkflowsController) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 1000 {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and 1000")
			return
		}
		limit = n
	}
	runs, err := c.RunRepo.FindByWorkflow(r.Context(), tenantOf(r), r.PathValue("id"), limit)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	out := make([]models.RunResponse, 0, len(runs))
	for i := range runs {
		out = append(out, models.NewRunResponse(&runs[i]))
	}
	util.WriteJSONResponse(w, http.StatusOK, out)
}

func (c *WorkflowsController) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, err := c.RunRepo.FindByID(r.Context(), tenantOf(r), r.PathValue("id"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	util.WriteJSONResponse(w, http.StatusOK, models.NewRunResponse(run))
}
