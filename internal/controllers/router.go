package controllers

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RegisterRoutes wires the HTTP routes for this controller.
func (c *WorkflowsController) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/workflows", c.RequireAuth(c.handleCreateWorkflow))
	mux.HandleFunc("GET /api/workflows", c.RequireAuth(c.handleListWorkflows))
	mux.HandleFunc("GET /api/workflows/{id}", c.RequireAuth(c.handleGetWorkflow))
	mux.HandleFunc("PUT /api/workflows/{id}", c.RequireAuth(c.handleUpdateWorkflow))
	mux.HandleFunc("DELETE /api/workflows/{id}", c.RequireAuth(c.handleDeleteWorkflow))
	mux.HandleFunc("POST /api/workflows/{id}/state", c.RequireAuth(c.handleSetActive))
	mux.HandleFunc("GET /api/workflows/{id}/runs", c.RequireAuth(c.handleListRuns))
	mux.HandleFunc("GET /api/runs/{id}", c.RequireAuth(c.handleGetRun))
}
func (c *EventsController) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/events", c.RequireAuth(c.handleFireEvent))
	mux.HandleFunc("POST /api/tag-events", c.RequireAuth(c.handleFireTagEvent))
}
func (c *ExecutorsController) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/executors", c.RequireAuth(c.handleGetExecutors))
}

// RegisterMetrics exposes the Prometheus registry, unauthenticated.
func RegisterMetrics(mux *http.ServeMux) {
	mux.Handle("GET /metrics", promhttp.Handler())
}
