package controllers

import (
	"log/slog"
	"net/http"

	"github.com/dmayes77/clientflow/internal/engine"
	"github.com/dmayes77/clientflow/internal/util"
)

type ExecutorsController struct {
	AuthController
	ExecutorsRepo engine.ExecutorRepo
}

func NewExecutorsController(executorRepo engine.ExecutorRepo, auth AuthController) *ExecutorsController {
	return &ExecutorsController{ExecutorsRepo: executorRepo, AuthController: auth}
}

func (c *ExecutorsController) handleGetExecutors(w http.ResponseWriter, r *http.Request) {
	results, err := c.ExecutorsRepo.GetExecutorsByLastActive(r.Context(), 20)
	if err != nil {
		slog.ErrorContext(r.Context(), "Failed to search executors", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	util.WriteJSONResponse(w, http.StatusOK, results)
}
