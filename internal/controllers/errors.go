package controllers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/dmayes77/clientflow/internal/util"
	"github.com/dmayes77/clientflow/pkg/clientflow/domain"
	"github.com/dmayes77/clientflow/pkg/clientflow/models"
)

func writeError(w http.ResponseWriter, status int, msg string) {
	util.WriteJSONResponse(w, status, models.ErrorResponse{Error: msg})
}

// writeDecodeError answers 413 for an oversized body and 400 for anything else.
func writeDecodeError(w http.ResponseWriter, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}
	writeError(w, http.StatusBadRequest, "invalid JSON payload")
}

// writeDomainError maps sentinel errors onto status codes; anything else is a 500.
func writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, domain.ErrInvalidWorkflow), errors.Is(err, domain.ErrMissingTenant):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrSystemWorkflow):
		writeError(w, http.StatusConflict, err.Error())
	default:
		slog.ErrorContext(r.Context(), "Request failed", "path", r.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
