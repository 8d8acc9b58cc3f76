package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/pavelanni/analytics/internal/i18n"
	"github.com/pavelanni/analytics/internal/model"
)

const (
	codeNotFound            = "NOT_FOUND"
	codeUpstreamUnavailable = "UPSTREAM_UNAVAILABLE"
	codeInvalidInput        = "INVALID_INPUT"
	codeInternal            = "INTERNAL_ERROR"
)

type errorBody struct {
	Error   string             `json:"error"`
	Code    string             `json:"code"`
	Details []model.FieldError `json:"details,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}

func respondError(w http.ResponseWriter, status int, code, msg string, details []model.FieldError) {
	respondJSON(w, status, errorBody{Error: msg, Code: code, Details: details})
}

// respondErr maps err onto the error taxonomy.
func (h *Handler) respondErr(w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()
	switch {
	case errors.Is(err, model.ErrNotFound):
		slog.Debug("not found", "path", r.URL.Path, "error", err)
		respondError(w, http.StatusNotFound, codeNotFound, i18n.T(ctx, "ErrNotFound"), nil)
	case errors.Is(err, model.ErrUpstreamUnavailable):
		slog.Warn("activity service unavailable", "path", r.URL.Path, "error", err)
		respondError(w, http.StatusBadGateway, codeUpstreamUnavailable, i18n.T(ctx, "ErrUpstreamUnavailable"), nil)
	case errors.Is(err, model.ErrInvalidInput):
		var verr *model.ValidationError
		var details []model.FieldError
		if errors.As(err, &verr) {
			details = verr.Fields
		}
		respondError(w, http.StatusBadRequest, codeInvalidInput, i18n.T(ctx, "ErrInvalidInput"), details)
	default:
		slog.Error("request failed",
			"path", r.URL.Path,
			"request_id", middleware.GetReqID(ctx),
			"error", err,
		)
		respondError(w, http.StatusInternalServerError, codeInternal, i18n.T(ctx, "ErrInternal"), nil)
	}
}
