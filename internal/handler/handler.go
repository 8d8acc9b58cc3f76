package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/pavelanni/analytics/internal/i18n"
	"github.com/pavelanni/analytics/internal/metrics"
	"github.com/pavelanni/analytics/internal/model"
	"github.com/pavelanni/analytics/internal/observability"
)

// APIPrefix is the mount point of the analytics query surface.
const APIPrefix = "/api/v1/analytics"

// ServiceName is reported by the health check.
const ServiceName = "mrnewton-analytics"

const maxContractBytes = 1 << 20

// Cache is the read/delete side of the metrics store exposed over HTTP.
type Cache interface {
	ListMetrics(ctx context.Context, instanceID string) ([]model.AnalyticsMetrics, error)
	DeleteMetrics(ctx context.Context, instanceID, studentID string) (bool, error)
}

// Handler holds shared dependencies for HTTP handlers.
type Handler struct {
	engine    *metrics.Engine
	contracts *metrics.Contracts
	cache     Cache
	obs       *observability.Metrics
	now       func() time.Time
}

// New creates a new Handler.
func New(e *metrics.Engine, c *metrics.Contracts, cache Cache, obs *observability.Metrics) *Handler {
	return &Handler{engine: e, contracts: c, cache: cache, obs: obs, now: time.Now}
}

// Router returns a chi router with the standard middleware stack and all
// routes mounted.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware())
	h.Routes(r)
	return r
}

// Routes registers all HTTP routes.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/health", h.handleHealth)
	r.Method(http.MethodGet, "/metrics", h.obs.Handler())

	r.Route(APIPrefix, func(r chi.Router) {
		r.Use(i18n.Middleware())
		r.Get("/contract", h.handleGetContract)
		r.Post("/contract", h.handleSaveContract)
		r.Get("/instances/{instanceID}/metrics", h.handleInstanceMetrics)
		r.Get("/instances/{instanceID}/metrics/cached", h.handleCachedInstanceMetrics)
		r.Get("/instances/{instanceID}/students/{studentID}/metrics", h.handleStudentMetrics)
		r.Delete("/instances/{instanceID}/students/{studentID}/metrics", h.handleDeleteStudentMetrics)
	})
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status":    "ok",
		"service":   ServiceName,
		"timestamp": h.now().UTC().Format(time.RFC3339),
	})
}

func (h *Handler) handleGetContract(w http.ResponseWriter, r *http.Request) {
	c, err := h.contracts.Current(r.Context())
	if errors.Is(err, model.ErrNotFound) {
		respondError(w, http.StatusNotFound, codeNotFound, i18n.T(r.Context(), "ErrNoContract"), nil)
		return
	}
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, c)
}

func (h *Handler) handleSaveContract(w http.ResponseWriter, r *http.Request) {
	var c model.AnalyticsContract
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxContractBytes))
	if err := dec.Decode(&c); err != nil {
		h.respondErr(w, r, &model.ValidationError{Fields: []model.FieldError{
			{Field: "body", Message: err.Error()},
		}})
		return
	}

	saved, err := h.contracts.Save(r.Context(), c)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	slog.Info("analytics contract saved", "id", saved.ID,
		"qualitative", len(saved.Qualitative), "quantitative", len(saved.Quantitative))
	respondJSON(w, http.StatusCreated, saved)
}

func (h *Handler) handleInstanceMetrics(w http.ResponseWriter, r *http.Request) {
	force, ok := h.forceParam(w, r)
	if !ok {
		return
	}
	instanceID := chi.URLParam(r, "instanceID")

	results, err := h.engine.ComputeForInstance(r.Context(), instanceID, force)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, results)
}

func (h *Handler) handleCachedInstanceMetrics(w http.ResponseWriter, r *http.Request) {
	rows, err := h.cache.ListMetrics(r.Context(), chi.URLParam(r, "instanceID"))
	if err != nil {
		h.respondErr(w, r, fmt.Errorf("list cached metrics: %w", err))
		return
	}
	respondJSON(w, http.StatusOK, rows)
}

func (h *Handler) handleStudentMetrics(w http.ResponseWriter, r *http.Request) {
	force, ok := h.forceParam(w, r)
	if !ok {
		return
	}
	instanceID := chi.URLParam(r, "instanceID")
	studentID := chi.URLParam(r, "studentID")

	m, err := h.engine.ComputeForStudent(r.Context(), instanceID, studentID, force)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, m)
}

func (h *Handler) handleDeleteStudentMetrics(w http.ResponseWriter, r *http.Request) {
	instanceID := chi.URLParam(r, "instanceID")
	studentID := chi.URLParam(r, "studentID")

	deleted, err := h.cache.DeleteMetrics(r.Context(), instanceID, studentID)
	if err != nil {
		h.respondErr(w, r, fmt.Errorf("delete cached metrics: %w", err))
		return
	}
	if !deleted {
		msg := i18n.Td(r.Context(), "ErrNoCachedMetrics", map[string]any{
			"InstanceID": instanceID,
			"StudentID":  studentID,
		})
		respondError(w, http.StatusNotFound, codeNotFound, msg, nil)
		return
	}
	slog.Info("cached metrics deleted", "instance_id", instanceID, "student_id", studentID)
	w.WriteHeader(http.StatusNoContent)
}

// forceParam parses ?force_recalculate=; absent means false. On a bad value
// it writes the 400 response and reports ok=false.
func (h *Handler) forceParam(w http.ResponseWriter, r *http.Request) (force bool, ok bool) {
	raw := r.URL.Query().Get("force_recalculate")
	if raw == "" {
		return false, true
	}
	force, err := strconv.ParseBool(raw)
	if err != nil {
		msg := i18n.Td(r.Context(), "ErrInvalidForceRecalculate", map[string]any{"Value": raw})
		respondError(w, http.StatusBadRequest, codeInvalidInput, msg, []model.FieldError{
			{Field: "force_recalculate", Message: err.Error()},
		})
		return false, false
	}
	return force, true
}
