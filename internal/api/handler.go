// Package api exposes the assignment engine over JSON/HTTP.
package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/nidhogg/skillmatch/internal/apperr"
	"github.com/nidhogg/skillmatch/internal/authz"
	"github.com/nidhogg/skillmatch/internal/endorse"
	"github.com/nidhogg/skillmatch/internal/ledger"
	"github.com/nidhogg/skillmatch/internal/profile"
	"github.com/nidhogg/skillmatch/internal/stats"
	"github.com/nidhogg/skillmatch/internal/sweep"
	"github.com/nidhogg/skillmatch/internal/workitem"
)

// Deps are the engine components behind the routes.
type Deps struct {
	Profiles     *profile.Service
	Ledger       *ledger.Ledger
	Stats        *stats.Aggregator
	Endorsements *endorse.Registry
	Sweeper      *sweep.Sweeper
	Items        workitem.Source
	// ItemWriter is optional; without it PUT /work-items answers 501.
	ItemWriter workitem.Writer
	Policy     authz.Policy
	// Gatherer backs /metrics; nil uses the default registry.
	Gatherer       prometheus.Gatherer
	RequestTimeout time.Duration
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	Deps
	logger *zap.Logger
}

// NewHandler creates a new API handler.
func NewHandler(d Deps, logger *zap.Logger) *Handler {
	if d.Policy == nil {
		d.Policy = authz.AllowAll{}
	}
	if d.Gatherer == nil {
		d.Gatherer = prometheus.DefaultGatherer
	}
	if d.RequestTimeout <= 0 {
		d.RequestTimeout = 15 * time.Second
	}
	return &Handler{Deps: d, logger: logger}
}

// Router builds the chi router with all routes.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type",
			authz.HeaderUserID, authz.HeaderOrgID, authz.HeaderRoles},
		AllowCredentials: true,
	}))

	r.Handle("/metrics", promhttp.HandlerFor(h.Gatherer, promhttp.HandlerOpts{}))

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.Timeout(h.RequestTimeout))
		r.Use(authz.Middleware)

		r.Get("/health", h.healthCheck)

		// Agent profiles
		r.Post("/agents", h.registerAgent)
		r.Get("/agents", h.listAgents)
		r.Get("/agents/{id}", h.getAgent)
		r.Patch("/agents/{id}", h.updateAgent)
		r.Post("/agents/{id}/skills", h.addSkill)
		r.Delete("/agents/{id}/skills/{skill}", h.removeSkill)

		// Endorsements and statistics
		r.Post("/agents/{id}/endorsements", h.endorseSkill)
		r.Get("/agents/{id}/endorsements", h.getEndorsements)
		r.Get("/agents/{id}/statistics", h.getStatistics)
		r.Post("/agents/{id}/statistics/recompute", h.recomputeStatistics)

		// Work items
		r.Get("/work-items/{id}", h.getWorkItem)
		r.Put("/work-items/{id}", h.putWorkItem)
		r.Post("/work-items/{id}/auto-assign", h.autoAssign)
		r.Get("/work-items/{id}/recommendations", h.recommendations)
		r.Post("/work-items/{id}/reassign", h.reassign)

		// Assignments
		r.Get("/assignments", h.listAssignments)
		r.Get("/assignments/{id}", h.getAssignment)
		r.Post("/assignments/{id}/complete", h.completeAssignment)
		r.Post("/assignments/{id}/cancel", h.cancelAssignment)
		r.Post("/assignments/{id}/feedback", h.submitFeedback)

		// Organisation
		r.Get("/orgs/{orgID}/statistics", h.teamStatistics)
		r.Post("/orgs/{orgID}/statistics/recompute", h.recomputeTeamStatistics)
		r.Post("/orgs/{orgID}/sweeps", h.runSweep)
	})

	return r
}

func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "skillmatch"})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

func statusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindNoEligibleAgent, apperr.KindInvalidStateTransition, apperr.KindConcurrencyConflict:
		return http.StatusConflict
	case apperr.KindPermissionDenied:
		return http.StatusForbidden
	case apperr.KindFeatureDisabled:
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}

// writeError maps err's kind to a status. Internal errors are logged and
// answered with a generic message.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := apperr.KindOf(err)
	status := statusFor(kind)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Error(err))
		msg = "internal error"
	}
	writeJSON(w, status, errorBody{Error: msg, Kind: string(kind)})
}

// decode reads a JSON body into v. An empty body leaves v untouched.
func decode(r *http.Request, v interface{}) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return apperr.Validation("invalid request body: %v", err)
	}
	return nil
}

func queryInt(r *http.Request, name string) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, apperr.Validation("%s must be an integer", name)
	}
	return n, nil
}

func (h *Handler) require(r *http.Request, c authz.Capability) error {
	return authz.Require(h.Policy, authz.FromContext(r.Context()), c)
}

func (h *Handler) requireSelfOr(r *http.Request, subjectID string, c authz.Capability) error {
	return authz.RequireSelfOr(h.Policy, authz.FromContext(r.Context()), subjectID, c)
}
