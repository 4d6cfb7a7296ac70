package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nidhogg/skillmatch/internal/apperr"
	"github.com/nidhogg/skillmatch/internal/authz"
	"github.com/nidhogg/skillmatch/internal/ledger"
	"github.com/nidhogg/skillmatch/internal/model"
	"github.com/nidhogg/skillmatch/internal/repo"
	"github.com/nidhogg/skillmatch/internal/selector"
)

func (h *Handler) getWorkItem(w http.ResponseWriter, r *http.Request) {
	item, err := h.Items.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (h *Handler) putWorkItem(w http.ResponseWriter, r *http.Request) {
	if h.ItemWriter == nil {
		h.writeError(w, r, apperr.FeatureDisabled("work items are read-only in this deployment"))
		return
	}
	if err := h.require(r, authz.ManageProfiles); err != nil {
		h.writeError(w, r, err)
		return
	}
	var item model.WorkItem
	if err := decode(r, &item); err != nil {
		h.writeError(w, r, err)
		return
	}
	item.ID = chi.URLParam(r, "id")
	if item.OrgID == "" {
		item.OrgID = authz.FromContext(r.Context()).OrgID
	}
	if err := h.ItemWriter.Put(r.Context(), &item); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

type assignRequest struct {
	Strategy string `json:"strategy"`
	Reason   string `json:"reason"`
}

// assigner returns the caller as assigner, nil for anonymous calls.
func assigner(r *http.Request) *string {
	id := authz.FromContext(r.Context())
	if id.Anonymous() {
		return nil
	}
	return &id.UserID
}

func (h *Handler) autoAssign(w http.ResponseWriter, r *http.Request) {
	if err := h.require(r, authz.AssignTasks); err != nil {
		h.writeError(w, r, err)
		return
	}
	var req assignRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	strategy, err := parseOptionalStrategy(req.Strategy)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	a, err := h.Ledger.AutoAssign(r.Context(), ledger.AssignRequest{
		WorkItemID: chi.URLParam(r, "id"),
		Strategy:   strategy,
		AssignerID: assigner(r),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, a)
}

func (h *Handler) recommendations(w http.ResponseWriter, r *http.Request) {
	strategy, err := parseOptionalStrategy(r.URL.Query().Get("strategy"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	topN, err := queryInt(r, "top_n")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	cs, err := h.Ledger.Recommend(r.Context(), chi.URLParam(r, "id"), strategy, topN)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if cs == nil {
		cs = []*selector.Candidate{}
	}
	writeJSON(w, http.StatusOK, cs)
}

func (h *Handler) reassign(w http.ResponseWriter, r *http.Request) {
	if err := h.require(r, authz.AssignTasks); err != nil {
		h.writeError(w, r, err)
		return
	}
	var req assignRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	strategy, err := parseOptionalStrategy(req.Strategy)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	a, err := h.Ledger.Reassign(r.Context(), ledger.ReassignRequest{
		WorkItemID: chi.URLParam(r, "id"),
		Reason:     req.Reason,
		Strategy:   strategy,
		AssignerID: assigner(r),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, a)
}

type listResponse struct {
	Assignments []*model.Assignment `json:"assignments"`
	Total       int                 `json:"total"`
	Page        int                 `json:"page"`
	PerPage     int                 `json:"per_page"`
}

func (h *Handler) listAssignments(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := repo.AssignmentFilter{
		AgentID:    q.Get("agent_id"),
		WorkItemID: q.Get("work_item_id"),
		Status:     model.AssignmentStatus(q.Get("status")),
	}
	var err error
	if f.Page, err = queryInt(r, "page"); err != nil {
		h.writeError(w, r, err)
		return
	}
	if f.PerPage, err = queryInt(r, "per_page"); err != nil {
		h.writeError(w, r, err)
		return
	}
	as, total, err := h.Ledger.List(r.Context(), f)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	f.Normalize()
	writeJSON(w, http.StatusOK, listResponse{Assignments: as, Total: total, Page: f.Page, PerPage: f.PerPage})
}

func (h *Handler) getAssignment(w http.ResponseWriter, r *http.Request) {
	a, err := h.Ledger.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

type completeRequest struct {
	ActualHours *float64 `json:"actual_hours"`
}

func (h *Handler) completeAssignment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req completeRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if req.ActualHours == nil {
		h.writeError(w, r, apperr.Validation("actual_hours is required"))
		return
	}
	a, err := h.Ledger.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.requireSelfOr(r, a.AgentID, authz.AssignTasks); err != nil {
		h.writeError(w, r, err)
		return
	}
	a, err = h.Ledger.Complete(r.Context(), id, *req.ActualHours)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (h *Handler) cancelAssignment(w http.ResponseWriter, r *http.Request) {
	if err := h.require(r, authz.AssignTasks); err != nil {
		h.writeError(w, r, err)
		return
	}
	var req assignRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	a, err := h.Ledger.Cancel(r.Context(), chi.URLParam(r, "id"), req.Reason)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (h *Handler) runSweep(w http.ResponseWriter, r *http.Request) {
	if err := h.require(r, authz.AssignTasks); err != nil {
		h.writeError(w, r, err)
		return
	}
	var req assignRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	strategy, err := parseOptionalStrategy(req.Strategy)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	rep, err := h.Sweeper.Run(r.Context(), chi.URLParam(r, "orgID"), strategy)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

// parseOptionalStrategy keeps an empty strategy empty so the ledger's
// configured default applies.
func parseOptionalStrategy(s string) (selector.Strategy, error) {
	if s == "" {
		return "", nil
	}
	return selector.ParseStrategy(s)
}
