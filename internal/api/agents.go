package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nidhogg/skillmatch/internal/authz"
	"github.com/nidhogg/skillmatch/internal/profile"
	"github.com/nidhogg/skillmatch/internal/stats"
)

func (h *Handler) registerAgent(w http.ResponseWriter, r *http.Request) {
	if err := h.require(r, authz.ManageProfiles); err != nil {
		h.writeError(w, r, err)
		return
	}
	var in profile.RegisterInput
	if err := decode(r, &in); err != nil {
		h.writeError(w, r, err)
		return
	}
	if in.OrgID == "" {
		in.OrgID = authz.FromContext(r.Context()).OrgID
	}
	p, err := h.Profiles.Register(r.Context(), in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, profile.NewView(p))
}

func (h *Handler) listAgents(w http.ResponseWriter, r *http.Request) {
	orgID := r.URL.Query().Get("org_id")
	if orgID == "" {
		orgID = authz.FromContext(r.Context()).OrgID
	}
	ps, err := h.Profiles.List(r.Context(), orgID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	views := make([]*profile.View, len(ps))
	for i, p := range ps {
		views[i] = profile.NewView(p)
	}
	writeJSON(w, http.StatusOK, views)
}

func (h *Handler) getAgent(w http.ResponseWriter, r *http.Request) {
	p, err := h.Profiles.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, profile.NewView(p))
}

func (h *Handler) updateAgent(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.requireSelfOr(r, id, authz.ManageProfiles); err != nil {
		h.writeError(w, r, err)
		return
	}
	var u profile.Update
	if err := decode(r, &u); err != nil {
		h.writeError(w, r, err)
		return
	}
	p, err := h.Profiles.Update(r.Context(), id, u)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, profile.NewView(p))
}

type skillRequest struct {
	Skill string `json:"skill"`
}

func (h *Handler) addSkill(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.requireSelfOr(r, id, authz.ManageProfiles); err != nil {
		h.writeError(w, r, err)
		return
	}
	var req skillRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	p, err := h.Profiles.AddSkill(r.Context(), id, req.Skill)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, profile.NewView(p))
}

func (h *Handler) removeSkill(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.requireSelfOr(r, id, authz.ManageProfiles); err != nil {
		h.writeError(w, r, err)
		return
	}
	p, err := h.Profiles.RemoveSkill(r.Context(), id, chi.URLParam(r, "skill"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, profile.NewView(p))
}

type endorseRequest struct {
	Skill string `json:"skill"`
	Level int    `json:"level"`
}

func (h *Handler) endorseSkill(w http.ResponseWriter, r *http.Request) {
	var req endorseRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	caller := authz.FromContext(r.Context())
	e, err := h.Endorsements.Endorse(r.Context(), chi.URLParam(r, "id"), caller.UserID, req.Skill, req.Level)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (h *Handler) getEndorsements(w http.ResponseWriter, r *http.Request) {
	sums, err := h.Endorsements.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sums)
}

func (h *Handler) getStatistics(w http.ResponseWriter, r *http.Request) {
	st, err := h.Stats.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *Handler) recomputeStatistics(w http.ResponseWriter, r *http.Request) {
	st, err := h.Stats.Recompute(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *Handler) teamStatistics(w http.ResponseWriter, r *http.Request) {
	if err := h.require(r, authz.ViewTeam); err != nil {
		h.writeError(w, r, err)
		return
	}
	ts, err := h.Stats.Team(r.Context(), chi.URLParam(r, "orgID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ts)
}

func (h *Handler) recomputeTeamStatistics(w http.ResponseWriter, r *http.Request) {
	if err := h.require(r, authz.ViewTeam); err != nil {
		h.writeError(w, r, err)
		return
	}
	sts, err := h.Stats.RecomputeTeam(r.Context(), chi.URLParam(r, "orgID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sts)
}

func (h *Handler) submitFeedback(w http.ResponseWriter, r *http.Request) {
	var in stats.FeedbackInput
	if err := decode(r, &in); err != nil {
		h.writeError(w, r, err)
		return
	}
	in.AssignmentID = chi.URLParam(r, "id")
	fb, err := h.Stats.SubmitFeedback(r.Context(), in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, fb)
}
