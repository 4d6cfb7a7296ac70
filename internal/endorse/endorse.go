// Package endorse records peer endorsements of agent skills. Endorsements
// are informational and never feed the assignment scores.
package endorse

import (
	"context"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/nidhogg/skillmatch/internal/apperr"
	"github.com/nidhogg/skillmatch/internal/model"
	"github.com/nidhogg/skillmatch/internal/repo"
)

const (
	MinLevel = 1
	MaxLevel = 5
)

// Registry validates and stores endorsements in a backend.
type Registry struct {
	enabled  bool
	backend  repo.EndorsementStore
	profiles repo.ProfileStore
	clock    model.Clock
	logger   *zap.Logger
}

// NewRegistry creates a registry. A disabled registry rejects every call
// with a feature-disabled error.
func NewRegistry(enabled bool, backend repo.EndorsementStore, profiles repo.ProfileStore, logger *zap.Logger) *Registry {
	return &Registry{
		enabled:  enabled,
		backend:  backend,
		profiles: profiles,
		clock:    model.SystemClock{},
		logger:   logger,
	}
}

func (r *Registry) SetClock(c model.Clock) { r.clock = c }

// Enabled reports whether endorsements are switched on.
func (r *Registry) Enabled() bool { return r.enabled }

// NormalizeSkill trims and lowercases a skill name so endorsements of
// "Go" and "go " land on the same record.
func NormalizeSkill(skill string) string {
	return strings.ToLower(strings.TrimSpace(skill))
}

// Endorse upserts the (agent, endorser, skill) record; a later call
// overwrites the level.
func (r *Registry) Endorse(ctx context.Context, agentID, endorsedByID, skill string, level int) (*model.SkillEndorsement, error) {
	if !r.enabled {
		return nil, apperr.FeatureDisabled("skill endorsements are disabled")
	}
	skill = NormalizeSkill(skill)
	switch {
	case endorsedByID == "":
		return nil, apperr.Validation("endorser is required")
	case agentID == endorsedByID:
		return nil, apperr.Validation("agents cannot endorse themselves")
	case skill == "":
		return nil, apperr.Validation("skill is required")
	case level < MinLevel || level > MaxLevel:
		return nil, apperr.Validation("level must be between %d and %d, got %d", MinLevel, MaxLevel, level)
	}
	if _, err := r.profiles.GetProfile(ctx, agentID); err != nil {
		return nil, err
	}

	e := &model.SkillEndorsement{
		AgentID:      agentID,
		EndorsedByID: endorsedByID,
		Skill:        skill,
		Level:        level,
		UpdatedAt:    r.clock.Now(),
	}
	if err := r.backend.UpsertEndorsement(ctx, e); err != nil {
		return nil, err
	}
	r.logger.Info("skill endorsed",
		zap.String("agent", agentID),
		zap.String("endorser", endorsedByID),
		zap.String("skill", skill),
		zap.Int("level", level))
	return e, nil
}

// Get summarises an agent's endorsements per skill, ordered by skill.
func (r *Registry) Get(ctx context.Context, agentID string) ([]model.SkillEndorsementSummary, error) {
	if !r.enabled {
		return nil, apperr.FeatureDisabled("skill endorsements are disabled")
	}
	if _, err := r.profiles.GetProfile(ctx, agentID); err != nil {
		return nil, err
	}
	es, err := r.backend.EndorsementsFor(ctx, agentID)
	if err != nil {
		return nil, err
	}
	return Summarize(es), nil
}

// Summarize groups endorsements by skill.
func Summarize(es []*model.SkillEndorsement) []model.SkillEndorsementSummary {
	bySkill := make(map[string]*model.SkillEndorsementSummary)
	for _, e := range es {
		s, ok := bySkill[e.Skill]
		if !ok {
			s = &model.SkillEndorsementSummary{Skill: e.Skill}
			bySkill[e.Skill] = s
		}
		s.Endorsements = append(s.Endorsements, model.Endorser{EndorsedByID: e.EndorsedByID, Level: e.Level})
	}

	out := make([]model.SkillEndorsementSummary, 0, len(bySkill))
	for _, s := range bySkill {
		sort.Slice(s.Endorsements, func(i, j int) bool {
			return s.Endorsements[i].EndorsedByID < s.Endorsements[j].EndorsedByID
		})
		total := 0
		for _, e := range s.Endorsements {
			total += e.Level
		}
		s.EndorserCount = len(s.Endorsements)
		s.AvgLevel = float64(total) / float64(s.EndorserCount)
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Skill < out[j].Skill })
	return out
}
