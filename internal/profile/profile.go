// Package profile manages agent profiles: registration, field updates and
// the skill set.
package profile

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nidhogg/skillmatch/internal/apperr"
	"github.com/nidhogg/skillmatch/internal/model"
	"github.com/nidhogg/skillmatch/internal/repo"
)

// Registration defaults.
const (
	DefaultExperience     = 1
	DefaultPerformance    = 50.0
	DefaultMaxWeeklyHours = 40.0
)

// RegisterInput describes a new agent. Nil pointers take defaults.
type RegisterInput struct {
	ID                  string                 `json:"id"`
	OrgID               string                 `json:"org_id"`
	Name                string                 `json:"name"`
	Skills              []string               `json:"skills"`
	ExperienceLevel     *int                   `json:"experience_level"`
	PerformanceScore    *float64               `json:"performance_score"`
	MaxWeeklyHours      *float64               `json:"max_weekly_hours"`
	IsAvailable         *bool                  `json:"is_available"`
	PreferredDifficulty *model.DifficultyRange `json:"preferred_difficulty_range"`
}

// Update carries the fields to change. Nil fields are left alone.
type Update struct {
	Name                *string                `json:"name"`
	Skills              []string               `json:"skills"`
	ExperienceLevel     *int                   `json:"experience_level"`
	PerformanceScore    *float64               `json:"performance_score"`
	MaxWeeklyHours      *float64               `json:"max_weekly_hours"`
	IsAvailable         *bool                  `json:"is_available"`
	PreferredDifficulty *model.DifficultyRange `json:"preferred_difficulty_range"`
}

// View is a profile plus derived capacity fields.
type View struct {
	*model.AgentProfile
	AvailableCapacity float64 `json:"available_capacity"`
	IsOverloaded      bool    `json:"is_overloaded"`
}

// NewView wraps p with its derived fields.
func NewView(p *model.AgentProfile) *View {
	return &View{AgentProfile: p, AvailableCapacity: p.AvailableCapacity(), IsOverloaded: p.IsOverloaded()}
}

// Service is the agent profile store front.
type Service struct {
	store  repo.Store
	retry  repo.RetryPolicy
	clock  model.Clock
	logger *zap.Logger
}

// NewService creates a profile service.
func NewService(store repo.Store, retry repo.RetryPolicy, logger *zap.Logger) *Service {
	return &Service{store: store, retry: retry, clock: model.SystemClock{}, logger: logger}
}

// SetClock replaces the time source.
func (s *Service) SetClock(c model.Clock) { s.clock = c }

// Register creates a profile with defaults for omitted fields.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*model.AgentProfile, error) {
	now := s.clock.Now()
	p := &model.AgentProfile{
		ID:                  strings.TrimSpace(in.ID),
		OrgID:               in.OrgID,
		Name:                in.Name,
		Skills:              NormalizeSkills(in.Skills),
		ExperienceLevel:     DefaultExperience,
		PerformanceScore:    DefaultPerformance,
		MaxWeeklyHours:      DefaultMaxWeeklyHours,
		IsAvailable:         true,
		PreferredDifficulty: model.DifficultyRange{Min: 1, Max: 10},
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	err := apply(p, Update{
		ExperienceLevel:     in.ExperienceLevel,
		PerformanceScore:    in.PerformanceScore,
		MaxWeeklyHours:      in.MaxWeeklyHours,
		IsAvailable:         in.IsAvailable,
		PreferredDifficulty: in.PreferredDifficulty,
	})
	if err != nil {
		return nil, err
	}

	err = repo.WithRetry(ctx, s.retry, func(ctx context.Context) error {
		if _, err := s.store.GetProfile(ctx, p.ID); err == nil {
			return apperr.Validation("agent %s already registered", p.ID)
		} else if !errors.Is(err, apperr.ErrNotFound) {
			return err
		}
		b := &repo.Batch{}
		b.InsertProfile(p)
		return s.store.Commit(ctx, b)
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("agent registered", zap.String("agent", p.ID), zap.String("org", p.OrgID))
	return p.Clone(), nil
}

// Get returns one profile.
func (s *Service) Get(ctx context.Context, id string) (*model.AgentProfile, error) {
	return s.store.GetProfile(ctx, id)
}

// List returns the profiles of an organisation, or all when orgID is empty.
func (s *Service) List(ctx context.Context, orgID string) ([]*model.AgentProfile, error) {
	return s.store.ListProfiles(ctx, orgID)
}

// Update applies u with validation and clamping.
func (s *Service) Update(ctx context.Context, id string, u Update) (*model.AgentProfile, error) {
	return s.mutate(ctx, id, func(p *model.AgentProfile) error {
		if u.Name != nil {
			p.Name = *u.Name
		}
		if u.Skills != nil {
			p.Skills = NormalizeSkills(u.Skills)
		}
		return apply(p, u)
	})
}

// AddSkill adds skill unless the agent already has it under any casing.
func (s *Service) AddSkill(ctx context.Context, id, skill string) (*model.AgentProfile, error) {
	skill = strings.TrimSpace(skill)
	if skill == "" {
		return nil, apperr.Validation("skill name is required")
	}
	return s.mutate(ctx, id, func(p *model.AgentProfile) error {
		p.Skills = NormalizeSkills(append(p.Skills, skill))
		return nil
	})
}

// RemoveSkill drops skill, ignoring case.
func (s *Service) RemoveSkill(ctx context.Context, id, skill string) (*model.AgentProfile, error) {
	return s.mutate(ctx, id, func(p *model.AgentProfile) error {
		kept := p.Skills[:0]
		for _, have := range p.Skills {
			if !strings.EqualFold(have, strings.TrimSpace(skill)) {
				kept = append(kept, have)
			}
		}
		p.Skills = kept
		return nil
	})
}

func (s *Service) mutate(ctx context.Context, id string, fn func(*model.AgentProfile) error) (*model.AgentProfile, error) {
	var out *model.AgentProfile
	err := repo.WithRetry(ctx, s.retry, func(ctx context.Context) error {
		p, err := s.store.GetProfile(ctx, id)
		if err != nil {
			return err
		}
		if err := fn(p); err != nil {
			return err
		}
		p.UpdatedAt = s.clock.Now()
		b := &repo.Batch{}
		b.PutProfile(p)
		if err := s.store.Commit(ctx, b); err != nil {
			return err
		}
		out = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Debug("agent profile updated", zap.String("agent", id), zap.Int64("version", out.Version))
	return out, nil
}

func apply(p *model.AgentProfile, u Update) error {
	if u.ExperienceLevel != nil {
		p.ExperienceLevel = min(max(*u.ExperienceLevel, 1), 10)
	}
	if u.PerformanceScore != nil {
		v := *u.PerformanceScore
		if v < 0 || v > 100 {
			return apperr.Validation("performance_score must be between 0 and 100, got %g", v)
		}
		p.PerformanceScore = v
	}
	if u.MaxWeeklyHours != nil {
		if *u.MaxWeeklyHours <= 0 {
			return apperr.Validation("max_weekly_hours must be positive, got %g", *u.MaxWeeklyHours)
		}
		p.MaxWeeklyHours = *u.MaxWeeklyHours
	}
	if u.IsAvailable != nil {
		p.IsAvailable = *u.IsAvailable
	}
	if r := u.PreferredDifficulty; r != nil {
		if r.Min < 1 || r.Max > 10 || r.Min > r.Max {
			return apperr.Validation("preferred_difficulty_range must satisfy 1 <= min <= max <= 10")
		}
		p.PreferredDifficulty = *r
	}
	return nil
}

// NormalizeSkills trims names and drops case-insensitive duplicates,
// keeping the first spelling.
func NormalizeSkills(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		k := strings.ToLower(s)
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, s)
	}
	return out
}
