// Package stats turns assignments and feedback into per-agent and team
// statistics and feeds completion outcomes back into performance scores.
package stats

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nidhogg/skillmatch/internal/apperr"
	"github.com/nidhogg/skillmatch/internal/metrics"
	"github.com/nidhogg/skillmatch/internal/model"
	"github.com/nidhogg/skillmatch/internal/repo"
	"github.com/nidhogg/skillmatch/internal/scoring"
	"github.com/nidhogg/skillmatch/internal/workitem"
)

// Config holds the performance feedback weights and team thresholds.
type Config struct {
	PerformanceDecay     float64 `json:"performance_decay"`
	AccuracyWeight       float64 `json:"accuracy_weight"`
	OnTimeWeight         float64 `json:"on_time_weight"`
	SkillMatchWeight     float64 `json:"skill_match_weight"`
	LateFactor           float64 `json:"late_factor"`
	OverloadedThreshold  float64 `json:"overloaded_threshold"`
	UnderloadedThreshold float64 `json:"underloaded_threshold"`
}

// DefaultConfig returns the reference weights.
func DefaultConfig() Config {
	return Config{
		PerformanceDecay:     0.6,
		AccuracyWeight:       20,
		OnTimeWeight:         10,
		SkillMatchWeight:     10,
		LateFactor:           0.5,
		OverloadedThreshold:  1.0,
		UnderloadedThreshold: 0.3,
	}
}

// FeedbackInput is one rating of an assignment.
type FeedbackInput struct {
	AssignmentID     string `json:"assignment_id"`
	DifficultyRating int    `json:"difficulty_rating"`
	SkillMatchRating int    `json:"skill_match_rating"`
	WorkloadRating   int    `json:"workload_rating"`
	Comments         string `json:"comments"`
	Suggestions      string `json:"suggestions"`
}

func (in FeedbackInput) validate() error {
	ratings := []struct {
		name  string
		value int
	}{
		{"difficulty_rating", in.DifficultyRating},
		{"skill_match_rating", in.SkillMatchRating},
		{"workload_rating", in.WorkloadRating},
	}
	for _, r := range ratings {
		if r.value < 1 || r.value > 5 {
			return apperr.Validation("%s must be between 1 and 5, got %d", r.name, r.value)
		}
	}
	return nil
}

// Aggregator maintains statistics.
type Aggregator struct {
	store   repo.Store
	items   workitem.Source
	retry   repo.RetryPolicy
	cfg     Config
	clock   model.Clock
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewAggregator creates an aggregator.
func NewAggregator(store repo.Store, items workitem.Source, retry repo.RetryPolicy, cfg Config, logger *zap.Logger) *Aggregator {
	return &Aggregator{store: store, items: items, retry: retry, cfg: cfg, clock: model.SystemClock{}, logger: logger}
}

func (g *Aggregator) SetMetrics(m *metrics.Metrics) { g.metrics = m }
func (g *Aggregator) SetClock(c model.Clock)        { g.clock = c }

// SubmitFeedback stores a rating for an assignment in any status and
// refreshes the assignee's statistics.
func (g *Aggregator) SubmitFeedback(ctx context.Context, in FeedbackInput) (*model.Feedback, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	a, err := g.store.GetAssignment(ctx, in.AssignmentID)
	if err != nil {
		return nil, err
	}
	fb := &model.Feedback{
		ID:               uuid.NewString(),
		AssignmentID:     a.ID,
		DifficultyRating: in.DifficultyRating,
		SkillMatchRating: in.SkillMatchRating,
		WorkloadRating:   in.WorkloadRating,
		Comments:         in.Comments,
		Suggestions:      in.Suggestions,
		CreatedAt:        g.clock.Now(),
	}
	if err := g.store.AddFeedback(ctx, fb); err != nil {
		return nil, err
	}
	g.metrics.Feedback()
	if _, err := g.Recompute(ctx, a.AgentID); err != nil {
		g.logger.Warn("statistics refresh after feedback failed", zap.String("agent", a.AgentID), zap.Error(err))
	}
	return fb, nil
}

// Recompute derives an agent's statistics from stored records and saves them.
func (g *Aggregator) Recompute(ctx context.Context, agentID string) (*model.AgentStatistics, error) {
	if _, err := g.store.GetProfile(ctx, agentID); err != nil {
		return nil, err
	}
	as, err := g.store.AssignmentsByAgent(ctx, agentID)
	if err != nil {
		return nil, err
	}
	fbs, err := g.store.FeedbackByAgent(ctx, agentID)
	if err != nil {
		return nil, err
	}
	st := Compute(agentID, as, fbs)
	if err := g.store.SaveStatistics(ctx, st); err != nil {
		return nil, err
	}
	g.metrics.Recompute()
	return st, nil
}

// Get returns current statistics. They are derived from stored records on
// every call, so transitions made outside this process are never missed.
func (g *Aggregator) Get(ctx context.Context, agentID string) (*model.AgentStatistics, error) {
	return g.Recompute(ctx, agentID)
}

// RecomputeTeam refreshes the saved statistics of every agent in an
// organisation, in agent id order.
func (g *Aggregator) RecomputeTeam(ctx context.Context, orgID string) ([]*model.AgentStatistics, error) {
	profiles, err := g.store.ListProfiles(ctx, orgID)
	if err != nil {
		return nil, err
	}
	out := make([]*model.AgentStatistics, 0, len(profiles))
	for _, p := range profiles {
		st, err := g.Recompute(ctx, p.ID)
		if err != nil {
			return nil, fmt.Errorf("recompute statistics %s: %w", p.ID, err)
		}
		out = append(out, st)
	}
	g.logger.Info("team statistics recomputed", zap.String("org", orgID), zap.Int("agents", len(out)))
	return out, nil
}

// ObserveTransition refreshes the statistics of agents whose assignments
// were cancelled or reassigned.
func (g *Aggregator) ObserveTransition(ctx context.Context, agentIDs ...string) error {
	for _, id := range agentIDs {
		if _, err := g.Recompute(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// ObserveCompletion moves the agent's performance score toward the outcome
// of a completed assignment, then refreshes the agent's statistics.
func (g *Aggregator) ObserveCompletion(ctx context.Context, a *model.Assignment) error {
	if a.Status != model.StatusCompleted || a.ActualCompletionHours == nil {
		return apperr.InvalidState("assignment %s is not completed", a.ID)
	}
	onTime := 1.0
	item, err := g.items.Get(ctx, a.WorkItemID)
	switch {
	case err == nil:
		if item.DueAt != nil && a.CompletedAt != nil && a.CompletedAt.After(*item.DueAt) {
			onTime = g.cfg.LateFactor
		}
	case errors.Is(err, apperr.ErrNotFound):
		// item gone from the work-item store; treat as undated
	default:
		return err
	}
	accuracy := scoring.EstimationAccuracy(a.EstimatedCompletionHours, *a.ActualCompletionHours)

	var updated float64
	err = repo.WithRetry(ctx, g.retry, func(ctx context.Context) error {
		p, err := g.store.GetProfile(ctx, a.AgentID)
		if err != nil {
			return err
		}
		p.PerformanceScore = g.nextPerformance(p.PerformanceScore, accuracy, onTime, a.SkillMatch)
		p.UpdatedAt = g.clock.Now()
		b := &repo.Batch{}
		b.PutProfile(p)
		if err := g.store.Commit(ctx, b); err != nil {
			return err
		}
		updated = p.PerformanceScore
		return nil
	})
	if err != nil {
		return err
	}
	g.logger.Info("performance score updated",
		zap.String("agent", a.AgentID),
		zap.Float64("accuracy", accuracy),
		zap.Float64("on_time", onTime),
		zap.Float64("performance", updated))

	_, err = g.Recompute(ctx, a.AgentID)
	return err
}

func (g *Aggregator) nextPerformance(old, accuracy, onTime, skillMatch float64) float64 {
	v := g.cfg.PerformanceDecay*old +
		g.cfg.AccuracyWeight*accuracy +
		g.cfg.OnTimeWeight*onTime +
		g.cfg.SkillMatchWeight*skillMatch
	return min(max(v, 0), 100)
}

// Compute is a pure function of the given records. Inputs are ordered by id
// before summation so equal inputs give bit-identical output.
func Compute(agentID string, as []*model.Assignment, fbs []*model.Feedback) *model.AgentStatistics {
	as = append([]*model.Assignment(nil), as...)
	sort.Slice(as, func(i, j int) bool { return as[i].ID < as[j].ID })
	fbs = append([]*model.Feedback(nil), fbs...)
	sort.Slice(fbs, func(i, j int) bool { return fbs[i].ID < fbs[j].ID })

	st := &model.AgentStatistics{AgentID: agentID, TotalAssignments: len(as)}
	var skill, diff, util, acc, hours mean
	for _, a := range as {
		switch a.Status {
		case model.StatusActive:
			st.ActiveAssignments++
		case model.StatusCompleted:
			st.CompletedAssignments++
			if a.ActualCompletionHours != nil {
				hours.add(*a.ActualCompletionHours)
				if a.EstimatedCompletionHours > 0 {
					acc.add(scoring.EstimationAccuracy(a.EstimatedCompletionHours, *a.ActualCompletionHours))
				}
			}
		case model.StatusCancelled:
			st.CancelledAssignments++
		case model.StatusReassigned:
			st.ReassignedAssignments++
		}
		skill.add(a.SkillMatch)
		diff.add(float64(a.Difficulty))
		util.add(a.WorkloadUtilization)
	}
	st.AvgSkillMatchScore = skill.value()
	st.AvgDifficultyAssigned = diff.value()
	st.AvgWorkloadUtilization = util.value()
	st.AvgEstimationAccuracy = acc.value()
	st.AvgCompletionTime = hours.value()

	var dr, sr, wr mean
	for _, fb := range fbs {
		dr.add(float64(fb.DifficultyRating))
		sr.add(float64(fb.SkillMatchRating))
		wr.add(float64(fb.WorkloadRating))
	}
	st.FeedbackCount = len(fbs)
	st.AvgDifficultyRating = dr.value()
	st.AvgSkillMatchRating = sr.value()
	st.AvgWorkloadRating = wr.value()
	return st
}

type mean struct {
	sum float64
	n   int
}

func (m *mean) add(v float64) {
	m.sum += v
	m.n++
}

func (m *mean) value() float64 {
	if m.n == 0 {
		return 0
	}
	return m.sum / float64(m.n)
}
