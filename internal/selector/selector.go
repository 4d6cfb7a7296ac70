// Package selector filters agents through the eligibility gate and orders the
// survivors by strategy.
package selector

import (
	"cmp"
	"slices"
	"strings"
	"time"

	"github.com/nidhogg/skillmatch/internal/apperr"
	"github.com/nidhogg/skillmatch/internal/model"
	"github.com/nidhogg/skillmatch/internal/scoring"
)

// Strategy is the ranking policy.
type Strategy string

const (
	SkillMatch      Strategy = "skill_match"
	WorkloadBalance Strategy = "workload_balance"
	Performance     Strategy = "performance"
	Hybrid          Strategy = "hybrid"
)

// ParseStrategy accepts any case; empty yields Hybrid.
func ParseStrategy(s string) (Strategy, error) {
	if s == "" {
		return Hybrid, nil
	}
	st := Strategy(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := orderings[st]; !ok {
		return "", apperr.Validation("unknown strategy %q", s)
	}
	return st, nil
}

// Candidate is one eligible agent with its scores.
type Candidate struct {
	Agent          *model.AgentProfile `json:"agent"`
	Scores         scoring.Scores      `json:"scores"`
	Explanation    string              `json:"explanation"`
	EstimatedHours float64             `json:"estimated_completion_hours"`
}

// ordering returns <0 when a ranks before b.
type ordering func(a, b *Candidate) int

func desc(x, y float64) int { return cmp.Compare(y, x) }

var orderings = map[Strategy]ordering{
	SkillMatch: func(a, b *Candidate) int {
		return cmp.Or(
			desc(a.Scores.SkillMatch, b.Scores.SkillMatch),
			desc(a.Scores.WorkloadScore, b.Scores.WorkloadScore),
			desc(a.Scores.PerformanceScore, b.Scores.PerformanceScore),
		)
	},
	WorkloadBalance: func(a, b *Candidate) int {
		return cmp.Or(
			desc(a.Scores.WorkloadScore, b.Scores.WorkloadScore),
			desc(a.Scores.SkillMatch, b.Scores.SkillMatch),
		)
	},
	Performance: func(a, b *Candidate) int {
		return cmp.Or(
			desc(a.Scores.PerformanceScore, b.Scores.PerformanceScore),
			desc(a.Scores.SkillMatch, b.Scores.SkillMatch),
		)
	},
	Hybrid: func(a, b *Candidate) int {
		return desc(a.Scores.OverallScore, b.Scores.OverallScore)
	},
}

// Compare orders two candidates under s, breaking ties by agent id.
func Compare(s Strategy, a, b *Candidate) int {
	order, ok := orderings[s]
	if !ok {
		order = orderings[Hybrid]
	}
	return cmp.Or(order(a, b), cmp.Compare(a.Agent.ID, b.Agent.ID))
}

// Selector ranks agents for work items.
type Selector struct {
	engine *scoring.Engine
}

// New creates a selector backed by engine.
func New(engine *scoring.Engine) *Selector {
	return &Selector{engine: engine}
}

// Engine exposes the scoring engine.
func (s *Selector) Engine() *scoring.Engine { return s.engine }

// Rank scores every agent not in exclude, drops those failing the gate and
// returns the survivors ordered by strategy. topN <= 0 returns all.
func (s *Selector) Rank(agents []*model.AgentProfile, item *model.WorkItem, strategy Strategy, now time.Time, topN int, exclude ...string) []*Candidate {
	cands := make([]*Candidate, 0, len(agents))
	for _, a := range agents {
		if slices.Contains(exclude, a.ID) {
			continue
		}
		sc := s.engine.Score(a, item, now)
		if !s.engine.Eligible(a, sc) {
			continue
		}
		cands = append(cands, &Candidate{
			Agent:          a,
			Scores:         sc,
			Explanation:    s.engine.Explain(sc),
			EstimatedHours: s.engine.EstimateHours(a, item),
		})
	}
	slices.SortFunc(cands, func(a, b *Candidate) int { return Compare(strategy, a, b) })
	if topN > 0 && len(cands) > topN {
		cands = cands[:topN]
	}
	return cands
}

// Best returns the top candidate or an apperr.ErrNoEligibleAgent error.
func (s *Selector) Best(agents []*model.AgentProfile, item *model.WorkItem, strategy Strategy, now time.Time, exclude ...string) (*Candidate, error) {
	cands := s.Rank(agents, item, strategy, now, 1, exclude...)
	if len(cands) == 0 {
		return nil, apperr.NoEligibleAgent("no eligible agent for work item %s", item.ID)
	}
	return cands[0], nil
}

func (s Strategy) String() string { return string(s) }

// Strategies lists every known strategy in a stable order.
func Strategies() []Strategy {
	return []Strategy{SkillMatch, WorkloadBalance, Performance, Hybrid}
}
