// Package scoring computes agent/work-item compatibility. Every function is
// pure and safe to call concurrently.
package scoring

import (
	"math"
	"strings"
	"time"

	"github.com/nidhogg/skillmatch/internal/model"
)

// Weights combine the four component scores into the hybrid base.
type Weights struct {
	SkillMatch  float64 `json:"skill_match"`
	Workload    float64 `json:"workload"`
	Performance float64 `json:"performance"`
	Experience  float64 `json:"experience"`
}

// PriorityMultipliers scale the final score by work-item priority.
type PriorityMultipliers struct {
	Low     float64 `json:"low"`
	Medium  float64 `json:"medium"`
	High    float64 `json:"high"`
	Overdue float64 `json:"overdue"`
}

// Thresholds decide which phrases appear in an explanation.
type Thresholds struct {
	SkillMatch           float64 `json:"skill_match"`
	Workload             float64 `json:"workload"`
	Performance          float64 `json:"performance"`
	DifficultyAdjustment float64 `json:"difficulty_adjustment"`
}

// Config holds every scoring constant.
type Config struct {
	Weights             Weights             `json:"weights"`
	MinSkillMatch       float64             `json:"min_skill_match"`
	DifficultyBase      float64             `json:"difficulty_base"`
	DifficultySlope     float64             `json:"difficulty_slope"`
	DifficultyMin       float64             `json:"difficulty_min"`
	DifficultyMax       float64             `json:"difficulty_max"`
	Priority            PriorityMultipliers `json:"priority"`
	BaselineHours       float64             `json:"baseline_hours"`
	DifficultyNormalize float64             `json:"difficulty_normalize"`
	Explain             Thresholds          `json:"explain"`
}

// DefaultConfig returns the standard tuning.
func DefaultConfig() Config {
	return Config{
		Weights:             Weights{SkillMatch: 0.40, Workload: 0.30, Performance: 0.20, Experience: 0.10},
		MinSkillMatch:       0.5,
		DifficultyBase:      0.5,
		DifficultySlope:     1.0,
		DifficultyMin:       0.5,
		DifficultyMax:       1.5,
		Priority:            PriorityMultipliers{Low: 0.8, Medium: 1.0, High: 1.3, Overdue: 1.15},
		BaselineHours:       4,
		DifficultyNormalize: 5,
		Explain:             Thresholds{SkillMatch: 0.8, Workload: 0.7, Performance: 0.8, DifficultyAdjustment: 1.2},
	}
}

// Scores are the per-pair component scores.
type Scores struct {
	SkillMatch           float64 `json:"skill_match"`
	WorkloadScore        float64 `json:"workload_score"`
	PerformanceScore     float64 `json:"performance_score"`
	ExperienceScore      float64 `json:"experience_score"`
	DifficultyAdjustment float64 `json:"difficulty_adjustment"`
	PriorityMultiplier   float64 `json:"priority_multiplier"`
	OverallScore         float64 `json:"overall_score"`
}

// Engine scores pairs against a fixed Config.
type Engine struct {
	cfg Config
}

// NewEngine creates an engine for cfg.
func NewEngine(cfg Config) *Engine {
	return &Engine{cfg: cfg}
}

// Config returns the engine constants.
func (e *Engine) Config() Config { return e.cfg }

// Score computes all component scores for one pair at instant now.
func (e *Engine) Score(agent *model.AgentProfile, item *model.WorkItem, now time.Time) Scores {
	s := Scores{
		SkillMatch:       SkillMatch(agent.Skills, item.RequiredSkills),
		WorkloadScore:    WorkloadScore(agent.CurrentWorkloadHours, agent.MaxWeeklyHours),
		PerformanceScore: PerformanceScore(agent.PerformanceScore),
		ExperienceScore:  ExperienceScore(agent.ExperienceLevel),
	}
	s.DifficultyAdjustment = e.DifficultyAdjustment(item.Difficulty, agent.ExperienceLevel)
	s.PriorityMultiplier = e.PriorityMultiplier(item.Priority, item.Overdue(now))

	w := e.cfg.Weights
	base := w.SkillMatch*s.SkillMatch +
		w.Workload*s.WorkloadScore +
		w.Performance*s.PerformanceScore +
		w.Experience*s.ExperienceScore
	s.OverallScore = clamp(base*s.DifficultyAdjustment*s.PriorityMultiplier*100, 0, 100)
	return s
}

// Eligible applies the availability and minimum skill-match gate.
func (e *Engine) Eligible(agent *model.AgentProfile, s Scores) bool {
	return agent.IsAvailable && s.SkillMatch >= e.cfg.MinSkillMatch
}

// SkillMatch is the fraction of required skills the agent has, ignoring case.
// No required skills means a full match.
func SkillMatch(agentSkills, required []string) float64 {
	req := lowerSet(required)
	if len(req) == 0 {
		return 1.0
	}
	have := lowerSet(agentSkills)
	matched := 0
	for s := range req {
		if _, ok := have[s]; ok {
			matched++
		}
	}
	return float64(matched) / float64(len(req))
}

// WorkloadScore is remaining capacity in [0,1]. Zero capacity scores 0.
func WorkloadScore(current, capacity float64) float64 {
	if capacity <= 0 {
		return 0
	}
	return clamp(1-current/capacity, 0, 1)
}

// PerformanceScore normalises a 0..100 rating.
func PerformanceScore(raw float64) float64 {
	return clamp(raw/100, 0, 1)
}

// ExperienceScore normalises a 1..10 level.
func ExperienceScore(level int) float64 {
	return clamp(float64(level)/10, 0, 1)
}

// DifficultyAdjustment rewards difficulty close to experience, symmetrically.
func (e *Engine) DifficultyAdjustment(difficulty, experience int) float64 {
	fit := 1 - math.Abs(float64(difficulty-experience))/10
	return clamp(e.cfg.DifficultyBase+e.cfg.DifficultySlope*fit, e.cfg.DifficultyMin, e.cfg.DifficultyMax)
}

// PriorityMultiplier scales by priority and, when overdue, the overdue factor.
func (e *Engine) PriorityMultiplier(p model.Priority, overdue bool) float64 {
	m := e.cfg.Priority.Medium
	switch p {
	case model.PriorityLow:
		m = e.cfg.Priority.Low
	case model.PriorityHigh:
		m = e.cfg.Priority.High
	}
	if overdue {
		m *= e.cfg.Priority.Overdue
	}
	return m
}

// EstimateHours projects completion time from the agent's history, falling
// back to the baseline when there is none yet.
func (e *Engine) EstimateHours(agent *model.AgentProfile, item *model.WorkItem) float64 {
	base := agent.AvgCompletionTime
	if base <= 0 {
		base = e.cfg.BaselineHours
	}
	return base * float64(item.Difficulty) / e.cfg.DifficultyNormalize
}

// Explain joins the phrases whose thresholds the scores clear.
func (e *Engine) Explain(s Scores) string {
	t := e.cfg.Explain
	var parts []string
	if s.SkillMatch > t.SkillMatch {
		parts = append(parts, "Excellent skill match")
	}
	if s.WorkloadScore > t.Workload {
		parts = append(parts, "Low workload")
	}
	if s.PerformanceScore > t.Performance {
		parts = append(parts, "High performer")
	}
	if s.DifficultyAdjustment > t.DifficultyAdjustment {
		parts = append(parts, "Good difficulty match")
	}
	return strings.Join(parts, " | ")
}

// EstimationAccuracy is 1 - |estimated-actual|/estimated, clamped to [0,1].
func EstimationAccuracy(estimated, actual float64) float64 {
	if estimated <= 0 {
		return 0
	}
	return clamp(1-math.Abs(estimated-actual)/estimated, 0, 1)
}

func lowerSet(in []string) map[string]struct{} {
	out := make(map[string]struct{}, len(in))
	for _, s := range in {
		s = strings.ToLower(strings.TrimSpace(s))
		if s != "" {
			out[s] = struct{}{}
		}
	}
	return out
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
