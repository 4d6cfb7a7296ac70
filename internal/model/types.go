package model

import (
	"strings"
	"time"
)

// Priority of a work item.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// Valid reports whether p is one of the known priorities.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return true
	}
	return false
}

// WorkItemStatus mirrors the status reported by the work-item store.
type WorkItemStatus string

const (
	WorkItemOpen       WorkItemStatus = "open"
	WorkItemInProgress WorkItemStatus = "in_progress"
	WorkItemDone       WorkItemStatus = "done"
	WorkItemCancelled  WorkItemStatus = "cancelled"
)

// Assignable reports whether work in this status may be bound to an agent.
func (s WorkItemStatus) Assignable() bool {
	return s != WorkItemDone && s != WorkItemCancelled
}

// DifficultyRange is an inclusive 1..10 range.
type DifficultyRange struct {
	Min int `json:"min"`
	Max int `json:"max"`
}

// AgentProfile is the assignment-relevant view of a team member.
type AgentProfile struct {
	ID                   string          `json:"id"`
	OrgID                string          `json:"org_id"`
	Name                 string          `json:"name"`
	Skills               []string        `json:"skills"`
	ExperienceLevel      int             `json:"experience_level"`
	PerformanceScore     float64         `json:"performance_score"`
	TasksCompleted       int             `json:"tasks_completed"`
	AvgCompletionTime    float64         `json:"avg_completion_time"`
	CurrentWorkloadHours float64         `json:"current_workload_hours"`
	MaxWeeklyHours       float64         `json:"max_weekly_hours"`
	IsAvailable          bool            `json:"is_available"`
	PreferredDifficulty  DifficultyRange `json:"preferred_difficulty_range"`
	Version              int64           `json:"version"`
	CreatedAt            time.Time       `json:"created_at"`
	UpdatedAt            time.Time       `json:"updated_at"`
}

// AvailableCapacity returns the hours left before the weekly cap.
func (p *AgentProfile) AvailableCapacity() float64 {
	if c := p.MaxWeeklyHours - p.CurrentWorkloadHours; c > 0 {
		return c
	}
	return 0
}

// IsOverloaded reports whether the agent has reached the weekly cap.
func (p *AgentProfile) IsOverloaded() bool {
	return p.CurrentWorkloadHours >= p.MaxWeeklyHours
}

// Utilization is current workload over weekly capacity. Zero capacity reads as fully utilised.
func (p *AgentProfile) Utilization() float64 {
	if p.MaxWeeklyHours <= 0 {
		return 1
	}
	return p.CurrentWorkloadHours / p.MaxWeeklyHours
}

// HasSkill reports whether the agent lists skill, ignoring case.
func (p *AgentProfile) HasSkill(skill string) bool {
	for _, s := range p.Skills {
		if strings.EqualFold(s, skill) {
			return true
		}
	}
	return false
}

// Clone returns a deep copy safe to mutate.
func (p *AgentProfile) Clone() *AgentProfile {
	if p == nil {
		return nil
	}
	c := *p
	c.Skills = append([]string(nil), p.Skills...)
	return &c
}

// WorkItem is owned by the work-item store and read-only here.
type WorkItem struct {
	ID             string         `json:"id"`
	OrgID          string         `json:"org_id"`
	Title          string         `json:"title"`
	RequiredSkills []string       `json:"required_skills"`
	Difficulty     int            `json:"difficulty"`
	Priority       Priority       `json:"priority"`
	DueAt          *time.Time     `json:"due_at,omitempty"`
	Status         WorkItemStatus `json:"status"`
}

// Overdue reports whether the item is past its due date at now.
func (w *WorkItem) Overdue(now time.Time) bool {
	return w.DueAt != nil && now.After(*w.DueAt)
}

// AssignmentStatus is the ledger state of an assignment.
type AssignmentStatus string

const (
	StatusActive     AssignmentStatus = "active"
	StatusCompleted  AssignmentStatus = "completed"
	StatusReassigned AssignmentStatus = "reassigned"
	StatusCancelled  AssignmentStatus = "cancelled"
)

// Terminal reports whether no further transition is possible.
func (s AssignmentStatus) Terminal() bool {
	return s != StatusActive
}

// Valid reports whether s is a known status.
func (s AssignmentStatus) Valid() bool {
	switch s {
	case StatusActive, StatusCompleted, StatusReassigned, StatusCancelled:
		return true
	}
	return false
}

// Assignment binds one work item to one agent.
type Assignment struct {
	ID                       string           `json:"id"`
	WorkItemID               string           `json:"work_item_id"`
	AgentID                  string           `json:"agent_id"`
	AssignerID               *string          `json:"assigner_id,omitempty"`
	Strategy                 string           `json:"strategy"`
	SkillMatch               float64          `json:"skill_match"`
	WorkloadScore            float64          `json:"workload_score"`
	PerformanceScore         float64          `json:"performance_score"`
	ExperienceScore          float64          `json:"experience_score"`
	DifficultyAdjustment     float64          `json:"difficulty_adjustment"`
	OverallScore             float64          `json:"overall_score"`
	Difficulty               int              `json:"difficulty"`
	WorkloadUtilization      float64          `json:"workload_utilization"`
	EstimatedCompletionHours float64          `json:"estimated_completion_hours"`
	ActualCompletionHours    *float64         `json:"actual_completion_hours,omitempty"`
	Reason                   string           `json:"reason"`
	Status                   AssignmentStatus `json:"status"`
	AssignedAt               time.Time        `json:"assigned_at"`
	CompletedAt              *time.Time       `json:"completed_at,omitempty"`
	ReassignedAt             *time.Time       `json:"reassigned_at,omitempty"`
	ReassignmentReason       string           `json:"reassignment_reason,omitempty"`
	CancelledAt              *time.Time       `json:"cancelled_at,omitempty"`
	CancellationReason       string           `json:"cancellation_reason,omitempty"`
	Version                  int64            `json:"version"`
}

// Clone returns a deep copy safe to mutate.
func (a *Assignment) Clone() *Assignment {
	if a == nil {
		return nil
	}
	c := *a
	if a.AssignerID != nil {
		v := *a.AssignerID
		c.AssignerID = &v
	}
	if a.ActualCompletionHours != nil {
		v := *a.ActualCompletionHours
		c.ActualCompletionHours = &v
	}
	if a.CompletedAt != nil {
		v := *a.CompletedAt
		c.CompletedAt = &v
	}
	if a.ReassignedAt != nil {
		v := *a.ReassignedAt
		c.ReassignedAt = &v
	}
	if a.CancelledAt != nil {
		v := *a.CancelledAt
		c.CancelledAt = &v
	}
	return &c
}

// Feedback rates how well an assignment fit. Ratings are 1..5.
type Feedback struct {
	ID               string    `json:"id"`
	AssignmentID     string    `json:"assignment_id"`
	DifficultyRating int       `json:"difficulty_rating"`
	SkillMatchRating int       `json:"skill_match_rating"`
	WorkloadRating   int       `json:"workload_rating"`
	Comments         string    `json:"comments,omitempty"`
	Suggestions      string    `json:"suggestions,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

// SkillEndorsement is one peer's confidence in another agent's skill.
type SkillEndorsement struct {
	AgentID      string    `json:"agent_id"`
	EndorsedByID string    `json:"endorsed_by_id"`
	Skill        string    `json:"skill"`
	Level        int       `json:"level"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Endorser is one entry of an endorsement summary.
type Endorser struct {
	EndorsedByID string `json:"endorsed_by_id"`
	Level        int    `json:"level"`
}

// SkillEndorsementSummary aggregates endorsements for one skill.
type SkillEndorsementSummary struct {
	Skill         string     `json:"skill"`
	AvgLevel      float64    `json:"avg_level"`
	EndorserCount int        `json:"endorser_count"`
	Endorsements  []Endorser `json:"endorsements"`
}

// AgentStatistics is derived from an agent's assignments and feedback.
type AgentStatistics struct {
	AgentID                string  `json:"agent_id"`
	TotalAssignments       int     `json:"total_assignments"`
	CompletedAssignments   int     `json:"completed_assignments"`
	CancelledAssignments   int     `json:"cancelled_assignments"`
	ReassignedAssignments  int     `json:"reassigned_assignments"`
	ActiveAssignments      int     `json:"active_assignments"`
	AvgEstimationAccuracy  float64 `json:"avg_estimation_accuracy"`
	AvgSkillMatchScore     float64 `json:"avg_skill_match_score"`
	AvgDifficultyAssigned  float64 `json:"avg_difficulty_assigned"`
	AvgCompletionTime      float64 `json:"avg_completion_time"`
	AvgWorkloadUtilization float64 `json:"avg_workload_utilization"`
	AvgDifficultyRating    float64 `json:"avg_difficulty_rating"`
	AvgSkillMatchRating    float64 `json:"avg_skill_match_rating"`
	AvgWorkloadRating      float64 `json:"avg_workload_rating"`
	FeedbackCount          int     `json:"feedback_count"`
}

// TeamMember is one row of team statistics.
type TeamMember struct {
	AgentID          string           `json:"agent_id"`
	Name             string           `json:"name"`
	Utilization      float64          `json:"utilization"`
	PerformanceScore float64          `json:"performance_score"`
	Statistics       *AgentStatistics `json:"statistics"`
}

// TeamStatistics aggregates agent statistics across an organisation.
type TeamStatistics struct {
	OrgID                   string         `json:"org_id"`
	TeamSize                int            `json:"team_size"`
	AvgUtilization          float64        `json:"avg_utilization"`
	AvgPerformanceScore     float64        `json:"avg_performance_score"`
	UtilizationDistribution map[string]int `json:"utilization_distribution"`
	Overloaded              []string       `json:"overloaded"`
	Underloaded             []string       `json:"underloaded"`
	Members                 []TeamMember   `json:"members"`
}

// Clock supplies the current time; tests substitute a fixed one.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock in UTC.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }
