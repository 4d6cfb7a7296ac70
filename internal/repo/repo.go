// Package repo defines the persistence contracts shared by the engine
// components and a versioned, all-or-nothing batch commit.
package repo

import (
	"context"
	"errors"

	"github.com/nidhogg/skillmatch/internal/model"
)

// ErrConflict reports that a record changed since it was read.
var ErrConflict = errors.New("optimistic version conflict")

const (
	DefaultPerPage = 20
	MaxPerPage     = 100
)

// AssignmentFilter narrows ListAssignments. Zero fields match everything.
type AssignmentFilter struct {
	AgentID    string
	WorkItemID string
	Status     model.AssignmentStatus
	Page       int
	PerPage    int
}

// Normalize applies pagination defaults and bounds.
func (f *AssignmentFilter) Normalize() {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PerPage < 1 {
		f.PerPage = DefaultPerPage
	}
	if f.PerPage > MaxPerPage {
		f.PerPage = MaxPerPage
	}
}

// Offset is the number of rows skipped for the current page.
func (f AssignmentFilter) Offset() int {
	return (f.Page - 1) * f.PerPage
}

// ProfileStore reads agent profiles. Missing profiles yield apperr.ErrNotFound.
type ProfileStore interface {
	GetProfile(ctx context.Context, id string) (*model.AgentProfile, error)
	// ListProfiles returns profiles ordered by id; an empty orgID lists all.
	ListProfiles(ctx context.Context, orgID string) ([]*model.AgentProfile, error)
}

// AssignmentStore reads assignments.
type AssignmentStore interface {
	GetAssignment(ctx context.Context, id string) (*model.Assignment, error)
	// ActiveAssignment returns the active assignment for a work item, or nil.
	ActiveAssignment(ctx context.Context, workItemID string) (*model.Assignment, error)
	// ListAssignments returns one page, newest first, and the total match count.
	ListAssignments(ctx context.Context, f AssignmentFilter) ([]*model.Assignment, int, error)
	AssignmentsByAgent(ctx context.Context, agentID string) ([]*model.Assignment, error)
}

// FeedbackStore appends and reads assignment feedback.
type FeedbackStore interface {
	AddFeedback(ctx context.Context, fb *model.Feedback) error
	FeedbackByAgent(ctx context.Context, agentID string) ([]*model.Feedback, error)
}

// StatisticsStore persists derived per-agent statistics.
type StatisticsStore interface {
	SaveStatistics(ctx context.Context, st *model.AgentStatistics) error
	GetStatistics(ctx context.Context, agentID string) (*model.AgentStatistics, error)
}

// EndorsementStore upserts endorsements keyed by (agent, endorser, skill).
type EndorsementStore interface {
	UpsertEndorsement(ctx context.Context, e *model.SkillEndorsement) error
	EndorsementsFor(ctx context.Context, agentID string) ([]*model.SkillEndorsement, error)
}

// Committer applies a Batch atomically.
type Committer interface {
	// Commit writes every record in b or none of them. It returns ErrConflict
	// when a record's Version no longer matches the stored one, or when the
	// batch would leave two active assignments on one work item. On success
	// each record's Version is advanced to the stored value.
	Commit(ctx context.Context, b *Batch) error
}

// Store is the full persistence surface.
type Store interface {
	ProfileStore
	AssignmentStore
	FeedbackStore
	StatisticsStore
	EndorsementStore
	Committer
}

// ProfileWrite stages one profile. Profile.Version is the version read.
type ProfileWrite struct {
	Profile *model.AgentProfile
	Insert  bool
}

// AssignmentWrite stages one assignment. Assignment.Version is the version read.
type AssignmentWrite struct {
	Assignment *model.Assignment
	Insert     bool
}

// Batch groups versioned writes that commit as one unit.
type Batch struct {
	Profiles    []ProfileWrite
	Assignments []AssignmentWrite
}

// PutProfile stages an update of p.
func (b *Batch) PutProfile(p *model.AgentProfile) {
	b.Profiles = append(b.Profiles, ProfileWrite{Profile: p})
}

// InsertProfile stages creation of p.
func (b *Batch) InsertProfile(p *model.AgentProfile) {
	b.Profiles = append(b.Profiles, ProfileWrite{Profile: p, Insert: true})
}

// PutAssignment stages an update of a.
func (b *Batch) PutAssignment(a *model.Assignment) {
	b.Assignments = append(b.Assignments, AssignmentWrite{Assignment: a})
}

// InsertAssignment stages creation of a.
func (b *Batch) InsertAssignment(a *model.Assignment) {
	b.Assignments = append(b.Assignments, AssignmentWrite{Assignment: a, Insert: true})
}

// Empty reports whether nothing is staged.
func (b *Batch) Empty() bool {
	return len(b.Profiles) == 0 && len(b.Assignments) == 0
}
