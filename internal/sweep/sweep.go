// Package sweep assigns every open, unassigned work item in one pass.
package sweep

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/nidhogg/skillmatch/internal/apperr"
	"github.com/nidhogg/skillmatch/internal/ledger"
	"github.com/nidhogg/skillmatch/internal/metrics"
	"github.com/nidhogg/skillmatch/internal/model"
	"github.com/nidhogg/skillmatch/internal/repo"
	"github.com/nidhogg/skillmatch/internal/selector"
	"github.com/nidhogg/skillmatch/internal/workitem"
)

// Assigner is the part of the ledger a sweep drives.
type Assigner interface {
	AutoAssign(ctx context.Context, req ledger.AssignRequest) (*model.Assignment, error)
}

// Outcome of one work item in a sweep.
type Outcome string

const (
	OutcomeAssigned   Outcome = "assigned"
	OutcomeNoEligible Outcome = "no_eligible"
	OutcomeSkipped    Outcome = "skipped"
	OutcomeFailed     Outcome = "failed"
)

// ItemResult is one row of a sweep report.
type ItemResult struct {
	WorkItemID   string  `json:"work_item_id"`
	Outcome      Outcome `json:"outcome"`
	AssignmentID string  `json:"assignment_id,omitempty"`
	AgentID      string  `json:"agent_id,omitempty"`
	Error        string  `json:"error,omitempty"`
}

// Report summarises a sweep. Items keep the sweep order.
type Report struct {
	OrgID      string       `json:"org_id"`
	Strategy   string       `json:"strategy"`
	StartedAt  time.Time    `json:"started_at"`
	Duration   string       `json:"duration"`
	Assigned   int          `json:"assigned"`
	NoEligible int          `json:"no_eligible"`
	Skipped    int          `json:"skipped"`
	Failed     int          `json:"failed"`
	Items      []ItemResult `json:"items"`
}

// Sweeper runs batch assignment with a bounded worker pool.
type Sweeper struct {
	assigner Assigner
	items    workitem.Source
	store    repo.AssignmentStore
	workers  int
	clock    model.Clock
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

// New creates a sweeper. workers <= 0 falls back to 4.
func New(assigner Assigner, items workitem.Source, store repo.AssignmentStore, workers int, logger *zap.Logger) *Sweeper {
	if workers <= 0 {
		workers = 4
	}
	return &Sweeper{
		assigner: assigner,
		items:    items,
		store:    store,
		workers:  workers,
		clock:    model.SystemClock{},
		logger:   logger,
	}
}

func (s *Sweeper) SetMetrics(m *metrics.Metrics) { s.metrics = m }
func (s *Sweeper) SetClock(c model.Clock)        { s.clock = c }

// Run assigns the org's open work items that have no active assignment,
// highest priority and earliest due date first. Per-item failures land in
// the report; only a failure to list work aborts the sweep.
func (s *Sweeper) Run(ctx context.Context, orgID string, strategy selector.Strategy) (*Report, error) {
	start := time.Now()
	startedAt := s.clock.Now()
	open, err := s.items.ListOpen(ctx, orgID)
	if err != nil {
		return nil, fmt.Errorf("list open work items: %w", err)
	}

	var pending []*model.WorkItem
	for _, item := range open {
		active, err := s.store.ActiveAssignment(ctx, item.ID)
		if err != nil {
			return nil, fmt.Errorf("check active assignment %s: %w", item.ID, err)
		}
		if active == nil {
			pending = append(pending, item)
		}
	}
	workitem.SortForSweep(pending)

	results := make([]ItemResult, len(pending))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for i, item := range pending {
		g.Go(func() error {
			results[i] = s.assignOne(gctx, item.ID, strategy)
			return nil
		})
	}
	_ = g.Wait()

	rep := &Report{
		OrgID:     orgID,
		Strategy:  string(strategy),
		StartedAt: startedAt,
		Items:     results,
	}
	for _, r := range results {
		switch r.Outcome {
		case OutcomeAssigned:
			rep.Assigned++
		case OutcomeNoEligible:
			rep.NoEligible++
		case OutcomeSkipped:
			rep.Skipped++
		default:
			rep.Failed++
		}
	}
	elapsed := time.Since(start)
	rep.Duration = elapsed.String()
	s.metrics.Sweep(elapsed.Seconds(), rep.Assigned, rep.NoEligible, rep.Failed)
	s.logger.Info("sweep finished",
		zap.String("org", orgID),
		zap.Int("candidates", len(pending)),
		zap.Int("assigned", rep.Assigned),
		zap.Int("no_eligible", rep.NoEligible),
		zap.Int("skipped", rep.Skipped),
		zap.Int("failed", rep.Failed),
		zap.Duration("elapsed", elapsed))
	return rep, nil
}

func (s *Sweeper) assignOne(ctx context.Context, id string, strategy selector.Strategy) ItemResult {
	r := ItemResult{WorkItemID: id}
	a, err := s.assigner.AutoAssign(ctx, ledger.AssignRequest{WorkItemID: id, Strategy: strategy})
	switch {
	case err == nil:
		r.Outcome = OutcomeAssigned
		r.AssignmentID = a.ID
		r.AgentID = a.AgentID
	case errors.Is(err, apperr.ErrNoEligibleAgent):
		r.Outcome = OutcomeNoEligible
		r.Error = err.Error()
	case errors.Is(err, apperr.ErrInvalidStateTransition):
		// assigned or closed since the listing
		r.Outcome = OutcomeSkipped
		r.Error = err.Error()
	default:
		r.Outcome = OutcomeFailed
		r.Error = err.Error()
	}
	return r
}
