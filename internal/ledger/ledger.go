// Package ledger owns the assignment state machine. Every transition reads
// versioned records, stages the changes in one repo.Batch and commits them
// all-or-nothing, retrying on version conflicts.
package ledger

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nidhogg/skillmatch/internal/apperr"
	"github.com/nidhogg/skillmatch/internal/metrics"
	"github.com/nidhogg/skillmatch/internal/model"
	"github.com/nidhogg/skillmatch/internal/notify"
	"github.com/nidhogg/skillmatch/internal/repo"
	"github.com/nidhogg/skillmatch/internal/selector"
	"github.com/nidhogg/skillmatch/internal/workitem"
)

// CompletionObserver is told about every completed assignment after commit.
type CompletionObserver interface {
	ObserveCompletion(ctx context.Context, a *model.Assignment) error
}

// TransitionObserver may also be implemented by the observer to hear which
// agents were touched by a cancellation or reassignment.
type TransitionObserver interface {
	ObserveTransition(ctx context.Context, agentIDs ...string) error
}

// AssignRequest asks for the best agent for one work item.
type AssignRequest struct {
	WorkItemID string
	Strategy   selector.Strategy
	AssignerID *string
}

// ReassignRequest moves a work item away from its current agent.
type ReassignRequest struct {
	WorkItemID string
	Reason     string
	Strategy   selector.Strategy
	AssignerID *string
}

// Ledger creates and transitions assignments.
type Ledger struct {
	store    repo.Store
	items    workitem.Source
	sel      *selector.Selector
	retry    repo.RetryPolicy
	clock    model.Clock
	notifier notify.Emitter
	metrics  *metrics.Metrics
	observer CompletionObserver

	defaultStrategy selector.Strategy
	defaultTopN     int
	maxTopN         int

	itemLocks  *keyedMutex
	agentLocks *keyedMutex
	logger     *zap.Logger
}

// New creates a ledger. Notifier, metrics and observer are optional and set
// through the Set methods.
func New(store repo.Store, items workitem.Source, sel *selector.Selector, retry repo.RetryPolicy, logger *zap.Logger) *Ledger {
	return &Ledger{
		store:           store,
		items:           items,
		sel:             sel,
		retry:           retry,
		clock:           model.SystemClock{},
		notifier:        notify.Nop{},
		defaultStrategy: selector.Hybrid,
		defaultTopN:     5,
		maxTopN:         50,
		itemLocks:       newKeyedMutex(),
		agentLocks:      newKeyedMutex(),
		logger:          logger,
	}
}

// SetNotifier replaces the event emitter; the default drops events.
func (l *Ledger) SetNotifier(n notify.Emitter) { l.notifier = n }

// SetMetrics attaches Prometheus instruments.
func (l *Ledger) SetMetrics(m *metrics.Metrics) { l.metrics = m }

// SetObserver registers the completion observer. If it also implements
// TransitionObserver it hears about cancellations and reassignments.
func (l *Ledger) SetObserver(o CompletionObserver) { l.observer = o }

// SetClock replaces the time source.
func (l *Ledger) SetClock(c model.Clock) { l.clock = c }

// SetDefaultStrategy sets the strategy used when a request names none.
func (l *Ledger) SetDefaultStrategy(s selector.Strategy) { l.defaultStrategy = s }

// SetTopN configures the recommendation list size defaults.
func (l *Ledger) SetTopN(def, limit int) {
	if def > 0 {
		l.defaultTopN = def
	}
	if limit > 0 {
		l.maxTopN = limit
	}
}

func (l *Ledger) strategy(s selector.Strategy) selector.Strategy {
	if s == "" {
		return l.defaultStrategy
	}
	return s
}

// assignableItem loads a work item that may still receive an agent.
func (l *Ledger) assignableItem(ctx context.Context, id string) (*model.WorkItem, error) {
	item, err := l.items.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !item.Status.Assignable() {
		return nil, apperr.InvalidState("work item %s is %s", id, item.Status)
	}
	return item, nil
}

func (l *Ledger) newAssignment(item *model.WorkItem, c *selector.Candidate, strategy selector.Strategy, assigner *string) *model.Assignment {
	a := &model.Assignment{
		ID:                       uuid.NewString(),
		WorkItemID:               item.ID,
		AgentID:                  c.Agent.ID,
		AssignerID:               assigner,
		Strategy:                 string(strategy),
		SkillMatch:               c.Scores.SkillMatch,
		WorkloadScore:            c.Scores.WorkloadScore,
		PerformanceScore:         c.Scores.PerformanceScore,
		ExperienceScore:          c.Scores.ExperienceScore,
		DifficultyAdjustment:     c.Scores.DifficultyAdjustment,
		OverallScore:             c.Scores.OverallScore,
		Difficulty:               item.Difficulty,
		EstimatedCompletionHours: c.EstimatedHours,
		Reason:                   c.Explanation,
		Status:                   model.StatusActive,
		AssignedAt:               l.clock.Now(),
	}
	c.Agent.CurrentWorkloadHours += a.EstimatedCompletionHours
	c.Agent.UpdatedAt = a.AssignedAt
	a.WorkloadUtilization = c.Agent.Utilization()
	return a
}

// release returns reserved hours to an agent without going negative.
func release(p *model.AgentProfile, hours float64) {
	p.CurrentWorkloadHours = max(0, p.CurrentWorkloadHours-hours)
}

// AutoAssign binds the best eligible agent to a work item and reserves the
// estimated hours against that agent.
func (l *Ledger) AutoAssign(ctx context.Context, req AssignRequest) (*model.Assignment, error) {
	strategy := l.strategy(req.Strategy)
	unlock := l.itemLocks.Lock(req.WorkItemID)
	defer unlock()

	var out *model.Assignment
	err := repo.WithRetry(ctx, l.retry, func(ctx context.Context) error {
		item, err := l.assignableItem(ctx, req.WorkItemID)
		if err != nil {
			return err
		}
		active, err := l.store.ActiveAssignment(ctx, item.ID)
		if err != nil {
			return err
		}
		if active != nil {
			return apperr.InvalidState("work item %s already has active assignment %s", item.ID, active.ID)
		}
		agents, err := l.store.ListProfiles(ctx, item.OrgID)
		if err != nil {
			return err
		}
		best, err := l.sel.Best(agents, item, strategy, l.clock.Now())
		if err != nil {
			return err
		}

		a := l.newAssignment(item, best, strategy, req.AssignerID)
		b := &repo.Batch{}
		b.PutProfile(best.Agent)
		b.InsertAssignment(a)

		unlockAgent := l.agentLocks.Lock(best.Agent.ID)
		defer unlockAgent()
		if err := l.store.Commit(ctx, b); err != nil {
			return err
		}
		out = a
		return nil
	})
	if err != nil {
		l.failed("auto_assign", req.WorkItemID, err)
		return nil, err
	}

	l.metrics.Transition("assigned", out.Strategy)
	l.metrics.Assigned(out.Strategy, out.OverallScore)
	l.logger.Info("work item assigned",
		zap.String("work_item", out.WorkItemID),
		zap.String("agent", out.AgentID),
		zap.String("assignment", out.ID),
		zap.String("strategy", out.Strategy),
		zap.Float64("score", out.OverallScore),
		zap.Float64("estimated_hours", out.EstimatedCompletionHours))
	e := notify.NewEvent(notify.EventAssigned, out.ID, out.WorkItemID, out.AgentID, out.AssignedAt)
	e.Reason = out.Reason
	l.notifier.Emit(e)
	return out, nil
}

// Recommend ranks eligible agents for a work item without changing state.
func (l *Ledger) Recommend(ctx context.Context, workItemID string, strategy selector.Strategy, topN int) ([]*selector.Candidate, error) {
	if topN <= 0 {
		topN = l.defaultTopN
	}
	if topN > l.maxTopN {
		topN = l.maxTopN
	}
	item, err := l.assignableItem(ctx, workItemID)
	if err != nil {
		return nil, err
	}
	agents, err := l.store.ListProfiles(ctx, item.OrgID)
	if err != nil {
		return nil, err
	}
	return l.sel.Rank(agents, item, l.strategy(strategy), l.clock.Now(), topN), nil
}

// Reassign retires the active assignment of a work item and binds a
// different agent in the same commit. When no other agent is eligible
// nothing changes.
func (l *Ledger) Reassign(ctx context.Context, req ReassignRequest) (*model.Assignment, error) {
	strategy := l.strategy(req.Strategy)
	unlock := l.itemLocks.Lock(req.WorkItemID)
	defer unlock()

	var (
		out      *model.Assignment
		previous string
	)
	err := repo.WithRetry(ctx, l.retry, func(ctx context.Context) error {
		active, err := l.store.ActiveAssignment(ctx, req.WorkItemID)
		if err != nil {
			return err
		}
		if active == nil {
			return apperr.InvalidState("work item %s has no active assignment", req.WorkItemID)
		}
		item, err := l.assignableItem(ctx, req.WorkItemID)
		if err != nil {
			return err
		}
		agents, err := l.store.ListProfiles(ctx, item.OrgID)
		if err != nil {
			return err
		}
		now := l.clock.Now()
		best, err := l.sel.Best(agents, item, strategy, now, active.AgentID)
		if err != nil {
			return err
		}
		prev, err := l.store.GetProfile(ctx, active.AgentID)
		if err != nil {
			return err
		}

		release(prev, active.EstimatedCompletionHours)
		prev.UpdatedAt = now
		active.Status = model.StatusReassigned
		active.ReassignedAt = &now
		active.ReassignmentReason = req.Reason
		next := l.newAssignment(item, best, strategy, req.AssignerID)

		b := &repo.Batch{}
		b.PutProfile(prev)
		b.PutProfile(best.Agent)
		b.PutAssignment(active)
		b.InsertAssignment(next)

		unlockAgents := l.agentLocks.Lock(prev.ID, best.Agent.ID)
		defer unlockAgents()
		if err := l.store.Commit(ctx, b); err != nil {
			return err
		}
		out, previous = next, prev.ID
		return nil
	})
	if err != nil {
		l.failed("reassign", req.WorkItemID, err)
		return nil, err
	}

	l.metrics.Transition("reassigned", out.Strategy)
	l.metrics.Assigned(out.Strategy, out.OverallScore)
	l.logger.Info("work item reassigned",
		zap.String("work_item", out.WorkItemID),
		zap.String("from", previous),
		zap.String("to", out.AgentID),
		zap.String("assignment", out.ID))
	e := notify.NewEvent(notify.EventReassigned, out.ID, out.WorkItemID, out.AgentID, out.AssignedAt)
	e.PreviousAgentID = previous
	e.Reason = req.Reason
	l.notifier.Emit(e)
	l.observeTransition(ctx, previous, out.AgentID)
	return out, nil
}

// Complete closes an active assignment, releases its full reservation and
// folds actualHours into the agent's running average.
func (l *Ledger) Complete(ctx context.Context, id string, actualHours float64) (*model.Assignment, error) {
	if actualHours < 0 {
		return nil, apperr.Validation("actual_hours must not be negative, got %g", actualHours)
	}
	out, err := l.finish(ctx, "complete", id, func(a *model.Assignment, agent *model.AgentProfile) {
		now := l.clock.Now()
		a.Status = model.StatusCompleted
		a.CompletedAt = &now
		a.ActualCompletionHours = &actualHours

		agent.TasksCompleted++
		agent.AvgCompletionTime += (actualHours - agent.AvgCompletionTime) / float64(agent.TasksCompleted)
	})
	if err != nil {
		return nil, err
	}

	l.metrics.Transition("completed", out.Strategy)
	l.logger.Info("assignment completed",
		zap.String("assignment", out.ID),
		zap.String("agent", out.AgentID),
		zap.Float64("actual_hours", actualHours))
	l.notifier.Emit(notify.NewEvent(notify.EventCompleted, out.ID, out.WorkItemID, out.AgentID, *out.CompletedAt))
	if l.observer != nil {
		if err := l.observer.ObserveCompletion(ctx, out.Clone()); err != nil {
			l.logger.Warn("completion observer failed", zap.String("assignment", out.ID), zap.Error(err))
		}
	}
	return out, nil
}

// Cancel closes an active assignment without a replacement.
func (l *Ledger) Cancel(ctx context.Context, id, reason string) (*model.Assignment, error) {
	out, err := l.finish(ctx, "cancel", id, func(a *model.Assignment, _ *model.AgentProfile) {
		now := l.clock.Now()
		a.Status = model.StatusCancelled
		a.CancelledAt = &now
		a.CancellationReason = reason
	})
	if err != nil {
		return nil, err
	}

	l.metrics.Transition("cancelled", out.Strategy)
	l.logger.Info("assignment cancelled", zap.String("assignment", out.ID), zap.String("agent", out.AgentID))
	e := notify.NewEvent(notify.EventCancelled, out.ID, out.WorkItemID, out.AgentID, *out.CancelledAt)
	e.Reason = reason
	l.notifier.Emit(e)
	l.observeTransition(ctx, out.AgentID)
	return out, nil
}

func (l *Ledger) observeTransition(ctx context.Context, agentIDs ...string) {
	o, ok := l.observer.(TransitionObserver)
	if !ok {
		return
	}
	if err := o.ObserveTransition(ctx, agentIDs...); err != nil {
		l.logger.Warn("transition observer failed", zap.Strings("agents", agentIDs), zap.Error(err))
	}
}

// finish runs a terminal transition on an active assignment and releases the
// reservation it held.
func (l *Ledger) finish(ctx context.Context, op, id string, mutate func(*model.Assignment, *model.AgentProfile)) (*model.Assignment, error) {
	first, err := l.store.GetAssignment(ctx, id)
	if err != nil {
		l.failed(op, id, err)
		return nil, err
	}
	unlock := l.itemLocks.Lock(first.WorkItemID)
	defer unlock()

	var out *model.Assignment
	err = repo.WithRetry(ctx, l.retry, func(ctx context.Context) error {
		a, err := l.store.GetAssignment(ctx, id)
		if err != nil {
			return err
		}
		if a.Status != model.StatusActive {
			return apperr.InvalidState("assignment %s is %s, not active", id, a.Status)
		}
		agent, err := l.store.GetProfile(ctx, a.AgentID)
		if err != nil {
			return err
		}

		release(agent, a.EstimatedCompletionHours)
		mutate(a, agent)
		agent.UpdatedAt = l.clock.Now()

		b := &repo.Batch{}
		b.PutProfile(agent)
		b.PutAssignment(a)

		unlockAgent := l.agentLocks.Lock(agent.ID)
		defer unlockAgent()
		if err := l.store.Commit(ctx, b); err != nil {
			return err
		}
		out = a
		return nil
	})
	if err != nil {
		l.failed(op, id, err)
		return nil, err
	}
	return out, nil
}

// Get returns one assignment.
func (l *Ledger) Get(ctx context.Context, id string) (*model.Assignment, error) {
	return l.store.GetAssignment(ctx, id)
}

// List returns one page of assignments, newest first, and the total count.
func (l *Ledger) List(ctx context.Context, f repo.AssignmentFilter) ([]*model.Assignment, int, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, 0, apperr.Validation("unknown assignment status %q", f.Status)
	}
	f.Normalize()
	return l.store.ListAssignments(ctx, f)
}

func (l *Ledger) failed(op, id string, err error) {
	kind := apperr.KindOf(err)
	l.metrics.Failure(op, string(kind))
	switch {
	case errors.Is(err, apperr.ErrConcurrencyConflict):
		l.logger.Warn("ledger operation gave up on conflicts", zap.String("op", op), zap.String("id", id), zap.Error(err))
	case kind == apperr.KindInternal:
		l.logger.Error("ledger operation failed", zap.String("op", op), zap.String("id", id), zap.Error(err))
	default:
		l.logger.Debug("ledger operation rejected", zap.String("op", op), zap.String("id", id), zap.Error(err))
	}
}
