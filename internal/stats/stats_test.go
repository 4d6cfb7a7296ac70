package stats

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nidhogg/skillmatch/internal/apperr"
	"github.com/nidhogg/skillmatch/internal/model"
	"github.com/nidhogg/skillmatch/internal/repo"
	"github.com/nidhogg/skillmatch/internal/workitem"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

var now = time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)

type fixture struct {
	agg   *Aggregator
	store *repo.MemoryStore
	items *workitem.MemorySource
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := repo.NewMemoryStore()
	items := workitem.NewMemorySource()
	retry := repo.DefaultRetryPolicy()
	retry.InitialInterval = time.Millisecond
	g := NewAggregator(st, items, retry, DefaultConfig(), zap.NewNop())
	g.SetClock(fixedClock{now})
	return &fixture{agg: g, store: st, items: items}
}

func (f *fixture) addAgent(t *testing.T, id string, workload, perf float64) {
	t.Helper()
	b := &repo.Batch{}
	b.InsertProfile(&model.AgentProfile{
		ID:                   id,
		OrgID:                "acme",
		Name:                 id,
		ExperienceLevel:      5,
		PerformanceScore:     perf,
		CurrentWorkloadHours: workload,
		MaxWeeklyHours:       40,
		IsAvailable:          true,
	})
	require.NoError(t, f.store.Commit(context.Background(), b))
}

func (f *fixture) addAssignment(t *testing.T, a *model.Assignment) {
	t.Helper()
	b := &repo.Batch{}
	b.InsertAssignment(a)
	require.NoError(t, f.store.Commit(context.Background(), b))
}

func hours(v float64) *float64 { return &v }

func completed(id, agent, item string, est, actual float64, at time.Time) *model.Assignment {
	return &model.Assignment{
		ID:                       id,
		WorkItemID:               item,
		AgentID:                  agent,
		SkillMatch:               1,
		Difficulty:               5,
		WorkloadUtilization:      0.5,
		EstimatedCompletionHours: est,
		ActualCompletionHours:    hours(actual),
		Status:                   model.StatusCompleted,
		AssignedAt:               at.Add(-time.Hour),
		CompletedAt:              &at,
	}
}

func TestSubmitFeedbackValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.agg.SubmitFeedback(ctx, FeedbackInput{AssignmentID: "x", DifficultyRating: 0, SkillMatchRating: 3, WorkloadRating: 3})
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, err = f.agg.SubmitFeedback(ctx, FeedbackInput{AssignmentID: "x", DifficultyRating: 3, SkillMatchRating: 3, WorkloadRating: 6})
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, err = f.agg.SubmitFeedback(ctx, FeedbackInput{AssignmentID: "missing", DifficultyRating: 3, SkillMatchRating: 3, WorkloadRating: 3})
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestSubmitFeedbackAveragesAnyStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addAgent(t, "a1", 0, 50)
	f.addAssignment(t, &model.Assignment{ID: "as1", WorkItemID: "w1", AgentID: "a1", Status: model.StatusCancelled, AssignedAt: now})

	_, err := f.agg.SubmitFeedback(ctx, FeedbackInput{AssignmentID: "as1", DifficultyRating: 5, SkillMatchRating: 4, WorkloadRating: 3})
	require.NoError(t, err)
	fb, err := f.agg.SubmitFeedback(ctx, FeedbackInput{AssignmentID: "as1", DifficultyRating: 3, SkillMatchRating: 2, WorkloadRating: 1, Comments: "too much"})
	require.NoError(t, err)
	assert.Equal(t, "as1", fb.AssignmentID)
	assert.Equal(t, now, fb.CreatedAt)

	st, err := f.agg.Get(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, 2, st.FeedbackCount)
	assert.InDelta(t, 4.0, st.AvgDifficultyRating, 1e-9)
	assert.InDelta(t, 3.0, st.AvgSkillMatchRating, 1e-9)
	assert.InDelta(t, 2.0, st.AvgWorkloadRating, 1e-9)
	assert.Equal(t, 1, st.CancelledAssignments)
}

func TestRecomputeIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addAgent(t, "a1", 8, 50)
	f.addAssignment(t, completed("as1", "a1", "w1", 4, 5, now))
	f.addAssignment(t, completed("as2", "a1", "w2", 4, 10, now))
	f.addAssignment(t, &model.Assignment{ID: "as3", WorkItemID: "w3", AgentID: "a1", Difficulty: 8, SkillMatch: 0.5, Status: model.StatusActive, AssignedAt: now})
	f.addAssignment(t, &model.Assignment{ID: "as4", WorkItemID: "w4", AgentID: "a1", Difficulty: 2, SkillMatch: 1, Status: model.StatusReassigned, AssignedAt: now})

	first, err := f.agg.Recompute(ctx, "a1")
	require.NoError(t, err)
	second, err := f.agg.Recompute(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, first, second)

	assert.Equal(t, 4, first.TotalAssignments)
	assert.Equal(t, 2, first.CompletedAssignments)
	assert.Equal(t, 1, first.ActiveAssignments)
	assert.Equal(t, 1, first.ReassignedAssignments)
	// 0.75 and a clamped 0
	assert.InDelta(t, 0.375, first.AvgEstimationAccuracy, 1e-9)
	assert.InDelta(t, 7.5, first.AvgCompletionTime, 1e-9)
	assert.InDelta(t, 5.0, first.AvgDifficultyAssigned, 1e-9)
	assert.InDelta(t, 0.875, first.AvgSkillMatchScore, 1e-9)
}

func TestRecomputeUnknownAgent(t *testing.T) {
	f := newFixture(t)
	_, err := f.agg.Recompute(context.Background(), "ghost")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestComputeIgnoresInputOrder(t *testing.T) {
	as := []*model.Assignment{
		completed("b", "a1", "w1", 3, 4, now),
		completed("a", "a1", "w2", 7, 6, now),
		completed("c", "a1", "w3", 0.1, 0.3, now),
	}
	reversed := []*model.Assignment{as[2], as[1], as[0]}
	assert.Equal(t, Compute("a1", as, nil), Compute("a1", reversed, nil))
}

func TestObserveCompletionOnTime(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addAgent(t, "a1", 0, 50)
	due := now.Add(24 * time.Hour)
	require.NoError(t, f.items.Put(ctx, &model.WorkItem{ID: "w1", OrgID: "acme", Difficulty: 5, DueAt: &due}))

	a := completed("as1", "a1", "w1", 4, 4, now)
	f.addAssignment(t, a)
	require.NoError(t, f.agg.ObserveCompletion(ctx, a))

	p, err := f.store.GetProfile(ctx, "a1")
	require.NoError(t, err)
	// 0.6*50 + 20*1 + 10*1 + 10*1
	assert.InDelta(t, 70.0, p.PerformanceScore, 1e-9)

	st, err := f.store.GetStatistics(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, 1, st.CompletedAssignments)
}

func TestObserveCompletionLate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addAgent(t, "a1", 0, 50)
	due := now.Add(-time.Hour)
	require.NoError(t, f.items.Put(ctx, &model.WorkItem{ID: "w1", OrgID: "acme", Difficulty: 5, DueAt: &due}))

	a := completed("as1", "a1", "w1", 4, 4, now)
	f.addAssignment(t, a)
	require.NoError(t, f.agg.ObserveCompletion(ctx, a))

	p, err := f.store.GetProfile(ctx, "a1")
	require.NoError(t, err)
	assert.InDelta(t, 65.0, p.PerformanceScore, 1e-9)
}

func TestObserveCompletionClampsAndMissingItem(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addAgent(t, "a1", 0, 100)

	a := completed("as1", "a1", "gone", 4, 4, now)
	f.addAssignment(t, a)
	require.NoError(t, f.agg.ObserveCompletion(ctx, a))

	p, err := f.store.GetProfile(ctx, "a1")
	require.NoError(t, err)
	assert.InDelta(t, 100.0, p.PerformanceScore, 1e-9)
}

func TestObserveCompletionRejectsActive(t *testing.T) {
	f := newFixture(t)
	err := f.agg.ObserveCompletion(context.Background(), &model.Assignment{ID: "x", Status: model.StatusActive})
	assert.ErrorIs(t, err, apperr.ErrInvalidStateTransition)
}

func TestTeamStatistics(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addAgent(t, "idle", 0, 40)
	f.addAgent(t, "half", 20, 60)
	f.addAgent(t, "busy", 35, 80)
	f.addAgent(t, "full", 40, 100)

	ts, err := f.agg.Team(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, 4, ts.TeamSize)
	assert.Equal(t, map[string]int{"0-25": 1, "25-50": 0, "50-75": 1, "75-100": 1, "100+": 1}, ts.UtilizationDistribution)
	assert.Equal(t, []string{"full"}, ts.Overloaded)
	assert.Equal(t, []string{"idle"}, ts.Underloaded)
	assert.InDelta(t, 0.59375, ts.AvgUtilization, 1e-9)
	assert.InDelta(t, 70.0, ts.AvgPerformanceScore, 1e-9)
	require.Len(t, ts.Members, 4)
	for _, m := range ts.Members {
		require.NotNil(t, m.Statistics)
		assert.Equal(t, m.AgentID, m.Statistics.AgentID)
	}
}

func TestTeamStatisticsEmptyOrg(t *testing.T) {
	f := newFixture(t)
	ts, err := f.agg.Team(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Equal(t, 0, ts.TeamSize)
	assert.Zero(t, ts.AvgUtilization)
	assert.Len(t, ts.UtilizationDistribution, 5)
	assert.Empty(t, ts.Overloaded)
}

func TestGetAndTeamReflectCancellation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addAgent(t, "a1", 0, 50)
	a := &model.Assignment{ID: "as1", WorkItemID: "w1", AgentID: "a1", Status: model.StatusActive, AssignedAt: now}
	f.addAssignment(t, a)

	st, err := f.agg.Get(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, 1, st.ActiveAssignments)
	assert.Zero(t, st.CancelledAssignments)

	a.Status = model.StatusCancelled
	a.CancelledAt = &now
	b := &repo.Batch{}
	b.PutAssignment(a)
	require.NoError(t, f.store.Commit(ctx, b))

	st, err = f.agg.Get(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, 1, st.TotalAssignments)
	assert.Zero(t, st.ActiveAssignments)
	assert.Equal(t, 1, st.CancelledAssignments)

	ts, err := f.agg.Team(ctx, "acme")
	require.NoError(t, err)
	require.Len(t, ts.Members, 1)
	assert.Equal(t, 1, ts.Members[0].Statistics.CancelledAssignments)
}

func TestObserveTransitionRefreshesSavedStatistics(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addAgent(t, "a1", 0, 50)
	a := &model.Assignment{ID: "as1", WorkItemID: "w1", AgentID: "a1", Status: model.StatusActive, AssignedAt: now}
	f.addAssignment(t, a)
	_, err := f.agg.Recompute(ctx, "a1")
	require.NoError(t, err)

	a.Status = model.StatusReassigned
	a.ReassignedAt = &now
	b := &repo.Batch{}
	b.PutAssignment(a)
	require.NoError(t, f.store.Commit(ctx, b))

	require.NoError(t, f.agg.ObserveTransition(ctx, "a1"))
	saved, err := f.store.GetStatistics(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, 1, saved.ReassignedAssignments)
	assert.Zero(t, saved.ActiveAssignments)

	assert.ErrorIs(t, f.agg.ObserveTransition(ctx, "ghost"), apperr.ErrNotFound)
}

func TestRecomputeTeam(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addAgent(t, "b", 0, 50)
	f.addAgent(t, "a", 0, 50)
	f.addAssignment(t, completed("as1", "b", "w1", 4, 4, now))

	sts, err := f.agg.RecomputeTeam(ctx, "acme")
	require.NoError(t, err)
	require.Len(t, sts, 2)
	assert.Equal(t, "a", sts[0].AgentID)
	assert.Equal(t, "b", sts[1].AgentID)
	assert.Equal(t, 1, sts[1].CompletedAssignments)

	saved, err := f.store.GetStatistics(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, 1, saved.CompletedAssignments)

	sts, err = f.agg.RecomputeTeam(ctx, "nobody")
	require.NoError(t, err)
	assert.Empty(t, sts)
}
