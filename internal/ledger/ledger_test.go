package ledger

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nidhogg/skillmatch/internal/apperr"
	"github.com/nidhogg/skillmatch/internal/model"
	"github.com/nidhogg/skillmatch/internal/notify"
	"github.com/nidhogg/skillmatch/internal/repo"
	"github.com/nidhogg/skillmatch/internal/scoring"
	"github.com/nidhogg/skillmatch/internal/selector"
	"github.com/nidhogg/skillmatch/internal/workitem"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

type captureEmitter struct {
	mu     sync.Mutex
	events []*notify.Event
}

func (c *captureEmitter) Emit(e *notify.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
}

func (c *captureEmitter) types() []notify.EventType {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]notify.EventType, len(c.events))
	for i, e := range c.events {
		out[i] = e.Type
	}
	return out
}

type countingObserver struct {
	mu      sync.Mutex
	seen    []string
	touched []string
}

func (o *countingObserver) ObserveCompletion(_ context.Context, a *model.Assignment) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.seen = append(o.seen, a.ID)
	return nil
}

func (o *countingObserver) ObserveTransition(_ context.Context, agentIDs ...string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.touched = append(o.touched, agentIDs...)
	return nil
}

type fixture struct {
	ledger   *Ledger
	store    *repo.MemoryStore
	items    *workitem.MemorySource
	events   *captureEmitter
	observer *countingObserver
}

var now = time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := repo.NewMemoryStore()
	items := workitem.NewMemorySource()
	retry := repo.DefaultRetryPolicy()
	retry.MaxAttempts = 50
	retry.InitialInterval = time.Millisecond
	retry.MaxInterval = 5 * time.Millisecond

	l := New(st, items, selector.New(scoring.NewEngine(scoring.DefaultConfig())), retry, zap.NewNop())
	l.SetClock(fixedClock{now})
	f := &fixture{ledger: l, store: st, items: items, events: &captureEmitter{}, observer: &countingObserver{}}
	l.SetNotifier(f.events)
	l.SetObserver(f.observer)
	return f
}

func (f *fixture) addAgent(t *testing.T, p *model.AgentProfile) {
	t.Helper()
	if p.OrgID == "" {
		p.OrgID = "acme"
	}
	if p.MaxWeeklyHours == 0 {
		p.MaxWeeklyHours = 40
	}
	b := &repo.Batch{}
	b.InsertProfile(p)
	require.NoError(t, f.store.Commit(context.Background(), b))
}

func (f *fixture) addItem(t *testing.T, w *model.WorkItem) {
	t.Helper()
	if w.OrgID == "" {
		w.OrgID = "acme"
	}
	require.NoError(t, f.items.Put(context.Background(), w))
}

func (f *fixture) profile(t *testing.T, id string) *model.AgentProfile {
	t.Helper()
	p, err := f.store.GetProfile(context.Background(), id)
	require.NoError(t, err)
	return p
}

func pythonDev(id string) *model.AgentProfile {
	return &model.AgentProfile{
		ID:                   id,
		Skills:               []string{"Python", "Django"},
		ExperienceLevel:      7,
		PerformanceScore:     85,
		CurrentWorkloadHours: 28,
		MaxWeeklyHours:       40,
		IsAvailable:          true,
	}
}

func TestAutoAssignReservesEstimatedHours(t *testing.T) {
	f := newFixture(t)
	f.addAgent(t, pythonDev("py"))
	f.addItem(t, &model.WorkItem{ID: "w1", RequiredSkills: []string{"Python", "Django", "REST APIs"}, Difficulty: 6, Priority: model.PriorityHigh})

	a, err := f.ledger.AutoAssign(context.Background(), AssignRequest{WorkItemID: "w1"})
	require.NoError(t, err)

	assert.Equal(t, "py", a.AgentID)
	assert.Equal(t, model.StatusActive, a.Status)
	assert.Equal(t, "hybrid", a.Strategy)
	assert.Equal(t, 100.0, a.OverallScore)
	assert.InDelta(t, 0.667, a.SkillMatch, 0.001)
	assert.InDelta(t, 4.8, a.EstimatedCompletionHours, 1e-9)
	assert.InDelta(t, 32.8/40, a.WorkloadUtilization, 1e-9)
	assert.Equal(t, 6, a.Difficulty)
	assert.Nil(t, a.AssignerID)
	assert.Equal(t, now, a.AssignedAt)

	assert.InDelta(t, 32.8, f.profile(t, "py").CurrentWorkloadHours, 1e-9)
	assert.Equal(t, []notify.EventType{notify.EventAssigned}, f.events.types())
}

func TestAutoAssignNoEligibleAgentChangesNothing(t *testing.T) {
	f := newFixture(t)
	f.addAgent(t, pythonDev("py"))
	f.addItem(t, &model.WorkItem{ID: "w1", RequiredSkills: []string{"Go", "Kubernetes"}, Difficulty: 6, Priority: model.PriorityHigh})

	_, err := f.ledger.AutoAssign(context.Background(), AssignRequest{WorkItemID: "w1"})
	assert.ErrorIs(t, err, apperr.ErrNoEligibleAgent)

	assert.Equal(t, 28.0, f.profile(t, "py").CurrentWorkloadHours)
	_, total, _ := f.store.ListAssignments(context.Background(), repo.AssignmentFilter{})
	assert.Zero(t, total)
	assert.Empty(t, f.events.types())
}

func TestAutoAssignRejectsSecondActiveAndClosedItems(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addAgent(t, pythonDev("py"))
	f.addItem(t, &model.WorkItem{ID: "w1", RequiredSkills: []string{"python"}, Difficulty: 5})
	f.addItem(t, &model.WorkItem{ID: "w2", RequiredSkills: []string{"python"}, Difficulty: 5, Status: model.WorkItemDone})

	_, err := f.ledger.AutoAssign(ctx, AssignRequest{WorkItemID: "w1"})
	require.NoError(t, err)
	_, err = f.ledger.AutoAssign(ctx, AssignRequest{WorkItemID: "w1"})
	assert.ErrorIs(t, err, apperr.ErrInvalidStateTransition)

	_, err = f.ledger.AutoAssign(ctx, AssignRequest{WorkItemID: "w2"})
	assert.ErrorIs(t, err, apperr.ErrInvalidStateTransition)

	_, err = f.ledger.AutoAssign(ctx, AssignRequest{WorkItemID: "missing"})
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestAutoAssignHonoursStrategy(t *testing.T) {
	f := newFixture(t)
	f.addAgent(t, &model.AgentProfile{ID: "star", Skills: []string{"go"}, ExperienceLevel: 5, PerformanceScore: 99, CurrentWorkloadHours: 30, IsAvailable: true})
	f.addAgent(t, &model.AgentProfile{ID: "free", Skills: []string{"go"}, ExperienceLevel: 5, PerformanceScore: 60, IsAvailable: true})
	f.addItem(t, &model.WorkItem{ID: "w1", RequiredSkills: []string{"go"}, Difficulty: 5})
	f.addItem(t, &model.WorkItem{ID: "w2", RequiredSkills: []string{"go"}, Difficulty: 5})

	a, err := f.ledger.AutoAssign(context.Background(), AssignRequest{WorkItemID: "w1", Strategy: selector.Performance})
	require.NoError(t, err)
	assert.Equal(t, "star", a.AgentID)

	a, err = f.ledger.AutoAssign(context.Background(), AssignRequest{WorkItemID: "w2", Strategy: selector.WorkloadBalance})
	require.NoError(t, err)
	assert.Equal(t, "free", a.AgentID)
}

func TestReassignWithoutActiveAssignment(t *testing.T) {
	f := newFixture(t)
	f.addAgent(t, pythonDev("py"))
	f.addItem(t, &model.WorkItem{ID: "w1", RequiredSkills: []string{"python"}, Difficulty: 5})

	_, err := f.ledger.Reassign(context.Background(), ReassignRequest{WorkItemID: "w1", Reason: "rebalance"})
	assert.ErrorIs(t, err, apperr.ErrInvalidStateTransition)

	p := f.profile(t, "py")
	assert.Equal(t, int64(1), p.Version)
	assert.Equal(t, 28.0, p.CurrentWorkloadHours)
}

func TestReassignMovesWorkAtomically(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addAgent(t, pythonDev("first"))
	second := pythonDev("second")
	second.CurrentWorkloadHours = 30
	f.addAgent(t, second)
	f.addItem(t, &model.WorkItem{ID: "w1", RequiredSkills: []string{"python"}, Difficulty: 5})

	orig, err := f.ledger.AutoAssign(ctx, AssignRequest{WorkItemID: "w1"})
	require.NoError(t, err)
	require.Equal(t, "first", orig.AgentID)

	next, err := f.ledger.Reassign(ctx, ReassignRequest{WorkItemID: "w1", Reason: "on leave"})
	require.NoError(t, err)
	assert.Equal(t, "second", next.AgentID)
	assert.Equal(t, model.StatusActive, next.Status)

	old, err := f.ledger.Get(ctx, orig.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusReassigned, old.Status)
	assert.Equal(t, "on leave", old.ReassignmentReason)
	require.NotNil(t, old.ReassignedAt)

	assert.Equal(t, 28.0, f.profile(t, "first").CurrentWorkloadHours)
	assert.Equal(t, 34.0, f.profile(t, "second").CurrentWorkloadHours)

	active, _, err := f.ledger.List(ctx, repo.AssignmentFilter{WorkItemID: "w1", Status: model.StatusActive})
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, next.ID, active[0].ID)

	assert.Equal(t, []notify.EventType{notify.EventAssigned, notify.EventReassigned}, f.events.types())
	assert.Equal(t, []string{"first", "second"}, f.observer.touched)
}

func TestReassignWithoutReplacementLeavesOldAssignment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addAgent(t, pythonDev("only"))
	f.addItem(t, &model.WorkItem{ID: "w1", RequiredSkills: []string{"python"}, Difficulty: 5})

	orig, err := f.ledger.AutoAssign(ctx, AssignRequest{WorkItemID: "w1"})
	require.NoError(t, err)
	before := f.profile(t, "only")

	_, err = f.ledger.Reassign(ctx, ReassignRequest{WorkItemID: "w1", Reason: "try someone else"})
	assert.ErrorIs(t, err, apperr.ErrNoEligibleAgent)

	still, err := f.ledger.Get(ctx, orig.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusActive, still.Status)
	assert.Nil(t, still.ReassignedAt)
	assert.Equal(t, orig.Version, still.Version)

	after := f.profile(t, "only")
	assert.Equal(t, before.CurrentWorkloadHours, after.CurrentWorkloadHours)
	assert.Equal(t, before.Version, after.Version)
}

func TestCompleteReleasesReservationAndUpdatesAverage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addAgent(t, pythonDev("py"))
	f.addItem(t, &model.WorkItem{ID: "w1", RequiredSkills: []string{"python"}, Difficulty: 5})
	f.addItem(t, &model.WorkItem{ID: "w2", RequiredSkills: []string{"python"}, Difficulty: 5})

	a, err := f.ledger.AutoAssign(ctx, AssignRequest{WorkItemID: "w1"})
	require.NoError(t, err)
	require.Equal(t, 4.0, a.EstimatedCompletionHours)

	done, err := f.ledger.Complete(ctx, a.ID, 6)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, done.Status)
	require.NotNil(t, done.ActualCompletionHours)
	assert.Equal(t, 6.0, *done.ActualCompletionHours)
	assert.Equal(t, now, *done.CompletedAt)

	p := f.profile(t, "py")
	assert.Equal(t, 28.0, p.CurrentWorkloadHours)
	assert.Equal(t, 1, p.TasksCompleted)
	assert.Equal(t, 6.0, p.AvgCompletionTime)

	// the learned average now drives the estimate: 6 * 5/5
	b, err := f.ledger.AutoAssign(ctx, AssignRequest{WorkItemID: "w2"})
	require.NoError(t, err)
	assert.Equal(t, 6.0, b.EstimatedCompletionHours)
	_, err = f.ledger.Complete(ctx, b.ID, 2)
	require.NoError(t, err)
	p = f.profile(t, "py")
	assert.Equal(t, 2, p.TasksCompleted)
	assert.Equal(t, 4.0, p.AvgCompletionTime)

	assert.Equal(t, []string{a.ID, b.ID}, f.observer.seen)
}

func TestCompleteTwiceIsRejectedWithoutSideEffects(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addAgent(t, pythonDev("py"))
	f.addItem(t, &model.WorkItem{ID: "w1", RequiredSkills: []string{"python"}, Difficulty: 5})

	a, err := f.ledger.AutoAssign(ctx, AssignRequest{WorkItemID: "w1"})
	require.NoError(t, err)
	_, err = f.ledger.Complete(ctx, a.ID, 3)
	require.NoError(t, err)
	before := f.profile(t, "py")

	_, err = f.ledger.Complete(ctx, a.ID, 3)
	assert.ErrorIs(t, err, apperr.ErrInvalidStateTransition)
	_, err = f.ledger.Cancel(ctx, a.ID, "too late")
	assert.ErrorIs(t, err, apperr.ErrInvalidStateTransition)

	after := f.profile(t, "py")
	assert.Equal(t, before.TasksCompleted, after.TasksCompleted)
	assert.Equal(t, before.CurrentWorkloadHours, after.CurrentWorkloadHours)
	assert.Equal(t, before.Version, after.Version)
	assert.Len(t, f.observer.seen, 1)
}

func TestCompleteValidation(t *testing.T) {
	f := newFixture(t)
	_, err := f.ledger.Complete(context.Background(), "nope", 1)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	_, err = f.ledger.Complete(context.Background(), "nope", -1)
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestCancelReleasesWithoutReplacement(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addAgent(t, pythonDev("py"))
	f.addItem(t, &model.WorkItem{ID: "w1", RequiredSkills: []string{"python"}, Difficulty: 5})

	a, err := f.ledger.AutoAssign(ctx, AssignRequest{WorkItemID: "w1"})
	require.NoError(t, err)
	c, err := f.ledger.Cancel(ctx, a.ID, "descoped")
	require.NoError(t, err)
	assert.Equal(t, model.StatusCancelled, c.Status)
	assert.Equal(t, "descoped", c.CancellationReason)

	p := f.profile(t, "py")
	assert.Equal(t, 28.0, p.CurrentWorkloadHours)
	assert.Zero(t, p.TasksCompleted)

	active, err := f.store.ActiveAssignment(ctx, "w1")
	require.NoError(t, err)
	assert.Nil(t, active)
	assert.Equal(t, []string{"py"}, f.observer.touched)
	assert.Empty(t, f.observer.seen)

	// a cancelled item can be assigned again
	_, err = f.ledger.AutoAssign(ctx, AssignRequest{WorkItemID: "w1"})
	require.NoError(t, err)
}

func TestRecommend(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 8; i++ {
		f.addAgent(t, &model.AgentProfile{ID: fmt.Sprintf("a%d", i), Skills: []string{"go"}, ExperienceLevel: 5, PerformanceScore: float64(50 + i), IsAvailable: true})
	}
	f.addAgent(t, &model.AgentProfile{ID: "other-org", OrgID: "globex", Skills: []string{"go"}, ExperienceLevel: 5, PerformanceScore: 100, IsAvailable: true})
	f.addItem(t, &model.WorkItem{ID: "w1", RequiredSkills: []string{"go"}, Difficulty: 5})

	recs, err := f.ledger.Recommend(context.Background(), "w1", selector.Performance, 0)
	require.NoError(t, err)
	require.Len(t, recs, 5)
	assert.Equal(t, "a7", recs[0].Agent.ID)
	assert.Equal(t, 4.0, recs[0].EstimatedHours)

	recs, err = f.ledger.Recommend(context.Background(), "w1", selector.Performance, 3)
	require.NoError(t, err)
	assert.Len(t, recs, 3)

	_, total, _ := f.store.ListAssignments(context.Background(), repo.AssignmentFilter{})
	assert.Zero(t, total)
}

func TestConcurrentAutoAssignSameItemCreatesOneActive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		f.addAgent(t, &model.AgentProfile{ID: fmt.Sprintf("a%d", i), Skills: []string{"go"}, ExperienceLevel: 5, PerformanceScore: 70, IsAvailable: true})
	}
	f.addItem(t, &model.WorkItem{ID: "w1", RequiredSkills: []string{"go"}, Difficulty: 5})

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		ok, rej int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.ledger.AutoAssign(ctx, AssignRequest{WorkItemID: "w1"})
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				ok++
			} else if apperr.KindOf(err) == apperr.KindInvalidStateTransition {
				rej++
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, ok)
	assert.Equal(t, 9, rej)
}

func TestConcurrentAutoAssignNeverLosesReservations(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addAgent(t, &model.AgentProfile{ID: "solo", Skills: []string{"go"}, ExperienceLevel: 5, PerformanceScore: 70, MaxWeeklyHours: 200, IsAvailable: true})
	const n = 12
	for i := 0; i < n; i++ {
		f.addItem(t, &model.WorkItem{ID: fmt.Sprintf("w%02d", i), RequiredSkills: []string{"go"}, Difficulty: 5})
	}

	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.ledger.AutoAssign(ctx, AssignRequest{WorkItemID: fmt.Sprintf("w%02d", i)})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	// every assignment reserved 4h against the same agent
	assert.InDelta(t, float64(n)*4, f.profile(t, "solo").CurrentWorkloadHours, 1e-9)
}

func TestRecommendRejectsClosedItem(t *testing.T) {
	f := newFixture(t)
	f.addAgent(t, pythonDev("py"))
	f.addItem(t, &model.WorkItem{ID: "done", RequiredSkills: []string{"python"}, Difficulty: 5, Status: model.WorkItemDone})
	f.addItem(t, &model.WorkItem{ID: "dropped", RequiredSkills: []string{"python"}, Difficulty: 5, Status: model.WorkItemCancelled})

	for _, id := range []string{"done", "dropped"} {
		recs, err := f.ledger.Recommend(context.Background(), id, selector.Hybrid, 0)
		assert.ErrorIs(t, err, apperr.ErrInvalidStateTransition, id)
		assert.Nil(t, recs)
	}
}
