package repo

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/nidhogg/skillmatch/internal/apperr"
	"github.com/nidhogg/skillmatch/internal/model"
)

// MemoryStore is an in-process Store. Reads return copies so callers never
// share records with the store.
type MemoryStore struct {
	mu           sync.RWMutex
	profiles     map[string]*model.AgentProfile
	assignments  map[string]*model.Assignment
	feedback     []*model.Feedback
	statistics   map[string]*model.AgentStatistics
	endorsements map[string]*model.SkillEndorsement
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		profiles:     make(map[string]*model.AgentProfile),
		assignments:  make(map[string]*model.Assignment),
		statistics:   make(map[string]*model.AgentStatistics),
		endorsements: make(map[string]*model.SkillEndorsement),
	}
}

func (m *MemoryStore) GetProfile(_ context.Context, id string) (*model.AgentProfile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.profiles[id]
	if !ok {
		return nil, apperr.NotFound("agent %s not found", id)
	}
	return p.Clone(), nil
}

func (m *MemoryStore) ListProfiles(_ context.Context, orgID string) ([]*model.AgentProfile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*model.AgentProfile, 0, len(m.profiles))
	for _, p := range m.profiles {
		if orgID == "" || p.OrgID == orgID {
			out = append(out, p.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) GetAssignment(_ context.Context, id string) (*model.Assignment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.assignments[id]
	if !ok {
		return nil, apperr.NotFound("assignment %s not found", id)
	}
	return a.Clone(), nil
}

func (m *MemoryStore) ActiveAssignment(_ context.Context, workItemID string) (*model.Assignment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, a := range m.assignments {
		if a.WorkItemID == workItemID && a.Status == model.StatusActive {
			return a.Clone(), nil
		}
	}
	return nil, nil
}

func (m *MemoryStore) ListAssignments(_ context.Context, f AssignmentFilter) ([]*model.Assignment, int, error) {
	f.Normalize()
	m.mu.RLock()
	var all []*model.Assignment
	for _, a := range m.assignments {
		if f.AgentID != "" && a.AgentID != f.AgentID {
			continue
		}
		if f.WorkItemID != "" && a.WorkItemID != f.WorkItemID {
			continue
		}
		if f.Status != "" && a.Status != f.Status {
			continue
		}
		all = append(all, a.Clone())
	}
	m.mu.RUnlock()

	sortNewestFirst(all)
	total := len(all)
	start := f.Offset()
	if start >= total {
		return []*model.Assignment{}, total, nil
	}
	end := start + f.PerPage
	if end > total {
		end = total
	}
	return all[start:end], total, nil
}

func (m *MemoryStore) AssignmentsByAgent(_ context.Context, agentID string) ([]*model.Assignment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.Assignment
	for _, a := range m.assignments {
		if a.AgentID == agentID {
			out = append(out, a.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) AddFeedback(_ context.Context, fb *model.Feedback) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.assignments[fb.AssignmentID]; !ok {
		return apperr.NotFound("assignment %s not found", fb.AssignmentID)
	}
	c := *fb
	m.feedback = append(m.feedback, &c)
	return nil
}

func (m *MemoryStore) FeedbackByAgent(_ context.Context, agentID string) ([]*model.Feedback, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.Feedback
	for _, fb := range m.feedback {
		if a, ok := m.assignments[fb.AssignmentID]; ok && a.AgentID == agentID {
			c := *fb
			out = append(out, &c)
		}
	}
	return out, nil
}

func (m *MemoryStore) SaveStatistics(_ context.Context, st *model.AgentStatistics) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *st
	m.statistics[st.AgentID] = &c
	return nil
}

func (m *MemoryStore) GetStatistics(_ context.Context, agentID string) (*model.AgentStatistics, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st, ok := m.statistics[agentID]
	if !ok {
		return nil, apperr.NotFound("statistics for agent %s not found", agentID)
	}
	c := *st
	return &c, nil
}

func endorsementKey(agentID, endorsedBy, skill string) string {
	return agentID + "\x00" + endorsedBy + "\x00" + strings.ToLower(skill)
}

func (m *MemoryStore) UpsertEndorsement(_ context.Context, e *model.SkillEndorsement) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *e
	m.endorsements[endorsementKey(e.AgentID, e.EndorsedByID, e.Skill)] = &c
	return nil
}

func (m *MemoryStore) EndorsementsFor(_ context.Context, agentID string) ([]*model.SkillEndorsement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.SkillEndorsement
	for _, e := range m.endorsements {
		if e.AgentID == agentID {
			c := *e
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Skill != out[j].Skill {
			return out[i].Skill < out[j].Skill
		}
		return out[i].EndorsedByID < out[j].EndorsedByID
	})
	return out, nil
}

// Commit validates every version and the one-active-per-work-item rule
// under a single lock, then applies the batch.
func (m *MemoryStore) Commit(_ context.Context, b *Batch) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, w := range b.Profiles {
		cur, ok := m.profiles[w.Profile.ID]
		if w.Insert {
			if ok {
				return ErrConflict
			}
			continue
		}
		if !ok || cur.Version != w.Profile.Version {
			return ErrConflict
		}
	}

	staged := make(map[string]*model.Assignment, len(b.Assignments))
	for _, w := range b.Assignments {
		a := w.Assignment
		cur, ok := m.assignments[a.ID]
		if w.Insert {
			if ok {
				return ErrConflict
			}
		} else if !ok || cur.Version != a.Version {
			return ErrConflict
		}
		staged[a.ID] = a
	}
	if len(staged) > 0 && !m.activeUnique(staged) {
		return ErrConflict
	}

	for _, w := range b.Profiles {
		w.Profile.Version++
		m.profiles[w.Profile.ID] = w.Profile.Clone()
	}
	for _, w := range b.Assignments {
		w.Assignment.Version++
		m.assignments[w.Assignment.ID] = w.Assignment.Clone()
	}
	return nil
}

// activeUnique checks the post-commit state for two active assignments on
// the same work item.
func (m *MemoryStore) activeUnique(staged map[string]*model.Assignment) bool {
	active := make(map[string]string)
	check := func(a *model.Assignment) bool {
		if a.Status != model.StatusActive {
			return true
		}
		if other, ok := active[a.WorkItemID]; ok && other != a.ID {
			return false
		}
		active[a.WorkItemID] = a.ID
		return true
	}
	for _, a := range staged {
		if !check(a) {
			return false
		}
	}
	for id, a := range m.assignments {
		if _, ok := staged[id]; ok {
			continue
		}
		if !check(a) {
			return false
		}
	}
	return true
}

func sortNewestFirst(as []*model.Assignment) {
	sort.Slice(as, func(i, j int) bool {
		if !as[i].AssignedAt.Equal(as[j].AssignedAt) {
			return as[i].AssignedAt.After(as[j].AssignedAt)
		}
		return as[i].ID > as[j].ID
	})
}
