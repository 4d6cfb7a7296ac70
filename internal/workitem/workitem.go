// Package workitem is the read-only view of the external work-item store.
package workitem

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/nidhogg/skillmatch/internal/apperr"
	"github.com/nidhogg/skillmatch/internal/model"
)

// Source reads work items.
type Source interface {
	// Get returns apperr.ErrNotFound for unknown ids.
	Get(ctx context.Context, id string) (*model.WorkItem, error)
	// ListOpen returns assignable items in orgID ordered by priority desc,
	// due date asc (undated last), then id.
	ListOpen(ctx context.Context, orgID string) ([]*model.WorkItem, error)
}

// Writer seeds or replaces work items.
type Writer interface {
	Put(ctx context.Context, item *model.WorkItem) error
}

// Normalize validates item and fills defaults.
func Normalize(item *model.WorkItem) error {
	if strings.TrimSpace(item.ID) == "" {
		return apperr.Validation("work item id is required")
	}
	if item.Difficulty < 1 || item.Difficulty > 10 {
		return apperr.Validation("difficulty must be between 1 and 10, got %d", item.Difficulty)
	}
	if item.Priority == "" {
		item.Priority = model.PriorityMedium
	}
	if !item.Priority.Valid() {
		return apperr.Validation("unknown priority %q", item.Priority)
	}
	if item.Status == "" {
		item.Status = model.WorkItemOpen
	}
	switch item.Status {
	case model.WorkItemOpen, model.WorkItemInProgress, model.WorkItemDone, model.WorkItemCancelled:
	default:
		return apperr.Validation("unknown work item status %q", item.Status)
	}
	return nil
}

func priorityRank(p model.Priority) int {
	switch p {
	case model.PriorityHigh:
		return 2
	case model.PriorityMedium:
		return 1
	}
	return 0
}

// SortForSweep orders items the way ListOpen promises.
func SortForSweep(items []*model.WorkItem) {
	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if pa, pb := priorityRank(a.Priority), priorityRank(b.Priority); pa != pb {
			return pa > pb
		}
		switch {
		case a.DueAt != nil && b.DueAt != nil && !a.DueAt.Equal(*b.DueAt):
			return a.DueAt.Before(*b.DueAt)
		case a.DueAt != nil && b.DueAt == nil:
			return true
		case a.DueAt == nil && b.DueAt != nil:
			return false
		}
		return a.ID < b.ID
	})
}

func clone(w *model.WorkItem) *model.WorkItem {
	c := *w
	c.RequiredSkills = append([]string(nil), w.RequiredSkills...)
	if w.DueAt != nil {
		d := *w.DueAt
		c.DueAt = &d
	}
	return &c
}

// MemorySource keeps work items in a map.
type MemorySource struct {
	mu    sync.RWMutex
	items map[string]*model.WorkItem
}

// NewMemorySource creates an empty source.
func NewMemorySource() *MemorySource {
	return &MemorySource{items: make(map[string]*model.WorkItem)}
}

func (m *MemorySource) Put(_ context.Context, item *model.WorkItem) error {
	if err := Normalize(item); err != nil {
		return err
	}
	m.mu.Lock()
	m.items[item.ID] = clone(item)
	m.mu.Unlock()
	return nil
}

func (m *MemorySource) Get(_ context.Context, id string) (*model.WorkItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	w, ok := m.items[id]
	if !ok {
		return nil, apperr.NotFound("work item %s not found", id)
	}
	return clone(w), nil
}

func (m *MemorySource) ListOpen(_ context.Context, orgID string) ([]*model.WorkItem, error) {
	m.mu.RLock()
	var out []*model.WorkItem
	for _, w := range m.items {
		if (orgID == "" || w.OrgID == orgID) && w.Status.Assignable() {
			out = append(out, clone(w))
		}
	}
	m.mu.RUnlock()
	SortForSweep(out)
	return out, nil
}
