package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/nidhogg/skillmatch/internal/model"
	"github.com/nidhogg/skillmatch/internal/workitem"
)

// WorkItems reads and seeds the work_items table.
type WorkItems struct {
	s *Store
}

var (
	_ workitem.Source = (*WorkItems)(nil)
	_ workitem.Writer = (*WorkItems)(nil)
)

// WorkItems returns the work-item source sharing this store's pool.
func (s *Store) WorkItems() *WorkItems {
	return &WorkItems{s: s}
}

const workItemColumns = `id, org_id, title, required_skills, difficulty, priority, due_at, status`

func scanWorkItem(row pgx.Row) (*model.WorkItem, error) {
	var w model.WorkItem
	if err := row.Scan(&w.ID, &w.OrgID, &w.Title, &w.RequiredSkills, &w.Difficulty, &w.Priority, &w.DueAt, &w.Status); err != nil {
		return nil, err
	}
	if w.RequiredSkills == nil {
		w.RequiredSkills = []string{}
	}
	if w.DueAt != nil {
		t := w.DueAt.UTC()
		w.DueAt = &t
	}
	return &w, nil
}

func (w *WorkItems) Get(ctx context.Context, id string) (*model.WorkItem, error) {
	item, err := scanWorkItem(w.s.db.QueryRow(ctx, `SELECT `+workItemColumns+` FROM work_items WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err, "work item", id)
	}
	return item, nil
}

func (w *WorkItems) ListOpen(ctx context.Context, orgID string) ([]*model.WorkItem, error) {
	rows, err := w.s.db.Query(ctx, `
		SELECT `+workItemColumns+`
		FROM work_items
		WHERE ($1 = '' OR org_id = $1) AND status NOT IN ('done', 'cancelled')
		ORDER BY id`, orgID)
	if err != nil {
		return nil, fmt.Errorf("list open work items: %w", err)
	}
	defer rows.Close()

	var out []*model.WorkItem
	for rows.Next() {
		item, err := scanWorkItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan work item: %w", err)
		}
		out = append(out, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	workitem.SortForSweep(out)
	return out, nil
}

func (w *WorkItems) Put(ctx context.Context, item *model.WorkItem) error {
	if err := workitem.Normalize(item); err != nil {
		return err
	}
	_, err := w.s.db.Exec(ctx, `
		INSERT INTO work_items (`+workItemColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			org_id = EXCLUDED.org_id,
			title = EXCLUDED.title,
			required_skills = EXCLUDED.required_skills,
			difficulty = EXCLUDED.difficulty,
			priority = EXCLUDED.priority,
			due_at = EXCLUDED.due_at,
			status = EXCLUDED.status`,
		item.ID, item.OrgID, item.Title, textArray(item.RequiredSkills), item.Difficulty,
		string(item.Priority), item.DueAt, string(item.Status),
	)
	if err != nil {
		return fmt.Errorf("save work item %s: %w", item.ID, err)
	}
	return nil
}
