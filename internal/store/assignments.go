package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/nidhogg/skillmatch/internal/model"
	"github.com/nidhogg/skillmatch/internal/repo"
)

const assignmentColumns = `id, work_item_id, agent_id, assigner_id, strategy,
	skill_match, workload_score, performance_score, experience_score,
	difficulty_adjustment, overall_score, difficulty, workload_utilization,
	estimated_completion_hours, actual_completion_hours, reason, status,
	assigned_at, completed_at, reassigned_at, reassignment_reason,
	cancelled_at, cancellation_reason, version`

func scanAssignment(row pgx.Row) (*model.Assignment, error) {
	var a model.Assignment
	err := row.Scan(
		&a.ID, &a.WorkItemID, &a.AgentID, &a.AssignerID, &a.Strategy,
		&a.SkillMatch, &a.WorkloadScore, &a.PerformanceScore, &a.ExperienceScore,
		&a.DifficultyAdjustment, &a.OverallScore, &a.Difficulty, &a.WorkloadUtilization,
		&a.EstimatedCompletionHours, &a.ActualCompletionHours, &a.Reason, &a.Status,
		&a.AssignedAt, &a.CompletedAt, &a.ReassignedAt, &a.ReassignmentReason,
		&a.CancelledAt, &a.CancellationReason, &a.Version,
	)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *Store) queryAssignments(ctx context.Context, sql string, args ...any) ([]*model.Assignment, error) {
	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query assignments: %w", err)
	}
	defer rows.Close()

	var out []*model.Assignment
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan assignment: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// GetAssignment retrieves a single assignment by ID.
func (s *Store) GetAssignment(ctx context.Context, id string) (*model.Assignment, error) {
	a, err := scanAssignment(s.db.QueryRow(ctx, `SELECT `+assignmentColumns+` FROM assignments WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err, "assignment", id)
	}
	return a, nil
}

// ActiveAssignment returns the active assignment of a work item, or nil.
func (s *Store) ActiveAssignment(ctx context.Context, workItemID string) (*model.Assignment, error) {
	a, err := scanAssignment(s.db.QueryRow(ctx, `
		SELECT `+assignmentColumns+` FROM assignments
		WHERE work_item_id = $1 AND status = 'active'`, workItemID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get active assignment %s: %w", workItemID, err)
	}
	return a, nil
}

// ListAssignments returns one page of matching assignments, newest first.
func (s *Store) ListAssignments(ctx context.Context, f repo.AssignmentFilter) ([]*model.Assignment, int, error) {
	f.Normalize()
	var (
		conds []string
		args  []any
	)
	add := func(col string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	if f.AgentID != "" {
		add("agent_id", f.AgentID)
	}
	if f.WorkItemID != "" {
		add("work_item_id", f.WorkItemID)
	}
	if f.Status != "" {
		add("status", string(f.Status))
	}
	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int
	if err := s.db.QueryRow(ctx, `SELECT COUNT(*) FROM assignments`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count assignments: %w", err)
	}

	page := append(args, f.PerPage, f.Offset())
	out, err := s.queryAssignments(ctx, fmt.Sprintf(
		`SELECT %s FROM assignments%s ORDER BY assigned_at DESC, id DESC LIMIT $%d OFFSET $%d`,
		assignmentColumns, where, len(args)+1, len(args)+2), page...)
	if err != nil {
		return nil, 0, err
	}
	if out == nil {
		out = []*model.Assignment{}
	}
	return out, total, nil
}

// AssignmentsByAgent returns every assignment of an agent ordered by id.
func (s *Store) AssignmentsByAgent(ctx context.Context, agentID string) ([]*model.Assignment, error) {
	return s.queryAssignments(ctx, `SELECT `+assignmentColumns+` FROM assignments WHERE agent_id = $1 ORDER BY id`, agentID)
}

func insertAssignment(ctx context.Context, tx pgx.Tx, a *model.Assignment) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO assignments (`+assignmentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16,
		        $17, $18, $19, $20, $21, $22, $23, $24)`,
		a.ID, a.WorkItemID, a.AgentID, a.AssignerID, a.Strategy,
		a.SkillMatch, a.WorkloadScore, a.PerformanceScore, a.ExperienceScore,
		a.DifficultyAdjustment, a.OverallScore, a.Difficulty, a.WorkloadUtilization,
		a.EstimatedCompletionHours, a.ActualCompletionHours, a.Reason, string(a.Status),
		a.AssignedAt, a.CompletedAt, a.ReassignedAt, a.ReassignmentReason,
		a.CancelledAt, a.CancellationReason, a.Version+1,
	)
	if err != nil {
		if pgCode(err) == codeUniqueViolation {
			return repo.ErrConflict
		}
		return fmt.Errorf("insert assignment %s: %w", a.ID, err)
	}
	return nil
}

// updateAssignment writes the mutable lifecycle columns; scores and the
// binding itself never change after creation.
func updateAssignment(ctx context.Context, tx pgx.Tx, a *model.Assignment) error {
	tag, err := tx.Exec(ctx, `
		UPDATE assignments SET
			status = $2, actual_completion_hours = $3, completed_at = $4,
			reassigned_at = $5, reassignment_reason = $6,
			cancelled_at = $7, cancellation_reason = $8, version = version + 1
		WHERE id = $1 AND version = $9`,
		a.ID, string(a.Status), a.ActualCompletionHours, a.CompletedAt,
		a.ReassignedAt, a.ReassignmentReason, a.CancelledAt, a.CancellationReason, a.Version,
	)
	if err != nil {
		if pgCode(err) == codeUniqueViolation {
			return repo.ErrConflict
		}
		return fmt.Errorf("update assignment %s: %w", a.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return repo.ErrConflict
	}
	return nil
}
