package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/nidhogg/skillmatch/internal/model"
	"github.com/nidhogg/skillmatch/internal/repo"
)

const profileColumns = `id, org_id, name, skills, experience_level, performance_score,
	tasks_completed, avg_completion_time, current_workload_hours, max_weekly_hours,
	is_available, preferred_min, preferred_max, version, created_at, updated_at`

func scanProfile(row pgx.Row) (*model.AgentProfile, error) {
	var p model.AgentProfile
	err := row.Scan(
		&p.ID, &p.OrgID, &p.Name, &p.Skills, &p.ExperienceLevel, &p.PerformanceScore,
		&p.TasksCompleted, &p.AvgCompletionTime, &p.CurrentWorkloadHours, &p.MaxWeeklyHours,
		&p.IsAvailable, &p.PreferredDifficulty.Min, &p.PreferredDifficulty.Max,
		&p.Version, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if p.Skills == nil {
		p.Skills = []string{}
	}
	return &p, nil
}

// GetProfile retrieves a single agent profile by ID.
func (s *Store) GetProfile(ctx context.Context, id string) (*model.AgentProfile, error) {
	p, err := scanProfile(s.db.QueryRow(ctx, `SELECT `+profileColumns+` FROM agent_profiles WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err, "agent", id)
	}
	return p, nil
}

// ListProfiles returns the profiles of an org ordered by id.
func (s *Store) ListProfiles(ctx context.Context, orgID string) ([]*model.AgentProfile, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+profileColumns+`
		FROM agent_profiles
		WHERE $1 = '' OR org_id = $1
		ORDER BY id`, orgID)
	if err != nil {
		return nil, fmt.Errorf("list profiles: %w", err)
	}
	defer rows.Close()

	var out []*model.AgentProfile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, fmt.Errorf("scan profile: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func insertProfile(ctx context.Context, tx pgx.Tx, p *model.AgentProfile) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO agent_profiles (`+profileColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		p.ID, p.OrgID, p.Name, textArray(p.Skills), p.ExperienceLevel, p.PerformanceScore,
		p.TasksCompleted, p.AvgCompletionTime, p.CurrentWorkloadHours, p.MaxWeeklyHours,
		p.IsAvailable, p.PreferredDifficulty.Min, p.PreferredDifficulty.Max,
		p.Version+1, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		if pgCode(err) == codeUniqueViolation {
			return repo.ErrConflict
		}
		return fmt.Errorf("insert profile %s: %w", p.ID, err)
	}
	return nil
}

func updateProfile(ctx context.Context, tx pgx.Tx, p *model.AgentProfile) error {
	tag, err := tx.Exec(ctx, `
		UPDATE agent_profiles SET
			org_id = $2, name = $3, skills = $4, experience_level = $5, performance_score = $6,
			tasks_completed = $7, avg_completion_time = $8, current_workload_hours = $9,
			max_weekly_hours = $10, is_available = $11, preferred_min = $12, preferred_max = $13,
			updated_at = $14, version = version + 1
		WHERE id = $1 AND version = $15`,
		p.ID, p.OrgID, p.Name, textArray(p.Skills), p.ExperienceLevel, p.PerformanceScore,
		p.TasksCompleted, p.AvgCompletionTime, p.CurrentWorkloadHours,
		p.MaxWeeklyHours, p.IsAvailable, p.PreferredDifficulty.Min, p.PreferredDifficulty.Max,
		p.UpdatedAt, p.Version,
	)
	if err != nil {
		return fmt.Errorf("update profile %s: %w", p.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return repo.ErrConflict
	}
	return nil
}
