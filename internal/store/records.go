package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nidhogg/skillmatch/internal/apperr"
	"github.com/nidhogg/skillmatch/internal/model"
)

// AddFeedback appends a feedback record. The assignment must exist.
func (s *Store) AddFeedback(ctx context.Context, fb *model.Feedback) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO assignment_feedback (id, assignment_id, difficulty_rating, skill_match_rating,
			workload_rating, comments, suggestions, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		fb.ID, fb.AssignmentID, fb.DifficultyRating, fb.SkillMatchRating,
		fb.WorkloadRating, fb.Comments, fb.Suggestions, fb.CreatedAt,
	)
	if err != nil {
		if pgCode(err) == codeForeignKeyViolation {
			return apperr.NotFound("assignment %s not found", fb.AssignmentID)
		}
		return fmt.Errorf("add feedback %s: %w", fb.AssignmentID, err)
	}
	return nil
}

// FeedbackByAgent returns feedback on any of an agent's assignments.
func (s *Store) FeedbackByAgent(ctx context.Context, agentID string) ([]*model.Feedback, error) {
	rows, err := s.db.Query(ctx, `
		SELECT f.id, f.assignment_id, f.difficulty_rating, f.skill_match_rating,
		       f.workload_rating, f.comments, f.suggestions, f.created_at
		FROM assignment_feedback f
		JOIN assignments a ON a.id = f.assignment_id
		WHERE a.agent_id = $1
		ORDER BY f.id`, agentID)
	if err != nil {
		return nil, fmt.Errorf("list feedback %s: %w", agentID, err)
	}
	defer rows.Close()

	var out []*model.Feedback
	for rows.Next() {
		var fb model.Feedback
		if err := rows.Scan(&fb.ID, &fb.AssignmentID, &fb.DifficultyRating, &fb.SkillMatchRating,
			&fb.WorkloadRating, &fb.Comments, &fb.Suggestions, &fb.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan feedback: %w", err)
		}
		out = append(out, &fb)
	}
	return out, rows.Err()
}

// SaveStatistics upserts an agent's derived statistics.
func (s *Store) SaveStatistics(ctx context.Context, st *model.AgentStatistics) error {
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encode statistics %s: %w", st.AgentID, err)
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO agent_statistics (agent_id, stats, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (agent_id) DO UPDATE SET stats = EXCLUDED.stats, updated_at = EXCLUDED.updated_at`,
		st.AgentID, data,
	)
	if err != nil {
		return fmt.Errorf("save statistics %s: %w", st.AgentID, err)
	}
	return nil
}

// GetStatistics returns saved statistics for an agent.
func (s *Store) GetStatistics(ctx context.Context, agentID string) (*model.AgentStatistics, error) {
	var data []byte
	if err := s.db.QueryRow(ctx, `SELECT stats FROM agent_statistics WHERE agent_id = $1`, agentID).Scan(&data); err != nil {
		return nil, notFound(err, "statistics for agent", agentID)
	}
	var st model.AgentStatistics
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("decode statistics %s: %w", agentID, err)
	}
	return &st, nil
}

// UpsertEndorsement writes an endorsement; the latest level wins.
func (s *Store) UpsertEndorsement(ctx context.Context, e *model.SkillEndorsement) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO skill_endorsements (agent_id, endorsed_by_id, skill, level, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (agent_id, endorsed_by_id, skill) DO UPDATE SET
			level = EXCLUDED.level,
			updated_at = EXCLUDED.updated_at`,
		e.AgentID, e.EndorsedByID, e.Skill, e.Level, e.UpdatedAt,
	)
	if err != nil {
		if pgCode(err) == codeForeignKeyViolation {
			return apperr.NotFound("agent %s not found", e.AgentID)
		}
		return fmt.Errorf("upsert endorsement %s/%s: %w", e.AgentID, e.Skill, err)
	}
	return nil
}

// EndorsementsFor returns an agent's endorsements ordered by skill and endorser.
func (s *Store) EndorsementsFor(ctx context.Context, agentID string) ([]*model.SkillEndorsement, error) {
	rows, err := s.db.Query(ctx, `
		SELECT agent_id, endorsed_by_id, skill, level, updated_at
		FROM skill_endorsements
		WHERE agent_id = $1
		ORDER BY skill, endorsed_by_id`, agentID)
	if err != nil {
		return nil, fmt.Errorf("list endorsements %s: %w", agentID, err)
	}
	defer rows.Close()

	var out []*model.SkillEndorsement
	for rows.Next() {
		var e model.SkillEndorsement
		if err := rows.Scan(&e.AgentID, &e.EndorsedByID, &e.Skill, &e.Level, &e.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan endorsement: %w", err)
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}
