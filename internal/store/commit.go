package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/nidhogg/skillmatch/internal/repo"
)

// Commit applies a batch in one transaction. Updates are version guarded and
// run before inserts so a retired assignment frees its work item's slot in
// the one-active index before the replacement lands.
func (s *Store) Commit(ctx context.Context, b *repo.Batch) error {
	if b.Empty() {
		return nil
	}
	err := pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		for _, w := range b.Profiles {
			if w.Insert {
				if err := insertProfile(ctx, tx, w.Profile); err != nil {
					return err
				}
			} else if err := updateProfile(ctx, tx, w.Profile); err != nil {
				return err
			}
		}
		for _, w := range b.Assignments {
			if !w.Insert {
				if err := updateAssignment(ctx, tx, w.Assignment); err != nil {
					return err
				}
			}
		}
		for _, w := range b.Assignments {
			if w.Insert {
				if err := insertAssignment(ctx, tx, w.Assignment); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, repo.ErrConflict) {
			return err
		}
		if pgCode(err) == codeUniqueViolation {
			return repo.ErrConflict
		}
		return fmt.Errorf("commit batch: %w", err)
	}

	for _, w := range b.Profiles {
		w.Profile.Version++
	}
	for _, w := range b.Assignments {
		w.Assignment.Version++
	}
	return nil
}
