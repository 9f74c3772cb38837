package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
)

// LookupUsername returns the username for a user id. A missing row or a NULL
// username both yield nil.
func (s *Store) LookupUsername(ctx context.Context, userID int64) (*string, error) {
	var username *string
	err := s.conn.QueryRowContext(ctx,
		`SELECT username FROM users WHERE id = $1`, userID,
	).Scan(&username)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up username for user %d: %w", userID, err)
	}
	return username, nil
}

// ApplyGrainReward adds grain to a user's balance, treating NULL as zero.
func (s *Store) ApplyGrainReward(ctx context.Context, userID, grainDelta int64) error {
	result, err := s.conn.ExecContext(ctx, `
		UPDATE users
		SET grain_balance = COALESCE(grain_balance, 0) + $1
		WHERE id = $2`,
		grainDelta, userID,
	)
	if err != nil {
		return fmt.Errorf("failed to apply grain reward for user %d: %w", userID, err)
	}

	affected, _ := result.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("user %d not found", userID)
	}

	slog.Info("grain reward applied", "userID", userID, "grain", grainDelta)
	return nil
}
