package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// DeleteExpiredWatches removes watch rows older than maxAge that never
// produced a payment, and returns the number of rows removed. Addresses with
// a ledger entry are kept so their history stays resolvable.
func (s *Store) DeleteExpiredWatches(ctx context.Context, maxAge time.Duration) (int64, error) {
	result, err := s.conn.ExecContext(ctx, `
		DELETE FROM bch
		WHERE created_at < NOW() - ($1 * interval '1 second')
		  AND address NOT IN (SELECT address FROM bchpayment)`,
		int64(maxAge.Seconds()),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired watches: %w", err)
	}

	removed, _ := result.RowsAffected()
	if removed > 0 {
		slog.Info("expired watches removed", "count", removed)
	}
	return removed, nil
}
