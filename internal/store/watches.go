package store

import (
	"context"
	"fmt"

	"github.com/farmstream/bchwatch/internal/models"
)

// LoadWatches returns every row of the watch table.
func (s *Store) LoadWatches(ctx context.Context) ([]models.WatchedAddress, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT address, created_at, user_id, device_id, threshold, euro_amount
		FROM bch`)
	if err != nil {
		return nil, fmt.Errorf("failed to load watches: %w", err)
	}
	defer rows.Close()

	var watches []models.WatchedAddress
	for rows.Next() {
		var w models.WatchedAddress
		if err := rows.Scan(&w.Address, &w.CreatedAt, &w.UserID, &w.DeviceID, &w.ThresholdSats, &w.EuroAmount); err != nil {
			return nil, fmt.Errorf("failed to scan watch row: %w", err)
		}
		watches = append(watches, w)
	}
	return watches, rows.Err()
}
