package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/farmstream/bchwatch/internal/models"
)

// LookupDevice returns the display columns for a device. A missing row yields
// nil.
func (s *Store) LookupDevice(ctx context.Context, deviceID int64) (*models.Device, error) {
	d := &models.Device{}
	err := s.conn.QueryRowContext(ctx,
		`SELECT id, alias, stream_name FROM devices WHERE id = $1`, deviceID,
	).Scan(&d.ID, &d.Alias, &d.StreamName)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up device %d: %w", deviceID, err)
	}
	return d, nil
}

// LookupDeviceFeedPrice returns the EUR price the device charges per feeding.
// A missing row or a NULL price both yield nil.
func (s *Store) LookupDeviceFeedPrice(ctx context.Context, deviceID int64) (*float64, error) {
	var price *float64
	err := s.conn.QueryRowContext(ctx,
		`SELECT crypto_feed_price FROM devices WHERE id = $1`, deviceID,
	).Scan(&price)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up feed price for device %d: %w", deviceID, err)
	}
	return price, nil
}

// ApplyFeeding bumps both feeding counters and stamps the feeding time.
func (s *Store) ApplyFeeding(ctx context.Context, deviceID int64, now time.Time) error {
	result, err := s.conn.ExecContext(ctx, `
		UPDATE devices
		SET total_feedings_today = total_feedings_today + 1,
		    total_feedings = total_feedings + 1,
		    last_feeding = $1
		WHERE id = $2`,
		now, deviceID,
	)
	if err != nil {
		return fmt.Errorf("failed to record feeding for device %d: %w", deviceID, err)
	}

	affected, _ := result.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("device %d not found", deviceID)
	}

	slog.Info("feeding recorded", "deviceID", deviceID)
	return nil
}
