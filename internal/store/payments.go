package store

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/farmstream/bchwatch/internal/models"
)

// InsertPayment appends a ledger row. succeeded_at is assigned server-side.
func (s *Store) InsertPayment(ctx context.Context, p *models.PaymentRecord) error {
	_, err := s.conn.ExecContext(ctx, `
		INSERT INTO bchpayment (tx_id, address, amount, reference, description, euro_amount, usd_amount, succeeded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())`,
		p.TxID, p.Address, p.AmountSats, p.Reference, p.Description, p.EuroAmount, p.UsdAmount,
	)
	if err != nil {
		return fmt.Errorf("failed to insert payment %s: %w", p.TxID, err)
	}

	slog.Info("payment recorded",
		"txID", p.TxID,
		"address", p.Address,
		"amountSats", p.AmountSats,
		"reference", p.Reference,
	)
	return nil
}

// RecentPayments returns the newest ledger rows, most recent first.
func (s *Store) RecentPayments(ctx context.Context, limit int) ([]models.PaymentRecord, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT tx_id, address, amount, reference, description, euro_amount, usd_amount, succeeded_at
		FROM bchpayment
		ORDER BY succeeded_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list recent payments: %w", err)
	}
	defer rows.Close()

	var payments []models.PaymentRecord
	for rows.Next() {
		var p models.PaymentRecord
		if err := rows.Scan(&p.TxID, &p.Address, &p.AmountSats, &p.Reference, &p.Description, &p.EuroAmount, &p.UsdAmount, &p.SucceededAt); err != nil {
			return nil, fmt.Errorf("failed to scan payment row: %w", err)
		}
		payments = append(payments, p)
	}
	return payments, rows.Err()
}
