package models

import (
	"fmt"
	"time"
)

// PaymentStatus is the confirmation state of a detected output.
type PaymentStatus string

const (
	StatusConfirmed   PaymentStatus = "confirmed"
	StatusUnconfirmed PaymentStatus = "unconfirmed"
	StatusUnknown     PaymentStatus = "unknown"
)

// StatusFromHeight maps an Electrum height field to a PaymentStatus.
// Height 0 means the output is in the mempool; a positive height means mined.
func StatusFromHeight(height int64) PaymentStatus {
	switch {
	case height == 0:
		return StatusUnconfirmed
	case height > 0:
		return StatusConfirmed
	default:
		return StatusUnknown
	}
}

// WatchedAddress is one row of the bch watch table: an address the monitor
// subscribes to, linked to exactly one of a user or a device.
type WatchedAddress struct {
	Address       string    `json:"address"`
	CreatedAt     time.Time `json:"created_at"`
	UserID        *int64    `json:"user_id,omitempty"`
	DeviceID      *int64    `json:"device_id,omitempty"`
	ThresholdSats *int64    `json:"threshold,omitempty"`
	EuroAmount    *float64  `json:"euro_amount,omitempty"`
}

// Age returns how long ago the watch row was created.
func (w WatchedAddress) Age(now time.Time) time.Duration {
	return now.Sub(w.CreatedAt)
}

// UtxoKey identifies a single unspent output.
type UtxoKey struct {
	TxHash string
	TxPos  uint32
}

// PaymentEvent is synthesized for each output present in a fresh unspent
// listing but absent from the known set of its address.
type PaymentEvent struct {
	Address   string        `json:"address"`
	TxHash    string        `json:"tx_hash"`
	TxPos     uint32        `json:"tx_pos"`
	ValueSats int64         `json:"value_sats"`
	ValueBCH  float64       `json:"value_bch"`
	Height    int64         `json:"height"`
	Status    PaymentStatus `json:"status"`
}

// Key returns the output identity of the event.
func (e PaymentEvent) Key() UtxoKey {
	return UtxoKey{TxHash: e.TxHash, TxPos: e.TxPos}
}

// PaymentRecord is the persisted ledger row for a processed payment.
// SucceededAt is assigned server-side on insert.
type PaymentRecord struct {
	TxID        string   `json:"tx_id"`
	Address     string   `json:"address"`
	AmountSats  int64    `json:"amount"`
	Reference   string   `json:"reference"`
	Description string   `json:"description"`
	EuroAmount  *float64 `json:"euro_amount,omitempty"`
	UsdAmount   *float64 `json:"usd_amount,omitempty"`
	SucceededAt string   `json:"succeeded_at,omitempty"`
}

// Device holds the device columns the qualification pipeline reads.
type Device struct {
	ID         int64   `json:"id"`
	Alias      *string `json:"alias,omitempty"`
	StreamName *string `json:"stream_name,omitempty"`
}

// Reference returns the ledger reference for a device payment: the alias
// when set and non-empty, otherwise the numeric id.
func (d Device) Reference() string {
	if d.Alias != nil && *d.Alias != "" {
		return *d.Alias
	}
	return fmt.Sprintf("%d", d.ID)
}

// Tier is one band of the grain reward table. MaxEUR nil means unbounded.
type Tier struct {
	MinEUR     float64  `json:"min_eur"`
	MaxEUR     *float64 `json:"max_eur"`
	Multiplier float64  `json:"multiplier"`
}
