// Package handlers implements the read-only ops endpoints: health and status
// probes, the live watch list, recent payments, and the SSE payment stream.
package handlers

import (
	"context"
	"database/sql"
	"time"

	"github.com/ethereum/go-ethereum/event"

	"github.com/farmstream/bchwatch/internal/models"
	"github.com/farmstream/bchwatch/internal/price"
)

// WatchSource is the registry view the handlers read.
type WatchSource interface {
	Snapshot() []models.WatchedAddress
	Count() int
}

// PaymentSource serves the recent payment ledger.
type PaymentSource interface {
	RecentPayments(ctx context.Context, limit int) ([]models.PaymentRecord, error)
}

// MonitorInfo reports the detection engine's internal counters.
type MonitorInfo interface {
	SubscribedCount() int
	KnownOutputCount() int
	StartedAt() time.Time
}

// EventSource delivers qualified payment events for streaming.
type EventSource interface {
	SubscribePayments(ch chan<- models.PaymentEvent) event.Subscription
}

// ElectrumInfo reports the upstream connection state.
type ElectrumInfo interface {
	Connected() bool
	ServerInfo() (software, protocol string)
}

// PriceInfo exposes the cached quote snapshot.
type PriceInfo interface {
	Snapshot() price.Snapshot
}

// DatabaseInfo exposes the SQL pool for stats reporting.
type DatabaseInfo interface {
	Conn() *sql.DB
}
