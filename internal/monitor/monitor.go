// Package monitor drives payment detection: it keeps the Electrum
// subscription set aligned with the watched-address registry, diffs unspent
// listings when the server reports address activity, and turns each new
// output into a recorded payment with the grain and feeding side effects
// applied.
package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/ethereum/go-ethereum/event"
	"github.com/farmstream/bchwatch/internal/config"
	"github.com/farmstream/bchwatch/internal/electrum"
	"github.com/farmstream/bchwatch/internal/grain"
	"github.com/farmstream/bchwatch/internal/models"
)

// ElectrumClient is the slice of the Electrum client the monitor drives.
type ElectrumClient interface {
	Connect(ctx context.Context) error
	Close()
	Ping(ctx context.Context) error
	OnNotification(method string, handler electrum.NotificationHandler)
	SubscribeHeaders(ctx context.Context) (*electrum.Header, error)
	SubscribeAddress(ctx context.Context, address string) (*string, error)
	UnsubscribeAddress(ctx context.Context, address string) (bool, error)
	ListUnspent(ctx context.Context, address string) ([]electrum.UTXO, error)
}

// PaymentStore is the persistence surface the qualification pipeline needs.
type PaymentStore interface {
	LookupUsername(ctx context.Context, userID int64) (*string, error)
	ApplyGrainReward(ctx context.Context, userID, grainDelta int64) error
	LookupDevice(ctx context.Context, deviceID int64) (*models.Device, error)
	LookupDeviceFeedPrice(ctx context.Context, deviceID int64) (*float64, error)
	ApplyFeeding(ctx context.Context, deviceID int64, now time.Time) error
	InsertPayment(ctx context.Context, p *models.PaymentRecord) error
}

// PriceSource supplies cached BCH spot prices. ok is false when no quote is
// available; callers must degrade rather than block.
type PriceSource interface {
	Eur() (float64, bool)
	Usd() (float64, bool)
}

// WatchSource exposes the in-memory registry of watched addresses.
type WatchSource interface {
	Snapshot() []models.WatchedAddress
	Get(address string) (models.WatchedAddress, bool)
}

// Monitor owns the subscription lifecycle and the detection worker pool.
//
// Two locks with distinct jobs: clientMu serializes Electrum usage so the
// watchdog can swap the underlying connection without a request landing on a
// half-closed socket, and mu guards the subscription bookkeeping (the
// subscribed set and the per-address known-output sets).
type Monitor struct {
	cfg     *config.Config
	client  ElectrumClient
	store   PaymentStore
	prices  PriceSource
	watches WatchSource
	rewards *grain.Calculator

	clientMu sync.Mutex

	mu         sync.Mutex
	subscribed map[string]struct{}
	known      map[string]map[models.UtxoKey]struct{}

	primeLimiter *rate.Limiter

	workers []chan notifyJob
	events  chan models.PaymentEvent
	feed    event.Feed

	wg       sync.WaitGroup
	stop     chan struct{}
	stopOnce sync.Once
	started  time.Time
}

// New creates a Monitor wired to the given collaborators. Call Start to begin
// watching.
func New(
	cfg *config.Config,
	client ElectrumClient,
	store PaymentStore,
	prices PriceSource,
	watches WatchSource,
	rewards *grain.Calculator,
) *Monitor {
	m := &Monitor{
		cfg:          cfg,
		client:       client,
		store:        store,
		prices:       prices,
		watches:      watches,
		rewards:      rewards,
		subscribed:   make(map[string]struct{}),
		known:        make(map[string]map[models.UtxoKey]struct{}),
		primeLimiter: rate.NewLimiter(rate.Limit(config.PrimingRequestsPerSec), 1),
		workers:      make([]chan notifyJob, cfg.MonitorWorkers),
		events:       make(chan models.PaymentEvent, config.PaymentEventBuffer),
		stop:         make(chan struct{}),
	}
	for i := range m.workers {
		m.workers[i] = make(chan notifyJob, config.WorkerQueueSize)
	}

	slog.Info("monitor initialized",
		"workers", len(m.workers),
		"syncInterval", config.SyncInterval,
		"graceWindow", config.GraceWindow,
	)
	return m
}

// Start registers notification handlers, subscribes to block headers, performs
// the initial priming pass over the registry, and launches the background
// loops. The client must already be connected.
func (m *Monitor) Start(ctx context.Context) error {
	m.started = time.Now().UTC()

	// A. Handlers must be in place before the first subscription, otherwise
	// an early notification is dropped on the floor.
	m.registerHandlers()

	m.clientMu.Lock()
	header, err := m.client.SubscribeHeaders(ctx)
	m.clientMu.Unlock()
	if err != nil {
		return fmt.Errorf("failed to subscribe to headers: %w", err)
	}
	if header != nil {
		slog.Info("header subscription established", "tipHeight", header.Height)
	}

	// B. Detection workers first so priming-time notifications have a home.
	for _, jobs := range m.workers {
		m.wg.Add(1)
		go m.worker(ctx, jobs)
	}
	m.wg.Add(1)
	go m.forwardEvents()

	// C. Prime and subscribe everything the registry already holds.
	m.reconcile(ctx)

	// D. Background maintenance.
	m.wg.Add(1)
	go m.reconcileLoop(ctx)
	m.wg.Add(1)
	go m.watchdogLoop(ctx)

	slog.Info("monitor started", "watching", m.SubscribedCount())
	return nil
}

// Stop signals all goroutines and waits up to the shutdown timeout for them
// to drain. Queued notification jobs that have not started are abandoned; the
// next unspent listing for those addresses covers the gap.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() { close(m.stop) })

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		slog.Info("monitor stopped")
	case <-time.After(config.ShutdownTimeout):
		slog.Warn("monitor shutdown timed out", "timeout", config.ShutdownTimeout)
	}
}

// SubscribedCount returns the number of addresses currently subscribed.
func (m *Monitor) SubscribedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subscribed)
}

// KnownOutputCount returns the total number of tracked unspent outputs across
// all watched addresses. Used by the status endpoint.
func (m *Monitor) KnownOutputCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, keys := range m.known {
		n += len(keys)
	}
	return n
}

// StartedAt returns the UTC instant Start was called.
func (m *Monitor) StartedAt() time.Time {
	return m.started
}
