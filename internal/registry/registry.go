// Package registry maintains the in-memory watch list, kept current by a
// Postgres LISTEN/NOTIFY channel fed from row triggers on the watch table.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/lib/pq"

	"github.com/farmstream/bchwatch/internal/config"
	"github.com/farmstream/bchwatch/internal/models"
)

// Loader performs full snapshots of the watch table.
type Loader interface {
	LoadWatches(ctx context.Context) ([]models.WatchedAddress, error)
}

// changeEvent is the JSON payload emitted by the watch-table trigger.
type changeEvent struct {
	Action     string    `json:"action"`
	Address    string    `json:"address"`
	UserID     *int64    `json:"user_id"`
	DeviceID   *int64    `json:"device_id"`
	CreatedAt  time.Time `json:"created_at"`
	Threshold  *int64    `json:"threshold"`
	EuroAmount *float64  `json:"euro_amount"`
}

// Registry mirrors the watch table in memory. Row changes stream in over the
// notification channel; anything the stream cannot express precisely falls
// back to a full reload.
type Registry struct {
	dsn     string
	channel string
	loader  Loader

	mu      sync.RWMutex
	watches map[string]models.WatchedAddress

	listener *pq.Listener
	stop     chan struct{}
	done     chan struct{}
}

// New creates a registry. The dsn is used for the dedicated notification
// connection; regular reads go through the loader.
func New(dsn, channel string, loader Loader) *Registry {
	return &Registry{
		dsn:     dsn,
		channel: channel,
		loader:  loader,
		watches: make(map[string]models.WatchedAddress),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// LoadAll replaces the in-memory map with a full snapshot of the watch table.
func (r *Registry) LoadAll(ctx context.Context) error {
	rows, err := r.loader.LoadWatches(ctx)
	if err != nil {
		return fmt.Errorf("failed to load watch table: %w", err)
	}

	fresh := make(map[string]models.WatchedAddress, len(rows))
	for _, w := range rows {
		fresh[w.Address] = w
	}

	r.mu.Lock()
	r.watches = fresh
	r.mu.Unlock()

	slog.Info("watch table loaded", "count", len(fresh))
	return nil
}

// Start opens the notification channel and launches the listener loop. Call
// LoadAll first so the map starts from the current table contents.
func (r *Registry) Start(ctx context.Context) error {
	r.listener = pq.NewListener(r.dsn, config.RegistryReconnectDelay, config.RegistryReconnectDelay, listenerEvent)

	if err := r.listener.Listen(r.channel); err != nil {
		r.listener.Close()
		return fmt.Errorf("failed to listen on channel %q: %w", r.channel, err)
	}

	slog.Info("registry listening for changes", "channel", r.channel)

	go r.run(ctx)
	return nil
}

// Stop terminates the listener loop and closes the notification connection.
func (r *Registry) Stop() {
	close(r.stop)
	if r.listener != nil {
		r.listener.Close()
	}

	select {
	case <-r.done:
	case <-time.After(2 * time.Second):
		slog.Warn("registry loop did not stop in time")
	}
}

func listenerEvent(ev pq.ListenerEventType, err error) {
	switch ev {
	case pq.ListenerEventConnected:
		slog.Info("registry listener connected")
	case pq.ListenerEventReconnected:
		slog.Info("registry listener reconnected")
	case pq.ListenerEventDisconnected:
		slog.Warn("registry listener disconnected", "error", err)
	case pq.ListenerEventConnectionAttemptFailed:
		slog.Warn("registry listener reconnect attempt failed", "error", err)
	}
}

func (r *Registry) run(ctx context.Context) {
	defer close(r.done)

	for {
		select {
		case n, ok := <-r.listener.Notify:
			if !ok {
				return
			}
			if n == nil {
				// pq delivers nil after an automatic reconnect. The map is
				// kept as is; the monitor converges from it on the next sync
				// tick and row changes keep flowing on the new connection.
				slog.Warn("registry channel re-established")
				continue
			}
			r.apply(ctx, n.Extra)
		case <-time.After(config.RegistryPingInterval):
			go func() {
				if err := r.listener.Ping(); err != nil {
					slog.Warn("registry listener ping failed", "error", err)
				}
			}()
		case <-r.stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

// apply folds one change payload into the map. Undecodable payloads and
// unknown actions fall back to a full reload.
func (r *Registry) apply(ctx context.Context, payload string) {
	var ev changeEvent
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		slog.Warn("invalid change payload, reloading watch table", "error", err)
		r.reload(ctx)
		return
	}

	if ev.Address == "" {
		slog.Warn("change payload missing address, reloading watch table", "action", ev.Action)
		r.reload(ctx)
		return
	}

	switch strings.ToUpper(ev.Action) {
	case "INSERT", "UPDATE":
		w := models.WatchedAddress{
			Address:       ev.Address,
			CreatedAt:     ev.CreatedAt,
			UserID:        ev.UserID,
			DeviceID:      ev.DeviceID,
			ThresholdSats: ev.Threshold,
			EuroAmount:    ev.EuroAmount,
		}
		r.mu.Lock()
		r.watches[ev.Address] = w
		r.mu.Unlock()

		slog.Info("watch upserted", "address", ev.Address, "action", ev.Action)
	case "DELETE":
		r.mu.Lock()
		delete(r.watches, ev.Address)
		r.mu.Unlock()

		slog.Info("watch removed", "address", ev.Address)
	default:
		slog.Warn("unknown change action, reloading watch table", "action", ev.Action)
		r.reload(ctx)
	}
}

func (r *Registry) reload(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, config.RegistryReloadTimeout)
	defer cancel()

	if err := r.LoadAll(ctx); err != nil {
		slog.Error("fallback reload failed", "error", err)
	}
}

// Snapshot returns an independent copy of every watched address.
func (r *Registry) Snapshot() []models.WatchedAddress {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]models.WatchedAddress, 0, len(r.watches))
	for _, w := range r.watches {
		out = append(out, w)
	}
	return out
}

// Get returns the watch row for an address.
func (r *Registry) Get(address string) (models.WatchedAddress, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	w, ok := r.watches[address]
	return w, ok
}

// Count returns the number of watched addresses.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.watches)
}
