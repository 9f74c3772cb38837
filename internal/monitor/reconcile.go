package monitor

import (
	"context"
	"log/slog"
	"time"

	"github.com/farmstream/bchwatch/internal/config"
	"github.com/farmstream/bchwatch/internal/models"
	"github.com/farmstream/bchwatch/internal/validate"
)

func (m *Monitor) reconcileLoop(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(config.SyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.reconcile(ctx)
		}
	}
}

// reconcile aligns the live subscription set with the registry. Additions are
// primed (unspent listing captured) before subscribing so pre-existing outputs
// are never reported as payments; removals are unsubscribed best-effort and
// their known-output state dropped.
func (m *Monitor) reconcile(ctx context.Context) {
	desired := make(map[string]struct{})
	for _, w := range m.watches.Snapshot() {
		desired[w.Address] = struct{}{}
	}

	m.mu.Lock()
	var toAdd, toRemove []string
	for addr := range desired {
		if _, ok := m.subscribed[addr]; !ok {
			toAdd = append(toAdd, addr)
		}
	}
	for addr := range m.subscribed {
		if _, ok := desired[addr]; !ok {
			toRemove = append(toRemove, addr)
		}
	}
	m.mu.Unlock()

	for _, addr := range toRemove {
		m.clientMu.Lock()
		_, err := m.client.UnsubscribeAddress(ctx, addr)
		m.clientMu.Unlock()
		if err != nil {
			// The server forgets us on disconnect anyway.
			slog.Debug("unsubscribe failed", "address", addr, "error", err)
		}

		m.mu.Lock()
		delete(m.known, addr)
		m.mu.Unlock()
	}

	for _, addr := range toAdd {
		m.clientMu.Lock()
		m.primeLocked(ctx, addr)
		m.clientMu.Unlock()
	}

	// The set advances even when an individual subscribe failed: a flapping
	// address must not be retried every two seconds. The watchdog's restore
	// pass picks up stragglers after the next reconnect.
	m.mu.Lock()
	m.subscribed = desired
	m.mu.Unlock()

	if len(toAdd) > 0 || len(toRemove) > 0 {
		slog.Info("watch set reconciled",
			"monitoring", len(desired),
			"added", len(toAdd),
			"removed", len(toRemove),
		)
	}
}

// primeLocked records the address's current unspent outputs as already seen,
// then subscribes to it. Caller holds clientMu: the listing and the subscribe
// must hit the same connection, or a notification could slip between them on
// a socket we no longer read.
func (m *Monitor) primeLocked(ctx context.Context, addr string) {
	if err := validate.Address(addr, m.cfg.Network); err != nil {
		slog.Warn("skipping invalid watched address", "address", addr, "error", err)
		return
	}

	if err := m.primeLimiter.Wait(ctx); err != nil {
		return
	}

	utxos, err := m.client.ListUnspent(ctx, addr)
	if err != nil {
		slog.Warn("priming listunspent failed, starting from empty set",
			"address", addr, "error", err)
		utxos = nil
	}

	keys := make(map[models.UtxoKey]struct{}, len(utxos))
	for _, u := range utxos {
		keys[models.UtxoKey{TxHash: u.TxHash, TxPos: u.TxPos}] = struct{}{}
	}

	m.mu.Lock()
	m.known[addr] = keys
	m.mu.Unlock()

	if _, err := m.client.SubscribeAddress(ctx, addr); err != nil {
		slog.Warn("subscribe failed", "address", addr, "error", err)
		return
	}

	slog.Debug("address primed", "address", addr, "existingOutputs", len(keys))
}
