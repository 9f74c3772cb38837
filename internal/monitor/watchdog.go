package monitor

import (
	"context"
	"log/slog"
	"time"

	"github.com/farmstream/bchwatch/internal/config"
)

func (m *Monitor) watchdogLoop(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(config.WatchdogInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.checkConnection(ctx)
		}
	}
}

// checkConnection pings the server and, on failure, rebuilds the connection
// and every subscription on it. clientMu is held across the whole sequence so
// no worker or reconcile pass can race a request onto the dying socket or
// onto the new one before its subscriptions exist.
func (m *Monitor) checkConnection(ctx context.Context) {
	m.clientMu.Lock()
	defer m.clientMu.Unlock()

	err := m.client.Ping(ctx)
	if err == nil {
		return
	}
	slog.Warn("electrum ping failed, reconnecting", "error", err)

	m.client.Close()
	time.Sleep(config.WatchdogReconnectDelay)

	if err := m.client.Connect(ctx); err != nil {
		slog.Error("electrum reconnect failed, will retry",
			"error", err, "nextAttempt", config.WatchdogInterval)
		return
	}

	m.restoreLocked(ctx)
}

// restoreLocked re-establishes header and address subscriptions on a freshly
// connected client. Each address is re-primed from a fresh unspent listing:
// outputs that arrived during the outage become part of the baseline rather
// than payment events, which keeps a reconnect from double-crediting anything
// the server already reported.
func (m *Monitor) restoreLocked(ctx context.Context) {
	m.registerHandlers()

	if _, err := m.client.SubscribeHeaders(ctx); err != nil {
		slog.Warn("header resubscribe failed", "error", err)
	}

	m.mu.Lock()
	addrs := make([]string, 0, len(m.subscribed))
	for addr := range m.subscribed {
		addrs = append(addrs, addr)
	}
	m.mu.Unlock()

	for _, addr := range addrs {
		m.primeLocked(ctx, addr)
	}

	slog.Info("electrum connection restored", "resubscribed", len(addrs))
}
