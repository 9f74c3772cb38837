package handlers

import (
	"net/http"
	"time"

	"github.com/farmstream/bchwatch/internal/api/httputil"
	"github.com/farmstream/bchwatch/internal/config"
	"github.com/farmstream/bchwatch/internal/price"
)

type electrumStatus struct {
	Connected bool   `json:"connected"`
	Software  string `json:"software,omitempty"`
	Protocol  string `json:"protocol,omitempty"`
}

type databaseStatus struct {
	OpenConns int `json:"open_conns"`
	InUse     int `json:"in_use"`
	Idle      int `json:"idle"`
}

type statusResponse struct {
	Status           string         `json:"status"`
	Network          string         `json:"network"`
	UptimeSeconds    int64          `json:"uptime_seconds"`
	WatchedAddresses int            `json:"watched_addresses"`
	Subscriptions    int            `json:"subscriptions"`
	TrackedOutputs   int            `json:"tracked_outputs"`
	Electrum         electrumStatus `json:"electrum"`
	Prices           price.Snapshot `json:"prices"`
	Database         databaseStatus `json:"database"`
}

// StatusHandler returns a handler for GET /api/status with a full operational
// snapshot: upstream connection, subscription counters, cached prices, and
// database pool usage.
func StatusHandler(
	cfg *config.Config,
	conn ElectrumInfo,
	mon MonitorInfo,
	watches WatchSource,
	prices PriceInfo,
	db DatabaseInfo,
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		software, protocol := conn.ServerInfo()
		stats := db.Conn().Stats()

		resp := statusResponse{
			Status:           "ok",
			Network:          cfg.Network,
			UptimeSeconds:    int64(time.Since(mon.StartedAt()).Seconds()),
			WatchedAddresses: watches.Count(),
			Subscriptions:    mon.SubscribedCount(),
			TrackedOutputs:   mon.KnownOutputCount(),
			Electrum: electrumStatus{
				Connected: conn.Connected(),
				Software:  software,
				Protocol:  protocol,
			},
			Prices: prices.Snapshot(),
			Database: databaseStatus{
				OpenConns: stats.OpenConnections,
				InUse:     stats.InUse,
				Idle:      stats.Idle,
			},
		}

		httputil.JSON(w, http.StatusOK, resp)
	}
}
