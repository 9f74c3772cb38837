package handlers

import (
	"net/http"

	"github.com/farmstream/bchwatch/internal/api/httputil"
	"github.com/farmstream/bchwatch/internal/config"
)

// HealthHandler returns a handler for GET /api/health.
func HealthHandler(cfg *config.Config, watches WatchSource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		httputil.JSON(w, http.StatusOK, map[string]any{
			"status":            "ok",
			"network":           cfg.Network,
			"watched_addresses": watches.Count(),
		})
	}
}
