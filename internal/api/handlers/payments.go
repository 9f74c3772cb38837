package handlers

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/farmstream/bchwatch/internal/api/httputil"
	"github.com/farmstream/bchwatch/internal/config"
)

// RecentPaymentsHandler returns a handler for GET /api/payments/recent.
// The limit query parameter is clamped to [1, MaxRecentLimit] and defaults
// to DefaultRecentLimit.
func RecentPaymentsHandler(db PaymentSource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := queryInt(r, "limit", config.DefaultRecentLimit)
		if limit < 1 {
			limit = config.DefaultRecentLimit
		}
		if limit > config.MaxRecentLimit {
			limit = config.MaxRecentLimit
		}

		payments, err := db.RecentPayments(r.Context(), limit)
		if err != nil {
			slog.Error("recent payments query failed", "error", err)
			httputil.Error(w, http.StatusInternalServerError, config.ErrorDatabase,
				"Failed to load recent payments")
			return
		}

		httputil.JSON(w, http.StatusOK, map[string]any{
			"count":    len(payments),
			"payments": payments,
		})
	}
}

// queryInt reads an integer query parameter, falling back to defaultVal when
// absent or malformed.
func queryInt(r *http.Request, key string, defaultVal int) int {
	val := r.URL.Query().Get(key)
	if val == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		slog.Debug("invalid int param, using default",
			"key", key, "value", val, "default", defaultVal)
		return defaultVal
	}
	return n
}
