package handlers

import (
	"net/http"

	"github.com/farmstream/bchwatch/internal/api/httputil"
)

// ListWatchesHandler returns a handler for GET /api/watches: the registry's
// current view of every watched address.
func ListWatchesHandler(watches WatchSource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snapshot := watches.Snapshot()

		httputil.JSON(w, http.StatusOK, map[string]any{
			"count":   len(snapshot),
			"watches": snapshot,
		})
	}
}
