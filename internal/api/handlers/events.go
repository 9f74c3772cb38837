package handlers

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/farmstream/bchwatch/internal/api/httputil"
	"github.com/farmstream/bchwatch/internal/config"
	"github.com/farmstream/bchwatch/internal/models"
)

// EventsHandler streams detected payments to the client as server-sent
// events. Each payment is written as an "event: payment" frame with a JSON
// body, and a comment frame is sent periodically to keep intermediaries from
// timing out the connection.
func EventsHandler(events EventSource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			httputil.Error(w, http.StatusInternalServerError, config.ErrorStreamUnsupported,
				"Streaming not supported by this connection")
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")
		w.WriteHeader(http.StatusOK)
		flusher.Flush()

		ch := make(chan models.PaymentEvent, config.PaymentEventBuffer)
		sub := events.SubscribePayments(ch)
		defer sub.Unsubscribe()

		slog.Info("event stream connected", "remoteAddr", r.RemoteAddr)
		defer slog.Info("event stream disconnected", "remoteAddr", r.RemoteAddr)

		keepAlive := time.NewTicker(config.SSEKeepAliveInterval)
		defer keepAlive.Stop()

		for {
			select {
			case ev := <-ch:
				data, err := json.Marshal(ev)
				if err != nil {
					slog.Error("failed to marshal payment event", "error", err)
					continue
				}
				fmt.Fprintf(w, "event: payment\ndata: %s\n\n", data)
				flusher.Flush()

			case <-keepAlive.C:
				fmt.Fprint(w, ": keepalive\n\n")
				flusher.Flush()

			case <-sub.Err():
				return

			case <-r.Context().Done():
				return
			}
		}
	}
}
