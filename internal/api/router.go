// Package api exposes the read-only operational HTTP surface: liveness,
// monitor status, the current watch set, recent payments, and a server-sent
// event stream of detections.
package api

import (
	"log/slog"

	"github.com/farmstream/bchwatch/internal/api/handlers"
	"github.com/farmstream/bchwatch/internal/api/middleware"
	"github.com/farmstream/bchwatch/internal/config"
	"github.com/farmstream/bchwatch/internal/electrum"
	"github.com/farmstream/bchwatch/internal/monitor"
	"github.com/farmstream/bchwatch/internal/price"
	"github.com/farmstream/bchwatch/internal/registry"
	"github.com/farmstream/bchwatch/internal/store"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
)

// Dependencies holds all service references needed by the API layer.
type Dependencies struct {
	Config   *config.Config
	Store    *store.Store
	Registry *registry.Registry
	Monitor  *monitor.Monitor
	Prices   *price.PriceService
	Electrum *electrum.Client
}

// NewRouter creates and configures the Chi router with all middleware and routes.
func NewRouter(deps *Dependencies) chi.Router {
	r := chi.NewRouter()

	// Global middleware (applied to ALL routes).
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(middleware.RequestLogging)
	r.Use(middleware.CORS)

	slog.Info("router initialized",
		"middleware", []string{"realIP", "recoverer", "requestLogging", "cors"},
	)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", handlers.HealthHandler(deps.Config, deps.Registry))
		r.Get("/status", handlers.StatusHandler(deps.Config, deps.Electrum, deps.Monitor,
			deps.Registry, deps.Prices, deps.Store))
		r.Get("/watches", handlers.ListWatchesHandler(deps.Registry))
		r.Get("/payments/recent", handlers.RecentPaymentsHandler(deps.Store))
		r.Get("/events", handlers.EventsHandler(deps.Monitor))
	})

	return r
}
