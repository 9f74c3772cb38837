package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/farmstream/bchwatch/internal/api"
	"github.com/farmstream/bchwatch/internal/config"
	"github.com/farmstream/bchwatch/internal/electrum"
	"github.com/farmstream/bchwatch/internal/grain"
	"github.com/farmstream/bchwatch/internal/logging"
	"github.com/farmstream/bchwatch/internal/monitor"
	"github.com/farmstream/bchwatch/internal/price"
	"github.com/farmstream/bchwatch/internal/registry"
	"github.com/farmstream/bchwatch/internal/store"
)

var version = "dev"

func main() {
	if err := run(); err != nil {
		slog.Error("monitor error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logCloser, err := logging.Setup(cfg.LogLevel, cfg.LogDir)
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	defer logCloser.Close()

	slog.Info("bchwatch monitor starting",
		"version", version,
		"network", cfg.Network,
		"port", cfg.Port,
		"electrum", cfg.ElectrumAddr(),
		"workers", cfg.MonitorWorkers,
	)

	st, err := store.New(cfg.DatabaseDSN)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer st.Close()

	if cfg.RunMigrations {
		if err := st.RunMigrations(); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
		slog.Info("database migrations applied")
	}

	tiers, err := grain.LoadOrCreateTiers(cfg.TiersFile)
	if err != nil {
		return fmt.Errorf("failed to load tiers: %w", err)
	}
	slog.Info("tiers loaded", "count", len(tiers), "file", cfg.TiersFile)
	rewards := grain.NewCalculator(tiers)

	// Context shared by the long-running services. Cancelling it on shutdown
	// also unblocks every open SSE stream via the server's BaseContext.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	prices := price.NewPriceService()
	prices.Start(ctx)
	defer prices.Stop()

	reg := registry.New(cfg.DatabaseDSN, cfg.ChangeChannel, st)
	if err := reg.LoadAll(ctx); err != nil {
		return fmt.Errorf("failed to load watch table: %w", err)
	}
	if err := reg.Start(ctx); err != nil {
		return fmt.Errorf("failed to start registry listener: %w", err)
	}
	defer reg.Stop()

	client := electrum.NewClient(cfg)
	if err := client.Connect(ctx); err != nil {
		return fmt.Errorf("failed to connect to electrum server: %w", err)
	}
	defer client.Close()

	mon := monitor.New(cfg, client, st, prices, reg, rewards)
	if err := mon.Start(ctx); err != nil {
		return fmt.Errorf("failed to start monitor: %w", err)
	}

	deps := &api.Dependencies{
		Config:   cfg,
		Store:    st,
		Registry: reg,
		Monitor:  mon,
		Prices:   prices,
		Electrum: client,
	}
	router := api.NewRouter(deps)

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:        addr,
		Handler:     router,
		ReadTimeout: config.ServerReadTimeout,
		IdleTimeout: config.ServerIdleTimeout,
		// No WriteTimeout: /api/events holds its response open for the
		// lifetime of the subscriber.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	// Graceful shutdown.
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		slog.Info("HTTP server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			os.Exit(1)
		}
	}()

	sig := <-done
	slog.Info("shutdown signal received", "signal", sig)

	// Stop detection first so no new events reach the stream, then cancel
	// the shared context to drain SSE clients before the server shutdown.
	mon.Stop()
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), config.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("HTTP server shutdown error: %w", err)
	}

	slog.Info("monitor stopped")
	return nil
}
