package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/farmstream/bchwatch/internal/config"
	"github.com/farmstream/bchwatch/internal/logging"
	"github.com/farmstream/bchwatch/internal/store"
)

func main() {
	once := flag.Bool("once", false, "run a single sweep and exit")
	interval := flag.Duration("interval", config.DefaultSweepInterval, "time between sweeps in interval mode")
	maxAge := flag.Duration("max-age", config.SweepMaxAge, "minimum age before an unpaid watch is removed")
	flag.Parse()

	if err := run(*once, *interval, *maxAge); err != nil {
		slog.Error("sweeper error", "error", err)
		os.Exit(1)
	}
}

func run(once bool, interval, maxAge time.Duration) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logCloser, err := logging.Setup(cfg.LogLevel, cfg.LogDir)
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	defer logCloser.Close()

	st, err := store.New(cfg.DatabaseDSN)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer st.Close()

	if once {
		return sweep(context.Background(), st, maxAge)
	}

	slog.Info("sweeper starting", "interval", interval, "maxAge", maxAge)

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// First sweep immediately so a freshly deployed sweeper does not sit
	// idle for a full interval.
	if err := sweep(context.Background(), st, maxAge); err != nil {
		slog.Error("sweep failed", "error", err)
	}

	for {
		select {
		case <-ticker.C:
			if err := sweep(context.Background(), st, maxAge); err != nil {
				slog.Error("sweep failed", "error", err)
			}
		case sig := <-done:
			slog.Info("shutdown signal received", "signal", sig)
			return nil
		}
	}
}

func sweep(ctx context.Context, st *store.Store, maxAge time.Duration) error {
	sweepCtx, cancel := context.WithTimeout(ctx, config.SweepTimeout)
	defer cancel()

	removed, err := st.DeleteExpiredWatches(sweepCtx, maxAge)
	if err != nil {
		return err
	}

	slog.Info("sweep complete", "removed", removed, "maxAge", maxAge)
	return nil
}
