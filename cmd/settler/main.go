package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/ride-sharing/internal/app"
	"github.com/example/ride-sharing/internal/config"
	"github.com/example/ride-sharing/internal/logging"
	"github.com/example/ride-sharing/internal/settlement"
)

func main() {
	var once bool
	flag.BoolVar(&once, "once", false, "run a single settlement cycle and exit")
	flag.Parse()

	cfg, err := config.LoadServerConfig()
	logger := logging.NewLogger("ride-sharing-settler", cfg.LogLevel)
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := app.OpenStore(ctx, cfg, logger)
	if err != nil {
		logger.Error("storage unavailable", "error", err)
		os.Exit(1)
	}
	defer closeStore()

	rc := app.Redis(cfg)
	if rc != nil {
		defer rc.Close()
	} else {
		logger.Warn("REDIS_ADDR not set; settlement cycles are only serialized within this process")
	}
	automaton := app.Settler(cfg, store, rc, logger)

	if once {
		if _, err := automaton.RunCycle(ctx); err != nil {
			logger.Error("settlement cycle failed", "error", err)
			os.Exit(1)
		}
		return
	}

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ok"))
		})
		logger.Info("metrics/health listening", "addr", cfg.SettlerMetricsAddr)
		if err := http.ListenAndServe(cfg.SettlerMetricsAddr, mux); err != nil {
			logger.Error("metrics server stopped", "error", err)
		}
	}()

	logger.Info("settler started", "interval", cfg.SettlementInterval.String())
	runLoop(ctx, automaton, cfg.SettlementInterval, logger)
	logger.Info("settler stopped")
}

type cycleRunner interface {
	RunCycle(ctx context.Context) (settlement.Report, error)
}

// runLoop runs a cycle immediately and then every interval until ctx ends.
// A cycle still running elsewhere is not an error.
func runLoop(ctx context.Context, r cycleRunner, interval time.Duration, log *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if _, err := r.RunCycle(ctx); err != nil {
			if errors.Is(err, settlement.ErrCycleInProgress) {
				log.Info("settlement cycle skipped; another run holds the window")
			} else if ctx.Err() == nil {
				log.Error("settlement cycle failed", "error", err)
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
