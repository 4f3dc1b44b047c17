package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/example/ride-sharing/internal/app"
	"github.com/example/ride-sharing/internal/config"
	"github.com/example/ride-sharing/internal/dispatch"
	httpapi "github.com/example/ride-sharing/internal/http"
	"github.com/example/ride-sharing/internal/itinerary"
	"github.com/example/ride-sharing/internal/logging"
	"github.com/example/ride-sharing/internal/matcher"
	"github.com/example/ride-sharing/internal/service"
)

func main() {
	cfg, err := config.LoadServerConfig()
	logger := logging.NewLogger("ride-sharing-api", cfg.LogLevel)
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
	}

	builder := itinerary.NewBuilder(store, app.Oracle(cfg, rc, logger), logger)
	search := matcher.NewService(store, logger)
	settler := app.Settler(cfg, store, rc, logger)

	ws := dispatch.NewWSRegistry()
	channels := []dispatch.Channel{{Name: "websocket", Notifier: ws}}
	if len(cfg.KafkaBrokers) > 0 {
		kp := dispatch.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaAlertsTopic)
		defer kp.Close()
		channels = append(channels, dispatch.Channel{Name: "kafka", Notifier: kp})
	}
	if cfg.AlertWebhookURL != "" {
		wh := dispatch.NewWebhookNotifier(cfg.AlertWebhookURL, cfg.AlertWebhookToken)
		channels = append(channels, dispatch.Channel{Name: "webhook", Notifier: wh})
	}

	routes := service.NewRouteService(store, builder, search, settler, dispatch.NewMulti(logger, channels...), logger)
	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      httpapi.NewServer(routes, ws, logger),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("graceful shutdown failed", "error", err)
		}
	}()

	logger.Info("ride-sharing api listening", "addr", cfg.HTTPAddr, "alert_channels", len(channels))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}
