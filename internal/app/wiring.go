// Package app holds the dependency wiring shared by the API server and the
// settlement runner.
package app

import (
	"context"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/example/ride-sharing/internal/config"
	"github.com/example/ride-sharing/internal/payments"
	"github.com/example/ride-sharing/internal/routing"
	"github.com/example/ride-sharing/internal/settlement"
	"github.com/example/ride-sharing/internal/storage"
)

// OpenStore returns PostgreSQL when PG_DSN is set, otherwise the in-memory
// store. The returned func releases the connection pool.
func OpenStore(ctx context.Context, cfg config.ServerConfig, logger *slog.Logger) (storage.Store, func(), error) {
	if cfg.PGDSN == "" {
		logger.Warn("PG_DSN not set; using in-memory storage")
		return storage.NewMemoryStore(), func() {}, nil
	}
	ps, err := storage.NewPostgresStore(cfg.PGDSN)
	if err != nil {
		return nil, nil, err
	}
	if cfg.RunMigrations {
		n, err := storage.Migrate(ctx, ps.DB())
		if err != nil {
			_ = ps.Close()
			return nil, nil, err
		}
		logger.Info("migrations applied", "count", n)
	}
	return ps, func() { _ = ps.Close() }, nil
}

// Redis returns nil when REDIS_ADDR is unset.
func Redis(cfg config.ServerConfig) *redis.Client {
	if cfg.RedisAddr == "" {
		return nil
	}
	return redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
}

// Oracle builds the cached Google Maps oracle, sharing legs through Redis
// when rc is set.
func Oracle(cfg config.ServerConfig, rc *redis.Client, logger *slog.Logger) routing.Oracle {
	if cfg.GoogleMapsAPIKey == "" {
		logger.Warn("GOOGLE_MAPS_API_KEY not set; itineraries will use zero legs")
		return routing.Unavailable{}
	}
	gm, err := routing.NewGoogleMaps(cfg.GoogleMapsAPIKey)
	if err != nil {
		logger.Error("google maps client unavailable; itineraries will use zero legs", "error", err)
		return routing.Unavailable{}
	}
	var cache routing.Cache = routing.NewMemoryCache(cfg.RoutingCacheTTL)
	if rc != nil {
		cache = routing.NewRedisCache(rc, cfg.RoutingCacheTTL, logger)
	}
	return &routing.CachedOracle{Oracle: gm, Cache: cache}
}

// Settler assembles the settlement automaton. Without Stripe credentials
// every payment fails and reservations stay unresolved; without Redis only
// in-process exclusion applies.
func Settler(cfg config.ServerConfig, store storage.Store, rc *redis.Client, logger *slog.Logger) *settlement.Automaton {
	var pay settlement.Payments = payments.Disabled{}
	if cfg.StripeAPIKey != "" {
		pay = payments.NewStripeClient(cfg.StripeAPIKey)
	} else {
		logger.Warn("STRIPE_API_KEY not set; settlement payments are disabled")
	}
	var lock settlement.Lock
	if rc != nil {
		lock = settlement.NewRedisLock(rc, cfg.SettlementLockTTL)
	}
	return settlement.NewAutomaton(store, pay, lock, cfg.PaymentCurrency, logger)
}
