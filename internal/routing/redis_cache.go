package routing

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/ride-sharing/internal/logging"
)

// HashStore is the subset of redis operations the leg cache needs.
type HashStore interface {
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	HSetWithTTL(ctx context.Context, key string, values map[string]interface{}, ttl time.Duration) error
}

type redisHashes struct{ c *redis.Client }

func (r *redisHashes) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	return r.c.HGetAll(ctx, key).Result()
}

func (r *redisHashes) HSetWithTTL(ctx context.Context, key string, values map[string]interface{}, ttl time.Duration) error {
	_, err := r.c.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, key, values)
		p.Expire(ctx, key, ttl)
		return nil
	})
	return err
}

// RedisCache shares resolved legs between API replicas. Redis errors degrade
// to cache misses.
type RedisCache struct {
	store  HashStore
	ttl    time.Duration
	logger *slog.Logger
}

func NewRedisCache(client *redis.Client, ttl time.Duration, logger *slog.Logger) *RedisCache {
	return NewRedisCacheWithStore(&redisHashes{c: client}, ttl, logger)
}

func NewRedisCacheWithStore(store HashStore, ttl time.Duration, logger *slog.Logger) *RedisCache {
	return &RedisCache{store: store, ttl: ttl, logger: logging.OrDiscard(logger)}
}

func legKey(origin, destination string) string { return "routing:leg:" + keyFor(origin, destination) }

func (r *RedisCache) Get(ctx context.Context, origin, destination string) (Leg, bool) {
	m, err := r.store.HGetAll(ctx, legKey(origin, destination))
	if err != nil {
		r.logger.Warn("routing cache read failed", "error", err)
		return Leg{}, false
	}
	dist, ok1 := m["distance_km"]
	dur, ok2 := m["duration_minutes"]
	if !ok1 || !ok2 {
		return Leg{}, false
	}
	d, err := strconv.ParseFloat(dist, 64)
	if err != nil {
		return Leg{}, false
	}
	minutes, err := strconv.Atoi(dur)
	if err != nil {
		return Leg{}, false
	}
	return Leg{DistanceKm: d, DurationMinutes: minutes}, true
}

func (r *RedisCache) Set(ctx context.Context, origin, destination string, leg Leg) {
	values := map[string]interface{}{
		"distance_km":      strconv.FormatFloat(leg.DistanceKm, 'f', -1, 64),
		"duration_minutes": strconv.Itoa(leg.DurationMinutes),
	}
	if err := r.store.HSetWithTTL(ctx, legKey(origin, destination), values, r.ttl); err != nil {
		r.logger.Warn("routing cache write failed", "error", err)
	}
}
