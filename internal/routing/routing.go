package routing

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/example/ride-sharing/internal/observability"
)

// ErrNoRoute is returned when the provider answers but has no usable leg.
var ErrNoRoute = errors.New("routing: no route found")

// ErrNoProvider is returned by Unavailable.
var ErrNoProvider = errors.New("routing: no provider configured")

// Leg is the distance and travel time between two consecutive stops.
type Leg struct {
	DistanceKm      float64 `json:"distance_km"`
	DurationMinutes int     `json:"duration_minutes"`
}

// Oracle resolves the leg between two free-form location strings. On any
// failure it returns a zero Leg together with the fault; callers decide
// whether the fault is fatal.
type Oracle interface {
	Leg(ctx context.Context, origin, destination string) (Leg, error)
}

// Unavailable stands in when no provider is configured. Every lookup fails,
// so itineraries are built from zero legs.
type Unavailable struct{}

func (Unavailable) Leg(context.Context, string, string) (Leg, error) { return Leg{}, ErrNoProvider }

// Cache stores resolved legs keyed by normalized origin and destination.
type Cache interface {
	Get(ctx context.Context, origin, destination string) (Leg, bool)
	Set(ctx context.Context, origin, destination string, leg Leg)
}

// CachedOracle consults Cache before the wrapped Oracle. Faults are never
// cached so a recovered provider is picked up on the next lookup.
type CachedOracle struct {
	Oracle Oracle
	Cache  Cache
}

func (c *CachedOracle) Leg(ctx context.Context, origin, destination string) (Leg, error) {
	if c.Cache != nil {
		if leg, ok := c.Cache.Get(ctx, origin, destination); ok {
			observability.RoutingCacheHits.Inc()
			return leg, nil
		}
	}
	leg, err := c.Oracle.Leg(ctx, origin, destination)
	if err != nil {
		return Leg{}, err
	}
	if c.Cache != nil {
		c.Cache.Set(ctx, origin, destination, leg)
	}
	return leg, nil
}

// MemoryCache is an in-process TTL cache for legs.
type MemoryCache struct {
	mu    sync.RWMutex
	store map[string]cacheEntry
	ttl   time.Duration
	now   func() time.Time
}

type cacheEntry struct {
	leg Leg
	ts  time.Time
}

func NewMemoryCache(ttl time.Duration) *MemoryCache {
	return &MemoryCache{store: make(map[string]cacheEntry), ttl: ttl, now: time.Now}
}

func keyFor(origin, destination string) string {
	return normalize(origin) + "->" + normalize(destination)
}

func normalize(location string) string {
	return strings.ToLower(strings.Join(strings.Fields(location), " "))
}

// Get returns the cached leg and true if present and not expired.
func (c *MemoryCache) Get(_ context.Context, origin, destination string) (Leg, bool) {
	k := keyFor(origin, destination)
	c.mu.RLock()
	e, ok := c.store[k]
	c.mu.RUnlock()
	if !ok {
		return Leg{}, false
	}
	if c.now().Sub(e.ts) > c.ttl {
		c.mu.Lock()
		delete(c.store, k)
		c.mu.Unlock()
		return Leg{}, false
	}
	return e.leg, true
}

func (c *MemoryCache) Set(_ context.Context, origin, destination string, leg Leg) {
	k := keyFor(origin, destination)
	c.mu.Lock()
	c.store[k] = cacheEntry{leg: leg, ts: c.now()}
	c.mu.Unlock()
}
