// Package lifetime resolves a customer's historical spend total.
//
// Resolution is cached per customer with a short TTL so repeated cart
// checks within a browsing session hit the cache instead of the platform
// API. Concurrent misses for the same customer race to populate the entry;
// last write wins, which at worst duplicates one upstream call.
package lifetime

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rcisneros138/shopify-lifetime-value-discounts/internal/platform"
)

// Upstream fetches spend data from the platform admin API.
type Upstream interface {
	CustomerSpend(ctx context.Context, customerID string) (platform.CustomerSpend, error)
}

// MetricsSink records cache effectiveness. Fire-and-forget.
type MetricsSink interface {
	LifetimeCacheHit()
	LifetimeCacheMiss()
	LifetimeCacheSize(entries int)
}

// Config holds resolver configuration.
type Config struct {
	// CacheTTL is how long a resolved value stays valid. Default: 5m.
	CacheTTL time.Duration
}

// DefaultConfig returns the default resolver configuration.
func DefaultConfig() Config {
	return Config{CacheTTL: 5 * time.Minute}
}

type cacheEntry struct {
	value      decimal.Decimal
	recordedAt time.Time
}

func (e cacheEntry) expired(now time.Time, ttl time.Duration) bool {
	return now.Sub(e.recordedAt) >= ttl
}

// Resolver resolves lifetime spend with a TTL cache in front of upstream.
type Resolver struct {
	config   Config
	upstream Upstream
	metrics  MetricsSink // optional, nil = disabled
	clock    func() time.Time

	mu    sync.Mutex
	cache map[string]cacheEntry
}

// New creates a Resolver.
func New(config Config, upstream Upstream) *Resolver {
	return &Resolver{
		config:   config,
		upstream: upstream,
		clock:    time.Now,
		cache:    make(map[string]cacheEntry),
	}
}

// WithMetrics attaches a metrics sink.
func (r *Resolver) WithMetrics(sink MetricsSink) *Resolver {
	r.metrics = sink
	return r
}

// WithClock replaces the time source. For tests.
func (r *Resolver) WithClock(clock func() time.Time) *Resolver {
	r.clock = clock
	return r
}

// Resolve returns the customer's lifetime spend. A fresh cache entry is
// returned without an upstream call. On a miss the upstream is queried and
// the entry overwritten unconditionally, zero values included, so
// legitimately-zero customers do not re-query until the TTL lapses.
// Upstream failures propagate; no stale value is served here.
func (r *Resolver) Resolve(ctx context.Context, customerID string) (decimal.Decimal, error) {
	now := r.clock()

	r.mu.Lock()
	if entry, ok := r.cache[customerID]; ok && !entry.expired(now, r.config.CacheTTL) {
		r.mu.Unlock()
		if r.metrics != nil {
			r.metrics.LifetimeCacheHit()
		}
		return entry.value, nil
	}
	r.mu.Unlock()

	if r.metrics != nil {
		r.metrics.LifetimeCacheMiss()
	}

	spend, err := r.upstream.CustomerSpend(ctx, customerID)
	if err != nil {
		return decimal.Zero, err
	}

	value := spendValue(spend)

	r.mu.Lock()
	r.cache[customerID] = cacheEntry{value: value, recordedAt: r.clock()}
	size := len(r.cache)
	r.mu.Unlock()

	if r.metrics != nil {
		r.metrics.LifetimeCacheSize(size)
	}
	return value, nil
}

// spendValue applies the resolution policy: prefer the precomputed total
// when present and non-zero, otherwise sum paid orders. The metafield is
// not backfilled for every customer yet, hence the fallback.
func spendValue(spend platform.CustomerSpend) decimal.Decimal {
	if spend.HasTotal && !spend.LifetimeTotal.IsZero() {
		return spend.LifetimeTotal
	}

	total := decimal.Zero
	for _, order := range spend.Orders {
		if order.Paid() {
			total = total.Add(order.Total)
		}
	}
	return total
}

// Sweep evicts expired entries. Lazy expiry on read and the sweep share the
// same predicate, so callers cannot tell which one removed an entry.
func (r *Resolver) Sweep() {
	now := r.clock()

	r.mu.Lock()
	removed := 0
	for id, entry := range r.cache {
		if entry.expired(now, r.config.CacheTTL) {
			delete(r.cache, id)
			removed++
		}
	}
	size := len(r.cache)
	r.mu.Unlock()

	if removed > 0 {
		log.Printf("lifetime: sweep evicted %d expired entries", removed)
	}
	if r.metrics != nil {
		r.metrics.LifetimeCacheSize(size)
	}
}

// CacheLen returns the number of cached entries. For tests.
func (r *Resolver) CacheLen() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.cache)
}
