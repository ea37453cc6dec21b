package monitor

import (
	"sync"
	"time"

	"github.com/rcisneros138/shopify-lifetime-value-discounts/internal/domain"
)

// resultCache holds the last successful eligibility result so the monitor
// can degrade gracefully when the engine is unreachable. One entry per
// session, expired after the cache TTL.
type resultCache struct {
	mu       sync.Mutex
	result   domain.EligibilityResult
	storedAt time.Time
	ok       bool
	ttl      time.Duration
}

func newResultCache(ttl time.Duration) *resultCache {
	return &resultCache{ttl: ttl}
}

func (c *resultCache) put(result domain.EligibilityResult, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.result = result
	c.storedAt = now
	c.ok = true
}

// get returns the cached result if one exists and is still fresh.
func (c *resultCache) get(now time.Time) (domain.EligibilityResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.ok || now.Sub(c.storedAt) >= c.ttl {
		return domain.EligibilityResult{}, false
	}
	return c.result, true
}

func (c *resultCache) clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.result = domain.EligibilityResult{}
	c.ok = false
}

// sweep drops an expired entry. Uses the same freshness rule as get, so a
// swept entry is exactly one get would have rejected.
func (c *resultCache) sweep(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ok && now.Sub(c.storedAt) >= c.ttl {
		c.result = domain.EligibilityResult{}
		c.ok = false
	}
}
