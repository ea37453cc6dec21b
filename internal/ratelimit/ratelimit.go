// Package ratelimit provides sliding-window request admission control.
//
// Each key (session id or forwarded client address) has an independent
// window of admission timestamps. Keys are attacker-controllable
// identifiers; this bounds request volume per identifier, it is not a
// security boundary.
package ratelimit

import (
	"log"
	"sync"
	"time"
)

// Config holds limiter configuration.
type Config struct {
	// Limit is the maximum number of admissions per key per window.
	// Default: 30.
	Limit int

	// Window is the sliding window length. Default: 60s.
	Window time.Duration
}

// DefaultConfig returns the default limiter configuration.
func DefaultConfig() Config {
	return Config{
		Limit:  30,
		Window: 60 * time.Second,
	}
}

// Limiter is a process-wide sliding-window rate limiter.
type Limiter struct {
	config Config
	clock  func() time.Time

	mu      sync.Mutex
	windows map[string][]time.Time
}

// New creates a Limiter.
func New(config Config) *Limiter {
	return &Limiter{
		config:  config,
		clock:   time.Now,
		windows: make(map[string][]time.Time),
	}
}

// WithClock replaces the time source. For tests.
func (l *Limiter) WithClock(clock func() time.Time) *Limiter {
	l.clock = clock
	return l
}

// Admit reports whether a request for key is allowed. An allowed request is
// recorded against the key's window; a rejected one is not.
func (l *Limiter) Admit(key string) bool {
	now := l.clock()

	l.mu.Lock()
	defer l.mu.Unlock()

	window := prune(l.windows[key], now.Add(-l.config.Window))
	if len(window) >= l.config.Limit {
		l.windows[key] = window
		return false
	}

	l.windows[key] = append(window, now)
	return true
}

// Sweep removes keys whose windows hold no fresh timestamps. It takes the
// lock once per key rather than for the whole scan, so concurrent Admit
// calls interleave with the sweep instead of queueing behind it.
func (l *Limiter) Sweep() {
	now := l.clock()
	cutoff := now.Add(-l.config.Window)

	l.mu.Lock()
	keys := make([]string, 0, len(l.windows))
	for key := range l.windows {
		keys = append(keys, key)
	}
	l.mu.Unlock()

	removed := 0
	for _, key := range keys {
		l.mu.Lock()
		window := prune(l.windows[key], cutoff)
		if len(window) == 0 {
			delete(l.windows, key)
			removed++
		} else {
			l.windows[key] = window
		}
		l.mu.Unlock()
	}

	if removed > 0 {
		log.Printf("ratelimit: sweep removed %d idle keys", removed)
	}
}

// Keys returns the number of tracked keys. For tests and metrics.
func (l *Limiter) Keys() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.windows)
}

// prune drops timestamps at or before cutoff. Timestamps are appended in
// order, so the first fresh index splits the slice.
func prune(window []time.Time, cutoff time.Time) []time.Time {
	for i, ts := range window {
		if ts.After(cutoff) {
			return window[i:]
		}
	}
	return nil
}
