// Package engine orchestrates one eligibility evaluation: admission
// control, input validation, lifetime-value resolution, and tier mapping.
package engine

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/rcisneros138/shopify-lifetime-value-discounts/internal/domain"
)

// Shopper-facing messages. Failure messages are uniform regardless of the
// underlying cause so upstream detail cannot leak through this endpoint.
const (
	MsgLoginPrompt = "Log in to unlock discounts based on your order history."
	MsgRateLimited = "Too many requests. Please try again shortly."
	MsgError       = "An error occurred while checking your discount."
)

// FallbackRateKey is used when a request carries neither a session id nor a
// resolvable network address.
const FallbackRateKey = "anonymous"

type RateLimiter interface {
	Admit(key string) bool
}

type LifetimeResolver interface {
	Resolve(ctx context.Context, customerID string) (decimal.Decimal, error)
}

type TierResolver interface {
	Resolve(total decimal.Decimal) (domain.DiscountTier, bool)
	NextAbove(total decimal.Decimal) (domain.DiscountTier, bool)
}

// AnalyticsSink records evaluation outcomes. Best effort, never blocks the
// evaluation result.
type AnalyticsSink interface {
	Record(ctx context.Context, outcome domain.EvaluationOutcome, code string, at time.Time)
}

// MetricsSink defines the interface for recording engine metrics.
// All methods must be non-blocking and fire-and-forget.
type MetricsSink interface {
	EvaluationCompleted(outcome string, duration time.Duration)
}

// Engine evaluates eligibility requests.
type Engine struct {
	limiter   RateLimiter
	lifetime  LifetimeResolver
	tiers     TierResolver
	topPct    int
	analytics AnalyticsSink // optional, nil = disabled
	metrics   MetricsSink   // optional, nil = disabled
	clock     func() time.Time
}

// New creates an Engine. topPercent marks the tier beyond which no
// next-tier progress is reported.
func New(limiter RateLimiter, lifetime LifetimeResolver, tiers TierResolver, topPercent int) *Engine {
	return &Engine{
		limiter:  limiter,
		lifetime: lifetime,
		tiers:    tiers,
		topPct:   topPercent,
		clock:    time.Now,
	}
}

// WithAnalytics attaches an analytics sink.
func (e *Engine) WithAnalytics(sink AnalyticsSink) *Engine {
	e.analytics = sink
	return e
}

// WithMetrics attaches a metrics sink.
func (e *Engine) WithMetrics(sink MetricsSink) *Engine {
	e.metrics = sink
	return e
}

// WithClock replaces the time source. For tests.
func (e *Engine) WithClock(clock func() time.Time) *Engine {
	e.clock = clock
	return e
}

// Evaluate runs the evaluation pipeline, short-circuiting on the first
// early return. The returned result is always well formed; the error, when
// non-nil, classifies the outcome for the transport layer (validation,
// rate-limited, or resolution failure).
func (e *Engine) Evaluate(ctx context.Context, req domain.EligibilityRequest) (domain.EligibilityResult, error) {
	started := e.clock()
	requestID := uuid.New()

	if err := validate(req); err != nil {
		return e.finish(ctx, started, domain.OutcomeError, domain.EligibilityResult{
			Message:   err.Error(),
			Timestamp: started,
		}), err
	}

	if !e.limiter.Admit(rateKey(req)) {
		log.Printf("engine: request=%s rate limited", requestID)
		return e.finish(ctx, started, domain.OutcomeRateLimited, domain.EligibilityResult{
			Message:   MsgRateLimited,
			Timestamp: started,
		}), domain.ErrRateLimited
	}

	if req.CustomerID == "" {
		return e.finish(ctx, started, domain.OutcomeAnonymous, domain.EligibilityResult{
			Message:   MsgLoginPrompt,
			Timestamp: started,
		}), nil
	}

	lifetimeSpent, err := e.lifetime.Resolve(ctx, req.CustomerID)
	if err != nil {
		// Detail stays in the server log; the caller sees a generic
		// zero-discount outcome.
		log.Printf("engine: request=%s lifetime resolution failed: %v", requestID, err)
		return e.finish(ctx, started, domain.OutcomeError, domain.EligibilityResult{
			Message:   MsgError,
			Timestamp: started,
		}), err
	}

	totalValue := lifetimeSpent.Add(req.CartTotal)
	result := domain.EligibilityResult{
		LifetimeSpent: lifetimeSpent,
		TotalValue:    totalValue,
		Timestamp:     started,
	}

	outcome := domain.OutcomeProgress
	if t, ok := e.tiers.Resolve(totalValue); ok {
		result.DiscountPercent = t.Percent
		result.DiscountCode = t.Code
		outcome = domain.OutcomeTier
	}

	if result.DiscountPercent < e.topPct {
		if next, ok := e.tiers.NextAbove(totalValue); ok {
			result.NextTier = &domain.NextTier{
				Percent:      next.Percent,
				AmountNeeded: next.MinTotal.Sub(totalValue),
			}
		}
	}

	log.Printf("engine: request=%s customer=%s percent=%d total=%s",
		requestID, req.CustomerID, result.DiscountPercent, totalValue)
	return e.finish(ctx, started, outcome, result), nil
}

// finish records metrics and analytics for the outcome and returns result
// unchanged.
func (e *Engine) finish(ctx context.Context, started time.Time, outcome domain.EvaluationOutcome, result domain.EligibilityResult) domain.EligibilityResult {
	if e.metrics != nil {
		e.metrics.EvaluationCompleted(string(outcome), e.clock().Sub(started))
	}
	if e.analytics != nil {
		e.analytics.Record(ctx, outcome, result.DiscountCode, started)
	}
	return result
}

// rateKey picks the admission key: session id when present, else the
// originating address, else a fixed fallback token.
func rateKey(req domain.EligibilityRequest) string {
	if req.SessionID != "" {
		return req.SessionID
	}
	if req.RemoteAddr != "" {
		return req.RemoteAddr
	}
	return FallbackRateKey
}
