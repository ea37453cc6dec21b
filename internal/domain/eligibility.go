package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// EligibilityRequest is one discount evaluation request. Transient, never
// persisted. An empty CustomerID means the shopper is anonymous.
type EligibilityRequest struct {
	CartTotal  decimal.Decimal
	CustomerID string
	SessionID  string

	// RemoteAddr is the originating network address, used as the
	// rate-limit key when no session id is present.
	RemoteAddr string
}

// NextTier describes the closest tier above the shopper's current total.
type NextTier struct {
	Percent      int
	AmountNeeded decimal.Decimal
}

// EligibilityResult is the outcome of one evaluation. Failure outcomes are
// uniform in shape: percent 0, no code, and a generic message.
type EligibilityResult struct {
	DiscountPercent int
	DiscountCode    string // empty = no discount
	LifetimeSpent   decimal.Decimal
	TotalValue      decimal.Decimal
	NextTier        *NextTier // nil when already at the top tier
	Message         string
	Timestamp       time.Time
}

// EvaluationOutcome labels how an evaluation concluded, for metrics and
// analytics. Bounded cardinality.
type EvaluationOutcome string

const (
	OutcomeTier        EvaluationOutcome = "tier"
	OutcomeProgress    EvaluationOutcome = "progress"
	OutcomeAnonymous   EvaluationOutcome = "anonymous"
	OutcomeRateLimited EvaluationOutcome = "rate_limited"
	OutcomeError       EvaluationOutcome = "error"
)
