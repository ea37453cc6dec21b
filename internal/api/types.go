package api

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rcisneros138/shopify-lifetime-value-discounts/internal/domain"
)

// CalculateRequest is the wire shape of POST /api/calculate. Pointer fields
// distinguish absent from zero-valued.
type CalculateRequest struct {
	CartTotal  *float64 `json:"cartTotal"`
	CustomerID *string  `json:"customerId"`
	SessionID  *string  `json:"sessionId"`
}

type NextTierResponse struct {
	Percent      int     `json:"percent"`
	AmountNeeded float64 `json:"amountNeeded"`
}

// CalculateResponse mirrors domain.EligibilityResult on the wire.
// DiscountCode serializes as null when no discount applies; the storefront
// script distinguishes null from a code, so omitempty is not used there.
type CalculateResponse struct {
	DiscountPercent int               `json:"discountPercent"`
	DiscountCode    *string           `json:"discountCode"`
	LifetimeSpent   float64           `json:"lifetimeSpent"`
	TotalValue      float64           `json:"totalValue"`
	NextTier        *NextTierResponse `json:"nextTier,omitempty"`
	Message         string            `json:"message,omitempty"`
	Timestamp       string            `json:"timestamp"`
}

type HealthResponse struct {
	Status     string            `json:"status"`
	Components map[string]string `json:"components,omitempty"`
}

type IndexResponse struct {
	Message   string            `json:"message"`
	Version   string            `json:"version"`
	Endpoints map[string]string `json:"endpoints"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

func toCalculateResponse(result domain.EligibilityResult) CalculateResponse {
	resp := CalculateResponse{
		DiscountPercent: result.DiscountPercent,
		LifetimeSpent:   result.LifetimeSpent.InexactFloat64(),
		TotalValue:      result.TotalValue.InexactFloat64(),
		Message:         result.Message,
		Timestamp:       formatTime(result.Timestamp),
	}
	if result.DiscountCode != "" {
		code := result.DiscountCode
		resp.DiscountCode = &code
	}
	if result.NextTier != nil {
		resp.NextTier = &NextTierResponse{
			Percent:      result.NextTier.Percent,
			AmountNeeded: result.NextTier.AmountNeeded.InexactFloat64(),
		}
	}
	return resp
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// ToResult converts a wire response back into a domain result. Used by the
// monitor's engine client on the consuming side.
func (r CalculateResponse) ToResult() (domain.EligibilityResult, error) {
	result := domain.EligibilityResult{
		DiscountPercent: r.DiscountPercent,
		LifetimeSpent:   decimal.NewFromFloat(r.LifetimeSpent),
		TotalValue:      decimal.NewFromFloat(r.TotalValue),
		Message:         r.Message,
	}
	if r.DiscountCode != nil {
		result.DiscountCode = *r.DiscountCode
	}
	if r.NextTier != nil {
		result.NextTier = &domain.NextTier{
			Percent:      r.NextTier.Percent,
			AmountNeeded: decimal.NewFromFloat(r.NextTier.AmountNeeded),
		}
	}
	ts, err := time.Parse(time.RFC3339, r.Timestamp)
	if err != nil {
		return domain.EligibilityResult{}, fmt.Errorf("parse timestamp %q: %w", r.Timestamp, err)
	}
	result.Timestamp = ts
	return result, nil
}
