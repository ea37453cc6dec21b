// Package tier maps a monetary total to a discount tier.
//
// The tier table is fixed at process start. Thresholds are distinct and
// percent strictly increases with threshold, so "highest percent whose
// threshold is met" and "largest threshold <= total" pick the same tier.
package tier

import (
	"github.com/shopspring/decimal"

	"github.com/rcisneros138/shopify-lifetime-value-discounts/internal/domain"
)

// TopPercent is the highest configured discount percent. Shoppers at this
// tier have no next tier to make progress toward.
const TopPercent = 20

// defaultTiers is ordered by MinTotal descending for resolution.
var defaultTiers = []domain.DiscountTier{
	{MinTotal: decimal.NewFromInt(20000), Percent: 20, Code: "LIFETIME_20"},
	{MinTotal: decimal.NewFromInt(5000), Percent: 15, Code: "LIFETIME_15"},
	{MinTotal: decimal.NewFromInt(3500), Percent: 12, Code: "LIFETIME_12"},
	{MinTotal: decimal.NewFromInt(2500), Percent: 10, Code: "LIFETIME_10"},
}

// Resolver resolves totals against an immutable tier table.
type Resolver struct {
	tiers []domain.DiscountTier // MinTotal descending
}

// NewResolver returns a resolver over the default tier table.
func NewResolver() *Resolver {
	return &Resolver{tiers: defaultTiers}
}

// Resolve returns the tier with the largest threshold not exceeding total,
// or false if total is below every threshold.
func (r *Resolver) Resolve(total decimal.Decimal) (domain.DiscountTier, bool) {
	for _, t := range r.tiers {
		if total.GreaterThanOrEqual(t.MinTotal) {
			return t, true
		}
	}
	return domain.DiscountTier{}, false
}

// NextAbove returns the tier with the smallest threshold strictly greater
// than total, or false if total already meets the top threshold.
func (r *Resolver) NextAbove(total decimal.Decimal) (domain.DiscountTier, bool) {
	for i := len(r.tiers) - 1; i >= 0; i-- {
		if r.tiers[i].MinTotal.GreaterThan(total) {
			return r.tiers[i], true
		}
	}
	return domain.DiscountTier{}, false
}

// Tiers returns the configured table, MinTotal descending. Callers must not
// mutate the returned slice.
func (r *Resolver) Tiers() []domain.DiscountTier {
	return r.tiers
}
