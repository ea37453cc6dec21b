package domain

import "github.com/shopspring/decimal"

// DiscountTier is a (threshold, percent, code) band. Tiers are configured
// once at startup and never mutated; codes are unique and percent strictly
// increases with MinTotal.
type DiscountTier struct {
	MinTotal decimal.Decimal
	Percent  int
	Code     string
}
