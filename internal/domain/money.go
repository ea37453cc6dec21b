package domain

import "github.com/shopspring/decimal"

// MoneyFromCents converts a storefront cart amount (integer cents) to
// currency units. The storefront cart API reports total_price in cents.
func MoneyFromCents(cents int64) decimal.Decimal {
	return decimal.NewFromInt(cents).Div(decimal.NewFromInt(100))
}
