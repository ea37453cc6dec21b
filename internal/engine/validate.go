package engine

import (
	"fmt"
	"regexp"

	"github.com/rcisneros138/shopify-lifetime-value-discounts/internal/domain"
)

// customerIDPattern: platform customer ids are numeric.
var customerIDPattern = regexp.MustCompile(`^\d+$`)

// ValidationError reports a malformed request. The transport layer maps it
// to a 400 response.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func validate(req domain.EligibilityRequest) error {
	if req.CartTotal.IsNegative() {
		return &ValidationError{Field: "cartTotal", Reason: "must not be negative"}
	}
	if req.CustomerID != "" && !customerIDPattern.MatchString(req.CustomerID) {
		return &ValidationError{Field: "customerId", Reason: "must contain only digits"}
	}
	return nil
}
