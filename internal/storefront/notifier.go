package storefront

import (
	"log"

	"github.com/rcisneros138/shopify-lifetime-value-discounts/internal/domain"
)

// LogNotifier surfaces shopper-facing discount updates on the process log.
// Headless stand-in for the on-page banner.
type LogNotifier struct{}

func NewLogNotifier() *LogNotifier {
	return &LogNotifier{}
}

func (n *LogNotifier) DiscountApplied(code string, percent int) {
	log.Printf("notifier: %d%% discount applied (code %s)", percent, code)
}

func (n *LogNotifier) DiscountRemoved() {
	log.Printf("notifier: discount removed")
}

func (n *LogNotifier) Progress(next domain.NextTier) {
	log.Printf("notifier: spend %s more to unlock %d%% off", next.AmountNeeded.StringFixed(2), next.Percent)
}

func (n *LogNotifier) ApplyFailed(message string) {
	log.Printf("notifier: discount could not be applied: %s", message)
}
