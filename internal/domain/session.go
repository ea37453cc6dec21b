package domain

import "time"

// MonitorSessionState tracks the per-tab monitor session: which discount
// code is currently applied and when the shopper was last active. Owned by
// the cart monitor; reset on logout, expired after 30 minutes of inactivity.
type MonitorSessionState struct {
	SessionID           string
	CurrentDiscountCode string // empty = none applied
	LastActivity        time.Time
}

// Expired reports whether the session has seen no activity within timeout.
func (s MonitorSessionState) Expired(now time.Time, timeout time.Duration) bool {
	return now.Sub(s.LastActivity) >= timeout
}
