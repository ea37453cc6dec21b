package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// CartItem is one line in a cart snapshot.
type CartItem struct {
	ID       int64
	Quantity int
}

// CartSnapshot is a normalized fingerprint of cart contents, recomputed on
// every monitor check and compared to the previous snapshot to suppress
// redundant evaluations.
type CartSnapshot struct {
	Items []CartItem
	Total decimal.Decimal
}

// Fingerprint returns a stable digest of the snapshot. Items are sorted by
// id first, so carts that differ only in item ordering compare equal.
func (s CartSnapshot) Fingerprint() string {
	items := make([]CartItem, len(s.Items))
	copy(items, s.Items)
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })

	h := sha256.New()
	for _, item := range items {
		fmt.Fprintf(h, "%d:%d;", item.ID, item.Quantity)
	}
	fmt.Fprintf(h, "total:%s", s.Total.String())
	return hex.EncodeToString(h.Sum(nil))
}

// CartEventKind classifies the source of a cart mutation trigger.
type CartEventKind string

const (
	EventAdd    CartEventKind = "add"
	EventRemove CartEventKind = "remove"
	EventUpdate CartEventKind = "update"
	EventForm   CartEventKind = "form"
	EventDOM    CartEventKind = "dom"
	EventPoll   CartEventKind = "poll"
	EventLogin  CartEventKind = "login"
	EventLogout CartEventKind = "logout"
	EventManual CartEventKind = "manual"
)

// CartEvent is emitted by mutation observers and consumed by the monitor.
type CartEvent struct {
	Source string // observer name, e.g. "websocket", "poll"
	Kind   CartEventKind
	At     time.Time
}
