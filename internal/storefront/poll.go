package storefront

import (
	"context"
	"log"
	"time"

	"github.com/rcisneros138/shopify-lifetime-value-discounts/internal/domain"
)

const DefaultPollInterval = 30 * time.Second

// PollObserver emits a periodic trigger so cart changes the event stream
// misses still get picked up. The fingerprint check keeps redundant polls
// from reaching the eligibility engine.
type PollObserver struct {
	interval time.Duration
	bus      EventEmitter
	clock    func() time.Time
}

func NewPollObserver(interval time.Duration, bus EventEmitter) *PollObserver {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &PollObserver{
		interval: interval,
		bus:      bus,
		clock:    time.Now,
	}
}

func (o *PollObserver) WithClock(clock func() time.Time) *PollObserver {
	if clock != nil {
		o.clock = clock
	}
	return o
}

// Run emits a poll trigger every interval until ctx is cancelled.
func (o *PollObserver) Run(ctx context.Context) {
	ticker := time.NewTicker(o.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			event := domain.CartEvent{
				Source: "poll",
				Kind:   domain.EventPoll,
				At:     o.clock().UTC(),
			}
			if err := o.bus.Emit(ctx, event); err != nil {
				log.Printf("observer: dropping poll event: %v", err)
			}
		}
	}
}
