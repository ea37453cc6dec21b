package storefront

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rcisneros138/shopify-lifetime-value-discounts/internal/domain"
)

const (
	minBackoff  = 1 * time.Second
	maxBackoff  = 30 * time.Second
	readTimeout = 90 * time.Second
)

// EventEmitter is the slice of the event bus observers need.
type EventEmitter interface {
	Emit(ctx context.Context, event domain.CartEvent) error
}

// wsMessage is the envelope pushed by the storefront event stream.
type wsMessage struct {
	Event string `json:"event"`
}

// WebsocketObserver subscribes to the storefront's cart event stream and
// forwards mutations onto the bus. Reconnects with exponential backoff.
type WebsocketObserver struct {
	url   string
	bus   EventEmitter
	clock func() time.Time
}

func NewWebsocketObserver(url string, bus EventEmitter) *WebsocketObserver {
	return &WebsocketObserver{
		url:   url,
		bus:   bus,
		clock: time.Now,
	}
}

func (o *WebsocketObserver) WithClock(clock func() time.Time) *WebsocketObserver {
	if clock != nil {
		o.clock = clock
	}
	return o
}

// Run connects to the event stream and reconnects on failure with
// exponential backoff. Blocks until ctx is cancelled.
func (o *WebsocketObserver) Run(ctx context.Context) {
	attempt := 0
	for {
		if ctx.Err() != nil {
			return
		}

		connStart := time.Now()
		err := o.connect(ctx)
		if ctx.Err() != nil {
			return
		}

		if time.Since(connStart) > time.Minute {
			attempt = 0
		}

		attempt++
		backoff := time.Duration(float64(minBackoff) * math.Pow(2, float64(min(attempt-1, 5))))
		if backoff > maxBackoff {
			backoff = maxBackoff
		}

		if err != nil {
			log.Printf("observer: websocket connection lost (attempt %d): %v, retrying in %s", attempt, err, backoff)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
	}
}

func (o *WebsocketObserver) connect(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, o.url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	// Reset deadline on server pings so quiet periods don't trigger a timeout.
	conn.SetPingHandler(func(appData string) error {
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		return conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(5*time.Second))
	})

	log.Printf("observer: websocket connected to %s", o.url)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}

		var envelope wsMessage
		if err := json.Unmarshal(raw, &envelope); err != nil {
			log.Printf("observer: unmarshal event envelope: %v", err)
			continue
		}

		kind, ok := eventKind(envelope.Event)
		if !ok {
			continue
		}

		event := domain.CartEvent{
			Source: "websocket",
			Kind:   kind,
			At:     o.clock().UTC(),
		}
		if err := o.bus.Emit(ctx, event); err != nil {
			log.Printf("observer: dropping %s event: %v", envelope.Event, err)
		}
	}
}

// eventKind maps stream event names onto trigger kinds. Unknown names are
// ignored rather than treated as mutations.
func eventKind(name string) (domain.CartEventKind, bool) {
	switch name {
	case "cart:add":
		return domain.EventAdd, true
	case "cart:remove":
		return domain.EventRemove, true
	case "cart:update":
		return domain.EventUpdate, true
	case "cart:form":
		return domain.EventForm, true
	case "cart:dom":
		return domain.EventDOM, true
	case "customer:login":
		return domain.EventLogin, true
	case "customer:logout":
		return domain.EventLogout, true
	default:
		return "", false
	}
}
