package monitor

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/rcisneros138/shopify-lifetime-value-discounts/internal/domain"
	"github.com/rcisneros138/shopify-lifetime-value-discounts/internal/metrics"
)

// Storefront is the slice of the storefront client the monitor needs.
type Storefront interface {
	Cart(ctx context.Context) (domain.CartSnapshot, error)
	ApplyDiscount(ctx context.Context, code string) error
	ClearDiscount(ctx context.Context) error
}

// EligibilityClient evaluates a cart against the discount engine.
type EligibilityClient interface {
	Evaluate(ctx context.Context, req EvaluateRequest) EvaluateResult
}

// Identity reports the logged-in customer, if any.
type Identity interface {
	CustomerID() string // empty = anonymous
}

// StaticIdentity is an Identity fixed at construction time.
type StaticIdentity string

func (s StaticIdentity) CustomerID() string { return string(s) }

// Notifier surfaces discount changes to the shopper.
type Notifier interface {
	DiscountApplied(code string, percent int)
	DiscountRemoved()
	Progress(next domain.NextTier)
	ApplyFailed(message string)
}

// MetricsSink defines the interface for recording monitor metrics.
// All methods must be non-blocking and fire-and-forget.
type MetricsSink interface {
	MonitorEvaluation(outcome string)
	MonitorRetryAttempt(statusClass string)
}

type Config struct {
	// Debounce is how long after the last trigger the evaluation starts.
	Debounce time.Duration
	// CacheTTL bounds how stale a locally cached result may be when used
	// as a fallback.
	CacheTTL time.Duration
	// SessionTimeout is the inactivity window after which the session is
	// cleared.
	SessionTimeout time.Duration
	// SweepInterval is how often the session timeout and cache expiry are
	// checked.
	SweepInterval time.Duration
	// MaxAttempts caps engine calls per evaluation, the first included.
	MaxAttempts int
	// RetryBackoff is the pause before a retry after a 429.
	RetryBackoff time.Duration
}

func DefaultConfig() Config {
	return Config{
		Debounce:       500 * time.Millisecond,
		CacheTTL:       5 * time.Minute,
		SessionTimeout: 30 * time.Minute,
		SweepInterval:  60 * time.Second,
		MaxAttempts:    3,
		RetryBackoff:   time.Second,
	}
}

// Monitor watches cart mutation triggers and keeps the applied discount
// code reconciled with what the engine says the shopper has earned. The
// loop is the single writer of all monitor state; collaborator calls run
// in short-lived goroutines that report back through the event channel.
type Monitor struct {
	config   Config
	store    Storefront
	client   EligibilityClient
	identity Identity
	notifier Notifier
	metrics  MetricsSink // optional, nil = disabled
	clock    func() time.Time

	state           State
	session         domain.MonitorSessionState
	cache           *resultCache
	lastFingerprint string
	generation      int

	events   chan Event
	debounce *time.Timer
}

func New(config Config, store Storefront, client EligibilityClient, identity Identity, notifier Notifier) *Monitor {
	if config.MaxAttempts < 1 {
		config.MaxAttempts = 1
	}
	return &Monitor{
		config:   config,
		store:    store,
		client:   client,
		identity: identity,
		notifier: notifier,
		clock:    time.Now,
		state:    StateIdle,
		cache:    newResultCache(config.CacheTTL),
		events:   make(chan Event, 16),
	}
}

// WithMetrics attaches a metrics sink to the monitor.
func (m *Monitor) WithMetrics(sink MetricsSink) *Monitor {
	m.metrics = sink
	return m
}

func (m *Monitor) WithClock(clock func() time.Time) *Monitor {
	if clock != nil {
		m.clock = clock
	}
	return m
}

// Run consumes triggers until ctx is cancelled. Blocks.
func (m *Monitor) Run(ctx context.Context, triggers <-chan domain.CartEvent) {
	m.session = m.newSession()
	log.Printf("monitor: started session=%s", m.session.SessionID)

	m.debounce = time.NewTimer(m.config.Debounce)
	if !m.debounce.Stop() {
		<-m.debounce.C
	}
	defer m.debounce.Stop()

	sweep := time.NewTicker(m.config.SweepInterval)
	defer sweep.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Printf("monitor: stopped session=%s", m.session.SessionID)
			return

		case trigger := <-triggers:
			m.dispatch(ctx, m.fromTrigger(trigger))

		case <-m.debounce.C:
			m.dispatch(ctx, Event{Kind: EvDebounceElapsed})

		case ev := <-m.events:
			m.dispatch(ctx, ev)

		case <-sweep.C:
			now := m.clock()
			m.cache.sweep(now)
			if m.session.Expired(now, m.config.SessionTimeout) {
				m.dispatch(ctx, Event{Kind: EvSessionExpired})
			}
		}
	}
}

func (m *Monitor) fromTrigger(trigger domain.CartEvent) Event {
	switch trigger.Kind {
	case domain.EventLogin:
		return Event{Kind: EvLogin}
	case domain.EventLogout:
		return Event{Kind: EvLogout}
	default:
		return Event{Kind: EvTrigger}
	}
}

func (m *Monitor) dispatch(ctx context.Context, ev Event) {
	next, effects := Transition(m.state, m.session.CurrentDiscountCode, ev)

	m.recordTransition(ev, next)

	// Only a completion from the current session generation may advance the
	// fingerprint; a check that outlived a session reset would otherwise
	// restore the fingerprint the reset just cleared.
	if ev.Kind == EvCheckDone && m.state == StateChecking && ev.Generation == m.generation {
		m.lastFingerprint = ev.Fingerprint
	}
	if ev.Kind == EvReconcileDone && ev.SetCode {
		m.session.CurrentDiscountCode = ev.Code
	}

	m.state = next
	for _, fx := range effects {
		m.execute(ctx, fx)
	}
}

// recordTransition emits one evaluation outcome per completed check.
func (m *Monitor) recordTransition(ev Event, next State) {
	if m.metrics == nil {
		return
	}
	switch ev.Kind {
	case EvCheckSkipped:
		m.metrics.MonitorEvaluation(metrics.MonitorOutcomeSkipped)
	case EvCheckFailed:
		m.metrics.MonitorEvaluation(metrics.MonitorOutcomeFailed)
	case EvCheckDone:
		if ev.Cached {
			m.metrics.MonitorEvaluation(metrics.MonitorOutcomeCached)
			return
		}
		switch next {
		case StateApplying:
			m.metrics.MonitorEvaluation(metrics.MonitorOutcomeApplied)
		case StateRemoving:
			m.metrics.MonitorEvaluation(metrics.MonitorOutcomeRemoved)
		case StateShowingProgress:
			m.metrics.MonitorEvaluation(metrics.MonitorOutcomeProgress)
		default:
			m.metrics.MonitorEvaluation(metrics.MonitorOutcomeUnchanged)
		}
	}
}

func (m *Monitor) execute(ctx context.Context, fx Effect) {
	switch fx.Kind {
	case FxStartDebounce:
		if !m.debounce.Stop() {
			select {
			case <-m.debounce.C:
			default:
			}
		}
		m.debounce.Reset(m.config.Debounce)

	case FxEvaluate:
		m.session.LastActivity = m.clock()
		prev := m.lastFingerprint
		if fx.Force {
			prev = ""
		}
		go m.evaluate(ctx, prev, m.session.SessionID, m.identity.CustomerID(), m.generation)

	case FxApply:
		go m.apply(ctx, fx.Code, fx.Percent)

	case FxRemove:
		go m.remove(ctx)

	case FxShowProgress:
		if fx.Next != nil {
			m.notifier.Progress(*fx.Next)
		}
		m.post(ctx, Event{Kind: EvReconcileDone})

	case FxClearSession:
		m.clearSession(ctx)
	}
}

// evaluate runs one eligibility check: fetch the cart, short-circuit on an
// unchanged fingerprint, call the engine with retries, and fall back to the
// local cache when the engine is unreachable.
func (m *Monitor) evaluate(ctx context.Context, prevFingerprint, sessionID, customerID string, generation int) {
	snapshot, err := m.store.Cart(ctx)
	if err != nil {
		log.Printf("monitor: cart fetch failed: %v", err)
		m.post(ctx, Event{Kind: EvCheckSkipped})
		return
	}

	fingerprint := snapshot.Fingerprint()
	if fingerprint == prevFingerprint {
		m.post(ctx, Event{Kind: EvCheckSkipped})
		return
	}

	req := EvaluateRequest{
		CartTotal:  snapshot.Total,
		CustomerID: customerID,
		SessionID:  sessionID,
	}

	result, ok := m.callWithRetry(ctx, req)
	now := m.clock()
	if ok {
		m.cache.put(result, now)
		m.post(ctx, Event{Kind: EvCheckDone, Result: result, Fingerprint: fingerprint, Generation: generation})
		return
	}

	if cached, fresh := m.cache.get(now); fresh {
		log.Printf("monitor: engine unreachable, using cached result")
		m.post(ctx, Event{Kind: EvCheckDone, Result: cached, Cached: true, Fingerprint: fingerprint, Generation: generation})
		return
	}

	m.post(ctx, Event{Kind: EvCheckFailed})
}

func (m *Monitor) callWithRetry(ctx context.Context, req EvaluateRequest) (domain.EligibilityResult, bool) {
	var last EvaluateResult

	for attempt := 1; attempt <= m.config.MaxAttempts; attempt++ {
		if attempt > 1 {
			if m.metrics != nil {
				m.metrics.MonitorRetryAttempt(metrics.ClassifyStatus(last.StatusCode, last.Err))
			}

			timer := time.NewTimer(m.config.RetryBackoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return domain.EligibilityResult{}, false
			case <-timer.C:
			}
		}

		result := m.client.Evaluate(ctx, req)
		last = result

		if result.IsSuccess() {
			return result.Result, true
		}
		if !result.IsRetryable() {
			log.Printf("monitor: evaluation failed status=%d err=%v", result.StatusCode, result.Err)
			return domain.EligibilityResult{}, false
		}

		log.Printf("monitor: rate limited attempt=%d, backing off %s", attempt, m.config.RetryBackoff)
	}

	log.Printf("monitor: evaluation failed after %d attempts status=%d", m.config.MaxAttempts, last.StatusCode)
	return domain.EligibilityResult{}, false
}

func (m *Monitor) apply(ctx context.Context, code string, percent int) {
	if err := m.store.ApplyDiscount(ctx, code); err != nil {
		log.Printf("monitor: apply discount %s failed: %v", code, err)
		m.notifier.ApplyFailed("could not apply your discount, it will be retried on the next cart change")
		m.post(ctx, Event{Kind: EvReconcileFailed})
		return
	}
	log.Printf("monitor: applied discount %s (%d%%)", code, percent)
	m.notifier.DiscountApplied(code, percent)
	m.post(ctx, Event{Kind: EvReconcileDone, Code: code, SetCode: true})
}

func (m *Monitor) remove(ctx context.Context) {
	if err := m.store.ClearDiscount(ctx); err != nil {
		log.Printf("monitor: clear discount failed: %v", err)
		m.post(ctx, Event{Kind: EvReconcileFailed})
		return
	}
	log.Printf("monitor: removed discount")
	m.notifier.DiscountRemoved()
	m.post(ctx, Event{Kind: EvReconcileDone, Code: "", SetCode: true})
}

// clearSession wipes everything session-scoped: the cached result, the
// fingerprint, the applied code, and the session id itself.
func (m *Monitor) clearSession(ctx context.Context) {
	m.cache.clear()
	m.lastFingerprint = ""
	m.generation++

	if m.session.CurrentDiscountCode != "" {
		go func() {
			if err := m.store.ClearDiscount(ctx); err != nil {
				log.Printf("monitor: clear discount on session reset failed: %v", err)
			}
		}()
	}

	old := m.session.SessionID
	m.session = m.newSession()
	log.Printf("monitor: session reset %s -> %s", old, m.session.SessionID)
}

func (m *Monitor) newSession() domain.MonitorSessionState {
	return domain.MonitorSessionState{
		SessionID:    uuid.NewString(),
		LastActivity: m.clock(),
	}
}

func (m *Monitor) post(ctx context.Context, ev Event) {
	select {
	case m.events <- ev:
	case <-ctx.Done():
	}
}
