package monitor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rcisneros138/shopify-lifetime-value-discounts/internal/domain"
	"github.com/rcisneros138/shopify-lifetime-value-discounts/internal/testutil"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Debounce = 10 * time.Millisecond
	cfg.RetryBackoff = 5 * time.Millisecond
	cfg.SweepInterval = time.Hour
	return cfg
}

func testCart(itemID int64, total int64) domain.CartSnapshot {
	return domain.CartSnapshot{
		Items: []domain.CartItem{{ID: itemID, Quantity: 1}},
		Total: decimal.NewFromInt(total),
	}
}

type stubStorefront struct {
	mu       sync.Mutex
	cart     domain.CartSnapshot
	cartErr  error
	applyErr error
	applied  []string
	cleared  int
}

func (s *stubStorefront) setCart(cart domain.CartSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cart = cart
}

func (s *stubStorefront) Cart(ctx context.Context) (domain.CartSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cart, s.cartErr
}

func (s *stubStorefront) ApplyDiscount(ctx context.Context, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.applyErr != nil {
		return s.applyErr
	}
	s.applied = append(s.applied, code)
	return nil
}

func (s *stubStorefront) ClearDiscount(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cleared++
	return nil
}

func (s *stubStorefront) appliedCodes() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.applied...)
}

func (s *stubStorefront) clearedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cleared
}

type stubEngine struct {
	mu       sync.Mutex
	results  []EvaluateResult
	requests []EvaluateRequest
}

// Evaluate replays the configured results in order; the last one repeats.
func (e *stubEngine) Evaluate(ctx context.Context, req EvaluateRequest) EvaluateResult {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.requests = append(e.requests, req)
	idx := len(e.requests) - 1
	if idx >= len(e.results) {
		idx = len(e.results) - 1
	}
	return e.results[idx]
}

func (e *stubEngine) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.requests)
}

func (e *stubEngine) lastRequest() EvaluateRequest {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.requests[len(e.requests)-1]
}

// gatedEngine blocks one configured call until released, so a test can act
// while that evaluation is in flight.
type gatedEngine struct {
	stubEngine
	gateCall int
	started  chan struct{}
	release  chan struct{}
}

func newGatedEngine(gateCall int, results ...EvaluateResult) *gatedEngine {
	return &gatedEngine{
		stubEngine: stubEngine{results: results},
		gateCall:   gateCall,
		started:    make(chan struct{}),
		release:    make(chan struct{}),
	}
}

func (e *gatedEngine) Evaluate(ctx context.Context, req EvaluateRequest) EvaluateResult {
	e.mu.Lock()
	call := len(e.requests) + 1
	e.mu.Unlock()
	if call == e.gateCall {
		close(e.started)
		<-e.release
	}
	return e.stubEngine.Evaluate(ctx, req)
}

func okResult(code string, percent int) EvaluateResult {
	return EvaluateResult{
		StatusCode: 200,
		Result: domain.EligibilityResult{
			DiscountCode:    code,
			DiscountPercent: percent,
			Timestamp:       time.Now().UTC(),
		},
	}
}

func progressResult(amountNeeded float64, percent int) EvaluateResult {
	return EvaluateResult{
		StatusCode: 200,
		Result: domain.EligibilityResult{
			NextTier: &domain.NextTier{
				Percent:      percent,
				AmountNeeded: decimal.NewFromFloat(amountNeeded),
			},
		},
	}
}

func statusResult(status int) EvaluateResult {
	return EvaluateResult{StatusCode: status}
}

type recordingNotifier struct {
	mu       sync.Mutex
	applied  []string
	removed  int
	progress []domain.NextTier
	failures []string
}

func (n *recordingNotifier) DiscountApplied(code string, percent int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.applied = append(n.applied, code)
}

func (n *recordingNotifier) DiscountRemoved() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.removed++
}

func (n *recordingNotifier) Progress(next domain.NextTier) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.progress = append(n.progress, next)
}

func (n *recordingNotifier) ApplyFailed(message string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failures = append(n.failures, message)
}

func (n *recordingNotifier) progressCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.progress)
}

func (n *recordingNotifier) removedCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.removed
}

type switchIdentity struct {
	mu sync.Mutex
	id string
}

func (s *switchIdentity) set(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.id = id
}

func (s *switchIdentity) CustomerID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

type captureMetrics struct {
	mu          sync.Mutex
	evaluations []string
	retries     []string
}

func (m *captureMetrics) MonitorEvaluation(outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.evaluations = append(m.evaluations, outcome)
}

func (m *captureMetrics) MonitorRetryAttempt(statusClass string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.retries = append(m.retries, statusClass)
}

func (m *captureMetrics) outcomes() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.evaluations...)
}

func (m *captureMetrics) retryClasses() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.retries...)
}

func hasOutcome(outcomes []string, want string) bool {
	for _, o := range outcomes {
		if o == want {
			return true
		}
	}
	return false
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestMonitor_BurstCoalescesIntoOneEvaluation(t *testing.T) {
	store := &stubStorefront{cart: testCart(1, 100)}
	engine := &stubEngine{results: []EvaluateResult{okResult("LIFETIME_10", 10)}}
	notifier := &recordingNotifier{}

	mon := New(testConfig(), store, engine, StaticIdentity("42"), notifier)

	ctx, cancel := context.WithCancel(testutil.TestContext(t))
	defer cancel()
	triggers := make(chan domain.CartEvent, 16)
	go mon.Run(ctx, triggers)

	for i := 0; i < 3; i++ {
		triggers <- domain.CartEvent{Source: "test", Kind: domain.EventAdd, At: time.Now()}
	}

	waitFor(t, time.Second, func() bool { return len(store.appliedCodes()) == 1 },
		"discount never applied")

	// Give a full debounce window for any stray evaluation to surface.
	time.Sleep(30 * time.Millisecond)
	if got := engine.callCount(); got != 1 {
		t.Errorf("engine calls = %d, want 1 for a coalesced burst", got)
	}
	if codes := store.appliedCodes(); codes[0] != "LIFETIME_10" {
		t.Errorf("applied = %v, want [LIFETIME_10]", codes)
	}
}

func TestMonitor_UnchangedFingerprintSkipsEngine(t *testing.T) {
	store := &stubStorefront{cart: testCart(1, 100)}
	engine := &stubEngine{results: []EvaluateResult{okResult("LIFETIME_10", 10)}}
	metrics := &captureMetrics{}

	mon := New(testConfig(), store, engine, StaticIdentity("42"), &recordingNotifier{}).
		WithMetrics(metrics)

	ctx, cancel := context.WithCancel(testutil.TestContext(t))
	defer cancel()
	triggers := make(chan domain.CartEvent, 16)
	go mon.Run(ctx, triggers)

	triggers <- domain.CartEvent{Kind: domain.EventAdd}
	waitFor(t, time.Second, func() bool { return len(store.appliedCodes()) == 1 },
		"first evaluation never completed")

	// Same cart again: the fingerprint short-circuit fires before the engine.
	triggers <- domain.CartEvent{Kind: domain.EventUpdate}
	waitFor(t, time.Second, func() bool { return hasOutcome(metrics.outcomes(), "skipped") },
		"second check was not skipped")

	if got := engine.callCount(); got != 1 {
		t.Errorf("engine calls = %d, want 1", got)
	}
}

func TestMonitor_RemovesDiscountWhenEligibilityLost(t *testing.T) {
	store := &stubStorefront{cart: testCart(1, 100)}
	engine := &stubEngine{results: []EvaluateResult{
		okResult("LIFETIME_10", 10),
		okResult("", 0),
	}}
	notifier := &recordingNotifier{}

	mon := New(testConfig(), store, engine, StaticIdentity("42"), notifier)

	ctx, cancel := context.WithCancel(testutil.TestContext(t))
	defer cancel()
	triggers := make(chan domain.CartEvent, 16)
	go mon.Run(ctx, triggers)

	triggers <- domain.CartEvent{Kind: domain.EventAdd}
	waitFor(t, time.Second, func() bool { return len(store.appliedCodes()) == 1 },
		"discount never applied")

	store.setCart(testCart(2, 10))
	triggers <- domain.CartEvent{Kind: domain.EventRemove}
	waitFor(t, time.Second, func() bool { return store.clearedCount() == 1 },
		"discount never removed")

	if notifier.removedCount() != 1 {
		t.Errorf("removal notifications = %d, want 1", notifier.removedCount())
	}
}

func TestMonitor_ShowsProgressWhenNoCodeEligible(t *testing.T) {
	store := &stubStorefront{cart: testCart(1, 100)}
	engine := &stubEngine{results: []EvaluateResult{progressResult(2400, 10)}}
	notifier := &recordingNotifier{}
	metrics := &captureMetrics{}

	mon := New(testConfig(), store, engine, StaticIdentity("42"), notifier).
		WithMetrics(metrics)

	ctx, cancel := context.WithCancel(testutil.TestContext(t))
	defer cancel()
	triggers := make(chan domain.CartEvent, 16)
	go mon.Run(ctx, triggers)

	triggers <- domain.CartEvent{Kind: domain.EventAdd}
	waitFor(t, time.Second, func() bool { return notifier.progressCount() == 1 },
		"progress never surfaced")

	if !hasOutcome(metrics.outcomes(), "progress") {
		t.Errorf("outcomes = %v, want progress", metrics.outcomes())
	}
	if len(store.appliedCodes()) != 0 {
		t.Errorf("applied = %v, want none", store.appliedCodes())
	}
}

func TestMonitor_RetriesOnRateLimit(t *testing.T) {
	store := &stubStorefront{cart: testCart(1, 100)}
	engine := &stubEngine{results: []EvaluateResult{
		statusResult(429),
		statusResult(429),
		okResult("LIFETIME_10", 10),
	}}
	metrics := &captureMetrics{}

	mon := New(testConfig(), store, engine, StaticIdentity("42"), &recordingNotifier{}).
		WithMetrics(metrics)

	ctx, cancel := context.WithCancel(testutil.TestContext(t))
	defer cancel()
	triggers := make(chan domain.CartEvent, 16)
	go mon.Run(ctx, triggers)

	triggers <- domain.CartEvent{Kind: domain.EventAdd}
	waitFor(t, time.Second, func() bool { return len(store.appliedCodes()) == 1 },
		"discount never applied after retries")

	if got := engine.callCount(); got != 3 {
		t.Errorf("engine calls = %d, want 3", got)
	}
	retries := metrics.retryClasses()
	if len(retries) != 2 || retries[0] != "429" || retries[1] != "429" {
		t.Errorf("retries = %v, want [429 429]", retries)
	}
}

func TestMonitor_ServerErrorFailsWithoutRetry(t *testing.T) {
	store := &stubStorefront{cart: testCart(1, 100)}
	engine := &stubEngine{results: []EvaluateResult{statusResult(500)}}
	metrics := &captureMetrics{}

	mon := New(testConfig(), store, engine, StaticIdentity("42"), &recordingNotifier{}).
		WithMetrics(metrics)

	ctx, cancel := context.WithCancel(testutil.TestContext(t))
	defer cancel()
	triggers := make(chan domain.CartEvent, 16)
	go mon.Run(ctx, triggers)

	triggers <- domain.CartEvent{Kind: domain.EventAdd}
	waitFor(t, time.Second, func() bool { return hasOutcome(metrics.outcomes(), "failed") },
		"failure never recorded")

	if got := engine.callCount(); got != 1 {
		t.Errorf("engine calls = %d, want 1 for a non-retryable failure", got)
	}
	if len(metrics.retryClasses()) != 0 {
		t.Errorf("retries = %v, want none", metrics.retryClasses())
	}
}

func TestMonitor_FallsBackToCachedResult(t *testing.T) {
	store := &stubStorefront{cart: testCart(1, 100)}
	engine := &stubEngine{results: []EvaluateResult{
		okResult("LIFETIME_15", 15),
		statusResult(500),
	}}
	metrics := &captureMetrics{}

	mon := New(testConfig(), store, engine, StaticIdentity("42"), &recordingNotifier{}).
		WithMetrics(metrics)

	ctx, cancel := context.WithCancel(testutil.TestContext(t))
	defer cancel()
	triggers := make(chan domain.CartEvent, 16)
	go mon.Run(ctx, triggers)

	triggers <- domain.CartEvent{Kind: domain.EventAdd}
	waitFor(t, time.Second, func() bool { return len(store.appliedCodes()) == 1 },
		"discount never applied")

	// Engine goes down; the cached result keeps the current code in place.
	store.setCart(testCart(2, 120))
	triggers <- domain.CartEvent{Kind: domain.EventUpdate}
	waitFor(t, time.Second, func() bool { return hasOutcome(metrics.outcomes(), "cached") },
		"cached fallback never used")

	if got := len(store.appliedCodes()); got != 1 {
		t.Errorf("applies = %d, want 1 (cached result matches applied code)", got)
	}
	if store.clearedCount() != 0 {
		t.Errorf("cleared = %d, want 0", store.clearedCount())
	}
}

func TestMonitor_LogoutClearsAndReEvaluatesAnonymous(t *testing.T) {
	store := &stubStorefront{cart: testCart(1, 100)}
	engine := &stubEngine{results: []EvaluateResult{
		okResult("LIFETIME_10", 10),
		okResult("", 0),
	}}
	identity := &switchIdentity{id: "42"}

	mon := New(testConfig(), store, engine, identity, &recordingNotifier{})

	ctx, cancel := context.WithCancel(testutil.TestContext(t))
	defer cancel()
	triggers := make(chan domain.CartEvent, 16)
	go mon.Run(ctx, triggers)

	triggers <- domain.CartEvent{Kind: domain.EventAdd}
	waitFor(t, time.Second, func() bool { return len(store.appliedCodes()) == 1 },
		"discount never applied")

	identity.set("")
	triggers <- domain.CartEvent{Kind: domain.EventLogout}

	waitFor(t, time.Second, func() bool { return store.clearedCount() >= 1 },
		"discount never cleared on logout")
	waitFor(t, time.Second, func() bool { return engine.callCount() == 2 },
		"anonymous re-evaluation never ran")

	if got := engine.lastRequest().CustomerID; got != "" {
		t.Errorf("re-evaluation CustomerID = %q, want anonymous", got)
	}
}

func TestMonitor_LoginReEvaluatesUnchangedCart(t *testing.T) {
	store := &stubStorefront{cart: testCart(1, 100)}
	engine := &stubEngine{results: []EvaluateResult{
		okResult("", 0),
		okResult("LIFETIME_15", 15),
	}}
	identity := &switchIdentity{id: ""}

	mon := New(testConfig(), store, engine, identity, &recordingNotifier{})

	ctx, cancel := context.WithCancel(testutil.TestContext(t))
	defer cancel()
	triggers := make(chan domain.CartEvent, 16)
	go mon.Run(ctx, triggers)

	triggers <- domain.CartEvent{Kind: domain.EventAdd}
	waitFor(t, time.Second, func() bool { return engine.callCount() == 1 },
		"anonymous evaluation never ran")

	// Cart is unchanged; the login itself must reach the engine so the new
	// identity's spend counts.
	identity.set("42")
	triggers <- domain.CartEvent{Kind: domain.EventLogin}
	waitFor(t, time.Second, func() bool { return engine.callCount() == 2 },
		"login did not re-evaluate")

	if got := engine.lastRequest().CustomerID; got != "42" {
		t.Errorf("re-evaluation CustomerID = %q, want 42", got)
	}
	waitFor(t, time.Second, func() bool { return len(store.appliedCodes()) == 1 },
		"discount never applied after login")
}

func TestMonitor_LogoutDuringEvaluationKeepsNextTriggerLive(t *testing.T) {
	store := &stubStorefront{cart: testCart(1, 100)}
	engine := newGatedEngine(2,
		okResult("LIFETIME_10", 10),
		okResult("LIFETIME_15", 15),
		okResult("", 0),
	)
	identity := &switchIdentity{id: "42"}

	mon := New(testConfig(), store, engine, identity, &recordingNotifier{})

	ctx, cancel := context.WithCancel(testutil.TestContext(t))
	defer cancel()
	triggers := make(chan domain.CartEvent, 16)
	go mon.Run(ctx, triggers)

	triggers <- domain.CartEvent{Kind: domain.EventAdd}
	waitFor(t, time.Second, func() bool { return len(store.appliedCodes()) == 1 },
		"discount never applied")

	// Second evaluation blocks inside the engine; log out while it is in
	// flight. The applied code is cleared right away.
	store.setCart(testCart(2, 200))
	triggers <- domain.CartEvent{Kind: domain.EventUpdate}
	<-engine.started
	identity.set("")
	triggers <- domain.CartEvent{Kind: domain.EventLogout}
	waitFor(t, time.Second, func() bool { return store.clearedCount() >= 1 },
		"discount never cleared on logout")

	// The blocked check completes against the old session and reconciles.
	close(engine.release)
	waitFor(t, time.Second, func() bool { return len(store.appliedCodes()) == 2 },
		"in-flight check never reconciled")

	// The stale completion must not restore the fingerprint the logout
	// cleared: the same cart still evaluates, now as anonymous.
	triggers <- domain.CartEvent{Kind: domain.EventUpdate}
	waitFor(t, time.Second, func() bool { return engine.callCount() == 3 },
		"post-logout trigger was short-circuited")

	if got := engine.lastRequest().CustomerID; got != "" {
		t.Errorf("post-logout CustomerID = %q, want anonymous", got)
	}
	waitFor(t, time.Second, func() bool { return store.clearedCount() >= 2 },
		"stale discount never removed after logout")
}

func TestMonitor_SessionExpiryClearsState(t *testing.T) {
	store := &stubStorefront{cart: testCart(1, 100)}
	engine := &stubEngine{results: []EvaluateResult{okResult("LIFETIME_10", 10)}}
	clock := testutil.NewFakeClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))

	cfg := testConfig()
	cfg.SweepInterval = 10 * time.Millisecond

	mon := New(cfg, store, engine, StaticIdentity("42"), &recordingNotifier{}).
		WithClock(clock.Now)

	ctx, cancel := context.WithCancel(testutil.TestContext(t))
	defer cancel()
	triggers := make(chan domain.CartEvent, 16)
	go mon.Run(ctx, triggers)

	triggers <- domain.CartEvent{Kind: domain.EventAdd}
	waitFor(t, time.Second, func() bool { return len(store.appliedCodes()) == 1 },
		"discount never applied")

	clock.Advance(31 * time.Minute)
	waitFor(t, time.Second, func() bool { return store.clearedCount() >= 1 },
		"session expiry never cleared the discount")
}

func TestMonitor_CartFetchFailureSkipsQuietly(t *testing.T) {
	store := &stubStorefront{cart: testCart(1, 100), cartErr: context.DeadlineExceeded}
	engine := &stubEngine{results: []EvaluateResult{okResult("LIFETIME_10", 10)}}
	metrics := &captureMetrics{}
	notifier := &recordingNotifier{}

	mon := New(testConfig(), store, engine, StaticIdentity("42"), notifier).
		WithMetrics(metrics)

	ctx, cancel := context.WithCancel(testutil.TestContext(t))
	defer cancel()
	triggers := make(chan domain.CartEvent, 16)
	go mon.Run(ctx, triggers)

	triggers <- domain.CartEvent{Kind: domain.EventAdd}
	waitFor(t, time.Second, func() bool { return hasOutcome(metrics.outcomes(), "skipped") },
		"skip never recorded")

	if engine.callCount() != 0 {
		t.Errorf("engine calls = %d, want 0", engine.callCount())
	}
	notifier.mu.Lock()
	failures := len(notifier.failures)
	notifier.mu.Unlock()
	if failures != 0 {
		t.Errorf("failure notifications = %d, want silent degradation", failures)
	}
}
