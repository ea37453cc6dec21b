package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rcisneros138/shopify-lifetime-value-discounts/internal/domain"
	"github.com/rcisneros138/shopify-lifetime-value-discounts/internal/testutil"
	"github.com/rcisneros138/shopify-lifetime-value-discounts/internal/tier"
)

type fakeLimiter struct {
	allow   bool
	lastKey string
	calls   int
}

func (f *fakeLimiter) Admit(key string) bool {
	f.calls++
	f.lastKey = key
	return f.allow
}

type fakeLifetime struct {
	value decimal.Decimal
	err   error
	calls int
}

func (f *fakeLifetime) Resolve(ctx context.Context, customerID string) (decimal.Decimal, error) {
	f.calls++
	return f.value, f.err
}

type recordedOutcome struct {
	outcome domain.EvaluationOutcome
	code    string
}

type fakeAnalytics struct {
	records []recordedOutcome
}

func (f *fakeAnalytics) Record(ctx context.Context, outcome domain.EvaluationOutcome, code string, at time.Time) {
	f.records = append(f.records, recordedOutcome{outcome, code})
}

func newEngine(limiter *fakeLimiter, lifetime *fakeLifetime) *Engine {
	return New(limiter, lifetime, tier.NewResolver(), tier.TopPercent)
}

func request(cartTotal int64, customerID string) domain.EligibilityRequest {
	return domain.EligibilityRequest{
		CartTotal:  decimal.NewFromInt(cartTotal),
		CustomerID: customerID,
		SessionID:  "sess-1",
	}
}

func TestEvaluate_TierResolution(t *testing.T) {
	tests := []struct {
		name     string
		cart     int64
		lifetime int64
		wantPct  int
		wantCode string
		wantNext *domain.NextTier
	}{
		{
			name: "cart alone reaches first tier", cart: 2500, lifetime: 0,
			wantPct: 10, wantCode: "LIFETIME_10",
			wantNext: &domain.NextTier{Percent: 12, AmountNeeded: decimal.NewFromInt(1000)},
		},
		{
			name: "below every tier reports progress", cart: 100, lifetime: 0,
			wantPct: 0, wantCode: "",
			wantNext: &domain.NextTier{Percent: 10, AmountNeeded: decimal.NewFromInt(2400)},
		},
		{
			name: "lifetime and cart combine", cart: 500, lifetime: 3200,
			wantPct: 12, wantCode: "LIFETIME_12",
			wantNext: &domain.NextTier{Percent: 15, AmountNeeded: decimal.NewFromInt(1300)},
		},
		{
			name: "top tier has no next", cart: 1000, lifetime: 25000,
			wantPct: 20, wantCode: "LIFETIME_20", wantNext: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lt := &fakeLifetime{value: decimal.NewFromInt(tt.lifetime)}
			e := newEngine(&fakeLimiter{allow: true}, lt)

			got, err := e.Evaluate(testutil.TestContext(t), request(tt.cart, "42"))
			if err != nil {
				t.Fatalf("Evaluate: %v", err)
			}

			if got.DiscountPercent != tt.wantPct || got.DiscountCode != tt.wantCode {
				t.Errorf("result = %d%%/%q, want %d%%/%q",
					got.DiscountPercent, got.DiscountCode, tt.wantPct, tt.wantCode)
			}
			if !got.LifetimeSpent.Equal(decimal.NewFromInt(tt.lifetime)) {
				t.Errorf("lifetimeSpent = %s, want %d", got.LifetimeSpent, tt.lifetime)
			}
			wantTotal := decimal.NewFromInt(tt.cart + tt.lifetime)
			if !got.TotalValue.Equal(wantTotal) {
				t.Errorf("totalValue = %s, want %s", got.TotalValue, wantTotal)
			}

			switch {
			case tt.wantNext == nil && got.NextTier != nil:
				t.Errorf("nextTier = %+v, want nil", got.NextTier)
			case tt.wantNext != nil && got.NextTier == nil:
				t.Errorf("nextTier = nil, want %+v", tt.wantNext)
			case tt.wantNext != nil:
				if got.NextTier.Percent != tt.wantNext.Percent ||
					!got.NextTier.AmountNeeded.Equal(tt.wantNext.AmountNeeded) {
					t.Errorf("nextTier = %d%%/%s, want %d%%/%s",
						got.NextTier.Percent, got.NextTier.AmountNeeded,
						tt.wantNext.Percent, tt.wantNext.AmountNeeded)
				}
			}
		})
	}
}

func TestEvaluate_ValidationRejectsBeforeAdmission(t *testing.T) {
	tests := []struct {
		name string
		req  domain.EligibilityRequest
	}{
		{"negative cart total", domain.EligibilityRequest{CartTotal: decimal.NewFromInt(-5)}},
		{"non-numeric customer id", domain.EligibilityRequest{
			CartTotal:  decimal.NewFromInt(10),
			CustomerID: "gid://shopify/Customer/42",
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			limiter := &fakeLimiter{allow: true}
			lt := &fakeLifetime{}
			e := newEngine(limiter, lt)

			_, err := e.Evaluate(testutil.TestContext(t), tt.req)

			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("error = %v, want ValidationError", err)
			}
			if limiter.calls != 0 {
				t.Error("validation failure consulted the rate limiter")
			}
			if lt.calls != 0 {
				t.Error("validation failure consulted the lifetime resolver")
			}
		})
	}
}

func TestEvaluate_RateLimitedShortCircuits(t *testing.T) {
	lt := &fakeLifetime{value: decimal.NewFromInt(99999)}
	e := newEngine(&fakeLimiter{allow: false}, lt)

	got, err := e.Evaluate(testutil.TestContext(t), request(100, "42"))
	if !errors.Is(err, domain.ErrRateLimited) {
		t.Fatalf("error = %v, want ErrRateLimited", err)
	}
	if got.DiscountPercent != 0 || got.DiscountCode != "" {
		t.Errorf("result = %d%%/%q, want zero outcome", got.DiscountPercent, got.DiscountCode)
	}
	if lt.calls != 0 {
		t.Error("rate-limited request consulted the lifetime resolver")
	}
}

func TestEvaluate_AnonymousShortCircuits(t *testing.T) {
	lt := &fakeLifetime{value: decimal.NewFromInt(99999)}
	e := newEngine(&fakeLimiter{allow: true}, lt)

	got, err := e.Evaluate(testutil.TestContext(t), request(100, ""))
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if got.DiscountPercent != 0 || got.DiscountCode != "" {
		t.Errorf("result = %d%%/%q, want zero outcome", got.DiscountPercent, got.DiscountCode)
	}
	if got.Message != MsgLoginPrompt {
		t.Errorf("message = %q, want login prompt", got.Message)
	}
	if lt.calls != 0 {
		t.Error("anonymous request consulted the lifetime resolver")
	}
}

func TestEvaluate_ResolverFailureIsGeneric(t *testing.T) {
	lt := &fakeLifetime{err: errors.New("admin API: status 502 for shop xyz")}
	e := newEngine(&fakeLimiter{allow: true}, lt)

	got, err := e.Evaluate(testutil.TestContext(t), request(100, "42"))
	if err == nil {
		t.Fatal("expected error")
	}
	if got.DiscountPercent != 0 || got.DiscountCode != "" {
		t.Errorf("result = %d%%/%q, want zero outcome", got.DiscountPercent, got.DiscountCode)
	}
	// The caller-visible message never carries upstream detail.
	if got.Message != MsgError {
		t.Errorf("message = %q, want %q", got.Message, MsgError)
	}
}

func TestEvaluate_RateKeyPrecedence(t *testing.T) {
	tests := []struct {
		name string
		req  domain.EligibilityRequest
		want string
	}{
		{"session id wins", domain.EligibilityRequest{SessionID: "s1", RemoteAddr: "10.0.0.1"}, "s1"},
		{"remote addr next", domain.EligibilityRequest{RemoteAddr: "10.0.0.1"}, "10.0.0.1"},
		{"fallback token last", domain.EligibilityRequest{}, FallbackRateKey},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			limiter := &fakeLimiter{allow: true}
			e := newEngine(limiter, &fakeLifetime{})

			e.Evaluate(testutil.TestContext(t), tt.req)
			if limiter.lastKey != tt.want {
				t.Errorf("rate key = %q, want %q", limiter.lastKey, tt.want)
			}
		})
	}
}

func TestEvaluate_RecordsAnalytics(t *testing.T) {
	sink := &fakeAnalytics{}
	lt := &fakeLifetime{value: decimal.NewFromInt(3000)}
	e := newEngine(&fakeLimiter{allow: true}, lt).WithAnalytics(sink)

	ctx := testutil.TestContext(t)
	e.Evaluate(ctx, request(0, "42"))  // tier: 3000 -> LIFETIME_10
	e.Evaluate(ctx, request(100, "")) // anonymous

	if len(sink.records) != 2 {
		t.Fatalf("analytics records = %d, want 2", len(sink.records))
	}
	if sink.records[0].outcome != domain.OutcomeTier || sink.records[0].code != "LIFETIME_10" {
		t.Errorf("first record = %+v, want tier/LIFETIME_10", sink.records[0])
	}
	if sink.records[1].outcome != domain.OutcomeAnonymous {
		t.Errorf("second record = %+v, want anonymous", sink.records[1])
	}
}
