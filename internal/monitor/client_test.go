package monitor

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
)

func TestHTTPEligibilityClient_Success(t *testing.T) {
	var gotBody map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"discountPercent": 15,
			"discountCode": "LIFETIME_15",
			"lifetimeSpent": 5000,
			"totalValue": 5100,
			"timestamp": "2025-06-01T12:00:00Z"
		}`))
	}))
	defer server.Close()

	client := NewHTTPEligibilityClient(server.URL)
	result := client.Evaluate(context.Background(), EvaluateRequest{
		CartTotal:  decimal.NewFromInt(100),
		CustomerID: "42",
		SessionID:  "session-1",
	})

	if !result.IsSuccess() {
		t.Fatalf("IsSuccess = false, status=%d err=%v", result.StatusCode, result.Err)
	}
	if result.Result.DiscountCode != "LIFETIME_15" {
		t.Errorf("DiscountCode = %q, want LIFETIME_15", result.Result.DiscountCode)
	}
	if result.Result.DiscountPercent != 15 {
		t.Errorf("DiscountPercent = %d, want 15", result.Result.DiscountPercent)
	}
	if !result.Result.LifetimeSpent.Equal(decimal.NewFromInt(5000)) {
		t.Errorf("LifetimeSpent = %s, want 5000", result.Result.LifetimeSpent)
	}

	if gotBody["cartTotal"] != float64(100) {
		t.Errorf("cartTotal = %v, want 100", gotBody["cartTotal"])
	}
	if gotBody["customerId"] != "42" {
		t.Errorf("customerId = %v, want 42", gotBody["customerId"])
	}
	if gotBody["sessionId"] != "session-1" {
		t.Errorf("sessionId = %v, want session-1", gotBody["sessionId"])
	}
}

func TestHTTPEligibilityClient_AnonymousOmitsCustomerID(t *testing.T) {
	var gotBody map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.Write([]byte(`{"discountPercent":0,"discountCode":null,"lifetimeSpent":0,"totalValue":50,"timestamp":"2025-06-01T12:00:00Z"}`))
	}))
	defer server.Close()

	client := NewHTTPEligibilityClient(server.URL)
	result := client.Evaluate(context.Background(), EvaluateRequest{
		CartTotal: decimal.NewFromInt(50),
		SessionID: "session-1",
	})

	if !result.IsSuccess() {
		t.Fatalf("IsSuccess = false, status=%d err=%v", result.StatusCode, result.Err)
	}
	if result.Result.DiscountCode != "" {
		t.Errorf("DiscountCode = %q, want empty", result.Result.DiscountCode)
	}
	if v, present := gotBody["customerId"]; present && v != nil {
		t.Errorf("customerId = %v, want absent or null", v)
	}
}

func TestHTTPEligibilityClient_RateLimitedIsRetryable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"discountPercent":0,"discountCode":null,"message":"rate limit exceeded"}`))
	}))
	defer server.Close()

	client := NewHTTPEligibilityClient(server.URL)
	result := client.Evaluate(context.Background(), EvaluateRequest{CartTotal: decimal.NewFromInt(10)})

	if result.IsSuccess() {
		t.Error("IsSuccess = true for 429")
	}
	if !result.IsRetryable() {
		t.Error("IsRetryable = false for 429")
	}
}

func TestHTTPEligibilityClient_ServerErrorNotRetryable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := NewHTTPEligibilityClient(server.URL)
	result := client.Evaluate(context.Background(), EvaluateRequest{CartTotal: decimal.NewFromInt(10)})

	if result.IsSuccess() || result.IsRetryable() {
		t.Errorf("500 should be a terminal failure, got success=%v retryable=%v",
			result.IsSuccess(), result.IsRetryable())
	}
}

func TestHTTPEligibilityClient_ConnectionErrorNotRetryable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close()

	client := NewHTTPEligibilityClient(server.URL)
	result := client.Evaluate(context.Background(), EvaluateRequest{CartTotal: decimal.NewFromInt(10)})

	if result.Err == nil {
		t.Fatal("expected connection error")
	}
	if result.IsRetryable() {
		t.Error("connection errors should not be retryable")
	}
}

func TestHTTPEligibilityClient_UnparsableTimestampIsDecodeError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"discountPercent":10,"discountCode":"LIFETIME_10","timestamp":"yesterday"}`))
	}))
	defer server.Close()

	client := NewHTTPEligibilityClient(server.URL)
	result := client.Evaluate(context.Background(), EvaluateRequest{CartTotal: decimal.NewFromInt(10)})

	if result.Err == nil {
		t.Error("expected timestamp parse error")
	}
	if result.IsSuccess() {
		t.Error("IsSuccess = true with unparsable timestamp")
	}
}

func TestHTTPEligibilityClient_MalformedBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"discountPercent": "not a number"`))
	}))
	defer server.Close()

	client := NewHTTPEligibilityClient(server.URL)
	result := client.Evaluate(context.Background(), EvaluateRequest{CartTotal: decimal.NewFromInt(10)})

	if result.Err == nil {
		t.Error("expected decode error")
	}
	if result.IsSuccess() {
		t.Error("IsSuccess = true with decode error")
	}
}
