package monitor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rcisneros138/shopify-lifetime-value-discounts/internal/api"
	"github.com/rcisneros138/shopify-lifetime-value-discounts/internal/domain"
)

// EvaluateRequest is one eligibility check against the engine.
type EvaluateRequest struct {
	CartTotal  decimal.Decimal
	CustomerID string // empty = anonymous
	SessionID  string
}

// EvaluateResult carries the engine's answer plus enough transport detail
// to classify failures. Only a 429 is retryable; every other failure is
// surfaced immediately.
type EvaluateResult struct {
	Result     domain.EligibilityResult
	StatusCode int
	Err        error
	Duration   time.Duration
}

func (r EvaluateResult) IsSuccess() bool {
	return r.Err == nil && r.StatusCode >= 200 && r.StatusCode < 300
}

func (r EvaluateResult) IsRetryable() bool {
	return r.Err == nil && r.StatusCode == http.StatusTooManyRequests
}

// HTTPEligibilityClient calls the engine's calculate endpoint over the
// storefront app proxy.
type HTTPEligibilityClient struct {
	endpoint string
	client   *http.Client
	timeout  time.Duration
}

func NewHTTPEligibilityClient(endpoint string) *HTTPEligibilityClient {
	return &HTTPEligibilityClient{
		endpoint: endpoint,
		client:   &http.Client{},
		timeout:  10 * time.Second,
	}
}

func (c *HTTPEligibilityClient) WithTimeout(timeout time.Duration) *HTTPEligibilityClient {
	if timeout > 0 {
		c.timeout = timeout
	}
	return c
}

func (c *HTTPEligibilityClient) Evaluate(ctx context.Context, req EvaluateRequest) EvaluateResult {
	start := time.Now()

	total := req.CartTotal.InexactFloat64()
	wireReq := api.CalculateRequest{CartTotal: &total}
	if req.CustomerID != "" {
		customerID := req.CustomerID
		wireReq.CustomerID = &customerID
	}
	if req.SessionID != "" {
		sessionID := req.SessionID
		wireReq.SessionID = &sessionID
	}

	body, err := json.Marshal(wireReq)
	if err != nil {
		return EvaluateResult{Err: fmt.Errorf("marshal: %w", err), Duration: time.Since(start)}
	}

	ctxTimeout, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctxTimeout, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return EvaluateResult{Err: fmt.Errorf("create request: %w", err), Duration: time.Since(start)}
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return EvaluateResult{Err: fmt.Errorf("send: %w", err), Duration: time.Since(start)}
	}
	defer resp.Body.Close()

	result := EvaluateResult{StatusCode: resp.StatusCode, Duration: time.Since(start)}
	if !result.IsSuccess() {
		return result
	}

	var wireResp api.CalculateResponse
	if err := json.NewDecoder(resp.Body).Decode(&wireResp); err != nil {
		result.Err = fmt.Errorf("decode: %w", err)
		return result
	}
	converted, err := wireResp.ToResult()
	if err != nil {
		result.Err = fmt.Errorf("decode: %w", err)
		return result
	}
	result.Result = converted
	return result
}
