package storefront

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rcisneros138/shopify-lifetime-value-discounts/internal/domain"
)

const defaultTimeout = 10 * time.Second

// Client talks to the storefront cart endpoints: reading the live cart and
// applying or clearing discount codes.
type Client struct {
	baseURL string
	client  *http.Client
	timeout time.Duration
}

// NewClient builds a storefront client for the given base URL,
// e.g. "https://shop.example.com".
func NewClient(baseURL string) (*Client, error) {
	trimmed := strings.TrimRight(baseURL, "/")
	parsed, err := url.Parse(trimmed)
	if err != nil {
		return nil, fmt.Errorf("invalid storefront url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("invalid storefront url scheme %q", parsed.Scheme)
	}

	return &Client{
		baseURL: trimmed,
		client:  &http.Client{},
		timeout: defaultTimeout,
	}, nil
}

func (c *Client) WithTimeout(timeout time.Duration) *Client {
	if timeout > 0 {
		c.timeout = timeout
	}
	return c
}

func (c *Client) WithHTTPClient(client *http.Client) *Client {
	if client != nil {
		c.client = client
	}
	return c
}

type cartItemPayload struct {
	ID       int64 `json:"id"`
	Quantity int   `json:"quantity"`
}

type cartPayload struct {
	Items      []cartItemPayload `json:"items"`
	TotalPrice int64             `json:"total_price"`
}

// Cart fetches the live cart and returns a normalized snapshot. The
// storefront reports the total in cents.
func (c *Client) Cart(ctx context.Context) (domain.CartSnapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/cart.js", nil)
	if err != nil {
		return domain.CartSnapshot{}, fmt.Errorf("build cart request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return domain.CartSnapshot{}, fmt.Errorf("fetch cart: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return domain.CartSnapshot{}, fmt.Errorf("fetch cart: unexpected status %d", resp.StatusCode)
	}

	var payload cartPayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return domain.CartSnapshot{}, fmt.Errorf("decode cart: %w", err)
	}

	snapshot := domain.CartSnapshot{
		Items: make([]domain.CartItem, 0, len(payload.Items)),
		Total: domain.MoneyFromCents(payload.TotalPrice),
	}
	for _, item := range payload.Items {
		snapshot.Items = append(snapshot.Items, domain.CartItem{
			ID:       item.ID,
			Quantity: item.Quantity,
		})
	}
	return snapshot, nil
}

// ApplyDiscount attaches a discount code to the shopper's checkout session.
func (c *Client) ApplyDiscount(ctx context.Context, code string) error {
	if code == "" {
		return fmt.Errorf("apply discount: empty code")
	}
	return c.post(ctx, "/discount/"+url.PathEscape(code))
}

// ClearDiscount detaches any discount code from the checkout session.
func (c *Client) ClearDiscount(ctx context.Context) error {
	return c.post(ctx, "/discount/clear")
}

func (c *Client) post(ctx context.Context, path string) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("build request for %s: %w", path, err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("post %s: %w", path, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("post %s: unexpected status %d", path, resp.StatusCode)
	}
	return nil
}
