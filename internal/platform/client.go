// Package platform queries the commerce platform's admin GraphQL API for
// customer spend data.
package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rcisneros138/shopify-lifetime-value-discounts/internal/circuitbreaker"
	"github.com/rcisneros138/shopify-lifetime-value-discounts/internal/domain"
)

// customerSpendQuery fetches the precomputed lifetime-spend metafield and
// the most recent orders by total price, tagged with payment status. The
// metafield may not be backfilled for every customer; callers fall back to
// summing paid order totals.
const customerSpendQuery = `query customerSpend($id: ID!) {
  customer(id: $id) {
    id
    metafield(namespace: "lifetime_value", key: "total_spent") {
      value
    }
    orders(first: 250, sortKey: TOTAL_PRICE, reverse: true) {
      nodes {
        totalPriceSet {
          shopMoney {
            amount
          }
        }
        displayFinancialStatus
      }
    }
  }
}`

// Order is one historical order with its payment status.
type Order struct {
	Total           decimal.Decimal
	FinancialStatus string
}

// Paid reports whether the order's payment settled.
func (o Order) Paid() bool {
	return strings.EqualFold(o.FinancialStatus, "paid")
}

// CustomerSpend is the upstream view of a customer's spend history.
type CustomerSpend struct {
	// LifetimeTotal is the precomputed spend metafield. HasTotal is false
	// when the metafield is absent (not yet backfilled).
	LifetimeTotal decimal.Decimal
	HasTotal      bool

	Orders []Order
}

// Client talks to the admin GraphQL endpoint of a single shop.
type Client struct {
	endpoint string
	host     string
	token    string
	client   *http.Client
	breaker  *circuitbreaker.CircuitBreaker
	timeout  time.Duration
}

// NewClient creates a Client for the given GraphQL endpoint. The token is
// sent as the admin access token header on every request.
func NewClient(endpoint, token string) (*Client, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse endpoint: %w", err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("endpoint %q has no host", endpoint)
	}
	return &Client{
		endpoint: endpoint,
		host:     u.Host,
		token:    token,
		client:   &http.Client{},
		timeout:  10 * time.Second,
	}, nil
}

// WithBreaker guards requests with a circuit breaker keyed by endpoint host.
func (c *Client) WithBreaker(cb *circuitbreaker.CircuitBreaker) *Client {
	c.breaker = cb
	return c
}

// WithTimeout overrides the per-request timeout.
func (c *Client) WithTimeout(d time.Duration) *Client {
	c.timeout = d
	return c
}

type graphqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

type graphqlResponse struct {
	Data struct {
		Customer *struct {
			Metafield *struct {
				Value string `json:"value"`
			} `json:"metafield"`
			Orders struct {
				Nodes []struct {
					TotalPriceSet struct {
						ShopMoney struct {
							Amount string `json:"amount"`
						} `json:"shopMoney"`
					} `json:"totalPriceSet"`
					DisplayFinancialStatus string `json:"displayFinancialStatus"`
				} `json:"nodes"`
			} `json:"orders"`
		} `json:"customer"`
	} `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// CustomerSpend fetches spend data for the numeric customer id. Failures
// are classified as domain.ErrUpstream (transport, status, API errors, open
// breaker) or domain.ErrMalformedResponse (undecodable payload).
func (c *Client) CustomerSpend(ctx context.Context, customerID string) (CustomerSpend, error) {
	if c.breaker != nil {
		if err := c.breaker.Allow(c.host); err != nil {
			return CustomerSpend{}, fmt.Errorf("%w: %v", domain.ErrUpstream, err)
		}
	}

	spend, err := c.query(ctx, customerID)
	if c.breaker != nil {
		if err != nil {
			c.breaker.RecordFailure(c.host)
		} else {
			c.breaker.RecordSuccess(c.host)
		}
	}
	return spend, err
}

// pingQuery is the cheapest authenticated query the admin API accepts.
const pingQuery = `query { shop { name } }`

// Ping verifies the admin endpoint is reachable and the token is accepted.
// An open or half-open breaker reports unhealthy without a network attempt,
// and probe results never feed the breaker.
func (c *Client) Ping(ctx context.Context) error {
	if c.breaker != nil {
		if status := c.breaker.Status(c.host); status != "closed" {
			return fmt.Errorf("%w: circuit %s", domain.ErrUpstream, status)
		}
	}

	body, err := json.Marshal(graphqlRequest{Query: pingQuery})
	if err != nil {
		return fmt.Errorf("marshal query: %w", err)
	}

	ctxTimeout, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctxTimeout, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Shopify-Access-Token", c.token)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrUpstream, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: status %d", domain.ErrUpstream, resp.StatusCode)
	}
	return nil
}

func (c *Client) query(ctx context.Context, customerID string) (CustomerSpend, error) {
	body, err := json.Marshal(graphqlRequest{
		Query: customerSpendQuery,
		Variables: map[string]any{
			"id": "gid://shopify/Customer/" + customerID,
		},
	})
	if err != nil {
		return CustomerSpend{}, fmt.Errorf("marshal query: %w", err)
	}

	ctxTimeout, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctxTimeout, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return CustomerSpend{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Shopify-Access-Token", c.token)

	resp, err := c.client.Do(req)
	if err != nil {
		return CustomerSpend{}, fmt.Errorf("%w: %v", domain.ErrUpstream, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, resp.Body)
		return CustomerSpend{}, fmt.Errorf("%w: status %d", domain.ErrUpstream, resp.StatusCode)
	}

	var parsed graphqlResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return CustomerSpend{}, fmt.Errorf("%w: %v", domain.ErrMalformedResponse, err)
	}

	if len(parsed.Errors) > 0 {
		return CustomerSpend{}, fmt.Errorf("%w: %s", domain.ErrUpstream, parsed.Errors[0].Message)
	}

	// Unknown customer: no spend history. Shaped like a zero-spend customer
	// so existence cannot be probed through this endpoint.
	if parsed.Data.Customer == nil {
		return CustomerSpend{}, nil
	}

	var spend CustomerSpend
	cust := parsed.Data.Customer

	if cust.Metafield != nil {
		total, err := decimal.NewFromString(cust.Metafield.Value)
		if err != nil {
			return CustomerSpend{}, fmt.Errorf("%w: metafield value %q", domain.ErrMalformedResponse, cust.Metafield.Value)
		}
		spend.LifetimeTotal = total
		spend.HasTotal = true
	}

	for _, node := range cust.Orders.Nodes {
		amount, err := decimal.NewFromString(node.TotalPriceSet.ShopMoney.Amount)
		if err != nil {
			return CustomerSpend{}, fmt.Errorf("%w: order amount %q", domain.ErrMalformedResponse, node.TotalPriceSet.ShopMoney.Amount)
		}
		spend.Orders = append(spend.Orders, Order{
			Total:           amount,
			FinancialStatus: node.DisplayFinancialStatus,
		})
	}

	return spend, nil
}
