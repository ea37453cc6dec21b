// Package analytics records evaluation outcomes in Redis as time-bucketed
// counters. Best effort: a failed write is logged and never affects the
// evaluation that produced it.
package analytics

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rcisneros138/shopify-lifetime-value-discounts/internal/domain"
)

// DefaultRetention is how long outcome counters are kept.
const DefaultRetention = 24 * time.Hour

// bucketWindow is the counter granularity.
const bucketWindow = 5 * time.Minute

type RedisSink struct {
	client    *redis.Client
	retention time.Duration
}

func NewRedisSink(client *redis.Client) *RedisSink {
	return &RedisSink{client: client, retention: DefaultRetention}
}

// WithRetention overrides the counter TTL.
func (s *RedisSink) WithRetention(d time.Duration) *RedisSink {
	s.retention = d
	return s
}

// Record increments the counter for (outcome, code) in the bucket containing
// at. code is empty for outcomes that carry no discount.
func (s *RedisSink) Record(ctx context.Context, outcome domain.EvaluationOutcome, code string, at time.Time) {
	key := buildKey(outcome, code, at)

	pipe := s.client.Pipeline()
	pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, s.retention)

	if _, err := pipe.Exec(ctx); err != nil {
		log.Printf("analytics: redis pipeline: %v", err)
	}
}

func buildKey(outcome domain.EvaluationOutcome, code string, at time.Time) string {
	if code == "" {
		code = "none"
	}
	return fmt.Sprintf("eligibility:%s:%s:%s", outcome, code, truncateToBucket(at))
}

func truncateToBucket(t time.Time) string {
	t = t.UTC()
	minute := (t.Minute() / 5) * 5
	return t.Format("2006010215") + fmt.Sprintf("%02d", minute)
}
