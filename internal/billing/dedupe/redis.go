// Package dedupe provides billing.Deduper implementations backed by Redis
// (shared across replicas) and process memory (tests, single instance).
package dedupe

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultTTL = time.Hour

// Redis implements billing.Deduper on a shared Redis instance, so
// deduplication holds across service replicas.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedis creates a Redis-backed deduper. A non-positive ttl falls back to
// one hour, which comfortably covers Stripe's retry cadence for a delivery
// that was already acknowledged.
func NewRedis(client *redis.Client, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Redis{client: client, ttl: ttl}
}

// Seen implements billing.Deduper. It only reads; a failed delivery is never
// marked, so its redelivery gets processed.
func (d *Redis) Seen(ctx context.Context, eventID string) (bool, error) {
	n, err := d.client.Exists(ctx, key(eventID)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check webhook event id: %w", err)
	}
	return n > 0, nil
}

// Mark implements billing.Deduper.
func (d *Redis) Mark(ctx context.Context, eventID string) error {
	if err := d.client.Set(ctx, key(eventID), 1, d.ttl).Err(); err != nil {
		return fmt.Errorf("failed to record webhook event id: %w", err)
	}
	return nil
}

func key(eventID string) string {
	return "planhook:webhook:event:" + eventID
}
