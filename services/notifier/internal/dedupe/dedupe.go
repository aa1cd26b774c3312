package dedupe

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Claimer records that an event is being handled so redelivered copies are
// skipped. Release undoes a claim when handling failed and must be retried.
type Claimer interface {
	Claim(ctx context.Context, eventID string) (bool, error)
	Release(ctx context.Context, eventID string) error
}

const keyPrefix = "cmms:notifier:event:"

type RedisClaimer struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisClaimer(client *redis.Client, ttl time.Duration) *RedisClaimer {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &RedisClaimer{client: client, ttl: ttl}
}

func (c *RedisClaimer) Claim(ctx context.Context, eventID string) (bool, error) {
	return c.client.SetNX(ctx, keyPrefix+eventID, 1, c.ttl).Result()
}

func (c *RedisClaimer) Release(ctx context.Context, eventID string) error {
	return c.client.Del(ctx, keyPrefix+eventID).Err()
}

func (c *RedisClaimer) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// MemoryClaimer is used when no Redis is configured. Claims only survive for
// the life of the process.
type MemoryClaimer struct {
	mu     sync.Mutex
	ttl    time.Duration
	now    func() time.Time
	claims map[string]time.Time
}

func NewMemoryClaimer(ttl time.Duration) *MemoryClaimer {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &MemoryClaimer{ttl: ttl, now: time.Now, claims: map[string]time.Time{}}
}

func (c *MemoryClaimer) Claim(_ context.Context, eventID string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	for id, exp := range c.claims {
		if !now.Before(exp) {
			delete(c.claims, id)
		}
	}
	if _, ok := c.claims[eventID]; ok {
		return false, nil
	}
	c.claims[eventID] = now.Add(c.ttl)
	return true, nil
}

func (c *MemoryClaimer) Release(_ context.Context, eventID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.claims, eventID)
	return nil
}
