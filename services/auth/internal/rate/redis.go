package rate

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const DefaultRedisPrefix = "cmms:auth:rl:"

// countHit increments the window counter and returns {hits, pttl}. A counter
// found without an expiry gets one, so a lost PEXPIRE cannot pin a client.
var countHit = redis.NewScript(`
local hits = redis.call("INCR", KEYS[1])
local ttl = redis.call("PTTL", KEYS[1])
if ttl < 0 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
  ttl = tonumber(ARGV[1])
end
return {hits, ttl}
`)

// Redis shares fixed-window counters across auth replicas.
type Redis struct {
	client redis.Scripter
	policy Policy
	prefix string
}

func NewRedis(client redis.Scripter, p Policy, prefix string) (*Redis, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &Redis{client: client, policy: p, prefix: prefix}, nil
}

func (r *Redis) Allow(ctx context.Context, key string, _ time.Time) (bool, time.Duration, error) {
	reply, err := countHit.Run(ctx, r.client, []string{r.prefix + key}, r.policy.Window.Milliseconds()).Int64Slice()
	if err != nil {
		return false, 0, fmt.Errorf("count hit: %w", err)
	}
	if len(reply) != 2 {
		return false, 0, fmt.Errorf("count hit: unexpected reply %v", reply)
	}

	allowed, retryAfter := r.policy.decide(reply[0], time.Duration(reply[1])*time.Millisecond)
	return allowed, retryAfter, nil
}
