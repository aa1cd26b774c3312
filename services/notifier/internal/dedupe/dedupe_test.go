package dedupe

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestRedisClaimer(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	c := NewRedisClaimer(client, time.Minute)
	ctx := context.Background()

	ok, err := c.Claim(ctx, "evt-1")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = c.Claim(ctx, "evt-1")
	require.NoError(t, err)
	require.False(t, ok, "second claim should be rejected")
	require.True(t, mr.Exists(keyPrefix+"evt-1"))

	require.NoError(t, c.Release(ctx, "evt-1"))
	ok, err = c.Claim(ctx, "evt-1")
	require.NoError(t, err)
	require.True(t, ok, "released claim should be claimable again")

	mr.FastForward(2 * time.Minute)
	ok, err = c.Claim(ctx, "evt-1")
	require.NoError(t, err)
	require.True(t, ok, "expired claim should be claimable again")
}

func TestMemoryClaimer(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewMemoryClaimer(time.Minute)
	c.now = func() time.Time { return now }
	ctx := context.Background()

	ok, _ := c.Claim(ctx, "a")
	require.True(t, ok)
	ok, _ = c.Claim(ctx, "a")
	require.False(t, ok)

	now = now.Add(time.Minute)
	ok, _ = c.Claim(ctx, "a")
	require.True(t, ok)

	require.NoError(t, c.Release(ctx, "a"))
	require.Empty(t, c.claims)
}
