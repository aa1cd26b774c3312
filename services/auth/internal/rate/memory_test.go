package rate

import (
	"context"
	"testing"
	"time"
)

func TestMemoryWindowOpensAndCloses(t *testing.T) {
	lim := NewMemory(Policy{Limit: 2, Window: time.Second})
	ctx := context.Background()
	now := time.Now()
	key := "10.0.0.1|/auth/login-pin"

	for i := 0; i < 2; i++ {
		allowed, retry, err := lim.Allow(ctx, key, now)
		if err != nil || !allowed || retry != 0 {
			t.Fatalf("call %d: expected allow", i)
		}
	}

	allowed, retry, err := lim.Allow(ctx, key, now.Add(250*time.Millisecond))
	if err != nil || allowed {
		t.Fatalf("expected rate limit on third call")
	}
	if retry != 750*time.Millisecond {
		t.Fatalf("expected retry for the rest of the window, got %s", retry)
	}

	allowed, _, err = lim.Allow(ctx, key, now.Add(time.Second))
	if err != nil || !allowed {
		t.Fatalf("expected allow once the window closes")
	}
}

func TestMemorySweepsClosedWindows(t *testing.T) {
	lim := NewMemory(Policy{Limit: 1, Window: time.Second})
	ctx := context.Background()
	now := time.Now()

	_, _, _ = lim.Allow(ctx, "1.1.1.1|/auth/login", now)
	if len(lim.windows) != 1 {
		t.Fatalf("expected one window")
	}

	_, _, _ = lim.Allow(ctx, "2.2.2.2|/auth/login", now.Add(2*time.Second))
	if _, ok := lim.windows["1.1.1.1|/auth/login"]; ok || len(lim.windows) != 1 {
		t.Fatalf("expected closed window swept, got %v", lim.windows)
	}
}
