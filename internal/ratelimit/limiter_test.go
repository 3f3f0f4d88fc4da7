package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

var testRule = Rule{Key: "rl:test:", Limit: 3, Window: time.Minute}

// newTestLimiter creates a Limiter connected to a local Redis instance and
// removes leftover test keys. Tests that call this helper require a running
// Redis on localhost:6379.
func newTestLimiter(t *testing.T) *Limiter {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not available: %v", err)
	}
	cleanup := func() {
		iter := client.Scan(ctx, 0, testRule.Key+"*", 100).Iterator()
		for iter.Next(ctx) {
			client.Del(ctx, iter.Val())
		}
	}
	cleanup()
	t.Cleanup(func() {
		cleanup()
		client.Close()
	})
	return NewLimiter(client, testRule)
}

func TestRedisLimiter_AllowUpToLimit(t *testing.T) {
	l := newTestLimiter(t)
	ctx := context.Background()

	for i := 1; i <= testRule.Limit; i++ {
		ok, err := l.Allow(ctx, "conn-1")
		if err != nil {
			t.Fatalf("request %d: unexpected error: %v", i, err)
		}
		if !ok {
			t.Fatalf("request %d should be allowed", i)
		}
	}

	ok, err := l.Allow(ctx, "conn-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatal("request over the limit should be rejected")
	}

	// Other identifiers have their own window.
	if ok, _ := l.Allow(ctx, "conn-2"); !ok {
		t.Fatal("conn-2 should not be affected by conn-1")
	}
}

func TestRedisLimiter_Remaining(t *testing.T) {
	l := newTestLimiter(t)
	ctx := context.Background()

	n, err := l.Remaining(ctx, "conn-3")
	if err != nil || n != testRule.Limit {
		t.Fatalf("expected %d remaining, got %d (err=%v)", testRule.Limit, n, err)
	}

	_, _ = l.Allow(ctx, "conn-3")
	n, _ = l.Remaining(ctx, "conn-3")
	if n != testRule.Limit-1 {
		t.Fatalf("expected %d remaining, got %d", testRule.Limit-1, n)
	}
}

func TestRedisLimiter_Forget(t *testing.T) {
	l := newTestLimiter(t)
	ctx := context.Background()

	for i := 0; i <= testRule.Limit; i++ {
		_, _ = l.Allow(ctx, "conn-4")
	}
	l.Forget("conn-4")

	if ok, _ := l.Allow(ctx, "conn-4"); !ok {
		t.Fatal("a forgotten identifier should start a fresh window")
	}
}

func TestRedisLimiter_FailsOpen(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 50 * time.Millisecond})
	defer client.Close()
	l := NewLimiter(client, testRule)

	ok, err := l.Allow(context.Background(), "conn-5")
	if err == nil {
		t.Fatal("expected a connection error")
	}
	if !ok {
		t.Fatal("limiter must fail open when Redis is unreachable")
	}
}

func TestMemoryLimiter_Burst(t *testing.T) {
	l := NewMemoryLimiter(testRule)
	ctx := context.Background()

	for i := 1; i <= testRule.Limit; i++ {
		if ok, _ := l.Allow(ctx, "conn-1"); !ok {
			t.Fatalf("request %d should be allowed", i)
		}
	}
	if ok, _ := l.Allow(ctx, "conn-1"); ok {
		t.Fatal("request over the burst should be rejected")
	}
	if ok, _ := l.Allow(ctx, "conn-2"); !ok {
		t.Fatal("conn-2 should have its own bucket")
	}
}

func TestMemoryLimiter_Forget(t *testing.T) {
	l := NewMemoryLimiter(testRule)
	ctx := context.Background()

	for i := 0; i <= testRule.Limit; i++ {
		_, _ = l.Allow(ctx, "conn-1")
	}
	l.Forget("conn-1")
	if l.Len() != 0 {
		t.Fatalf("expected no tracked identifiers, got %d", l.Len())
	}
	if ok, _ := l.Allow(ctx, "conn-1"); !ok {
		t.Fatal("a forgotten identifier should get a full bucket")
	}
}

func TestMemoryLimiter_RetryAfter(t *testing.T) {
	l := NewMemoryLimiter(Rule{Limit: 20, Window: 10 * time.Second})
	if got := l.RetryAfter(); got != 500*time.Millisecond {
		t.Fatalf("expected 500ms, got %v", got)
	}
}
