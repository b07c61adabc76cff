package ratelimit_test

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/nulpointcorp/llm-gateway/internal/ratelimit"
	"github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T) (*redis.Client, func()) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return client, func() {
		client.Close()
		mr.Close()
	}
}

func TestLimiter_AllowsUnderMinuteLimit(t *testing.T) {
	rdb, cleanup := newTestRedis(t)
	defer cleanup()

	limiter := ratelimit.NewLimiter(rdb, 10, 0)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		res, err := limiter.Check(ctx, "gk1", 0, 0)
		if err != nil {
			t.Fatalf("iteration %d: %v", i, err)
		}
		if !res.Allowed {
			t.Fatalf("expected allowed=true at iteration %d", i)
		}
	}
}

func TestLimiter_BlocksOverMinuteLimit(t *testing.T) {
	rdb, cleanup := newTestRedis(t)
	defer cleanup()

	limiter := ratelimit.NewLimiter(rdb, 3, 0)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if res, err := limiter.Check(ctx, "gk1", 0, 0); err != nil || !res.Allowed {
			t.Fatalf("iteration %d: res=%+v err=%v", i, res, err)
		}
	}

	res, err := limiter.Check(ctx, "gk1", 0, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Allowed {
		t.Error("expected allowed=false after limit exceeded")
	}
	if res.LimitType != ratelimit.Minute {
		t.Errorf("got limit_type %s, want minute", res.LimitType)
	}
	if res.Limit != 3 {
		t.Errorf("got limit %d, want 3", res.Limit)
	}
}

func TestLimiter_PerKeyOverrideWinsOverDefault(t *testing.T) {
	rdb, cleanup := newTestRedis(t)
	defer cleanup()

	limiter := ratelimit.NewLimiter(rdb, 100, 0)
	ctx := context.Background()

	// Override limit of 1 should block the second request even though the
	// Limiter's default is 100.
	if res, err := limiter.Check(ctx, "gk1", 1, 0); err != nil || !res.Allowed {
		t.Fatalf("first call: res=%+v err=%v", res, err)
	}
	res, err := limiter.Check(ctx, "gk1", 1, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Allowed {
		t.Error("expected override limit of 1 to block the second call")
	}
}

func TestLimiter_IndependentKeysDoNotShareWindow(t *testing.T) {
	rdb, cleanup := newTestRedis(t)
	defer cleanup()

	limiter := ratelimit.NewLimiter(rdb, 1, 0)
	ctx := context.Background()

	if res, _ := limiter.Check(ctx, "gk1", 0, 0); !res.Allowed {
		t.Fatal("gk1 first call should be allowed")
	}
	if res, _ := limiter.Check(ctx, "gk2", 0, 0); !res.Allowed {
		t.Fatal("gk2 first call should be allowed under its own window")
	}
}

func TestLimiter_DegradedGracefully_WhenRedisDown(t *testing.T) {
	rdb, cleanup := newTestRedis(t)
	cleanup()

	limiter := ratelimit.NewLimiter(rdb, 5, 100)
	ctx := context.Background()

	res, err := limiter.Check(ctx, "gk1", 0, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Allowed {
		t.Error("expected allowed=true when Redis is unavailable (graceful degradation)")
	}
}
