// Package ratelimit implements per-gateway-key rate limiting using Redis
// sliding window counters with atomic Lua scripts — one window for
// per-minute limits, one for per-day, per spec.md §4.6 CheckRateLimit.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// slidingWindowScript is an atomic Lua script that implements a sliding
// window rate limiter using a sorted set.
// KEYS[1] = Redis key
// ARGV[1] = current unix timestamp (nanoseconds as string)
// ARGV[2] = window size in nanoseconds
// ARGV[3] = limit (max requests per window)
// Returns: {allowed (1/0), count after this call}.
var slidingWindowScript = redis.NewScript(`
		local key    = KEYS[1]
		local now    = tonumber(ARGV[1])
		local window = tonumber(ARGV[2])
		local limit  = tonumber(ARGV[3])

		-- Remove expired entries.
		redis.call('ZREMRANGEBYSCORE', key, 0, now - window)

		local count = redis.call('ZCARD', key)
		if count >= limit then
			return {0, count}
		end

		-- Add current request with a unique member (now + random suffix).
		local member = tostring(now) .. tostring(math.random(1, 1000000))
		redis.call('ZADD', key, now, member)
		redis.call('PEXPIRE', key, math.ceil(window / 1000000))  -- window is in ns; PEXPIRE wants ms
		return {1, count + 1}
`)

// LimitType names which window a rejection came from, for the 429 body
// spec.md §6 defines: {"error":"rate_limit_exceeded","limit":N,
// "reset_in_seconds":N,"limit_type":"minute"|"daily"}.
type LimitType string

const (
	Minute LimitType = "minute"
	Daily  LimitType = "daily"
)

// Result is the outcome of a Check call.
type Result struct {
	Allowed        bool
	Limit          int
	LimitType      LimitType
	ResetInSeconds int
}

// Limiter enforces a minute and a day window per gateway key id. Redis
// unavailability degrades to "allow" rather than blocking traffic.
type Limiter struct {
	rdb              *redis.Client
	defaultPerMinute int
	defaultPerDay    int
}

// NewLimiter creates a Limiter. defaultPerMinute/defaultPerDay apply to
// gateway keys that don't carry their own override (credential.GatewayKey's
// RateLimitPerMinute/RateLimitPerDay of 0).
func NewLimiter(rdb *redis.Client, defaultPerMinute, defaultPerDay int) *Limiter {
	return &Limiter{rdb: rdb, defaultPerMinute: defaultPerMinute, defaultPerDay: defaultPerDay}
}

// Check enforces both windows for gatewayKeyID, using perMinute/perDay if
// nonzero or the Limiter's defaults otherwise. It checks the minute window
// first since it's the tighter, more commonly hit limit.
func (l *Limiter) Check(ctx context.Context, gatewayKeyID string, perMinute, perDay int) (Result, error) {
	if perMinute <= 0 {
		perMinute = l.defaultPerMinute
	}
	if perDay <= 0 {
		perDay = l.defaultPerDay
	}

	if perMinute > 0 {
		res, err := l.check(ctx, minuteKey(gatewayKeyID), perMinute, time.Minute, Minute)
		if err != nil {
			return Result{Allowed: true}, err
		}
		if !res.Allowed {
			return res, nil
		}
	}

	if perDay > 0 {
		res, err := l.check(ctx, dayKey(gatewayKeyID), perDay, 24*time.Hour, Daily)
		if err != nil {
			return Result{Allowed: true}, err
		}
		if !res.Allowed {
			return res, nil
		}
	}

	return Result{Allowed: true}, nil
}

func minuteKey(id string) string { return fmt.Sprintf("ratelimit:gk:%s:minute", id) }
func dayKey(id string) string    { return fmt.Sprintf("ratelimit:gk:%s:day", id) }

func (l *Limiter) check(ctx context.Context, key string, limit int, window time.Duration, limitType LimitType) (Result, error) {
	now := time.Now().UnixNano()

	vals, err := slidingWindowScript.Run(ctx, l.rdb,
		[]string{key},
		now, window.Nanoseconds(), limit,
	).Slice()
	if err != nil {
		// Redis unavailable — allow the request (graceful degradation); a
		// rate limiter that fails closed would turn a cache outage into a
		// full gateway outage.
		return Result{Allowed: true}, nil
	}

	allowed, _ := vals[0].(int64)
	return Result{
		Allowed:        allowed == 1,
		Limit:          limit,
		LimitType:      limitType,
		ResetInSeconds: int(window.Seconds()),
	}, nil
}
