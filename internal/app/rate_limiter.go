/**
 * @description
 * Redis-backed rate limiting for the bank-to-bank intake endpoint.
 * Counters live in Redis so the limit holds across replicas; the counting
 * and expiry are done in one Lua script to stay atomic.
 *
 * @dependencies
 * - github.com/redis/go-redis/v9: Redis client and script execution.
 */

package app

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

var rateLimitScript = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
if ttl < 0 then
  ttl = tonumber(ARGV[1])
end
return {current, ttl}
`)

// RedisRateLimiter implements distributed rate limiting using Redis.
type RedisRateLimiter struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisRateLimiter(client redis.UniversalClient, prefix string) *RedisRateLimiter {
	trimmedPrefix := strings.TrimSpace(prefix)
	if trimmedPrefix == "" {
		trimmedPrefix = "jmbpank:rate_limit"
	}
	trimmedPrefix = strings.TrimSuffix(trimmedPrefix, ":")

	return &RedisRateLimiter{
		client: client,
		prefix: trimmedPrefix,
	}
}

func (r *RedisRateLimiter) ConsumeRateLimit(
	ctx context.Context,
	scope string,
	subject string,
	limit int,
	window time.Duration,
) (count int, retryAfterSeconds int, err error) {
	if r == nil || r.client == nil || limit <= 0 || window <= 0 {
		return 0, 0, nil
	}

	normalizedScope := strings.TrimSpace(scope)
	normalizedSubject := strings.TrimSpace(subject)
	if normalizedScope == "" || normalizedSubject == "" {
		return 0, 0, nil
	}

	windowMs := window.Milliseconds()
	if windowMs < 1000 {
		windowMs = 1000
	}

	key := fmt.Sprintf("%s:%s:%s", r.prefix, normalizedScope, normalizedSubject)
	rawResult, err := rateLimitScript.Run(ctx, r.client, []string{key}, windowMs).Result()
	if err != nil {
		return 0, 0, err
	}

	values, ok := rawResult.([]interface{})
	if !ok || len(values) != 2 {
		return 0, 0, fmt.Errorf("unexpected redis limiter response shape: %T", rawResult)
	}

	currentCount, ok := values[0].(int64)
	if !ok {
		return 0, 0, fmt.Errorf("unexpected redis limiter count type: %T", values[0])
	}

	ttlMs, ok := values[1].(int64)
	if !ok {
		return int(currentCount), 0, fmt.Errorf("unexpected redis limiter ttl type: %T", values[1])
	}
	if ttlMs < 0 {
		ttlMs = windowMs
	}

	retryAfter := int(math.Ceil(float64(ttlMs) / 1000.0))
	if retryAfter < 1 {
		retryAfter = 1
	}

	return int(currentCount), retryAfter, nil
}

// SetB2BRateLimit attaches a limiter for incoming bank-to-bank requests.
func (s *Service) SetB2BRateLimit(limiter *RedisRateLimiter, perMinute int) {
	s.b2bLimiter = limiter
	s.b2bLimitPerMinute = perMinute
}

// ConsumeB2BRateLimit counts one intake request from the given source and
// reports whether it is over the per-minute limit. When no limiter is
// configured the request is always allowed.
func (s *Service) ConsumeB2BRateLimit(ctx context.Context, sourceIP string) (allowed bool, retryAfterSeconds int) {
	if s.b2bLimiter == nil || s.b2bLimitPerMinute <= 0 {
		return true, 0
	}
	count, retryAfter, err := s.b2bLimiter.ConsumeRateLimit(ctx, "b2b", sourceIP, s.b2bLimitPerMinute, time.Minute)
	if err != nil {
		// Redis being down must not block settlement traffic.
		return true, 0
	}
	if count > s.b2bLimitPerMinute {
		return false, retryAfter
	}
	return true, 0
}
