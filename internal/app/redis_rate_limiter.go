/**
 * @description
 * Fixed-window delivery counter for the public payment-webhook endpoint,
 * shared across instances through Redis. One atomic script increments the
 * counter and arms the window expiry together, so two concurrent deliveries
 * can never each observe a fresh window.
 */
package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// The script replies with the post-increment hit count and the remaining
// window in milliseconds. PTTL reports a negative value for a key that lost
// its expiry, in which case the full window length stands in for it.
var webhookHitCounter = redis.NewScript(`
local hits = redis.call("INCR", KEYS[1])
if hits == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local remaining = redis.call("PTTL", KEYS[1])
if remaining < 0 then
  remaining = tonumber(ARGV[1])
end
return {hits, remaining}
`)

// RedisWebhookRateLimiter counts webhook deliveries per gateway inside a
// fixed window. It only counts; the handler decides what crossing the limit
// means. A nil limiter or client disables counting rather than failing
// requests.
type RedisWebhookRateLimiter struct {
	client    redis.UniversalClient
	keyPrefix string
}

// NewRedisWebhookRateLimiter creates a limiter writing keys under the given
// prefix.
func NewRedisWebhookRateLimiter(client redis.UniversalClient, prefix string) *RedisWebhookRateLimiter {
	prefix = strings.TrimSuffix(strings.TrimSpace(prefix), ":")
	if prefix == "" {
		prefix = "netbill:rate_limit"
	}
	return &RedisWebhookRateLimiter{
		client:    client,
		keyPrefix: prefix,
	}
}

// ConsumeRateLimit counts one hit for the subject inside the window and
// returns the running count plus a retry-after hint in whole seconds,
// rounded up and never below one.
func (r *RedisWebhookRateLimiter) ConsumeRateLimit(ctx context.Context, scope, subject string, limit int, window time.Duration) (int, int, error) {
	if r == nil || r.client == nil || limit <= 0 || window <= 0 {
		return 0, 0, nil
	}
	scope = strings.TrimSpace(scope)
	subject = strings.TrimSpace(subject)
	if scope == "" || subject == "" {
		return 0, 0, nil
	}

	windowMs := window.Milliseconds()
	if windowMs < 1000 {
		windowMs = 1000
	}

	key := r.keyPrefix + ":" + scope + ":" + subject
	reply, err := webhookHitCounter.Run(ctx, r.client, []string{key}, windowMs).Result()
	if err != nil {
		return 0, 0, err
	}

	hits, remainingMs, err := parseHitCounterReply(reply)
	if err != nil {
		return 0, 0, err
	}
	if remainingMs < 0 {
		remainingMs = windowMs
	}

	retryAfter := int((remainingMs + 999) / 1000)
	if retryAfter < 1 {
		retryAfter = 1
	}
	return int(hits), retryAfter, nil
}

func parseHitCounterReply(reply interface{}) (hits, remainingMs int64, err error) {
	values, ok := reply.([]interface{})
	if !ok || len(values) != 2 {
		return 0, 0, fmt.Errorf("redis limiter reply has shape %T, want [count, ttl]", reply)
	}
	hits, ok = values[0].(int64)
	if !ok {
		return 0, 0, fmt.Errorf("redis limiter count is %T, want int64", values[0])
	}
	remainingMs, ok = values[1].(int64)
	if !ok {
		return 0, 0, fmt.Errorf("redis limiter ttl is %T, want int64", values[1])
	}
	return hits, remainingMs, nil
}
