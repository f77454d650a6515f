package app

import (
	"context"
	"testing"
	"time"
)

func TestNewRedisWebhookRateLimiterPrefix(t *testing.T) {
	if l := NewRedisWebhookRateLimiter(nil, " custom: "); l.keyPrefix != "custom" {
		t.Fatalf("expected trimmed prefix, got %q", l.keyPrefix)
	}
	if l := NewRedisWebhookRateLimiter(nil, "  "); l.keyPrefix != "netbill:rate_limit" {
		t.Fatalf("expected default prefix, got %q", l.keyPrefix)
	}
}

func TestConsumeRateLimitDisabledPaths(t *testing.T) {
	ctx := context.Background()

	var nilLimiter *RedisWebhookRateLimiter
	if count, retry, err := nilLimiter.ConsumeRateLimit(ctx, "webhook", "tripay", 60, time.Minute); count != 0 || retry != 0 || err != nil {
		t.Fatalf("nil limiter must disable counting, got %d %d %v", count, retry, err)
	}

	limiter := NewRedisWebhookRateLimiter(nil, "")
	tests := []struct {
		name    string
		scope   string
		subject string
		limit   int
		window  time.Duration
	}{
		{"nil client", "webhook", "tripay", 60, time.Minute},
		{"blank scope", " ", "tripay", 60, time.Minute},
		{"blank subject", "webhook", "", 60, time.Minute},
		{"non-positive limit", "webhook", "tripay", 0, time.Minute},
		{"non-positive window", "webhook", "tripay", 60, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			count, retry, err := limiter.ConsumeRateLimit(ctx, tt.scope, tt.subject, tt.limit, tt.window)
			if count != 0 || retry != 0 || err != nil {
				t.Fatalf("expected counting disabled, got %d %d %v", count, retry, err)
			}
		})
	}
}

func TestParseHitCounterReply(t *testing.T) {
	hits, remaining, err := parseHitCounterReply([]interface{}{int64(3), int64(42000)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if hits != 3 || remaining != 42000 {
		t.Fatalf("unexpected reply values %d %d", hits, remaining)
	}

	bad := []interface{}{
		"not a slice",
		[]interface{}{int64(1)},
		[]interface{}{"one", int64(1000)},
		[]interface{}{int64(1), "soon"},
	}
	for _, reply := range bad {
		if _, _, err := parseHitCounterReply(reply); err == nil {
			t.Fatalf("expected error for reply %#v", reply)
		}
	}
}
