package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/partnerbilling/internal/config"
)

const keyWebhookProvider = "webhook:provider:%s"

// WebhookLimiter throttles inbound provider webhooks per provider. It is a
// no-op when Redis is not configured.
type WebhookLimiter struct {
	bucket *TokenBucket
	rate   float64
	burst  int
}

func NewWebhookLimiter(cfg config.Config, client *redis.Client) *WebhookLimiter {
	rate := cfg.Payments.WebhookRatePerSec
	burst := cfg.Payments.WebhookBurst
	if client == nil || rate <= 0 || burst <= 0 {
		return &WebhookLimiter{}
	}
	return &WebhookLimiter{
		bucket: NewTokenBucket(client),
		rate:   rate,
		burst:  burst,
	}
}

func (l *WebhookLimiter) Enabled() bool {
	return l != nil && l.bucket != nil
}

// Allow reports whether a webhook from provider may proceed and how long a
// rejected caller should wait.
func (l *WebhookLimiter) Allow(ctx context.Context, provider string) (bool, time.Duration, error) {
	if !l.Enabled() {
		return true, 0, nil
	}
	key := fmt.Sprintf(keyWebhookProvider, strings.ToLower(strings.TrimSpace(provider)))
	res, err := l.bucket.Allow(ctx, key, l.rate, l.burst)
	if err != nil {
		return true, 0, err
	}
	return res.Allowed, res.RetryAfter, nil
}
