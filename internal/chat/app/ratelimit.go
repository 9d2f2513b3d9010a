package app

import (
	"context"
	"time"

	"chat_delivery_service/internal/chat/repository"
	"chat_delivery_service/pkg/config"
	errprocess "chat_delivery_service/pkg/err"
)

// RateLimiter fixed window per (subject, action)
type RateLimiter struct {
	shared repository.RateStore
	local  repository.RateStore
	rules  map[string]config.RateRule
	def    config.RateRule
	fo     failover
	now    func() time.Time
}

// NewRateLimiter shared may be nil, then only the local store is used
func NewRateLimiter(shared repository.RateStore, cfg config.RateLimitConfig) *RateLimiter {
	def := cfg.Default
	if def.Limit <= 0 || def.Window <= 0 {
		def = config.RateRule{Limit: 60, Window: time.Minute}
	}
	return &RateLimiter{
		shared: shared,
		local:  repository.NewMemoryRateStore(),
		rules:  cfg.Actions,
		def:    def,
		fo:     failover{component: "rate_limiter"},
		now:    time.Now,
	}
}

// Rule limit applied to action
func (l *RateLimiter) Rule(action string) config.RateRule {
	if r, ok := l.rules[action]; ok && r.Limit > 0 && r.Window > 0 {
		return r
	}
	return l.def
}

// Allow counts one hit; over the limit returns a RateLimited error
func (l *RateLimiter) Allow(ctx context.Context, subject, action string) error {
	rule := l.Rule(action)
	key := subject + ":" + action
	now := l.now()

	n, err := l.hit(ctx, key, rule.Window, now)
	if err != nil {
		return err
	}
	if n > int64(rule.Limit) {
		return errprocess.RateLimited(action)
	}
	return nil
}

func (l *RateLimiter) hit(ctx context.Context, key string, window time.Duration, now time.Time) (int64, error) {
	if l.shared != nil {
		n, err := l.shared.Hit(ctx, key, window, now)
		if err == nil {
			l.fo.ok()
			return n, nil
		}
		l.fo.fail(err)
	}
	return l.local.Hit(ctx, key, window, now)
}
