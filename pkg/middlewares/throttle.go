package middlewares

import (
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"golang.org/x/time/rate"
)

type limiterEntry struct {
	l        *rate.Limiter
	lastSeen time.Time
}

// LimiterPool per key token buckets, idle keys are evicted after ttl
type LimiterPool struct {
	mu    sync.Mutex
	m     map[string]*limiterEntry
	rps   rate.Limit
	burst int
	ttl   time.Duration
	now   func() time.Time
}

// NewLimiterPool creates a pool
func NewLimiterPool(perSecond float64, burst int, ttl time.Duration) *LimiterPool {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &LimiterPool{
		m:     make(map[string]*limiterEntry),
		rps:   rate.Limit(perSecond),
		burst: burst,
		ttl:   ttl,
		now:   time.Now,
	}
}

// Allow consumes one token for key
func (p *LimiterPool) Allow(key string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	e, ok := p.m[key]
	if !ok {
		e = &limiterEntry{l: rate.NewLimiter(p.rps, p.burst)}
		p.m[key] = e
	}
	e.lastSeen = now
	return e.l.AllowN(now, 1)
}

// Sweep drops idle keys
func (p *LimiterPool) Sweep() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	cutoff := p.now().Add(-p.ttl)
	n := 0
	for k, e := range p.m {
		if e.lastSeen.Before(cutoff) {
			delete(p.m, k)
			n++
		}
	}
	return n
}

// Run sweeps every period until stop is closed
func (p *LimiterPool) Run(period time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.Sweep()
		case <-stop:
			return
		}
	}
}

// ConnectThrottle 429 when a remote IP opens connections faster than the pool allows
func ConnectThrottle(pool *LimiterPool) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if !pool.Allow(c.IP()) {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "too many connection attempts",
				"code":  "RATE_LIMITED",
			})
		}
		return c.Next()
	}
}
