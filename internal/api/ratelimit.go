package api

import (
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
)

// RateLimitConfig holds rate limiter configuration.
type RateLimitConfig struct {
	RPS   int // requests per second
	Burst int // burst size
}

type rateLimiter struct {
	mu      sync.Mutex
	clients map[string]*tokenBucket
	rps     int
	burst   int
	now     func() time.Time
}

type tokenBucket struct {
	tokens     float64
	maxTokens  float64
	refillRate float64 // tokens per second
	lastRefill time.Time
}

func newTokenBucket(rps, burst int, now time.Time) *tokenBucket {
	return &tokenBucket{
		tokens:     float64(burst),
		maxTokens:  float64(burst),
		refillRate: float64(rps),
		lastRefill: now,
	}
}

func (b *tokenBucket) allow(now time.Time) bool {
	elapsed := now.Sub(b.lastRefill).Seconds()
	b.tokens += elapsed * b.refillRate
	if b.tokens > b.maxTokens {
		b.tokens = b.maxTokens
	}
	b.lastRefill = now

	if b.tokens >= 1 {
		b.tokens--
		return true
	}
	return false
}

func newRateLimiter(cfg RateLimitConfig) *rateLimiter {
	burst := cfg.Burst
	if burst < 1 {
		burst = cfg.RPS
	}
	return &rateLimiter{
		clients: make(map[string]*tokenBucket),
		rps:     cfg.RPS,
		burst:   burst,
		now:     time.Now,
	}
}

func (rl *rateLimiter) allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	now := rl.now()
	bucket, ok := rl.clients[key]
	if !ok {
		bucket = newTokenBucket(rl.rps, rl.burst, now)
		rl.clients[key] = bucket
	}
	return bucket.allow(now)
}

// sweep drops buckets idle for longer than maxIdle.
func (rl *rateLimiter) sweep(maxIdle time.Duration) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	now := rl.now()
	n := 0
	for k, v := range rl.clients {
		if now.Sub(v.lastRefill) > maxIdle {
			delete(rl.clients, k)
			n++
		}
	}
	return n
}

// run sweeps idle buckets until stop is closed.
func (rl *rateLimiter) run(stop <-chan struct{}) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			rl.sweep(10 * time.Minute)
		case <-stop:
			return
		}
	}
}

// middleware returns a per-client-IP token-bucket limiter.
func (rl *rateLimiter) middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if !rl.allow(c.IP()) {
			return errorResponse(c, fiber.StatusTooManyRequests, "RATE_LIMITED",
				"Too many requests. Please try again later.")
		}
		return c.Next()
	}
}
