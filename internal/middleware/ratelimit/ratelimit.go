// Package ratelimit provides per-client token bucket rate limiting.
package ratelimit

import (
	"encoding/json"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/pendergraft/whichdex/internal/middleware/realip"
)

// Config holds the configuration for rate limiting
type Config struct {
	Enabled        bool
	RequestsPerMin int
	BurstSize      int
	CleanupMinutes int
	// Exempt paths are never limited.
	Exempt []string
	// Cost returns the number of tokens a request consumes. Nil means 1.
	Cost func(r *http.Request) int
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter keeps one token bucket per client IP.
type RateLimiter struct {
	mu      sync.Mutex
	clients map[string]*clientLimiter
	limit   rate.Limit
	burst   int
	idle    time.Duration
	exempt  map[string]bool
	cost    func(r *http.Request) int
	stop    chan struct{}
	once    sync.Once
}

// New creates a RateLimiter and starts its eviction loop.
func New(cfg Config) *RateLimiter {
	idle := time.Duration(cfg.CleanupMinutes) * time.Minute
	if idle <= 0 {
		idle = 10 * time.Minute
	}
	burst := cfg.BurstSize
	if burst <= 0 {
		burst = 1
	}

	rl := &RateLimiter{
		clients: make(map[string]*clientLimiter),
		limit:   rate.Limit(float64(cfg.RequestsPerMin) / 60.0),
		burst:   burst,
		idle:    idle,
		exempt:  make(map[string]bool, len(cfg.Exempt)),
		cost:    cfg.Cost,
		stop:    make(chan struct{}),
	}
	for _, p := range cfg.Exempt {
		rl.exempt[p] = true
	}

	go rl.evictLoop()
	return rl
}

// Stop ends the eviction loop. It is safe to call more than once.
func (rl *RateLimiter) Stop() {
	rl.once.Do(func() { close(rl.stop) })
}

func (rl *RateLimiter) evictLoop() {
	ticker := time.NewTicker(rl.idle)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			rl.evict(time.Now().Add(-rl.idle))
		case <-rl.stop:
			return
		}
	}
}

// evict drops clients not seen since cutoff.
func (rl *RateLimiter) evict(cutoff time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for ip, c := range rl.clients {
		if c.lastSeen.Before(cutoff) {
			delete(rl.clients, ip)
		}
	}
}

func (rl *RateLimiter) limiterFor(ip string, now time.Time) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	c, ok := rl.clients[ip]
	if !ok {
		c = &clientLimiter{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.clients[ip] = c
	}
	c.lastSeen = now
	return c.limiter
}

// Allow consumes cost tokens for ip. When the bucket is short it returns
// false and how long the client should wait.
func (rl *RateLimiter) Allow(ip string, cost int) (bool, time.Duration) {
	now := time.Now()
	lim := rl.limiterFor(ip, now)
	if cost > rl.burst {
		cost = rl.burst
	}
	if lim.AllowN(now, cost) {
		return true, 0
	}
	if rl.limit <= 0 {
		return false, time.Minute
	}
	missing := float64(cost) - lim.TokensAt(now)
	return false, time.Duration(math.Ceil(missing/float64(rl.limit)) * float64(time.Second))
}

// Middleware returns an HTTP middleware that enforces the limits.
func (rl *RateLimiter) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if rl.exempt[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			cost := 1
			if rl.cost != nil {
				cost = max(rl.cost(r), 1)
			}

			ok, wait := rl.Allow(realip.GetClientIP(r), cost)
			if !ok {
				retryAfter := max(int(wait.Round(time.Second)/time.Second), 1)
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				w.WriteHeader(http.StatusTooManyRequests)
				json.NewEncoder(w).Encode(map[string]any{
					"error": map[string]any{
						"code":    "RATE_LIMIT_EXCEEDED",
						"message": "Too many requests. Please try again later.",
					},
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// Middleware returns rate limiting middleware, or a pass-through when disabled.
// The limiter's eviction loop runs for the lifetime of the process.
func Middleware(cfg Config) func(http.Handler) http.Handler {
	if !cfg.Enabled {
		return func(next http.Handler) http.Handler { return next }
	}
	return New(cfg).Middleware()
}
