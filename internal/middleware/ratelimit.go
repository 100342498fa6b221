package middleware

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// RateLimiter throttles gift idea generation per client. Each client owns a
// bucket of rate tokens that refills continuously over window, so a client
// that waits window/rate gets exactly one more request.
type RateLimiter struct {
	mu       sync.Mutex
	buckets  map[string]*bucket
	rate     int
	window   time.Duration
	now      func() time.Time
	stop     chan struct{}
	stopOnce sync.Once
}

type bucket struct {
	tokens float64
	seen   time.Time
}

// decision is the outcome of a single take.
type decision struct {
	allowed    bool
	remaining  int
	retryAfter time.Duration
}

// NewRateLimiter allows rate requests per window per client and starts a
// sweeper that drops buckets idle for longer than window.
func NewRateLimiter(rate int, window time.Duration) *RateLimiter {
	rl := &RateLimiter{
		buckets: make(map[string]*bucket),
		rate:    rate,
		window:  window,
		now:     time.Now,
		stop:    make(chan struct{}),
	}
	go rl.sweep(5 * time.Minute)
	return rl
}

func (rl *RateLimiter) sweep(every time.Duration) {
	tick := time.NewTicker(every)
	defer tick.Stop()
	for {
		select {
		case <-tick.C:
			rl.mu.Lock()
			now := rl.now()
			for key, b := range rl.buckets {
				// Idle for a whole window means the bucket is full again.
				if now.Sub(b.seen) >= rl.window {
					delete(rl.buckets, key)
				}
			}
			rl.mu.Unlock()
		case <-rl.stop:
			return
		}
	}
}

// Stop ends the sweeper. It is safe to call more than once.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stop) })
}

// Limit reports the number of requests allowed per window.
func (rl *RateLimiter) Limit() int {
	return rl.rate
}

// Allow consumes a token for key and reports whether the request may proceed.
func (rl *RateLimiter) Allow(key string) bool {
	return rl.take(key).allowed
}

func (rl *RateLimiter) take(key string) decision {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	b, ok := rl.buckets[key]
	if !ok {
		b = &bucket{tokens: float64(rl.rate), seen: now}
		rl.buckets[key] = b
	} else if elapsed := now.Sub(b.seen); elapsed > 0 {
		refill := float64(elapsed) * float64(rl.rate) / float64(rl.window)
		b.tokens = math.Min(float64(rl.rate), b.tokens+refill)
		b.seen = now
	}

	if b.tokens >= 1 {
		b.tokens--
		return decision{allowed: true, remaining: int(b.tokens)}
	}
	missing := 1 - b.tokens
	return decision{retryAfter: time.Duration(missing * float64(rl.window) / float64(rl.rate))}
}

// GetClientKey identifies the caller by IP. The first X-Forwarded-For hop
// wins, then X-Real-IP, then the connection address without its port.
func GetClientKey(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(first)
	}
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// RateLimitMiddleware rejects requests over the limit with 429 and a
// Retry-After hint, and reports the remaining budget on every response.
func RateLimitMiddleware(limiter *RateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			d := limiter.take(GetClientKey(r))
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limiter.Limit()))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.remaining))

			if !d.allowed {
				secs := int(math.Ceil(d.retryAfter.Seconds()))
				w.Header().Set("Retry-After", strconv.Itoa(secs))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				w.Write([]byte(`{"error":"rate limit exceeded"}`))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
