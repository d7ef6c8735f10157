package http

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// rateLimiter is a fixed-window per-key counter. A limit of zero disables it.
type rateLimiter struct {
	mu      sync.Mutex
	limit   int
	window  time.Duration
	started map[string]time.Time
	counts  map[string]int
}

func newRateLimiter(limit int, window time.Duration) *rateLimiter {
	return &rateLimiter{
		limit:   limit,
		window:  window,
		started: make(map[string]time.Time),
		counts:  make(map[string]int),
	}
}

func (r *rateLimiter) allow(key string) bool {
	if r == nil || r.limit <= 0 {
		return true
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	if started, ok := r.started[key]; !ok || now.Sub(started) >= r.window {
		r.started[key] = now
		r.counts[key] = 0
	}
	r.counts[key]++
	return r.counts[key] <= r.limit
}

// RateLimitMiddleware throttles a route group by client IP. It guards the
// credential endpoints against brute forcing.
func RateLimitMiddleware(limit int, window time.Duration) gin.HandlerFunc {
	limiter := newRateLimiter(limit, window)
	return func(c *gin.Context) {
		if !limiter.allow(c.ClientIP()) {
			c.JSON(http.StatusTooManyRequests, ErrorResponse{Error: "too many requests"})
			c.Abort()
			return
		}
		c.Next()
	}
}
