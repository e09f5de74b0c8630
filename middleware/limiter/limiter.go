// Package limiter rejects requests beyond a token-bucket rate.
package limiter

import (
	"errors"
	"math"
	"net/http"
	"strconv"

	"golang.org/x/time/rate"

	"github.com/sweetpotato0/ai-research/middleware"
)

var (
	// ErrRateLimitExceeded indicates rate limit has been exceeded
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
)

// RateLimiter middleware for rate limiting. Research runs are expensive, so the
// bucket is shared by every caller of the wrapped routes.
type RateLimiter struct {
	limiter *rate.Limiter
}

// NewRateLimiter allows rps requests per second with the given burst.
func NewRateLimiter(rps float64, burst int) *RateLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{limiter: rate.NewLimiter(rate.Limit(rps), burst)}
}

// Name returns the middleware name
func (m *RateLimiter) Name() string {
	return "RateLimiter"
}

// Allow consumes a token, returning ErrRateLimitExceeded when none is available.
func (m *RateLimiter) Allow() error {
	if !m.limiter.Allow() {
		return ErrRateLimitExceeded
	}
	return nil
}

// Wrap implements middleware.Middleware. Rejected requests get 429 with Retry-After.
func (m *RateLimiter) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := m.Allow(); err != nil {
			w.Header().Set("Retry-After", strconv.Itoa(m.retryAfter()))
			middleware.WriteError(w, http.StatusTooManyRequests, "rate_limited", err.Error())
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (m *RateLimiter) retryAfter() int {
	limit := float64(m.limiter.Limit())
	if limit <= 0 {
		return 60
	}
	return int(math.Max(1, math.Ceil(1/limit)))
}
