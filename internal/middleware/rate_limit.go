package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/welldanyogia/home-iot/internal/api"
)

// CodeRateLimited is returned when a client exceeds a route limit
const CodeRateLimited = "TOO_MANY_REQUESTS"

// RateLimiter implements a sliding window in-memory rate limiter
type RateLimiter struct {
	mu       sync.RWMutex
	requests map[string][]time.Time
	limit    int           // Max requests
	window   time.Duration // Time window
	now      func() time.Time
	stop     chan struct{}
	stopOnce sync.Once
}

// NewRateLimiter creates a new rate limiter and starts its cleanup goroutine.
// Call Stop to release it.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	rl := &RateLimiter{
		requests: make(map[string][]time.Time),
		limit:    limit,
		window:   window,
		now:      time.Now,
		stop:     make(chan struct{}),
	}

	go rl.cleanup()

	return rl
}

// Limit returns the maximum number of requests per window
func (rl *RateLimiter) Limit() int {
	return rl.limit
}

// Allow checks if a request is allowed for the given key and records it
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	valid := rl.inWindow(rl.requests[key], now)

	if len(valid) >= rl.limit {
		rl.requests[key] = valid
		return false
	}

	rl.requests[key] = append(valid, now)
	return true
}

// Remaining returns the number of remaining requests for a key
func (rl *RateLimiter) Remaining(key string) int {
	rl.mu.RLock()
	defer rl.mu.RUnlock()

	remaining := rl.limit - len(rl.inWindow(rl.requests[key], rl.now()))
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Reset returns the time when the oldest request of the key leaves the window
func (rl *RateLimiter) Reset(key string) time.Time {
	rl.mu.RLock()
	defer rl.mu.RUnlock()

	now := rl.now()
	valid := rl.inWindow(rl.requests[key], now)
	if len(valid) == 0 {
		return now
	}
	return valid[0].Add(rl.window)
}

// Stop ends the cleanup goroutine
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stop) })
}

// inWindow returns the timestamps still inside the window. Timestamps are
// kept in insertion order, so the result is sorted oldest first.
func (rl *RateLimiter) inWindow(requests []time.Time, now time.Time) []time.Time {
	windowStart := now.Add(-rl.window)
	var valid []time.Time
	for _, t := range requests {
		if t.After(windowStart) {
			valid = append(valid, t)
		}
	}
	return valid
}

// cleanup periodically removes keys with no requests left in the window
func (rl *RateLimiter) cleanup() {
	ticker := time.NewTicker(rl.window)
	defer ticker.Stop()

	for {
		select {
		case <-rl.stop:
			return
		case <-ticker.C:
			rl.mu.Lock()
			now := rl.now()
			for key, requests := range rl.requests {
				valid := rl.inWindow(requests, now)
				if len(valid) == 0 {
					delete(rl.requests, key)
				} else {
					rl.requests[key] = valid
				}
			}
			rl.mu.Unlock()
		}
	}
}

// Handler returns middleware that limits requests per resolved client IP
func (rl *RateLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := requestIP(r)

		if !rl.Allow(key) {
			writeRateLimitError(w, rl.Reset(key), rl.now())
			return
		}

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rl.limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(rl.Remaining(key)))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(rl.Reset(key).Unix(), 10))

		next.ServeHTTP(w, r)
	})
}

// RateLimit creates a per-IP limiter of limit requests per window and
// returns its middleware together with the limiter
func RateLimit(limit int, window time.Duration) (func(http.Handler) http.Handler, *RateLimiter) {
	rl := NewRateLimiter(limit, window)
	return rl.Handler, rl
}

// writeRateLimitError writes a 429 Too Many Requests response
func writeRateLimitError(w http.ResponseWriter, resetTime, now time.Time) {
	retryAfter := resetTime.Unix() - now.Unix()
	if retryAfter < 1 {
		retryAfter = 1
	}
	w.Header().Set("Retry-After", strconv.FormatInt(retryAfter, 10))

	api.WriteError(w, http.StatusTooManyRequests, CodeRateLimited,
		"Rate limit exceeded. Please try again later.",
		map[string]interface{}{"retry_after": retryAfter})
}
