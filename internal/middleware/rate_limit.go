package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/shikkhaloy/student-records-api/internal/metrics"
)

// Limiter tracks request counts per client key within a time window.
type Limiter interface {
	// Allow records a request for the key and reports whether it is
	// within the limit.
	Allow(ctx context.Context, key string) (bool, error)
	// Remaining returns the number of requests left for the key in the
	// current window.
	Remaining(ctx context.Context, key string) (int, error)
	// Reset returns the time when the window for the key resets.
	Reset(ctx context.Context, key string) (time.Time, error)
}

// MemoryLimiter implements a sliding-window rate limiter in process
// memory. Suitable for single-instance deployments.
type MemoryLimiter struct {
	mu       sync.RWMutex
	requests map[string][]time.Time
	limit    int
	window   time.Duration
}

// NewMemoryLimiter creates a new in-memory rate limiter
func NewMemoryLimiter(limit int, window time.Duration) *MemoryLimiter {
	rl := &MemoryLimiter{
		requests: make(map[string][]time.Time),
		limit:    limit,
		window:   window,
	}

	// Start cleanup goroutine
	go rl.cleanup()

	return rl
}

// Allow checks if a request is allowed for the given key
func (rl *MemoryLimiter) Allow(_ context.Context, key string) (bool, error) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	windowStart := now.Add(-rl.window)

	var valid []time.Time
	for _, t := range rl.requests[key] {
		if t.After(windowStart) {
			valid = append(valid, t)
		}
	}

	if len(valid) >= rl.limit {
		rl.requests[key] = valid
		return false, nil
	}

	valid = append(valid, now)
	rl.requests[key] = valid

	return true, nil
}

// Remaining returns the number of remaining requests for a key
func (rl *MemoryLimiter) Remaining(_ context.Context, key string) (int, error) {
	rl.mu.RLock()
	defer rl.mu.RUnlock()

	windowStart := time.Now().Add(-rl.window)

	count := 0
	for _, t := range rl.requests[key] {
		if t.After(windowStart) {
			count++
		}
	}

	remaining := rl.limit - count
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

// Reset returns the time when the rate limit resets for a key
func (rl *MemoryLimiter) Reset(_ context.Context, key string) (time.Time, error) {
	rl.mu.RLock()
	defer rl.mu.RUnlock()

	requests := rl.requests[key]
	if len(requests) == 0 {
		return time.Now(), nil
	}

	oldest := requests[0]
	for _, t := range requests {
		if t.Before(oldest) {
			oldest = t
		}
	}

	return oldest.Add(rl.window), nil
}

// cleanup periodically removes old entries
func (rl *MemoryLimiter) cleanup() {
	ticker := time.NewTicker(rl.window)
	defer ticker.Stop()

	for range ticker.C {
		rl.mu.Lock()
		windowStart := time.Now().Add(-rl.window)

		for key, requests := range rl.requests {
			var valid []time.Time
			for _, t := range requests {
				if t.After(windowStart) {
					valid = append(valid, t)
				}
			}
			if len(valid) == 0 {
				delete(rl.requests, key)
			} else {
				rl.requests[key] = valid
			}
		}
		rl.mu.Unlock()
	}
}

// RedisLimiter implements a fixed-window rate limiter backed by Redis,
// shared across all instances of the service.
type RedisLimiter struct {
	client *redis.Client
	limit  int
	window time.Duration
	prefix string
}

// NewRedisLimiter creates a Redis-backed rate limiter
func NewRedisLimiter(client *redis.Client, limit int, window time.Duration) *RedisLimiter {
	return &RedisLimiter{
		client: client,
		limit:  limit,
		window: window,
		prefix: "ratelimit:",
	}
}

// fixedWindowScript increments the counter and starts the window TTL
// only when the key is new. The expiry must not be refreshed on later
// hits: a client retrying faster than the window would otherwise keep
// its own counter alive and never get unblocked.
var fixedWindowScript = redis.NewScript(`
local count = redis.call("INCR", KEYS[1])
if count == 1 then
	redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return count
`)

// Allow checks if a request is allowed for the given key. Increment and
// expiry run in one script so a crashed increment cannot leave a key
// without a TTL.
func (rl *RedisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	count, err := fixedWindowScript.Run(ctx, rl.client, []string{rl.prefix + key}, rl.window.Milliseconds()).Int64()
	if err != nil {
		return false, err
	}

	return count <= int64(rl.limit), nil
}

// Remaining returns the number of remaining requests for a key
func (rl *RedisLimiter) Remaining(ctx context.Context, key string) (int, error) {
	val, err := rl.client.Get(ctx, rl.prefix+key).Int()
	if err != nil {
		if err == redis.Nil {
			return rl.limit, nil
		}
		return 0, err
	}

	remaining := rl.limit - val
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

// Reset returns the time when the rate limit resets for a key
func (rl *RedisLimiter) Reset(ctx context.Context, key string) (time.Time, error) {
	ttl, err := rl.client.TTL(ctx, rl.prefix+key).Result()
	if err != nil || ttl < 0 {
		return time.Now().Add(rl.window), err
	}
	return time.Now().Add(ttl), nil
}

// RateLimitMiddleware applies a request rate limit per client IP.
type RateLimitMiddleware struct {
	limiter Limiter
	limit   int
}

// NewRateLimitMiddleware creates a new RateLimitMiddleware instance
func NewRateLimitMiddleware(limiter Limiter, limit int) *RateLimitMiddleware {
	return &RateLimitMiddleware{
		limiter: limiter,
		limit:   limit,
	}
}

// Handler returns a middleware that enforces the rate limit. Limit state
// errors fail open; a degraded limiter backend must not take down the
// whole API.
func (m *RateLimitMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := clientKey(r)

		allowed, err := m.limiter.Allow(r.Context(), key)
		if err != nil {
			next.ServeHTTP(w, r)
			return
		}

		remaining, _ := m.limiter.Remaining(r.Context(), key)
		resetTime, _ := m.limiter.Reset(r.Context(), key)

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(m.limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(resetTime.Unix(), 10))

		if !allowed {
			metrics.RateLimitRejectionsTotal.Inc()
			writeRateLimitError(w, resetTime)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// clientKey derives the rate limit key from the client IP
func clientKey(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		if ip := strings.TrimSpace(parts[0]); ip != "" {
			return ip
		}
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}

	// Strip the port from RemoteAddr
	host := r.RemoteAddr
	if idx := strings.LastIndex(host, ":"); idx != -1 {
		host = host[:idx]
	}
	return host
}

// writeRateLimitError writes a 429 Too Many Requests response
func writeRateLimitError(w http.ResponseWriter, resetTime time.Time) {
	retryAfter := resetTime.Unix() - time.Now().Unix()
	if retryAfter < 0 {
		retryAfter = 0
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Retry-After", strconv.FormatInt(retryAfter, 10))
	w.WriteHeader(http.StatusTooManyRequests)

	response := ErrorResponse{
		Success: false,
		Error: ErrorDetail{
			Code:    "TOO_MANY_REQUESTS",
			Message: "Rate limit exceeded. Please try again later.",
		},
		Timestamp: time.Now().UTC(),
	}

	json.NewEncoder(w).Encode(response)
}
