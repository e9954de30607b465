package middleware

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	apperrors "github.com/carreto/dispatch/internal/errors"
	"github.com/carreto/dispatch/pkg/utils"
	"github.com/redis/go-redis/v9"
)

// WindowCounter counts hits on key within a fixed window.
type WindowCounter interface {
	Incr(ctx context.Context, key string, window time.Duration) (int64, error)
}

type RateLimiter struct {
	counter  WindowCounter
	requests int
	window   time.Duration
	logger   *slog.Logger
}

func NewRateLimiter(counter WindowCounter, requests int, window time.Duration, logger *slog.Logger) *RateLimiter {
	return &RateLimiter{
		counter:  counter,
		requests: requests,
		window:   window,
		logger:   logger,
	}
}

func (rl *RateLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := "ratelimit:" + clientIP(r)

		count, err := rl.counter.Incr(r.Context(), key, rl.window)
		if err != nil {
			// Fail open: the limiter must not take the API down with it.
			rl.logger.Warn("rate limiter unavailable", "error", err)
			next.ServeHTTP(w, r)
			return
		}

		remaining := rl.requests - int(count)
		if remaining < 0 {
			remaining = 0
		}
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rl.requests))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))

		if int(count) > rl.requests {
			w.Header().Set("Retry-After", strconv.Itoa(int(rl.window.Seconds())))
			utils.Error(w, apperrors.RateLimited())
			return
		}

		next.ServeHTTP(w, r)
	})
}

func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

type redisCounter struct {
	redis *redis.Client
}

func NewRedisCounter(redisClient *redis.Client) WindowCounter {
	return &redisCounter{redis: redisClient}
}

func (c *redisCounter) Incr(ctx context.Context, key string, window time.Duration) (int64, error) {
	pipe := c.redis.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.ExpireNX(ctx, key, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

type memoryCounter struct {
	mu      sync.Mutex
	windows map[string]*memoryWindow
	now     func() time.Time
}

type memoryWindow struct {
	count   int64
	expires time.Time
}

// NewMemoryCounter is the single-process counter used when Redis is absent.
func NewMemoryCounter(now func() time.Time) WindowCounter {
	if now == nil {
		now = time.Now
	}
	return &memoryCounter{windows: map[string]*memoryWindow{}, now: now}
}

func (c *memoryCounter) Incr(ctx context.Context, key string, window time.Duration) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	w := c.windows[key]
	if w == nil || !now.Before(w.expires) {
		w = &memoryWindow{expires: now.Add(window)}
		c.windows[key] = w
	}
	w.count++
	return w.count, nil
}
