package middleware

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// KeyedLimiter holds one token bucket per caller.
type KeyedLimiter struct {
	limiters sync.Map
	limit    rate.Limit
	burst    int
	logger   *zap.Logger
}

type limiterEntry struct {
	limiter    *rate.Limiter
	mu         sync.Mutex
	lastAccess time.Time
}

// NewKeyedLimiter allows perMinute requests per key per minute, all of which
// may arrive in a burst.
func NewKeyedLimiter(perMinute int, logger *zap.Logger) *KeyedLimiter {
	if perMinute < 1 {
		perMinute = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KeyedLimiter{
		limit:  rate.Every(time.Minute / time.Duration(perMinute)),
		burst:  perMinute,
		logger: logger,
	}
}

// Allow consumes a token for key.
func (l *KeyedLimiter) Allow(key string) bool {
	now := time.Now()
	val, ok := l.limiters.Load(key)
	if !ok {
		val, _ = l.limiters.LoadOrStore(key, &limiterEntry{limiter: rate.NewLimiter(l.limit, l.burst)})
	}
	entry := val.(*limiterEntry)
	entry.mu.Lock()
	entry.lastAccess = now
	entry.mu.Unlock()
	return entry.limiter.AllowN(now, 1)
}

// Sweep drops limiters idle for longer than idle.
func (l *KeyedLimiter) Sweep(idle time.Duration) {
	cutoff := time.Now().Add(-idle)
	l.limiters.Range(func(key, value interface{}) bool {
		entry := value.(*limiterEntry)
		entry.mu.Lock()
		stale := !entry.lastAccess.After(cutoff)
		entry.mu.Unlock()
		if stale {
			l.limiters.Delete(key)
		}
		return true
	})
}

// RunSweeper calls Sweep every interval until ctx is done.
func (l *KeyedLimiter) RunSweeper(ctx context.Context, interval, idle time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Sweep(idle)
		}
	}
}

// RateLimitByUser answers 429 once the authenticated user (or the remote
// address for anonymous callers) exceeds the limiter.
func RateLimitByUser(l *KeyedLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := "ip:" + r.RemoteAddr
			if u, ok := UserFromContext(r.Context()); ok {
				key = "user:" + u.ID
			}
			if !l.Allow(key) {
				l.logger.Warn("rate limit exceeded", zap.String("client_id", key), zap.String("path", r.URL.Path))
				retry := int(time.Duration(float64(time.Second) / float64(l.limit)).Seconds())
				if retry < 1 {
					retry = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(retry))
				writeError(w, http.StatusTooManyRequests, "Too many requests. Please try again later.")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
