package httpmiddleware

import (
	"context"
	"encoding/json"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// RateLimitConfig configures the per-client sliding window limiter.
type RateLimitConfig struct {
	// Max requests per Window. Zero or negative disables limiting.
	Max    int
	Window time.Duration
	// KeyFunc identifies the client. Defaults to ClientIP.
	KeyFunc func(*http.Request) string
}

// window holds the counts of the current and the previous fixed window. The
// previous count is weighted by its overlap with the sliding window.
type window struct {
	start time.Time
	curr  float64
	prev  float64
}

// Limiter is a sliding window rate limiter keyed by client.
type Limiter struct {
	cfg RateLimitConfig
	now func() time.Time

	mu      sync.Mutex
	clients map[string]*window
}

// NewLimiter creates a Limiter.
func NewLimiter(cfg RateLimitConfig) *Limiter {
	if cfg.KeyFunc == nil {
		cfg.KeyFunc = ClientIP
	}
	return &Limiter{cfg: cfg, now: time.Now, clients: make(map[string]*window)}
}

// Allow records a request for key and reports whether it fits the limit,
// along with the remaining budget and the end of the current window.
func (l *Limiter) Allow(key string) (ok bool, remaining int, reset time.Time) {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	w := l.clients[key]
	if w == nil {
		w = &window{start: now.Truncate(l.cfg.Window)}
		l.clients[key] = w
	}
	if elapsed := now.Sub(w.start); elapsed >= l.cfg.Window {
		if elapsed >= 2*l.cfg.Window {
			w.prev = 0
		} else {
			w.prev = w.curr
		}
		w.curr = 0
		w.start = now.Truncate(l.cfg.Window)
	}

	weight := 1 - float64(now.Sub(w.start))/float64(l.cfg.Window)
	used := w.prev*math.Max(weight, 0) + w.curr
	reset = w.start.Add(l.cfg.Window)

	if used >= float64(l.cfg.Max) {
		return false, 0, reset
	}
	w.curr++
	return true, max(int(float64(l.cfg.Max)-used-1), 0), reset
}

// Run evicts idle clients every two windows until ctx is done. It returns
// immediately when limiting is disabled.
func (l *Limiter) Run(ctx context.Context) {
	if l.cfg.Max <= 0 || l.cfg.Window <= 0 {
		return
	}
	t := time.NewTicker(2 * l.cfg.Window)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			l.evict(l.now())
		}
	}
}

func (l *Limiter) evict(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for key, w := range l.clients {
		if now.Sub(w.start) >= 2*l.cfg.Window {
			delete(l.clients, key)
		}
	}
}

// Middleware rejects over-limit requests with 429 and the API error body.
// Every response carries the X-RateLimit-* headers.
func (l *Limiter) Middleware() Middleware {
	return func(next http.Handler) http.Handler {
		if l.cfg.Max <= 0 || l.cfg.Window <= 0 {
			return next
		}
		limit := strconv.Itoa(l.cfg.Max)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ok, remaining, reset := l.Allow(l.cfg.KeyFunc(r))

			h := w.Header()
			h.Set("X-RateLimit-Limit", limit)
			h.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
			h.Set("X-RateLimit-Reset", strconv.FormatInt(reset.Unix(), 10))
			if ok {
				next.ServeHTTP(w, r)
				return
			}

			retry := max(reset.Sub(l.now()), 0)
			h.Set("Retry-After", strconv.Itoa(int(math.Ceil(retry.Seconds()))))
			h.Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"code":    http.StatusTooManyRequests,
				"message": "rate limit exceeded",
			})
		})
	}
}

// ClientIP returns the first X-Forwarded-For hop, then X-Real-IP, then the
// host part of RemoteAddr.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
