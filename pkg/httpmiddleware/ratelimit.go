package httpmiddleware

import (
	"context"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-faster/jx"
	"golang.org/x/time/rate"
)

// RateLimitConfig configures the per-key token bucket limiter.
type RateLimitConfig struct {
	// Max is the number of requests allowed per Window, also the burst size.
	Max int
	// Window is the period over which Max requests refill.
	Window time.Duration
	// KeyFunc picks the bucket for a request. Defaults to the client IP.
	KeyFunc func(*http.Request) string
}

type limiterEntry struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

type rateLimiter struct {
	cfg     RateLimitConfig
	every   rate.Limit
	mu      sync.Mutex
	entries map[string]*limiterEntry
}

func newRateLimiter(cfg RateLimitConfig) *rateLimiter {
	if cfg.KeyFunc == nil {
		cfg.KeyFunc = clientIP
	}
	if cfg.Max <= 0 {
		cfg.Max = 1
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	return &rateLimiter{
		cfg:     cfg,
		every:   rate.Every(cfg.Window / time.Duration(cfg.Max)),
		entries: make(map[string]*limiterEntry),
	}
}

func (rl *rateLimiter) limiter(key string, now time.Time) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	e, ok := rl.entries[key]
	if !ok {
		e = &limiterEntry{lim: rate.NewLimiter(rl.every, rl.cfg.Max)}
		rl.entries[key] = e
	}
	e.lastSeen = now
	return e.lim
}

// allow takes one token for key. When none is available it reports how long
// until one is.
func (rl *rateLimiter) allow(key string, now time.Time) (remaining int, retryAfter time.Duration, allowed bool) {
	lim := rl.limiter(key, now)

	res := lim.ReserveN(now, 1)
	if delay := res.DelayFrom(now); !res.OK() || delay > 0 {
		res.CancelAt(now)
		return 0, delay, false
	}
	remaining = int(math.Floor(lim.TokensAt(now)))
	return max(remaining, 0), 0, true
}

// cleanup drops limiters idle for longer than a full refill.
func (rl *rateLimiter) cleanup(now time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	for key, e := range rl.entries {
		if now.Sub(e.lastSeen) >= rl.cfg.Window {
			delete(rl.entries, key)
		}
	}
}

func (rl *rateLimiter) startCleanup(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(2 * rl.cfg.Window)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				rl.cleanup(now)
			}
		}
	}()
}

// RateLimit returns a middleware that enforces a per-key token bucket. When
// the bucket is empty it responds with 429 Too Many Requests and a JSON body.
// Every response carries X-RateLimit-Limit and X-RateLimit-Remaining.
//
// Idle limiters are never evicted; use RateLimitWithCleanup for long-running
// servers.
func RateLimit(cfg RateLimitConfig) Middleware {
	return rateLimitMiddleware(newRateLimiter(cfg))
}

// RateLimitWithCleanup is like RateLimit but also evicts idle limiters until
// ctx is cancelled.
func RateLimitWithCleanup(ctx context.Context, cfg RateLimitConfig) Middleware {
	rl := newRateLimiter(cfg)
	rl.startCleanup(ctx)
	return rateLimitMiddleware(rl)
}

func rateLimitMiddleware(rl *rateLimiter) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			remaining, retryAfter, allowed := rl.allow(rl.cfg.KeyFunc(r), time.Now())

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rl.cfg.Max))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))

			if !allowed {
				w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(retryAfter.Seconds()))))
				writeTooManyRequests(w)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeTooManyRequests(w http.ResponseWriter) {
	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("code")
	e.Int(http.StatusTooManyRequests)
	e.FieldStart("message")
	e.Str("rate limit exceeded")
	e.ObjEnd()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)
	_, _ = w.Write(e.Bytes())
}

// KeyByHeader keys requests by the given header, falling back to the client
// IP when it is absent. Signed-in customers behind a shared NAT get their
// own bucket this way. Use it only for headers a trusted proxy overwrites.
func KeyByHeader(header string) func(*http.Request) string {
	return func(r *http.Request) string {
		if v := strings.TrimSpace(r.Header.Get(header)); v != "" {
			return header + ":" + v
		}
		return clientIP(r)
	}
}

// clientIP prefers the first X-Forwarded-For hop, then X-Real-IP, then the
// peer address.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		return xri
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
