package handlers

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/houseofkezura/backend-sub000/internal/platform/auth"
	"github.com/houseofkezura/backend-sub000/internal/platform/httpx"
)

const rateLimitWindow = time.Minute

type rateLimiter interface {
	Allow(key string) bool
}

type simpleRateLimiter struct {
	limit  int
	window time.Duration
	clock  func() time.Time
	mu     sync.Mutex
	store  map[string]rateEntry
}

type rateEntry struct {
	count int
	reset time.Time
}

func newSimpleRateLimiter(limit int, window time.Duration, clock func() time.Time) rateLimiter {
	if limit <= 0 || window <= 0 {
		return nil
	}
	if clock == nil {
		clock = time.Now
	}
	return &simpleRateLimiter{
		limit:  limit,
		window: window,
		clock:  clock,
		store:  make(map[string]rateEntry),
	}
}

func (l *simpleRateLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	key = strings.TrimSpace(key)
	if key == "" {
		key = "anonymous"
	}
	now := l.clock()
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.store[key]
	if !ok || now.After(entry.reset) {
		l.store[key] = rateEntry{count: 1, reset: now.Add(l.window)}
		l.pruneExpiredLocked(now)
		return true
	}

	if entry.count >= l.limit {
		return false
	}
	entry.count++
	l.store[key] = entry
	return true
}

func (l *simpleRateLimiter) pruneExpiredLocked(now time.Time) {
	if len(l.store) == 0 {
		return
	}
	for key, entry := range l.store {
		if now.After(entry.reset) {
			delete(l.store, key)
		}
	}
}

// RateLimitOptions sets per-minute budgets. A zero budget disables throttling for that class.
type RateLimitOptions struct {
	AnonymousPerMinute     int
	AuthenticatedPerMinute int
	Clock                  func() time.Time
	// Skip exempts matching requests, such as gateway webhooks throttled by their own group.
	Skip func(*http.Request) bool
}

// RateLimitMiddleware throttles requests per signed-in user, guest token or client IP.
// It must run after authentication so identities are visible.
func RateLimitMiddleware(opts RateLimitOptions) func(http.Handler) http.Handler {
	anonymous := newSimpleRateLimiter(opts.AnonymousPerMinute, rateLimitWindow, opts.Clock)
	authenticated := newSimpleRateLimiter(opts.AuthenticatedPerMinute, rateLimitWindow, opts.Clock)
	retryAfter := strconv.Itoa(int(rateLimitWindow / time.Second))

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if opts.Skip != nil && opts.Skip(r) {
				next.ServeHTTP(w, r)
				return
			}
			limiter, key := anonymous, rateLimitKey(r)
			if strings.HasPrefix(key, "user:") {
				limiter = authenticated
			}
			if limiter != nil && !limiter.Allow(key) {
				w.Header().Set("Retry-After", retryAfter)
				httpx.WriteError(r.Context(), w, httpx.NewError("rate_limited", "too many requests", http.StatusTooManyRequests))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func rateLimitKey(r *http.Request) string {
	ctx := r.Context()
	if identity, ok := auth.IdentityFromContext(ctx); ok && identity != nil && strings.TrimSpace(identity.UID) != "" {
		return "user:" + strings.TrimSpace(identity.UID)
	}
	if token := auth.GuestTokenFromContext(ctx); token != "" {
		return "guest:" + token
	}
	host := r.RemoteAddr
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	return "ip:" + host
}
