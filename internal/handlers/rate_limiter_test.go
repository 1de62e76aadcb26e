package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/houseofkezura/backend-sub000/internal/platform/auth"
)

func TestSimpleRateLimiterResetsAfterWindow(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	limiter := newSimpleRateLimiter(2, time.Minute, func() time.Time { return now })

	if !limiter.Allow("k") || !limiter.Allow("k") {
		t.Fatalf("expected first two calls allowed")
	}
	if limiter.Allow("k") {
		t.Fatalf("expected third call throttled")
	}
	if !limiter.Allow("other") {
		t.Fatalf("expected separate key to have its own budget")
	}
	now = now.Add(time.Minute + time.Second)
	if !limiter.Allow("k") {
		t.Fatalf("expected budget restored after window")
	}
}

func TestNewSimpleRateLimiterDisabled(t *testing.T) {
	if limiter := newSimpleRateLimiter(0, time.Minute, nil); limiter != nil {
		t.Fatalf("expected nil limiter for zero budget")
	}
}

func TestRateLimitMiddlewareKeysByCaller(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	mw := RateLimitMiddleware(RateLimitOptions{
		AnonymousPerMinute:     1,
		AuthenticatedPerMinute: 2,
		Clock:                  func() time.Time { return now },
	})
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	serve := func(decorate func(*http.Request) *http.Request) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/cart", nil)
		req.RemoteAddr = "203.0.113.7:5123"
		if decorate != nil {
			req = decorate(req)
		}
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		return rr
	}

	if rr := serve(nil); rr.Code != http.StatusNoContent {
		t.Fatalf("expected first anonymous call allowed, got %d", rr.Code)
	}
	rr := serve(nil)
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected anonymous call throttled, got %d", rr.Code)
	}
	if rr.Header().Get("Retry-After") != "60" {
		t.Fatalf("expected Retry-After header, got %q", rr.Header().Get("Retry-After"))
	}

	guest := func(req *http.Request) *http.Request {
		return req.WithContext(auth.WithGuestToken(req.Context(), "guesttoken"))
	}
	if rr := serve(guest); rr.Code != http.StatusNoContent {
		t.Fatalf("expected guest token to have its own budget, got %d", rr.Code)
	}

	user := func(req *http.Request) *http.Request {
		return req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: "user-1"}))
	}
	for i := 0; i < 2; i++ {
		if rr := serve(user); rr.Code != http.StatusNoContent {
			t.Fatalf("expected authenticated call %d allowed, got %d", i, rr.Code)
		}
	}
	if rr := serve(user); rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected authenticated budget exhausted, got %d", rr.Code)
	}
}

func TestRateLimitMiddlewareSkip(t *testing.T) {
	mw := RateLimitMiddleware(RateLimitOptions{
		AnonymousPerMinute: 1,
		Skip: func(r *http.Request) bool {
			return r.URL.Path == "/webhooks/paystack"
		},
	})
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	for i := 0; i < 3; i++ {
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/webhooks/paystack", nil))
		if rr.Code != http.StatusOK {
			t.Fatalf("expected skipped path never throttled, got %d", rr.Code)
		}
	}
}
