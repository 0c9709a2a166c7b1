package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func performRateLimited(h http.Handler, ip string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/sessions", nil)
	req.RemoteAddr = ip + ":1234"
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestLocalRateLimiterDeniesBeyondLimit(t *testing.T) {
	h := NewRateLimiter(2, time.Minute).Middleware()(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	for i := 0; i < 2; i++ {
		if rr := performRateLimited(h, "10.0.0.1"); rr.Code != http.StatusNoContent {
			t.Fatalf("request %d expected 204, got %d", i, rr.Code)
		}
	}
	rr := performRateLimited(h, "10.0.0.1")
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 past the limit, got %d", rr.Code)
	}
	if rr.Header().Get("Retry-After") == "" {
		t.Fatal("expected Retry-After header on denial")
	}
	if rr.Header().Get("X-RateLimit-Remaining") != "0" {
		t.Fatalf("expected zero remaining, got %q", rr.Header().Get("X-RateLimit-Remaining"))
	}
}

func TestLocalRateLimiterKeysAreIndependent(t *testing.T) {
	h := NewRateLimiter(1, time.Minute).Middleware()(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	if rr := performRateLimited(h, "10.0.0.1"); rr.Code != http.StatusNoContent {
		t.Fatalf("first ip expected 204, got %d", rr.Code)
	}
	if rr := performRateLimited(h, "10.0.0.2"); rr.Code != http.StatusNoContent {
		t.Fatalf("second ip must have its own budget, got %d", rr.Code)
	}
}

type failingLimiter struct{}

func (failingLimiter) Allow(context.Context, string, RateLimitPolicy) (Decision, error) {
	return Decision{}, errors.New("backend down")
}

func TestRateLimiterFailureModes(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	open := NewDistributedRateLimiter(failingLimiter{}, 10, time.Minute, FailOpen, "test", nil).Middleware()(next)
	if rr := performRateLimited(open, "10.0.0.1"); rr.Code != http.StatusNoContent {
		t.Fatalf("fail-open expected 204 on backend error, got %d", rr.Code)
	}

	closed := NewDistributedRateLimiter(failingLimiter{}, 10, time.Minute, FailClosed, "test", nil).Middleware()(next)
	if rr := performRateLimited(closed, "10.0.0.1"); rr.Code != http.StatusTooManyRequests {
		t.Fatalf("fail-closed expected 429 on backend error, got %d", rr.Code)
	}
}

func newLimiterRedisClient(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() {
		_ = client.Close()
		server.Close()
	})
	return server, client
}

func TestRedisFixedWindowLimiterCountsPerWindow(t *testing.T) {
	_, client := newLimiterRedisClient(t)
	limiter := NewRedisFixedWindowLimiter(client, "")
	policy := RateLimitPolicy{SustainedLimit: 2, SustainedWindow: time.Minute}
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		d, err := limiter.Allow(ctx, "k1", policy)
		if err != nil {
			t.Fatalf("allow %d: %v", i, err)
		}
		if !d.Allowed {
			t.Fatalf("request %d within limit must be allowed", i)
		}
	}
	d, err := limiter.Allow(ctx, "k1", policy)
	if err != nil {
		t.Fatalf("allow: %v", err)
	}
	if d.Allowed {
		t.Fatal("expected denial past the limit")
	}
	if d.RetryAfter <= 0 || d.Reason != "window" {
		t.Fatalf("expected window denial with retry-after, got %+v", d)
	}

	// other keys keep their own budget
	d, err = limiter.Allow(ctx, "k2", policy)
	if err != nil {
		t.Fatalf("allow other key: %v", err)
	}
	if !d.Allowed {
		t.Fatal("independent key must be allowed")
	}
}

func TestRedisFixedWindowLimiterErrorsSurface(t *testing.T) {
	server, client := newLimiterRedisClient(t)
	limiter := NewRedisFixedWindowLimiter(client, "")
	server.Close()

	_, err := limiter.Allow(context.Background(), "k", RateLimitPolicy{SustainedLimit: 1, SustainedWindow: time.Minute})
	if err == nil {
		t.Fatal("expected error when backend is gone")
	}
}
