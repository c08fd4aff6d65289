// ABOUTME: Tests for the per-IP rate limiter and mutationRateLimit middleware.
// ABOUTME: Uses package api (not api_test) to access unexported Server fields.
package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"golang.org/x/time/rate"
)

func TestIPRateLimiter_Allow(t *testing.T) {
	t.Parallel()
	rl := newIPRateLimiter(rate.Limit(100), 3, time.Minute)
	for i := 1; i <= 3; i++ {
		if !rl.Allow("127.0.0.1") {
			t.Errorf("request %d: should be allowed (within burst of 3)", i)
		}
	}
	if rl.Allow("127.0.0.1") {
		t.Error("4th request: should be denied (burst of 3 exhausted)")
	}
}

func TestIPRateLimiter_SeparateBucketsPerIP(t *testing.T) {
	t.Parallel()
	rl := newIPRateLimiter(rate.Limit(1), 1, time.Minute)
	if !rl.Allow("1.2.3.4") {
		t.Error("1.2.3.4 first request should be allowed")
	}
	if rl.Allow("1.2.3.4") {
		t.Error("1.2.3.4 second request should be denied")
	}
	if !rl.Allow("5.6.7.8") {
		t.Error("5.6.7.8 first request should be allowed (independent bucket)")
	}
}

func newRateLimitedServer(t *testing.T, burst int) *httptest.Server {
	t.Helper()
	srv := &Server{ //nolint:exhaustruct // test: only rateLimiter needed
		rateLimiter: newIPRateLimiter(rate.Limit(100), burst, time.Minute),
	}
	handler := srv.mutationRateLimit()(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)
	return ts
}

func TestMutationRateLimit_Returns429AfterBurst(t *testing.T) {
	t.Parallel()
	ts := newRateLimitedServer(t, 2)

	ctx := context.Background()
	for i := 1; i <= 3; i++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, ts.URL, nil)
		if err != nil {
			t.Fatalf("request %d: new request: %v", i, err)
		}
		resp, err := ts.Client().Do(req)
		if err != nil {
			t.Fatalf("request %d: %v", i, err)
		}
		resp.Body.Close() //nolint:errcheck
		wantStatus := http.StatusOK
		if i > 2 {
			wantStatus = http.StatusTooManyRequests
		}
		if resp.StatusCode != wantStatus {
			t.Errorf("request %d: got status %d, want %d", i, resp.StatusCode, wantStatus)
		}
	}
}

func TestMutationRateLimit_SkipsReads(t *testing.T) {
	t.Parallel()
	ts := newRateLimitedServer(t, 1)

	ctx := context.Background()
	// Reads poll frequently (job status) and are never limited.
	for i := 1; i <= 5; i++ {
		req, _ := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL, nil)
		resp, err := ts.Client().Do(req)
		if err != nil {
			t.Fatalf("request %d: %v", i, err)
		}
		resp.Body.Close() //nolint:errcheck
		if resp.StatusCode != http.StatusOK {
			t.Errorf("GET %d: got status %d, want 200", i, resp.StatusCode)
		}
	}
}

func TestMutationRateLimit_RetryAfterHeader(t *testing.T) {
	t.Parallel()
	ts := newRateLimitedServer(t, 1)

	ctx := context.Background()
	// First request: allowed (burst=1).
	req, _ := http.NewRequestWithContext(ctx, http.MethodPost, ts.URL, nil)
	resp, err := ts.Client().Do(req)
	if err != nil {
		t.Fatalf("first request: %v", err)
	}
	resp.Body.Close() //nolint:errcheck

	// Second request: rate limited, must include Retry-After.
	req2, _ := http.NewRequestWithContext(ctx, http.MethodPost, ts.URL, nil)
	resp2, err := ts.Client().Do(req2)
	if err != nil {
		t.Fatalf("second request: %v", err)
	}
	resp2.Body.Close() //nolint:errcheck

	if resp2.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("second request: got status %d, want 429", resp2.StatusCode)
	}
	if ra := resp2.Header.Get("Retry-After"); ra == "" {
		t.Error("rate-limited response missing Retry-After header")
	}
}
