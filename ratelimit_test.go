package resilix

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestRateLimiterBurst(t *testing.T) {
	limiter := NewRateLimiter(3, time.Minute)

	for i := 0; i < 3; i++ {
		if !limiter.Allow() {
			t.Errorf("Expected call %d to be allowed", i+1)
		}
	}
	if limiter.Allow() {
		t.Error("Expected 4th call to be rejected")
	}
	if limiter.Tokens() != 0 {
		t.Errorf("Expected 0 tokens after burst, got %d", limiter.Tokens())
	}
}

func TestRateLimiterStartsFull(t *testing.T) {
	limiter := NewRateLimiter(10, time.Second)

	if limiter.Tokens() != 10 {
		t.Errorf("Expected full bucket, got %d tokens", limiter.Tokens())
	}
}

func TestRateLimiterRefill(t *testing.T) {
	limiter := NewRateLimiter(1, 20*time.Millisecond)

	if !limiter.Allow() {
		t.Fatal("Expected first call to be allowed")
	}
	if limiter.Allow() {
		t.Fatal("Expected bucket to be empty")
	}

	time.Sleep(30 * time.Millisecond)
	if !limiter.Allow() {
		t.Error("Expected a token after the refill interval")
	}
}

func TestRateLimiterRefillCapsAtMax(t *testing.T) {
	limiter := NewRateLimiter(2, 10*time.Millisecond)

	limiter.Allow()
	limiter.Allow()

	// Many intervals pass, but the bucket never exceeds its size.
	time.Sleep(100 * time.Millisecond)
	if !limiter.Allow() {
		t.Error("Expected first refilled token")
	}
	if !limiter.Allow() {
		t.Error("Expected second refilled token")
	}
	if limiter.Allow() {
		t.Error("Expected bucket capped at 2 tokens")
	}
}

func TestRateLimiterConcurrent(t *testing.T) {
	const bucket = 50
	limiter := NewRateLimiter(bucket, time.Hour)

	var allowed int32
	var wg sync.WaitGroup
	for i := 0; i < 2*bucket; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if limiter.Allow() {
				atomic.AddInt32(&allowed, 1)
			}
		}()
	}
	wg.Wait()

	if got := atomic.LoadInt32(&allowed); got != bucket {
		t.Errorf("Expected exactly %d calls allowed, got %d", bucket, got)
	}
}

func TestClientRateLimited(t *testing.T) {
	var callCount int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&callCount, 1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := New(WithRateLimiter(1, time.Hour))

	if _, err := client.Get(context.Background(), server.URL); err != nil {
		t.Fatalf("Expected first request to pass, got %v", err)
	}

	resp, err := client.Get(context.Background(), server.URL)
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("Expected ErrRateLimited, got %v", err)
	}
	if resp != nil {
		t.Errorf("Expected nil response on rejection, got %v", resp)
	}
	if got := atomic.LoadInt32(&callCount); got != 1 {
		t.Errorf("Expected 1 server hit, got %d", got)
	}

	// A local rejection says nothing about endpoint health, so the breaker
	// records no failure.
	for _, status := range client.BreakerStatuses() {
		if status.State != StateClosed {
			t.Errorf("Expected breaker closed, got %v", status.State)
		}
		if status.Failures != 0 {
			t.Errorf("Expected 0 breaker failures, got %d", status.Failures)
		}
	}
}
