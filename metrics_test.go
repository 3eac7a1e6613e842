package resilix

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func newTestCollector() *MetricsCollector {
	return NewMetricsCollectorWithRegistry(prometheus.NewRegistry())
}

func TestNewMetricsCollectorWithRegistry(t *testing.T) {
	registry := prometheus.NewRegistry()
	collector := NewMetricsCollectorWithRegistry(registry)

	if collector == nil {
		t.Fatal("NewMetricsCollectorWithRegistry() returned nil")
	}
	if collector.requestsTotal == nil {
		t.Error("requestsTotal metric not initialized")
	}
	if collector.requestDuration == nil {
		t.Error("requestDuration metric not initialized")
	}
	if collector.requestsInFlight == nil {
		t.Error("requestsInFlight metric not initialized")
	}
	if collector.retriesTotal == nil {
		t.Error("retriesTotal metric not initialized")
	}
	if collector.circuitBreakerState == nil {
		t.Error("circuitBreakerState metric not initialized")
	}
	if collector.circuitBreakerTransitions == nil {
		t.Error("circuitBreakerTransitions metric not initialized")
	}
	if collector.rateLimiterTokens == nil {
		t.Error("rateLimiterTokens metric not initialized")
	}
	if collector.cacheHits == nil {
		t.Error("cacheHits metric not initialized")
	}
	if collector.cacheMisses == nil {
		t.Error("cacheMisses metric not initialized")
	}
	if collector.cacheSize == nil {
		t.Error("cacheSize metric not initialized")
	}
	if collector.cacheErrors == nil {
		t.Error("cacheErrors metric not initialized")
	}
	if collector.deduplicationHits == nil {
		t.Error("deduplicationHits metric not initialized")
	}
	if collector.retryBudgetExceeded == nil {
		t.Error("retryBudgetExceeded metric not initialized")
	}
	if collector.errorsTotal == nil {
		t.Error("errorsTotal metric not initialized")
	}
	if collector.GetRegistry() != registry {
		t.Error("GetRegistry() returned wrong registry")
	}
}

func TestRecordRequest(t *testing.T) {
	collector := newTestCollector()

	collector.RecordRequest("GET", "example.com/api", 200, 150*time.Millisecond)
	collector.RecordRequest("GET", "example.com/api", 200, 50*time.Millisecond)
	collector.RecordRequest("GET", "example.com/api", 500, time.Millisecond)

	if got := testutil.ToFloat64(collector.requestsTotal.WithLabelValues("GET", "200", "example.com/api")); got != 2 {
		t.Errorf("Expected 2 successful requests recorded, got %f", got)
	}
	if got := testutil.ToFloat64(collector.requestsTotal.WithLabelValues("GET", "500", "example.com/api")); got != 1 {
		t.Errorf("Expected 1 failed request recorded, got %f", got)
	}
}

func TestRecordRequestInFlight(t *testing.T) {
	collector := newTestCollector()

	collector.RecordRequestStart("GET", "example.com/api")
	collector.RecordRequestStart("GET", "example.com/api")
	collector.RecordRequestEnd("GET", "example.com/api")

	if got := testutil.ToFloat64(collector.requestsInFlight.WithLabelValues("GET", "example.com/api")); got != 1 {
		t.Errorf("Expected 1 request in flight, got %f", got)
	}
}

func TestRecordRetry(t *testing.T) {
	collector := newTestCollector()

	collector.RecordRetry("GET", "example.com/api", 1)
	collector.RecordRetry("GET", "example.com/api", 1)
	collector.RecordRetry("GET", "example.com/api", 2)

	if got := testutil.ToFloat64(collector.retriesTotal.WithLabelValues("GET", "example.com/api", "1")); got != 2 {
		t.Errorf("Expected 2 first retries, got %f", got)
	}
	if got := testutil.ToFloat64(collector.retriesTotal.WithLabelValues("GET", "example.com/api", "2")); got != 1 {
		t.Errorf("Expected 1 second retry, got %f", got)
	}
}

func TestRecordCircuitBreakerState(t *testing.T) {
	collector := newTestCollector()

	tests := []struct {
		state CircuitState
		want  float64
	}{
		{StateClosed, 0},
		{StateOpen, 1},
		{StateHalfOpen, 2},
	}
	for _, tt := range tests {
		collector.RecordCircuitBreakerState("host:example.com", tt.state)
		if got := testutil.ToFloat64(collector.circuitBreakerState.WithLabelValues("host:example.com")); got != tt.want {
			t.Errorf("Expected state gauge %f for %v, got %f", tt.want, tt.state, got)
		}
	}
}

func TestRecordCircuitBreakerTransition(t *testing.T) {
	collector := newTestCollector()

	collector.RecordCircuitBreakerTransition("host:example.com", StateClosed, StateOpen)

	if got := testutil.ToFloat64(collector.circuitBreakerTransitions.WithLabelValues("host:example.com", "closed", "open")); got != 1 {
		t.Errorf("Expected 1 transition recorded, got %f", got)
	}
	// The transition also moves the state gauge to the new state.
	if got := testutil.ToFloat64(collector.circuitBreakerState.WithLabelValues("host:example.com")); got != 1 {
		t.Errorf("Expected state gauge 1 after opening, got %f", got)
	}
}

func TestRecordRateLimiterTokens(t *testing.T) {
	collector := newTestCollector()

	collector.RecordRateLimiterTokens("default", 50)
	if got := testutil.ToFloat64(collector.rateLimiterTokens.WithLabelValues("default")); got != 50 {
		t.Errorf("Expected 50 tokens, got %f", got)
	}
}

func TestRecordCacheMetrics(t *testing.T) {
	collector := newTestCollector()

	collector.RecordCacheHit("GET", "example.com/api")
	collector.RecordCacheMiss("GET", "example.com/api")
	collector.RecordCacheMiss("GET", "example.com/api")
	collector.RecordCacheSize("default", 25)
	collector.RecordCacheError("get")

	if got := testutil.ToFloat64(collector.cacheHits.WithLabelValues("GET", "example.com/api")); got != 1 {
		t.Errorf("Expected 1 cache hit, got %f", got)
	}
	if got := testutil.ToFloat64(collector.cacheMisses.WithLabelValues("GET", "example.com/api")); got != 2 {
		t.Errorf("Expected 2 cache misses, got %f", got)
	}
	if got := testutil.ToFloat64(collector.cacheSize.WithLabelValues("default")); got != 25 {
		t.Errorf("Expected cache size 25, got %f", got)
	}
	if got := testutil.ToFloat64(collector.cacheErrors.WithLabelValues("get")); got != 1 {
		t.Errorf("Expected 1 cache error, got %f", got)
	}
}

func TestRecordDeduplicationHit(t *testing.T) {
	collector := newTestCollector()

	collector.RecordDeduplicationHit("GET", "example.com/api")
	if got := testutil.ToFloat64(collector.deduplicationHits.WithLabelValues("GET", "example.com/api")); got != 1 {
		t.Errorf("Expected 1 deduplication hit, got %f", got)
	}
}

func TestRecordRetryBudgetExceededUsesHostLabel(t *testing.T) {
	collector := newTestCollector()

	collector.RecordRetryBudgetExceeded("example.com/api/v1")
	collector.RecordRetryBudgetExceeded("example.com")

	if got := testutil.ToFloat64(collector.retryBudgetExceeded.WithLabelValues("example.com")); got != 2 {
		t.Errorf("Expected both endpoints collapsed to host label, got %f", got)
	}
}

func TestRecordError(t *testing.T) {
	collector := newTestCollector()

	for _, errorType := range []string{"Network", "HTTP", "Timeout", "CircuitOpen", "RateLimit", "Cache", "Other"} {
		collector.RecordError(errorType, "GET", "example.com/api")
	}

	if got := testutil.ToFloat64(collector.errorsTotal.WithLabelValues("Network", "GET", "example.com/api")); got != 1 {
		t.Errorf("Expected 1 network error, got %f", got)
	}
}

func TestMetricsCollectorNilReceiver(t *testing.T) {
	var collector *MetricsCollector

	// None of these may panic on a nil collector.
	collector.RecordRequest("GET", "test", 200, time.Second)
	collector.RecordRequestStart("GET", "test")
	collector.RecordRequestEnd("GET", "test")
	collector.RecordRetry("GET", "test", 1)
	collector.RecordCircuitBreakerState("test", StateClosed)
	collector.RecordCircuitBreakerTransition("test", StateClosed, StateOpen)
	collector.RecordRateLimiterTokens("test", 10)
	collector.RecordCacheHit("GET", "test")
	collector.RecordCacheMiss("GET", "test")
	collector.RecordCacheSize("test", 5)
	collector.RecordCacheError("get")
	collector.RecordError("test", "GET", "test")
	collector.RecordDeduplicationHit("GET", "test")
	collector.RecordRetryBudgetExceeded("test")

	if collector.GetRegistry() != nil {
		t.Error("Expected nil registry from nil collector")
	}
}

func TestClientRecordsRequestMetrics(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	collector := newTestCollector()
	client := New(
		WithMetricsCollector(collector),
		WithCache(time.Minute),
	)

	if _, err := client.Get(context.Background(), server.URL); err != nil {
		t.Fatal(err)
	}
	if _, err := client.Get(context.Background(), server.URL); err != nil {
		t.Fatal(err)
	}

	req, _ := http.NewRequest("GET", server.URL, nil)
	endpoint := getEndpointFromRequest(req)

	// Both logical calls are counted even though the second never left the
	// cache.
	if got := testutil.ToFloat64(collector.requestsTotal.WithLabelValues("GET", "200", endpoint)); got != 2 {
		t.Errorf("Expected 2 requests recorded, got %f", got)
	}
	if got := testutil.ToFloat64(collector.cacheMisses.WithLabelValues("GET", endpoint)); got != 1 {
		t.Errorf("Expected 1 cache miss, got %f", got)
	}
	if got := testutil.ToFloat64(collector.cacheHits.WithLabelValues("GET", endpoint)); got != 1 {
		t.Errorf("Expected 1 cache hit, got %f", got)
	}
	if got := testutil.ToFloat64(collector.requestsInFlight.WithLabelValues("GET", endpoint)); got != 0 {
		t.Errorf("Expected 0 requests in flight after completion, got %f", got)
	}
}

func TestClientRecordsRetryAndErrorMetrics(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	collector := newTestCollector()
	opts := append(fastRetries(),
		WithMetricsCollector(collector),
		WithMaxRetries(2),
	)
	client := New(opts...)

	if _, err := client.Get(context.Background(), server.URL); err == nil {
		t.Fatal("Expected error from failing server")
	}

	req, _ := http.NewRequest("GET", server.URL, nil)
	endpoint := getEndpointFromRequest(req)

	if got := testutil.ToFloat64(collector.retriesTotal.WithLabelValues("GET", endpoint, "1")); got != 1 {
		t.Errorf("Expected retry attempt 1 recorded once, got %f", got)
	}
	if got := testutil.ToFloat64(collector.retriesTotal.WithLabelValues("GET", endpoint, "2")); got != 1 {
		t.Errorf("Expected retry attempt 2 recorded once, got %f", got)
	}
	if got := testutil.ToFloat64(collector.errorsTotal.WithLabelValues("HTTP", "GET", endpoint)); got != 1 {
		t.Errorf("Expected 1 HTTP error recorded, got %f", got)
	}
	if got := testutil.ToFloat64(collector.requestsTotal.WithLabelValues("GET", "500", endpoint)); got != 1 {
		t.Errorf("Expected request recorded with final status 500, got %f", got)
	}
}

func TestClientRecordsBreakerTransitionMetrics(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	collector := newTestCollector()
	client := New(
		WithMetricsCollector(collector),
		WithMaxRetries(0),
		WithCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 1, Cooldown: time.Minute}),
	)

	if _, err := client.Get(context.Background(), server.URL); err == nil {
		t.Fatal("Expected error from failing server")
	}

	req, _ := http.NewRequest("GET", server.URL, nil)
	endpoint := "host:" + req.URL.Host

	if got := testutil.ToFloat64(collector.circuitBreakerTransitions.WithLabelValues(endpoint, "closed", "open")); got != 1 {
		t.Errorf("Expected 1 closed to open transition, got %f", got)
	}
	if got := testutil.ToFloat64(collector.circuitBreakerState.WithLabelValues(endpoint)); got != 1 {
		t.Errorf("Expected state gauge 1 (open), got %f", got)
	}
}
