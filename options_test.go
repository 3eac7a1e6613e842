package resilix

import (
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestWithMaxRetries(t *testing.T) {
	client := New(WithMaxRetries(5))

	if client.retry.MaxRetries != 5 {
		t.Errorf("Expected maxRetries=5, got %d", client.retry.MaxRetries)
	}
}

func TestWithBackoffOptions(t *testing.T) {
	client := New(
		WithInitialBackoff(200*time.Millisecond),
		WithMaxBackoff(30*time.Second),
		WithBackoffMultiplier(3.0),
	)

	if client.retry.InitialBackoff != 200*time.Millisecond {
		t.Errorf("Expected initialBackoff=200ms, got %v", client.retry.InitialBackoff)
	}
	if client.retry.MaxBackoff != 30*time.Second {
		t.Errorf("Expected maxBackoff=30s, got %v", client.retry.MaxBackoff)
	}
	if client.retry.Multiplier != 3.0 {
		t.Errorf("Expected multiplier=3.0, got %v", client.retry.Multiplier)
	}
}

func TestWithJitterClamps(t *testing.T) {
	tests := []struct {
		input    float64
		expected float64
	}{
		{0.1, 0.1},
		{0.5, 0.5},
		{1.0, 1.0},
		{-0.1, 0.0},
		{1.5, 1.0},
	}

	for _, tt := range tests {
		client := New(WithJitter(tt.input))
		if client.retry.Jitter != tt.expected {
			t.Errorf("WithJitter(%v) = %v, expected %v", tt.input, client.retry.Jitter, tt.expected)
		}
	}
}

func TestWithTimeout(t *testing.T) {
	client := New(WithTimeout(45 * time.Second))

	if client.timeout != 45*time.Second {
		t.Errorf("Expected timeout=45s, got %v", client.timeout)
	}
}

func TestWithCache(t *testing.T) {
	client := New(WithCache(10 * time.Minute))

	if client.cache == nil {
		t.Fatal("Expected cache to be set")
	}
	if _, ok := client.cache.(*InMemoryCache); !ok {
		t.Error("Expected InMemoryCache implementation")
	}
	if client.cacheTTL != 10*time.Minute {
		t.Errorf("Expected cacheTTL=10m, got %v", client.cacheTTL)
	}
}

func TestWithCustomCache(t *testing.T) {
	customCache := NewInMemoryCache()
	client := New(WithCustomCache(customCache, 15*time.Minute))

	if client.cache != customCache {
		t.Error("Expected custom cache to be set")
	}
	if client.cacheTTL != 15*time.Minute {
		t.Errorf("Expected cacheTTL=15m, got %v", client.cacheTTL)
	}
}

func TestWithCacheKeyFunc(t *testing.T) {
	client := New(WithCacheKeyFunc(func(req *http.Request) string {
		return "custom-key"
	}))

	req, _ := http.NewRequest("GET", "https://example.com", nil)
	if key := client.cacheKeyFunc(req); key != "custom-key" {
		t.Errorf("Expected 'custom-key', got %q", key)
	}
}

func TestWithCacheCondition(t *testing.T) {
	client := New(WithCacheCondition(func(req *http.Request) bool {
		return req.Method == "POST"
	}))

	getReq, _ := http.NewRequest("GET", "https://example.com", nil)
	postReq, _ := http.NewRequest("POST", "https://example.com", nil)

	if client.cacheCondition(getReq) {
		t.Error("Expected custom condition to reject GET")
	}
	if !client.cacheCondition(postReq) {
		t.Error("Expected custom condition to accept POST")
	}
}

func TestWithCacheTTLFromHeaders(t *testing.T) {
	client := New(WithCache(time.Minute), WithCacheTTLFromHeaders())

	if !client.cacheTTLFromHeaders {
		t.Error("Expected header-derived TTLs to be enabled")
	}
}

func TestWithCircuitBreaker(t *testing.T) {
	client := New(WithCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 3,
		Cooldown:         45 * time.Second,
	}))

	if client.breakerConfig.FailureThreshold != 3 {
		t.Errorf("Expected FailureThreshold=3, got %d", client.breakerConfig.FailureThreshold)
	}
	if client.breakerConfig.Cooldown != 45*time.Second {
		t.Errorf("Expected Cooldown=45s, got %v", client.breakerConfig.Cooldown)
	}
}

func TestWithBreakerKeyFunc(t *testing.T) {
	client := New(WithBreakerKeyFunc(RouteKeyFunc))

	req, _ := http.NewRequest("GET", "https://example.com/v1/quotes", nil)
	if key := client.breakerKeyFunc(req); key != "route:GET:/v1/quotes" {
		t.Errorf("Expected route key, got %q", key)
	}
}

func TestWithRateLimiter(t *testing.T) {
	client := New(WithRateLimiter(100, time.Minute))

	if client.rateLimiter == nil {
		t.Fatal("Expected rate limiter to be set")
	}
	if client.rateLimiter.maxTokens != 100 {
		t.Errorf("Expected maxTokens=100, got %d", client.rateLimiter.maxTokens)
	}
	if client.rateLimiter.refillRate != time.Minute {
		t.Errorf("Expected refillRate=1m, got %v", client.rateLimiter.refillRate)
	}
}

func TestWithMiddleware(t *testing.T) {
	passthrough := func(req *http.Request, next RoundTripper) (*http.Response, error) {
		return next.RoundTrip(req)
	}

	client := New(WithMiddleware(passthrough, passthrough))
	if len(client.middleware) != 2 {
		t.Errorf("Expected 2 middleware functions, got %d", len(client.middleware))
	}

	// Repeated options append rather than replace.
	client = New(WithMiddleware(passthrough), WithMiddleware(passthrough))
	if len(client.middleware) != 2 {
		t.Errorf("Expected appended middleware, got %d", len(client.middleware))
	}
}

func TestWithHTTPClient(t *testing.T) {
	custom := &http.Client{Timeout: time.Minute}
	client := New(WithHTTPClient(custom))

	if client.httpClient != custom {
		t.Error("Expected custom HTTP client to be set")
	}
}

func TestWithUserAgent(t *testing.T) {
	client := New(WithUserAgent("quotefetch/2.0"))

	if client.userAgent != "quotefetch/2.0" {
		t.Errorf("Expected custom user agent, got %q", client.userAgent)
	}
}

func TestWithMetricsCollector(t *testing.T) {
	collector := NewMetricsCollectorWithRegistry(prometheus.NewRegistry())
	client := New(WithMetricsCollector(collector))

	if client.metrics != collector {
		t.Error("Expected custom metrics collector to be set")
	}
}

func TestWithDebugOptions(t *testing.T) {
	client := New(WithDebug(), WithLogger(NewSimpleLogger()))
	if client.debug == nil || !client.debug.Enabled {
		t.Error("Expected WithDebug to enable debug logging")
	}

	client = New(WithSimpleLogger())
	if client.logger == nil {
		t.Error("Expected WithSimpleLogger to install a logger")
	}
	if client.debug == nil || !client.debug.Enabled {
		t.Error("Expected WithSimpleLogger to enable debug logging")
	}

	gen := func() string { return "fixed-id" }
	client = New(WithSimpleLogger(), WithRequestIDGenerator(gen))
	if client.debug.RequestIDGen() != "fixed-id" {
		t.Error("Expected custom request ID generator")
	}

	custom := &DebugConfig{Enabled: true, LogRetries: true, RequestIDGen: gen}
	client = New(WithDebugConfig(custom), WithLogger(NewSimpleLogger()))
	if client.debug != custom {
		t.Error("Expected WithDebugConfig to replace the debug configuration")
	}
}

func TestWithDeduplicationOptions(t *testing.T) {
	client := New(WithDeduplication())
	if client.deduplication == nil {
		t.Fatal("Expected deduplication tracker to be set")
	}

	client = New(
		WithDeduplication(),
		WithDeduplicationKeyFunc(func(req *http.Request) string { return "k" }),
		WithDeduplicationCondition(func(req *http.Request) bool { return false }),
	)
	req, _ := http.NewRequest("GET", "https://example.com", nil)
	if client.dedupKeyFunc(req) != "k" {
		t.Error("Expected custom deduplication key function")
	}
	if client.dedupCondition(req) {
		t.Error("Expected custom deduplication condition")
	}
}

func TestDefaultValuesWithoutOptions(t *testing.T) {
	client := New()

	if client.retry.MaxRetries != DefaultMaxRetries {
		t.Errorf("Expected default maxRetries=%d, got %d", DefaultMaxRetries, client.retry.MaxRetries)
	}
	if client.retry.InitialBackoff != DefaultInitialBackoff {
		t.Errorf("Expected default initialBackoff=%v, got %v", DefaultInitialBackoff, client.retry.InitialBackoff)
	}
	if client.retry.MaxBackoff != DefaultMaxBackoff {
		t.Errorf("Expected default maxBackoff=%v, got %v", DefaultMaxBackoff, client.retry.MaxBackoff)
	}
	if client.retry.Multiplier != DefaultBackoffMultiplier {
		t.Errorf("Expected default multiplier=%v, got %v", DefaultBackoffMultiplier, client.retry.Multiplier)
	}
	if client.retry.Jitter != DefaultJitter {
		t.Errorf("Expected default jitter=%v, got %v", DefaultJitter, client.retry.Jitter)
	}
	if client.timeout != DefaultTimeout {
		t.Errorf("Expected default timeout=%v, got %v", DefaultTimeout, client.timeout)
	}
	if client.breakerConfig.FailureThreshold != DefaultFailureThreshold {
		t.Errorf("Expected default failure threshold=%d, got %d", DefaultFailureThreshold, client.breakerConfig.FailureThreshold)
	}
	if client.breakerConfig.Cooldown != DefaultCooldown {
		t.Errorf("Expected default cooldown=%v, got %v", DefaultCooldown, client.breakerConfig.Cooldown)
	}
	if client.userAgent != UserAgent() {
		t.Errorf("Expected default user agent %q, got %q", UserAgent(), client.userAgent)
	}
	if client.cache != nil {
		t.Error("Expected no cache by default")
	}
	if client.rateLimiter != nil {
		t.Error("Expected no rate limiter by default")
	}
	if client.metrics != nil {
		t.Error("Expected no metrics collector by default")
	}
	if client.deduplication != nil {
		t.Error("Expected no deduplication by default")
	}
	if len(client.middleware) != 0 {
		t.Errorf("Expected no middleware by default, got %d", len(client.middleware))
	}
	if client.breakers == nil {
		t.Error("Expected breaker registry to be initialized")
	}
	if !client.IsValid() {
		t.Errorf("Expected default configuration to validate, got %v", client.ValidationError())
	}
}

func TestValidateConfiguration(t *testing.T) {
	tests := []struct {
		name    string
		opts    []Option
		errPart string
	}{
		{"negative retries", []Option{WithMaxRetries(-1)}, "maxRetries must be non-negative"},
		{"zero initial backoff", []Option{WithInitialBackoff(0)}, "initialBackoff must be positive"},
		{"max below initial", []Option{WithMaxBackoff(time.Millisecond)}, "maxBackoff must be greater than or equal to initialBackoff"},
		{"zero multiplier", []Option{WithBackoffMultiplier(0)}, "backoffMultiplier must be positive"},
		{"zero timeout", []Option{WithTimeout(0)}, "timeout must be positive"},
		{"cache without TTL", []Option{WithCustomCache(NewInMemoryCache(), 0)}, "cacheTTL must be positive"},
		{"header TTLs without cache", []Option{WithCacheTTLFromHeaders()}, "cache TTL from headers requires a cache"},
		{"negative failure threshold", []Option{WithCircuitBreaker(CircuitBreakerConfig{FailureThreshold: -1})}, "FailureThreshold must be non-negative"},
		{"nil middleware", []Option{WithMiddleware(nil)}, "middleware[0] cannot be nil"},
		{"nil http client", []Option{WithHTTPClient(nil)}, "HTTP client cannot be nil"},
		{"debug without logger", []Option{WithDebugConfig(&DebugConfig{Enabled: true, RequestIDGen: DefaultRequestIDGenerator})}, "logger must be set when debug is enabled"},
		{"excessive retries", []Option{WithMaxRetries(101)}, "maxRetries > 100"},
		{"excessive cache TTL", []Option{WithCache(25 * time.Hour)}, "cacheTTL > 24h"},
		{"excessive rate limiter tokens", []Option{WithRateLimiter(2000000, time.Second)}, "maxTokens > 1M"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := New(tt.opts...)
			if client.IsValid() {
				t.Fatal("Expected configuration to be invalid")
			}
			err := client.ValidationError()
			if err == nil {
				t.Fatal("Expected a validation error")
			}
			if !strings.Contains(err.Error(), tt.errPart) {
				t.Errorf("Expected error to mention %q, got %q", tt.errPart, err.Error())
			}
		})
	}
}

func TestValidationErrorNilWhenValid(t *testing.T) {
	client := New(WithCache(time.Minute), WithRateLimiter(10, time.Second))

	if !client.IsValid() {
		t.Fatalf("Expected valid configuration, got %v", client.ValidationError())
	}
	if client.ValidationError() != nil {
		t.Errorf("Expected nil validation error, got %v", client.ValidationError())
	}
}
