package resilix

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"
)

// Client is a resilient HTTP client that layers retries, per-endpoint
// circuit breaking, response caching, rate limiting, de-duplication,
// middleware and metrics around the standard net/http Client. It is safe
// for concurrent use.
type Client struct {
	httpClient *http.Client
	timeout    time.Duration
	userAgent  string

	retry          RetryConfig
	retryCondition RetryCondition
	retryPolicy    RetryPolicy
	retryBudget    *RetryBudget

	breakerConfig  CircuitBreakerConfig
	breakerKeyFunc BreakerKeyFunc
	breakers       *BreakerRegistry

	middleware  []Middleware
	rateLimiter *RateLimiter

	cache               Cache
	cacheTTL            time.Duration
	cacheKeyFunc        CacheKeyFunc
	cacheCondition      CacheCondition
	cacheTTLFromHeaders bool

	deduplication  *DeduplicationTracker
	dedupKeyFunc   DeduplicationKeyFunc
	dedupCondition DeduplicationCondition

	metrics *MetricsCollector
	debug   *DebugConfig
	logger  Logger

	exec *executor

	validationError error
}

// New constructs a Client using the provided functional options. A best
// effort validation is performed; call IsValid / ValidationError for errors.
func New(options ...Option) *Client {
	client := &Client{
		httpClient: &http.Client{},
		timeout:    DefaultTimeout,
		userAgent:  UserAgent(),
		retry: RetryConfig{
			MaxRetries:     DefaultMaxRetries,
			InitialBackoff: DefaultInitialBackoff,
			MaxBackoff:     DefaultMaxBackoff,
			Multiplier:     DefaultBackoffMultiplier,
			Jitter:         DefaultJitter,
		},
		retryCondition: DefaultRetryCondition,
		breakerConfig: CircuitBreakerConfig{
			FailureThreshold: DefaultFailureThreshold,
			Cooldown:         DefaultCooldown,
		},
		breakerKeyFunc: HostKeyFunc,
		middleware:     []Middleware{},
		cacheTTL:       DefaultCacheTTL,
		cacheKeyFunc:   DefaultCacheKeyFunc,
		cacheCondition: DefaultCacheCondition,
		debug:          DefaultDebugConfig(),
		dedupKeyFunc:   DefaultDeduplicationKeyFunc,
		dedupCondition: DefaultDeduplicationCondition,
	}

	for _, option := range options {
		option(client)
	}

	if client.retryPolicy == nil {
		client.retryPolicy = NewDefaultRetryPolicy(client.retry, client.retryCondition)
	}

	client.breakers = NewBreakerRegistry(client.breakerConfig, client.breakerKeyFunc)
	client.breakers.onStateChange = func(endpoint string, from, to CircuitState) {
		client.metrics.RecordCircuitBreakerTransition(endpoint, from, to)
		if client.debug != nil && client.debug.Enabled && client.debug.LogCircuit && client.logger != nil {
			client.logger.Info("Circuit state changed", "endpoint", endpoint, "from", from.String(), "to", to.String())
		}
	}

	client.exec = &executor{
		client:     client.httpClient,
		middleware: client.middleware,
		timeout:    client.timeout,
		userAgent:  client.userAgent,
	}

	if err := client.ValidateConfiguration(); err != nil {
		client.validationError = err
	}

	return client
}

// Get performs an HTTP GET with context.
func (c *Client) Get(ctx context.Context, url string) (*Response, error) {
	return c.Do(ctx, NewRequest(http.MethodGet, url, nil))
}

// GetJSON performs a GET and decodes the response body into v.
func (c *Client) GetJSON(ctx context.Context, url string, v interface{}) error {
	resp, err := c.Get(ctx, url)
	if err != nil {
		return err
	}
	return resp.JSON(v)
}

// Post performs an HTTP POST with the given content type. The body is a
// byte slice so it can be replayed if a custom policy retries it.
func (c *Client) Post(ctx context.Context, url, contentType string, body []byte) (*Response, error) {
	req := NewRequest(http.MethodPost, url, body)
	req.Header.Set("Content-Type", contentType)
	return c.Do(ctx, req)
}

// Do executes a request descriptor applying all reliability features: cache
// lookup, circuit breaker gate, retry loop, cache write-through. The circuit
// breaker records exactly one outcome per call to Do, regardless of how many
// attempts the retry loop made.
func (c *Client) Do(ctx context.Context, r Request) (resp *Response, err error) {
	start := time.Now()

	proto, perr := c.protoRequest(ctx, r)
	if perr != nil {
		return nil, perr
	}
	endpoint := getEndpointFromRequest(proto)

	var requestID string
	if c.debug != nil && c.debug.Enabled && c.debug.RequestIDGen != nil {
		requestID = c.debug.RequestIDGen()
	}

	if c.debug != nil && c.debug.Enabled && c.debug.LogRequests && c.logger != nil {
		c.logger.Debug("Starting request", "requestID", requestID, "method", r.Method, "url", r.URL, "endpoint", endpoint)
	}

	c.metrics.RecordRequestStart(r.Method, endpoint)
	defer func() {
		c.metrics.RecordRequestEnd(r.Method, endpoint)
		statusCode := 0
		if resp != nil {
			statusCode = resp.StatusCode
		}
		c.metrics.RecordRequest(r.Method, endpoint, statusCode, time.Since(start))
		if err != nil {
			c.metrics.RecordError(errorTypeLabel(err), r.Method, endpoint)
		}
	}()

	dedupEnabled := c.deduplication != nil && c.dedupCondition(proto)
	if dedupEnabled {
		dedupKey := c.dedupKeyFunc(proto)
		entry, owner := c.deduplication.GetOrCreateEntry(dedupKey)
		if !owner {
			if c.debug != nil && c.debug.Enabled && c.logger != nil {
				c.logger.Debug("Deduplication hit", "requestID", requestID, "dedupKey", dedupKey)
			}
			c.metrics.RecordDeduplicationHit(r.Method, endpoint)
			return entry.Wait(ctx)
		}
		// Owner: every exit path must complete the entry or waiters hang.
		defer func() {
			c.deduplication.Complete(dedupKey, resp, err)
		}()
	}

	cacheEnabled := c.shouldCacheRequest(proto)
	var cacheKey string
	if cacheEnabled {
		cacheKey = c.cacheKeyFunc(proto)
		if entry, found := c.cacheLookup(cacheKey, requestID); found {
			c.metrics.RecordCacheHit(r.Method, endpoint)
			return responseFromCache(entry), nil
		}
		c.metrics.RecordCacheMiss(r.Method, endpoint)
		if c.debug != nil && c.debug.Enabled && c.debug.LogCache && c.logger != nil {
			c.logger.Debug("Cache miss", "requestID", requestID, "cacheKey", cacheKey)
		}
	}

	cb := c.breakers.ForRequest(proto)
	allowed, trial := cb.Allow()
	if !allowed {
		if c.debug != nil && c.debug.Enabled && c.debug.LogCircuit && c.logger != nil {
			c.logger.Warn("Circuit breaker open", "requestID", requestID, "endpoint", endpoint, "state", cb.State().String())
		}
		return nil, ErrCircuitOpen
	}

	resp, err = c.doWithRetry(ctx, r, trial, requestID, endpoint)

	switch {
	case err == nil:
		cb.RecordSuccess()
	case ctx.Err() != nil:
		// The caller went away; that says nothing about endpoint health.
		if trial {
			cb.Release()
		}
	case errors.Is(err, ErrRateLimited):
		// Local rejection, no endpoint evidence.
		if trial {
			cb.Release()
		}
	default:
		cb.RecordFailure()
	}

	if cacheEnabled && err == nil && resp.IsSuccess() {
		c.cacheStore(cacheKey, proto, resp, requestID)
	}

	return resp, err
}

// doWithRetry runs the attempt loop. The breaker has already admitted the
// call; a half-open trial never retries, its first outcome decides the
// circuit.
func (c *Client) doWithRetry(ctx context.Context, r Request, trial bool, requestID, endpoint string) (*Response, error) {
	var resp *Response
	var err error

	for attempt := 0; ; attempt++ {
		if c.rateLimiter != nil {
			if !c.rateLimiter.Allow() {
				if c.debug != nil && c.debug.Enabled && c.debug.LogRateLimit && c.logger != nil {
					c.logger.Warn("Rate limit exceeded", "requestID", requestID, "endpoint", endpoint)
				}
				return resp, ErrRateLimited
			}
			c.metrics.RecordRateLimiterTokens("default", c.rateLimiter.Tokens())
		}

		if attempt > 0 {
			if c.debug != nil && c.debug.Enabled && c.debug.LogRetries && c.logger != nil {
				c.logger.Info("Retry attempt", "requestID", requestID, "attempt", attempt, "maxRetries", c.retry.MaxRetries, "endpoint", endpoint)
			}
			c.metrics.RecordRetry(r.Method, endpoint, attempt)
		}

		resp, err = c.exec.Do(ctx, r)
		if err == nil {
			return resp, nil
		}
		if ctx.Err() != nil {
			return resp, err
		}
		if trial {
			return resp, err
		}

		delay, retry := c.retryPolicy.ShouldRetry(r, resp, err, attempt)
		if !retry {
			return resp, err
		}

		if c.retryBudget != nil && !c.retryBudget.Allow() {
			c.metrics.RecordRetryBudgetExceeded(endpoint)
			if c.debug != nil && c.debug.Enabled && c.debug.LogRetries && c.logger != nil {
				c.logger.Warn("Retry budget exceeded", "requestID", requestID, "endpoint", endpoint)
			}
			return resp, err
		}

		if c.debug != nil && c.debug.Enabled && c.debug.LogRetries && c.logger != nil {
			c.logger.Info("Scheduling retry", "requestID", requestID, "attempt", attempt+1, "backoff", delay, "endpoint", endpoint)
		}

		select {
		case <-ctx.Done():
			return resp, ctx.Err()
		case <-time.After(delay):
		}
	}
}

// protoRequest builds the prototype *http.Request used by key functions and
// conditions. Attempts are executed from the descriptor, never from this
// request, so its body is never consumed.
func (c *Client) protoRequest(ctx context.Context, r Request) (*http.Request, error) {
	var body io.Reader
	if len(r.Body) > 0 {
		body = bytes.NewReader(r.Body)
	}
	proto, err := http.NewRequestWithContext(ctx, r.Method, r.URL, body)
	if err != nil {
		return nil, &ClientError{Type: ErrorTypeValidation, Message: "invalid request", Cause: err}
	}
	for key, values := range r.Header {
		for _, value := range values {
			proto.Header.Add(key, value)
		}
	}
	return proto, nil
}

func (c *Client) shouldCacheRequest(req *http.Request) bool {
	if c.cache == nil {
		return false
	}
	if cc, ok := cacheControlFrom(req.Context()); ok {
		return cc.Enabled
	}
	return c.cacheCondition(req)
}

// cacheLookup reads the cache, degrading backend errors to a miss.
func (c *Client) cacheLookup(cacheKey, requestID string) (*CacheEntry, bool) {
	entry, found, err := c.cache.Get(cacheKey)
	if err != nil {
		c.metrics.RecordCacheError("get")
		if c.debug != nil && c.debug.Enabled && c.debug.LogCache && c.logger != nil {
			c.logger.Warn("Cache read failed", "requestID", requestID, "cacheKey", cacheKey, "error", NewCacheError("get", err).Error())
		}
		return nil, false
	}
	if found && c.debug != nil && c.debug.Enabled && c.debug.LogCache && c.logger != nil {
		c.logger.Debug("Cache hit", "requestID", requestID, "cacheKey", cacheKey)
	}
	return entry, found
}

// cacheStore writes a successful response through to the cache. Failures
// are logged and counted, never surfaced.
func (c *Client) cacheStore(cacheKey string, proto *http.Request, resp *Response, requestID string) {
	ttl, ok := c.resolveCacheTTL(proto.Context(), resp.Header)
	if !ok || len(resp.Body) > maxCacheableBodySize {
		return
	}

	entry := &CacheEntry{
		StatusCode: resp.StatusCode,
		Header:     resp.Header.Clone(),
		Body:       resp.Body,
	}
	if err := c.cache.Set(cacheKey, entry, ttl); err != nil {
		c.metrics.RecordCacheError("set")
		if c.debug != nil && c.debug.Enabled && c.debug.LogCache && c.logger != nil {
			c.logger.Warn("Cache write failed", "requestID", requestID, "cacheKey", cacheKey, "error", NewCacheError("set", err).Error())
		}
		return
	}

	if mem, ok := c.cache.(*InMemoryCache); ok {
		if stats, err := mem.Stats(); err == nil {
			c.metrics.RecordCacheSize("default", stats.Entries)
		}
	}

	if c.debug != nil && c.debug.Enabled && c.debug.LogCache && c.logger != nil {
		c.logger.Debug("Response cached", "requestID", requestID, "cacheKey", cacheKey, "ttl", ttl)
	}
}

// resolveCacheTTL picks the entry TTL: per-request override first, then
// response headers when enabled, then the client default. The second return
// is false when the response must not be cached.
func (c *Client) resolveCacheTTL(ctx context.Context, header http.Header) (time.Duration, bool) {
	if cc, ok := cacheControlFrom(ctx); ok && cc.TTL > 0 {
		return cc.TTL, true
	}
	if c.cacheTTLFromHeaders {
		directives := parseCacheControl(header.Get("Cache-Control"))
		if directives.NoStore || directives.NoCache {
			return 0, false
		}
		if ttl, ok := headerTTL(header, time.Now()); ok {
			return ttl, true
		}
	}
	return c.cacheTTL, c.cacheTTL > 0
}

func responseFromCache(entry *CacheEntry) *Response {
	return &Response{
		StatusCode: entry.StatusCode,
		Status:     http.StatusText(entry.StatusCode),
		Header:     entry.Header.Clone(),
		Body:       entry.Body,
		FromCache:  true,
	}
}

// CacheStats reports the cache contents without evicting anything. A client
// without a cache reports zero stats.
func (c *Client) CacheStats() (CacheStats, error) {
	if c.cache == nil {
		return CacheStats{}, nil
	}
	stats, err := c.cache.Stats()
	if err != nil {
		return CacheStats{}, NewCacheError("stats", err)
	}
	return stats, nil
}

// ClearCache removes all entries when force is true, otherwise only expired
// ones. Returns the number of entries removed.
func (c *Client) ClearCache(force bool) (int, error) {
	if c.cache == nil {
		return 0, nil
	}
	removed, err := c.cache.Clear(force)
	if err != nil {
		return removed, NewCacheError("clear", err)
	}
	return removed, nil
}

// BreakerStatus snapshots the breaker for an endpoint key. The second
// return is false when no breaker exists for that key yet.
func (c *Client) BreakerStatus(key string) (BreakerStatus, bool) {
	return c.breakers.Status(key)
}

// BreakerStatuses snapshots every breaker, sorted by endpoint key.
func (c *Client) BreakerStatuses() []BreakerStatus {
	return c.breakers.Statuses()
}

// ResetBreaker forces the breaker for an endpoint key back to closed.
func (c *Client) ResetBreaker(key string) bool {
	return c.breakers.Reset(key)
}

// ResetAllBreakers forces every breaker back to closed and returns how many
// were reset.
func (c *Client) ResetAllBreakers() int {
	return c.breakers.ResetAll()
}

// IsValid reports whether configuration validation passed at construction.
func (c *Client) IsValid() bool {
	return c.validationError == nil
}

// ValidationError returns the configuration validation error, if any.
func (c *Client) ValidationError() error {
	return c.validationError
}

func errorTypeLabel(err error) string {
	switch {
	case errors.Is(err, ErrCircuitOpen):
		return "CircuitOpen"
	case errors.Is(err, ErrRateLimited):
		return "RateLimit"
	case IsTimeout(err):
		return "Timeout"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "Canceled"
	}

	var netErr *NetworkError
	if errors.As(err, &netErr) {
		return "Network"
	}
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return "HTTP"
	}
	var cacheErr *CacheError
	if errors.As(err, &cacheErr) {
		return "Cache"
	}
	return "Other"
}

func getEndpointFromRequest(req *http.Request) string {
	if req.URL == nil {
		return "unknown"
	}

	host := req.URL.Host
	path := req.URL.Path

	var builder strings.Builder
	builder.WriteString(host)
	if path != "" && path != "/" {
		builder.WriteString(path)
	} else {
		builder.WriteByte('/')
	}
	return builder.String()
}
