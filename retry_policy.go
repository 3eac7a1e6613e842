package resilix

import (
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/quotelab/resilix/internal/backoff"
)

// RetryConfig holds the retry loop parameters.
type RetryConfig struct {
	// MaxRetries is the number of retries after the first attempt, so the
	// total attempt count is MaxRetries+1.
	MaxRetries int
	// InitialBackoff is the delay before the first retry.
	InitialBackoff time.Duration
	// MaxBackoff caps the exponential growth.
	MaxBackoff time.Duration
	// Multiplier scales the delay between consecutive retries.
	Multiplier float64
	// Jitter is the fraction of random extra delay in [0, 1].
	Jitter float64
}

// RetryPolicy decides whether a failed attempt is retried and after how
// long. Attempt is zero-based: the first retry decision gets attempt 0. The
// request descriptor is available so policies can refuse non-idempotent
// methods.
type RetryPolicy interface {
	ShouldRetry(req Request, resp *Response, err error, attempt int) (time.Duration, bool)
}

// RetryCondition classifies a failed attempt as retryable or terminal. The
// response is nil when the failure happened before any response arrived.
type RetryCondition func(resp *Response, err error) bool

// DefaultRetryCondition retries transient failures only: network errors,
// per-attempt timeouts and 5xx responses. Any 4xx is terminal, the server
// made a decision that a retry will not change.
func DefaultRetryCondition(resp *Response, err error) bool {
	return IsRetryable(err)
}

// DefaultRetryPolicy implements exponential backoff with jitter on top of a
// pluggable retry condition. Only idempotent methods are retried.
type DefaultRetryPolicy struct {
	maxRetries   int
	condition    RetryCondition
	calc         *backoff.Calculator
	isIdempotent func(method string) bool
}

// NewDefaultRetryPolicy builds a policy from config. A nil condition falls
// back to DefaultRetryCondition.
func NewDefaultRetryPolicy(cfg RetryConfig, condition RetryCondition) *DefaultRetryPolicy {
	if condition == nil {
		condition = DefaultRetryCondition
	}
	return &DefaultRetryPolicy{
		maxRetries:   cfg.MaxRetries,
		condition:    condition,
		calc:         backoff.New(cfg.InitialBackoff, cfg.MaxBackoff, cfg.Multiplier, cfg.Jitter),
		isIdempotent: DefaultIsIdempotent,
	}
}

// ShouldRetry implements RetryPolicy. A Retry-After header on a 5xx response
// overrides the computed backoff for that step.
func (p *DefaultRetryPolicy) ShouldRetry(req Request, resp *Response, err error, attempt int) (time.Duration, bool) {
	if attempt >= p.maxRetries {
		return 0, false
	}
	if !p.isIdempotent(req.Method) {
		return 0, false
	}
	if !p.condition(resp, err) {
		return 0, false
	}

	var delay time.Duration
	if resp != nil {
		if status, ok := HTTPStatus(err); ok && status >= 500 {
			delay = parseRetryAfter(resp.Header.Get("Retry-After"))
		}
	}
	if delay == 0 {
		delay = p.calc.Delay(attempt)
	}
	return delay, true
}

// DefaultIsIdempotent reports whether an HTTP method is safe to retry
// automatically.
func DefaultIsIdempotent(method string) bool {
	switch method {
	case "GET", "HEAD", "PUT", "DELETE", "OPTIONS":
		return true
	default:
		return false
	}
}

// parseRetryAfter parses a Retry-After header in either delay-seconds or
// HTTP-date form. Unparseable or non-positive values yield 0; results are
// capped at one hour.
func parseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}

	if seconds, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
		if seconds > 0 {
			delay := time.Duration(seconds) * time.Second
			if delay > time.Hour {
				delay = time.Hour
			}
			return delay
		}
		return 0
	}

	if t, err := http.ParseTime(value); err == nil {
		delay := time.Until(t)
		if delay > 0 && delay <= time.Hour {
			return delay
		}
	}

	return 0
}

// RetryBudget caps the total number of retries across all calls within a
// sliding window, so a broad outage cannot multiply traffic.
type RetryBudget struct {
	maxRetries  int64
	perWindow   time.Duration
	current     int64
	windowStart int64
}

// NewRetryBudget creates a budget of maxRetries per window.
func NewRetryBudget(maxRetries int, perWindow time.Duration) *RetryBudget {
	return &RetryBudget{
		maxRetries:  int64(maxRetries),
		perWindow:   perWindow,
		windowStart: time.Now().UnixNano(),
	}
}

// Allow consumes one retry from the budget, resetting the window first when
// it has rolled over. Returns false when the budget is spent.
func (rb *RetryBudget) Allow() bool {
	now := time.Now().UnixNano()
	windowStart := atomic.LoadInt64(&rb.windowStart)

	if now-windowStart >= int64(rb.perWindow) {
		if atomic.CompareAndSwapInt64(&rb.windowStart, windowStart, now) {
			atomic.StoreInt64(&rb.current, 0)
		}
	}

	current := atomic.LoadInt64(&rb.current)
	if current >= rb.maxRetries {
		return false
	}
	return atomic.AddInt64(&rb.current, 1) <= rb.maxRetries
}

// GetStats returns the consumed count, the cap and the current window start.
func (rb *RetryBudget) GetStats() (current, max int64, windowStart time.Time) {
	return atomic.LoadInt64(&rb.current),
		rb.maxRetries,
		time.Unix(0, atomic.LoadInt64(&rb.windowStart))
}
