package resilix

import (
	"errors"
	"fmt"
)

// Sentinel errors for common failure scenarios
var (
	// ErrCircuitOpen is returned when the circuit breaker rejects a call
	// before any network activity happens.
	ErrCircuitOpen = errors.New("resilix: circuit open")

	// ErrRateLimited is returned when a request is denied by the local
	// rate limiter.
	ErrRateLimited = errors.New("resilix: rate limited")
)

// NetworkError represents a transport-level failure: the request never
// produced an HTTP response. Timeout reports whether the failure was a
// per-attempt deadline rather than a connection problem.
type NetworkError struct {
	Cause   error
	Timeout bool
}

// Error implements error.
func (e *NetworkError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("network timeout: %v", e.Cause)
	}
	return fmt.Sprintf("network error: %v", e.Cause)
}

// Unwrap returns the underlying transport error.
func (e *NetworkError) Unwrap() error { return e.Cause }

// HTTPError represents a non-2xx response promoted to an error. The body, if
// any, travels on the Response returned alongside it.
type HTTPError struct {
	StatusCode int
	Status     string
}

// Error implements error. The format is stable and relied upon by callers
// that match on message text.
func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP error: %d", e.StatusCode)
}

// CacheError reports a failing cache backend operation. It is logged and
// counted but never fails a request: a read error degrades to a miss and a
// write error leaves the response uncached.
type CacheError struct {
	Op    string
	Cause error
}

// Error implements error.
func (e *CacheError) Error() string {
	return fmt.Sprintf("cache %s: %v", e.Op, e.Cause)
}

// Unwrap returns the backend error.
func (e *CacheError) Unwrap() error { return e.Cause }

// ErrorType categorizes a ClientError.
type ErrorType string

const (
	ErrorTypeConfig     ErrorType = "ConfigurationError"
	ErrorTypeValidation ErrorType = "ValidationError"
)

// ClientError carries configuration and validation failures surfaced at
// construction time.
type ClientError struct {
	Type    ErrorType
	Message string
	Cause   error
}

// Error implements error interface.
func (e *ClientError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying cause.
func (e *ClientError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Is compares error types for errors.Is.
func (e *ClientError) Is(target error) bool {
	if e == nil {
		return false
	}
	if targetErr, ok := target.(*ClientError); ok {
		return e.Type == targetErr.Type
	}
	return false
}

// IsRetryable reports whether err is a transient failure that might succeed
// on another attempt. Network errors and per-attempt timeouts are retryable,
// as are 5xx responses. 4xx responses are not: the server answered and will
// answer the same way again. Circuit and rate limiter rejections are local
// decisions and are never retried.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var netErr *NetworkError
	if errors.As(err, &netErr) {
		return true
	}
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode >= 500
	}
	return false
}

// IsTimeout reports whether err is a per-attempt timeout.
func IsTimeout(err error) bool {
	var netErr *NetworkError
	if errors.As(err, &netErr) {
		return netErr.Timeout
	}
	return false
}

// IsCircuitOpen reports whether err is a circuit breaker rejection.
func IsCircuitOpen(err error) bool {
	return errors.Is(err, ErrCircuitOpen)
}

// HTTPStatus extracts the status code from an HTTPError anywhere in err's
// chain. The second return is false when err carries no HTTP status.
func HTTPStatus(err error) (int, bool) {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode, true
	}
	return 0, false
}

// NewNetworkError wraps a transport failure.
func NewNetworkError(cause error, timeout bool) *NetworkError {
	return &NetworkError{Cause: cause, Timeout: timeout}
}

// NewHTTPError builds the error for a non-2xx response.
func NewHTTPError(statusCode int, status string) *HTTPError {
	return &HTTPError{StatusCode: statusCode, Status: status}
}

// NewCacheError wraps a cache backend failure with the operation that hit it.
func NewCacheError(op string, cause error) *CacheError {
	return &CacheError{Op: op, Cause: cause}
}
