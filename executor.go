package resilix

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"time"
)

// executor performs exactly one HTTP attempt: build the request from its
// descriptor, run the middleware chain and the transport, buffer the body,
// and normalize the outcome into the error taxonomy. Retry and breaker
// decisions live above it.
type executor struct {
	client     *http.Client
	middleware []Middleware
	// timeout bounds a single attempt via a derived context. The parent
	// context stays untouched so its cancellation remains distinguishable
	// from an attempt timeout.
	timeout   time.Duration
	userAgent string
}

// Do runs one attempt. Non-2xx responses come back as (*Response, *HTTPError)
// with the body drained into the Response and the connection released. When
// the parent context is done, its error is returned unwrapped.
func (e *executor) Do(ctx context.Context, r Request) (*Response, error) {
	attemptCtx := ctx
	cancel := func() {}
	if e.timeout > 0 {
		attemptCtx, cancel = context.WithTimeout(ctx, e.timeout)
	}
	defer cancel()

	var body io.Reader
	if len(r.Body) > 0 {
		body = bytes.NewReader(r.Body)
	}
	req, err := http.NewRequestWithContext(attemptCtx, r.Method, r.URL, body)
	if err != nil {
		return nil, &ClientError{Type: ErrorTypeValidation, Message: "invalid request", Cause: err}
	}
	for key, values := range r.Header {
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}
	if e.userAgent != "" && req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", e.userAgent)
	}

	resp, err := e.roundTrip(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, NewNetworkError(err, isTimeoutError(err))
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, NewNetworkError(err, isTimeoutError(err))
	}

	out := &Response{
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		Header:     resp.Header.Clone(),
		Body:       respBody,
	}
	if !out.IsSuccess() {
		return out, NewHTTPError(resp.StatusCode, resp.Status)
	}
	return out, nil
}

func (e *executor) roundTrip(req *http.Request) (*http.Response, error) {
	if len(e.middleware) == 0 {
		return e.client.Do(req)
	}

	current := RoundTripperFunc(e.client.Do)
	for i := len(e.middleware) - 1; i >= 0; i-- {
		middleware := e.middleware[i]
		next := current
		current = RoundTripperFunc(func(r *http.Request) (*http.Response, error) {
			return middleware(r, next)
		})
	}
	return current.RoundTrip(req)
}

func isTimeoutError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return false
}
