package resilix

import (
	"encoding/json"
	"net/http"
)

// Request is a rebuildable request descriptor. The client constructs a fresh
// *http.Request from it for every attempt, so retries replay the body
// safely.
type Request struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
}

// NewRequest builds a descriptor. Header starts empty and may be populated
// by the caller before Do.
func NewRequest(method, url string, body []byte) Request {
	return Request{
		Method: method,
		URL:    url,
		Header: make(http.Header),
		Body:   body,
	}
}

// Response is a fully buffered HTTP response. The body has been read and the
// connection released, so a Response may be shared between goroutines and
// decoded any number of times.
type Response struct {
	StatusCode int
	Status     string
	Header     http.Header
	Body       []byte
	// FromCache marks responses served from the response cache.
	FromCache bool
}

// JSON decodes the response body into v.
func (r *Response) JSON(v interface{}) error {
	return json.Unmarshal(r.Body, v)
}

// IsSuccess reports whether the status code is in the 2xx range.
func (r *Response) IsSuccess() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Middleware wraps the transport layer of a single attempt. It may mutate
// the outgoing request, short-circuit, or call next to continue the chain.
type Middleware func(req *http.Request, next RoundTripper) (*http.Response, error)

// RoundTripper represents the HTTP transport interface.
type RoundTripper interface {
	RoundTrip(*http.Request) (*http.Response, error)
}

// RoundTripperFunc adapts a function to the RoundTripper interface.
type RoundTripperFunc func(*http.Request) (*http.Response, error)

// RoundTrip implements RoundTripper.
func (f RoundTripperFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}
