package resilix

import (
	"net/http"
	"sort"
	"sync"
	"time"
)

// BreakerKeyFunc maps a request to the circuit breaker that guards it.
type BreakerKeyFunc func(req *http.Request) string

// HostKeyFunc keys breakers by request host. This is the default: every
// endpoint on the same host shares one failure budget.
func HostKeyFunc(req *http.Request) string {
	if req.URL.Host != "" {
		return "host:" + req.URL.Host
	}
	if req.Host != "" {
		return "host:" + req.Host
	}
	return "host:unknown"
}

// RouteKeyFunc keys breakers by method and path, so one failing route cannot
// open the circuit for the whole host.
func RouteKeyFunc(req *http.Request) string {
	return "route:" + req.Method + ":" + req.URL.Path
}

// HostRouteKeyFunc keys breakers by host, method and path combined.
func HostRouteKeyFunc(req *http.Request) string {
	host := req.URL.Host
	if host == "" {
		host = req.Host
	}
	if host == "" {
		host = "unknown"
	}
	return "host_route:" + host + ":" + req.Method + ":" + req.URL.Path
}

// BreakerStatus is a point-in-time snapshot of one breaker, keyed by the
// endpoint string its key function produced.
type BreakerStatus struct {
	Endpoint         string
	State            CircuitState
	Failures         int64
	LastFailureAt    time.Time
	FailureThreshold int
	Cooldown         time.Duration
}

// BreakerRegistry owns one CircuitBreaker per endpoint key, created lazily
// on first use. All breakers share the registry's config.
type BreakerRegistry struct {
	mu       sync.RWMutex
	breakers map[string]*CircuitBreaker

	config  CircuitBreakerConfig
	keyFunc BreakerKeyFunc

	// onStateChange is fanned out to every breaker the registry creates.
	onStateChange func(endpoint string, from, to CircuitState)
}

// NewBreakerRegistry creates an empty registry. A nil keyFunc falls back to
// HostKeyFunc.
func NewBreakerRegistry(config CircuitBreakerConfig, keyFunc BreakerKeyFunc) *BreakerRegistry {
	if keyFunc == nil {
		keyFunc = HostKeyFunc
	}
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = DefaultFailureThreshold
	}
	if config.Cooldown <= 0 {
		config.Cooldown = DefaultCooldown
	}
	return &BreakerRegistry{
		breakers: make(map[string]*CircuitBreaker),
		config:   config,
		keyFunc:  keyFunc,
	}
}

// Key returns the endpoint key the registry uses for a request.
func (r *BreakerRegistry) Key(req *http.Request) string {
	return r.keyFunc(req)
}

// ForRequest returns the breaker guarding the request's endpoint, creating
// it on first use.
func (r *BreakerRegistry) ForRequest(req *http.Request) *CircuitBreaker {
	return r.ForKey(r.keyFunc(req))
}

// ForKey returns the breaker for an endpoint key, creating it on first use.
func (r *BreakerRegistry) ForKey(key string) *CircuitBreaker {
	r.mu.RLock()
	cb, ok := r.breakers[key]
	r.mu.RUnlock()
	if ok {
		return cb
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if cb, ok := r.breakers[key]; ok {
		return cb
	}
	cb = NewCircuitBreaker(r.config)
	if r.onStateChange != nil {
		endpoint := key
		hook := r.onStateChange
		cb.onStateChange = func(from, to CircuitState) {
			hook(endpoint, from, to)
		}
	}
	r.breakers[key] = cb
	return cb
}

// Lookup returns the breaker for a key without creating one.
func (r *BreakerRegistry) Lookup(key string) (*CircuitBreaker, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cb, ok := r.breakers[key]
	return cb, ok
}

// Status snapshots the breaker for a key. The second return is false when
// no breaker exists for that key yet.
func (r *BreakerRegistry) Status(key string) (BreakerStatus, bool) {
	cb, ok := r.Lookup(key)
	if !ok {
		return BreakerStatus{}, false
	}
	return r.snapshot(key, cb), true
}

// Statuses snapshots every breaker, sorted by endpoint key.
func (r *BreakerRegistry) Statuses() []BreakerStatus {
	r.mu.RLock()
	statuses := make([]BreakerStatus, 0, len(r.breakers))
	for key, cb := range r.breakers {
		statuses = append(statuses, r.snapshot(key, cb))
	}
	r.mu.RUnlock()

	sort.Slice(statuses, func(i, j int) bool {
		return statuses[i].Endpoint < statuses[j].Endpoint
	})
	return statuses
}

// Reset forces the breaker for a key back to closed. Returns false when no
// breaker exists for that key.
func (r *BreakerRegistry) Reset(key string) bool {
	cb, ok := r.Lookup(key)
	if !ok {
		return false
	}
	cb.Reset()
	return true
}

// ResetAll forces every breaker back to closed and returns how many were
// reset.
func (r *BreakerRegistry) ResetAll() int {
	r.mu.RLock()
	breakers := make([]*CircuitBreaker, 0, len(r.breakers))
	for _, cb := range r.breakers {
		breakers = append(breakers, cb)
	}
	r.mu.RUnlock()

	for _, cb := range breakers {
		cb.Reset()
	}
	return len(breakers)
}

// Len returns the number of breakers created so far.
func (r *BreakerRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.breakers)
}

func (r *BreakerRegistry) snapshot(key string, cb *CircuitBreaker) BreakerStatus {
	return BreakerStatus{
		Endpoint:         key,
		State:            cb.State(),
		Failures:         cb.Failures(),
		LastFailureAt:    cb.LastFailureAt(),
		FailureThreshold: int(cb.failureThreshold),
		Cooldown:         time.Duration(cb.cooldown),
	}
}
