// Package resilix provides a resilient HTTP client with composable reliability primitives:
//
//   - Retries with exponential backoff + jitter
//   - Per-endpoint circuit breakers (closed / open / half-open states)
//   - TTL response caching with pluggable backends and per-request overrides
//   - Rate limiting (token bucket)
//   - Request de-duplication (merges concurrent identical in-flight requests)
//   - Middleware chain for cross-cutting concerns (auth, logging, tracing, etc.)
//   - Prometheus metrics and lightweight structured debug logging
//
// Design goals:
//   - Small surface area, functional options configure everything
//   - Safe concurrent use of a single *Client instance
//   - One circuit breaker verdict per logical call, no matter how many retries ran
//   - Extensibility via user supplied middleware and pluggable cache / metrics / logger
//
// Typical usage:
//
//	client := resilix.New(
//	    resilix.WithMaxRetries(3),
//	    resilix.WithCache(5*time.Minute),
//	    resilix.WithCircuitBreaker(resilix.CircuitBreakerConfig{}),
//	    resilix.WithDeduplication(),
//	)
//	resp, err := client.Get(ctx, "https://api.example.com/data")
//
// Network errors and 5xx responses trigger retries by default; 4xx responses never do.
// Override with WithRetryCondition or supply a full WithRetryPolicy. The library avoids
// opinionated logging: provide a Logger (e.g. via WithSimpleLogger or NewLogrusLogger) and
// enable debug flags selectively (WithDebug / WithDebugConfig) for insight without noise.
package resilix
