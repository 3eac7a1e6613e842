// Package backoff computes the delays between retry attempts.
package backoff

import (
	"math/rand"
	"time"
)

// Calculator produces exponential backoff delays with optional uniform
// jitter. Parameters are fixed at construction so a single Calculator can be
// shared across goroutines.
type Calculator struct {
	initial    time.Duration
	max        time.Duration
	multiplier float64
	jitter     float64
}

// New creates a Calculator. Jitter is clamped into [0, 1]; a multiplier
// below 1 is raised to 1 so delays never shrink between attempts.
func New(initial, max time.Duration, multiplier, jitter float64) *Calculator {
	if multiplier < 1 {
		multiplier = 1
	}
	if jitter < 0 {
		jitter = 0
	}
	if jitter > 1 {
		jitter = 1
	}
	if max < initial {
		max = initial
	}
	return &Calculator{
		initial:    initial,
		max:        max,
		multiplier: multiplier,
		jitter:     jitter,
	}
}

// Delay returns the pause before the retry with the given zero-based attempt
// number: Delay(0) follows the first failed try. The exponential curve is
// capped at the configured maximum, then up to jitter*delay of random extra
// is added, still respecting the cap.
func (c *Calculator) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	// Cap the exponent to keep the float math from overflowing.
	if attempt > 30 {
		attempt = 30
	}

	delay := time.Duration(float64(c.initial) * pow(c.multiplier, attempt))
	if delay < 0 || delay > c.max {
		delay = c.max
	}

	if c.jitter > 0 {
		extra := time.Duration(float64(delay) * c.jitter * rand.Float64())
		if delay+extra > c.max {
			delay = c.max
		} else {
			delay += extra
		}
	}
	return delay
}

// Initial returns the configured first-retry delay.
func (c *Calculator) Initial() time.Duration { return c.initial }

// Max returns the configured delay cap.
func (c *Calculator) Max() time.Duration { return c.max }

func pow(base float64, exponent int) float64 {
	result := 1.0
	for i := 0; i < exponent; i++ {
		result *= base
	}
	return result
}
