// Package backoff provides the exponential backoff policy used for
// reconnection scheduling.
package backoff

import (
	"math"
	"math/rand"
	"time"
)

// Policy defines exponential backoff parameters. The delay for attempt n
// (0-based) is BaseDelay × Factor^n, optionally widened by jitter and capped
// at MaxDelay when one is set.
type Policy struct {
	// BaseDelay is the delay before the first retry.
	BaseDelay time.Duration
	// Factor is the exponential factor applied per attempt.
	Factor float64
	// MaxDelay caps the computed delay; 0 means uncapped.
	MaxDelay time.Duration
	// Jitter is the randomization fraction (0.0 to 1.0) added to the delay.
	Jitter float64
	// MaxAttempts is the retry budget before giving up.
	MaxAttempts int
}

// ReconnectPolicy is the default policy for the sync channel: 1s base,
// doubling, five attempts, deterministic (no jitter) so clients reconnect in
// a predictable 1s, 2s, 4s, 8s, 16s sequence.
func ReconnectPolicy() Policy {
	return Policy{
		BaseDelay:   time.Second,
		Factor:      2,
		MaxAttempts: 5,
	}
}

// Delay computes the backoff for a 0-based attempt number.
func (p Policy) Delay(attempt int) time.Duration {
	return p.DelayWithRand(attempt, rand.Float64()) // #nosec G404 -- jitter does not require cryptographic randomness
}

// DelayWithRand computes the backoff using a provided random value in
// [0.0, 1.0), useful for deterministic tests.
func (p Policy) DelayWithRand(attempt int, randomValue float64) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	factor := p.Factor
	if factor <= 0 {
		factor = 2
	}
	base := float64(p.BaseDelay) * math.Pow(factor, float64(attempt))
	total := base + base*p.Jitter*randomValue
	if p.MaxDelay > 0 && total > float64(p.MaxDelay) {
		total = float64(p.MaxDelay)
	}
	return time.Duration(total)
}

// Exhausted reports whether the retry budget is spent for a 0-based attempt
// counter.
func (p Policy) Exhausted(attempt int) bool {
	return p.MaxAttempts > 0 && attempt >= p.MaxAttempts
}
