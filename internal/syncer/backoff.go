// Package syncer drives documents through the ingestion pipeline:
// split, embed, upsert. A per-document state machine records progress
// durably so interrupted work resumes after restart, and a coordinator
// keeps the relational and vector stores consistent without
// distributed transactions.
package syncer

import (
	"math"
	"math/rand"
	"time"
)

const (
	// DefaultBaseDelay is the delay before the first retry.
	DefaultBaseDelay = 1 * time.Second

	// DefaultMaxDelay caps the delay between retries.
	DefaultMaxDelay = 60 * time.Second

	// DefaultMaxRetries is the number of retries before a job is
	// declared dead.
	DefaultMaxRetries = 5

	// backoffFactor doubles the delay each retry.
	backoffFactor = 2.0

	// jitterFraction spreads retries by up to 25% either way.
	jitterFraction = 0.25
)

// Backoff computes retry delays with exponential growth and jitter.
type Backoff struct {
	Base       time.Duration
	MaxDelay   time.Duration
	MaxRetries int
}

// DefaultBackoff returns the standard retry schedule: 1s, 2s, 4s, 8s,
// 16s, capped at 60s, five retries.
func DefaultBackoff() Backoff {
	return Backoff{
		Base:       DefaultBaseDelay,
		MaxDelay:   DefaultMaxDelay,
		MaxRetries: DefaultMaxRetries,
	}
}

// Delay returns the wait before retry n (1-based), jittered so
// simultaneous failures do not retry in lockstep.
func (b Backoff) Delay(n int) time.Duration {
	if n < 1 {
		n = 1
	}

	base := float64(b.Base) * math.Pow(backoffFactor, float64(n-1))
	if capped := float64(b.MaxDelay); base > capped {
		base = capped
	}

	jitter := 1 + jitterFraction*(2*rand.Float64()-1)
	return time.Duration(base * jitter)
}

// Exhausted reports whether a job with the given retry count has used
// up its retry budget.
func (b Backoff) Exhausted(retries int) bool {
	return retries > b.MaxRetries
}
