package crawler

import (
	"context"
	"crypto/rand"
	"errors"
	"math"
	"math/big"
	"time"
)

// RetryPolicy bounds the number of GET attempts per task and the wait between them.
// A zero base delay retries immediately.
type RetryPolicy struct {
	maxTries  int
	baseDelay time.Duration
	maxDelay  time.Duration
}

// NewImmediateRetryPolicy retries every transport failure with no delay, up to maxTries attempts.
func NewImmediateRetryPolicy(maxTries int) *RetryPolicy {
	if maxTries <= 0 {
		maxTries = 1
	}
	return &RetryPolicy{maxTries: maxTries}
}

// NewExponentialRetryPolicy builds a policy with jittered exponential backoff.
func NewExponentialRetryPolicy(maxTries int, baseDelay, maxDelay time.Duration) *RetryPolicy {
	p := NewImmediateRetryPolicy(maxTries)
	p.baseDelay = baseDelay
	p.maxDelay = maxDelay
	if p.maxDelay < p.baseDelay {
		p.maxDelay = p.baseDelay
	}
	return p
}

// MaxTries reports the attempt ceiling.
func (p *RetryPolicy) MaxTries() int {
	return p.maxTries
}

// ShouldRetry reports whether another attempt may follow after `attempts` failed ones.
func (p *RetryPolicy) ShouldRetry(err error, attempts int) bool {
	if err == nil {
		return false
	}
	if attempts >= p.maxTries {
		return false
	}
	return !errors.Is(err, context.Canceled)
}

// Backoff returns the wait duration before the next attempt.
func (p *RetryPolicy) Backoff(attempt int) time.Duration {
	if p.baseDelay <= 0 {
		return 0
	}
	delay := float64(p.baseDelay) * math.Pow(2, float64(attempt))
	if delay > float64(p.maxDelay) {
		delay = float64(p.maxDelay)
	}
	jitter := p.randomJitter(time.Duration(delay) / 2)
	return time.Duration(delay/2) + jitter
}

func (p *RetryPolicy) randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	bound := big.NewInt(int64(limit))
	n, err := rand.Int(rand.Reader, bound)
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}
