package crawler

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestImmediateRetryPolicy(t *testing.T) {
	t.Parallel()

	p := NewImmediateRetryPolicy(4)
	transport := errors.New("connection reset")

	require.Equal(t, 4, p.MaxTries())
	require.True(t, p.ShouldRetry(transport, 1))
	require.True(t, p.ShouldRetry(transport, 3))
	require.False(t, p.ShouldRetry(transport, 4), "attempt ceiling reached")
	require.False(t, p.ShouldRetry(nil, 1))
	require.False(t, p.ShouldRetry(fmt.Errorf("fetch: %w", context.Canceled), 1))
	require.Zero(t, p.Backoff(0))
	require.Zero(t, p.Backoff(3))
}

func TestImmediateRetryPolicyClampsTries(t *testing.T) {
	t.Parallel()

	require.Equal(t, 1, NewImmediateRetryPolicy(0).MaxTries())
	require.Equal(t, 1, NewImmediateRetryPolicy(-3).MaxTries())
}

func TestExponentialRetryPolicyBackoffBounds(t *testing.T) {
	t.Parallel()

	p := NewExponentialRetryPolicy(5, 100*time.Millisecond, 400*time.Millisecond)
	for attempt := 0; attempt < 6; attempt++ {
		d := p.Backoff(attempt)
		require.GreaterOrEqual(t, d, 50*time.Millisecond)
		require.LessOrEqual(t, d, 400*time.Millisecond)
	}
}

func TestRetryPolicyKeepsRetryingTimeouts(t *testing.T) {
	t.Parallel()

	p := NewImmediateRetryPolicy(2)
	require.True(t, p.ShouldRetry(fmt.Errorf("get: %w", context.DeadlineExceeded), 1))
}
