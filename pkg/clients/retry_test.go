package clients

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/hubtap/pkg/errors"
)

func fastPolicy(attempts int) *RetryPolicy {
	p := NewRetryPolicy(attempts, time.Millisecond)
	p.MaxDelay = 5 * time.Millisecond
	p.RandomizeFactor = 0
	return p
}

func TestRetrySucceedsAfterTransientErrors(t *testing.T) {
	calls := 0
	err := fastPolicy(4).Execute(context.Background(), func() error {
		calls++
		if calls < 3 {
			return errors.New(errors.ErrorTypeUpstream, "transient")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryStopsOnPermanentError(t *testing.T) {
	calls := 0
	err := fastPolicy(4).Execute(context.Background(), func() error {
		calls++
		return errors.New(errors.ErrorTypeAuthentication, "bad credentials")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.True(t, errors.IsType(err, errors.ErrorTypeAuthentication))
}

func TestRetryExhaustsAttempts(t *testing.T) {
	calls := 0
	err := fastPolicy(3).Execute(context.Background(), func() error {
		calls++
		return errors.New(errors.ErrorTypeConnection, "unreachable")
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConnection))
}

func TestRetryHonorsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	policy := NewRetryPolicy(5, time.Hour)
	err := policy.Execute(ctx, func() error {
		calls++
		cancel()
		return errors.New(errors.ErrorTypeUpstream, "transient")
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.True(t, errors.IsType(err, errors.ErrorTypeTimeout))
}

func TestRetryAfterHintOverridesBackoff(t *testing.T) {
	hinted := errors.New(errors.ErrorTypeRateLimit, "slow down").
		WithDetail("retry_after", 40*time.Millisecond)

	start := time.Now()
	calls := 0
	err := fastPolicy(2).Execute(context.Background(), func() error {
		calls++
		if calls == 1 {
			return hinted
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
}

func TestNoRetryPolicy(t *testing.T) {
	calls := 0
	err := NoRetryPolicy().Execute(context.Background(), func() error {
		calls++
		return errors.New(errors.ErrorTypeUpstream, "transient")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestCalculateDelayGrowth(t *testing.T) {
	p := NewRetryPolicy(5, 100*time.Millisecond)
	p.RandomizeFactor = 0
	p.MaxDelay = 350 * time.Millisecond

	assert.Equal(t, 100*time.Millisecond, p.calculateDelay(0))
	assert.Equal(t, 200*time.Millisecond, p.calculateDelay(1))
	// Capped by MaxDelay.
	assert.Equal(t, 350*time.Millisecond, p.calculateDelay(2))
}
