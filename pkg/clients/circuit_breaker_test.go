package clients

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ajitpratap0/hubtap/pkg/errors"
)

func TestCircuitBreakerOpensAfterFailures(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 3,
		SuccessThreshold: 1,
		Timeout:          time.Minute,
	}, zaptest.NewLogger(t))

	for i := 0; i < 3; i++ {
		require.True(t, cb.Allow())
		cb.RecordFailure()
	}

	assert.False(t, cb.Allow())
	assert.Equal(t, "open", cb.GetState().State)
}

func TestCircuitBreakerExecuteRejectsWhenOpen(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 1,
		SuccessThreshold: 1,
		Timeout:          time.Minute,
	}, zaptest.NewLogger(t))

	err := cb.Execute(func() error {
		return errors.New(errors.ErrorTypeUpstream, "boom")
	})
	require.Error(t, err)

	err = cb.Execute(func() error { return nil })
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeUpstream))
}

func TestCircuitBreakerRecoversThroughHalfOpen(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 1,
		SuccessThreshold: 2,
		Timeout:          20 * time.Millisecond,
	}, zaptest.NewLogger(t))

	require.True(t, cb.Allow())
	cb.RecordFailure()
	require.False(t, cb.Allow())

	// After the timeout the breaker probes with limited traffic.
	time.Sleep(30 * time.Millisecond)
	require.True(t, cb.Allow())
	cb.RecordSuccess()
	require.True(t, cb.Allow())
	cb.RecordSuccess()

	assert.Equal(t, "closed", cb.GetState().State)
	assert.True(t, cb.Allow())
}

func TestCircuitBreakerSuccessResetsFailureCount(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 3,
		SuccessThreshold: 1,
		Timeout:          time.Minute,
	}, zaptest.NewLogger(t))

	cb.RecordFailure()
	cb.RecordFailure()
	cb.RecordSuccess()
	cb.RecordFailure()
	cb.RecordFailure()

	assert.Equal(t, "closed", cb.GetState().State)
	assert.True(t, cb.Allow())
}

func TestSlidingWindowFailureRate(t *testing.T) {
	sw := NewSlidingWindow(time.Second, 10*time.Second)

	for i := 0; i < 8; i++ {
		sw.RecordRequest(true)
	}
	sw.RecordRequest(false)
	sw.RecordRequest(false)

	rate := sw.GetFailureRate()
	assert.InDelta(t, 0.2, rate, 0.01)
}
