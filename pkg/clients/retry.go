package clients

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/ajitpratap0/hubtap/pkg/errors"
	"github.com/ajitpratap0/hubtap/pkg/metrics"
)

// RetryPolicy defines retry behavior with exponential backoff and jitter.
type RetryPolicy struct {
	MaxAttempts     int
	InitialDelay    time.Duration
	MaxDelay        time.Duration
	Multiplier      float64
	RandomizeFactor float64
}

// NewRetryPolicy creates a retry policy with exponential backoff.
func NewRetryPolicy(maxAttempts int, initialDelay time.Duration) *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts:     maxAttempts,
		InitialDelay:    initialDelay,
		MaxDelay:        2 * time.Minute,
		Multiplier:      2.0,
		RandomizeFactor: 0.25,
	}
}

// DefaultRetryPolicy returns the policy used for API requests when none is
// configured.
func DefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts:     5,
		InitialDelay:    time.Second,
		MaxDelay:        2 * time.Minute,
		Multiplier:      2.0,
		RandomizeFactor: 0.25,
	}
}

// NoRetryPolicy returns a policy that does not retry.
func NoRetryPolicy() *RetryPolicy {
	return &RetryPolicy{MaxAttempts: 1}
}

// Execute runs fn, retrying transient errors per errors.IsRetryable until
// the policy's attempt budget is spent.
func (rp *RetryPolicy) Execute(ctx context.Context, fn func() error) error {
	return rp.ExecuteWithCondition(ctx, fn, errors.IsRetryable)
}

// ExecuteWithCondition runs fn, retrying only while shouldRetry returns true
// for the returned error. A rate limit error carrying a retry_after detail
// overrides the computed backoff delay.
func (rp *RetryPolicy) ExecuteWithCondition(ctx context.Context, fn func() error, shouldRetry func(error) bool) error {
	var lastErr error

	for attempt := 0; attempt < rp.MaxAttempts; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}

		lastErr = err

		if !shouldRetry(err) {
			return err
		}

		if attempt == rp.MaxAttempts-1 {
			break
		}

		metrics.Retries.WithLabelValues(string(errors.TypeOf(err))).Inc()

		delay := rp.calculateDelay(attempt)
		if hinted, ok := retryAfterHint(err); ok && hinted > delay {
			delay = hinted
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return errors.Wrap(ctx.Err(), errors.ErrorTypeTimeout, "retry canceled")
		case <-timer.C:
		}
	}

	return errors.Wrap(lastErr, errors.TypeOf(lastErr), "all attempts failed").
		WithDetail("attempts", rp.MaxAttempts)
}

// calculateDelay calculates the backoff delay for a given attempt.
func (rp *RetryPolicy) calculateDelay(attempt int) time.Duration {
	delay := float64(rp.InitialDelay) * math.Pow(rp.Multiplier, float64(attempt))

	if delay > float64(rp.MaxDelay) {
		delay = float64(rp.MaxDelay)
	}

	if rp.RandomizeFactor > 0 {
		delta := delay * rp.RandomizeFactor
		minDelay := delay - delta
		maxDelay := delay + delta
		delay = minDelay + (rand.Float64() * (maxDelay - minDelay))
	}

	return time.Duration(delay)
}

// retryAfterHint extracts a server-provided delay from a rate limit error.
func retryAfterHint(err error) (time.Duration, bool) {
	var e *errors.Error
	if !errors.As(err, &e) {
		return 0, false
	}
	v, ok := e.Details["retry_after"]
	if !ok {
		return 0, false
	}
	switch d := v.(type) {
	case time.Duration:
		return d, true
	case int:
		return time.Duration(d) * time.Second, true
	case int64:
		return time.Duration(d) * time.Second, true
	case float64:
		return time.Duration(d * float64(time.Second)), true
	default:
		return 0, false
	}
}
