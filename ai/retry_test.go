package ai

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poiesic/contractor/core"
)

func fastPolicy(attempts int) RetryPolicy {
	return RetryPolicy{MaxAttempts: attempts, BaseDelay: 10 * time.Millisecond}
}

var errTransient = fmt.Errorf("upstream busy: %w", core.ErrEmbeddingProvider)

func TestRetryPolicy_Success(t *testing.T) {
	attempts := 0
	err := fastPolicy(3).Do(context.Background(), func(context.Context) error {
		attempts++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, attempts, "should succeed on first try")
}

func TestRetryPolicy_EventualSuccess(t *testing.T) {
	attempts := 0
	err := fastPolicy(5).Do(context.Background(), func(context.Context) error {
		attempts++
		if attempts < 3 {
			return errTransient
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts, "should succeed on third attempt")
}

func TestRetryPolicy_AllAttemptsFail(t *testing.T) {
	attempts := 0
	err := fastPolicy(3).Do(context.Background(), func(context.Context) error {
		attempts++
		return errTransient
	})
	require.Error(t, err)
	assert.Equal(t, errTransient, err, "should return the original error")
	assert.Equal(t, 3, attempts, "should attempt exactly MaxAttempts times")
}

func TestRetryPolicy_NonRetryable(t *testing.T) {
	attempts := 0
	fatal := errors.New("bad request")
	err := fastPolicy(5).Do(context.Background(), func(context.Context) error {
		attempts++
		return fatal
	})
	assert.Equal(t, fatal, err)
	assert.Equal(t, 1, attempts, "non-transient errors are not retried")
}

func TestRetryPolicy_CustomRetryable(t *testing.T) {
	attempts := 0
	p := fastPolicy(4)
	p.Retryable = func(error) bool { return true }
	err := p.Do(context.Background(), func(context.Context) error {
		attempts++
		return errors.New("anything")
	})
	require.Error(t, err)
	assert.Equal(t, 4, attempts)
}

func TestRetryPolicy_ContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	err := fastPolicy(10).Do(ctx, func(context.Context) error {
		attempts++
		if attempts == 2 {
			cancel()
		}
		return errTransient
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled, "should return context.Canceled")
	assert.LessOrEqual(t, attempts, 2, "should stop when context is canceled")
}

func TestRetryPolicy_ContextTimeout(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	attempts := 0
	err := fastPolicy(10).Do(ctx, func(context.Context) error {
		attempts++
		time.Sleep(30 * time.Millisecond)
		return errTransient
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded, "should return context.DeadlineExceeded")
	assert.LessOrEqual(t, attempts, 3, "should stop when context times out")
}

func TestRetryPolicy_ExponentialBackoff(t *testing.T) {
	attempts := 0
	var delays []time.Duration
	lastTime := time.Now()

	err := fastPolicy(5).Do(context.Background(), func(context.Context) error {
		attempts++
		if attempts > 1 {
			delays = append(delays, time.Since(lastTime))
		}
		lastTime = time.Now()
		if attempts < 4 {
			return errTransient
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 4, attempts)

	require.Len(t, delays, 3, "should have 3 delays")
	assert.Greater(t, delays[1], delays[0], "second delay should be greater than first")
	assert.Greater(t, delays[2], delays[1], "third delay should be greater than second")
}

func TestRetryPolicy_Delay(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 10, BaseDelay: 100 * time.Millisecond, MaxDelay: 350 * time.Millisecond}
	assert.Equal(t, 100*time.Millisecond, p.Delay(2))
	assert.Equal(t, 200*time.Millisecond, p.Delay(3))
	assert.Equal(t, 350*time.Millisecond, p.Delay(4), "capped at MaxDelay")
	assert.Equal(t, 350*time.Millisecond, p.Delay(9))

	p.Jitter = 0.5
	for i := 0; i < 20; i++ {
		d := p.Delay(2)
		assert.GreaterOrEqual(t, d, 50*time.Millisecond)
		assert.LessOrEqual(t, d, 150*time.Millisecond)
	}
}

func TestRetryPolicy_InvalidMaxAttempts(t *testing.T) {
	for _, n := range []int{0, -1} {
		attempts := 0
		err := fastPolicy(n).Do(context.Background(), func(context.Context) error {
			attempts++
			return nil
		})
		assert.ErrorIs(t, err, ErrInvalidMaxAttempts)
		assert.Equal(t, 0, attempts, "should not attempt with MaxAttempts=%d", n)
		assert.ErrorIs(t, fastPolicy(n).Validate(), core.ErrConfiguration)
	}
}
