package retry_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/appforge/forge/pkg/retry"
	"github.com/stretchr/testify/assert"
)

func TestSucceedsAfterTransientFailures(t *testing.T) {
	policy := retry.Policy{
		Attempts:  5,
		BaseDelay: 5 * time.Millisecond,
	}

	calls := 0
	start := time.Now()
	attempts, err := retry.Do(context.Background(), policy, func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return fmt.Errorf("transient failure %d", calls)
		}
		return nil
	})
	elapsed := time.Since(start)

	assert.NoError(t, err)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, 3, calls)

	// two delays were slept: base and base*2
	assert.GreaterOrEqual(t, elapsed, 15*time.Millisecond)
}

func TestExhaustsAttempts(t *testing.T) {
	policy := retry.Policy{
		Attempts:  3,
		BaseDelay: time.Millisecond,
	}

	calls := 0
	boom := errors.New("service unavailable")
	attempts, err := retry.Do(context.Background(), policy, func(ctx context.Context) error {
		calls++
		return boom
	})

	assert.Error(t, err)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, 3, calls)

	exhausted := &retry.ExhaustedError{}
	assert.True(t, errors.As(err, &exhausted))
	assert.Equal(t, 3, exhausted.Attempts)
	assert.ErrorIs(t, err, boom)
}

func TestAbortShortCircuits(t *testing.T) {
	policy := retry.Policy{
		Attempts:  5,
		BaseDelay: time.Millisecond,
	}

	calls := 0
	boom := errors.New("malformed input")
	attempts, err := retry.Do(context.Background(), policy, func(ctx context.Context) error {
		calls++
		return retry.Abort(boom)
	})

	assert.Error(t, err)
	assert.Equal(t, 1, attempts)
	assert.Equal(t, 1, calls)
	assert.ErrorIs(t, err, boom)

	exhausted := &retry.ExhaustedError{}
	assert.False(t, errors.As(err, &exhausted))
}

func TestContextCancelledDuringDelay(t *testing.T) {
	policy := retry.Policy{
		Attempts:  10,
		BaseDelay: time.Hour,
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	calls := 0
	attempts, err := retry.Do(ctx, policy, func(ctx context.Context) error {
		calls++
		return errors.New("transient failure")
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, attempts)
	assert.Equal(t, 1, calls)
}

func TestDelayCappedAtMaxDelay(t *testing.T) {
	policy := retry.Policy{
		Attempts:  4,
		BaseDelay: 20 * time.Millisecond,
		MaxDelay:  20 * time.Millisecond,
	}

	start := time.Now()
	attempts, err := retry.Do(context.Background(), policy, func(ctx context.Context) error {
		return errors.New("transient failure")
	})
	elapsed := time.Since(start)

	assert.Error(t, err)
	assert.Equal(t, 4, attempts)

	// three delays, all capped at 20ms; uncapped doubling would need 140ms
	assert.GreaterOrEqual(t, elapsed, 60*time.Millisecond)
	assert.Less(t, elapsed, 140*time.Millisecond)
}

func TestZeroAttemptsRunsOnce(t *testing.T) {
	calls := 0
	attempts, err := retry.Do(context.Background(), retry.Policy{}, func(ctx context.Context) error {
		calls++
		return errors.New("transient failure")
	})

	assert.Error(t, err)
	assert.Equal(t, 1, attempts)
	assert.Equal(t, 1, calls)
}
