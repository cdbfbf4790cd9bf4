package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	log "github.com/sirupsen/logrus"
)

// Policy controls how many times an operation is attempted, and how long to
// wait between attempts. Delays double with every failed attempt, starting at
// BaseDelay and never exceeding MaxDelay. With Jitter enabled, each delay is
// randomized between 50% and 150% of its nominal value.
type Policy struct {
	Attempts  int
	BaseDelay time.Duration
	MaxDelay  time.Duration
	Jitter    bool
}

// AbortError wraps an error that must not be retried.
type AbortError struct {
	Err error
}

func (e *AbortError) Error() string {
	return e.Err.Error()
}

func (e *AbortError) Unwrap() error {
	return e.Err
}

// Abort marks an error as non-retryable, terminating the retry loop
// immediately when returned from the attempted function.
func Abort(err error) error {
	if err == nil {
		return nil
	}
	return &AbortError{Err: err}
}

// ExhaustedError is returned when all attempts allowed by a policy have
// failed. It wraps the error of the final attempt verbatim.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("giving up after %d attempts: %s", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Err
}

// Do runs fn until it succeeds, returns a non-retryable error, exhausts the
// policy's attempts, or the context is cancelled. The number of attempts
// actually consumed is always returned, also on failure.
func Do(ctx context.Context, policy Policy, fn func(ctx context.Context) error) (int, error) {
	if policy.Attempts < 1 {
		policy.Attempts = 1
	}

	attempts := 0
	for {
		attempts++

		err := fn(ctx)
		if err == nil {
			return attempts, nil
		}

		abort := &AbortError{}
		if errors.As(err, &abort) {
			return attempts, err
		}

		if attempts >= policy.Attempts {
			return attempts, &ExhaustedError{Attempts: attempts, Err: err}
		}

		delay := policy.delay(attempts)
		log.Warnf("%s (retrying in %s...)", err, delay)

		select {
		case <-ctx.Done():
			return attempts, ctx.Err()
		case <-time.After(delay):
		}
	}
}

func (p Policy) delay(attempt int) time.Duration {
	delay := p.BaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if p.MaxDelay > 0 && delay >= p.MaxDelay {
			delay = p.MaxDelay
			break
		}
	}
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	if p.Jitter && delay > 0 {
		delay = delay/2 + time.Duration(rand.Int63n(int64(delay)))
	}
	return delay
}
