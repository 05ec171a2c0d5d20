// Package retry centralizes bounded exponential backoff for upstream and
// persistence calls.
package retry

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"CompetitorScanner/internal/domain"
)

// Classifier reports whether err is worth another attempt.
type Classifier func(error) bool

// Policy configures retry behaviour.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Jitter      bool
	Classify    Classifier
}

// DefaultPolicy provides sensible defaults.
var DefaultPolicy = Policy{
	MaxAttempts: 3,
	BaseDelay:   time.Second,
	MaxDelay:    30 * time.Second,
	Jitter:      true,
	Classify:    Transient,
}

// None runs the operation exactly once.
var None = Policy{MaxAttempts: 1}

// Transient is the default classifier: upstream throttling, connectivity and
// step deadlines are retried; malformed data, unknown projects, unavailable
// accounts and caller cancellation are not.
func Transient(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, context.Canceled):
		return false
	case errors.Is(err, domain.ErrDiscoveryMalformed),
		errors.Is(err, domain.ErrContentAccountUnavailable),
		errors.Is(err, domain.ErrUnknownProject),
		errors.Is(err, domain.ErrInvalidRequest):
		return false
	case errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, domain.ErrDiscoveryUnavailable),
		errors.Is(err, domain.ErrDiscoveryRateLimited),
		errors.Is(err, domain.ErrPersistenceUnavailable):
		return true
	default:
		return false
	}
}

// Do calls f until it succeeds, the classifier rejects the error, attempts
// run out or ctx is done. The last error is returned.
func Do(ctx context.Context, p Policy, f func(context.Context) error) error {
	_, err := Value(ctx, p, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, f(ctx)
	})
	return err
}

// Value is Do for functions returning a value.
func Value[T any](ctx context.Context, p Policy, f func(context.Context) (T, error)) (T, error) {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	classify := p.Classify
	if classify == nil {
		classify = Transient
	}

	var (
		val T
		err error
	)
	wait := p.BaseDelay
	for attempt := 1; ; attempt++ {
		val, err = f(ctx)
		if err == nil {
			return val, nil
		}
		if attempt >= attempts || !classify(err) {
			return val, err
		}
		if ctx.Err() != nil {
			return val, err
		}

		sleep := p.backoff(wait)
		if hint := domain.RetryAfterHint(err); hint > sleep {
			sleep = hint
		}
		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return val, err
		case <-timer.C:
		}

		wait *= 2
		if p.MaxDelay > 0 && wait > p.MaxDelay {
			wait = p.MaxDelay
		}
	}
}

func (p Policy) backoff(wait time.Duration) time.Duration {
	if p.Jitter && wait > 0 {
		wait = time.Duration(float64(wait) * (0.5 + rand.Float64()))
	}
	if p.MaxDelay > 0 && wait > p.MaxDelay {
		wait = p.MaxDelay
	}
	return wait
}
