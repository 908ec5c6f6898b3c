// Package retry runs an operation with bounded exponential backoff.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy bounds a retry loop.
type Policy struct {
	// MaxAttempts counts the first try. Values below 1 mean 1.
	MaxAttempts int

	// Initial is the delay before the second attempt. Zero retries at once.
	Initial time.Duration

	// Max caps every delay. Zero means backoff's default cap.
	Max time.Duration

	// Jitter is the randomization factor applied to each delay, 0 to 1.
	Jitter float64

	// Retryable decides whether an error is worth another attempt. Nil
	// retries everything not marked Permanent.
	Retryable func(error) bool
}

// Default is three attempts starting at 500ms.
var Default = Policy{MaxAttempts: 3, Initial: 500 * time.Millisecond, Max: 10 * time.Second, Jitter: 0.2}

// Permanent marks err as not worth retrying. Do returns the unwrapped error.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return backoff.Permanent(err)
}

// IsPermanent reports whether err was marked by Permanent.
func IsPermanent(err error) bool {
	var p *backoff.PermanentError
	return errors.As(err, &p)
}

func (p Policy) attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

// backOff returns the delay schedule between attempts, without the context.
func (p Policy) backOff() backoff.BackOff {
	var b backoff.BackOff = &backoff.ZeroBackOff{}
	if p.Initial > 0 {
		eb := backoff.NewExponentialBackOff()
		eb.InitialInterval = p.Initial
		eb.RandomizationFactor = p.Jitter
		eb.Multiplier = 2
		if p.Max > 0 {
			eb.MaxInterval = p.Max
		}
		eb.MaxElapsedTime = 0
		eb.Reset()
		b = eb
	}
	return backoff.WithMaxRetries(b, uint64(p.attempts()-1))
}

// Do calls fn until it succeeds, returns a permanent error, the policy is
// exhausted or ctx is done.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	var (
		calls     int
		last      error
		permanent bool
	)
	op := func() error {
		calls++
		err := fn(ctx)
		if err == nil {
			return nil
		}
		last = err
		switch {
		case IsPermanent(err):
			permanent = true
		case p.Retryable != nil && !p.Retryable(err):
			permanent = true
			return backoff.Permanent(err)
		}
		return err
	}

	err := backoff.Retry(op, backoff.WithContext(p.backOff(), ctx))
	if err == nil || permanent {
		return err
	}
	if cerr := ctx.Err(); cerr != nil {
		return fmt.Errorf("%w (after %d attempts: %v)", cerr, calls, last)
	}
	if calls == 1 {
		return err
	}
	return fmt.Errorf("after %d attempts: %w", calls, err)
}
