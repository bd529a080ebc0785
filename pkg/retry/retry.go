// Package retry provides the bounded exponential back-off primitive used by
// every polling loop in the harness. It is a thin layer over
// cenkalti/backoff that fixes the delay law to
//
//	delay_i = clamp(MinTimeout * Factor^i, MinTimeout, MaxTimeout)
//
// with a small jitter, and adds a bail escape hatch for errors that must
// never be retried.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Options configures a retried operation. Zero values fall back to the
// defaults below.
type Options struct {
	// MaxRetries is the number of retries after the first attempt.
	// MaxRetries = 0 runs the operation exactly once.
	MaxRetries int
	// MinTimeout is the initial delay between attempts.
	MinTimeout time.Duration
	// MaxTimeout caps the delay between attempts.
	MaxTimeout time.Duration
	// Factor is the exponential growth factor.
	Factor float64
	// OnRetry is invoked before each retry with the error that triggered
	// it and the 1-based attempt index that failed.
	OnRetry func(err error, attempt int)
}

const (
	defaultMinTimeout = 1 * time.Second
	defaultMaxTimeout = 30 * time.Second
	defaultFactor     = 2.0
)

func (o Options) withDefaults() Options {
	if o.MinTimeout <= 0 {
		o.MinTimeout = defaultMinTimeout
	}
	if o.MaxTimeout <= 0 {
		o.MaxTimeout = defaultMaxTimeout
	}
	if o.Factor <= 1 {
		o.Factor = defaultFactor
	}
	return o
}

// Bail wraps err so that Do stops immediately instead of retrying. The
// returned error unwraps to err, so errors.Is and errors.As keep working
// for callers of Do.
func Bail(err error) error {
	return backoff.Permanent(err)
}

// Do runs op under exponential back-off until it succeeds, bails, exhausts
// opts.MaxRetries or ctx is cancelled. The successful value is returned
// as-is; on exhaustion the last error is returned.
func Do[T any](ctx context.Context, op func() (T, error), opts Options) (T, error) {
	opts = opts.withDefaults()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = opts.MinTimeout
	b.MaxInterval = opts.MaxTimeout
	b.Multiplier = opts.Factor
	b.RandomizationFactor = 0.1

	attempt := 0
	notify := func(err error, _ time.Duration) {
		attempt++
		if opts.OnRetry != nil {
			opts.OnRetry(err, attempt)
		}
	}

	return backoff.Retry(ctx, backoff.Operation[T](op),
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(opts.MaxRetries)+1),
		backoff.WithNotify(notify),
	)
}

// DoVoid is Do for operations without a result value.
func DoVoid(ctx context.Context, op func() error, opts Options) error {
	_, err := Do(ctx, func() (struct{}, error) {
		return struct{}{}, op()
	}, opts)
	return err
}
