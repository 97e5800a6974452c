package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff"
)

// Policy is a bounded exponential backoff.
type Policy struct {
	Attempts int
	Initial  time.Duration
	Max      time.Duration
	// Timeout bounds every attempt together. Zero keeps the caller's deadline.
	Timeout time.Duration
}

// Default is used for store calls on the ingest path.
var Default = Policy{Attempts: 3, Initial: 50 * time.Millisecond, Max: time.Second, Timeout: 10 * time.Second}

// Do runs fn until it succeeds, returns a backoff.Permanent error, attempts
// run out or ctx is done. The last error is returned.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	return p.DoNotify(ctx, fn, nil)
}

// DoNotify is Do with failed called before each wait.
func (p Policy) DoNotify(ctx context.Context, fn func(ctx context.Context) error, failed func(err error, next time.Duration)) error {
	if p.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.Timeout)
		defer cancel()
	}
	var notify backoff.Notify
	if failed != nil {
		notify = backoff.Notify(failed)
	}
	return backoff.RetryNotify(func() error { return fn(ctx) }, p.backOff(ctx), notify)
}

func (p Policy) backOff(ctx context.Context) backoff.BackOff {
	attempts := p.Attempts
	if attempts <= 0 {
		attempts = 1
	}
	exp := backoff.NewExponentialBackOff()
	if p.Initial > 0 {
		exp.InitialInterval = p.Initial
	}
	if p.Max > 0 {
		exp.MaxInterval = p.Max
	}
	exp.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(exp, uint64(attempts-1)), ctx)
}
