// Package retry wraps fallible external calls with bounded retries and
// exponential backoff. Only errors marked transient are retried; everything
// else stops the loop immediately.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"
)

// Transient marks err as retryable (timeouts, 5xx-equivalent responses,
// malformed-but-recoverable payloads).
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &classified{err: err, transient: true}
}

// Permanent marks err as non-retryable.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &classified{err: err}
}

type classified struct {
	err       error
	transient bool
}

func (c *classified) Error() string { return c.err.Error() }
func (c *classified) Unwrap() error { return c.err }

// IsTransient reports whether err was marked with Transient.
func IsTransient(err error) bool {
	var c *classified
	return errors.As(err, &c) && c.transient
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var c *classified
	return errors.As(err, &c) && !c.transient
}

// ExhaustedError is returned when every attempt failed with a transient error.
type ExhaustedError struct {
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("retry exhausted after %d attempts: %v", e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() error { return e.Last }

// IsExhausted reports whether err is a retry exhaustion.
func IsExhausted(err error) bool {
	var ex *ExhaustedError
	return errors.As(err, &ex)
}

// Options controls the retry policy.
//
// Backoff, when set, overrides the default exponential schedule; it receives
// the 1-based index of the attempt that just failed.
type Options struct {
	MaxAttempts int
	Base        time.Duration
	MaxDelay    time.Duration
	Jitter      float64 // 0.2 = 20%
	Backoff     func(attempt int) time.Duration
}

func (o Options) withDefaults() Options {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 4
	}
	if o.Base <= 0 {
		o.Base = 500 * time.Millisecond
	}
	if o.MaxDelay <= 0 {
		o.MaxDelay = 15 * time.Second
	}
	if o.Jitter <= 0 {
		o.Jitter = 0.2
	}
	return o
}

// Do runs op up to opts.MaxAttempts times, sleeping between attempts.
//
// A nil return from op ends the loop. A permanent (or unclassified) error is
// returned as-is without further attempts. When every attempt fails with a
// transient error, Do returns an *ExhaustedError wrapping the last one.
func Do(ctx context.Context, opts Options, op func(ctx context.Context) error) error {
	opts = opts.withDefaults()

	var last error
	for attempt := 1; attempt <= opts.MaxAttempts; attempt++ {
		err := op(ctx)
		if err == nil {
			return nil
		}
		if !IsTransient(err) {
			return err
		}
		last = err
		if attempt == opts.MaxAttempts {
			break
		}

		delay := opts.delay(attempt)
		if delay <= 0 {
			continue
		}
		tmr := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			if !tmr.Stop() {
				<-tmr.C
			}
			return ctx.Err()
		case <-tmr.C:
		}
	}
	return &ExhaustedError{Attempts: opts.MaxAttempts, Last: last}
}

func (o Options) delay(attempt int) time.Duration {
	if o.Backoff != nil {
		return o.Backoff(attempt)
	}

	d := o.Base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d > o.MaxDelay {
			d = o.MaxDelay
			break
		}
	}
	if o.Jitter > 0 {
		r := (randFloat64()*2 - 1) * o.Jitter
		d = time.Duration(float64(d) * (1 + r))
		if d < 0 {
			d = 0
		}
	}
	if d > o.MaxDelay {
		d = o.MaxDelay
	}
	return d
}

var rngMu sync.Mutex

func randFloat64() float64 {
	rngMu.Lock()
	defer rngMu.Unlock()
	return rand.Float64()
}
