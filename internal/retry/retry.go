// Package retry implements the bounded retry budget with exponential backoff
// used around completion calls and capability invocations.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Decision represents the decision after evaluating a failure.
type Decision int

const (
	// Retry indicates the call should be attempted again after a backoff.
	Retry Decision = iota
	// GiveUp indicates the budget is spent or the error is not retryable.
	GiveUp
	// Abort indicates the surrounding context is done.
	Abort
)

// String returns a human-readable representation of the decision.
func (d Decision) String() string {
	switch d {
	case Retry:
		return "retry"
	case GiveUp:
		return "give_up"
	case Abort:
		return "abort"
	default:
		return "unknown"
	}
}

// Defaults used when a Policy field is zero.
const (
	DefaultBudget = 2
	DefaultBase   = 500 * time.Millisecond
	DefaultMax    = 8 * time.Second
)

// Policy bounds retries of a single logical call.
type Policy struct {
	// Budget is the number of retries after the first attempt.
	// Negative disables retries.
	Budget int
	// Base is the first backoff delay; attempt n waits Base·2^n.
	Base time.Duration
	// Max caps a single backoff delay.
	Max time.Duration
	// Retryable reports whether err is worth another attempt.
	// Nil treats every error as retryable.
	Retryable func(err error) bool
	// OnRetry is called before each backoff sleep.
	OnRetry func(attempt int, err error, wait time.Duration)
}

// Default returns the standard policy.
func Default() Policy {
	return Policy{Budget: DefaultBudget, Base: DefaultBase, Max: DefaultMax}
}

// Backoff returns the delay before retry number attempt (zero-based).
func (p Policy) Backoff(attempt int) time.Duration {
	if p.Base <= 0 {
		return 0
	}
	limit := p.Max
	if limit <= 0 {
		limit = DefaultMax
	}
	d := p.Base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= limit {
			return limit
		}
	}
	if d > limit {
		return limit
	}
	return d
}

// Decide evaluates a failure after `retries` retries have already been made.
func (p Policy) Decide(ctx context.Context, retries int, err error) Decision {
	if ctx.Err() != nil {
		return Abort
	}
	if errors.Is(err, context.Canceled) {
		return Abort
	}
	if p.Retryable != nil && !p.Retryable(err) {
		return GiveUp
	}
	if retries >= p.Budget {
		return GiveUp
	}
	return Retry
}

// ExhaustedError reports a call that failed on every attempt.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("failed after %d attempt(s): %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

// Do calls fn until it succeeds or the policy gives up. It returns the
// number of attempts made. When the context ends, the returned error is the
// context cause; when the budget is spent, it is an *ExhaustedError.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) (int, error) {
	for attempt := 0; ; attempt++ {
		err := fn(ctx)
		if err == nil {
			return attempt + 1, nil
		}

		switch p.Decide(ctx, attempt, err) {
		case Abort:
			return attempt + 1, causeOr(ctx, err)
		case GiveUp:
			return attempt + 1, &ExhaustedError{Attempts: attempt + 1, Err: err}
		}

		wait := p.Backoff(attempt)
		if p.OnRetry != nil {
			p.OnRetry(attempt+1, err, wait)
		}
		if err := Sleep(ctx, wait); err != nil {
			return attempt + 1, err
		}
	}
}

// Sleep waits for d or until ctx is done, returning the context cause in
// the latter case.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		if ctx.Err() != nil {
			return context.Cause(ctx)
		}
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return context.Cause(ctx)
	case <-timer.C:
		return nil
	}
}

func causeOr(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return context.Cause(ctx)
	}
	return err
}
