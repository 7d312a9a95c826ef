// Package poller runs a status check on a fixed interval until it reports a terminal result.
package poller

import (
	"context"
	"errors"
	"time"
)

// ErrAttemptsExhausted is returned when MaxAttempts checks ran without reaching a terminal result.
var ErrAttemptsExhausted = errors.New("poller: attempts exhausted")

// CheckFunc reports whether the watched state is terminal. A returned error is passed to the
// Poller's OnError hook and polling continues.
type CheckFunc func(ctx context.Context) (done bool, err error)

type Poller struct {
	Interval time.Duration
	// MaxAttempts bounds the number of checks; zero means until ctx is done.
	MaxAttempts int
	OnError     func(err error)
}

// Run checks immediately, then after every tick or receive on wake. It returns nil once check
// reports done, ctx.Err() on cancellation, or ErrAttemptsExhausted. wake may be nil.
func (p Poller) Run(ctx context.Context, check CheckFunc, wake <-chan struct{}) error {
	ticker := time.NewTicker(p.Interval)
	defer ticker.Stop()

	for attempt := 1; ; attempt++ {
		done, err := check(ctx)
		if err != nil && p.OnError != nil {
			p.OnError(err)
		}
		if done {
			return nil
		}
		if p.MaxAttempts > 0 && attempt >= p.MaxAttempts {
			return ErrAttemptsExhausted
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		case <-wake:
		}
	}
}

// AttemptsFor returns how many checks at interval fit into timeout, at least one.
func AttemptsFor(timeout, interval time.Duration) int {
	if interval <= 0 {
		return 1
	}
	n := int(timeout / interval)
	if n < 1 {
		return 1
	}
	return n
}
