// Package poller implements the bounded backoff poll used to observe a
// server-side tier change (e.g. after a payment) without a push channel.
package poller

import (
	"context"
	"time"

	"beacon/internal/client/api"
	"beacon/internal/clock"
)

// DefaultIntervals is the wait schedule between attempts. The final interval
// is trimmed so the whole poll stays within a one-minute budget.
var DefaultIntervals = []time.Duration{
	1 * time.Second,
	2 * time.Second,
	4 * time.Second,
	8 * time.Second,
	16 * time.Second,
	29 * time.Second,
}

// Check performs one poll attempt. done=true ends the poll successfully.
// A returned error ends the poll only when it is permanent; transient errors
// (network, 5xx) consume the attempt and the poll continues.
type Check func(ctx context.Context) (done bool, err error)

// Result reports how the poll ended. Exactly one of Success, TimedOut, or a
// non-nil Err holds.
type Result struct {
	Success  bool
	TimedOut bool
	Attempts int
	Err      error
}

// Poller runs a Check against the backoff schedule.
type Poller struct {
	Intervals []time.Duration
	Clock     clock.Clock

	// sleep waits between attempts; overridable in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

func New(clk clock.Clock) *Poller {
	p := &Poller{Intervals: DefaultIntervals, Clock: clk}
	p.sleep = p.clockSleep
	return p
}

// Run polls until the check succeeds, a permanent error occurs, the schedule
// is exhausted, or ctx is cancelled. The first attempt fires immediately; each
// subsequent attempt waits the next interval, so a success on attempt four has
// waited 1+2+4 seconds in total.
func (p *Poller) Run(ctx context.Context, check Check) Result {
	attempts := 0
	for i := 0; ; i++ {
		if err := ctx.Err(); err != nil {
			return Result{Attempts: attempts, Err: err}
		}

		attempts++
		done, err := check(ctx)
		if done {
			return Result{Success: true, Attempts: attempts}
		}
		if err != nil && api.Permanent(err) {
			return Result{Attempts: attempts, Err: err}
		}

		if i >= len(p.Intervals) {
			return Result{TimedOut: true, Attempts: attempts}
		}
		if err := p.sleep(ctx, p.Intervals[i]); err != nil {
			return Result{Attempts: attempts, Err: err}
		}
	}
}

func (p *Poller) clockSleep(ctx context.Context, d time.Duration) error {
	select {
	case <-p.Clock.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
