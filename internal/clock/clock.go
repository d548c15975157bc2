// Package clock schedules repeating callbacks at independently re-randomised
// intervals. Every callback of a clock runs on a single goroutine, so state
// mutated only from callbacks needs no further coordination.
package clock

import (
	"context"
	"fmt"
	"time"

	"github.com/Valrob28/traderbrok/internal/domain"
)

// Func is a scheduled callback. ctx identifies the firing timer and must be
// passed to Cancel when a callback cancels its own handle.
type Func func(ctx context.Context, now time.Time)

// Handle identifies a scheduled timer.
type Handle uint64

// Clock is the scheduling surface used by the feed engine.
type Clock interface {
	Now() time.Time
	// Schedule fires fn repeatedly; each firing draws the next interval
	// uniformly from [min, max).
	Schedule(min, max time.Duration, fn Func) (Handle, error)
	// Cancel stops h. When Cancel returns, fn will not be invoked again and
	// no invocation is in flight, unless Cancel was called from h's own
	// callback. Cancelling an unknown or cancelled handle is a no-op.
	Cancel(ctx context.Context, h Handle)
}

// Interval is a [Min, Max) draw range.
type Interval struct {
	Min time.Duration
	Max time.Duration
}

// Validate reports whether the interval can be scheduled.
func (iv Interval) Validate() error {
	if iv.Min <= 0 {
		return fmt.Errorf("clock: interval min must be > 0, got %s: %w", iv.Min, domain.ErrInvalidConfig)
	}
	if iv.Max < iv.Min {
		return fmt.Errorf("clock: interval max %s below min %s: %w", iv.Max, iv.Min, domain.ErrInvalidConfig)
	}
	return nil
}
