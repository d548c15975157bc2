package clock

import (
	"context"
	"time"

	"github.com/Valrob28/traderbrok/internal/rng"
)

// Loop is the wall-clock implementation. Run drives every callback on the
// calling goroutine.
type Loop struct {
	s *scheduler
}

// NewLoop creates a Loop drawing intervals from src.
func NewLoop(src rng.Source) *Loop {
	return &Loop{s: newScheduler(src)}
}

func (l *Loop) Now() time.Time { return time.Now() }

func (l *Loop) Schedule(min, max time.Duration, fn Func) (Handle, error) {
	return l.s.schedule(time.Now(), Interval{Min: min, Max: max}, fn)
}

func (l *Loop) Cancel(ctx context.Context, h Handle) {
	l.s.cancel(ctx, h)
}

// Pending returns the number of live timers.
func (l *Loop) Pending() int { return l.s.pending() }

// Run fires due callbacks until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) error {
	wait := time.NewTimer(time.Hour)
	defer wait.Stop()

	for {
		for l.s.fireNext(ctx, time.Now()) {
			if ctx.Err() != nil {
				return ctx.Err()
			}
		}

		due, ok := l.s.peek()
		if !ok {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-l.s.wake:
			}
			continue
		}

		wait.Reset(time.Until(due))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.s.wake:
		case <-wait.C:
		}
	}
}

var _ Clock = (*Loop)(nil)
