package clock

import (
	"context"
	"sync"
	"time"

	"github.com/Valrob28/traderbrok/internal/rng"
)

// Manual is a fake clock that only moves when Advance is called. Due
// callbacks run synchronously on the goroutine calling Advance.
type Manual struct {
	s   *scheduler
	mu  sync.Mutex
	now time.Time
}

// NewManual creates a Manual clock starting at start.
func NewManual(start time.Time, src rng.Source) *Manual {
	return &Manual{s: newScheduler(src), now: start}
}

func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

func (m *Manual) Schedule(min, max time.Duration, fn Func) (Handle, error) {
	return m.s.schedule(m.Now(), Interval{Min: min, Max: max}, fn)
}

func (m *Manual) Cancel(ctx context.Context, h Handle) {
	m.s.cancel(ctx, h)
}

// Pending returns the number of live timers.
func (m *Manual) Pending() int { return m.s.pending() }

// Advance moves the clock forward by d, firing every callback that falls due
// in order. It returns the number of callbacks fired.
func (m *Manual) Advance(d time.Duration) int {
	m.mu.Lock()
	target := m.now.Add(d)
	m.mu.Unlock()

	fired := 0
	for {
		due, ok := m.s.peek()
		if !ok || due.After(target) {
			break
		}
		m.mu.Lock()
		if due.After(m.now) {
			m.now = due
		}
		now := m.now
		m.mu.Unlock()
		if m.s.fireNext(context.Background(), now) {
			fired++
		}
	}

	m.mu.Lock()
	m.now = target
	m.mu.Unlock()
	return fired
}

var _ Clock = (*Manual)(nil)
