package clock

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Valrob28/traderbrok/internal/domain"
	"github.com/Valrob28/traderbrok/internal/rng"
)

var epoch = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

func TestScheduleRejectsInvalidInterval(t *testing.T) {
	m := NewManual(epoch, rng.New(1))
	_, err := m.Schedule(0, time.Second, func(context.Context, time.Time) {})
	require.ErrorIs(t, err, domain.ErrInvalidConfig)
	_, err = m.Schedule(2*time.Second, time.Second, func(context.Context, time.Time) {})
	require.ErrorIs(t, err, domain.ErrInvalidConfig)
}

func TestManualFixedIntervalFires(t *testing.T) {
	m := NewManual(epoch, rng.New(1))
	var fires []time.Time
	_, err := m.Schedule(time.Second, time.Second, func(_ context.Context, now time.Time) {
		fires = append(fires, now)
	})
	require.NoError(t, err)

	n := m.Advance(5 * time.Second)
	require.Equal(t, 5, n)
	for i, at := range fires {
		assert.Equal(t, epoch.Add(time.Duration(i+1)*time.Second), at)
	}
	assert.Equal(t, epoch.Add(5*time.Second), m.Now())
}

func TestIntervalsAreRedrawnPerFiring(t *testing.T) {
	src := &rng.Fixed{Values: []float64{0, 0.5, 0.25}}
	m := NewManual(epoch, src)
	var fires []time.Time
	_, err := m.Schedule(time.Second, 3*time.Second, func(_ context.Context, now time.Time) {
		fires = append(fires, now)
	})
	require.NoError(t, err)

	m.Advance(10 * time.Second)
	require.GreaterOrEqual(t, len(fires), 3)
	// Draws: 1s, 2s, 1.5s.
	assert.Equal(t, epoch.Add(time.Second), fires[0])
	assert.Equal(t, epoch.Add(3*time.Second), fires[1])
	assert.Equal(t, epoch.Add(4500*time.Millisecond), fires[2])
}

func TestCancelIsIdempotent(t *testing.T) {
	m := NewManual(epoch, rng.New(1))
	var count int
	h, err := m.Schedule(time.Second, time.Second, func(context.Context, time.Time) { count++ })
	require.NoError(t, err)

	m.Advance(2 * time.Second)
	m.Cancel(context.Background(), h)
	m.Cancel(context.Background(), h)
	m.Advance(5 * time.Second)

	assert.Equal(t, 2, count)
	assert.Equal(t, 0, m.Pending())
}

func TestCancelFromOwnCallback(t *testing.T) {
	m := NewManual(epoch, rng.New(1))
	var count int
	var h Handle
	h, _ = m.Schedule(time.Second, time.Second, func(ctx context.Context, _ time.Time) {
		count++
		m.Cancel(ctx, h)
	})

	m.Advance(10 * time.Second)
	assert.Equal(t, 1, count)
}

func TestHandlesAreIndependent(t *testing.T) {
	m := NewManual(epoch, rng.New(1))
	var a, b int
	ha, _ := m.Schedule(time.Second, time.Second, func(context.Context, time.Time) { a++ })
	_, _ = m.Schedule(2*time.Second, 2*time.Second, func(context.Context, time.Time) { b++ })

	m.Advance(4 * time.Second)
	m.Cancel(context.Background(), ha)
	m.Advance(4 * time.Second)

	assert.Equal(t, 4, a)
	assert.Equal(t, 4, b)
}

func TestLoopCancelWaitsForInFlightCallback(t *testing.T) {
	l := NewLoop(rng.New(1))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = l.Run(ctx) }()

	entered := make(chan struct{})
	release := make(chan struct{})
	var calls atomic.Int32
	h, err := l.Schedule(time.Millisecond, 2*time.Millisecond, func(context.Context, time.Time) {
		if calls.Add(1) == 1 {
			close(entered)
			<-release
		}
	})
	require.NoError(t, err)

	<-entered
	cancelled := make(chan struct{})
	go func() {
		l.Cancel(context.Background(), h)
		close(cancelled)
	}()

	select {
	case <-cancelled:
		t.Fatal("Cancel returned while callback was in flight")
	case <-time.After(20 * time.Millisecond):
	}

	close(release)
	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Fatal("Cancel did not return after callback finished")
	}

	after := calls.Load()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, after, calls.Load())
	assert.Equal(t, 0, l.Pending())
}

func TestLoopFiresUntilContextDone(t *testing.T) {
	l := NewLoop(rng.New(3))
	ctx, cancel := context.WithCancel(context.Background())

	var calls atomic.Int32
	_, err := l.Schedule(time.Millisecond, 3*time.Millisecond, func(context.Context, time.Time) {
		calls.Add(1)
	})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	require.Eventually(t, func() bool { return calls.Load() >= 3 }, time.Second, time.Millisecond)
	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
}
