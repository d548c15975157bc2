package clock

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/Valrob28/traderbrok/internal/rng"
)

type firingKey struct{}

type timer struct {
	id        Handle
	iv        Interval
	fn        Func
	due       time.Time
	seq       uint64
	index     int
	running   bool
	cancelled bool
}

// timerHeap orders timers by due time, then by scheduling sequence.
type timerHeap []*timer

func (h timerHeap) Len() int { return len(h) }

func (h timerHeap) Less(i, j int) bool {
	if h[i].due.Equal(h[j].due) {
		return h[i].seq < h[j].seq
	}
	return h[i].due.Before(h[j].due)
}

func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *timerHeap) Push(x any) {
	t := x.(*timer)
	t.index = len(*h)
	*h = append(*h, t)
}

func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*h = old[:n-1]
	return t
}

// scheduler is the timer bookkeeping shared by Loop and Manual.
type scheduler struct {
	mu     sync.Mutex
	idle   *sync.Cond
	src    rng.Source
	timers map[Handle]*timer
	queue  timerHeap
	nextID Handle
	seq    uint64
	wake   chan struct{}
}

func newScheduler(src rng.Source) *scheduler {
	s := &scheduler{
		src:    src,
		timers: make(map[Handle]*timer),
		wake:   make(chan struct{}, 1),
	}
	s.idle = sync.NewCond(&s.mu)
	return s
}

func (s *scheduler) draw(iv Interval) time.Duration {
	if iv.Max == iv.Min {
		return iv.Min
	}
	span := float64(iv.Max - iv.Min)
	return iv.Min + time.Duration(s.src.Float64()*span)
}

func (s *scheduler) schedule(now time.Time, iv Interval, fn Func) (Handle, error) {
	if err := iv.Validate(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	s.nextID++
	s.seq++
	t := &timer{
		id:  s.nextID,
		iv:  iv,
		fn:  fn,
		due: now.Add(s.draw(iv)),
		seq: s.seq,
	}
	s.timers[t.id] = t
	heap.Push(&s.queue, t)
	s.mu.Unlock()
	s.notify()
	return t.id, nil
}

func (s *scheduler) cancel(ctx context.Context, h Handle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.timers[h]
	if !ok {
		return
	}
	t.cancelled = true
	delete(s.timers, h)
	if t.index >= 0 {
		heap.Remove(&s.queue, t.index)
	}
	if self, _ := ctx.Value(firingKey{}).(*timer); self == t {
		return
	}
	for t.running {
		s.idle.Wait()
	}
}

func (s *scheduler) notify() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// peek returns the earliest due time.
func (s *scheduler) peek() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return time.Time{}, false
	}
	return s.queue[0].due, true
}

// fireNext runs the earliest timer if it is due at now. It reports whether a
// timer fired.
func (s *scheduler) fireNext(ctx context.Context, now time.Time) bool {
	s.mu.Lock()
	if len(s.queue) == 0 || s.queue[0].due.After(now) {
		s.mu.Unlock()
		return false
	}
	t := heap.Pop(&s.queue).(*timer)
	t.running = true
	s.mu.Unlock()

	t.fn(context.WithValue(ctx, firingKey{}, t), now)

	s.mu.Lock()
	t.running = false
	if !t.cancelled {
		next := t.due.Add(s.draw(t.iv))
		if !next.After(now) {
			next = now.Add(s.draw(t.iv))
		}
		t.due = next
		s.seq++
		t.seq = s.seq
		heap.Push(&s.queue, t)
	}
	s.idle.Broadcast()
	s.mu.Unlock()
	return true
}

// pending returns the number of live timers.
func (s *scheduler) pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}
