package tape

import (
	"sync"

	"github.com/Valrob28/traderbrok/internal/domain"
)

// DefaultCapacity is the number of trades kept per market.
const DefaultCapacity = 20

// Ring is a fixed-capacity FIFO of trades. Push is O(1); the oldest trade is
// evicted when the ring is full. Safe for concurrent use.
type Ring struct {
	mu    sync.RWMutex
	buf   []domain.Trade
	head  int // index of the next write
	count int
}

// NewRing creates a ring holding up to capacity trades. A non-positive
// capacity falls back to DefaultCapacity.
func NewRing(capacity int) *Ring {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Ring{buf: make([]domain.Trade, capacity)}
}

// Cap returns the ring capacity.
func (r *Ring) Cap() int { return len(r.buf) }

// Len returns the number of trades currently held.
func (r *Ring) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.count
}

// Push appends t, evicting the oldest trade when full.
func (r *Ring) Push(t domain.Trade) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buf[r.head] = t
	r.head = (r.head + 1) % len(r.buf)
	if r.count < len(r.buf) {
		r.count++
	}
}

// Reset drops every held trade.
func (r *Ring) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	clear(r.buf)
	r.head, r.count = 0, 0
}

// at returns the i-th oldest trade. Caller holds the lock.
func (r *Ring) at(i int) domain.Trade {
	start := (r.head - r.count + len(r.buf)) % len(r.buf)
	return r.buf[(start+i)%len(r.buf)]
}

// Recent returns all held trades, newest first.
func (r *Ring) Recent() []domain.Trade {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Trade, r.count)
	for i := 0; i < r.count; i++ {
		out[i] = r.at(r.count - 1 - i)
	}
	return out
}

// Latest returns the newest trade.
func (r *Ring) Latest() (domain.Trade, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.count == 0 {
		return domain.Trade{}, false
	}
	return r.at(r.count - 1), true
}

// Since returns the trades with Seq greater than seq, oldest first. covered is
// false when trades after seq have already been evicted, in which case the
// caller must resync from Recent.
func (r *Ring) Since(seq uint64) (trades []domain.Trade, covered bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.count == 0 {
		return nil, true
	}
	if oldest := r.at(0); oldest.Seq > seq+1 {
		return nil, false
	}
	for i := 0; i < r.count; i++ {
		if t := r.at(i); t.Seq > seq {
			trades = append(trades, t)
		}
	}
	return trades, true
}
