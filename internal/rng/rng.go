// Package rng provides the seedable pseudo-random source shared by every
// generator in the simulator, so that a fixed seed reproduces a run exactly.
package rng

import (
	"math/rand"
	"sync"
	"time"
)

// Source is the random draw surface consumed by the generators.
type Source interface {
	// Float64 returns a value in [0, 1).
	Float64() float64
	// Uniform returns a value in [lo, hi). It returns lo when hi <= lo.
	Uniform(lo, hi float64) float64
	// Bool returns true with probability 0.5.
	Bool() bool
	// Read fills p with random bytes. It lets a Source seed UUID generation.
	Read(p []byte) (int, error)
}

// Rand is a mutex-guarded math/rand generator. It is safe for concurrent use,
// although the simulator only draws from it on the event loop.
type Rand struct {
	mu sync.Mutex
	r  *rand.Rand
}

// New returns a Rand seeded with seed. A zero seed selects a time-based seed.
func New(seed int64) *Rand {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Rand{r: rand.New(rand.NewSource(seed))}
}

func (r *Rand) Float64() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.r.Float64()
}

func (r *Rand) Uniform(lo, hi float64) float64 {
	if hi <= lo {
		return lo
	}
	return lo + r.Float64()*(hi-lo)
}

func (r *Rand) Bool() bool {
	return r.Float64() < 0.5
}

func (r *Rand) Read(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.r.Read(p)
}

// Fixed is a deterministic Source for tests: Float64 cycles through Values.
type Fixed struct {
	mu     sync.Mutex
	Values []float64
	i      int
}

func (f *Fixed) Float64() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.Values) == 0 {
		return 0
	}
	v := f.Values[f.i%len(f.Values)]
	f.i++
	return v
}

func (f *Fixed) Uniform(lo, hi float64) float64 {
	if hi <= lo {
		return lo
	}
	return lo + f.Float64()*(hi-lo)
}

func (f *Fixed) Bool() bool {
	return f.Float64() < 0.5
}

func (f *Fixed) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = byte(f.Float64() * 256)
	}
	return len(p), nil
}

var (
	_ Source = (*Rand)(nil)
	_ Source = (*Fixed)(nil)
)
