package tape

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Valrob28/traderbrok/internal/domain"
	"github.com/Valrob28/traderbrok/internal/rng"
)

var ts = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

func trade(seq uint64) domain.Trade {
	return domain.Trade{Seq: seq, Symbol: "ETH-USD", Price: 100, Size: 1, Side: domain.SideBuy}
}

func seqs(trades []domain.Trade) []uint64 {
	out := make([]uint64, len(trades))
	for i, t := range trades {
		out[i] = t.Seq
	}
	return out
}

func TestRingEvictsOldest(t *testing.T) {
	r := NewRing(3)
	for i := uint64(1); i <= 4; i++ {
		r.Push(trade(i))
	}
	assert.Equal(t, 3, r.Len())
	assert.Equal(t, []uint64{4, 3, 2}, seqs(r.Recent()))

	latest, ok := r.Latest()
	require.True(t, ok)
	assert.Equal(t, uint64(4), latest.Seq)
}

func TestRingCapacityPlusOne(t *testing.T) {
	r := NewRing(DefaultCapacity)
	for i := uint64(1); i <= DefaultCapacity+1; i++ {
		r.Push(trade(i))
	}
	recent := r.Recent()
	require.Len(t, recent, DefaultCapacity)
	assert.Equal(t, uint64(DefaultCapacity+1), recent[0].Seq)
	assert.Equal(t, uint64(2), recent[len(recent)-1].Seq)
}

func TestRingReset(t *testing.T) {
	r := NewRing(3)
	r.Push(trade(1))
	r.Push(trade(2))
	r.Reset()
	assert.Equal(t, 0, r.Len())
	_, ok := r.Latest()
	assert.False(t, ok)
	r.Push(trade(9))
	assert.Equal(t, []uint64{9}, seqs(r.Recent()))
}

func TestRingSince(t *testing.T) {
	r := NewRing(3)
	got, covered := r.Since(0)
	assert.True(t, covered)
	assert.Empty(t, got)

	for i := uint64(1); i <= 5; i++ {
		r.Push(trade(i))
	}

	got, covered = r.Since(3)
	require.True(t, covered)
	assert.Equal(t, []uint64{4, 5}, seqs(got))

	got, covered = r.Since(2)
	require.True(t, covered)
	assert.Equal(t, []uint64{3, 4, 5}, seqs(got))

	_, covered = r.Since(1)
	assert.False(t, covered)

	got, covered = r.Since(5)
	assert.True(t, covered)
	assert.Empty(t, got)
}

func TestNextWithinJitterBand(t *testing.T) {
	g, err := NewGenerator(DefaultConfig(), rng.New(3))
	require.NoError(t, err)

	var buys int
	for i := 0; i < 1000; i++ {
		tr, err := g.Next("ETH-USD", 2000, ts)
		require.NoError(t, err)
		require.GreaterOrEqual(t, tr.Price, 1990.0)
		require.LessOrEqual(t, tr.Price, 2010.0)
		require.GreaterOrEqual(t, tr.Size, DefaultSizeMin)
		require.LessOrEqual(t, tr.Size, DefaultSizeMax)
		require.Equal(t, uint64(i+1), tr.Seq)
		if tr.Side == domain.SideBuy {
			buys++
		}
	}
	assert.InDelta(t, 500, buys, 100)
}

func TestNextSequencesArePerMarket(t *testing.T) {
	g, err := NewGenerator(DefaultConfig(), rng.New(3))
	require.NoError(t, err)

	a1, _ := g.Next("ETH-USD", 100, ts)
	b1, _ := g.Next("BTC-USD", 100, ts)
	a2, _ := g.Next("ETH-USD", 100, ts)

	assert.Equal(t, uint64(1), a1.Seq)
	assert.Equal(t, uint64(1), b1.Seq)
	assert.Equal(t, uint64(2), a2.Seq)
	assert.NotEqual(t, a1.ID, a2.ID)
}

func TestNextIsReproducibleForSeed(t *testing.T) {
	g1, _ := NewGenerator(DefaultConfig(), rng.New(99))
	g2, _ := NewGenerator(DefaultConfig(), rng.New(99))
	for i := 0; i < 10; i++ {
		a, err := g1.Next("SOL-USD", 98.45, ts)
		require.NoError(t, err)
		b, err := g2.Next("SOL-USD", 98.45, ts)
		require.NoError(t, err)
		require.Equal(t, a, b)
	}
}

func TestSetSeqResumesSequence(t *testing.T) {
	g, _ := NewGenerator(DefaultConfig(), rng.New(1))
	g.SetSeq("BTC-USD", 41)
	tr, err := g.Next("BTC-USD", 100, ts)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), tr.Seq)

	g.SetSeq("BTC-USD", 10)
	tr, err = g.Next("BTC-USD", 100, ts)
	require.NoError(t, err)
	assert.Equal(t, uint64(43), tr.Seq)
	assert.Equal(t, uint64(43), g.Seq("BTC-USD"))

	other, err := g.Next("ETH-USD", 100, ts)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), other.Seq)
}

func TestSetRunSeparatesIdsAcrossProcesses(t *testing.T) {
	g1, _ := NewGenerator(DefaultConfig(), rng.New(7))
	g2, _ := NewGenerator(DefaultConfig(), rng.New(7))
	g1.SetRun(uuid.New())
	g2.SetRun(uuid.New())

	a, err := g1.Next("SOL-USD", 98.45, ts)
	require.NoError(t, err)
	b, err := g2.Next("SOL-USD", 98.45, ts)
	require.NoError(t, err)
	assert.NotEqual(t, a.ID, b.ID)
	assert.Equal(t, a.Price, b.Price)

	run := uuid.New()
	g3, _ := NewGenerator(DefaultConfig(), rng.New(7))
	g4, _ := NewGenerator(DefaultConfig(), rng.New(7))
	g3.SetRun(run)
	g4.SetRun(run)
	c, _ := g3.Next("SOL-USD", 98.45, ts)
	d, _ := g4.Next("SOL-USD", 98.45, ts)
	assert.Equal(t, c.ID, d.ID)
}

func TestNextRejectsBadMid(t *testing.T) {
	g, _ := NewGenerator(DefaultConfig(), rng.New(1))
	_, err := g.Next("ETH-USD", 0, ts)
	require.ErrorIs(t, err, domain.ErrInvalidPrice)
}

func TestNewGeneratorRejectsBadConfig(t *testing.T) {
	_, err := NewGenerator(Config{Jitter: 0.01, SizeMin: 2, SizeMax: 1}, rng.New(1))
	require.ErrorIs(t, err, domain.ErrInvalidConfig)
	_, err = NewGenerator(Config{Jitter: -1, SizeMin: 1, SizeMax: 2}, rng.New(1))
	require.ErrorIs(t, err, domain.ErrInvalidConfig)
}
