package domain

import (
	"context"
	"time"
)

// Snapshot is a point-in-time capture of every market and its book.
type Snapshot struct {
	TakenAt time.Time           `json:"taken_at"`
	Markets []Market            `json:"markets"`
	Books   []OrderBookSnapshot `json:"books"`
}

// Seeds converts the captured markets back into registry seeds.
func (s Snapshot) Seeds() []MarketSeed {
	seeds := make([]MarketSeed, 0, len(s.Markets))
	for _, m := range s.Markets {
		seeds = append(seeds, MarketSeed{
			Symbol: m.Symbol,
			Price:  m.Price,
			Change: m.Change24h,
			Volume: m.Volume24h,
			High:   m.High24h,
			Low:    m.Low24h,
		})
	}
	return seeds
}

// ArchiveKind names what an archive object holds.
type ArchiveKind string

const (
	ArchiveTrades   ArchiveKind = "trades"
	ArchiveSnapshot ArchiveKind = "snapshot"
)

// ArchiveRecord describes one uploaded archive object.
type ArchiveRecord struct {
	Kind  ArchiveKind
	Key   string
	Rows  int
	Bytes int
	// Cutoff is set for trade archives: every trade before it was uploaded.
	Cutoff    time.Time
	CreatedAt time.Time
}

// Archiver moves simulator output into cold storage.
type Archiver interface {
	ArchiveTrades(ctx context.Context, before time.Time) (int64, error)
	ArchiveSnapshot(ctx context.Context, snap Snapshot) (string, error)
	LatestSnapshot(ctx context.Context) (Snapshot, error)
}
