package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Valrob28/traderbrok/internal/domain"
)

// StateSource is the read side of the feed that snapshots are taken from.
type StateSource interface {
	Markets(ctx context.Context) ([]domain.Market, error)
	Book(ctx context.Context, symbol string) (domain.OrderBookSnapshot, error)
}

// Snapshotter periodically captures every market and book into cold
// storage.
type Snapshotter struct {
	source StateSource
	blob   domain.Archiver
	now    func() time.Time
	logger *slog.Logger
}

// NewSnapshotter creates a snapshotter over source.
func NewSnapshotter(source StateSource, blob domain.Archiver, logger *slog.Logger) *Snapshotter {
	return &Snapshotter{
		source: source,
		blob:   blob,
		now:    time.Now,
		logger: logger.With(slog.String("component", "snapshotter")),
	}
}

// Capture reads the current state. Markets without a book yet are kept
// without one.
func (s *Snapshotter) Capture(ctx context.Context) (domain.Snapshot, error) {
	markets, err := s.source.Markets(ctx)
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("snapshot: list markets: %w", err)
	}
	snap := domain.Snapshot{TakenAt: s.now().UTC(), Markets: markets}
	for _, m := range markets {
		book, err := s.source.Book(ctx, m.Symbol)
		if errors.Is(err, domain.ErrNotFound) {
			continue
		}
		if err != nil {
			return domain.Snapshot{}, fmt.Errorf("snapshot: book %s: %w", m.Symbol, err)
		}
		snap.Books = append(snap.Books, book)
	}
	return snap, nil
}

// RunOnce captures and uploads one snapshot.
func (s *Snapshotter) RunOnce(ctx context.Context) (string, error) {
	snap, err := s.Capture(ctx)
	if err != nil {
		return "", err
	}
	path, err := s.blob.ArchiveSnapshot(ctx, snap)
	if err != nil {
		return "", fmt.Errorf("snapshot: upload: %w", err)
	}
	s.logger.Debug("snapshot archived",
		slog.String("path", path),
		slog.Int("markets", len(snap.Markets)),
		slog.Int("books", len(snap.Books)),
	)
	return path, nil
}

// RunLoop snapshots every interval until ctx ends. Failures are logged and
// retried on the next tick.
func (s *Snapshotter) RunLoop(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := s.RunOnce(ctx); err != nil {
				s.logger.Error("snapshot failed", slog.String("error", err.Error()))
			}
		}
	}
}
