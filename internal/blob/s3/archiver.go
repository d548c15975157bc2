package s3blob

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/Valrob28/traderbrok/internal/domain"
)

const (
	contentTypeJSONL = "application/x-ndjson"
	snapshotPrefix   = "snapshots/"

	// DefaultMultipartThreshold switches uploads to the multipart manager.
	DefaultMultipartThreshold = 8 * 1024 * 1024
)

// TradeArchiveStore lists trades that have aged out of the hot store.
type TradeArchiveStore interface {
	ListBefore(ctx context.Context, before time.Time) ([]domain.Trade, error)
}

var _ domain.Archiver = (*Archiver)(nil)

// Archiver writes trade batches and state snapshots as JSONL objects.
// Removing archived rows from the trade store is left to the caller, once
// the upload has succeeded.
type Archiver struct {
	bucket    domain.ObjectStore
	trades    TradeArchiveStore
	audit     domain.AuditLog
	threshold int
	logger    *slog.Logger
}

// NewArchiver wires the archiver. trades and audit may be nil; trade
// archiving then fails with domain.ErrInvalidConfig and uploads go unaudited.
func NewArchiver(bucket domain.ObjectStore, trades TradeArchiveStore, audit domain.AuditLog, logger *slog.Logger) *Archiver {
	return &Archiver{
		bucket:    bucket,
		trades:    trades,
		audit:     audit,
		threshold: DefaultMultipartThreshold,
		logger:    logger.With(slog.String("component", "archiver")),
	}
}

// ArchiveTrades uploads every trade older than before to
// archive/trades/YYYY-MM-DD/HHMMSS.jsonl and returns the count.
func (a *Archiver) ArchiveTrades(ctx context.Context, before time.Time) (int64, error) {
	if a.trades == nil {
		return 0, fmt.Errorf("s3blob: archive trades: no trade store: %w", domain.ErrInvalidConfig)
	}
	trades, err := a.trades.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive trades query: %w", err)
	}
	if len(trades) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(trades)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive trades marshal: %w", err)
	}
	path := tradeArchivePath(before)
	if err := a.upload(ctx, path, buf); err != nil {
		return 0, fmt.Errorf("s3blob: archive trades upload: %w", err)
	}

	a.recordAudit(ctx, domain.ArchiveRecord{
		Kind:   domain.ArchiveTrades,
		Key:    path,
		Rows:   len(trades),
		Bytes:  len(buf),
		Cutoff: before.UTC(),
	})
	return int64(len(trades)), nil
}

// snapshotRecord is one JSONL line of a snapshot object.
type snapshotRecord struct {
	Kind    string                    `json:"kind"`
	TakenAt *time.Time                `json:"taken_at,omitempty"`
	Market  *domain.Market            `json:"market,omitempty"`
	Book    *domain.OrderBookSnapshot `json:"book,omitempty"`
}

// ArchiveSnapshot writes snap to snapshots/YYYY/MM/DD/HHMMSS.jsonl: one
// header line, then one line per market and per book.
func (a *Archiver) ArchiveSnapshot(ctx context.Context, snap domain.Snapshot) (string, error) {
	taken := snap.TakenAt.UTC()
	records := make([]snapshotRecord, 0, 1+len(snap.Markets)+len(snap.Books))
	records = append(records, snapshotRecord{Kind: "header", TakenAt: &taken})
	for i := range snap.Markets {
		records = append(records, snapshotRecord{Kind: "market", Market: &snap.Markets[i]})
	}
	for i := range snap.Books {
		records = append(records, snapshotRecord{Kind: "book", Book: &snap.Books[i]})
	}

	buf, err := marshalJSONL(records)
	if err != nil {
		return "", fmt.Errorf("s3blob: archive snapshot marshal: %w", err)
	}
	path := snapshotPath(taken)
	if err := a.upload(ctx, path, buf); err != nil {
		return "", fmt.Errorf("s3blob: archive snapshot upload: %w", err)
	}
	a.recordAudit(ctx, domain.ArchiveRecord{
		Kind:  domain.ArchiveSnapshot,
		Key:   path,
		Rows:  len(records) - 1,
		Bytes: len(buf),
	})
	return path, nil
}

// LatestSnapshot loads the newest object under snapshots/. It returns
// domain.ErrNotFound when none exists.
func (a *Archiver) LatestSnapshot(ctx context.Context) (domain.Snapshot, error) {
	latest, err := a.bucket.Latest(ctx, snapshotPrefix)
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("s3blob: latest snapshot: %w", err)
	}

	body, err := a.bucket.Open(ctx, latest)
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("s3blob: latest snapshot: %w", err)
	}
	defer body.Close()

	var snap domain.Snapshot
	sc := bufio.NewScanner(body)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for line := 1; sc.Scan(); line++ {
		if len(bytes.TrimSpace(sc.Bytes())) == 0 {
			continue
		}
		var rec snapshotRecord
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
			return domain.Snapshot{}, fmt.Errorf("s3blob: decode %s line %d: %w", latest, line, err)
		}
		switch {
		case rec.Kind == "header" && rec.TakenAt != nil:
			snap.TakenAt = *rec.TakenAt
		case rec.Kind == "market" && rec.Market != nil:
			snap.Markets = append(snap.Markets, *rec.Market)
		case rec.Kind == "book" && rec.Book != nil:
			snap.Books = append(snap.Books, *rec.Book)
		}
	}
	if err := sc.Err(); err != nil {
		return domain.Snapshot{}, fmt.Errorf("s3blob: read %s: %w", latest, err)
	}
	if len(snap.Markets) == 0 {
		return domain.Snapshot{}, fmt.Errorf("s3blob: snapshot %s has no markets: %w", latest, domain.ErrNotFound)
	}
	return snap, nil
}

func (a *Archiver) upload(ctx context.Context, path string, buf []byte) error {
	return a.bucket.Put(ctx, path, buf, len(buf) >= a.threshold)
}

// recordAudit is best effort; the object is already stored.
func (a *Archiver) recordAudit(ctx context.Context, rec domain.ArchiveRecord) {
	if a.audit == nil {
		return
	}
	rec.CreatedAt = time.Now().UTC()
	if err := a.audit.RecordArchive(ctx, rec); err != nil {
		a.logger.Warn("audit record failed",
			slog.String("kind", string(rec.Kind)),
			slog.String("key", rec.Key),
			slog.String("error", err.Error()),
		)
	}
}

// tradeArchivePath partitions trade batches by cutoff day:
//
//	archive/trades/2025-01-31/030000.jsonl
func tradeArchivePath(before time.Time) string {
	return "archive/trades/" + before.UTC().Format("2006-01-02/150405") + ".jsonl"
}

// snapshotPath yields snapshots/2025/01/31/030000.jsonl.
func snapshotPath(at time.Time) string {
	return snapshotPrefix + at.UTC().Format("2006/01/02/150405") + ".jsonl"
}

// marshalJSONL encodes one compact JSON value per line.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
