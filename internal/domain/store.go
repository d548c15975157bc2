package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// TradeStore persists simulated trades.
type TradeStore interface {
	InsertBatch(ctx context.Context, trades []Trade) error
	ListByMarket(ctx context.Context, symbol string, opts ListOpts) ([]Trade, error)
	GetLastTimestamp(ctx context.Context, symbol string) (time.Time, error)
	// LastSeq returns the highest recorded Seq of symbol, or 0.
	LastSeq(ctx context.Context, symbol string) (uint64, error)
}

// TradeRetentionStore exposes the range queries used to move aged trades
// into object storage.
type TradeRetentionStore interface {
	ListBefore(ctx context.Context, before time.Time) ([]Trade, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// AuditLog records every archive upload.
type AuditLog interface {
	RecordArchive(ctx context.Context, rec ArchiveRecord) error
	// LastArchive returns the newest record of kind, or ErrNotFound.
	LastArchive(ctx context.Context, kind ArchiveKind) (ArchiveRecord, error)
}
