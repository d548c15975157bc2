package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Valrob28/traderbrok/internal/domain"
)

var _ domain.AuditLog = (*AuditStore)(nil)

// AuditStore keeps one archive_audit row per uploaded archive object.
type AuditStore struct {
	pool *pgxpool.Pool
}

// NewAuditStore creates a new AuditStore backed by the given connection pool.
func NewAuditStore(pool *pgxpool.Pool) *AuditStore {
	return &AuditStore{pool: pool}
}

// RecordArchive inserts rec. A zero cutoff is stored as NULL.
func (s *AuditStore) RecordArchive(ctx context.Context, rec domain.ArchiveRecord) error {
	var cutoff *time.Time
	if !rec.Cutoff.IsZero() {
		cutoff = &rec.Cutoff
	}
	created := rec.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO archive_audit (kind, object_key, row_count, byte_count, cutoff, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		string(rec.Kind), rec.Key, rec.Rows, rec.Bytes, cutoff, created,
	)
	if err != nil {
		return fmt.Errorf("postgres: record %s archive %s: %w", rec.Kind, rec.Key, err)
	}
	return nil
}

// LastArchive returns the newest record of kind, or domain.ErrNotFound.
func (s *AuditStore) LastArchive(ctx context.Context, kind domain.ArchiveKind) (domain.ArchiveRecord, error) {
	var (
		rec    domain.ArchiveRecord
		k      string
		cutoff *time.Time
	)
	err := s.pool.QueryRow(ctx, `
		SELECT kind, object_key, row_count, byte_count, cutoff, created_at
		FROM archive_audit
		WHERE kind = $1
		ORDER BY created_at DESC
		LIMIT 1`, string(kind),
	).Scan(&k, &rec.Key, &rec.Rows, &rec.Bytes, &cutoff, &rec.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ArchiveRecord{}, fmt.Errorf("postgres: last %s archive: %w", kind, domain.ErrNotFound)
	}
	if err != nil {
		return domain.ArchiveRecord{}, fmt.Errorf("postgres: last %s archive: %w", kind, err)
	}
	rec.Kind = domain.ArchiveKind(k)
	if cutoff != nil {
		rec.Cutoff = cutoff.UTC()
	}
	return rec, nil
}
