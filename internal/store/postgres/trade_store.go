package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Valrob28/traderbrok/internal/domain"
)

var (
	_ domain.TradeStore          = (*TradeStore)(nil)
	_ domain.TradeRetentionStore = (*TradeStore)(nil)
)

// TradeStore implements domain.TradeStore on the sim_trades table.
type TradeStore struct {
	pool *pgxpool.Pool
}

// NewTradeStore creates a new TradeStore backed by the given connection pool.
func NewTradeStore(pool *pgxpool.Pool) *TradeStore {
	return &TradeStore{pool: pool}
}

const tradeSelectCols = `id, seq, symbol, price, size, side, ts`

func scanTradeRows(rows pgx.Rows) ([]domain.Trade, error) {
	var trades []domain.Trade
	for rows.Next() {
		var (
			t    domain.Trade
			seq  int64
			side string
		)
		if err := rows.Scan(&t.ID, &seq, &t.Symbol, &t.Price, &t.Size, &side, &t.Timestamp); err != nil {
			return nil, err
		}
		t.Seq = uint64(seq)
		t.Side = domain.Side(side)
		t.Timestamp = t.Timestamp.UTC()
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// insertTradeQuery skips a trade that collides on id or on (symbol, seq).
const insertTradeQuery = `
		INSERT INTO sim_trades (id, seq, symbol, price, size, side, ts)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT DO NOTHING`

// InsertBatch queues every trade in one pgx batch. Trades already recorded
// are skipped.
func (s *TradeStore) InsertBatch(ctx context.Context, trades []domain.Trade) error {
	if len(trades) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, t := range trades {
		batch.Queue(insertTradeQuery, t.ID, int64(t.Seq), t.Symbol, t.Price, t.Size, string(t.Side), t.Timestamp)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for i := range trades {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: insert trade batch item %d: %w", i, err)
		}
	}
	return nil
}

// GetLastTimestamp returns the newest recorded trade time for symbol, or
// the zero time when nothing has been recorded.
func (s *TradeStore) GetLastTimestamp(ctx context.Context, symbol string) (time.Time, error) {
	var ts *time.Time
	err := s.pool.QueryRow(ctx, "SELECT MAX(ts) FROM sim_trades WHERE symbol = $1", symbol).Scan(&ts)
	if err != nil {
		return time.Time{}, fmt.Errorf("postgres: get last trade timestamp: %w", err)
	}
	if ts == nil {
		return time.Time{}, nil
	}
	return ts.UTC(), nil
}

// LastSeq returns the highest recorded Seq for symbol, or 0 when nothing has
// been recorded.
func (s *TradeStore) LastSeq(ctx context.Context, symbol string) (uint64, error) {
	var seq int64
	err := s.pool.QueryRow(ctx, "SELECT COALESCE(MAX(seq), 0) FROM sim_trades WHERE symbol = $1", symbol).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("postgres: get last trade seq: %w", err)
	}
	return uint64(seq), nil
}

// buildListQuery assembles the filtered, newest-first history query.
func buildListQuery(symbol string, opts domain.ListOpts) (string, []any) {
	var sb strings.Builder
	sb.WriteString(`SELECT ` + tradeSelectCols + ` FROM sim_trades WHERE symbol = $1`)
	args := []any{symbol}

	add := func(clause string, v any) {
		args = append(args, v)
		fmt.Fprintf(&sb, clause, len(args))
	}
	if opts.Since != nil {
		add(" AND ts >= $%d", *opts.Since)
	}
	if opts.Until != nil {
		add(" AND ts <= $%d", *opts.Until)
	}
	sb.WriteString(" ORDER BY ts DESC, seq DESC")
	if opts.Limit > 0 {
		add(" LIMIT $%d", opts.Limit)
	}
	if opts.Offset > 0 {
		add(" OFFSET $%d", opts.Offset)
	}
	return sb.String(), args
}

// ListByMarket returns recorded trades for symbol, newest first.
func (s *TradeStore) ListByMarket(ctx context.Context, symbol string, opts domain.ListOpts) ([]domain.Trade, error) {
	query, args := buildListQuery(symbol, opts)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades by market: %w", err)
	}
	defer rows.Close()

	trades, err := scanTradeRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan trades by market: %w", err)
	}
	return trades, nil
}

// ListBefore returns every trade older than before, oldest first.
func (s *TradeStore) ListBefore(ctx context.Context, before time.Time) ([]domain.Trade, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+tradeSelectCols+` FROM sim_trades WHERE ts < $1 ORDER BY ts ASC, seq ASC`, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades before: %w", err)
	}
	defer rows.Close()

	trades, err := scanTradeRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan trades before: %w", err)
	}
	return trades, nil
}

// DeleteBefore removes trades older than before and reports how many went.
func (s *TradeStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM sim_trades WHERE ts < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete trades before: %w", err)
	}
	return tag.RowsAffected(), nil
}
