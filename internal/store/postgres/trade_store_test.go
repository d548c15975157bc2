package postgres

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Valrob28/traderbrok/internal/domain"
)

func TestBuildListQuery_NoFilters(t *testing.T) {
	q, args := buildListQuery("BTC", domain.ListOpts{})
	assert.Equal(t, `SELECT id, seq, symbol, price, size, side, ts FROM sim_trades WHERE symbol = $1 ORDER BY ts DESC, seq DESC`, q)
	assert.Equal(t, []any{"BTC"}, args)
}

func TestBuildListQuery_AllFilters(t *testing.T) {
	since := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	until := since.Add(time.Hour)
	q, args := buildListQuery("ETH", domain.ListOpts{Since: &since, Until: &until, Limit: 50, Offset: 10})

	assert.Contains(t, q, "AND ts >= $2 AND ts <= $3")
	assert.Contains(t, q, "LIMIT $4 OFFSET $5")
	require.Len(t, args, 5)
	assert.Equal(t, "ETH", args[0])
	assert.Equal(t, since, args[1])
	assert.Equal(t, until, args[2])
	assert.Equal(t, 50, args[3])
	assert.Equal(t, 10, args[4])
}

func TestBuildListQuery_LimitOnly(t *testing.T) {
	q, args := buildListQuery("SOL", domain.ListOpts{Limit: 5})
	assert.Contains(t, q, "LIMIT $2")
	assert.NotContains(t, q, "OFFSET")
	assert.Equal(t, []any{"SOL", 5}, args)
}

func TestInsertSkipsAnyConflict(t *testing.T) {
	assert.Contains(t, insertTradeQuery, "ON CONFLICT DO NOTHING")
	assert.NotContains(t, insertTradeQuery, "ON CONFLICT (id)")
}

func TestMigrationFiles_Sorted(t *testing.T) {
	names, err := migrationFiles()
	require.NoError(t, err)
	require.NotEmpty(t, names)
	assert.Equal(t, []string{"001_sim_trades.sql", "002_archive_audit.sql"}, names)
}

func TestDSN(t *testing.T) {
	assert.Equal(t, "postgres://u:p@db:5432/sim?sslmode=disable",
		DSN(ClientConfig{Host: "db", User: "u", Password: "p", Database: "sim"}))
	assert.Equal(t, "postgres://x", DSN(ClientConfig{DSN: "postgres://x", Host: "ignored"}))
}
