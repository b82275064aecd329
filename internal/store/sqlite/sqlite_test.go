package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/privymarket/internal/domain"
	"github.com/alanyoungcy/privymarket/internal/store/storetest"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestLedger(t *testing.T) {
	storetest.RunLedger(t, func(t *testing.T) domain.Ledger {
		return openTestDB(t).Ledger()
	})
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")
	db, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db, err = Open(path)
	require.NoError(t, err)
	defer db.Close()

	var mode string
	require.NoError(t, db.db.QueryRow("PRAGMA journal_mode").Scan(&mode))
	assert.Equal(t, "wal", mode)

	var version int
	require.NoError(t, db.db.QueryRow("PRAGMA user_version").Scan(&version))
	assert.Equal(t, currentSchemaVersion, version)
}

func TestAuditStore(t *testing.T) {
	ctx := context.Background()
	s := openTestDB(t).AuditStore()

	require.NoError(t, s.Log(ctx, "market_created", map[string]any{"market_id": 7}))
	require.NoError(t, s.Log(ctx, "market_resolved", map[string]any{"outcome": true}))

	entries, err := s.List(ctx, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "market_resolved", entries[0].Event)
	assert.Equal(t, true, entries[0].Detail["outcome"])
	assert.Equal(t, float64(7), entries[1].Detail["market_id"])

	page, err := s.List(ctx, domain.ListOpts{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "market_created", page[0].Event)
}

func TestAuditStoreMarketFilter(t *testing.T) {
	ctx := context.Background()
	s := openTestDB(t).AuditStore()

	require.NoError(t, s.Log(ctx, "settlement.market_created", map[string]any{"market_id": uint64(0)}))
	require.NoError(t, s.Log(ctx, "settlement.market_created", map[string]any{"market_id": uint64(12)}))
	require.NoError(t, s.Log(ctx, "settlement.account_funded", map[string]any{"owner": "0xabc"}))
	require.NoError(t, s.Log(ctx, "settlement.bet_placed", map[string]any{"market_id": uint64(12)}))

	market := uint64(12)
	entries, err := s.List(ctx, domain.ListOpts{MarketID: &market})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "settlement.bet_placed", entries[0].Event)
	assert.Equal(t, "settlement.market_created", entries[1].Event)

	zero := uint64(0)
	entries, err = s.List(ctx, domain.ListOpts{MarketID: &zero})
	require.NoError(t, err)
	require.Len(t, entries, 1)
}
