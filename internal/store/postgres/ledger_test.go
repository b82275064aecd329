package postgres

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/privymarket/internal/domain"
	"github.com/alanyoungcy/privymarket/internal/store/storetest"
)

// Set PRIVY_TEST_POSTGRES_DSN to a disposable database to run these tests.
// Every table is truncated before each case.
func testClient(t *testing.T) *Client {
	t.Helper()
	dsn := os.Getenv("PRIVY_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("PRIVY_TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()
	c, err := New(ctx, ClientConfig{DSN: dsn, MaxConns: 4})
	require.NoError(t, err)
	t.Cleanup(c.Close)
	require.NoError(t, c.RunMigrations(ctx))
	_, err = c.Pool().Exec(ctx, `TRUNCATE positions, vaults, markets, accounts, registry, audit_log`)
	require.NoError(t, err)
	return c
}

func TestLedger(t *testing.T) {
	storetest.RunLedger(t, func(t *testing.T) domain.Ledger {
		return testClient(t).Ledger()
	})
}

func TestDSN(t *testing.T) {
	require.Equal(t, "postgres://u:p@db:5432/ledger?sslmode=disable",
		DSN(ClientConfig{Host: "db", Database: "ledger", User: "u", Password: "p"}))
	require.Equal(t, "postgres://explicit", DSN(ClientConfig{DSN: "postgres://explicit", Host: "ignored"}))
}

func TestAuditStoreMarketFilter(t *testing.T) {
	ctx := context.Background()
	s := testClient(t).AuditStore()

	const big = ^uint64(0)
	require.NoError(t, s.Log(ctx, "settlement.market_created", map[string]any{"market_id": big}))
	require.NoError(t, s.Log(ctx, "settlement.account_funded", map[string]any{"owner": "0xabc"}))
	require.NoError(t, s.Log(ctx, "settlement.bet_placed", map[string]any{"market_id": big, "amount": uint64(5)}))
	require.NoError(t, s.Log(ctx, "settlement.market_created", map[string]any{"market_id": uint64(1)}))

	market := big
	entries, err := s.List(ctx, domain.ListOpts{MarketID: &market})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, "settlement.bet_placed", entries[0].Event)
	require.Equal(t, big, entries[0].Detail["market_id"])
	require.Equal(t, uint64(5), entries[0].Detail["amount"])

	all, err := s.List(ctx, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, all, 4)
}
