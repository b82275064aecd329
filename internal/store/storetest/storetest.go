// Package storetest holds a behavioural suite every domain.Ledger backend
// must pass.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/privymarket/internal/address"
	"github.com/alanyoungcy/privymarket/internal/domain"
)

var (
	admin = common.HexToAddress("0x00000000000000000000000000000000000000ad")
	alice = common.HexToAddress("0x000000000000000000000000000000000000a11c")
	bob   = common.HexToAddress("0x0000000000000000000000000000000000000b0b")

	created = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
)

var errAbort = errors.New("abort")

// RunLedger runs the suite against fresh ledgers produced by open.
func RunLedger(t *testing.T, open func(t *testing.T) domain.Ledger) {
	tests := []struct {
		name string
		fn   func(t *testing.T, l domain.Ledger)
	}{
		{"Registry", testRegistry},
		{"MarketRoundTrip", testMarketRoundTrip},
		{"MarketDuplicate", testMarketDuplicate},
		{"SaveMissing", testSaveMissing},
		{"Positions", testPositions},
		{"Accounts", testAccounts},
		{"Rollback", testRollback},
		{"ListMarkets", testListMarkets},
		{"LargeAmounts", testLargeAmounts},
		{"AccountReadOnly", testAccountReadOnly},
		{"ConcurrentAccountUpdates", testConcurrentAccountUpdates},
		{"ConcurrentMarketUpdates", testConcurrentMarketUpdates},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fn(t, open(t))
		})
	}
}

func newMarket(id uint64) (domain.Market, domain.Vault) {
	addr := address.Market(id)
	m := domain.Market{
		ID:          id,
		Address:     addr,
		Creator:     admin,
		Question:    "Will the test pass?",
		Deadline:    created.Add(time.Hour),
		Status:      domain.MarketStatusOpen,
		ClaimWindow: 30 * time.Minute,
		CreatedAt:   created.Add(time.Duration(id) * time.Second),
	}
	return m, domain.Vault{MarketID: id, Address: address.Vault(addr)}
}

func update(t *testing.T, l domain.Ledger, fn func(ctx context.Context, tx domain.Tx) error) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, l.Update(ctx, func(tx domain.Tx) error { return fn(ctx, tx) }))
}

func view(t *testing.T, l domain.Ledger, fn func(ctx context.Context, tx domain.ReadTx) error) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, l.View(ctx, func(tx domain.ReadTx) error { return fn(ctx, tx) }))
}

func testRegistry(t *testing.T, l domain.Ledger) {
	view(t, l, func(ctx context.Context, tx domain.ReadTx) error {
		_, err := tx.Registry(ctx)
		assert.ErrorIs(t, err, domain.ErrNotFound)
		return nil
	})

	reg := domain.Registry{Address: address.Registry(), Admin: admin, CreatedAt: created}
	update(t, l, func(ctx context.Context, tx domain.Tx) error {
		return tx.CreateRegistry(ctx, reg)
	})
	update(t, l, func(ctx context.Context, tx domain.Tx) error {
		err := tx.CreateRegistry(ctx, domain.Registry{Address: address.Registry(), Admin: alice, CreatedAt: created})
		assert.ErrorIs(t, err, domain.ErrAlreadyExists)
		return nil
	})
	view(t, l, func(ctx context.Context, tx domain.ReadTx) error {
		got, err := tx.Registry(ctx)
		require.NoError(t, err)
		assert.Equal(t, admin, got.Admin)
		assert.True(t, created.Equal(got.CreatedAt))
		return nil
	})
}

func testMarketRoundTrip(t *testing.T, l domain.Ledger) {
	m, v := newMarket(42)
	update(t, l, func(ctx context.Context, tx domain.Tx) error {
		return tx.CreateMarket(ctx, m, v)
	})

	outcome := true
	resolved := created.Add(2 * time.Hour)
	closes := resolved.Add(m.ClaimWindow)
	m.Status = domain.MarketStatusResolved
	m.Outcome = &outcome
	m.ResolvedAt = &resolved
	m.ClaimDeadline = &closes
	m.TotalPool = 900
	m.TotalYesPool = 300
	m.TotalPaidOut = 300
	v.Balance = 600
	update(t, l, func(ctx context.Context, tx domain.Tx) error {
		if err := tx.SaveMarket(ctx, m); err != nil {
			return err
		}
		return tx.SaveVault(ctx, v)
	})

	view(t, l, func(ctx context.Context, tx domain.ReadTx) error {
		got, err := tx.Market(ctx, 42)
		require.NoError(t, err)
		assert.Equal(t, m.Address, got.Address)
		assert.Equal(t, m.Creator, got.Creator)
		assert.Equal(t, m.Question, got.Question)
		assert.True(t, m.Deadline.Equal(got.Deadline))
		assert.Equal(t, domain.MarketStatusResolved, got.Status)
		require.NotNil(t, got.Outcome)
		assert.True(t, *got.Outcome)
		assert.Equal(t, uint64(900), got.TotalPool)
		assert.Equal(t, uint64(300), got.TotalYesPool)
		assert.Zero(t, got.TotalNoPool)
		assert.Equal(t, uint64(300), got.TotalPaidOut)
		assert.Equal(t, m.ClaimWindow, got.ClaimWindow)
		require.NotNil(t, got.ClaimDeadline)
		assert.True(t, closes.Equal(*got.ClaimDeadline))
		require.NotNil(t, got.ResolvedAt)
		assert.True(t, resolved.Equal(*got.ResolvedAt))
		assert.Nil(t, got.FinalizedAt)
		assert.False(t, got.Finalized)

		vault, err := tx.Vault(ctx, 42)
		require.NoError(t, err)
		assert.Equal(t, v, vault)

		_, err = tx.Market(ctx, 43)
		assert.ErrorIs(t, err, domain.ErrNotFound)
		_, err = tx.Vault(ctx, 43)
		assert.ErrorIs(t, err, domain.ErrNotFound)
		return nil
	})
}

func testMarketDuplicate(t *testing.T, l domain.Ledger) {
	m, v := newMarket(1)
	update(t, l, func(ctx context.Context, tx domain.Tx) error {
		return tx.CreateMarket(ctx, m, v)
	})
	err := l.Update(context.Background(), func(tx domain.Tx) error {
		return tx.CreateMarket(context.Background(), m, v)
	})
	assert.ErrorIs(t, err, domain.ErrAlreadyExists)
}

func testSaveMissing(t *testing.T, l domain.Ledger) {
	m, v := newMarket(5)
	update(t, l, func(ctx context.Context, tx domain.Tx) error {
		assert.ErrorIs(t, tx.SaveMarket(ctx, m), domain.ErrNotFound)
		assert.ErrorIs(t, tx.SaveVault(ctx, v), domain.ErrNotFound)
		assert.ErrorIs(t, tx.SavePosition(ctx, domain.Position{MarketID: 5, User: alice}), domain.ErrNotFound)
		return nil
	})
}

func testPositions(t *testing.T, l domain.Ledger) {
	m, v := newMarket(3)
	pa := domain.Position{
		MarketID:   3,
		Address:    address.Position(m.Address, alice),
		User:       alice,
		Commitment: common.HexToHash("0x1fd4247443c9440cb3c48c28851937196bc156032d70a96c98e127ecb347e45f"),
		Amount:     250,
		CreatedAt:  created,
	}
	pb := domain.Position{
		MarketID:  3,
		Address:   address.Position(m.Address, bob),
		User:      bob,
		Amount:    10,
		CreatedAt: created.Add(time.Second),
	}
	update(t, l, func(ctx context.Context, tx domain.Tx) error {
		if err := tx.CreateMarket(ctx, m, v); err != nil {
			return err
		}
		if err := tx.CreatePosition(ctx, pb); err != nil {
			return err
		}
		return tx.CreatePosition(ctx, pa)
	})
	update(t, l, func(ctx context.Context, tx domain.Tx) error {
		assert.ErrorIs(t, tx.CreatePosition(ctx, pa), domain.ErrAlreadyExists)
		return nil
	})

	claimedAt := created.Add(3 * time.Hour)
	pa.Claimed = true
	pa.Payout = 250
	pa.Bonus = 17
	pa.ClaimedAt = &claimedAt
	update(t, l, func(ctx context.Context, tx domain.Tx) error {
		return tx.SavePosition(ctx, pa)
	})

	view(t, l, func(ctx context.Context, tx domain.ReadTx) error {
		got, err := tx.Position(ctx, 3, alice)
		require.NoError(t, err)
		assert.Equal(t, pa.Commitment, got.Commitment)
		assert.Equal(t, pa.Address, got.Address)
		assert.True(t, got.Claimed)
		assert.Equal(t, uint64(250), got.Payout)
		assert.Equal(t, uint64(17), got.Bonus)
		require.NotNil(t, got.ClaimedAt)
		assert.True(t, claimedAt.Equal(*got.ClaimedAt))

		_, err = tx.Position(ctx, 3, admin)
		assert.ErrorIs(t, err, domain.ErrNotFound)

		all, err := tx.Positions(ctx, 3)
		require.NoError(t, err)
		require.Len(t, all, 2)
		assert.Equal(t, alice, all[0].User)
		assert.Equal(t, bob, all[1].User)

		none, err := tx.Positions(ctx, 4)
		require.NoError(t, err)
		assert.Empty(t, none)
		return nil
	})
}

func testAccounts(t *testing.T, l domain.Ledger) {
	update(t, l, func(ctx context.Context, tx domain.Tx) error {
		_, err := tx.Account(ctx, alice)
		assert.ErrorIs(t, err, domain.ErrNotFound)
		if err := tx.SaveAccount(ctx, domain.Account{Owner: alice, Balance: 10}); err != nil {
			return err
		}
		return tx.SaveAccount(ctx, domain.Account{Owner: alice, Balance: 7})
	})
	view(t, l, func(ctx context.Context, tx domain.ReadTx) error {
		got, err := tx.Account(ctx, alice)
		require.NoError(t, err)
		assert.Equal(t, uint64(7), got.Balance)
		return nil
	})
}

func testRollback(t *testing.T, l domain.Ledger) {
	m, v := newMarket(9)
	err := l.Update(context.Background(), func(tx domain.Tx) error {
		ctx := context.Background()
		if err := tx.CreateMarket(ctx, m, v); err != nil {
			return err
		}
		if err := tx.SaveAccount(ctx, domain.Account{Owner: bob, Balance: 99}); err != nil {
			return err
		}
		return errAbort
	})
	require.ErrorIs(t, err, errAbort)

	view(t, l, func(ctx context.Context, tx domain.ReadTx) error {
		_, err := tx.Market(ctx, 9)
		assert.ErrorIs(t, err, domain.ErrNotFound)
		_, err = tx.Account(ctx, bob)
		assert.ErrorIs(t, err, domain.ErrNotFound)
		return nil
	})
}

func testListMarkets(t *testing.T, l domain.Ledger) {
	update(t, l, func(ctx context.Context, tx domain.Tx) error {
		for _, id := range []uint64{30, 2, 11, 100} {
			m, v := newMarket(id)
			if id == 11 {
				m.Status = domain.MarketStatusResolved
			}
			if err := tx.CreateMarket(ctx, m, v); err != nil {
				return err
			}
		}
		return nil
	})

	view(t, l, func(ctx context.Context, tx domain.ReadTx) error {
		all, err := tx.Markets(ctx, domain.ListOpts{})
		require.NoError(t, err)
		assert.Equal(t, []uint64{2, 11, 30, 100}, ids(all))

		open, err := tx.Markets(ctx, domain.ListOpts{Status: domain.MarketStatusOpen})
		require.NoError(t, err)
		assert.Equal(t, []uint64{2, 30, 100}, ids(open))

		page, err := tx.Markets(ctx, domain.ListOpts{Limit: 2, Offset: 1})
		require.NoError(t, err)
		assert.Equal(t, []uint64{11, 30}, ids(page))

		since := created.Add(11 * time.Second)
		recent, err := tx.Markets(ctx, domain.ListOpts{Since: &since})
		require.NoError(t, err)
		assert.Equal(t, []uint64{11, 30, 100}, ids(recent))
		return nil
	})
}

func testLargeAmounts(t *testing.T, l domain.Ledger) {
	const top = ^uint64(0)
	m, v := newMarket(top)
	m.TotalPool = top
	v.Balance = top - 1
	update(t, l, func(ctx context.Context, tx domain.Tx) error {
		if err := tx.CreateMarket(ctx, m, v); err != nil {
			return err
		}
		return tx.SaveAccount(ctx, domain.Account{Owner: alice, Balance: top})
	})
	view(t, l, func(ctx context.Context, tx domain.ReadTx) error {
		got, err := tx.Market(ctx, top)
		require.NoError(t, err)
		assert.Equal(t, top, got.TotalPool)
		vault, err := tx.Vault(ctx, top)
		require.NoError(t, err)
		assert.Equal(t, top-1, vault.Balance)
		acct, err := tx.Account(ctx, alice)
		require.NoError(t, err)
		assert.Equal(t, top, acct.Balance)
		return nil
	})
}

// testAccountReadOnly reads missing accounts in a committed Update without
// saving them. They stay missing.
func testAccountReadOnly(t *testing.T, l domain.Ledger) {
	update(t, l, func(ctx context.Context, tx domain.Tx) error {
		for range 2 {
			_, err := tx.Account(ctx, bob)
			assert.ErrorIs(t, err, domain.ErrNotFound)
		}
		_, err := tx.Account(ctx, alice)
		assert.ErrorIs(t, err, domain.ErrNotFound)
		if err := tx.SaveAccount(ctx, domain.Account{Owner: alice, Balance: 3}); err != nil {
			return err
		}
		got, err := tx.Account(ctx, alice)
		require.NoError(t, err)
		assert.Equal(t, uint64(3), got.Balance)
		return nil
	})
	view(t, l, func(ctx context.Context, tx domain.ReadTx) error {
		_, err := tx.Account(ctx, bob)
		assert.ErrorIs(t, err, domain.ErrNotFound)
		got, err := tx.Account(ctx, alice)
		require.NoError(t, err)
		assert.Equal(t, uint64(3), got.Balance)
		return nil
	})
}

const writers = 8

// testConcurrentAccountUpdates credits one account that does not exist yet
// from several transactions at once. Every credit must survive.
func testConcurrentAccountUpdates(t *testing.T, l domain.Ledger) {
	var g errgroup.Group
	for i := 1; i <= writers; i++ {
		amount := uint64(i)
		g.Go(func() error {
			return l.Update(context.Background(), func(tx domain.Tx) error {
				ctx := context.Background()
				acct, err := tx.Account(ctx, alice)
				switch {
				case errors.Is(err, domain.ErrNotFound):
					acct = domain.Account{Owner: alice}
				case err != nil:
					return err
				}
				acct.Balance += amount
				return tx.SaveAccount(ctx, acct)
			})
		})
	}
	require.NoError(t, g.Wait())

	view(t, l, func(ctx context.Context, tx domain.ReadTx) error {
		got, err := tx.Account(ctx, alice)
		require.NoError(t, err)
		assert.Equal(t, uint64(writers*(writers+1)/2), got.Balance)
		return nil
	})
}

// testConcurrentMarketUpdates opens a position per user in parallel, each
// transaction bumping the shared market pool and vault.
func testConcurrentMarketUpdates(t *testing.T, l domain.Ledger) {
	m, v := newMarket(77)
	update(t, l, func(ctx context.Context, tx domain.Tx) error {
		return tx.CreateMarket(ctx, m, v)
	})

	var (
		g   errgroup.Group
		sum uint64
	)
	for i := 1; i <= writers; i++ {
		user := common.BytesToAddress([]byte{0xbe, byte(i)})
		amount := uint64(10 * i)
		sum += amount
		g.Go(func() error {
			return l.Update(context.Background(), func(tx domain.Tx) error {
				ctx := context.Background()
				market, err := tx.Market(ctx, 77)
				if err != nil {
					return err
				}
				vault, err := tx.Vault(ctx, 77)
				if err != nil {
					return err
				}
				if err := tx.CreatePosition(ctx, domain.Position{
					MarketID:  77,
					Address:   address.Position(market.Address, user),
					User:      user,
					Amount:    amount,
					CreatedAt: created,
				}); err != nil {
					return fmt.Errorf("position %s: %w", user.Hex(), err)
				}
				market.TotalPool += amount
				vault.Balance += amount
				if err := tx.SaveVault(ctx, vault); err != nil {
					return err
				}
				return tx.SaveMarket(ctx, market)
			})
		})
	}
	require.NoError(t, g.Wait())

	view(t, l, func(ctx context.Context, tx domain.ReadTx) error {
		got, err := tx.Market(ctx, 77)
		require.NoError(t, err)
		assert.Equal(t, sum, got.TotalPool)
		vault, err := tx.Vault(ctx, 77)
		require.NoError(t, err)
		assert.Equal(t, sum, vault.Balance)
		positions, err := tx.Positions(ctx, 77)
		require.NoError(t, err)
		assert.Len(t, positions, writers)
		var staked uint64
		for _, p := range positions {
			staked += p.Amount
		}
		assert.Equal(t, sum, staked)
		return nil
	})
}

func ids(ms []domain.Market) []uint64 {
	out := make([]uint64, 0, len(ms))
	for _, m := range ms {
		out = append(out, m.ID)
	}
	return out
}
