package settlement_test

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/privymarket/internal/address"
	"github.com/alanyoungcy/privymarket/internal/commitment"
	"github.com/alanyoungcy/privymarket/internal/domain"
	"github.com/alanyoungcy/privymarket/internal/settlement"
	"github.com/alanyoungcy/privymarket/internal/store/memory"
	"github.com/alanyoungcy/privymarket/internal/store/sqlite"
)

var (
	admin = common.HexToAddress("0x00000000000000000000000000000000000000ad")
	alice = common.HexToAddress("0x000000000000000000000000000000000000a11c")
	bob   = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
	carol = common.HexToAddress("0x00000000000000000000000000000000000ca201")

	epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
)

const claimWindow = time.Hour

type fixture struct {
	t       *testing.T
	ctx     context.Context
	clock   *settlement.ManualClock
	program *settlement.Program
}

func newFixture(t *testing.T) *fixture {
	return newFixtureOn(t, memoryLedger())
}

func newFixtureOn(t *testing.T, ledger domain.Ledger) *fixture {
	t.Helper()
	clock := settlement.NewManualClock(epoch)
	return &fixture{
		t:       t,
		ctx:     context.Background(),
		clock:   clock,
		program: settlement.New(ledger, clock, settlement.Options{ClaimWindow: claimWindow}, discardLogger()),
	}
}

func memoryLedger() domain.Ledger { return memory.NewLedger() }

func sqliteLedger(t *testing.T) domain.Ledger {
	t.Helper()
	db, err := sqlite.Open(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db.Ledger()
}

func discardLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

// ready initializes the registry, opens market 1 with a one-day deadline and
// funds the given users.
func (f *fixture) ready(balance uint64, users ...domain.Identity) domain.Market {
	f.t.Helper()
	_, err := f.program.Initialize(f.ctx, admin)
	require.NoError(f.t, err)
	m, err := f.program.CreateMarket(f.ctx, settlement.CreateMarketParams{
		ID:       1,
		Question: "Will it rain tomorrow?",
		Deadline: epoch.Add(24 * time.Hour),
		Caller:   admin,
	})
	require.NoError(f.t, err)
	for _, u := range users {
		_, err := f.program.Fund(f.ctx, u, balance)
		require.NoError(f.t, err)
	}
	return m
}

func (f *fixture) bet(user domain.Identity, side bool, amount uint64) commitment.Secret {
	f.t.Helper()
	secret, err := commitment.NewSecret()
	require.NoError(f.t, err)
	_, err = f.program.PlaceBet(f.ctx, settlement.PlaceBetParams{
		MarketID:   1,
		Commitment: commitment.Commit(secret, side),
		Amount:     amount,
		Caller:     user,
	})
	require.NoError(f.t, err)
	return secret
}

func (f *fixture) resolve(outcome bool) {
	f.t.Helper()
	f.clock.Set(epoch.Add(24 * time.Hour))
	_, err := f.program.ResolveMarket(f.ctx, settlement.ResolveParams{MarketID: 1, Outcome: outcome, Caller: admin})
	require.NoError(f.t, err)
}

func (f *fixture) claim(user domain.Identity, secret commitment.Secret, side bool) (settlement.Claim, error) {
	return f.program.ClaimWinnings(f.ctx, settlement.ClaimParams{MarketID: 1, Secret: secret, Side: side, Caller: user})
}

func (f *fixture) balance(user domain.Identity) uint64 {
	f.t.Helper()
	acct, err := f.program.Account(f.ctx, user)
	require.NoError(f.t, err)
	return acct.Balance
}

func (f *fixture) detail() settlement.MarketDetail {
	f.t.Helper()
	d, err := f.program.Detail(f.ctx, 1)
	require.NoError(f.t, err)
	return d
}

func TestInitialize(t *testing.T) {
	f := newFixture(t)

	reg, err := f.program.Initialize(f.ctx, admin)
	require.NoError(t, err)
	assert.Equal(t, admin, reg.Admin)
	assert.Equal(t, address.Registry(), reg.Address)

	_, err = f.program.Initialize(f.ctx, alice)
	require.ErrorIs(t, err, domain.ErrAlreadyInitialized)

	got, err := f.program.Registry(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, admin, got.Admin)
}

func TestRegistry_NotInitialized(t *testing.T) {
	f := newFixture(t)
	_, err := f.program.Registry(f.ctx)
	require.ErrorIs(t, err, domain.ErrRegistryNotFound)
}

func TestCreateMarket(t *testing.T) {
	f := newFixture(t)
	m := f.ready(0)

	assert.Equal(t, uint64(1), m.ID)
	assert.Equal(t, address.Market(1), m.Address)
	assert.Equal(t, domain.MarketStatusOpen, m.Status)
	assert.Nil(t, m.Outcome)
	assert.Zero(t, m.TotalPool)
	assert.Zero(t, m.TotalYesPool)
	assert.Zero(t, m.TotalNoPool)
	assert.Equal(t, claimWindow, m.ClaimWindow)
	assert.Equal(t, epoch, m.CreatedAt)

	d := f.detail()
	assert.Equal(t, address.Vault(m.Address), d.Vault.Address)
	assert.Zero(t, d.Vault.Balance)
}

func TestCreateMarket_Failures(t *testing.T) {
	tests := []struct {
		name   string
		params settlement.CreateMarketParams
		want   error
	}{
		{
			name:   "not admin",
			params: settlement.CreateMarketParams{ID: 2, Question: "q", Deadline: epoch.Add(time.Hour), Caller: alice},
			want:   domain.ErrUnauthorized,
		},
		{
			name:   "question too long",
			params: settlement.CreateMarketParams{ID: 2, Question: strings.Repeat("x", 201), Deadline: epoch.Add(time.Hour), Caller: admin},
			want:   domain.ErrQuestionTooLong,
		},
		{
			name:   "deadline now",
			params: settlement.CreateMarketParams{ID: 2, Question: "q", Deadline: epoch, Caller: admin},
			want:   domain.ErrDeadlinePassed,
		},
		{
			name:   "deadline past",
			params: settlement.CreateMarketParams{ID: 2, Question: "q", Deadline: epoch.Add(-time.Minute), Caller: admin},
			want:   domain.ErrDeadlinePassed,
		},
		{
			name:   "id taken",
			params: settlement.CreateMarketParams{ID: 1, Question: "q", Deadline: epoch.Add(time.Hour), Caller: admin},
			want:   domain.ErrMarketExists,
		},
		{
			name:   "unauthorized before validation",
			params: settlement.CreateMarketParams{ID: 1, Question: strings.Repeat("x", 201), Deadline: epoch, Caller: bob},
			want:   domain.ErrUnauthorized,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.ready(0)
			_, err := f.program.CreateMarket(f.ctx, tt.params)
			require.ErrorIs(t, err, tt.want)
		})
	}
}

func TestCreateMarket_QuestionAtLimit(t *testing.T) {
	f := newFixture(t)
	f.ready(0)
	_, err := f.program.CreateMarket(f.ctx, settlement.CreateMarketParams{
		ID:       2,
		Question: strings.Repeat("x", domain.MaxQuestionLen),
		Deadline: epoch.Add(time.Second),
		Caller:   admin,
	})
	require.NoError(t, err)
}

func TestCreateMarket_NoRegistry(t *testing.T) {
	f := newFixture(t)
	_, err := f.program.CreateMarket(f.ctx, settlement.CreateMarketParams{
		ID: 1, Question: "q", Deadline: epoch.Add(time.Hour), Caller: admin,
	})
	require.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestPlaceBet(t *testing.T) {
	f := newFixture(t)
	m := f.ready(1000, alice)

	secret, err := commitment.NewSecret()
	require.NoError(t, err)
	digest := commitment.Commit(secret, true)
	pos, err := f.program.PlaceBet(f.ctx, settlement.PlaceBetParams{
		MarketID: 1, Commitment: digest, Amount: 400, Caller: alice,
	})
	require.NoError(t, err)

	assert.Equal(t, address.Position(m.Address, alice), pos.Address)
	assert.Equal(t, digest, pos.Commitment)
	assert.Equal(t, uint64(400), pos.Amount)
	assert.False(t, pos.Claimed)

	d := f.detail()
	assert.Equal(t, uint64(400), d.Market.TotalPool)
	assert.Zero(t, d.Market.TotalYesPool)
	assert.Zero(t, d.Market.TotalNoPool)
	assert.Equal(t, uint64(400), d.Vault.Balance)
	assert.Equal(t, uint64(600), f.balance(alice))

	got, err := f.program.Position(f.ctx, 1, alice)
	require.NoError(t, err)
	assert.Equal(t, pos, got)
}

func TestPlaceBet_Failures(t *testing.T) {
	digest := commitment.Commit(commitment.Secret{}, true)
	tests := []struct {
		name  string
		setup func(f *fixture)
		param settlement.PlaceBetParams
		want  error
	}{
		{
			name:  "unknown market",
			param: settlement.PlaceBetParams{MarketID: 9, Commitment: digest, Amount: 1, Caller: alice},
			want:  domain.ErrMarketNotFound,
		},
		{
			name:  "zero amount",
			param: settlement.PlaceBetParams{MarketID: 1, Commitment: digest, Amount: 0, Caller: alice},
			want:  domain.ErrInvalidAmount,
		},
		{
			name:  "insufficient funds",
			param: settlement.PlaceBetParams{MarketID: 1, Commitment: digest, Amount: 1001, Caller: alice},
			want:  domain.ErrInsufficientFunds,
		},
		{
			name:  "unfunded caller",
			param: settlement.PlaceBetParams{MarketID: 1, Commitment: digest, Amount: 1, Caller: carol},
			want:  domain.ErrInsufficientFunds,
		},
		{
			name:  "at deadline",
			setup: func(f *fixture) { f.clock.Set(epoch.Add(24 * time.Hour)) },
			param: settlement.PlaceBetParams{MarketID: 1, Commitment: digest, Amount: 1, Caller: alice},
			want:  domain.ErrMarketNotOpen,
		},
		{
			name:  "resolved",
			setup: func(f *fixture) { f.resolve(true) },
			param: settlement.PlaceBetParams{MarketID: 1, Commitment: digest, Amount: 1, Caller: alice},
			want:  domain.ErrMarketNotOpen,
		},
		{
			name:  "duplicate",
			setup: func(f *fixture) { f.bet(alice, false, 10) },
			param: settlement.PlaceBetParams{MarketID: 1, Commitment: digest, Amount: 1, Caller: alice},
			want:  domain.ErrDuplicatePosition,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.ready(1000, alice)
			if tt.setup != nil {
				tt.setup(f)
			}
			before := f.detail()
			_, err := f.program.PlaceBet(f.ctx, tt.param)
			require.ErrorIs(t, err, tt.want)
			assert.Equal(t, before, f.detail())
		})
	}
}

func TestPlaceBet_OneSecondBeforeDeadline(t *testing.T) {
	f := newFixture(t)
	f.ready(10, alice)
	f.clock.Set(epoch.Add(24*time.Hour - time.Second))
	f.bet(alice, true, 10)
	assert.Equal(t, uint64(10), f.detail().Market.TotalPool)
}

func TestResolveMarket(t *testing.T) {
	f := newFixture(t)
	f.ready(0)
	f.clock.Set(epoch.Add(25 * time.Hour))

	m, err := f.program.ResolveMarket(f.ctx, settlement.ResolveParams{MarketID: 1, Outcome: false, Caller: admin})
	require.NoError(t, err)
	assert.Equal(t, domain.MarketStatusResolved, m.Status)
	require.NotNil(t, m.Outcome)
	assert.False(t, *m.Outcome)
	require.NotNil(t, m.ResolvedAt)
	require.NotNil(t, m.ClaimDeadline)
	assert.Equal(t, epoch.Add(25*time.Hour+claimWindow), *m.ClaimDeadline)

	_, err = f.program.ResolveMarket(f.ctx, settlement.ResolveParams{MarketID: 1, Outcome: true, Caller: admin})
	require.ErrorIs(t, err, domain.ErrMarketAlreadyResolved)

	got, err := f.program.Market(f.ctx, 1)
	require.NoError(t, err)
	assert.False(t, *got.Outcome)
}

func TestResolveMarket_Failures(t *testing.T) {
	f := newFixture(t)
	f.ready(0)

	_, err := f.program.ResolveMarket(f.ctx, settlement.ResolveParams{MarketID: 1, Outcome: true, Caller: admin})
	require.ErrorIs(t, err, domain.ErrDeadlineNotPassed)

	f.clock.Set(epoch.Add(24 * time.Hour))
	_, err = f.program.ResolveMarket(f.ctx, settlement.ResolveParams{MarketID: 1, Outcome: true, Caller: alice})
	require.ErrorIs(t, err, domain.ErrUnauthorized)

	_, err = f.program.ResolveMarket(f.ctx, settlement.ResolveParams{MarketID: 7, Outcome: true, Caller: admin})
	require.ErrorIs(t, err, domain.ErrMarketNotFound)

	assert.False(t, f.detail().Market.IsResolved())
}

func TestClaimWinnings(t *testing.T) {
	f := newFixture(t)
	f.ready(1000, alice, bob)
	aliceSecret := f.bet(alice, true, 300)
	f.bet(bob, false, 700)
	f.resolve(true)

	c, err := f.claim(alice, aliceSecret, true)
	require.NoError(t, err)
	assert.Equal(t, uint64(300), c.Payout)
	assert.True(t, c.Position.Claimed)
	assert.Equal(t, uint64(300), c.Market.TotalYesPool)
	assert.Zero(t, c.Market.TotalNoPool)
	assert.Equal(t, uint64(1000), f.balance(alice))
	assert.Equal(t, uint64(700), f.detail().Vault.Balance)

	_, err = f.claim(alice, aliceSecret, true)
	require.ErrorIs(t, err, domain.ErrAlreadyClaimed)
}

func TestClaimWinnings_Failures(t *testing.T) {
	f := newFixture(t)
	f.ready(1000, alice, bob)
	aliceSecret := f.bet(alice, true, 300)
	bobSecret := f.bet(bob, false, 700)

	_, err := f.claim(alice, aliceSecret, true)
	require.ErrorIs(t, err, domain.ErrMarketNotResolved)

	f.resolve(true)
	before := f.detail()

	_, err = f.claim(carol, aliceSecret, true)
	require.ErrorIs(t, err, domain.ErrPositionNotFound)

	_, err = f.claim(alice, aliceSecret, false)
	require.ErrorIs(t, err, domain.ErrInvalidCommitment, "wrong side")

	_, err = f.claim(alice, bobSecret, true)
	require.ErrorIs(t, err, domain.ErrInvalidCommitment, "wrong secret")

	_, err = f.claim(bob, bobSecret, false)
	require.ErrorIs(t, err, domain.ErrNotAWinner)

	assert.Equal(t, before, f.detail())
	assert.Equal(t, uint64(700), f.balance(alice))
	assert.Equal(t, uint64(300), f.balance(bob))

	pos, err := f.program.Position(f.ctx, 1, bob)
	require.NoError(t, err)
	assert.False(t, pos.Claimed)
}

func TestClaimWinnings_WindowClosed(t *testing.T) {
	f := newFixture(t)
	f.ready(100, alice, bob)
	aliceSecret := f.bet(alice, true, 100)
	bobSecret := f.bet(bob, false, 100)
	f.resolve(true)
	f.clock.Advance(claimWindow)

	_, err := f.claim(alice, aliceSecret, true)
	require.ErrorIs(t, err, domain.ErrClaimWindowClosed)

	// Reveal failures still take precedence.
	_, err = f.claim(bob, bobSecret, false)
	require.ErrorIs(t, err, domain.ErrNotAWinner)
	_, err = f.claim(bob, aliceSecret, false)
	require.ErrorIs(t, err, domain.ErrInvalidCommitment)
}

func TestFinalizeMarket(t *testing.T) {
	f := newFixture(t)
	f.ready(1000, alice, bob, carol)
	aliceSecret := f.bet(alice, true, 100)
	bobSecret := f.bet(bob, true, 300)
	f.bet(carol, false, 600)
	f.resolve(true)

	_, err := f.program.FinalizeMarket(f.ctx, settlement.FinalizeParams{MarketID: 1, Caller: carol})
	require.ErrorIs(t, err, domain.ErrClaimWindowOpen)

	_, err = f.claim(alice, aliceSecret, true)
	require.NoError(t, err)
	_, err = f.claim(bob, bobSecret, true)
	require.NoError(t, err)

	f.clock.Advance(claimWindow)
	fin, err := f.program.FinalizeMarket(f.ctx, settlement.FinalizeParams{MarketID: 1, Caller: carol})
	require.NoError(t, err)
	assert.Equal(t, uint64(400), fin.WinningPool)
	assert.Equal(t, uint64(600), fin.LosingPool)
	assert.Equal(t, uint64(600), fin.Distributed)
	assert.Equal(t, 2, fin.Winners)
	assert.True(t, fin.Market.Finalized)

	assert.Equal(t, uint64(1150), f.balance(alice))
	assert.Equal(t, uint64(1450), f.balance(bob))
	assert.Equal(t, uint64(400), f.balance(carol))
	assert.Zero(t, f.detail().Vault.Balance)

	_, err = f.program.FinalizeMarket(f.ctx, settlement.FinalizeParams{MarketID: 1, Caller: admin})
	require.ErrorIs(t, err, domain.ErrAlreadyFinalized)
}

func TestFinalizeMarket_Unresolved(t *testing.T) {
	f := newFixture(t)
	f.ready(0)
	_, err := f.program.FinalizeMarket(f.ctx, settlement.FinalizeParams{MarketID: 1, Caller: alice})
	require.ErrorIs(t, err, domain.ErrMarketNotResolved)
}

func TestFinalizeMarket_NoWinners(t *testing.T) {
	f := newFixture(t)
	f.ready(500, alice, bob)
	f.bet(alice, false, 200)
	f.bet(bob, false, 300)
	f.resolve(true)
	f.clock.Advance(claimWindow)

	fin, err := f.program.FinalizeMarket(f.ctx, settlement.FinalizeParams{MarketID: 1, Caller: alice})
	require.NoError(t, err)
	assert.Zero(t, fin.WinningPool)
	assert.Zero(t, fin.Distributed)
	assert.Equal(t, uint64(500), f.detail().Vault.Balance)
}

func TestFinalizeMarket_DustStaysInVault(t *testing.T) {
	f := newFixture(t)
	f.ready(100, alice, bob, carol)
	aliceSecret := f.bet(alice, true, 1)
	bobSecret := f.bet(bob, true, 2)
	f.bet(carol, false, 10)
	f.resolve(true)
	_, err := f.claim(alice, aliceSecret, true)
	require.NoError(t, err)
	_, err = f.claim(bob, bobSecret, true)
	require.NoError(t, err)
	f.clock.Advance(claimWindow)

	fin, err := f.program.FinalizeMarket(f.ctx, settlement.FinalizeParams{MarketID: 1})
	require.NoError(t, err)
	// floor(1*10/3) + floor(2*10/3) = 3 + 6
	assert.Equal(t, uint64(9), fin.Distributed)
	assert.Equal(t, uint64(1), f.detail().Vault.Balance)
	assert.Equal(t, uint64(103), f.balance(alice))
	assert.Equal(t, uint64(106), f.balance(bob))
}

func TestFinalizeMarket_OrderIndependent(t *testing.T) {
	stakes := map[domain.Identity]uint64{alice: 70, bob: 130, carol: 45}
	run := func(order []domain.Identity) map[domain.Identity]uint64 {
		f := newFixture(t)
		f.ready(1000, alice, bob, carol, admin)
		secrets := make(map[domain.Identity]commitment.Secret)
		for _, u := range []domain.Identity{alice, bob, carol} {
			secrets[u] = f.bet(u, true, stakes[u])
		}
		f.bet(admin, false, 333)
		f.resolve(true)
		for _, u := range order {
			_, err := f.claim(u, secrets[u], true)
			require.NoError(t, err)
		}
		f.clock.Advance(claimWindow)
		_, err := f.program.FinalizeMarket(f.ctx, settlement.FinalizeParams{MarketID: 1})
		require.NoError(t, err)
		return map[domain.Identity]uint64{
			alice: f.balance(alice),
			bob:   f.balance(bob),
			carol: f.balance(carol),
		}
	}

	first := run([]domain.Identity{alice, bob, carol})
	assert.Equal(t, first, run([]domain.Identity{carol, bob, alice}))
	assert.Equal(t, first, run([]domain.Identity{bob, carol, alice}))
	for u, stake := range stakes {
		assert.Equal(t, 1000-stake+settlement.TotalReceived(stake, 333, 245), first[u])
	}
}

func TestFund(t *testing.T) {
	f := newFixture(t)
	acct, err := f.program.Fund(f.ctx, alice, 50)
	require.NoError(t, err)
	assert.Equal(t, uint64(50), acct.Balance)

	_, err = f.program.Fund(f.ctx, alice, 0)
	require.ErrorIs(t, err, domain.ErrInvalidAmount)

	_, err = f.program.Fund(f.ctx, alice, ^uint64(0))
	require.ErrorIs(t, err, domain.ErrOverflow)
	assert.Equal(t, uint64(50), f.balance(alice))
}

func TestConservation(t *testing.T) {
	f := newFixture(t)
	f.ready(1000, alice, bob, carol)
	aliceSecret := f.bet(alice, true, 250)
	f.bet(bob, false, 125)
	carolSecret := f.bet(carol, true, 500)

	total := func() uint64 {
		return f.balance(alice) + f.balance(bob) + f.balance(carol) + f.detail().Vault.Balance
	}
	require.Equal(t, uint64(3000), total())

	f.resolve(true)
	_, err := f.claim(alice, aliceSecret, true)
	require.NoError(t, err)
	require.Equal(t, uint64(3000), total())
	_, err = f.claim(carol, carolSecret, true)
	require.NoError(t, err)
	require.Equal(t, uint64(3000), total())

	f.clock.Advance(claimWindow)
	_, err = f.program.FinalizeMarket(f.ctx, settlement.FinalizeParams{MarketID: 1})
	require.NoError(t, err)
	assert.Equal(t, uint64(3000), total())

	d := f.detail()
	assert.Equal(t, d.Market.TotalPool-d.Market.TotalPaidOut, d.Vault.Balance)
}

func TestSnapshot(t *testing.T) {
	f := newFixture(t)
	f.ready(10, alice, bob)
	f.bet(alice, true, 4)
	f.bet(bob, false, 6)

	snap, err := f.program.Snapshot(f.ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(10), snap.Vault.Balance)
	assert.Len(t, snap.Positions, 2)
	assert.Equal(t, epoch, snap.TakenAt)

	_, err = f.program.Snapshot(f.ctx, 2)
	require.ErrorIs(t, err, domain.ErrMarketNotFound)
}

func TestMarkets(t *testing.T) {
	f := newFixture(t)
	f.ready(0)
	for id := uint64(2); id <= 4; id++ {
		_, err := f.program.CreateMarket(f.ctx, settlement.CreateMarketParams{
			ID: id, Question: "q", Deadline: epoch.Add(time.Hour), Caller: admin,
		})
		require.NoError(t, err)
	}
	f.resolve(true)

	all, err := f.program.Markets(f.ctx, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, uint64(1), all[0].ID)

	resolved, err := f.program.Markets(f.ctx, domain.ListOpts{Status: domain.MarketStatusResolved})
	require.NoError(t, err)
	require.Len(t, resolved, 1)
	assert.Equal(t, uint64(1), resolved[0].ID)

	page, err := f.program.Markets(f.ctx, domain.ListOpts{Limit: 2, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, uint64(2), page[0].ID)
}

func TestPlaceBet_Concurrent(t *testing.T) {
	ledgers := map[string]func(t *testing.T) domain.Ledger{
		"memory": func(*testing.T) domain.Ledger { return memoryLedger() },
		"sqlite": sqliteLedger,
	}
	for name, open := range ledgers {
		t.Run(name, func(t *testing.T) {
			f := newFixtureOn(t, open(t))
			const bettors = 16
			users := make([]domain.Identity, bettors)
			for i := range users {
				users[i] = common.BytesToAddress([]byte{0xbe, byte(i + 1)})
			}
			f.ready(1000, users...)

			var (
				g   errgroup.Group
				sum uint64
			)
			for i, u := range users {
				amount := uint64(i + 1)
				sum += amount
				g.Go(func() error {
					_, err := f.program.PlaceBet(f.ctx, settlement.PlaceBetParams{
						MarketID:   1,
						Commitment: commitment.Commit(commitment.Secret{byte(i + 1)}, i%2 == 0),
						Amount:     amount,
						Caller:     u,
					})
					return err
				})
			}
			require.NoError(t, g.Wait())

			d := f.detail()
			assert.Equal(t, sum, d.Market.TotalPool)
			assert.Equal(t, sum, d.Vault.Balance)
			for i, u := range users {
				assert.Equal(t, 1000-uint64(i+1), f.balance(u))
			}
		})
	}
}

func TestFund_ConcurrentFreshAccount(t *testing.T) {
	f := newFixture(t)
	var g errgroup.Group
	for range 20 {
		g.Go(func() error {
			_, err := f.program.Fund(f.ctx, carol, 5)
			return err
		})
	}
	require.NoError(t, g.Wait())
	assert.Equal(t, uint64(100), f.balance(carol))
}
