// Package settlement implements the pari-mutuel settlement core: the market
// lifecycle state machine, escrow accounting, and commit-reveal claims.
//
// Every operation runs as a single ledger transaction. All preconditions are
// checked before the first write, and the first violated precondition aborts
// the transaction with a domain.LedgerError, leaving state untouched.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/privymarket/internal/address"
	"github.com/alanyoungcy/privymarket/internal/commitment"
	"github.com/alanyoungcy/privymarket/internal/domain"
)

// DefaultClaimWindow is how long winners may claim after resolution when
// neither the market nor the program configures a window.
const DefaultClaimWindow = 7 * 24 * time.Hour

// Options configures a Program.
type Options struct {
	// ClaimWindow is applied to markets created without an explicit window.
	ClaimWindow time.Duration
}

// Program executes settlement operations against a ledger.
type Program struct {
	ledger      domain.Ledger
	clock       Clock
	claimWindow time.Duration
	logger      *slog.Logger
}

// New creates a Program. A nil clock means SystemClock.
func New(ledger domain.Ledger, clock Clock, opts Options, logger *slog.Logger) *Program {
	if clock == nil {
		clock = SystemClock{}
	}
	window := opts.ClaimWindow
	if window <= 0 {
		window = DefaultClaimWindow
	}
	return &Program{
		ledger:      ledger,
		clock:       clock,
		claimWindow: window,
		logger:      logger.With(slog.String("component", "settlement")),
	}
}

// Initialize creates the authority registry with admin as the authority.
func (p *Program) Initialize(ctx context.Context, admin domain.Identity) (domain.Registry, error) {
	var reg domain.Registry
	err := p.ledger.Update(ctx, func(tx domain.Tx) error {
		_, err := tx.Registry(ctx)
		switch {
		case err == nil:
			return domain.ErrAlreadyInitialized
		case !errors.Is(err, domain.ErrNotFound):
			return fmt.Errorf("settlement: initialize: read registry: %w", err)
		}

		reg = domain.Registry{
			Address:   address.Registry(),
			Admin:     admin,
			CreatedAt: p.clock.Now(),
		}
		if err := tx.CreateRegistry(ctx, reg); err != nil {
			if errors.Is(err, domain.ErrAlreadyExists) {
				return domain.ErrAlreadyInitialized
			}
			return fmt.Errorf("settlement: initialize: %w", err)
		}
		return nil
	})
	if err != nil {
		return domain.Registry{}, err
	}

	p.logger.DebugContext(ctx, "settlement: registry initialized",
		slog.String("admin", admin.Hex()),
	)
	return reg, nil
}

// CreateMarketParams are the inputs of CreateMarket.
type CreateMarketParams struct {
	ID       uint64
	Question string
	Deadline time.Time
	// ClaimWindow overrides the program default when positive.
	ClaimWindow time.Duration
	Caller      domain.Identity
}

// CreateMarket opens a market and its empty vault. Only the authority may
// create markets.
func (p *Program) CreateMarket(ctx context.Context, params CreateMarketParams) (domain.Market, error) {
	var m domain.Market
	err := p.ledger.Update(ctx, func(tx domain.Tx) error {
		if err := p.authorize(ctx, tx, params.Caller); err != nil {
			return err
		}
		if len(params.Question) > domain.MaxQuestionLen {
			return domain.ErrQuestionTooLong
		}
		now := p.clock.Now()
		deadline := params.Deadline.UTC().Truncate(time.Second)
		if !deadline.After(now) {
			return domain.ErrDeadlinePassed
		}

		_, err := tx.Market(ctx, params.ID)
		switch {
		case err == nil:
			return domain.ErrMarketExists
		case !errors.Is(err, domain.ErrNotFound):
			return fmt.Errorf("settlement: create market %d: read market: %w", params.ID, err)
		}

		window := params.ClaimWindow
		if window <= 0 {
			window = p.claimWindow
		}
		marketAddr := address.Market(params.ID)
		m = domain.Market{
			ID:          params.ID,
			Address:     marketAddr,
			Creator:     params.Caller,
			Question:    params.Question,
			Deadline:    deadline,
			Status:      domain.MarketStatusOpen,
			ClaimWindow: window,
			CreatedAt:   now,
		}
		v := domain.Vault{
			MarketID: params.ID,
			Address:  address.Vault(marketAddr),
		}
		if err := tx.CreateMarket(ctx, m, v); err != nil {
			if errors.Is(err, domain.ErrAlreadyExists) {
				return domain.ErrMarketExists
			}
			return fmt.Errorf("settlement: create market %d: %w", params.ID, err)
		}
		return nil
	})
	if err != nil {
		return domain.Market{}, err
	}

	p.logger.DebugContext(ctx, "settlement: market created",
		slog.Uint64("market_id", m.ID),
		slog.Time("deadline", m.Deadline),
	)
	return m, nil
}

// PlaceBetParams are the inputs of PlaceBet.
type PlaceBetParams struct {
	MarketID   uint64
	Commitment commitment.Digest
	Amount     uint64
	Caller     domain.Identity
}

// PlaceBet escrows Amount from the caller's account behind a commitment. The
// side inside the commitment is never inspected, so only TotalPool moves.
func (p *Program) PlaceBet(ctx context.Context, params PlaceBetParams) (domain.Position, error) {
	var pos domain.Position
	err := p.ledger.Update(ctx, func(tx domain.Tx) error {
		m, err := p.market(ctx, tx, params.MarketID)
		if err != nil {
			return err
		}
		now := p.clock.Now()
		if !m.AcceptsBets(now) {
			return domain.ErrMarketNotOpen
		}
		if params.Amount == 0 {
			return domain.ErrInvalidAmount
		}

		_, err = tx.Position(ctx, m.ID, params.Caller)
		switch {
		case err == nil:
			return domain.ErrDuplicatePosition
		case !errors.Is(err, domain.ErrNotFound):
			return fmt.Errorf("settlement: place bet: read position: %w", err)
		}

		acct, err := p.account(ctx, tx, params.Caller)
		if err != nil {
			return err
		}
		if acct.Balance < params.Amount {
			return domain.ErrInsufficientFunds
		}
		vault, err := tx.Vault(ctx, m.ID)
		if err != nil {
			return fmt.Errorf("settlement: place bet: read vault: %w", err)
		}
		if m.TotalPool, err = add(m.TotalPool, params.Amount); err != nil {
			return err
		}
		if vault.Balance, err = add(vault.Balance, params.Amount); err != nil {
			return err
		}
		acct.Balance -= params.Amount

		pos = domain.Position{
			MarketID:   m.ID,
			Address:    address.Position(m.Address, params.Caller),
			User:       params.Caller,
			Commitment: params.Commitment,
			Amount:     params.Amount,
			CreatedAt:  now,
		}
		if err := tx.CreatePosition(ctx, pos); err != nil {
			if errors.Is(err, domain.ErrAlreadyExists) {
				return domain.ErrDuplicatePosition
			}
			return fmt.Errorf("settlement: place bet: create position: %w", err)
		}
		if err := tx.SaveAccount(ctx, acct); err != nil {
			return fmt.Errorf("settlement: place bet: debit account: %w", err)
		}
		if err := tx.SaveVault(ctx, vault); err != nil {
			return fmt.Errorf("settlement: place bet: credit vault: %w", err)
		}
		if err := tx.SaveMarket(ctx, m); err != nil {
			return fmt.Errorf("settlement: place bet: save market: %w", err)
		}
		return nil
	})
	if err != nil {
		return domain.Position{}, err
	}

	p.logger.DebugContext(ctx, "settlement: bet placed",
		slog.Uint64("market_id", pos.MarketID),
		slog.String("user", pos.User.Hex()),
		slog.Uint64("amount", pos.Amount),
	)
	return pos, nil
}

// ResolveParams are the inputs of ResolveMarket.
type ResolveParams struct {
	MarketID uint64
	Outcome  bool
	Caller   domain.Identity
}

// ResolveMarket records the outcome of a market whose deadline has passed and
// opens its claim window. Resolution is terminal.
func (p *Program) ResolveMarket(ctx context.Context, params ResolveParams) (domain.Market, error) {
	var m domain.Market
	err := p.ledger.Update(ctx, func(tx domain.Tx) error {
		if err := p.authorize(ctx, tx, params.Caller); err != nil {
			return err
		}
		var err error
		if m, err = p.market(ctx, tx, params.MarketID); err != nil {
			return err
		}
		if m.IsResolved() {
			return domain.ErrMarketAlreadyResolved
		}
		now := p.clock.Now()
		if now.Before(m.Deadline) {
			return domain.ErrDeadlineNotPassed
		}

		outcome := params.Outcome
		claimDeadline := now.Add(m.ClaimWindow)
		m.Status = domain.MarketStatusResolved
		m.Outcome = &outcome
		m.ResolvedAt = &now
		m.ClaimDeadline = &claimDeadline
		if err := tx.SaveMarket(ctx, m); err != nil {
			return fmt.Errorf("settlement: resolve market %d: %w", m.ID, err)
		}
		return nil
	})
	if err != nil {
		return domain.Market{}, err
	}

	p.logger.DebugContext(ctx, "settlement: market resolved",
		slog.Uint64("market_id", m.ID),
		slog.Bool("outcome", *m.Outcome),
	)
	return m, nil
}

// ClaimParams are the inputs of ClaimWinnings.
type ClaimParams struct {
	MarketID uint64
	Secret   commitment.Secret
	Side     bool
	Caller   domain.Identity
}

// Claim is the result of a successful ClaimWinnings.
type Claim struct {
	Market   domain.Market
	Position domain.Position
	Payout   uint64
}

// ClaimWinnings reveals the caller's position. A winning reveal returns the
// stake from the vault immediately and records it as winning stake; the
// losing-pool share follows at FinalizeMarket.
//
// Wrong secret and wrong side both fail with ErrInvalidCommitment. A valid
// losing reveal fails with ErrNotAWinner and changes nothing.
func (p *Program) ClaimWinnings(ctx context.Context, params ClaimParams) (Claim, error) {
	var claim Claim
	err := p.ledger.Update(ctx, func(tx domain.Tx) error {
		m, err := p.market(ctx, tx, params.MarketID)
		if err != nil {
			return err
		}
		if !m.IsResolved() {
			return domain.ErrMarketNotResolved
		}
		pos, err := tx.Position(ctx, m.ID, params.Caller)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return domain.ErrPositionNotFound
			}
			return fmt.Errorf("settlement: claim: read position: %w", err)
		}
		if pos.Claimed {
			return domain.ErrAlreadyClaimed
		}
		if !commitment.Verify(params.Secret, params.Side, pos.Commitment) {
			return domain.ErrInvalidCommitment
		}
		if params.Side != *m.Outcome {
			return domain.ErrNotAWinner
		}
		now := p.clock.Now()
		if m.ClaimDeadline != nil && !now.Before(*m.ClaimDeadline) {
			return domain.ErrClaimWindowClosed
		}

		vault, err := tx.Vault(ctx, m.ID)
		if err != nil {
			return fmt.Errorf("settlement: claim: read vault: %w", err)
		}
		if vault.Balance < pos.Amount {
			return domain.ErrInsufficientVaultBalance
		}
		acct, err := p.account(ctx, tx, params.Caller)
		if err != nil {
			return err
		}
		if acct.Balance, err = add(acct.Balance, pos.Amount); err != nil {
			return err
		}
		if *m.Outcome {
			m.TotalYesPool, err = add(m.TotalYesPool, pos.Amount)
		} else {
			m.TotalNoPool, err = add(m.TotalNoPool, pos.Amount)
		}
		if err != nil {
			return err
		}
		if m.TotalPaidOut, err = add(m.TotalPaidOut, pos.Amount); err != nil {
			return err
		}
		vault.Balance -= pos.Amount

		pos.Claimed = true
		pos.ClaimedAt = &now
		pos.Payout = pos.Amount

		if err := tx.SavePosition(ctx, pos); err != nil {
			return fmt.Errorf("settlement: claim: save position: %w", err)
		}
		if err := tx.SaveVault(ctx, vault); err != nil {
			return fmt.Errorf("settlement: claim: debit vault: %w", err)
		}
		if err := tx.SaveAccount(ctx, acct); err != nil {
			return fmt.Errorf("settlement: claim: credit account: %w", err)
		}
		if err := tx.SaveMarket(ctx, m); err != nil {
			return fmt.Errorf("settlement: claim: save market: %w", err)
		}
		claim = Claim{Market: m, Position: pos, Payout: pos.Payout}
		return nil
	})
	if err != nil {
		return Claim{}, err
	}

	p.logger.DebugContext(ctx, "settlement: winnings claimed",
		slog.Uint64("market_id", claim.Market.ID),
		slog.String("user", claim.Position.User.Hex()),
		slog.Uint64("payout", claim.Payout),
	)
	return claim, nil
}

// FinalizeParams are the inputs of FinalizeMarket.
type FinalizeParams struct {
	MarketID uint64
	Caller   domain.Identity
}

// Finalization summarises a FinalizeMarket distribution.
type Finalization struct {
	Market      domain.Market
	WinningPool uint64
	LosingPool  uint64
	Distributed uint64
	Winners     int
}

// FinalizeMarket distributes the losing pool among claimed winners once the
// claim window has closed. Each winner receives
//
//	floor(amount * losing / winning)
//
// where winning is the stake revealed during the window. The result depends
// only on the set of claims, never on their order. Anyone may finalize.
func (p *Program) FinalizeMarket(ctx context.Context, params FinalizeParams) (Finalization, error) {
	var fin Finalization
	err := p.ledger.Update(ctx, func(tx domain.Tx) error {
		m, err := p.market(ctx, tx, params.MarketID)
		if err != nil {
			return err
		}
		if !m.IsResolved() {
			return domain.ErrMarketNotResolved
		}
		if m.Finalized {
			return domain.ErrAlreadyFinalized
		}
		now := p.clock.Now()
		if m.ClaimDeadline != nil && now.Before(*m.ClaimDeadline) {
			return domain.ErrClaimWindowOpen
		}

		positions, err := tx.Positions(ctx, m.ID)
		if err != nil {
			return fmt.Errorf("settlement: finalize: list positions: %w", err)
		}
		vault, err := tx.Vault(ctx, m.ID)
		if err != nil {
			return fmt.Errorf("settlement: finalize: read vault: %w", err)
		}

		winning, losing := m.WinningPool(), m.LosingPool()
		type credit struct {
			pos   domain.Position
			bonus uint64
		}
		var credits []credit
		var total uint64
		for _, pos := range positions {
			if !pos.Claimed {
				continue
			}
			b := Bonus(pos.Amount, losing, winning)
			credits = append(credits, credit{pos: pos, bonus: b})
			if total, err = add(total, b); err != nil {
				return err
			}
		}
		if vault.Balance < total {
			return domain.ErrInsufficientVaultBalance
		}

		for _, c := range credits {
			if c.bonus == 0 {
				continue
			}
			acct, err := p.account(ctx, tx, c.pos.User)
			if err != nil {
				return err
			}
			if acct.Balance, err = add(acct.Balance, c.bonus); err != nil {
				return err
			}
			c.pos.Bonus = c.bonus
			if err := tx.SavePosition(ctx, c.pos); err != nil {
				return fmt.Errorf("settlement: finalize: save position: %w", err)
			}
			if err := tx.SaveAccount(ctx, acct); err != nil {
				return fmt.Errorf("settlement: finalize: credit account: %w", err)
			}
		}

		vault.Balance -= total
		if m.TotalPaidOut, err = add(m.TotalPaidOut, total); err != nil {
			return err
		}
		m.Finalized = true
		m.FinalizedAt = &now
		if err := tx.SaveVault(ctx, vault); err != nil {
			return fmt.Errorf("settlement: finalize: debit vault: %w", err)
		}
		if err := tx.SaveMarket(ctx, m); err != nil {
			return fmt.Errorf("settlement: finalize: save market: %w", err)
		}

		fin = Finalization{
			Market:      m,
			WinningPool: winning,
			LosingPool:  losing,
			Distributed: total,
			Winners:     len(credits),
		}
		return nil
	})
	if err != nil {
		return Finalization{}, err
	}

	p.logger.DebugContext(ctx, "settlement: market finalized",
		slog.Uint64("market_id", fin.Market.ID),
		slog.Uint64("distributed", fin.Distributed),
		slog.Int("winners", fin.Winners),
	)
	return fin, nil
}

// Fund credits amount to owner's account. It stands in for the host ledger's
// airdrop and is only exposed when the faucet is enabled.
func (p *Program) Fund(ctx context.Context, owner domain.Identity, amount uint64) (domain.Account, error) {
	if amount == 0 {
		return domain.Account{}, domain.ErrInvalidAmount
	}
	var acct domain.Account
	err := p.ledger.Update(ctx, func(tx domain.Tx) error {
		var err error
		if acct, err = p.account(ctx, tx, owner); err != nil {
			return err
		}
		if acct.Balance, err = add(acct.Balance, amount); err != nil {
			return err
		}
		if err := tx.SaveAccount(ctx, acct); err != nil {
			return fmt.Errorf("settlement: fund: %w", err)
		}
		return nil
	})
	if err != nil {
		return domain.Account{}, err
	}
	return acct, nil
}

// authorize fails with ErrUnauthorized unless caller is the registry admin.
// A missing registry authorizes nobody.
func (p *Program) authorize(ctx context.Context, tx domain.ReadTx, caller domain.Identity) error {
	reg, err := tx.Registry(ctx)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.ErrUnauthorized
		}
		return fmt.Errorf("settlement: read registry: %w", err)
	}
	if reg.Admin != caller {
		return domain.ErrUnauthorized
	}
	return nil
}

func (p *Program) market(ctx context.Context, tx domain.ReadTx, id uint64) (domain.Market, error) {
	m, err := tx.Market(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Market{}, domain.ErrMarketNotFound
		}
		return domain.Market{}, fmt.Errorf("settlement: read market %d: %w", id, err)
	}
	return m, nil
}

// account returns owner's account, or an empty one if it was never funded.
func (p *Program) account(ctx context.Context, tx domain.ReadTx, owner domain.Identity) (domain.Account, error) {
	acct, err := tx.Account(ctx, owner)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Account{Owner: owner}, nil
		}
		return domain.Account{}, fmt.Errorf("settlement: read account %s: %w", owner.Hex(), err)
	}
	return acct, nil
}
