package settlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/alanyoungcy/privymarket/internal/domain"
)

// Registry returns the authority registry.
func (p *Program) Registry(ctx context.Context) (domain.Registry, error) {
	var reg domain.Registry
	err := p.ledger.View(ctx, func(tx domain.ReadTx) error {
		var err error
		reg, err = tx.Registry(ctx)
		if errors.Is(err, domain.ErrNotFound) {
			return domain.ErrRegistryNotFound
		}
		return err
	})
	return reg, err
}

// Market returns the market with the given id.
func (p *Program) Market(ctx context.Context, id uint64) (domain.Market, error) {
	var m domain.Market
	err := p.ledger.View(ctx, func(tx domain.ReadTx) error {
		var err error
		m, err = p.market(ctx, tx, id)
		return err
	})
	return m, err
}

// Markets lists markets ordered by id.
func (p *Program) Markets(ctx context.Context, opts domain.ListOpts) ([]domain.Market, error) {
	var out []domain.Market
	err := p.ledger.View(ctx, func(tx domain.ReadTx) error {
		var err error
		out, err = tx.Markets(ctx, opts)
		if err != nil {
			return fmt.Errorf("settlement: list markets: %w", err)
		}
		return nil
	})
	return out, err
}

// MarketDetail is a market together with its vault.
type MarketDetail struct {
	Market domain.Market `json:"market"`
	Vault  domain.Vault  `json:"vault"`
}

// Detail returns the market and its vault read in one transaction.
func (p *Program) Detail(ctx context.Context, id uint64) (MarketDetail, error) {
	var d MarketDetail
	err := p.ledger.View(ctx, func(tx domain.ReadTx) error {
		var err error
		if d.Market, err = p.market(ctx, tx, id); err != nil {
			return err
		}
		if d.Vault, err = tx.Vault(ctx, id); err != nil {
			return fmt.Errorf("settlement: read vault %d: %w", id, err)
		}
		return nil
	})
	return d, err
}

// Position returns user's position on a market.
func (p *Program) Position(ctx context.Context, marketID uint64, user domain.Identity) (domain.Position, error) {
	var pos domain.Position
	err := p.ledger.View(ctx, func(tx domain.ReadTx) error {
		if _, err := p.market(ctx, tx, marketID); err != nil {
			return err
		}
		var err error
		pos, err = tx.Position(ctx, marketID, user)
		if errors.Is(err, domain.ErrNotFound) {
			return domain.ErrPositionNotFound
		}
		return err
	})
	return pos, err
}

// Snapshot reads a market, its vault and all of its positions together.
func (p *Program) Snapshot(ctx context.Context, marketID uint64) (domain.MarketSnapshot, error) {
	var snap domain.MarketSnapshot
	err := p.ledger.View(ctx, func(tx domain.ReadTx) error {
		var err error
		if snap.Market, err = p.market(ctx, tx, marketID); err != nil {
			return err
		}
		if snap.Vault, err = tx.Vault(ctx, marketID); err != nil {
			return fmt.Errorf("settlement: read vault %d: %w", marketID, err)
		}
		if snap.Positions, err = tx.Positions(ctx, marketID); err != nil {
			return fmt.Errorf("settlement: list positions %d: %w", marketID, err)
		}
		return nil
	})
	if err != nil {
		return domain.MarketSnapshot{}, err
	}
	snap.TakenAt = p.clock.Now()
	return snap, nil
}

// Account returns owner's balance. Never-funded owners have a zero balance.
func (p *Program) Account(ctx context.Context, owner domain.Identity) (domain.Account, error) {
	var acct domain.Account
	err := p.ledger.View(ctx, func(tx domain.ReadTx) error {
		var err error
		acct, err = p.account(ctx, tx, owner)
		return err
	})
	return acct, err
}

// Now returns the program clock's current time.
func (p *Program) Now() time.Time {
	return p.clock.Now()
}
