// Package service wraps the settlement program with the side effects a
// running ledger needs after each committed operation: an audit trail,
// event publication, cache invalidation, and operator notifications.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/privymarket/internal/domain"
	"github.com/alanyoungcy/privymarket/internal/notify"
	"github.com/alanyoungcy/privymarket/internal/settlement"
)

// registryInitialized is audited but never published.
const registryInitialized domain.EventType = "registry_initialized"

// MarketService runs settlement operations and, once they commit, fans the
// result out. Side-effect failures are logged and never undo or fail a
// committed operation. cache, publisher, audit and notifier may be nil.
type MarketService struct {
	program   *settlement.Program
	cache     domain.MarketCache
	publisher domain.EventPublisher
	audit     domain.AuditStore
	notifier  *notify.Notifier
	logger    *slog.Logger
	newID     func() string
}

// NewMarketService creates a MarketService.
func NewMarketService(
	program *settlement.Program,
	cache domain.MarketCache,
	publisher domain.EventPublisher,
	audit domain.AuditStore,
	notifier *notify.Notifier,
	logger *slog.Logger,
) *MarketService {
	return &MarketService{
		program:   program,
		cache:     cache,
		publisher: publisher,
		audit:     audit,
		notifier:  notifier,
		logger:    logger.With(slog.String("component", "market_service")),
		newID:     uuid.NewString,
	}
}

// Program returns the wrapped settlement program.
func (s *MarketService) Program() *settlement.Program {
	return s.program
}

// Initialize creates the registry with admin as the authority.
func (s *MarketService) Initialize(ctx context.Context, admin domain.Identity) (domain.Registry, error) {
	reg, err := s.program.Initialize(ctx, admin)
	if err != nil {
		return domain.Registry{}, fmt.Errorf("market_service: initialize: %w", err)
	}
	s.committed(ctx, domain.Event{Type: registryInitialized, Actor: admin}, map[string]any{
		"admin":   admin.Hex(),
		"address": reg.Address.Hex(),
	}, false)
	return reg, nil
}

// CreateMarket opens a new market.
func (s *MarketService) CreateMarket(ctx context.Context, params settlement.CreateMarketParams) (domain.Market, error) {
	m, err := s.program.CreateMarket(ctx, params)
	if err != nil {
		return domain.Market{}, fmt.Errorf("market_service: create market %d: %w", params.ID, err)
	}
	s.invalidate(ctx, m.ID)
	s.committed(ctx, domain.Event{Type: domain.EventMarketCreated, MarketID: m.ID, Actor: params.Caller}, map[string]any{
		"market_id": m.ID,
		"question":  m.Question,
		"deadline":  m.Deadline.Format(time.RFC3339),
	}, true)
	return m, nil
}

// PlaceBet escrows a hidden position. The side is never known here.
func (s *MarketService) PlaceBet(ctx context.Context, params settlement.PlaceBetParams) (domain.Position, error) {
	pos, err := s.program.PlaceBet(ctx, params)
	if err != nil {
		return domain.Position{}, fmt.Errorf("market_service: place bet on %d: %w", params.MarketID, err)
	}
	s.invalidate(ctx, pos.MarketID)
	s.committed(ctx, domain.Event{
		Type:     domain.EventBetPlaced,
		MarketID: pos.MarketID,
		Actor:    params.Caller,
		Amount:   pos.Amount,
	}, map[string]any{
		"market_id":  pos.MarketID,
		"user":       params.Caller.Hex(),
		"amount":     pos.Amount,
		"commitment": pos.Commitment.Hex(),
	}, true)
	return pos, nil
}

// ResolveMarket records the outcome.
func (s *MarketService) ResolveMarket(ctx context.Context, params settlement.ResolveParams) (domain.Market, error) {
	m, err := s.program.ResolveMarket(ctx, params)
	if err != nil {
		return domain.Market{}, fmt.Errorf("market_service: resolve market %d: %w", params.MarketID, err)
	}
	s.invalidate(ctx, m.ID)
	outcome := params.Outcome
	detail := map[string]any{"market_id": m.ID, "outcome": outcome}
	if m.ClaimDeadline != nil {
		detail["claim_deadline"] = m.ClaimDeadline.Format(time.RFC3339)
	}
	s.committed(ctx, domain.Event{
		Type:     domain.EventMarketResolved,
		MarketID: m.ID,
		Actor:    params.Caller,
		Outcome:  &outcome,
	}, detail, true)
	return m, nil
}

// ClaimWinnings reveals a position and returns the stake of a winner.
func (s *MarketService) ClaimWinnings(ctx context.Context, params settlement.ClaimParams) (settlement.Claim, error) {
	c, err := s.program.ClaimWinnings(ctx, params)
	if err != nil {
		return settlement.Claim{}, fmt.Errorf("market_service: claim on %d: %w", params.MarketID, err)
	}
	s.invalidate(ctx, c.Market.ID)
	s.committed(ctx, domain.Event{
		Type:     domain.EventWinningsClaimed,
		MarketID: c.Market.ID,
		Actor:    params.Caller,
		Amount:   c.Payout,
	}, map[string]any{
		"market_id": c.Market.ID,
		"user":      params.Caller.Hex(),
		"payout":    c.Payout,
	}, true)
	return c, nil
}

// FinalizeMarket distributes the losing pool after the claim window.
func (s *MarketService) FinalizeMarket(ctx context.Context, params settlement.FinalizeParams) (settlement.Finalization, error) {
	fin, err := s.program.FinalizeMarket(ctx, params)
	if err != nil {
		return settlement.Finalization{}, fmt.Errorf("market_service: finalize market %d: %w", params.MarketID, err)
	}
	s.invalidate(ctx, fin.Market.ID)
	s.committed(ctx, domain.Event{
		Type:     domain.EventMarketFinalized,
		MarketID: fin.Market.ID,
		Actor:    params.Caller,
		Amount:   fin.Distributed,
	}, map[string]any{
		"market_id":    fin.Market.ID,
		"winning_pool": fin.WinningPool,
		"losing_pool":  fin.LosingPool,
		"distributed":  fin.Distributed,
		"winners":      fin.Winners,
	}, true)
	return fin, nil
}

// Fund credits an account from the faucet.
func (s *MarketService) Fund(ctx context.Context, owner domain.Identity, amount uint64) (domain.Account, error) {
	acct, err := s.program.Fund(ctx, owner, amount)
	if err != nil {
		return domain.Account{}, fmt.Errorf("market_service: fund %s: %w", owner.Hex(), err)
	}
	s.committed(ctx, domain.Event{Type: domain.EventAccountFunded, Actor: owner, Amount: amount}, map[string]any{
		"owner":   owner.Hex(),
		"amount":  amount,
		"balance": acct.Balance,
	}, true)
	return acct, nil
}

// GetMarket returns a market, reading through the cache when one is set.
func (s *MarketService) GetMarket(ctx context.Context, id uint64) (domain.Market, error) {
	if s.cache != nil {
		if m, err := s.cache.Get(ctx, id); err == nil {
			return m, nil
		} else if !errors.Is(err, domain.ErrNotFound) {
			s.logger.WarnContext(ctx, "market_service: cache get failed",
				slog.Uint64("market_id", id),
				slog.String("error", err.Error()),
			)
		}
	}

	m, err := s.program.Market(ctx, id)
	if err != nil {
		return domain.Market{}, fmt.Errorf("market_service: get market %d: %w", id, err)
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, m); err != nil {
			s.logger.WarnContext(ctx, "market_service: cache set failed",
				slog.Uint64("market_id", id),
				slog.String("error", err.Error()),
			)
		}
	}
	return m, nil
}

// ListMarkets returns markets straight from the ledger.
func (s *MarketService) ListMarkets(ctx context.Context, opts domain.ListOpts) ([]domain.Market, error) {
	markets, err := s.program.Markets(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("market_service: list markets: %w", err)
	}
	return markets, nil
}

// Detail returns a market with its vault.
func (s *MarketService) Detail(ctx context.Context, id uint64) (settlement.MarketDetail, error) {
	d, err := s.program.Detail(ctx, id)
	if err != nil {
		return settlement.MarketDetail{}, fmt.Errorf("market_service: detail %d: %w", id, err)
	}
	return d, nil
}

// Position returns the position of user on a market.
func (s *MarketService) Position(ctx context.Context, marketID uint64, user domain.Identity) (domain.Position, error) {
	p, err := s.program.Position(ctx, marketID, user)
	if err != nil {
		return domain.Position{}, fmt.Errorf("market_service: position %d/%s: %w", marketID, user.Hex(), err)
	}
	return p, nil
}

// Account returns the balance of owner.
func (s *MarketService) Account(ctx context.Context, owner domain.Identity) (domain.Account, error) {
	a, err := s.program.Account(ctx, owner)
	if err != nil {
		return domain.Account{}, fmt.Errorf("market_service: account %s: %w", owner.Hex(), err)
	}
	return a, nil
}

// History returns the audit entries recorded for a market, newest first.
// opts.MarketID is overwritten with id.
func (s *MarketService) History(ctx context.Context, id uint64, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	if _, err := s.program.Market(ctx, id); err != nil {
		return nil, fmt.Errorf("market_service: history %d: %w", id, err)
	}
	if s.audit == nil {
		return []domain.AuditEntry{}, nil
	}
	opts.MarketID = &id
	entries, err := s.audit.List(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("market_service: history %d: %w", id, err)
	}
	return entries, nil
}

// Registry returns the authority registry.
func (s *MarketService) Registry(ctx context.Context) (domain.Registry, error) {
	r, err := s.program.Registry(ctx)
	if err != nil {
		return domain.Registry{}, fmt.Errorf("market_service: registry: %w", err)
	}
	return r, nil
}

func (s *MarketService) invalidate(ctx context.Context, id uint64) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, id); err != nil {
		// The entry expires on its own.
		s.logger.WarnContext(ctx, "market_service: cache invalidate failed",
			slog.Uint64("market_id", id),
			slog.String("error", err.Error()),
		)
	}
}

// committed stamps evt, writes the audit entry and, when publish is set,
// hands evt to the publisher and notifier.
func (s *MarketService) committed(ctx context.Context, evt domain.Event, detail map[string]any, publish bool) {
	evt.ID = s.newID()
	evt.At = s.program.Now()
	detail["event_id"] = evt.ID

	if s.audit != nil {
		if err := s.audit.Log(ctx, "settlement."+string(evt.Type), detail); err != nil {
			s.logger.ErrorContext(ctx, "market_service: audit log failed",
				slog.String("event", string(evt.Type)),
				slog.String("error", err.Error()),
			)
		}
	}
	if !publish {
		return
	}
	if s.publisher != nil {
		if err := s.publisher.PublishEvent(ctx, evt); err != nil {
			s.logger.WarnContext(ctx, "market_service: publish failed",
				slog.String("event", string(evt.Type)),
				slog.String("event_id", evt.ID),
				slog.String("error", err.Error()),
			)
		}
	}
	if err := s.notifier.NotifyEvent(ctx, evt); err != nil {
		s.logger.WarnContext(ctx, "market_service: notify failed",
			slog.String("event", string(evt.Type)),
			slog.String("error", err.Error()),
		)
	}
	s.logger.InfoContext(ctx, "market_service: committed",
		slog.String("event", string(evt.Type)),
		slog.String("event_id", evt.ID),
		slog.Uint64("market_id", evt.MarketID),
	)
}
