// Package memory provides an in-process ledger backend. It keeps all records
// in maps guarded by a single mutex and is intended for tests, local demos
// and single-node deployments that do not need durability.
package memory

import (
	"context"
	"maps"
	"sort"
	"sync"

	"github.com/alanyoungcy/privymarket/internal/domain"
)

type positionKey struct {
	market uint64
	user   domain.Identity
}

type state struct {
	registry  *domain.Registry
	markets   map[uint64]domain.Market
	vaults    map[uint64]domain.Vault
	positions map[positionKey]domain.Position
	accounts  map[domain.Identity]domain.Account
}

func newState() *state {
	return &state{
		markets:   make(map[uint64]domain.Market),
		vaults:    make(map[uint64]domain.Vault),
		positions: make(map[positionKey]domain.Position),
		accounts:  make(map[domain.Identity]domain.Account),
	}
}

func (s *state) clone() *state {
	c := &state{
		markets:   maps.Clone(s.markets),
		vaults:    maps.Clone(s.vaults),
		positions: maps.Clone(s.positions),
		accounts:  maps.Clone(s.accounts),
	}
	if s.registry != nil {
		reg := *s.registry
		c.registry = &reg
	}
	return c
}

// Ledger implements domain.Ledger in memory. Update transactions are fully
// serialized; each runs against a private copy that replaces the live state
// only when fn succeeds.
type Ledger struct {
	mu    sync.RWMutex
	state *state
}

var _ domain.Ledger = (*Ledger)(nil)

// NewLedger returns an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{state: newState()}
}

// Update runs fn in a read-write transaction.
func (l *Ledger) Update(ctx context.Context, fn func(tx domain.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	work := l.state.clone()
	if err := fn(&tx{s: work}); err != nil {
		return err
	}
	l.state = work
	return nil
}

// View runs fn in a read-only transaction.
func (l *Ledger) View(ctx context.Context, fn func(tx domain.ReadTx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	return fn(&tx{s: l.state})
}

// Close is a no-op.
func (l *Ledger) Close() error { return nil }

type tx struct {
	s *state
}

func (t *tx) Registry(_ context.Context) (domain.Registry, error) {
	if t.s.registry == nil {
		return domain.Registry{}, domain.ErrNotFound
	}
	return *t.s.registry, nil
}

func (t *tx) Market(_ context.Context, id uint64) (domain.Market, error) {
	m, ok := t.s.markets[id]
	if !ok {
		return domain.Market{}, domain.ErrNotFound
	}
	return m, nil
}

func (t *tx) Markets(_ context.Context, opts domain.ListOpts) ([]domain.Market, error) {
	out := make([]domain.Market, 0, len(t.s.markets))
	for _, m := range t.s.markets {
		if opts.Status != "" && m.Status != opts.Status {
			continue
		}
		if opts.Since != nil && m.CreatedAt.Before(*opts.Since) {
			continue
		}
		if opts.Until != nil && !m.CreatedAt.Before(*opts.Until) {
			continue
		}
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })

	if opts.Offset > 0 {
		if opts.Offset >= len(out) {
			return []domain.Market{}, nil
		}
		out = out[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(out) {
		out = out[:opts.Limit]
	}
	return out, nil
}

func (t *tx) Vault(_ context.Context, marketID uint64) (domain.Vault, error) {
	v, ok := t.s.vaults[marketID]
	if !ok {
		return domain.Vault{}, domain.ErrNotFound
	}
	return v, nil
}

func (t *tx) Position(_ context.Context, marketID uint64, user domain.Identity) (domain.Position, error) {
	p, ok := t.s.positions[positionKey{marketID, user}]
	if !ok {
		return domain.Position{}, domain.ErrNotFound
	}
	return p, nil
}

func (t *tx) Positions(_ context.Context, marketID uint64) ([]domain.Position, error) {
	var out []domain.Position
	for k, p := range t.s.positions {
		if k.market == marketID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].User.Cmp(out[j].User) < 0
	})
	return out, nil
}

func (t *tx) Account(_ context.Context, owner domain.Identity) (domain.Account, error) {
	a, ok := t.s.accounts[owner]
	if !ok {
		return domain.Account{}, domain.ErrNotFound
	}
	return a, nil
}

func (t *tx) CreateRegistry(_ context.Context, r domain.Registry) error {
	if t.s.registry != nil {
		return domain.ErrAlreadyExists
	}
	t.s.registry = &r
	return nil
}

func (t *tx) CreateMarket(_ context.Context, m domain.Market, v domain.Vault) error {
	if _, ok := t.s.markets[m.ID]; ok {
		return domain.ErrAlreadyExists
	}
	t.s.markets[m.ID] = m
	t.s.vaults[v.MarketID] = v
	return nil
}

func (t *tx) SaveMarket(_ context.Context, m domain.Market) error {
	if _, ok := t.s.markets[m.ID]; !ok {
		return domain.ErrNotFound
	}
	t.s.markets[m.ID] = m
	return nil
}

func (t *tx) SaveVault(_ context.Context, v domain.Vault) error {
	if _, ok := t.s.vaults[v.MarketID]; !ok {
		return domain.ErrNotFound
	}
	t.s.vaults[v.MarketID] = v
	return nil
}

func (t *tx) CreatePosition(_ context.Context, p domain.Position) error {
	k := positionKey{p.MarketID, p.User}
	if _, ok := t.s.positions[k]; ok {
		return domain.ErrAlreadyExists
	}
	t.s.positions[k] = p
	return nil
}

func (t *tx) SavePosition(_ context.Context, p domain.Position) error {
	k := positionKey{p.MarketID, p.User}
	if _, ok := t.s.positions[k]; !ok {
		return domain.ErrNotFound
	}
	t.s.positions[k] = p
	return nil
}

func (t *tx) SaveAccount(_ context.Context, a domain.Account) error {
	t.s.accounts[a.Owner] = a
	return nil
}
