package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Status MarketStatus
	Since  *time.Time
	Until  *time.Time

	// MarketID restricts audit listings to entries about one market.
	MarketID *uint64
}

// Ledger is the transactional record store that settlement operations run
// against. Update executes fn inside a read-write transaction: if fn returns
// an error nothing it wrote is ever observed, otherwise every write commits
// together. View executes fn inside a read-only transaction.
type Ledger interface {
	Update(ctx context.Context, fn func(tx Tx) error) error
	View(ctx context.Context, fn func(tx ReadTx) error) error
	Close() error
}

// ReadTx is the read side of a ledger transaction. Lookups of missing records
// return ErrNotFound. Inside Update, reads of market, vault, position and
// account records hold the record exclusively until the transaction ends.
type ReadTx interface {
	Registry(ctx context.Context) (Registry, error)
	Market(ctx context.Context, id uint64) (Market, error)
	Markets(ctx context.Context, opts ListOpts) ([]Market, error)
	Vault(ctx context.Context, marketID uint64) (Vault, error)
	Position(ctx context.Context, marketID uint64, user Identity) (Position, error)
	Positions(ctx context.Context, marketID uint64) ([]Position, error)
	Account(ctx context.Context, owner Identity) (Account, error)
}

// Tx is a read-write ledger transaction. Create* methods return
// ErrAlreadyExists when the key is taken.
type Tx interface {
	ReadTx
	CreateRegistry(ctx context.Context, r Registry) error
	CreateMarket(ctx context.Context, m Market, v Vault) error
	SaveMarket(ctx context.Context, m Market) error
	SaveVault(ctx context.Context, v Vault) error
	CreatePosition(ctx context.Context, p Position) error
	SavePosition(ctx context.Context, p Position) error
	SaveAccount(ctx context.Context, a Account) error
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	Detail    map[string]any `json:"detail"`
	CreatedAt time.Time      `json:"created_at"`
}

// AuditMarketID extracts the market an audit detail refers to, if any.
func AuditMarketID(detail map[string]any) (uint64, bool) {
	switch v := detail["market_id"].(type) {
	case uint64:
		return v, true
	case int:
		if v >= 0 {
			return uint64(v), true
		}
	case float64:
		if v >= 0 && v == float64(uint64(v)) {
			return uint64(v), true
		}
	}
	return 0, false
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
