package postgres

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/privymarket/internal/domain"
)

// Ledger implements domain.Ledger using PostgreSQL. Inside Update every row
// read is locked with SELECT ... FOR UPDATE until commit. Account reads first
// materialize a zero row so that a missing account is locked too; rows that
// were materialized but never saved are removed before commit.
type Ledger struct {
	pool *pgxpool.Pool
}

var _ domain.Ledger = (*Ledger)(nil)

// NewLedger creates a Ledger backed by the given connection pool.
func NewLedger(pool *pgxpool.Pool) *Ledger {
	return &Ledger{pool: pool}
}

// Update runs fn in a read-write transaction.
func (l *Ledger) Update(ctx context.Context, fn func(tx domain.Tx) error) error {
	pgTx, err := l.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("postgres: begin: %w", err)
	}
	defer pgTx.Rollback(ctx) //nolint:errcheck

	t := &tx{q: pgTx, lock: true}
	if err := fn(t); err != nil {
		return err
	}
	if err := t.dropPlaceholders(ctx); err != nil {
		return err
	}
	if err := pgTx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit: %w", err)
	}
	return nil
}

// View runs fn in a read-only transaction.
func (l *Ledger) View(ctx context.Context, fn func(tx domain.ReadTx) error) error {
	pgTx, err := l.pool.BeginTx(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly})
	if err != nil {
		return fmt.Errorf("postgres: begin: %w", err)
	}
	defer pgTx.Rollback(ctx) //nolint:errcheck
	return fn(&tx{q: pgTx})
}

// Close is a no-op; the Client owns the pool.
func (l *Ledger) Close() error { return nil }

type tx struct {
	q    pgx.Tx
	lock bool
	// placeholders are accounts this transaction inserted with balance 0
	// and has not saved yet. They read as not found.
	placeholders map[domain.Identity]struct{}
}

// lockAccount makes sure an accounts row exists for owner so that the
// following SELECT ... FOR UPDATE has something to lock. It reports whether
// this transaction created the row.
func (t *tx) lockAccount(ctx context.Context, owner domain.Identity) (bool, error) {
	if _, ok := t.placeholders[owner]; ok {
		return true, nil
	}
	tag, err := t.q.Exec(ctx, `
		INSERT INTO accounts (owner, balance) VALUES ($1, 0)
		ON CONFLICT (owner) DO NOTHING`,
		owner.Hex(),
	)
	if err != nil {
		return false, fmt.Errorf("postgres: lock account: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}
	if t.placeholders == nil {
		t.placeholders = make(map[domain.Identity]struct{})
	}
	t.placeholders[owner] = struct{}{}
	return true, nil
}

func (t *tx) dropPlaceholders(ctx context.Context) error {
	if len(t.placeholders) == 0 {
		return nil
	}
	owners := make([]string, 0, len(t.placeholders))
	for owner := range t.placeholders {
		owners = append(owners, owner.Hex())
	}
	if _, err := t.q.Exec(ctx, `DELETE FROM accounts WHERE owner = ANY($1)`, owners); err != nil {
		return fmt.Errorf("postgres: drop unsaved accounts: %w", err)
	}
	return nil
}

func (t *tx) forUpdate(query string) string {
	if t.lock {
		return query + " FOR UPDATE"
	}
	return query
}

func num(v uint64) string {
	return strconv.FormatUint(v, 10)
}

func parseNum(s string) (uint64, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("postgres: corrupt numeric %q: %w", s, err)
	}
	return v, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

func (t *tx) Registry(ctx context.Context) (domain.Registry, error) {
	var (
		r           domain.Registry
		addr, admin string
	)
	err := t.q.QueryRow(ctx,
		t.forUpdate(`SELECT address, admin, created_at FROM registry WHERE id = 1`),
	).Scan(&addr, &admin, &r.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Registry{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Registry{}, fmt.Errorf("postgres: get registry: %w", err)
	}
	r.Address = common.HexToAddress(addr)
	r.Admin = common.HexToAddress(admin)
	r.CreatedAt = r.CreatedAt.UTC()
	return r, nil
}

const marketColumns = `id::text, address, creator, question, deadline, status, outcome,
	total_pool::text, total_yes_pool::text, total_no_pool::text, total_paid_out::text,
	claim_window, claim_deadline, finalized, created_at, resolved_at, finalized_at`

func scanMarket(row pgx.Row) (domain.Market, error) {
	var (
		m                         domain.Market
		id, addr, creator, status string
		pool, yes, no, paid       string
		window                    int64
	)
	err := row.Scan(&id, &addr, &creator, &m.Question, &m.Deadline, &status, &m.Outcome,
		&pool, &yes, &no, &paid,
		&window, &m.ClaimDeadline, &m.Finalized, &m.CreatedAt, &m.ResolvedAt, &m.FinalizedAt)
	if err != nil {
		return domain.Market{}, err
	}

	if m.ID, err = parseNum(id); err != nil {
		return domain.Market{}, err
	}
	if m.TotalPool, err = parseNum(pool); err != nil {
		return domain.Market{}, err
	}
	if m.TotalYesPool, err = parseNum(yes); err != nil {
		return domain.Market{}, err
	}
	if m.TotalNoPool, err = parseNum(no); err != nil {
		return domain.Market{}, err
	}
	if m.TotalPaidOut, err = parseNum(paid); err != nil {
		return domain.Market{}, err
	}
	m.Address = common.HexToAddress(addr)
	m.Creator = common.HexToAddress(creator)
	m.Status = domain.MarketStatus(status)
	m.ClaimWindow = time.Duration(window) * time.Second
	m.Deadline = m.Deadline.UTC()
	m.CreatedAt = m.CreatedAt.UTC()
	m.ClaimDeadline = utcPtr(m.ClaimDeadline)
	m.ResolvedAt = utcPtr(m.ResolvedAt)
	m.FinalizedAt = utcPtr(m.FinalizedAt)
	return m, nil
}

func (t *tx) Market(ctx context.Context, id uint64) (domain.Market, error) {
	row := t.q.QueryRow(ctx,
		t.forUpdate(`SELECT `+marketColumns+` FROM markets WHERE id = $1::numeric`), num(id))
	m, err := scanMarket(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Market{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Market{}, fmt.Errorf("postgres: get market %d: %w", id, err)
	}
	return m, nil
}

func (t *tx) Markets(ctx context.Context, opts domain.ListOpts) ([]domain.Market, error) {
	query := `SELECT ` + marketColumns + ` FROM markets WHERE 1=1`
	args := []any{}
	argIdx := 1

	if opts.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, string(opts.Status))
		argIdx++
	}
	if opts.Since != nil {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND created_at < $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY id"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := t.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list markets: %w", err)
	}
	defer rows.Close()

	out := []domain.Market{}
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan market: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list markets rows: %w", err)
	}
	return out, nil
}

func (t *tx) Vault(ctx context.Context, marketID uint64) (domain.Vault, error) {
	var addr, bal string
	err := t.q.QueryRow(ctx,
		t.forUpdate(`SELECT address, balance::text FROM vaults WHERE market_id = $1::numeric`),
		num(marketID),
	).Scan(&addr, &bal)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Vault{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Vault{}, fmt.Errorf("postgres: get vault %d: %w", marketID, err)
	}
	v := domain.Vault{MarketID: marketID, Address: common.HexToAddress(addr)}
	if v.Balance, err = parseNum(bal); err != nil {
		return domain.Vault{}, err
	}
	return v, nil
}

const positionColumns = `market_id::text, user_address, address, commitment, amount::text,
	claimed, payout::text, bonus::text, created_at, claimed_at`

func scanPosition(row pgx.Row) (domain.Position, error) {
	var (
		p                                domain.Position
		marketID, user, addr, commitment string
		amt, payout, bonus               string
	)
	err := row.Scan(&marketID, &user, &addr, &commitment, &amt,
		&p.Claimed, &payout, &bonus, &p.CreatedAt, &p.ClaimedAt)
	if err != nil {
		return domain.Position{}, err
	}
	if p.MarketID, err = parseNum(marketID); err != nil {
		return domain.Position{}, err
	}
	if p.Amount, err = parseNum(amt); err != nil {
		return domain.Position{}, err
	}
	if p.Payout, err = parseNum(payout); err != nil {
		return domain.Position{}, err
	}
	if p.Bonus, err = parseNum(bonus); err != nil {
		return domain.Position{}, err
	}
	p.User = common.HexToAddress(user)
	p.Address = common.HexToAddress(addr)
	p.Commitment = common.HexToHash(commitment)
	p.CreatedAt = p.CreatedAt.UTC()
	p.ClaimedAt = utcPtr(p.ClaimedAt)
	return p, nil
}

func (t *tx) Position(ctx context.Context, marketID uint64, user domain.Identity) (domain.Position, error) {
	row := t.q.QueryRow(ctx,
		t.forUpdate(`SELECT `+positionColumns+` FROM positions WHERE market_id = $1::numeric AND user_address = $2`),
		num(marketID), user.Hex(),
	)
	p, err := scanPosition(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Position{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Position{}, fmt.Errorf("postgres: get position: %w", err)
	}
	return p, nil
}

func (t *tx) Positions(ctx context.Context, marketID uint64) ([]domain.Position, error) {
	rows, err := t.q.Query(ctx,
		t.forUpdate(`SELECT `+positionColumns+` FROM positions WHERE market_id = $1::numeric ORDER BY created_at, user_address`),
		num(marketID),
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: list positions: %w", err)
	}
	defer rows.Close()

	var out []domain.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan position: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list positions rows: %w", err)
	}
	return out, nil
}

func (t *tx) Account(ctx context.Context, owner domain.Identity) (domain.Account, error) {
	if t.lock {
		created, err := t.lockAccount(ctx, owner)
		if err != nil {
			return domain.Account{}, err
		}
		if created {
			return domain.Account{}, domain.ErrNotFound
		}
	}
	var bal string
	err := t.q.QueryRow(ctx,
		t.forUpdate(`SELECT balance::text FROM accounts WHERE owner = $1`), owner.Hex(),
	).Scan(&bal)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Account{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Account{}, fmt.Errorf("postgres: get account: %w", err)
	}
	a := domain.Account{Owner: owner}
	if a.Balance, err = parseNum(bal); err != nil {
		return domain.Account{}, err
	}
	return a, nil
}

func (t *tx) CreateRegistry(ctx context.Context, r domain.Registry) error {
	tag, err := t.q.Exec(ctx, `
		INSERT INTO registry (id, address, admin, created_at)
		VALUES (1, $1, $2, $3)
		ON CONFLICT (id) DO NOTHING`,
		r.Address.Hex(), r.Admin.Hex(), r.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create registry: %w", err)
	}
	return requireInserted(tag)
}

func (t *tx) CreateMarket(ctx context.Context, m domain.Market, v domain.Vault) error {
	tag, err := t.q.Exec(ctx, `
		INSERT INTO markets (
			id, address, creator, question, deadline, status, outcome,
			total_pool, total_yes_pool, total_no_pool, total_paid_out,
			claim_window, claim_deadline, finalized, created_at, resolved_at, finalized_at
		) VALUES (
			$1::numeric, $2, $3, $4, $5, $6, $7,
			$8::numeric, $9::numeric, $10::numeric, $11::numeric,
			$12, $13, $14, $15, $16, $17
		)
		ON CONFLICT (id) DO NOTHING`,
		num(m.ID), m.Address.Hex(), m.Creator.Hex(), m.Question, m.Deadline, string(m.Status), m.Outcome,
		num(m.TotalPool), num(m.TotalYesPool), num(m.TotalNoPool), num(m.TotalPaidOut),
		int64(m.ClaimWindow/time.Second), m.ClaimDeadline, m.Finalized, m.CreatedAt, m.ResolvedAt, m.FinalizedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create market %d: %w", m.ID, err)
	}
	if err := requireInserted(tag); err != nil {
		return err
	}

	_, err = t.q.Exec(ctx,
		`INSERT INTO vaults (market_id, address, balance) VALUES ($1::numeric, $2, $3::numeric)`,
		num(v.MarketID), v.Address.Hex(), num(v.Balance),
	)
	if err != nil {
		return fmt.Errorf("postgres: create vault %d: %w", v.MarketID, err)
	}
	return nil
}

func (t *tx) SaveMarket(ctx context.Context, m domain.Market) error {
	tag, err := t.q.Exec(ctx, `
		UPDATE markets SET
			status         = $2,
			outcome        = $3,
			total_pool     = $4::numeric,
			total_yes_pool = $5::numeric,
			total_no_pool  = $6::numeric,
			total_paid_out = $7::numeric,
			claim_deadline = $8,
			finalized      = $9,
			resolved_at    = $10,
			finalized_at   = $11
		WHERE id = $1::numeric`,
		num(m.ID), string(m.Status), m.Outcome,
		num(m.TotalPool), num(m.TotalYesPool), num(m.TotalNoPool), num(m.TotalPaidOut),
		m.ClaimDeadline, m.Finalized, m.ResolvedAt, m.FinalizedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: save market %d: %w", m.ID, err)
	}
	return requireUpdated(tag)
}

func (t *tx) SaveVault(ctx context.Context, v domain.Vault) error {
	tag, err := t.q.Exec(ctx,
		`UPDATE vaults SET balance = $2::numeric WHERE market_id = $1::numeric`,
		num(v.MarketID), num(v.Balance),
	)
	if err != nil {
		return fmt.Errorf("postgres: save vault %d: %w", v.MarketID, err)
	}
	return requireUpdated(tag)
}

func (t *tx) CreatePosition(ctx context.Context, p domain.Position) error {
	tag, err := t.q.Exec(ctx, `
		INSERT INTO positions (
			market_id, user_address, address, commitment, amount,
			claimed, payout, bonus, created_at, claimed_at
		) VALUES (
			$1::numeric, $2, $3, $4, $5::numeric,
			$6, $7::numeric, $8::numeric, $9, $10
		)
		ON CONFLICT (market_id, user_address) DO NOTHING`,
		num(p.MarketID), p.User.Hex(), p.Address.Hex(), p.Commitment.Hex(), num(p.Amount),
		p.Claimed, num(p.Payout), num(p.Bonus), p.CreatedAt, p.ClaimedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create position: %w", err)
	}
	return requireInserted(tag)
}

func (t *tx) SavePosition(ctx context.Context, p domain.Position) error {
	tag, err := t.q.Exec(ctx, `
		UPDATE positions SET
			claimed    = $3,
			payout     = $4::numeric,
			bonus      = $5::numeric,
			claimed_at = $6
		WHERE market_id = $1::numeric AND user_address = $2`,
		num(p.MarketID), p.User.Hex(),
		p.Claimed, num(p.Payout), num(p.Bonus), p.ClaimedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: save position: %w", err)
	}
	return requireUpdated(tag)
}

func (t *tx) SaveAccount(ctx context.Context, a domain.Account) error {
	_, err := t.q.Exec(ctx, `
		INSERT INTO accounts (owner, balance) VALUES ($1, $2::numeric)
		ON CONFLICT (owner) DO UPDATE SET balance = EXCLUDED.balance`,
		a.Owner.Hex(), num(a.Balance),
	)
	if err != nil {
		return fmt.Errorf("postgres: save account: %w", err)
	}
	delete(t.placeholders, a.Owner)
	return nil
}

func requireInserted(tag pgconn.CommandTag) error {
	if tag.RowsAffected() == 0 {
		return domain.ErrAlreadyExists
	}
	return nil
}

func requireUpdated(tag pgconn.CommandTag) error {
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}
