package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/alanyoungcy/privymarket/internal/domain"
)

// Ledger implements domain.Ledger on SQLite.
type Ledger struct {
	db *sql.DB
}

var _ domain.Ledger = (*Ledger)(nil)

// Update runs fn inside an immediate write transaction.
func (l *Ledger) Update(ctx context.Context, fn func(tx domain.Tx) error) error {
	sqlTx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin: %w", err)
	}
	defer sqlTx.Rollback() //nolint:errcheck

	if err := fn(&tx{q: sqlTx}); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("sqlite: commit: %w", err)
	}
	return nil
}

// View runs fn inside a transaction that is always rolled back.
func (l *Ledger) View(ctx context.Context, fn func(tx domain.ReadTx) error) error {
	sqlTx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin: %w", err)
	}
	defer sqlTx.Rollback() //nolint:errcheck
	return fn(&tx{q: sqlTx})
}

// Close is a no-op; the owning DB closes the handle.
func (l *Ledger) Close() error { return nil }

type tx struct {
	q *sql.Tx
}

func (t *tx) Registry(ctx context.Context) (domain.Registry, error) {
	var (
		r           domain.Registry
		addr, admin string
		createdAt   int64
	)
	err := t.q.QueryRowContext(ctx,
		`SELECT address, admin, created_at FROM registry WHERE id = 1`,
	).Scan(&addr, &admin, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Registry{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Registry{}, fmt.Errorf("sqlite: get registry: %w", err)
	}
	r.Address = identity(addr)
	r.Admin = identity(admin)
	r.CreatedAt = fromUnix(createdAt)
	return r, nil
}

const marketColumns = `id, address, creator, question, deadline, status, outcome,
	total_pool, total_yes_pool, total_no_pool, total_paid_out,
	claim_window, claim_deadline, finalized, created_at, resolved_at, finalized_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMarket(row rowScanner) (domain.Market, error) {
	var (
		m                                      domain.Market
		id, addr, creator, status              string
		pool, yes, no, paid                    string
		deadline, window, createdAt            int64
		outcome                                sql.NullBool
		claimDeadline, resolvedAt, finalizedAt sql.NullInt64
	)
	err := row.Scan(&id, &addr, &creator, &m.Question, &deadline, &status, &outcome,
		&pool, &yes, &no, &paid,
		&window, &claimDeadline, &m.Finalized, &createdAt, &resolvedAt, &finalizedAt)
	if err != nil {
		return domain.Market{}, err
	}

	if m.ID, err = parseAmount(id); err != nil {
		return domain.Market{}, err
	}
	for _, f := range []struct {
		dst *uint64
		raw string
	}{
		{&m.TotalPool, pool},
		{&m.TotalYesPool, yes},
		{&m.TotalNoPool, no},
		{&m.TotalPaidOut, paid},
	} {
		if *f.dst, err = parseAmount(f.raw); err != nil {
			return domain.Market{}, err
		}
	}
	m.Address = identity(addr)
	m.Creator = identity(creator)
	m.Deadline = fromUnix(deadline)
	m.Status = domain.MarketStatus(status)
	m.Outcome = fromNullBool(outcome)
	m.ClaimWindow = secondsToDuration(window)
	m.ClaimDeadline = fromNullUnix(claimDeadline)
	m.CreatedAt = fromUnix(createdAt)
	m.ResolvedAt = fromNullUnix(resolvedAt)
	m.FinalizedAt = fromNullUnix(finalizedAt)
	return m, nil
}

func (t *tx) Market(ctx context.Context, id uint64) (domain.Market, error) {
	row := t.q.QueryRowContext(ctx, `SELECT `+marketColumns+` FROM markets WHERE id = ?`, idKey(id))
	m, err := scanMarket(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Market{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Market{}, fmt.Errorf("sqlite: get market %d: %w", id, err)
	}
	return m, nil
}

func (t *tx) Markets(ctx context.Context, opts domain.ListOpts) ([]domain.Market, error) {
	var (
		where []string
		args  []any
	)
	if opts.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(opts.Status))
	}
	if opts.Since != nil {
		where = append(where, "created_at >= ?")
		args = append(args, unix(*opts.Since))
	}
	if opts.Until != nil {
		where = append(where, "created_at < ?")
		args = append(args, unix(*opts.Until))
	}

	query := `SELECT ` + marketColumns + ` FROM markets`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id"
	limit := opts.Limit
	if limit <= 0 {
		limit = -1
	}
	query += " LIMIT ? OFFSET ?"
	args = append(args, limit, opts.Offset)

	rows, err := t.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list markets: %w", err)
	}
	defer rows.Close()

	out := []domain.Market{}
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scan market: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: list markets: %w", err)
	}
	return out, nil
}

func (t *tx) Vault(ctx context.Context, marketID uint64) (domain.Vault, error) {
	var addr, bal string
	err := t.q.QueryRowContext(ctx,
		`SELECT address, balance FROM vaults WHERE market_id = ?`, idKey(marketID),
	).Scan(&addr, &bal)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Vault{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Vault{}, fmt.Errorf("sqlite: get vault %d: %w", marketID, err)
	}
	v := domain.Vault{MarketID: marketID, Address: identity(addr)}
	if v.Balance, err = parseAmount(bal); err != nil {
		return domain.Vault{}, err
	}
	return v, nil
}

const positionColumns = `market_id, user_address, address, commitment, amount,
	claimed, payout, bonus, created_at, claimed_at`

func scanPosition(row rowScanner) (domain.Position, error) {
	var (
		p                                domain.Position
		marketID, user, addr, commitment string
		amt, payout, bonus               string
		createdAt                        int64
		claimedAt                        sql.NullInt64
	)
	err := row.Scan(&marketID, &user, &addr, &commitment, &amt,
		&p.Claimed, &payout, &bonus, &createdAt, &claimedAt)
	if err != nil {
		return domain.Position{}, err
	}
	if p.MarketID, err = parseAmount(marketID); err != nil {
		return domain.Position{}, err
	}
	if p.Amount, err = parseAmount(amt); err != nil {
		return domain.Position{}, err
	}
	if p.Payout, err = parseAmount(payout); err != nil {
		return domain.Position{}, err
	}
	if p.Bonus, err = parseAmount(bonus); err != nil {
		return domain.Position{}, err
	}
	p.User = identity(user)
	p.Address = identity(addr)
	p.Commitment = hash(commitment)
	p.CreatedAt = fromUnix(createdAt)
	p.ClaimedAt = fromNullUnix(claimedAt)
	return p, nil
}

func (t *tx) Position(ctx context.Context, marketID uint64, user domain.Identity) (domain.Position, error) {
	row := t.q.QueryRowContext(ctx,
		`SELECT `+positionColumns+` FROM positions WHERE market_id = ? AND user_address = ?`,
		idKey(marketID), user.Hex(),
	)
	p, err := scanPosition(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Position{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Position{}, fmt.Errorf("sqlite: get position: %w", err)
	}
	return p, nil
}

func (t *tx) Positions(ctx context.Context, marketID uint64) ([]domain.Position, error) {
	rows, err := t.q.QueryContext(ctx,
		`SELECT `+positionColumns+` FROM positions WHERE market_id = ? ORDER BY created_at, user_address`,
		idKey(marketID),
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list positions: %w", err)
	}
	defer rows.Close()

	var out []domain.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scan position: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: list positions: %w", err)
	}
	return out, nil
}

func (t *tx) Account(ctx context.Context, owner domain.Identity) (domain.Account, error) {
	var bal string
	err := t.q.QueryRowContext(ctx,
		`SELECT balance FROM accounts WHERE owner = ?`, owner.Hex(),
	).Scan(&bal)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Account{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Account{}, fmt.Errorf("sqlite: get account: %w", err)
	}
	a := domain.Account{Owner: owner}
	if a.Balance, err = parseAmount(bal); err != nil {
		return domain.Account{}, err
	}
	return a, nil
}

func (t *tx) CreateRegistry(ctx context.Context, r domain.Registry) error {
	res, err := t.q.ExecContext(ctx, `
		INSERT INTO registry (id, address, admin, created_at)
		VALUES (1, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, r.Address.Hex(), r.Admin.Hex(), unix(r.CreatedAt))
	if err != nil {
		return fmt.Errorf("sqlite: create registry: %w", err)
	}
	return requireInserted(res)
}

func (t *tx) CreateMarket(ctx context.Context, m domain.Market, v domain.Vault) error {
	res, err := t.q.ExecContext(ctx, `
		INSERT INTO markets (`+marketColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		idKey(m.ID), m.Address.Hex(), m.Creator.Hex(), m.Question, unix(m.Deadline),
		string(m.Status), nullBool(m.Outcome),
		amount(m.TotalPool), amount(m.TotalYesPool), amount(m.TotalNoPool), amount(m.TotalPaidOut),
		durationToSeconds(m.ClaimWindow), nullUnix(m.ClaimDeadline), m.Finalized,
		unix(m.CreatedAt), nullUnix(m.ResolvedAt), nullUnix(m.FinalizedAt),
	)
	if err != nil {
		return fmt.Errorf("sqlite: create market %d: %w", m.ID, err)
	}
	if err := requireInserted(res); err != nil {
		return err
	}

	_, err = t.q.ExecContext(ctx,
		`INSERT INTO vaults (market_id, address, balance) VALUES (?, ?, ?)`,
		idKey(v.MarketID), v.Address.Hex(), amount(v.Balance),
	)
	if err != nil {
		return fmt.Errorf("sqlite: create vault %d: %w", v.MarketID, err)
	}
	return nil
}

func (t *tx) SaveMarket(ctx context.Context, m domain.Market) error {
	res, err := t.q.ExecContext(ctx, `
		UPDATE markets SET
			status = ?, outcome = ?,
			total_pool = ?, total_yes_pool = ?, total_no_pool = ?, total_paid_out = ?,
			claim_deadline = ?, finalized = ?, resolved_at = ?, finalized_at = ?
		WHERE id = ?
	`,
		string(m.Status), nullBool(m.Outcome),
		amount(m.TotalPool), amount(m.TotalYesPool), amount(m.TotalNoPool), amount(m.TotalPaidOut),
		nullUnix(m.ClaimDeadline), m.Finalized, nullUnix(m.ResolvedAt), nullUnix(m.FinalizedAt),
		idKey(m.ID),
	)
	if err != nil {
		return fmt.Errorf("sqlite: save market %d: %w", m.ID, err)
	}
	return requireUpdated(res)
}

func (t *tx) SaveVault(ctx context.Context, v domain.Vault) error {
	res, err := t.q.ExecContext(ctx,
		`UPDATE vaults SET balance = ? WHERE market_id = ?`,
		amount(v.Balance), idKey(v.MarketID),
	)
	if err != nil {
		return fmt.Errorf("sqlite: save vault %d: %w", v.MarketID, err)
	}
	return requireUpdated(res)
}

func (t *tx) CreatePosition(ctx context.Context, p domain.Position) error {
	res, err := t.q.ExecContext(ctx, `
		INSERT INTO positions (`+positionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(market_id, user_address) DO NOTHING
	`,
		idKey(p.MarketID), p.User.Hex(), p.Address.Hex(), p.Commitment.Hex(), amount(p.Amount),
		p.Claimed, amount(p.Payout), amount(p.Bonus), unix(p.CreatedAt), nullUnix(p.ClaimedAt),
	)
	if err != nil {
		return fmt.Errorf("sqlite: create position: %w", err)
	}
	return requireInserted(res)
}

func (t *tx) SavePosition(ctx context.Context, p domain.Position) error {
	res, err := t.q.ExecContext(ctx, `
		UPDATE positions SET claimed = ?, payout = ?, bonus = ?, claimed_at = ?
		WHERE market_id = ? AND user_address = ?
	`,
		p.Claimed, amount(p.Payout), amount(p.Bonus), nullUnix(p.ClaimedAt),
		idKey(p.MarketID), p.User.Hex(),
	)
	if err != nil {
		return fmt.Errorf("sqlite: save position: %w", err)
	}
	return requireUpdated(res)
}

func (t *tx) SaveAccount(ctx context.Context, a domain.Account) error {
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO accounts (owner, balance) VALUES (?, ?)
		ON CONFLICT(owner) DO UPDATE SET balance = excluded.balance
	`, a.Owner.Hex(), amount(a.Balance))
	if err != nil {
		return fmt.Errorf("sqlite: save account: %w", err)
	}
	return nil
}

func requireInserted(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: rows affected: %w", err)
	}
	if n == 0 {
		return domain.ErrAlreadyExists
	}
	return nil
}

func requireUpdated(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: rows affected: %w", err)
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}
