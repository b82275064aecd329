package postgres

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/privymarket/internal/domain"
)

// AuditStore implements domain.AuditStore using PostgreSQL. Entries whose
// detail names a market_id are indexed by market so a market's settlement
// history reads from one index range.
type AuditStore struct {
	pool *pgxpool.Pool
}

var _ domain.AuditStore = (*AuditStore)(nil)

// NewAuditStore creates a new AuditStore backed by the given connection pool.
func NewAuditStore(pool *pgxpool.Pool) *AuditStore {
	return &AuditStore{pool: pool}
}

// Log appends an audit entry. The detail map is stored as JSONB and its
// market_id, when present, is copied into the market_id column.
func (s *AuditStore) Log(ctx context.Context, event string, detail map[string]any) error {
	detailJSON, err := json.Marshal(detail)
	if err != nil {
		return fmt.Errorf("postgres: marshal audit detail: %w", err)
	}

	var market *string
	if id, ok := domain.AuditMarketID(detail); ok {
		v := num(id)
		market = &v
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO audit_log (event, detail, market_id) VALUES ($1, $2, $3::numeric)`,
		event, detailJSON, market,
	)
	if err != nil {
		return fmt.Errorf("postgres: log audit event %s: %w", event, err)
	}
	return nil
}

// List returns audit entries newest first, filtered by time range and
// market.
func (s *AuditStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if opts.MarketID != nil {
		where = append(where, "market_id = "+arg(num(*opts.MarketID))+"::numeric")
	}
	if opts.Since != nil {
		where = append(where, "created_at >= "+arg(*opts.Since))
	}
	if opts.Until != nil {
		where = append(where, "created_at < "+arg(*opts.Until))
	}

	query := `SELECT id, event, detail, created_at FROM audit_log`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id DESC"
	if opts.Limit > 0 {
		query += " LIMIT " + arg(opts.Limit)
	}
	if opts.Offset > 0 {
		query += " OFFSET " + arg(opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list audit entries: %w", err)
	}
	defer rows.Close()

	entries := []domain.AuditEntry{}
	for rows.Next() {
		var (
			e          domain.AuditEntry
			detailJSON []byte
		)
		if err := rows.Scan(&e.ID, &e.Event, &detailJSON, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan audit entry: %w", err)
		}
		if err := decodeDetail(detailJSON, &e); err != nil {
			return nil, err
		}
		e.CreatedAt = e.CreatedAt.UTC()
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list audit entries rows: %w", err)
	}
	return entries, nil
}

// decodeDetail keeps large market ids exact by decoding numbers as
// json.Number and converting the integral ones to uint64.
func decodeDetail(raw []byte, e *domain.AuditEntry) error {
	if raw == nil {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&e.Detail); err != nil {
		return fmt.Errorf("postgres: unmarshal audit entry %d detail: %w", e.ID, err)
	}
	for k, v := range e.Detail {
		n, ok := v.(json.Number)
		if !ok {
			continue
		}
		if u, err := parseNum(n.String()); err == nil {
			e.Detail[k] = u
		} else if f, err := n.Float64(); err == nil {
			e.Detail[k] = f
		}
	}
	return nil
}
