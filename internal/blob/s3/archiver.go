package s3blob

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alanyoungcy/privymarket/internal/domain"
)

// MarketArchiver implements domain.Archiver by writing every finalized market
// to two objects:
//
//	archive/markets/00000000000000000042/positions.jsonl
//	archive/markets/00000000000000000042/market.json
//
// market.json is uploaded last, so its presence marks a complete archive.
// Archived markets are never deleted from the ledger here.
type MarketArchiver struct {
	writer domain.BlobWriter
	reader domain.BlobReader
	audit  domain.AuditStore
}

var _ domain.Archiver = (*MarketArchiver)(nil)

// NewArchiver creates a MarketArchiver. audit may be nil.
func NewArchiver(writer domain.BlobWriter, reader domain.BlobReader, audit domain.AuditStore) *MarketArchiver {
	return &MarketArchiver{writer: writer, reader: reader, audit: audit}
}

// header is the market.json document.
type header struct {
	Market    domain.Market `json:"market"`
	Vault     domain.Vault  `json:"vault"`
	Positions int           `json:"positions"`
	TakenAt   time.Time     `json:"taken_at"`
}

// ArchiveMarket uploads snap and returns the market.json path.
func (a *MarketArchiver) ArchiveMarket(ctx context.Context, snap domain.MarketSnapshot) (string, error) {
	id := snap.Market.ID
	if !snap.Market.Finalized {
		return "", fmt.Errorf("s3blob: archive market %d: market is not finalized", id)
	}

	lines, err := marshalJSONL(snap.Positions)
	if err != nil {
		return "", fmt.Errorf("s3blob: archive market %d marshal positions: %w", id, err)
	}
	if err := a.writer.Put(ctx, positionsPath(id), bytes.NewReader(lines), "application/x-ndjson"); err != nil {
		return "", fmt.Errorf("s3blob: archive market %d upload positions: %w", id, err)
	}

	doc, err := json.Marshal(header{
		Market:    snap.Market,
		Vault:     snap.Vault,
		Positions: len(snap.Positions),
		TakenAt:   snap.TakenAt,
	})
	if err != nil {
		return "", fmt.Errorf("s3blob: archive market %d marshal: %w", id, err)
	}
	path := marketPath(id)
	if err := a.writer.Put(ctx, path, bytes.NewReader(doc), "application/json"); err != nil {
		return "", fmt.Errorf("s3blob: archive market %d upload: %w", id, err)
	}

	if a.audit != nil {
		if err := a.audit.Log(ctx, "archive.market", map[string]any{
			"market_id": id,
			"path":      path,
			"positions": len(snap.Positions),
		}); err != nil {
			return path, fmt.Errorf("s3blob: archive market %d audit log: %w", id, err)
		}
	}
	return path, nil
}

// IsArchived reports whether market.json exists for marketID.
func (a *MarketArchiver) IsArchived(ctx context.Context, marketID uint64) (bool, error) {
	ok, err := a.reader.Exists(ctx, marketPath(marketID))
	if err != nil {
		return false, fmt.Errorf("s3blob: is archived %d: %w", marketID, err)
	}
	return ok, nil
}

// LoadSnapshot reads an archived market back. It returns an error wrapping
// domain.ErrNotFound when the market was never archived.
func (a *MarketArchiver) LoadSnapshot(ctx context.Context, marketID uint64) (domain.MarketSnapshot, error) {
	var h header
	if err := a.decode(ctx, marketPath(marketID), func(r *bufio.Reader) error {
		return json.NewDecoder(r).Decode(&h)
	}); err != nil {
		return domain.MarketSnapshot{}, fmt.Errorf("s3blob: load market %d: %w", marketID, err)
	}

	positions := make([]domain.Position, 0, h.Positions)
	if err := a.decode(ctx, positionsPath(marketID), func(r *bufio.Reader) error {
		dec := json.NewDecoder(r)
		for dec.More() {
			var p domain.Position
			if err := dec.Decode(&p); err != nil {
				return err
			}
			positions = append(positions, p)
		}
		return nil
	}); err != nil {
		return domain.MarketSnapshot{}, fmt.Errorf("s3blob: load positions %d: %w", marketID, err)
	}
	if len(positions) != h.Positions {
		return domain.MarketSnapshot{}, fmt.Errorf("s3blob: load market %d: %d positions recorded, %d stored",
			marketID, h.Positions, len(positions))
	}

	return domain.MarketSnapshot{
		Market:    h.Market,
		Vault:     h.Vault,
		Positions: positions,
		TakenAt:   h.TakenAt,
	}, nil
}

func (a *MarketArchiver) decode(ctx context.Context, path string, fn func(*bufio.Reader) error) error {
	body, err := a.reader.Get(ctx, path)
	if err != nil {
		return err
	}
	defer body.Close()
	if err := fn(bufio.NewReader(body)); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func marketPath(id uint64) string {
	return fmt.Sprintf("archive/markets/%020d/market.json", id)
}

func positionsPath(id uint64) string {
	return fmt.Sprintf("archive/markets/%020d/positions.jsonl", id)
}

// marshalJSONL serialises records as newline-delimited JSON.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
