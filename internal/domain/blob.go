package domain

import (
	"context"
	"io"
	"time"
)

// BlobInfo describes a stored object.
type BlobInfo struct {
	Path         string
	Size         int64
	ContentType  string
	LastModified time.Time
}

// BlobWriter uploads data to object storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}

// BlobReader retrieves data from object storage.
type BlobReader interface {
	Get(ctx context.Context, path string) (io.ReadCloser, error)
	List(ctx context.Context, prefix string) ([]BlobInfo, error)
	Exists(ctx context.Context, path string) (bool, error)
}

// MarketSnapshot is the archived form of a finalized market.
type MarketSnapshot struct {
	Market    Market     `json:"market"`
	Vault     Vault      `json:"vault"`
	Positions []Position `json:"positions"`
	TakenAt   time.Time  `json:"taken_at"`
}

// Archiver copies finalized markets to cold storage.
type Archiver interface {
	ArchiveMarket(ctx context.Context, snap MarketSnapshot) (path string, err error)
	IsArchived(ctx context.Context, marketID uint64) (bool, error)
}
