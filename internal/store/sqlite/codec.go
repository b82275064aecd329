package sqlite

import (
	"database/sql"
	"fmt"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/privymarket/internal/domain"
)

func idKey(id uint64) string {
	return fmt.Sprintf("%020d", id)
}

func amount(v uint64) string {
	return strconv.FormatUint(v, 10)
}

func parseAmount(s string) (uint64, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("sqlite: corrupt amount %q: %w", s, err)
	}
	return v, nil
}

func unix(t time.Time) int64 {
	return t.Unix()
}

func fromUnix(s int64) time.Time {
	return time.Unix(s, 0).UTC()
}

func nullUnix(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.Unix(), Valid: true}
}

func fromNullUnix(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := fromUnix(n.Int64)
	return &t
}

func nullBool(b *bool) sql.NullBool {
	if b == nil {
		return sql.NullBool{}
	}
	return sql.NullBool{Bool: *b, Valid: true}
}

func fromNullBool(n sql.NullBool) *bool {
	if !n.Valid {
		return nil
	}
	b := n.Bool
	return &b
}

func identity(s string) domain.Identity {
	return common.HexToAddress(s)
}

func hash(s string) domain.Hash {
	return common.HexToHash(s)
}

func durationToSeconds(d time.Duration) int64 {
	return int64(d / time.Second)
}

func secondsToDuration(s int64) time.Duration {
	return time.Duration(s) * time.Second
}
