// Package address derives the deterministic addresses of ledger records from
// fixed tag strings and identifying values.
package address

import (
	"encoding/binary"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/privymarket/internal/domain"
)

// Seed tags.
const (
	tagRegistry = "config"
	tagMarket   = "market"
	tagVault    = "vault"
	tagPosition = "position"
)

// Derive hashes the seeds with keccak256 and keeps the last 20 bytes.
func Derive(seeds ...[]byte) domain.Identity {
	return common.BytesToAddress(ethcrypto.Keccak256(seeds...)[12:])
}

// Registry returns the address of the authority registry.
func Registry() domain.Identity {
	return Derive([]byte(tagRegistry))
}

// Market returns the address of market id.
func Market(id uint64) domain.Identity {
	var le [8]byte
	binary.LittleEndian.PutUint64(le[:], id)
	return Derive([]byte(tagMarket), le[:])
}

// Vault returns the address of the escrow vault paired with market.
func Vault(market domain.Identity) domain.Identity {
	return Derive([]byte(tagVault), market.Bytes())
}

// Position returns the address of user's position on market.
func Position(market, user domain.Identity) domain.Identity {
	return Derive([]byte(tagPosition), market.Bytes(), user.Bytes())
}
