package domain

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Identity is the public identity of a ledger participant: the address of a
// secp256k1 key.
type Identity = common.Address

// Hash is a 32-byte digest. Commitments are stored as Hash values.
type Hash = common.Hash

// ParseIdentity parses a 0x-prefixed hex address.
func ParseIdentity(s string) (Identity, error) {
	if !common.IsHexAddress(s) {
		return Identity{}, fmt.Errorf("%w: %q", ErrInvalidIdentity, s)
	}
	return common.HexToAddress(s), nil
}

// ParseHash parses a 0x-prefixed, 64 hex digit string into a Hash.
func ParseHash(s string) (Hash, error) {
	b, err := decodeHex32(s)
	if err != nil {
		return Hash{}, err
	}
	return common.BytesToHash(b), nil
}

func decodeHex32(s string) ([]byte, error) {
	b, err := hexutil.Decode(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidHash, err)
	}
	if len(b) != common.HashLength {
		return nil, fmt.Errorf("%w: expected %d bytes, got %d", ErrInvalidHash, common.HashLength, len(b))
	}
	return b, nil
}
