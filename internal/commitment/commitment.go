// Package commitment implements the two-phase commit-reveal capability used
// to keep a bettor's side hidden until claim time.
//
// Phase one records Digest = SHA-256(secret || tag). Phase two presents
// (secret, tag) and the verifier recomputes the digest. A failed verification
// never says whether the secret or the tag was wrong.
package commitment

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"fmt"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/alanyoungcy/privymarket/internal/domain"
)

// SecretLen is the length in bytes of a commitment secret.
const SecretLen = 32

// Secret is the blinding value a bettor keeps private until reveal.
type Secret [SecretLen]byte

// Digest is the stored commitment.
type Digest = domain.Hash

// Side tags.
var (
	tagYes = []byte{0x01}
	tagNo  = []byte{0x00}
)

// NewSecret returns a secret drawn from crypto/rand.
func NewSecret() (Secret, error) {
	var s Secret
	if _, err := rand.Read(s[:]); err != nil {
		return Secret{}, fmt.Errorf("commitment: generating secret: %w", err)
	}
	return s, nil
}

// ParseSecret decodes a 0x-prefixed hex secret.
func ParseSecret(s string) (Secret, error) {
	b, err := hexutil.Decode(s)
	if err != nil {
		return Secret{}, fmt.Errorf("commitment: decode secret: %w", err)
	}
	if len(b) != SecretLen {
		return Secret{}, fmt.Errorf("commitment: secret must be %d bytes, got %d", SecretLen, len(b))
	}
	var out Secret
	copy(out[:], b)
	return out, nil
}

// Hex returns the 0x-prefixed hex encoding of the secret.
func (s Secret) Hex() string {
	return hexutil.Encode(s[:])
}

// EncodeSide returns the one-byte tag for a side: 0x01 for YES, 0x00 for NO.
func EncodeSide(side bool) []byte {
	if side {
		return tagYes
	}
	return tagNo
}

// Compute returns SHA-256(secret || tag).
func Compute(secret Secret, tag []byte) Digest {
	h := sha256.New()
	h.Write(secret[:])
	h.Write(tag)
	var d Digest
	copy(d[:], h.Sum(nil))
	return d
}

// Commit binds secret to side.
func Commit(secret Secret, side bool) Digest {
	return Compute(secret, EncodeSide(side))
}

// VerifyTag reports whether (secret, tag) opens stored. The comparison runs
// in constant time.
func VerifyTag(secret Secret, tag []byte, stored Digest) bool {
	got := Compute(secret, tag)
	return subtle.ConstantTimeCompare(got[:], stored[:]) == 1
}

// Verify reports whether (secret, side) opens stored.
func Verify(secret Secret, side bool, stored Digest) bool {
	return VerifyTag(secret, EncodeSide(side), stored)
}
