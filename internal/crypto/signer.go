// Package crypto signs and verifies API requests with secp256k1 keys and
// stores those keys encrypted at rest.
//
// A request signature covers
//
//	personal_hash(keccak256(timestamp || method || path || body))
//
// where personal_hash is the EIP-191 "\x19Ethereum Signed Message:\n32"
// prefix hash, timestamp is decimal unix seconds, and body is the raw request
// body. The recovered address is the caller identity.
package crypto

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// Request headers carrying the caller identity.
const (
	HeaderAddress   = "X-Privy-Address"
	HeaderTimestamp = "X-Privy-Timestamp"
	HeaderSignature = "X-Privy-Signature"
)

// ErrBadSignature is returned when a signature is malformed or does not
// recover to the claimed address.
var ErrBadSignature = errors.New("crypto: bad signature")

// Signer signs requests with a secp256k1 private key.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

// NewSigner creates a Signer from a hex-encoded private key (with or without
// 0x prefix).
func NewSigner(privateKeyHex string) (*Signer, error) {
	pk, err := ethcrypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: invalid private key: %w", err)
	}
	return &Signer{privateKey: pk, address: ethcrypto.PubkeyToAddress(pk.PublicKey)}, nil
}

// GenerateSigner creates a Signer with a fresh random key.
func GenerateSigner() (*Signer, error) {
	pk, err := ethcrypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: generating key: %w", err)
	}
	return &Signer{privateKey: pk, address: ethcrypto.PubkeyToAddress(pk.PublicKey)}, nil
}

// Address returns the address derived from the signer's key.
func (s *Signer) Address() common.Address {
	return s.address
}

// PrivateKeyHex returns the private key as hex without 0x prefix.
func (s *Signer) PrivateKeyHex() string {
	return strings.TrimPrefix(hexutil.Encode(ethcrypto.FromECDSA(s.privateKey)), "0x")
}

// SignRequest returns the 0x-prefixed 65-byte signature (r || s || v, v in
// {27,28}) over a request.
func (s *Signer) SignRequest(timestamp int64, method, path string, body []byte) (string, error) {
	sig, err := ethcrypto.Sign(RequestDigest(timestamp, method, path, body), s.privateKey)
	if err != nil {
		return "", fmt.Errorf("crypto/signer: signing: %w", err)
	}
	sig[64] += 27
	return hexutil.Encode(sig), nil
}

// RequestHeaders returns the identity headers for a request.
func (s *Signer) RequestHeaders(timestamp int64, method, path string, body []byte) (map[string]string, error) {
	sig, err := s.SignRequest(timestamp, method, path, body)
	if err != nil {
		return nil, err
	}
	return map[string]string{
		HeaderAddress:   s.address.Hex(),
		HeaderTimestamp: strconv.FormatInt(timestamp, 10),
		HeaderSignature: sig,
	}, nil
}

// RequestDigest returns the 32-byte digest a request signature covers.
func RequestDigest(timestamp int64, method, path string, body []byte) []byte {
	inner := ethcrypto.Keccak256(
		[]byte(strconv.FormatInt(timestamp, 10)),
		[]byte(strings.ToUpper(method)),
		[]byte(path),
		body,
	)
	return accounts.TextHash(inner)
}

// RecoverRequest returns the address that produced signature over a request.
// v may be 0/1 or 27/28.
func RecoverRequest(signature string, timestamp int64, method, path string, body []byte) (common.Address, error) {
	sig, err := hexutil.Decode(signature)
	if err != nil || len(sig) != ethcrypto.SignatureLength {
		return common.Address{}, ErrBadSignature
	}
	if sig[64] >= 27 {
		sig[64] -= 27
	}
	pub, err := ethcrypto.SigToPub(RequestDigest(timestamp, method, path, body), sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	return ethcrypto.PubkeyToAddress(*pub), nil
}

// VerifyRequest checks that signature over a request was produced by want.
func VerifyRequest(want common.Address, signature string, timestamp int64, method, path string, body []byte) error {
	got, err := RecoverRequest(signature, timestamp, method, path, body)
	if err != nil {
		return err
	}
	if got != want {
		return fmt.Errorf("%w: signed by %s", ErrBadSignature, got.Hex())
	}
	return nil
}
