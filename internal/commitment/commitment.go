// Package commitment derives the 256-bit identifiers that address vouchers.
//
// A user-held voucher is addressed by keccak256(secret ‖ owner); a voucher the
// ledger mints on a user's behalf is addressed by keccak256(owner ‖ nonce).
// Both use the packed layout Solidity's abi.encodePacked would produce.
package commitment

import (
	"crypto/rand"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
)

// SecretLength is the width of a voucher secret in bytes.
const SecretLength = 32

// ErrInvalidCommitment is returned for the all-zero commitment.
var ErrInvalidCommitment = errors.New("invalid commitment")

// Secret is the preimage half known only to the voucher holder.
type Secret [SecretLength]byte

// Hex returns the 0x-prefixed hex form of the secret.
func (s Secret) Hex() string { return hexutil.Encode(s[:]) }

// IsZero reports whether every byte of the secret is zero.
func (s Secret) IsZero() bool { return s == Secret{} }

// Of computes keccak256(secret ‖ owner).
func Of(secret Secret, owner common.Address) common.Hash {
	buf := make([]byte, 0, SecretLength+common.AddressLength)
	buf = append(buf, secret[:]...)
	buf = append(buf, owner.Bytes()...)
	return crypto.Keccak256Hash(buf)
}

// System computes keccak256(owner ‖ uint256(nonce)), the commitment the ledger
// uses for remainders it creates without caller input.
func System(owner common.Address, nonce uint64) common.Hash {
	buf := make([]byte, common.AddressLength+32)
	copy(buf, owner.Bytes())
	n := uint256.NewInt(nonce).Bytes32()
	copy(buf[common.AddressLength:], n[:])
	return crypto.Keccak256Hash(buf)
}

// Validate rejects the zero hash, which is never a live commitment.
func Validate(c common.Hash) error {
	if c == (common.Hash{}) {
		return ErrInvalidCommitment
	}
	return nil
}

// ParseCommitment decodes a 0x-prefixed 32-byte hex string.
func ParseCommitment(s string) (common.Hash, error) {
	b, err := decode32(s)
	if err != nil {
		return common.Hash{}, fmt.Errorf("parse commitment: %w", err)
	}
	return common.BytesToHash(b), nil
}

// ParseSecret decodes a 0x-prefixed 32-byte hex string.
func ParseSecret(s string) (Secret, error) {
	b, err := decode32(s)
	if err != nil {
		return Secret{}, fmt.Errorf("parse secret: %w", err)
	}
	var sec Secret
	copy(sec[:], b)
	return sec, nil
}

// RandomSecret draws a fresh secret from crypto/rand.
func RandomSecret() (Secret, error) {
	var s Secret
	if _, err := rand.Read(s[:]); err != nil {
		return Secret{}, fmt.Errorf("read random: %w", err)
	}
	return s, nil
}

func decode32(s string) ([]byte, error) {
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		s = "0x" + s
	}
	b, err := hexutil.Decode(s)
	if err != nil {
		return nil, err
	}
	if len(b) != 32 {
		return nil, fmt.Errorf("want 32 bytes, got %d", len(b))
	}
	return b, nil
}
