package api

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/holiman/uint256"

	"github.com/0gfoundation/0g-shield/internal/commitment"
)

// Signed payloads, one per authenticated action. Amounts are decimal strings;
// addresses, hashes, secrets and byte blobs are 0x-hex.

type shieldRequest struct {
	Token      string `json:"token"`
	Amount     string `json:"amount"`
	Commitment string `json:"commitment"`
}

type unshieldRequest struct {
	Secret              string `json:"secret"`
	Amount              string `json:"amount"`
	Recipient           string `json:"recipient"`
	RemainderCommitment string `json:"remainder_commitment,omitempty"`
}

type transferRequest struct {
	Secret              string `json:"secret"`
	Amount              string `json:"amount"`
	RecipientCommitment string `json:"recipient_commitment"`
	EncryptedPayload    string `json:"encrypted_payload"`
}

type consolidateRequest struct {
	Secrets       []string `json:"secrets"`
	NewCommitment string   `json:"new_commitment"`
}

type pubkeyRequest struct {
	PublicKey string `json:"public_key"`
}

type feesRequest struct {
	ShieldBps   uint64 `json:"shield_bps"`
	UnshieldBps uint64 `json:"unshield_bps"`
}

type withdrawFeesRequest struct {
	Token string `json:"token"`
	To    string `json:"to"`
}

type emergencyWithdrawRequest struct {
	Token  string `json:"token"`
	Amount string `json:"amount"`
	To     string `json:"to"`
}

func parseAddress(field, s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("%w: %s is not an address", errBadRequest, field)
	}
	return common.HexToAddress(s), nil
}

func parseAmount(field, s string) (*uint256.Int, error) {
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", errBadRequest, field, err)
	}
	return v, nil
}

func parseHash(field, s string) (common.Hash, error) {
	h, err := commitment.ParseCommitment(s)
	if err != nil {
		return common.Hash{}, fmt.Errorf("%w: %s: %v", errBadRequest, field, err)
	}
	return h, nil
}

// parseOptionalHash returns the zero hash for an empty string.
func parseOptionalHash(field, s string) (common.Hash, error) {
	if s == "" {
		return common.Hash{}, nil
	}
	return parseHash(field, s)
}

func parseSecret(s string) (commitment.Secret, error) {
	sec, err := commitment.ParseSecret(s)
	if err != nil {
		return commitment.Secret{}, fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return sec, nil
}

func parseBytes(field, s string) ([]byte, error) {
	b, err := hexutil.Decode(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", errBadRequest, field, err)
	}
	return b, nil
}

func dec(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return v.Dec()
}
