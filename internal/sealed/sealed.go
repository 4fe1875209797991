// Package sealed builds and opens the encrypted payload that carries a
// voucher secret from sender to recipient in a transfer. The ledger treats
// the payload as opaque bytes.
package sealed

import (
	"encoding/json"
	"errors"
	"fmt"

	ecies "github.com/ecies/go/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/0gfoundation/0g-shield/internal/commitment"
)

var ErrMalformedNote = errors.New("malformed sealed note")

// Note is what the recipient needs to spend a transferred voucher.
type Note struct {
	Secret    commitment.Secret
	Token     common.Address
	Amount    *uint256.Int
	Recipient common.Address
}

// Commitment returns the commitment the note's voucher lives at.
func (n *Note) Commitment() common.Hash {
	return commitment.Of(n.Secret, n.Recipient)
}

type wireNote struct {
	Secret    string         `json:"secret"`
	Token     common.Address `json:"token"`
	Amount    string         `json:"amount"`
	Recipient common.Address `json:"recipient"`
}

// Seal encrypts note to the recipient's secp256k1 public key (33 or 65
// bytes) as registered in the key registry.
func Seal(pubKey []byte, note *Note) ([]byte, error) {
	if note.Amount == nil {
		return nil, fmt.Errorf("%w: missing amount", ErrMalformedNote)
	}
	pub, err := ecies.NewPublicKeyFromBytes(pubKey)
	if err != nil {
		return nil, fmt.Errorf("parse public key: %w", err)
	}
	plain, err := json.Marshal(wireNote{
		Secret:    note.Secret.Hex(),
		Token:     note.Token,
		Amount:    note.Amount.Dec(),
		Recipient: note.Recipient,
	})
	if err != nil {
		return nil, err
	}
	ct, err := ecies.Encrypt(pub, plain)
	if err != nil {
		return nil, fmt.Errorf("encrypt note: %w", err)
	}
	return ct, nil
}

// Open decrypts payload with priv.
func Open(priv *ecies.PrivateKey, payload []byte) (*Note, error) {
	plain, err := ecies.Decrypt(priv, payload)
	if err != nil {
		return nil, fmt.Errorf("decrypt note: %w", err)
	}
	var w wireNote
	if err := json.Unmarshal(plain, &w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedNote, err)
	}
	secret, err := commitment.ParseSecret(w.Secret)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedNote, err)
	}
	amount, err := uint256.FromDecimal(w.Amount)
	if err != nil {
		return nil, fmt.Errorf("%w: amount: %v", ErrMalformedNote, err)
	}
	return &Note{Secret: secret, Token: w.Token, Amount: amount, Recipient: w.Recipient}, nil
}

// GenerateKey returns a fresh key pair; the compressed public key is what
// owners register.
func GenerateKey() (*ecies.PrivateKey, []byte, error) {
	priv, err := ecies.GenerateKey()
	if err != nil {
		return nil, nil, err
	}
	return priv, priv.PublicKey.Bytes(true), nil
}

// ParsePrivateKey decodes a hex private key.
func ParsePrivateKey(s string) (*ecies.PrivateKey, error) {
	priv, err := ecies.NewPrivateKeyFromHex(trim0x(s))
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return priv, nil
}

func trim0x(s string) string {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		return s[2:]
	}
	return s
}
