// Package events defines the ledger's externally indexed events and the sinks
// they are published to. Field order of every event struct is part of the
// indexer contract and must not change.
package events

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/holiman/uint256"
)

// Event is any ledger event.
type Event interface {
	Name() string
}

type VoucherCreated struct {
	Commitment common.Hash    `json:"commitment"`
	Token      common.Address `json:"token"`
	NetAmount  *uint256.Int   `json:"net_amount"`
	Fee        *uint256.Int   `json:"fee"`
}

type VoucherRedeemed struct {
	Commitment common.Hash    `json:"commitment"`
	Token      common.Address `json:"token"`
	NetPayout  *uint256.Int   `json:"net_payout"`
	Fee        *uint256.Int   `json:"fee"`
}

type VouchersConsolidated struct {
	OldCommitments []common.Hash `json:"old_commitments"`
	NewCommitment  common.Hash   `json:"new_commitment"`
}

type FeeCollected struct {
	Token  common.Address `json:"token"`
	Amount *uint256.Int   `json:"amount"`
}

type FeesUpdated struct {
	NewShieldRate   uint64 `json:"new_shield_rate"`
	NewUnshieldRate uint64 `json:"new_unshield_rate"`
}

type SecretDelivered struct {
	EncryptedPayload hexutil.Bytes `json:"encrypted_payload"`
}

type FeesWithdrawn struct {
	Token  common.Address `json:"token"`
	To     common.Address `json:"to"`
	Amount *uint256.Int   `json:"amount"`
}

type EmergencyWithdrawal struct {
	Token  common.Address `json:"token"`
	To     common.Address `json:"to"`
	Amount *uint256.Int   `json:"amount"`
}

type Paused struct {
	By common.Address `json:"by"`
}

type Unpaused struct {
	By common.Address `json:"by"`
}

type PublicKeyRegistered struct {
	Owner common.Address `json:"owner"`
}

func (VoucherCreated) Name() string       { return "VoucherCreated" }
func (VoucherRedeemed) Name() string      { return "VoucherRedeemed" }
func (VouchersConsolidated) Name() string { return "VouchersConsolidated" }
func (FeeCollected) Name() string         { return "FeeCollected" }
func (FeesUpdated) Name() string          { return "FeesUpdated" }
func (SecretDelivered) Name() string      { return "SecretDelivered" }
func (FeesWithdrawn) Name() string        { return "FeesWithdrawn" }
func (EmergencyWithdrawal) Name() string  { return "EmergencyWithdrawal" }
func (Paused) Name() string               { return "Paused" }
func (Unpaused) Name() string             { return "Unpaused" }
func (PublicKeyRegistered) Name() string  { return "PublicKeyRegistered" }

// Envelope is the wire form of a published event.
type Envelope struct {
	Event string          `json:"event"`
	Seq   uint64          `json:"seq"`
	Data  json.RawMessage `json:"data"`
}

// Encode wraps ev in an Envelope carrying seq.
func Encode(seq uint64, ev Event) ([]byte, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Event: ev.Name(), Seq: seq, Data: data})
}

// Sink receives the events of one successful transition, in order.
type Sink interface {
	Publish(ctx context.Context, evs []Event) error
}

// Multi fans a batch out to every sink and joins their errors.
type Multi []Sink

func (m Multi) Publish(ctx context.Context, evs []Event) error {
	var errs []error
	for _, s := range m {
		if err := s.Publish(ctx, evs); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Discard drops every event.
type Discard struct{}

func (Discard) Publish(context.Context, []Event) error { return nil }
