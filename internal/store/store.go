// Package store persists committed ledger state.
//
// The ledger keeps its working state in memory and hands every committed
// transition to a Backend as a ChangeSet. At startup the Backend's Snapshot
// rebuilds the in-memory state.
package store

import (
	"context"

	"github.com/ethereum/go-ethereum/common"

	"github.com/0gfoundation/0g-shield/internal/accounting"
	"github.com/0gfoundation/0g-shield/internal/fee"
	"github.com/0gfoundation/0g-shield/internal/voucher"
)

// Params is the ledger's administrative configuration.
type Params struct {
	Fees   fee.Schedule
	Paused bool
}

// Snapshot is the full persisted state.
type Snapshot struct {
	Vouchers []voucher.Voucher
	Nonces   map[common.Address]uint64
	Tokens   map[common.Address]accounting.TokenState
	// Params is nil when nothing was ever saved.
	Params *Params
}

// ChangeSet is the final value of every key a transition touched.
type ChangeSet struct {
	Vouchers []voucher.Voucher
	// Removed only ever lists commitments whose creation was rolled back
	// after a previous commit.
	Removed []common.Hash
	Nonces  map[common.Address]uint64
	Tokens  map[common.Address]accounting.TokenState
	Params  *Params
}

func (cs *ChangeSet) Empty() bool {
	return len(cs.Vouchers) == 0 && len(cs.Removed) == 0 &&
		len(cs.Nonces) == 0 && len(cs.Tokens) == 0 && cs.Params == nil
}

// Backend applies change sets atomically.
type Backend interface {
	Load(ctx context.Context) (*Snapshot, error)
	Commit(ctx context.Context, cs *ChangeSet) error
}
