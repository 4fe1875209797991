package store

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/0gfoundation/0g-shield/internal/accounting"
	"github.com/0gfoundation/0g-shield/internal/voucher"
)

// Memory is a Backend that keeps committed state in process memory.
type Memory struct {
	mu       sync.Mutex
	vouchers map[common.Hash]voucher.Voucher
	nonces   map[common.Address]uint64
	tokens   map[common.Address]accounting.TokenState
	params   *Params
	commits  int
}

func NewMemory() *Memory {
	return &Memory{
		vouchers: make(map[common.Hash]voucher.Voucher),
		nonces:   make(map[common.Address]uint64),
		tokens:   make(map[common.Address]accounting.TokenState),
	}
}

func (m *Memory) Load(context.Context) (*Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap := &Snapshot{
		Nonces: make(map[common.Address]uint64, len(m.nonces)),
		Tokens: make(map[common.Address]accounting.TokenState, len(m.tokens)),
	}
	for _, v := range m.vouchers {
		v.Amount = v.Amount.Clone()
		snap.Vouchers = append(snap.Vouchers, v)
	}
	for o, n := range m.nonces {
		snap.Nonces[o] = n
	}
	for t, ts := range m.tokens {
		snap.Tokens[t] = ts
	}
	if m.params != nil {
		p := *m.params
		snap.Params = &p
	}
	return snap, nil
}

func (m *Memory) Commit(_ context.Context, cs *ChangeSet) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, v := range cs.Vouchers {
		v.Amount = v.Amount.Clone()
		m.vouchers[v.Commitment] = v
	}
	for _, c := range cs.Removed {
		delete(m.vouchers, c)
	}
	for o, n := range cs.Nonces {
		m.nonces[o] = n
	}
	for t, ts := range cs.Tokens {
		m.tokens[t] = ts
	}
	if cs.Params != nil {
		p := *cs.Params
		m.params = &p
	}
	m.commits++
	return nil
}

// Commits returns how many change sets were applied.
func (m *Memory) Commits() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.commits
}
