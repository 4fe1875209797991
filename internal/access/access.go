// Package access gates the ledger's administrative surfaces.
package access

import (
	"errors"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// ErrUnauthorized is returned when the caller lacks the required capability.
var ErrUnauthorized = errors.New("caller lacks required capability")

// Capability names an administrative permission.
type Capability string

const (
	CapAdmin      Capability = "admin"
	CapFeeManager Capability = "fee_manager"
	CapPauser     Capability = "pauser"
	CapTreasurer  Capability = "treasurer"
)

// All lists every capability.
var All = []Capability{CapAdmin, CapFeeManager, CapPauser, CapTreasurer}

// Gate answers capability queries.
type Gate interface {
	HasCapability(addr common.Address, c Capability) bool
}

// Require returns ErrUnauthorized unless addr holds c.
func Require(g Gate, addr common.Address, c Capability) error {
	if g == nil || !g.HasCapability(addr, c) {
		return ErrUnauthorized
	}
	return nil
}

// Roles is an in-memory Gate. Only CapAdmin holders may grant or revoke.
type Roles struct {
	mu      sync.RWMutex
	holders map[Capability]map[common.Address]struct{}
}

// NewRoles grants every capability to admin.
func NewRoles(admin common.Address) *Roles {
	r := &Roles{holders: make(map[Capability]map[common.Address]struct{})}
	for _, c := range All {
		r.set(c, admin)
	}
	return r
}

func (r *Roles) set(c Capability, addr common.Address) {
	m, ok := r.holders[c]
	if !ok {
		m = make(map[common.Address]struct{})
		r.holders[c] = m
	}
	m[addr] = struct{}{}
}

func (r *Roles) HasCapability(addr common.Address, c Capability) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.holders[c][addr]
	return ok
}

// Grant gives c to addr on behalf of caller.
func (r *Roles) Grant(caller, addr common.Address, c Capability) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.holders[CapAdmin][caller]; !ok {
		return ErrUnauthorized
	}
	r.set(c, addr)
	return nil
}

// Revoke removes c from addr on behalf of caller.
func (r *Roles) Revoke(caller, addr common.Address, c Capability) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.holders[CapAdmin][caller]; !ok {
		return ErrUnauthorized
	}
	delete(r.holders[c], addr)
	return nil
}
