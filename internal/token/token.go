// Package token describes the fungible-token collaborator the ledger moves
// value through, and provides an in-memory implementation of it.
package token

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

var (
	ErrInsufficientBalance   = errors.New("token: insufficient balance")
	ErrInsufficientAllowance = errors.New("token: insufficient allowance")
	// ErrOutcomeUnknown reports a movement that was submitted but never
	// confirmed either way. It may still take effect.
	ErrOutcomeUnknown = errors.New("token: movement outcome unknown")
)

// Gateway moves tokens in and out of the ledger's custody. A call either
// moves exactly amount or returns an error and moves nothing, except that an
// error wrapping ErrOutcomeUnknown means the movement may or may not happen.
type Gateway interface {
	// Pull moves amount of token from `from` into custody using from's allowance.
	Pull(ctx context.Context, token, from common.Address, amount *uint256.Int) error
	// Push moves amount of token from custody to `to`.
	Push(ctx context.Context, token, to common.Address, amount *uint256.Int) error
}

// Op identifies the gateway call a Hook observes.
type Op uint8

const (
	OpPull Op = iota
	OpPush
)

func (o Op) String() string {
	if o == OpPull {
		return "pull"
	}
	return "push"
}

// Hook runs inside Pull/Push after balances moved, with the caller's context.
// It models tokens that hand control to third-party code during a transfer.
// A non-nil error aborts the call and restores balances.
type Hook func(ctx context.Context, op Op, token, counterparty common.Address, amount *uint256.Int) error

type account struct {
	balances   map[common.Address]*uint256.Int
	allowances map[common.Address]map[common.Address]*uint256.Int // owner -> spender
}

// Bank is an in-memory set of ERC-20 style tokens with a single custody
// address acting as the ledger.
type Bank struct {
	mu      sync.Mutex
	custody common.Address
	tokens  map[common.Address]*account
	hook    Hook
}

func NewBank(custody common.Address) *Bank {
	return &Bank{
		custody: custody,
		tokens:  make(map[common.Address]*account),
	}
}

// SetHook installs h for subsequent Pull/Push calls; nil removes it.
func (b *Bank) SetHook(h Hook) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.hook = h
}

// Custody returns the address the bank pulls into and pushes from.
func (b *Bank) Custody() common.Address { return b.custody }

func (b *Bank) acct(token common.Address) *account {
	a, ok := b.tokens[token]
	if !ok {
		a = &account{
			balances:   make(map[common.Address]*uint256.Int),
			allowances: make(map[common.Address]map[common.Address]*uint256.Int),
		}
		b.tokens[token] = a
	}
	return a
}

func (a *account) balance(who common.Address) *uint256.Int {
	bal, ok := a.balances[who]
	if !ok {
		bal = new(uint256.Int)
		a.balances[who] = bal
	}
	return bal
}

func (a *account) allowance(owner, spender common.Address) *uint256.Int {
	m, ok := a.allowances[owner]
	if !ok {
		m = make(map[common.Address]*uint256.Int)
		a.allowances[owner] = m
	}
	al, ok := m[spender]
	if !ok {
		al = new(uint256.Int)
		m[spender] = al
	}
	return al
}

// Mint credits amount of token to `to`.
func (b *Bank) Mint(token, to common.Address, amount *uint256.Int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	bal := b.acct(token).balance(to)
	bal.Add(bal, amount)
}

// Approve sets owner's allowance for the custody address.
func (b *Bank) Approve(token, owner common.Address, amount *uint256.Int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.acct(token).allowance(owner, b.custody).Set(amount)
}

// BalanceOf returns a copy of who's balance of token.
func (b *Bank) BalanceOf(token, who common.Address) *uint256.Int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.acct(token).balance(who).Clone()
}

// Allowance returns owner's remaining allowance for the custody address.
func (b *Bank) Allowance(token, owner common.Address) *uint256.Int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.acct(token).allowance(owner, b.custody).Clone()
}

func (b *Bank) Pull(ctx context.Context, token, from common.Address, amount *uint256.Int) error {
	b.mu.Lock()
	a := b.acct(token)
	al := a.allowance(from, b.custody)
	if al.Lt(amount) {
		b.mu.Unlock()
		return fmt.Errorf("%w: %s has %s, needs %s", ErrInsufficientAllowance, from.Hex(), al.Dec(), amount.Dec())
	}
	if err := a.move(from, b.custody, amount); err != nil {
		b.mu.Unlock()
		return err
	}
	al.Sub(al, amount)
	hook := b.hook
	b.mu.Unlock()

	if hook == nil {
		return nil
	}
	// The hook runs without the bank lock so it may call back into whoever
	// invoked Pull.
	if err := hook(ctx, OpPull, token, from, amount); err != nil {
		b.mu.Lock()
		defer b.mu.Unlock()
		a.move(b.custody, from, amount) //nolint:errcheck
		al.Add(al, amount)
		return err
	}
	return nil
}

func (b *Bank) Push(ctx context.Context, token, to common.Address, amount *uint256.Int) error {
	b.mu.Lock()
	a := b.acct(token)
	if err := a.move(b.custody, to, amount); err != nil {
		b.mu.Unlock()
		return err
	}
	hook := b.hook
	b.mu.Unlock()

	if hook == nil {
		return nil
	}
	if err := hook(ctx, OpPush, token, to, amount); err != nil {
		b.mu.Lock()
		defer b.mu.Unlock()
		a.move(to, b.custody, amount) //nolint:errcheck
		return err
	}
	return nil
}

func (a *account) move(from, to common.Address, amount *uint256.Int) error {
	src := a.balance(from)
	if src.Lt(amount) {
		return fmt.Errorf("%w: %s has %s, needs %s", ErrInsufficientBalance, from.Hex(), src.Dec(), amount.Dec())
	}
	src.Sub(src, amount)
	dst := a.balance(to)
	dst.Add(dst, amount)
	return nil
}

// CustodyBalance returns the custody address's balance of token.
func (b *Bank) CustodyBalance(_ context.Context, token common.Address) (*uint256.Int, error) {
	return b.BalanceOf(token, b.custody), nil
}
