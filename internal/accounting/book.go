// Package accounting tracks the per-token counters that back the voucher
// ledger: accrued fees, custodied balance and outstanding voucher supply, plus
// the per-owner nonces used for system-derived commitments.
//
// For every token the book maintains
//
//	outstanding + fees == custody
//
// where custody is what was pulled in minus what was pushed out.
package accounting

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

var (
	ErrAmountOverflow       = errors.New("amount overflow")
	ErrNothingToWithdraw    = errors.New("nothing to withdraw")
	ErrInvariantViolation   = errors.New("accounting invariant violation")
	ErrConservationViolated = errors.New("conservation violated")
)

type counter uint8

const (
	counterFees counter = iota
	counterCustody
	counterOutstanding
)

func (c counter) String() string {
	switch c {
	case counterFees:
		return "fees"
	case counterCustody:
		return "custody"
	case counterOutstanding:
		return "outstanding"
	default:
		return "unknown"
	}
}

// TokenState is the set of counters kept for one token.
type TokenState struct {
	Fees        *uint256.Int `json:"fees"`
	Custody     *uint256.Int `json:"custody"`
	Outstanding *uint256.Int `json:"outstanding"`
}

func newTokenState() *TokenState {
	return &TokenState{
		Fees:        new(uint256.Int),
		Custody:     new(uint256.Int),
		Outstanding: new(uint256.Int),
	}
}

func (ts *TokenState) field(c counter) *uint256.Int {
	switch c {
	case counterFees:
		return ts.Fees
	case counterCustody:
		return ts.Custody
	default:
		return ts.Outstanding
	}
}

func (ts *TokenState) clone() TokenState {
	return TokenState{
		Fees:        ts.Fees.Clone(),
		Custody:     ts.Custody.Clone(),
		Outstanding: ts.Outstanding.Clone(),
	}
}

type change interface {
	revert(b *Book)
}

type nonceChange struct {
	owner common.Address
	prev  uint64
}

func (ch nonceChange) revert(b *Book) {
	b.nonces[ch.owner] = ch.prev
	b.touchedOwners[ch.owner] = struct{}{}
}

type counterChange struct {
	token common.Address
	which counter
	prev  *uint256.Int
}

func (ch counterChange) revert(b *Book) {
	b.token(ch.token).field(ch.which).Set(ch.prev)
	b.touchedTokens[ch.token] = struct{}{}
}

// Book is not safe for concurrent use; the ledger serializes access.
type Book struct {
	nonces map[common.Address]uint64
	tokens map[common.Address]*TokenState

	journal       []change
	touchedOwners map[common.Address]struct{}
	touchedTokens map[common.Address]struct{}
}

func NewBook() *Book {
	return &Book{
		nonces:        make(map[common.Address]uint64),
		tokens:        make(map[common.Address]*TokenState),
		touchedOwners: make(map[common.Address]struct{}),
		touchedTokens: make(map[common.Address]struct{}),
	}
}

func (b *Book) token(t common.Address) *TokenState {
	ts, ok := b.tokens[t]
	if !ok {
		ts = newTokenState()
		b.tokens[t] = ts
	}
	return ts
}

// ── nonces ────────────────────────────────────────────────────────────────────

// Nonce returns the next nonce NextNonce would hand out for owner.
func (b *Book) Nonce(owner common.Address) uint64 {
	return b.nonces[owner]
}

// NextNonce returns the current nonce for owner and advances it.
func (b *Book) NextNonce(owner common.Address) uint64 {
	n := b.nonces[owner]
	b.journal = append(b.journal, nonceChange{owner: owner, prev: n})
	b.nonces[owner] = n + 1
	b.touchedOwners[owner] = struct{}{}
	return n
}

// ── counters ──────────────────────────────────────────────────────────────────

func (b *Book) add(t common.Address, c counter, amt *uint256.Int) error {
	f := b.token(t).field(c)
	sum, overflow := new(uint256.Int).AddOverflow(f, amt)
	if overflow {
		return fmt.Errorf("%w: %s %s", ErrAmountOverflow, t.Hex(), c)
	}
	b.record(t, c, f)
	f.Set(sum)
	return nil
}

func (b *Book) sub(t common.Address, c counter, amt *uint256.Int) error {
	f := b.token(t).field(c)
	if f.Lt(amt) {
		return fmt.Errorf("%w: %s %s below zero", ErrInvariantViolation, t.Hex(), c)
	}
	b.record(t, c, f)
	f.Sub(f, amt)
	return nil
}

func (b *Book) record(t common.Address, c counter, prev *uint256.Int) {
	b.journal = append(b.journal, counterChange{token: t, which: c, prev: prev.Clone()})
	b.touchedTokens[t] = struct{}{}
}

// AccrueFee adds amt to the token's fee balance.
func (b *Book) AccrueFee(t common.Address, amt *uint256.Int) error {
	return b.add(t, counterFees, amt)
}

// AccruedFees returns a copy of the token's fee balance.
func (b *Book) AccruedFees(t common.Address) *uint256.Int {
	if ts, ok := b.tokens[t]; ok {
		return ts.Fees.Clone()
	}
	return new(uint256.Int)
}

// TakeFees zeroes the token's fee balance and returns what it held.
func (b *Book) TakeFees(t common.Address) (*uint256.Int, error) {
	amt := b.AccruedFees(t)
	if amt.IsZero() {
		return nil, ErrNothingToWithdraw
	}
	if err := b.sub(t, counterFees, amt); err != nil {
		return nil, err
	}
	return amt, nil
}

// Deposit records tokens pulled into custody.
func (b *Book) Deposit(t common.Address, amt *uint256.Int) error {
	return b.add(t, counterCustody, amt)
}

// Release records tokens pushed out of custody.
func (b *Book) Release(t common.Address, amt *uint256.Int) error {
	return b.sub(t, counterCustody, amt)
}

// Issue records value newly held by an unspent voucher.
func (b *Book) Issue(t common.Address, amt *uint256.Int) error {
	return b.add(t, counterOutstanding, amt)
}

// Retire records value leaving an unspent voucher.
func (b *Book) Retire(t common.Address, amt *uint256.Int) error {
	return b.sub(t, counterOutstanding, amt)
}

// Custody returns a copy of the token's custodied balance.
func (b *Book) Custody(t common.Address) *uint256.Int {
	if ts, ok := b.tokens[t]; ok {
		return ts.Custody.Clone()
	}
	return new(uint256.Int)
}

// Outstanding returns a copy of the token's unspent voucher supply.
func (b *Book) Outstanding(t common.Address) *uint256.Int {
	if ts, ok := b.tokens[t]; ok {
		return ts.Outstanding.Clone()
	}
	return new(uint256.Int)
}

// Token returns a copy of every counter kept for t.
func (b *Book) Token(t common.Address) TokenState {
	if ts, ok := b.tokens[t]; ok {
		return ts.clone()
	}
	return newTokenState().clone()
}

// Check verifies outstanding + fees == custody for t.
func (b *Book) Check(t common.Address) error {
	ts, ok := b.tokens[t]
	if !ok {
		return nil
	}
	sum, overflow := new(uint256.Int).AddOverflow(ts.Outstanding, ts.Fees)
	if overflow || !sum.Eq(ts.Custody) {
		return fmt.Errorf("%w: token %s outstanding=%s fees=%s custody=%s",
			ErrConservationViolated, t.Hex(), ts.Outstanding.Dec(), ts.Fees.Dec(), ts.Custody.Dec())
	}
	return nil
}

// ── journal ───────────────────────────────────────────────────────────────────

func (b *Book) Snapshot() int {
	return len(b.journal)
}

func (b *Book) RevertToSnapshot(id int) {
	for i := len(b.journal) - 1; i >= id; i-- {
		b.journal[i].revert(b)
	}
	b.journal = b.journal[:id]
}

func (b *Book) DiscardJournal() {
	b.journal = b.journal[:0]
}

// TouchedOwners lists owners whose nonce changed since ClearTouched.
func (b *Book) TouchedOwners() []common.Address {
	out := make([]common.Address, 0, len(b.touchedOwners))
	for o := range b.touchedOwners {
		out = append(out, o)
	}
	return out
}

// TouchedTokens lists tokens whose counters changed since ClearTouched.
func (b *Book) TouchedTokens() []common.Address {
	out := make([]common.Address, 0, len(b.touchedTokens))
	for t := range b.touchedTokens {
		out = append(out, t)
	}
	return out
}

func (b *Book) ClearTouched() {
	clear(b.touchedOwners)
	clear(b.touchedTokens)
}

// ── restore ───────────────────────────────────────────────────────────────────

// RestoreNonce loads a persisted nonce without journaling it.
func (b *Book) RestoreNonce(owner common.Address, n uint64) {
	b.nonces[owner] = n
}

// RestoreToken loads persisted counters without journaling them.
func (b *Book) RestoreToken(t common.Address, ts TokenState) {
	st := newTokenState()
	if ts.Fees != nil {
		st.Fees.Set(ts.Fees)
	}
	if ts.Custody != nil {
		st.Custody.Set(ts.Custody)
	}
	if ts.Outstanding != nil {
		st.Outstanding.Set(ts.Outstanding)
	}
	b.tokens[t] = st
}

// Tokens lists every token the book has counters for.
func (b *Book) Tokens() []common.Address {
	out := make([]common.Address, 0, len(b.tokens))
	for t := range b.tokens {
		out = append(out, t)
	}
	return out
}
