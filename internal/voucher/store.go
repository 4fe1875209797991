// Package voucher holds the commitment-keyed voucher records.
//
// The Store is not safe for concurrent use; the ledger serializes access.
package voucher

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

var (
	ErrCommitmentAlreadyExists = errors.New("commitment already exists")
	ErrNotFound                = errors.New("voucher does not exist")
	ErrZeroAmount              = errors.New("voucher amount must be positive")
	ErrInvariantViolation      = errors.New("voucher invariant violation")
)

// journalEntry undoes one modification. Reverting marks the key touched again
// so a change that was already flushed gets overwritten by the next flush.
type journalEntry interface {
	revert(s *Store)
}

type createChange struct{ commitment common.Hash }

func (ch createChange) revert(s *Store) {
	delete(s.vouchers, ch.commitment)
	s.touched[ch.commitment] = struct{}{}
}

type spendChange struct{ commitment common.Hash }

func (ch spendChange) revert(s *Store) {
	s.vouchers[ch.commitment].Spent = false
	s.touched[ch.commitment] = struct{}{}
}

// Store maps commitments to vouchers. Records are never deleted: a spent
// voucher keeps its commitment occupied forever.
type Store struct {
	vouchers map[common.Hash]*Voucher
	journal  []journalEntry
	touched  map[common.Hash]struct{}
}

func NewStore() *Store {
	return &Store{
		vouchers: make(map[common.Hash]*Voucher),
		touched:  make(map[common.Hash]struct{}),
	}
}

// Get returns a copy of the voucher at c.
func (s *Store) Get(c common.Hash) (Voucher, bool) {
	v, ok := s.vouchers[c]
	if !ok {
		return Voucher{}, false
	}
	return v.clone(), true
}

// Exists reports whether c was ever used, spent or not.
func (s *Store) Exists(c common.Hash) bool {
	_, ok := s.vouchers[c]
	return ok
}

// Info returns the public view of c without side effects.
func (s *Store) Info(c common.Hash) Info {
	v, ok := s.vouchers[c]
	if !ok {
		return Info{Amount: new(uint256.Int)}
	}
	return v.info()
}

// Create records a new unspent voucher at c.
func (s *Store) Create(c common.Hash, token common.Address, amount *uint256.Int, createdAt uint64) error {
	if _, ok := s.vouchers[c]; ok {
		return ErrCommitmentAlreadyExists
	}
	if amount == nil || amount.IsZero() {
		return ErrZeroAmount
	}
	s.vouchers[c] = &Voucher{
		Commitment: c,
		Token:      token,
		Amount:     amount.Clone(),
		CreatedAt:  createdAt,
	}
	s.journal = append(s.journal, createChange{c})
	s.touched[c] = struct{}{}
	return nil
}

// MarkSpent flips the spent flag of c. Callers check the flag first; a second
// spend is an internal error, not a user-facing one.
func (s *Store) MarkSpent(c common.Hash) error {
	v, ok := s.vouchers[c]
	if !ok {
		return ErrNotFound
	}
	if v.Spent {
		return fmt.Errorf("%w: %s already spent", ErrInvariantViolation, c.Hex())
	}
	v.Spent = true
	s.journal = append(s.journal, spendChange{c})
	s.touched[c] = struct{}{}
	return nil
}

// Snapshot returns an identifier for the current journal position.
func (s *Store) Snapshot() int {
	return len(s.journal)
}

// RevertToSnapshot undoes every change made after the snapshot was taken.
func (s *Store) RevertToSnapshot(id int) {
	for i := len(s.journal) - 1; i >= id; i-- {
		s.journal[i].revert(s)
	}
	s.journal = s.journal[:id]
}

// DiscardJournal drops undo information once a change set is final.
func (s *Store) DiscardJournal() {
	s.journal = s.journal[:0]
}

// Touched lists commitments modified since the last ClearTouched.
func (s *Store) Touched() []common.Hash {
	out := make([]common.Hash, 0, len(s.touched))
	for c := range s.touched {
		out = append(out, c)
	}
	return out
}

func (s *Store) ClearTouched() {
	clear(s.touched)
}

// Restore loads a persisted record without journaling it.
func (s *Store) Restore(v Voucher) {
	c := v.clone()
	s.vouchers[v.Commitment] = &c
}

// ForEach calls fn with a copy of every voucher until fn returns false.
func (s *Store) ForEach(fn func(Voucher) bool) {
	for _, v := range s.vouchers {
		if !fn(v.clone()) {
			return
		}
	}
}

// Len returns the number of commitments ever used.
func (s *Store) Len() int { return len(s.vouchers) }
