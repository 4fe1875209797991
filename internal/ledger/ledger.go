// Package ledger is the commitment-keyed value ledger. It owns the voucher
// store and the accounting book and exposes them only through the four
// transitions (shield, unshield, transfer, consolidate), the capability gated
// admin surfaces, and read-only views.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"github.com/0gfoundation/0g-shield/internal/access"
	"github.com/0gfoundation/0g-shield/internal/accounting"
	"github.com/0gfoundation/0g-shield/internal/events"
	"github.com/0gfoundation/0g-shield/internal/fee"
	"github.com/0gfoundation/0g-shield/internal/store"
	"github.com/0gfoundation/0g-shield/internal/token"
	"github.com/0gfoundation/0g-shield/internal/voucher"
)

const (
	// MaxConsolidateInputs bounds the secrets accepted by one Consolidate.
	MaxConsolidateInputs = 10
	// DefaultDustFloor is the smallest amount Unshield and Transfer accept.
	DefaultDustFloor = 100
)

// Options configures a Ledger. Gateway is required; every other field has a
// usable zero value.
type Options struct {
	Fees      fee.Schedule
	DustFloor *uint256.Int
	Gateway   token.Gateway
	Gate      access.Gate
	Sink      events.Sink
	Backend   store.Backend
	Now       func() time.Time
	Log       *zap.Logger

	// ReentryWait defaults to DefaultReentryWait.
	ReentryWait time.Duration
}

// Ledger is safe for concurrent use. Mutating calls are serialized; views run
// concurrently with each other and with the external phase of a transition.
type Ledger struct {
	gateway token.Gateway
	gate    access.Gate
	sink    events.Sink
	backend store.Backend
	now     func() time.Time
	log     *zap.Logger
	dust    *uint256.Int

	sem         chan struct{}
	depth       atomic.Int64
	moving      atomic.Bool
	reentryWait time.Duration

	mu          sync.RWMutex
	vouchers    *voucher.Store
	book        *accounting.Book
	params      store.Params
	paramsDirty bool
}

// New builds a Ledger and restores whatever state opts.Backend holds.
// Persisted parameters take precedence over opts.Fees.
func New(ctx context.Context, opts Options) (*Ledger, error) {
	if opts.Gateway == nil {
		return nil, errors.New("ledger: token gateway is required")
	}
	if err := opts.Fees.Validate(); err != nil {
		return nil, err
	}
	l := &Ledger{
		gateway:  opts.Gateway,
		gate:     opts.Gate,
		sink:     opts.Sink,
		backend:  opts.Backend,
		now:      opts.Now,
		log:      opts.Log,
		dust:     opts.DustFloor,
		sem:      make(chan struct{}, 1),
		vouchers: voucher.NewStore(),
		book:     accounting.NewBook(),
		params:   store.Params{Fees: opts.Fees},

		reentryWait: opts.ReentryWait,
	}
	if l.sink == nil {
		l.sink = events.Discard{}
	}
	if l.backend == nil {
		l.backend = store.NewMemory()
	}
	if l.now == nil {
		l.now = time.Now
	}
	if l.log == nil {
		l.log = zap.NewNop()
	}
	if l.dust == nil {
		l.dust = uint256.NewInt(DefaultDustFloor)
	}
	if l.reentryWait <= 0 {
		l.reentryWait = DefaultReentryWait
	}
	if l.dust.IsZero() {
		return nil, ErrZeroDustFloor
	}

	snap, err := l.backend.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load ledger state: %w", err)
	}
	if err := l.restore(snap); err != nil {
		return nil, err
	}
	l.log.Info("ledger loaded",
		zap.Int("vouchers", l.vouchers.Len()),
		zap.Int("tokens", len(l.book.Tokens())),
		zap.Uint64("shield_bps", l.params.Fees.ShieldBps),
		zap.Uint64("unshield_bps", l.params.Fees.UnshieldBps),
		zap.Bool("paused", l.params.Paused),
	)
	return l, nil
}

func (l *Ledger) restore(snap *store.Snapshot) error {
	for _, v := range snap.Vouchers {
		l.vouchers.Restore(v)
	}
	for o, n := range snap.Nonces {
		l.book.RestoreNonce(o, n)
	}
	for t, ts := range snap.Tokens {
		l.book.RestoreToken(t, ts)
	}
	if snap.Params != nil {
		if err := snap.Params.Fees.Validate(); err != nil {
			return fmt.Errorf("persisted fee schedule: %w", err)
		}
		l.params = *snap.Params
	}
	unspent := make(map[common.Address]*uint256.Int)
	for _, v := range snap.Vouchers {
		if v.Spent {
			continue
		}
		sum, ok := unspent[v.Token]
		if !ok {
			sum = new(uint256.Int)
			unspent[v.Token] = sum
		}
		if _, overflow := sum.AddOverflow(sum, v.Amount); overflow {
			return fmt.Errorf("%w: unspent %s overflows", ErrStateMismatch, v.Token.Hex())
		}
	}
	for t, sum := range unspent {
		if !sum.Eq(l.book.Outstanding(t)) {
			return fmt.Errorf("%w: token %s unspent vouchers=%s outstanding=%s",
				ErrStateMismatch, t.Hex(), sum.Dec(), l.book.Outstanding(t).Dec())
		}
	}
	for _, t := range l.book.Tokens() {
		if _, ok := unspent[t]; !ok && !l.book.Outstanding(t).IsZero() {
			return fmt.Errorf("%w: token %s unspent vouchers=0 outstanding=%s",
				ErrStateMismatch, t.Hex(), l.book.Outstanding(t).Dec())
		}
		if err := l.book.Check(t); err != nil {
			return fmt.Errorf("persisted state: %w", err)
		}
	}
	return nil
}

// ── views ─────────────────────────────────────────────────────────────────────

// VoucherInfo returns the public view of c. Unknown commitments yield
// Exists=false with every other field zero.
func (l *Ledger) VoucherInfo(c common.Hash) voucher.Info {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.vouchers.Info(c)
}

// Nonce returns the nonce the next system commitment for owner will use.
func (l *Ledger) Nonce(owner common.Address) uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.book.Nonce(owner)
}

func (l *Ledger) AccruedFees(t common.Address) *uint256.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.book.AccruedFees(t)
}

func (l *Ledger) Custody(t common.Address) *uint256.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.book.Custody(t)
}

func (l *Ledger) Outstanding(t common.Address) *uint256.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.book.Outstanding(t)
}

func (l *Ledger) Fees() fee.Schedule {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.params.Fees
}

func (l *Ledger) Paused() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.params.Paused
}

// DustFloor returns a copy of the configured dust floor.
func (l *Ledger) DustFloor() *uint256.Int {
	return l.dust.Clone()
}

// Tokens lists every token the ledger has ever held.
func (l *Ledger) Tokens() []common.Address {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.book.Tokens()
}

// CheckConservation verifies outstanding + fees == custody for t.
func (l *Ledger) CheckConservation(t common.Address) error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.book.Check(t)
}

// ── transitions ───────────────────────────────────────────────────────────────

// txn collects the side effects of one transition until it is committed.
type txn struct {
	events   []events.Event
	external func(ctx context.Context) error
}

func (tx *txn) emit(evs ...events.Event) {
	tx.events = append(tx.events, evs...)
}

// pull registers the transition's single external token movement.
func (tx *txn) pull(g token.Gateway, t, from common.Address, amt *uint256.Int) {
	tx.external = func(ctx context.Context) error { return g.Pull(ctx, t, from, amt) }
}

func (tx *txn) push(g token.Gateway, t, to common.Address, amt *uint256.Int) {
	tx.external = func(ctx context.Context) error { return g.Push(ctx, t, to, amt) }
}

// run executes apply as one all-or-nothing transition. Internal state is
// final and persisted before the external token movement starts; if that
// movement fails the internal changes are undone and persisted again. A
// movement whose outcome is unknown counts as done.
func (l *Ledger) run(ctx context.Context, op string, pausable bool, apply func(tx *txn) error) error {
	ctx, release, err := l.enter(ctx)
	if err != nil {
		return err
	}
	defer release()

	l.mu.Lock()
	if pausable && l.params.Paused {
		l.mu.Unlock()
		return ErrPaused
	}
	vsnap, bsnap, psnap := l.vouchers.Snapshot(), l.book.Snapshot(), l.params

	tx := &txn{}
	err = apply(tx)
	if err == nil {
		err = l.checkTouched()
	}
	if err == nil {
		if ferr := l.flush(ctx); ferr != nil {
			err = fmt.Errorf("%w: %w", ErrPersist, ferr)
		}
	}
	if err != nil {
		l.revert(vsnap, bsnap, psnap)
		l.mu.Unlock()
		return err
	}
	l.mu.Unlock()

	if tx.external != nil {
		l.moving.Store(true)
		xerr := tx.external(ctx)
		l.moving.Store(false)
		if errors.Is(xerr, token.ErrOutcomeUnknown) {
			// The movement may still land. If it never does, the reconciler
			// reports the custody shortfall.
			l.log.Warn("token movement outcome unknown, keeping committed state",
				zap.String("op", op), zap.Error(xerr))
			xerr = nil
		}
		if xerr != nil {
			l.mu.Lock()
			l.revert(vsnap, bsnap, psnap)
			if ferr := l.flush(context.WithoutCancel(ctx)); ferr != nil {
				l.log.Error("re-persist after failed token movement",
					zap.String("op", op), zap.Error(ferr))
			}
			l.mu.Unlock()
			return fmt.Errorf("%w: %w", ErrTokenTransfer, xerr)
		}
	}

	l.mu.Lock()
	l.vouchers.DiscardJournal()
	l.book.DiscardJournal()
	l.mu.Unlock()

	if err := l.sink.Publish(ctx, tx.events); err != nil {
		l.log.Error("publish events", zap.String("op", op), zap.Int("count", len(tx.events)), zap.Error(err))
	}
	return nil
}

func (l *Ledger) revert(vsnap, bsnap int, params store.Params) {
	l.vouchers.RevertToSnapshot(vsnap)
	l.book.RevertToSnapshot(bsnap)
	if l.params != params {
		l.params = params
		l.paramsDirty = true
	}
}

func (l *Ledger) checkTouched() error {
	for _, t := range l.book.TouchedTokens() {
		if err := l.book.Check(t); err != nil {
			return err
		}
	}
	return nil
}

// flush writes the current value of every key touched since the last
// successful flush. Touched sets survive a failed flush so the next one
// retries them.
func (l *Ledger) flush(ctx context.Context) error {
	cs := &store.ChangeSet{
		Nonces: make(map[common.Address]uint64),
		Tokens: make(map[common.Address]accounting.TokenState),
	}
	for _, c := range l.vouchers.Touched() {
		if v, ok := l.vouchers.Get(c); ok {
			cs.Vouchers = append(cs.Vouchers, v)
		} else {
			cs.Removed = append(cs.Removed, c)
		}
	}
	for _, o := range l.book.TouchedOwners() {
		cs.Nonces[o] = l.book.Nonce(o)
	}
	for _, t := range l.book.TouchedTokens() {
		cs.Tokens[t] = l.book.Token(t)
	}
	if l.paramsDirty {
		p := l.params
		cs.Params = &p
	}
	if cs.Empty() {
		return nil
	}
	if err := l.backend.Commit(ctx, cs); err != nil {
		return err
	}
	l.vouchers.ClearTouched()
	l.book.ClearTouched()
	l.paramsDirty = false
	return nil
}

func (l *Ledger) timestamp() uint64 {
	return uint64(l.now().Unix())
}
