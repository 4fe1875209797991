package ledger

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"github.com/0gfoundation/0g-shield/internal/access"
	"github.com/0gfoundation/0g-shield/internal/events"
	"github.com/0gfoundation/0g-shield/internal/fee"
)

// SetFees replaces the fee schedule. Requires CapFeeManager.
func (l *Ledger) SetFees(ctx context.Context, caller common.Address, s fee.Schedule) error {
	if err := access.Require(l.gate, caller, access.CapFeeManager); err != nil {
		return err
	}
	if err := s.Validate(); err != nil {
		return err
	}
	err := l.run(ctx, "set_fees", false, func(tx *txn) error {
		l.params.Fees = s
		l.paramsDirty = true
		tx.emit(events.FeesUpdated{NewShieldRate: s.ShieldBps, NewUnshieldRate: s.UnshieldBps})
		return nil
	})
	if err != nil {
		return err
	}
	l.log.Info("fees updated",
		zap.String("by", caller.Hex()),
		zap.Uint64("shield_bps", s.ShieldBps),
		zap.Uint64("unshield_bps", s.UnshieldBps),
	)
	return nil
}

// Pause stops the four transitions. Requires CapPauser.
func (l *Ledger) Pause(ctx context.Context, caller common.Address) error {
	return l.setPaused(ctx, caller, true)
}

// Unpause re-enables the four transitions. Requires CapPauser.
func (l *Ledger) Unpause(ctx context.Context, caller common.Address) error {
	return l.setPaused(ctx, caller, false)
}

func (l *Ledger) setPaused(ctx context.Context, caller common.Address, paused bool) error {
	if err := access.Require(l.gate, caller, access.CapPauser); err != nil {
		return err
	}
	err := l.run(ctx, "set_paused", false, func(tx *txn) error {
		if l.params.Paused == paused {
			if paused {
				return ErrPaused
			}
			return ErrNotPaused
		}
		l.params.Paused = paused
		l.paramsDirty = true
		if paused {
			tx.emit(events.Paused{By: caller})
		} else {
			tx.emit(events.Unpaused{By: caller})
		}
		return nil
	})
	if err != nil {
		return err
	}
	l.log.Warn("pause state changed", zap.String("by", caller.Hex()), zap.Bool("paused", paused))
	return nil
}

// WithdrawFees pushes every fee accrued for tok to `to`. Requires CapTreasurer.
func (l *Ledger) WithdrawFees(ctx context.Context, caller, tok, to common.Address) (*uint256.Int, error) {
	if err := access.Require(l.gate, caller, access.CapTreasurer); err != nil {
		return nil, err
	}
	if to == (common.Address{}) {
		return nil, ErrInvalidRecipient
	}
	var amt *uint256.Int
	err := l.run(ctx, "withdraw_fees", false, func(tx *txn) error {
		taken, err := l.book.TakeFees(tok)
		if err != nil {
			return err
		}
		if err := l.book.Release(tok, taken); err != nil {
			return err
		}
		amt = taken
		tx.emit(events.FeesWithdrawn{Token: tok, To: to, Amount: taken.Clone()})
		tx.push(l.gateway, tok, to, taken.Clone())
		return nil
	})
	if err != nil {
		return nil, err
	}
	l.log.Info("fees withdrawn",
		zap.String("token", tok.Hex()),
		zap.String("to", to.Hex()),
		zap.String("amount", amt.Dec()),
	)
	return amt, nil
}

// EmergencyWithdraw pushes amount of tok from custody to `to` while the ledger
// is paused. Private accounting is left as is, so CheckConservation keeps
// describing what vouchers are owed. Requires CapAdmin.
func (l *Ledger) EmergencyWithdraw(ctx context.Context, caller, tok common.Address, amount *uint256.Int, to common.Address) error {
	if err := access.Require(l.gate, caller, access.CapAdmin); err != nil {
		return err
	}
	if amount == nil || amount.IsZero() {
		return ErrZeroAmount
	}
	if to == (common.Address{}) {
		return ErrInvalidRecipient
	}
	err := l.run(ctx, "emergency_withdraw", false, func(tx *txn) error {
		if !l.params.Paused {
			return ErrNotPaused
		}
		tx.emit(events.EmergencyWithdrawal{Token: tok, To: to, Amount: amount.Clone()})
		tx.push(l.gateway, tok, to, amount.Clone())
		return nil
	})
	if err != nil {
		return err
	}
	l.log.Warn("emergency withdrawal",
		zap.String("by", caller.Hex()),
		zap.String("token", tok.Hex()),
		zap.String("to", to.Hex()),
		zap.String("amount", amount.Dec()),
	)
	return nil
}
