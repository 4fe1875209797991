package ledger

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"github.com/0gfoundation/0g-shield/internal/commitment"
	"github.com/0gfoundation/0g-shield/internal/events"
	"github.com/0gfoundation/0g-shield/internal/fee"
	"github.com/0gfoundation/0g-shield/internal/voucher"
)

// ShieldResult describes the voucher a Shield created.
type ShieldResult struct {
	Commitment common.Hash
	Token      common.Address
	Net        *uint256.Int
	Fee        *uint256.Int
}

// UnshieldResult describes a redemption. RemainderCommitment is zero when
// the voucher was redeemed in full.
type UnshieldResult struct {
	Commitment          common.Hash
	Token               common.Address
	Payout              *uint256.Int
	Fee                 *uint256.Int
	Remainder           *uint256.Int
	RemainderCommitment common.Hash
}

// TransferResult describes a re-commitment. RemainderCommitment is zero when
// the sender's voucher was transferred in full.
type TransferResult struct {
	Spent               common.Hash
	Token               common.Address
	Recipient           common.Hash
	Amount              *uint256.Int
	RemainderCommitment common.Hash
	Remainder           *uint256.Int
}

// ConsolidateResult describes a merge.
type ConsolidateResult struct {
	Consumed   []common.Hash
	Commitment common.Hash
	Token      common.Address
	Amount     *uint256.Int
}

// Shield pulls amount of tok from caller and records a voucher for the amount
// net of the shield fee at c.
func (l *Ledger) Shield(ctx context.Context, caller common.Address, amount *uint256.Int, tok common.Address, c common.Hash) (*ShieldResult, error) {
	if amount == nil || amount.IsZero() {
		return nil, ErrZeroAmount
	}
	if tok == (common.Address{}) {
		return nil, ErrInvalidToken
	}
	if err := commitment.Validate(c); err != nil {
		return nil, err
	}

	var res *ShieldResult
	err := l.run(ctx, "shield", true, func(tx *txn) error {
		if l.vouchers.Exists(c) {
			return ErrCommitmentAlreadyExists
		}
		net, f := fee.Net(amount, l.params.Fees.ShieldBps)
		if net.IsZero() {
			return ErrNetAmountMustBePositive
		}
		if err := l.book.Deposit(tok, amount); err != nil {
			return err
		}
		if err := l.book.AccrueFee(tok, f); err != nil {
			return err
		}
		if err := l.book.Issue(tok, net); err != nil {
			return err
		}
		if err := l.vouchers.Create(c, tok, net, l.timestamp()); err != nil {
			return err
		}
		if !f.IsZero() {
			tx.emit(events.FeeCollected{Token: tok, Amount: f.Clone()})
		}
		tx.emit(events.VoucherCreated{Commitment: c, Token: tok, NetAmount: net.Clone(), Fee: f.Clone()})
		tx.pull(l.gateway, tok, caller, amount.Clone())
		res = &ShieldResult{Commitment: c, Token: tok, Net: net, Fee: f}
		return nil
	})
	if err != nil {
		return nil, err
	}
	l.log.Info("shielded",
		zap.String("commitment", c.Hex()),
		zap.String("token", tok.Hex()),
		zap.String("net", res.Net.Dec()),
		zap.String("fee", res.Fee.Dec()),
	)
	return res, nil
}

// Unshield redeems amount from the caller's voucher at Of(secret, caller),
// pays it out net of the unshield fee to recipient, and re-commits any
// remainder at remainderCommitment without a fee.
func (l *Ledger) Unshield(ctx context.Context, caller common.Address, secret commitment.Secret, amount *uint256.Int, recipient common.Address, remainderCommitment common.Hash) (*UnshieldResult, error) {
	if amount == nil || amount.Lt(l.dust) {
		return nil, ErrAmountBelowDust
	}
	if recipient == (common.Address{}) {
		return nil, ErrInvalidRecipient
	}
	c := commitment.Of(secret, caller)

	var res *UnshieldResult
	err := l.run(ctx, "unshield", true, func(tx *txn) error {
		v, err := l.spendable(c)
		if err != nil {
			return err
		}
		if amount.Gt(v.Amount) {
			return ErrInsufficientShieldBalance
		}
		payout, f := fee.Net(amount, l.params.Fees.UnshieldBps)
		remainder := new(uint256.Int).Sub(v.Amount, amount)
		if !remainder.IsZero() {
			if remainderCommitment == (common.Hash{}) {
				return ErrNewCommitmentRequired
			}
			if l.vouchers.Exists(remainderCommitment) {
				return ErrCommitmentAlreadyExists
			}
		}

		if err := l.vouchers.MarkSpent(c); err != nil {
			return err
		}
		if err := l.book.Retire(v.Token, v.Amount); err != nil {
			return err
		}
		if err := l.book.AccrueFee(v.Token, f); err != nil {
			return err
		}
		if err := l.book.Release(v.Token, payout); err != nil {
			return err
		}
		res = &UnshieldResult{Commitment: c, Token: v.Token, Payout: payout, Fee: f, Remainder: remainder}
		if !f.IsZero() {
			tx.emit(events.FeeCollected{Token: v.Token, Amount: f.Clone()})
		}
		tx.emit(events.VoucherRedeemed{Commitment: c, Token: v.Token, NetPayout: payout.Clone(), Fee: f.Clone()})

		if !remainder.IsZero() {
			if err := l.book.Issue(v.Token, remainder); err != nil {
				return err
			}
			if err := l.vouchers.Create(remainderCommitment, v.Token, remainder, l.timestamp()); err != nil {
				return err
			}
			res.RemainderCommitment = remainderCommitment
			tx.emit(events.VoucherCreated{Commitment: remainderCommitment, Token: v.Token, NetAmount: remainder.Clone(), Fee: new(uint256.Int)})
		}
		if !payout.IsZero() {
			tx.push(l.gateway, v.Token, recipient, payout.Clone())
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	l.log.Info("unshielded",
		zap.String("commitment", c.Hex()),
		zap.String("token", res.Token.Hex()),
		zap.String("payout", res.Payout.Dec()),
		zap.String("fee", res.Fee.Dec()),
		zap.String("remainder", res.Remainder.Dec()),
	)
	return res, nil
}

// Transfer moves amount of the caller's voucher to recipientCommitment. No
// value leaves custody and no fee is charged. Any residual is re-committed for
// the caller at a system commitment derived from the caller's nonce. payload
// is delivered to the recipient untouched.
func (l *Ledger) Transfer(ctx context.Context, caller common.Address, secret commitment.Secret, amount *uint256.Int, recipientCommitment common.Hash, payload []byte) (*TransferResult, error) {
	if amount == nil || amount.Lt(l.dust) {
		return nil, ErrAmountBelowDust
	}
	if len(payload) == 0 {
		return nil, ErrEmptyPayload
	}
	if err := commitment.Validate(recipientCommitment); err != nil {
		return nil, err
	}
	c := commitment.Of(secret, caller)
	delivered := hexutil.Bytes(append([]byte(nil), payload...))

	var res *TransferResult
	err := l.run(ctx, "transfer", true, func(tx *txn) error {
		v, err := l.spendable(c)
		if err != nil {
			return err
		}
		if amount.Gt(v.Amount) {
			return ErrInsufficientShieldBalance
		}
		if l.vouchers.Exists(recipientCommitment) {
			return ErrRecipientCommitmentAlreadyExists
		}
		remainder := new(uint256.Int).Sub(v.Amount, amount)

		if err := l.vouchers.MarkSpent(c); err != nil {
			return err
		}
		if err := l.book.Retire(v.Token, v.Amount); err != nil {
			return err
		}
		if err := l.book.Issue(v.Token, amount); err != nil {
			return err
		}
		now := l.timestamp()
		if err := l.vouchers.Create(recipientCommitment, v.Token, amount, now); err != nil {
			return err
		}
		res = &TransferResult{Spent: c, Token: v.Token, Recipient: recipientCommitment, Amount: amount.Clone(), Remainder: remainder}
		tx.emit(
			events.VoucherRedeemed{Commitment: c, Token: v.Token, NetPayout: new(uint256.Int), Fee: new(uint256.Int)},
			events.VoucherCreated{Commitment: recipientCommitment, Token: v.Token, NetAmount: amount.Clone(), Fee: new(uint256.Int)},
		)

		if !remainder.IsZero() {
			rc := commitment.System(caller, l.book.NextNonce(caller))
			if err := l.book.Issue(v.Token, remainder); err != nil {
				return err
			}
			if err := l.vouchers.Create(rc, v.Token, remainder, now); err != nil {
				return err
			}
			res.RemainderCommitment = rc
			tx.emit(events.VoucherCreated{Commitment: rc, Token: v.Token, NetAmount: remainder.Clone(), Fee: new(uint256.Int)})
		}
		tx.emit(events.SecretDelivered{EncryptedPayload: delivered})
		return nil
	})
	if err != nil {
		return nil, err
	}
	l.log.Info("transferred",
		zap.String("commitment", c.Hex()),
		zap.String("recipient", recipientCommitment.Hex()),
		zap.String("amount", res.Amount.Dec()),
		zap.String("remainder", res.Remainder.Dec()),
	)
	return res, nil
}

// Consolidate merges the caller's vouchers for secrets, which must all hold
// the same token, into one voucher at newCommitment.
func (l *Ledger) Consolidate(ctx context.Context, caller common.Address, secrets []commitment.Secret, newCommitment common.Hash) (*ConsolidateResult, error) {
	if len(secrets) == 0 {
		return nil, ErrNoSecretsProvided
	}
	if len(secrets) > MaxConsolidateInputs {
		return nil, ErrTooManySecrets
	}
	if err := commitment.Validate(newCommitment); err != nil {
		return nil, err
	}

	var res *ConsolidateResult
	err := l.run(ctx, "consolidate", true, func(tx *txn) error {
		if l.vouchers.Exists(newCommitment) {
			return ErrCommitmentAlreadyExists
		}
		var (
			tok      common.Address
			total    = new(uint256.Int)
			consumed = make([]common.Hash, 0, len(secrets))
		)
		for i, s := range secrets {
			c := commitment.Of(s, caller)
			v, err := l.spendable(c)
			if err != nil {
				return err
			}
			if i == 0 {
				tok = v.Token
			} else if v.Token != tok {
				return ErrMixedTokens
			}
			if _, overflow := total.AddOverflow(total, v.Amount); overflow {
				return ErrAmountOverflow
			}
			if err := l.vouchers.MarkSpent(c); err != nil {
				return err
			}
			if err := l.book.Retire(tok, v.Amount); err != nil {
				return err
			}
			consumed = append(consumed, c)
		}
		if total.IsZero() || tok == (common.Address{}) {
			return ErrZeroAmount
		}
		if err := l.book.Issue(tok, total); err != nil {
			return err
		}
		if err := l.vouchers.Create(newCommitment, tok, total, l.timestamp()); err != nil {
			return err
		}
		tx.emit(
			events.VouchersConsolidated{OldCommitments: append([]common.Hash(nil), consumed...), NewCommitment: newCommitment},
			events.VoucherCreated{Commitment: newCommitment, Token: tok, NetAmount: total.Clone(), Fee: new(uint256.Int)},
		)
		res = &ConsolidateResult{Consumed: consumed, Commitment: newCommitment, Token: tok, Amount: total}
		return nil
	})
	if err != nil {
		return nil, err
	}
	l.log.Info("consolidated",
		zap.String("commitment", newCommitment.Hex()),
		zap.Int("inputs", len(res.Consumed)),
		zap.String("amount", res.Amount.Dec()),
	)
	return res, nil
}

// spendable returns the unspent voucher at c.
func (l *Ledger) spendable(c common.Hash) (voucher.Voucher, error) {
	v, ok := l.vouchers.Get(c)
	if !ok {
		return voucher.Voucher{}, ErrShieldDoesNotExist
	}
	if v.Spent {
		return voucher.Voucher{}, ErrShieldAlreadySpent
	}
	return v, nil
}
