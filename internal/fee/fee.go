// Package fee computes basis-point fees with integer truncation.
package fee

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"
)

const (
	// Denominator is 100% expressed in basis points.
	Denominator = 10000
	// MaxRateBps caps any configured rate at 10%.
	MaxRateBps = 1000
)

var (
	ErrFeeTooHigh = errors.New("fee exceeds configured maximum")

	denominator = uint256.NewInt(Denominator)
)

// Compute returns floor(amount * rateBps / 10000). It performs no bounds
// checking on rateBps; callers pass rates already clamped by Schedule.
func Compute(amount *uint256.Int, rateBps uint64) *uint256.Int {
	if amount == nil || rateBps == 0 {
		return new(uint256.Int)
	}
	// 512-bit intermediate product, so the multiplication cannot wrap.
	z, _ := new(uint256.Int).MulDivOverflow(amount, uint256.NewInt(rateBps), denominator)
	return z
}

// Net splits amount into (amount - fee, fee).
func Net(amount *uint256.Int, rateBps uint64) (net, fee *uint256.Int) {
	fee = Compute(amount, rateBps)
	net = new(uint256.Int).Sub(amount, fee)
	return net, fee
}

// Schedule holds the rates charged on entry to and exit from the pool.
// Transfers and consolidations are never charged.
type Schedule struct {
	ShieldBps   uint64 `json:"shield_bps"`
	UnshieldBps uint64 `json:"unshield_bps"`
}

// Validate enforces MaxRateBps on every rate.
func (s Schedule) Validate() error {
	if s.ShieldBps > MaxRateBps {
		return fmt.Errorf("%w: shield rate %d > %d", ErrFeeTooHigh, s.ShieldBps, MaxRateBps)
	}
	if s.UnshieldBps > MaxRateBps {
		return fmt.Errorf("%w: unshield rate %d > %d", ErrFeeTooHigh, s.UnshieldBps, MaxRateBps)
	}
	return nil
}
