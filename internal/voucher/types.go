package voucher

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Voucher is a private balance of one token addressed by its commitment.
// Amount is net of any fee already taken and never changes after creation.
type Voucher struct {
	Commitment common.Hash    `json:"commitment"`
	Token      common.Address `json:"token"`
	Amount     *uint256.Int   `json:"amount"`
	CreatedAt  uint64         `json:"created_at"`
	Spent      bool           `json:"spent"`
}

// Info is the public view of a commitment. Unknown commitments yield the zero
// value with Exists=false.
type Info struct {
	Exists    bool           `json:"exists"`
	Spent     bool           `json:"spent"`
	Token     common.Address `json:"token"`
	Amount    *uint256.Int   `json:"amount"`
	CreatedAt uint64         `json:"created_at"`
}

func (v *Voucher) info() Info {
	return Info{
		Exists:    true,
		Spent:     v.Spent,
		Token:     v.Token,
		Amount:    v.Amount.Clone(),
		CreatedAt: v.CreatedAt,
	}
}

func (v *Voucher) clone() Voucher {
	c := *v
	c.Amount = v.Amount.Clone()
	return c
}
