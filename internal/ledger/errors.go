package ledger

import (
	"errors"

	"github.com/0gfoundation/0g-shield/internal/access"
	"github.com/0gfoundation/0g-shield/internal/accounting"
	"github.com/0gfoundation/0g-shield/internal/commitment"
	"github.com/0gfoundation/0g-shield/internal/fee"
	"github.com/0gfoundation/0g-shield/internal/voucher"
)

// Input validation.
var (
	ErrZeroAmount        = voucher.ErrZeroAmount
	ErrInvalidToken      = errors.New("invalid token")
	ErrInvalidRecipient  = errors.New("invalid recipient")
	ErrEmptyPayload      = errors.New("encrypted payload is empty")
	ErrNoSecretsProvided = errors.New("no secrets provided")
	ErrTooManySecrets    = errors.New("too many secrets")
	ErrInvalidCommitment = commitment.ErrInvalidCommitment
)

// State consistency.
var (
	ErrShieldDoesNotExist               = errors.New("shield does not exist")
	ErrShieldAlreadySpent               = errors.New("shield already spent")
	ErrCommitmentAlreadyExists          = voucher.ErrCommitmentAlreadyExists
	ErrRecipientCommitmentAlreadyExists = errors.New("recipient commitment already exists")
	ErrMixedTokens                      = errors.New("all shields must use the same token")
	ErrNewCommitmentRequired            = errors.New("new commitment required for remaining balance")
)

// Arithmetic safety.
var (
	ErrInsufficientShieldBalance = errors.New("insufficient shield balance")
	ErrAmountBelowDust           = errors.New("amount below dust floor")
	ErrNetAmountMustBePositive   = errors.New("net amount must be positive")
	ErrAmountOverflow            = accounting.ErrAmountOverflow
)

// Policy.
var (
	ErrFeeTooHigh        = fee.ErrFeeTooHigh
	ErrNothingToWithdraw = accounting.ErrNothingToWithdraw
	ErrPaused            = errors.New("operations paused")
	ErrNotPaused         = errors.New("operations not paused")
	ErrUnauthorized      = access.ErrUnauthorized
)

var (
	ErrReentrantCall = errors.New("reentrant call")
	// ErrTokenTransfer wraps any failure of the token gateway.
	ErrTokenTransfer = errors.New("token transfer failed")
	// ErrPersist wraps any failure of the persistence backend.
	ErrPersist       = errors.New("persist ledger state")
	// ErrStateMismatch is returned by New when the persisted vouchers do not
	// add up to the persisted counters.
	ErrStateMismatch = errors.New("persisted vouchers disagree with counters")
	ErrZeroDustFloor = errors.New("dust floor must be at least 1")
)
