package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/0gfoundation/0g-shield/internal/keyreg"
	"github.com/0gfoundation/0g-shield/internal/ledger"
)

var errBadRequest = errors.New("bad request")

var (
	notFound = []error{
		ledger.ErrShieldDoesNotExist,
		keyreg.ErrNotRegistered,
	}
	conflicts = []error{
		ledger.ErrShieldAlreadySpent,
		ledger.ErrCommitmentAlreadyExists,
		ledger.ErrRecipientCommitmentAlreadyExists,
		ledger.ErrNotPaused,
		ledger.ErrNothingToWithdraw,
		ledger.ErrReentrantCall,
	}
	invalid = []error{
		errBadRequest,
		ledger.ErrZeroAmount,
		ledger.ErrInvalidCommitment,
		ledger.ErrInvalidToken,
		ledger.ErrInvalidRecipient,
		ledger.ErrEmptyPayload,
		ledger.ErrNoSecretsProvided,
		ledger.ErrTooManySecrets,
		ledger.ErrMixedTokens,
		ledger.ErrNewCommitmentRequired,
		ledger.ErrInsufficientShieldBalance,
		ledger.ErrAmountBelowDust,
		ledger.ErrNetAmountMustBePositive,
		ledger.ErrAmountOverflow,
		ledger.ErrFeeTooHigh,
		keyreg.ErrEmptyKey,
		keyreg.ErrKeyTooLarge,
	}
)

// statusFor maps a ledger error onto an HTTP status. Wrapper sentinels are
// checked first since they may carry a validation error from a callback.
func statusFor(err error) int {
	switch {
	case errors.Is(err, ledger.ErrTokenTransfer):
		return http.StatusBadGateway
	case errors.Is(err, ledger.ErrPersist):
		return http.StatusInternalServerError
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	case errors.Is(err, ledger.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, ledger.ErrPaused):
		return http.StatusLocked
	case isAny(err, notFound):
		return http.StatusNotFound
	case isAny(err, conflicts):
		return http.StatusConflict
	case isAny(err, invalid):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func isAny(err error, targets []error) bool {
	for _, t := range targets {
		if errors.Is(err, t) {
			return true
		}
	}
	return false
}

// fail writes err as a JSON error. Server-side failures are logged and their
// detail is not echoed to the client.
func (h *Handler) fail(c *gin.Context, op string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.log.Error("request failed", zap.String("op", op), zap.Int("status", status), zap.Error(err))
		if status != http.StatusBadGateway {
			c.AbortWithStatusJSON(status, gin.H{"error": "internal error"})
			return
		}
	}
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
}
