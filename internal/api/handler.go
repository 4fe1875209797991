// Package api exposes the ledger over HTTP. Mutating routes sit behind the
// wallet-signature middleware and read their arguments from the signed
// payload, never from the request body.
package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/0gfoundation/0g-shield/internal/auth"
	"github.com/0gfoundation/0g-shield/internal/commitment"
	"github.com/0gfoundation/0g-shield/internal/events"
	"github.com/0gfoundation/0g-shield/internal/fee"
	"github.com/0gfoundation/0g-shield/internal/keyreg"
	"github.com/0gfoundation/0g-shield/internal/ledger"
)

// Signed actions. The action in X-Signed-Message must name the route.
const (
	ActionShield            = "shield"
	ActionUnshield          = "unshield"
	ActionTransfer          = "transfer"
	ActionConsolidate       = "consolidate"
	ActionRegisterKey       = "register_pubkey"
	ActionSetFees           = "set_fees"
	ActionPause             = "pause"
	ActionUnpause           = "unpause"
	ActionWithdrawFees      = "withdraw_fees"
	ActionEmergencyWithdraw = "emergency_withdraw"
)

// Handler wires up all ledger routes onto a Gin engine.
type Handler struct {
	ledger *ledger.Ledger
	keys   keyreg.Registry
	sink   events.Sink
	log    *zap.Logger
}

func NewHandler(l *ledger.Ledger, keys keyreg.Registry, sink events.Sink, log *zap.Logger) *Handler {
	if sink == nil {
		sink = events.Discard{}
	}
	return &Handler{ledger: l, keys: keys, sink: sink, log: log}
}

// Register mounts the authenticated routes. The auth middleware should already
// be applied to rg.
func (h *Handler) Register(rg *gin.RouterGroup) {
	// ── Transitions ────────────────────────────────────────────────────────
	rg.POST("/shield", h.signed(ActionShield, h.handleShield))
	rg.POST("/unshield", h.signed(ActionUnshield, h.handleUnshield))
	rg.POST("/transfer", h.signed(ActionTransfer, h.handleTransfer))
	rg.POST("/consolidate", h.signed(ActionConsolidate, h.handleConsolidate))

	// ── Key registry ───────────────────────────────────────────────────────
	rg.PUT("/pubkey", h.signed(ActionRegisterKey, h.handleRegisterKey))

	// ── Admin ──────────────────────────────────────────────────────────────
	admin := rg.Group("/admin")
	admin.POST("/fees", h.signed(ActionSetFees, h.handleSetFees))
	admin.POST("/pause", h.signed(ActionPause, h.handlePause))
	admin.POST("/unpause", h.signed(ActionUnpause, h.handleUnpause))
	admin.POST("/withdraw-fees", h.signed(ActionWithdrawFees, h.handleWithdrawFees))
	admin.POST("/emergency-withdraw", h.signed(ActionEmergencyWithdraw, h.handleEmergencyWithdraw))
}

// RegisterPublic mounts the read-only views.
func (h *Handler) RegisterPublic(r gin.IRoutes) {
	r.GET("/healthz", h.handleHealth)
	r.GET("/voucher/:commitment", h.handleVoucher)
	r.GET("/fees/:token", h.handleFees)
	r.GET("/nonce/:owner", h.handleNonce)
	r.GET("/pubkey/:owner", h.handleLookupKey)
}

// signed checks that the request was signed for action and hands the caller
// and raw payload to next.
func (h *Handler) signed(action string, next func(c *gin.Context, caller common.Address, payload []byte)) gin.HandlerFunc {
	return func(c *gin.Context) {
		caller, ok := auth.Wallet(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
			return
		}
		if got := c.GetString(auth.KeyAction); got != action {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": fmt.Sprintf("signed action %q does not match %q", got, action)})
			return
		}
		payload, _ := c.Get(auth.KeyPayload)
		raw, _ := payload.([]byte)
		next(c, caller, raw)
	}
}

func decode(raw []byte, v any) error {
	if len(raw) == 0 {
		return fmt.Errorf("%w: empty payload", errBadRequest)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return nil
}

// ── Transitions ─────────────────────────────────────────────────────────────

func (h *Handler) handleShield(c *gin.Context, caller common.Address, raw []byte) {
	var req shieldRequest
	if err := decode(raw, &req); err != nil {
		h.fail(c, ActionShield, err)
		return
	}
	tok, err := parseAddress("token", req.Token)
	if err != nil {
		h.fail(c, ActionShield, err)
		return
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		h.fail(c, ActionShield, err)
		return
	}
	cm, err := parseHash("commitment", req.Commitment)
	if err != nil {
		h.fail(c, ActionShield, err)
		return
	}

	res, err := h.ledger.Shield(c.Request.Context(), caller, amount, tok, cm)
	if err != nil {
		h.fail(c, ActionShield, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"commitment": res.Commitment.Hex(),
		"token":      res.Token.Hex(),
		"net_amount": dec(res.Net),
		"fee":        dec(res.Fee),
	})
}

func (h *Handler) handleUnshield(c *gin.Context, caller common.Address, raw []byte) {
	var req unshieldRequest
	if err := decode(raw, &req); err != nil {
		h.fail(c, ActionUnshield, err)
		return
	}
	secret, err := parseSecret(req.Secret)
	if err != nil {
		h.fail(c, ActionUnshield, err)
		return
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		h.fail(c, ActionUnshield, err)
		return
	}
	recipient, err := parseAddress("recipient", req.Recipient)
	if err != nil {
		h.fail(c, ActionUnshield, err)
		return
	}
	remainder, err := parseOptionalHash("remainder_commitment", req.RemainderCommitment)
	if err != nil {
		h.fail(c, ActionUnshield, err)
		return
	}

	res, err := h.ledger.Unshield(c.Request.Context(), caller, secret, amount, recipient, remainder)
	if err != nil {
		h.fail(c, ActionUnshield, err)
		return
	}
	out := gin.H{
		"commitment": res.Commitment.Hex(),
		"token":      res.Token.Hex(),
		"net_payout": dec(res.Payout),
		"fee":        dec(res.Fee),
		"remainder":  dec(res.Remainder),
	}
	if res.RemainderCommitment != (common.Hash{}) {
		out["remainder_commitment"] = res.RemainderCommitment.Hex()
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handler) handleTransfer(c *gin.Context, caller common.Address, raw []byte) {
	var req transferRequest
	if err := decode(raw, &req); err != nil {
		h.fail(c, ActionTransfer, err)
		return
	}
	secret, err := parseSecret(req.Secret)
	if err != nil {
		h.fail(c, ActionTransfer, err)
		return
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		h.fail(c, ActionTransfer, err)
		return
	}
	recipient, err := parseHash("recipient_commitment", req.RecipientCommitment)
	if err != nil {
		h.fail(c, ActionTransfer, err)
		return
	}
	payload, err := parseBytes("encrypted_payload", req.EncryptedPayload)
	if err != nil {
		h.fail(c, ActionTransfer, err)
		return
	}

	res, err := h.ledger.Transfer(c.Request.Context(), caller, secret, amount, recipient, payload)
	if err != nil {
		h.fail(c, ActionTransfer, err)
		return
	}
	out := gin.H{
		"spent":                res.Spent.Hex(),
		"token":                res.Token.Hex(),
		"recipient_commitment": res.Recipient.Hex(),
		"amount":               dec(res.Amount),
		"remainder":            dec(res.Remainder),
	}
	if res.RemainderCommitment != (common.Hash{}) {
		out["remainder_commitment"] = res.RemainderCommitment.Hex()
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handler) handleConsolidate(c *gin.Context, caller common.Address, raw []byte) {
	var req consolidateRequest
	if err := decode(raw, &req); err != nil {
		h.fail(c, ActionConsolidate, err)
		return
	}
	secrets := make([]commitment.Secret, 0, len(req.Secrets))
	for _, s := range req.Secrets {
		sec, err := parseSecret(s)
		if err != nil {
			h.fail(c, ActionConsolidate, err)
			return
		}
		secrets = append(secrets, sec)
	}
	target, err := parseHash("new_commitment", req.NewCommitment)
	if err != nil {
		h.fail(c, ActionConsolidate, err)
		return
	}

	res, err := h.ledger.Consolidate(c.Request.Context(), caller, secrets, target)
	if err != nil {
		h.fail(c, ActionConsolidate, err)
		return
	}
	consumed := make([]string, len(res.Consumed))
	for i, cm := range res.Consumed {
		consumed[i] = cm.Hex()
	}
	c.JSON(http.StatusOK, gin.H{
		"consumed":   consumed,
		"commitment": res.Commitment.Hex(),
		"token":      res.Token.Hex(),
		"amount":     dec(res.Amount),
	})
}

// ── Key registry ────────────────────────────────────────────────────────────

func (h *Handler) handleRegisterKey(c *gin.Context, caller common.Address, raw []byte) {
	var req pubkeyRequest
	if err := decode(raw, &req); err != nil {
		h.fail(c, ActionRegisterKey, err)
		return
	}
	key, err := parseBytes("public_key", req.PublicKey)
	if err != nil {
		h.fail(c, ActionRegisterKey, err)
		return
	}
	if err := h.keys.Register(c.Request.Context(), caller, key); err != nil {
		h.fail(c, ActionRegisterKey, err)
		return
	}
	if err := h.sink.Publish(c.Request.Context(), []events.Event{events.PublicKeyRegistered{Owner: caller}}); err != nil {
		h.log.Error("publish events", zap.String("op", ActionRegisterKey), zap.Error(err))
	}
	h.log.Info("public key registered", zap.String("owner", caller.Hex()), zap.Int("size", len(key)))
	c.JSON(http.StatusOK, gin.H{"owner": caller.Hex(), "public_key": hexutil.Encode(key)})
}

func (h *Handler) handleLookupKey(c *gin.Context) {
	owner, err := parseAddress("owner", c.Param("owner"))
	if err != nil {
		h.fail(c, "lookup_pubkey", err)
		return
	}
	key, err := h.keys.Lookup(c.Request.Context(), owner)
	if err != nil {
		h.fail(c, "lookup_pubkey", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"owner": owner.Hex(), "public_key": hexutil.Encode(key)})
}

// ── Admin ───────────────────────────────────────────────────────────────────

func (h *Handler) handleSetFees(c *gin.Context, caller common.Address, raw []byte) {
	var req feesRequest
	if err := decode(raw, &req); err != nil {
		h.fail(c, ActionSetFees, err)
		return
	}
	s := fee.Schedule{ShieldBps: req.ShieldBps, UnshieldBps: req.UnshieldBps}
	if err := h.ledger.SetFees(c.Request.Context(), caller, s); err != nil {
		h.fail(c, ActionSetFees, err)
		return
	}
	c.JSON(http.StatusOK, s)
}

func (h *Handler) handlePause(c *gin.Context, caller common.Address, _ []byte) {
	if err := h.ledger.Pause(c.Request.Context(), caller); err != nil {
		h.fail(c, ActionPause, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"paused": true})
}

func (h *Handler) handleUnpause(c *gin.Context, caller common.Address, _ []byte) {
	if err := h.ledger.Unpause(c.Request.Context(), caller); err != nil {
		h.fail(c, ActionUnpause, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"paused": false})
}

func (h *Handler) handleWithdrawFees(c *gin.Context, caller common.Address, raw []byte) {
	var req withdrawFeesRequest
	if err := decode(raw, &req); err != nil {
		h.fail(c, ActionWithdrawFees, err)
		return
	}
	tok, err := parseAddress("token", req.Token)
	if err != nil {
		h.fail(c, ActionWithdrawFees, err)
		return
	}
	to, err := parseAddress("to", req.To)
	if err != nil {
		h.fail(c, ActionWithdrawFees, err)
		return
	}
	amt, err := h.ledger.WithdrawFees(c.Request.Context(), caller, tok, to)
	if err != nil {
		h.fail(c, ActionWithdrawFees, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": tok.Hex(), "to": to.Hex(), "amount": dec(amt)})
}

func (h *Handler) handleEmergencyWithdraw(c *gin.Context, caller common.Address, raw []byte) {
	var req emergencyWithdrawRequest
	if err := decode(raw, &req); err != nil {
		h.fail(c, ActionEmergencyWithdraw, err)
		return
	}
	tok, err := parseAddress("token", req.Token)
	if err != nil {
		h.fail(c, ActionEmergencyWithdraw, err)
		return
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		h.fail(c, ActionEmergencyWithdraw, err)
		return
	}
	to, err := parseAddress("to", req.To)
	if err != nil {
		h.fail(c, ActionEmergencyWithdraw, err)
		return
	}
	if err := h.ledger.EmergencyWithdraw(c.Request.Context(), caller, tok, amount, to); err != nil {
		h.fail(c, ActionEmergencyWithdraw, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": tok.Hex(), "to": to.Hex(), "amount": dec(amount)})
}

// ── Views ───────────────────────────────────────────────────────────────────

func (h *Handler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "paused": h.ledger.Paused()})
}

func (h *Handler) handleVoucher(c *gin.Context) {
	cm, err := parseHash("commitment", c.Param("commitment"))
	if err != nil {
		h.fail(c, "voucher_info", err)
		return
	}
	info := h.ledger.VoucherInfo(cm)
	c.JSON(http.StatusOK, gin.H{
		"commitment": cm.Hex(),
		"exists":     info.Exists,
		"spent":      info.Spent,
		"token":      info.Token.Hex(),
		"amount":     dec(info.Amount),
		"created_at": info.CreatedAt,
	})
}

func (h *Handler) handleFees(c *gin.Context) {
	tok, err := parseAddress("token", c.Param("token"))
	if err != nil {
		h.fail(c, "fees", err)
		return
	}
	s := h.ledger.Fees()
	c.JSON(http.StatusOK, gin.H{
		"token":        tok.Hex(),
		"accrued":      dec(h.ledger.AccruedFees(tok)),
		"custody":      dec(h.ledger.Custody(tok)),
		"outstanding":  dec(h.ledger.Outstanding(tok)),
		"shield_bps":   s.ShieldBps,
		"unshield_bps": s.UnshieldBps,
	})
}

func (h *Handler) handleNonce(c *gin.Context) {
	owner, err := parseAddress("owner", c.Param("owner"))
	if err != nil {
		h.fail(c, "nonce", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"owner": owner.Hex(), "nonce": h.ledger.Nonce(owner)})
}
