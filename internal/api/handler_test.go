package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gin-gonic/gin"
	"github.com/holiman/uint256"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/0gfoundation/0g-shield/internal/access"
	"github.com/0gfoundation/0g-shield/internal/auth"
	"github.com/0gfoundation/0g-shield/internal/commitment"
	"github.com/0gfoundation/0g-shield/internal/events"
	"github.com/0gfoundation/0g-shield/internal/fee"
	"github.com/0gfoundation/0g-shield/internal/keyreg"
	"github.com/0gfoundation/0g-shield/internal/ledger"
	"github.com/0gfoundation/0g-shield/internal/token"
)

func init() { gin.SetMode(gin.TestMode) }

var (
	tokenA   = common.HexToAddress("0x00000000000000000000000000000000000000A1")
	alice    = common.HexToAddress("0x1111111111111111111111111111111111111111")
	bob      = common.HexToAddress("0x2222222222222222222222222222222222222222")
	admin    = common.HexToAddress("0xADADADADADADADADADADADADADADADADADADADAD")
	treasury = common.HexToAddress("0x7777777777777777777777777777777777777777")
	custody  = common.HexToAddress("0xC0C0C0C0C0C0C0C0C0C0C0C0C0C0C0C0C0C0C0C0")
)

// ── Test rig ──────────────────────────────────────────────────────────────────

type recordingSink struct {
	mu    sync.Mutex
	names []string
}

func (s *recordingSink) Publish(_ context.Context, evs []events.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ev := range evs {
		s.names = append(s.names, ev.Name())
	}
	return nil
}

func (s *recordingSink) has(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, n := range s.names {
		if n == name {
			return true
		}
	}
	return false
}

type rig struct {
	engine *gin.Engine
	ledger *ledger.Ledger
	bank   *token.Bank
	sink   *recordingSink
}

func newLedger(t *testing.T, bank *token.Bank, sink events.Sink) *ledger.Ledger {
	t.Helper()
	l, err := ledger.New(context.Background(), ledger.Options{
		Fees:    fee.Schedule{ShieldBps: 25, UnshieldBps: 25},
		Gateway: bank,
		Gate:    access.NewRoles(admin),
		Sink:    sink,
		Log:     zap.NewNop(),
	})
	if err != nil {
		t.Fatalf("ledger.New: %v", err)
	}
	return l
}

// newRig mounts the handler behind a stand-in for the auth middleware that
// trusts X-Test-Wallet and X-Test-Action and uses the body as the signed
// payload.
func newRig(t *testing.T) *rig {
	t.Helper()
	bank := token.NewBank(custody)
	for _, who := range []common.Address{alice, bob} {
		bank.Mint(tokenA, who, uint256.NewInt(1_000_000))
	}
	bank.Approve(tokenA, alice, uint256.NewInt(1_000_000))

	sink := &recordingSink{}
	l := newLedger(t, bank, sink)
	h := NewHandler(l, keyreg.NewMemory(), sink, zap.NewNop())

	r := gin.New()
	h.RegisterPublic(r)
	api := r.Group("/api", func(c *gin.Context) {
		body, _ := io.ReadAll(c.Request.Body)
		c.Set(auth.KeyWallet, common.HexToAddress(c.GetHeader("X-Test-Wallet")))
		c.Set(auth.KeyAction, c.GetHeader("X-Test-Action"))
		c.Set(auth.KeyPayload, body)
		c.Next()
	})
	h.Register(api)
	return &rig{engine: r, ledger: l, bank: bank, sink: sink}
}

func (r *rig) call(t *testing.T, method, path string, wallet common.Address, action string, payload any) (int, map[string]any) {
	t.Helper()
	var body []byte
	if payload != nil {
		var err error
		if body, err = json.Marshal(payload); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("X-Test-Wallet", wallet.Hex())
	req.Header.Set("X-Test-Action", action)
	return serve(r.engine, req)
}

func (r *rig) get(t *testing.T, path string) (int, map[string]any) {
	t.Helper()
	return serve(r.engine, httptest.NewRequest(http.MethodGet, path, nil))
}

func serve(h http.Handler, req *http.Request) (int, map[string]any) {
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	var resp map[string]any
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	return w.Code, resp
}

func secretN(n byte) commitment.Secret {
	var s commitment.Secret
	s[0] = 0x5e
	s[31] = n
	return s
}

func (r *rig) shield(t *testing.T, sec commitment.Secret, amount string) common.Hash {
	t.Helper()
	cm := commitment.Of(sec, alice)
	code, resp := r.call(t, http.MethodPost, "/api/shield", alice, ActionShield, shieldRequest{
		Token: tokenA.Hex(), Amount: amount, Commitment: cm.Hex(),
	})
	if code != http.StatusOK {
		t.Fatalf("shield: got %d: %v", code, resp)
	}
	return cm
}

func expectField(t *testing.T, resp map[string]any, key string, want any) {
	t.Helper()
	if got := resp[key]; fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("%s: got %v want %v", key, got, want)
	}
}

// ── Transitions ───────────────────────────────────────────────────────────────

func TestShieldAndUnshield(t *testing.T) {
	r := newRig(t)
	cm := commitment.Of(secretN(1), alice)

	code, resp := r.call(t, http.MethodPost, "/api/shield", alice, ActionShield, shieldRequest{
		Token: tokenA.Hex(), Amount: "10000", Commitment: cm.Hex(),
	})
	if code != http.StatusOK {
		t.Fatalf("shield: got %d: %v", code, resp)
	}
	expectField(t, resp, "net_amount", "9975")
	expectField(t, resp, "fee", "25")

	code, resp = r.get(t, "/voucher/"+cm.Hex())
	if code != http.StatusOK {
		t.Fatalf("voucher: got %d", code)
	}
	expectField(t, resp, "exists", true)
	expectField(t, resp, "spent", false)
	expectField(t, resp, "amount", "9975")

	code, resp = r.call(t, http.MethodPost, "/api/unshield", alice, ActionUnshield, unshieldRequest{
		Secret: secretN(1).Hex(), Amount: "9975", Recipient: bob.Hex(),
	})
	if code != http.StatusOK {
		t.Fatalf("unshield: got %d: %v", code, resp)
	}
	expectField(t, resp, "net_payout", "9951")
	expectField(t, resp, "fee", "24")
	expectField(t, resp, "remainder", "0")
	if _, ok := resp["remainder_commitment"]; ok {
		t.Error("full unshield returned a remainder commitment")
	}
	if got := r.bank.BalanceOf(tokenA, bob); !got.Eq(uint256.NewInt(1_000_000 + 9951)) {
		t.Errorf("bob balance: %s", got.Dec())
	}

	_, resp = r.get(t, "/voucher/"+cm.Hex())
	expectField(t, resp, "spent", true)
}

func TestUnshield_PartialReturnsRemainder(t *testing.T) {
	r := newRig(t)
	r.shield(t, secretN(1), "10000")
	rc := commitment.Of(secretN(2), alice)

	code, resp := r.call(t, http.MethodPost, "/api/unshield", alice, ActionUnshield, unshieldRequest{
		Secret: secretN(1).Hex(), Amount: "4000", Recipient: alice.Hex(), RemainderCommitment: rc.Hex(),
	})
	if code != http.StatusOK {
		t.Fatalf("unshield: got %d: %v", code, resp)
	}
	expectField(t, resp, "remainder", "5975")
	expectField(t, resp, "remainder_commitment", rc.Hex())
}

func TestTransfer(t *testing.T) {
	r := newRig(t)
	r.shield(t, secretN(1), "10000")
	recipient := commitment.Of(secretN(9), bob)

	code, resp := r.call(t, http.MethodPost, "/api/transfer", alice, ActionTransfer, transferRequest{
		Secret: secretN(1).Hex(), Amount: "4000", RecipientCommitment: recipient.Hex(), EncryptedPayload: "0xdeadbeef",
	})
	if code != http.StatusOK {
		t.Fatalf("transfer: got %d: %v", code, resp)
	}
	expectField(t, resp, "amount", "4000")
	expectField(t, resp, "remainder", "5975")
	expectField(t, resp, "remainder_commitment", commitment.System(alice, 0).Hex())
	if !r.sink.has("SecretDelivered") {
		t.Error("SecretDelivered not published")
	}

	_, resp = r.get(t, "/nonce/"+alice.Hex())
	expectField(t, resp, "nonce", 1)
}

func TestTransfer_EmptyPayload(t *testing.T) {
	r := newRig(t)
	r.shield(t, secretN(1), "10000")
	code, _ := r.call(t, http.MethodPost, "/api/transfer", alice, ActionTransfer, transferRequest{
		Secret: secretN(1).Hex(), Amount: "4000", RecipientCommitment: commitment.Of(secretN(9), bob).Hex(), EncryptedPayload: "0x",
	})
	if code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", code)
	}
}

func TestConsolidate(t *testing.T) {
	r := newRig(t)
	a := r.shield(t, secretN(1), "10000")
	b := r.shield(t, secretN(2), "20000")
	target := commitment.Of(secretN(3), alice)

	code, resp := r.call(t, http.MethodPost, "/api/consolidate", alice, ActionConsolidate, consolidateRequest{
		Secrets: []string{secretN(1).Hex(), secretN(2).Hex()}, NewCommitment: target.Hex(),
	})
	if code != http.StatusOK {
		t.Fatalf("consolidate: got %d: %v", code, resp)
	}
	expectField(t, resp, "amount", "29925")
	expectField(t, resp, "consumed", []any{a.Hex(), b.Hex()})
}

// ── Error mapping ─────────────────────────────────────────────────────────────

func TestActionMismatch(t *testing.T) {
	r := newRig(t)
	code, _ := r.call(t, http.MethodPost, "/api/shield", alice, ActionUnshield, shieldRequest{
		Token: tokenA.Hex(), Amount: "10000", Commitment: commitment.Of(secretN(1), alice).Hex(),
	})
	if code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", code)
	}
}

func TestBadPayloads(t *testing.T) {
	r := newRig(t)
	cm := commitment.Of(secretN(1), alice).Hex()
	cases := map[string]shieldRequest{
		"bad token":      {Token: "nope", Amount: "10000", Commitment: cm},
		"bad amount":     {Token: tokenA.Hex(), Amount: "-1", Commitment: cm},
		"bad commitment": {Token: tokenA.Hex(), Amount: "10000", Commitment: "0x1234"},
		"zero amount":    {Token: tokenA.Hex(), Amount: "0", Commitment: cm},
	}
	for name, req := range cases {
		if code, resp := r.call(t, http.MethodPost, "/api/shield", alice, ActionShield, req); code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d: %v", name, code, resp)
		}
	}
	if code, _ := r.call(t, http.MethodPost, "/api/shield", alice, ActionShield, nil); code != http.StatusBadRequest {
		t.Errorf("empty payload: expected 400, got %d", code)
	}
}

func TestLedgerErrorStatus(t *testing.T) {
	r := newRig(t)
	r.shield(t, secretN(1), "10000")

	// Unknown voucher
	code, _ := r.call(t, http.MethodPost, "/api/unshield", alice, ActionUnshield, unshieldRequest{
		Secret: secretN(7).Hex(), Amount: "1000", Recipient: alice.Hex(),
	})
	if code != http.StatusNotFound {
		t.Errorf("unknown voucher: expected 404, got %d", code)
	}

	// Commitment reuse
	code, _ = r.call(t, http.MethodPost, "/api/shield", alice, ActionShield, shieldRequest{
		Token: tokenA.Hex(), Amount: "10000", Commitment: commitment.Of(secretN(1), alice).Hex(),
	})
	if code != http.StatusConflict {
		t.Errorf("duplicate commitment: expected 409, got %d", code)
	}

	// Bob never approved custody.
	code, _ = r.call(t, http.MethodPost, "/api/shield", bob, ActionShield, shieldRequest{
		Token: tokenA.Hex(), Amount: "10000", Commitment: commitment.Of(secretN(2), bob).Hex(),
	})
	if code != http.StatusBadGateway {
		t.Errorf("failed pull: expected 502, got %d", code)
	}

	// Non-pauser
	if code, _ = r.call(t, http.MethodPost, "/api/admin/pause", bob, ActionPause, nil); code != http.StatusForbidden {
		t.Errorf("unauthorized pause: expected 403, got %d", code)
	}
	if code, _ = r.call(t, http.MethodPost, "/api/admin/pause", admin, ActionPause, nil); code != http.StatusOK {
		t.Fatalf("pause: expected 200, got %d", code)
	}
	code, _ = r.call(t, http.MethodPost, "/api/unshield", alice, ActionUnshield, unshieldRequest{
		Secret: secretN(1).Hex(), Amount: "1000", Recipient: alice.Hex(),
	})
	if code != http.StatusLocked {
		t.Errorf("paused: expected 423, got %d", code)
	}
	_, resp := r.get(t, "/healthz")
	expectField(t, resp, "paused", true)
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("%w: %w", ledger.ErrTokenTransfer, ledger.ErrReentrantCall), http.StatusBadGateway},
		{fmt.Errorf("%w: boom", ledger.ErrPersist), http.StatusInternalServerError},
		{ledger.ErrShieldAlreadySpent, http.StatusConflict},
		{ledger.ErrAmountBelowDust, http.StatusBadRequest},
		{keyreg.ErrNotRegistered, http.StatusNotFound},
		{context.DeadlineExceeded, http.StatusServiceUnavailable},
		{errors.New("unexpected"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := statusFor(tc.err); got != tc.want {
			t.Errorf("statusFor(%v): got %d want %d", tc.err, got, tc.want)
		}
	}
}

// ── Admin ─────────────────────────────────────────────────────────────────────

func TestAdminFeesAndWithdrawal(t *testing.T) {
	r := newRig(t)
	r.shield(t, secretN(1), "10000")

	code, resp := r.call(t, http.MethodPost, "/api/admin/withdraw-fees", admin, ActionWithdrawFees, withdrawFeesRequest{
		Token: tokenA.Hex(), To: treasury.Hex(),
	})
	if code != http.StatusOK {
		t.Fatalf("withdraw-fees: got %d: %v", code, resp)
	}
	expectField(t, resp, "amount", "25")

	code, _ = r.call(t, http.MethodPost, "/api/admin/fees", admin, ActionSetFees, feesRequest{ShieldBps: fee.MaxRateBps + 1})
	if code != http.StatusBadRequest {
		t.Errorf("fee over max: expected 400, got %d", code)
	}
	code, _ = r.call(t, http.MethodPost, "/api/admin/fees", admin, ActionSetFees, feesRequest{ShieldBps: 100, UnshieldBps: 50})
	if code != http.StatusOK {
		t.Fatalf("set fees: got %d", code)
	}

	_, resp = r.get(t, "/fees/"+tokenA.Hex())
	expectField(t, resp, "shield_bps", 100)
	expectField(t, resp, "unshield_bps", 50)
	expectField(t, resp, "accrued", "0")
	expectField(t, resp, "custody", "9975")
	expectField(t, resp, "outstanding", "9975")
}

func TestEmergencyWithdrawRoute(t *testing.T) {
	r := newRig(t)
	r.shield(t, secretN(1), "10000")
	req := emergencyWithdrawRequest{Token: tokenA.Hex(), Amount: "5000", To: treasury.Hex()}

	if code, _ := r.call(t, http.MethodPost, "/api/admin/emergency-withdraw", admin, ActionEmergencyWithdraw, req); code != http.StatusConflict {
		t.Errorf("not paused: expected 409, got %d", code)
	}
	r.call(t, http.MethodPost, "/api/admin/pause", admin, ActionPause, nil)
	if code, resp := r.call(t, http.MethodPost, "/api/admin/emergency-withdraw", admin, ActionEmergencyWithdraw, req); code != http.StatusOK {
		t.Fatalf("emergency-withdraw: got %d: %v", code, resp)
	}
	if got := r.bank.BalanceOf(tokenA, treasury); !got.Eq(uint256.NewInt(5000)) {
		t.Errorf("treasury balance: %s", got.Dec())
	}
	if code, _ := r.call(t, http.MethodPost, "/api/admin/unpause", admin, ActionUnpause, nil); code != http.StatusOK {
		t.Errorf("unpause: got %d", code)
	}
}

// ── Key registry ──────────────────────────────────────────────────────────────

func TestPubkeyRegistry(t *testing.T) {
	r := newRig(t)

	if code, _ := r.get(t, "/pubkey/"+bob.Hex()); code != http.StatusNotFound {
		t.Errorf("unregistered: expected 404, got %d", code)
	}
	code, resp := r.call(t, http.MethodPut, "/api/pubkey", bob, ActionRegisterKey, pubkeyRequest{PublicKey: "0x02aabb"})
	if code != http.StatusOK {
		t.Fatalf("register: got %d: %v", code, resp)
	}
	if !r.sink.has("PublicKeyRegistered") {
		t.Error("PublicKeyRegistered not published")
	}
	code, resp = r.get(t, "/pubkey/"+bob.Hex())
	if code != http.StatusOK {
		t.Fatalf("lookup: got %d", code)
	}
	expectField(t, resp, "public_key", "0x02aabb")

	if code, _ := r.call(t, http.MethodPut, "/api/pubkey", bob, ActionRegisterKey, pubkeyRequest{PublicKey: "0x"}); code != http.StatusBadRequest {
		t.Errorf("empty key: expected 400, got %d", code)
	}
}

// ── Views ─────────────────────────────────────────────────────────────────────

func TestVoucherView_Unknown(t *testing.T) {
	r := newRig(t)
	code, resp := r.get(t, "/voucher/"+commitment.Of(secretN(1), alice).Hex())
	if code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	expectField(t, resp, "exists", false)
	expectField(t, resp, "amount", "0")

	if code, _ := r.get(t, "/voucher/xyz"); code != http.StatusBadRequest {
		t.Errorf("malformed commitment: expected 400, got %d", code)
	}
}

// ── Signed end to end ─────────────────────────────────────────────────────────

func TestSignedShield(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	owner := crypto.PubkeyToAddress(key.PublicKey)

	bank := token.NewBank(custody)
	bank.Mint(tokenA, owner, uint256.NewInt(50_000))
	bank.Approve(tokenA, owner, uint256.NewInt(50_000))
	l := newLedger(t, bank, nil)

	r := gin.New()
	NewHandler(l, keyreg.NewRedis(rdb), nil, zap.NewNop()).Register(r.Group("/api", auth.Middleware(rdb, zap.NewNop())))

	cm := commitment.Of(secretN(1), owner)
	payload, _ := json.Marshal(shieldRequest{Token: tokenA.Hex(), Amount: "20000", Commitment: cm.Hex()})
	h, err := auth.Sign(key, auth.SignedRequest{
		Action:     ActionShield,
		ExpiresAt:  time.Now().Add(time.Minute).Unix(),
		Nonce:      "shield-1",
		Payload:    payload,
		ResourceID: cm.Hex(),
	})
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/api/shield", nil)
	for k, v := range h {
		req.Header[k] = v
	}

	code, resp := serve(r, req)
	if code != http.StatusOK {
		t.Fatalf("signed shield: got %d: %v", code, resp)
	}
	if info := l.VoucherInfo(cm); !info.Exists || !info.Amount.Eq(uint256.NewInt(19950)) {
		t.Errorf("voucher: %+v", info)
	}
}
