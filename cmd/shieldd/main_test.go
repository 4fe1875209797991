package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/0gfoundation/0g-shield/internal/api"
	"github.com/0gfoundation/0g-shield/internal/config"
	"github.com/0gfoundation/0g-shield/internal/keyreg"
	"github.com/0gfoundation/0g-shield/internal/ledger"
	"github.com/0gfoundation/0g-shield/internal/store"
	"github.com/0gfoundation/0g-shield/internal/token"
)

func init() { gin.SetMode(gin.TestMode) }

// ── helpers ───────────────────────────────────────────────────────────────────

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	return redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	rdb := newTestRedis(t)
	l, err := ledger.New(context.Background(), ledger.Options{
		Gateway: token.NewBank(devCustody),
		Backend: store.NewRedis(rdb),
		Log:     zap.NewNop(),
	})
	if err != nil {
		t.Fatalf("ledger.New: %v", err)
	}
	h := api.NewHandler(l, keyreg.NewRedis(rdb), nil, zap.NewNop())
	return newRouter(h, rdb, zap.NewNop())
}

// ── newCustodian ──────────────────────────────────────────────────────────────

func TestNewCustodian_OffChain(t *testing.T) {
	gw, err := newCustodian(&config.Config{}, zap.NewNop())
	if err != nil {
		t.Fatalf("newCustodian: %v", err)
	}
	bank, ok := gw.(*token.Bank)
	if !ok {
		t.Fatalf("expected *token.Bank, got %T", gw)
	}
	if bank.Custody() != devCustody {
		t.Errorf("custody: got %s", bank.Custody().Hex())
	}
}

func TestNewCustodian_BadKey(t *testing.T) {
	cfg := &config.Config{Chain: config.ChainConfig{
		RPCURL:            "http://127.0.0.1:1",
		CustodyPrivateKey: "not-hex",
		ChainID:           1337,
	}}
	if _, err := newCustodian(cfg, zap.NewNop()); err == nil {
		t.Fatal("expected error for malformed custody key")
	}
}

// ── newRouter ─────────────────────────────────────────────────────────────────

func TestRouter_PublicRoutes(t *testing.T) {
	r := newTestRouter(t)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("healthz: got %d", w.Code)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/nonce/0x1111111111111111111111111111111111111111", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("nonce: got %d", w.Code)
	}
}

func TestRouter_APIRequiresSignature(t *testing.T) {
	r := newTestRouter(t)
	for _, path := range []string{"/api/shield", "/api/unshield", "/api/transfer", "/api/consolidate", "/api/admin/pause"} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, path, nil))
		if w.Code != http.StatusUnauthorized {
			t.Errorf("%s: expected 401, got %d", path, w.Code)
		}
	}
}
