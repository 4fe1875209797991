package store

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/redis/go-redis/v9"

	"github.com/0gfoundation/0g-shield/internal/accounting"
	"github.com/0gfoundation/0g-shield/internal/fee"
	"github.com/0gfoundation/0g-shield/internal/voucher"
)

func newTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	return redis.NewClient(&redis.Options{Addr: mr.Addr()}), mr
}

var (
	testToken = common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")
	testOwner = common.HexToAddress("0xAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA")
	c1        = common.HexToHash("0xc1")
	c2        = common.HexToHash("0xc2")
)

func sampleChangeSet() *ChangeSet {
	return &ChangeSet{
		Vouchers: []voucher.Voucher{
			{Commitment: c1, Token: testToken, Amount: uint256.NewInt(9975), CreatedAt: 1_700_000_000, Spent: true},
			{Commitment: c2, Token: testToken, Amount: uint256.NewInt(4987), CreatedAt: 1_700_000_100},
		},
		Nonces: map[common.Address]uint64{testOwner: 3},
		Tokens: map[common.Address]accounting.TokenState{
			testToken: {Fees: uint256.NewInt(25), Custody: uint256.NewInt(5012), Outstanding: uint256.NewInt(4987)},
		},
		Params: &Params{Fees: fee.Schedule{ShieldBps: 25, UnshieldBps: 30}, Paused: true},
	}
}

func checkSnapshot(t *testing.T, snap *Snapshot) {
	t.Helper()
	if len(snap.Vouchers) != 2 {
		t.Fatalf("vouchers: got %d want 2", len(snap.Vouchers))
	}
	byC := map[common.Hash]voucher.Voucher{}
	for _, v := range snap.Vouchers {
		byC[v.Commitment] = v
	}
	if v := byC[c1]; !v.Spent || v.Amount.Uint64() != 9975 || v.Token != testToken || v.CreatedAt != 1_700_000_000 {
		t.Errorf("c1: got %+v", v)
	}
	if v := byC[c2]; v.Spent || v.Amount.Uint64() != 4987 {
		t.Errorf("c2: got %+v", v)
	}
	if snap.Nonces[testOwner] != 3 {
		t.Errorf("nonce: got %d want 3", snap.Nonces[testOwner])
	}
	ts := snap.Tokens[testToken]
	if ts.Fees.Uint64() != 25 || ts.Custody.Uint64() != 5012 || ts.Outstanding.Uint64() != 4987 {
		t.Errorf("token counters: fees=%s custody=%s outstanding=%s", ts.Fees.Dec(), ts.Custody.Dec(), ts.Outstanding.Dec())
	}
	if snap.Params == nil || snap.Params.Fees.UnshieldBps != 30 || !snap.Params.Paused {
		t.Errorf("params: got %+v", snap.Params)
	}
}

// ── Redis ─────────────────────────────────────────────────────────────────────

func TestRedis_CommitLoad(t *testing.T) {
	rdb, _ := newTestRedis(t)
	ctx := context.Background()
	b := NewRedis(rdb)

	if err := b.Commit(ctx, sampleChangeSet()); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	snap, err := b.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	checkSnapshot(t, snap)
}

func TestRedis_RemovedDeletesKey(t *testing.T) {
	rdb, mr := newTestRedis(t)
	ctx := context.Background()
	b := NewRedis(rdb)
	b.Commit(ctx, sampleChangeSet()) //nolint:errcheck

	if err := b.Commit(ctx, &ChangeSet{Removed: []common.Hash{c2}}); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if mr.Exists(voucherKey(c2)) {
		t.Error("removed voucher key still present")
	}
	snap, _ := b.Load(ctx)
	if len(snap.Vouchers) != 1 {
		t.Errorf("vouchers after removal: got %d want 1", len(snap.Vouchers))
	}
}

func TestRedis_LoadEmpty(t *testing.T) {
	rdb, _ := newTestRedis(t)
	snap, err := NewRedis(rdb).Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(snap.Vouchers) != 0 || len(snap.Nonces) != 0 || len(snap.Tokens) != 0 || snap.Params != nil {
		t.Errorf("expected empty snapshot, got %+v", snap)
	}
}

func TestRedis_CorruptAmount(t *testing.T) {
	rdb, mr := newTestRedis(t)
	mr.HSet(voucherKey(c1), "commitment", c1.Hex(), "amount", "not-a-number")
	if _, err := NewRedis(rdb).Load(context.Background()); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestRedis_CorruptFields(t *testing.T) {
	tests := []struct {
		field, value string
	}{
		{"spent", "maybe"},
		{"spent", ""},
		{"created_at", "yesterday"},
		{"token", "0xnot-an-address"},
	}
	for _, tt := range tests {
		t.Run(tt.field+"="+tt.value, func(t *testing.T) {
			rdb, mr := newTestRedis(t)
			b := NewRedis(rdb)
			if err := b.Commit(context.Background(), sampleChangeSet()); err != nil {
				t.Fatalf("Commit: %v", err)
			}
			mr.HSet(voucherKey(c1), tt.field, tt.value)
			if _, err := b.Load(context.Background()); err == nil {
				t.Fatalf("expected decode error for %s=%q", tt.field, tt.value)
			}
		})
	}
}

func TestRedis_CorruptPausedFlag(t *testing.T) {
	rdb, mr := newTestRedis(t)
	mr.HSet(paramsKey, "shield_bps", "25", "unshield_bps", "25", "paused", "yes please")
	if _, err := NewRedis(rdb).Load(context.Background()); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestRedis_EmptyCommitIsNoop(t *testing.T) {
	rdb, mr := newTestRedis(t)
	if err := NewRedis(rdb).Commit(context.Background(), &ChangeSet{}); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if len(mr.Keys()) != 0 {
		t.Errorf("empty commit wrote keys: %v", mr.Keys())
	}
}

// ── Memory ────────────────────────────────────────────────────────────────────

func TestMemory_CommitLoad(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	if err := m.Commit(ctx, sampleChangeSet()); err != nil {
		t.Fatal(err)
	}
	snap, err := m.Load(ctx)
	if err != nil {
		t.Fatal(err)
	}
	checkSnapshot(t, snap)
	if m.Commits() != 1 {
		t.Errorf("commits: got %d want 1", m.Commits())
	}
}
