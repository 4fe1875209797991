package keyreg

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"
)

var (
	owner = common.HexToAddress("0xAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA")
	other = common.HexToAddress("0xBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBB")
)

func newTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	return redis.NewClient(&redis.Options{Addr: mr.Addr()}), mr
}

func exercise(t *testing.T, r Registry) {
	t.Helper()
	ctx := context.Background()

	if _, err := r.Lookup(ctx, owner); !errors.Is(err, ErrNotRegistered) {
		t.Errorf("lookup before register: got %v", err)
	}
	if err := r.Register(ctx, owner, nil); !errors.Is(err, ErrEmptyKey) {
		t.Errorf("empty key: got %v", err)
	}
	if err := r.Register(ctx, owner, make([]byte, MaxKeySize+1)); !errors.Is(err, ErrKeyTooLarge) {
		t.Errorf("oversized key: got %v", err)
	}
	if err := r.Register(ctx, owner, make([]byte, MaxKeySize)); err != nil {
		t.Errorf("max-size key: %v", err)
	}

	key := []byte{0x02, 0xde, 0xad, 0xbe, 0xef}
	if err := r.Register(ctx, owner, key); err != nil {
		t.Fatalf("Register: %v", err)
	}
	key[1] = 0x00 // caller's buffer must not alias the stored key
	got, err := r.Lookup(ctx, owner)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if !bytes.Equal(got, []byte{0x02, 0xde, 0xad, 0xbe, 0xef}) {
		t.Errorf("key: got %x", got)
	}
	if _, err := r.Lookup(ctx, other); !errors.Is(err, ErrNotRegistered) {
		t.Errorf("other owner: got %v", err)
	}
}

// ── Memory ────────────────────────────────────────────────────────────────────

func TestMemory(t *testing.T) {
	exercise(t, NewMemory())
}

// ── Redis ─────────────────────────────────────────────────────────────────────

func TestRedis(t *testing.T) {
	rdb, mr := newTestRedis(t)
	exercise(t, NewRedis(rdb))

	if got := mr.HGet(RedisKey, "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"); got != "0x02deadbeef" {
		t.Errorf("stored field: got %q", got)
	}
}

func TestRedis_CorruptEntry(t *testing.T) {
	rdb, mr := newTestRedis(t)
	mr.HSet(RedisKey, "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", "zz")
	if _, err := NewRedis(rdb).Lookup(context.Background(), owner); err == nil || errors.Is(err, ErrNotRegistered) {
		t.Errorf("expected decode error, got %v", err)
	}
}
