// Package keyreg stores the per-owner public keys senders use to seal
// transfer payloads. The registry never interprets a key.
package keyreg

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/redis/go-redis/v9"
)

// MaxKeySize is the largest blob Register accepts.
const MaxKeySize = 1024

var (
	ErrEmptyKey      = errors.New("public key is empty")
	ErrKeyTooLarge   = errors.New("public key too large")
	ErrNotRegistered = errors.New("no public key registered")
)

// Registry maps an owner to the key it registered. Only the owner writes its
// own entry; callers authenticate the owner before calling Register.
type Registry interface {
	Register(ctx context.Context, owner common.Address, key []byte) error
	Lookup(ctx context.Context, owner common.Address) ([]byte, error)
}

func check(key []byte) error {
	if len(key) == 0 {
		return ErrEmptyKey
	}
	if len(key) > MaxKeySize {
		return fmt.Errorf("%w: %d > %d bytes", ErrKeyTooLarge, len(key), MaxKeySize)
	}
	return nil
}

// ── Memory ────────────────────────────────────────────────────────────────────

type Memory struct {
	mu   sync.RWMutex
	keys map[common.Address][]byte
}

func NewMemory() *Memory {
	return &Memory{keys: make(map[common.Address][]byte)}
}

func (m *Memory) Register(_ context.Context, owner common.Address, key []byte) error {
	if err := check(key); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keys[owner] = append([]byte(nil), key...)
	return nil
}

func (m *Memory) Lookup(_ context.Context, owner common.Address) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	key, ok := m.keys[owner]
	if !ok {
		return nil, ErrNotRegistered
	}
	return append([]byte(nil), key...), nil
}

// ── Redis ─────────────────────────────────────────────────────────────────────

// RedisKey is the hash holding every registered key, hex encoded.
const RedisKey = "shield:pubkeys"

type Redis struct {
	rdb *redis.Client
}

func NewRedis(rdb *redis.Client) *Redis {
	return &Redis{rdb: rdb}
}

func (r *Redis) Register(ctx context.Context, owner common.Address, key []byte) error {
	if err := check(key); err != nil {
		return err
	}
	return r.rdb.HSet(ctx, RedisKey, field(owner), hexutil.Encode(key)).Err()
}

func (r *Redis) Lookup(ctx context.Context, owner common.Address) ([]byte, error) {
	raw, err := r.rdb.HGet(ctx, RedisKey, field(owner)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotRegistered
	}
	if err != nil {
		return nil, fmt.Errorf("lookup %s: %w", owner.Hex(), err)
	}
	key, err := hexutil.Decode(raw)
	if err != nil {
		return nil, fmt.Errorf("decode key for %s: %w", owner.Hex(), err)
	}
	return key, nil
}

func field(owner common.Address) string {
	return strings.ToLower(owner.Hex())
}
