package store

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/redis/go-redis/v9"

	"github.com/0gfoundation/0g-shield/internal/accounting"
	"github.com/0gfoundation/0g-shield/internal/fee"
	"github.com/0gfoundation/0g-shield/internal/voucher"
)

// Redis key layout
const (
	voucherKeyPrefix = "shield:voucher:"
	noncesKey        = "shield:nonces"
	feesKey          = "shield:fees"
	custodyKey       = "shield:custody"
	outstandingKey   = "shield:outstanding"
	paramsKey        = "shield:params"
)

func voucherKey(c common.Hash) string {
	return voucherKeyPrefix + strings.ToLower(c.Hex())
}

// Redis is a Backend storing each voucher as a hash and the counters as
// hashes keyed by address.
type Redis struct {
	rdb *redis.Client
}

func NewRedis(rdb *redis.Client) *Redis {
	return &Redis{rdb: rdb}
}

// Commit applies cs inside MULTI/EXEC.
func (r *Redis) Commit(ctx context.Context, cs *ChangeSet) error {
	if cs.Empty() {
		return nil
	}
	_, err := r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, v := range cs.Vouchers {
			pipe.HSet(ctx, voucherKey(v.Commitment),
				"commitment", v.Commitment.Hex(),
				"token", v.Token.Hex(),
				"amount", v.Amount.Dec(),
				"created_at", v.CreatedAt,
				"spent", strconv.FormatBool(v.Spent),
			)
		}
		for _, c := range cs.Removed {
			pipe.Del(ctx, voucherKey(c))
		}
		for o, n := range cs.Nonces {
			pipe.HSet(ctx, noncesKey, strings.ToLower(o.Hex()), n)
		}
		for t, ts := range cs.Tokens {
			field := strings.ToLower(t.Hex())
			pipe.HSet(ctx, feesKey, field, ts.Fees.Dec())
			pipe.HSet(ctx, custodyKey, field, ts.Custody.Dec())
			pipe.HSet(ctx, outstandingKey, field, ts.Outstanding.Dec())
		}
		if p := cs.Params; p != nil {
			pipe.HSet(ctx, paramsKey,
				"shield_bps", p.Fees.ShieldBps,
				"unshield_bps", p.Fees.UnshieldBps,
				"paused", strconv.FormatBool(p.Paused),
			)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("commit change set: %w", err)
	}
	return nil
}

// Load reads the whole persisted state.
func (r *Redis) Load(ctx context.Context) (*Snapshot, error) {
	vouchers, err := r.scanVouchers(ctx)
	if err != nil {
		return nil, err
	}
	snap := &Snapshot{
		Vouchers: vouchers,
		Nonces:   make(map[common.Address]uint64),
		Tokens:   make(map[common.Address]accounting.TokenState),
	}

	nonces, err := r.rdb.HGetAll(ctx, noncesKey).Result()
	if err != nil {
		return nil, fmt.Errorf("load nonces: %w", err)
	}
	for o, raw := range nonces {
		n, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("nonce %s: %w", o, err)
		}
		snap.Nonces[common.HexToAddress(o)] = n
	}

	if err := r.loadCounters(ctx, snap.Tokens); err != nil {
		return nil, err
	}

	params, err := r.rdb.HGetAll(ctx, paramsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("load params: %w", err)
	}
	if len(params) > 0 {
		p, err := paramsFromMap(params)
		if err != nil {
			return nil, err
		}
		snap.Params = p
	}
	return snap, nil
}

func (r *Redis) scanVouchers(ctx context.Context) ([]voucher.Voucher, error) {
	var out []voucher.Voucher
	var cursor uint64
	for {
		keys, next, err := r.rdb.Scan(ctx, cursor, voucherKeyPrefix+"*", 100).Result()
		if err != nil {
			return nil, fmt.Errorf("scan vouchers: %w", err)
		}
		for _, key := range keys {
			vals, err := r.rdb.HGetAll(ctx, key).Result()
			if err != nil {
				return nil, fmt.Errorf("load %s: %w", key, err)
			}
			if len(vals) == 0 {
				continue
			}
			v, err := voucherFromMap(vals)
			if err != nil {
				return nil, fmt.Errorf("decode %s: %w", key, err)
			}
			out = append(out, *v)
		}
		if next == 0 {
			break
		}
		cursor = next
	}
	return out, nil
}

func (r *Redis) loadCounters(ctx context.Context, into map[common.Address]accounting.TokenState) error {
	for _, key := range []string{feesKey, custodyKey, outstandingKey} {
		vals, err := r.rdb.HGetAll(ctx, key).Result()
		if err != nil {
			return fmt.Errorf("load %s: %w", key, err)
		}
		for field, raw := range vals {
			amt, err := uint256.FromDecimal(raw)
			if err != nil {
				return fmt.Errorf("%s[%s]: %w", key, field, err)
			}
			t := common.HexToAddress(field)
			ts, ok := into[t]
			if !ok {
				ts = accounting.TokenState{Fees: new(uint256.Int), Custody: new(uint256.Int), Outstanding: new(uint256.Int)}
			}
			switch key {
			case feesKey:
				ts.Fees = amt
			case custodyKey:
				ts.Custody = amt
			case outstandingKey:
				ts.Outstanding = amt
			}
			into[t] = ts
		}
	}
	return nil
}

func voucherFromMap(m map[string]string) (*voucher.Voucher, error) {
	amount, err := uint256.FromDecimal(m["amount"])
	if err != nil {
		return nil, fmt.Errorf("amount: %w", err)
	}
	createdAt, err := strconv.ParseUint(m["created_at"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("created_at: %w", err)
	}
	spent, err := strconv.ParseBool(m["spent"])
	if err != nil {
		return nil, fmt.Errorf("spent: %w", err)
	}
	if !common.IsHexAddress(m["token"]) {
		return nil, fmt.Errorf("token: invalid address %q", m["token"])
	}
	return &voucher.Voucher{
		Commitment: common.HexToHash(m["commitment"]),
		Token:      common.HexToAddress(m["token"]),
		Amount:     amount,
		CreatedAt:  createdAt,
		Spent:      spent,
	}, nil
}

func paramsFromMap(m map[string]string) (*Params, error) {
	shield, err := strconv.ParseUint(m["shield_bps"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("shield_bps: %w", err)
	}
	unshield, err := strconv.ParseUint(m["unshield_bps"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("unshield_bps: %w", err)
	}
	paused, err := strconv.ParseBool(m["paused"])
	if err != nil {
		return nil, fmt.Errorf("paused: %w", err)
	}
	return &Params{
		Fees:   fee.Schedule{ShieldBps: shield, UnshieldBps: unshield},
		Paused: paused,
	}, nil
}
