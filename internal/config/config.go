package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/spf13/viper"

	"github.com/0gfoundation/0g-shield/internal/fee"
)

type Config struct {
	Redis  RedisConfig
	Ledger LedgerConfig
	Chain  ChainConfig
	Server ServerConfig
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
}

type LedgerConfig struct {
	ShieldFeeBps         uint64 `mapstructure:"shield_fee_bps"`
	UnshieldFeeBps       uint64 `mapstructure:"unshield_fee_bps"`
	DustFloor            string `mapstructure:"dust_floor"`
	AdminAddress         string `mapstructure:"admin_address"`
	ReconcileIntervalSec int64  `mapstructure:"reconcile_interval_sec"`
}

// ChainConfig is optional. With an empty RPCURL the service runs against an
// in-process token bank.
type ChainConfig struct {
	RPCURL            string `mapstructure:"rpc_url"`
	CustodyPrivateKey string `mapstructure:"custody_private_key"`
	ChainID           int64  `mapstructure:"chain_id"`
	ReceiptTimeoutSec int64  `mapstructure:"receipt_timeout_sec"`
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// Fees returns the configured fee schedule.
func (c *LedgerConfig) Fees() fee.Schedule {
	return fee.Schedule{ShieldBps: c.ShieldFeeBps, UnshieldBps: c.UnshieldFeeBps}
}

// Dust returns the parsed dust floor.
func (c *LedgerConfig) Dust() (*uint256.Int, error) {
	return uint256.FromDecimal(c.DustFloor)
}

// Admin returns the bootstrap admin address.
func (c *LedgerConfig) Admin() common.Address {
	return common.HexToAddress(c.AdminAddress)
}

// ReceiptTimeout is how long a submitted transaction is waited on.
func (c *ChainConfig) ReceiptTimeout() time.Duration {
	return time.Duration(c.ReceiptTimeoutSec) * time.Second
}

// OnChain reports whether an RPC endpoint is configured.
func (c *ChainConfig) OnChain() bool {
	return c.RPCURL != ""
}

func Load() (*Config, error) {
	v := viper.New()

	// Defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("redis.addr", "redis:6379")
	v.SetDefault("ledger.shield_fee_bps", 25)
	v.SetDefault("ledger.unshield_fee_bps", 25)
	v.SetDefault("ledger.dust_floor", "100")
	v.SetDefault("ledger.reconcile_interval_sec", 300)
	v.SetDefault("chain.receipt_timeout_sec", 120)

	// Config file (optional)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/app")
	_ = v.ReadInConfig()

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Explicit env bindings
	bindings := map[string]string{
		"redis.addr":                    "REDIS_ADDR",
		"redis.password":                "REDIS_PASSWORD",
		"ledger.shield_fee_bps":         "SHIELD_FEE_BPS",
		"ledger.unshield_fee_bps":       "UNSHIELD_FEE_BPS",
		"ledger.dust_floor":             "DUST_FLOOR",
		"ledger.admin_address":          "ADMIN_ADDRESS",
		"ledger.reconcile_interval_sec": "RECONCILE_INTERVAL_SEC",
		"chain.rpc_url":                 "RPC_URL",
		"chain.custody_private_key":     "CUSTODY_PRIVATE_KEY",
		"chain.chain_id":                "CHAIN_ID",
		"chain.receipt_timeout_sec":     "RECEIPT_TIMEOUT_SEC",
		"server.port":                   "PORT",
	}
	for key, env := range bindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", env, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return cfg, cfg.validate()
}

func (c *Config) validate() error {
	if !common.IsHexAddress(c.Ledger.AdminAddress) {
		return fmt.Errorf("required config missing or invalid: ADMIN_ADDRESS")
	}
	if err := c.Ledger.Fees().Validate(); err != nil {
		return fmt.Errorf("ledger fees: %w", err)
	}
	dust, err := c.Ledger.Dust()
	if err != nil {
		return fmt.Errorf("invalid DUST_FLOOR %q: %w", c.Ledger.DustFloor, err)
	}
	if dust.IsZero() {
		return fmt.Errorf("DUST_FLOOR must be at least 1")
	}
	if c.Ledger.ReconcileIntervalSec <= 0 {
		return fmt.Errorf("RECONCILE_INTERVAL_SEC must be positive")
	}
	if !c.Chain.OnChain() {
		return nil
	}
	if c.Chain.CustodyPrivateKey == "" {
		return fmt.Errorf("required config missing: CUSTODY_PRIVATE_KEY")
	}
	if c.Chain.ChainID == 0 {
		return fmt.Errorf("required config missing: CHAIN_ID")
	}
	if c.Chain.ReceiptTimeoutSec <= 0 {
		return fmt.Errorf("RECEIPT_TIMEOUT_SEC must be positive")
	}
	return nil
}
