// Package chain moves ERC-20 tokens in and out of the ledger's custody
// account on an EVM chain.
package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"github.com/0gfoundation/0g-shield/internal/config"
	"github.com/0gfoundation/0g-shield/internal/token"
)

const defaultReceiptTimeout = 2 * time.Minute

var (
	ErrReverted       = errors.New("transaction reverted")
	ErrAmountTooLarge = errors.New("on-chain amount exceeds 256 bits")
)

// Client is a token Gateway backed by ERC-20 contracts. The custody account
// signs every transfer, so its transactions are sent one at a time.
type Client struct {
	eth        bind.DeployBackend
	backend    bind.ContractBackend
	chainID    *big.Int
	custodyKey *ecdsa.PrivateKey
	custody    common.Address
	log        *zap.Logger

	receiptTimeout time.Duration

	txMu   sync.Mutex
	mu     sync.Mutex
	tokens map[common.Address]*ERC20
}

func NewClient(cfg *config.Config, log *zap.Logger) (*Client, error) {
	eth, err := ethclient.Dial(cfg.Chain.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dial rpc: %w", err)
	}

	privKey, err := crypto.HexToECDSA(trim0x(cfg.Chain.CustodyPrivateKey))
	if err != nil {
		return nil, fmt.Errorf("parse custody private key: %w", err)
	}

	c := newClient(eth, eth, big.NewInt(cfg.Chain.ChainID), privKey, log)
	if d := cfg.Chain.ReceiptTimeout(); d > 0 {
		c.receiptTimeout = d
	}
	return c, nil
}

func newClient(deploy bind.DeployBackend, backend bind.ContractBackend, chainID *big.Int, key *ecdsa.PrivateKey, log *zap.Logger) *Client {
	return &Client{
		eth:        deploy,
		backend:    backend,
		chainID:    chainID,
		custodyKey: key,
		custody:    crypto.PubkeyToAddress(key.PublicKey),
		log:        log,
		tokens:     make(map[common.Address]*ERC20),

		receiptTimeout: defaultReceiptTimeout,
	}
}

// CustodyAddress returns the account that holds every shielded token.
func (c *Client) CustodyAddress() common.Address { return c.custody }

// ChainID returns the configured chain ID.
func (c *Client) ChainID() *big.Int { return c.chainID }

func (c *Client) token(addr common.Address) (*ERC20, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t, ok := c.tokens[addr]; ok {
		return t, nil
	}
	t, err := NewERC20(addr, c.backend)
	if err != nil {
		return nil, fmt.Errorf("bind token %s: %w", addr.Hex(), err)
	}
	c.tokens[addr] = t
	return t, nil
}

// transactOpts builds a *bind.TransactOpts signed by the custody key.
func (c *Client) transactOpts(ctx context.Context) (*bind.TransactOpts, error) {
	auth, err := bind.NewKeyedTransactorWithChainID(c.custodyKey, c.chainID)
	if err != nil {
		return nil, err
	}
	auth.Context = ctx
	return auth, nil
}

// send submits one transaction and waits for its receipt. Once the
// transaction is out, the caller's cancellation no longer applies: the wait
// is bounded by receiptTimeout alone, and a wait that ends without a receipt
// is reported as token.ErrOutcomeUnknown rather than as a failure.
func (c *Client) send(ctx context.Context, what string, submit func(*bind.TransactOpts) (*types.Transaction, error)) error {
	c.txMu.Lock()
	defer c.txMu.Unlock()

	opts, err := c.transactOpts(ctx)
	if err != nil {
		return fmt.Errorf("build tx opts: %w", err)
	}
	tx, err := submit(opts)
	if err != nil {
		return fmt.Errorf("%s tx: %w", what, err)
	}

	// Wait for receipt
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.receiptTimeout)
	defer cancel()
	receipt, err := bind.WaitMined(wctx, c.eth, tx)
	if err != nil {
		c.log.Warn("token tx outcome unknown",
			zap.String("op", what),
			zap.String("tx", tx.Hash().Hex()),
			zap.Error(err),
		)
		return fmt.Errorf("%w: %s %s: %w", token.ErrOutcomeUnknown, what, tx.Hash().Hex(), err)
	}
	if receipt.Status == types.ReceiptStatusFailed {
		return fmt.Errorf("%w: %s %s", ErrReverted, what, tx.Hash().Hex())
	}
	c.log.Info("token tx mined",
		zap.String("op", what),
		zap.String("tx", tx.Hash().Hex()),
		zap.Uint64("block", receipt.BlockNumber.Uint64()),
	)
	return nil
}

// Pull moves amount from `from` into custody using from's allowance.
func (c *Client) Pull(ctx context.Context, tok, from common.Address, amount *uint256.Int) error {
	t, err := c.token(tok)
	if err != nil {
		return err
	}
	return c.send(ctx, "transferFrom", func(opts *bind.TransactOpts) (*types.Transaction, error) {
		return t.TransferFrom(opts, from, c.custody, amount.ToBig())
	})
}

// Push moves amount from custody to `to`.
func (c *Client) Push(ctx context.Context, tok, to common.Address, amount *uint256.Int) error {
	t, err := c.token(tok)
	if err != nil {
		return err
	}
	return c.send(ctx, "transfer", func(opts *bind.TransactOpts) (*types.Transaction, error) {
		return t.Transfer(opts, to, amount.ToBig())
	})
}

// BalanceOf returns holder's balance of tok.
func (c *Client) BalanceOf(ctx context.Context, tok, holder common.Address) (*uint256.Int, error) {
	t, err := c.token(tok)
	if err != nil {
		return nil, err
	}
	bal, err := t.BalanceOf(&bind.CallOpts{Context: ctx}, holder)
	if err != nil {
		return nil, fmt.Errorf("balanceOf: %w", err)
	}
	return fromBig(bal)
}

// CustodyBalance returns the custody account's balance of tok.
func (c *Client) CustodyBalance(ctx context.Context, tok common.Address) (*uint256.Int, error) {
	return c.BalanceOf(ctx, tok, c.custody)
}

// Allowance returns what owner has approved custody to pull.
func (c *Client) Allowance(ctx context.Context, tok, owner common.Address) (*uint256.Int, error) {
	t, err := c.token(tok)
	if err != nil {
		return nil, err
	}
	al, err := t.Allowance(&bind.CallOpts{Context: ctx}, owner, c.custody)
	if err != nil {
		return nil, fmt.Errorf("allowance: %w", err)
	}
	return fromBig(al)
}

func fromBig(b *big.Int) (*uint256.Int, error) {
	v, overflow := uint256.FromBig(b)
	if overflow {
		return nil, ErrAmountTooLarge
	}
	return v, nil
}

func trim0x(s string) string {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		return s[2:]
	}
	return s
}
