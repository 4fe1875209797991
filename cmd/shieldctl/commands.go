package main

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"github.com/urfave/cli/v2"

	"github.com/0gfoundation/0g-shield/internal/auth"
	"github.com/0gfoundation/0g-shield/internal/commitment"
	"github.com/0gfoundation/0g-shield/internal/sealed"
)

var commandSecret = &cli.Command{
	Name:  "secret",
	Usage: "generate a random voucher secret",
	Flags: []cli.Flag{ownerFlag},
	Action: func(ctx *cli.Context) error {
		s, err := commitment.RandomSecret()
		if err != nil {
			return err
		}
		out := map[string]string{"secret": s.Hex()}
		if ctx.IsSet(ownerFlag.Name) {
			owner, err := address(ctx.String(ownerFlag.Name))
			if err != nil {
				return err
			}
			out["commitment"] = commitment.Of(s, owner).Hex()
		}
		return printJSON(ctx, out)
	},
}

var commandCommitment = &cli.Command{
	Name:  "commitment",
	Usage: "derive the commitment for a secret and owner, or a system commitment",
	Flags: []cli.Flag{
		secretFlag,
		ownerFlag,
		&cli.Uint64Flag{Name: "nonce", Usage: "derive the system commitment for this nonce instead"},
	},
	Action: func(ctx *cli.Context) error {
		owner, err := address(ctx.String(ownerFlag.Name))
		if err != nil {
			return err
		}
		if ctx.IsSet("nonce") {
			return printJSON(ctx, map[string]string{
				"commitment": commitment.System(owner, ctx.Uint64("nonce")).Hex(),
			})
		}
		s, err := commitment.ParseSecret(ctx.String(secretFlag.Name))
		if err != nil {
			return err
		}
		return printJSON(ctx, map[string]string{"commitment": commitment.Of(s, owner).Hex()})
	},
}

var commandKeygen = &cli.Command{
	Name:  "keygen",
	Usage: "generate a key pair for receiving sealed transfer notes",
	Action: func(ctx *cli.Context) error {
		priv, pub, err := sealed.GenerateKey()
		if err != nil {
			return err
		}
		return printJSON(ctx, map[string]string{
			"private_key": "0x" + priv.Hex(),
			"public_key":  hexutil.Encode(pub),
		})
	},
}

var commandSeal = &cli.Command{
	Name:  "seal",
	Usage: "encrypt a transfer note to the recipient's registered public key",
	Flags: []cli.Flag{
		secretFlag,
		&cli.StringFlag{Name: "pubkey", Usage: "recipient public key (0x-hex)", Required: true},
		&cli.StringFlag{Name: "token", Usage: "token address", Required: true},
		&cli.StringFlag{Name: "amount", Usage: "voucher amount (decimal)", Required: true},
		&cli.StringFlag{Name: "recipient", Usage: "recipient address", Required: true},
	},
	Action: func(ctx *cli.Context) error {
		pub, err := hexutil.Decode(ctx.String("pubkey"))
		if err != nil {
			return fmt.Errorf("pubkey: %w", err)
		}
		note, err := noteFromFlags(ctx)
		if err != nil {
			return err
		}
		payload, err := sealed.Seal(pub, note)
		if err != nil {
			return err
		}
		return printJSON(ctx, map[string]string{
			"recipient_commitment": note.Commitment().Hex(),
			"encrypted_payload":    hexutil.Encode(payload),
		})
	},
}

var commandOpen = &cli.Command{
	Name:  "open",
	Usage: "decrypt a sealed transfer note",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "key", Usage: "private key from keygen", Required: true},
		&cli.StringFlag{Name: "payload", Usage: "encrypted payload (0x-hex)", Required: true},
	},
	Action: func(ctx *cli.Context) error {
		priv, err := sealed.ParsePrivateKey(ctx.String("key"))
		if err != nil {
			return err
		}
		payload, err := hexutil.Decode(ctx.String("payload"))
		if err != nil {
			return fmt.Errorf("payload: %w", err)
		}
		note, err := sealed.Open(priv, payload)
		if err != nil {
			return err
		}
		return printJSON(ctx, map[string]string{
			"secret":     note.Secret.Hex(),
			"token":      note.Token.Hex(),
			"amount":     note.Amount.Dec(),
			"recipient":  note.Recipient.Hex(),
			"commitment": note.Commitment().Hex(),
		})
	},
}

var commandSign = &cli.Command{
	Name:  "sign",
	Usage: "produce the auth headers for an API request",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "key", Usage: "wallet private key (hex)", Required: true},
		&cli.StringFlag{Name: "action", Usage: "action name, e.g. shield", Required: true},
		&cli.StringFlag{Name: "payload", Usage: "JSON payload", Value: "{}"},
		&cli.StringFlag{Name: "resource", Usage: "resource id"},
		&cli.DurationFlag{Name: "ttl", Usage: "signature lifetime (at most 5m)", Value: 2 * time.Minute},
	},
	Action: func(ctx *cli.Context) error {
		key, err := crypto.HexToECDSA(trim0x(ctx.String("key")))
		if err != nil {
			return fmt.Errorf("parse key: %w", err)
		}
		payload := json.RawMessage(ctx.String("payload"))
		if !json.Valid(payload) {
			return fmt.Errorf("payload is not valid JSON")
		}
		nonce := make([]byte, 16)
		if _, err := rand.Read(nonce); err != nil {
			return err
		}
		h, err := auth.Sign(key, auth.SignedRequest{
			Action:     ctx.String("action"),
			ExpiresAt:  time.Now().Add(ctx.Duration("ttl")).Unix(),
			Nonce:      hex.EncodeToString(nonce),
			Payload:    payload,
			ResourceID: ctx.String("resource"),
		})
		if err != nil {
			return err
		}
		return printJSON(ctx, map[string]string{
			auth.HeaderWallet:    h.Get(auth.HeaderWallet),
			auth.HeaderMessage:   h.Get(auth.HeaderMessage),
			auth.HeaderSignature: h.Get(auth.HeaderSignature),
		})
	},
}

func noteFromFlags(ctx *cli.Context) (*sealed.Note, error) {
	s, err := commitment.ParseSecret(ctx.String(secretFlag.Name))
	if err != nil {
		return nil, err
	}
	tok, err := address(ctx.String("token"))
	if err != nil {
		return nil, err
	}
	amount, err := uint256.FromDecimal(ctx.String("amount"))
	if err != nil {
		return nil, fmt.Errorf("amount: %w", err)
	}
	recipient, err := address(ctx.String("recipient"))
	if err != nil {
		return nil, err
	}
	return &sealed.Note{Secret: s, Token: tok, Amount: amount, Recipient: recipient}, nil
}

func address(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("invalid address %q", s)
	}
	return common.HexToAddress(s), nil
}

func trim0x(s string) string {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		return s[2:]
	}
	return s
}
