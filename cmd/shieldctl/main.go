// Command shieldctl is the client-side toolbox for the shield ledger: it
// derives commitments, seals transfer notes and signs API requests.
package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
)

func newApp() *cli.App {
	return &cli.App{
		Name:  "shieldctl",
		Usage: "shielded voucher client tools",
		Commands: []*cli.Command{
			commandSecret,
			commandCommitment,
			commandKeygen,
			commandSeal,
			commandOpen,
			commandSign,
		},
	}
}

// Commonly used command line flags.
var (
	secretFlag = &cli.StringFlag{
		Name:  "secret",
		Usage: "0x-prefixed 32-byte voucher secret",
	}
	ownerFlag = &cli.StringFlag{
		Name:  "owner",
		Usage: "address the voucher belongs to",
	}
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// printJSON writes v to the app's output, indented.
func printJSON(ctx *cli.Context, v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(ctx.App.Writer, string(out))
	return err
}
