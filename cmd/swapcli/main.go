// Command swapcli is the operator-facing client for a running swapd
// (spec §6), matching the teacher's cmd/swapcli command table: one
// global --endpoint flag, one subcommand per operator action, each a
// runX(ctx *cli.Context) error that opens a connection and prints the
// result.
package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/athanorlabs/xmr-btc-swap/rpcclient/wsclient"
)

const (
	flagEndpoint = "endpoint"
	flagSwapID   = "swap-id"
	flagForce    = "force"
)

var endpointFlag = &cli.StringFlag{
	Name:    flagEndpoint,
	Aliases: []string{"e"},
	Value:   "ws://127.0.0.1:5000/ws",
	Usage:   "swapd websocket endpoint",
	EnvVars: []string{"SWAPD_ENDPOINT"},
}

var swapIDFlag = &cli.StringFlag{
	Name:     flagSwapID,
	Aliases:  []string{"id"},
	Usage:    "swap ID",
	Required: true,
}

func cliApp() *cli.App {
	return &cli.App{
		Name:  "swapcli",
		Usage: "Client for swapd",
		Commands: []*cli.Command{
			{
				Name:   "resume",
				Usage:  "Resume a swap's automatic Run loop and stream its status",
				Action: runResume,
				Flags:  []cli.Flag{endpointFlag, swapIDFlag},
			},
			{
				Name:   "history",
				Usage:  "List every swap this daemon's store has ever persisted",
				Action: runHistory,
				Flags:  []cli.Flag{endpointFlag},
			},
			recoverCommand("cancel", "Force the cancel transaction onto chain"),
			recoverCommand("refund", "Force the refund transaction onto chain"),
			recoverCommand("redeem", "Force the redeem transaction onto chain"),
			recoverCommand("punish", "Force the punish transaction onto chain"),
			recoverCommand("safely-abort", "Abort a swap that never locked funds"),
			recoverCommand("early-refund", "Request the counterparty's consent to an early, pre-lock refund"),
		},
	}
}

// recoverCommand builds one swap/recovery.Op-backed subcommand. name must
// match one of recovery.Op's string values with dashes swapped for
// underscores (the CLI surface is kebab-case; the wire Op is snake_case).
func recoverCommand(name, usage string) *cli.Command {
	return &cli.Command{
		Name:  name,
		Usage: usage,
		Flags: []cli.Flag{
			endpointFlag,
			swapIDFlag,
			&cli.BoolFlag{Name: flagForce, Usage: "force the operation even if the swap is not in an expected state"},
		},
		Action: func(ctx *cli.Context) error {
			return runRecover(ctx, opName(name))
		},
	}
}

func opName(cliName string) string {
	switch cliName {
	case "safely-abort":
		return "safely_abort"
	case "early-refund":
		return "early_refund"
	default:
		return cliName
	}
}

func main() {
	if err := cliApp().Run(os.Args); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

func dial(ctx *cli.Context) (wsclient.Client, error) {
	return wsclient.Dial(ctx.Context, ctx.String(flagEndpoint))
}

func runResume(ctx *cli.Context) error {
	c, err := dial(ctx)
	if err != nil {
		return err
	}
	defer c.Close() //nolint:errcheck

	statusCh, err := c.ResumeAndSubscribe(ctx.String(flagSwapID))
	if err != nil {
		return err
	}

	for status := range statusCh {
		fmt.Printf("status: %s\n", status.State)
	}
	return nil
}

func runHistory(ctx *cli.Context) error {
	c, err := dial(ctx)
	if err != nil {
		return err
	}
	defer c.Close() //nolint:errcheck

	resp, err := c.History()
	if err != nil {
		return err
	}

	if len(resp.Swaps) == 0 {
		fmt.Println("no swaps recorded")
		return nil
	}
	for _, s := range resp.Swaps {
		fmt.Printf("%s  role=%-5s active=%t\n", s.SwapID, s.Role, s.Active)
	}
	return nil
}

func runRecover(ctx *cli.Context, op string) error {
	c, err := dial(ctx)
	if err != nil {
		return err
	}
	defer c.Close() //nolint:errcheck

	resp, err := c.Recover(ctx.String(flagSwapID), op, ctx.Bool(flagForce))
	if err != nil {
		return err
	}

	fmt.Printf("swap is now in state: %s\n", resp.State)
	return nil
}
