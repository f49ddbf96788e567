// Command swapctl is a thin inspection client over swapd's on-disk event
// store, grounded on cmd/lncli's main.go/commands.go split: a
// urfave/cli.App dispatching to one function per subcommand. Unlike
// lncli it has no control-plane RPC to call (spec.md §1 excludes one),
// so list-swaps/show-swap read swapdb directly and force-refund appends
// an operator-override event to it instead of round-tripping through a
// running daemon.
package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli"
)

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "[swapctl] %v\n", err)
	os.Exit(1)
}

func main() {
	app := cli.NewApp()
	app.Name = "swapctl"
	app.Usage = "inspect and manage a swapd instance's event store"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "datadir",
			Value: "~/.swapd",
			Usage: "swapd's data directory",
		},
		cli.StringFlag{
			Name:  "network",
			Value: "testnet3",
			Usage: "mainnet, testnet3, signet, or regtest",
		},
	}
	app.Commands = []cli.Command{
		listSwapsCommand,
		showSwapCommand,
		forceRefundCommand,
		startSwapCommand,
	}

	if err := app.Run(os.Args); err != nil {
		fatal(err)
	}
}
