package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/urfave/cli"

	"github.com/atomicswap/swapd/swapdb"
	"github.com/atomicswap/swapd/swapdomain"
)

func resolveDataDir(c *cli.Context) string {
	dir := c.GlobalString("datadir")
	if strings.HasPrefix(dir, "~") {
		home, err := os.UserHomeDir()
		if err == nil {
			dir = filepath.Join(home, dir[1:])
		}
	}
	return filepath.Join(dir, "db")
}

func resolveNetParams(c *cli.Context) (*chaincfg.Params, error) {
	switch c.GlobalString("network") {
	case "mainnet":
		return &chaincfg.MainNetParams, nil
	case "testnet3":
		return &chaincfg.TestNet3Params, nil
	case "signet":
		return &chaincfg.SigNetParams, nil
	case "regtest":
		return &chaincfg.RegressionNetParams, nil
	default:
		return nil, fmt.Errorf("unknown network %q", c.GlobalString("network"))
	}
}

var listSwapsCommand = cli.Command{
	Name:  "list-swaps",
	Usage: "list every unfinished swap in the event store",
	Action: func(c *cli.Context) error {
		db, err := swapdb.OpenReadOnly(resolveDataDir(c))
		if err != nil {
			return err
		}
		defer db.Close()

		net, err := resolveNetParams(c)
		if err != nil {
			return err
		}

		ids, err := db.ListUnfinished()
		if err != nil {
			return err
		}

		t := table.NewWriter()
		t.SetOutputMirror(os.Stdout)
		t.AppendHeader(table.Row{"Swap ID", "Role", "Counterparty"})

		for _, id := range ids {
			params, err := db.LoadParams(id, net)
			if err != nil {
				continue
			}
			t.AppendRow(table.Row{id, params.Role, params.CounterpartyPeer})
		}

		t.Render()
		return nil
	},
}

var showSwapCommand = cli.Command{
	Name:      "show-swap",
	Usage:     "show the full event history of a single swap",
	ArgsUsage: "<swap_id_hex>",
	Action: func(c *cli.Context) error {
		if c.NArg() != 1 {
			return cli.NewExitError("show-swap requires exactly one swap id", 1)
		}
		id, err := parseSwapId(c.Args().Get(0))
		if err != nil {
			return err
		}

		db, err := swapdb.OpenReadOnly(resolveDataDir(c))
		if err != nil {
			return err
		}
		defer db.Close()

		record, err := db.Load(id)
		if err != nil {
			return err
		}

		t := table.NewWriter()
		t.SetOutputMirror(os.Stdout)
		t.AppendHeader(table.Row{"Side", "Kind", "TxId", "Reason"})
		for _, sided := range record.Events {
			t.AppendRow(table.Row{sided.Side, sided.Event.Kind, sided.Event.TxId, sided.Event.Reason})
		}
		t.Render()
		return nil
	},
}

var forceRefundCommand = cli.Command{
	Name:      "force-refund",
	Usage:     "record an operator abort (an Aborted event) for one side of a swap, marking that side terminal; swapd sends no refund because of it (swapd must not be running)",
	ArgsUsage: "<swap_id_hex> <alpha|beta>",
	Action: func(c *cli.Context) error {
		if c.NArg() != 2 {
			return cli.NewExitError("force-refund requires a swap id and a side", 1)
		}
		id, err := parseSwapId(c.Args().Get(0))
		if err != nil {
			return err
		}
		side, err := parseSide(c.Args().Get(1))
		if err != nil {
			return err
		}

		db, err := swapdb.Open(resolveDataDir(c))
		if err != nil {
			return fmt.Errorf("open event store for writing (is swapd still running?): %w", err)
		}
		defer db.Close()

		event := swapdomain.ProtocolEvent{
			Kind:   swapdomain.EventAborted,
			Reason: "operator forced refund via swapctl",
		}
		if err := db.Save(id, side, event); err != nil {
			return err
		}
		fmt.Printf("recorded operator abort for swap %s (%s)\n", id, side)
		return nil
	},
}

var startSwapCommand = cli.Command{
	Name:      "start-swap",
	Usage:     "register a negotiated swap's params (and, for Alice, its secret) so swapd launches it on its next start (swapd must not be running)",
	ArgsUsage: "<params.json>",
	Action: func(c *cli.Context) error {
		if c.NArg() != 1 {
			return cli.NewExitError("start-swap requires a path to a negotiated params file", 1)
		}

		net, err := resolveNetParams(c)
		if err != nil {
			return err
		}

		params, secret, err := loadNegotiatedSwap(c.Args().Get(0), net)
		if err != nil {
			return err
		}

		db, err := swapdb.Open(resolveDataDir(c))
		if err != nil {
			return fmt.Errorf("open event store for writing (is swapd still running?): %w", err)
		}
		defer db.Close()

		if err := db.SaveParams(net, params); err != nil {
			return err
		}
		if params.Role == swapdomain.RoleAlice {
			if err := db.SaveSecret(params.SwapId, secret); err != nil {
				return err
			}
		}

		fmt.Printf("registered swap %s as %s\n", params.SwapId, params.Role)
		return nil
	},
}

func parseSwapId(s string) (swapdomain.SwapId, error) {
	var id swapdomain.SwapId
	raw, err := parseHex(s)
	if err != nil {
		return id, fmt.Errorf("invalid swap id: %w", err)
	}
	if len(raw) != len(id) {
		return id, fmt.Errorf("invalid swap id: expected %d bytes, got %d", len(id), len(raw))
	}
	copy(id[:], raw)
	return id, nil
}

func parseSide(s string) (swapdomain.Side, error) {
	switch strings.ToLower(s) {
	case "alpha":
		return swapdomain.SideAlpha, nil
	case "beta":
		return swapdomain.SideBeta, nil
	default:
		return 0, fmt.Errorf("side must be \"alpha\" or \"beta\", got %q", s)
	}
}
