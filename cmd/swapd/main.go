// Command swapd is the cross-chain atomic swap execution engine's
// daemon: it opens the event store, relaunches whatever swaps survive a
// restart unfinished (spec.md §4.7), and keeps polling the store for
// unfinished swaps that are not yet running. Grounded on lnd.go's lndMain/main
// split, which exists so deferred cleanups still run when a startup
// error triggers an early return.
package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcutil"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/atomicswap/swapd/config"
	"github.com/atomicswap/swapd/datadir"
	htlceth "github.com/atomicswap/swapd/htlc/ethereum"
	ledgerbtc "github.com/atomicswap/swapd/ledger/bitcoin"
	ledgereth "github.com/atomicswap/swapd/ledger/ethereum"
	"github.com/atomicswap/swapd/metrics"
	"github.com/atomicswap/swapd/respawn"
	"github.com/atomicswap/swapd/swapdb"
	"github.com/atomicswap/swapd/swapexec"
	"github.com/atomicswap/swapd/walletops"
)

const logFilename = "swapd.log"

func main() {
	if err := swapdMain(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func swapdMain() error {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		return err
	}

	dir, err := datadir.Open(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("open data directory: %w", err)
	}
	defer dir.Close()

	if err := initLogRotator(dir.LogDir(), logFilename); err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	setLogLevels(cfg.DebugLevel)
	defer logRotator.Close()

	swapdLog.Infof("swapd starting, data_dir=%s", cfg.DataDir)

	db, err := swapdb.Open(dir.DBDir())
	if err != nil {
		return fmt.Errorf("open event store: %w", err)
	}
	defer db.Close()

	reg := metrics.New(prometheus.DefaultRegisterer)
	db.WithMetrics(reg)

	net, err := bitcoinNetParams(cfg.Bitcoin.NetParams)
	if err != nil {
		return err
	}

	factory, err := buildSideFactory(cfg, net)
	if err != nil {
		return fmt.Errorf("build chain backends: %w", err)
	}

	executor := swapexec.New(db, execLog, cfg.SafetyMargin, cfg.PollInterval).WithMetrics(reg)
	respawner := respawn.New(db, executor, factory, net, respawnLog).WithMetrics(reg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.MetricsAddr != "" {
		go serveMetrics(cfg.MetricsAddr)
	}

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt)
		<-sigCh
		swapdLog.Infof("received interrupt, shutting down")
		cancel()
	}()

	return respawner.Watch(ctx, cfg.PollInterval)
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	swapdLog.Infof("metrics listening on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		swapdLog.Errorf("metrics server: %v", err)
	}
}

func bitcoinNetParams(name string) (*chaincfg.Params, error) {
	switch name {
	case "mainnet":
		return &chaincfg.MainNetParams, nil
	case "testnet3":
		return &chaincfg.TestNet3Params, nil
	case "signet":
		return &chaincfg.SigNetParams, nil
	case "regtest":
		return &chaincfg.RegressionNetParams, nil
	default:
		return nil, fmt.Errorf("unknown bitcoin network %q", name)
	}
}

// buildSideFactory dials the chain backends enabled in cfg, mirroring
// chainregistry.go's newChainControl: each backend is constructed once
// and shared by every swap, rather than redialed per swap.
func buildSideFactory(cfg *config.Config, net *chaincfg.Params) (*chainSideFactory, error) {
	factory := &chainSideFactory{}

	if cfg.Bitcoin.Active {
		var cert []byte
		switch {
		case cfg.Bitcoin.RawRPCCert != "":
			raw, err := hex.DecodeString(cfg.Bitcoin.RawRPCCert)
			if err != nil {
				return nil, fmt.Errorf("decode rawrpccert: %w", err)
			}
			cert = raw
		case cfg.Bitcoin.RPCCert != "":
			raw, err := os.ReadFile(filepath.Clean(cfg.Bitcoin.RPCCert))
			if err != nil {
				return nil, fmt.Errorf("read bitcoin rpc cert: %w", err)
			}
			cert = raw
		}
		rpc, err := rpcClient(cfg.Bitcoin.RPCHost, cfg.Bitcoin.RPCUser, cfg.Bitcoin.RPCPass, cert)
		if err != nil {
			return nil, fmt.Errorf("dial bitcoin rpc: %w", err)
		}
		signer := walletops.NewFileSigner(filepath.Join(cfg.DataDir, "bitcoin-keys.json"))

		factory.btcConn = ledgerbtc.NewConnector(rpc)
		factory.btcSigner = signer
		factory.btcNet = net
		factory.btcWallet = walletops.NewBitcoinWallet(rpc, signer, net, btcutil.Amount(cfg.Bitcoin.FeePerKVB))
	}

	if cfg.Ethereum.Active {
		client, err := ethclient.Dial(cfg.Ethereum.RPCURL)
		if err != nil {
			return nil, fmt.Errorf("dial ethereum rpc: %w", err)
		}
		keys := walletops.NewKeystoreSource(cfg.Ethereum.KeystorePath)

		prefix, err := hex.DecodeString(cfg.Ethereum.HTLCInitCodePrefix)
		if err != nil {
			return nil, fmt.Errorf("decode htlcinitcodeprefix: %w", err)
		}

		factory.ethConn = ledgereth.NewConnector(client)
		factory.ethWallet = walletops.NewEthereumWallet(client, keys, big.NewInt(cfg.Ethereum.ChainID))
		factory.htlcTemplate = htlceth.InitCodeTemplate{Prefix: prefix}
	}

	return factory, nil
}
