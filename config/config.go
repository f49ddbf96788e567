// Package config loads swapd's on-disk/CLI/environment configuration.
// Grounded on lnd.go's loadConfig/cfg pattern and chainregistry.go's
// per-chain sub-config structs (cfg.Bitcoin, cfg.Litecoin): jessevdk/
// go-flags parses CLI flags, then an INI file under the data directory,
// into nested per-ledger sections. Negotiation and the control-plane
// surfaces spec.md §1 excludes have no config knobs here; this loader
// only carries what a standalone executor daemon needs to dial its chain
// backends and find its data directory.
package config

import (
	"os"
	"path/filepath"
	"time"

	flags "github.com/jessevdk/go-flags"
)

const (
	defaultDataDirname   = "swapd"
	defaultConfigFilename = "swapd.conf"
	defaultSafetyMargin  = 10 * time.Minute
	defaultPollInterval  = 15 * time.Second
	defaultDebugLevel    = "info"
)

// BitcoinConfig configures the btcd/bitcoind RPC backend for the Bitcoin
// leg of a swap, mirroring chainregistry.go's bitcoinConfig fields.
type BitcoinConfig struct {
	Active      bool   `long:"active" description:"enable the Bitcoin backend"`
	RPCHost     string `long:"rpchost" description:"host:port of the backing btcd/bitcoind RPC server"`
	RPCUser     string `long:"rpcuser" description:"RPC username"`
	RPCPass     string `long:"rpcpass" description:"RPC password"`
	RawRPCCert  string `long:"rawrpccert" description:"hex-encoded RPC TLS certificate, overrides RPCCert if set"`
	RPCCert     string `long:"rpccert" description:"path to the RPC server's TLS certificate"`
	NetParams   string `long:"network" description:"mainnet, testnet3, signet, or regtest" default:"testnet3"`
	FeePerKVB   int64  `long:"feeperkvb" description:"satoshis per kilo-vbyte to quote for funding/redeem/refund transactions"`
}

// EthereumConfig configures the go-ethereum JSON-RPC backend for the
// Ethereum leg of a swap.
type EthereumConfig struct {
	Active            bool   `long:"active" description:"enable the Ethereum backend"`
	RPCURL            string `long:"rpcurl" description:"ws:// or http:// JSON-RPC endpoint"`
	ChainID           int64  `long:"chainid" description:"chain id, used to sign redeem/refund transactions"`
	KeystorePath      string `long:"keystore" description:"path to the local keystore used to sign transactions"`
	HTLCInitCodePrefix string `long:"htlcinitcodeprefix" description:"hex-encoded prefix of the compiled HTLC contract's creation bytecode, before constructor arguments"`
}

// Config is the fully parsed configuration of a swapd instance.
type Config struct {
	DataDir      string         `long:"datadir" description:"directory to store swapd's state in" default:"~/.swapd"`
	DebugLevel   string         `long:"debuglevel" description:"logging level for all subsystems, or subsystem=level pairs" default:"info"`
	SafetyMargin time.Duration  `long:"safetymargin" description:"minimum required slack between alpha and beta expiries"`
	PollInterval time.Duration  `long:"pollinterval" description:"default sieve poll interval for ledgers without push notifications"`
	MetricsAddr  string         `long:"metricsaddr" description:"listen address for the Prometheus /metrics endpoint; empty disables it"`

	Bitcoin  BitcoinConfig  `group:"Bitcoin" namespace:"bitcoin"`
	Ethereum EthereumConfig `group:"Ethereum" namespace:"ethereum"`
}

// defaultConfig returns a Config populated with every default named above,
// the way lnd.go's defaultConfig does before flags/file overrides apply.
func defaultConfig() Config {
	return Config{
		DataDir:      filepath.Join("~", "."+defaultDataDirname),
		DebugLevel:   defaultDebugLevel,
		SafetyMargin: defaultSafetyMargin,
		PollInterval: defaultPollInterval,
		Bitcoin: BitcoinConfig{
			NetParams: "testnet3",
		},
	}
}

// Load parses args (typically os.Args[1:]) against the defaults, then
// against an INI file under the resolved data directory if one exists,
// mirroring loadConfig's flags-then-file precedence (explicit flags win).
func Load(args []string) (*Config, error) {
	cfg := defaultConfig()

	parser := flags.NewParser(&cfg, flags.Default)
	if _, err := parser.ParseArgs(args); err != nil {
		return nil, err
	}

	cfg.DataDir = cleanAndExpandPath(cfg.DataDir)

	confFile := filepath.Join(cfg.DataDir, defaultConfigFilename)
	if _, err := os.Stat(confFile); err == nil {
		iniParser := flags.NewIniParser(parser)
		if err := iniParser.ParseFile(confFile); err != nil {
			return nil, err
		}
		// Re-apply CLI args so a flag always overrides the file, even
		// when the file is parsed after the first pass.
		if _, err := parser.ParseArgs(args); err != nil {
			return nil, err
		}
	}

	return &cfg, nil
}

func cleanAndExpandPath(path string) string {
	if path == "" {
		return path
	}
	if path[0] == '~' {
		home, err := os.UserHomeDir()
		if err == nil {
			path = filepath.Join(home, path[1:])
		}
	}
	return filepath.Clean(os.ExpandEnv(path))
}
