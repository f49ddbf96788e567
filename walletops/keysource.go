package walletops

import (
	"crypto/ecdsa"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcutil"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// FileSigner and FileKeySource are minimal, file-backed implementations
// of Signer and EthKeySource. Key management and signing are explicitly
// out of scope for the core (spec.md §1); these exist only so cmd/swapd
// has something concrete to wire the executor's wallets to, the way the
// teacher's own lnwallet/btcwallet backs its Signer with an on-disk
// wallet.db rather than the core ever touching key material directly.
// The file format is a flat JSON object mapping the address's string
// encoding to its hex-encoded private key.

// FileSigner resolves Bitcoin signing keys from a JSON file.
type FileSigner struct {
	path string
}

// NewFileSigner constructs a FileSigner reading from path.
func NewFileSigner(path string) *FileSigner {
	return &FileSigner{path: path}
}

func (s *FileSigner) PrivateKeyFor(addr btcutil.Address) (*btcec.PrivateKey, error) {
	keys, err := readKeyFile(s.path)
	if err != nil {
		return nil, err
	}
	raw, ok := keys[addr.EncodeAddress()]
	if !ok {
		return nil, fmt.Errorf("walletops: no key on file for %s", addr.EncodeAddress())
	}
	keyBytes, err := hex.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("walletops: decode key for %s: %w", addr.EncodeAddress(), err)
	}
	priv := btcec.PrivKeyFromBytes(keyBytes)
	return priv, nil
}

// FileKeySource resolves Ethereum signing keys from a JSON file.
type FileKeySource struct {
	path string
}

// NewKeystoreSource constructs a FileKeySource reading from path.
func NewKeystoreSource(path string) *FileKeySource {
	return &FileKeySource{path: path}
}

func (s *FileKeySource) PrivateKeyFor(addr common.Address) (*ecdsa.PrivateKey, error) {
	keys, err := readKeyFile(s.path)
	if err != nil {
		return nil, err
	}
	raw, ok := keys[addr.Hex()]
	if !ok {
		return nil, fmt.Errorf("walletops: no key on file for %s", addr.Hex())
	}
	priv, err := crypto.HexToECDSA(raw)
	if err != nil {
		return nil, fmt.Errorf("walletops: decode key for %s: %w", addr.Hex(), err)
	}
	return priv, nil
}

func readKeyFile(path string) (map[string]string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("walletops: read key file %s: %w", path, err)
	}
	var keys map[string]string
	if err := json.Unmarshal(raw, &keys); err != nil {
		return nil, fmt.Errorf("walletops: parse key file %s: %w", path, err)
	}
	return keys, nil
}
