// Package ethereum adapts an ethclient.Client to the shapes
// sieve.Block/sieve.Connector expect, mirroring ledger/bitcoin so the same
// backward-traversal algorithm drives both chains' observers.
package ethereum

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/atomicswap/swapd/sieve"
)

// Block wraps a go-ethereum block to satisfy sieve.Block[*types.Transaction].
type Block struct {
	inner *types.Block
}

func (b Block) Hash() sieve.BlockHash {
	return sieve.BlockHash(b.inner.Hash())
}

func (b Block) ParentHash() sieve.BlockHash {
	return sieve.BlockHash(b.inner.ParentHash())
}

func (b Block) Timestamp() time.Time {
	return time.Unix(int64(b.inner.Time()), 0)
}

func (b Block) Transactions() []*types.Transaction {
	return b.inner.Transactions()
}

// Number is the block's height.
func (b Block) Number() *big.Int { return b.inner.Number() }

// Connector wraps ethclient.Client to satisfy sieve.Connector[Block]. It
// also exposes receipt and log lookups observers need beyond the sieve's
// minimal interface.
type Connector struct {
	rpc *ethclient.Client
}

// NewConnector wraps an already-dialed ethclient.Client.
func NewConnector(rpc *ethclient.Client) *Connector {
	return &Connector{rpc: rpc}
}

func (c *Connector) LatestBlock(ctx context.Context) (Block, error) {
	header, err := c.rpc.HeaderByNumber(ctx, nil)
	if err != nil {
		return Block{}, fmt.Errorf("ethereum: header by number: %w", err)
	}
	block, err := c.rpc.BlockByHash(ctx, header.Hash())
	if err != nil {
		return Block{}, fmt.Errorf("ethereum: block by hash %s: %w", header.Hash(), err)
	}
	return Block{inner: block}, nil
}

func (c *Connector) BlockByHash(ctx context.Context, hash sieve.BlockHash) (Block, error) {
	block, err := c.rpc.BlockByHash(ctx, hash)
	if err != nil {
		return Block{}, fmt.Errorf("ethereum: block by hash %s: %w", hash, err)
	}
	return Block{inner: block}, nil
}

// TransactionReceipt fetches a transaction's receipt, used by the ERC-20
// funding watch to read a transaction's Transfer logs.
func (c *Connector) TransactionReceipt(ctx context.Context, txHash sieve.BlockHash) (*types.Receipt, error) {
	r, err := c.rpc.TransactionReceipt(ctx, common.Hash(txHash))
	if err != nil {
		return nil, fmt.Errorf("ethereum: transaction receipt %s: %w", txHash, err)
	}
	return r, nil
}

// BalanceAt returns the ETH balance of addr at the given block. Nothing in
// this module calls it; the plain-ether funding watch reads the funding
// transaction's value instead.
func (c *Connector) BalanceAt(ctx context.Context, addr common.Address, blockNumber *big.Int) (*big.Int, error) {
	bal, err := c.rpc.BalanceAt(ctx, addr, blockNumber)
	if err != nil {
		return nil, fmt.Errorf("ethereum: balance at %s: %w", addr, err)
	}
	return bal, nil
}
