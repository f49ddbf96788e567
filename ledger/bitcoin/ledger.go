// Package bitcoin adapts a btcd-compatible RPC client to the shapes
// sieve.Block/sieve.Connector expect, so the Bitcoin HTLC observer can run
// the same backward-traversal algorithm every other ledger uses.
package bitcoin

import (
	"context"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/rpcclient"
	"github.com/btcsuite/btcd/wire"

	"github.com/atomicswap/swapd/sieve"
)

// Block wraps a full Bitcoin block to satisfy sieve.Block[*wire.MsgTx].
type Block struct {
	msg    *wire.MsgBlock
	hash   chainhash.Hash
	height int32
}

func (b Block) Hash() sieve.BlockHash { return sieve.BlockHash(b.hash) }

func (b Block) ParentHash() sieve.BlockHash {
	return sieve.BlockHash(b.msg.Header.PrevBlock)
}

func (b Block) Timestamp() time.Time { return b.msg.Header.Timestamp }

func (b Block) Transactions() []*wire.MsgTx { return b.msg.Transactions }

// Height is the block's height, used by callers computing confirmation
// depth independent of the sieve (spec.md §6 safety-margin checks).
func (b Block) Height() int32 { return b.height }

// Connector wraps a btcd RPC client to satisfy sieve.Connector[Block].
// A single *rpcclient.Client is shared by every swap watching this chain;
// callers are expected to wrap it with blockcache for repeated lookups of
// the same block across concurrently-running swaps.
type Connector struct {
	rpc *rpcclient.Client
}

// NewConnector wraps an already-connected btcd RPC client.
func NewConnector(rpc *rpcclient.Client) *Connector {
	return &Connector{rpc: rpc}
}

func (c *Connector) LatestBlock(ctx context.Context) (Block, error) {
	hash, height, err := c.rpc.GetBestBlock()
	if err != nil {
		return Block{}, fmt.Errorf("bitcoin: get best block: %w", err)
	}
	msg, err := c.rpc.GetBlock(hash)
	if err != nil {
		return Block{}, fmt.Errorf("bitcoin: get block %s: %w", hash, err)
	}
	return Block{msg: msg, hash: *hash, height: height}, nil
}

func (c *Connector) BlockByHash(ctx context.Context, hash sieve.BlockHash) (Block, error) {
	h := chainhash.Hash(hash)
	msg, err := c.rpc.GetBlock(&h)
	if err != nil {
		return Block{}, fmt.Errorf("bitcoin: get block %s: %w", h, err)
	}
	info, err := c.rpc.GetBlockVerbose(&h)
	if err != nil {
		return Block{}, fmt.Errorf("bitcoin: get block info %s: %w", h, err)
	}
	return Block{msg: msg, hash: h, height: int32(info.Height)}, nil
}

// RawTransaction fetches a confirmed transaction by id. The HTLC observers
// do not call it; they read transactions from the blocks the sieve
// yields.
func (c *Connector) RawTransaction(ctx context.Context, txid *chainhash.Hash) (*btcjson.TxRawResult, error) {
	res, err := c.rpc.GetRawTransactionVerbose(txid)
	if err != nil {
		return nil, fmt.Errorf("bitcoin: get raw tx %s: %w", txid, err)
	}
	return res, nil
}
