package sieve

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/btcsuite/btclog"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// fakeBlock is a minimal Block[int] implementation for tests: each block
// carries its own height as its only "transaction".
type fakeBlock struct {
	hash, parent BlockHash
	height       int
	ts           time.Time
}

func (b fakeBlock) Hash() BlockHash         { return b.hash }
func (b fakeBlock) ParentHash() BlockHash   { return b.parent }
func (b fakeBlock) Timestamp() time.Time    { return b.ts }
func (b fakeBlock) Transactions() []int     { return []int{b.height} }

func hashOf(height int) BlockHash {
	var h BlockHash
	h[0] = byte(height)
	h[1] = byte(height >> 8)
	return h
}

func chainBlock(height int, ts time.Time) fakeBlock {
	parent := hashOf(height - 1)
	if height == 0 {
		parent = BlockHash{}
	}
	return fakeBlock{hash: hashOf(height), parent: parent, height: height, ts: ts}
}

// fakeConnector replays a scripted sequence of LatestBlock answers (one per
// call, repeating the last entry once exhausted) while always answering
// BlockByHash from a fixed map — modelling spec.md §8 scenario 3: "blocks
// 1,2,4 returned from latest_block queue, blocks 1,2,3,4 via
// block_by_hash".
type fakeConnector struct {
	tipQueue []fakeBlock
	tipIdx   int
	byHash   map[BlockHash]fakeBlock
}

func (c *fakeConnector) LatestBlock(ctx context.Context) (fakeBlock, error) {
	if c.tipIdx >= len(c.tipQueue) {
		return c.tipQueue[len(c.tipQueue)-1], nil
	}
	b := c.tipQueue[c.tipIdx]
	c.tipIdx++
	return b, nil
}

func (c *fakeConnector) BlockByHash(ctx context.Context, h BlockHash) (fakeBlock, error) {
	b, ok := c.byHash[h]
	if !ok {
		return fakeBlock{}, fmt.Errorf("no such block: %v", h)
	}
	return b, nil
}

func noopLogger() btclog.Logger { return btclog.Disabled }

func TestSieveFindsMatchAcrossGap(t *testing.T) {
	base := time.Unix(1_700_000_000, 0)

	blocks := map[BlockHash]fakeBlock{}
	for i := 0; i <= 4; i++ {
		blocks[hashOf(i)] = chainBlock(i, base.Add(time.Duration(i)*time.Minute))
	}

	conn := &fakeConnector{
		tipQueue: []fakeBlock{blocks[hashOf(1)], blocks[hashOf(2)], blocks[hashOf(4)]},
		byHash:   blocks,
	}

	s := New[fakeBlock, int](conn, base, time.Millisecond, noopLogger())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	match, err := Watch[fakeBlock, int, int](ctx, s, func(height int) (int, bool) {
		return height, height == 3
	})
	require.NoError(t, err)
	require.Equal(t, 3, match.Value)
}

func TestSieveNeverYieldsSameHashTwice(t *testing.T) {
	base := time.Unix(1_700_000_000, 0)
	blocks := map[BlockHash]fakeBlock{}
	for i := 0; i <= 10; i++ {
		blocks[hashOf(i)] = chainBlock(i, base.Add(time.Duration(i)*time.Minute))
	}

	conn := &fakeConnector{
		tipQueue: []fakeBlock{blocks[hashOf(10)]},
		byHash:   blocks,
	}
	s := New[fakeBlock, int](conn, base, time.Millisecond, noopLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	seen := map[BlockHash]bool{}
	for b := range s.Blocks(ctx) {
		require.False(t, seen[b.Hash()], "block %v yielded twice", b.Hash())
		seen[b.Hash()] = true
	}
}

// TestSieveTimestampInvariant is the property-based check from spec.md §8:
// a single backward walk emits at most one block predating start_of_swap,
// and it must be the last block of that walk (the stopping condition in
// spec.md §4.1 step 3(a) fires immediately once such a block is yielded).
func TestSieveTimestampInvariant(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		height := rapid.IntRange(1, 30).Draw(t, "height")
		startAt := rapid.IntRange(0, height).Draw(t, "startAt")

		base := time.Unix(1_700_000_000, 0)
		blocks := map[BlockHash]fakeBlock{}
		for i := 0; i <= height; i++ {
			blocks[hashOf(i)] = chainBlock(i, base.Add(time.Duration(i)*time.Minute))
		}
		start := base.Add(time.Duration(startAt) * time.Minute)

		conn := &fakeConnector{
			tipQueue: []fakeBlock{blocks[hashOf(height)]},
			byHash:   blocks,
		}
		s := New[fakeBlock, int](conn, start, time.Millisecond, noopLogger())

		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()

		var emitted []fakeBlock
		for b := range s.Blocks(ctx) {
			emitted = append(emitted, b)
		}

		for i, b := range emitted {
			if b.Timestamp().Before(start) {
				require.Equal(t, len(emitted)-1, i,
					"a block predating start_of_swap must end its walk")
			}
		}
	})
}
