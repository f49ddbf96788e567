// Package swapdb implements the event store of spec.md §4.6 (component
// C6): an ordered, append-only, per-swap event log backed by a
// single-writer embedded KV store, grounded on channeldb's bbolt-backed
// DB in the teacher repo. save is idempotent on (swap_id, event_variant)
// and serialised per swap_id by bbolt's own single-writer transactions;
// concurrent saves for different swap_ids proceed through independent
// transactions without contention beyond bbolt's single writer lock,
// matching the "serialised per swap_id" requirement without needing an
// additional in-process lock.
package swapdb

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/btcsuite/btcd/chaincfg"
	"go.etcd.io/bbolt"

	"github.com/atomicswap/swapd/metrics"
	"github.com/atomicswap/swapd/swaperr"
	"github.com/atomicswap/swapd/swapdomain"
)

const (
	dbFileName       = "swaps.db"
	dbFilePermission = 0600
)

var (
	swapsBucket  = []byte("swaps")
	paramsBucket = []byte("swap_params")
)

// secretBucket is declared in secret.go alongside the accessors that use
// it; it is created here with the other buckets so Open remains the
// single place that establishes the on-disk layout.

// DB is the primary event store for swapd.
type DB struct {
	bolt    *bbolt.DB
	metrics *metrics.Registry
}

// WithMetrics attaches a metrics.Registry that Save reports persisted
// events to. Optional: a DB built via Open alone simply skips recording.
func (d *DB) WithMetrics(m *metrics.Registry) *DB {
	d.metrics = m
	return d
}

// Open opens (creating if absent) the event store under dataDir.
func Open(dataDir string) (*DB, error) {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("swapdb: create data dir: %w", err)
	}
	path := filepath.Join(dataDir, dbFileName)

	bdb, err := bbolt.Open(path, dbFilePermission, nil)
	if err != nil {
		return nil, fmt.Errorf("swapdb: open %s: %w", path, err)
	}

	err = bdb.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(swapsBucket); err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists(paramsBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(secretBucket)
		return err
	})
	if err != nil {
		bdb.Close()
		return nil, swaperr.New(swaperr.StateCorruption, fmt.Errorf("swapdb: create bucket: %w", err))
	}

	return &DB{bolt: bdb}, nil
}

// OpenReadOnly opens the event store under dataDir with bbolt's shared
// file lock instead of the exclusive one Open takes, so several readers
// can open it at once. The shared lock still waits while another process
// (a running swapd) holds the exclusive lock. Writes through the
// returned DB fail; Save and SaveParams/SaveSecret are not meant to be
// called on it.
func OpenReadOnly(dataDir string) (*DB, error) {
	path := filepath.Join(dataDir, dbFileName)
	bdb, err := bbolt.Open(path, dbFilePermission, &bbolt.Options{ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("swapdb: open %s read-only: %w", path, err)
	}
	return &DB{bolt: bdb}, nil
}

// Close releases the underlying file handle.
func (d *DB) Close() error {
	return d.bolt.Close()
}

// Save appends event for side to swapId's record. It is a no-op, returning
// nil, if an event of the same (side, kind) has already been recorded —
// the idempotency guarantee spec.md §4.6 requires so that a crashed
// executor can safely replay a step it already completed.
func (d *DB) Save(swapId swapdomain.SwapId, side swapdomain.Side, event swapdomain.ProtocolEvent) error {
	return d.bolt.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(swapsBucket)

		record, err := loadRecord(bucket, swapId)
		if err != nil {
			return err
		}

		// Every kind but Pending occurs at most once per side, so a repeat
		// Save of it is always a no-op replay. Pending recurs once per
		// broadcast phase (fund, then later redeem/refund); a new Pending
		// with a different TxId than the latest one on record is a new
		// phase's checkpoint and must still be appended.
		if existing, exists := record.HasEvent(side, event.Kind); exists {
			if event.Kind != swapdomain.EventPending || existing.TxId == event.TxId {
				return nil
			}
		}

		record = record.Append(side, event)

		encoded, err := encodeRecord(record)
		if err != nil {
			return fmt.Errorf("swapdb: encode record: %w", err)
		}
		if err := bucket.Put(swapId[:], encoded); err != nil {
			return err
		}
		if d.metrics != nil {
			d.metrics.EventsPersisted.WithLabelValues(side.String(), event.Kind.String()).Inc()
		}
		return nil
	})
}

// Load returns the full persisted record for swapId.
func (d *DB) Load(swapId swapdomain.SwapId) (swapdomain.SwapRecord, error) {
	var record swapdomain.SwapRecord
	err := d.bolt.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(swapsBucket)
		var err error
		record, err = loadRecord(bucket, swapId)
		return err
	})
	if err != nil {
		return swapdomain.SwapRecord{}, err
	}
	if len(record.Events) == 0 {
		return swapdomain.SwapRecord{}, swaperr.ErrSwapNotFound
	}
	return record, nil
}

// SaveParams persists the negotiated SwapParams for a swap exactly once,
// at swap creation. The respawner (C7) reads it back to reconstruct the
// arguments C5 needs on cold start, since the event log alone (ProtocolEvent)
// does not carry negotiation-time fields like identities or secret_hash.
func (d *DB) SaveParams(net *chaincfg.Params, params swapdomain.SwapParams) error {
	return d.bolt.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(paramsBucket)
		if bucket.Get(params.SwapId[:]) != nil {
			return nil
		}
		encoded, err := encodeParams(params)
		if err != nil {
			return fmt.Errorf("swapdb: encode params: %w", err)
		}
		return bucket.Put(params.SwapId[:], encoded)
	})
}

// LoadParams returns the SwapParams previously saved via SaveParams. net
// supplies the chain parameters needed to decode Bitcoin addresses.
func (d *DB) LoadParams(swapId swapdomain.SwapId, net *chaincfg.Params) (swapdomain.SwapParams, error) {
	var params swapdomain.SwapParams
	err := d.bolt.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(paramsBucket)
		raw := bucket.Get(swapId[:])
		if raw == nil {
			return swaperr.ErrSwapNotFound
		}
		var err error
		params, err = decodeParams(raw, net)
		return err
	})
	return params, err
}

// ListUnfinished returns the ids of every swap record with no terminal
// event on at least one side, the set C7 relaunches on cold start. A swap
// registered through SaveParams that has no event yet is unfinished too.
func (d *DB) ListUnfinished() ([]swapdomain.SwapId, error) {
	var ids []swapdomain.SwapId
	err := d.bolt.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(swapsBucket)
		err := bucket.ForEach(func(k, v []byte) error {
			record, err := decodeRecord(k, v)
			if err != nil {
				return fmt.Errorf("swapdb: decode record %x: %w", k, err)
			}
			if !record.Finished() {
				ids = append(ids, record.SwapId)
			}
			return nil
		})
		if err != nil {
			return err
		}
		return tx.Bucket(paramsBucket).ForEach(func(k, _ []byte) error {
			if bucket.Get(k) == nil {
				var id swapdomain.SwapId
				copy(id[:], k)
				ids = append(ids, id)
			}
			return nil
		})
	})
	if err != nil {
		return nil, swaperr.New(swaperr.StateCorruption, err)
	}
	return ids, nil
}

func loadRecord(bucket *bbolt.Bucket, swapId swapdomain.SwapId) (swapdomain.SwapRecord, error) {
	raw := bucket.Get(swapId[:])
	if raw == nil {
		return swapdomain.SwapRecord{SwapId: swapId}, nil
	}
	return decodeRecord(swapId[:], raw)
}
