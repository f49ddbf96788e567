package swapdb

import (
	"fmt"

	"go.etcd.io/bbolt"

	"github.com/atomicswap/swapd/swaperr"
	"github.com/atomicswap/swapd/swapdomain"
)

// secretBucket holds Alice's own secret preimage, keyed by swap id. The
// secret is never derived from a ProtocolEvent (it isn't public until
// Alice's beta redeem broadcasts it), so it needs its own persistence
// side-channel alongside paramsBucket for the respawner to recover an
// Alice-role swap across a restart that happens before that redeem.
var secretBucket = []byte("swap_secrets")

// SaveSecret persists secret for swapId exactly once.
func (d *DB) SaveSecret(swapId swapdomain.SwapId, secret swapdomain.Secret) error {
	return d.bolt.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(secretBucket)
		if bucket.Get(swapId[:]) != nil {
			return nil
		}
		return bucket.Put(swapId[:], secret[:])
	})
}

// LoadSecret returns the secret previously saved via SaveSecret.
func (d *DB) LoadSecret(swapId swapdomain.SwapId) (swapdomain.Secret, error) {
	var secret swapdomain.Secret
	err := d.bolt.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(secretBucket)
		raw := bucket.Get(swapId[:])
		if raw == nil {
			return swaperr.ErrSwapNotFound
		}
		if len(raw) != len(secret) {
			return fmt.Errorf("swapdb: corrupt secret record for %s", swapId)
		}
		copy(secret[:], raw)
		return nil
	})
	return secret, err
}
