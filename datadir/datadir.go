// Package datadir manages the on-disk layout described in spec.md §6
// ("Persisted-state layout") and the single-writer invariant of §5
// ("Shared resources: ... serialize access via the event store's
// single-writer semantics"): one process may hold a given data directory
// open at a time. Grounded on the pack's geth/lnd-family nodes, which all
// take an advisory flock on their chaindata directory before opening it,
// using gofrs/flock rather than a hand-rolled pidfile.
package datadir

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

const (
	dbDirName   = "db"
	logDirName  = "logs"
	seedFile    = "seed"
	lockFile    = "lock"
)

// Dir represents an opened, locked data directory.
type Dir struct {
	path string
	lock *flock.Flock
}

// Open creates path (and its db/logs subdirectories) if absent and takes
// an exclusive advisory lock on it, failing fast if another process
// already holds it rather than blocking — a second swapd instance
// pointed at the same directory is an operator error, not a condition to
// wait out.
func Open(path string) (*Dir, error) {
	if err := os.MkdirAll(filepath.Join(path, dbDirName), 0700); err != nil {
		return nil, fmt.Errorf("datadir: create db dir: %w", err)
	}
	if err := os.MkdirAll(filepath.Join(path, logDirName), 0700); err != nil {
		return nil, fmt.Errorf("datadir: create log dir: %w", err)
	}

	lock := flock.New(filepath.Join(path, lockFile))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("datadir: acquire lock: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("datadir: %s is already in use by another swapd process", path)
	}

	return &Dir{path: path, lock: lock}, nil
}

// Close releases the directory lock. It does not delete anything on disk.
func (d *Dir) Close() error {
	return d.lock.Unlock()
}

// DBDir returns the directory swapdb should open.
func (d *Dir) DBDir() string {
	return filepath.Join(d.path, dbDirName)
}

// LogDir returns the directory the rotating log file is written under.
func (d *Dir) LogDir() string {
	return filepath.Join(d.path, logDirName)
}

// SeedPath returns the path of the local wallet seed file, opaque to this
// package (spec.md §6 treats wallet key material as out of scope).
func (d *Dir) SeedPath() string {
	return filepath.Join(d.path, seedFile)
}
