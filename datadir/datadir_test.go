package datadir

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOpenCreatesLayoutAndLocks(t *testing.T) {
	dir := t.TempDir()

	d, err := Open(dir)
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })

	require.DirExists(t, d.DBDir())
	require.DirExists(t, d.LogDir())
}

func TestOpenFailsWhenAlreadyLocked(t *testing.T) {
	dir := t.TempDir()

	first, err := Open(dir)
	require.NoError(t, err)
	t.Cleanup(func() { first.Close() })

	_, err = Open(dir)
	require.Error(t, err)
}

func TestCloseReleasesLockForNextOpen(t *testing.T) {
	dir := t.TempDir()

	first, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, second.Close())
}
