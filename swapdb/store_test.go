package swapdb

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/atomicswap/swapd/swaperr"
	"github.com/atomicswap/swapd/swapdomain"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	dir := t.TempDir()
	db, err := Open(dir)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestSaveThenLoadRoundTrips(t *testing.T) {
	db := openTestDB(t)

	id, err := swapdomain.NewSwapId()
	require.NoError(t, err)

	started := swapdomain.ProtocolEvent{Kind: swapdomain.EventStarted, Timestamp: time.Now()}
	funded := swapdomain.ProtocolEvent{
		Kind:      swapdomain.EventFunded,
		TxId:      "deadbeef",
		Asset:     swapdomain.Asset{Kind: swapdomain.AssetBitcoin, Sats: 100000},
		Timestamp: time.Now(),
	}

	require.NoError(t, db.Save(id, swapdomain.SideAlpha, started))
	require.NoError(t, db.Save(id, swapdomain.SideAlpha, funded))

	record, err := db.Load(id)
	require.NoError(t, err)
	require.Len(t, record.Events, 2)
	require.Equal(t, swapdomain.EventStarted, record.Events[0].Event.Kind)
	require.Equal(t, swapdomain.EventFunded, record.Events[1].Event.Kind)
	require.Equal(t, "deadbeef", record.Events[1].Event.TxId)
	require.EqualValues(t, 100000, record.Events[1].Event.Asset.Sats)
}

// TestSaveIsIdempotent is the spec.md §8 round-trip property:
// save(e); save(e) is observationally equal to save(e).
func TestSaveIsIdempotent(t *testing.T) {
	db := openTestDB(t)
	id, err := swapdomain.NewSwapId()
	require.NoError(t, err)

	event := swapdomain.ProtocolEvent{Kind: swapdomain.EventFunded, TxId: "abc", Timestamp: time.Now()}

	require.NoError(t, db.Save(id, swapdomain.SideBeta, event))
	require.NoError(t, db.Save(id, swapdomain.SideBeta, event))

	record, err := db.Load(id)
	require.NoError(t, err)
	require.Len(t, record.Events, 1)
}

func TestLoadUnknownSwapReturnsNotFound(t *testing.T) {
	db := openTestDB(t)
	id, err := swapdomain.NewSwapId()
	require.NoError(t, err)

	_, err = db.Load(id)
	require.ErrorIs(t, err, swaperr.ErrSwapNotFound)
}

func TestListUnfinishedExcludesBothSidesTerminal(t *testing.T) {
	db := openTestDB(t)

	finished, err := swapdomain.NewSwapId()
	require.NoError(t, err)
	unfinished, err := swapdomain.NewSwapId()
	require.NoError(t, err)

	require.NoError(t, db.Save(finished, swapdomain.SideAlpha,
		swapdomain.ProtocolEvent{Kind: swapdomain.EventRedeemed, Timestamp: time.Now()}))
	require.NoError(t, db.Save(finished, swapdomain.SideBeta,
		swapdomain.ProtocolEvent{Kind: swapdomain.EventRefunded, Timestamp: time.Now()}))

	require.NoError(t, db.Save(unfinished, swapdomain.SideAlpha,
		swapdomain.ProtocolEvent{Kind: swapdomain.EventFunded, Timestamp: time.Now()}))

	ids, err := db.ListUnfinished()
	require.NoError(t, err)
	require.Len(t, ids, 1)
	require.Equal(t, unfinished, ids[0])
}
