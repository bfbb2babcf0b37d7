package txn

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Chocapikk/heapengine/ids"
)

func TestBeginAllocatesMonotonicXids(t *testing.T) {
	m := NewManager()
	x1 := m.Begin()
	x2 := m.Begin()
	require.Equal(t, ids.FirstNormalTransactionId, x1)
	require.Equal(t, x1+1, x2)
}

func TestCommitRemovesFromInProgress(t *testing.T) {
	m := NewManager()
	xid := m.Begin()
	require.True(t, m.IsInProgress(xid))
	m.Commit(xid)
	require.False(t, m.IsInProgress(xid))
	require.True(t, m.IsCommitted(xid))
}

func TestAbortRecordsNotCommitted(t *testing.T) {
	m := NewManager()
	xid := m.Begin()
	m.Abort(xid)
	require.False(t, m.IsInProgress(xid))
	require.False(t, m.IsCommitted(xid))
}

func TestIsCommittedSpecialCases(t *testing.T) {
	m := NewManager()
	require.False(t, m.IsCommitted(ids.InvalidTransactionId))
	require.True(t, m.IsCommitted(ids.BootstrapTransactionId))
	require.False(t, m.IsCommitted(999))
}

func TestSnapshotBoundsContainEveryXip(t *testing.T) {
	m := NewManager()
	x1 := m.Begin()
	x2 := m.Begin()
	snap := m.GetSnapshot(m.GetCID())

	require.Contains(t, snap.Xip, x1)
	require.Contains(t, snap.Xip, x2)
	for _, x := range snap.Xip {
		require.GreaterOrEqual(t, uint32(x), uint32(snap.Xmin))
		require.Less(t, uint32(x), uint32(snap.Xmax))
	}
}

func TestSnapshotXminFallsBackWhenNoneInProgress(t *testing.T) {
	m := NewManager()
	xid := m.Begin()
	m.Commit(xid)
	snap := m.GetSnapshot(1)
	require.Empty(t, snap.Xip)
	require.Equal(t, m.CurrentXid()-1, snap.Xmin)
}

func TestTransactionCommitIsIdempotent(t *testing.T) {
	m := NewManager()
	tx := Begin(m)
	tx.Commit()
	require.True(t, tx.Done())
	tx.Abort() // must be a no-op, not flip committed status to aborted
	require.True(t, m.IsCommitted(tx.Xid))
}

func TestTransactionRequireActive(t *testing.T) {
	m := NewManager()
	tx := Begin(m)
	require.NoError(t, tx.RequireActive())
	tx.Commit()
	require.Error(t, tx.RequireActive())
}

func TestGlobalXminTracksOldestInProgress(t *testing.T) {
	m := NewManager()
	x1 := m.Begin()
	m.Begin()
	require.Equal(t, x1, m.GlobalXmin())
	m.Commit(x1)
	// now nothing in progress but x2 is: GlobalXmin should track it
	require.NotEqual(t, ids.TransactionId(0), m.GlobalXmin())
}
