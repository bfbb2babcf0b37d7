package visibility

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Chocapikk/heapengine/ids"
	"github.com/Chocapikk/heapengine/tuple"
	"github.com/Chocapikk/heapengine/txn"
)

type fakeResolver map[ids.TransactionId]bool

func (f fakeResolver) IsCommitted(xid ids.TransactionId) bool { return f[xid] }

func header(xmin, xmax ids.TransactionId) *tuple.Header {
	return &tuple.Header{Xmin: xmin, Xmax: xmax}
}

func TestMVCCSelfVisibility(t *testing.T) {
	h := header(2, 0)
	snap := txn.Snapshot{Xmin: 2, Xmax: 3, Xip: []ids.TransactionId{2}, Mode: ids.ModeMVCC}
	require.True(t, SatisfiesMVCC(h, snap, 2, fakeResolver{}))
}

func TestMVCCIsolationBeforeCommit(t *testing.T) {
	h := header(2, 0)
	// snapshot captured while xid 2 is still in progress, from a different transaction
	snap := txn.Snapshot{Xmin: 2, Xmax: 3, Xip: []ids.TransactionId{2}, Mode: ids.ModeMVCC}
	require.False(t, SatisfiesMVCC(h, snap, 3, fakeResolver{}))
}

func TestMVCCVisibleAfterCommit(t *testing.T) {
	h := header(2, 0)
	h.SetXminCommitted(true)
	snap := txn.Snapshot{Xmin: 3, Xmax: 4, Xip: nil, Mode: ids.ModeMVCC}
	require.True(t, SatisfiesMVCC(h, snap, 3, fakeResolver{}))
}

func TestMVCCXminInvalidHidesAbortedInsert(t *testing.T) {
	h := header(2, 0)
	h.SetXminInvalid(true)
	snap := txn.Snapshot{Xmin: 3, Xmax: 4, Mode: ids.ModeMVCC}
	require.False(t, SatisfiesMVCC(h, snap, 3, fakeResolver{}))
}

func TestMVCCDeletedByOwnTransactionHidden(t *testing.T) {
	h := header(2, 3)
	snap := txn.Snapshot{Xmin: 2, Xmax: 4, Xip: nil, Mode: ids.ModeMVCC}
	require.False(t, SatisfiesMVCC(h, snap, 3, fakeResolver{}))
}

func TestMVCCLockedOnlyStillVisibleToDeleter(t *testing.T) {
	h := header(2, 3)
	h.SetXmaxIsLockedOnly(true)
	snap := txn.Snapshot{Xmin: 2, Xmax: 4, Mode: ids.ModeMVCC}
	require.True(t, SatisfiesMVCC(h, snap, 3, fakeResolver{}))
}

func TestMVCCFutureDeleterStillVisible(t *testing.T) {
	h := header(2, 10)
	h.SetXminCommitted(true)
	snap := txn.Snapshot{Xmin: 3, Xmax: 5, Mode: ids.ModeMVCC}
	require.True(t, SatisfiesMVCC(h, snap, 3, fakeResolver{}))
}

func TestSatisfiesAnyHidesOnlyCommittedDeletes(t *testing.T) {
	h := header(2, 3)
	h.SetXmaxCommitted(true)
	require.False(t, SatisfiesAny(h, fakeResolver{}))

	h2 := header(2, 3)
	require.True(t, SatisfiesAny(h2, fakeResolver{3: false}))
}

func TestSatisfiesSelfHidesFutureCommand(t *testing.T) {
	h := header(2, 0)
	h.Cid = 5
	snap := txn.Snapshot{CurCID: 3, Mode: ids.ModeSelf}
	require.False(t, SatisfiesSelf(h, snap, 2))

	h.Cid = 2
	require.True(t, SatisfiesSelf(h, snap, 2))
}

func TestResolveHintsSetsCommittedBit(t *testing.T) {
	h := header(2, 0)
	dirty := ResolveHints(h, fakeResolver{2: true})
	require.True(t, dirty)
	require.True(t, h.XminCommitted())
}

func TestResolveHintsNoOpWhenAlreadySet(t *testing.T) {
	h := header(2, 0)
	h.SetXminCommitted(true)
	dirty := ResolveHints(h, fakeResolver{2: true})
	require.False(t, dirty)
}
