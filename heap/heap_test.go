package heap

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Chocapikk/heapengine/btreeindex"
	"github.com/Chocapikk/heapengine/codec"
	"github.com/Chocapikk/heapengine/fsm"
	"github.com/Chocapikk/heapengine/ids"
	"github.com/Chocapikk/heapengine/relation"
	"github.com/Chocapikk/heapengine/storage"
	"github.com/Chocapikk/heapengine/toast"
	"github.com/Chocapikk/heapengine/txn"
	"github.com/Chocapikk/heapengine/vismap"
	"github.com/Chocapikk/heapengine/wal"
)

func newTestRelation(t *testing.T, natts int) *Relation {
	t.Helper()
	dir := t.TempDir()
	pager, err := storage.OpenDir(dir, 8192, nil)
	require.NoError(t, err)
	rel := relation.Open(natts, pager)
	tm := txn.NewManager()
	return New(rel, tm, nil)
}

// S1. Insert/get round-trip.
func TestScenarioInsertGetRoundTrip(t *testing.T) {
	h := newTestRelation(t, 2)
	tx := txn.Begin(h.Tm)

	ctid, err := h.Insert(tx.Xid, tx.Cid, []byte("hello"))
	require.NoError(t, err)
	require.Equal(t, ids.ItemPointer{Block: 0, Offset: 1}, ctid)

	tup, ok, err := h.Get(ctid)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, ids.TransactionId(2), tup.Header.Xmin)
	require.Equal(t, ids.InvalidTransactionId, tup.Header.Xmax)
	require.Equal(t, "hello", string(tup.Data))
}

// S2. Scan sees own write.
func TestScenarioScanSeesOwnWrite(t *testing.T) {
	h := newTestRelation(t, 2)
	tx := txn.Begin(h.Tm)
	ctid, err := h.Insert(tx.Xid, tx.Cid, []byte("hello"))
	require.NoError(t, err)

	rows, err := h.Scan(tx.Snapshot(), tx.Xid)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, ctid, rows[0].Ctid)
	require.Equal(t, "hello", string(rows[0].Tuple.Data))
}

// S3. Other transaction isolation.
func TestScenarioCrossTransactionIsolation(t *testing.T) {
	h := newTestRelation(t, 2)
	t1 := txn.Begin(h.Tm)
	_, err := h.Insert(t1.Xid, t1.Cid, []byte("hello"))
	require.NoError(t, err)

	t2 := txn.Begin(h.Tm)
	snap2 := t2.Snapshot()
	require.Equal(t, ids.TransactionId(2), snap2.Xmin)
	require.Equal(t, ids.TransactionId(3), snap2.Xmax)
	require.Equal(t, []ids.TransactionId{2}, snap2.Xip)

	rows, err := h.Scan(snap2, t2.Xid)
	require.NoError(t, err)
	require.Empty(t, rows)

	t1.Commit()

	t3 := txn.Begin(h.Tm)
	snap3 := t3.Snapshot()
	require.Equal(t, ids.TransactionId(3), snap3.Xmin)
	require.Equal(t, ids.TransactionId(4), snap3.Xmax)
	require.Empty(t, snap3.Xip)

	rows, err = h.Scan(snap3, t3.Xid)
	require.NoError(t, err)
	require.Len(t, rows, 1)
}

// S4. Update chain.
func TestScenarioUpdateChain(t *testing.T) {
	h := newTestRelation(t, 1)
	tx := txn.Begin(h.Tm)

	ctid0, err := h.Insert(tx.Xid, tx.Cid, []byte("a"))
	require.NoError(t, err)

	ctid1, ok, err := h.Update(tx.Xid, tx.Cid, ctid0, []byte("b"))
	require.NoError(t, err)
	require.True(t, ok)

	old, ok, err := h.Get(ctid0)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, tx.Xid, old.Header.Xmax)
	require.Equal(t, ctid1, old.Header.Ctid)

	newer, ok, err := h.Get(ctid1)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, tx.Xid, newer.Header.Xmin)
	require.Equal(t, ids.InvalidTransactionId, newer.Header.Xmax)
	require.Equal(t, "b", string(newer.Data))
}

func TestUpdateFailsOnAlreadyObsoleteTuple(t *testing.T) {
	h := newTestRelation(t, 1)
	tx := txn.Begin(h.Tm)
	ctid, err := h.Insert(tx.Xid, tx.Cid, []byte("a"))
	require.NoError(t, err)

	ok, err := h.Delete(tx.Xid, tx.Cid, ctid)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = h.Update(tx.Xid, tx.Cid, ctid, []byte("b"))
	require.NoError(t, err)
	require.False(t, ok, "update must refuse an already-obsoleted tuple")
}

// S5. Delete idempotence.
func TestScenarioDeleteIdempotence(t *testing.T) {
	h := newTestRelation(t, 1)
	tx := txn.Begin(h.Tm)
	ctid, err := h.Insert(tx.Xid, tx.Cid, []byte("x"))
	require.NoError(t, err)

	ok, err := h.Delete(tx.Xid, tx.Cid, ctid)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = h.Delete(tx.Xid, tx.Cid, ctid)
	require.NoError(t, err)
	require.False(t, ok)

	tup, ok, err := h.Get(ctid)
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, tup.Header.Xmax.IsValid())
}

// S6. Vacuum reclaims committed deletes.
func TestScenarioVacuumReclaimsCommittedDeletes(t *testing.T) {
	h := newTestRelation(t, 1)
	tx := txn.Begin(h.Tm)

	for i := 0; i < 10; i++ {
		ctid, err := h.Insert(tx.Xid, tx.Cid, []byte{byte(i)})
		require.NoError(t, err)
		ok, err := h.Delete(tx.Xid, tx.Cid, ctid)
		require.NoError(t, err)
		require.True(t, ok)
	}
	tx.Commit()

	// advance past any live snapshot: begin a fresh transaction so
	// nothing but it is in progress, and use its xid as the global xmin.
	observer := txn.Begin(h.Tm)

	removed, err := h.Vacuum(observer.Xid)
	require.NoError(t, err)
	require.Equal(t, 10, removed)

	rows, err := h.Scan(observer.Snapshot(), observer.Xid)
	require.NoError(t, err)
	require.Empty(t, rows)
}

func TestVacuumNeverRemovesLiveSnapshotTuple(t *testing.T) {
	h := newTestRelation(t, 1)
	tx := txn.Begin(h.Tm)
	ctid, err := h.Insert(tx.Xid, tx.Cid, []byte("a"))
	require.NoError(t, err)
	h.Delete(tx.Xid, tx.Cid, ctid)
	tx.Commit()

	// An observer whose xmin predates the delete must still see no
	// reclamation if vacuum is (incorrectly) called with too low a bound;
	// here we call with xmin equal to the deleter itself, so nothing
	// should be reclaimed since xmax is not strictly less than globalXmin.
	removed, err := h.Vacuum(tx.Xid)
	require.NoError(t, err)
	require.Equal(t, 0, removed)
}

func TestScenarioInsertRowGetRowRoundTrip(t *testing.T) {
	h := newTestRelation(t, 2)
	tx := txn.Begin(h.Tm)

	schema := codec.Schema{
		{Name: "id", Len: 4},
		{Name: "label", Len: codec.Varlena},
	}
	ctid, err := h.InsertRow(tx.Xid, tx.Cid, schema, codec.Row{
		{Bytes: []byte{7, 0, 0, 0}},
		{Bytes: []byte("widget")},
	})
	require.NoError(t, err)

	row, ok, err := h.GetRow(ctid, schema)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte{7, 0, 0, 0}, row[0].Bytes)
	require.Equal(t, "widget", string(row[1].Bytes))
}

func TestScenarioInsertRowPreservesNullAttribute(t *testing.T) {
	h := newTestRelation(t, 2)
	tx := txn.Begin(h.Tm)

	schema := codec.Schema{
		{Name: "id", Len: 4},
		{Name: "label", Len: codec.Varlena},
	}
	ctid, err := h.InsertRow(tx.Xid, tx.Cid, schema, codec.Row{
		{Bytes: []byte{9, 0, 0, 0}},
		{Null: true},
	})
	require.NoError(t, err)

	row, ok, err := h.GetRow(ctid, schema)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte{9, 0, 0, 0}, row[0].Bytes)
	require.True(t, row[1].Null)
	require.Nil(t, row[1].Bytes)
}

func TestEngineLifecycle(t *testing.T) {
	h := newTestRelation(t, 1)
	e := NewEngine(h)

	_, err := e.Begin()
	require.NoError(t, err)

	ctid, err := e.Insert([]byte("test_data_1"))
	require.NoError(t, err)

	rows, err := e.Scan()
	require.NoError(t, err)
	require.Len(t, rows, 1)

	newCtid, ok, err := e.Update(ctid, []byte("updated_data"))
	require.NoError(t, err)
	require.True(t, ok)
	require.NotEqual(t, ctid, newCtid)

	ok, err = e.Delete(newCtid)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, e.Commit())
	require.NoError(t, e.Close())
}

func TestEngineBeginWhileActiveFails(t *testing.T) {
	h := newTestRelation(t, 1)
	e := NewEngine(h)
	_, err := e.Begin()
	require.NoError(t, err)
	_, err = e.Begin()
	require.Error(t, err)
}

// TestInsertAppendsWALRecordAndStampsPageLSN confirms the durability
// contract: Insert must append a WAL record before its page write
// "acknowledges", and the page's own LSN must reflect that record.
func TestInsertAppendsWALRecordAndStampsPageLSN(t *testing.T) {
	h := newTestRelation(t, 1)
	w, err := wal.Open(t.TempDir(), 0)
	require.NoError(t, err)
	h.WithWAL(w)

	tx := txn.Begin(h.Tm)
	ctid, err := h.Insert(tx.Xid, tx.Cid, []byte("hello"))
	require.NoError(t, err)

	require.NotZero(t, w.GetLSN())

	p, err := h.readPage(ctid.Block)
	require.NoError(t, err)
	require.Equal(t, w.GetLSN(), p.Header.LSN)
}

func TestUpdateAndDeleteAppendWALRecords(t *testing.T) {
	h := newTestRelation(t, 1)
	w, err := wal.Open(t.TempDir(), 0)
	require.NoError(t, err)
	h.WithWAL(w)

	tx := txn.Begin(h.Tm)
	ctid, err := h.Insert(tx.Xid, tx.Cid, []byte("a"))
	require.NoError(t, err)
	afterInsert := w.GetLSN()

	newCtid, ok, err := h.Update(tx.Xid, tx.Cid, ctid, []byte("b"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Greater(t, w.GetLSN(), afterInsert)

	ok, err = h.Delete(tx.Xid, tx.Cid, newCtid)
	require.NoError(t, err)
	require.True(t, ok)
	require.Greater(t, w.GetLSN(), afterInsert)
}

// TestFindInsertSlotUsesFSMFastPath confirms findInsertSlot consults the
// free-space map before falling back to a linear scan, and that every
// write keeps the map current.
func TestFindInsertSlotUsesFSMFastPath(t *testing.T) {
	h := newTestRelation(t, 1)
	m := fsm.New()
	h.WithFSM(m)

	tx := txn.Begin(h.Tm)
	ctid, err := h.Insert(tx.Xid, tx.Cid, []byte("x"))
	require.NoError(t, err)

	free := m.GetFreeSpace(ctid.Block)
	require.NotZero(t, free)

	block, ok := m.FindPageWithSpace(1)
	require.True(t, ok)
	require.Equal(t, ctid.Block, block)
}

// TestVismapClearedOnWriteAndSetByVacuum confirms the visibility map is
// cleared by any write and recomputed by Vacuum, and that Vacuum skips
// blocks it already knows are all-visible.
func TestVismapClearedOnWriteAndSetByVacuum(t *testing.T) {
	h := newTestRelation(t, 1)
	vm := vismap.New()
	h.WithVisibilityMap(vm)

	tx := txn.Begin(h.Tm)
	ctid, err := h.Insert(tx.Xid, tx.Cid, []byte("a"))
	require.NoError(t, err)
	require.False(t, vm.IsAllVisible(ctid.Block))

	tx.Commit()
	observer := txn.Begin(h.Tm)

	_, err = h.Vacuum(observer.Xid)
	require.NoError(t, err)
	require.True(t, vm.IsAllVisible(ctid.Block))

	// A second vacuum must skip the now-all-visible block entirely; the
	// tuple inserted above, untouched by any delete, must still be there.
	removed, err := h.Vacuum(observer.Xid)
	require.NoError(t, err)
	require.Zero(t, removed)

	tup, ok, err := h.Get(ctid)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "a", string(tup.Data))
}

// TestInsertRowToastsOversizedVarlenaValue confirms InsertRow offloads a
// varlena value over toast.Threshold bytes and GetRow transparently
// reassembles it.
func TestInsertRowToastsOversizedVarlenaValue(t *testing.T) {
	h := newTestRelation(t, 2)
	tbl, err := toast.New(7)
	require.NoError(t, err)
	h.WithToast(tbl)

	tx := txn.Begin(h.Tm)
	schema := codec.Schema{
		{Name: "id", Len: 4},
		{Name: "body", Len: codec.Varlena},
	}
	big := make([]byte, toast.Threshold+100)
	for i := range big {
		big[i] = byte(i)
	}

	ctid, err := h.InsertRow(tx.Xid, tx.Cid, schema, codec.Row{
		{Bytes: []byte{1, 0, 0, 0}},
		{Bytes: big},
	})
	require.NoError(t, err)

	row, ok, err := h.GetRow(ctid, schema)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, big, row[1].Bytes)

	// The stored tuple payload itself must be far smaller than the
	// original value, proving it was actually moved out of line.
	tup, ok, err := h.Get(ctid)
	require.NoError(t, err)
	require.True(t, ok)
	require.Less(t, len(tup.Data), len(big))
}

func TestInsertRowLeavesSmallVarlenaValueInline(t *testing.T) {
	h := newTestRelation(t, 2)
	tbl, err := toast.New(7)
	require.NoError(t, err)
	h.WithToast(tbl)

	tx := txn.Begin(h.Tm)
	schema := codec.Schema{
		{Name: "id", Len: 4},
		{Name: "body", Len: codec.Varlena},
	}
	ctid, err := h.InsertRow(tx.Xid, tx.Cid, schema, codec.Row{
		{Bytes: []byte{1, 0, 0, 0}},
		{Bytes: []byte("small")},
	})
	require.NoError(t, err)

	row, ok, err := h.GetRow(ctid, schema)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "small", string(row[1].Bytes))
	require.False(t, row[1].External)
}

// TestIndexMaintainedAcrossInsertUpdateDelete confirms a configured
// btreeindex.Index tracks every heap mutation in lockstep.
func TestIndexMaintainedAcrossInsertUpdateDelete(t *testing.T) {
	h := newTestRelation(t, 1)
	idx := btreeindex.New()
	h.WithIndex(idx)

	tx := txn.Begin(h.Tm)
	ctid, err := h.Insert(tx.Xid, tx.Cid, []byte("a"))
	require.NoError(t, err)
	require.Equal(t, []ids.ItemPointer{ctid}, idx.Search([]byte("a")))

	newCtid, ok, err := h.Update(tx.Xid, tx.Cid, ctid, []byte("b"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Empty(t, idx.Search([]byte("a")))
	require.Equal(t, []ids.ItemPointer{newCtid}, idx.Search([]byte("b")))

	ok, err = h.Delete(tx.Xid, tx.Cid, newCtid)
	require.NoError(t, err)
	require.True(t, ok)
	require.Empty(t, idx.Search([]byte("b")))
}
