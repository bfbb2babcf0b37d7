// Package heap implements the insert/update/delete/get/scan/vacuum
// operations that coordinate pages, tuples, the transaction manager, and
// visibility predicates — the component SPEC_FULL.md §4.6 describes.
//
// Grounded on original_source/src/heap.rs (HeapRelation, HeapEngine),
// translated from two-pass ctid patching through to vacuum, with the
// vacuum eligibility Open Question resolved per SPEC_FULL.md §9 (gated on
// "deleter committed and t_xmax < globalXmin" rather than the reference's
// unsafe "any non-invalid xmax").
//
// Relation carries five optional collaborators (Wal, Fsm, Vm, Toast,
// Index) that every mutating method consults when set and otherwise skips
// entirely, so a bare New(rel, tm, nil) keeps behaving exactly as before:
// a durability log, a free-space map, a visibility map, out-of-line TOAST
// storage, and a secondary byte-key index, each wired in lockstep with
// the page writes that would otherwise leave them stale.
package heap

import (
	"go.uber.org/zap"

	"github.com/Chocapikk/heapengine/btreeindex"
	"github.com/Chocapikk/heapengine/codec"
	"github.com/Chocapikk/heapengine/fsm"
	"github.com/Chocapikk/heapengine/heaperrors"
	"github.com/Chocapikk/heapengine/ids"
	"github.com/Chocapikk/heapengine/page"
	"github.com/Chocapikk/heapengine/relation"
	"github.com/Chocapikk/heapengine/toast"
	"github.com/Chocapikk/heapengine/tuple"
	"github.com/Chocapikk/heapengine/txn"
	"github.com/Chocapikk/heapengine/visibility"
	"github.com/Chocapikk/heapengine/vismap"
	"github.com/Chocapikk/heapengine/wal"
)

// Row is one visible (ctid, tuple) pair returned by Scan.
type Row struct {
	Ctid  ids.ItemPointer
	Tuple *tuple.Tuple
}

// Relation coordinates a relation.Relation's pages with a shared
// transaction manager to implement MVCC heap operations. Wal, Fsm, Vm,
// Toast, and Index are optional collaborators; nil means "not in use".
type Relation struct {
	Rel *relation.Relation
	Tm  *txn.Manager

	Wal   *wal.WAL
	Fsm   *fsm.Map
	Vm    *vismap.Map
	Toast *toast.Table
	Index *btreeindex.Index

	log *zap.Logger
}

// New wraps rel with tm for heap-level operations. log may be nil.
func New(rel *relation.Relation, tm *txn.Manager, log *zap.Logger) *Relation {
	if log == nil {
		log = zap.NewNop()
	}
	return &Relation{Rel: rel, Tm: tm, log: log}
}

// WithWAL attaches w so every mutating operation appends a durability
// record before its page write lands, and returns h for chaining.
func (h *Relation) WithWAL(w *wal.WAL) *Relation {
	h.Wal = w
	return h
}

// WithFSM attaches m as the free-space map findInsertSlot consults and
// every page write updates, and returns h for chaining.
func (h *Relation) WithFSM(m *fsm.Map) *Relation {
	h.Fsm = m
	return h
}

// WithVisibilityMap attaches vm as the visibility map writes clear and
// Vacuum maintains, and returns h for chaining.
func (h *Relation) WithVisibilityMap(vm *vismap.Map) *Relation {
	h.Vm = vm
	return h
}

// WithToast attaches t so InsertRow automatically offloads varlena
// values over toast.Threshold, and returns h for chaining.
func (h *Relation) WithToast(t *toast.Table) *Relation {
	h.Toast = t
	return h
}

// WithIndex attaches idx as a secondary byte-key index maintained in
// lockstep with Insert/InsertRow/Update/Delete, and returns h for
// chaining.
func (h *Relation) WithIndex(idx *btreeindex.Index) *Relation {
	h.Index = idx
	return h
}

func (h *Relation) readPage(block ids.BlockNumber) (*page.Page, error) {
	buf, err := h.Rel.ReadPage(block)
	if err != nil {
		return nil, err
	}
	return page.Deserialize(buf, h.Rel.PageSize())
}

// writePage persists p and, when configured, keeps the free-space map and
// visibility map current: Fsm.Update records post-write free bytes, and
// Vm.SetPageDirty clears the block's all-visible bit, since any write can
// introduce a tuple no snapshot but the writer can see yet.
func (h *Relation) writePage(block ids.BlockNumber, p *page.Page) error {
	if err := h.Rel.WritePage(block, p.Serialize(false)); err != nil {
		return err
	}
	if h.Fsm != nil {
		h.Fsm.Update(block, p.FreeSpace())
	}
	if h.Vm != nil {
		h.Vm.SetPageDirty(block)
	}
	return nil
}

// logPageWrite appends a WAL record ahead of p's write and stamps p's
// header LSN from it, honoring the "append before acknowledging"
// durability contract SPEC_FULL.md §6 documents. A no-op when h.Wal is
// nil.
func (h *Relation) logPageWrite(p *page.Page, t wal.RecordType, xid ids.TransactionId, block ids.BlockNumber, payload []byte) error {
	if h.Wal == nil {
		return nil
	}
	lsn, err := h.Wal.Append(t, xid, block, payload)
	if err != nil {
		return err
	}
	p.Header.LSN = lsn
	return nil
}

// findInsertSlot locates a page with at least needed free bytes,
// allocating a fresh block when no existing page has room. When an Fsm
// is configured it is tried first as a fast path; a stale or missing
// entry falls through to the linear scan rather than failing.
func (h *Relation) findInsertSlot(needed int) (ids.BlockNumber, *page.Page, error) {
	if h.Fsm != nil {
		if block, ok := h.Fsm.FindPageWithSpace(uint16(needed)); ok {
			candidate, err := h.readPage(block)
			if err != nil {
				return 0, nil, err
			}
			if candidate.FreeSpace() >= needed {
				return block, candidate, nil
			}
		}
	}

	count := h.Rel.PageCount()
	for b := ids.BlockNumber(0); b < count; b++ {
		candidate, err := h.readPage(b)
		if err != nil {
			return 0, nil, err
		}
		if candidate.FreeSpace() >= needed {
			return b, candidate, nil
		}
	}

	block, err := h.Rel.AllocatePage()
	if err != nil {
		return 0, nil, err
	}
	return block, page.New(h.Rel.PageSize()), nil
}

// placeTuple writes tup onto a page with room for it, patches its
// self-pointer, logs recType to the WAL, and persists the page, returning
// the assigned ctid.
func (h *Relation) placeTuple(tup *tuple.Tuple, recType wal.RecordType) (ids.ItemPointer, error) {
	needed := tup.Size() + page.ItemIdSize
	target, p, err := h.findInsertSlot(needed)
	if err != nil {
		return ids.InvalidItemPointer, err
	}

	offset, err := p.AddItem(tup.Serialize())
	if err != nil {
		return ids.InvalidItemPointer, err
	}

	ctid := ids.ItemPointer{Block: target, Offset: offset}
	if err := patchCtid(p, offset, ctid); err != nil {
		return ids.InvalidItemPointer, err
	}

	if err := h.logPageWrite(p, recType, tup.Header.Xmin, target, tup.Serialize()); err != nil {
		return ids.InvalidItemPointer, err
	}
	if err := h.writePage(target, p); err != nil {
		return ids.InvalidItemPointer, err
	}
	h.log.Debug("inserted tuple", zap.Uint32("block", uint32(target)), zap.Uint16("offset", uint16(offset)))
	return ctid, nil
}

// Insert appends a new tuple owned by xid/cid, returning its ctid.
func (h *Relation) Insert(xid ids.TransactionId, cid ids.CommandId, data []byte) (ids.ItemPointer, error) {
	tup := tuple.New(xid, cid, h.Rel.Natts, data)
	ctid, err := h.placeTuple(tup, wal.HeapInsert)
	if err != nil {
		return ids.InvalidItemPointer, err
	}
	if h.Index != nil {
		h.Index.Insert(data, ctid)
	}
	return ctid, nil
}

// toastOut replaces any varlena value over toast.Threshold bytes with an
// External pointer into h.Toast, leaving values at or under the
// threshold, null values, and already-external values untouched. A no-op
// when h.Toast is nil.
func (h *Relation) toastOut(schema codec.Schema, values codec.Row) (codec.Row, error) {
	if h.Toast == nil {
		return values, nil
	}
	out := make(codec.Row, len(values))
	copy(out, values)

	for i, attr := range schema {
		if attr.Len != codec.Varlena || out[i].Null || out[i].External {
			continue
		}
		if len(out[i].Bytes) <= toast.Threshold {
			continue
		}
		ptr, err := h.Toast.Store(out[i].Bytes)
		if err != nil {
			return nil, err
		}
		out[i] = codec.Value{Bytes: ptr.Serialize(), External: true, Compressed: ptr.Compressed}
	}
	return out, nil
}

// InsertRow encodes values against schema with the codec package and
// inserts the result, setting the tuple's null bitmap for any attribute
// left Null and the HasVarlena hint when schema carries a varlena
// attribute. Oversized varlena values are transparently moved out of line
// through h.Toast first, when one is configured.
func (h *Relation) InsertRow(xid ids.TransactionId, cid ids.CommandId, schema codec.Schema, values codec.Row) (ids.ItemPointer, error) {
	values, err := h.toastOut(schema, values)
	if err != nil {
		return ids.InvalidItemPointer, err
	}

	data, nulls, hasVarlena, err := codec.Encode(schema, values)
	if err != nil {
		return ids.InvalidItemPointer, err
	}

	anyNull := false
	for _, n := range nulls {
		if n {
			anyNull = true
			break
		}
	}

	var tup *tuple.Tuple
	if anyNull {
		tup = tuple.NewWithNulls(xid, cid, h.Rel.Natts, data)
		for i, n := range nulls {
			if n {
				tup.SetNull(i, true)
			}
		}
	} else {
		tup = tuple.New(xid, cid, h.Rel.Natts, data)
	}
	if hasVarlena {
		tup.Header.Infomask |= tuple.HasVarlena
	}

	ctid, err := h.placeTuple(tup, wal.HeapInsert)
	if err != nil {
		return ids.InvalidItemPointer, err
	}
	if h.Index != nil {
		h.Index.Insert(data, ctid)
	}
	return ctid, nil
}

// patchCtid overwrites only the 6 ctid bytes (block u32 + offset u16) of
// an already-stored tuple image in place, the two-pass strategy
// SPEC_FULL.md §9 calls for: the slot offset isn't known until AddItem
// returns, so the self-pointer is patched after the fact.
func patchCtid(p *page.Page, offset ids.OffsetNumber, ctid ids.ItemPointer) error {
	body, ok := p.GetItemMut(offset)
	if !ok {
		return heaperrors.ErrInvalidTuple
	}
	putCtid(body, ctid)
	return nil
}

func putCtid(body []byte, ctid ids.ItemPointer) {
	body[12] = byte(ctid.Block)
	body[13] = byte(ctid.Block >> 8)
	body[14] = byte(ctid.Block >> 16)
	body[15] = byte(ctid.Block >> 24)
	body[16] = byte(ctid.Offset)
	body[17] = byte(ctid.Offset >> 8)
}

// Get performs a raw page read and tuple decode with no visibility check.
func (h *Relation) Get(ctid ids.ItemPointer) (*tuple.Tuple, bool, error) {
	p, err := h.readPage(ctid.Block)
	if err != nil {
		return nil, false, err
	}
	body, ok := p.GetItem(ctid.Offset)
	if !ok {
		return nil, false, nil
	}
	tup, err := tuple.Deserialize(body, h.Rel.Natts)
	if err != nil {
		return nil, false, err
	}
	return tup, true, nil
}

// GetRow performs a raw Get followed by a codec.Decode against schema,
// returning ok=false (not an error) when the slot is empty. Any attribute
// codec.Decode reports as External is resolved transparently back to its
// real bytes through h.Toast, when one is configured.
func (h *Relation) GetRow(ctid ids.ItemPointer, schema codec.Schema) (codec.Row, bool, error) {
	tup, ok, err := h.Get(ctid)
	if err != nil || !ok {
		return nil, ok, err
	}

	nulls := make([]bool, h.Rel.Natts)
	for i := 0; i < h.Rel.Natts; i++ {
		nulls[i] = tup.IsNull(i)
	}
	row, err := codec.Decode(schema, tup.Data, nulls)
	if err != nil {
		return nil, true, err
	}

	if h.Toast != nil {
		for i, v := range row {
			if !v.External {
				continue
			}
			ptr, err := toast.DeserializePointer(v.Bytes)
			if err != nil {
				return nil, true, err
			}
			data, err := h.Toast.Fetch(ptr)
			if err != nil {
				return nil, true, err
			}
			row[i] = codec.Value{Bytes: data}
		}
	}
	return row, true, nil
}

// Update inserts newData as a new tuple version and retires old_ctid in
// place. Returns ok=false (not an error) when old_ctid is already
// obsoleted by a concurrent writer.
func (h *Relation) Update(xid ids.TransactionId, cid ids.CommandId, oldCtid ids.ItemPointer, newData []byte) (ids.ItemPointer, bool, error) {
	oldPage, err := h.readPage(oldCtid.Block)
	if err != nil {
		return ids.InvalidItemPointer, false, err
	}
	oldBody, ok := oldPage.GetItem(oldCtid.Offset)
	if !ok {
		return ids.InvalidItemPointer, false, heaperrors.ErrInvalidTuple
	}
	oldTup, err := tuple.Deserialize(oldBody, h.Rel.Natts)
	if err != nil {
		return ids.InvalidItemPointer, false, err
	}
	if oldTup.Header.Xmax.IsValid() {
		return ids.InvalidItemPointer, false, nil
	}

	newTup := tuple.New(xid, cid, h.Rel.Natts, newData)
	newCtid, err := h.placeTuple(newTup, wal.HeapUpdate)
	if err != nil {
		return ids.InvalidItemPointer, false, err
	}

	// re-read: placeTuple may have allocated a new page or reused
	// oldPage's block, so refresh the old page image before patching it.
	oldPage, err = h.readPage(oldCtid.Block)
	if err != nil {
		return ids.InvalidItemPointer, false, err
	}
	mut, ok := oldPage.GetItemMut(oldCtid.Offset)
	if !ok {
		return ids.InvalidItemPointer, false, heaperrors.ErrInvalidTuple
	}
	oldTup.Header.Xmax = xid
	oldTup.Header.Cid = cid
	oldTup.Header.Ctid = newCtid
	copy(mut, oldTup.Serialize())

	if err := h.logPageWrite(oldPage, wal.HeapUpdate, xid, oldCtid.Block, oldTup.Serialize()); err != nil {
		return ids.InvalidItemPointer, false, err
	}
	if err := h.writePage(oldCtid.Block, oldPage); err != nil {
		return ids.InvalidItemPointer, false, err
	}

	if h.Index != nil {
		h.Index.DeleteCtid(oldTup.Data, oldCtid)
		h.Index.Insert(newData, newCtid)
	}
	return newCtid, true, nil
}

// Delete sets t_xmax in place. Returns false (not an error) if the tuple
// was already obsoleted.
func (h *Relation) Delete(xid ids.TransactionId, cid ids.CommandId, ctid ids.ItemPointer) (bool, error) {
	p, err := h.readPage(ctid.Block)
	if err != nil {
		return false, err
	}
	body, ok := p.GetItem(ctid.Offset)
	if !ok {
		return false, heaperrors.ErrInvalidTuple
	}
	tup, err := tuple.Deserialize(body, h.Rel.Natts)
	if err != nil {
		return false, err
	}
	if tup.Header.Xmax.IsValid() {
		return false, nil
	}

	mut, _ := p.GetItemMut(ctid.Offset)
	tup.Header.Xmax = xid
	tup.Header.Cid = cid
	copy(mut, tup.Serialize())

	if err := h.logPageWrite(p, wal.HeapDelete, xid, ctid.Block, tup.Serialize()); err != nil {
		return false, err
	}
	if err := h.writePage(ctid.Block, p); err != nil {
		return false, err
	}

	if h.Index != nil {
		h.Index.DeleteCtid(tup.Data, ctid)
	}
	return true, nil
}

// Scan walks every block and item, applying the snapshot's visibility
// predicate, opportunistically resolving and persisting hint bits along
// the way.
func (h *Relation) Scan(snap txn.Snapshot, curXid ids.TransactionId) ([]Row, error) {
	var rows []Row
	count := h.Rel.PageCount()

	for b := ids.BlockNumber(0); b < count; b++ {
		p, err := h.readPage(b)
		if err != nil {
			return nil, err
		}
		dirty := false

		for i := 1; i <= p.ItemCount(); i++ {
			offset := ids.OffsetNumber(i)
			body, ok := p.GetItem(offset)
			if !ok {
				continue
			}
			tup, err := tuple.Deserialize(body, h.Rel.Natts)
			if err != nil {
				continue
			}

			if visibility.ResolveHints(&tup.Header, h.Tm) {
				mut, _ := p.GetItemMut(offset)
				copy(mut, tup.Serialize())
				dirty = true
			}

			if visibility.Satisfies(&tup.Header, snap, curXid, h.Tm) {
				rows = append(rows, Row{Ctid: ids.ItemPointer{Block: b, Offset: offset}, Tuple: tup})
			}
		}

		if dirty {
			if err := h.writePage(b, p); err != nil {
				return nil, err
			}
		}
	}
	return rows, nil
}

// ScanDead returns tuples whose deleting transaction is committed but the
// tuple has not yet been vacuumed — grounded on the teacher's
// ReadDeletedRows/ScanAllDeletedRows (pgdump/deleted.go), generalized from
// a read-only forensic helper into a live diagnostic over this engine's
// own tuples.
func (h *Relation) ScanDead() ([]Row, error) {
	var rows []Row
	count := h.Rel.PageCount()

	for b := ids.BlockNumber(0); b < count; b++ {
		p, err := h.readPage(b)
		if err != nil {
			return nil, err
		}
		for i := 1; i <= p.ItemCount(); i++ {
			offset := ids.OffsetNumber(i)
			body, ok := p.GetItem(offset)
			if !ok {
				continue
			}
			tup, err := tuple.Deserialize(body, h.Rel.Natts)
			if err != nil {
				continue
			}
			if !tup.Header.Xmax.IsValid() {
				continue
			}
			committed := tup.Header.XmaxCommitted() || (!tup.Header.XmaxInvalid() && h.Tm.IsCommitted(tup.Header.Xmax))
			if committed && !tup.Header.XmaxInvalid() {
				rows = append(rows, Row{Ctid: ids.ItemPointer{Block: b, Offset: offset}, Tuple: tup})
			}
		}
	}
	return rows, nil
}

// Vacuum removes tuples whose deleting transaction is committed and whose
// t_xmax predates globalXmin, the safety gate SPEC_FULL.md §9 requires in
// place of the reference's unconditional removal. When h.Vm is
// configured, a block already marked all-visible is skipped outright
// (nothing on it can need reclaiming), and every scanned block's
// all-visible bit is recomputed from the tuples it ends up holding.
func (h *Relation) Vacuum(globalXmin ids.TransactionId) (int, error) {
	removed := 0
	count := h.Rel.PageCount()

	for b := ids.BlockNumber(0); b < count; b++ {
		if h.Vm != nil && h.Vm.IsAllVisible(b) {
			continue
		}

		p, err := h.readPage(b)
		if err != nil {
			return removed, err
		}
		dirty := false
		allVisible := true

		for i := 1; i <= p.ItemCount(); i++ {
			offset := ids.OffsetNumber(i)
			body, ok := p.GetItem(offset)
			if !ok {
				continue
			}
			tup, err := tuple.Deserialize(body, h.Rel.Natts)
			if err != nil {
				continue
			}

			if !tup.Header.Xmax.IsValid() {
				if !h.Tm.IsCommitted(tup.Header.Xmin) {
					allVisible = false
				}
				continue
			}
			if tup.Header.Xmax >= globalXmin || !h.Tm.IsCommitted(tup.Header.Xmax) {
				allVisible = false
				continue
			}

			p.RemoveItem(offset)
			dirty = true
			removed++
		}

		if dirty {
			if err := h.logPageWrite(p, wal.HeapVacuum, globalXmin, b, nil); err != nil {
				return removed, err
			}
			if err := h.writePage(b, p); err != nil {
				return removed, err
			}
			h.log.Debug("vacuumed page", zap.Uint32("block", uint32(b)))
		}

		if h.Vm != nil {
			h.Vm.SetAllVisible(b, allVisible)
		}
	}
	return removed, nil
}
