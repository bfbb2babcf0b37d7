package heap

import (
	"github.com/Chocapikk/heapengine/heaperrors"
	"github.com/Chocapikk/heapengine/ids"
	"github.com/Chocapikk/heapengine/txn"
)

// Engine wraps a Relation with one active transaction at a time, mirroring
// original_source/src/heap.rs's HeapEngine. Go's lack of a Drop hook means
// the auto-abort-on-drop safety net from the reference has no direct
// translation; Close aborts any transaction still open instead (see
// SPEC_FULL.md §4.4).
type Engine struct {
	*Relation
	current *txn.Transaction
}

// NewEngine wraps rel for single-active-transaction use.
func NewEngine(rel *Relation) *Engine {
	return &Engine{Relation: rel}
}

// Begin starts a new transaction, replacing any previous one that was
// already committed or aborted. Starting a new transaction while one is
// still open is an API misuse error.
func (e *Engine) Begin() (*txn.Transaction, error) {
	if e.current != nil && !e.current.Done() {
		return nil, heaperrors.ErrInvalidTransaction
	}
	e.current = txn.Begin(e.Tm)
	return e.current, nil
}

func (e *Engine) requireTx() (*txn.Transaction, error) {
	if e.current == nil {
		return nil, heaperrors.ErrInvalidTransaction
	}
	if err := e.current.RequireActive(); err != nil {
		return nil, err
	}
	return e.current, nil
}

func (e *Engine) Commit() error {
	tx, err := e.requireTx()
	if err != nil {
		return err
	}
	tx.Commit()
	return nil
}

func (e *Engine) Abort() error {
	tx, err := e.requireTx()
	if err != nil {
		return err
	}
	tx.Abort()
	return nil
}

func (e *Engine) Insert(data []byte) (ids.ItemPointer, error) {
	tx, err := e.requireTx()
	if err != nil {
		return ids.InvalidItemPointer, err
	}
	return e.Relation.Insert(tx.Xid, tx.Cid, data)
}

func (e *Engine) Update(ctid ids.ItemPointer, data []byte) (ids.ItemPointer, bool, error) {
	tx, err := e.requireTx()
	if err != nil {
		return ids.InvalidItemPointer, false, err
	}
	return e.Relation.Update(tx.Xid, tx.Cid, ctid, data)
}

func (e *Engine) Delete(ctid ids.ItemPointer) (bool, error) {
	tx, err := e.requireTx()
	if err != nil {
		return false, err
	}
	return e.Relation.Delete(tx.Xid, tx.Cid, ctid)
}

// Scan builds a snapshot from the current transaction (or, if none is
// open, a fresh snapshot with FirstNormalTransactionId standing in as the
// current xid, so tuples stamped with xid 2 are judged by the
// own-transaction rules) and scans under MVCC.
func (e *Engine) Scan() ([]Row, error) {
	curXid := ids.FirstNormalTransactionId
	var snap txn.Snapshot
	if e.current != nil && !e.current.Done() {
		curXid = e.current.Xid
		snap = e.current.Snapshot()
	} else {
		snap = e.Tm.GetSnapshot(e.Tm.GetCID())
	}
	return e.Relation.Scan(snap, curXid)
}

// Vacuum reclaims tuples deleted by committed transactions older than the
// transaction manager's current global xmin.
func (e *Engine) Vacuum() (int, error) {
	return e.Relation.Vacuum(e.Tm.GlobalXmin())
}

// Close aborts any transaction left open, then closes the underlying
// relation — the closest Go equivalent to the reference's Drop-based
// auto-abort.
func (e *Engine) Close() error {
	if e.current != nil && !e.current.Done() {
		e.current.Abort()
	}
	return e.Rel.Close()
}
