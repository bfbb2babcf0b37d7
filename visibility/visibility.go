// Package visibility implements the four visibility predicates over
// (tuple, snapshot, current xid), grounded branch-for-branch on
// original_source/src/visibility.rs (heap_tuple_satisfies_mvcc/self/any/
// stable) and SPEC_FULL.md §4.5.
package visibility

import (
	"github.com/Chocapikk/heapengine/ids"
	"github.com/Chocapikk/heapengine/tuple"
	"github.com/Chocapikk/heapengine/txn"
)

// CommitResolver answers "is this xid committed" for tuples whose hint
// bits are not yet set — the heap package supplies one backed by its
// *txn.Manager.
type CommitResolver interface {
	IsCommitted(xid ids.TransactionId) bool
}

// Satisfies dispatches on snap.Mode to the matching predicate.
func Satisfies(h *tuple.Header, snap txn.Snapshot, curXid ids.TransactionId, tm CommitResolver) bool {
	switch snap.Mode {
	case ids.ModeSelf:
		return SatisfiesSelf(h, snap, curXid)
	case ids.ModeAny:
		return SatisfiesAny(h, tm)
	case ids.ModeStable:
		return satisfiesMVCC(h, snap, curXid, tm, false)
	default:
		return satisfiesMVCC(h, snap, curXid, tm, true)
	}
}

// SatisfiesMVCC is the primary mode: creation test AND obsolescence test.
func SatisfiesMVCC(h *tuple.Header, snap txn.Snapshot, curXid ids.TransactionId, tm CommitResolver) bool {
	return satisfiesMVCC(h, snap, curXid, tm, true)
}

// SatisfiesStable is MVCC without the "xmin == curXid" self-visibility
// shortcut, used for repeatable-read within a stable snapshot.
func SatisfiesStable(h *tuple.Header, snap txn.Snapshot, curXid ids.TransactionId, tm CommitResolver) bool {
	return satisfiesMVCC(h, snap, curXid, tm, false)
}

func satisfiesMVCC(h *tuple.Header, snap txn.Snapshot, curXid ids.TransactionId, tm CommitResolver, selfShortcut bool) bool {
	return creationTest(h, snap, curXid, tm, selfShortcut) && obsolescenceTest(h, snap, curXid, tm)
}

func creationTest(h *tuple.Header, snap txn.Snapshot, curXid ids.TransactionId, tm CommitResolver, selfShortcut bool) bool {
	xmin := h.Xmin

	if selfShortcut && xmin == curXid {
		return true
	}

	switch {
	case xmin >= snap.Xmin && xmin < snap.Xmax:
		switch {
		case h.XminCommitted():
			return true
		case h.XminInvalid():
			return false
		case snap.Contains(xmin):
			return false
		default:
			return true
		}
	case xmin < snap.Xmin:
		if h.XminInvalid() {
			return false
		}
		return true
	default: // xmin >= snap.Xmax
		return false
	}
}

func obsolescenceTest(h *tuple.Header, snap txn.Snapshot, curXid ids.TransactionId, tm CommitResolver) bool {
	xmax := h.Xmax

	switch {
	case xmax == ids.InvalidTransactionId:
		return true
	case xmax == curXid:
		return h.XmaxIsLockedOnly()
	case xmax >= snap.Xmax:
		return true
	case xmax < snap.Xmin:
		switch {
		case h.XmaxCommitted():
			return false
		case h.XmaxInvalid():
			return true
		default:
			return false
		}
	default: // within the snapshot's in-flight range
		switch {
		case h.XmaxCommitted():
			return false
		case h.XmaxInvalid() || h.XmaxIsLockedOnly():
			return true
		default:
			return false
		}
	}
}

// SatisfiesSelf implements same-transaction visibility: the current
// transaction sees its own earlier commands, hidden once cid exceeds the
// snapshot's curcid.
func SatisfiesSelf(h *tuple.Header, snap txn.Snapshot, curXid ids.TransactionId) bool {
	if h.Xmin == curXid {
		if uint32(h.Cid) > uint32(snap.CurCID) {
			return false // not yet seen by this command
		}
	} else if !h.XminCommitted() {
		return false
	} else if h.XminInvalid() {
		return false
	}

	if h.Xmax == ids.InvalidTransactionId {
		return true
	}
	if h.Xmax == curXid {
		return h.XmaxIsLockedOnly()
	}
	if !h.XmaxCommitted() {
		return true
	}
	return h.XmaxInvalid()
}

// SatisfiesAny is visible unless xmax is committed (dead).
func SatisfiesAny(h *tuple.Header, tm CommitResolver) bool {
	if h.Xmax == ids.InvalidTransactionId {
		return true
	}
	if h.XmaxCommitted() {
		return false
	}
	if h.XmaxInvalid() {
		return true
	}
	if tm != nil {
		return !tm.IsCommitted(h.Xmax)
	}
	return true
}

// ResolveHints opportunistically sets hint bits on h after consulting tm
// for xmin/xmax commit status. Returns true if h was modified (caller
// should mark the owning page dirty).
func ResolveHints(h *tuple.Header, tm CommitResolver) bool {
	dirty := false

	if !h.XminCommitted() && !h.XminInvalid() && h.Xmin.IsValid() && !h.Xmin.IsBootstrap() {
		if tm.IsCommitted(h.Xmin) {
			h.SetXminCommitted(true)
			dirty = true
		}
	}

	if h.Xmax.IsValid() && !h.XmaxCommitted() && !h.XmaxInvalid() && !h.XmaxIsLockedOnly() {
		if tm.IsCommitted(h.Xmax) {
			h.SetXmaxCommitted(true)
			dirty = true
		}
	}

	return dirty
}
