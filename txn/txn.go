// Package txn implements the process-wide transaction table: xid/cid
// allocation, commit/abort bookkeeping, and atomic snapshot construction.
//
// Grounded on original_source/src/transaction.rs (TransactionManager,
// Transaction). Go has no destructor, so the Rust original's Drop-based
// auto-abort has no direct translation; see Transaction's Done/Commit/
// Abort below and SPEC_FULL.md §4.4 for the resolution this module uses
// instead.
package txn

import (
	"sync"

	"github.com/Chocapikk/heapengine/heaperrors"
	"github.com/Chocapikk/heapengine/ids"
)

// Snapshot is an immutable, point-in-time view of the transaction table.
type Snapshot struct {
	Xmin   ids.TransactionId
	Xmax   ids.TransactionId
	Xip    []ids.TransactionId
	CurCID ids.CommandId
	Mode   ids.VisibilityMode
}

// Contains reports whether xid was in-progress at snapshot capture time.
func (s Snapshot) Contains(xid ids.TransactionId) bool {
	for _, x := range s.Xip {
		if x == xid {
			return true
		}
	}
	return false
}

// Manager is the process-wide transaction table.
type Manager struct {
	mu         sync.RWMutex
	nextXid    ids.TransactionId
	nextCid    ids.CommandId
	committed  map[ids.TransactionId]bool // true = committed, false = aborted
	inProgress map[ids.TransactionId]struct{}
}

// NewManager constructs a transaction table starting at the first normal
// xid and command id, per SPEC_FULL.md §4.4.
func NewManager() *Manager {
	return &Manager{
		nextXid:    ids.FirstNormalTransactionId,
		nextCid:    ids.FirstCommandId,
		committed:  make(map[ids.TransactionId]bool),
		inProgress: make(map[ids.TransactionId]struct{}),
	}
}

// Begin allocates a new xid and marks it in-progress.
func (m *Manager) Begin() ids.TransactionId {
	m.mu.Lock()
	defer m.mu.Unlock()
	xid := m.nextXid
	m.nextXid++
	m.inProgress[xid] = struct{}{}
	return xid
}

// Commit records xid as committed and removes it from in-progress.
func (m *Manager) Commit(xid ids.TransactionId) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.committed[xid] = true
	delete(m.inProgress, xid)
}

// Abort records xid as aborted and removes it from in-progress.
func (m *Manager) Abort(xid ids.TransactionId) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.committed[xid] = false
	delete(m.inProgress, xid)
}

// GetCID allocates the next command id.
func (m *Manager) GetCID() ids.CommandId {
	m.mu.Lock()
	defer m.mu.Unlock()
	cid := m.nextCid
	m.nextCid++
	return cid
}

// IsCommitted reports commit status: xid 0 is always false, xid 1
// (bootstrap) is always true, otherwise the table is consulted (default
// false for unknown/never-seen xids).
func (m *Manager) IsCommitted(xid ids.TransactionId) bool {
	if xid == ids.InvalidTransactionId {
		return false
	}
	if xid.IsBootstrap() {
		return true
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.committed[xid]
}

// IsInProgress reports whether xid is currently live.
func (m *Manager) IsInProgress(xid ids.TransactionId) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.inProgress[xid]
	return ok
}

// CurrentXid returns the next xid that would be allocated.
func (m *Manager) CurrentXid() ids.TransactionId {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.nextXid
}

// GlobalXmin returns the minimum in-progress xid, or the next xid minus
// one if none are in progress — the bound vacuum must respect (SPEC_FULL.md §4.6
// Open Question resolution: "deleter committed and t_xmax < globalXmin").
func (m *Manager) GlobalXmin() ids.TransactionId {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.minInProgressLocked()
}

func (m *Manager) minInProgressLocked() ids.TransactionId {
	if len(m.inProgress) == 0 {
		return m.nextXid - 1
	}
	min := ids.TransactionId(^uint32(0))
	for x := range m.inProgress {
		if x < min {
			min = x
		}
	}
	return min
}

// GetSnapshot captures an MVCC snapshot atomically: xmin/xmax/xip must be
// observed together under one critical section (SPEC_FULL.md §5).
func (m *Manager) GetSnapshot(curcid ids.CommandId) Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	xip := make([]ids.TransactionId, 0, len(m.inProgress))
	for x := range m.inProgress {
		xip = append(xip, x)
	}

	return Snapshot{
		Xmin:   m.minInProgressLocked(),
		Xmax:   m.nextXid,
		Xip:    xip,
		CurCID: curcid,
		Mode:   ids.ModeMVCC,
	}
}

// Transaction is a handle bound to one xid/cid pair and the manager it
// was allocated from. Exactly one of Commit/Abort must be called; both
// are idempotent past the first call so a deferred call after an earlier
// explicit one is harmless.
type Transaction struct {
	mu      sync.Mutex
	Xid     ids.TransactionId
	Cid     ids.CommandId
	manager *Manager
	done    bool
}

// Begin starts a new transaction against manager.
func Begin(manager *Manager) *Transaction {
	xid := manager.Begin()
	cid := manager.GetCID()
	return &Transaction{Xid: xid, Cid: cid, manager: manager}
}

func (t *Transaction) Commit() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return
	}
	t.manager.Commit(t.Xid)
	t.done = true
}

func (t *Transaction) Abort() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return
	}
	t.manager.Abort(t.Xid)
	t.done = true
}

// Done reports whether Commit or Abort has already been called.
func (t *Transaction) Done() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.done
}

// Snapshot captures a fresh MVCC snapshot using this transaction's current
// command id.
func (t *Transaction) Snapshot() Snapshot {
	return t.manager.GetSnapshot(t.Cid)
}

// NextCommand advances this transaction's command id, used between
// statements within the same transaction ("read your own writes" for
// subsequent statements only).
func (t *Transaction) NextCommand() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Cid = t.manager.GetCID()
}

// RequireActive returns heaperrors.ErrInvalidTransaction if the
// transaction has already been committed or aborted.
func (t *Transaction) RequireActive() error {
	if t.Done() {
		return heaperrors.ErrInvalidTransaction
	}
	return nil
}
