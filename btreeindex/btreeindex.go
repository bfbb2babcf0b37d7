// Package btreeindex implements a secondary index keyed by an opaque byte
// string, mapping each key to one or more ctids.
//
// original_source/src/btree.rs inserts a key into an in-memory tree but
// never writes the inserted node back into the tree root, so a key
// inserted and then searched for is never found (SPEC_FULL.md §9's B-tree
// Open Question). Rather than port that bug, this package is built from
// scratch on github.com/google/btree, which handles balancing, and adds
// the package's own sync.RWMutex around it for the single-writer /
// concurrent-reader discipline used by txn.Manager and fsm.Map elsewhere
// in this module.
package btreeindex

import (
	"bytes"
	"sync"

	"github.com/google/btree"

	"github.com/Chocapikk/heapengine/ids"
)

// entry is the btree.Item stored in the underlying tree: a key plus the
// set of ctids currently associated with it.
type entry struct {
	key   []byte
	ctids []ids.ItemPointer
}

func (e *entry) Less(than btree.Item) bool {
	return bytes.Compare(e.key, than.(*entry).key) < 0
}

// Index is a byte-key to ctid-list secondary index.
type Index struct {
	mu   sync.RWMutex
	tree *btree.BTree
}

// New constructs an empty index. degree follows google/btree's own
// knob (minimum children per internal node); 32 matches the default the
// library's own examples use.
func New() *Index {
	return &Index{tree: btree.New(32)}
}

// Insert associates key with ctid. A key may map to more than one ctid
// (e.g. a non-unique index over duplicate values); inserting the same
// (key, ctid) pair twice is a no-op.
func (idx *Index) Insert(key []byte, ctid ids.ItemPointer) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	k := append([]byte(nil), key...)
	probe := &entry{key: k}
	if found := idx.tree.Get(probe); found != nil {
		e := found.(*entry)
		for _, existing := range e.ctids {
			if existing == ctid {
				return
			}
		}
		e.ctids = append(e.ctids, ctid)
		return
	}
	idx.tree.ReplaceOrInsert(&entry{key: k, ctids: []ids.ItemPointer{ctid}})
}

// Search returns every ctid currently associated with key.
func (idx *Index) Search(key []byte) []ids.ItemPointer {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	found := idx.tree.Get(&entry{key: key})
	if found == nil {
		return nil
	}
	e := found.(*entry)
	out := make([]ids.ItemPointer, len(e.ctids))
	copy(out, e.ctids)
	return out
}

// Delete removes every ctid associated with key, reporting whether
// anything was removed.
func (idx *Index) Delete(key []byte) bool {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	removed := idx.tree.Delete(&entry{key: key})
	return removed != nil
}

// DeleteCtid removes a single (key, ctid) association, leaving any other
// ctids mapped to key untouched. Reports whether the pair existed.
func (idx *Index) DeleteCtid(key []byte, ctid ids.ItemPointer) bool {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	found := idx.tree.Get(&entry{key: key})
	if found == nil {
		return false
	}
	e := found.(*entry)
	for i, existing := range e.ctids {
		if existing == ctid {
			e.ctids = append(e.ctids[:i], e.ctids[i+1:]...)
			if len(e.ctids) == 0 {
				idx.tree.Delete(&entry{key: key})
			}
			return true
		}
	}
	return false
}

// Pair is one (key, ctid) association returned by Scan.
type Pair struct {
	Key  []byte
	Ctid ids.ItemPointer
}

// Scan walks every key in ascending byte order, flattening each key's
// ctid list into individual pairs.
func (idx *Index) Scan() []Pair {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	var out []Pair
	idx.tree.Ascend(func(item btree.Item) bool {
		e := item.(*entry)
		for _, c := range e.ctids {
			out = append(out, Pair{Key: append([]byte(nil), e.key...), Ctid: c})
		}
		return true
	})
	return out
}

// Len reports the number of distinct keys currently indexed.
func (idx *Index) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.tree.Len()
}
