// Package relation binds a storage.Pager to a schema width (attribute
// count), giving heap operations a page allocator scoped to one table.
//
// Grounded on original_source/src/relation.rs (Relation: rel_node,
// db_node, spc_node, natts, storage). Unlike the reference, Open requires
// natts explicitly rather than defaulting it to zero — this engine
// decodes tuple payloads and needs the schema width at open time, not only
// at create time.
package relation

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/Chocapikk/heapengine/catalog"
	"github.com/Chocapikk/heapengine/heaperrors"
	"github.com/Chocapikk/heapengine/ids"
	"github.com/Chocapikk/heapengine/storage"
)

// catalogFileName is the relfilenode map every RegisterRelation/
// ResolveRelation call shares under one base directory, the way a real
// data directory hosts a single pg_filenode.map for every relation it
// contains.
const catalogFileName = "pg_filenode.map"

// Relation is a single table's identity plus its backing pager.
type Relation struct {
	RelNode uint32
	DBNode  uint32
	SpcNode uint32
	Natts   int
	Pager   storage.Pager
}

// relNodeFromUUID derives a pseudo-random relfilenode the way
// original_source/src/relation.rs does: Uuid::new_v4().as_u128() as u32.
// Per SPEC_FULL.md's Open Question resolution, nothing in this module
// relies on the numeric distribution of the result.
func relNodeFromUUID() uint32 {
	id := uuid.New()
	b := id[:]
	return uint32(b[12])<<24 | uint32(b[13])<<16 | uint32(b[14])<<8 | uint32(b[15])
}

// Create wraps pager as a new relation with the given attribute count and
// returns the relation plus its generated rel_node. dir is not used.
func Create(dir string, natts int, pager storage.Pager) (*Relation, uint32) {
	relNode := relNodeFromUUID()
	return &Relation{RelNode: relNode, Natts: natts, Pager: pager}, relNode
}

// Open attaches to an already-initialized pager for an existing relation.
// natts must match the schema the relation was created with.
func Open(natts int, pager storage.Pager) *Relation {
	return &Relation{Natts: natts, Pager: pager}
}

func (r *Relation) ReadPage(block ids.BlockNumber) ([]byte, error) {
	return r.Pager.ReadPage(block)
}

func (r *Relation) WritePage(block ids.BlockNumber, data []byte) error {
	return r.Pager.WritePage(block, data)
}

func (r *Relation) AllocatePage() (ids.BlockNumber, error) {
	return r.Pager.AllocatePage()
}

func (r *Relation) PageCount() ids.BlockNumber {
	return r.Pager.PageCount()
}

func (r *Relation) PageSize() uint16 {
	return r.Pager.PageSize()
}

func (r *Relation) Close() error {
	return r.Pager.Close()
}

// RegisterRelation allocates a fresh on-disk filenode for oid under
// baseDir's catalog.Map (creating the map file if this is the first
// relation the directory hosts) and returns the subdirectory its blocks
// should live in — the mechanism that lets one data directory host more
// than one relation.
func RegisterRelation(baseDir string, oid uint32) (string, error) {
	mapPath := filepath.Join(baseDir, catalogFileName)
	m, err := catalog.ReadFile(mapPath)
	if err != nil {
		m = catalog.New()
	}

	filenode := relNodeFromUUID()
	if err := m.Set(oid, filenode); err != nil {
		return "", err
	}

	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return "", heaperrors.Wrap(err, "creating data directory")
	}
	if err := catalog.WriteFile(mapPath, m); err != nil {
		return "", err
	}

	dir := filepath.Join(baseDir, fmt.Sprintf("%d", filenode))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", heaperrors.Wrap(err, "creating relation directory")
	}
	return dir, nil
}

// ResolveRelation looks up oid's on-disk subdirectory in baseDir's
// catalog.Map, the read-side counterpart to RegisterRelation.
func ResolveRelation(baseDir string, oid uint32) (string, error) {
	m, err := catalog.ReadFile(filepath.Join(baseDir, catalogFileName))
	if err != nil {
		return "", err
	}
	filenode, ok := m.Filenode(oid)
	if !ok {
		return "", heaperrors.Wrap(heaperrors.ErrInvalidOperation, fmt.Sprintf("no relation registered for oid %d", oid))
	}
	return filepath.Join(baseDir, fmt.Sprintf("%d", filenode)), nil
}
