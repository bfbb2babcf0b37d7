// Package toast implements out-of-line chunked storage for tuple payloads
// that exceed Threshold bytes: the payload is compressed, split into
// ChunkSize-sized chunks keyed by a random chunk id, and replaced in the
// tuple body by a 13-byte Pointer.
//
// Grounded on original_source/src/toast.rs (ToastPointer, ToastTable::
// store/fetch/remove). The reference's compress/decompress are a toy
// run-length stand-in (0xFF escape every second byte); this package
// compresses for real with github.com/klauspost/compress/zstd, and
// derives chunk ids with github.com/google/uuid the same way
// relation.relNodeFromUUID derives rel_node.
package toast

import (
	"encoding/binary"
	"sync"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"

	"github.com/Chocapikk/heapengine/heaperrors"
)

// newUUIDChunkID derives a chunk id the same way relation.relNodeFromUUID
// derives a rel_node: a fresh random uuid truncated into a uint32.
func newUUIDChunkID() uint32 {
	id := uuid.New()
	b := id[:]
	return uint32(b[12])<<24 | uint32(b[13])<<16 | uint32(b[14])<<8 | uint32(b[15])
}

const (
	// Threshold is the largest payload size kept inline; only payloads
	// longer than it are eligible for TOASTing.
	Threshold = 2048
	// ChunkSize is the maximum number of compressed bytes per chunk.
	ChunkSize = 1992
	// PointerSize is the serialized size of a Pointer.
	PointerSize = 4 + 4 + 4 + 1
)

// Pointer replaces an oversized payload in a tuple body: oid(4)
// chunk_id(4) size(4) compressed(1), matching SPEC_FULL.md §6.
type Pointer struct {
	OID        uint32
	ChunkID    uint32
	Size       uint32
	Compressed bool
}

func (p Pointer) Serialize() []byte {
	buf := make([]byte, PointerSize)
	binary.LittleEndian.PutUint32(buf[0:4], p.OID)
	binary.LittleEndian.PutUint32(buf[4:8], p.ChunkID)
	binary.LittleEndian.PutUint32(buf[8:12], p.Size)
	if p.Compressed {
		buf[12] = 1
	}
	return buf
}

func DeserializePointer(buf []byte) (Pointer, error) {
	if len(buf) < PointerSize {
		return Pointer{}, heaperrors.ErrInvalidTuple
	}
	return Pointer{
		OID:        binary.LittleEndian.Uint32(buf[0:4]),
		ChunkID:    binary.LittleEndian.Uint32(buf[4:8]),
		Size:       binary.LittleEndian.Uint32(buf[8:12]),
		Compressed: buf[12] != 0,
	}, nil
}

// chunkIDSource generates chunk ids; swapped out in tests for determinism.
var chunkIDSource = newUUIDChunkID

// Table holds the out-of-line chunks for one source relation, keyed by
// chunk id. Storage is in-memory, matching the reference's
// RwLock<HashMap<u32, Vec<ToastChunk>>>; this module's TOAST table is a
// sidecar the engine keeps alongside a relation.Relation, not itself
// durable across process restarts.
type Table struct {
	mu        sync.RWMutex
	sourceOID uint32
	chunks    map[uint32][][]byte // chunk id -> ordered chunk payloads
	encoder   *zstd.Encoder
	decoder   *zstd.Decoder
}

// New constructs a TOAST table for the relation identified by sourceOID.
func New(sourceOID uint32) (*Table, error) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, heaperrors.Wrap(err, "constructing zstd encoder")
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, heaperrors.Wrap(err, "constructing zstd decoder")
	}
	return &Table{
		sourceOID: sourceOID,
		chunks:    make(map[uint32][][]byte),
		encoder:   enc,
		decoder:   dec,
	}, nil
}

// Store compresses data, splits it into ChunkSize chunks under a fresh
// chunk id, and returns the pointer to record in place of the payload.
// Data at or below Threshold is not eligible for TOASTing.
func (t *Table) Store(data []byte) (Pointer, error) {
	if len(data) <= Threshold {
		return Pointer{}, heaperrors.Wrap(heaperrors.ErrInvalidOperation, "data too small for toast")
	}

	compressed := t.encoder.EncodeAll(data, nil)

	chunkID := chunkIDSource()

	var chunks [][]byte
	for offset := 0; offset < len(compressed); offset += ChunkSize {
		end := offset + ChunkSize
		if end > len(compressed) {
			end = len(compressed)
		}
		chunk := append([]byte(nil), compressed[offset:end]...)
		chunks = append(chunks, chunk)
	}

	t.mu.Lock()
	t.chunks[chunkID] = chunks
	t.mu.Unlock()

	return Pointer{OID: t.sourceOID, ChunkID: chunkID, Size: uint32(len(data)), Compressed: true}, nil
}

// Fetch reassembles and decompresses the chunks a Pointer refers to.
func (t *Table) Fetch(p Pointer) ([]byte, error) {
	t.mu.RLock()
	chunks, ok := t.chunks[p.ChunkID]
	t.mu.RUnlock()
	if !ok {
		return nil, heaperrors.Wrap(heaperrors.ErrInvalidTuple, "toast chunk not found")
	}

	var buf []byte
	for _, c := range chunks {
		buf = append(buf, c...)
	}

	if !p.Compressed {
		return buf, nil
	}
	out, err := t.decoder.DecodeAll(buf, make([]byte, 0, p.Size))
	if err != nil {
		return nil, heaperrors.Wrap(err, "decompressing toast chunks")
	}
	return out, nil
}

// Remove drops every chunk stored under chunkID.
func (t *Table) Remove(chunkID uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.chunks, chunkID)
}

// ChunkCount reports how many chunks a stored value was split into,
// used by tests and inspect tooling.
func (t *Table) ChunkCount(chunkID uint32) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.chunks[chunkID])
}
