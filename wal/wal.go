// Package wal implements the engine's own append-only write-ahead log: a
// segmented sequence of records {prev_lsn, lsn, type, xid, block,
// payload}. It is distinct from (and does not attempt to parse) a real
// PostgreSQL WAL segment; record types/layout are this engine's own,
// grounded on original_source/src/wal.rs (XLogRecord, XLogRecordType,
// WAL::append/get_lsn/recover).
//
// Recovery replay is a Non-goal of the engine's correctness argument
// (SPEC_FULL.md §1); Reader.Replay below is a best-effort operator tool,
// not wired into heap operation recovery.
package wal

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/gofrs/flock"

	"github.com/Chocapikk/heapengine/heaperrors"
	"github.com/Chocapikk/heapengine/ids"
)

// DefaultSegmentSize matches SPEC_FULL.md §6 ("segmented at a fixed size,
// default 16 MiB").
const DefaultSegmentSize = 16 * 1024 * 1024

// RecordType enumerates the record kinds the engine appends.
type RecordType uint8

const (
	HeapInsert RecordType = iota + 1
	HeapUpdate
	HeapDelete
	HeapVacuum
	Commit
	Abort
	Checkpoint
)

// Record is one WAL entry.
type Record struct {
	PrevLSN uint64
	LSN     uint64
	Type    RecordType
	Xid     ids.TransactionId
	Block   ids.BlockNumber
	Payload []byte
}

// Serialize produces the byte form of a record: prev_lsn(8) lsn(8)
// type(1) xid(4) block(4) payload_len(4) payload(n).
func (r Record) Serialize() []byte {
	buf := make([]byte, 8+8+1+4+4+4+len(r.Payload))
	binary.LittleEndian.PutUint64(buf[0:8], r.PrevLSN)
	binary.LittleEndian.PutUint64(buf[8:16], r.LSN)
	buf[16] = byte(r.Type)
	binary.LittleEndian.PutUint32(buf[17:21], uint32(r.Xid))
	binary.LittleEndian.PutUint32(buf[21:25], uint32(r.Block))
	binary.LittleEndian.PutUint32(buf[25:29], uint32(len(r.Payload)))
	copy(buf[29:], r.Payload)
	return buf
}

const recordFixedSize = 29

func deserializeRecord(buf []byte) (Record, int, error) {
	if len(buf) < recordFixedSize {
		return Record{}, 0, heaperrors.ErrCorruptedData
	}
	payloadLen := int(binary.LittleEndian.Uint32(buf[25:29]))
	total := recordFixedSize + payloadLen
	if len(buf) < total {
		return Record{}, 0, heaperrors.ErrCorruptedData
	}
	r := Record{
		PrevLSN: binary.LittleEndian.Uint64(buf[0:8]),
		LSN:     binary.LittleEndian.Uint64(buf[8:16]),
		Type:    RecordType(buf[16]),
		Xid:     ids.TransactionId(binary.LittleEndian.Uint32(buf[17:21])),
		Block:   ids.BlockNumber(binary.LittleEndian.Uint32(buf[21:25])),
	}
	if payloadLen > 0 {
		r.Payload = append([]byte(nil), buf[29:total]...)
	}
	return r, total, nil
}

// WAL appends records to segment files under dir, named "<segment>.wal".
type WAL struct {
	mu          sync.Mutex
	dir         string
	segmentSize int64
	currentLSN  uint64
}

// Open opens (creating the directory if necessary) a WAL writer starting
// at lsn 0.
func Open(dir string, segmentSize int64) (*WAL, error) {
	if segmentSize <= 0 {
		segmentSize = DefaultSegmentSize
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, heaperrors.Wrap(err, "creating wal directory")
	}
	return &WAL{dir: dir, segmentSize: segmentSize}, nil
}

func (w *WAL) segmentPath(segNum int64) string {
	return filepath.Join(w.dir, fmt.Sprintf("%08X.wal", segNum))
}

// Append writes rec (with rec.LSN/PrevLSN filled in by the WAL) and
// fsyncs before returning, honoring the "append before acknowledging"
// durability contract in SPEC_FULL.md §6. LSN is a true byte offset into
// the logical log stream (new_lsn = old_lsn + len(record)), matching
// wal.rs's WAL::append; the record is written into segment
// lsn / segment_size at offset (lsn % segment_size) - len(record),
// clamped at zero, rather than relying on O_APPEND. A gofrs/flock
// advisory lock serializes writers of the segment file; Reader.Replay
// does not take it.
func (w *WAL) Append(t RecordType, xid ids.TransactionId, block ids.BlockNumber, payload []byte) (uint64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	rec := Record{PrevLSN: w.currentLSN, Type: t, Xid: xid, Block: block, Payload: payload}
	data := rec.Serialize()
	rec.LSN = w.currentLSN + uint64(len(data))
	binary.LittleEndian.PutUint64(data[8:16], rec.LSN)

	segNum := rec.LSN / uint64(w.segmentSize)
	segOffset := rec.LSN % uint64(w.segmentSize)
	path := w.segmentPath(int64(segNum))

	lock := flock.New(path + ".lock")
	if err := lock.Lock(); err != nil {
		return 0, heaperrors.Wrap(err, "locking wal segment")
	}
	defer lock.Unlock()

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return 0, heaperrors.Wrap(err, "opening wal segment")
	}
	defer f.Close()

	writeAt := int64(segOffset) - int64(len(data))
	if writeAt < 0 {
		writeAt = 0
	}
	if _, err := f.Seek(writeAt, os.SEEK_SET); err != nil {
		return 0, heaperrors.Wrap(err, "seeking wal segment")
	}
	if _, err := f.Write(data); err != nil {
		return 0, heaperrors.Wrap(err, "appending wal record")
	}
	if err := f.Sync(); err != nil {
		return 0, heaperrors.Wrap(err, "fsyncing wal segment")
	}

	w.currentLSN = rec.LSN
	return rec.LSN, nil
}

func (w *WAL) GetLSN() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.currentLSN
}

// Reader replays segment files in lsn order for operator tooling.
type Reader struct {
	dir string
}

func NewReader(dir string) *Reader {
	return &Reader{dir: dir}
}

// Replay decodes every record across every ".wal" segment file in dir,
// sorted by segment file name (which sorts by segment number since names
// are zero-padded hex, matching wal.rs's "{:08X}.wal"). Best-effort: not
// part of the engine's recovery path.
func (r *Reader) Replay() ([]Record, error) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return nil, heaperrors.Wrap(err, "reading wal directory")
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".wal") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	var records []Record
	for _, name := range names {
		buf, err := os.ReadFile(filepath.Join(r.dir, name))
		if err != nil {
			return nil, heaperrors.Wrap(err, "reading wal segment")
		}
		offset := 0
		for offset < len(buf) {
			rec, n, err := deserializeRecord(buf[offset:])
			if err != nil {
				break
			}
			records = append(records, rec)
			offset += n
		}
	}
	return records, nil
}
