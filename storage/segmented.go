package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/Chocapikk/heapengine/heaperrors"
	"github.com/Chocapikk/heapengine/ids"
)

// DefaultSegmentSize matches PostgreSQL's default relation segment size
// (1 GiB), adapted from the teacher's segment.go DefaultSegmentSize.
const DefaultSegmentSize = 1024 * 1024 * 1024

// SegmentedStorage lays a relation out as a sequence of fixed-size
// segment files ("<relnode>", "<relnode>.1", "<relnode>.2", ...), each
// holding many blocks contiguously — the layout real PostgreSQL relations
// use once they exceed one segment. This is the substitution SPEC_FULL.md
// §4.3 explicitly allows in place of DirStorage's one-file-per-block
// layout; the segment/local-block arithmetic is adapted from the
// teacher's GlobalBlockToSegment.
type SegmentedStorage struct {
	mu          sync.RWMutex
	dir         string
	relNode     string
	pageSize    uint16
	segmentSize int
	files       *lru.Cache[int, *os.File]
	maxBlock    int64
}

func blocksPerSegment(pageSize uint16, segmentSize int) int64 {
	return int64(segmentSize) / int64(pageSize)
}

// OpenSegmented opens (creating if necessary) a segmented relation store.
func OpenSegmented(dir, relNode string, pageSize uint16, segmentSize int) (*SegmentedStorage, error) {
	if pageSize == 0 {
		pageSize = DefaultPageSizeFallback
	}
	if segmentSize <= 0 {
		segmentSize = DefaultSegmentSize
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, heaperrors.Wrap(err, "creating segmented storage directory")
	}

	files, err := lru.NewWithEvict[int, *os.File](16, func(_ int, f *os.File) { f.Close() })
	if err != nil {
		return nil, heaperrors.Wrap(err, "constructing segment file cache")
	}

	s := &SegmentedStorage{
		dir:         dir,
		relNode:     relNode,
		pageSize:    pageSize,
		segmentSize: segmentSize,
		files:       files,
		maxBlock:    -1,
	}

	bps := blocksPerSegment(pageSize, segmentSize)
	for segNum := 0; ; segNum++ {
		path := s.segmentPath(segNum)
		info, err := os.Stat(path)
		if err != nil {
			break
		}
		blocksInSeg := info.Size() / int64(pageSize)
		candidate := int64(segNum)*bps + blocksInSeg - 1
		if candidate > s.maxBlock {
			s.maxBlock = candidate
		}
	}
	return s, nil
}

// DefaultPageSizeFallback avoids importing a cyclic constant from page.
const DefaultPageSizeFallback = 8192

func (s *SegmentedStorage) segmentPath(segNum int) string {
	if segNum == 0 {
		return filepath.Join(s.dir, s.relNode)
	}
	return filepath.Join(s.dir, fmt.Sprintf("%s.%d", s.relNode, segNum))
}

func (s *SegmentedStorage) segmentFile(segNum int, create bool) (*os.File, error) {
	if f, ok := s.files.Get(segNum); ok {
		return f, nil
	}
	flags := os.O_RDWR
	if create {
		flags |= os.O_CREATE
	}
	f, err := os.OpenFile(s.segmentPath(segNum), flags, 0o644)
	if err != nil {
		return nil, err
	}
	s.files.Add(segNum, f)
	return f, nil
}

func (s *SegmentedStorage) locate(block ids.BlockNumber) (segNum int, localBlock int64) {
	bps := blocksPerSegment(s.pageSize, s.segmentSize)
	segNum = int(int64(block) / bps)
	localBlock = int64(block) % bps
	return
}

func (s *SegmentedStorage) ReadPage(block ids.BlockNumber) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	segNum, localBlock := s.locate(block)
	f, err := s.segmentFile(segNum, false)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, heaperrors.PageNotFound(uint32(block))
		}
		return nil, heaperrors.Wrap(err, "opening segment file")
	}

	buf := make([]byte, s.pageSize)
	n, err := f.ReadAt(buf, localBlock*int64(s.pageSize))
	if err != nil || n != int(s.pageSize) {
		return nil, heaperrors.PageNotFound(uint32(block))
	}
	return buf, nil
}

func (s *SegmentedStorage) WritePage(block ids.BlockNumber, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	segNum, localBlock := s.locate(block)
	f, err := s.segmentFile(segNum, true)
	if err != nil {
		return heaperrors.Wrap(err, "opening segment file")
	}
	if _, err := f.WriteAt(data, localBlock*int64(s.pageSize)); err != nil {
		return heaperrors.Wrap(err, "writing segment block")
	}
	if err := f.Sync(); err != nil {
		return heaperrors.Wrap(err, "fsyncing segment file")
	}
	if int64(block) > s.maxBlock {
		s.maxBlock = int64(block)
	}
	return nil
}

func (s *SegmentedStorage) AllocatePage() (ids.BlockNumber, error) {
	s.mu.Lock()
	s.maxBlock++
	block := ids.BlockNumber(s.maxBlock)
	s.mu.Unlock()

	empty := make([]byte, s.pageSize)
	if err := s.WritePage(block, empty); err != nil {
		return 0, err
	}
	return block, nil
}

func (s *SegmentedStorage) PageCount() ids.BlockNumber {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.maxBlock < 0 {
		return 0
	}
	return ids.BlockNumber(s.maxBlock + 1)
}

func (s *SegmentedStorage) PageSize() uint16 { return s.pageSize }

// SegmentSize reports the fixed byte size of each segment file, used by
// inspect.SegmentInfo to report segment-file layout.
func (s *SegmentedStorage) SegmentSize() int { return s.segmentSize }

// BlocksPerSegment reports how many blocks fit in one segment file.
func (s *SegmentedStorage) BlocksPerSegment() int64 {
	return blocksPerSegment(s.pageSize, s.segmentSize)
}

// Locate exposes the segment-number/local-block split for block, used by
// inspect.SegmentInfo.
func (s *SegmentedStorage) Locate(block ids.BlockNumber) (segNum int, localBlock int64) {
	return s.locate(block)
}

func (s *SegmentedStorage) Flush() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, segNum := range s.files.Keys() {
		if f, ok := s.files.Peek(segNum); ok {
			if err := f.Sync(); err != nil {
				return heaperrors.Wrap(err, "flushing segment file")
			}
		}
	}
	return nil
}

func (s *SegmentedStorage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files.Purge()
	return nil
}
