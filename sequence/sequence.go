// Package sequence implements a durable monotonic counter backed by a
// single dedicated heap page, using the same special-area-at-pd_special
// convention the teacher's IsSequenceFile/ParseSequenceFile detect in a
// real PostgreSQL sequence relation.
//
// The teacher's version is read-only forensic inspection; this package
// is read-write: Next increments and durably persists the counter page
// before returning, generalizing the teacher's byte-level understanding
// of the sequence page layout from inspection into a live counter.
package sequence

import (
	"encoding/binary"
	"sync"

	"github.com/Chocapikk/heapengine/heaperrors"
	"github.com/Chocapikk/heapengine/ids"
	"github.com/Chocapikk/heapengine/page"
	"github.com/Chocapikk/heapengine/storage"
)

// Magic identifies a sequence page, matching the teacher's SequenceMagic.
const Magic uint16 = 0x1717

const specialSize = 2 // room for Magic at the tail of the page

// counterSize is the fixed payload: value(8) start(8) increment(8)
// min(8) max(8) cycle(1).
const counterSize = 8*5 + 1

// block is the single page every Sequence lives on.
const block ids.BlockNumber = 0

// Sequence is a durable counter living on block 0 of its own pager.
type Sequence struct {
	mu     sync.Mutex
	pager  storage.Pager
	offset ids.OffsetNumber
}

type state struct {
	value     int64
	start     int64
	increment int64
	min       int64
	max       int64
	cycle     bool
}

func (s state) serialize() []byte {
	buf := make([]byte, counterSize)
	binary.LittleEndian.PutUint64(buf[0:8], uint64(s.value))
	binary.LittleEndian.PutUint64(buf[8:16], uint64(s.start))
	binary.LittleEndian.PutUint64(buf[16:24], uint64(s.increment))
	binary.LittleEndian.PutUint64(buf[24:32], uint64(s.min))
	binary.LittleEndian.PutUint64(buf[32:40], uint64(s.max))
	if s.cycle {
		buf[40] = 1
	}
	return buf
}

func deserializeState(buf []byte) (state, error) {
	if len(buf) < counterSize {
		return state{}, heaperrors.ErrInvalidTuple
	}
	return state{
		value:     int64(binary.LittleEndian.Uint64(buf[0:8])),
		start:     int64(binary.LittleEndian.Uint64(buf[8:16])),
		increment: int64(binary.LittleEndian.Uint64(buf[16:24])),
		min:       int64(binary.LittleEndian.Uint64(buf[24:32])),
		max:       int64(binary.LittleEndian.Uint64(buf[32:40])),
		cycle:     buf[40] != 0,
	}, nil
}

// Create allocates block 0 on pager and writes the initial counter page.
// start is the initial counter value; the first Next() returns
// start+increment.
func Create(pager storage.Pager, start, increment, min, max int64, cycle bool) (*Sequence, error) {
	pageSize := pager.PageSize()
	p := page.New(pageSize)
	// Reserve the trailing specialSize bytes for Magic, the way a real
	// sequence page's pd_special carves out room after pd_upper; AddItem
	// packs tuple bodies down from Header.Upper, so the special area must
	// be excluded from Upper before any item is added.
	p.Header.Special = pageSize - specialSize
	p.Header.Upper = pageSize - specialSize
	binary.LittleEndian.PutUint16(p.Data[pageSize-specialSize:pageSize], Magic)

	s := state{value: start, start: start, increment: increment, min: min, max: max, cycle: cycle}
	offset, err := p.AddItem(s.serialize())
	if err != nil {
		return nil, err
	}

	if allocated, err := pager.AllocatePage(); err != nil {
		return nil, err
	} else if allocated != block {
		return nil, heaperrors.Wrap(heaperrors.ErrInvalidOperation, "sequence must own block 0")
	}
	if err := pager.WritePage(block, p.Serialize(false)); err != nil {
		return nil, err
	}

	return &Sequence{pager: pager, offset: offset}, nil
}

// Open attaches to an already-created sequence page, validating the
// magic the way the teacher's IsSequenceFile does.
func Open(pager storage.Pager) (*Sequence, error) {
	buf, err := pager.ReadPage(block)
	if err != nil {
		return nil, err
	}
	if !IsSequencePage(buf, pager.PageSize()) {
		return nil, heaperrors.Wrap(heaperrors.ErrInvalidPage, "not a sequence page")
	}
	p, err := page.Deserialize(buf, pager.PageSize())
	if err != nil {
		return nil, err
	}
	if p.ItemCount() == 0 {
		return nil, heaperrors.Wrap(heaperrors.ErrCorruptedData, "sequence page has no counter item")
	}
	return &Sequence{pager: pager, offset: ids.OffsetNumber(1)}, nil
}

// IsSequencePage reports whether buf's special area carries Magic, the
// same check as the teacher's IsSequenceFile.
func IsSequencePage(buf []byte, pageSize uint16) bool {
	if len(buf) < int(pageSize) || pageSize < specialSize {
		return false
	}
	special := binary.LittleEndian.Uint16(buf[16:18])
	if special == 0 || int(special) > int(pageSize)-specialSize {
		return false
	}
	return binary.LittleEndian.Uint16(buf[special:special+specialSize]) == Magic
}

func (s *Sequence) read() (state, *page.Page, error) {
	buf, err := s.pager.ReadPage(block)
	if err != nil {
		return state{}, nil, err
	}
	p, err := page.Deserialize(buf, s.pager.PageSize())
	if err != nil {
		return state{}, nil, err
	}
	body, ok := p.GetItem(s.offset)
	if !ok {
		return state{}, nil, heaperrors.ErrCorruptedData
	}
	st, err := deserializeState(body)
	return st, p, err
}

// Next advances and durably persists the counter, returning the newly
// assigned value. Wraps to min (or fails if !cycle) when it would exceed
// max.
func (s *Sequence) Next() (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, p, err := s.read()
	if err != nil {
		return 0, err
	}

	next := st.value + st.increment
	if next > st.max {
		if !st.cycle {
			return 0, heaperrors.Wrap(heaperrors.ErrInvalidOperation, "sequence exhausted")
		}
		next = st.min
	}
	st.value = next

	body, ok := p.GetItemMut(s.offset)
	if !ok {
		return 0, heaperrors.ErrCorruptedData
	}
	copy(body, st.serialize())

	if err := s.pager.WritePage(block, p.Serialize(false)); err != nil {
		return 0, err
	}
	return next, nil
}

// CurrentValue reads the counter's current value without advancing it.
func (s *Sequence) CurrentValue() (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, _, err := s.read()
	if err != nil {
		return 0, err
	}
	return st.value, nil
}
