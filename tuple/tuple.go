// Package tuple implements the fixed 24-byte tuple header, its hint-bit
// accessors, and the null-bitmap/payload layout described in SPEC_FULL.md
// §4.2, grounded on original_source/src/heap_tuple.rs.
package tuple

import (
	"encoding/binary"

	"github.com/Chocapikk/heapengine/heaperrors"
	"github.com/Chocapikk/heapengine/ids"
)

const (
	HeaderSize = 24

	// t_infomask bits.
	HasNull         uint16 = 0x0001
	HasVarlena      uint16 = 0x0002
	XminCommitted   uint16 = 0x0100
	XminInvalid     uint16 = 0x0200
	XmaxCommitted   uint16 = 0x0400
	XmaxInvalid     uint16 = 0x0800
	XmaxIsLockedOnly uint16 = 0x1000

	// t_infomask2 bits.
	NattsMask    uint16 = 0x0FFF
	KeysUpdated  uint16 = 0x1000
)

// Header is the fixed per-tuple metadata block.
type Header struct {
	Xmin       ids.TransactionId
	Xmax       ids.TransactionId
	Cid        ids.CommandId
	Ctid       ids.ItemPointer
	Infomask2  uint16
	Infomask   uint16
	Hoff       uint8
}

func (h *Header) Natts() int { return int(h.Infomask2 & NattsMask) }

func (h *Header) HasNullBitmap() bool { return h.Infomask&HasNull != 0 }

func (h *Header) hintSet(bit uint16) bool  { return h.Infomask&bit != 0 }
func (h *Header) setHint(bit uint16, v bool) {
	if v {
		h.Infomask |= bit
	} else {
		h.Infomask &^= bit
	}
}

func (h *Header) XminCommitted() bool     { return h.hintSet(XminCommitted) }
func (h *Header) SetXminCommitted(v bool) { h.setHint(XminCommitted, v) }
func (h *Header) XminInvalid() bool       { return h.hintSet(XminInvalid) }
func (h *Header) SetXminInvalid(v bool)   { h.setHint(XminInvalid, v) }
func (h *Header) XmaxCommitted() bool     { return h.hintSet(XmaxCommitted) }
func (h *Header) SetXmaxCommitted(v bool) { h.setHint(XmaxCommitted, v) }
func (h *Header) XmaxInvalid() bool       { return h.hintSet(XmaxInvalid) }
func (h *Header) SetXmaxInvalid(v bool)   { h.setHint(XmaxInvalid, v) }
func (h *Header) XmaxIsLockedOnly() bool  { return h.hintSet(XmaxIsLockedOnly) }
func (h *Header) SetXmaxIsLockedOnly(v bool) { h.setHint(XmaxIsLockedOnly, v) }

// align8 rounds n up to the next multiple of 8.
func align8(n int) int {
	return (n + 7) &^ 7
}

// ComputeHoff returns the 8-byte-aligned payload start offset for a tuple
// with natts attributes and an optional null bitmap.
func ComputeHoff(natts int, hasNull bool) uint8 {
	size := HeaderSize
	if hasNull {
		size += (natts + 7) / 8
	}
	return uint8(align8(size))
}

// Tuple is a fully decoded tuple: header, optional null bitmap, and
// opaque payload bytes.
type Tuple struct {
	Header     Header
	NullBitmap []byte // len == ceil(natts/8) when HasNull is set, else nil
	Data       []byte
}

// New constructs a tuple with no nulls set.
func New(xmin ids.TransactionId, cid ids.CommandId, natts int, data []byte) *Tuple {
	hoff := ComputeHoff(natts, false)
	return &Tuple{
		Header: Header{
			Xmin:      xmin,
			Xmax:      ids.InvalidTransactionId,
			Cid:       cid,
			Infomask2: uint16(natts) & NattsMask,
			Hoff:      hoff,
		},
		Data: data,
	}
}

// NewWithNulls constructs a tuple that reserves a null bitmap up front.
func NewWithNulls(xmin ids.TransactionId, cid ids.CommandId, natts int, data []byte) *Tuple {
	t := New(xmin, cid, natts, data)
	t.Header.Infomask |= HasNull
	t.Header.Hoff = ComputeHoff(natts, true)
	t.NullBitmap = make([]byte, (natts+7)/8)
	return t
}

func (t *Tuple) IsNull(attnum int) bool {
	if !t.Header.HasNullBitmap() || t.NullBitmap == nil {
		return false
	}
	byteIdx, bit := attnum/8, uint(attnum%8)
	if byteIdx >= len(t.NullBitmap) {
		return false
	}
	return t.NullBitmap[byteIdx]&(1<<bit) != 0
}

func (t *Tuple) SetNull(attnum int, null bool) {
	if t.NullBitmap == nil {
		return
	}
	byteIdx, bit := attnum/8, uint(attnum%8)
	if byteIdx >= len(t.NullBitmap) {
		return
	}
	if null {
		t.NullBitmap[byteIdx] |= 1 << bit
	} else {
		t.NullBitmap[byteIdx] &^= 1 << bit
	}
}

// Size is the serialized length of the tuple: header + null bitmap +
// alignment padding + payload.
func (t *Tuple) Size() int {
	return int(t.Header.Hoff) + len(t.Data)
}

// Serialize produces the byte-exact tuple image.
func (t *Tuple) Serialize() []byte {
	buf := make([]byte, t.Size())
	binary.LittleEndian.PutUint32(buf[0:4], uint32(t.Header.Xmin))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(t.Header.Xmax))
	binary.LittleEndian.PutUint32(buf[8:12], uint32(t.Header.Cid))
	binary.LittleEndian.PutUint32(buf[12:16], uint32(t.Header.Ctid.Block))
	binary.LittleEndian.PutUint16(buf[16:18], uint16(t.Header.Ctid.Offset))
	binary.LittleEndian.PutUint16(buf[18:20], t.Header.Infomask2)
	binary.LittleEndian.PutUint16(buf[20:22], t.Header.Infomask)
	buf[22] = t.Header.Hoff
	// buf[23] is implicit pad.

	if t.Header.HasNullBitmap() {
		copy(buf[HeaderSize:HeaderSize+len(t.NullBitmap)], t.NullBitmap)
	}
	copy(buf[t.Header.Hoff:], t.Data)
	return buf
}

// Deserialize decodes a tuple image. natts must match the schema width the
// tuple was written under (the header's Infomask2 carries it redundantly;
// that copy is not compared against natts).
func Deserialize(buf []byte, natts int) (*Tuple, error) {
	if len(buf) < HeaderSize {
		return nil, heaperrors.ErrInvalidTuple
	}
	h := Header{
		Xmin: ids.TransactionId(binary.LittleEndian.Uint32(buf[0:4])),
		Xmax: ids.TransactionId(binary.LittleEndian.Uint32(buf[4:8])),
		Cid:  ids.CommandId(binary.LittleEndian.Uint32(buf[8:12])),
		Ctid: ids.ItemPointer{
			Block:  ids.BlockNumber(binary.LittleEndian.Uint32(buf[12:16])),
			Offset: ids.OffsetNumber(binary.LittleEndian.Uint16(buf[16:18])),
		},
		Infomask2: binary.LittleEndian.Uint16(buf[18:20]),
		Infomask:  binary.LittleEndian.Uint16(buf[20:22]),
		Hoff:      buf[22],
	}
	if int(h.Hoff) > len(buf) || h.Hoff < HeaderSize {
		return nil, heaperrors.ErrInvalidTuple
	}

	t := &Tuple{Header: h}
	if h.HasNullBitmap() {
		bitmapLen := (natts + 7) / 8
		if HeaderSize+bitmapLen > int(h.Hoff) {
			return nil, heaperrors.ErrCorruptedData
		}
		t.NullBitmap = append([]byte(nil), buf[HeaderSize:HeaderSize+bitmapLen]...)
	}
	t.Data = append([]byte(nil), buf[h.Hoff:]...)
	return t, nil
}
