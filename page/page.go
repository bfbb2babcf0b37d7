// Package page implements the slotted-page format: a fixed-size byte image
// with an item-id array growing from the header end and tuple bodies
// packed downward from the tail.
//
// Layout is grounded on original_source/src/page.rs (PageHeaderData,
// ItemIdData, Page), translated into Go idioms; the byte-exact header
// fields match the teacher's blockrange.go reading of a real PostgreSQL
// page header (LSN, checksum, flags, lower, upper, special, pagesize
// version).
package page

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"

	"github.com/Chocapikk/heapengine/heaperrors"
	"github.com/Chocapikk/heapengine/ids"
)

const (
	DefaultPageSize = 8192
	HeaderSize      = 24
	ItemIdSize      = 4
	PageVersion     = 4

	// Page header flags (pd_flags).
	FlagHasFreeLines uint16 = 0x0001
	FlagPageFull     uint16 = 0x0002
	FlagAllVisible   uint16 = 0x0004

	freeSpaceThreshold = 32
)

// ItemStatus is the 2-bit status field of an item id.
type ItemStatus uint8

const (
	ItemNormal ItemStatus = 0
	ItemUsed   ItemStatus = 1
	ItemDead   ItemStatus = 2
)

// ItemId packs offset(15) | length(15) | status(2) into 4 bytes.
type ItemId struct {
	bits uint32
}

func newItemId(offset, length uint16, status ItemStatus) ItemId {
	return ItemId{bits: uint32(offset&0x7FFF) | uint32(length&0x7FFF)<<15 | uint32(status&0x3)<<30}
}

func (id ItemId) Offset() uint16     { return uint16(id.bits & 0x7FFF) }
func (id ItemId) Length() uint16     { return uint16((id.bits >> 15) & 0x7FFF) }
func (id ItemId) Status() ItemStatus { return ItemStatus((id.bits >> 30) & 0x3) }
func (id ItemId) IsUsed() bool       { return id.Status() == ItemUsed }
func (id ItemId) IsDead() bool       { return id.Status() == ItemDead }

func (id *ItemId) markDead() {
	id.bits = uint32(ItemDead) << 30
}

// Header is the 24-byte fixed page header.
type Header struct {
	LSN               uint64
	Checksum          uint16
	Flags             uint16
	Lower             uint16
	Upper             uint16
	Special           uint16
	PageSizeVersion   uint16
	PruneXid          uint32
}

// Page is an in-memory decoded page image.
type Page struct {
	Header   Header
	ItemIds  []ItemId
	Data     []byte // full page_size-length tail buffer; bytes from Upper to the end are the packed tuple bodies
	PageSize uint16
}

// New initializes an empty page of the given size.
func New(pageSize uint16) *Page {
	if pageSize == 0 {
		pageSize = DefaultPageSize
	}
	return &Page{
		Header: Header{
			Lower:           HeaderSize,
			Upper:           pageSize,
			Special:         pageSize,
			PageSizeVersion: (pageSize &^ 0xF) | PageVersion,
		},
		ItemIds:  nil,
		Data:     make([]byte, pageSize),
		PageSize: pageSize,
	}
}

func (p *Page) FreeSpace() int {
	return int(p.Header.Upper) - int(p.Header.Lower)
}

func (p *Page) HasFreeLines() bool { return p.Header.Flags&FlagHasFreeLines != 0 }
func (p *Page) IsPageFull() bool   { return p.Header.Flags&FlagPageFull != 0 }
func (p *Page) AllVisible() bool   { return p.Header.Flags&FlagAllVisible != 0 }

func (p *Page) SetAllVisible(v bool) {
	if v {
		p.Header.Flags |= FlagAllVisible
	} else {
		p.Header.Flags &^= FlagAllVisible
	}
}

func (p *Page) setPageFull() {
	if p.FreeSpace() < freeSpaceThreshold {
		p.Header.Flags |= FlagPageFull
	} else {
		p.Header.Flags &^= FlagPageFull
	}
}

// AddItem stores bytes at the tail of the page and appends an item id.
// Returns the 1-based offset number.
func (p *Page) AddItem(body []byte) (ids.OffsetNumber, error) {
	needed := len(body) + ItemIdSize
	if p.FreeSpace() < needed {
		return 0, heaperrors.ErrNoFreeSpace
	}
	newUpper := p.Header.Upper - uint16(len(body))
	copy(p.Data[newUpper:p.Header.Upper], body)
	p.Header.Upper = newUpper

	p.ItemIds = append(p.ItemIds, newItemId(newUpper, uint16(len(body)), ItemUsed))
	p.Header.Lower += ItemIdSize

	p.Header.Flags &^= FlagHasFreeLines
	p.setPageFull()

	return ids.OffsetNumber(len(p.ItemIds)), nil
}

func (p *Page) index(offset ids.OffsetNumber) (int, bool) {
	if offset == 0 || int(offset) > len(p.ItemIds) {
		return 0, false
	}
	return int(offset) - 1, true
}

// GetItem returns the body bytes for offset if the slot is USED.
func (p *Page) GetItem(offset ids.OffsetNumber) ([]byte, bool) {
	i, ok := p.index(offset)
	if !ok {
		return nil, false
	}
	item := p.ItemIds[i]
	if !item.IsUsed() {
		return nil, false
	}
	off, length := int(item.Offset()), int(item.Length())
	if off+length > int(p.PageSize) {
		return nil, false
	}
	return p.Data[off : off+length], true
}

// GetItemMut returns an in-place mutable span for offset, same length as
// stored. Callers must not resize what they write.
func (p *Page) GetItemMut(offset ids.OffsetNumber) ([]byte, bool) {
	return p.GetItem(offset)
}

// RemoveItem marks the slot DEAD. The body is left in place; reclamation
// happens only at vacuum.
func (p *Page) RemoveItem(offset ids.OffsetNumber) bool {
	i, ok := p.index(offset)
	if !ok {
		return false
	}
	if !p.ItemIds[i].IsUsed() {
		return false
	}
	p.ItemIds[i].markDead()
	p.Header.Flags |= FlagHasFreeLines
	return true
}

func (p *Page) ItemCount() int {
	return len(p.ItemIds)
}

// Serialize produces the byte-exact page image, optionally filling the
// checksum field from an xxhash digest of the body when withChecksum is
// true (§6: "optional; zero when unused").
func (p *Page) Serialize(withChecksum bool) []byte {
	buf := make([]byte, p.PageSize)
	binary.LittleEndian.PutUint64(buf[0:8], p.Header.LSN)
	binary.LittleEndian.PutUint16(buf[10:12], p.Header.Flags)
	binary.LittleEndian.PutUint16(buf[12:14], p.Header.Lower)
	binary.LittleEndian.PutUint16(buf[14:16], p.Header.Upper)
	binary.LittleEndian.PutUint16(buf[16:18], p.Header.Special)
	binary.LittleEndian.PutUint16(buf[18:20], p.Header.PageSizeVersion)
	binary.LittleEndian.PutUint32(buf[20:24], p.Header.PruneXid)

	for i, item := range p.ItemIds {
		off := HeaderSize + i*ItemIdSize
		binary.LittleEndian.PutUint32(buf[off:off+4], item.bits)
	}

	copy(buf[p.Header.Upper:p.PageSize], p.Data[p.Header.Upper:p.PageSize])

	checksum := p.Header.Checksum
	if withChecksum {
		checksum = uint16(xxhash.Sum64(buf[24:]) & 0xFFFF)
	}
	binary.LittleEndian.PutUint16(buf[8:10], checksum)

	return buf
}

// Deserialize validates and decodes a raw page image.
func Deserialize(buf []byte, pageSize uint16) (*Page, error) {
	if pageSize == 0 {
		pageSize = DefaultPageSize
	}
	if len(buf) != int(pageSize) {
		return nil, heaperrors.ErrInvalidPage
	}

	h := Header{
		LSN:             binary.LittleEndian.Uint64(buf[0:8]),
		Checksum:        binary.LittleEndian.Uint16(buf[8:10]),
		Flags:           binary.LittleEndian.Uint16(buf[10:12]),
		Lower:           binary.LittleEndian.Uint16(buf[12:14]),
		Upper:           binary.LittleEndian.Uint16(buf[14:16]),
		Special:         binary.LittleEndian.Uint16(buf[16:18]),
		PageSizeVersion: binary.LittleEndian.Uint16(buf[18:20]),
		PruneXid:        binary.LittleEndian.Uint32(buf[20:24]),
	}

	if h.Lower < HeaderSize || h.Upper > pageSize || h.Lower > h.Upper {
		return nil, heaperrors.ErrInvalidPage
	}

	numItems := (int(h.Lower) - HeaderSize) / ItemIdSize
	itemIds := make([]ItemId, numItems)
	for i := 0; i < numItems; i++ {
		off := HeaderSize + i*ItemIdSize
		itemIds[i] = ItemId{bits: binary.LittleEndian.Uint32(buf[off : off+4])}
	}

	data := make([]byte, pageSize)
	copy(data, buf)

	return &Page{Header: h, ItemIds: itemIds, Data: data, PageSize: pageSize}, nil
}
