// Package codec packs and unpacks fixed-width and varlena attribute
// values into and out of a tuple's opaque payload bytes.
//
// original_source/src/heap_tuple.rs defines the infomask bits this
// scheme rests on (HEAP_HASVARLENA) and constants.rs defines the
// varlena length-word layout (VARLENA_COMPRESSED/EXTERNAL/BIT_MASK),
// but HeapTuple::get_value in that file is a stub that always returns
// None — the reference never actually implements attribute codec. This
// package supplies it, grounded on those constants and on the same
// external-pointer convention the toast package already uses for
// TOASTed values.
package codec

import (
	"encoding/binary"
	"fmt"

	"github.com/Chocapikk/heapengine/heaperrors"
)

// Varlena marks an attribute as variable-length, matching PostgreSQL's
// pg_attribute.attlen == -1 convention.
const Varlena = -1

// Attr describes one attribute's storage width.
type Attr struct {
	Name string
	Len  int // fixed byte width, or Varlena
}

// Schema is the attribute list a Row is encoded/decoded against, in
// positional order matching relation.Relation.Natts.
type Schema []Attr

const (
	varlenaHeaderSize            = 4
	varlenaExternalBit    uint32 = 0x80000000
	varlenaCompressedBit  uint32 = 0x40000000
	varlenaLenMask        uint32 = 0x3FFFFFFF
)

// Value is one decoded or to-be-encoded attribute. External marks Bytes
// as an already-serialized toast.Pointer rather than the literal value;
// Compressed is a flag carried in the varlena header (this package
// compresses nothing itself); heap sets it on External values from the
// toast pointer's own compressed flag.
type Value struct {
	Bytes      []byte
	Null       bool
	External   bool
	Compressed bool
}

// Row is a positional list of attribute values, one per Schema entry.
type Row []Value

// Encode packs row into a tuple payload. The returned nulls slice has
// one entry per schema attribute and is suitable for driving
// tuple.Tuple.SetNull; hasVarlena reports whether the tuple needs
// tuple.HasVarlena set in its infomask.
func Encode(schema Schema, row Row) (data []byte, nulls []bool, hasVarlena bool, err error) {
	if len(row) != len(schema) {
		return nil, nil, false, heaperrors.Wrap(heaperrors.ErrInvalidOperation,
			fmt.Sprintf("row has %d values, schema has %d attributes", len(row), len(schema)))
	}

	nulls = make([]bool, len(schema))
	var buf []byte

	for i, attr := range schema {
		v := row[i]
		if attr.Len == Varlena {
			hasVarlena = true
		}
		if v.Null {
			nulls[i] = true
			continue
		}

		if attr.Len != Varlena {
			if v.External || v.Compressed {
				return nil, nil, false, heaperrors.Wrap(heaperrors.ErrInvalidOperation,
					fmt.Sprintf("attribute %s: fixed-width attributes cannot be external or compressed", attr.Name))
			}
			if len(v.Bytes) != attr.Len {
				return nil, nil, false, heaperrors.Wrap(heaperrors.ErrInvalidOperation,
					fmt.Sprintf("attribute %s: expected %d bytes, got %d", attr.Name, attr.Len, len(v.Bytes)))
			}
			buf = append(buf, v.Bytes...)
			continue
		}

		header := uint32(len(v.Bytes)) & varlenaLenMask
		if v.External {
			header |= varlenaExternalBit
		}
		if v.Compressed {
			header |= varlenaCompressedBit
		}
		hdr := make([]byte, varlenaHeaderSize)
		binary.LittleEndian.PutUint32(hdr, header)
		buf = append(buf, hdr...)
		buf = append(buf, v.Bytes...)
	}

	return buf, nulls, hasVarlena, nil
}

// Decode unpacks a tuple payload back into a Row. nulls must be the
// per-attribute null bitmap already extracted from the tuple header
// (tuple.Tuple.IsNull for each attnum); data is the tuple's payload.
func Decode(schema Schema, data []byte, nulls []bool) (Row, error) {
	if len(nulls) != len(schema) {
		return nil, heaperrors.Wrap(heaperrors.ErrInvalidOperation, "null bitmap width does not match schema")
	}

	row := make(Row, len(schema))
	offset := 0

	for i, attr := range schema {
		if nulls[i] {
			row[i] = Value{Null: true}
			continue
		}

		if attr.Len != Varlena {
			if offset+attr.Len > len(data) {
				return nil, heaperrors.ErrCorruptedData
			}
			row[i] = Value{Bytes: append([]byte(nil), data[offset:offset+attr.Len]...)}
			offset += attr.Len
			continue
		}

		if offset+varlenaHeaderSize > len(data) {
			return nil, heaperrors.ErrCorruptedData
		}
		header := binary.LittleEndian.Uint32(data[offset : offset+varlenaHeaderSize])
		offset += varlenaHeaderSize

		length := int(header & varlenaLenMask)
		if offset+length > len(data) {
			return nil, heaperrors.ErrCorruptedData
		}
		row[i] = Value{
			Bytes:      append([]byte(nil), data[offset:offset+length]...),
			External:   header&varlenaExternalBit != 0,
			Compressed: header&varlenaCompressedBit != 0,
		}
		offset += length
	}

	return row, nil
}

// Size reports the encoded payload length Encode would produce for row,
// without allocating it; used by callers deciding whether a varlena
// value needs TOASTing before it ever reaches Encode.
func Size(schema Schema, row Row) (int, error) {
	if len(row) != len(schema) {
		return 0, heaperrors.Wrap(heaperrors.ErrInvalidOperation, "row width does not match schema")
	}
	total := 0
	for i, attr := range schema {
		v := row[i]
		if v.Null {
			continue
		}
		if attr.Len != Varlena {
			total += attr.Len
			continue
		}
		total += varlenaHeaderSize + len(v.Bytes)
	}
	return total, nil
}
