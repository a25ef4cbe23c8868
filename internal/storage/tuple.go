package storage

import (
	"encoding/binary"
	"fmt"

	"aquadb/pkg/types"
)

// Layout reorders a schema's fields the way tuples actually pack them:
// every constant-width field first, in schema order, followed by every
// variable-width field, in schema order. Fixed fields pack tightly; variable
// fields get a pointer slot so tuples can be scanned without decoding their
// payload.
type Layout struct {
	fields []types.Column
	// order[i] is the schema index of the field stored in position i.
	order  []int
	offset []int // byte offset of each position's fixed-width slot, or -1
}

// NewLayout builds a Layout from a schema.
func NewLayout(schema *types.Schema) *Layout {
	l := &Layout{fields: schema.Columns}

	offset := 0
	for i, c := range schema.Columns {
		if !c.Type.NeedsPointer() {
			l.order = append(l.order, i)
			l.offset = append(l.offset, offset)
			offset += c.Type.UnitSize()
		}
	}
	for i, c := range schema.Columns {
		if c.Type.NeedsPointer() {
			l.order = append(l.order, i)
			l.offset = append(l.offset, offset)
			offset += 4 // pointer slot: offset(u16) + length(u16)
		}
	}
	return l
}

func (l *Layout) FieldCount() int { return len(l.fields) }

func (l *Layout) bitmapSize() int {
	n := len(l.fields)
	if n%8 == 0 {
		return n / 8
	}
	return n/8 + 1
}

// position returns this layout's storage position for schema field index i.
func (l *Layout) position(schemaIndex int) int {
	for pos, idx := range l.order {
		if idx == schemaIndex {
			return pos
		}
	}
	return -1
}

// EncodeTuple serializes values (in schema order, one per field) into the
// on-disk tuple format:
//
//	deleted(1) | null-bitmap(ceil(n/8)) | fixed fields in layout order |
//	pointer area (offset:u16,len:u16 per variable field) | variable payload
func EncodeTuple(layout *Layout, values []types.Value) ([]byte, error) {
	if len(values) != len(layout.fields) {
		return nil, fmt.Errorf("storage: expected %d values, got %d", len(layout.fields), len(values))
	}

	bitmap := make([]byte, layout.bitmapSize())
	for i, v := range values {
		if v.Null {
			bitmap[i/8] |= 1 << uint(i%8)
		}
	}

	// Fixed region size and variable payloads, in layout order.
	fixedSize := 0
	var varPayloads [][]byte
	for _, schemaIdx := range layout.order {
		c := layout.fields[schemaIdx]
		if c.Type.NeedsPointer() {
			continue
		}
		fixedSize += c.Type.UnitSize()
	}
	for _, schemaIdx := range layout.order {
		c := layout.fields[schemaIdx]
		if !c.Type.NeedsPointer() {
			continue
		}
		v := values[schemaIdx]
		if v.Null {
			varPayloads = append(varPayloads, nil)
			continue
		}
		varPayloads = append(varPayloads, []byte(v.Str))
	}

	numVar := len(varPayloads)
	pointerAreaSize := numVar * 4
	varTotal := 0
	for _, p := range varPayloads {
		varTotal += len(p)
	}

	headerLen := 1 + len(bitmap)
	buf := make([]byte, headerLen+fixedSize+pointerAreaSize+varTotal)

	buf[0] = 0 // not deleted
	copy(buf[1:1+len(bitmap)], bitmap)

	fixedBase := headerLen
	pointerBase := headerLen + fixedSize
	varBase := pointerBase + pointerAreaSize
	varCursor := varBase

	varSlot := 0
	for pos, schemaIdx := range layout.order {
		c := layout.fields[schemaIdx]
		v := values[schemaIdx]
		off := layout.offset[pos]

		if !c.Type.NeedsPointer() {
			if v.Null {
				continue // zeroed region already
			}
			dst := buf[fixedBase+off:]
			switch c.Type {
			case types.TypeInt:
				binary.LittleEndian.PutUint64(dst, uint64(v.Int))
			case types.TypeBool:
				if v.Bool {
					dst[0] = 1
				}
			}
			continue
		}

		payload := varPayloads[varSlot]
		ptrOff := pointerBase + (off - fixedSize)
		if v.Null {
			binary.LittleEndian.PutUint16(buf[ptrOff:], 0)
			binary.LittleEndian.PutUint16(buf[ptrOff+2:], 0)
		} else {
			binary.LittleEndian.PutUint16(buf[ptrOff:], uint16(varCursor))
			binary.LittleEndian.PutUint16(buf[ptrOff+2:], uint16(len(payload)))
			copy(buf[varCursor:], payload)
			varCursor += len(payload)
		}
		varSlot++
	}

	return buf, nil
}

// DecodeTuple is the inverse of EncodeTuple. IsDeletedTuple reports the leading
// tombstone byte, read before the caller decides whether to bother decoding
// the rest (vacuum and scans skip deleted tuples without fully decoding).
func DecodeTuple(layout *Layout, data []byte) ([]types.Value, error) {
	if len(data) < 1+layout.bitmapSize() {
		return nil, fmt.Errorf("storage: tuple buffer too small")
	}
	bitmap := data[1 : 1+layout.bitmapSize()]

	fixedSize := 0
	for _, schemaIdx := range layout.order {
		if !layout.fields[schemaIdx].Type.NeedsPointer() {
			fixedSize += layout.fields[schemaIdx].Type.UnitSize()
		}
	}
	headerLen := 1 + len(bitmap)
	fixedBase := headerLen
	pointerBase := headerLen + fixedSize

	values := make([]types.Value, len(layout.fields))
	for pos, schemaIdx := range layout.order {
		c := layout.fields[schemaIdx]
		isNull := bitmap[schemaIdx/8]&(1<<uint(schemaIdx%8)) != 0
		off := layout.offset[pos]

		if isNull {
			values[schemaIdx] = types.NullValue(c.Type)
			continue
		}

		if !c.Type.NeedsPointer() {
			src := data[fixedBase+off:]
			switch c.Type {
			case types.TypeInt:
				values[schemaIdx] = types.IntValue(int64(binary.LittleEndian.Uint64(src)))
			case types.TypeBool:
				values[schemaIdx] = types.BoolValue(src[0] != 0)
			}
			continue
		}

		ptrOff := pointerBase + (off - fixedSize)
		voff := binary.LittleEndian.Uint16(data[ptrOff:])
		vlen := binary.LittleEndian.Uint16(data[ptrOff+2:])
		values[schemaIdx] = types.StrValue(string(data[voff : voff+vlen]))
	}
	return values, nil
}

// IsDeletedTuple reports a tuple buffer's tombstone flag without decoding
// its fields.
func IsDeletedTuple(data []byte) bool {
	return len(data) > 0 && data[0] != 0
}

// MarkDeleted sets the tombstone flag on an already-encoded tuple buffer.
func MarkDeleted(data []byte) {
	if len(data) > 0 {
		data[0] = 1
	}
}
