package storage

import (
	"encoding/binary"
	"errors"

	"aquadb/pkg/types"
)

// Page type tags, stored in the block header so a fetched block can be
// interpreted without external context.
const (
	PageTypeData    = 1
	PageTypeBTree   = 2
	PageTypeCatalog = 3
	PageTypeHash    = 4
)

var (
	ErrPageFull     = errors.New("storage: page is full")
	ErrSlotNotFound = errors.New("storage: slot not found")
)

// headerSize is the fixed header every HeapPage carries, regardless of
// block size: Type(1) + unused(1) + SpaceStart(2) + SpaceEnd(2) +
// SlotCount(2) + unused(2) + NextBlock(4).
const headerSize = 14

const slotSize = 4 // Offset(2) + Length(2)

// HeapPage is a slotted page: a header, a slot directory that grows forward
// from the header, and a tuple area that grows backward from the end of the
// block. This is the on-disk layout for table heap blocks, B+Tree nodes, and
// hash buckets alike; the Type byte distinguishes them.
type HeapPage struct {
	Data []byte
}

// NewHeapPage initializes a fresh, empty page of the given block size.
func NewHeapPage(blockSize int, pageType uint8) *HeapPage {
	p := &HeapPage{Data: make([]byte, blockSize)}
	p.Data[0] = pageType
	p.setSpaceStart(headerSize)
	p.setSpaceEnd(uint16(blockSize))
	p.setSlotCount(0)
	p.SetNextBlock(types.InvalidBlockID)
	return p
}

// LoadHeapPage wraps raw block bytes read from a BlockManager.
func LoadHeapPage(data []byte) *HeapPage {
	return &HeapPage{Data: data}
}

func (p *HeapPage) Type() uint8 { return p.Data[0] }

func (p *HeapPage) spaceStart() uint16      { return binary.LittleEndian.Uint16(p.Data[2:4]) }
func (p *HeapPage) setSpaceStart(v uint16)  { binary.LittleEndian.PutUint16(p.Data[2:4], v) }
func (p *HeapPage) spaceEnd() uint16        { return binary.LittleEndian.Uint16(p.Data[4:6]) }
func (p *HeapPage) setSpaceEnd(v uint16)    { binary.LittleEndian.PutUint16(p.Data[4:6], v) }
func (p *HeapPage) SlotCount() uint16       { return binary.LittleEndian.Uint16(p.Data[6:8]) }
func (p *HeapPage) setSlotCount(v uint16)   { binary.LittleEndian.PutUint16(p.Data[6:8], v) }

func (p *HeapPage) NextBlock() types.BlockID {
	return types.BlockID(binary.LittleEndian.Uint32(p.Data[10:14]))
}

func (p *HeapPage) SetNextBlock(b types.BlockID) {
	binary.LittleEndian.PutUint32(p.Data[10:14], uint32(b))
}

// slot layout: each slot lives at spaceStart-relative offsets growing toward
// spaceEnd, i.e. slot i occupies Data[headerSize+i*slotSize : +slotSize].
func (p *HeapPage) slotOffset(slot uint16) int { return headerSize + int(slot)*slotSize }

func (p *HeapPage) getSlot(slot uint16) (offset, length uint16) {
	o := p.slotOffset(slot)
	return binary.LittleEndian.Uint16(p.Data[o : o+2]), binary.LittleEndian.Uint16(p.Data[o+2 : o+4])
}

func (p *HeapPage) setSlot(slot uint16, offset, length uint16) {
	o := p.slotOffset(slot)
	binary.LittleEndian.PutUint16(p.Data[o:o+2], offset)
	binary.LittleEndian.PutUint16(p.Data[o+2:o+4], length)
}

// FreeSpace returns the number of bytes available for a new tuple, after
// accounting for the slot entry a new insertion would also need.
func (p *HeapPage) FreeSpace() int {
	return int(p.spaceEnd()) - int(p.spaceStart()) - slotSize
}

// InsertTuple appends data to the tuple area and allocates a new slot for
// it, reusing no existing slot. Returns the new slot number.
func (p *HeapPage) InsertTuple(data []byte) (uint16, error) {
	if p.FreeSpace() < len(data) {
		return 0, ErrPageFull
	}

	newEnd := p.spaceEnd() - uint16(len(data))
	copy(p.Data[newEnd:p.spaceEnd()], data)
	p.setSpaceEnd(newEnd)

	slot := p.SlotCount()
	p.setSlot(slot, newEnd, uint16(len(data)))
	p.setSlotCount(slot + 1)
	p.setSpaceStart(p.spaceStart() + slotSize)
	return slot, nil
}

// GetTuple returns the raw bytes stored at slot, or ErrSlotNotFound if the
// slot is out of range or has been deleted (tombstoned).
func (p *HeapPage) GetTuple(slot uint16) ([]byte, error) {
	if slot >= p.SlotCount() {
		return nil, ErrSlotNotFound
	}
	offset, length := p.getSlot(slot)
	if length == 0 {
		return nil, ErrSlotNotFound
	}
	out := make([]byte, length)
	copy(out, p.Data[offset:offset+length])
	return out, nil
}

// UpdateTuple overwrites a slot's data in place if it still fits; otherwise
// it relocates the tuple within the same page, failing with ErrPageFull only
// if the page has no room for the larger version anywhere.
func (p *HeapPage) UpdateTuple(slot uint16, data []byte) error {
	if slot >= p.SlotCount() {
		return ErrSlotNotFound
	}
	offset, oldLen := p.getSlot(slot)
	newLen := uint16(len(data))

	if newLen <= oldLen {
		copy(p.Data[offset:offset+newLen], data)
		p.setSlot(slot, offset, newLen)
		return nil
	}

	if p.FreeSpace()+slotSize < int(newLen) {
		return ErrPageFull
	}

	newEnd := p.spaceEnd() - newLen
	copy(p.Data[newEnd:p.spaceEnd()], data)
	p.setSpaceEnd(newEnd)
	p.setSlot(slot, newEnd, newLen)
	return nil
}

// DeleteTuple tombstones a slot by zeroing its length. The slot number
// (and therefore any Rid pointing at it) is never reused or shifted.
func (p *HeapPage) DeleteTuple(slot uint16) error {
	if slot >= p.SlotCount() {
		return ErrSlotNotFound
	}
	offset, _ := p.getSlot(slot)
	p.setSlot(slot, offset, 0)
	return nil
}

// SlotTuple pairs a slot number with its tuple bytes.
type SlotTuple struct {
	Slot uint16
	Data []byte
}

// AllTuples returns every live (non-tombstoned) tuple on the page, in slot
// order.
func (p *HeapPage) AllTuples() []SlotTuple {
	var out []SlotTuple
	count := p.SlotCount()
	for i := uint16(0); i < count; i++ {
		offset, length := p.getSlot(i)
		if length == 0 {
			continue
		}
		data := make([]byte, length)
		copy(data, p.Data[offset:offset+length])
		out = append(out, SlotTuple{Slot: i, Data: data})
	}
	return out
}

// Vacuum compacts the tuple area in slot order, reclaiming space left by
// tombstoned slots, without renumbering any live slot.
func (p *HeapPage) Vacuum() {
	count := p.SlotCount()
	type entry struct {
		slot uint16
		data []byte
	}
	entries := make([]entry, 0, count)
	for i := uint16(0); i < count; i++ {
		offset, length := p.getSlot(i)
		if length == 0 {
			continue
		}
		data := make([]byte, length)
		copy(data, p.Data[offset:offset+length])
		entries = append(entries, entry{i, data})
	}

	end := uint16(len(p.Data))
	for _, e := range entries {
		newEnd := end - uint16(len(e.data))
		copy(p.Data[newEnd:end], e.data)
		p.setSlot(e.slot, newEnd, uint16(len(e.data)))
		end = newEnd
	}
	p.setSpaceEnd(end)
}
