package storage

import (
	"sort"
	"sync"

	"aquadb/pkg/types"
)

// FreeSpaceMap tracks, per table, which blocks have spare room for a new
// tuple. It is an ordered multimap keyed by free-byte count quantized down
// to the nearest Granularity bytes, so many blocks with "close enough" free
// space share a bucket.
//
// The map is rebuilt in memory from a full heap scan when a table is opened
// (see TableManager.rebuildFreeSpaceMap); it is not itself persisted.
type FreeSpaceMap struct {
	mu          sync.Mutex
	granularity int
	buckets     map[int][]types.BlockID // quantized free bytes -> blocks
}

// NewFreeSpaceMap creates an empty map quantizing to the given granularity
// (default: 10 bytes).
func NewFreeSpaceMap(granularity int) *FreeSpaceMap {
	if granularity <= 0 {
		granularity = 10
	}
	return &FreeSpaceMap{granularity: granularity, buckets: make(map[int][]types.BlockID)}
}

func (m *FreeSpaceMap) quantize(freeBytes int) int {
	return (freeBytes / m.granularity) * m.granularity
}

// Add records that block has freeBytes of free space, quantized down.
func (m *FreeSpaceMap) Add(block types.BlockID, freeBytes int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q := m.quantize(freeBytes)
	m.buckets[q] = append(m.buckets[q], block)
}

// Remove drops block from whatever bucket it was recorded in. It is a no-op
// if the block isn't tracked.
func (m *FreeSpaceMap) Remove(block types.BlockID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for q, blocks := range m.buckets {
		for i, b := range blocks {
			if b == block {
				m.buckets[q] = append(blocks[:i], blocks[i+1:]...)
				if len(m.buckets[q]) == 0 {
					delete(m.buckets, q)
				}
				return
			}
		}
	}
}

// Reserve finds the block with the smallest quantized free-space bucket that
// holds at least need+granularity bytes, removes it from the map, and
// returns it. ok is false
// if no tracked block can fit the tuple; the caller should allocate a fresh
// block instead.
func (m *FreeSpaceMap) Reserve(need int) (block types.BlockID, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	threshold := need + m.granularity
	best := -1
	for q := range m.buckets {
		if q < threshold {
			continue
		}
		if best == -1 || q < best {
			best = q
		}
	}
	if best == -1 {
		return 0, false
	}

	blocks := m.buckets[best]
	block = blocks[0]
	m.buckets[best] = blocks[1:]
	if len(m.buckets[best]) == 0 {
		delete(m.buckets, best)
	}
	return block, true
}

// Buckets returns the quantized free-byte keys currently tracked, sorted
// ascending. It exists mainly for tests and diagnostics.
func (m *FreeSpaceMap) Buckets() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]int, 0, len(m.buckets))
	for q := range m.buckets {
		keys = append(keys, q)
	}
	sort.Ints(keys)
	return keys
}
