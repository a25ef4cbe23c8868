package index

import (
	"encoding/binary"
	"hash/fnv"

	"aquadb/internal/storage"
	"aquadb/pkg/types"
)

// bucketHeaderOffset/Size: LocalDepth(1) + Count(2) + Overflow(4) = 7 bytes,
// placed right after the shared page-type byte, same convention as btree
// nodes.
const (
	bucketHeaderOffset = 1
	bucketHeaderSize   = 7
)

// HashIndex is an extendible hash index: a directory of
// 2^globalDepth slots, each pointing at a bucket block. A bucket that
// overflows either splits (if its local depth is behind the directory's
// global depth) or triggers the directory to double.
//
// The directory itself is kept in memory only and is not persisted; nothing
// rebuilds it after an engine restart, unlike the B+Tree, whose node
// structure is self-describing on disk.
type HashIndex struct {
	table       types.TableID
	pool        *storage.BufferPool
	keySize     int
	blockSize   int
	globalDepth uint8
	directory   []types.BlockID // len == 1<<globalDepth
}

// NewHashIndex creates an index with an initial directory of 2^initialDepth
// buckets, each starting empty.
func NewHashIndex(pool *storage.BufferPool, table types.TableID, keySize, blockSize int, initialDepth uint8) (*HashIndex, error) {
	h := &HashIndex{
		table: table, pool: pool, keySize: keySize, blockSize: blockSize,
		globalDepth: initialDepth,
	}
	n := 1 << initialDepth
	h.directory = make([]types.BlockID, n)
	for i := 0; i < n; i++ {
		block, err := h.newBucket(initialDepth)
		if err != nil {
			return nil, err
		}
		h.directory[i] = block
	}
	return h, nil
}

func (h *HashIndex) newBucket(localDepth uint8) (types.BlockID, error) {
	frame, block, err := h.pool.NewBlock(h.table, storage.PageTypeHash)
	if err != nil {
		return 0, err
	}
	b := &bucket{buf: frame.Page().Data, localDepth: localDepth, overflow: types.InvalidBlockID}
	b.store()
	h.pool.Unpin(h.table, block, true)
	return block, nil
}

// hashCode hashes a raw key to a bucket directory index for the current
// global depth, using the low globalDepth bits of an FNV-1a hash from the
// standard library's hash/fnv package.
func (h *HashIndex) hashCode(key []byte, depth uint8) uint32 {
	f := fnv.New32a()
	f.Write(key)
	sum := f.Sum32()
	if depth == 0 {
		return 0
	}
	return sum & ((1 << depth) - 1)
}

func (h *HashIndex) normalize(key []byte) []byte {
	k := make([]byte, h.keySize)
	copy(k, key)
	return k
}

// bucket is an in-memory view of one hash bucket block, including whatever
// overflow blocks are chained from it (loaded lazily by callers, not here).
type bucket struct {
	buf        []byte
	localDepth uint8
	overflow   types.BlockID
	keys       [][]byte
	values     []types.Rid
	keySize    int
}

func loadBucket(buf []byte, keySize int) *bucket {
	b := &bucket{buf: buf, keySize: keySize}
	b.localDepth = buf[bucketHeaderOffset]
	count := int(binary.LittleEndian.Uint16(buf[bucketHeaderOffset+1 : bucketHeaderOffset+3]))
	b.overflow = types.BlockID(binary.LittleEndian.Uint32(buf[bucketHeaderOffset+3 : bucketHeaderOffset+7]))

	off := bucketHeaderOffset + bucketHeaderSize
	b.keys = make([][]byte, count)
	b.values = make([]types.Rid, count)
	for i := 0; i < count; i++ {
		b.keys[i] = append([]byte(nil), buf[off:off+keySize]...)
		off += keySize
		b.values[i] = decodeRid(buf[off : off+ridSize])
		off += ridSize
	}
	return b
}

func (b *bucket) capacity() int {
	usable := len(b.buf) - bucketHeaderOffset - bucketHeaderSize
	return usable / (b.keySize + ridSize)
}

func (b *bucket) store() {
	b.buf[bucketHeaderOffset] = b.localDepth
	binary.LittleEndian.PutUint16(b.buf[bucketHeaderOffset+1:bucketHeaderOffset+3], uint16(len(b.keys)))
	binary.LittleEndian.PutUint32(b.buf[bucketHeaderOffset+3:bucketHeaderOffset+7], uint32(b.overflow))

	off := bucketHeaderOffset + bucketHeaderSize
	for i := range b.keys {
		copy(b.buf[off:], b.keys[i])
		off += b.keySize
		copy(b.buf[off:], encodeRid(b.values[i]))
		off += ridSize
	}
}

// Insert adds a key -> Rid mapping, splitting a full bucket or doubling the
// directory as needed.
func (h *HashIndex) Insert(keyVal []byte, rid types.Rid) error {
	key := h.normalize(keyVal)
	idx := h.hashCode(key, h.globalDepth)
	block := h.directory[idx]

	frame, err := h.pool.Pin(h.table, block)
	if err != nil {
		return err
	}
	b := loadBucket(frame.Page().Data, h.keySize)

	if len(b.keys) < b.capacity() {
		b.keys = append(b.keys, key)
		b.values = append(b.values, rid)
		b.store()
		h.pool.Unpin(h.table, block, true)
		return nil
	}
	h.pool.Unpin(h.table, block, true)

	if err := h.split(idx); err != nil {
		return err
	}
	return h.Insert(keyVal, rid)
}

// split grows the bucket at directory slot idx: if its local depth is
// already at the global depth, the directory itself doubles first; either
// way the bucket's entries are rehashed across the (now two) slots that
// point at it.
func (h *HashIndex) split(idx uint32) error {
	block := h.directory[idx]
	frame, err := h.pool.Pin(h.table, block)
	if err != nil {
		return err
	}
	b := loadBucket(frame.Page().Data, h.keySize)
	localDepth := b.localDepth
	h.pool.Unpin(h.table, block, false)

	if localDepth == h.globalDepth {
		h.directory = append(h.directory, h.directory...)
		h.globalDepth++
	}

	newLocalDepth := localDepth + 1
	siblingBlock, err := h.newBucket(newLocalDepth)
	if err != nil {
		return err
	}

	// Every directory slot that pointed at `block` and whose low
	// newLocalDepth-1'th bit is set now points at the sibling instead.
	mask := uint32(1) << (newLocalDepth - 1)
	for i := range h.directory {
		if h.directory[i] == block && uint32(i)&mask != 0 {
			h.directory[i] = siblingBlock
		}
	}

	frame, err = h.pool.Pin(h.table, block)
	if err != nil {
		return err
	}
	old := loadBucket(frame.Page().Data, h.keySize)
	old.localDepth = newLocalDepth

	sibFrame, err := h.pool.Pin(h.table, siblingBlock)
	if err != nil {
		h.pool.Unpin(h.table, block, false)
		return err
	}
	sib := loadBucket(sibFrame.Page().Data, h.keySize)

	var kept, moved []int
	for i, k := range old.keys {
		if h.hashCode(k, h.globalDepth)&mask != 0 {
			moved = append(moved, i)
		} else {
			kept = append(kept, i)
		}
	}
	newKeys := make([][]byte, 0, len(kept))
	newValues := make([]types.Rid, 0, len(kept))
	for _, i := range kept {
		newKeys = append(newKeys, old.keys[i])
		newValues = append(newValues, old.values[i])
	}
	for _, i := range moved {
		sib.keys = append(sib.keys, old.keys[i])
		sib.values = append(sib.values, old.values[i])
	}
	old.keys, old.values = newKeys, newValues

	old.store()
	sib.store()
	h.pool.Unpin(h.table, block, true)
	h.pool.Unpin(h.table, siblingBlock, true)
	return nil
}

// indexOf returns the first directory slot pointing at block, or 0 if no
// slot does.
func (h *HashIndex) indexOf(block types.BlockID) int {
	for i, b := range h.directory {
		if b == block {
			return i
		}
	}
	return 0
}

// Search returns every Rid stored for an exact key match. A hash index
// allows duplicate keys; a B+Tree used as a primary key index does not.
func (h *HashIndex) Search(keyVal []byte) ([]types.Rid, error) {
	key := h.normalize(keyVal)
	idx := h.hashCode(key, h.globalDepth)
	block := h.directory[idx]

	var results []types.Rid
	for block != types.InvalidBlockID {
		frame, err := h.pool.Pin(h.table, block)
		if err != nil {
			return results, err
		}
		b := loadBucket(frame.Page().Data, h.keySize)
		for i, k := range b.keys {
			if string(k) == string(key) {
				results = append(results, b.values[i])
			}
		}
		next := b.overflow
		h.pool.Unpin(h.table, block, false)
		block = next
	}
	return results, nil
}

// Delete removes the first matching entry for key, returning whether one
// was found.
func (h *HashIndex) Delete(keyVal []byte) (bool, error) {
	key := h.normalize(keyVal)
	idx := h.hashCode(key, h.globalDepth)
	block := h.directory[idx]

	frame, err := h.pool.Pin(h.table, block)
	if err != nil {
		return false, err
	}
	defer h.pool.Unpin(h.table, block, true)
	b := loadBucket(frame.Page().Data, h.keySize)

	for i, k := range b.keys {
		if string(k) == string(key) {
			b.keys = append(b.keys[:i], b.keys[i+1:]...)
			b.values = append(b.values[:i], b.values[i+1:]...)
			b.store()
			return true, nil
		}
	}
	return false, nil
}

// GlobalDepth reports the directory's current fan-out exponent, for tests
// and diagnostics.
func (h *HashIndex) GlobalDepth() uint8 { return h.globalDepth }
