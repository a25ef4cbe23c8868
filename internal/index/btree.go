// Package index implements the engine's two index structures: a clustered
// B+Tree and an extendible hash index, both built directly on the buffer
// pool's frames rather than going through HeapPage's slotted layout (index
// nodes have their own fixed-entry layout with no need for a free-form slot
// directory).
package index

import (
	"bytes"
	"encoding/binary"

	"aquadb/internal/storage"
	"aquadb/pkg/types"
)

// EncodeKey renders a Value into a fixed-width, order-preserving byte
// string: bytes.Compare on two encoded keys agrees with Value.Compare on the
// original values. INT flips its sign bit so negatives sort before
// positives under an unsigned big-endian comparison; VARCHAR is copied
// as-is and zero-padded; BOOL is a single byte.
func EncodeKey(val types.Value, keySize int) []byte {
	key := make([]byte, keySize)
	switch val.Type {
	case types.TypeInt:
		u := uint64(val.Int) ^ (1 << 63)
		binary.BigEndian.PutUint64(key[0:8], u)
	case types.TypeVarchar:
		copy(key, []byte(val.Str))
	case types.TypeBool:
		if val.Bool {
			key[0] = 0x01
		}
	}
	return key
}

const (
	// node header, within the block right after the shared type byte:
	// IsLeaf(1) + KeyCount(2) + NextLeaf(4) = 7 bytes.
	btreeHeaderOffset = 1
	btreeHeaderSize   = 7
	ridSize           = 10 // Block(4) + Slot(2) + Table(4)
)

func encodeRid(r types.Rid) []byte {
	buf := make([]byte, ridSize)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(r.Block))
	binary.LittleEndian.PutUint16(buf[4:6], r.Slot)
	binary.LittleEndian.PutUint32(buf[6:10], uint32(r.Table))
	return buf
}

func decodeRid(buf []byte) types.Rid {
	return types.Rid{
		Block: types.BlockID(binary.LittleEndian.Uint32(buf[0:4])),
		Slot:  binary.LittleEndian.Uint16(buf[4:6]),
		Table: types.TableID(binary.LittleEndian.Uint32(buf[6:10])),
	}
}

// BTree is a clustered B+Tree index: leaves hold (key, Rid) pairs and are
// chained via NextLeaf so a range scan can walk them without returning to
// internal nodes.
type BTree struct {
	table   types.TableID
	pool    *storage.BufferPool
	root    types.BlockID
	keySize int
	order   int // max children of an internal node
}

// NewBTree creates an empty B+Tree (a single empty leaf as root) for table,
// sized for keys of keySize bytes.
func NewBTree(pool *storage.BufferPool, table types.TableID, keySize, blockSize int) (*BTree, error) {
	bt := &BTree{table: table, pool: pool, keySize: keySize, order: order(blockSize, keySize)}

	frame, block, err := pool.NewBlock(table, storage.PageTypeBTree)
	if err != nil {
		return nil, err
	}
	n := &node{buf: frame.Page().Data, isLeaf: true, nextLeaf: types.InvalidBlockID}
	n.store()
	pool.Unpin(table, block, true)
	bt.root = block
	return bt, nil
}

// LoadBTree wraps an existing B+Tree whose root is already at rootBlock.
func LoadBTree(pool *storage.BufferPool, table types.TableID, rootBlock types.BlockID, keySize, blockSize int) *BTree {
	return &BTree{table: table, pool: pool, root: rootBlock, keySize: keySize, order: order(blockSize, keySize)}
}

func order(blockSize, keySize int) int {
	usable := blockSize - btreeHeaderOffset - btreeHeaderSize
	perEntry := keySize + ridSize
	o := usable / perEntry
	if o < 3 {
		o = 3
	}
	return o
}

func (bt *BTree) RootBlock() types.BlockID { return bt.root }

// node is an in-memory view over a B+Tree block's bytes.
type node struct {
	buf      []byte
	isLeaf   bool
	keyCount int
	nextLeaf types.BlockID // leaves only
	keys     [][]byte
	children []types.BlockID // internal only, len = keyCount+1
	values   []types.Rid     // leaf only, len = keyCount
	keySize  int
}

func loadNode(buf []byte, keySize int) *node {
	n := &node{buf: buf, keySize: keySize}
	n.isLeaf = buf[btreeHeaderOffset] == 1
	n.keyCount = int(binary.LittleEndian.Uint16(buf[btreeHeaderOffset+1 : btreeHeaderOffset+3]))
	n.nextLeaf = types.BlockID(binary.LittleEndian.Uint32(buf[btreeHeaderOffset+3 : btreeHeaderOffset+7]))

	off := btreeHeaderOffset + btreeHeaderSize
	n.keys = make([][]byte, n.keyCount)

	if n.isLeaf {
		n.values = make([]types.Rid, n.keyCount)
		for i := 0; i < n.keyCount; i++ {
			n.keys[i] = append([]byte(nil), buf[off:off+keySize]...)
			off += keySize
			n.values[i] = decodeRid(buf[off : off+ridSize])
			off += ridSize
		}
	} else {
		n.children = make([]types.BlockID, n.keyCount+1)
		n.children[0] = types.BlockID(binary.LittleEndian.Uint32(buf[off:]))
		off += 4
		for i := 0; i < n.keyCount; i++ {
			n.keys[i] = append([]byte(nil), buf[off:off+keySize]...)
			off += keySize
			n.children[i+1] = types.BlockID(binary.LittleEndian.Uint32(buf[off:]))
			off += 4
		}
	}
	return n
}

func (n *node) store() {
	if n.isLeaf {
		n.buf[btreeHeaderOffset] = 1
	} else {
		n.buf[btreeHeaderOffset] = 0
	}
	binary.LittleEndian.PutUint16(n.buf[btreeHeaderOffset+1:btreeHeaderOffset+3], uint16(n.keyCount))
	binary.LittleEndian.PutUint32(n.buf[btreeHeaderOffset+3:btreeHeaderOffset+7], uint32(n.nextLeaf))

	off := btreeHeaderOffset + btreeHeaderSize
	if n.isLeaf {
		for i := 0; i < n.keyCount; i++ {
			copy(n.buf[off:], n.keys[i])
			off += n.keySize
			copy(n.buf[off:], encodeRid(n.values[i]))
			off += ridSize
		}
		return
	}
	binary.LittleEndian.PutUint32(n.buf[off:], uint32(n.children[0]))
	off += 4
	for i := 0; i < n.keyCount; i++ {
		copy(n.buf[off:], n.keys[i])
		off += n.keySize
		binary.LittleEndian.PutUint32(n.buf[off:], uint32(n.children[i+1]))
		off += 4
	}
}

func (bt *BTree) normalize(key []byte) []byte {
	k := make([]byte, bt.keySize)
	copy(k, key)
	return k
}

// findLeaf descends from root to the leaf that should contain key, pinning
// and unpinning internal nodes along the way but returning the leaf's block
// still pinned, along with the block ids of the ancestors visited (for use
// by Insert's split propagation).
func (bt *BTree) findLeaf(key []byte) (block types.BlockID, n *node, path []types.BlockID, err error) {
	block = bt.root
	for {
		frame, ferr := bt.pool.Pin(bt.table, block)
		if ferr != nil {
			return 0, nil, nil, ferr
		}
		n = loadNode(frame.Page().Data, bt.keySize)
		if n.isLeaf {
			return block, n, path, nil
		}
		path = append(path, block)

		childIdx := 0
		for i := 0; i < n.keyCount; i++ {
			if bytes.Compare(key, n.keys[i]) >= 0 {
				childIdx = i + 1
			} else {
				break
			}
		}
		next := n.children[childIdx]
		bt.pool.Unpin(bt.table, block, false)
		block = next
	}
}

// Insert adds or overwrites a key -> Rid mapping.
func (bt *BTree) Insert(keyVal []byte, rid types.Rid) error {
	key := bt.normalize(keyVal)
	block, leaf, path, err := bt.findLeaf(key)
	if err != nil {
		return err
	}

	idx := 0
	replaced := false
	for i := 0; i < leaf.keyCount; i++ {
		cmp := bytes.Compare(key, leaf.keys[i])
		if cmp == 0 {
			leaf.values[i] = rid
			replaced = true
			idx = i
			break
		}
		if cmp > 0 {
			idx = i + 1
		}
	}
	if !replaced {
		leaf.keys = append(leaf.keys, nil)
		leaf.values = append(leaf.values, types.Rid{})
		copy(leaf.keys[idx+1:], leaf.keys[idx:])
		copy(leaf.values[idx+1:], leaf.values[idx:])
		leaf.keys[idx] = key
		leaf.values[idx] = rid
		leaf.keyCount++
	}
	leaf.store()

	if leaf.keyCount >= bt.order {
		if err := bt.splitLeaf(block, leaf, path); err != nil {
			bt.pool.Unpin(bt.table, block, true)
			return err
		}
	}
	bt.pool.Unpin(bt.table, block, true)
	return nil
}

func (bt *BTree) splitLeaf(block types.BlockID, leaf *node, path []types.BlockID) error {
	newFrame, newBlock, err := bt.pool.NewBlock(bt.table, storage.PageTypeBTree)
	if err != nil {
		return err
	}
	mid := leaf.keyCount / 2
	newNode := &node{buf: newFrame.Page().Data, isLeaf: true, keySize: bt.keySize, nextLeaf: leaf.nextLeaf}
	newNode.keys = append([][]byte(nil), leaf.keys[mid:]...)
	newNode.values = append([]types.Rid(nil), leaf.values[mid:]...)
	newNode.keyCount = len(newNode.keys)
	newNode.store()

	leaf.keys = leaf.keys[:mid]
	leaf.values = leaf.values[:mid]
	leaf.keyCount = mid
	leaf.nextLeaf = newBlock
	leaf.store()

	bt.pool.Unpin(bt.table, newBlock, true)

	return bt.insertIntoParent(path, block, newNode.keys[0], newBlock)
}

func (bt *BTree) insertIntoParent(path []types.BlockID, left types.BlockID, splitKey []byte, right types.BlockID) error {
	if len(path) == 0 {
		frame, block, err := bt.pool.NewBlock(bt.table, storage.PageTypeBTree)
		if err != nil {
			return err
		}
		root := &node{
			buf: frame.Page().Data, isLeaf: false, keySize: bt.keySize,
			keyCount: 1, keys: [][]byte{splitKey}, children: []types.BlockID{left, right},
		}
		root.store()
		bt.pool.Unpin(bt.table, block, true)
		bt.root = block
		return nil
	}

	parentBlock := path[len(path)-1]
	frame, err := bt.pool.Pin(bt.table, parentBlock)
	if err != nil {
		return err
	}
	parent := loadNode(frame.Page().Data, bt.keySize)

	idx := 0
	for i := 0; i < parent.keyCount; i++ {
		if bytes.Compare(splitKey, parent.keys[i]) > 0 {
			idx = i + 1
		}
	}
	parent.keys = append(parent.keys, nil)
	parent.children = append(parent.children, 0)
	copy(parent.keys[idx+1:], parent.keys[idx:])
	copy(parent.children[idx+2:], parent.children[idx+1:])
	parent.keys[idx] = splitKey
	parent.children[idx+1] = right
	parent.keyCount++
	parent.store()

	if parent.keyCount >= bt.order {
		if err := bt.splitInternal(parentBlock, parent, path[:len(path)-1]); err != nil {
			bt.pool.Unpin(bt.table, parentBlock, true)
			return err
		}
	}
	bt.pool.Unpin(bt.table, parentBlock, true)
	return nil
}

func (bt *BTree) splitInternal(block types.BlockID, n *node, path []types.BlockID) error {
	frame, newBlock, err := bt.pool.NewBlock(bt.table, storage.PageTypeBTree)
	if err != nil {
		return err
	}
	mid := n.keyCount / 2
	promote := n.keys[mid]

	newNode := &node{buf: frame.Page().Data, isLeaf: false, keySize: bt.keySize}
	newNode.keys = append([][]byte(nil), n.keys[mid+1:]...)
	newNode.children = append([]types.BlockID(nil), n.children[mid+1:]...)
	newNode.keyCount = len(newNode.keys)
	newNode.store()

	n.keys = n.keys[:mid]
	n.children = n.children[:mid+1]
	n.keyCount = mid
	n.store()

	bt.pool.Unpin(bt.table, newBlock, true)
	return bt.insertIntoParent(path, block, promote, newBlock)
}

// Search returns the Rid stored for an exact key match.
func (bt *BTree) Search(keyVal []byte) (types.Rid, bool, error) {
	key := bt.normalize(keyVal)
	block, leaf, _, err := bt.findLeaf(key)
	if err != nil {
		return types.Rid{}, false, err
	}
	defer bt.pool.Unpin(bt.table, block, false)

	for i := 0; i < leaf.keyCount; i++ {
		if bytes.Equal(leaf.keys[i], key) {
			return leaf.values[i], true, nil
		}
	}
	return types.Rid{}, false, nil
}

// Delete removes a key, returning whether it was present.
func (bt *BTree) Delete(keyVal []byte) (bool, error) {
	key := bt.normalize(keyVal)
	block, leaf, _, err := bt.findLeaf(key)
	if err != nil {
		return false, err
	}
	defer bt.pool.Unpin(bt.table, block, true)

	for i := 0; i < leaf.keyCount; i++ {
		if bytes.Equal(leaf.keys[i], key) {
			leaf.keys = append(leaf.keys[:i], leaf.keys[i+1:]...)
			leaf.values = append(leaf.values[:i], leaf.values[i+1:]...)
			leaf.keyCount--
			leaf.store()
			return true, nil
		}
	}
	return false, nil
}

// RangeScan returns every Rid whose key lies in [start, end], following
// leaf NextLeaf pointers so results are not limited to a single leaf block.
func (bt *BTree) RangeScan(startKey, endKey []byte) ([]types.Rid, error) {
	start := bt.normalize(startKey)
	end := bt.normalize(endKey)

	block, leaf, _, err := bt.findLeaf(start)
	if err != nil {
		return nil, err
	}

	var results []types.Rid
	for {
		for i := 0; i < leaf.keyCount; i++ {
			if bytes.Compare(leaf.keys[i], start) >= 0 && bytes.Compare(leaf.keys[i], end) <= 0 {
				results = append(results, leaf.values[i])
			}
		}
		next := leaf.nextLeaf
		bt.pool.Unpin(bt.table, block, false)

		if next == types.InvalidBlockID {
			break
		}
		frame, err := bt.pool.Pin(bt.table, next)
		if err != nil {
			return results, err
		}
		block = next
		leaf = loadNode(frame.Page().Data, bt.keySize)
		if leaf.keyCount == 0 || bytes.Compare(leaf.keys[0], end) > 0 {
			bt.pool.Unpin(bt.table, block, false)
			break
		}
	}
	return results, nil
}

// ScanAll returns every Rid in the index, leftmost leaf to rightmost.
func (bt *BTree) ScanAll() ([]types.Rid, error) {
	block, leaf, _, err := bt.leftmostLeaf()
	if err != nil {
		return nil, err
	}
	var results []types.Rid
	for {
		results = append(results, leaf.values...)
		next := leaf.nextLeaf
		bt.pool.Unpin(bt.table, block, false)
		if next == types.InvalidBlockID {
			break
		}
		frame, err := bt.pool.Pin(bt.table, next)
		if err != nil {
			return results, err
		}
		block = next
		leaf = loadNode(frame.Page().Data, bt.keySize)
	}
	return results, nil
}

func (bt *BTree) leftmostLeaf() (types.BlockID, *node, []types.BlockID, error) {
	block := bt.root
	var path []types.BlockID
	for {
		frame, err := bt.pool.Pin(bt.table, block)
		if err != nil {
			return 0, nil, nil, err
		}
		n := loadNode(frame.Page().Data, bt.keySize)
		if n.isLeaf {
			return block, n, path, nil
		}
		path = append(path, block)
		next := n.children[0]
		bt.pool.Unpin(bt.table, block, false)
		block = next
	}
}
