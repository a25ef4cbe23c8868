package storage

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"aquadb/internal/dblog"
	"aquadb/pkg/types"
)

// ErrPinTimeout is returned when Pin cannot find a free frame within the
// configured timeout, because every frame is pinned by in-flight operators.
var ErrPinTimeout = errors.New("storage: pin timed out, buffer pool exhausted")

// Frame is one slot of the buffer pool: a cached block plus the bookkeeping
// the LIRS replacement policy needs to score it as an eviction victim.
type Frame struct {
	page     *HeapPage
	table    types.TableID
	block    types.BlockID
	bound    bool // false until a block has ever been loaded into this frame
	pinCount int
	dirty    bool

	lastAccess       int64
	secondLastAccess int64
	reuseDistance    int64
}

// touch records a new access at tick `now`, following the LIRS
// reuse-distance bookkeeping: a frame's distance is how long it sat unused
// between its last two touches, and a frame touched for the first time gets
// the maximum possible distance so it doesn't look artificially hot.
func (f *Frame) touch(now int64) {
	if f.lastAccess == 0 {
		f.reuseDistance = math.MaxInt64
	} else {
		f.reuseDistance = now - f.lastAccess
	}
	f.secondLastAccess = f.lastAccess
	f.lastAccess = now
}

// weight scores a frame for eviction: the larger the weight, the colder
// (more evictable) the frame. It is the max of the frame's historical reuse
// distance and how long it has sat untouched since its last access.
func (f *Frame) weight(now int64) int64 {
	sinceAccess := now - f.lastAccess
	if f.reuseDistance > sinceAccess {
		return f.reuseDistance
	}
	return sinceAccess
}

// tblBlock is the (table, block) lookup key for the buffer pool's cache
// index. It has no meaning outside the cache so it lives here, not in
// pkg/types.
type tblBlock struct {
	table types.TableID
	block types.BlockID
}

// BufferPool caches blocks from one or more BlockManagers behind a fixed set
// of frames, evicting by the LIRS reuse-distance heuristic
// rather than plain recency.
type BufferPool struct {
	mu      sync.Mutex
	log     zerolog.Logger
	blocks  map[types.TableID]*BlockManager
	frames  []*Frame
	index   map[tblBlock]int
	clock   int64
	timeout time.Duration

	hits   uint64
	misses uint64
}

// NewBufferPool creates a pool with capacity frames, fronting the given set
// of per-table block managers.
func NewBufferPool(blocks map[types.TableID]*BlockManager, capacity int, pinTimeout time.Duration) *BufferPool {
	bp := &BufferPool{
		log:     dblog.WithComponent("buffer"),
		blocks:  blocks,
		frames:  make([]*Frame, capacity),
		index:   make(map[tblBlock]int),
		timeout: pinTimeout,
	}
	for i := range bp.frames {
		bp.frames[i] = &Frame{}
	}
	return bp
}

// AddTable registers a table's block manager so its blocks can be fetched.
// Called when a table is created or loaded after the pool already exists.
func (bp *BufferPool) AddTable(table types.TableID, bm *BlockManager) {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	bp.blocks[table] = bm
}

func (bp *BufferPool) tick() int64 {
	bp.clock++
	return bp.clock
}

// Pin loads a block into a frame (or returns its already-cached frame) and
// increments its pin count. Callers must call Unpin exactly once per Pin.
func (bp *BufferPool) Pin(table types.TableID, block types.BlockID) (*Frame, error) {
	deadline := time.Now().Add(bp.timeout)

	for {
		bp.mu.Lock()
		key := tblBlock{table, block}

		if i, ok := bp.index[key]; ok {
			f := bp.frames[i]
			f.pinCount++
			f.touch(bp.tick())
			bp.hits++
			bp.mu.Unlock()
			return f, nil
		}
		bp.misses++

		i, ok := bp.findVictim()
		if !ok {
			bp.mu.Unlock()
			if time.Now().After(deadline) {
				return nil, ErrPinTimeout
			}
			time.Sleep(time.Millisecond)
			continue
		}

		f := bp.frames[i]
		if err := bp.evict(f); err != nil {
			bp.mu.Unlock()
			return nil, err
		}

		bm, ok := bp.blocks[table]
		if !ok {
			bp.mu.Unlock()
			return nil, fmt.Errorf("storage: no block manager registered for table %d", table)
		}
		data, err := bm.ReadBlock(block)
		if err != nil {
			bp.mu.Unlock()
			return nil, err
		}

		f.page = LoadHeapPage(data)
		f.table = table
		f.block = block
		f.bound = true
		f.dirty = false
		f.pinCount = 1
		f.touch(bp.tick())
		bp.index[key] = i

		bp.mu.Unlock()
		return f, nil
	}
}

// NewBlock allocates a fresh block on table's file, pins it, and returns its
// frame already initialized as an empty HeapPage of the given type.
func (bp *BufferPool) NewBlock(table types.TableID, pageType uint8) (*Frame, types.BlockID, error) {
	bp.mu.Lock()
	bm, ok := bp.blocks[table]
	bp.mu.Unlock()
	if !ok {
		return nil, 0, fmt.Errorf("storage: no block manager registered for table %d", table)
	}

	block, err := bm.AllocateBlock()
	if err != nil {
		return nil, 0, err
	}

	bp.mu.Lock()
	defer bp.mu.Unlock()

	i, ok := bp.findVictim()
	if !ok {
		return nil, 0, ErrPinTimeout
	}
	f := bp.frames[i]
	if err := bp.evict(f); err != nil {
		return nil, 0, err
	}

	f.page = NewHeapPage(bm.BlockSize(), pageType)
	f.table = table
	f.block = block
	f.bound = true
	f.dirty = true
	f.pinCount = 1
	f.touch(bp.tick())
	bp.index[tblBlock{table, block}] = i

	return f, block, nil
}

// Unpin releases a pin taken by Pin or NewBlock. dirty, once true for a
// frame, stays true until the frame is flushed.
func (bp *BufferPool) Unpin(table types.TableID, block types.BlockID, dirty bool) {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	i, ok := bp.index[tblBlock{table, block}]
	if !ok {
		return
	}
	f := bp.frames[i]
	if dirty {
		f.dirty = true
	}
	if f.pinCount > 0 {
		f.pinCount--
	}
}

// findVictim must be called with mu held. It prefers an unbound (never
// used) frame, then the unpinned frame with the largest LIRS weight.
func (bp *BufferPool) findVictim() (int, bool) {
	for i, f := range bp.frames {
		if !f.bound {
			return i, true
		}
	}

	now := bp.clock
	best := -1
	var bestWeight int64 = -1
	for i, f := range bp.frames {
		if f.pinCount > 0 {
			continue
		}
		w := f.weight(now)
		if w > bestWeight {
			bestWeight = w
			best = i
		}
	}
	if best == -1 {
		return 0, false
	}
	return best, true
}

// evict must be called with mu held, on a frame already chosen as a victim.
// It flushes the frame if dirty (WriteBlock fsyncs before returning, so a
// page stolen under pin pressure mid-statement is still durable) and
// removes it from the index.
func (bp *BufferPool) evict(f *Frame) error {
	if !f.bound {
		return nil
	}
	if f.dirty {
		bm, ok := bp.blocks[f.table]
		if !ok {
			return fmt.Errorf("storage: no block manager for table %d during eviction", f.table)
		}
		if err := bm.WriteBlock(f.block, f.page.Data); err != nil {
			return err
		}
	}
	delete(bp.index, tblBlock{f.table, f.block})
	return nil
}

// Flush writes one frame's page back to disk if dirty, without evicting it.
func (bp *BufferPool) Flush(table types.TableID, block types.BlockID) error {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	i, ok := bp.index[tblBlock{table, block}]
	if !ok {
		return nil
	}
	f := bp.frames[i]
	if !f.dirty {
		return nil
	}
	bm, ok := bp.blocks[table]
	if !ok {
		return fmt.Errorf("storage: no block manager for table %d", table)
	}
	if err := bm.WriteBlock(block, f.page.Data); err != nil {
		return err
	}
	f.dirty = false
	return nil
}

// FlushAll writes every dirty frame back to disk and fsyncs every table
// file touched. This is the engine's closest analogue to a checkpoint; it
// does not coordinate with the WAL, which owns its own durability contract.
func (bp *BufferPool) FlushAll() error {
	bp.mu.Lock()
	touched := make(map[types.TableID]bool)
	for _, f := range bp.frames {
		if !f.bound || !f.dirty {
			continue
		}
		bm, ok := bp.blocks[f.table]
		if !ok {
			bp.mu.Unlock()
			return fmt.Errorf("storage: no block manager for table %d", f.table)
		}
		if err := bm.WriteBlock(f.block, f.page.Data); err != nil {
			bp.mu.Unlock()
			return err
		}
		f.dirty = false
		touched[f.table] = true
	}
	bp.mu.Unlock()

	for table := range touched {
		if err := bp.blocks[table].Sync(); err != nil {
			return err
		}
	}
	return nil
}

// Page returns the HeapPage wrapped by a pinned frame.
func (f *Frame) Page() *HeapPage { return f.page }

// MarkDirty flags a pinned frame as dirty without changing its pin count,
// used by callers that mutate a page in place outside of Unpin's dirty flag.
func (f *Frame) MarkDirty() { f.dirty = true }

// Stats reports cumulative hit/miss counters for diagnostics.
func (bp *BufferPool) Stats() (hits, misses uint64) {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	return bp.hits, bp.misses
}
