package storage

import (
	"aquadb/pkg/types"
)

// TableManager owns one table's chain of heap blocks and is the only
// component that turns Values into tuple bytes and back. It consults a
// FreeSpaceMap to pick an insertion target instead of always appending, and
// it marks rows deleted in place (via the tuple's tombstone byte) rather
// than physically removing them; HeapPage.Vacuum reclaims that space later.
type TableManager struct {
	pool   *BufferPool
	table  types.TableID
	layout *Layout
	fsm    *FreeSpaceMap

	firstBlock types.BlockID
	lastBlock  types.BlockID
}

// NewTableManager creates the first block of a brand-new table.
func NewTableManager(pool *BufferPool, table types.TableID, layout *Layout, granularity int) (*TableManager, error) {
	_, block, err := pool.NewBlock(table, PageTypeData)
	if err != nil {
		return nil, err
	}
	pool.Unpin(table, block, true)

	return &TableManager{
		pool:       pool,
		table:      table,
		layout:     layout,
		fsm:        NewFreeSpaceMap(granularity),
		firstBlock: block,
		lastBlock:  block,
	}, nil
}

// LoadTableManager wraps an existing table whose chain already starts at
// firstBlock and ends at lastBlock, rebuilding its free space map from a
// scan (mirrors recovery: the FSM itself is never persisted).
func LoadTableManager(pool *BufferPool, table types.TableID, layout *Layout, granularity int, firstBlock, lastBlock types.BlockID) (*TableManager, error) {
	tm := &TableManager{
		pool:       pool,
		table:      table,
		layout:     layout,
		fsm:        NewFreeSpaceMap(granularity),
		firstBlock: firstBlock,
		lastBlock:  lastBlock,
	}
	if err := tm.rebuildFreeSpaceMap(); err != nil {
		return nil, err
	}
	return tm, nil
}

func (tm *TableManager) rebuildFreeSpaceMap() error {
	block := tm.firstBlock
	for block != types.InvalidBlockID {
		frame, err := tm.pool.Pin(tm.table, block)
		if err != nil {
			return err
		}
		free := frame.Page().FreeSpace()
		next := frame.Page().NextBlock()
		tm.pool.Unpin(tm.table, block, false)

		if free > 0 {
			tm.fsm.Add(block, free)
		}
		if block == tm.lastBlock {
			break
		}
		block = next
	}
	return nil
}

// Insert encodes values and places the resulting tuple on whichever block
// the free space map thinks has room, falling back to a fresh block
// appended to the chain.
func (tm *TableManager) Insert(values []types.Value) (types.Rid, error) {
	data, err := EncodeTuple(tm.layout, values)
	if err != nil {
		return types.Rid{}, err
	}

	if block, ok := tm.fsm.Reserve(len(data)); ok {
		frame, err := tm.pool.Pin(tm.table, block)
		if err != nil {
			return types.Rid{}, err
		}
		slot, err := frame.Page().InsertTuple(data)
		if err == nil {
			free := frame.Page().FreeSpace()
			tm.pool.Unpin(tm.table, block, true)
			if free > 0 {
				tm.fsm.Add(block, free)
			}
			return types.Rid{Table: tm.table, Block: block, Slot: slot}, nil
		}
		tm.pool.Unpin(tm.table, block, false)
		// Fell through: the quantized estimate was stale. Allocate fresh.
	}

	frame, block, err := tm.pool.NewBlock(tm.table, PageTypeData)
	if err != nil {
		return types.Rid{}, err
	}
	prevLast := tm.lastBlock
	tm.lastBlock = block

	prevFrame, err := tm.pool.Pin(tm.table, prevLast)
	if err == nil {
		prevFrame.Page().SetNextBlock(block)
		prevFrame.MarkDirty()
		tm.pool.Unpin(tm.table, prevLast, true)
	}

	slot, err := frame.Page().InsertTuple(data)
	if err != nil {
		tm.pool.Unpin(tm.table, block, false)
		return types.Rid{}, err
	}
	free := frame.Page().FreeSpace()
	tm.pool.Unpin(tm.table, block, true)
	if free > 0 {
		tm.fsm.Add(block, free)
	}
	return types.Rid{Table: tm.table, Block: block, Slot: slot}, nil
}

// Get decodes the tuple at rid, or returns (nil, ErrSlotNotFound) if it was
// physically removed by a vacuum. A soft-deleted-but-not-yet-vacuumed row is
// still returned, as ordinary values; Get does not report its tombstone.
func (tm *TableManager) Get(rid types.Rid) ([]types.Value, error) {
	frame, err := tm.pool.Pin(tm.table, rid.Block)
	if err != nil {
		return nil, err
	}
	defer tm.pool.Unpin(tm.table, rid.Block, false)

	data, err := frame.Page().GetTuple(rid.Slot)
	if err != nil {
		return nil, err
	}
	return DecodeTuple(tm.layout, data)
}

// Update re-encodes values and writes them back in place at rid.
func (tm *TableManager) Update(rid types.Rid, values []types.Value) error {
	data, err := EncodeTuple(tm.layout, values)
	if err != nil {
		return err
	}
	frame, err := tm.pool.Pin(tm.table, rid.Block)
	if err != nil {
		return err
	}
	defer tm.pool.Unpin(tm.table, rid.Block, true)

	if err := frame.Page().UpdateTuple(rid.Slot, data); err != nil {
		return err
	}
	if free := frame.Page().FreeSpace(); free > 0 {
		tm.fsm.Add(rid.Block, free)
	}
	return nil
}

// Delete tombstones the tuple at rid in place; its slot and Rid remain
// valid until a Vacuum physically reclaims the space.
func (tm *TableManager) Delete(rid types.Rid) error {
	frame, err := tm.pool.Pin(tm.table, rid.Block)
	if err != nil {
		return err
	}
	defer tm.pool.Unpin(tm.table, rid.Block, true)

	data, err := frame.Page().GetTuple(rid.Slot)
	if err != nil {
		return err
	}
	MarkDeleted(data)
	return frame.Page().UpdateTuple(rid.Slot, data)
}

// ScanEntry pairs a Rid with its decoded values for Scan's results.
type ScanEntry struct {
	Rid    types.Rid
	Values []types.Value
}

// Scan walks the block chain and returns every live (non-tombstoned) tuple.
func (tm *TableManager) Scan() ([]ScanEntry, error) {
	var out []ScanEntry
	block := tm.firstBlock
	for block != types.InvalidBlockID {
		frame, err := tm.pool.Pin(tm.table, block)
		if err != nil {
			return nil, err
		}
		next := frame.Page().NextBlock()
		for _, st := range frame.Page().AllTuples() {
			if IsDeletedTuple(st.Data) {
				continue
			}
			values, err := DecodeTuple(tm.layout, st.Data)
			if err != nil {
				continue
			}
			out = append(out, ScanEntry{
				Rid:    types.Rid{Table: tm.table, Block: block, Slot: st.Slot},
				Values: values,
			})
		}
		tm.pool.Unpin(tm.table, block, false)

		if block == tm.lastBlock {
			break
		}
		block = next
	}
	return out, nil
}

// Vacuum physically reclaims tombstoned slots block by block. Live Rids are
// preserved (slot numbers never shift); only already-deleted slots lose
// their storage.
func (tm *TableManager) Vacuum() (reclaimed int, err error) {
	block := tm.firstBlock
	for block != types.InvalidBlockID {
		frame, perr := tm.pool.Pin(tm.table, block)
		if perr != nil {
			return reclaimed, perr
		}
		page := frame.Page()
		next := page.NextBlock()

		before := page.FreeSpace()
		for _, st := range page.AllTuples() {
			if IsDeletedTuple(st.Data) {
				_ = page.DeleteTuple(st.Slot)
			}
		}
		page.Vacuum()
		after := page.FreeSpace()
		reclaimed += after - before

		tm.pool.Unpin(tm.table, block, true)
		if after > before {
			tm.fsm.Add(block, after)
		}

		if block == tm.lastBlock {
			break
		}
		block = next
	}
	return reclaimed, nil
}

func (tm *TableManager) FirstBlock() types.BlockID { return tm.firstBlock }
func (tm *TableManager) LastBlock() types.BlockID  { return tm.lastBlock }
func (tm *TableManager) Layout() *Layout           { return tm.layout }
