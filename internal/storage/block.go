// Package storage implements the disk-resident layers of the engine: the
// block manager, the buffer pool, the slotted heap page, the free space map,
// and the tuple codec.
package storage

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"aquadb/internal/dblog"
	"aquadb/pkg/types"
)

const (
	blockHeaderSize = 16 // Magic(8) + Version(4) + NumBlocks(4)
	blockMagic      = uint64(0x41515541424C4B53) // "AQUABLKS"
	blockVersion    = uint32(1)
)

// BlockManager owns a single table's data file and is the only component
// that issues raw reads, writes, and fsyncs against it. Every table gets its
// own BlockManager, opened under DataDir/<tableID>.blk.
type BlockManager struct {
	mu         sync.Mutex
	file       *os.File
	path       string
	blockSize  int
	numBlocks  uint32
}

// OpenBlockManager creates or opens the data file for a table.
func OpenBlockManager(dataDir string, table types.TableID, blockSize int) (*BlockManager, error) {
	path := filepath.Join(dataDir, fmt.Sprintf("%d.blk", table))
	bm := &BlockManager{path: path, blockSize: blockSize}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
		if err != nil {
			return nil, fmt.Errorf("storage: creating %s: %w", path, err)
		}
		bm.file = f
		if err := bm.writeHeader(); err != nil {
			f.Close()
			return nil, err
		}
	} else {
		f, err := os.OpenFile(path, os.O_RDWR, 0644)
		if err != nil {
			return nil, fmt.Errorf("storage: opening %s: %w", path, err)
		}
		bm.file = f
		if err := bm.readHeader(); err != nil {
			f.Close()
			return nil, err
		}
	}

	dblog.WithComponent("block").Debug().Str("path", path).Uint32("blocks", bm.numBlocks).Msg("opened table file")
	return bm, nil
}

func (bm *BlockManager) writeHeader() error {
	header := make([]byte, blockHeaderSize)
	binary.LittleEndian.PutUint64(header[0:8], blockMagic)
	binary.LittleEndian.PutUint32(header[8:12], blockVersion)
	binary.LittleEndian.PutUint32(header[12:16], bm.numBlocks)
	if _, err := bm.file.WriteAt(header, 0); err != nil {
		return fmt.Errorf("storage: writing header: %w", err)
	}
	return bm.file.Sync()
}

func (bm *BlockManager) readHeader() error {
	header := make([]byte, blockHeaderSize)
	n, err := bm.file.ReadAt(header, 0)
	if err != nil || n < blockHeaderSize {
		return fmt.Errorf("storage: reading header: %w", err)
	}
	if binary.LittleEndian.Uint64(header[0:8]) != blockMagic {
		return fmt.Errorf("storage: bad magic in %s", bm.path)
	}
	if binary.LittleEndian.Uint32(header[8:12]) != blockVersion {
		return fmt.Errorf("storage: unsupported version in %s", bm.path)
	}
	bm.numBlocks = binary.LittleEndian.Uint32(header[12:16])
	return nil
}

func (bm *BlockManager) offset(id types.BlockID) int64 {
	return int64(blockHeaderSize) + int64(id)*int64(bm.blockSize)
}

// ReadBlock reads one block's raw bytes.
func (bm *BlockManager) ReadBlock(id types.BlockID) ([]byte, error) {
	bm.mu.Lock()
	defer bm.mu.Unlock()

	if uint32(id) >= bm.numBlocks {
		return nil, fmt.Errorf("storage: block %d does not exist", id)
	}
	buf := make([]byte, bm.blockSize)
	n, err := bm.file.ReadAt(buf, bm.offset(id))
	if err != nil || n != bm.blockSize {
		return nil, fmt.Errorf("storage: reading block %d: %w", id, err)
	}
	return buf, nil
}

// WriteBlock writes one block's raw bytes and fsyncs before returning, so a
// caller never believes a write is durable before it actually is.
func (bm *BlockManager) WriteBlock(id types.BlockID, data []byte) error {
	bm.mu.Lock()
	defer bm.mu.Unlock()

	if len(data) != bm.blockSize {
		return fmt.Errorf("storage: block write size %d != block size %d", len(data), bm.blockSize)
	}
	n, err := bm.file.WriteAt(data, bm.offset(id))
	if err != nil || n != bm.blockSize {
		return fmt.Errorf("storage: writing block %d: %w", id, err)
	}
	if err := bm.file.Sync(); err != nil {
		return fmt.Errorf("storage: fsyncing block %d: %w", id, err)
	}
	return nil
}

// AllocateBlock extends the file by one zeroed block and returns its id.
func (bm *BlockManager) AllocateBlock() (types.BlockID, error) {
	bm.mu.Lock()
	id := types.BlockID(bm.numBlocks)
	bm.numBlocks++
	bm.mu.Unlock()

	if err := bm.writeHeader(); err != nil {
		bm.mu.Lock()
		bm.numBlocks--
		bm.mu.Unlock()
		return 0, err
	}

	empty := make([]byte, bm.blockSize)
	if err := bm.WriteBlock(id, empty); err != nil {
		return 0, err
	}
	return id, nil
}

// NumBlocks returns the current block count.
func (bm *BlockManager) NumBlocks() uint32 {
	bm.mu.Lock()
	defer bm.mu.Unlock()
	return bm.numBlocks
}

// BlockSize returns the fixed block size this manager was opened with.
func (bm *BlockManager) BlockSize() int { return bm.blockSize }

// Sync forces pending writes to stable storage.
func (bm *BlockManager) Sync() error {
	bm.mu.Lock()
	defer bm.mu.Unlock()
	return bm.file.Sync()
}

// Close releases the underlying file descriptor.
func (bm *BlockManager) Close() error {
	bm.mu.Lock()
	defer bm.mu.Unlock()
	return bm.file.Close()
}
