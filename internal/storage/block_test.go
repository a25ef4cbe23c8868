package storage

import (
	"testing"

	"aquadb/pkg/types"
)

func TestBlockManagerAllocateWriteRead(t *testing.T) {
	dir := t.TempDir()
	bm, err := OpenBlockManager(dir, types.TableID(1), 256)
	if err != nil {
		t.Fatalf("OpenBlockManager() error = %v", err)
	}
	defer bm.Close()

	if bm.NumBlocks() != 0 {
		t.Fatalf("NumBlocks() = %d, want 0 on a fresh file", bm.NumBlocks())
	}

	id, err := bm.AllocateBlock()
	if err != nil {
		t.Fatalf("AllocateBlock() error = %v", err)
	}
	if id != 0 {
		t.Errorf("AllocateBlock() id = %d, want 0", id)
	}
	if bm.NumBlocks() != 1 {
		t.Errorf("NumBlocks() = %d, want 1", bm.NumBlocks())
	}

	payload := make([]byte, bm.BlockSize())
	copy(payload, []byte("hello block"))
	if err := bm.WriteBlock(id, payload); err != nil {
		t.Fatalf("WriteBlock() error = %v", err)
	}

	got, err := bm.ReadBlock(id)
	if err != nil {
		t.Fatalf("ReadBlock() error = %v", err)
	}
	if string(got[:len("hello block")]) != "hello block" {
		t.Errorf("ReadBlock() = %q, want payload round trip", got[:len("hello block")])
	}
}

func TestBlockManagerWriteRejectsWrongSize(t *testing.T) {
	dir := t.TempDir()
	bm, err := OpenBlockManager(dir, types.TableID(1), 256)
	if err != nil {
		t.Fatalf("OpenBlockManager() error = %v", err)
	}
	defer bm.Close()

	id, err := bm.AllocateBlock()
	if err != nil {
		t.Fatalf("AllocateBlock() error = %v", err)
	}
	if err := bm.WriteBlock(id, make([]byte, 10)); err == nil {
		t.Errorf("WriteBlock() with wrong size error = nil, want an error")
	}
}

func TestBlockManagerReadMissingBlockErrors(t *testing.T) {
	dir := t.TempDir()
	bm, err := OpenBlockManager(dir, types.TableID(1), 256)
	if err != nil {
		t.Fatalf("OpenBlockManager() error = %v", err)
	}
	defer bm.Close()

	if _, err := bm.ReadBlock(0); err == nil {
		t.Errorf("ReadBlock() on empty file error = nil, want an error")
	}
}

func TestBlockManagerPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	bm, err := OpenBlockManager(dir, types.TableID(1), 256)
	if err != nil {
		t.Fatalf("OpenBlockManager() error = %v", err)
	}
	if _, err := bm.AllocateBlock(); err != nil {
		t.Fatalf("AllocateBlock() error = %v", err)
	}
	if _, err := bm.AllocateBlock(); err != nil {
		t.Fatalf("AllocateBlock() error = %v", err)
	}
	if err := bm.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	reopened, err := OpenBlockManager(dir, types.TableID(1), 256)
	if err != nil {
		t.Fatalf("OpenBlockManager() reopen error = %v", err)
	}
	defer reopened.Close()
	if reopened.NumBlocks() != 2 {
		t.Errorf("NumBlocks() after reopen = %d, want 2", reopened.NumBlocks())
	}
}
