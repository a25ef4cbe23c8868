package storage

import "testing"

func TestHeapPageInsertAndGetTuple(t *testing.T) {
	p := NewHeapPage(256, PageTypeData)

	slot, err := p.InsertTuple([]byte("row one"))
	if err != nil {
		t.Fatalf("InsertTuple() error = %v", err)
	}
	if slot != 0 {
		t.Errorf("InsertTuple() slot = %d, want 0", slot)
	}

	got, err := p.GetTuple(slot)
	if err != nil {
		t.Fatalf("GetTuple() error = %v", err)
	}
	if string(got) != "row one" {
		t.Errorf("GetTuple() = %q, want %q", got, "row one")
	}
}

func TestHeapPageFullReturnsErrPageFull(t *testing.T) {
	p := NewHeapPage(32, PageTypeData)
	if _, err := p.InsertTuple(make([]byte, 64)); err != ErrPageFull {
		t.Errorf("InsertTuple() oversized error = %v, want ErrPageFull", err)
	}
}

func TestHeapPageDeleteTombstonesWithoutShiftingSlots(t *testing.T) {
	p := NewHeapPage(256, PageTypeData)
	first, _ := p.InsertTuple([]byte("a"))
	second, _ := p.InsertTuple([]byte("b"))

	if err := p.DeleteTuple(first); err != nil {
		t.Fatalf("DeleteTuple() error = %v", err)
	}
	if _, err := p.GetTuple(first); err != ErrSlotNotFound {
		t.Errorf("GetTuple(deleted) error = %v, want ErrSlotNotFound", err)
	}

	got, err := p.GetTuple(second)
	if err != nil || string(got) != "b" {
		t.Errorf("GetTuple(second) = %q, %v, want %q, nil", got, err, "b")
	}
	if p.SlotCount() != 2 {
		t.Errorf("SlotCount() after delete = %d, want 2 (slots never renumber)", p.SlotCount())
	}
}

func TestHeapPageUpdateTupleInPlaceAndRelocate(t *testing.T) {
	p := NewHeapPage(256, PageTypeData)
	slot, _ := p.InsertTuple([]byte("short"))

	if err := p.UpdateTuple(slot, []byte("sh")); err != nil {
		t.Fatalf("UpdateTuple(shrink) error = %v", err)
	}
	if got, _ := p.GetTuple(slot); string(got) != "sh" {
		t.Errorf("GetTuple() after shrink = %q, want %q", got, "sh")
	}

	if err := p.UpdateTuple(slot, []byte("a much longer replacement value")); err != nil {
		t.Fatalf("UpdateTuple(grow) error = %v", err)
	}
	if got, _ := p.GetTuple(slot); string(got) != "a much longer replacement value" {
		t.Errorf("GetTuple() after grow = %q, want the relocated value", got)
	}
}

func TestHeapPageAllTuplesSkipsTombstones(t *testing.T) {
	p := NewHeapPage(256, PageTypeData)
	p.InsertTuple([]byte("keep1"))
	dead, _ := p.InsertTuple([]byte("drop"))
	p.InsertTuple([]byte("keep2"))
	p.DeleteTuple(dead)

	all := p.AllTuples()
	if len(all) != 2 {
		t.Fatalf("AllTuples() len = %d, want 2", len(all))
	}
	if string(all[0].Data) != "keep1" || string(all[1].Data) != "keep2" {
		t.Errorf("AllTuples() = %+v, want keep1 then keep2", all)
	}
}

func TestHeapPageVacuumReclaimsSpaceWithoutRenumbering(t *testing.T) {
	p := NewHeapPage(128, PageTypeData)
	keep, _ := p.InsertTuple([]byte("keep"))
	dead, _ := p.InsertTuple([]byte("garbage-to-reclaim"))
	before := p.FreeSpace()
	p.DeleteTuple(dead)

	p.Vacuum()

	if p.FreeSpace() <= before {
		t.Errorf("FreeSpace() after Vacuum = %d, want more than pre-vacuum free space %d", p.FreeSpace(), before)
	}
	got, err := p.GetTuple(keep)
	if err != nil || string(got) != "keep" {
		t.Errorf("GetTuple(keep) after Vacuum = %q, %v, want %q, nil", got, err, "keep")
	}
}

func TestHeapPageLoadRoundTripsBytes(t *testing.T) {
	original := NewHeapPage(256, PageTypeBTree)
	original.InsertTuple([]byte("payload"))

	reloaded := LoadHeapPage(original.Data)
	if reloaded.Type() != PageTypeBTree {
		t.Errorf("Type() after LoadHeapPage = %d, want %d", reloaded.Type(), PageTypeBTree)
	}
	got, err := reloaded.GetTuple(0)
	if err != nil || string(got) != "payload" {
		t.Errorf("GetTuple() after LoadHeapPage = %q, %v, want %q, nil", got, err, "payload")
	}
}
