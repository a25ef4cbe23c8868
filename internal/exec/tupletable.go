package exec

import (
	"bufio"
	"container/heap"
	"encoding/binary"
	"fmt"
	"os"
	"sort"

	"aquadb/pkg/types"
)

// TupleTable buffers rows in memory up to a working-set budget and spills
// the rest to temporary segment files, so a sort or a large intermediate
// result never has to fit in the process's memory all at once. A sort key
// set via SetSortKey is applied to each batch right before it spills, so
// every segment (plus the final in-memory tail) becomes an independently
// sorted run that SortedIterator merges back together.
type TupleTable struct {
	maxBytes int64
	inMemory []types.Row
	memBytes int64
	segments []string
	rowWidth int // column count of the last appended row; not read
	less     func(a, b types.Row) bool
}

// NewTupleTable creates an empty table that spills once its in-memory rows
// exceed maxBytes.
func NewTupleTable(maxBytes int64) *TupleTable {
	return &TupleTable{maxBytes: maxBytes}
}

// SetSortKey configures the ordering used to sort each run before it spills
// and to merge runs back together in SortedIterator.
func (t *TupleTable) SetSortKey(less func(a, b types.Row) bool) {
	t.less = less
}

func rowSize(r types.Row) int64 {
	n := int64(16) // rough fixed overhead per row
	for _, v := range r.Values {
		n += int64(len(v.Str)) + 16
	}
	return n
}

// Append adds a row, spilling the current in-memory batch to a new segment
// file first if it would push memory use over budget.
func (t *TupleTable) Append(r types.Row) error {
	size := rowSize(r)
	if t.maxBytes > 0 && t.memBytes+size > t.maxBytes && len(t.inMemory) > 0 {
		if err := t.spill(); err != nil {
			return err
		}
	}
	t.rowWidth = len(r.Values)
	t.inMemory = append(t.inMemory, r)
	t.memBytes += size
	return nil
}

func (t *TupleTable) spill() error {
	if t.less != nil {
		sort.SliceStable(t.inMemory, func(i, j int) bool { return t.less(t.inMemory[i], t.inMemory[j]) })
	}

	f, err := os.CreateTemp("", "aquadb-tuptbl-*.seg")
	if err != nil {
		return err
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	for _, r := range t.inMemory {
		if err := writeRow(w, r); err != nil {
			return err
		}
	}
	if err := w.Flush(); err != nil {
		return err
	}
	t.segments = append(t.segments, f.Name())
	t.inMemory = t.inMemory[:0]
	t.memBytes = 0
	return nil
}

func writeRow(w *bufio.Writer, r types.Row) error {
	if err := binary.Write(w, binary.LittleEndian, uint16(len(r.Values))); err != nil {
		return err
	}
	for _, v := range r.Values {
		if err := writeValue(w, v); err != nil {
			return err
		}
	}
	return nil
}

func writeValue(w *bufio.Writer, v types.Value) error {
	w.WriteByte(byte(v.Type))
	if v.Null {
		w.WriteByte(1)
		return nil
	}
	w.WriteByte(0)
	switch v.Type {
	case types.TypeInt:
		return binary.Write(w, binary.LittleEndian, v.Int)
	case types.TypeBool:
		if v.Bool {
			return w.WriteByte(1)
		}
		return w.WriteByte(0)
	case types.TypeVarchar:
		if err := binary.Write(w, binary.LittleEndian, uint32(len(v.Str))); err != nil {
			return err
		}
		_, err := w.WriteString(v.Str)
		return err
	}
	return fmt.Errorf("exec: unknown value type %v", v.Type)
}

func readRow(r *bufio.Reader) (types.Row, error) {
	var n uint16
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return types.Row{}, err
	}
	values := make([]types.Value, n)
	for i := range values {
		v, err := readValue(r)
		if err != nil {
			return types.Row{}, err
		}
		values[i] = v
	}
	return types.Row{Values: values}, nil
}

func readValue(r *bufio.Reader) (types.Value, error) {
	t, err := r.ReadByte()
	if err != nil {
		return types.Value{}, err
	}
	isNull, err := r.ReadByte()
	if err != nil {
		return types.Value{}, err
	}
	v := types.Value{Type: types.Type(t)}
	if isNull == 1 {
		v.Null = true
		return v, nil
	}
	switch v.Type {
	case types.TypeInt:
		if err := binary.Read(r, binary.LittleEndian, &v.Int); err != nil {
			return types.Value{}, err
		}
	case types.TypeBool:
		b, err := r.ReadByte()
		if err != nil {
			return types.Value{}, err
		}
		v.Bool = b == 1
	case types.TypeVarchar:
		var ln uint32
		if err := binary.Read(r, binary.LittleEndian, &ln); err != nil {
			return types.Value{}, err
		}
		buf := make([]byte, ln)
		if _, err := readFull(r, buf); err != nil {
			return types.Value{}, err
		}
		v.Str = string(buf)
	}
	return v, nil
}

func readFull(r *bufio.Reader, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := r.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// Close removes any segment files this table spilled.
func (t *TupleTable) Close() error {
	for _, path := range t.segments {
		os.Remove(path)
	}
	t.segments = nil
	return nil
}

// sortedRun is one already-sorted sequence of rows: either a spilled segment
// file or the final in-memory tail.
type sortedRun interface {
	next() (types.Row, bool, error)
	close()
}

type segmentRun struct {
	file   *os.File
	reader *bufio.Reader
}

func (s *segmentRun) next() (types.Row, bool, error) {
	row, err := readRow(s.reader)
	if err != nil {
		return types.Row{}, false, nil
	}
	return row, true, nil
}

func (s *segmentRun) close() { s.file.Close() }

type memRun struct {
	rows []types.Row
	pos  int
}

func (m *memRun) next() (types.Row, bool, error) {
	if m.pos >= len(m.rows) {
		return types.Row{}, false, nil
	}
	row := m.rows[m.pos]
	m.pos++
	return row, true, nil
}

func (m *memRun) close() {}

type mergeItem struct {
	row    types.Row
	runIdx int
}

// mergeHeap is the priority queue driving the k-way merge: the smallest
// buffered row across all runs sits at the top.
type mergeHeap struct {
	items []mergeItem
	less  func(a, b types.Row) bool
}

func (h *mergeHeap) Len() int            { return len(h.items) }
func (h *mergeHeap) Less(i, j int) bool  { return h.less(h.items[i].row, h.items[j].row) }
func (h *mergeHeap) Swap(i, j int)       { h.items[i], h.items[j] = h.items[j], h.items[i] }
func (h *mergeHeap) Push(x any)          { h.items = append(h.items, x.(mergeItem)) }
func (h *mergeHeap) Pop() any {
	old := h.items
	n := len(old)
	item := old[n-1]
	h.items = old[:n-1]
	return item
}

// MergeIter performs a k-way merge over every sorted run a TupleTable holds
// (run generation already happened in spill/SortedIterator), keeping only
// one buffered row per run in memory regardless of how many rows the run
// holds on disk — the bounded-memory half of an external merge sort.
type MergeIter struct {
	runs []sortedRun
	heap *mergeHeap
}

// SortedIterator sorts the in-memory tail, treats every spilled segment as
// an already-sorted run (spill sorted it before writing), and returns a
// cursor that merges all runs into a single ascending-by-less sequence.
// Requires SetSortKey to have been called first.
func (t *TupleTable) SortedIterator() (*MergeIter, error) {
	if t.less == nil {
		return nil, fmt.Errorf("exec: SortedIterator requires SetSortKey")
	}

	var runs []sortedRun
	for _, path := range t.segments {
		f, err := os.Open(path)
		if err != nil {
			for _, r := range runs {
				r.close()
			}
			return nil, err
		}
		runs = append(runs, &segmentRun{file: f, reader: bufio.NewReader(f)})
	}
	if len(t.inMemory) > 0 {
		tail := append([]types.Row{}, t.inMemory...)
		sort.SliceStable(tail, func(i, j int) bool { return t.less(tail[i], tail[j]) })
		runs = append(runs, &memRun{rows: tail})
	}

	h := &mergeHeap{less: t.less}
	for i, r := range runs {
		row, ok, err := r.next()
		if err != nil {
			return nil, err
		}
		if ok {
			heap.Push(h, mergeItem{row: row, runIdx: i})
		}
	}
	return &MergeIter{runs: runs, heap: h}, nil
}

// Next returns rows in ascending merge order, or ok=false once every run is
// exhausted.
func (m *MergeIter) Next() (types.Row, bool, error) {
	if m.heap.Len() == 0 {
		return types.Row{}, false, nil
	}
	top := heap.Pop(m.heap).(mergeItem)
	row, ok, err := m.runs[top.runIdx].next()
	if err != nil {
		return types.Row{}, false, err
	}
	if ok {
		heap.Push(m.heap, mergeItem{row: row, runIdx: top.runIdx})
	}
	return top.row, true, nil
}

// Close releases every run's open segment file.
func (m *MergeIter) Close() {
	for _, r := range m.runs {
		r.close()
	}
}
