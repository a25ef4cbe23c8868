// Package exec implements the physical operators the planner assembles
// into a pull-based (Volcano-style) execution tree: each operator pulls rows
// from its children on demand via Next, returning an explicit error alongside
// the usual value and ok results.
package exec

import (
	"fmt"
	"strings"

	"aquadb/internal/catalog"
	"aquadb/internal/index"
	"aquadb/internal/plan"
	"aquadb/internal/storage"
	"aquadb/pkg/types"
)

// Operator is one node of a physical plan.
type Operator interface {
	Open() error
	Next() (types.Row, bool, error)
	Close() error
	Columns() []string
}

func colIndex(cols []string, name string) int {
	for i, c := range cols {
		if c == name {
			return i
		}
	}
	return -1
}

// EvalExprPublic evaluates a scalar expression against a row under the
// given column names. It is exported so the planner can apply UPDATE/DELETE
// predicates directly, without routing them through an Operator.
func EvalExprPublic(e plan.Expr, cols []string, row types.Row) (types.Value, error) {
	return evalExpr(e, cols, row)
}

// evalExpr evaluates a scalar expression against a row under the given
// column names.
func evalExpr(e plan.Expr, cols []string, row types.Row) (types.Value, error) {
	switch n := e.(type) {
	case plan.Literal:
		return n.Value, nil
	case plan.ColumnRef:
		i := colIndex(cols, n.Name)
		if i < 0 {
			return types.Value{}, fmt.Errorf("exec: unknown column %q", n.Name)
		}
		return row.Values[i], nil
	case plan.BinaryOp:
		return evalBinary(n, cols, row)
	default:
		return types.Value{}, fmt.Errorf("exec: unsupported expression %T", e)
	}
}

func evalBinary(n plan.BinaryOp, cols []string, row types.Row) (types.Value, error) {
	if n.Op == "AND" || n.Op == "OR" {
		l, err := evalExpr(n.Left, cols, row)
		if err != nil {
			return types.Value{}, err
		}
		r, err := evalExpr(n.Right, cols, row)
		if err != nil {
			return types.Value{}, err
		}
		if n.Op == "AND" {
			return types.BoolValue(!l.Null && !r.Null && l.Bool && r.Bool), nil
		}
		return types.BoolValue((!l.Null && l.Bool) || (!r.Null && r.Bool)), nil
	}

	l, err := evalExpr(n.Left, cols, row)
	if err != nil {
		return types.Value{}, err
	}
	r, err := evalExpr(n.Right, cols, row)
	if err != nil {
		return types.Value{}, err
	}
	if l.Null || r.Null {
		return types.Value{Null: true}, nil
	}
	cmp := l.Compare(r)
	switch n.Op {
	case "=":
		return types.BoolValue(cmp == 0), nil
	case "!=":
		return types.BoolValue(cmp != 0), nil
	case "<":
		return types.BoolValue(cmp < 0), nil
	case "<=":
		return types.BoolValue(cmp <= 0), nil
	case ">":
		return types.BoolValue(cmp > 0), nil
	case ">=":
		return types.BoolValue(cmp >= 0), nil
	default:
		return types.Value{}, fmt.Errorf("exec: unknown operator %q", n.Op)
	}
}

// SeqScanOp reads every live row of a table, in block order.
type SeqScanOp struct {
	table   *catalog.Table
	cols    []string
	entries []storage.ScanEntry
	pos     int
}

func NewSeqScanOp(table *catalog.Table) *SeqScanOp {
	cols := make([]string, len(table.Schema.Columns))
	for i, c := range table.Schema.Columns {
		cols[i] = c.Name
	}
	return &SeqScanOp{table: table, cols: cols}
}

func (s *SeqScanOp) Open() error {
	entries, err := s.table.Heap.Scan()
	if err != nil {
		return err
	}
	s.entries = entries
	s.pos = 0
	return nil
}

func (s *SeqScanOp) Next() (types.Row, bool, error) {
	if s.pos >= len(s.entries) {
		return types.Row{}, false, nil
	}
	row := types.Row{Values: s.entries[s.pos].Values}
	s.pos++
	return row, true, nil
}

func (s *SeqScanOp) Close() error       { return nil }
func (s *SeqScanOp) Columns() []string  { return s.cols }

// IndexScanOp probes a B+Tree or hash index for an exact key match or range,
// then fetches each matching row from the table heap.
type IndexScanOp struct {
	table    *catalog.Table
	cols     []string
	btree    *index.BTree
	hash     *index.HashIndex
	keyField int
	key      *types.Value
	low, high *types.Value

	rids []types.Rid
	pos  int
}

func NewIndexScanOp(table *catalog.Table, btree *index.BTree, hash *index.HashIndex, keyField int, key, low, high *types.Value) *IndexScanOp {
	cols := make([]string, len(table.Schema.Columns))
	for i, c := range table.Schema.Columns {
		cols[i] = c.Name
	}
	return &IndexScanOp{table: table, cols: cols, btree: btree, hash: hash, keyField: keyField, key: key, low: low, high: high}
}

func (s *IndexScanOp) Open() error {
	keySize := indexKeySize(s.table.Schema.Columns[s.keyField])

	switch {
	case s.low != nil && s.high != nil:
		if s.btree == nil {
			return fmt.Errorf("exec: range scan requires a B+Tree index")
		}
		rids, err := s.btree.RangeScan(index.EncodeKey(*s.low, keySize), index.EncodeKey(*s.high, keySize))
		if err != nil {
			return err
		}
		s.rids = rids
	case s.key != nil:
		enc := index.EncodeKey(*s.key, keySize)
		if s.hash != nil {
			rids, err := s.hash.Search(enc)
			if err != nil {
				return err
			}
			s.rids = rids
		} else {
			rid, ok, err := s.btree.Search(enc)
			if err != nil {
				return err
			}
			if ok {
				s.rids = []types.Rid{rid}
			}
		}
	default:
		rids, err := s.btree.ScanAll()
		if err != nil {
			return err
		}
		s.rids = rids
	}
	s.pos = 0
	return nil
}

func indexKeySize(c types.Column) int {
	if c.Type == types.TypeVarchar {
		if c.CharLimit > 0 {
			return int(c.CharLimit)
		}
		return 64
	}
	return 8
}

func (s *IndexScanOp) Next() (types.Row, bool, error) {
	for s.pos < len(s.rids) {
		rid := s.rids[s.pos]
		s.pos++
		values, err := s.table.Heap.Get(rid)
		if err == storage.ErrSlotNotFound {
			continue
		}
		if err != nil {
			return types.Row{}, false, err
		}
		return types.Row{Values: values}, true, nil
	}
	return types.Row{}, false, nil
}

func (s *IndexScanOp) Close() error      { return nil }
func (s *IndexScanOp) Columns() []string { return s.cols }

// FilterOp keeps only rows for which Predicate evaluates true.
type FilterOp struct {
	Child     Operator
	Predicate plan.Expr
}

func (f *FilterOp) Open() error { return f.Child.Open() }

func (f *FilterOp) Next() (types.Row, bool, error) {
	cols := f.Child.Columns()
	for {
		row, ok, err := f.Child.Next()
		if err != nil || !ok {
			return types.Row{}, ok, err
		}
		v, err := evalExpr(f.Predicate, cols, row)
		if err != nil {
			return types.Row{}, false, err
		}
		if !v.Null && v.Bool {
			return row, true, nil
		}
	}
}

func (f *FilterOp) Close() error      { return f.Child.Close() }
func (f *FilterOp) Columns() []string { return f.Child.Columns() }

// ProjectOp narrows each row down to Fields, in order.
type ProjectOp struct {
	Child  Operator
	Fields []string
	idx    []int
}

func (p *ProjectOp) Open() error {
	if err := p.Child.Open(); err != nil {
		return err
	}
	cols := p.Child.Columns()
	p.idx = make([]int, len(p.Fields))
	for i, f := range p.Fields {
		p.idx[i] = colIndex(cols, f)
	}
	return nil
}

func (p *ProjectOp) Next() (types.Row, bool, error) {
	row, ok, err := p.Child.Next()
	if err != nil || !ok {
		return types.Row{}, ok, err
	}
	out := make([]types.Value, len(p.idx))
	for i, ci := range p.idx {
		if ci >= 0 {
			out[i] = row.Values[ci]
		}
	}
	return types.Row{Values: out}, true, nil
}

func (p *ProjectOp) Close() error      { return p.Child.Close() }
func (p *ProjectOp) Columns() []string { return p.Fields }

// SortOp buffers Child's rows in a TupleTable up to workingMemBytes,
// spilling each full batch to disk as its own sorted run past that budget,
// then returns rows via a k-way merge across every run: a textbook external
// merge sort, never holding more than one buffered row per run plus the
// in-memory working set in process memory at once.
type SortOp struct {
	Child           Operator
	Keys            []plan.SortKey
	WorkingMemBytes int64

	tbl  *TupleTable
	iter *MergeIter
}

func (s *SortOp) Open() error {
	if err := s.Child.Open(); err != nil {
		return err
	}

	cols := s.Child.Columns()
	keyIdx := make([]int, len(s.Keys))
	for i, k := range s.Keys {
		keyIdx[i] = colIndex(cols, k.Field)
	}
	less := func(a, b types.Row) bool {
		for i, ki := range keyIdx {
			if ki < 0 {
				continue
			}
			cmp := a.Values[ki].Compare(b.Values[ki])
			if cmp == 0 {
				continue
			}
			if s.Keys[i].Desc {
				return cmp > 0
			}
			return cmp < 0
		}
		return false
	}

	s.tbl = NewTupleTable(s.WorkingMemBytes)
	s.tbl.SetSortKey(less)
	for {
		row, ok, err := s.Child.Next()
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		if err := s.tbl.Append(row); err != nil {
			return err
		}
	}

	it, err := s.tbl.SortedIterator()
	if err != nil {
		return err
	}
	s.iter = it
	return nil
}

func (s *SortOp) Next() (types.Row, bool, error) {
	return s.iter.Next()
}

func (s *SortOp) Close() error {
	if s.iter != nil {
		s.iter.Close()
	}
	if s.tbl != nil {
		s.tbl.Close()
	}
	return s.Child.Close()
}
func (s *SortOp) Columns() []string { return s.Child.Columns() }

func rowKey(row types.Row) string {
	var b strings.Builder
	for _, v := range row.Values {
		fmt.Fprintf(&b, "%d:%v|", v.Type, v.String())
	}
	return b.String()
}

// DeDupOp removes duplicate rows (compared on every field) from an
// already-produced stream. It keeps a set of every row it has emitted, so
// duplicates are removed whether or not the child's output is sorted.
type DeDupOp struct {
	Child Operator
	seen  map[string]bool
}

func (d *DeDupOp) Open() error {
	d.seen = make(map[string]bool)
	return d.Child.Open()
}

func (d *DeDupOp) Next() (types.Row, bool, error) {
	for {
		row, ok, err := d.Child.Next()
		if err != nil || !ok {
			return types.Row{}, ok, err
		}
		k := rowKey(row)
		if d.seen[k] {
			continue
		}
		d.seen[k] = true
		return row, true, nil
	}
}

func (d *DeDupOp) Close() error      { return d.Child.Close() }
func (d *DeDupOp) Columns() []string { return d.Child.Columns() }

type aggState struct {
	count int64
	sum   int64
	min   *types.Value
	max   *types.Value
}

// GroupByOp partitions Child's rows by GroupFields and computes Aggregates
// computing the aggregate set COUNT, MIN, MAX, SUM, AVG.
type GroupByOp struct {
	Child       Operator
	GroupFields []string
	Aggregates  []plan.AggregateExpr

	rows []types.Row
	pos  int
	cols []string
}

func (g *GroupByOp) Open() error {
	if err := g.Child.Open(); err != nil {
		return err
	}
	cols := g.Child.Columns()
	groupIdx := make([]int, len(g.GroupFields))
	for i, f := range g.GroupFields {
		groupIdx[i] = colIndex(cols, f)
	}
	aggIdx := make([]int, len(g.Aggregates))
	for i, a := range g.Aggregates {
		aggIdx[i] = colIndex(cols, a.Field)
	}

	groups := make(map[string][]types.Value)
	states := make(map[string][]*aggState)
	var order []string

	for {
		row, ok, err := g.Child.Next()
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		keyVals := make([]types.Value, len(groupIdx))
		for i, gi := range groupIdx {
			keyVals[i] = row.Values[gi]
		}
		key := rowKey(types.Row{Values: keyVals})
		if _, ok := groups[key]; !ok {
			groups[key] = keyVals
			states[key] = make([]*aggState, len(g.Aggregates))
			for i := range states[key] {
				states[key][i] = &aggState{}
			}
			order = append(order, key)
		}
		for i, a := range g.Aggregates {
			st := states[key][i]
			var v types.Value
			if aggIdx[i] >= 0 {
				v = row.Values[aggIdx[i]]
			}
			applyAggregate(st, a.Func, v)
		}
	}

	g.cols = append(append([]string{}, g.GroupFields...), aggAliases(g.Aggregates)...)
	for _, key := range order {
		out := append([]types.Value{}, groups[key]...)
		for i, a := range g.Aggregates {
			out = append(out, finishAggregate(states[key][i], a.Func))
		}
		g.rows = append(g.rows, types.Row{Values: out})
	}
	return nil
}

func aggAliases(aggs []plan.AggregateExpr) []string {
	out := make([]string, len(aggs))
	for i, a := range aggs {
		out[i] = a.Alias
	}
	return out
}

func applyAggregate(st *aggState, fn plan.AggregateFunc, v types.Value) {
	st.count++
	if v.Null {
		return
	}
	switch fn {
	case plan.AggSum, plan.AggAvg:
		st.sum += v.Int
	case plan.AggMin:
		if st.min == nil || v.Compare(*st.min) < 0 {
			cp := v
			st.min = &cp
		}
	case plan.AggMax:
		if st.max == nil || v.Compare(*st.max) > 0 {
			cp := v
			st.max = &cp
		}
	}
}

func finishAggregate(st *aggState, fn plan.AggregateFunc) types.Value {
	switch fn {
	case plan.AggCount:
		return types.IntValue(st.count)
	case plan.AggSum:
		return types.IntValue(st.sum)
	case plan.AggAvg:
		if st.count == 0 {
			return types.NullValue(types.TypeInt)
		}
		return types.IntValue(st.sum / st.count)
	case plan.AggMin:
		if st.min == nil {
			return types.NullValue(types.TypeInt)
		}
		return *st.min
	case plan.AggMax:
		if st.max == nil {
			return types.NullValue(types.TypeInt)
		}
		return *st.max
	default:
		return types.NullValue(types.TypeInt)
	}
}

func (g *GroupByOp) Next() (types.Row, bool, error) {
	if g.pos >= len(g.rows) {
		return types.Row{}, false, nil
	}
	row := g.rows[g.pos]
	g.pos++
	return row, true, nil
}

func (g *GroupByOp) Close() error      { return g.Child.Close() }
func (g *GroupByOp) Columns() []string { return g.cols }

// MergeJoinOp equi-joins Left and Right, both assumed already sorted
// ascending on their respective join keys (the planner is responsible for
// wrapping each side in a SortOp first).
type MergeJoinOp struct {
	Left, Right       Operator
	LeftKey, RightKey string

	cols     []string
	leftIdx  int
	rightIdx int

	leftRow types.Row

	rightBuf    []types.Row
	rightBufKey types.Value
	haveBufKey  bool
	rightBufPos int

	pendingRight types.Row
	havePending  bool
}

func (m *MergeJoinOp) Open() error {
	if err := m.Left.Open(); err != nil {
		return err
	}
	if err := m.Right.Open(); err != nil {
		return err
	}
	m.leftIdx = colIndex(m.Left.Columns(), m.LeftKey)
	m.rightIdx = colIndex(m.Right.Columns(), m.RightKey)
	m.cols = append(append([]string{}, m.Left.Columns()...), m.Right.Columns()...)

	row, ok, err := m.Right.Next()
	if err != nil {
		return err
	}
	m.pendingRight, m.havePending = row, ok
	return nil
}

// fillRightBuf buffers every right row sharing key, starting from
// pendingRight (already verified by the caller to match key), and leaves
// pendingRight/havePending positioned at the first row past this run.
func (m *MergeJoinOp) fillRightBuf(key types.Value) error {
	m.rightBuf = []types.Row{m.pendingRight}
	for {
		row, ok, err := m.Right.Next()
		if err != nil {
			return err
		}
		if !ok {
			m.havePending = false
			return nil
		}
		if row.Values[m.rightIdx].Compare(key) != 0 {
			m.pendingRight, m.havePending = row, true
			return nil
		}
		m.rightBuf = append(m.rightBuf, row)
	}
}

// Next walks the left side one row at a time. A left row whose key equals
// the buffered right-side run's key replays that same buffer instead of
// re-reading the right side, so consecutive duplicate keys on either side
// are never silently skipped; only a left row with a new key advances the
// right cursor.
func (m *MergeJoinOp) Next() (types.Row, bool, error) {
	for {
		if m.rightBufPos < len(m.rightBuf) {
			right := m.rightBuf[m.rightBufPos]
			m.rightBufPos++
			out := append(append([]types.Value{}, m.leftRow.Values...), right.Values...)
			return types.Row{Values: out}, true, nil
		}

		row, ok, err := m.Left.Next()
		if err != nil {
			return types.Row{}, false, err
		}
		m.leftRow = row
		if !ok {
			return types.Row{}, false, nil
		}
		leftKeyVal := m.leftRow.Values[m.leftIdx]

		if m.haveBufKey && leftKeyVal.Compare(m.rightBufKey) == 0 {
			m.rightBufPos = 0
			continue
		}

		m.rightBuf = nil
		m.rightBufPos = 0
		m.haveBufKey = false
		for m.havePending {
			cmp := leftKeyVal.Compare(m.pendingRight.Values[m.rightIdx])
			if cmp == 0 {
				if err := m.fillRightBuf(leftKeyVal); err != nil {
					return types.Row{}, false, err
				}
				m.rightBufKey, m.haveBufKey = leftKeyVal, true
				break
			}
			if cmp < 0 {
				break
			}
			row, ok, err := m.Right.Next()
			if err != nil {
				return types.Row{}, false, err
			}
			m.pendingRight, m.havePending = row, ok
		}
	}
}

func (m *MergeJoinOp) Close() error {
	lerr := m.Left.Close()
	rerr := m.Right.Close()
	if lerr != nil {
		return lerr
	}
	return rerr
}
func (m *MergeJoinOp) Columns() []string { return m.cols }

// IndexedJoinOp probes an index on Right for each Left row, used when Right
// already has a B+Tree or hash index on RightKey (an index probe beats a
// MergeJoin's sort step when such an index exists).
type IndexedJoinOp struct {
	Left              Operator
	RightTable        *catalog.Table
	LeftKey           string
	RightKeyField     int
	BTree             *index.BTree
	Hash              *index.HashIndex

	cols     []string
	leftIdx  int
	leftRow  types.Row
	matches  []types.Row
	matchPos int
}

func (j *IndexedJoinOp) Open() error {
	if err := j.Left.Open(); err != nil {
		return err
	}
	j.leftIdx = colIndex(j.Left.Columns(), j.LeftKey)
	rightCols := make([]string, len(j.RightTable.Schema.Columns))
	for i, c := range j.RightTable.Schema.Columns {
		rightCols[i] = c.Name
	}
	j.cols = append(append([]string{}, j.Left.Columns()...), rightCols...)
	return nil
}

func (j *IndexedJoinOp) probe(key types.Value) ([]types.Row, error) {
	keySize := indexKeySize(j.RightTable.Schema.Columns[j.RightKeyField])
	enc := index.EncodeKey(key, keySize)

	var rids []types.Rid
	var err error
	if j.Hash != nil {
		rids, err = j.Hash.Search(enc)
	} else {
		rid, ok, serr := j.BTree.Search(enc)
		err = serr
		if ok {
			rids = []types.Rid{rid}
		}
	}
	if err != nil {
		return nil, err
	}

	rows := make([]types.Row, 0, len(rids))
	for _, rid := range rids {
		values, gerr := j.RightTable.Heap.Get(rid)
		if gerr == storage.ErrSlotNotFound {
			continue
		}
		if gerr != nil {
			return nil, gerr
		}
		rows = append(rows, types.Row{Values: values})
	}
	return rows, nil
}

func (j *IndexedJoinOp) Next() (types.Row, bool, error) {
	for {
		if j.matchPos < len(j.matches) {
			right := j.matches[j.matchPos]
			j.matchPos++
			out := append(append([]types.Value{}, j.leftRow.Values...), right.Values...)
			return types.Row{Values: out}, true, nil
		}

		row, ok, err := j.Left.Next()
		if err != nil || !ok {
			return types.Row{}, ok, err
		}
		j.leftRow = row
		matches, err := j.probe(row.Values[j.leftIdx])
		if err != nil {
			return types.Row{}, false, err
		}
		j.matches = matches
		j.matchPos = 0
	}
}

func (j *IndexedJoinOp) Close() error      { return j.Left.Close() }
func (j *IndexedJoinOp) Columns() []string { return j.cols }
