// Package planner turns a logical plan.Node into an executable exec.Operator
// tree as a direct, rule-based mapping rather than a cost-based search. A
// SeqScan node always compiles to a sequential scan; an index scan is built
// only from an explicit IndexScan node. Indexes decide only the join
// strategy (indexed join vs. merge join).
package planner

import (
	"fmt"
	"strings"

	"aquadb/internal/catalog"
	"aquadb/internal/exec"
	"aquadb/internal/index"
	"aquadb/internal/plan"
	"aquadb/pkg/types"
)

// Indexes reports which index (if any) backs a given table field, so the
// planner can choose an indexed join over a merge join. It is not consulted
// when compiling a SeqScan node.
type Indexes interface {
	BTreeFor(table, field string) (*index.BTree, bool)
	HashFor(table, field string) (*index.HashIndex, bool)
}

// Planner compiles logical plans against a fixed catalog and index set.
type Planner struct {
	Catalog         *catalog.Catalog
	Indexes         Indexes
	WorkingMemBytes int64
}

// New creates a Planner.
func New(cat *catalog.Catalog, idx Indexes, workingMemBytes int64) *Planner {
	return &Planner{Catalog: cat, Indexes: idx, WorkingMemBytes: workingMemBytes}
}

// Build compiles a read-only query plan (SeqScan/IndexScan/Filter/Project/
// Join/Sort/Distinct/GroupBy) into an Operator tree. DDL/DML nodes
// (CreateTable/Insert/Update/Delete) are not queries and must go through
// their own Exec* method instead.
func (p *Planner) Build(n plan.Node) (exec.Operator, error) {
	switch node := n.(type) {
	case plan.SeqScan:
		t, ok := p.Catalog.GetTable(node.Table)
		if !ok {
			return nil, fmt.Errorf("planner: unknown table %q", node.Table)
		}
		return exec.NewSeqScanOp(t), nil

	case plan.IndexScan:
		t, ok := p.Catalog.GetTable(node.Table)
		if !ok {
			return nil, fmt.Errorf("planner: unknown table %q", node.Table)
		}
		fi, ok := t.Schema.FieldIndex(node.IndexField)
		if !ok {
			return nil, fmt.Errorf("planner: unknown field %q on %q", node.IndexField, node.Table)
		}
		bt, _ := p.Indexes.BTreeFor(node.Table, node.IndexField)
		hs, _ := p.Indexes.HashFor(node.Table, node.IndexField)
		return exec.NewIndexScanOp(t, bt, hs, fi, node.Key, node.Low, node.High), nil

	case plan.Filter:
		if join, ok := node.Child.(plan.Join); ok && join.UseIndex && bridgesJoinKeys(node.Predicate, join.LeftKey, join.RightKey) {
			// An IndexedJoin only ever emits rows where LeftKey already
			// equals RightKey, so a Filter re-asserting exactly that
			// equality is redundant: build the join directly and skip the
			// FilterOp wrapper (and its second per-row evaluation) entirely.
			return p.buildJoin(join)
		}
		child, err := p.Build(node.Child)
		if err != nil {
			return nil, err
		}
		return &exec.FilterOp{Child: child, Predicate: node.Predicate}, nil

	case plan.Project:
		child, err := p.Build(node.Child)
		if err != nil {
			return nil, err
		}
		return &exec.ProjectOp{Child: child, Fields: node.Fields}, nil

	case plan.Sort:
		child, err := p.Build(node.Child)
		if err != nil {
			return nil, err
		}
		return &exec.SortOp{Child: child, Keys: node.Keys, WorkingMemBytes: p.WorkingMemBytes}, nil

	case plan.Distinct:
		child, err := p.Build(node.Child)
		if err != nil {
			return nil, err
		}
		return &exec.DeDupOp{Child: child}, nil

	case plan.GroupBy:
		child, err := p.Build(node.Child)
		if err != nil {
			return nil, err
		}
		return &exec.GroupByOp{Child: child, GroupFields: node.GroupFields, Aggregates: node.Aggregates}, nil

	case plan.Join:
		return p.buildJoin(node)

	default:
		return nil, fmt.Errorf("planner: %T is not a query node", n)
	}
}

// bridgesJoinKeys reports whether pred is exactly `leftKey = rightKey` (in
// either operand order) over plain column references, the one syntactic
// shape the Filter-over-IndexedJoin bridge recognizes.
func bridgesJoinKeys(pred plan.Expr, leftKey, rightKey string) bool {
	op, ok := pred.(plan.BinaryOp)
	if !ok || op.Op != "=" {
		return false
	}
	l, lok := op.Left.(plan.ColumnRef)
	r, rok := op.Right.(plan.ColumnRef)
	if !lok || !rok {
		return false
	}
	return (l.Name == leftKey && r.Name == rightKey) || (l.Name == rightKey && r.Name == leftKey)
}

// buildJoin prefers an indexed join when Right is a bare SeqScan over a
// table with a usable index on RightKey; otherwise it falls back to a
// sort-then-merge join.
func (p *Planner) buildJoin(node plan.Join) (exec.Operator, error) {
	left, err := p.Build(node.Left)
	if err != nil {
		return nil, err
	}

	if node.UseIndex {
		if scan, ok := node.Right.(plan.SeqScan); ok {
			t, ok := p.Catalog.GetTable(scan.Table)
			if ok {
				if fi, ok := t.Schema.FieldIndex(node.RightKey); ok {
					bt, hasBT := p.Indexes.BTreeFor(scan.Table, node.RightKey)
					hs, hasHash := p.Indexes.HashFor(scan.Table, node.RightKey)
					if hasBT || hasHash {
						return &exec.IndexedJoinOp{
							Left: left, RightTable: t, LeftKey: node.LeftKey,
							RightKeyField: fi, BTree: bt, Hash: hs,
						}, nil
					}
				}
			}
		}
	}

	right, err := p.Build(node.Right)
	if err != nil {
		return nil, err
	}
	leftSorted := &exec.SortOp{Child: left, Keys: []plan.SortKey{{Field: node.LeftKey}}, WorkingMemBytes: p.WorkingMemBytes}
	rightSorted := &exec.SortOp{Child: right, Keys: []plan.SortKey{{Field: node.RightKey}}, WorkingMemBytes: p.WorkingMemBytes}
	return &exec.MergeJoinOp{Left: leftSorted, Right: rightSorted, LeftKey: node.LeftKey, RightKey: node.RightKey}, nil
}

// ExecCreateTable applies a CreateTable node directly against the catalog.
func (p *Planner) ExecCreateTable(node plan.CreateTable) error {
	_, err := p.Catalog.CreateTable(node.Schema)
	return err
}

// ExecInsert evaluates an Insert node's value expressions (which must be
// literals; any other expression is rejected) and appends the resulting row.
func (p *Planner) ExecInsert(node plan.Insert) (types.Rid, error) {
	t, ok := p.Catalog.GetTable(node.Table)
	if !ok {
		return types.Rid{}, fmt.Errorf("planner: unknown table %q", node.Table)
	}
	values := make([]types.Value, len(node.Values))
	for i, e := range node.Values {
		lit, ok := e.(plan.Literal)
		if !ok {
			return types.Rid{}, fmt.Errorf("planner: INSERT values must be literals")
		}
		values[i] = lit.Value
	}
	return t.Heap.Insert(values)
}

// ExecUpdate scans Table, applies Assignments to every row matching
// Predicate, and returns the count updated.
func (p *Planner) ExecUpdate(node plan.Update) (int, error) {
	t, ok := p.Catalog.GetTable(node.Table)
	if !ok {
		return 0, fmt.Errorf("planner: unknown table %q", node.Table)
	}
	cols := make([]string, len(t.Schema.Columns))
	for i, c := range t.Schema.Columns {
		cols[i] = c.Name
	}

	entries, err := t.Heap.Scan()
	if err != nil {
		return 0, err
	}

	updated := 0
	for _, e := range entries {
		row := types.Row{Values: e.Values}
		if node.Predicate != nil {
			v, err := evalPredicate(node.Predicate, cols, row)
			if err != nil {
				return updated, err
			}
			if v.Null || !v.Bool {
				continue
			}
		}
		newValues := append([]types.Value{}, row.Values...)
		for _, a := range node.Assignments {
			idx := -1
			for i, c := range cols {
				if c == a.Field {
					idx = i
					break
				}
			}
			if idx < 0 {
				continue
			}
			lit, ok := a.Value.(plan.Literal)
			if !ok {
				return updated, fmt.Errorf("planner: UPDATE assignments must be literals")
			}
			newValues[idx] = lit.Value
		}
		if err := t.Heap.Update(e.Rid, newValues); err != nil {
			return updated, err
		}
		updated++
	}
	return updated, nil
}

// ExecDelete scans Table and tombstones every row matching Predicate.
func (p *Planner) ExecDelete(node plan.Delete) (int, error) {
	t, ok := p.Catalog.GetTable(node.Table)
	if !ok {
		return 0, fmt.Errorf("planner: unknown table %q", node.Table)
	}
	cols := make([]string, len(t.Schema.Columns))
	for i, c := range t.Schema.Columns {
		cols[i] = c.Name
	}

	entries, err := t.Heap.Scan()
	if err != nil {
		return 0, err
	}

	deleted := 0
	for _, e := range entries {
		row := types.Row{Values: e.Values}
		if node.Predicate != nil {
			v, err := evalPredicate(node.Predicate, cols, row)
			if err != nil {
				return deleted, err
			}
			if v.Null || !v.Bool {
				continue
			}
		}
		if err := t.Heap.Delete(e.Rid); err != nil {
			return deleted, err
		}
		deleted++
	}
	return deleted, nil
}

// ExplainLogical renders a logical plan tree as indented text, for
// debugging query shapes.
func ExplainLogical(n plan.Node) string {
	var b strings.Builder
	explainLogical(&b, n, 0)
	return b.String()
}

func explainLogical(b *strings.Builder, n plan.Node, depth int) {
	indent := strings.Repeat("  ", depth)
	switch node := n.(type) {
	case plan.SeqScan:
		fmt.Fprintf(b, "%sSeqScan(%s)\n", indent, node.Table)
	case plan.IndexScan:
		fmt.Fprintf(b, "%sIndexScan(%s.%s)\n", indent, node.Table, node.IndexField)
	case plan.Filter:
		fmt.Fprintf(b, "%sFilter\n", indent)
		explainLogical(b, node.Child, depth+1)
	case plan.Project:
		fmt.Fprintf(b, "%sProject(%s)\n", indent, strings.Join(node.Fields, ","))
		explainLogical(b, node.Child, depth+1)
	case plan.Join:
		fmt.Fprintf(b, "%sJoin(%s=%s)\n", indent, node.LeftKey, node.RightKey)
		explainLogical(b, node.Left, depth+1)
		explainLogical(b, node.Right, depth+1)
	case plan.Sort:
		fmt.Fprintf(b, "%sSort\n", indent)
		explainLogical(b, node.Child, depth+1)
	case plan.Distinct:
		fmt.Fprintf(b, "%sDistinct\n", indent)
		explainLogical(b, node.Child, depth+1)
	case plan.GroupBy:
		fmt.Fprintf(b, "%sGroupBy(%s)\n", indent, strings.Join(node.GroupFields, ","))
		explainLogical(b, node.Child, depth+1)
	default:
		fmt.Fprintf(b, "%s%T\n", indent, n)
	}
}

func evalPredicate(e plan.Expr, cols []string, row types.Row) (types.Value, error) {
	return exec.EvalExprPublic(e, cols, row)
}
