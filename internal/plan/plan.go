// Package plan defines the logical query algebra the planner consumes: a
// tree of relational operators and the scalar expressions that parameterize
// them, independent of how the executor will actually evaluate them.
package plan

import "aquadb/pkg/types"

// Expr is a scalar expression usable in a predicate, a projection, or an
// assignment.
type Expr interface{ isExpr() }

// Literal is a constant value.
type Literal struct{ Value types.Value }

// ColumnRef refers to a field by name, resolved against whichever plan
// node's schema it is evaluated within.
type ColumnRef struct{ Name string }

// BinaryOp applies Op to Left and Right. Op is one of "AND", "OR", "=",
// "!=", "<", "<=", ">", ">=".
type BinaryOp struct {
	Op          string
	Left, Right Expr
}

// AggregateFunc names a supported aggregate.
type AggregateFunc string

const (
	AggCount AggregateFunc = "COUNT"
	AggMin   AggregateFunc = "MIN"
	AggMax   AggregateFunc = "MAX"
	AggSum   AggregateFunc = "SUM"
	AggAvg   AggregateFunc = "AVG"
)

// AggregateExpr computes Func over Field, surfacing as output column Alias.
type AggregateExpr struct {
	Func  AggregateFunc
	Field string
	Alias string
}

func (Literal) isExpr()   {}
func (ColumnRef) isExpr() {}
func (BinaryOp) isExpr()  {}

// SortKey orders by Field, ascending unless Desc is set.
type SortKey struct {
	Field string
	Desc  bool
}

// Node is a logical plan operator. Every node type below implements it.
type Node interface{ isNode() }

// SeqScan reads every live row of a table in block order.
type SeqScan struct{ Table string }

// IndexScan reads rows of Table whose Index field equals Key (an exact-match
// probe), or, when Low/High are set, rows whose key falls in [Low, High]
// (only valid against a B+Tree index; a hash index only supports exact match).
type IndexScan struct {
	Table      string
	IndexField string
	Key        *types.Value
	Low, High  *types.Value
}

// Filter keeps only rows of Child matching Predicate.
type Filter struct {
	Child     Node
	Predicate Expr
}

// Project narrows Child's rows down to Fields, in the given order.
type Project struct {
	Child  Node
	Fields []string
}

// Join pairs rows of Left and Right whose LeftKey/RightKey fields are equal
// (an equi-join; no non-equi join operator is supported).
type Join struct {
	Left, Right        Node
	LeftKey, RightKey  string
	// UseIndex names an index-backed probe into Right keyed by RightKey,
	// when one exists, so the planner can choose IndexedJoin over
	// MergeJoin.
	UseIndex bool
}

// Sort orders Child's rows by Keys.
type Sort struct {
	Child Node
	Keys  []SortKey
}

// Distinct removes duplicate rows from Child (all fields compared).
type Distinct struct{ Child Node }

// GroupBy partitions Child's rows by GroupFields and computes Aggregates
// over each partition.
type GroupBy struct {
	Child        Node
	GroupFields  []string
	Aggregates   []AggregateExpr
}

// Insert appends one row of Values (in table column order) to Table.
type Insert struct {
	Table  string
	Values []Expr
}

// Assignment sets Field to Value in an Update.
type Assignment struct {
	Field string
	Value Expr
}

// Update rewrites every row of Table matching Predicate per Assignments.
type Update struct {
	Table       string
	Assignments []Assignment
	Predicate   Expr
}

// Delete removes every row of Table matching Predicate.
type Delete struct {
	Table     string
	Predicate Expr
}

// CreateTable declares a new table with the given schema.
type CreateTable struct{ Schema *types.Schema }

func (SeqScan) isNode()     {}
func (IndexScan) isNode()   {}
func (Filter) isNode()      {}
func (Project) isNode()     {}
func (Join) isNode()        {}
func (Sort) isNode()        {}
func (Distinct) isNode()    {}
func (GroupBy) isNode()     {}
func (Insert) isNode()      {}
func (Update) isNode()      {}
func (Delete) isNode()      {}
func (CreateTable) isNode() {}
