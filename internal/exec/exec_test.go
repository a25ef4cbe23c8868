package exec

import (
	"testing"
	"time"

	"aquadb/internal/catalog"
	"aquadb/internal/plan"
	"aquadb/internal/storage"
	"aquadb/pkg/types"
)

func testUsersTable(t *testing.T) *catalog.Table {
	t.Helper()
	dir := t.TempDir()
	schema := &types.Schema{
		TableName: "users",
		Columns: []types.Column{
			{Name: "id", Type: types.TypeInt},
			{Name: "name", Type: types.TypeVarchar},
			{Name: "age", Type: types.TypeInt},
		},
	}
	bm, err := storage.OpenBlockManager(dir, 1, 4096)
	if err != nil {
		t.Fatalf("OpenBlockManager() error = %v", err)
	}
	pool := storage.NewBufferPool(map[types.TableID]*storage.BlockManager{1: bm}, 16, time.Second)
	tm, err := storage.NewTableManager(pool, 1, storage.NewLayout(schema), 4)
	if err != nil {
		t.Fatalf("NewTableManager() error = %v", err)
	}
	return &catalog.Table{ID: 1, Schema: schema, Heap: tm}
}

func insertRow(t *testing.T, table *catalog.Table, id int64, name string, age int64) {
	t.Helper()
	if _, err := table.Heap.Insert([]types.Value{types.IntValue(id), types.StrValue(name), types.IntValue(age)}); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}
}

func drain(t *testing.T, op Operator) []types.Row {
	t.Helper()
	if err := op.Open(); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer op.Close()
	var rows []types.Row
	for {
		row, ok, err := op.Next()
		if err != nil {
			t.Fatalf("Next() error = %v", err)
		}
		if !ok {
			break
		}
		rows = append(rows, row)
	}
	return rows
}

func TestSeqScanOpReturnsEveryRow(t *testing.T) {
	table := testUsersTable(t)
	insertRow(t, table, 1, "Alice", 30)
	insertRow(t, table, 2, "Bob", 25)

	rows := drain(t, NewSeqScanOp(table))
	if len(rows) != 2 {
		t.Fatalf("got %d rows, want 2", len(rows))
	}
}

func TestFilterOpKeepsMatchingRows(t *testing.T) {
	table := testUsersTable(t)
	insertRow(t, table, 1, "Alice", 30)
	insertRow(t, table, 2, "Bob", 25)

	op := &FilterOp{
		Child:     NewSeqScanOp(table),
		Predicate: plan.BinaryOp{Op: ">", Left: plan.ColumnRef{Name: "age"}, Right: plan.Literal{Value: types.IntValue(26)}},
	}
	rows := drain(t, op)
	if len(rows) != 1 || rows[0].Values[1].Str != "Alice" {
		t.Fatalf("FilterOp rows = %+v, want only Alice", rows)
	}
}

func TestProjectOpNarrowsFields(t *testing.T) {
	table := testUsersTable(t)
	insertRow(t, table, 1, "Alice", 30)

	op := &ProjectOp{Child: NewSeqScanOp(table), Fields: []string{"name"}}
	rows := drain(t, op)
	if len(rows) != 1 || len(rows[0].Values) != 1 || rows[0].Values[0].Str != "Alice" {
		t.Fatalf("ProjectOp rows = %+v, want [[Alice]]", rows)
	}
	if got := op.Columns(); len(got) != 1 || got[0] != "name" {
		t.Errorf("Columns() = %v, want [name]", got)
	}
}

func TestSortOpOrdersAscendingAndDescending(t *testing.T) {
	table := testUsersTable(t)
	insertRow(t, table, 1, "Bob", 25)
	insertRow(t, table, 2, "Alice", 30)

	op := &SortOp{Child: NewSeqScanOp(table), Keys: []plan.SortKey{{Field: "name"}}, WorkingMemBytes: 1 << 20}
	rows := drain(t, op)
	if len(rows) != 2 || rows[0].Values[1].Str != "Alice" || rows[1].Values[1].Str != "Bob" {
		t.Fatalf("ascending SortOp rows = %+v, want Alice then Bob", rows)
	}

	op2 := &SortOp{Child: NewSeqScanOp(table), Keys: []plan.SortKey{{Field: "name", Desc: true}}, WorkingMemBytes: 1 << 20}
	rows2 := drain(t, op2)
	if rows2[0].Values[1].Str != "Bob" {
		t.Fatalf("descending SortOp first row = %+v, want Bob", rows2[0])
	}
}

func TestSortOpMergesMultipleSpilledRuns(t *testing.T) {
	table := testUsersTable(t)
	names := []string{"Mona", "Eve", "Zack", "Bob", "Alice", "Ivy", "Carl", "Dana"}
	for i, n := range names {
		insertRow(t, table, int64(i), n, 20)
	}

	// A tiny working-memory budget forces Append to spill well before every
	// row fits in one batch, so the merge phase has to combine several
	// on-disk runs rather than sorting a single in-memory slice.
	op := &SortOp{Child: NewSeqScanOp(table), Keys: []plan.SortKey{{Field: "name"}}, WorkingMemBytes: 64}
	rows := drain(t, op)

	if len(rows) != len(names) {
		t.Fatalf("got %d rows, want %d", len(rows), len(names))
	}
	for i := 1; i < len(rows); i++ {
		if rows[i-1].Values[1].Str > rows[i].Values[1].Str {
			t.Fatalf("rows not sorted at index %d: %+v", i, rows)
		}
	}
}

func TestSortOpPlacesNullsLastAscendingFirstDescending(t *testing.T) {
	table := testUsersTable(t)
	if _, err := table.Heap.Insert([]types.Value{types.IntValue(1), types.StrValue("Alice"), types.IntValue(30)}); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}
	if _, err := table.Heap.Insert([]types.Value{types.IntValue(2), types.StrValue("Bob"), types.NullValue(types.TypeInt)}); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}
	if _, err := table.Heap.Insert([]types.Value{types.IntValue(3), types.StrValue("Carol"), types.IntValue(20)}); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}

	asc := &SortOp{Child: NewSeqScanOp(table), Keys: []plan.SortKey{{Field: "age"}}, WorkingMemBytes: 1 << 20}
	rows := drain(t, asc)
	if len(rows) != 3 || !rows[2].Values[2].Null {
		t.Fatalf("ascending sort by age = %+v, want the null last", rows)
	}

	desc := &SortOp{Child: NewSeqScanOp(table), Keys: []plan.SortKey{{Field: "age", Desc: true}}, WorkingMemBytes: 1 << 20}
	rows = drain(t, desc)
	if len(rows) != 3 || !rows[0].Values[2].Null {
		t.Fatalf("descending sort by age = %+v, want the null first", rows)
	}
}

func TestDeDupOpRemovesDuplicateRows(t *testing.T) {
	table := testUsersTable(t)
	insertRow(t, table, 1, "Alice", 30)
	insertRow(t, table, 1, "Alice", 30)
	insertRow(t, table, 2, "Bob", 25)

	op := &DeDupOp{Child: NewSeqScanOp(table)}
	rows := drain(t, op)
	if len(rows) != 2 {
		t.Fatalf("got %d rows, want 2 after dedup", len(rows))
	}
}

func TestGroupByOpComputesCountAndSum(t *testing.T) {
	table := testUsersTable(t)
	insertRow(t, table, 1, "Alice", 30)
	insertRow(t, table, 2, "Alice", 10)
	insertRow(t, table, 3, "Bob", 25)

	op := &GroupByOp{
		Child:       NewSeqScanOp(table),
		GroupFields: []string{"name"},
		Aggregates: []plan.AggregateExpr{
			{Func: plan.AggCount, Field: "id", Alias: "cnt"},
			{Func: plan.AggSum, Field: "age", Alias: "total_age"},
		},
	}
	rows := drain(t, op)
	byName := map[string]types.Row{}
	for _, r := range rows {
		byName[r.Values[0].Str] = r
	}
	if byName["Alice"].Values[1].Int != 2 || byName["Alice"].Values[2].Int != 40 {
		t.Errorf("Alice group = %+v, want cnt=2 total_age=40", byName["Alice"])
	}
	if byName["Bob"].Values[1].Int != 1 || byName["Bob"].Values[2].Int != 25 {
		t.Errorf("Bob group = %+v, want cnt=1 total_age=25", byName["Bob"])
	}
}

func TestMergeJoinOpPairsSortedEquiJoinKeys(t *testing.T) {
	left := testUsersTable(t)
	insertRow(t, left, 1, "Alice", 30)
	insertRow(t, left, 2, "Bob", 25)

	right := testUsersTable(t)
	insertRow(t, right, 1, "AliceAccount", 0)
	insertRow(t, right, 3, "Orphan", 0)

	op := &MergeJoinOp{
		Left:     &SortOp{Child: NewSeqScanOp(left), Keys: []plan.SortKey{{Field: "id"}}, WorkingMemBytes: 1 << 20},
		Right:    &SortOp{Child: NewSeqScanOp(right), Keys: []plan.SortKey{{Field: "id"}}, WorkingMemBytes: 1 << 20},
		LeftKey:  "id",
		RightKey: "id",
	}
	rows := drain(t, op)
	if len(rows) != 1 {
		t.Fatalf("got %d joined rows, want 1", len(rows))
	}
	if rows[0].Values[1].Str != "Alice" || rows[0].Values[4].Str != "AliceAccount" {
		t.Errorf("joined row = %+v, want Alice paired with AliceAccount", rows[0])
	}
}

func TestMergeJoinOpHandlesDuplicateKeysOnBothSides(t *testing.T) {
	left := testUsersTable(t)
	insertRow(t, left, 1, "Alice", 30)
	insertRow(t, left, 1, "Alice2", 31)
	insertRow(t, left, 2, "Carol", 40)

	right := testUsersTable(t)
	insertRow(t, right, 1, "AcctA", 0)
	insertRow(t, right, 1, "AcctB", 0)

	op := &MergeJoinOp{
		Left:     &SortOp{Child: NewSeqScanOp(left), Keys: []plan.SortKey{{Field: "id"}}, WorkingMemBytes: 1 << 20},
		Right:    &SortOp{Child: NewSeqScanOp(right), Keys: []plan.SortKey{{Field: "id"}}, WorkingMemBytes: 1 << 20},
		LeftKey:  "id",
		RightKey: "id",
	}
	rows := drain(t, op)
	// Every left row with id=1 (Alice, Alice2) must pair with every right
	// row with id=1 (AcctA, AcctB): a 2x2 cross product, four rows total.
	if len(rows) != 4 {
		t.Fatalf("got %d joined rows, want 4 (full cross product of duplicate keys)", len(rows))
	}
	pairs := make(map[string]bool)
	for _, r := range rows {
		pairs[r.Values[1].Str+"/"+r.Values[4].Str] = true
	}
	for _, want := range []string{"Alice/AcctA", "Alice/AcctB", "Alice2/AcctA", "Alice2/AcctB"} {
		if !pairs[want] {
			t.Errorf("missing joined pair %q in %v", want, pairs)
		}
	}
}
