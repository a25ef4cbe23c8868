package sqlfront

import (
	"testing"

	"aquadb/internal/plan"
)

func TestParserSelectStarProducesSeqScan(t *testing.T) {
	node, err := NewParser("SELECT * FROM users").Parse()
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	scan, ok := node.(plan.SeqScan)
	if !ok {
		t.Fatalf("Parse() = %T, want plan.SeqScan", node)
	}
	if scan.Table != "users" {
		t.Errorf("SeqScan.Table = %q, want %q", scan.Table, "users")
	}
}

func TestParserSelectWithFieldsAndWhereWrapsFilterAndProject(t *testing.T) {
	node, err := NewParser("SELECT id, name FROM users WHERE id = 1").Parse()
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	project, ok := node.(plan.Project)
	if !ok {
		t.Fatalf("Parse() = %T, want plan.Project", node)
	}
	if len(project.Fields) != 2 || project.Fields[0] != "id" || project.Fields[1] != "name" {
		t.Errorf("Project.Fields = %v, want [id name]", project.Fields)
	}
	filter, ok := project.Child.(plan.Filter)
	if !ok {
		t.Fatalf("Project.Child = %T, want plan.Filter", project.Child)
	}
	if _, ok := filter.Child.(plan.SeqScan); !ok {
		t.Errorf("Filter.Child = %T, want plan.SeqScan", filter.Child)
	}
}

func TestParserInsert(t *testing.T) {
	node, err := NewParser("INSERT INTO users VALUES (1, 'Alice', TRUE)").Parse()
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	ins, ok := node.(plan.Insert)
	if !ok {
		t.Fatalf("Parse() = %T, want plan.Insert", node)
	}
	if ins.Table != "users" || len(ins.Values) != 3 {
		t.Fatalf("Insert = %+v, want table users with 3 values", ins)
	}
}

func TestParserUpdateWithWhere(t *testing.T) {
	node, err := NewParser("UPDATE users SET name = 'Bob' WHERE id = 1").Parse()
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	upd, ok := node.(plan.Update)
	if !ok {
		t.Fatalf("Parse() = %T, want plan.Update", node)
	}
	if len(upd.Assignments) != 1 || upd.Assignments[0].Field != "name" {
		t.Fatalf("Update.Assignments = %+v", upd.Assignments)
	}
	if upd.Predicate == nil {
		t.Errorf("Update.Predicate = nil, want a predicate")
	}
}

func TestParserDeleteWithoutWhere(t *testing.T) {
	node, err := NewParser("DELETE FROM users").Parse()
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	del, ok := node.(plan.Delete)
	if !ok {
		t.Fatalf("Parse() = %T, want plan.Delete", node)
	}
	if del.Table != "users" || del.Predicate != nil {
		t.Errorf("Delete = %+v, want table users with a nil predicate", del)
	}
}

func TestParserCreateTableWithConstraints(t *testing.T) {
	node, err := NewParser("CREATE TABLE users (id INT PRIMARY KEY, name VARCHAR(32) NOT NULL, active BOOL)").Parse()
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	ct, ok := node.(plan.CreateTable)
	if !ok {
		t.Fatalf("Parse() = %T, want plan.CreateTable", node)
	}
	if ct.Schema.TableName != "users" || len(ct.Schema.Columns) != 3 {
		t.Fatalf("CreateTable.Schema = %+v", ct.Schema)
	}
	id := ct.Schema.Columns[0]
	if !id.PrimaryKey || id.Nullable {
		t.Errorf("column id = %+v, want PrimaryKey=true Nullable=false", id)
	}
	name := ct.Schema.Columns[1]
	if name.CharLimit != 32 || name.Nullable {
		t.Errorf("column name = %+v, want CharLimit=32 Nullable=false", name)
	}
}

func TestParserWhereOperatorPrecedenceAndOrOverAnd(t *testing.T) {
	node, err := NewParser("SELECT * FROM t WHERE a = 1 AND b = 2 OR c = 3").Parse()
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	filter := node.(plan.Filter)
	or, ok := filter.Predicate.(plan.BinaryOp)
	if !ok || or.Op != "OR" {
		t.Fatalf("top-level predicate = %+v, want an OR", filter.Predicate)
	}
	and, ok := or.Left.(plan.BinaryOp)
	if !ok || and.Op != "AND" {
		t.Errorf("OR.Left = %+v, want an AND", or.Left)
	}
}

func TestParserRejectsUnsupportedStatement(t *testing.T) {
	if _, err := NewParser("DROP TABLE users").Parse(); err == nil {
		t.Errorf("Parse() error = nil, want an error for an unsupported statement")
	}
}
