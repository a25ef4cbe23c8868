package storage

import (
	"testing"

	"aquadb/pkg/types"
)

func testSchema() *types.Schema {
	return &types.Schema{
		TableName: "users",
		Columns: []types.Column{
			{Name: "id", Type: types.TypeInt},
			{Name: "name", Type: types.TypeVarchar},
			{Name: "active", Type: types.TypeBool},
		},
	}
}

func TestEncodeDecodeTupleRoundTrip(t *testing.T) {
	layout := NewLayout(testSchema())
	values := []types.Value{types.IntValue(42), types.StrValue("Alice"), types.BoolValue(true)}

	buf, err := EncodeTuple(layout, values)
	if err != nil {
		t.Fatalf("EncodeTuple() error = %v", err)
	}
	if IsDeletedTuple(buf) {
		t.Fatalf("freshly encoded tuple should not be marked deleted")
	}

	got, err := DecodeTuple(layout, buf)
	if err != nil {
		t.Fatalf("DecodeTuple() error = %v", err)
	}
	if got[0].Int != 42 || got[1].Str != "Alice" || got[2].Bool != true {
		t.Errorf("DecodeTuple() = %v, want %v", got, values)
	}
}

func TestEncodeDecodeTupleWithNulls(t *testing.T) {
	layout := NewLayout(testSchema())
	values := []types.Value{types.IntValue(1), types.NullValue(types.TypeVarchar), types.BoolValue(false)}

	buf, err := EncodeTuple(layout, values)
	if err != nil {
		t.Fatalf("EncodeTuple() error = %v", err)
	}
	got, err := DecodeTuple(layout, buf)
	if err != nil {
		t.Fatalf("DecodeTuple() error = %v", err)
	}
	if !got[1].Null {
		t.Errorf("field 1 should decode as null")
	}
	if got[0].Int != 1 {
		t.Errorf("field 0 = %d, want 1", got[0].Int)
	}
}

func TestMarkDeleted(t *testing.T) {
	layout := NewLayout(testSchema())
	buf, _ := EncodeTuple(layout, []types.Value{types.IntValue(1), types.StrValue("x"), types.BoolValue(false)})
	MarkDeleted(buf)
	if !IsDeletedTuple(buf) {
		t.Errorf("MarkDeleted() did not set the tombstone flag")
	}
}

func TestEncodeTupleWrongArity(t *testing.T) {
	layout := NewLayout(testSchema())
	if _, err := EncodeTuple(layout, []types.Value{types.IntValue(1)}); err == nil {
		t.Errorf("EncodeTuple() with too few values should error")
	}
}
