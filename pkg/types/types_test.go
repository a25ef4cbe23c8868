package types

import "testing"

func TestValueCompare(t *testing.T) {
	tests := []struct {
		name string
		a, b Value
		want int
	}{
		{"int less", IntValue(1), IntValue(2), -1},
		{"int equal", IntValue(5), IntValue(5), 0},
		{"int greater", IntValue(9), IntValue(2), 1},
		{"string less", StrValue("a"), StrValue("b"), -1},
		{"string equal", StrValue("abc"), StrValue("abc"), 0},
		{"bool false lt true", BoolValue(false), BoolValue(true), -1},
		{"bool equal", BoolValue(true), BoolValue(true), 0},
		{"null greater than value", NullValue(TypeInt), IntValue(1), 1},
		{"value less than null", IntValue(1), NullValue(TypeInt), -1},
		{"null equal null", NullValue(TypeInt), NullValue(TypeInt), 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.a.Compare(tt.b)
			if sign(got) != sign(tt.want) {
				t.Errorf("Compare() = %d, want sign %d", got, tt.want)
			}
		})
	}
}

func sign(n int) int {
	switch {
	case n < 0:
		return -1
	case n > 0:
		return 1
	default:
		return 0
	}
}

func TestSchemaFieldIndex(t *testing.T) {
	s := &Schema{
		TableName: "users",
		Columns: []Column{
			{Name: "id", Type: TypeInt},
			{Name: "name", Type: TypeVarchar},
		},
	}
	idx, ok := s.FieldIndex("name")
	if !ok || idx != 1 {
		t.Errorf("FieldIndex(%q) = (%d, %v), want (1, true)", "name", idx, ok)
	}
	if _, ok := s.FieldIndex("missing"); ok {
		t.Errorf("FieldIndex(%q) should not be found", "missing")
	}
}

func TestRowClone(t *testing.T) {
	r := Row{Values: []Value{IntValue(1), StrValue("a")}}
	c := r.Clone()
	c.Values[0] = IntValue(99)
	if r.Values[0].Int != 1 {
		t.Errorf("Clone() shares underlying storage with the original row")
	}
}
