package ittype

import "testing"

func TestVersionLess(t *testing.T) {
	cases := []struct {
		a, b Version
		want bool
	}{
		{Version{1, 0, 0}, Version{2, 0, 0}, true},
		{Version{2, 0, 0}, Version{1, 0, 0}, false},
		{Version{1, 1, 0}, Version{1, 2, 0}, true},
		{Version{1, 2, 0}, Version{1, 1, 9}, false},
		{Version{1, 2, 3}, Version{1, 2, 4}, true},
		{Version{1, 2, 3}, Version{1, 2, 3}, false},
	}
	for _, c := range cases {
		if got := c.a.Less(c.b); got != c.want {
			t.Errorf("%v.Less(%v) = %v, want %v", c.a, c.b, got, c.want)
		}
	}
}

func TestVersionString(t *testing.T) {
	if got := (Version{1, 2, 3}).String(); got != "1.2.3" {
		t.Fatalf("got %q", got)
	}
}

func TestWireSizeAndStackWidth(t *testing.T) {
	cases := []struct {
		k          Kind
		wireSize   uint32
		stackWidth int
	}{
		{Boolean, 1, 1},
		{S8, 1, 1},
		{U16, 2, 1},
		{S32, 4, 1},
		{F32, 4, 1},
		{S64, 8, 1},
		{F64, 8, 1},
		{String, 8, 2},
		{ByteArray, 8, 2},
		{Array, 8, 2},
		{Record, 4, 1},
	}
	for _, c := range cases {
		it := IType{Kind: c.k}
		if got := it.WireSize(); got != c.wireSize {
			t.Errorf("%s.WireSize() = %d, want %d", c.k, got, c.wireSize)
		}
		if got := it.StackWidth(); got != c.stackWidth {
			t.Errorf("%s.StackWidth() = %d, want %d", c.k, got, c.stackWidth)
		}
	}
}

func TestIsFixedPrimitive(t *testing.T) {
	if !(IType{Kind: S32}).IsFixedPrimitive() {
		t.Fatalf("s32 should be a fixed primitive")
	}
	if (IType{Kind: String}).IsFixedPrimitive() {
		t.Fatalf("string should not be a fixed primitive")
	}
}

func TestRecordIDRoundTrip(t *testing.T) {
	rec := IRecordType{Name: "point"}.WithID(7)
	if rec.ID() != 7 {
		t.Fatalf("got id %d, want 7", rec.ID())
	}
}

func TestFunctionTypeAt(t *testing.T) {
	ifc := &Interfaces{
		Types: []TypeEntry{
			{IsRecord: true, Record: IRecordType{Name: "r"}},
			{Function: FunctionType{Args: []IType{{Kind: S32}}}},
		},
	}

	if _, err := ifc.FunctionTypeAt(0); err == nil {
		t.Fatalf("expected error indexing a record entry as a function")
	}
	ft, err := ifc.FunctionTypeAt(1)
	if err != nil {
		t.Fatalf("FunctionTypeAt(1): %v", err)
	}
	if len(ft.Args) != 1 || ft.Args[0].Kind != S32 {
		t.Fatalf("unexpected function type: %+v", ft)
	}
	if _, err := ifc.FunctionTypeAt(99); err == nil {
		t.Fatalf("expected out-of-range error")
	}
}

func TestRecordTypeByID(t *testing.T) {
	ifc := &Interfaces{
		Types: []TypeEntry{
			{IsRecord: true, Record: IRecordType{Name: "a"}.WithID(0)},
			{IsRecord: true, Record: IRecordType{Name: "b"}.WithID(1)},
		},
	}

	rec, ok := ifc.RecordTypeByID(1)
	if !ok || rec.Name != "b" {
		t.Fatalf("got %+v, %v", rec, ok)
	}
	if _, ok := ifc.RecordTypeByID(99); ok {
		t.Fatalf("expected not found")
	}
}
