package itcodec

import (
	"testing"

	"github.com/marinelabs/marine-go/ittype"
	"github.com/marinelabs/marine-go/itmem"
)

type fakeMemory struct {
	buf []byte
}

func newFakeMemory(size uint32) *fakeMemory { return &fakeMemory{buf: make([]byte, size)} }

func (f *fakeMemory) Size() uint32 { return uint32(len(f.buf)) }

func (f *fakeMemory) Read(offset, byteCount uint32) ([]byte, bool) {
	if uint64(offset)+uint64(byteCount) > uint64(len(f.buf)) {
		return nil, false
	}
	return f.buf[offset : offset+byteCount], true
}

func (f *fakeMemory) Write(offset uint32, v []byte) bool {
	if uint64(offset)+uint64(len(v)) > uint64(len(f.buf)) {
		return false
	}
	copy(f.buf[offset:], v)
	return true
}

func (f *fakeMemory) ReadByte(offset uint32) (byte, bool) {
	if offset >= uint32(len(f.buf)) {
		return 0, false
	}
	return f.buf[offset], true
}

func (f *fakeMemory) WriteByte(offset uint32, v byte) bool {
	if offset >= uint32(len(f.buf)) {
		return false
	}
	f.buf[offset] = v
	return true
}

// bumpAllocator is a trivial bump allocator sufficient for tests: real
// guests implement allocate() themselves, wired in by the registry.
func bumpAllocator(next *uint32) Allocator {
	return func(size uint32, _ uint8) (uint32, error) {
		ptr := *next
		*next += size
		return ptr, nil
	}
}

func TestLiftPrimitives(t *testing.T) {
	view := itmem.NewView(newFakeMemory(64))
	itypes := []ittype.IType{{Kind: ittype.S32}, {Kind: ittype.F64}, {Kind: ittype.Boolean}}
	wvalues := []ittype.WValue{
		ittype.NewI32(-7),
		ittype.NewF64(2.5),
		ittype.NewI32(1),
	}

	values, err := LiftIValues(view, wvalues, itypes, noRecords)
	if err != nil {
		t.Fatalf("LiftIValues: %v", err)
	}
	if values[0].I32 != -7 || values[1].F64 != 2.5 || !values[2].Bool {
		t.Fatalf("unexpected lifted values: %+v", values)
	}
}

func TestStringRoundTrip(t *testing.T) {
	view := itmem.NewView(newFakeMemory(256))
	next := uint32(8)
	alloc := bumpAllocator(&next)

	original := ittype.IValue{Kind: ittype.String, Str: "hello, marine"}
	wvalues, err := IValueToWValues(view, original, alloc)
	if err != nil {
		t.Fatalf("IValueToWValues: %v", err)
	}

	lifted, err := LiftIValues(view, wvalues, []ittype.IType{{Kind: ittype.String}}, noRecords)
	if err != nil {
		t.Fatalf("LiftIValues: %v", err)
	}
	if lifted[0].Str != original.Str {
		t.Fatalf("got %q, want %q", lifted[0].Str, original.Str)
	}
}

func TestEmptyStringLowersWithoutAllocating(t *testing.T) {
	view := itmem.NewView(newFakeMemory(32))
	called := false
	alloc := func(size uint32, tag uint8) (uint32, error) {
		called = true
		return 1, nil
	}

	wvalues, err := IValueToWValues(view, ittype.IValue{Kind: ittype.String, Str: ""}, alloc)
	if err != nil {
		t.Fatalf("IValueToWValues: %v", err)
	}
	if called {
		t.Fatalf("allocator should not be called for an empty string")
	}
	if wvalues[0].I32 != 0 || wvalues[1].I32 != 0 {
		t.Fatalf("empty string should lower to (0, 0), got %+v", wvalues)
	}
}

func TestArrayRoundTrip(t *testing.T) {
	view := itmem.NewView(newFakeMemory(256))
	next := uint32(8)
	alloc := bumpAllocator(&next)

	original := ittype.IValue{Kind: ittype.Array, Elems: []ittype.IValue{
		{Kind: ittype.S32, I32: 1},
		{Kind: ittype.S32, I32: 2},
		{Kind: ittype.S32, I32: 3},
	}}

	ptr, count, err := LowerArray(view, ittype.IType{Kind: ittype.S32}, original.Elems, alloc)
	if err != nil {
		t.Fatalf("LowerArray: %v", err)
	}

	lifted, err := LiftArray(view, ittype.IType{Kind: ittype.S32}, ptr, count, noRecords)
	if err != nil {
		t.Fatalf("LiftArray: %v", err)
	}
	if len(lifted.Elems) != 3 || lifted.Elems[1].I32 != 2 {
		t.Fatalf("unexpected round-tripped array: %+v", lifted.Elems)
	}
}

func TestRecordRoundTrip(t *testing.T) {
	view := itmem.NewView(newFakeMemory(256))
	next := uint32(8)
	alloc := bumpAllocator(&next)

	rec := ittype.IRecordType{
		Name: "point",
		Fields: []ittype.RecordField{
			{Name: "x", Type: ittype.IType{Kind: ittype.S32}},
			{Name: "y", Type: ittype.IType{Kind: ittype.S32}},
		},
	}
	values := []ittype.IValue{
		{Kind: ittype.S32, I32: 10},
		{Kind: ittype.S32, I32: 20},
	}

	ptr, err := LowerRecord(view, rec, values, alloc)
	if err != nil {
		t.Fatalf("LowerRecord: %v", err)
	}

	lifted, err := LiftRecord(view, rec, ptr, noRecords)
	if err != nil {
		t.Fatalf("LiftRecord: %v", err)
	}
	if lifted.Fields[0].I32 != 10 || lifted.Fields[1].I32 != 20 {
		t.Fatalf("unexpected round-tripped record: %+v", lifted.Fields)
	}
}

func TestEmptyRecordRejected(t *testing.T) {
	view := itmem.NewView(newFakeMemory(32))
	_, err := LiftRecord(view, ittype.IRecordType{Name: "empty"}, 0, noRecords)
	if err == nil {
		t.Fatalf("expected empty record to be rejected")
	}
}

func TestInvalidUTF8Rejected(t *testing.T) {
	view := itmem.NewView(newFakeMemory(32))
	if err := view.WriteBytes(0, []byte{0xff, 0xfe, 0xfd}); err != nil {
		t.Fatal(err)
	}
	_, err := liftString(view, 0, 3)
	if err == nil {
		t.Fatalf("expected invalid utf-8 to be rejected")
	}
}

func noRecords(id uint64) (ittype.IRecordType, bool) { return ittype.IRecordType{}, false }
