package itmem

import "testing"

type fakeMemory struct {
	buf []byte
}

func newFakeMemory(size uint32) *fakeMemory {
	return &fakeMemory{buf: make([]byte, size)}
}

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

func TestViewBounds(t *testing.T) {
	v := NewView(newFakeMemory(16))

	if err := v.CheckBounds(0, 16); err != nil {
		t.Fatalf("expected in-bounds, got %v", err)
	}
	if err := v.CheckBounds(10, 10); err == nil {
		t.Fatalf("expected out-of-bounds error")
	}
	if err := v.CheckBounds(16, 0); err != nil {
		t.Fatalf("zero-size read at exact end should be in-bounds: %v", err)
	}
	if err := v.CheckBounds(17, 0); err == nil {
		t.Fatalf("zero-size read past end should be out-of-bounds")
	}
}

func TestWriteReadRoundTrip(t *testing.T) {
	v := NewView(newFakeMemory(32))

	if err := v.WriteBytes(4, []byte("hello")); err != nil {
		t.Fatalf("WriteBytes: %v", err)
	}
	got, err := v.ReadVec(4, 5)
	if err != nil {
		t.Fatalf("ReadVec: %v", err)
	}
	if string(got) != "hello" {
		t.Fatalf("got %q, want %q", got, "hello")
	}
}

func TestSequentialReaderWriterRoundTrip(t *testing.T) {
	v := NewView(newFakeMemory(64))
	w := NewSequentialWriter(v, 0)

	if err := w.WriteU8(0xAB); err != nil {
		t.Fatal(err)
	}
	if err := w.WriteI32(-12345); err != nil {
		t.Fatal(err)
	}
	if err := w.WriteU64(0xdeadbeefcafef00d); err != nil {
		t.Fatal(err)
	}
	if err := w.WriteF64(3.14159); err != nil {
		t.Fatal(err)
	}

	r := NewSequentialReader(v, 0)
	u8, err := r.ReadU8()
	if err != nil || u8 != 0xAB {
		t.Fatalf("ReadU8 = %v, %v", u8, err)
	}
	i32, err := r.ReadI32()
	if err != nil || i32 != -12345 {
		t.Fatalf("ReadI32 = %v, %v", i32, err)
	}
	u64, err := r.ReadU64()
	if err != nil || u64 != 0xdeadbeefcafef00d {
		t.Fatalf("ReadU64 = %v, %v", u64, err)
	}
	f64, err := r.ReadF64()
	if err != nil || f64 != 3.14159 {
		t.Fatalf("ReadF64 = %v, %v", f64, err)
	}
}

func TestReadVecOutOfBounds(t *testing.T) {
	v := NewView(newFakeMemory(8))
	if _, err := v.ReadVec(4, 8); err == nil {
		t.Fatalf("expected out-of-bounds error")
	}
}
