// Package itmem provides bounds-checked access to a guest's linear memory
// and the sequential cursor types the lifter/lowerer builds its decoding
// and encoding on top of.
package itmem

import (
	"encoding/binary"
	"math"

	"github.com/tetratelabs/wazero/api"

	"github.com/marinelabs/marine-go/iterrors"
)

// Memory is the narrow surface of api.Memory that View needs.
// Mirroring only the methods actually used keeps View testable
// against a fake without pulling in a full wazero module instance.
type Memory interface {
	Size() uint32
	Read(offset, byteCount uint32) ([]byte, bool)
	Write(offset uint32, v []byte) bool
	ReadByte(offset uint32) (byte, bool)
	WriteByte(offset uint32, v byte) bool
}

var _ Memory = api.Memory(nil)

// View is a bounds-checked view over one guest instance's linear memory.
// A View may be invalidated by memory growth that happens during a call;
// callers must re-acquire it after any guest function call that could
// have grown memory.
type View struct {
	mem Memory
}

// NewView wraps mem.
func NewView(mem Memory) *View {
	return &View{mem: mem}
}

// CheckBounds reports whether the half-open range [offset, offset+size)
// lies within the memory.
func (v *View) CheckBounds(offset, size uint32) error {
	memSize := v.mem.Size()
	if size == 0 {
		if offset > memSize {
			return &iterrors.OutOfBoundsError{Offset: offset, Size: size, MemorySize: memSize}
		}
		return nil
	}
	end := uint64(offset) + uint64(size)
	if end > uint64(memSize) {
		return &iterrors.OutOfBoundsError{Offset: offset, Size: size, MemorySize: memSize}
	}
	return nil
}

// ReadByte reads a single byte at offset.
func (v *View) ReadByte(offset uint32) (byte, error) {
	if err := v.CheckBounds(offset, 1); err != nil {
		return 0, err
	}
	b, ok := v.mem.ReadByte(offset)
	if !ok {
		return 0, &iterrors.OutOfBoundsError{Offset: offset, Size: 1, MemorySize: v.mem.Size()}
	}
	return b, nil
}

// ReadVec reads size bytes starting at offset. The returned slice is a
// copy and safe to retain past the next guest call.
func (v *View) ReadVec(offset, size uint32) ([]byte, error) {
	if err := v.CheckBounds(offset, size); err != nil {
		return nil, err
	}
	if size == 0 {
		return nil, nil
	}
	data, ok := v.mem.Read(offset, size)
	if !ok {
		return nil, &iterrors.OutOfBoundsError{Offset: offset, Size: size, MemorySize: v.mem.Size()}
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

// ReadArray reads exactly n bytes starting at offset.
func (v *View) ReadArray(offset uint32, n int) ([]byte, error) {
	return v.ReadVec(offset, uint32(n))
}

// WriteByte writes a single byte at offset.
func (v *View) WriteByte(offset uint32, b byte) error {
	if err := v.CheckBounds(offset, 1); err != nil {
		return err
	}
	if !v.mem.WriteByte(offset, b) {
		return &iterrors.OutOfBoundsError{Offset: offset, Size: 1, MemorySize: v.mem.Size()}
	}
	return nil
}

// WriteBytes writes data starting at offset.
func (v *View) WriteBytes(offset uint32, data []byte) error {
	if err := v.CheckBounds(offset, uint32(len(data))); err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}
	if !v.mem.Write(offset, data) {
		return &iterrors.OutOfBoundsError{Offset: offset, Size: uint32(len(data)), MemorySize: v.mem.Size()}
	}
	return nil
}

// Size returns the memory's current size in bytes.
func (v *View) Size() uint32 {
	return v.mem.Size()
}

// SequentialReader is a cursor over a View that advances after every
// typed read.
type SequentialReader struct {
	view   *View
	offset uint32
}

// NewSequentialReader builds a cursor starting at offset.
func NewSequentialReader(view *View, offset uint32) *SequentialReader {
	return &SequentialReader{view: view, offset: offset}
}

// Offset returns the cursor's current position.
func (r *SequentialReader) Offset() uint32 { return r.offset }

func (r *SequentialReader) readN(n uint32) ([]byte, error) {
	data, err := r.view.ReadVec(r.offset, n)
	if err != nil {
		return nil, err
	}
	r.offset += n
	return data, nil
}

func (r *SequentialReader) ReadU8() (uint8, error) {
	b, err := r.view.ReadByte(r.offset)
	if err != nil {
		return 0, err
	}
	r.offset++
	return b, nil
}

func (r *SequentialReader) ReadI8() (int8, error) {
	b, err := r.ReadU8()
	return int8(b), err
}

func (r *SequentialReader) ReadU16() (uint16, error) {
	data, err := r.readN(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(data), nil
}

func (r *SequentialReader) ReadI16() (int16, error) {
	v, err := r.ReadU16()
	return int16(v), err
}

func (r *SequentialReader) ReadU32() (uint32, error) {
	data, err := r.readN(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(data), nil
}

func (r *SequentialReader) ReadI32() (int32, error) {
	v, err := r.ReadU32()
	return int32(v), err
}

func (r *SequentialReader) ReadF32() (float32, error) {
	v, err := r.ReadU32()
	if err != nil {
		return 0, err
	}
	return math.Float32frombits(v), nil
}

func (r *SequentialReader) ReadU64() (uint64, error) {
	data, err := r.readN(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(data), nil
}

func (r *SequentialReader) ReadI64() (int64, error) {
	v, err := r.ReadU64()
	return int64(v), err
}

func (r *SequentialReader) ReadF64() (float64, error) {
	v, err := r.ReadU64()
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(v), nil
}

// SequentialWriter is a cursor over a View that advances after every
// typed write.
type SequentialWriter struct {
	view   *View
	offset uint32
}

// NewSequentialWriter builds a cursor starting at offset.
func NewSequentialWriter(view *View, offset uint32) *SequentialWriter {
	return &SequentialWriter{view: view, offset: offset}
}

// Offset returns the cursor's current position.
func (w *SequentialWriter) Offset() uint32 { return w.offset }

func (w *SequentialWriter) writeN(data []byte) error {
	if err := w.view.WriteBytes(w.offset, data); err != nil {
		return err
	}
	w.offset += uint32(len(data))
	return nil
}

func (w *SequentialWriter) WriteU8(v uint8) error {
	if err := w.view.WriteByte(w.offset, v); err != nil {
		return err
	}
	w.offset++
	return nil
}

func (w *SequentialWriter) WriteI8(v int8) error { return w.WriteU8(uint8(v)) }

func (w *SequentialWriter) WriteU16(v uint16) error {
	var buf [2]byte
	binary.LittleEndian.PutUint16(buf[:], v)
	return w.writeN(buf[:])
}

func (w *SequentialWriter) WriteI16(v int16) error { return w.WriteU16(uint16(v)) }

func (w *SequentialWriter) WriteU32(v uint32) error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	return w.writeN(buf[:])
}

func (w *SequentialWriter) WriteI32(v int32) error { return w.WriteU32(uint32(v)) }

func (w *SequentialWriter) WriteF32(v float32) error { return w.WriteU32(math.Float32bits(v)) }

func (w *SequentialWriter) WriteU64(v uint64) error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	return w.writeN(buf[:])
}

func (w *SequentialWriter) WriteI64(v int64) error { return w.WriteU64(uint64(v)) }

func (w *SequentialWriter) WriteF64(v float64) error { return w.WriteU64(math.Float64bits(v)) }
