package itcodec

import (
	"github.com/marinelabs/marine-go/ittype"
	"github.com/marinelabs/marine-go/itmem"
	"github.com/marinelabs/marine-go/iterrors"
)

// LowerArray writes values (all of type elem) into a freshly allocated
// backbone and returns (ptr, count). An empty array returns (0, 0)
// without calling alloc.
func LowerArray(view *itmem.View, elem ittype.IType, values []ittype.IValue, alloc Allocator) (ptr, count uint32, err error) {
	if len(values) == 0 {
		return 0, 0, nil
	}

	backboneSize := elem.WireSize() * uint32(len(values))
	backbonePtr, err := allocate(alloc, backboneSize, backboneTag(elem))
	if err != nil {
		return 0, 0, err
	}

	cur := itmem.NewSequentialWriter(view, backbonePtr)
	for _, v := range values {
		if err := lowerArrayElement(view, cur, v, alloc); err != nil {
			return 0, 0, err
		}
	}

	return backbonePtr, uint32(len(values)), nil
}

// LowerRecord writes values' fields (matching rec's field order) into a
// freshly allocated record region and returns the top-level pointer.
func LowerRecord(view *itmem.View, rec ittype.IRecordType, values []ittype.IValue, alloc Allocator) (uint32, error) {
	size := uint32(0)
	for _, f := range rec.Fields {
		size += f.Type.WireSize()
	}

	ptr, err := allocate(alloc, size, TagRecord)
	if err != nil {
		return 0, err
	}

	cur := itmem.NewSequentialWriter(view, ptr)
	for _, v := range values {
		if err := lowerArrayElement(view, cur, v, alloc); err != nil {
			return 0, err
		}
	}

	return ptr, nil
}

func lowerArrayElement(view *itmem.View, cur *itmem.SequentialWriter, v ittype.IValue, alloc Allocator) error {
	switch v.Kind {
	case ittype.String:
		ptr, length, err := lowerStringPayload(view, v.Str, alloc)
		if err != nil {
			return err
		}
		if err := cur.WriteU32(ptr); err != nil {
			return err
		}
		return cur.WriteU32(length)
	case ittype.ByteArray:
		ptr, length, err := lowerByteArrayPayload(view, v.Bytes, alloc)
		if err != nil {
			return err
		}
		if err := cur.WriteU32(ptr); err != nil {
			return err
		}
		return cur.WriteU32(length)
	case ittype.Array:
		elemType := arrayElemType(v)
		ptr, count, err := LowerArray(view, elemType, v.Elems, alloc)
		if err != nil {
			return err
		}
		if err := cur.WriteU32(ptr); err != nil {
			return err
		}
		return cur.WriteU32(count)
	case ittype.Record:
		rec := recordTypeOf(v)
		ptr, err := LowerRecord(view, rec, v.Fields, alloc)
		if err != nil {
			return err
		}
		return cur.WriteU32(ptr)
	default:
		return lowerFixedToCursor(cur, v)
	}
}

func lowerFixedToCursor(cur *itmem.SequentialWriter, v ittype.IValue) error {
	switch v.Kind {
	case ittype.Boolean:
		b := uint8(0)
		if v.Bool {
			b = 1
		}
		return cur.WriteU8(b)
	case ittype.S8:
		return cur.WriteI8(v.I8)
	case ittype.U8:
		return cur.WriteU8(v.U8)
	case ittype.S16:
		return cur.WriteI16(v.I16)
	case ittype.U16:
		return cur.WriteU16(v.U16)
	case ittype.S32, ittype.I32:
		return cur.WriteI32(v.I32)
	case ittype.U32:
		return cur.WriteU32(v.U32)
	case ittype.S64, ittype.I64:
		return cur.WriteI64(v.I64)
	case ittype.U64:
		return cur.WriteU64(v.U64)
	case ittype.F32:
		return cur.WriteF32(v.F32)
	case ittype.F64:
		return cur.WriteF64(v.F64)
	default:
		panic("lowerFixedToCursor: unreachable kind")
	}
}

func lowerStringPayload(view *itmem.View, s string, alloc Allocator) (ptr, length uint32, err error) {
	if len(s) == 0 {
		return 0, 0, nil
	}
	ptr, err = allocate(alloc, uint32(len(s)), TagString)
	if err != nil {
		return 0, 0, err
	}
	if err := view.WriteBytes(ptr, []byte(s)); err != nil {
		return 0, 0, err
	}
	return ptr, uint32(len(s)), nil
}

func lowerByteArrayPayload(view *itmem.View, b []byte, alloc Allocator) (ptr, length uint32, err error) {
	if len(b) == 0 {
		return 0, 0, nil
	}
	ptr, err = allocate(alloc, uint32(len(b)), TagByteArray)
	if err != nil {
		return 0, 0, err
	}
	if err := view.WriteBytes(ptr, b); err != nil {
		return 0, 0, err
	}
	return ptr, uint32(len(b)), nil
}

func allocate(alloc Allocator, size uint32, tag uint8) (uint32, error) {
	if size == 0 {
		return 0, nil
	}
	ptr, err := alloc(size, tag)
	if err != nil {
		return 0, err
	}
	if ptr == 0 {
		return 0, iterrors.ErrAllocationFailed
	}
	return ptr, nil
}

func backboneTag(elem ittype.IType) uint8 {
	switch elem.Kind {
	case ittype.String, ittype.ByteArray, ittype.Array, ittype.Record:
		return TagArray
	default:
		return TagPrimitive
	}
}

// arrayElemType recovers the element IType from a non-empty Array IValue;
// callers are responsible for ensuring v.Elems carries at least one
// uniformly typed element, per the grammar's homogeneous-array invariant.
func arrayElemType(v ittype.IValue) ittype.IType {
	if len(v.Elems) == 0 {
		return ittype.IType{Kind: ittype.I32}
	}
	return iTypeOf(v.Elems[0])
}

func iTypeOf(v ittype.IValue) ittype.IType {
	switch v.Kind {
	case ittype.Array:
		elem := arrayElemType(v)
		return ittype.IType{Kind: ittype.Array, Elem: &elem}
	case ittype.Record:
		return ittype.IType{Kind: ittype.Record, RecordID: v.RecordID}
	default:
		return ittype.IType{Kind: v.Kind}
	}
}

func recordTypeOf(v ittype.IValue) ittype.IRecordType {
	fields := make([]ittype.RecordField, 0, len(v.Fields))
	for _, f := range v.Fields {
		fields = append(fields, ittype.RecordField{Type: iTypeOf(f)})
	}
	return ittype.IRecordType{Fields: fields}
}

// IValueToWValues produces the stack form for a single returned IValue:
// fixed primitives become one WValue, strings/bytearrays/arrays become a
// (ptr,len) pair, records become a single pointer.
func IValueToWValues(view *itmem.View, v ittype.IValue, alloc Allocator) ([]ittype.WValue, error) {
	switch v.Kind {
	case ittype.String:
		ptr, length, err := lowerStringPayload(view, v.Str, alloc)
		if err != nil {
			return nil, err
		}
		return []ittype.WValue{ittype.NewI32(int32(ptr)), ittype.NewI32(int32(length))}, nil
	case ittype.ByteArray:
		ptr, length, err := lowerByteArrayPayload(view, v.Bytes, alloc)
		if err != nil {
			return nil, err
		}
		return []ittype.WValue{ittype.NewI32(int32(ptr)), ittype.NewI32(int32(length))}, nil
	case ittype.Array:
		elemType := arrayElemType(v)
		ptr, count, err := LowerArray(view, elemType, v.Elems, alloc)
		if err != nil {
			return nil, err
		}
		return []ittype.WValue{ittype.NewI32(int32(ptr)), ittype.NewI32(int32(count))}, nil
	case ittype.Record:
		rec := recordTypeOf(v)
		ptr, err := LowerRecord(view, rec, v.Fields, alloc)
		if err != nil {
			return nil, err
		}
		return []ittype.WValue{ittype.NewI32(int32(ptr))}, nil
	default:
		return []ittype.WValue{fixedToWValue(v)}, nil
	}
}

func fixedToWValue(v ittype.IValue) ittype.WValue {
	switch v.Kind {
	case ittype.Boolean:
		if v.Bool {
			return ittype.NewI32(1)
		}
		return ittype.NewI32(0)
	case ittype.S8:
		return ittype.NewI32(int32(v.I8))
	case ittype.U8:
		return ittype.NewI32(int32(v.U8))
	case ittype.S16:
		return ittype.NewI32(int32(v.I16))
	case ittype.U16:
		return ittype.NewI32(int32(v.U16))
	case ittype.S32, ittype.I32:
		return ittype.NewI32(v.I32)
	case ittype.U32:
		return ittype.NewI32(int32(v.U32))
	case ittype.S64, ittype.I64:
		return ittype.NewI64(v.I64)
	case ittype.U64:
		return ittype.NewI64(int64(v.U64))
	case ittype.F32:
		return ittype.NewF32(v.F32)
	case ittype.F64:
		return ittype.NewF64(v.F64)
	default:
		panic("fixedToWValue: unreachable kind")
	}
}
