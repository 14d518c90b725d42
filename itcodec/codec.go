// Package itcodec implements the lift/lower codecs that convert between
// IValues and their linear-memory/stack encodings, per the wire layout
// table in the interface-types grammar.
package itcodec

import (
	"unicode/utf8"

	"github.com/marinelabs/marine-go/ittype"
	"github.com/marinelabs/marine-go/itmem"
	"github.com/marinelabs/marine-go/iterrors"
)

// Allocation type tags shared out-of-band with guest SDKs. The scheme is
// documented once here; see SPEC_FULL.md §4.3.
const (
	TagOpaque     uint8 = 0
	TagPrimitive  uint8 = 1
	TagString     uint8 = 2
	TagByteArray  uint8 = 3
	TagArray      uint8 = 4
	TagRecord     uint8 = 5
)

// RecordResolver looks up a record type by its stable id within one
// module's Interfaces.
type RecordResolver func(id uint64) (ittype.IRecordType, bool)

// Allocator is the guest's exported allocate(size, type_tag) -> ptr
// function, wired in by the registry.
type Allocator func(size uint32, tag uint8) (uint32, error)

// LiftIValues consumes wvalues in order according to itypes, producing one
// IValue per declared type. Fixed primitives consume one WValue; strings,
// byte arrays, and arrays consume a (ptr,len) pair; records consume a
// single pointer.
func LiftIValues(view *itmem.View, wvalues []ittype.WValue, itypes []ittype.IType, resolve RecordResolver) ([]ittype.IValue, error) {
	out := make([]ittype.IValue, 0, len(itypes))
	i := 0
	for _, it := range itypes {
		width := it.StackWidth()
		if i+width > len(wvalues) {
			return nil, iterrors.ErrMismatchWValuesCount
		}
		switch it.Kind {
		case ittype.String, ittype.ByteArray, ittype.Array:
			ptr, err := expectI32(wvalues[i])
			if err != nil {
				return nil, err
			}
			ln, err := expectI32(wvalues[i+1])
			if err != nil {
				return nil, err
			}
			iv, err := liftByKind(view, it, uint32(ptr), uint32(ln), resolve)
			if err != nil {
				return nil, err
			}
			out = append(out, iv)
		case ittype.Record:
			ptr, err := expectI32(wvalues[i])
			if err != nil {
				return nil, err
			}
			rec, ok := resolve(it.RecordID)
			if !ok {
				return nil, &iterrors.RecordTypeNotFoundError{ID: it.RecordID}
			}
			iv, err := LiftRecord(view, rec, uint32(ptr), resolve)
			if err != nil {
				return nil, err
			}
			out = append(out, iv)
		default:
			iv, err := liftPrimitive(it, wvalues[i])
			if err != nil {
				return nil, err
			}
			out = append(out, iv)
		}
		i += width
	}
	return out, nil
}

func liftByKind(view *itmem.View, it ittype.IType, ptr, ln uint32, resolve RecordResolver) (ittype.IValue, error) {
	switch it.Kind {
	case ittype.String:
		return liftString(view, ptr, ln)
	case ittype.ByteArray:
		return liftByteArray(view, ptr, ln)
	case ittype.Array:
		return LiftArray(view, *it.Elem, ptr, ln, resolve)
	default:
		panic("liftByKind: unreachable kind")
	}
}

func expectI32(w ittype.WValue) (int32, error) {
	if w.Type != ittype.WI32 {
		return 0, &iterrors.MismatchWValuesError{Expected: "i32", Got: w.Type.String()}
	}
	return w.I32, nil
}

func expectI64(w ittype.WValue) (int64, error) {
	if w.Type != ittype.WI64 {
		return 0, &iterrors.MismatchWValuesError{Expected: "i64", Got: w.Type.String()}
	}
	return w.I64, nil
}

func liftPrimitive(it ittype.IType, w ittype.WValue) (ittype.IValue, error) {
	switch it.Kind {
	case ittype.Boolean:
		v, err := expectI32(w)
		if err != nil {
			return ittype.IValue{}, err
		}
		return ittype.IValue{Kind: ittype.Boolean, Bool: v != 0}, nil
	case ittype.S8:
		v, err := expectI32(w)
		if err != nil {
			return ittype.IValue{}, err
		}
		return ittype.IValue{Kind: ittype.S8, I8: int8(v)}, nil
	case ittype.U8:
		v, err := expectI32(w)
		if err != nil {
			return ittype.IValue{}, err
		}
		return ittype.IValue{Kind: ittype.U8, U8: uint8(v)}, nil
	case ittype.S16:
		v, err := expectI32(w)
		if err != nil {
			return ittype.IValue{}, err
		}
		return ittype.IValue{Kind: ittype.S16, I16: int16(v)}, nil
	case ittype.U16:
		v, err := expectI32(w)
		if err != nil {
			return ittype.IValue{}, err
		}
		return ittype.IValue{Kind: ittype.U16, U16: uint16(v)}, nil
	case ittype.S32, ittype.I32:
		v, err := expectI32(w)
		if err != nil {
			return ittype.IValue{}, err
		}
		return ittype.IValue{Kind: it.Kind, I32: v}, nil
	case ittype.U32:
		v, err := expectI32(w)
		if err != nil {
			return ittype.IValue{}, err
		}
		return ittype.IValue{Kind: ittype.U32, U32: uint32(v)}, nil
	case ittype.S64, ittype.I64:
		v, err := expectI64(w)
		if err != nil {
			return ittype.IValue{}, err
		}
		return ittype.IValue{Kind: it.Kind, I64: v}, nil
	case ittype.U64:
		v, err := expectI64(w)
		if err != nil {
			return ittype.IValue{}, err
		}
		return ittype.IValue{Kind: ittype.U64, U64: uint64(v)}, nil
	case ittype.F32:
		if w.Type != ittype.WF32 {
			return ittype.IValue{}, &iterrors.MismatchWValuesError{Expected: "f32", Got: w.Type.String()}
		}
		return ittype.IValue{Kind: ittype.F32, F32: w.F32}, nil
	case ittype.F64:
		if w.Type != ittype.WF64 {
			return ittype.IValue{}, &iterrors.MismatchWValuesError{Expected: "f64", Got: w.Type.String()}
		}
		return ittype.IValue{Kind: ittype.F64, F64: w.F64}, nil
	default:
		panic("liftPrimitive: unreachable kind")
	}
}

func liftString(view *itmem.View, ptr, length uint32) (ittype.IValue, error) {
	if length == 0 {
		return ittype.IValue{Kind: ittype.String, Str: ""}, nil
	}
	data, err := view.ReadVec(ptr, length)
	if err != nil {
		return ittype.IValue{}, err
	}
	if !utf8.Valid(data) {
		return ittype.IValue{}, iterrors.ErrInvalidUTF8
	}
	return ittype.IValue{Kind: ittype.String, Str: string(data)}, nil
}

func liftByteArray(view *itmem.View, ptr, length uint32) (ittype.IValue, error) {
	if length == 0 {
		return ittype.IValue{Kind: ittype.ByteArray, Bytes: nil}, nil
	}
	data, err := view.ReadVec(ptr, length)
	if err != nil {
		return ittype.IValue{}, err
	}
	return ittype.IValue{Kind: ittype.ByteArray, Bytes: data}, nil
}

// LiftArray reads count elements of type elem starting at ptr, using the
// wire-size schedule for elem's backbone layout.
func LiftArray(view *itmem.View, elem ittype.IType, ptr, count uint32, resolve RecordResolver) (ittype.IValue, error) {
	if count == 0 {
		return ittype.IValue{Kind: ittype.Array, Elems: nil}, nil
	}
	cur := itmem.NewSequentialReader(view, ptr)
	elems := make([]ittype.IValue, 0, count)
	for i := uint32(0); i < count; i++ {
		iv, err := liftArrayElement(view, cur, elem, resolve)
		if err != nil {
			return ittype.IValue{}, err
		}
		elems = append(elems, iv)
	}
	return ittype.IValue{Kind: ittype.Array, Elems: elems}, nil
}

func liftArrayElement(view *itmem.View, cur *itmem.SequentialReader, elem ittype.IType, resolve RecordResolver) (ittype.IValue, error) {
	switch elem.Kind {
	case ittype.String, ittype.ByteArray, ittype.Array:
		subPtr, err := cur.ReadU32()
		if err != nil {
			return ittype.IValue{}, err
		}
		subLen, err := cur.ReadU32()
		if err != nil {
			return ittype.IValue{}, err
		}
		return liftByKind(view, elem, subPtr, subLen, resolve)
	case ittype.Record:
		ptr, err := cur.ReadU32()
		if err != nil {
			return ittype.IValue{}, err
		}
		rec, ok := resolve(elem.RecordID)
		if !ok {
			return ittype.IValue{}, &iterrors.RecordTypeNotFoundError{ID: elem.RecordID}
		}
		return LiftRecord(view, rec, ptr, resolve)
	default:
		return liftFixedFromCursor(cur, elem)
	}
}

func liftFixedFromCursor(cur *itmem.SequentialReader, it ittype.IType) (ittype.IValue, error) {
	switch it.Kind {
	case ittype.Boolean:
		v, err := cur.ReadU8()
		return ittype.IValue{Kind: ittype.Boolean, Bool: v != 0}, err
	case ittype.S8:
		v, err := cur.ReadI8()
		return ittype.IValue{Kind: ittype.S8, I8: v}, err
	case ittype.U8:
		v, err := cur.ReadU8()
		return ittype.IValue{Kind: ittype.U8, U8: v}, err
	case ittype.S16:
		v, err := cur.ReadI16()
		return ittype.IValue{Kind: ittype.S16, I16: v}, err
	case ittype.U16:
		v, err := cur.ReadU16()
		return ittype.IValue{Kind: ittype.U16, U16: v}, err
	case ittype.S32:
		v, err := cur.ReadI32()
		return ittype.IValue{Kind: ittype.S32, I32: v}, err
	case ittype.U32:
		v, err := cur.ReadU32()
		return ittype.IValue{Kind: ittype.U32, U32: v}, err
	case ittype.I32:
		v, err := cur.ReadI32()
		return ittype.IValue{Kind: ittype.I32, I32: v}, err
	case ittype.S64:
		v, err := cur.ReadI64()
		return ittype.IValue{Kind: ittype.S64, I64: v}, err
	case ittype.U64:
		v, err := cur.ReadU64()
		return ittype.IValue{Kind: ittype.U64, U64: v}, err
	case ittype.I64:
		v, err := cur.ReadI64()
		return ittype.IValue{Kind: ittype.I64, I64: v}, err
	case ittype.F32:
		v, err := cur.ReadF32()
		return ittype.IValue{Kind: ittype.F32, F32: v}, err
	case ittype.F64:
		v, err := cur.ReadF64()
		return ittype.IValue{Kind: ittype.F64, F64: v}, err
	default:
		panic("liftFixedFromCursor: unreachable kind")
	}
}

// LiftRecord walks rec's fields in order starting at ptr, producing an
// IValue whose arity matches rec.Fields exactly.
func LiftRecord(view *itmem.View, rec ittype.IRecordType, ptr uint32, resolve RecordResolver) (ittype.IValue, error) {
	if len(rec.Fields) == 0 {
		return ittype.IValue{}, &iterrors.EmptyRecordError{Name: rec.Name}
	}
	cur := itmem.NewSequentialReader(view, ptr)
	fields := make([]ittype.IValue, 0, len(rec.Fields))
	for _, f := range rec.Fields {
		iv, err := liftArrayElement(view, cur, f.Type, resolve)
		if err != nil {
			return ittype.IValue{}, err
		}
		fields = append(fields, iv)
	}
	return ittype.IValue{Kind: ittype.Record, RecordID: rec.ID(), Fields: fields}, nil
}
