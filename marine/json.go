package marine

import (
	"encoding/base64"
	"fmt"

	"github.com/marinelabs/marine-go/ittype"
)

// IValueToJSON converts v into a plain Go value suitable for
// encoding/json: records become map[string]interface{} keyed by field
// name (falling back to positional "fN" keys when rec carries no field
// names), arrays become []interface{}, byte arrays become base64
// strings, and every other kind maps to its natural Go scalar. This is
// the minimal edge conversion spec.md names as an external collaborator,
// not a general schema system.
func IValueToJSON(v ittype.IValue, rec *ittype.IRecordType) (interface{}, error) {
	switch v.Kind {
	case ittype.Boolean:
		return v.Bool, nil
	case ittype.S8:
		return v.I8, nil
	case ittype.U8:
		return v.U8, nil
	case ittype.S16:
		return v.I16, nil
	case ittype.U16:
		return v.U16, nil
	case ittype.S32, ittype.I32:
		return v.I32, nil
	case ittype.U32:
		return v.U32, nil
	case ittype.S64, ittype.I64:
		return v.I64, nil
	case ittype.U64:
		return v.U64, nil
	case ittype.F32:
		return v.F32, nil
	case ittype.F64:
		return v.F64, nil
	case ittype.String:
		return v.Str, nil
	case ittype.ByteArray:
		return base64.StdEncoding.EncodeToString(v.Bytes), nil
	case ittype.Array:
		out := make([]interface{}, len(v.Elems))
		for i, elem := range v.Elems {
			j, err := IValueToJSON(elem, nil)
			if err != nil {
				return nil, err
			}
			out[i] = j
		}
		return out, nil
	case ittype.Record:
		out := make(map[string]interface{}, len(v.Fields))
		for i, field := range v.Fields {
			key := fmt.Sprintf("f%d", i)
			if rec != nil && i < len(rec.Fields) && rec.Fields[i].Name != "" {
				key = rec.Fields[i].Name
			}
			var fieldRec *ittype.IRecordType
			j, err := IValueToJSON(field, fieldRec)
			if err != nil {
				return nil, err
			}
			out[key] = j
		}
		return out, nil
	default:
		return nil, fmt.Errorf("IValueToJSON: unsupported kind %s", v.Kind)
	}
}

// JSONToIValue converts a decoded JSON value (as produced by
// encoding/json's default map[string]interface{}/[]interface{}/
// float64/string/bool/nil unmarshaling) into an IValue of shape it. This
// is the inverse edge used to marshal host-import arguments/results that
// round-trip through JSON.
func JSONToIValue(val interface{}, it ittype.IType) (ittype.IValue, error) {
	switch it.Kind {
	case ittype.Boolean:
		b, ok := val.(bool)
		if !ok {
			return ittype.IValue{}, fmt.Errorf("JSONToIValue: expected bool, got %T", val)
		}
		return ittype.IValue{Kind: ittype.Boolean, Bool: b}, nil
	case ittype.String:
		s, ok := val.(string)
		if !ok {
			return ittype.IValue{}, fmt.Errorf("JSONToIValue: expected string, got %T", val)
		}
		return ittype.IValue{Kind: ittype.String, Str: s}, nil
	case ittype.ByteArray:
		s, ok := val.(string)
		if !ok {
			return ittype.IValue{}, fmt.Errorf("JSONToIValue: expected base64 string, got %T", val)
		}
		b, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return ittype.IValue{}, fmt.Errorf("JSONToIValue: invalid base64: %w", err)
		}
		return ittype.IValue{Kind: ittype.ByteArray, Bytes: b}, nil
	case ittype.S8, ittype.U8, ittype.S16, ittype.U16, ittype.S32, ittype.U32, ittype.I32,
		ittype.S64, ittype.U64, ittype.I64, ittype.F32, ittype.F64:
		return numberToIValue(val, it.Kind)
	case ittype.Array:
		items, ok := val.([]interface{})
		if !ok {
			return ittype.IValue{}, fmt.Errorf("JSONToIValue: expected array, got %T", val)
		}
		elems := make([]ittype.IValue, len(items))
		for i, item := range items {
			elem, err := JSONToIValue(item, *it.Elem)
			if err != nil {
				return ittype.IValue{}, err
			}
			elems[i] = elem
		}
		return ittype.IValue{Kind: ittype.Array, Elems: elems}, nil
	default:
		// Record is not supported in this direction and is rejected
		// with an error.
		return ittype.IValue{}, fmt.Errorf("JSONToIValue: unsupported kind %s", it.Kind)
	}
}

func numberToIValue(val interface{}, k ittype.Kind) (ittype.IValue, error) {
	f, ok := val.(float64)
	if !ok {
		return ittype.IValue{}, fmt.Errorf("JSONToIValue: expected number, got %T", val)
	}
	switch k {
	case ittype.S8:
		return ittype.IValue{Kind: k, I8: int8(f)}, nil
	case ittype.U8:
		return ittype.IValue{Kind: k, U8: uint8(f)}, nil
	case ittype.S16:
		return ittype.IValue{Kind: k, I16: int16(f)}, nil
	case ittype.U16:
		return ittype.IValue{Kind: k, U16: uint16(f)}, nil
	case ittype.S32, ittype.I32:
		return ittype.IValue{Kind: k, I32: int32(f)}, nil
	case ittype.U32:
		return ittype.IValue{Kind: k, U32: uint32(f)}, nil
	case ittype.S64, ittype.I64:
		return ittype.IValue{Kind: k, I64: int64(f)}, nil
	case ittype.U64:
		return ittype.IValue{Kind: k, U64: uint64(f)}, nil
	case ittype.F32:
		return ittype.IValue{Kind: k, F32: float32(f)}, nil
	case ittype.F64:
		return ittype.IValue{Kind: k, F64: f}, nil
	default:
		return ittype.IValue{}, fmt.Errorf("numberToIValue: unreachable kind %s", k)
	}
}
