// Package ittype defines the interface-types grammar: IType, IRecordType,
// IValue, WValue/WType, Adapter and Instruction, plus the binary codec for
// the custom section a guest module embeds them in.
package ittype

import "fmt"

// Kind identifies an IType variant.
type Kind uint8

const (
	Boolean Kind = iota
	S8
	S16
	S32
	S64
	U8
	U16
	U32
	U64
	I32
	I64
	F32
	F64
	String
	ByteArray
	Array
	Record
)

func (k Kind) String() string {
	switch k {
	case Boolean:
		return "boolean"
	case S8:
		return "s8"
	case S16:
		return "s16"
	case S32:
		return "s32"
	case S64:
		return "s64"
	case U8:
		return "u8"
	case U16:
		return "u16"
	case U32:
		return "u32"
	case U64:
		return "u64"
	case I32:
		return "i32"
	case I64:
		return "i64"
	case F32:
		return "f32"
	case F64:
		return "f64"
	case String:
		return "string"
	case ByteArray:
		return "byte_array"
	case Array:
		return "array"
	case Record:
		return "record"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// IType is the set of interface types. Array carries its element type;
// Record carries a stable id into the owning Interfaces' record table.
type IType struct {
	Kind     Kind
	Elem     *IType // non-nil iff Kind == Array
	RecordID uint64 // meaningful iff Kind == Record
}

// IsFixedPrimitive reports whether T's wire form is a single scalar value
// (as opposed to a (ptr,len) pair or a single pointer).
func (t IType) IsFixedPrimitive() bool {
	switch t.Kind {
	case Boolean, S8, U8, S16, U16, S32, U32, I32, S64, U64, I64, F32, F64:
		return true
	default:
		return false
	}
}

// WireSize is the size in bytes a value of type t occupies when packed
// inline inside an Array(T) backbone or a Record's field region.
func (t IType) WireSize() uint32 {
	switch t.Kind {
	case Boolean, S8, U8:
		return 1
	case S16, U16:
		return 2
	case S32, U32, I32, F32:
		return 4
	case S64, U64, I64, F64:
		return 8
	case String, ByteArray, Array:
		return 8 // (ptr, len) as two u32s
	case Record:
		return 4 // single pointer
	default:
		return 0
	}
}

// StackWidth is the number of WValue stack slots t occupies in its stack
// (as opposed to memory) form.
func (t IType) StackWidth() int {
	switch t.Kind {
	case String, ByteArray, Array:
		return 2
	default:
		return 1
	}
}

// WType is the tag of a raw WebAssembly value.
type WType uint8

const (
	WI32 WType = iota
	WI64
	WF32
	WF64
)

func (t WType) String() string {
	switch t {
	case WI32:
		return "i32"
	case WI64:
		return "i64"
	case WF32:
		return "f32"
	case WF64:
		return "f64"
	default:
		return "unknown"
	}
}

// WValue is a raw WebAssembly value.
type WValue struct {
	Type WType
	I32  int32
	I64  int64
	F32  float32
	F64  float64
}

func NewI32(v int32) WValue { return WValue{Type: WI32, I32: v} }
func NewI64(v int64) WValue { return WValue{Type: WI64, I64: v} }
func NewF32(v float32) WValue { return WValue{Type: WF32, F32: v} }
func NewF64(v float64) WValue { return WValue{Type: WF64, F64: v} }

// IRecordType names and orders the fields of a record.
type IRecordType struct {
	Name   string
	Fields []RecordField
	id     uint64 // stable id within the owning Interfaces' record table
}

// ID returns the stable record-type id used by Record(id) references.
func (r IRecordType) ID() uint64 { return r.id }

// WithID returns a copy of r carrying the given stable id.
func (r IRecordType) WithID(id uint64) IRecordType {
	r.id = id
	return r
}

// RecordField is one named, typed field of an IRecordType.
type RecordField struct {
	Name string
	Type IType
}

// IValue is a tagged union mirroring IType.
type IValue struct {
	Kind      Kind
	Bool      bool
	I8        int8
	I16       int16
	I32       int32
	I64       int64
	U8        uint8
	U16       uint16
	U32       uint32
	U64       uint64
	F32       float32
	F64       float64
	Str       string
	Bytes     []byte
	Elems     []IValue // Array
	RecordID  uint64   // Record
	Fields    []IValue // Record, non-empty
}

// FunctionType is a Function entry in the Interfaces' types table.
type FunctionType struct {
	Args    []IType
	Outputs []IType
}

// TypeEntry is one entry of the Interfaces' types table: either a
// FunctionType or an IRecordType.
type TypeEntry struct {
	IsRecord bool
	Function FunctionType
	Record   IRecordType
}

// Import describes one module import satisfied by another module's export.
type Import struct {
	Namespace    string
	Name         string
	FunctionType uint32
}

// Export describes one module export with an adapter-level function type.
type Export struct {
	Name         string
	FunctionType uint32
}

// Implementation maps a core function type to the adapter that implements
// it at the interface-types level.
type Implementation struct {
	CoreFunctionType    uint32
	AdapterFunctionType uint32
}

// Adapter is a compiled-from-source instruction program for one function
// type.
type Adapter struct {
	FunctionType uint32
	Instructions []Instruction
}

// Interfaces is the parsed content of the IT custom section.
type Interfaces struct {
	Version         Version
	Types           []TypeEntry
	Imports         []Import
	Adapters        []Adapter
	Exports         []Export
	Implementations []Implementation
}

// Version is a semver-like triple used both for the IT section version and
// the sibling SDK version section.
type Version struct {
	Major, Minor, Patch uint64
}

func (v Version) Less(o Version) bool {
	if v.Major != o.Major {
		return v.Major < o.Major
	}
	if v.Minor != o.Minor {
		return v.Minor < o.Minor
	}
	return v.Patch < o.Patch
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// FunctionTypeAt returns the Function type entry at index i, or an error if
// the index is out of range or does not reference a function.
func (ifc *Interfaces) FunctionTypeAt(i uint32) (FunctionType, error) {
	if int(i) >= len(ifc.Types) {
		return FunctionType{}, fmt.Errorf("type index %d out of range", i)
	}
	te := ifc.Types[i]
	if te.IsRecord {
		return FunctionType{}, fmt.Errorf("type index %d is a record, not a function", i)
	}
	return te.Function, nil
}

// RecordTypeByID returns the IRecordType with the given stable id.
func (ifc *Interfaces) RecordTypeByID(id uint64) (IRecordType, bool) {
	for _, te := range ifc.Types {
		if te.IsRecord && te.Record.id == id {
			return te.Record, true
		}
	}
	return IRecordType{}, false
}
