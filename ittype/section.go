package ittype

import (
	"bytes"
	"fmt"
	"io"

	"github.com/marinelabs/marine-go/internal/leb128"
	"github.com/marinelabs/marine-go/iterrors"
)

// SectionName is the well-known custom section name an IT-enabled guest
// module embeds its Interfaces under.
const SectionName = "interface-types"

// SDKSectionName is the well-known custom section carrying the SDK
// version a guest module was built with.
const SDKSectionName = "sdk-version"

// ParseSection decodes the IT custom section payload into an Interfaces
// value. Parsing consumes the entire input; trailing bytes are an error.
func ParseSection(payload []byte) (*Interfaces, error) {
	r := bytes.NewReader(payload)

	version, err := readVersion(r)
	if err != nil {
		return nil, &iterrors.ParseITSectionError{Kind: iterrors.Corrupted}
	}

	typeCount, err := leb128.ReadVarUint64(r)
	if err != nil {
		return nil, &iterrors.ParseITSectionError{Kind: iterrors.Corrupted}
	}

	types := make([]TypeEntry, 0, typeCount)
	for i := uint64(0); i < typeCount; i++ {
		te, err := readTypeEntry(r, i)
		if err != nil {
			return nil, &iterrors.ParseITSectionError{Kind: iterrors.Corrupted}
		}
		types = append(types, te)
	}

	imports, err := readImports(r)
	if err != nil {
		return nil, &iterrors.ParseITSectionError{Kind: iterrors.Corrupted}
	}

	adapters, err := readAdapters(r)
	if err != nil {
		return nil, &iterrors.ParseITSectionError{Kind: iterrors.Corrupted}
	}

	exports, err := readExports(r)
	if err != nil {
		return nil, &iterrors.ParseITSectionError{Kind: iterrors.Corrupted}
	}

	impls, err := readImplementations(r)
	if err != nil {
		return nil, &iterrors.ParseITSectionError{Kind: iterrors.Corrupted}
	}

	if r.Len() != 0 {
		return nil, &iterrors.ParseITSectionError{Kind: iterrors.RemainderNotEmpty}
	}

	return &Interfaces{
		Version:         version,
		Types:           types,
		Imports:         imports,
		Adapters:        adapters,
		Exports:         exports,
		Implementations: impls,
	}, nil
}

// EmitSection encodes ifc into its binary custom-section payload. A
// round trip EmitSection(ParseSection(b)) reproduces b byte for byte for
// any section produced by this encoder.
func EmitSection(ifc *Interfaces) ([]byte, error) {
	var buf bytes.Buffer

	if err := writeVersion(&buf, ifc.Version); err != nil {
		return nil, err
	}

	if err := leb128.WriteVarUint64(&buf, uint64(len(ifc.Types))); err != nil {
		return nil, err
	}
	for _, te := range ifc.Types {
		if err := writeTypeEntry(&buf, te); err != nil {
			return nil, err
		}
	}

	if err := writeImports(&buf, ifc.Imports); err != nil {
		return nil, err
	}
	if err := writeAdapters(&buf, ifc.Adapters); err != nil {
		return nil, err
	}
	if err := writeExports(&buf, ifc.Exports); err != nil {
		return nil, err
	}
	if err := writeImplementations(&buf, ifc.Implementations); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// CustomSectionsFunc exposes an engine's custom_sections capability,
// narrowed to the signature ExtractFromModule needs.
type CustomSectionsFunc func(name string) [][]byte

// ExtractFromModule locates the IT custom section via customSections and
// parses it, enforcing that exactly one instance is present.
func ExtractFromModule(customSections CustomSectionsFunc) (*Interfaces, error) {
	sections := customSections(SectionName)
	if len(sections) == 0 {
		return nil, &iterrors.ParseITSectionError{Kind: iterrors.SectionAbsent}
	}
	if len(sections) > 1 {
		return nil, &iterrors.ParseITSectionError{Kind: iterrors.SectionDuplicated}
	}
	return ParseSection(sections[0])
}

// SDKVersion reads and parses the sibling SDK-version custom section.
func SDKVersion(customSections CustomSectionsFunc) (Version, error) {
	sections := customSections(SDKSectionName)
	if len(sections) == 0 {
		return Version{}, iterrors.ErrModuleWithoutVersion
	}
	r := bytes.NewReader(sections[0])
	return readVersion(r)
}

func readVersion(r io.Reader) (Version, error) {
	major, err := leb128.ReadVarUint64(r)
	if err != nil {
		return Version{}, err
	}
	minor, err := leb128.ReadVarUint64(r)
	if err != nil {
		return Version{}, err
	}
	patch, err := leb128.ReadVarUint64(r)
	if err != nil {
		return Version{}, err
	}
	return Version{Major: major, Minor: minor, Patch: patch}, nil
}

func writeVersion(w io.Writer, v Version) error {
	if err := leb128.WriteVarUint64(w, v.Major); err != nil {
		return err
	}
	if err := leb128.WriteVarUint64(w, v.Minor); err != nil {
		return err
	}
	return leb128.WriteVarUint64(w, v.Patch)
}

func readString(r io.Reader) (string, error) {
	n, err := leb128.ReadVarUint64(r)
	if err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

func writeString(w io.Writer, s string) error {
	if err := leb128.WriteVarUint64(w, uint64(len(s))); err != nil {
		return err
	}
	_, err := io.WriteString(w, s)
	return err
}

// itype tags used by the binary encoding, distinct from Kind only in that
// they are the wire representation (kept equal to Kind's own ordinals for
// simplicity, since Kind is already a closed, stable enumeration).
func readIType(r io.Reader) (IType, error) {
	tag, err := leb128.ReadVarUint64(r)
	if err != nil {
		return IType{}, err
	}
	k := Kind(tag)
	switch k {
	case Array:
		elem, err := readIType(r)
		if err != nil {
			return IType{}, err
		}
		return IType{Kind: Array, Elem: &elem}, nil
	case Record:
		id, err := leb128.ReadVarUint64(r)
		if err != nil {
			return IType{}, err
		}
		return IType{Kind: Record, RecordID: id}, nil
	default:
		if k > Record {
			return IType{}, fmt.Errorf("invalid itype tag %d", tag)
		}
		return IType{Kind: k}, nil
	}
}

func writeIType(w io.Writer, t IType) error {
	if err := leb128.WriteVarUint64(w, uint64(t.Kind)); err != nil {
		return err
	}
	switch t.Kind {
	case Array:
		return writeIType(w, *t.Elem)
	case Record:
		return leb128.WriteVarUint64(w, t.RecordID)
	default:
		return nil
	}
}

// readTypeEntry parses the type-table entry at index idx. Record(id)
// references name their record by the record's own position in the type
// table, so idx becomes that record's stable id.
func readTypeEntry(r io.Reader, idx uint64) (TypeEntry, error) {
	isRecord, err := leb128.ReadVarUint64(r)
	if err != nil {
		return TypeEntry{}, err
	}
	if isRecord != 0 {
		name, err := readString(r)
		if err != nil {
			return TypeEntry{}, err
		}
		fieldCount, err := leb128.ReadVarUint64(r)
		if err != nil {
			return TypeEntry{}, err
		}
		fields := make([]RecordField, 0, fieldCount)
		for i := uint64(0); i < fieldCount; i++ {
			fname, err := readString(r)
			if err != nil {
				return TypeEntry{}, err
			}
			ftype, err := readIType(r)
			if err != nil {
				return TypeEntry{}, err
			}
			fields = append(fields, RecordField{Name: fname, Type: ftype})
		}
		rec := IRecordType{Name: name, Fields: fields}.WithID(idx)
		return TypeEntry{IsRecord: true, Record: rec}, nil
	}

	argCount, err := leb128.ReadVarUint64(r)
	if err != nil {
		return TypeEntry{}, err
	}
	args := make([]IType, 0, argCount)
	for i := uint64(0); i < argCount; i++ {
		t, err := readIType(r)
		if err != nil {
			return TypeEntry{}, err
		}
		args = append(args, t)
	}
	outCount, err := leb128.ReadVarUint64(r)
	if err != nil {
		return TypeEntry{}, err
	}
	outputs := make([]IType, 0, outCount)
	for i := uint64(0); i < outCount; i++ {
		t, err := readIType(r)
		if err != nil {
			return TypeEntry{}, err
		}
		outputs = append(outputs, t)
	}
	return TypeEntry{Function: FunctionType{Args: args, Outputs: outputs}}, nil
}

func writeTypeEntry(w io.Writer, te TypeEntry) error {
	if te.IsRecord {
		if err := leb128.WriteVarUint64(w, 1); err != nil {
			return err
		}
		if err := writeString(w, te.Record.Name); err != nil {
			return err
		}
		if err := leb128.WriteVarUint64(w, uint64(len(te.Record.Fields))); err != nil {
			return err
		}
		for _, f := range te.Record.Fields {
			if err := writeString(w, f.Name); err != nil {
				return err
			}
			if err := writeIType(w, f.Type); err != nil {
				return err
			}
		}
		return nil
	}

	if err := leb128.WriteVarUint64(w, 0); err != nil {
		return err
	}
	if err := leb128.WriteVarUint64(w, uint64(len(te.Function.Args))); err != nil {
		return err
	}
	for _, t := range te.Function.Args {
		if err := writeIType(w, t); err != nil {
			return err
		}
	}
	if err := leb128.WriteVarUint64(w, uint64(len(te.Function.Outputs))); err != nil {
		return err
	}
	for _, t := range te.Function.Outputs {
		if err := writeIType(w, t); err != nil {
			return err
		}
	}
	return nil
}

func readImports(r io.Reader) ([]Import, error) {
	n, err := leb128.ReadVarUint64(r)
	if err != nil {
		return nil, err
	}
	out := make([]Import, 0, n)
	for i := uint64(0); i < n; i++ {
		ns, err := readString(r)
		if err != nil {
			return nil, err
		}
		name, err := readString(r)
		if err != nil {
			return nil, err
		}
		ft, err := leb128.ReadVarUint64(r)
		if err != nil {
			return nil, err
		}
		out = append(out, Import{Namespace: ns, Name: name, FunctionType: uint32(ft)})
	}
	return out, nil
}

func writeImports(w io.Writer, imports []Import) error {
	if err := leb128.WriteVarUint64(w, uint64(len(imports))); err != nil {
		return err
	}
	for _, imp := range imports {
		if err := writeString(w, imp.Namespace); err != nil {
			return err
		}
		if err := writeString(w, imp.Name); err != nil {
			return err
		}
		if err := leb128.WriteVarUint64(w, uint64(imp.FunctionType)); err != nil {
			return err
		}
	}
	return nil
}

func readExports(r io.Reader) ([]Export, error) {
	n, err := leb128.ReadVarUint64(r)
	if err != nil {
		return nil, err
	}
	out := make([]Export, 0, n)
	for i := uint64(0); i < n; i++ {
		name, err := readString(r)
		if err != nil {
			return nil, err
		}
		ft, err := leb128.ReadVarUint64(r)
		if err != nil {
			return nil, err
		}
		out = append(out, Export{Name: name, FunctionType: uint32(ft)})
	}
	return out, nil
}

func writeExports(w io.Writer, exports []Export) error {
	if err := leb128.WriteVarUint64(w, uint64(len(exports))); err != nil {
		return err
	}
	for _, e := range exports {
		if err := writeString(w, e.Name); err != nil {
			return err
		}
		if err := leb128.WriteVarUint64(w, uint64(e.FunctionType)); err != nil {
			return err
		}
	}
	return nil
}

func readImplementations(r io.Reader) ([]Implementation, error) {
	n, err := leb128.ReadVarUint64(r)
	if err != nil {
		return nil, err
	}
	out := make([]Implementation, 0, n)
	for i := uint64(0); i < n; i++ {
		core, err := leb128.ReadVarUint64(r)
		if err != nil {
			return nil, err
		}
		adapter, err := leb128.ReadVarUint64(r)
		if err != nil {
			return nil, err
		}
		out = append(out, Implementation{CoreFunctionType: uint32(core), AdapterFunctionType: uint32(adapter)})
	}
	return out, nil
}

func writeImplementations(w io.Writer, impls []Implementation) error {
	if err := leb128.WriteVarUint64(w, uint64(len(impls))); err != nil {
		return err
	}
	for _, impl := range impls {
		if err := leb128.WriteVarUint64(w, uint64(impl.CoreFunctionType)); err != nil {
			return err
		}
		if err := leb128.WriteVarUint64(w, uint64(impl.AdapterFunctionType)); err != nil {
			return err
		}
	}
	return nil
}

func readAdapters(r io.Reader) ([]Adapter, error) {
	n, err := leb128.ReadVarUint64(r)
	if err != nil {
		return nil, err
	}
	out := make([]Adapter, 0, n)
	for i := uint64(0); i < n; i++ {
		ft, err := leb128.ReadVarUint64(r)
		if err != nil {
			return nil, err
		}
		instrCount, err := leb128.ReadVarUint64(r)
		if err != nil {
			return nil, err
		}
		instrs := make([]Instruction, 0, instrCount)
		for j := uint64(0); j < instrCount; j++ {
			instr, err := readInstruction(r)
			if err != nil {
				return nil, err
			}
			instrs = append(instrs, instr)
		}
		out = append(out, Adapter{FunctionType: uint32(ft), Instructions: instrs})
	}
	return out, nil
}

func writeAdapters(w io.Writer, adapters []Adapter) error {
	if err := leb128.WriteVarUint64(w, uint64(len(adapters))); err != nil {
		return err
	}
	for _, a := range adapters {
		if err := leb128.WriteVarUint64(w, uint64(a.FunctionType)); err != nil {
			return err
		}
		if err := leb128.WriteVarUint64(w, uint64(len(a.Instructions))); err != nil {
			return err
		}
		for _, instr := range a.Instructions {
			if err := writeInstruction(w, instr); err != nil {
				return err
			}
		}
	}
	return nil
}

func readInstruction(r io.Reader) (Instruction, error) {
	op, err := leb128.ReadVarUint64(r)
	if err != nil {
		return nil, err
	}
	switch Opcode(op) {
	case OpArgumentGet:
		idx, err := leb128.ReadVarUint64(r)
		if err != nil {
			return nil, err
		}
		return ArgumentGet{Index: uint32(idx)}, nil
	case OpCallCore:
		idx, err := leb128.ReadVarUint64(r)
		if err != nil {
			return nil, err
		}
		return CallCore{FunctionIndex: uint32(idx)}, nil
	case OpPushI32:
		v, err := leb128.ReadVarInt64(r)
		if err != nil {
			return nil, err
		}
		return PushI32{Value: int32(v)}, nil
	case OpDup:
		return Dup{}, nil
	case OpSwap2:
		return Swap2{}, nil
	case OpStringSize:
		return StringSize{}, nil
	case OpStringLiftMemory:
		return StringLiftMemory{}, nil
	case OpStringLowerMemory:
		return StringLowerMemory{}, nil
	case OpByteArrayLiftMemory:
		return ByteArrayLiftMemory{}, nil
	case OpByteArrayLowerMemory:
		return ByteArrayLowerMemory{}, nil
	case OpArrayLiftMemory:
		t, err := readIType(r)
		if err != nil {
			return nil, err
		}
		return ArrayLiftMemory{ValueType: t}, nil
	case OpArrayLowerMemory:
		t, err := readIType(r)
		if err != nil {
			return nil, err
		}
		return ArrayLowerMemory{ValueType: t}, nil
	case OpRecordLiftMemory:
		id, err := leb128.ReadVarUint64(r)
		if err != nil {
			return nil, err
		}
		return RecordLiftMemory{RecordTypeID: id}, nil
	case OpRecordLowerMemory:
		id, err := leb128.ReadVarUint64(r)
		if err != nil {
			return nil, err
		}
		return RecordLowerMemory{RecordTypeID: id}, nil
	case OpI32FromBool:
		return I32FromBool{}, nil
	case OpBoolFromI32:
		return BoolFromI32{}, nil
	case OpI32FromS8:
		return I32FromS8{}, nil
	case OpS8FromI32:
		return S8FromI32{}, nil
	case OpI32FromU8:
		return I32FromU8{}, nil
	case OpU8FromI32:
		return U8FromI32{}, nil
	case OpI32FromS16:
		return I32FromS16{}, nil
	case OpS16FromI32:
		return S16FromI32{}, nil
	case OpI32FromU16:
		return I32FromU16{}, nil
	case OpU16FromI32:
		return U16FromI32{}, nil
	case OpI32FromS32:
		return I32FromS32{}, nil
	case OpS32FromI32:
		return S32FromI32{}, nil
	case OpI32FromU32:
		return I32FromU32{}, nil
	case OpU32FromI32:
		return U32FromI32{}, nil
	case OpI64FromS64:
		return I64FromS64{}, nil
	case OpS64FromI64:
		return S64FromI64{}, nil
	case OpI64FromU64:
		return I64FromU64{}, nil
	case OpU64FromI64:
		return U64FromI64{}, nil
	default:
		return nil, fmt.Errorf("unknown opcode %d", op)
	}
}

func writeInstruction(w io.Writer, instr Instruction) error {
	if err := leb128.WriteVarUint64(w, uint64(instr.Op())); err != nil {
		return err
	}
	switch v := instr.(type) {
	case ArgumentGet:
		return leb128.WriteVarUint64(w, uint64(v.Index))
	case CallCore:
		return leb128.WriteVarUint64(w, uint64(v.FunctionIndex))
	case PushI32:
		return leb128.WriteVarInt64(w, int64(v.Value))
	case ArrayLiftMemory:
		return writeIType(w, v.ValueType)
	case ArrayLowerMemory:
		return writeIType(w, v.ValueType)
	case RecordLiftMemory:
		return leb128.WriteVarUint64(w, v.RecordTypeID)
	case RecordLowerMemory:
		return leb128.WriteVarUint64(w, v.RecordTypeID)
	default:
		return nil
	}
}
