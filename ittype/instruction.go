package ittype

// Opcode identifies an adapter instruction.
type Opcode uint8

const (
	OpArgumentGet Opcode = iota
	OpCallCore
	OpPushI32
	OpDup
	OpSwap2
	OpStringSize
	OpStringLiftMemory
	OpStringLowerMemory
	OpByteArrayLiftMemory
	OpByteArrayLowerMemory
	OpArrayLiftMemory
	OpArrayLowerMemory
	OpRecordLiftMemory
	OpRecordLowerMemory
	// Numeric lift/lower conversion pairs.
	OpI32FromBool
	OpBoolFromI32
	OpI32FromS8
	OpS8FromI32
	OpI32FromU8
	OpU8FromI32
	OpI32FromS16
	OpS16FromI32
	OpI32FromU16
	OpU16FromI32
	OpI32FromS32
	OpS32FromI32
	OpI32FromU32
	OpU32FromI32
	OpI64FromS64
	OpS64FromI64
	OpI64FromU64
	OpU64FromI64
)

func (o Opcode) String() string {
	switch o {
	case OpArgumentGet:
		return "argument.get"
	case OpCallCore:
		return "call-core"
	case OpPushI32:
		return "push-i32"
	case OpDup:
		return "dup"
	case OpSwap2:
		return "swap2"
	case OpStringSize:
		return "string.size"
	case OpStringLiftMemory:
		return "string.lift_memory"
	case OpStringLowerMemory:
		return "string.lower_memory"
	case OpByteArrayLiftMemory:
		return "byte_array.lift_memory"
	case OpByteArrayLowerMemory:
		return "byte_array.lower_memory"
	case OpArrayLiftMemory:
		return "array.lift_memory"
	case OpArrayLowerMemory:
		return "array.lower_memory"
	case OpRecordLiftMemory:
		return "record.lift_memory"
	case OpRecordLowerMemory:
		return "record.lower_memory"
	case OpI32FromBool:
		return "i32.from_bool"
	case OpBoolFromI32:
		return "bool.from_i32"
	case OpI32FromS8:
		return "i32.from_s8"
	case OpS8FromI32:
		return "s8.from_i32"
	case OpI32FromU8:
		return "i32.from_u8"
	case OpU8FromI32:
		return "u8.from_i32"
	case OpI32FromS16:
		return "i32.from_s16"
	case OpS16FromI32:
		return "s16.from_i32"
	case OpI32FromU16:
		return "i32.from_u16"
	case OpU16FromI32:
		return "u16.from_i32"
	case OpI32FromS32:
		return "i32.from_s32"
	case OpS32FromI32:
		return "s32.from_i32"
	case OpI32FromU32:
		return "i32.from_u32"
	case OpU32FromI32:
		return "u32.from_i32"
	case OpI64FromS64:
		return "i64.from_s64"
	case OpS64FromI64:
		return "s64.from_i64"
	case OpI64FromU64:
		return "i64.from_u64"
	case OpU64FromI64:
		return "u64.from_i64"
	default:
		return "unknown"
	}
}

// Instruction is one adapter opcode. Each variant is a small struct
// carrying just the immediates that opcode needs.
type Instruction interface {
	Op() Opcode
}

// NoImmediateArgs is embedded by instructions that carry no immediates.
type NoImmediateArgs struct{}

// ArgumentGet pushes the i-th caller argument onto the operand stack.
type ArgumentGet struct{ Index uint32 }

func (ArgumentGet) Op() Opcode { return OpArgumentGet }

// CallCore invokes a core function (guest export, satisfied import, or
// host-import trampoline) identified by its function index.
type CallCore struct{ FunctionIndex uint32 }

func (CallCore) Op() Opcode { return OpCallCore }

// PushI32 pushes a constant I32 WValue.
type PushI32 struct{ Value int32 }

func (PushI32) Op() Opcode { return OpPushI32 }

// Dup duplicates the top stack slot.
type Dup struct{ NoImmediateArgs }

func (Dup) Op() Opcode { return OpDup }

// Swap2 swaps the top two stack slots.
type Swap2 struct{ NoImmediateArgs }

func (Swap2) Op() Opcode { return OpSwap2 }

// StringSize peeks the top String IValue and pushes its byte length.
type StringSize struct{ NoImmediateArgs }

func (StringSize) Op() Opcode { return OpStringSize }

// StringLiftMemory pops (ptr, len) and pushes a String IValue.
type StringLiftMemory struct{ NoImmediateArgs }

func (StringLiftMemory) Op() Opcode { return OpStringLiftMemory }

// StringLowerMemory pops a String IValue, allocates room for its bytes
// through the guest allocator, writes them, and pushes (ptr, len). It pops
// no allocation offset: the String must be on top of the stack.
type StringLowerMemory struct{ NoImmediateArgs }

func (StringLowerMemory) Op() Opcode { return OpStringLowerMemory }

// ByteArrayLiftMemory pops (ptr, len) and pushes a ByteArray IValue.
type ByteArrayLiftMemory struct{ NoImmediateArgs }

func (ByteArrayLiftMemory) Op() Opcode { return OpByteArrayLiftMemory }

// ByteArrayLowerMemory pops a ByteArray IValue and writes it, pushing
// (ptr, len).
type ByteArrayLowerMemory struct{ NoImmediateArgs }

func (ByteArrayLowerMemory) Op() Opcode { return OpByteArrayLowerMemory }

// ArrayLiftMemory pops (ptr, count) and pushes an Array(T) IValue.
type ArrayLiftMemory struct{ ValueType IType }

func (ArrayLiftMemory) Op() Opcode { return OpArrayLiftMemory }

// ArrayLowerMemory pops an Array(T) IValue, writes it, and pushes
// (ptr, element-count).
type ArrayLowerMemory struct{ ValueType IType }

func (ArrayLowerMemory) Op() Opcode { return OpArrayLowerMemory }

// RecordLiftMemory pops a pointer and lifts it into a Record IValue.
type RecordLiftMemory struct{ RecordTypeID uint64 }

func (RecordLiftMemory) Op() Opcode { return OpRecordLiftMemory }

// RecordLowerMemory pops a Record IValue, writes it, and pushes the
// top-level pointer.
type RecordLowerMemory struct{ RecordTypeID uint64 }

func (RecordLowerMemory) Op() Opcode { return OpRecordLowerMemory }

// numeric conversion pairs: each pops one value of the source
// representation and pushes one of the destination representation.
type (
	I32FromBool struct{ NoImmediateArgs }
	BoolFromI32 struct{ NoImmediateArgs }
	I32FromS8   struct{ NoImmediateArgs }
	S8FromI32   struct{ NoImmediateArgs }
	I32FromU8   struct{ NoImmediateArgs }
	U8FromI32   struct{ NoImmediateArgs }
	I32FromS16  struct{ NoImmediateArgs }
	S16FromI32  struct{ NoImmediateArgs }
	I32FromU16  struct{ NoImmediateArgs }
	U16FromI32  struct{ NoImmediateArgs }
	I32FromS32  struct{ NoImmediateArgs }
	S32FromI32  struct{ NoImmediateArgs }
	I32FromU32  struct{ NoImmediateArgs }
	U32FromI32  struct{ NoImmediateArgs }
	I64FromS64  struct{ NoImmediateArgs }
	S64FromI64  struct{ NoImmediateArgs }
	I64FromU64  struct{ NoImmediateArgs }
	U64FromI64  struct{ NoImmediateArgs }
)

func (I32FromBool) Op() Opcode { return OpI32FromBool }
func (BoolFromI32) Op() Opcode { return OpBoolFromI32 }
func (I32FromS8) Op() Opcode   { return OpI32FromS8 }
func (S8FromI32) Op() Opcode   { return OpS8FromI32 }
func (I32FromU8) Op() Opcode   { return OpI32FromU8 }
func (U8FromI32) Op() Opcode   { return OpU8FromI32 }
func (I32FromS16) Op() Opcode  { return OpI32FromS16 }
func (S16FromI32) Op() Opcode  { return OpS16FromI32 }
func (I32FromU16) Op() Opcode  { return OpI32FromU16 }
func (U16FromI32) Op() Opcode  { return OpU16FromI32 }
func (I32FromS32) Op() Opcode  { return OpI32FromS32 }
func (S32FromI32) Op() Opcode  { return OpS32FromI32 }
func (I32FromU32) Op() Opcode  { return OpI32FromU32 }
func (U32FromI32) Op() Opcode  { return OpU32FromI32 }
func (I64FromS64) Op() Opcode  { return OpI64FromS64 }
func (S64FromI64) Op() Opcode  { return OpS64FromI64 }
func (I64FromU64) Op() Opcode  { return OpI64FromU64 }
func (U64FromI64) Op() Opcode  { return OpU64FromI64 }
