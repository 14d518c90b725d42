// Package itvm implements the adapter interpreter: a small stack machine
// that folds over an adapter's instruction list, invoking the lift/lower
// codecs and core function calls to marshal values between the caller and
// a guest module.
package itvm

import (
	"fmt"

	"github.com/marinelabs/marine-go/itcodec"
	"github.com/marinelabs/marine-go/ittype"
	"github.com/marinelabs/marine-go/itmem"
	"github.com/marinelabs/marine-go/iterrors"
)

// slot is one operand-stack entry: either a raw WValue or a typed IValue.
// Carrying both in one slot (rather than a `Value interface{}`) avoids a
// boxing allocation on every push and keeps the shadow type immediately
// inspectable for error reporting.
type slot struct {
	isIValue bool
	w        ittype.WValue
	iv       ittype.IValue
}

func wSlot(w ittype.WValue) slot   { return slot{w: w} }
func ivSlot(v ittype.IValue) slot  { return slot{isIValue: true, iv: v} }

func (s slot) typeName() string {
	if s.isIValue {
		return s.iv.Kind.String()
	}
	return s.w.Type.String()
}

// CoreCaller invokes the core function at functionIndex — a guest export,
// a satisfied import routed through another module's adapter, or a
// host-import trampoline — with raw stack arguments, returning its raw
// stack results.
type CoreCaller func(functionIndex uint32, args []ittype.WValue) ([]ittype.WValue, error)

// Context bundles everything one adapter run needs beyond the instruction
// list itself.
type Context struct {
	View     *itmem.View
	Alloc    itcodec.Allocator
	Resolve  itcodec.RecordResolver
	CallCore CoreCaller
}

// Interpreter is a compiled adapter program, ready to run against any
// number of calls; it holds no per-call state.
type Interpreter struct {
	instructions []ittype.Instruction
}

// Compile performs no validation (the instruction set is already a closed
// Go type, so there is no textual parse step) and returns a reusable
// Interpreter.
func Compile(instructions []ittype.Instruction) *Interpreter {
	return &Interpreter{instructions: instructions}
}

// Run executes the program with args as the initial ArgumentGet source,
// returning the final operand stack as a slice of IValues. The stack is
// returned as it stands at the end of the program; Run does not check how
// many values remain.
func (interp *Interpreter) Run(args []ittype.IValue, ctx *Context) ([]ittype.IValue, error) {
	st := &stack{}

	for idx, instr := range interp.instructions {
		if err := step(st, instr, args, ctx); err != nil {
			return nil, wrapInstrErr(instr, idx, err)
		}
	}

	return st.toIValues()
}

func wrapInstrErr(instr ittype.Instruction, idx int, err error) error {
	ie, ok := err.(*iterrors.InstructionError)
	if !ok {
		return fmt.Errorf("adapter instruction %d (%s): %w", idx, instr.Op(), err)
	}
	ie.Instruction = instr.Op().String()
	ie.Index = idx
	return ie
}

type stack struct {
	slots []slot
}

func (s *stack) push(x slot) { s.slots = append(s.slots, x) }

func (s *stack) pop() (slot, error) {
	if len(s.slots) == 0 {
		return slot{}, &iterrors.InstructionError{Kind: iterrors.StackIsTooSmall}
	}
	top := s.slots[len(s.slots)-1]
	s.slots = s.slots[:len(s.slots)-1]
	return top, nil
}

func (s *stack) peek() (slot, error) {
	if len(s.slots) == 0 {
		return slot{}, &iterrors.InstructionError{Kind: iterrors.StackIsTooSmall}
	}
	return s.slots[len(s.slots)-1], nil
}

func (s *stack) popIValue() (ittype.IValue, error) {
	top, err := s.pop()
	if err != nil {
		return ittype.IValue{}, err
	}
	if !top.isIValue {
		return ittype.IValue{}, &iterrors.InstructionError{Kind: iterrors.InvalidTypeOnStack}
	}
	return top.iv, nil
}

func (s *stack) popW() (ittype.WValue, error) {
	top, err := s.pop()
	if err != nil {
		return ittype.WValue{}, err
	}
	if top.isIValue {
		return ittype.WValue{}, &iterrors.InstructionError{Kind: iterrors.InvalidTypeOnStack}
	}
	return top.w, nil
}

func (s *stack) popI32() (int32, error) {
	w, err := s.popW()
	if err != nil {
		return 0, err
	}
	if w.Type != ittype.WI32 {
		return 0, &iterrors.InstructionError{Kind: iterrors.InvalidTypeOnStack}
	}
	return w.I32, nil
}

// toIValues drains the stack into the final return vector. WValues left
// on the stack at program end are coerced to I32/I64/F32/F64-tagged IValues via
// their raw kind so the ABI boundary always deals in IValues; this only
// matters for raw (non-IT) exports, which return 0 stack values from an
// empty adapter anyway.
func (s *stack) toIValues() ([]ittype.IValue, error) {
	out := make([]ittype.IValue, 0, len(s.slots))
	for _, sl := range s.slots {
		if sl.isIValue {
			out = append(out, sl.iv)
			continue
		}
		out = append(out, rawToIValue(sl.w))
	}
	return out, nil
}

func rawToIValue(w ittype.WValue) ittype.IValue {
	switch w.Type {
	case ittype.WI32:
		return ittype.IValue{Kind: ittype.I32, I32: w.I32}
	case ittype.WI64:
		return ittype.IValue{Kind: ittype.I64, I64: w.I64}
	case ittype.WF32:
		return ittype.IValue{Kind: ittype.F32, F32: w.F32}
	default:
		return ittype.IValue{Kind: ittype.F64, F64: w.F64}
	}
}

func step(st *stack, instr ittype.Instruction, args []ittype.IValue, ctx *Context) error {
	switch in := instr.(type) {
	case ittype.ArgumentGet:
		if int(in.Index) >= len(args) {
			return &iterrors.InstructionError{Kind: iterrors.LocalOrImportIsMissing}
		}
		st.push(ivSlot(args[in.Index]))
		return nil

	case ittype.PushI32:
		st.push(wSlot(ittype.NewI32(in.Value)))
		return nil

	case ittype.Dup:
		top, err := st.peek()
		if err != nil {
			return err
		}
		st.push(top)
		return nil

	case ittype.Swap2:
		a, err := st.pop()
		if err != nil {
			return err
		}
		b, err := st.pop()
		if err != nil {
			return err
		}
		st.push(a)
		st.push(b)
		return nil

	case ittype.CallCore:
		return stepCallCore(st, in, ctx)

	case ittype.StringSize:
		top, err := st.peek()
		if err != nil {
			return err
		}
		if !top.isIValue || top.iv.Kind != ittype.String {
			return &iterrors.InstructionError{Kind: iterrors.InvalidTypeOnStack}
		}
		st.push(wSlot(ittype.NewI32(int32(len(top.iv.Str)))))
		return nil

	case ittype.StringLiftMemory:
		return stepLiftMemory(st, ctx, func(ptr, ln uint32) (ittype.IValue, error) {
			return liftOne(ctx, ittype.IType{Kind: ittype.String}, ptr, ln)
		})

	case ittype.StringLowerMemory:
		return stepLowerPayload(st, ctx, ittype.String)

	case ittype.ByteArrayLiftMemory:
		return stepLiftMemory(st, ctx, func(ptr, ln uint32) (ittype.IValue, error) {
			return liftOne(ctx, ittype.IType{Kind: ittype.ByteArray}, ptr, ln)
		})

	case ittype.ByteArrayLowerMemory:
		return stepLowerPayload(st, ctx, ittype.ByteArray)

	case ittype.ArrayLiftMemory:
		return stepLiftMemory(st, ctx, func(ptr, count uint32) (ittype.IValue, error) {
			return itcodec.LiftArray(ctx.View, in.ValueType, ptr, count, ctx.Resolve)
		})

	case ittype.ArrayLowerMemory:
		iv, err := st.popIValue()
		if err != nil {
			return err
		}
		if iv.Kind != ittype.Array {
			return &iterrors.InstructionError{Kind: iterrors.InvalidTypeOnStack}
		}
		ptr, count, err := itcodec.LowerArray(ctx.View, in.ValueType, iv.Elems, ctx.Alloc)
		if err != nil {
			return err
		}
		st.push(wSlot(ittype.NewI32(int32(ptr))))
		st.push(wSlot(ittype.NewI32(int32(count))))
		return nil

	case ittype.RecordLiftMemory:
		ptr, err := st.popI32()
		if err != nil {
			return err
		}
		rec, ok := ctx.Resolve(in.RecordTypeID)
		if !ok {
			return &iterrors.RecordTypeNotFoundError{ID: in.RecordTypeID}
		}
		iv, err := itcodec.LiftRecord(ctx.View, rec, uint32(ptr), ctx.Resolve)
		if err != nil {
			return err
		}
		st.push(ivSlot(iv))
		return nil

	case ittype.RecordLowerMemory:
		iv, err := st.popIValue()
		if err != nil {
			return err
		}
		if iv.Kind != ittype.Record {
			return &iterrors.InstructionError{Kind: iterrors.InvalidTypeOnStack}
		}
		rec, ok := ctx.Resolve(in.RecordTypeID)
		if !ok {
			return &iterrors.RecordTypeNotFoundError{ID: in.RecordTypeID}
		}
		ptr, err := itcodec.LowerRecord(ctx.View, rec, iv.Fields, ctx.Alloc)
		if err != nil {
			return err
		}
		st.push(wSlot(ittype.NewI32(int32(ptr))))
		return nil

	default:
		return stepNumericConversion(st, instr)
	}
}

func stepCallCore(st *stack, in ittype.CallCore, ctx *Context) error {
	// The callee's arity is not looked up here: the interpreter pops every
	// WValue slot above the topmost IValue slot (the whole stack if it
	// holds no IValue) and hands them to CallCore in push order, so a
	// WValue pushed before the call's arguments and not yet consumed is
	// passed as an argument too.
	n := 0
	for i := len(st.slots) - 1; i >= 0 && !st.slots[i].isIValue; i-- {
		n++
	}
	args := make([]ittype.WValue, n)
	for i := 0; i < n; i++ {
		w, err := st.popW()
		if err != nil {
			return err
		}
		args[n-1-i] = w
	}

	results, err := ctx.CallCore(in.FunctionIndex, args)
	if err != nil {
		return err
	}
	for _, r := range results {
		st.push(wSlot(r))
	}
	return nil
}

func liftOne(ctx *Context, it ittype.IType, ptr, ln uint32) (ittype.IValue, error) {
	ivs, err := itcodec.LiftIValues(ctx.View, []ittype.WValue{ittype.NewI32(int32(ptr)), ittype.NewI32(int32(ln))}, []ittype.IType{it}, ctx.Resolve)
	if err != nil {
		return ittype.IValue{}, err
	}
	return ivs[0], nil
}

func stepLiftMemory(st *stack, ctx *Context, lift func(ptr, size uint32) (ittype.IValue, error)) error {
	ln, err := st.popI32()
	if err != nil {
		return err
	}
	ptr, err := st.popI32()
	if err != nil {
		return err
	}
	iv, err := lift(uint32(ptr), uint32(ln))
	if err != nil {
		return err
	}
	st.push(ivSlot(iv))
	return nil
}

func stepLowerPayload(st *stack, ctx *Context, kind ittype.Kind) error {
	iv, err := st.popIValue()
	if err != nil {
		return err
	}
	if iv.Kind != kind {
		return &iterrors.InstructionError{Kind: iterrors.InvalidTypeOnStack}
	}
	wvalues, err := itcodec.IValueToWValues(ctx.View, iv, ctx.Alloc)
	if err != nil {
		return err
	}
	for _, w := range wvalues {
		st.push(wSlot(w))
	}
	return nil
}

func stepNumericConversion(st *stack, instr ittype.Instruction) error {
	switch instr.(type) {
	case ittype.I32FromBool:
		iv, err := st.popIValue()
		if err != nil {
			return err
		}
		if iv.Kind != ittype.Boolean {
			return &iterrors.InstructionError{Kind: iterrors.InvalidTypeOnStack}
		}
		v := int32(0)
		if iv.Bool {
			v = 1
		}
		st.push(wSlot(ittype.NewI32(v)))
		return nil
	case ittype.BoolFromI32:
		v, err := st.popI32()
		if err != nil {
			return err
		}
		st.push(ivSlot(ittype.IValue{Kind: ittype.Boolean, Bool: v != 0}))
		return nil
	case ittype.I32FromS8:
		return liftNarrowToI32(st, ittype.S8)
	case ittype.S8FromI32:
		return lowerFromI32(st, ittype.S8, -1<<7, 1<<7-1)
	case ittype.I32FromU8:
		return liftNarrowToI32(st, ittype.U8)
	case ittype.U8FromI32:
		return lowerFromI32(st, ittype.U8, 0, 1<<8-1)
	case ittype.I32FromS16:
		return liftNarrowToI32(st, ittype.S16)
	case ittype.S16FromI32:
		return lowerFromI32(st, ittype.S16, -1<<15, 1<<15-1)
	case ittype.I32FromU16:
		return liftNarrowToI32(st, ittype.U16)
	case ittype.U16FromI32:
		return lowerFromI32(st, ittype.U16, 0, 1<<16-1)
	case ittype.I32FromS32:
		return liftNarrowToI32(st, ittype.S32)
	case ittype.S32FromI32:
		v, err := st.popI32()
		if err != nil {
			return err
		}
		st.push(ivSlot(ittype.IValue{Kind: ittype.S32, I32: v}))
		return nil
	case ittype.I32FromU32:
		return liftNarrowToI32(st, ittype.U32)
	case ittype.U32FromI32:
		v, err := st.popI32()
		if err != nil {
			return err
		}
		st.push(ivSlot(ittype.IValue{Kind: ittype.U32, U32: uint32(v)}))
		return nil
	case ittype.I64FromS64:
		iv, err := st.popIValue()
		if err != nil {
			return err
		}
		if iv.Kind != ittype.S64 {
			return &iterrors.InstructionError{Kind: iterrors.InvalidTypeOnStack}
		}
		st.push(wSlot(ittype.NewI64(iv.I64)))
		return nil
	case ittype.S64FromI64:
		w, err := st.popW()
		if err != nil {
			return err
		}
		if w.Type != ittype.WI64 {
			return &iterrors.InstructionError{Kind: iterrors.InvalidTypeOnStack}
		}
		st.push(ivSlot(ittype.IValue{Kind: ittype.S64, I64: w.I64}))
		return nil
	case ittype.I64FromU64:
		iv, err := st.popIValue()
		if err != nil {
			return err
		}
		if iv.Kind != ittype.U64 {
			return &iterrors.InstructionError{Kind: iterrors.InvalidTypeOnStack}
		}
		st.push(wSlot(ittype.NewI64(int64(iv.U64))))
		return nil
	case ittype.U64FromI64:
		w, err := st.popW()
		if err != nil {
			return err
		}
		if w.Type != ittype.WI64 {
			return &iterrors.InstructionError{Kind: iterrors.InvalidTypeOnStack}
		}
		st.push(ivSlot(ittype.IValue{Kind: ittype.U64, U64: uint64(w.I64)}))
		return nil
	default:
		return fmt.Errorf("unsupported instruction %T", instr)
	}
}

// liftNarrowToI32 pops a narrow IValue of kind k and pushes its value as
// an I32 WValue (a lossless widening, never traps).
func liftNarrowToI32(st *stack, k ittype.Kind) error {
	iv, err := st.popIValue()
	if err != nil {
		return err
	}
	if iv.Kind != k {
		return &iterrors.InstructionError{Kind: iterrors.InvalidTypeOnStack}
	}
	var v int32
	switch k {
	case ittype.S8:
		v = int32(iv.I8)
	case ittype.U8:
		v = int32(iv.U8)
	case ittype.S16:
		v = int32(iv.I16)
	case ittype.U16:
		v = int32(iv.U16)
	case ittype.S32:
		v = iv.I32
	case ittype.U32:
		v = int32(iv.U32)
	}
	st.push(wSlot(ittype.NewI32(v)))
	return nil
}

// lowerFromI32 pops an I32 WValue and narrows it to kind k, trapping with
// NarrowingOverflow if the value falls outside [lo, hi].
func lowerFromI32(st *stack, k ittype.Kind, lo, hi int64) error {
	v, err := st.popI32()
	if err != nil {
		return err
	}
	if int64(v) < lo || int64(v) > hi {
		return iterrors.ErrNarrowingOverflow
	}
	var iv ittype.IValue
	switch k {
	case ittype.S8:
		iv = ittype.IValue{Kind: ittype.S8, I8: int8(v)}
	case ittype.U8:
		iv = ittype.IValue{Kind: ittype.U8, U8: uint8(v)}
	case ittype.S16:
		iv = ittype.IValue{Kind: ittype.S16, I16: int16(v)}
	case ittype.U16:
		iv = ittype.IValue{Kind: ittype.U16, U16: uint16(v)}
	}
	st.push(ivSlot(iv))
	return nil
}
