package registry

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"unicode/utf8"

	"github.com/tetratelabs/wazero/api"

	"github.com/marinelabs/marine-go/itcodec"
	"github.com/marinelabs/marine-go/ittype"
	"github.com/marinelabs/marine-go/itmem"
)

// hostNamespace is the import namespace every config.host_imports entry
// and every mounted binary is exposed under. Guest modules declare their
// imports against this namespace to reach either family.
const hostNamespace = "host"

// registerHostImports builds the host module holding every configured
// host import and mounted binary, and instantiates it exactly once:
// wazero treats a second NewHostModuleBuilder(name).Instantiate for the
// same name as a module name collision, so repeated load_module calls
// reuse the module built on the first call.
func (r *Registry) registerHostImports(ctx context.Context) error {
	if r.hostModuleBuilt {
		return nil
	}
	r.hostModuleBuilt = true

	if len(r.cfg.hostImports) == 0 && len(r.cfg.mountedBinaries) == 0 {
		return nil
	}

	builder := r.eng.HostModuleBuilder(hostNamespace)

	for name, hi := range r.cfg.hostImports {
		params, results := hostSignature(hi)
		builder.NewFunctionBuilder().
			WithGoModuleFunction(r.hostTrampoline(hi), params, results).
			WithName(name).
			Export(name)
	}

	for name, path := range r.cfg.mountedBinaries {
		builder.NewFunctionBuilder().
			WithGoModuleFunction(mountedBinaryTrampoline(path), mountedBinaryParams, mountedBinaryResults).
			WithName(name).
			Export(name)
	}

	if _, err := builder.Instantiate(ctx); err != nil {
		return fmt.Errorf("register host imports: %w", err)
	}
	return nil
}

// hostSignature computes the raw Wasm signature for hi: fixed primitives
// occupy one stack slot in their native Wasm type, strings/byte
// arrays/arrays occupy a (i32 ptr, i32 len) pair, and records occupy a
// single i32 pointer — the same StackWidth schedule itcodec uses, just
// projected onto api.ValueType instead of ittype.WType.
func hostSignature(hi HostImport) (params, results []api.ValueType) {
	for _, at := range hi.ArgumentTypes {
		params = append(params, stackValueTypes(at)...)
	}
	if hi.OutputType != nil {
		results = stackValueTypes(*hi.OutputType)
	}
	return params, results
}

func stackValueTypes(it ittype.IType) []api.ValueType {
	switch it.Kind {
	case ittype.String, ittype.ByteArray, ittype.Array:
		return []api.ValueType{api.ValueTypeI32, api.ValueTypeI32}
	case ittype.Record:
		return []api.ValueType{api.ValueTypeI32}
	case ittype.F32:
		return []api.ValueType{api.ValueTypeF32}
	case ittype.F64:
		return []api.ValueType{api.ValueTypeF64}
	case ittype.S64, ittype.U64, ittype.I64:
		return []api.ValueType{api.ValueTypeI64}
	default:
		return []api.ValueType{api.ValueTypeI32}
	}
}

func primitiveWType(k ittype.Kind) ittype.WType {
	switch k {
	case ittype.F32:
		return ittype.WF32
	case ittype.F64:
		return ittype.WF64
	case ittype.S64, ittype.U64, ittype.I64:
		return ittype.WI64
	default:
		return ittype.WI32
	}
}

// hostTrampoline turns hi into a dynamically-typed wazero host function:
// it lifts the caller's raw stack into IValues against the caller's own
// memory (api.Module here is the *importing* guest instance, not the
// registry's), invokes hi.Closure, and lowers the result back onto the
// stack via the caller's allocate export.
func (r *Registry) hostTrampoline(hi HostImport) api.GoModuleFunc {
	return func(ctx context.Context, mod api.Module, stack []uint64) {
		view := itmem.NewView(mod.Memory())

		wvalues := make([]ittype.WValue, 0, len(stack))
		i := 0
		for _, at := range hi.ArgumentTypes {
			width := at.StackWidth()
			for j := 0; j < width; j++ {
				wvalues = append(wvalues, rawToWValue(stack[i+j], primitiveWType(at.Kind)))
			}
			i += width
		}

		args, err := itcodec.LiftIValues(view, wvalues, hi.ArgumentTypes, noRecords)
		if err != nil {
			r.writeHostFailure(stack, view, mod, hi, err)
			return
		}

		result, err := hi.Closure(args)
		if err != nil {
			r.writeHostFailure(stack, view, mod, hi, err)
			return
		}

		if hi.OutputType == nil || result == nil {
			return
		}

		alloc := guestAllocator(ctx, mod)
		out, err := itcodec.IValueToWValues(view, *result, alloc)
		if err != nil {
			clearStack(stack)
			return
		}
		for idx, w := range out {
			stack[idx] = wvalueToRaw(w)
		}
	}
}

func (r *Registry) writeHostFailure(stack []uint64, view *itmem.View, mod api.Module, hi HostImport, cause error) {
	if hi.ErrorHandler == nil {
		clearStack(stack)
		return
	}
	errVal := hi.ErrorHandler(cause)
	if errVal == nil || hi.OutputType == nil {
		clearStack(stack)
		return
	}
	alloc := guestAllocator(context.Background(), mod)
	out, err := itcodec.IValueToWValues(view, *errVal, alloc)
	if err != nil {
		clearStack(stack)
		return
	}
	for idx, w := range out {
		stack[idx] = wvalueToRaw(w)
	}
}

func clearStack(stack []uint64) {
	for i := range stack {
		stack[i] = 0
	}
}

func guestAllocator(ctx context.Context, mod api.Module) itcodec.Allocator {
	return func(size uint32, tag uint8) (uint32, error) {
		fn := mod.ExportedFunction(exportAllocate)
		if fn == nil {
			return 0, fmt.Errorf("caller module has no %s export", exportAllocate)
		}
		results, err := fn.Call(ctx, uint64(size), uint64(tag))
		if err != nil {
			return 0, err
		}
		if len(results) == 0 {
			return 0, fmt.Errorf("%s returned no result", exportAllocate)
		}
		return uint32(results[0]), nil
	}
}

// noRecords satisfies itcodec.RecordResolver for host-import closures. It
// resolves no id, so a Record argument to a host import fails to lift:
// record ids are only meaningful within the owning module's own type
// table.
func noRecords(uint64) (ittype.IRecordType, bool) { return ittype.IRecordType{}, false }

func rawToWValue(raw uint64, t ittype.WType) ittype.WValue {
	switch t {
	case ittype.WI64:
		return ittype.NewI64(int64(raw))
	case ittype.WF32:
		return ittype.NewF32(api.DecodeF32(raw))
	case ittype.WF64:
		return ittype.NewF64(api.DecodeF64(raw))
	default:
		return ittype.NewI32(api.DecodeI32(raw))
	}
}

// MountedBinaryResult is the fixed record shape every mounted-binary host
// import returns, per §4.5.5.
type MountedBinaryResult struct {
	RetCode int32
	Error   string
	Stdout  []byte
	Stderr  []byte
}

// Mounted-binary ret_codes for process-level failures, distinct from any
// real exit code an executable can return (0-255): 100000 for signal
// termination, 100001 for spawn failure (pipe setup, exec itself, or any
// other failure to wait on the child that isn't an ordinary exit),
// 100002/3/4 for malformed argument passing from the guest.
const (
	retCodeSignalTerminated  = 100000
	retCodeSpawnFailure      = 100001
	retCodeInvalidArgvLength = 100002
	retCodeArgvOutOfBounds   = 100003
	retCodeInvalidArgvUTF8   = 100004
)

var mountedBinaryParams = []api.ValueType{api.ValueTypeI32, api.ValueTypeI32}   // (argv_ptr, argv_len) utf-8 joined by NUL
var mountedBinaryResults = []api.ValueType{api.ValueTypeI32}                    // result record pointer

// mountedBinaryTrampoline runs path with the NUL-joined argv string the
// guest passed, and writes a MountedBinaryResult record back via the
// caller's allocate export.
func mountedBinaryTrampoline(path string) api.GoModuleFunc {
	return func(ctx context.Context, mod api.Module, stack []uint64) {
		view := itmem.NewView(mod.Memory())
		ptr := api.DecodeI32(stack[0])
		length := api.DecodeI32(stack[1])
		alloc := guestAllocator(ctx, mod)

		var args []string
		switch {
		case length < 0:
			writeMountedBinaryFailure(stack, view, alloc, retCodeInvalidArgvLength, "negative argv length")
			return
		case length > 0:
			raw, err := view.ReadVec(uint32(ptr), uint32(length))
			if err != nil {
				writeMountedBinaryFailure(stack, view, alloc, retCodeArgvOutOfBounds, err.Error())
				return
			}
			if !utf8.Valid(raw) {
				writeMountedBinaryFailure(stack, view, alloc, retCodeInvalidArgvUTF8, "argv is not valid utf-8")
				return
			}
			args = splitNulJoined(raw)
		}

		result := runMountedBinary(ctx, path, args)

		recPtr, err := lowerMountedBinaryResult(view, alloc, result)
		if err != nil {
			clearStack(stack)
			return
		}
		stack[0] = api.EncodeI32(int32(recPtr))
	}
}

// writeMountedBinaryFailure lowers a MountedBinaryResult carrying retCode
// and msg in place of running the binary at all, used for argv-validation
// failures detected before the process is ever started.
func writeMountedBinaryFailure(stack []uint64, view *itmem.View, alloc itcodec.Allocator, retCode int32, msg string) {
	recPtr, err := lowerMountedBinaryResult(view, alloc, MountedBinaryResult{RetCode: retCode, Error: msg})
	if err != nil {
		clearStack(stack)
		return
	}
	stack[0] = api.EncodeI32(int32(recPtr))
}

func splitNulJoined(raw []byte) []string {
	var out []string
	start := 0
	for i, b := range raw {
		if b == 0 {
			out = append(out, string(raw[start:i]))
			start = i + 1
		}
	}
	if start < len(raw) {
		out = append(out, string(raw[start:]))
	}
	return out
}

func runMountedBinary(ctx context.Context, path string, args []string) MountedBinaryResult {
	cmd := exec.CommandContext(ctx, path, args...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return MountedBinaryResult{RetCode: retCodeSpawnFailure, Error: err.Error()}
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return MountedBinaryResult{RetCode: retCodeSpawnFailure, Error: err.Error()}
	}

	if err := cmd.Start(); err != nil {
		return MountedBinaryResult{RetCode: retCodeSpawnFailure, Error: err.Error()}
	}

	outBytes := readAllLimited(stdout)
	errBytes := readAllLimited(stderr)

	if err := cmd.Wait(); err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			// ExitCode returns -1 when the process was terminated by a
			// signal rather than exiting normally.
			if exitErr.ExitCode() == -1 {
				return MountedBinaryResult{RetCode: retCodeSignalTerminated, Error: exitErr.Error(), Stdout: outBytes, Stderr: errBytes}
			}
			return MountedBinaryResult{RetCode: int32(exitErr.ExitCode()), Stdout: outBytes, Stderr: errBytes}
		}
		return MountedBinaryResult{RetCode: retCodeSpawnFailure, Error: err.Error(), Stdout: outBytes, Stderr: errBytes}
	}

	return MountedBinaryResult{RetCode: 0, Stdout: outBytes, Stderr: errBytes}
}

// maxMountedBinaryOutput bounds how much of a mounted process's stdout and
// stderr streams are copied into guest memory.
const maxMountedBinaryOutput = 16 << 20

func readAllLimited(r io.Reader) []byte {
	buf := make([]byte, 0, 4096)
	chunk := make([]byte, 4096)
	for len(buf) < maxMountedBinaryOutput {
		n, err := r.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
		}
		if err != nil {
			break
		}
	}
	return buf
}

func lowerMountedBinaryResult(view *itmem.View, alloc itcodec.Allocator, result MountedBinaryResult) (uint32, error) {
	rec := ittype.IRecordType{
		Name: "MountedBinaryResult",
		Fields: []ittype.RecordField{
			{Name: "ret_code", Type: ittype.IType{Kind: ittype.S32}},
			{Name: "error", Type: ittype.IType{Kind: ittype.String}},
			{Name: "stdout", Type: ittype.IType{Kind: ittype.ByteArray}},
			{Name: "stderr", Type: ittype.IType{Kind: ittype.ByteArray}},
		},
	}
	values := []ittype.IValue{
		{Kind: ittype.S32, I32: result.RetCode},
		{Kind: ittype.String, Str: result.Error},
		{Kind: ittype.ByteArray, Bytes: result.Stdout},
		{Kind: ittype.ByteArray, Bytes: result.Stderr},
	}
	return itcodec.LowerRecord(view, rec, values, alloc)
}
