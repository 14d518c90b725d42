// Package engine implements the narrow Wasm engine capability interface
// the core requires, backed by github.com/tetratelabs/wazero.
package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	"github.com/marinelabs/marine-go/iterrors"
)

// Engine owns a wazero runtime and the host-module builder used to wire
// guest-callable host imports. One Engine is shared by every module a
// registry loads, mirroring the teacher's one-runtime-per-process shape.
type Engine struct {
	runtime wazero.Runtime
	mu      sync.Mutex
	epoch   uint64
}

// New constructs an Engine with a fresh wazero runtime configured to
// close a module when the context of a call into it is done.
func New(ctx context.Context) *Engine {
	cfg := wazero.NewRuntimeConfig().WithCloseOnContextDone(true)
	rt := wazero.NewRuntimeWithConfig(ctx, cfg)
	return &Engine{runtime: rt}
}

// Close releases the underlying runtime and every compiled/instantiated
// module it holds.
func (e *Engine) Close(ctx context.Context) error {
	return e.runtime.Close(ctx)
}

// CompiledModule wraps a validated, compiled Wasm binary.
type CompiledModule struct {
	compiled wazero.CompiledModule
}

// CompileModule validates and compiles wasmBytes.
func (e *Engine) CompileModule(ctx context.Context, wasmBytes []byte) (*CompiledModule, error) {
	compiled, err := e.runtime.CompileModule(ctx, wasmBytes)
	if err != nil {
		return nil, fmt.Errorf("compile module: %w", err)
	}
	return &CompiledModule{compiled: compiled}, nil
}

// CustomSections returns the raw payloads of every custom section named
// name, in module order.
func (c *CompiledModule) CustomSections(name string) [][]byte {
	var out [][]byte
	for _, sec := range c.compiled.CustomSections() {
		if sec.Name() == name {
			out = append(out, sec.Data())
		}
	}
	return out
}

// HostModuleBuilder exposes wazero's host-module registration so the
// registry's trampoline (§4.5.3) can add guest-visible functions under a
// given import namespace before any guest module is instantiated.
func (e *Engine) HostModuleBuilder(namespace string) wazero.HostModuleBuilder {
	return e.runtime.NewHostModuleBuilder(namespace)
}

// Instance wraps an instantiated guest module.
type Instance struct {
	mod api.Module
}

// Instantiate builds an instance of compiled registered under name,
// satisfying its imports from modules already instantiated in e's runtime
// (matched by their registered module name), including host modules
// previously registered via HostModuleBuilder.
func (e *Engine) Instantiate(ctx context.Context, compiled *CompiledModule, name string) (*Instance, error) {
	cfg := wazero.NewModuleConfig().WithName(name)
	mod, err := e.runtime.InstantiateModule(ctx, compiled.compiled, cfg)
	if err != nil {
		return nil, fmt.Errorf("instantiate module %q: %w", name, err)
	}
	return &Instance{mod: mod}, nil
}

// Close tears down the instance, releasing its memory and table space.
func (i *Instance) Close(ctx context.Context) error {
	return i.mod.Close(ctx)
}

// ExportKind distinguishes the observable export categories.
type ExportKind uint8

const (
	ExportFunction ExportKind = iota
	ExportMemory
	ExportOther
)

// ExportInfo names and classifies one export.
type ExportInfo struct {
	Name string
	Kind ExportKind
}

// Exports enumerates i's exports.
func (i *Instance) Exports() []ExportInfo {
	var out []ExportInfo
	for name := range i.mod.ExportedFunctionDefinitions() {
		out = append(out, ExportInfo{Name: name, Kind: ExportFunction})
	}
	for name := range i.mod.ExportedMemoryDefinitions() {
		out = append(out, ExportInfo{Name: name, Kind: ExportMemory})
	}
	return out
}

// Memory returns i's exported linear memory, or nil if it has none.
func (i *Instance) Memory() api.Memory {
	return i.mod.Memory()
}

// CallFunction invokes the exported function fn with args, translating a
// guest trap into iterrors.ErrTrap.
func (i *Instance) CallFunction(ctx context.Context, fn string, args ...uint64) ([]uint64, error) {
	f := i.mod.ExportedFunction(fn)
	if f == nil {
		return nil, &iterrors.NoSuchFunctionError{Function: fn}
	}
	results, err := f.Call(ctx, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", iterrors.ErrTrap, fn, err)
	}
	return results, nil
}

// ExportedFunctionsByIndex maps each exported function's real position in
// the Wasm function-index space (imports, then locally-defined functions,
// in declaration order — wazero's own api.FunctionDefinition.Index, not an
// ordinal over sorted export names) to its export name. CallCore targets
// address this same index space, so a registry resolves them through this
// map rather than guessing an ordering from export names.
func (i *Instance) ExportedFunctionsByIndex() map[uint32]string {
	out := map[uint32]string{}
	for name, def := range i.mod.ExportedFunctionDefinitions() {
		out[def.Index()] = name
	}
	return out
}

// FunctionSignature returns the parameter and result value types of the
// exported function name, or ok=false if no such export exists.
func (i *Instance) FunctionSignature(name string) (params, results []api.ValueType, ok bool) {
	f := i.mod.ExportedFunction(name)
	if f == nil {
		return nil, nil, false
	}
	def := f.Definition()
	return def.ParamTypes(), def.ResultTypes(), true
}

// Global reads an exported global's raw value, used for the
// opa_wasm_abi_version-style version globals.
func (i *Instance) Global(name string) (uint64, bool) {
	g := i.mod.ExportedGlobal(name)
	if g == nil {
		return 0, false
	}
	return g.Get(), true
}

// EpochTick advances e's tick counter by one. The adapter interpreter
// never calls it itself, since interpretation cannot yield (§5). The
// counter is not consulted by CallFunction: advancing it does not
// interrupt an in-flight call.
func (e *Engine) EpochTick() {
	e.mu.Lock()
	e.epoch++
	e.mu.Unlock()
}

// Epoch returns the current tick count.
func (e *Engine) Epoch() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.epoch
}
