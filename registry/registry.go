package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/tetratelabs/wazero/api"

	"github.com/marinelabs/marine-go/engine"
	"github.com/marinelabs/marine-go/itcodec"
	"github.com/marinelabs/marine-go/ittype"
	"github.com/marinelabs/marine-go/itmem"
	"github.com/marinelabs/marine-go/itvm"
	"github.com/marinelabs/marine-go/iterrors"
	"github.com/marinelabs/marine-go/log"
	"github.com/marinelabs/marine-go/metricsx"
)

// programCacheSize and recordCacheSize bound the registry-wide caches
// described in SPEC_FULL.md §4.7: compiled adapter programs survive a
// module's unload/reload cycle (keyed on the module name plus the
// adapter's encoded instructions, immediates included), and resolved
// record types skip re-walking a module's type table on repeat lift/lower
// calls.
const (
	programCacheSize = 256
	recordCacheSize  = 1024
)

// guest ABI export names every IT-enabled module must provide.
const (
	exportAllocate       = "allocate"
	exportReleaseObjects = "release_objects"
	exportGetResultPtr   = "get_result_ptr"
	exportGetResultSize  = "get_result_size"
	exportSetResultPtr   = "set_result_ptr"
	exportSetResultSize  = "set_result_size"
)

// callable binds one adapter program to the module it belongs to.
type callable struct {
	owner    *moduleState
	interp   *itvm.Interpreter
	argTypes []ittype.IType
	outTypes []ittype.IType
}

// moduleState is everything the registry keeps per loaded module.
type moduleState struct {
	name     string
	instance *engine.Instance
	ifc      *ittype.Interfaces
	view     *itmem.View

	exportCallables  map[string]*callable
	allTypes         map[uint64]ittype.IRecordType
	functionsByIndex map[uint32]string // Wasm function-index space -> export name, for CallCore targets

	importedFrom map[string]bool // modules this module imports from

	registry *Registry
}

func (m *moduleState) recordResolver() itcodec.RecordResolver {
	return func(id uint64) (ittype.IRecordType, bool) {
		key := recordCacheKey(m.name, id)
		if m.registry.recordCache != nil {
			if rec, ok := m.registry.recordCache.Get(key); ok {
				return rec, true
			}
		}
		rec, ok := m.allTypes[id]
		if ok && m.registry.recordCache != nil {
			m.registry.recordCache.Add(key, rec)
		}
		return rec, ok
	}
}

func recordCacheKey(module string, id uint64) uint64 {
	h := xxhash.New()
	h.WriteString(module)
	var idBytes [8]byte
	for i := 0; i < 8; i++ {
		idBytes[i] = byte(id >> (8 * i))
	}
	h.Write(idBytes[:])
	return h.Sum64()
}

// checkAllocateSignature rejects a module whose allocate export does not
// match the two-argument allocate(size, type_tag) -> i32 form §9 resolves
// on: a guest still exporting the deprecated one-argument allocate would
// otherwise only fail on its first actual allocation call, as an opaque
// trap far from the real cause.
func checkAllocateSignature(instance *engine.Instance) error {
	params, results, ok := instance.FunctionSignature(exportAllocate)
	if !ok {
		return &iterrors.NoSuchFunctionError{Function: exportAllocate}
	}
	if len(params) != 2 || len(results) != 1 ||
		params[0] != api.ValueTypeI32 || params[1] != api.ValueTypeI32 || results[0] != api.ValueTypeI32 {
		return &iterrors.AllocateSignatureMismatchError{Params: len(params), Results: len(results)}
	}
	return nil
}

func (m *moduleState) allocator(ctx context.Context) itcodec.Allocator {
	return func(size uint32, tag uint8) (uint32, error) {
		results, err := m.instance.CallFunction(ctx, exportAllocate, uint64(size), uint64(tag))
		if err != nil {
			return 0, err
		}
		if len(results) == 0 {
			return 0, fmt.Errorf("allocate: no result")
		}
		return uint32(results[0]), nil
	}
}

// Registry holds loaded modules, preserving insertion order so that
// imports may only resolve to modules loaded before the importer.
type Registry struct {
	mu      sync.Mutex
	eng     *engine.Engine
	cfg     *Config
	modules map[string]*moduleState
	order   []string
	logger  log.Logger
	metrics *metricsx.Metrics

	hostModuleBuilt bool
	programCache    *lru.Cache[uint64, *itvm.Interpreter]
	recordCache     *lru.Cache[uint64, ittype.IRecordType]
}

// New builds a Registry backed by eng and configured by cfg. metrics may
// be nil, in which case call/load instrumentation is skipped.
func New(eng *engine.Engine, cfg *Config, metrics *metricsx.Metrics) *Registry {
	programCache, _ := lru.New[uint64, *itvm.Interpreter](programCacheSize)
	recordCache, _ := lru.New[uint64, ittype.IRecordType](recordCacheSize)
	return &Registry{
		eng:          eng,
		cfg:          cfg,
		modules:      map[string]*moduleState{},
		logger:       log.Global(),
		metrics:      metrics,
		programCache: programCache,
		recordCache:  recordCache,
	}
}

// LoadModule validates uniqueness of name, parses the IT section,
// instantiates the module with its cross-module imports and host imports
// resolved, and registers it.
func (r *Registry) LoadModule(ctx context.Context, name string, wasmBytes []byte) (err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.metrics != nil {
		start := time.Now()
		defer func() { r.metrics.ObserveLoad(start, err, loadFailureReason(err)) }()
	}

	if _, exists := r.modules[name]; exists {
		return &nonUniqueNameError{Name: name}
	}

	compiled, err := r.eng.CompileModule(ctx, wasmBytes)
	if err != nil {
		return err
	}

	ifc, err := ittype.ExtractFromModule(compiled.CustomSections)
	if err != nil {
		return err
	}

	if r.cfg.minITVersion.Major != 0 || r.cfg.minITVersion.Minor != 0 || r.cfg.minITVersion.Patch != 0 {
		if ifc.Version.Less(r.cfg.minITVersion) {
			return &iterrors.IncompatibleITVersionsError{Required: r.cfg.minITVersion, Provided: ifc.Version}
		}
	}

	if sdkVersion, err := ittype.SDKVersion(compiled.CustomSections); err == nil {
		if sdkVersion.Less(r.cfg.minSDKVersion) {
			return &iterrors.IncompatibleSDKVersionsError{Required: r.cfg.minSDKVersion, Provided: sdkVersion}
		}
	}

	if err := r.registerHostImports(ctx); err != nil {
		return err
	}

	instance, err := r.eng.Instantiate(ctx, compiled, name)
	if err != nil {
		return &iterrors.InstantiationError{ModuleImportName: name, ProvidedModules: r.order}
	}

	mem := instance.Memory()
	if mem == nil {
		return &iterrors.InstructionError{Kind: iterrors.MemoryIsMissing}
	}

	if err := checkAllocateSignature(instance); err != nil {
		return err
	}

	ms := &moduleState{
		name:             name,
		instance:         instance,
		ifc:              ifc,
		view:             itmem.NewView(mem),
		exportCallables:  map[string]*callable{},
		allTypes:         map[uint64]ittype.IRecordType{},
		functionsByIndex: instance.ExportedFunctionsByIndex(),
		importedFrom:     map[string]bool{},
		registry:         r,
	}

	for _, te := range ifc.Types {
		if te.IsRecord {
			ms.allTypes[te.Record.ID()] = te.Record
		}
	}

	for _, imp := range ifc.Imports {
		if imp.Namespace == "" {
			continue
		}
		if _, ok := r.cfg.hostImports[imp.Name]; ok {
			continue
		}
		if _, ok := r.cfg.mountedBinaries[imp.Name]; ok {
			continue
		}
		provider, ok := r.modules[imp.Namespace]
		if !ok {
			return &iterrors.NoSuchFunctionError{Module: imp.Namespace, Function: imp.Name}
		}
		ms.importedFrom[imp.Namespace] = true
		_ = provider
	}

	if err := r.buildExportCallables(ctx, ms); err != nil {
		return err
	}

	r.modules[name] = ms
	r.order = append(r.order, name)
	r.logger.WithField("module", name).Info("module loaded")
	return nil
}

// buildExportCallables compiles one Interpreter per adapted export and
// records its argument and output types. CallCore targets are resolved at
// call time by coreCaller.
func (r *Registry) buildExportCallables(ctx context.Context, ms *moduleState) error {
	for _, exp := range ms.ifc.Exports {
		adapter := findAdapterForExport(ms.ifc, exp.FunctionType)
		if adapter == nil {
			// Raw (non-IT) export: no adapter program, calls pass through.
			continue
		}
		ft, err := ms.ifc.FunctionTypeAt(exp.FunctionType)
		if err != nil {
			return err
		}
		ms.exportCallables[exp.Name] = &callable{
			owner:    ms,
			interp:   r.compileAdapter(ms.name, adapter),
			argTypes: ft.Args,
			outTypes: ft.Outputs,
		}
	}
	return nil
}

// compileAdapter compiles adapter into an Interpreter, reusing a cached
// program when one with the same instruction sequence under the same
// module name was compiled before — e.g. across an unload/reload of an
// unchanged binary during directory hot-reload (§4.7).
func (r *Registry) compileAdapter(moduleName string, adapter *ittype.Adapter) *itvm.Interpreter {
	key := adapterCacheKey(moduleName, adapter)
	if r.programCache != nil {
		if interp, ok := r.programCache.Get(key); ok {
			return interp
		}
	}
	interp := itvm.Compile(adapter.Instructions)
	if r.programCache != nil {
		r.programCache.Add(key, interp)
	}
	return interp
}

func adapterCacheKey(moduleName string, a *ittype.Adapter) uint64 {
	h := xxhash.New()
	h.WriteString(moduleName)
	// Hash the adapter's full binary encoding so that instructions that
	// differ only in their immediates (e.g. a CallCore function index)
	// produce distinct keys.
	if encoded, err := ittype.EmitSection(&ittype.Interfaces{Adapters: []ittype.Adapter{*a}}); err == nil {
		h.Write(encoded)
		return h.Sum64()
	}
	for _, instr := range a.Instructions {
		h.WriteString(instr.Op().String())
	}
	return h.Sum64()
}

func loadFailureReason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, iterrors.ErrNonUniqueModuleName):
		return "non_unique_name"
	case errors.Is(err, iterrors.ErrModuleWithoutVersion):
		return "no_version"
	default:
		var itVerErr *iterrors.IncompatibleITVersionsError
		var sdkVerErr *iterrors.IncompatibleSDKVersionsError
		var instErr *iterrors.InstantiationError
		var allocErr *iterrors.AllocateSignatureMismatchError
		switch {
		case errors.As(err, &itVerErr), errors.As(err, &sdkVerErr):
			return "incompatible_version"
		case errors.As(err, &instErr):
			return "instantiation"
		case errors.As(err, &allocErr):
			return "allocate_signature_mismatch"
		default:
			return "other"
		}
	}
}

func findAdapterForExport(ifc *ittype.Interfaces, coreFunctionType uint32) *ittype.Adapter {
	for _, impl := range ifc.Implementations {
		if impl.CoreFunctionType == coreFunctionType {
			for i := range ifc.Adapters {
				if ifc.Adapters[i].FunctionType == impl.AdapterFunctionType {
					return &ifc.Adapters[i]
				}
			}
		}
	}
	return nil
}

// UnloadModule removes name's module, refusing if another loaded module
// still imports from it.
func (r *Registry) UnloadModule(ctx context.Context, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.modules[name]; !ok {
		return &iterrors.NoSuchFunctionError{Module: name}
	}

	for other, ms := range r.modules {
		if other == name {
			continue
		}
		if ms.importedFrom[name] {
			return &iterrors.ModuleInUseError{Module: name, UsedBy: other}
		}
	}

	if err := r.modules[name].instance.Close(ctx); err != nil {
		return err
	}

	delete(r.modules, name)
	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	if r.metrics != nil {
		r.metrics.ModulesUnloaded.Inc()
	}
	return nil
}

// Call locates module's export callable and runs its adapter.
func (r *Registry) Call(ctx context.Context, module, function string, args []ittype.IValue) (result []ittype.IValue, err error) {
	if r.metrics != nil {
		start := time.Now()
		defer func() { r.metrics.ObserveCall(module, function, start, err, callFailureCategory(err)) }()
	}

	r.mu.Lock()
	ms, ok := r.modules[module]
	r.mu.Unlock()
	if !ok {
		return nil, &iterrors.NoSuchFunctionError{Module: module, Function: function}
	}

	c, ok := ms.exportCallables[function]
	if !ok {
		return nil, &iterrors.NoSuchFunctionError{Module: module, Function: function}
	}

	ivCtx := &itvm.Context{
		View:     ms.view,
		Alloc:    ms.allocator(ctx),
		Resolve:  ms.recordResolver(),
		CallCore: r.coreCaller(ctx, ms),
	}

	result, err = c.interp.Run(args, ivCtx)
	if err != nil {
		return nil, err
	}

	if _, callErr := ms.instance.CallFunction(ctx, exportReleaseObjects); callErr != nil {
		r.logger.WithField("module", module).Warn("release_objects failed: ", callErr)
		r.cfg.logError(callErr)
	}

	return result, nil
}

func callFailureCategory(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, iterrors.ErrTrap):
		return "trap"
	case errors.Is(err, iterrors.ErrNarrowingOverflow):
		return "narrowing_overflow"
	case errors.Is(err, iterrors.ErrInvalidUTF8):
		return "invalid_utf8"
	case errors.Is(err, iterrors.ErrAllocationFailed):
		return "allocation_failed"
	default:
		var instrErr *iterrors.InstructionError
		var oobErr *iterrors.OutOfBoundsError
		switch {
		case errors.As(err, &instrErr):
			return "instruction"
		case errors.As(err, &oobErr):
			return "out_of_bounds"
		default:
			return "other"
		}
	}
}

// coreCaller builds the CallCore target resolver for ms: it invokes ms's
// own guest export named by the core function's real Wasm function-index
// (imports then locally-defined functions, in declaration order — the
// same index space the it-generator/wit-generator originals assign fixed
// ids like ALLOCATE_FUNC.id against), resolved via the functionsByIndex
// map built once at load time, not by guessing an order from export
// names. Results are decoded per the callee's own declared result types
// rather than force-tagged, so the interpreter's shadow stack carries the
// right WType for any subsequent type-checked instruction. Only functions
// that ms itself exports are reachable: an index naming an imported
// function (from another module or a host import) or an unexported one
// fails with LocalOrImportIsMissing.
func (r *Registry) coreCaller(ctx context.Context, ms *moduleState) itvm.CoreCaller {
	return func(functionIndex uint32, args []ittype.WValue) ([]ittype.WValue, error) {
		fnName, ok := ms.functionsByIndex[functionIndex]
		if !ok {
			return nil, &iterrors.InstructionError{Kind: iterrors.LocalOrImportIsMissing}
		}

		raw := make([]uint64, len(args))
		for i, a := range args {
			raw[i] = wvalueToRaw(a)
		}

		results, err := ms.instance.CallFunction(ctx, fnName, raw...)
		if err != nil {
			return nil, err
		}

		_, resultTypes, _ := ms.instance.FunctionSignature(fnName)
		out := make([]ittype.WValue, len(results))
		for i, rv := range results {
			vt := api.ValueTypeI32
			if i < len(resultTypes) {
				vt = resultTypes[i]
			}
			out[i] = rawToWValue(rv, wtypeFromAPI(vt))
		}
		return out, nil
	}
}

func wtypeFromAPI(vt api.ValueType) ittype.WType {
	switch vt {
	case api.ValueTypeI64:
		return ittype.WI64
	case api.ValueTypeF32:
		return ittype.WF32
	case api.ValueTypeF64:
		return ittype.WF64
	default:
		return ittype.WI32
	}
}

func wvalueToRaw(w ittype.WValue) uint64 {
	switch w.Type {
	case ittype.WI32:
		return api.EncodeI32(w.I32)
	case ittype.WI64:
		return api.EncodeI64(w.I64)
	case ittype.WF32:
		return api.EncodeF32(w.F32)
	default:
		return api.EncodeF64(w.F64)
	}
}

// ExportSignature is one loaded module's export as seen by interface().
type ExportSignature struct {
	Module  string
	Name    string
	Args    []ittype.IType
	Outputs []ittype.IType
}

// Interface enumerates exports of every loaded module with their typed
// signatures.
func (r *Registry) Interface() []ExportSignature {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []ExportSignature
	for _, name := range r.order {
		ms := r.modules[name]
		for fnName, c := range ms.exportCallables {
			out = append(out, ExportSignature{Module: name, Name: fnName, Args: c.argTypes, Outputs: c.outTypes})
		}
	}
	return out
}

type nonUniqueNameError struct{ Name string }

func (e *nonUniqueNameError) Error() string {
	return fmt.Sprintf("non-unique module name %q", e.Name)
}

func (e *nonUniqueNameError) Unwrap() error { return iterrors.ErrNonUniqueModuleName }
