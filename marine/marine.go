// Package marine is the runtime's single public entry point: it wires
// together the engine, registry and ambient stack (logging, metrics,
// caching, directory loading) behind a small functional-options surface,
// directly generalizing the teacher's
// internal/wasm/sdk/opa/config.go+opa.go "one policy module" shape to
// "a directory or explicit list of guest modules."
package marine

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/marinelabs/marine-go/engine"
	"github.com/marinelabs/marine-go/ittype"
	"github.com/marinelabs/marine-go/iterrors"
	"github.com/marinelabs/marine-go/log"
	"github.com/marinelabs/marine-go/metricsx"
	"github.com/marinelabs/marine-go/registry"
)

// Runtime is the composed Wasm application runtime: one engine, one
// module registry, and the ambient stack around them.
type Runtime struct {
	eng      *engine.Engine
	reg      *registry.Registry
	metrics  *metricsx.Metrics
	logger   log.Logger
	watcher  *dirWatcher
}

// Option configures a Runtime under construction.
type Option func(*buildState) error

type buildState struct {
	modulesDir      string
	watch           bool
	hostImports     map[string]registry.HostImport
	mountedBinaries map[string]string
	memMinBytes     uint32
	memMaxBytes     uint32
	minIT           ittype.Version
	minSDK          ittype.Version
	errorLogger     func(error)
	registerer      prometheus.Registerer
}

// WithModulesDir discovers and loads every *.wasm file under dir at
// startup, in name-stable order; watch additionally hot-reloads modules
// whose file changes after startup (§4.7).
func WithModulesDir(dir string, watch bool) Option {
	return func(b *buildState) error {
		b.modulesDir = dir
		b.watch = watch
		return nil
	}
}

// WithHostImport registers a dynamically-typed host function every
// loaded module may import.
func WithHostImport(name string, hi registry.HostImport) Option {
	return func(b *buildState) error {
		b.hostImports[name] = hi
		return nil
	}
}

// WithMountedBinary wires name to the external executable at path via
// the mounted-binaries host-import family (§4.5.5).
func WithMountedBinary(name, path string) Option {
	return func(b *buildState) error {
		b.mountedBinaries[name] = path
		return nil
	}
}

// WithMemoryLimits sets the memory floor/ceiling (in bytes; 0 max means
// unbounded). The values are validated when the Runtime is built, but
// loaded modules are not limited by them.
func WithMemoryLimits(minBytes, maxBytes uint32) Option {
	return func(b *buildState) error {
		b.memMinBytes, b.memMaxBytes = minBytes, maxBytes
		return nil
	}
}

// WithMinITVersion rejects modules embedding an older interface-types
// version.
func WithMinITVersion(v ittype.Version) Option {
	return func(b *buildState) error {
		b.minIT = v
		return nil
	}
}

// WithMinSDKVersion rejects modules built against an older guest SDK.
func WithMinSDKVersion(v ittype.Version) Option {
	return func(b *buildState) error {
		b.minSDK = v
		return nil
	}
}

// WithErrorLogger registers a sink for errors a call does not return: a
// failed post-call release_objects sweep. Watcher reload failures are
// logged but not passed to the sink.
func WithErrorLogger(logger func(error)) Option {
	return func(b *buildState) error {
		b.errorLogger = logger
		return nil
	}
}

// WithMetricsRegisterer registers the Runtime's Prometheus collectors
// against reg instead of the default registry.
func WithMetricsRegisterer(reg prometheus.Registerer) Option {
	return func(b *buildState) error {
		b.registerer = reg
		return nil
	}
}

// New builds a Runtime from opts, compiling and loading any configured
// modules directory before returning.
func New(ctx context.Context, opts ...Option) (*Runtime, error) {
	b := &buildState{
		hostImports:     map[string]registry.HostImport{},
		mountedBinaries: map[string]string{},
		registerer:      prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		if err := opt(b); err != nil {
			return nil, fmt.Errorf("%w: %v", iterrors.ErrParseConfig, err)
		}
	}

	cfg := registry.NewConfig()
	for name, hi := range b.hostImports {
		cfg = cfg.WithHostImport(name, hi)
	}
	for name, path := range b.mountedBinaries {
		cfg = cfg.WithMountedBinary(name, path)
	}
	if b.memMinBytes != 0 || b.memMaxBytes != 0 {
		cfg = cfg.WithMemoryLimits(b.memMinBytes, b.memMaxBytes)
	}
	cfg = cfg.WithMinITVersion(b.minIT).WithMinSDKVersion(b.minSDK)
	if b.errorLogger != nil {
		cfg = cfg.WithErrorLogger(b.errorLogger)
	}
	if err := cfg.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", iterrors.ErrParseConfig, err)
	}

	metrics := metricsx.New(b.registerer)
	eng := engine.New(ctx)
	reg := registry.New(eng, cfg, metrics)

	rt := &Runtime{
		eng:     eng,
		reg:     reg,
		metrics: metrics,
		logger:  log.Global(),
	}

	if b.modulesDir != "" {
		if err := rt.LoadDir(ctx, b.modulesDir, b.watch); err != nil {
			return nil, err
		}
	}

	return rt, nil
}

// Close tears down every loaded module and the underlying engine.
func (rt *Runtime) Close(ctx context.Context) error {
	if rt.watcher != nil {
		rt.watcher.stop()
	}
	return rt.eng.Close(ctx)
}

// LoadModule loads wasmBytes under name.
func (rt *Runtime) LoadModule(ctx context.Context, name string, wasmBytes []byte) error {
	return rt.reg.LoadModule(ctx, name, wasmBytes)
}

// UnloadModule removes name, refusing while another loaded module still
// imports from it.
func (rt *Runtime) UnloadModule(ctx context.Context, name string) error {
	return rt.reg.UnloadModule(ctx, name)
}

// Call invokes module's export function with args. A failed call is
// logged with a fresh correlation id alongside the module and function
// names; the registry's own log lines do not carry the id.
func (rt *Runtime) Call(ctx context.Context, module, function string, args []ittype.IValue) ([]ittype.IValue, error) {
	callID := uuid.New()
	logger := rt.logger.WithField("call_id", callID.String()).WithField("module", module).WithField("function", function)

	result, err := rt.reg.Call(ctx, module, function, args)
	if err != nil {
		logger.Warn("call failed: ", err)
		return nil, err
	}
	return result, nil
}

// Interface enumerates every loaded module's typed exports.
func (rt *Runtime) Interface() []registry.ExportSignature {
	return rt.reg.Interface()
}
