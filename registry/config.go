// Package registry holds loaded modules, resolves imports across them,
// and wraps host closures as guest-callable dynamic functions — the
// module registry and host-import trampoline (component C5).
package registry

import (
	"fmt"

	"github.com/marinelabs/marine-go/ittype"
)

// HostImport describes one entry of config.host_imports: a closure the
// registry exposes to every guest as a dynamically-typed function.
type HostImport struct {
	ArgumentTypes []ittype.IType
	OutputType    *ittype.IType
	Closure       func(args []ittype.IValue) (*ittype.IValue, error)
	ErrorHandler  func(err error) *ittype.IValue
}

// LoadConfig groups per-load settings. Registry.LoadModule does not take
// one: every load uses the registry-wide Config.
type LoadConfig struct {
	HostImports     map[string]HostImport
	MountedBinaries map[string]string
	MemoryMinPages  uint32
	MemoryMaxPages  uint32 // 0 means no limit
	MinITVersion    ittype.Version
	MinSDKVersion   ittype.Version
}

// Config is the registry-wide configuration built via functional options
// on the root marine.Runtime and used unchanged by every load_module call.
type Config struct {
	configErr       error
	hostImports     map[string]HostImport
	mountedBinaries map[string]string
	memoryMinPages  uint32
	memoryMaxPages  uint32
	minITVersion    ittype.Version
	minSDKVersion   ittype.Version
	logError        func(error)
}

// NewConfig returns a Config with the teacher-style defaults: a generous
// default memory floor and a no-op error logger.
func NewConfig() *Config {
	return &Config{
		hostImports:     map[string]HostImport{},
		mountedBinaries: map[string]string{},
		memoryMinPages:  16,
		logError:        func(error) {},
	}
}

// WithHostImport registers a single dynamically-typed host function.
func (c *Config) WithHostImport(name string, hi HostImport) *Config {
	c.hostImports[name] = hi
	return c
}

// WithMountedBinary binds name to an external executable path, wiring the
// mounted-binaries host-import family (§4.5.5).
func (c *Config) WithMountedBinary(name, path string) *Config {
	c.mountedBinaries[name] = path
	return c
}

// WithMemoryLimits validates and stores the memory floor and cap (in
// bytes) as page counts. LoadModule does not apply them: a module's
// memory section is instantiated as the binary declares it.
func (c *Config) WithMemoryLimits(minBytes, maxBytes uint32) *Config {
	if minBytes < 2*wasmPageSize {
		c.configErr = fmt.Errorf("too low minimum memory limit")
		return c
	}
	if maxBytes != 0 && minBytes > maxBytes {
		c.configErr = fmt.Errorf("too low maximum memory limit")
		return c
	}
	c.memoryMinPages, c.memoryMaxPages = pages(minBytes), pages(maxBytes)
	return c
}

// WithMinITVersion sets the minimum accepted interface-types version.
func (c *Config) WithMinITVersion(v ittype.Version) *Config {
	c.minITVersion = v
	return c
}

// WithMinSDKVersion sets the minimum accepted guest SDK version.
func (c *Config) WithMinSDKVersion(v ittype.Version) *Config {
	c.minSDKVersion = v
	return c
}

// WithErrorLogger configures a sink invoked with errors the registry does
// not return to its caller: a failed post-call release_objects sweep.
func (c *Config) WithErrorLogger(logger func(error)) *Config {
	c.logError = logger
	return c
}

// Err returns the first error encountered by a With* call, if any. Every
// With* method keeps returning the same *Config so a chain can be built
// fluently; callers check Err once at the end, mirroring the teacher's
// own deferred-configErr pattern.
func (c *Config) Err() error {
	return c.configErr
}

const wasmPageSize = 65536

func pages(bytes uint32) uint32 {
	if bytes == 0 {
		return 0
	}
	return (bytes + wasmPageSize - 1) / wasmPageSize
}
