package registry

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/marinelabs/marine-go/engine"
	"github.com/marinelabs/marine-go/ittype"
	"github.com/marinelabs/marine-go/iterrors"
)

// emptyModule is the minimal valid Wasm binary, reused here to build a
// real engine.Instance with no exports for checkAllocateSignature.
var emptyModule = []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}

// twoFuncModule exports two zero-argument functions sharing
// one (() -> i32) type: function index 0 is named "zzz_first" and returns
// 42, function index 1 is named "aaa_second" and returns 99. The export
// names are deliberately ordered so that an alphabetical sort ("aaa_second"
// before "zzz_first") disagrees with the real declaration order, to catch
// a CallCore resolver that (re)sorts names instead of using the module's
// actual Wasm function-index space.
var twoFuncModule = []byte{
	0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00, // magic, version

	0x01, 0x05, 0x01, 0x60, 0x00, 0x01, 0x7f, // type section: type0 = () -> i32

	0x03, 0x03, 0x02, 0x00, 0x00, // function section: func0, func1 both use type0

	// export section: "zzz_first" -> func 0, "aaa_second" -> func 1
	0x07, 0x1a, 0x02,
	0x09, 0x7a, 0x7a, 0x7a, 0x5f, 0x66, 0x69, 0x72, 0x73, 0x74, 0x00, 0x00,
	0x0a, 0x61, 0x61, 0x61, 0x5f, 0x73, 0x65, 0x63, 0x6f, 0x6e, 0x64, 0x00, 0x01,

	// code section: func0 body `i32.const 42; end`, func1 body `i32.const 99; end`
	0x0a, 0x0c, 0x02,
	0x04, 0x00, 0x41, 0x2a, 0x0b,
	0x05, 0x00, 0x41, 0xe3, 0x00, 0x0b,
}

func TestCoreCallerResolvesByRealFunctionIndex(t *testing.T) {
	ctx := context.Background()
	eng := engine.New(ctx)
	defer eng.Close(ctx)

	compiled, err := eng.CompileModule(ctx, twoFuncModule)
	if err != nil {
		t.Fatalf("CompileModule: %v", err)
	}
	instance, err := eng.Instantiate(ctx, compiled, "multi")
	if err != nil {
		t.Fatalf("Instantiate: %v", err)
	}
	defer instance.Close(ctx)

	ms := &moduleState{
		name:             "multi",
		instance:         instance,
		functionsByIndex: instance.ExportedFunctionsByIndex(),
	}
	r := &Registry{}
	caller := r.coreCaller(ctx, ms)

	res0, err := caller(0, nil)
	if err != nil {
		t.Fatalf("call index 0: %v", err)
	}
	if len(res0) != 1 || res0[0].Type != ittype.WI32 || res0[0].I32 != 42 {
		t.Fatalf("index 0 (zzz_first) = %+v, want i32(42)", res0)
	}

	res1, err := caller(1, nil)
	if err != nil {
		t.Fatalf("call index 1: %v", err)
	}
	if len(res1) != 1 || res1[0].Type != ittype.WI32 || res1[0].I32 != 99 {
		t.Fatalf("index 1 (aaa_second) = %+v, want i32(99)", res1)
	}

	if _, err := caller(2, nil); err == nil {
		t.Fatalf("expected an error for an out-of-range function index")
	}
}

func TestCheckAllocateSignatureMissingExport(t *testing.T) {
	ctx := context.Background()
	eng := engine.New(ctx)
	defer eng.Close(ctx)

	compiled, err := eng.CompileModule(ctx, emptyModule)
	if err != nil {
		t.Fatalf("CompileModule: %v", err)
	}
	instance, err := eng.Instantiate(ctx, compiled, "no-allocate")
	if err != nil {
		t.Fatalf("Instantiate: %v", err)
	}
	defer instance.Close(ctx)

	err = checkAllocateSignature(instance)
	var noFn *iterrors.NoSuchFunctionError
	if !errors.As(err, &noFn) {
		t.Fatalf("expected NoSuchFunctionError, got %v", err)
	}
}

func TestLoadFailureReason(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"non-unique", &nonUniqueNameError{Name: "a"}, "non_unique_name"},
		{"no-version", iterrors.ErrModuleWithoutVersion, "no_version"},
		{"it-version", &iterrors.IncompatibleITVersionsError{}, "incompatible_version"},
		{"sdk-version", &iterrors.IncompatibleSDKVersionsError{}, "incompatible_version"},
		{"instantiation", &iterrors.InstantiationError{}, "instantiation"},
		{"allocate-signature", &iterrors.AllocateSignatureMismatchError{}, "allocate_signature_mismatch"},
		{"other", fmt.Errorf("boom"), "other"},
	}
	for _, c := range cases {
		if got := loadFailureReason(c.err); got != c.want {
			t.Errorf("%s: loadFailureReason() = %q, want %q", c.name, got, c.want)
		}
	}
}

func TestCallFailureCategory(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"trap", iterrors.ErrTrap, "trap"},
		{"narrowing", iterrors.ErrNarrowingOverflow, "narrowing_overflow"},
		{"utf8", iterrors.ErrInvalidUTF8, "invalid_utf8"},
		{"alloc", iterrors.ErrAllocationFailed, "allocation_failed"},
		{"instruction", &iterrors.InstructionError{}, "instruction"},
		{"oob", &iterrors.OutOfBoundsError{}, "out_of_bounds"},
		{"other", fmt.Errorf("boom"), "other"},
	}
	for _, c := range cases {
		if got := callFailureCategory(c.err); got != c.want {
			t.Errorf("%s: callFailureCategory() = %q, want %q", c.name, got, c.want)
		}
	}
}

func TestAdapterCacheKeyStableAndDistinct(t *testing.T) {
	a := &ittype.Adapter{Instructions: []ittype.Instruction{
		ittype.ArgumentGet{Index: 0},
		ittype.CallCore{FunctionIndex: 1},
	}}
	b := &ittype.Adapter{Instructions: []ittype.Instruction{
		ittype.ArgumentGet{Index: 0},
		ittype.CallCore{FunctionIndex: 2},
	}}

	k1 := adapterCacheKey("mod-a", a)
	k2 := adapterCacheKey("mod-a", a)
	if k1 != k2 {
		t.Fatalf("adapterCacheKey should be deterministic for identical input")
	}

	if adapterCacheKey("mod-a", b) == k1 {
		t.Fatalf("adapters with different instructions should hash differently")
	}
	if adapterCacheKey("mod-b", a) == k1 {
		t.Fatalf("identical adapters under different module names should hash differently")
	}
}

func TestRecordCacheKeyStableAndDistinct(t *testing.T) {
	k1 := recordCacheKey("mod", 5)
	k2 := recordCacheKey("mod", 5)
	if k1 != k2 {
		t.Fatalf("recordCacheKey should be deterministic")
	}
	if recordCacheKey("mod", 6) == k1 {
		t.Fatalf("different record ids should hash differently")
	}
	if recordCacheKey("other", 5) == k1 {
		t.Fatalf("different module names should hash differently")
	}
}

func TestFindAdapterForExport(t *testing.T) {
	ifc := &ittype.Interfaces{
		Adapters:        []ittype.Adapter{{FunctionType: 9}},
		Implementations: []ittype.Implementation{{CoreFunctionType: 2, AdapterFunctionType: 9}},
	}
	if a := findAdapterForExport(ifc, 2); a == nil || a.FunctionType != 9 {
		t.Fatalf("expected matching adapter, got %+v", a)
	}
	if a := findAdapterForExport(ifc, 42); a != nil {
		t.Fatalf("expected nil for an unmatched core function type, got %+v", a)
	}
}

func TestNonUniqueNameErrorUnwrap(t *testing.T) {
	err := &nonUniqueNameError{Name: "dup"}
	if got := err.Unwrap(); got != iterrors.ErrNonUniqueModuleName {
		t.Fatalf("Unwrap() = %v, want ErrNonUniqueModuleName", got)
	}
}
