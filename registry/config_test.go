package registry

import (
	"testing"

	"github.com/marinelabs/marine-go/ittype"
)

func TestWithMemoryLimitsRejectsBelowTwoPages(t *testing.T) {
	c := NewConfig().WithMemoryLimits(wasmPageSize, 0)
	if c.Err() == nil {
		t.Fatalf("expected error for a minimum below two pages")
	}
}

func TestWithMemoryLimitsRejectsMaxBelowMin(t *testing.T) {
	c := NewConfig().WithMemoryLimits(4*wasmPageSize, 2*wasmPageSize)
	if c.Err() == nil {
		t.Fatalf("expected error when max is below min")
	}
}

func TestWithMemoryLimitsAccepts(t *testing.T) {
	c := NewConfig().WithMemoryLimits(2*wasmPageSize, 4*wasmPageSize)
	if err := c.Err(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.memoryMinPages != 2 || c.memoryMaxPages != 4 {
		t.Fatalf("unexpected page counts: min=%d max=%d", c.memoryMinPages, c.memoryMaxPages)
	}
}

func TestWithMemoryLimitsZeroMaxMeansUnbounded(t *testing.T) {
	c := NewConfig().WithMemoryLimits(2*wasmPageSize, 0)
	if err := c.Err(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.memoryMaxPages != 0 {
		t.Fatalf("expected unbounded (0) max pages, got %d", c.memoryMaxPages)
	}
}

func TestConfigChainPreservesFirstError(t *testing.T) {
	c := NewConfig().
		WithMemoryLimits(wasmPageSize, 0). // fails: below two pages
		WithMinITVersion(ittype.Version{Major: 1})
	if c.Err() == nil {
		t.Fatalf("expected the chain's first error to survive a later With* call")
	}
}

func TestPages(t *testing.T) {
	if got := pages(0); got != 0 {
		t.Fatalf("pages(0) = %d, want 0", got)
	}
	if got := pages(1); got != 1 {
		t.Fatalf("pages(1) = %d, want 1", got)
	}
	if got := pages(wasmPageSize); got != 1 {
		t.Fatalf("pages(wasmPageSize) = %d, want 1", got)
	}
	if got := pages(wasmPageSize + 1); got != 2 {
		t.Fatalf("pages(wasmPageSize+1) = %d, want 2", got)
	}
}
