package compiler

import (
	"fmt"
	"sync"

	"golang.org/x/sys/unix"

	"jitvm/internal/vmerrors"
)

// CodeHeap is the mmap'd region compiled methods and trampolines are
// published into (spec.md §5's "machine-code and data segments ...
// allocated from a code heap"). It enforces W^X: Allocate hands back a
// writable region, Protect flips it read+execute once the bytes are
// final, and Unprotect flips it back so internal/patch can rewrite an
// already-published call site in place (§4.6). A mapping is never both
// writable and executable at once.
//
// Every allocation is rounded up to a whole number of pages so Protect/
// Unprotect on one method's range never touches a neighboring
// allocation's bytes — the bump allocator never packs two methods into
// the same page.
type CodeHeap struct {
	mu       sync.Mutex
	region   []byte
	offset   int
	pageSize int
}

// NewCodeHeap mmaps size bytes PROT_READ|PROT_WRITE, MAP_PRIVATE|MAP_ANON.
func NewCodeHeap(size int) (*CodeHeap, error) {
	b, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, fmt.Errorf("compiler: mmap code heap: %w", err)
	}
	return &CodeHeap{region: b, pageSize: unix.Getpagesize()}, nil
}

// Close unmaps the heap. Not safe to call while any Code built from it is
// still reachable.
func (h *CodeHeap) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.region == nil {
		return nil
	}
	err := unix.Munmap(h.region)
	h.region = nil
	return err
}

// Allocate bump-allocates a whole-page-rounded region of at least n bytes
// and returns its base offset (an opaque identity within this heap, used
// as the "address" internal/codegen's LoadAbsolute/coderange/patch all key
// on — nothing in this process ever dereferences it as a real pointer,
// since nothing here executes the emitted machine code) and a slice view
// of exactly n bytes to copy the method's code into.
func (h *CodeHeap) Allocate(n int) (base int64, dst []byte, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	aligned := roundUp(n, h.pageSize)
	if h.offset+aligned > len(h.region) {
		return 0, nil, vmerrors.ErrOutOfMemory
	}
	base = int64(h.offset)
	dst = h.region[h.offset : h.offset+n]
	h.offset += aligned
	return base, dst, nil
}

// Protect makes [base, base+n) (rounded to whole pages) read+execute.
// Must be called once the final bytes have been written, before any call
// through the returned entry point.
func (h *CodeHeap) Protect(base int64, n int) error {
	return h.mprotect(base, n, unix.PROT_READ|unix.PROT_EXEC)
}

// Unprotect makes [base, base+n) read+write again, so internal/patch can
// rewrite a call site §4.6 resolves after first publication. The caller
// must Protect the same range again before resuming execution there.
func (h *CodeHeap) Unprotect(base int64, n int) error {
	return h.mprotect(base, n, unix.PROT_READ|unix.PROT_WRITE)
}

func (h *CodeHeap) mprotect(base int64, n int, prot int) error {
	h.mu.Lock()
	region := h.region
	h.mu.Unlock()

	start := (int(base) / h.pageSize) * h.pageSize
	end := roundUp(int(base)+n, h.pageSize)
	if end > len(region) {
		end = len(region)
	}
	return unix.Mprotect(region[start:end], prot)
}

func roundUp(n, multiple int) int {
	return (n + multiple - 1) / multiple * multiple
}
