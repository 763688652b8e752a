// Package patch implements spec.md §4.6: the patcher. A call site whose
// target was not yet compiled at emission time (internal/codegen records
// it as a PatchSite) gets resolved here on first use, its embedded address
// rewritten in place, so every subsequent execution runs straight through
// without retrapping.
//
// Grounded on internal/engine/compiler/engine.go's lazy-compile-then-patch
// flow: the teacher's first call into an uncompiled wasm function compiles
// it and rewrites the call site to the real entry point under its engine
// mutex; this package applies that same shape to JVM method references.
// Only method call sites are handled: unresolved field offsets and class
// references are not patched here.
package patch

import (
	"fmt"
	"sync"

	"jitvm/internal/classfile"
	"jitvm/internal/codegen"
	"jitvm/internal/vmerrors"
	"jitvm/internal/vmlog"
)

// Code is the minimal view of a compiled method internal/patch needs:
// mutable access to its own machine code bytes, and the ISA that knows how
// to rewrite an absolute address embedded by that ISA's LoadAbsolute.
type Code interface {
	CodeBytes() []byte
	ISA() codegen.ISA
}

// Resolver resolves a call target at patch time: the same operation
// internal/codegen.Linker performs at emission time, invoked again because
// the callee may have compiled since.
type Resolver interface {
	ResolveMethod(ref *classfile.MethodRef, kind codegen.CallKind) (addr int64, err error)
}

// site is one patch-table entry, keyed by its byte offset within its
// owning Code's machine code.
type site struct {
	offset   int64
	method   *classfile.MethodRef
	kind     codegen.CallKind
	resolved bool
	addr     int64
}

// Table is the process-wide patch table. internal/compiler's driver owns
// one singleton instance.
type Table struct {
	mu    sync.Mutex
	sites map[Code][]*site
	log   *vmlog.Logger
}

// New returns an empty Table. A nil log discards every diagnostic.
func New(log *vmlog.Logger) *Table {
	if log == nil {
		log = vmlog.Discard()
	}
	return &Table{sites: map[Code][]*site{}, log: log}
}

// Install registers code's still-unresolved PatchSites at publish time,
// the patch-table half of §4.1's "register the code range" step.
func (t *Table) Install(code Code, patches []codegen.PatchSite) {
	if len(patches) == 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	sites := make([]*site, len(patches))
	for i, p := range patches {
		sites[i] = &site{offset: p.CodeOffset, method: p.Method, kind: p.Kind}
	}
	t.sites[code] = sites
}

// Resolve services the first-execution trap for the patch site at offset
// within code (§4.6): resolves the target via resolver, rewrites the
// embedded address in place, and returns the resolved address so the
// caller can resume there directly rather than re-reading the bytes it
// just wrote. Resolving and rewriting happen under the table's lock —
// standing in for the compiler-wide lock §4.6's "Atomicity" paragraph
// requires — so a second thread racing into the same still-unresolved
// site blocks here rather than double-patching; a thread arriving after
// resolution returns the cached address without touching the bytes again.
func (t *Table) Resolve(code Code, offset int64, resolver Resolver) (int64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := t.findLocked(code, offset)
	if s == nil {
		return 0, fmt.Errorf("patch: no patch site registered at offset %d", offset)
	}
	if s.resolved {
		return s.addr, nil
	}

	addr, err := resolver.ResolveMethod(s.method, s.kind)
	if err != nil {
		t.log.Warn("patch resolution failed", "method", s.method.Name, "err", err)
		return 0, vmerrors.FromLinkage(err)
	}

	code.ISA().PatchAbsolute(code.CodeBytes(), s.offset, addr)
	s.resolved = true
	s.addr = addr
	t.log.Debug("patch resolved", "method", s.method.Name, "offset", s.offset, "addr", addr)
	return addr, nil
}

func (t *Table) findLocked(code Code, offset int64) *site {
	for _, s := range t.sites[code] {
		if s.offset == offset {
			return s
		}
	}
	return nil
}

// Forget drops every registered site for code, e.g. on class unload.
func (t *Table) Forget(code Code) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.sites, code)
}

// Pending reports whether code still has at least one unresolved site.
func (t *Table) Pending(code Code) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, s := range t.sites[code] {
		if !s.resolved {
			return true
		}
	}
	return false
}
