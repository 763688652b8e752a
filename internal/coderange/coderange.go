// Package coderange implements spec.md §4.7's PC → PV map: an ordered
// registry of compiled methods' machine-code ranges, queried by the stack
// walker and exception dispatcher to recover, from a bare program counter,
// which method's code object owns it (§8 invariant 1). Entries are
// registered at publish time and removed at unload (§4.1, §5).
//
// The registry is a single sorted slice searched with sort.Search rather
// than a balanced tree: spec.md §3 makes the same call for the (much
// smaller) per-method exception table, and the number of live compiled
// methods is the same order of magnitude a process-wide ordered scan
// handles comfortably, so a second data structure buys nothing here.
package coderange

import (
	"sort"
	"sync"
)

// Entry is one compiled method's registered range. Owner is opaque here —
// internal/compiler registers its own *Code pointer, and coderange must
// not import internal/compiler (which imports coderange to build the
// range in the first place) or the two packages would cycle.
type Entry struct {
	Base  int64
	Size  int64
	Owner interface{}
}

func (e Entry) end() int64 { return e.Base + e.Size }

// Table is the process-wide registry; internal/compiler owns one
// singleton instance, shared by the stack walker and every compiling
// goroutine.
type Table struct {
	mu      sync.RWMutex
	entries []Entry // kept sorted by Base
}

// New returns an empty Table.
func New() *Table {
	return &Table{}
}

// Register records [base, base+size) as owned by owner. Ranges must not
// overlap an already-registered range — the driver holds the compiler
// lock across compile-and-publish, so two threads can never race to
// register overlapping code.
func (t *Table) Register(base, size int64, owner interface{}) {
	t.mu.Lock()
	defer t.mu.Unlock()

	i := sort.Search(len(t.entries), func(i int) bool { return t.entries[i].Base >= base })
	t.entries = append(t.entries, Entry{})
	copy(t.entries[i+1:], t.entries[i:])
	t.entries[i] = Entry{Base: base, Size: size, Owner: owner}
}

// Unregister removes the entry starting at base, e.g. on class unload.
func (t *Table) Unregister(base int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	i := sort.Search(len(t.entries), func(i int) bool { return t.entries[i].Base >= base })
	if i < len(t.entries) && t.entries[i].Base == base {
		t.entries = append(t.entries[:i], t.entries[i+1:]...)
	}
}

// Lookup returns the Owner whose range contains pc, per §8 invariant 1:
// every PC in a compiled method's range maps back to that method's code
// object. Reports ok=false for a PC belonging to no registered range
// (e.g. a raw native call into libc, or a bug).
func (t *Table) Lookup(pc int64) (owner interface{}, ok bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	i := sort.Search(len(t.entries), func(i int) bool { return t.entries[i].Base > pc }) - 1
	if i < 0 || i >= len(t.entries) {
		return nil, false
	}
	e := t.entries[i]
	if pc < e.Base || pc >= e.end() {
		return nil, false
	}
	return e.Owner, true
}

// Len reports the number of currently-registered ranges, for diagnostics
// and tests.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}
