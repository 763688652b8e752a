package compiler

import (
	"fmt"
	"testing"
	"time"

	"jitvm/internal/classfile"
	"jitvm/internal/codegen"
	"jitvm/internal/ir"
	"jitvm/internal/monitor"
	"jitvm/internal/vmconfig"
)

type noopClassLoader struct{}

func (noopClassLoader) ResolveMethod(ref *classfile.MethodRef, kind codegen.CallKind) (*classfile.Method, error) {
	return nil, fmt.Errorf("unexpected resolve of %s in this test", ref.Name)
}

type fakeNatives struct{ funcAddr, jniEnv int64 }

func (n fakeNatives) Resolve(m *classfile.Method) (int64, int64, error) {
	return n.funcAddr, n.jniEnv, nil
}

func newTestDriver(t *testing.T) *Driver {
	t.Helper()
	d, err := NewDriver(
		vmconfig.Options{Target: vmconfig.ISAAMD64, CodeHeapBytes: 1 << 20},
		noopClassLoader{},
		fakeNatives{funcAddr: 0x1000, jniEnv: 0x2000},
		monitor.New(),
		nil,
	)
	if err != nil {
		t.Fatalf("NewDriver: %v", err)
	}
	return d
}

func straightLineMethod(name string) *classfile.Method {
	code := []byte{byte(ir.OpIconst1), byte(ir.OpIreturn)}
	return &classfile.Method{
		Owner:        &classfile.Class{Name: "T"},
		Name:         name,
		Access:       classfile.AccStatic,
		Descriptor:   classfile.Descriptor{ReturnKind: classfile.KindInt},
		JCode:        code,
		MaxStack:     4,
		MaxLocals:    4,
		ConstantPool: &classfile.ConstantPool{},
	}
}

func TestCompileProducesRegisteredEntryPoint(t *testing.T) {
	d := newTestDriver(t)
	m := straightLineMethod("m")

	entry, err := d.Compile(m, 1)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	owner, ok := d.CodeRange().Lookup(entry)
	if !ok {
		t.Fatal("expected the compiled range to be registered in CodeRange")
	}
	if owner.(*Code).Method() != m {
		t.Error("registered range does not point back to the compiled method")
	}
}

func TestCompileIsIdempotent(t *testing.T) {
	d := newTestDriver(t)
	m := straightLineMethod("m")

	entry1, err := d.Compile(m, 1)
	if err != nil {
		t.Fatalf("first Compile: %v", err)
	}
	entry2, err := d.Compile(m, 2) // a different calling thread, same method
	if err != nil {
		t.Fatalf("second Compile: %v", err)
	}
	if entry1 != entry2 {
		t.Errorf("second Compile recompiled: entry1=%#x entry2=%#x", entry1, entry2)
	}
	if d.CodeRange().Len() != 1 {
		t.Errorf("CodeRange().Len() = %d, want 1 (no duplicate registration)", d.CodeRange().Len())
	}
}

func TestCompileNativeMethodBuildsStub(t *testing.T) {
	d := newTestDriver(t)
	m := &classfile.Method{
		Owner:      &classfile.Class{Name: "T"},
		Name:       "nativeMethod",
		Access:     classfile.AccNative | classfile.AccStatic,
		Descriptor: classfile.Descriptor{},
	}

	entry, err := d.Compile(m, 1)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if entry == 0 {
		t.Fatal("expected a non-zero native stub entry point")
	}
	code, ok := m.Compiled().(*Code)
	if !ok {
		t.Fatal("expected m.Compiled() to hold a *Code")
	}
	if len(code.CodeBytes()) == 0 {
		t.Error("expected non-empty native stub machine code")
	}
}

type resolveToClassLoader struct{ m *classfile.Method }

func (r resolveToClassLoader) ResolveMethod(*classfile.MethodRef, codegen.CallKind) (*classfile.Method, error) {
	return r.m, nil
}

func TestTrapResolvesPatchSiteAndTogglesHeapProtection(t *testing.T) {
	d := newTestDriver(t)

	callee := straightLineMethod("callee")
	calleeEntry, err := d.Compile(callee, 1)
	if err != nil {
		t.Fatalf("compile callee: %v", err)
	}

	// Hand-build a 16-byte "artifact" standing in for a real emitted call
	// site, with a PatchSite at offset 4 (matching amd64.PatchAbsolute's
	// 10-byte MOVQ-immediate encoding, which needs bytes [offset+2,
	// offset+10) available).
	raw := make([]byte, 16)
	base, dst, err := d.heap.Allocate(len(raw))
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	copy(dst, raw)
	if err := d.heap.Protect(base, len(raw)); err != nil {
		t.Fatalf("Protect: %v", err)
	}

	code := &Code{
		method:   straightLineMethod("caller"),
		isa:      d.isa,
		code:     dst,
		base:     base,
		artifact: &codegen.Artifact{Code: raw},
	}
	d.codeRange.Register(base, int64(len(raw)), code)
	d.patches.Install(code, []codegen.PatchSite{
		{CodeOffset: 4, Method: &classfile.MethodRef{Name: "callee", Resolved: true}, Kind: codegen.CallStatic},
	})
	d.classes = resolveToClassLoader{callee}

	addr, err := d.Trap(base+4, 1)
	if err != nil {
		t.Fatalf("Trap: %v", err)
	}
	if addr != calleeEntry {
		t.Errorf("Trap resolved to %#x, want callee entry %#x", addr, calleeEntry)
	}

	// A second trap at the same site must return the cached address
	// without re-resolving (patch.Table.Resolve's own contract), and must
	// not fail re-protecting an already-RX range.
	addr2, err := d.Trap(base+4, 1)
	if err != nil {
		t.Fatalf("second Trap: %v", err)
	}
	if addr2 != calleeEntry {
		t.Errorf("second Trap = %#x, want %#x", addr2, calleeEntry)
	}
}

func TestReentrantLockAllowsSameThreadRecursion(t *testing.T) {
	l := newReentrantLock()
	l.Lock(7)
	done := make(chan struct{})
	go func() {
		l.Lock(7) // same thread identity: must not block behind itself
		l.Unlock()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("same-thread recursive Lock blocked")
	}
	l.Unlock()
}

func TestReentrantLockBlocksDifferentThread(t *testing.T) {
	l := newReentrantLock()
	l.Lock(1)
	acquired := make(chan struct{})
	go func() {
		l.Lock(2)
		close(acquired)
		l.Unlock()
	}()

	select {
	case <-acquired:
		t.Fatal("a different thread acquired the lock while thread 1 held it")
	case <-time.After(50 * time.Millisecond):
	}

	l.Unlock()

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("thread 2 never acquired the lock after thread 1 released it")
	}
}
