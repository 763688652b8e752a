// Package compiler implements spec.md §4.1: the driver that ties
// internal/ir, internal/stackanalysis, internal/regalloc and
// internal/codegen into the single public Compile operation, publishes
// the result into internal/coderange and internal/patch, and builds the
// per-method exception-dispatch table internal/unwind searches.
//
// Grounded on internal/engine/compiler/engine.go's moduleEngine: the
// teacher's own "compile once, cache on the definition, serialize
// concurrent compiles of the same function" shape, generalized from a
// wasm module's function table to a JVM class's per-Method cache
// (classfile.Method.Compiled/SetCompiled) and from wasm's single calling
// convention to the four JVM call-site shapes codegen.CallKind names.
package compiler

import (
	"fmt"
	"sync"

	"jitvm/internal/classfile"
	"jitvm/internal/codegen"
	"jitvm/internal/coderange"
	"jitvm/internal/monitor"
	"jitvm/internal/patch"
	"jitvm/internal/regalloc"
	"jitvm/internal/stub"
	"jitvm/internal/unwind"
	"jitvm/internal/vmconfig"
	"jitvm/internal/vmlog"

	"jitvm/internal/ir"
	"jitvm/internal/stackanalysis"
)

// ClassLoader is the out-of-scope, loader-owned collaborator spec.md §1
// places upstream of the JIT: a classloader-indexed cache that resolves
// symbolic references lazily. internal/compiler only ever consults it; it
// never loads or defines a class itself.
type ClassLoader interface {
	// ResolveMethod resolves ref against kind's dispatch rule (virtual
	// lookup walks vtables, static/special/interface resolve directly) and
	// returns the loaded, already-verified classfile.Method. Returns an
	// error wrapping one of vmerrors' linkage sentinels on failure.
	ResolveMethod(ref *classfile.MethodRef, kind codegen.CallKind) (*classfile.Method, error)
}

// NativeResolver locates a loaded native library's symbol for a native
// classfile.Method, and the JNIEnv pointer its calling thread should be
// handed — spec.md §6's JNI boundary, also out of this module's scope.
type NativeResolver interface {
	Resolve(m *classfile.Method) (funcAddr, jniEnv int64, err error)
}

// Driver is the process-wide compiler: one instance owns the code heap,
// the code-range registry, the patch table and the shared compiler stub.
// Safe for concurrent use: every Compile runs under one compiler-wide
// lock, so compiles are serialized, including those of unrelated
// methods. The lock is reentrant by thread, so a Compile triggered from
// within another Compile on the same logical thread — e.g. a §4.6 patch
// trap serviced synchronously — does not deadlock against itself.
type Driver struct {
	opts      vmconfig.Options
	isa       codegen.ISA
	intPool   regalloc.Pool
	floatPool regalloc.Pool

	heap      *CodeHeap
	codeRange *coderange.Table
	patches   *patch.Table
	stubs     *stub.Factory
	unwinder  *unwind.Dispatcher
	log       *vmlog.Logger

	classes ClassLoader
	natives NativeResolver

	lock *reentrantLock

	mu                sync.Mutex
	helpers           map[codegen.RuntimeHelper]int64
	compilerStubEntry int64
}

// NewDriver builds a Driver targeting opts.Target (resolved via
// vmconfig.ISA.Resolve), allocates opts.CodeHeapSize() bytes of
// executable memory, and assembles the one shared compiler stub every
// unresolved call site targets until its callee compiles.
func NewDriver(opts vmconfig.Options, classes ClassLoader, natives NativeResolver, monitors *monitor.Table, log *vmlog.Logger) (*Driver, error) {
	if log == nil {
		log = vmlog.Discard()
	}
	isa, intPool, floatPool, err := SelectISA(opts)
	if err != nil {
		return nil, err
	}
	heap, err := NewCodeHeap(opts.CodeHeapSize())
	if err != nil {
		return nil, err
	}

	d := &Driver{
		opts:      opts,
		isa:       isa,
		intPool:   intPool,
		floatPool: floatPool,
		heap:      heap,
		codeRange: coderange.New(),
		patches:   patch.New(log),
		classes:   classes,
		natives:   natives,
		log:       log,
		lock:      newReentrantLock(),
		helpers:   map[codegen.RuntimeHelper]int64{},
	}
	d.stubs = stub.New(isa)
	d.unwinder = unwind.New(monitors, log)

	artifact, err := d.stubs.CompilerStub(linkerView{d})
	if err != nil {
		return nil, fmt.Errorf("compiler: build compiler stub: %w", err)
	}
	base, dst, err := heap.Allocate(len(artifact.Code))
	if err != nil {
		return nil, fmt.Errorf("compiler: allocate compiler stub: %w", err)
	}
	copy(dst, artifact.Code)
	if err := heap.Protect(base, len(artifact.Code)); err != nil {
		return nil, fmt.Errorf("compiler: publish compiler stub: %w", err)
	}
	d.compilerStubEntry = base

	return d, nil
}

// SetRuntimeHelper installs the entry point for one of codegen's fixed
// runtime helpers (object allocation, type checks, monitor slow paths,
// ...). The embedder calls this once per helper at VM startup, before any
// Compile call — codegen.Linker.RuntimeHelper assumes every helper it is
// asked for is already installed.
func (d *Driver) SetRuntimeHelper(h codegen.RuntimeHelper, addr int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.helpers[h] = addr
}

func (d *Driver) runtimeHelper(h codegen.RuntimeHelper) int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.helpers[h]
}

// CodeRange exposes the driver's coderange.Table for a stack walker or
// safepoint poller that needs to map a bare PC back to its owning Code.
func (d *Driver) CodeRange() *coderange.Table { return d.codeRange }

// Unwinder exposes the driver's exception dispatcher.
func (d *Driver) Unwinder() *unwind.Dispatcher { return d.unwinder }

// Compile is spec.md §4.1's public operation: return method's native
// entry point, compiling it first if this is the first call. Idempotent
// and safe to call concurrently from many threads for the same or
// different methods; thread identifies the calling logical thread so a
// recursive Compile reached through a synchronously-serviced patch trap
// (Driver.Trap -> ClassLoader.ResolveMethod -> Compile) does not deadlock
// against the lock its own outer call already holds.
func (d *Driver) Compile(m *classfile.Method, thread monitor.ThreadID) (int64, error) {
	if c, ok := m.Compiled().(*Code); ok {
		return c.base, nil
	}

	d.lock.Lock(thread)
	defer d.lock.Unlock()

	// Re-check after acquiring the lock: another thread may have compiled
	// m while this one waited.
	if c, ok := m.Compiled().(*Code); ok {
		return c.base, nil
	}

	if !m.IsCompilable() {
		return d.compileNativeStub(m)
	}
	return d.compileBytecode(m)
}

func (d *Driver) compileBytecode(m *classfile.Method) (int64, error) {
	f, err := ir.Parse(m)
	if err != nil {
		return 0, fmt.Errorf("compiler: parse %s: %w", m.Name, err)
	}
	res, err := stackanalysis.Analyze(f)
	if err != nil {
		return 0, fmt.Errorf("compiler: stack analysis %s: %w", m.Name, err)
	}
	frame := regalloc.Allocate(f, res, d.intPool, d.floatPool)

	artifact, err := codegen.Emit(f, res, frame, d.isa, linkerView{d})
	if err != nil {
		return 0, fmt.Errorf("compiler: emit %s: %w", m.Name, err)
	}

	base, dst, err := d.heap.Allocate(len(artifact.Code))
	if err != nil {
		return 0, fmt.Errorf("compiler: allocate code for %s: %w", m.Name, err)
	}
	copy(dst, artifact.Code)
	if err := d.heap.Protect(base, len(artifact.Code)); err != nil {
		return 0, fmt.Errorf("compiler: publish code for %s: %w", m.Name, err)
	}

	code := &Code{
		method:       m,
		isa:          d.isa,
		code:         dst,
		base:         base,
		artifact:     artifact,
		excRanges:    buildExceptionRanges(f, artifact, m),
		synchronized: m.Access.IsSynchronized(),
	}
	m.SetCompiled(code)

	d.codeRange.Register(base, int64(len(artifact.Code)), code)
	d.patches.Install(code, artifact.PatchSites)

	d.log.Debug("compiled", "method", m.Name, "bytes", len(artifact.Code), "entry", base)
	return base, nil
}

func (d *Driver) compileNativeStub(m *classfile.Method) (int64, error) {
	if !m.Access.IsNative() {
		return 0, fmt.Errorf("compiler: %s is abstract, has no entry point to compile", m.Name)
	}
	nativeFunc, jniEnv, err := d.natives.Resolve(m)
	if err != nil {
		return 0, fmt.Errorf("compiler: resolve native symbol for %s: %w", m.Name, err)
	}

	artifact, err := d.stubs.NativeCallStub(m, nativeFunc, jniEnv)
	if err != nil {
		return 0, fmt.Errorf("compiler: build native stub for %s: %w", m.Name, err)
	}
	base, dst, err := d.heap.Allocate(len(artifact.Code))
	if err != nil {
		return 0, fmt.Errorf("compiler: allocate native stub for %s: %w", m.Name, err)
	}
	copy(dst, artifact.Code)
	if err := d.heap.Protect(base, len(artifact.Code)); err != nil {
		return 0, fmt.Errorf("compiler: publish native stub for %s: %w", m.Name, err)
	}

	code := &Code{
		method:       m,
		isa:          d.isa,
		code:         dst,
		base:         base,
		artifact:     artifact,
		synchronized: m.Access.IsSynchronized(),
	}
	m.SetCompiled(code)
	d.codeRange.Register(base, int64(len(artifact.Code)), code)

	d.log.Debug("compiled native stub", "method", m.Name, "bytes", len(artifact.Code), "entry", base)
	return base, nil
}

// buildExceptionRanges maps m's bytecode-PC exception table to the
// compiled artifact's machine-PC ranges. internal/codegen's Artifact only
// records one offset per basic block, not per bytecode instruction, so
// each bytecode PC is mapped to the machine offset of the IR block that
// contains it — block-granularity is exact at every point a JVM exception
// table's StartPC/EndPC/HandlerPC can actually land, since the bytecode
// parser (internal/ir) always starts a new block at an exception range
// boundary.
func buildExceptionRanges(f *ir.Function, art *codegen.Artifact, m *classfile.Method) []unwind.ExceptionRange {
	if len(m.ExceptionTable) == 0 {
		return nil
	}
	out := make([]unwind.ExceptionRange, 0, len(m.ExceptionTable))
	for _, e := range m.ExceptionTable {
		startBlk := f.BlockAt(e.StartPC)
		handlerBlk := f.BlockAt(e.HandlerPC)
		if startBlk == nil || handlerBlk == nil {
			continue
		}
		endMPC := int64(len(art.Code))
		if endBlk := f.BlockAt(e.EndPC); endBlk != nil {
			endMPC = art.BlockOffsets[endBlk.ID]
		}
		out = append(out, unwind.ExceptionRange{
			StartMPC:   art.BlockOffsets[startBlk.ID],
			EndMPC:     endMPC,
			HandlerMPC: art.BlockOffsets[handlerBlk.ID],
			CatchType:  e.CatchType,
		})
	}
	return out
}

// Trap services spec.md §4.6's patch-trap protocol entry point: given the
// machine PC a still-unresolved call site trapped at and the identity of
// the thread servicing the trap, resolve and rewrite that site, returning
// the address execution should resume at. A real execution engine calls
// this from its signal/trap handler; tests call it directly against a
// fabricated code range and patch site.
func (d *Driver) Trap(faultingPC int64, thread monitor.ThreadID) (int64, error) {
	owner, ok := d.codeRange.Lookup(faultingPC)
	if !ok {
		return 0, fmt.Errorf("compiler: trap at %#x matches no registered code range", faultingPC)
	}
	code, ok := owner.(*Code)
	if !ok {
		return 0, fmt.Errorf("compiler: trap at %#x: code range owner is not a *Code", faultingPC)
	}
	offset := faultingPC - code.base

	if err := d.heap.Unprotect(code.base, len(code.artifact.Code)); err != nil {
		return 0, fmt.Errorf("compiler: unprotect %s for patching: %w", code.method.Name, err)
	}
	addr, resolveErr := d.patches.Resolve(code, offset, patchResolverView{d: d, thread: thread})
	if err := d.heap.Protect(code.base, len(code.artifact.Code)); err != nil {
		return 0, fmt.Errorf("compiler: re-protect %s after patching: %w", code.method.Name, err)
	}
	return addr, resolveErr
}

// linkerView adapts Driver to codegen.Linker without exposing Driver's
// own differently-shaped ResolveMethod (patch.Resolver's shape) under the
// same method name on the same receiver.
type linkerView struct{ d *Driver }

func (l linkerView) ResolveMethod(ref *classfile.MethodRef, kind codegen.CallKind) (addr int64, resolved bool, stubAddr int64) {
	d := l.d
	if ref == nil || !ref.Resolved {
		return 0, false, d.compilerStubEntry
	}
	m, err := d.classes.ResolveMethod(ref, kind)
	if err != nil || m == nil {
		return 0, false, d.compilerStubEntry
	}
	if c, ok := m.Compiled().(*Code); ok {
		return c.base, true, d.compilerStubEntry
	}
	return 0, false, d.compilerStubEntry
}

func (l linkerView) RuntimeHelper(h codegen.RuntimeHelper) int64 { return l.d.runtimeHelper(h) }

// patchResolverView adapts Driver to patch.Resolver: resolving a call
// target at patch time additionally compiles it if this is its first use,
// the one difference from linkerView's emission-time query.
type patchResolverView struct {
	d      *Driver
	thread monitor.ThreadID
}

func (r patchResolverView) ResolveMethod(ref *classfile.MethodRef, kind codegen.CallKind) (int64, error) {
	d := r.d
	m, err := d.classes.ResolveMethod(ref, kind)
	if err != nil {
		return 0, err
	}
	return d.Compile(m, r.thread)
}

// Code is the compiler's own record of one compiled method or native
// stub, installed on classfile.Method.compiled and shared with
// internal/patch (Code interface) and internal/unwind (Code interface).
type Code struct {
	method       *classfile.Method
	isa          codegen.ISA
	code         []byte
	base         int64
	artifact     *codegen.Artifact
	excRanges    []unwind.ExceptionRange
	synchronized bool
}

// EntryPoint is the address execution should transfer to in order to run
// this method.
func (c *Code) EntryPoint() int64 { return c.base }

// Method returns the compiled classfile.Method, for diagnostics and
// unwind.Code.
func (c *Code) Method() *classfile.Method { return c.method }

// CodeBytes and ISA implement patch.Code.
func (c *Code) CodeBytes() []byte { return c.code }
func (c *Code) ISA() codegen.ISA  { return c.isa }

// ExceptionRanges and IsSynchronized implement unwind.Code.
func (c *Code) ExceptionRanges() []unwind.ExceptionRange { return c.excRanges }
func (c *Code) IsSynchronized() bool                     { return c.synchronized }
