// Package stub builds the small, fixed-shape machine-code trampolines
// spec.md §4.1/§4.5/§6 assign to the compiler driver rather than to any
// one Java method's bytecode: the shared compiler stub every unresolved
// call site initially targets, and the one-per-native-method JNI call
// stub §6 describes.
//
// Grounded on internal/engine/compiler/compiler.go's compileHostFunction
// ("emits the trampoline code from which native code can jump into the
// host function") and engine.go's compileGoDefinedHostFunction: the
// teacher already builds exactly this shape of thing — a tiny method-less
// sequence assembled with the same per-ISA compiler used for ordinary
// functions — to cross from compiled wasm into a Go closure. This package
// generalizes that from "jump into Go" to "jump into the §4.6 patcher" and
// "jump into a JNI native function".
package stub

import (
	"fmt"

	"jitvm/internal/classfile"
	"jitvm/internal/codegen"
)

// Factory builds trampolines for one target ISA.
type Factory struct {
	isa codegen.ISA
}

// New returns a Factory for isa.
func New(isa codegen.ISA) *Factory {
	return &Factory{isa: isa}
}

// CompilerStub builds the single, shared trampoline every still-unresolved
// call site's patch slot initially targets — codegen.Linker.ResolveMethod's
// stubAddr return value always names this one artifact's entry point,
// never a per-call-site copy. Per §6's patch trap protocol, entering it
// finds the patch reference pointer, the faulting PC, and the current
// method's data-segment pointer already in the calling convention's
// reserved carrier registers; its only job is to call into the fixed
// HelperResolveInvoke runtime routine, which does the actual §4.6
// resolve-and-rewrite and resumes execution at the newly patched address
// directly — control never falls back out of HelperResolveInvoke into
// this stub's own body.
func (f *Factory) CompilerStub(link codegen.Linker) (*codegen.Artifact, error) {
	as, err := f.isa.NewAssembler()
	if err != nil {
		return nil, fmt.Errorf("stub: new assembler for compiler stub: %w", err)
	}
	scratch := f.isa.ScratchInt()[0]
	f.isa.LoadAbsolute(as, link.RuntimeHelper(codegen.HelperResolveInvoke), scratch)
	f.isa.Call(as, scratch)

	code, err := as.Assemble()
	if err != nil {
		return nil, fmt.Errorf("stub: assemble compiler stub: %w", err)
	}
	return &codegen.Artifact{Code: code}, nil
}

// NativeCallStub builds the one-per-native-method trampoline. One is
// allocated from the code heap per native classfile.Method, in place of
// internal/codegen.Emit for methods !Method.IsCompilable().
//
// The stub is a prologue with no frame of its own, a LoadAbsolute of
// jniEnv into the first int scratch register and of nativeFunc into the
// second, a call through the second, and the epilogue. It does not move
// Java arguments to C-ABI positions, does not place the env pointer in an
// argument register, and emits nothing after the call: no return-value
// transfer and no check or installation of a thrown exception.
func (f *Factory) NativeCallStub(m *classfile.Method, nativeFunc, jniEnv int64) (*codegen.Artifact, error) {
	as, err := f.isa.NewAssembler()
	if err != nil {
		return nil, fmt.Errorf("stub: new assembler for native stub %s: %w", m.Name, err)
	}

	const frameSize = 0 // no locals, no spills of its own
	f.isa.Prologue(as, frameSize)

	envReg := f.isa.ScratchInt()[0]
	f.isa.LoadAbsolute(as, jniEnv, envReg)
	fnReg := f.isa.ScratchInt()[1]
	f.isa.LoadAbsolute(as, nativeFunc, fnReg)
	f.isa.Call(as, fnReg)

	f.isa.Epilogue(as, frameSize)

	code, err := as.Assemble()
	if err != nil {
		return nil, fmt.Errorf("stub: assemble native stub %s: %w", m.Name, err)
	}
	return &codegen.Artifact{Code: code, FrameSize: frameSize}, nil
}
