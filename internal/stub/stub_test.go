package stub

import (
	"testing"

	"jitvm/internal/classfile"
	"jitvm/internal/codegen"
	"jitvm/internal/codegen/amd64"
)

type fakeLinker struct{ helper int64 }

func (f *fakeLinker) ResolveMethod(*classfile.MethodRef, codegen.CallKind) (int64, bool, int64) {
	return 0, false, 0
}
func (f *fakeLinker) RuntimeHelper(codegen.RuntimeHelper) int64 { return f.helper }

func TestCompilerStubProducesNonEmptyCode(t *testing.T) {
	f := New(amd64.New())
	artifact, err := f.CompilerStub(&fakeLinker{helper: 0x1000})
	if err != nil {
		t.Fatalf("CompilerStub: %v", err)
	}
	if len(artifact.Code) == 0 {
		t.Fatal("expected non-empty machine code")
	}
}

func TestNativeCallStubProducesNonEmptyCode(t *testing.T) {
	f := New(amd64.New())
	m := &classfile.Method{Name: "nativeMethod", Access: classfile.AccNative}
	artifact, err := f.NativeCallStub(m, 0xdeadbeef, 0xcafebabe)
	if err != nil {
		t.Fatalf("NativeCallStub: %v", err)
	}
	if len(artifact.Code) == 0 {
		t.Fatal("expected non-empty machine code")
	}
}
