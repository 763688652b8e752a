// Package classfile defines the shapes the JIT compiler consumes from its
// external collaborators: the class loader, the verifier and the constant
// pool. None of these are implemented here — they are produced upstream by
// the loader and handed to the compiler already verified. The types in this
// package are the boundary the compiler is written against.
package classfile

// Kind is the primitive JVM type of a stack slot, local variable, field or
// return value.
type Kind byte

const (
	KindVoid Kind = iota
	KindInt
	KindLong
	KindFloat
	KindDouble
	KindAddress // object reference, array reference, or return-address (jsr)
)

func (k Kind) String() string {
	switch k {
	case KindVoid:
		return "void"
	case KindInt:
		return "int"
	case KindLong:
		return "long"
	case KindFloat:
		return "float"
	case KindDouble:
		return "double"
	case KindAddress:
		return "address"
	default:
		return "kind(?)"
	}
}

// Size64 reports whether a value of this kind occupies two 32-bit words on
// a 32-bit target (long and double only).
func (k Kind) Size64() bool {
	return k == KindLong || k == KindDouble
}

// Descriptor is the parsed method signature: the type of each parameter, in
// order, and the return type.
type Descriptor struct {
	ParamKinds []Kind
	ReturnKind Kind
}

// SlotCount is the number of 32-bit argument slots the descriptor occupies,
// matching the JVM's local-variable-array accounting (category-2 types use
// two slots).
func (d *Descriptor) SlotCount() int {
	n := 0
	for _, k := range d.ParamKinds {
		if k.Size64() {
			n += 2
		} else {
			n++
		}
	}
	return n
}

// ClassRef is an unresolved or resolved reference to a class, as it would
// appear in a constant pool CONSTANT_Class entry.
type ClassRef struct {
	Name     string
	Resolved bool
	// VTableBase and VTableDiff implement the baseval/diffval O(1) subtype
	// check described in the GLOSSARY; populated once Resolved is true.
	VTableBase int32
	VTableDiff int32
}

// FieldRef is an unresolved or resolved reference to an instance or static
// field.
type FieldRef struct {
	Class    ClassRef
	Name     string
	Kind     Kind
	Static   bool
	Resolved bool
	// Offset is the byte offset from the object header (instance fields) or
	// from the class's static-data segment (static fields), valid only once
	// Resolved is true.
	Offset int32
}

// MethodRef is an unresolved or resolved reference to a method, used by
// invokestatic/invokespecial/invokevirtual/invokeinterface.
type MethodRef struct {
	Class      ClassRef
	Name       string
	Descriptor Descriptor
	Resolved   bool
	// VTableIndex is the virtual dispatch slot (invokevirtual) or interface
	// table method offset (invokeinterface).
	VTableIndex int32
}

// ExceptionTableEntry mirrors spec.md §3's exception-table entry: a PC
// range, a handler entry point, and a catch type (nil means "catches
// everything", i.e. a finally block or bare catch-all).
type ExceptionTableEntry struct {
	StartPC    int
	EndPC      int
	HandlerPC  int
	CatchType  *ClassRef // nil => catches any Throwable
}

// ConstantKind tags the variant stored in a ConstantPoolEntry.
type ConstantKind byte

const (
	ConstInt ConstantKind = iota
	ConstLong
	ConstFloat
	ConstDouble
	ConstString
	ConstClass
	ConstField
	ConstMethod
	ConstInterfaceMethod
)

// ConstantPoolEntry is a single constant-pool slot as the compiler sees it:
// already decoded by the (out-of-scope) class-file parser into a typed
// union, but not necessarily resolved — resolution of symbolic references
// happens lazily in the patcher (spec.md §4.6).
type ConstantPoolEntry struct {
	Kind     ConstantKind
	IntVal   int32
	LongVal  int64
	FloatVal float32
	DoubleVal float64
	StrVal   string
	Class    *ClassRef
	Field    *FieldRef
	Method   *MethodRef
}

// ConstantPool is the per-class table of resolved/unresolved constants that
// bytecode indexes into.
type ConstantPool struct {
	Entries []ConstantPoolEntry
}

func (p *ConstantPool) At(index int) *ConstantPoolEntry {
	return &p.Entries[index]
}

// AccessFlags mirrors the subset of JVM method access flags the compiler
// cares about.
type AccessFlags uint16

const (
	AccStatic AccessFlags = 1 << iota
	AccSynchronized
	AccNative
	AccAbstract
	AccFinal
)

func (f AccessFlags) IsStatic() bool       { return f&AccStatic != 0 }
func (f AccessFlags) IsSynchronized() bool { return f&AccSynchronized != 0 }
func (f AccessFlags) IsNative() bool       { return f&AccNative != 0 }
func (f AccessFlags) IsAbstract() bool     { return f&AccAbstract != 0 }

// Class is the minimal view of a loaded class the compiler needs: identity
// for cache keys and a back-reference used by static-method invocations
// (the "class object" monitor target for `synchronized static` methods).
type Class struct {
	Name string
	// ID uniquely identifies this class for the lifetime of the process;
	// the class loader guarantees it is stable and that unloading a class
	// invalidates every Method that points to it.
	ID uint64
}

// Method is the loader-produced unit of compilation: spec.md §3's `method`
// record. JCode/JCodeLength name the raw bytecode bytes, matching the
// field names used by the original JVM this spec traces to (`jcode`,
// `jcodelength`), to keep the JIT's vocabulary aligned with the data it
// consumes.
type Method struct {
	Owner       *Class
	Name        string
	Descriptor  Descriptor
	Access      AccessFlags
	JCode       []byte
	JCodeLength int
	MaxStack    int
	MaxLocals   int
	ExceptionTable []ExceptionTableEntry
	ConstantPool   *ConstantPool

	// compiled is installed by the compiler driver once compilation
	// succeeds; it is nil for methods never compiled, and reset to nil if
	// the owning class is unloaded. The field lives here (rather than in a
	// side map) because method <-> code is a 1:1 cyclic ownership the
	// driver must be able to invalidate in O(1) on unload.
	compiled interface{}
}

// SetCompiled and Compiled store/retrieve the opaque compiled artifact
// (an *compiler.Code, but this package must not import the compiler to
// avoid a cycle) installed by the driver.
func (m *Method) SetCompiled(v interface{}) { m.compiled = v }
func (m *Method) Compiled() interface{}     { return m.compiled }

// IsCompilable reports whether the driver should run the JIT pipeline
// (false for abstract/native methods, which get a stub instead, per §4.1).
func (m *Method) IsCompilable() bool {
	return !m.Access.IsAbstract() && len(m.JCode) > 0
}
