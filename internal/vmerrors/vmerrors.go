// Package vmerrors defines the compiler's error taxonomy (spec.md §7):
// sentinel Go errors for compile-time failures, and a single JavaException
// type modeling every exception the compiled code itself can throw
// (NullPointerException, ArithmeticException, ...), constructed by
// internal/patch and internal/monitor at the point each condition is
// detected and dispatched by internal/unwind.
package vmerrors

import (
	"errors"
	"fmt"

	"jitvm/internal/classfile"
)

// Sentinel errors returned by internal/compiler and internal/patch. Callers
// use errors.Is, matching the teacher's own error-handling idiom.
var (
	ErrOutOfMemory  = errors.New("vmerrors: out of memory")
	ErrVerify       = errors.New("vmerrors: verify error")
	ErrNoSuchField  = errors.New("vmerrors: no such field")
	ErrNoSuchMethod = errors.New("vmerrors: no such method")
	ErrNoClassDef   = errors.New("vmerrors: no class def found")
	ErrIncompatible = errors.New("vmerrors: incompatible class change")
)

// JavaException is the runtime-thrown-exception model referenced by §4.7
// and §7: a closed type naming the Java exception class and a message,
// carried through internal/unwind's dispatch trampoline rather than as a Go
// error (it crosses the compiled-code boundary, not a Go call boundary).
type JavaException struct {
	Class   string
	Message string
	// Cause chains a Go error that detected the condition (e.g. a patcher
	// resolution failure), nil for exceptions raised purely by compiled
	// code (ArithmeticException, NullPointerException).
	Cause error
	// ClassRef carries the resolved exception class's baseval/diffval pair
	// so internal/unwind's dispatch table search can run its vtable
	// subtype check without re-resolving Class by name. nil for a
	// JavaException built before class resolution (e.g. straight from
	// FromLinkage, whose whole point is that resolution just failed).
	ClassRef *classfile.ClassRef
}

func (e *JavaException) Error() string {
	if e.Message == "" {
		return e.Class
	}
	return fmt.Sprintf("%s: %s", e.Class, e.Message)
}

func (e *JavaException) Unwrap() error { return e.Cause }

// Well-known exception class names, matching §7's error table.
const (
	ClassNullPointerException             = "java/lang/NullPointerException"
	ClassArithmeticException              = "java/lang/ArithmeticException"
	ClassArrayIndexOutOfBoundsException   = "java/lang/ArrayIndexOutOfBoundsException"
	ClassArrayStoreException              = "java/lang/ArrayStoreException"
	ClassClassCastException               = "java/lang/ClassCastException"
	ClassNegativeArraySizeException       = "java/lang/NegativeArraySizeException"
	ClassStackOverflowError               = "java/lang/StackOverflowError"
	ClassOutOfMemoryError                 = "java/lang/OutOfMemoryError"
	ClassIllegalMonitorStateException     = "java/lang/IllegalMonitorStateException"
	ClassInterruptedException             = "java/lang/InterruptedException"
	ClassNoSuchFieldError                 = "java/lang/NoSuchFieldError"
	ClassNoSuchMethodError                = "java/lang/NoSuchMethodError"
	ClassNoClassDefFoundError             = "java/lang/NoClassDefFoundError"
	ClassIncompatibleClassChangeError     = "java/lang/IncompatibleClassChangeError"
)

// New constructs a JavaException with no underlying Go cause, for
// exceptions raised purely by compiled code (e.g. the ArithmeticException
// a divide-by-zero check throws).
func New(class, message string) *JavaException {
	return &JavaException{Class: class, Message: message}
}

// NewResolved is New plus the exception class's ClassRef, for exceptions
// internal/unwind must later match against catch-type ranges (every
// exception thrown by compiled code, as opposed to a linkage failure).
func NewResolved(class, message string, ref *classfile.ClassRef) *JavaException {
	return &JavaException{Class: class, Message: message, ClassRef: ref}
}

// FromLinkage maps a patcher resolution failure to its Java exception
// class per §7's LinkageError row.
func FromLinkage(err error) *JavaException {
	switch {
	case errors.Is(err, ErrNoSuchField):
		return &JavaException{Class: ClassNoSuchFieldError, Message: err.Error(), Cause: err}
	case errors.Is(err, ErrNoSuchMethod):
		return &JavaException{Class: ClassNoSuchMethodError, Message: err.Error(), Cause: err}
	case errors.Is(err, ErrNoClassDef):
		return &JavaException{Class: ClassNoClassDefFoundError, Message: err.Error(), Cause: err}
	case errors.Is(err, ErrIncompatible):
		return &JavaException{Class: ClassIncompatibleClassChangeError, Message: err.Error(), Cause: err}
	default:
		return &JavaException{Class: ClassNoClassDefFoundError, Message: err.Error(), Cause: err}
	}
}
