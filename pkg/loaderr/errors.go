// Package loaderr defines the error kinds raised by the module registry,
// shaped after the teacher's pkg/errors.PaseratiError: one concrete error
// type, *LoaderError, whose Kind() tells callers which category they hold
// and whose Unwrap exposes an optional wrapped cause.
package loaderr

import (
	"fmt"

	"modloader/pkg/engine"
)

// Kind identifies which of the error categories in spec.md §7 produced
// an error.
type Kind string

const (
	KindUnsupported       Kind = "Unsupported"       // import attributes present
	KindInvalidSpecifier  Kind = "InvalidSpecifier"  // could not parse/resolve
	KindNotFound          Kind = "NotFound"          // resolution exhausted all tiers
	KindCircular          Kind = "Circular"          // ESM module evaluating at sync require
	KindSyncTLA           Kind = "SyncTLA"           // required module returned a pending promise
	KindModuleErrored     Kind = "ModuleErrored"     // prior evaluation exception rethrown
	KindRejected          Kind = "Rejected"          // evaluation promise rejected, rethrown verbatim
	KindSyntheticEvalFail Kind = "SyntheticEvalFail" // EvaluateCallback returned false
	KindDuplicateModule   Kind = "DuplicateModule"   // build-time double-add
)

// LoaderError is the concrete error type raised throughout pkg/modules.
type LoaderError struct {
	K       Kind
	Msg     string
	Cause   error
	IsType  bool // true if this should surface as a TypeError to the engine

	// exception carries the engine's own exception or rejection value
	// when this error wraps one that a host must rethrow into the engine
	// verbatim (spec.md §4.5.4, §7) rather than as a Go error string.
	exception engine.Value
}

func (e *LoaderError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.K, e.Msg, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.K, e.Msg)
}

func (e *LoaderError) Unwrap() error { return e.Cause }

// Kind reports which category of error this is.
func (e *LoaderError) Kind() Kind { return e.K }

// AsTypeError reports whether the engine should surface this as a
// TypeError rather than a plain Error (spec.md §7).
func (e *LoaderError) AsTypeError() bool { return e.IsType }

// Exception returns the engine value this error wraps for verbatim
// rethrow, if any. Only ModuleErrored and Rejected errors carry one.
func (e *LoaderError) Exception() engine.Value { return e.exception }

func newErr(k Kind, isType bool, format string, args ...any) *LoaderError {
	return &LoaderError{K: k, Msg: fmt.Sprintf(format, args...), IsType: isType}
}

func Unsupported(format string, args ...any) *LoaderError {
	return newErr(KindUnsupported, true, format, args...)
}

func InvalidSpecifier(format string, args ...any) *LoaderError {
	return newErr(KindInvalidSpecifier, true, format, args...)
}

func NotFound(format string, args ...any) *LoaderError {
	return newErr(KindNotFound, false, format, args...)
}

func Circular(format string, args ...any) *LoaderError {
	return newErr(KindCircular, false, format, args...)
}

func SyncTLA(format string, args ...any) *LoaderError {
	return newErr(KindSyncTLA, false, format, args...)
}

func SyntheticEvalFailed(format string, args ...any) *LoaderError {
	return newErr(KindSyntheticEvalFail, false, format, args...)
}

func DuplicateModule(format string, args ...any) *LoaderError {
	return newErr(KindDuplicateModule, false, format, args...)
}

// ModuleErrored rethrows a module's previously scheduled exception
// (spec.md §4.5.4: "rethrows the module's exception verbatim"). exception
// is the engine's own exception value, preserved so a host can throw it
// back into the engine instead of a synthesized Go message.
func ModuleErrored(exception engine.Value, format string, args ...any) *LoaderError {
	e := newErr(KindModuleErrored, false, format, args...)
	e.exception = exception
	return e
}

// Rejected rethrows a settled promise's rejection result verbatim
// (spec.md §4.5.4, §7). result is the engine's own rejection value.
func Rejected(result engine.Value, format string, args ...any) *LoaderError {
	e := newErr(KindRejected, false, format, args...)
	e.exception = result
	return e
}

// Wrap attaches cause to err, preserving Kind and IsType.
func (e *LoaderError) Wrap(cause error) *LoaderError {
	cp := *e
	cp.Cause = cause
	return &cp
}
