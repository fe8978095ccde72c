// Package errors defines the structured error type shared by every vertigo
// package.
//
// Errors in the bind and marshal phases are binding errors: they are raised
// synchronously from the call that caused them and are never delivered to an
// asynchronous callback. Errors in every other phase are operation or stream
// failures and travel through futures and exception handlers.
package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
)

// Phase indicates where in processing the error occurred
type Phase string

const (
	PhaseBind      Phase = "bind"      // overload resolution
	PhaseMarshal   Phase = "marshal"   // value conversion at the boundary
	PhaseOperation Phase = "operation" // asynchronous host operation
	PhaseStream    Phase = "stream"    // stream transport
	PhaseConfig    Phase = "config"    // configuration loading
	PhaseDeploy    Phase = "deploy"    // verticle deployment
	PhaseProtocol  Phase = "protocol"  // wire protocol framing
)

// Kind categorizes the error
type Kind string

const (
	KindInvalidArguments Kind = "invalid_arguments"
	KindInvalidEnum      Kind = "invalid_enum"
	KindTypeMismatch     Kind = "type_mismatch"
	KindUnsupported      Kind = "unsupported"
	KindOutOfBounds      Kind = "out_of_bounds"
	KindNotFound         Kind = "not_found"
	KindClosed           Kind = "closed"
	KindTimeout          Kind = "timeout"
	KindOperationFailed  Kind = "operation_failed"
	KindPermissionDenied Kind = "permission_denied"
	KindLimitExceeded    Kind = "limit_exceeded"
	KindInvalidState     Kind = "invalid_state"
	KindInvalidData      Kind = "invalid_data"
)

// Error is the structured error type used throughout vertigo
type Error struct {
	Value  any
	Cause  error
	Phase  Phase
	Kind   Kind
	Target string
	Method string
	Detail string
	Path   []string
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	switch {
	case e.Target != "" && e.Method != "":
		b.WriteString(" at ")
		b.WriteString(e.Target)
		b.WriteByte('.')
		b.WriteString(e.Method)
	case e.Method != "":
		b.WriteString(" at ")
		b.WriteString(e.Method)
	case len(e.Path) > 0:
		b.WriteString(" at ")
		b.WriteString(strings.Join(e.Path, "."))
	}

	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Message returns the detail without the phase and kind prefix, falling back
// to the cause and then the kind.
func (e *Error) Message() string {
	switch {
	case e.Detail != "" && e.Cause != nil:
		return e.Detail + ": " + e.Cause.Error()
	case e.Detail != "":
		return e.Detail
	case e.Cause != nil:
		return e.Cause.Error()
	}
	return string(e.Kind)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Phase == t.Phase && e.Kind == t.Kind
	}
	return false
}

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New creates a new error builder
func New(phase Phase, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Phase: phase,
			Kind:  kind,
		},
	}
}

// At sets the class and method the error was raised from
func (b *Builder) At(target, method string) *Builder {
	b.err.Target = target
	b.err.Method = method
	return b
}

// Path sets the field path
func (b *Builder) Path(path ...string) *Builder {
	b.err.Path = path
	return b
}

// Value sets the offending value
func (b *Builder) Value(v any) *Builder {
	b.err.Value = v
	return b
}

// Cause sets the underlying error
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail sets the human-readable detail message
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error
func (b *Builder) Build() *Error {
	return &b.err
}

// Convenience constructors for common error patterns

// InvalidArguments is raised when no overload accepts the supplied arguments.
// types holds the caller-visible type name of each argument.
func InvalidArguments(target, method string, types []string) *Error {
	return &Error{
		Phase:  PhaseBind,
		Kind:   KindInvalidArguments,
		Target: target,
		Method: method,
		Detail: "invalid arguments (" + strings.Join(types, ", ") + ")",
		Value:  types,
	}
}

// UnknownMethod is raised when a class has no method of the given name
func UnknownMethod(target, method string) *Error {
	return &Error{
		Phase:  PhaseBind,
		Kind:   KindNotFound,
		Target: target,
		Method: method,
		Detail: "no such method",
	}
}

// InvalidEnum creates an invalid enum value error
func InvalidEnum(value any, enumType string) *Error {
	return &Error{
		Phase:  PhaseMarshal,
		Kind:   KindInvalidEnum,
		Path:   []string{enumType},
		Detail: fmt.Sprintf("invalid enum value %v for %s", value, enumType),
		Value:  value,
	}
}

// TypeMismatch creates a type mismatch error
func TypeMismatch(phase Phase, path []string, want, got string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindTypeMismatch,
		Path:   path,
		Detail: fmt.Sprintf("expected %s, got %s", want, got),
	}
}

// OutOfBounds creates an out of bounds error
func OutOfBounds(phase Phase, path []string, index, length int) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindOutOfBounds,
		Path:   path,
		Detail: fmt.Sprintf("index %d out of bounds (length %d)", index, length),
		Value:  index,
	}
}

// Unsupported creates an unsupported operation error
func Unsupported(phase Phase, what string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindUnsupported,
		Detail: what,
	}
}

// NotFound creates a not found error
func NotFound(phase Phase, what string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotFound,
		Detail: what + " not found",
	}
}

// Closed reports use of a resource after it was closed
func Closed(phase Phase, what string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindClosed,
		Detail: what + " is closed",
	}
}

// Timeout creates a timeout error
func Timeout(phase Phase, detail string, args ...any) *Error {
	if len(args) > 0 {
		detail = fmt.Sprintf(detail, args...)
	}
	return &Error{
		Phase:  phase,
		Kind:   KindTimeout,
		Detail: detail,
	}
}

// PermissionDenied creates a permission error
func PermissionDenied(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindPermissionDenied,
		Detail: "permission denied: " + detail,
	}
}

// LimitExceeded creates a limit error
func LimitExceeded(phase Phase, what string, limit int64) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindLimitExceeded,
		Detail: fmt.Sprintf("%s exceeds limit of %d", what, limit),
		Value:  limit,
	}
}

// InvalidState creates an invalid state error
func InvalidState(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidState,
		Detail: detail,
	}
}

// InvalidData creates an invalid data error
func InvalidData(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidData,
		Detail: detail,
	}
}

// Wrap wraps an existing error with additional context
func Wrap(phase Phase, kind Kind, cause error, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   kind,
		Detail: detail,
		Cause:  cause,
	}
}

// Failed wraps a host error as an operation failure. Errors that are already
// structured are returned unchanged.
func Failed(cause error, detail string) error {
	if cause == nil {
		return nil
	}
	var e *Error
	if stderrors.As(cause, &e) {
		return cause
	}
	return Wrap(PhaseOperation, KindOperationFailed, cause, detail)
}

// IsBinding reports whether err is a synchronous binding error
func IsBinding(err error) bool {
	var e *Error
	if !stderrors.As(err, &e) {
		return false
	}
	return e.Phase == PhaseBind || e.Phase == PhaseMarshal
}

// IsKind reports whether err is a structured error of the given kind
func IsKind(err error, kind Kind) bool {
	var e *Error
	if !stderrors.As(err, &e) {
		return false
	}
	return e.Kind == kind
}

// As is errors.As from the standard library, re-exported so callers importing
// this package do not need both.
func As(err error, target any) bool {
	return stderrors.As(err, target)
}

// Is is errors.Is from the standard library.
func Is(err, target error) bool {
	return stderrors.Is(err, target)
}
