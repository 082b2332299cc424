package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
)

// Phase indicates where in processing the error occurred
type Phase string

const (
	PhaseLoad      Phase = "load"      // module discovery, compile, instantiate
	PhaseMarshal   Phase = "marshal"   // host <-> guest memory transfer
	PhaseGuest     Phase = "guest"     // guest export invocation
	PhaseABI       Phase = "abi"       // C ABI argument validation
	PhaseLifecycle Phase = "lifecycle" // instance state transitions
	PhaseConfig    Phase = "config"    // configuration loading
	PhaseLayout    Phase = "layout"    // UI layout (de)serialization
)

// Kind categorizes the error
type Kind string

const (
	KindNullObject         Kind = "null_object"
	KindOutOfBounds        Kind = "out_of_bounds"
	KindInvalidUTF8        Kind = "invalid_utf8"
	KindNoFunctionSelected Kind = "no_function_selected"
	KindInvalidData        Kind = "invalid_data"
	KindMissingExport      Kind = "missing_export"
	KindInstantiation      Kind = "instantiation"
	KindGuestStatus        Kind = "guest_status"
	KindAllocation         Kind = "allocation"
	KindOverflow           Kind = "overflow"
	KindMemoryAccess       Kind = "memory_access"
	KindTrap               Kind = "trap"
	KindInvalidState       Kind = "invalid_state"
	KindUnsupported        Kind = "unsupported"
	KindInvalidInput       Kind = "invalid_input"
	KindUnknownOption      Kind = "unknown_option"
)

// Error is the structured error type used throughout the runtime
type Error struct {
	Cause  error
	Phase  Phase
	Kind   Kind
	Plugin string
	Export string
	Detail string
	Status int32
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if e.Plugin != "" {
		b.WriteString(" in ")
		b.WriteString(e.Plugin)
	}
	if e.Export != "" {
		b.WriteString(" calling ")
		b.WriteString(e.Export)
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

// Plugin sets the plugin name
func (b *Builder) Plugin(name string) *Builder {
	b.err.Plugin = name
	return b
}

// Export sets the guest export name
func (b *Builder) Export(name string) *Builder {
	b.err.Export = name
	return b
}

// Status sets the guest status code
func (b *Builder) Status(code int32) *Builder {
	b.err.Status = code
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

// NullObject creates an error for a nil handle or pointer argument
func NullObject(what string) *Error {
	return &Error{
		Phase:  PhaseABI,
		Kind:   KindNullObject,
		Detail: fmt.Sprintf("%s is null", what),
	}
}

// OutOfBounds creates an out of bounds error
func OutOfBounds(phase Phase, what string, index, length int) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindOutOfBounds,
		Detail: fmt.Sprintf("%s index %d out of bounds (length %d)", what, index, length),
	}
}

// InvalidUTF8 creates an invalid UTF-8 error
func InvalidUTF8(phase Phase, what string, data []byte) *Error {
	preview := data
	if len(preview) > 32 {
		preview = preview[:32]
	}
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidUTF8,
		Detail: fmt.Sprintf("%s: invalid UTF-8 sequence: %x", what, preview),
	}
}

// NoFunctionSelected is returned by routed controller operations before SetFunction
func NoFunctionSelected() *Error {
	return &Error{
		Phase:  PhaseABI,
		Kind:   KindNoFunctionSelected,
		Detail: "no function is selected",
	}
}

// MissingExport creates a missing export error
func MissingExport(plugin, export string) *Error {
	return &Error{
		Phase:  PhaseLoad,
		Kind:   KindMissingExport,
		Plugin: plugin,
		Export: export,
		Detail: "required export not found",
	}
}

// Signature creates an error for an export whose parameters or results do
// not match the plugin ABI
func Signature(plugin, export, got, want string) *Error {
	return &Error{
		Phase:  PhaseLoad,
		Kind:   KindInvalidData,
		Plugin: plugin,
		Export: export,
		Detail: fmt.Sprintf("export has signature %s, want %s", got, want),
	}
}

// Unsupported creates an error for an optional capability the guest does not export
func Unsupported(plugin, export string) *Error {
	return &Error{
		Phase:  PhaseGuest,
		Kind:   KindUnsupported,
		Plugin: plugin,
		Export: export,
		Detail: "operation not supported by plugin",
	}
}

// GuestStatus creates an error for a negative status reported by a guest
func GuestStatus(plugin, export string, status int32) *Error {
	return &Error{
		Phase:  PhaseGuest,
		Kind:   KindGuestStatus,
		Plugin: plugin,
		Export: export,
		Status: status,
		Detail: fmt.Sprintf("guest reported status %d", status),
	}
}

// Trap wraps a failed guest invocation
func Trap(plugin, export string, cause error) *Error {
	return &Error{
		Phase:  PhaseGuest,
		Kind:   KindTrap,
		Plugin: plugin,
		Export: export,
		Cause:  cause,
	}
}

// AllocationFailed creates an allocation failure error
func AllocationFailed(plugin string, size uint32) *Error {
	return &Error{
		Phase:  PhaseMarshal,
		Kind:   KindAllocation,
		Plugin: plugin,
		Detail: fmt.Sprintf("guest allocator returned null for %d bytes", size),
	}
}

// Overflow creates an overflow error
func Overflow(phase Phase, value any, target string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindOverflow,
		Detail: fmt.Sprintf("value %v overflows %s", value, target),
	}
}

// MemoryAccess creates an out-of-range linear memory access error
func MemoryAccess(plugin string, offset, length uint32) *Error {
	return &Error{
		Phase:  PhaseMarshal,
		Kind:   KindMemoryAccess,
		Plugin: plugin,
		Detail: fmt.Sprintf("linear memory access out of range: offset=%d, length=%d", offset, length),
	}
}

// InvalidState creates a lifecycle violation error
func InvalidState(plugin, op string, state fmt.Stringer) *Error {
	return &Error{
		Phase:  PhaseLifecycle,
		Kind:   KindInvalidState,
		Plugin: plugin,
		Detail: fmt.Sprintf("%s is not allowed in state %s", op, state),
	}
}

// UnknownOption creates an error for an enum value outside its defined range
func UnknownOption(what string, value int) *Error {
	return &Error{
		Phase:  PhaseABI,
		Kind:   KindUnknownOption,
		Detail: fmt.Sprintf("unknown %s %d", what, value),
	}
}

// InvalidInput creates an invalid input error
func InvalidInput(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidInput,
		Detail: detail,
	}
}

// Load creates a module loading error
func Load(plugin, detail string, cause error) *Error {
	return &Error{
		Phase:  PhaseLoad,
		Kind:   KindInvalidData,
		Plugin: plugin,
		Detail: detail,
		Cause:  cause,
	}
}

// Instantiation creates an instantiation error
func Instantiation(plugin string, cause error) *Error {
	return &Error{
		Phase:  PhaseLoad,
		Kind:   KindInstantiation,
		Plugin: plugin,
		Detail: "instantiate module",
		Cause:  cause,
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

// As finds the first *Error in err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	if stderrors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// HasKind reports whether any *Error in err's chain has the given kind.
func HasKind(err error, kind Kind) bool {
	for err != nil {
		if e, ok := err.(*Error); ok && e.Kind == kind {
			return true
		}
		err = stderrors.Unwrap(err)
	}
	return false
}

// Host-visible status codes, mirrored from the root package to avoid an import cycle.
const (
	statusErrorReferReason   = -3
	statusErrorUnknownOption = -2
	statusErrorNullObject    = -1
	statusSuccess            = 0
)

// StatusOf translates err into the status reported to the host application.
// Guest statuses pass through unchanged so the host can ask the guest for its
// failure reason; every host-side failure maps to ERROR_REFER_REASON.
func StatusOf(err error) int32 {
	if err == nil {
		return statusSuccess
	}
	e, ok := As(err)
	if !ok {
		return statusErrorReferReason
	}
	switch e.Kind {
	case KindGuestStatus:
		return e.Status
	case KindNullObject:
		return statusErrorNullObject
	case KindUnknownOption:
		return statusErrorUnknownOption
	default:
		return statusErrorReferReason
	}
}

// IsGuestReported reports whether err carries a status the guest itself returned.
func IsGuestReported(err error) bool {
	e, ok := As(err)
	return ok && e.Kind == KindGuestStatus
}
