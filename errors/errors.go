package errors

import (
	"fmt"
	"strings"
)

// Phase indicates which pipeline stage produced the error
type Phase string

const (
	PhaseConfig      Phase = "config"      // configuration loading
	PhaseClean       Phase = "clean"       // stale output removal
	PhaseCompile     Phase = "compile"     // source to binary module
	PhaseDisassemble Phase = "disassemble" // binary to text
	PhasePatch       Phase = "patch"       // text module rewriting
	PhaseAssemble    Phase = "assemble"    // text to binary
	PhaseVerify      Phase = "verify"      // reassembled module checks
	PhaseOptimize    Phase = "optimize"    // binary optimizer
	PhaseFingerprint Phase = "fingerprint" // asset renaming
	PhaseBundle      Phase = "bundle"      // distribution directory
	PhaseServe       Phase = "serve"       // preview server
)

// Kind categorizes the error
type Kind string

const (
	KindToolFailed    Kind = "tool_failed"
	KindToolMissing   Kind = "tool_missing"
	KindNotFound      Kind = "not_found"
	KindIO            Kind = "io"
	KindMalformedText Kind = "malformed_text"
	KindInvalidData   Kind = "invalid_data"
	KindInvalidInput  Kind = "invalid_input"
	KindVerification  Kind = "verification"
	KindUnsupported   Kind = "unsupported"
)

// Error is the structured error type used throughout the pipeline
type Error struct {
	Cause    error
	Phase    Phase
	Kind     Kind
	Tool     string
	Path     string
	Function string
	Span     string
	Detail   string
	ExitCode int
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if e.Tool != "" {
		b.WriteString(" in ")
		b.WriteString(e.Tool)
		if e.ExitCode != 0 {
			fmt.Fprintf(&b, " (exit %d)", e.ExitCode)
		}
	}

	if e.Path != "" {
		b.WriteString(" at ")
		b.WriteString(e.Path)
	}

	if e.Function != "" {
		b.WriteString(": function $")
		b.WriteString(e.Function)
		if e.Span != "" {
			b.WriteString(" (")
			b.WriteString(e.Span)
			b.WriteByte(')')
		}
	}

	if e.Detail != "" {
		if e.Function != "" {
			b.WriteString(" - ")
		} else {
			b.WriteString(": ")
		}
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

// Tool sets the external tool name
func (b *Builder) Tool(name string) *Builder {
	b.err.Tool = name
	return b
}

// ExitCode sets the external tool's exit status
func (b *Builder) ExitCode(code int) *Builder {
	b.err.ExitCode = code
	return b
}

// Path sets the offending file path
func (b *Builder) Path(path string) *Builder {
	b.err.Path = path
	return b
}

// Function sets the text module function the error refers to
func (b *Builder) Function(name string) *Builder {
	b.err.Function = name
	return b
}

// Span sets the human-readable location of the function text
func (b *Builder) Span(span string) *Builder {
	b.err.Span = span
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

// ToolFailed creates an error for an external tool that exited unsuccessfully.
// Output is the tool's diagnostic text, trimmed to its last lines.
func ToolFailed(phase Phase, tool string, exitCode int, output string, cause error) *Error {
	return &Error{
		Phase:    phase,
		Kind:     KindToolFailed,
		Tool:     tool,
		ExitCode: exitCode,
		Detail:   tail(output, 20),
		Cause:    cause,
	}
}

// ToolMissing creates an error for a tool binary that could not be found
func ToolMissing(phase Phase, tool string, cause error) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindToolMissing,
		Tool:   tool,
		Detail: "executable not found",
		Cause:  cause,
	}
}

// FileError creates a file system error carrying the offending path
func FileError(phase Phase, path string, cause error) *Error {
	return &Error{
		Phase: phase,
		Kind:  KindIO,
		Path:  path,
		Cause: cause,
	}
}

// NotFound creates an error for a required input that does not exist
func NotFound(phase Phase, path string, what string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotFound,
		Path:   path,
		Detail: fmt.Sprintf("%s not found", what),
	}
}

// MalformedText creates an error for text that cannot be parsed or assembled
func MalformedText(phase Phase, function, span string, cause error) *Error {
	return &Error{
		Phase:    phase,
		Kind:     KindMalformedText,
		Function: function,
		Span:     span,
		Cause:    cause,
	}
}

// InvalidInput creates an error for caller-supplied values that break an invariant
func InvalidInput(phase Phase, detail string, args ...any) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidInput,
		Detail: fmt.Sprintf(detail, args...),
	}
}

// VerificationFailed creates an error for a reassembled module that does not
// contain what the patcher produced
func VerificationFailed(function string, detail string, cause error) *Error {
	return &Error{
		Phase:    PhaseVerify,
		Kind:     KindVerification,
		Function: function,
		Detail:   detail,
		Cause:    cause,
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

// tail keeps the last n non-empty lines of tool output.
func tail(output string, n int) string {
	lines := strings.Split(strings.TrimSpace(output), "\n")
	if len(lines) > n {
		lines = append([]string{"..."}, lines[len(lines)-n:]...)
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
