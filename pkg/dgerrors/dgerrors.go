// Package dgerrors implements the error taxonomy of spec.md §7 in the
// shape of the teacher's errors.go ArchiveError: a struct carrying a kind,
// message, operation, and wrapped cause, with Unwrap support so
// errors.As/errors.Is work throughout.
package dgerrors

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a FormatError per spec.md §7.
type Kind int

const (
	// Configuration indicates a malformed or invalid FormatConfig.
	Configuration Kind = iota
	// Recoverable indicates a single file failed to format but other
	// files and the plugin itself remain usable.
	Recoverable
	// Critical indicates the plugin instance (or process/module) must be
	// dropped and not reused.
	Critical
	// Cancelled indicates the operation was cancelled via its context.
	Cancelled
	// Transport indicates a wire-protocol or process/module
	// communication failure independent of any particular file.
	Transport
)

func (k Kind) String() string {
	switch k {
	case Configuration:
		return "configuration"
	case Recoverable:
		return "recoverable"
	case Critical:
		return "critical"
	case Cancelled:
		return "cancelled"
	case Transport:
		return "transport"
	default:
		return "unknown"
	}
}

// FormatError is the structured error type returned by every package that
// touches a plugin, the wire codec, or the scheduler.
type FormatError struct {
	Kind    Kind
	Message string
	Op      string // e.g. "format", "register_config", "resolve_config"
	Plugin  string // plugin name/key, if known
	Path    string // file path, if known
	Err     error
}

func (e *FormatError) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.String())
	if e.Op != "" {
		b.WriteString(" ")
		b.WriteString(e.Op)
	}
	if e.Plugin != "" {
		fmt.Fprintf(&b, " [plugin=%s]", e.Plugin)
	}
	if e.Path != "" {
		fmt.Fprintf(&b, " [path=%s]", e.Path)
	}
	b.WriteString(": ")
	b.WriteString(e.Message)
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *FormatError) Unwrap() error { return e.Err }

func New(kind Kind, op, message string) *FormatError {
	return &FormatError{Kind: kind, Op: op, Message: message}
}

func Wrap(kind Kind, op, message string, err error) *FormatError {
	return &FormatError{Kind: kind, Op: op, Message: message, Err: err}
}

func (e *FormatError) WithPlugin(name string) *FormatError {
	e.Plugin = name
	return e
}

func (e *FormatError) WithPath(path string) *FormatError {
	e.Path = path
	return e
}

// Is reports whether err is a *FormatError of the given kind.
func Is(err error, kind Kind) bool {
	var fe *FormatError
	if errors.As(err, &fe) {
		return fe.Kind == kind
	}
	return false
}

// IsCritical reports whether err (or anything it wraps) demands the
// instance that produced it be dropped rather than reused.
func IsCritical(err error) bool { return Is(err, Critical) }

// IsCancelled reports whether err represents a cooperative cancellation,
// distinct from a genuine failure.
func IsCancelled(err error) bool {
	if Is(err, Cancelled) {
		return true
	}
	return errors.Is(err, errCancelledSentinel)
}

var errCancelledSentinel = errors.New("dgerrors: cancelled")

// Diagnostic is a single configuration-validation finding returned by a
// plugin's config_diagnostics capability (spec.md §4.6/§7).
type Diagnostic struct {
	Property string
	Message  string
	Severity DiagnosticSeverity
}

type DiagnosticSeverity int

const (
	SeverityError DiagnosticSeverity = iota
	SeverityWarning
)
