// Package errs implements the error taxonomy of spec §7 as typed, wrapped
// Go errors instead of the string-keyed error codes the source platforms
// each used their own flavor of.
package errs

import (
	"errors"
	"fmt"
)

// Kind identifies which branch of the spec §7 taxonomy an error belongs to.
type Kind int

const (
	_ Kind = iota
	InvalidArguments
	InvalidRange
	UnsupportedFormat
	IoError
	CodecError
	PipelineStalled
	Timeout
	Cancelled
	MuxerError
)

func (k Kind) String() string {
	switch k {
	case InvalidArguments:
		return "InvalidArguments"
	case InvalidRange:
		return "InvalidRange"
	case UnsupportedFormat:
		return "UnsupportedFormat"
	case IoError:
		return "IoError"
	case CodecError:
		return "CodecError"
	case PipelineStalled:
		return "PipelineStalled"
	case Timeout:
		return "Timeout"
	case Cancelled:
		return "Cancelled"
	case MuxerError:
		return "MuxerError"
	default:
		return "Unknown"
	}
}

// Error is the structured payload spec §7 requires: {kind, message,
// context}, where context carries offending paths, byte offsets, and the
// last processed timestamp when known.
type Error struct {
	Kind    Kind
	Message string
	Context map[string]string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an *Error with no context.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds an *Error carrying cause, preserving errors.Is/As chains.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// WithContext returns a copy of e with key=value added to its context.
func (e *Error) WithContext(key, value string) *Error {
	cp := *e
	cp.Context = make(map[string]string, len(e.Context)+1)
	for k, v := range e.Context {
		cp.Context[k] = v
	}
	cp.Context[key] = value
	return &cp
}

// KindOf extracts the Kind of err, or 0 if err is nil or not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

// Is reports whether err (or any error it wraps) carries kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
