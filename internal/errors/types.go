// Package errors defines the error taxonomy of the build-and-serve pipeline
// and the Diagnostic records that carry section-level failures to the
// browser.
//
// Pipeline-level errors (a malformed delimiter, an unreadable source file)
// abort a single build cycle. Section-level errors (unknown language,
// compile failure) never unwind past the orchestrator: they are converted to
// Diagnostics and attached to the artifact they degraded.
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorType represents different categories of errors.
type ErrorType string

const (
	ErrorTypeParse    ErrorType = "parse"
	ErrorTypeLanguage ErrorType = "language"
	ErrorTypeCompile  ErrorType = "compile"
	ErrorTypeWatch    ErrorType = "watch"
	ErrorTypeIO       ErrorType = "io"
	ErrorTypeConfig   ErrorType = "config"
	ErrorTypeInternal ErrorType = "internal"
)

// Common error codes.
const (
	ErrCodeMalformedDelimiter = "ERR_MALFORMED_DELIMITER"
	ErrCodeUnknownLanguage    = "ERR_UNKNOWN_LANGUAGE"
	ErrCodeCompile            = "ERR_COMPILE"
	ErrCodeWatch              = "ERR_WATCH"
	ErrCodeIO                 = "ERR_IO"
	ErrCodeConfigInvalid      = "ERR_CONFIG_INVALID"
	ErrCodeStaleSnapshot      = "ERR_STALE_SNAPSHOT"
	ErrCodeInternal           = "ERR_INTERNAL"
	ErrCodeIgnoredContent     = "WARN_IGNORED_CONTENT"
)

// SectionRef identifies the section a failure originated from.
type SectionRef struct {
	Tag     string `json:"tag"`
	Ordinal int    `json:"ordinal"`
	Line    int    `json:"line"`
}

// String renders the reference as "tag#ordinal".
func (r SectionRef) String() string {
	tag := r.Tag
	if tag == "" {
		tag = "?"
	}
	return fmt.Sprintf("%s#%d", tag, r.Ordinal)
}

// BreachError is a structured error type with context.
type BreachError struct {
	Type        ErrorType
	Code        string
	Message     string
	Cause       error
	Section     *SectionRef
	Line        int
	Column      int
	Recoverable bool
}

// Error implements the error interface.
func (e *BreachError) Error() string {
	var parts []string

	if e.Code != "" {
		parts = append(parts, fmt.Sprintf("[%s]", e.Code))
	}

	if e.Section != nil {
		parts = append(parts, "section:"+e.Section.String())
	}

	if e.Line > 0 {
		location := fmt.Sprintf("line %d", e.Line)
		if e.Column > 0 {
			location += fmt.Sprintf(":%d", e.Column)
		}
		parts = append(parts, location)
	}

	parts = append(parts, e.Message)

	result := strings.Join(parts, " ")

	if e.Cause != nil {
		result += fmt.Sprintf(": %v", e.Cause)
	}

	return result
}

// Unwrap returns the underlying cause error.
func (e *BreachError) Unwrap() error {
	return e.Cause
}

// Is implements error comparison.
func (e *BreachError) Is(target error) bool {
	var t *BreachError
	if errors.As(target, &t) {
		return e.Type == t.Type && e.Code == t.Code
	}

	return false
}

// WithLocation adds line/column information.
func (e *BreachError) WithLocation(line, column int) *BreachError {
	e.Line = line
	e.Column = column

	return e
}

// WithSection attaches the originating section.
func (e *BreachError) WithSection(ref SectionRef) *BreachError {
	e.Section = &ref

	return e
}

// NewMalformedDelimiter reports a marker with no language tag. It aborts the
// current build cycle.
func NewMalformedDelimiter(line int, message string) *BreachError {
	return &BreachError{
		Type:    ErrorTypeParse,
		Code:    ErrCodeMalformedDelimiter,
		Message: message,
		Line:    line,
	}
}

// NewUnknownLanguage reports a section whose tag has no registered compiler.
func NewUnknownLanguage(tag string) *BreachError {
	msg := fmt.Sprintf("unknown language %q", tag)
	if tag == "" {
		msg = "empty language tag"
	}
	return &BreachError{
		Type:        ErrorTypeLanguage,
		Code:        ErrCodeUnknownLanguage,
		Message:     msg,
		Recoverable: true,
	}
}

// NewCompileError wraps a compiler failure for one section.
func NewCompileError(message string, cause error) *BreachError {
	return &BreachError{
		Type:        ErrorTypeCompile,
		Code:        ErrCodeCompile,
		Message:     message,
		Cause:       cause,
		Recoverable: true,
	}
}

// NewWatchError reports the source file becoming unreadable or unwatchable.
func NewWatchError(message string, cause error) *BreachError {
	return &BreachError{
		Type:        ErrorTypeWatch,
		Code:        ErrCodeWatch,
		Message:     message,
		Cause:       cause,
		Recoverable: true,
	}
}

// NewIOError creates an I/O error.
func NewIOError(message string, cause error) *BreachError {
	return &BreachError{
		Type:        ErrorTypeIO,
		Code:        ErrCodeIO,
		Message:     message,
		Cause:       cause,
		Recoverable: true,
	}
}

// NewConfigError creates a configuration error.
func NewConfigError(message string) *BreachError {
	return &BreachError{
		Type:    ErrorTypeConfig,
		Code:    ErrCodeConfigInvalid,
		Message: message,
	}
}

// NewInternalError creates an internal error.
func NewInternalError(message string, cause error) *BreachError {
	return &BreachError{
		Type:    ErrorTypeInternal,
		Code:    ErrCodeInternal,
		Message: message,
		Cause:   cause,
	}
}

// ErrStaleSnapshot is returned when publishing a snapshot whose sequence is
// not newer than the current one.
var ErrStaleSnapshot = &BreachError{
	Type:    ErrorTypeInternal,
	Code:    ErrCodeStaleSnapshot,
	Message: "snapshot sequence is not newer than the published one",
}

// As is errors.As, re-exported so callers need not import both packages.
func As(err error, target any) bool { return errors.As(err, target) }

// Is is errors.Is.
func Is(err, target error) bool { return errors.Is(err, target) }

func hasCode(err error, code string) bool {
	var be *BreachError
	if errors.As(err, &be) {
		return be.Code == code
	}
	return false
}

// IsMalformedDelimiter reports whether err aborted parsing.
func IsMalformedDelimiter(err error) bool { return hasCode(err, ErrCodeMalformedDelimiter) }

// IsUnknownLanguage reports whether err is an unregistered-tag failure.
func IsUnknownLanguage(err error) bool { return hasCode(err, ErrCodeUnknownLanguage) }

// IsCompileError reports whether err is a section compile failure.
func IsCompileError(err error) bool { return hasCode(err, ErrCodeCompile) }

// IsWatchError reports whether err came from the file watcher.
func IsWatchError(err error) bool { return hasCode(err, ErrCodeWatch) }

// IsRecoverable checks if an error is recoverable.
func IsRecoverable(err error) bool {
	var be *BreachError
	if errors.As(err, &be) {
		return be.Recoverable
	}

	return false
}
