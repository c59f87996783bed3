package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Severity represents the severity of a diagnostic.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityError
)

// String returns the string representation of the severity
func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	default:
		return "unknown"
	}
}

// MarshalJSON encodes the severity as its name.
func (s Severity) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON decodes a severity name.
func (s *Severity) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	switch name {
	case "info":
		*s = SeverityInfo
	case "warning":
		*s = SeverityWarning
	case "error":
		*s = SeverityError
	default:
		return fmt.Errorf("unknown severity %q", name)
	}
	return nil
}

// Diagnostic is a structured error or warning attached to an artifact. It is
// never fatal to the pipeline.
type Diagnostic struct {
	Severity Severity    `json:"severity"`
	Code     string      `json:"code,omitempty"`
	Message  string      `json:"message"`
	Section  *SectionRef `json:"section,omitempty"`
	Line     int         `json:"line,omitempty"`
	Column   int         `json:"column,omitempty"`
	Note     string      `json:"note,omitempty"`
}

// String formats the diagnostic for terminal output.
func (d Diagnostic) String() string {
	var b strings.Builder
	b.WriteString(d.Severity.String())
	if d.Section != nil {
		b.WriteString(" ")
		b.WriteString(d.Section.String())
	}
	if d.Line > 0 {
		fmt.Fprintf(&b, " line %d", d.Line)
		if d.Column > 0 {
			fmt.Fprintf(&b, ":%d", d.Column)
		}
	}
	b.WriteString(": ")
	b.WriteString(d.Message)
	if d.Note != "" {
		b.WriteString(" (")
		b.WriteString(d.Note)
		b.WriteString(")")
	}
	return b.String()
}

// DiagnosticFromError converts err into an error-severity Diagnostic. The
// section argument is used when err does not already carry one.
func DiagnosticFromError(err error, section *SectionRef) Diagnostic {
	d := Diagnostic{
		Severity: SeverityError,
		Code:     ErrCodeInternal,
		Message:  err.Error(),
		Section:  section,
	}

	var be *BreachError
	if errors.As(err, &be) {
		d.Code = be.Code
		d.Message = be.Message
		if be.Cause != nil {
			d.Message += ": " + be.Cause.Error()
		}
		d.Line = be.Line
		d.Column = be.Column
		if be.Section != nil {
			d.Section = be.Section
		}
	}

	return d
}

// Warning builds a warning-severity diagnostic.
func Warning(code, message string, section *SectionRef) Diagnostic {
	return Diagnostic{Severity: SeverityWarning, Code: code, Message: message, Section: section}
}

// HasErrors reports whether any diagnostic has error severity.
func HasErrors(diags []Diagnostic) bool {
	for _, d := range diags {
		if d.Severity >= SeverityError {
			return true
		}
	}
	return false
}

// CountErrors returns the number of error-severity diagnostics.
func CountErrors(diags []Diagnostic) int {
	n := 0
	for _, d := range diags {
		if d.Severity >= SeverityError {
			n++
		}
	}
	return n
}
