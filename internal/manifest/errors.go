package manifest

import (
	"fmt"
	"strings"
)

// Reason classifies why a manifest was rejected.
type Reason string

const (
	ReasonParse              Reason = "parse"
	ReasonValidation         Reason = "validation"
	ReasonUnsupportedRuntime Reason = "unsupported-runtime"
	ReasonMissingField       Reason = "missing-field"
	ReasonProtocol           Reason = "protocol"
)

// FieldError describes one invalid field and, when derivable, how to fix it.
type FieldError struct {
	Field      string `json:"field"`
	Message    string `json:"message"`
	Suggestion string `json:"suggestion,omitempty"`
}

func (f FieldError) String() string {
	if f.Suggestion == "" {
		return fmt.Sprintf("%s: %s", f.Field, f.Message)
	}
	return fmt.Sprintf("%s: %s (fix: %s)", f.Field, f.Message, f.Suggestion)
}

// Error is returned for any manifest that cannot be loaded. The tool it
// describes is excluded from the registry.
type Error struct {
	Path   string
	ToolID string
	Reason Reason
	Fields []FieldError
	Err    error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("invalid manifest")
	if e.ToolID != "" {
		fmt.Fprintf(&b, " %q", e.ToolID)
	}
	if e.Path != "" {
		fmt.Fprintf(&b, " at %s", e.Path)
	}
	fmt.Fprintf(&b, " (%s)", e.Reason)
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	for i, f := range e.Fields {
		if i == 0 && e.Err == nil {
			b.WriteString(": ")
		} else {
			b.WriteString("; ")
		}
		b.WriteString(f.String())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

func fieldErr(reason Reason, field, msg, suggestion string) *Error {
	return &Error{
		Reason: reason,
		Fields: []FieldError{{Field: field, Message: msg, Suggestion: suggestion}},
	}
}
