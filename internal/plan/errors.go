package plan

import (
	"errors"
	"fmt"
	"strings"
)

// MalformedError reports a plan or library that is not well formed.
// It is returned synchronously to whoever tried to load or add the plan.
type MalformedError struct {
	// Source is the file or origin the plan came from, if known.
	Source string

	// Path is the chain of node ids leading to the offending node.
	Path []string

	// Field names the offending field (e.g. "conditions.start").
	Field string

	// Message describes the problem.
	Message string

	// Line is the 1-based source line, when the decoder reports one.
	Line int

	// Err is the underlying decode error, if any.
	Err error
}

// Error implements the error interface.
func (e *MalformedError) Error() string {
	var b strings.Builder
	b.WriteString("malformed plan")
	if e.Source != "" {
		b.WriteString(" ")
		b.WriteString(e.Source)
		if e.Line > 0 {
			fmt.Fprintf(&b, ":%d", e.Line)
		}
	}
	if len(e.Path) > 0 {
		fmt.Fprintf(&b, " at %s", strings.Join(e.Path, "/"))
	}
	if e.Field != "" {
		fmt.Fprintf(&b, " (%s)", e.Field)
	}
	b.WriteString(": ")
	b.WriteString(e.Message)
	return b.String()
}

func (e *MalformedError) Unwrap() error {
	return e.Err
}

// IsMalformed returns true if err is or wraps a MalformedError.
func IsMalformed(err error) bool {
	var me *MalformedError
	return errors.As(err, &me)
}

// Malformed creates a MalformedError for the node at path.
func Malformed(path []string, field, format string, args ...any) *MalformedError {
	return &MalformedError{
		Path:    append([]string(nil), path...),
		Field:   field,
		Message: fmt.Sprintf(format, args...),
	}
}
