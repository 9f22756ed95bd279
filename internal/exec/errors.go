package exec

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// RuntimeError represents an error detected by the executive.
//
// Runtime errors include:
//   - Quiescence exceeded: a step did not reach a fixed point
//   - Internal consistency: the executive found itself in an impossible state
//   - Duplicate plan: a plan with the same root id is already loaded
//   - Missing library: a plan calls a library that was never added
type RuntimeError struct {
	// Code identifies the error category.
	Code RuntimeErrorCode

	// Message is a human-readable description.
	Message string

	// NodeID identifies the affected plan or node, if any.
	NodeID string

	// Details contains additional context.
	Details map[string]string
}

// RuntimeErrorCode categorizes runtime errors.
type RuntimeErrorCode string

const (
	// ErrCodeQuiescenceExceeded indicates a step hit the iteration limit.
	ErrCodeQuiescenceExceeded RuntimeErrorCode = "QUIESCENCE_EXCEEDED"

	// ErrCodeInternalConsistency indicates a fatal internal error.
	ErrCodeInternalConsistency RuntimeErrorCode = "INTERNAL_CONSISTENCY"

	// ErrCodeDuplicatePlan indicates a root id is already in use.
	ErrCodeDuplicatePlan RuntimeErrorCode = "DUPLICATE_PLAN"

	// ErrCodeMissingLibrary indicates a library-call names an unknown library.
	ErrCodeMissingLibrary RuntimeErrorCode = "MISSING_LIBRARY"
)

// Error implements the error interface.
func (e *RuntimeError) Error() string {
	if e.NodeID != "" {
		return fmt.Sprintf("%s: %s (node=%s)", e.Code, e.Message, e.NodeID)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func hasCode(err error, code RuntimeErrorCode) bool {
	var re *RuntimeError
	if errors.As(err, &re) {
		return re.Code == code
	}
	return false
}

// IsQuiescenceError returns true if the error is a quiescence error.
// Matches both RuntimeError with ErrCodeQuiescenceExceeded and
// QuiescenceExceededError.
func IsQuiescenceError(err error) bool {
	if hasCode(err, ErrCodeQuiescenceExceeded) {
		return true
	}
	var qe *QuiescenceExceededError
	return errors.As(err, &qe)
}

// IsMissingLibrary returns true if err reports a missing library.
func IsMissingLibrary(err error) bool {
	return hasCode(err, ErrCodeMissingLibrary)
}

// IsDuplicatePlan returns true if err reports a duplicate root id.
func IsDuplicatePlan(err error) bool {
	return hasCode(err, ErrCodeDuplicatePlan)
}

// IsInternalConsistency returns true if err is a fatal consistency error.
func IsInternalConsistency(err error) bool {
	return hasCode(err, ErrCodeInternalConsistency)
}

// NewMissingLibraryError creates a RuntimeError for unknown libraries.
func NewMissingLibraryError(planID string, names []string) *RuntimeError {
	return &RuntimeError{
		Code:    ErrCodeMissingLibrary,
		Message: fmt.Sprintf("plan calls unknown libraries: %s", strings.Join(names, ", ")),
		NodeID:  planID,
		Details: map[string]string{"libraries": strings.Join(names, ",")},
	}
}

// NewDuplicatePlanError creates a RuntimeError for a reused root id.
func NewDuplicatePlanError(planID string) *RuntimeError {
	return &RuntimeError{
		Code:    ErrCodeDuplicatePlan,
		Message: "a plan with this root id is already loaded",
		NodeID:  planID,
	}
}

// Fatal reports an internal consistency violation. It logs and then
// panics with a *RuntimeError; the executive cannot continue safely.
func Fatal(logger *slog.Logger, format string, args ...any) {
	err := &RuntimeError{
		Code:    ErrCodeInternalConsistency,
		Message: fmt.Sprintf(format, args...),
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger.Error("internal consistency violation", "error", err)
	panic(err)
}
