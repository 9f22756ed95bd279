package exec

import (
	"fmt"
)

// DefaultMaxIterations is the default limit on micro steps per Step.
const DefaultMaxIterations = 1000

// iterationLimit counts the micro steps of one Step and enforces the
// safety valve.
//
// A plan whose conditions feed back into each other (A's transition
// enables B, B's enables A) would otherwise keep a step from ever
// reaching a fixed point.
type iterationLimit struct {
	max     int
	current int
}

func newIterationLimit(max int) *iterationLimit {
	return &iterationLimit{max: max}
}

// Check increments the counter and fails once it passes the limit.
func (l *iterationLimit) Check() error {
	l.current++
	if l.current > l.max {
		return &QuiescenceExceededError{Iterations: l.current, Limit: l.max}
	}
	return nil
}

// Current returns the number of micro steps taken.
func (l *iterationLimit) Current() int {
	return l.current
}

// QuiescenceExceededError is returned when a step fails to reach a fixed
// point within the iteration limit. The application stops on it.
type QuiescenceExceededError struct {
	Iterations int
	Limit      int
	// Pending holds the ids of some of the nodes still queued.
	Pending []string
}

// Error implements the error interface.
func (e *QuiescenceExceededError) Error() string {
	return fmt.Sprintf("step did not reach quiescence: %d micro steps > %d limit (pending %v)",
		e.Iterations, e.Limit, e.Pending)
}

// RuntimeError converts the error to its RuntimeError form.
func (e *QuiescenceExceededError) RuntimeError() *RuntimeError {
	return &RuntimeError{
		Code:    ErrCodeQuiescenceExceeded,
		Message: e.Error(),
		Details: map[string]string{
			"iterations": fmt.Sprintf("%d", e.Iterations),
			"limit":      fmt.Sprintf("%d", e.Limit),
		},
	}
}
