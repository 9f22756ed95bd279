package harness

import (
	"fmt"
	"strings"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string   // Assertion type for categorization
	Expected string   // Human-readable expected outcome
	Actual   string   // Human-readable actual outcome
	Trace    []string // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	fmt.Fprintf(&buf, "\nFull trace:\n")
	for i, line := range e.Trace {
		fmt.Fprintf(&buf, "  [%d] %s\n", i+1, line)
	}

	return buf.String()
}

// assertTraceContains checks that line appears in the trace.
func assertTraceContains(trace []string, assertion Assertion) error {
	if indexOf(trace, assertion.Line, 0) >= 0 {
		return nil
	}
	return &AssertionError{
		Type:     AssertTraceContains,
		Expected: assertion.Line,
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

// assertTraceAbsent checks that line does not appear in the trace.
func assertTraceAbsent(trace []string, assertion Assertion) error {
	if i := indexOf(trace, assertion.Line, 0); i >= 0 {
		return &AssertionError{
			Type:     AssertTraceAbsent,
			Expected: fmt.Sprintf("no %s", assertion.Line),
			Actual:   fmt.Sprintf("found at position %d", i+1),
			Trace:    trace,
		}
	}
	return nil
}

// assertTraceOrder checks that the lines appear in the specified order.
// They don't need to be consecutive (intervening lines are allowed), and
// each line is searched for after the previous one, so repeated lines
// match repeated occurrences.
func assertTraceOrder(trace []string, assertion Assertion) error {
	from := 0
	for i, line := range assertion.Lines {
		pos := indexOf(trace, line, from)
		if pos < 0 {
			actual := fmt.Sprintf("missing line: %s", line)
			if i > 0 && indexOf(trace, line, 0) >= 0 {
				actual = fmt.Sprintf("%s appears only before %s", line, assertion.Lines[i-1])
			}
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("lines in order: %v", assertion.Lines),
				Actual:   actual,
				Trace:    trace,
			}
		}
		from = pos + 1
	}
	return nil
}

// assertTraceCount checks that line appears exactly the specified number
// of times.
func assertTraceCount(trace []string, assertion Assertion) error {
	count := 0
	for _, line := range trace {
		if line == assertion.Line {
			count++
		}
	}
	if count != assertion.Count {
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%d occurrences of %s", assertion.Count, assertion.Line),
			Actual:   fmt.Sprintf("%d occurrences", count),
			Trace:    trace,
		}
	}
	return nil
}

func indexOf(trace []string, line string, from int) int {
	for i := from; i < len(trace); i++ {
		if trace[i] == line {
			return i
		}
	}
	return -1
}

// EvaluateAssertions evaluates all assertions against the result's trace.
// Returns a slice of error messages for failed assertions.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var errors []string
	var trace []string
	if result.Trace != nil {
		trace = result.Trace.Texts()
	}

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertTraceContains:
			err = assertTraceContains(trace, assertion)
		case AssertTraceAbsent:
			err = assertTraceAbsent(trace, assertion)
		case AssertTraceOrder:
			err = assertTraceOrder(trace, assertion)
		case AssertTraceCount:
			err = assertTraceCount(trace, assertion)
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}

	return errors
}
