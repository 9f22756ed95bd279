package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func traceOf(lines ...string) *Result {
	tr := NewTrace()
	tr.BeginTick(0)
	for _, l := range lines {
		tr.Add(EventTransition, "%s", l)
	}
	return NewResult(tr)
}

func TestEvaluateAssertions_TraceContains(t *testing.T) {
	r := traceOf("A INACTIVE->WAITING", "A WAITING->EXECUTING")

	assert.Empty(t, EvaluateAssertions(r, []Assertion{
		{Type: AssertTraceContains, Line: "A WAITING->EXECUTING"},
	}))

	errs := EvaluateAssertions(r, []Assertion{
		{Type: AssertTraceContains, Line: "B INACTIVE->WAITING"},
	})
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0], "Expected: B INACTIVE->WAITING")
	assert.Contains(t, errs[0], "[2] A WAITING->EXECUTING")
}

func TestEvaluateAssertions_TraceAbsent(t *testing.T) {
	r := traceOf("A INACTIVE->WAITING")

	assert.Empty(t, EvaluateAssertions(r, []Assertion{{Type: AssertTraceAbsent, Line: "abort drill"}}))

	errs := EvaluateAssertions(r, []Assertion{{Type: AssertTraceAbsent, Line: "A INACTIVE->WAITING"}})
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0], "found at position 1")
}

func TestEvaluateAssertions_TraceOrder(t *testing.T) {
	r := traceOf("x", "a", "y", "b", "a")

	tests := []struct {
		name   string
		lines  []string
		actual string
	}{
		{name: "in order with gaps", lines: []string{"a", "b"}},
		{name: "repeated line matches later occurrence", lines: []string{"a", "b", "a"}},
		{name: "missing", lines: []string{"a", "z"}, actual: "missing line: z"},
		{name: "out of order", lines: []string{"y", "x"}, actual: "x appears only before y"},
		{name: "not repeated often enough", lines: []string{"b", "a", "a"}, actual: "a appears only before a"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := EvaluateAssertions(r, []Assertion{{Type: AssertTraceOrder, Lines: tt.lines}})
			if tt.actual == "" {
				assert.Empty(t, errs)
				return
			}
			require.Len(t, errs, 1)
			assert.Contains(t, errs[0], tt.actual)
		})
	}
}

func TestEvaluateAssertions_TraceCount(t *testing.T) {
	r := traceOf("command beep()", "command beep()", "command go()")

	assert.Empty(t, EvaluateAssertions(r, []Assertion{
		{Type: AssertTraceCount, Line: "command beep()", Count: 2},
		{Type: AssertTraceCount, Line: "command stop()", Count: 0},
	}))

	errs := EvaluateAssertions(r, []Assertion{{Type: AssertTraceCount, Line: "command go()", Count: 2}})
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0], "Expected: 2 occurrences of command go()")
	assert.Contains(t, errs[0], "Actual: 1 occurrences")
}

func TestEvaluateAssertions_UnknownType(t *testing.T) {
	errs := EvaluateAssertions(traceOf(), []Assertion{{Type: "final_state"}})
	require.Len(t, errs, 1)
	assert.Equal(t, `assertion[0]: unknown assertion type "final_state"`, errs[0])
}
