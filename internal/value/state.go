package value

import "strings"

// TimeStateName is the name of the distinguished time state.
const TimeStateName = "time"

// State names an external quantity: a lookup name plus parameters.
type State struct {
	Name   string
	Params []Value
}

// TimeState is the state carrying the current time.
var TimeState = State{Name: TimeStateName}

// Key returns a canonical string identifying the state, e.g. `At("Rock")`.
// Two states with equal keys denote the same quantity.
func (s State) Key() string {
	if len(s.Params) == 0 {
		return s.Name
	}
	var b strings.Builder
	b.WriteString(s.Name)
	b.WriteByte('(')
	for i, p := range s.Params {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(p.String())
	}
	b.WriteByte(')')
	return b.String()
}

// IsTime reports whether s is the time state.
func (s State) IsTime() bool {
	return s.Name == TimeStateName && len(s.Params) == 0
}
