package expr

import (
	"fmt"
	"math"

	"github.com/roach88/plexec/internal/value"
)

// LookupMode selects how a lookup gets its values.
type LookupMode int

const (
	// LookupNow reads the state once, when the lookup is activated.
	LookupNow LookupMode = iota
	// LookupOnChange receives every change larger than the tolerance.
	LookupOnChange
	// LookupFrequency asks the interface to sample at a fixed rate.
	LookupFrequency
)

func (m LookupMode) String() string {
	switch m {
	case LookupNow:
		return "now"
	case LookupOnChange:
		return "change"
	case LookupFrequency:
		return "frequency"
	}
	return fmt.Sprintf("LookupMode(%d)", int(m))
}

// ParseLookupMode parses "now", "change" or "frequency". Empty means now.
func ParseLookupMode(s string) (LookupMode, error) {
	switch s {
	case "", "now":
		return LookupNow, nil
	case "change", "on_change":
		return LookupOnChange, nil
	case "frequency":
		return LookupFrequency, nil
	}
	return LookupNow, fmt.Errorf("unknown lookup mode %q", s)
}

// LookupSource provides external state values to lookups.
// It is implemented by the interface manager's state cache.
type LookupSource interface {
	// LookupNow returns the current value of the state, querying the
	// external interface if nothing is cached.
	LookupNow(state value.State) value.Value

	// Register starts delivering values of state to onChange, which is
	// called on the exec goroutine. param is the tolerance for change
	// lookups and the rate for frequency lookups. It returns the current
	// value and a function that ends the registration.
	Register(state value.State, mode LookupMode, param float64, onChange func(value.Value)) (value.Value, func())
}

// Lookup reads an external state. It has a value only while active.
type Lookup struct {
	notifier
	name   string
	args   []Expression
	mode   LookupMode
	param  float64
	src    LookupSource
	val    value.Value
	state  value.State
	active int
	cancel func()
}

// NewLookup creates an inactive lookup of name(args...).
func NewLookup(src LookupSource, name string, mode LookupMode, param float64, args ...Expression) *Lookup {
	return &Lookup{
		name:  name,
		args:  args,
		mode:  mode,
		param: param,
		src:   src,
		val:   value.Unknown{},
	}
}

func (l *Lookup) Value() value.Value { return l.val }

// State returns the state being looked up, fixed at the last activation.
func (l *Lookup) State() value.State { return l.state }

// Mode returns the lookup mode.
func (l *Lookup) Mode() LookupMode { return l.mode }

func (l *Lookup) Activate() {
	l.active++
	if l.active > 1 {
		return
	}
	for _, a := range l.args {
		a.Activate()
	}
	params := make([]value.Value, len(l.args))
	for i, a := range l.args {
		params[i] = a.Value()
	}
	l.state = value.State{Name: l.name, Params: params}

	var v value.Value
	if l.mode == LookupNow {
		v = l.src.LookupNow(l.state)
	} else {
		v, l.cancel = l.src.Register(l.state, l.mode, l.param, l.update)
	}
	l.set(v)
}

func (l *Lookup) Deactivate() {
	if l.active == 0 {
		return
	}
	l.active--
	if l.active > 0 {
		return
	}
	if l.cancel != nil {
		l.cancel()
		l.cancel = nil
	}
	for _, a := range l.args {
		a.Deactivate()
	}
}

// IsActive reports whether the lookup is registered.
func (l *Lookup) IsActive() bool { return l.active > 0 }

func (l *Lookup) update(v value.Value) {
	if l.active == 0 {
		return
	}
	if l.mode == LookupOnChange && l.param > 0 && withinTolerance(l.val, v, l.param) {
		return
	}
	l.set(v)
}

func (l *Lookup) set(v value.Value) {
	if v == nil {
		v = value.Unknown{}
	}
	if sameValue(l.val, v) {
		return
	}
	l.val = v
	l.publish()
}

func withinTolerance(old, cur value.Value, tol float64) bool {
	x, ok := value.AsNumber(old)
	if !ok {
		return false
	}
	y, ok := value.AsNumber(cur)
	if !ok {
		return false
	}
	return math.Abs(y-x) < tol
}
