package expr

import (
	"fmt"

	"github.com/roach88/plexec/internal/value"
)

// Assignable is an expression that can be the destination of an
// assignment, a command result or a return value.
type Assignable interface {
	Expression
	Name() string
	Set(v value.Value)
	// Base returns the variable that actually stores the value. Aliases
	// resolve to their target so that conflicts are detected per storage.
	Base() *Variable
}

// Variable is a named, mutable value.
// Only the exec goroutine calls Set.
type Variable struct {
	notifier
	name    string
	initial value.Value
	val     value.Value
}

// NewVariable creates a variable holding initial. A nil initial is Unknown.
func NewVariable(name string, initial value.Value) *Variable {
	if initial == nil {
		initial = value.Unknown{}
	}
	return &Variable{name: name, initial: initial, val: initial}
}

func (v *Variable) Name() string       { return v.name }
func (v *Variable) Value() value.Value { return v.val }
func (v *Variable) Base() *Variable    { return v }
func (v *Variable) Activate()          {}
func (v *Variable) Deactivate()        {}

// Set stores x and notifies subscribers if the value changed.
func (v *Variable) Set(x value.Value) {
	if x == nil {
		x = value.Unknown{}
	}
	if sameValue(v.val, x) {
		return
	}
	v.val = x
	v.publish()
}

// Reset restores the initial value.
func (v *Variable) Reset() {
	v.Set(v.initial)
}

// String renders the variable for logs.
func (v *Variable) String() string {
	return fmt.Sprintf("%s=%s", v.name, v.val)
}

// sameValue is stricter than value.Equal: Int(1) and Real(1) differ,
// so a change of kind is still published.
func sameValue(a, b value.Value) bool {
	return a == b
}

// Alias exposes another assignable under a new name, as used for
// interface variables and library-call aliases.
type Alias struct {
	name     string
	target   Assignable
	readOnly bool
}

// NewAlias creates a writable alias for target.
func NewAlias(name string, target Assignable) *Alias {
	return &Alias{name: name, target: target}
}

// NewReadOnlyAlias creates an alias whose Set panics. Plans are checked
// at build time so the panic marks an internal error.
func NewReadOnlyAlias(name string, target Assignable) *Alias {
	return &Alias{name: name, target: target, readOnly: true}
}

func (a *Alias) Name() string                       { return a.name }
func (a *Alias) Value() value.Value                 { return a.target.Value() }
func (a *Alias) Subscribe(fn Listener) Subscription { return a.target.Subscribe(fn) }
func (a *Alias) Activate()                          { a.target.Activate() }
func (a *Alias) Deactivate()                        { a.target.Deactivate() }
func (a *Alias) Base() *Variable                    { return a.target.Base() }
func (a *Alias) ReadOnly() bool                     { return a.readOnly }

func (a *Alias) Set(v value.Value) {
	if a.readOnly {
		panic(fmt.Sprintf("assignment to read-only alias %q", a.name))
	}
	a.target.Set(v)
}

// IsReadOnly reports whether a is an alias that rejects assignment.
func IsReadOnly(a Assignable) bool {
	al, ok := a.(*Alias)
	return ok && al.readOnly
}

type readOnlyExpr struct {
	Expression
	name string
}

func (r readOnlyExpr) Name() string { return r.name }
func (r readOnlyExpr) Set(value.Value) {
	panic(fmt.Sprintf("assignment to read-only alias %q", r.name))
}
func (r readOnlyExpr) Base() *Variable { return nil }

// NewExpressionAlias exposes an arbitrary expression as a read-only alias.
// Base returns nil since nothing stores the value.
func NewExpressionAlias(name string, e Expression) *Alias {
	return &Alias{name: name, target: readOnlyExpr{Expression: e, name: name}, readOnly: true}
}
