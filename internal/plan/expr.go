package plan

// Expr is an expression tree in a plan document.
// Exactly one of the forms below is set.
type Expr struct {
	// Literals
	Bool    *bool    `yaml:"bool,omitempty" json:"bool,omitempty"`
	Int     *int64   `yaml:"int,omitempty" json:"int,omitempty"`
	Real    *float64 `yaml:"real,omitempty" json:"real,omitempty"`
	String  *string  `yaml:"string,omitempty" json:"string,omitempty"`
	Enum    string   `yaml:"enum,omitempty" json:"enum,omitempty"` // e.g. FINISHED, SUCCESS, COMMAND_DENIED
	Unknown bool     `yaml:"unknown,omitempty" json:"unknown,omitempty"`

	// Variable reference
	Var string `yaml:"var,omitempty" json:"var,omitempty"`

	// Node references, by node id
	NodeState     string     `yaml:"node_state,omitempty" json:"node_state,omitempty"`
	NodeOutcome   string     `yaml:"node_outcome,omitempty" json:"node_outcome,omitempty"`
	NodeFailure   string     `yaml:"node_failure,omitempty" json:"node_failure,omitempty"`
	CommandHandle string     `yaml:"command_handle,omitempty" json:"command_handle,omitempty"`
	Timepoint     *Timepoint `yaml:"timepoint,omitempty" json:"timepoint,omitempty"`

	Lookup *Lookup `yaml:"lookup,omitempty" json:"lookup,omitempty"`

	// Operator application
	Op   string  `yaml:"op,omitempty" json:"op,omitempty"`
	Args []*Expr `yaml:"args,omitempty" json:"args,omitempty"`
}

// Timepoint refers to the time a node entered (or left) a state.
type Timepoint struct {
	Node  string `yaml:"node" json:"node"`
	State string `yaml:"state" json:"state"`
	End   bool   `yaml:"end,omitempty" json:"end,omitempty"`
}

// Lookup reads an external state.
type Lookup struct {
	Name      string  `yaml:"name" json:"name"`
	Args      []*Expr `yaml:"args,omitempty" json:"args,omitempty"`
	Mode      string  `yaml:"mode,omitempty" json:"mode,omitempty"` // now | change | frequency
	Tolerance float64 `yaml:"tolerance,omitempty" json:"tolerance,omitempty"`
	Frequency float64 `yaml:"frequency,omitempty" json:"frequency,omitempty"`
}

// Operators accepted in Expr.Op, with their arity (-1 means any).
var Operators = map[string]int{
	"and":      -1,
	"or":       -1,
	"not":      1,
	"eq":       2,
	"ne":       2,
	"lt":       2,
	"le":       2,
	"gt":       2,
	"ge":       2,
	"add":      -1,
	"sub":      -1,
	"is_known": 1,
}

// forms counts how many expression forms are set.
func (e *Expr) forms() int {
	n := 0
	for _, set := range []bool{
		e.Bool != nil, e.Int != nil, e.Real != nil, e.String != nil, e.Enum != "", e.Unknown,
		e.Var != "", e.NodeState != "", e.NodeOutcome != "", e.NodeFailure != "",
		e.CommandHandle != "", e.Timepoint != nil, e.Lookup != nil, e.Op != "",
	} {
		if set {
			n++
		}
	}
	return n
}

// Helpers for building plans in code and tests.

// BoolLit returns a boolean literal.
func BoolLit(b bool) *Expr { return &Expr{Bool: &b} }

// IntLit returns an integer literal.
func IntLit(i int64) *Expr { return &Expr{Int: &i} }

// RealLit returns a real literal.
func RealLit(f float64) *Expr { return &Expr{Real: &f} }

// StringLit returns a string literal.
func StringLit(s string) *Expr { return &Expr{String: &s} }

// EnumLit returns an enumeration literal such as "FINISHED".
func EnumLit(name string) *Expr { return &Expr{Enum: name} }

// VarRef refers to a variable in scope.
func VarRef(name string) *Expr { return &Expr{Var: name} }

// StateOf refers to another node's state.
func StateOf(id string) *Expr { return &Expr{NodeState: id} }

// OutcomeOf refers to another node's outcome.
func OutcomeOf(id string) *Expr { return &Expr{NodeOutcome: id} }

// Apply builds an operator expression.
func Apply(op string, args ...*Expr) *Expr { return &Expr{Op: op, Args: args} }

// LookupOf builds a lookup on change with the given tolerance.
func LookupOf(name string, tolerance float64, args ...*Expr) *Expr {
	return &Expr{Lookup: &Lookup{Name: name, Args: args, Mode: "change", Tolerance: tolerance}}
}

// Finished is shorthand for "node id is FINISHED".
func Finished(id string) *Expr { return Apply("eq", StateOf(id), EnumLit("FINISHED")) }
