package plan

// Node types as written in plan documents.
const (
	TypeList         = "list"
	TypeCommand      = "command"
	TypeAssignment   = "assignment"
	TypeUpdate       = "update"
	TypeFunctionCall = "function"
	TypeEmpty        = "empty"
	TypeLibraryCall  = "library-call"
)

// NodeTypes lists every valid node type.
var NodeTypes = []string{
	TypeList, TypeCommand, TypeAssignment, TypeUpdate, TypeFunctionCall, TypeEmpty, TypeLibraryCall,
}

// User-settable condition names.
const (
	CondSkip      = "skip"
	CondStart     = "start"
	CondEnd       = "end"
	CondInvariant = "invariant"
	CondPre       = "pre"
	CondPost      = "post"
	CondRepeat    = "repeat"
)

// ConditionNames lists the conditions a plan may set.
var ConditionNames = []string{
	CondSkip, CondStart, CondEnd, CondInvariant, CondPre, CondPost, CondRepeat,
}

// Node is one node of a plan document. Plans and libraries are both a
// single root Node.
type Node struct {
	ID       string `yaml:"id" json:"id"`
	Type     string `yaml:"type" json:"type"`
	Priority *int   `yaml:"priority,omitempty" json:"priority,omitempty"`

	// Conditions maps condition names (see ConditionNames) to expressions.
	Conditions map[string]*Expr `yaml:"conditions,omitempty" json:"conditions,omitempty"`

	Variables []VarDecl  `yaml:"variables,omitempty" json:"variables,omitempty"`
	Interface *Interface `yaml:"interface,omitempty" json:"interface,omitempty"`
	Children  []*Node    `yaml:"children,omitempty" json:"children,omitempty"`

	// Exactly one body matching Type.
	Assignment *Assignment   `yaml:"assignment,omitempty" json:"assignment,omitempty"`
	Command    *Command      `yaml:"command,omitempty" json:"command,omitempty"`
	Update     *Update       `yaml:"update,omitempty" json:"update,omitempty"`
	Function   *FunctionCall `yaml:"function,omitempty" json:"function,omitempty"`
	Library    *LibraryCall  `yaml:"library,omitempty" json:"library,omitempty"`
}

// VarDecl declares a node-local variable.
type VarDecl struct {
	Name    string `yaml:"name" json:"name"`
	Type    string `yaml:"type" json:"type"` // boolean | integer | real | string
	Initial any    `yaml:"initial,omitempty" json:"initial,omitempty"`
}

// Variable types.
const (
	VarBoolean = "boolean"
	VarInteger = "integer"
	VarReal    = "real"
	VarString  = "string"
)

// Interface names variables a node takes from its ancestors.
// In variables are read-only within the node.
type Interface struct {
	In    []string `yaml:"in,omitempty" json:"in,omitempty"`
	InOut []string `yaml:"inout,omitempty" json:"inout,omitempty"`
}

// Assignment sets a variable.
type Assignment struct {
	Var   string `yaml:"var" json:"var"`
	Value *Expr  `yaml:"value" json:"value"`
}

// Command is sent to the external interface.
type Command struct {
	Name      string     `yaml:"name" json:"name"`
	Args      []*Expr    `yaml:"args,omitempty" json:"args,omitempty"`
	Result    string     `yaml:"result,omitempty" json:"result,omitempty"` // variable receiving the return value
	Resources []Resource `yaml:"resources,omitempty" json:"resources,omitempty"`
}

// Resource is one resource a command needs, for arbitration.
type Resource struct {
	Name                 string   `yaml:"name" json:"name"`
	Priority             int      `yaml:"priority" json:"priority"`
	UpperBound           *float64 `yaml:"upper_bound,omitempty" json:"upper_bound,omitempty"`
	ReleaseAtTermination *bool    `yaml:"release_at_termination,omitempty" json:"release_at_termination,omitempty"`
}

// Update sends name/value pairs to the planner.
type Update struct {
	Pairs []Pair `yaml:"pairs" json:"pairs"`
}

// Pair is one update entry.
type Pair struct {
	Name  string `yaml:"name" json:"name"`
	Value *Expr  `yaml:"value" json:"value"`
}

// FunctionCall invokes an external function and stores its result.
type FunctionCall struct {
	Name   string  `yaml:"name" json:"name"`
	Args   []*Expr `yaml:"args,omitempty" json:"args,omitempty"`
	Result string  `yaml:"result,omitempty" json:"result,omitempty"`
}

// LibraryCall expands a registered library in place.
// Aliases bind the library's interface variables to caller expressions;
// a bare variable reference gives the library write access.
type LibraryCall struct {
	Name    string           `yaml:"name" json:"name"`
	Aliases map[string]*Expr `yaml:"aliases,omitempty" json:"aliases,omitempty"`
}

// Walk calls fn for n and every descendant, depth first, parents before
// children. The path is the chain of ids from the root.
func (n *Node) Walk(fn func(n *Node, path []string) error) error {
	return n.walk(nil, fn)
}

func (n *Node) walk(path []string, fn func(*Node, []string) error) error {
	path = append(path, n.ID)
	if err := fn(n, path); err != nil {
		return err
	}
	for _, c := range n.Children {
		if c == nil {
			continue
		}
		if err := c.walk(path, fn); err != nil {
			return err
		}
	}
	return nil
}

// LibraryNames returns the names of all libraries n calls, in order of
// first appearance.
func (n *Node) LibraryNames() []string {
	var names []string
	seen := map[string]bool{}
	_ = n.Walk(func(c *Node, _ []string) error {
		if c.Type == TypeLibraryCall && c.Library != nil && !seen[c.Library.Name] {
			seen[c.Library.Name] = true
			names = append(names, c.Library.Name)
		}
		return nil
	})
	return names
}
