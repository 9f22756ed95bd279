package plan

import (
	"slices"

	"github.com/roach88/plexec/internal/value"
)

// Validate checks that root is a well-formed plan.
//
// It verifies node ids are present and unique, each node carries exactly
// the body its type requires, and every expression is well formed and
// refers only to nodes and variables that exist. It does not check that
// called libraries are registered; that is the executive's job.
func Validate(root *Node) error {
	if root == nil {
		return &MalformedError{Message: "empty plan"}
	}
	v := &validator{ids: map[string]bool{}}
	if err := root.Walk(func(n *Node, path []string) error {
		if n.ID == "" {
			return Malformed(path, "id", "node id is required")
		}
		if v.ids[n.ID] {
			return Malformed(path, "id", "duplicate node id %q", n.ID)
		}
		v.ids[n.ID] = true
		return nil
	}); err != nil {
		return err
	}
	return v.node(root, nil, nil)
}

type validator struct {
	ids map[string]bool
}

// scope is the set of variable names visible to a node.
type scope map[string]bool

func (v *validator) node(n *Node, parentPath []string, outer scope) error {
	path := append(append([]string(nil), parentPath...), n.ID)

	if !slices.Contains(NodeTypes, n.Type) {
		return Malformed(path, "type", "unknown node type %q", n.Type)
	}
	if n.Priority != nil && *n.Priority < 0 {
		return Malformed(path, "priority", "priority must not be negative")
	}

	vars := scope{}
	for k := range outer {
		vars[k] = true
	}
	if n.Interface != nil {
		for _, name := range append(append([]string(nil), n.Interface.In...), n.Interface.InOut...) {
			if name == "" {
				return Malformed(path, "interface", "empty interface variable name")
			}
			vars[name] = true
		}
	}
	for _, d := range n.Variables {
		if err := checkVarDecl(d, path); err != nil {
			return err
		}
		vars[d.Name] = true
	}

	for name, e := range n.Conditions {
		if !slices.Contains(ConditionNames, name) {
			return Malformed(path, "conditions."+name, "unknown condition %q", name)
		}
		if err := v.expr(e, path, "conditions."+name, vars); err != nil {
			return err
		}
	}

	if err := v.body(n, path, vars); err != nil {
		return err
	}

	if len(n.Children) > 0 && n.Type != TypeList {
		return Malformed(path, "children", "only list nodes may have children")
	}
	for _, c := range n.Children {
		if c == nil {
			return Malformed(path, "children", "null child")
		}
		if err := v.node(c, path, vars); err != nil {
			return err
		}
	}
	return nil
}

func (v *validator) body(n *Node, path []string, vars scope) error {
	bodies := map[string]bool{
		TypeAssignment:   n.Assignment != nil,
		TypeCommand:      n.Command != nil,
		TypeUpdate:       n.Update != nil,
		TypeFunctionCall: n.Function != nil,
		TypeLibraryCall:  n.Library != nil,
	}
	for typ, present := range bodies {
		if present && typ != n.Type {
			return Malformed(path, typ, "%s body on %s node", typ, n.Type)
		}
		if !present && typ == n.Type {
			return Malformed(path, typ, "%s node requires a %s body", n.Type, typ)
		}
	}

	switch n.Type {
	case TypeAssignment:
		a := n.Assignment
		if a.Var == "" {
			return Malformed(path, "assignment.var", "assignment destination is required")
		}
		if !vars[a.Var] {
			return Malformed(path, "assignment.var", "undeclared variable %q", a.Var)
		}
		if a.Value == nil {
			return Malformed(path, "assignment.value", "assignment value is required")
		}
		return v.expr(a.Value, path, "assignment.value", vars)

	case TypeCommand:
		c := n.Command
		if c.Name == "" {
			return Malformed(path, "command.name", "command name is required")
		}
		if c.Result != "" && !vars[c.Result] {
			return Malformed(path, "command.result", "undeclared variable %q", c.Result)
		}
		for _, r := range c.Resources {
			if r.Name == "" {
				return Malformed(path, "command.resources", "resource name is required")
			}
		}
		return v.exprs(c.Args, path, "command.args", vars)

	case TypeUpdate:
		for _, p := range n.Update.Pairs {
			if p.Name == "" {
				return Malformed(path, "update.pairs", "pair name is required")
			}
			if err := v.expr(p.Value, path, "update.pairs."+p.Name, vars); err != nil {
				return err
			}
		}

	case TypeFunctionCall:
		f := n.Function
		if f.Name == "" {
			return Malformed(path, "function.name", "function name is required")
		}
		if f.Result != "" && !vars[f.Result] {
			return Malformed(path, "function.result", "undeclared variable %q", f.Result)
		}
		return v.exprs(f.Args, path, "function.args", vars)

	case TypeLibraryCall:
		if n.Library.Name == "" {
			return Malformed(path, "library.name", "library name is required")
		}
		for name, e := range n.Library.Aliases {
			if err := v.expr(e, path, "library.aliases."+name, vars); err != nil {
				return err
			}
		}
	}
	return nil
}

func (v *validator) exprs(es []*Expr, path []string, field string, vars scope) error {
	for _, e := range es {
		if err := v.expr(e, path, field, vars); err != nil {
			return err
		}
	}
	return nil
}

func (v *validator) expr(e *Expr, path []string, field string, vars scope) error {
	if e == nil {
		return Malformed(path, field, "missing expression")
	}
	if n := e.forms(); n != 1 {
		return Malformed(path, field, "expression must have exactly one form, found %d", n)
	}
	switch {
	case e.Enum != "":
		if _, err := value.ParseEnum(e.Enum); err != nil {
			return Malformed(path, field, "%v", err)
		}
	case e.Var != "":
		if !vars[e.Var] {
			return Malformed(path, field, "undeclared variable %q", e.Var)
		}
	case e.NodeState != "":
		return v.nodeRef(e.NodeState, path, field)
	case e.NodeOutcome != "":
		return v.nodeRef(e.NodeOutcome, path, field)
	case e.NodeFailure != "":
		return v.nodeRef(e.NodeFailure, path, field)
	case e.CommandHandle != "":
		return v.nodeRef(e.CommandHandle, path, field)
	case e.Timepoint != nil:
		if _, err := value.ParseNodeState(e.Timepoint.State); err != nil {
			return Malformed(path, field, "%v", err)
		}
		return v.nodeRef(e.Timepoint.Node, path, field)
	case e.Lookup != nil:
		l := e.Lookup
		if l.Name == "" {
			return Malformed(path, field, "lookup name is required")
		}
		switch l.Mode {
		case "", "now", "change", "on_change", "frequency":
		default:
			return Malformed(path, field, "unknown lookup mode %q", l.Mode)
		}
		if l.Tolerance < 0 || l.Frequency < 0 {
			return Malformed(path, field, "lookup tolerance and frequency must not be negative")
		}
		return v.exprs(l.Args, path, field, vars)
	case e.Op != "":
		arity, ok := Operators[e.Op]
		if !ok {
			return Malformed(path, field, "unknown operator %q", e.Op)
		}
		if arity >= 0 && len(e.Args) != arity {
			return Malformed(path, field, "operator %q takes %d arguments, got %d", e.Op, arity, len(e.Args))
		}
		return v.exprs(e.Args, path, field, vars)
	}
	return nil
}

func (v *validator) nodeRef(id string, path []string, field string) error {
	if !v.ids[id] {
		return Malformed(path, field, "reference to unknown node %q", id)
	}
	return nil
}

func checkVarDecl(d VarDecl, path []string) error {
	field := "variables." + d.Name
	if d.Name == "" {
		return Malformed(path, "variables", "variable name is required")
	}
	if d.Initial == nil {
		switch d.Type {
		case VarBoolean, VarInteger, VarReal, VarString:
			return nil
		}
		return Malformed(path, field, "unknown variable type %q", d.Type)
	}
	if _, err := InitialValue(d); err != nil {
		return Malformed(path, field, "%v", err)
	}
	return nil
}
