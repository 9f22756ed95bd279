package node

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/plexec/internal/expr"
	"github.com/roach88/plexec/internal/plan"
	"github.com/roach88/plexec/internal/value"
)

// ErrMissingLibrary is returned (wrapped) when a library-call node names a
// library that has not been registered.
var ErrMissingLibrary = errors.New("missing library")

// LibraryResolver finds registered libraries by name.
type LibraryResolver interface {
	Library(name string) (*plan.Node, bool)
}

// Builder turns validated plan documents into node trees.
type Builder struct {
	sched   Scheduler
	lookups expr.LookupSource
	libs    LibraryResolver
}

// NewBuilder creates a builder whose nodes report to sched and whose
// lookups read from lookups. libs may be nil if no libraries are used.
func NewBuilder(sched Scheduler, lookups expr.LookupSource, libs LibraryResolver) *Builder {
	return &Builder{sched: sched, lookups: lookups, libs: libs}
}

// Build constructs the node tree for p.
//
// Nodes are created top to bottom with their variables and action
// skeletons first; a second pass then builds conditions and action
// expressions, which may refer to any node in the tree. Errors are
// *plan.MalformedError, or wrap ErrMissingLibrary.
func (b *Builder) Build(p *plan.Node) (*Node, error) {
	if p == nil {
		return nil, &plan.MalformedError{Message: "empty plan"}
	}
	bs := &buildState{b: b, plans: map[*Node]*plan.Node{}}
	root, err := bs.construct(p, nil, nil, false)
	if err != nil {
		return nil, err
	}
	if err := bs.postInit(root); err != nil {
		root.Destroy()
		return nil, err
	}
	return root, nil
}

type buildState struct {
	b     *Builder
	plans map[*Node]*plan.Node
	// libraries being expanded, outermost first
	libStack []string
}

func (n *Node) pathIDs() []string {
	return strings.Split(n.Path(), "/")
}

func (n *Node) own(d *expr.Derived) expr.Expression {
	n.owned = append(n.owned, d)
	return d
}

// construct creates n and its subtree. outer is the enclosing variable
// scope; for a library root it holds the call's bindings instead.
func (bs *buildState) construct(pn *plan.Node, parent *Node, outer map[string]expr.Assignable, libraryRoot bool) (*Node, error) {
	kind, ok := kindOf(pn.Type)
	if !ok {
		return nil, &plan.MalformedError{Path: []string{pn.ID}, Field: "type", Message: fmt.Sprintf("unknown node type %q", pn.Type)}
	}
	priority := WorstPriority
	if pn.Priority != nil {
		priority = *pn.Priority
	}
	n := newNode(pn.ID, kind, priority, parent, bs.b.sched)
	if libraryRoot {
		n.scopeRoot = n
	}
	bs.plans[n] = pn

	for k, v := range outer {
		n.vars[k] = v
	}
	if pn.Interface != nil && !libraryRoot {
		for _, name := range pn.Interface.In {
			v, ok := outer[name]
			if !ok {
				return nil, plan.Malformed(n.pathIDs(), "interface", "interface variable %q is not declared by an ancestor", name)
			}
			n.vars[name] = expr.NewReadOnlyAlias(name, v)
		}
		for _, name := range pn.Interface.InOut {
			v, ok := outer[name]
			if !ok {
				return nil, plan.Malformed(n.pathIDs(), "interface", "interface variable %q is not declared by an ancestor", name)
			}
			if expr.IsReadOnly(v) {
				return nil, plan.Malformed(n.pathIDs(), "interface", "inout variable %q is read-only in the enclosing scope", name)
			}
			n.vars[name] = expr.NewAlias(name, v)
		}
	}
	for _, d := range pn.Variables {
		if _, bound := outer[d.Name]; bound && libraryRoot {
			// The declaration is the default for an unbound interface variable.
			continue
		}
		init, err := plan.InitialValue(d)
		if err != nil {
			return nil, plan.Malformed(n.pathIDs(), "variables."+d.Name, "%v", err)
		}
		v := expr.NewVariable(d.Name, init)
		n.locals = append(n.locals, v)
		n.vars[d.Name] = v
	}

	switch kind {
	case KindAssignment:
		n.assignment = newAssignment(n)
	case KindCommand:
		n.command = newCommand(n)
	case KindUpdate:
		n.update = newUpdate(n)
	case KindFunctionCall:
		n.call = newFunctionCall(n)
	}

	for _, pc := range pn.Children {
		c, err := bs.construct(pc, n, n.vars, false)
		if err != nil {
			return nil, err
		}
		n.children = append(n.children, c)
	}
	return n, nil
}

func (bs *buildState) postInit(n *Node) error {
	pn := bs.plans[n]

	var library string
	if n.kind == KindLibraryCall {
		library = pn.Library.Name
		if err := bs.expandLibrary(n, pn); err != nil {
			return err
		}
	}

	if err := bs.buildConditions(n, pn); err != nil {
		return err
	}
	if err := bs.buildAction(n, pn); err != nil {
		return err
	}
	for i := range n.conds {
		n.condSubs = append(n.condSubs, n.conds[i].Subscribe(n.CheckConditions))
	}

	if library != "" {
		bs.libStack = append(bs.libStack, library)
	}
	for _, c := range n.children {
		if err := bs.postInit(c); err != nil {
			return err
		}
	}
	if library != "" {
		bs.libStack = bs.libStack[:len(bs.libStack)-1]
	}
	return nil
}

// expandLibrary binds the library's interface to the call's aliases and
// constructs the library body as the call node's only child.
func (bs *buildState) expandLibrary(n *Node, pn *plan.Node) error {
	call := pn.Library
	path := n.pathIDs()
	if slices.Contains(bs.libStack, call.Name) {
		return plan.Malformed(path, "library.name", "recursive call of library %q", call.Name)
	}
	var lib *plan.Node
	if bs.b.libs != nil {
		lib, _ = bs.b.libs.Library(call.Name)
	}
	if lib == nil {
		return fmt.Errorf("node %s: %w %q", n.Path(), ErrMissingLibrary, call.Name)
	}

	var iface plan.Interface
	if lib.Interface != nil {
		iface = *lib.Interface
	}
	declared := func(name string) bool {
		return slices.ContainsFunc(lib.Variables, func(d plan.VarDecl) bool { return d.Name == name })
	}
	for name := range call.Aliases {
		if !slices.Contains(iface.In, name) && !slices.Contains(iface.InOut, name) {
			return plan.Malformed(path, "library.aliases."+name, "library %q has no interface variable %q", call.Name, name)
		}
	}

	bindings := map[string]expr.Assignable{}
	for _, name := range iface.In {
		pe, ok := call.Aliases[name]
		if !ok {
			if declared(name) {
				continue
			}
			return plan.Malformed(path, "library.aliases", "library %q input %q is not bound", call.Name, name)
		}
		e, err := bs.expression(n, pe, "library.aliases."+name)
		if err != nil {
			return err
		}
		if a, ok := e.(expr.Assignable); ok && pe.Var != "" {
			bindings[name] = expr.NewReadOnlyAlias(name, a)
		} else {
			bindings[name] = expr.NewExpressionAlias(name, e)
		}
	}
	for _, name := range iface.InOut {
		pe, ok := call.Aliases[name]
		if !ok {
			if declared(name) {
				continue
			}
			return plan.Malformed(path, "library.aliases", "library %q inout %q is not bound", call.Name, name)
		}
		if pe.Var == "" {
			return plan.Malformed(path, "library.aliases."+name, "inout %q must be bound to a variable", name)
		}
		v, ok := n.vars[pe.Var]
		if !ok {
			return plan.Malformed(path, "library.aliases."+name, "undeclared variable %q", pe.Var)
		}
		if expr.IsReadOnly(v) {
			return plan.Malformed(path, "library.aliases."+name, "inout %q bound to read-only variable %q", name, pe.Var)
		}
		bindings[name] = expr.NewAlias(name, v)
	}

	child, err := bs.construct(lib, n, bindings, true)
	if err != nil {
		return err
	}
	n.children = []*Node{child}
	return nil
}

func (bs *buildState) buildConditions(n *Node, pn *plan.Node) error {
	for name, pe := range pn.Conditions {
		idx, ok := userConditionIndex[name]
		if !ok {
			return plan.Malformed(n.pathIDs(), "conditions."+name, "unknown condition %q", name)
		}
		e, err := bs.expression(n, pe, "conditions."+name)
		if err != nil {
			return err
		}
		n.user[idx] = e
	}
	for i := 0; i < userConditionCount; i++ {
		c := ConditionIndex(i)
		switch {
		case n.user[i] != nil:
			n.conds[c] = n.user[i]
		case c == End && n.kind.HasChildren():
			n.conds[c] = n.own(allChildren(n, "all_children_finished", value.Finished))
		case defaultCondition(c):
			n.conds[c] = expr.True
		default:
			n.conds[c] = expr.False
		}
	}

	if p := n.parent; p != nil {
		n.conds[AncestorInvariant] = p.exportInv
		n.conds[AncestorEnd] = p.exportEnd
		n.conds[ParentExecuting] = n.own(expr.Eq(p.state, expr.NewConst(value.Executing)))
		n.conds[ParentWaiting] = n.own(expr.Eq(p.state, expr.NewConst(value.Waiting)))
		n.conds[ParentFinished] = n.own(expr.Eq(p.state, expr.NewConst(value.Finished)))
	} else {
		n.conds[AncestorInvariant] = expr.True
		n.conds[AncestorEnd] = expr.False
		n.conds[ParentExecuting] = expr.False
		n.conds[ParentWaiting] = expr.False
		n.conds[ParentFinished] = expr.False
	}

	if n.kind.HasChildren() {
		n.conds[ChildrenWaitingOrFinished] = n.own(allChildren(n, "children_waiting_or_finished", value.Waiting, value.Finished))
		n.exportInv = n.own(expr.And(n.conds[AncestorInvariant], n.conds[Invariant]))
		n.exportEnd = n.own(expr.Or(n.conds[AncestorEnd], n.conds[End]))
	} else {
		n.conds[ChildrenWaitingOrFinished] = expr.True
	}
	n.conds[AbortComplete] = expr.True
	n.conds[CommandHandleReceived] = expr.False
	return nil
}

// allChildren is true when every child is in one of states.
func allChildren(n *Node, name string, states ...value.NodeState) *expr.Derived {
	operands := make([]expr.Expression, len(n.children))
	for i, c := range n.children {
		operands[i] = c.state
	}
	return expr.NewDerived(name, func() value.Value {
		for _, c := range n.children {
			if !slices.Contains(states, c.State()) {
				return value.Bool(false)
			}
		}
		return value.Bool(true)
	}, operands...)
}

func (bs *buildState) destination(n *Node, name, field string) (expr.Assignable, error) {
	if name == "" {
		return nil, nil
	}
	v, ok := n.vars[name]
	if !ok {
		return nil, plan.Malformed(n.pathIDs(), field, "undeclared variable %q", name)
	}
	if expr.IsReadOnly(v) {
		return nil, plan.Malformed(n.pathIDs(), field, "variable %q is read-only here", name)
	}
	return v, nil
}

func (bs *buildState) expressions(n *Node, pes []*plan.Expr, field string) ([]expr.Expression, error) {
	es := make([]expr.Expression, 0, len(pes))
	for _, pe := range pes {
		e, err := bs.expression(n, pe, field)
		if err != nil {
			return nil, err
		}
		es = append(es, e)
	}
	return es, nil
}

// buildAction fills in the action payload and augments the end condition
// so the node cannot finish before the action is acknowledged.
func (bs *buildState) buildAction(n *Node, pn *plan.Node) error {
	userEnd := n.conds[End]
	var err error

	switch n.kind {
	case KindAssignment:
		a := n.assignment
		if a.dest, err = bs.destination(n, pn.Assignment.Var, "assignment.var"); err != nil {
			return err
		}
		if a.rhs, err = bs.expression(n, pn.Assignment.Value, "assignment.value"); err != nil {
			return err
		}
		n.conds[End] = n.own(expr.And(a.ack, userEnd))

	case KindCommand:
		c := n.command
		c.name = pn.Command.Name
		if c.args, err = bs.expressions(n, pn.Command.Args, "command.args"); err != nil {
			return err
		}
		if c.dest, err = bs.destination(n, pn.Command.Result, "command.result"); err != nil {
			return err
		}
		for _, r := range pn.Command.Resources {
			res := Resource{Name: r.Name, Priority: r.Priority, UpperBound: 1, ReleaseAtTermination: true}
			if r.UpperBound != nil {
				res.UpperBound = *r.UpperBound
			}
			if r.ReleaseAtTermination != nil {
				res.ReleaseAtTermination = *r.ReleaseAtTermination
			}
			c.resources = append(c.resources, res)
		}
		received := n.own(expr.IsKnown(c.handle))
		interrupted := n.own(expr.NewDerived("handle_interrupted", func() value.Value {
			h, ok := c.handle.Value().(value.CommandHandle)
			return value.Bool(ok && h.Interrupted())
		}, c.handle))
		n.conds[End] = n.own(expr.Or(interrupted, n.own(expr.And(received, userEnd))))
		n.conds[CommandHandleReceived] = received
		n.conds[AbortComplete] = c.abortAck

	case KindUpdate:
		u := n.update
		for _, p := range pn.Update.Pairs {
			e, err := bs.expression(n, p.Value, "update.pairs."+p.Name)
			if err != nil {
				return err
			}
			u.names = append(u.names, p.Name)
			u.values = append(u.values, e)
		}
		n.conds[End] = n.own(expr.And(u.ack, userEnd))

	case KindFunctionCall:
		f := n.call
		f.name = pn.Function.Name
		if f.args, err = bs.expressions(n, pn.Function.Args, "function.args"); err != nil {
			return err
		}
		if f.dest, err = bs.destination(n, pn.Function.Result, "function.result"); err != nil {
			return err
		}
		n.conds[End] = n.own(expr.And(f.ack, userEnd))
	}
	return nil
}

// expression builds the runtime expression for pe as seen from n.
func (bs *buildState) expression(n *Node, pe *plan.Expr, field string) (expr.Expression, error) {
	fail := func(format string, args ...any) error {
		return plan.Malformed(n.pathIDs(), field, format, args...)
	}
	if pe == nil {
		return nil, fail("missing expression")
	}
	target := func(id string) (*Node, error) {
		t := n.resolve(id)
		if t == nil {
			return nil, fail("reference to unknown node %q", id)
		}
		return t, nil
	}

	switch {
	case pe.Bool != nil:
		return expr.NewConst(value.Bool(*pe.Bool)), nil
	case pe.Int != nil:
		return expr.NewConst(value.Int(*pe.Int)), nil
	case pe.Real != nil:
		return expr.NewConst(value.Real(*pe.Real)), nil
	case pe.String != nil:
		return expr.NewConst(value.String(*pe.String)), nil
	case pe.Unknown:
		return expr.NewConst(value.Unknown{}), nil
	case pe.Enum != "":
		v, err := value.ParseEnum(pe.Enum)
		if err != nil {
			return nil, fail("%v", err)
		}
		return expr.NewConst(v), nil

	case pe.Var != "":
		v, ok := n.vars[pe.Var]
		if !ok {
			return nil, fail("undeclared variable %q", pe.Var)
		}
		return v, nil

	case pe.NodeState != "":
		t, err := target(pe.NodeState)
		if err != nil {
			return nil, err
		}
		return t.state, nil
	case pe.NodeOutcome != "":
		t, err := target(pe.NodeOutcome)
		if err != nil {
			return nil, err
		}
		return t.outcome, nil
	case pe.NodeFailure != "":
		t, err := target(pe.NodeFailure)
		if err != nil {
			return nil, err
		}
		return t.failure, nil
	case pe.CommandHandle != "":
		t, err := target(pe.CommandHandle)
		if err != nil {
			return nil, err
		}
		if t.command == nil {
			return nil, fail("node %q is not a command node", t.id)
		}
		return t.command.handle, nil
	case pe.Timepoint != nil:
		t, err := target(pe.Timepoint.Node)
		if err != nil {
			return nil, err
		}
		s, err := value.ParseNodeState(pe.Timepoint.State)
		if err != nil {
			return nil, fail("%v", err)
		}
		return t.timepointVar(s, pe.Timepoint.End), nil

	case pe.Lookup != nil:
		l := pe.Lookup
		if bs.b.lookups == nil {
			return nil, fail("lookup %q needs an external interface", l.Name)
		}
		mode, err := expr.ParseLookupMode(l.Mode)
		if err != nil {
			return nil, fail("%v", err)
		}
		args, err := bs.expressions(n, l.Args, field)
		if err != nil {
			return nil, err
		}
		param := l.Tolerance
		if mode == expr.LookupFrequency {
			param = l.Frequency
		}
		return expr.NewLookup(bs.b.lookups, l.Name, mode, param, args...), nil

	case pe.Op != "":
		args, err := bs.expressions(n, pe.Args, field)
		if err != nil {
			return nil, err
		}
		d, err := apply(pe.Op, args)
		if err != nil {
			return nil, fail("%v", err)
		}
		return n.own(d), nil
	}
	return nil, fail("empty expression")
}

func apply(op string, args []expr.Expression) (*expr.Derived, error) {
	want, ok := plan.Operators[op]
	if !ok {
		return nil, fmt.Errorf("unknown operator %q", op)
	}
	if want >= 0 && len(args) != want {
		return nil, fmt.Errorf("operator %q takes %d arguments, got %d", op, want, len(args))
	}
	switch op {
	case "and":
		return expr.And(args...), nil
	case "or":
		return expr.Or(args...), nil
	case "not":
		return expr.Not(args[0]), nil
	case "eq":
		return expr.Eq(args[0], args[1]), nil
	case "ne":
		return expr.Ne(args[0], args[1]), nil
	case "lt":
		return expr.Lt(args[0], args[1]), nil
	case "le":
		return expr.Le(args[0], args[1]), nil
	case "gt":
		return expr.Gt(args[0], args[1]), nil
	case "ge":
		return expr.Ge(args[0], args[1]), nil
	case "add":
		return expr.Add(args...), nil
	case "sub":
		return expr.Sub(args...), nil
	case "is_known":
		return expr.IsKnown(args[0]), nil
	}
	return nil, fmt.Errorf("unsupported operator %q", op)
}
