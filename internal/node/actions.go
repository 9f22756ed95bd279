package node

import (
	"github.com/roach88/plexec/internal/expr"
	"github.com/roach88/plexec/internal/value"
)

// activateAll and deactivateAll bracket the evaluation of action
// arguments so that lookups among them are live while the node executes.
func activateAll(es []expr.Expression) {
	for _, e := range es {
		e.Activate()
	}
}

func deactivateAll(es []expr.Expression) {
	for _, e := range es {
		e.Deactivate()
	}
}

func fixAll(es []expr.Expression) []value.Value {
	vs := make([]value.Value, len(es))
	for i, e := range es {
		vs[i] = e.Value()
	}
	return vs
}

// Assignment is the payload of an assignment node. The executive performs
// it on the exec goroutine after the step's transitions settle.
type Assignment struct {
	node     *Node
	dest     expr.Assignable
	rhs      expr.Expression
	ack      *expr.Variable
	val      value.Value
	previous value.Value
}

func newAssignment(n *Node) *Assignment {
	return &Assignment{node: n, ack: expr.NewVariable("ack", value.Unknown{})}
}

// Node returns the owning node.
func (a *Assignment) Node() *Node { return a.node }

// Dest returns the variable being assigned.
func (a *Assignment) Dest() expr.Assignable { return a.dest }

// Value returns the value fixed when the node started executing.
func (a *Assignment) Value() value.Value { return a.val }

// Ack is true once the assignment has been performed.
func (a *Assignment) Ack() expr.Expression { return a.ack }

func (a *Assignment) fix() {
	a.rhs.Activate()
	a.val = a.rhs.Value()
}

func (a *Assignment) deactivate() { a.rhs.Deactivate() }

// Execute stores the fixed value, remembering the old one for Retract,
// and acknowledges.
func (a *Assignment) Execute() {
	a.previous = a.dest.Value()
	a.dest.Set(a.val)
	a.ack.Set(value.Bool(true))
}

// Retract restores the value the destination held before Execute.
func (a *Assignment) Retract() {
	if a.previous == nil {
		return
	}
	a.dest.Set(a.previous)
	a.previous = nil
}

func (a *Assignment) reset() {
	a.ack.Set(value.Unknown{})
	a.previous = nil
}

// Resource is one resource a command needs.
type Resource struct {
	Name                 string
	Priority             int
	UpperBound           float64
	ReleaseAtTermination bool
}

// Command is the payload of a command node.
//
// The interface reports progress by setting Handle, the return value by
// setting Dest, and the end of an abort by setting AbortAck, always through
// the mailbox.
type Command struct {
	node      *Node
	name      string
	args      []expr.Expression
	argValues []value.Value
	dest      expr.Assignable
	handle    *expr.Variable
	abortAck  *expr.Variable
	resources []Resource
}

func newCommand(n *Node) *Command {
	return &Command{
		node:     n,
		handle:   expr.NewVariable("command_handle", value.Unknown{}),
		abortAck: expr.NewVariable("abort_complete", value.Unknown{}),
	}
}

// Node returns the owning node.
func (c *Command) Node() *Node { return c.node }

// Name returns the command name.
func (c *Command) Name() string { return c.name }

// Args returns the argument values fixed when the node started executing.
func (c *Command) Args() []value.Value { return c.argValues }

// Dest returns the variable receiving the return value, or nil.
func (c *Command) Dest() expr.Assignable { return c.dest }

// Handle is the command handle variable.
func (c *Command) Handle() expr.Assignable { return c.handle }

// HandleValue returns the current handle, or NoHandle.
func (c *Command) HandleValue() value.CommandHandle {
	if h, ok := c.handle.Value().(value.CommandHandle); ok {
		return h
	}
	return value.NoHandle
}

// AbortAck is set true by the interface when an abort has completed.
func (c *Command) AbortAck() expr.Assignable { return c.abortAck }

// Resources returns the resources the command needs.
func (c *Command) Resources() []Resource { return c.resources }

// Priority returns the best (lowest) resource priority, or the node's
// priority if the command names no resources.
func (c *Command) Priority() int {
	if len(c.resources) == 0 {
		return c.node.priority
	}
	best := c.resources[0].Priority
	for _, r := range c.resources[1:] {
		if r.Priority < best {
			best = r.Priority
		}
	}
	return best
}

func (c *Command) fix() {
	activateAll(c.args)
	c.argValues = fixAll(c.args)
}

func (c *Command) deactivate() { deactivateAll(c.args) }

func (c *Command) reset() {
	c.handle.Set(value.Unknown{})
	c.abortAck.Set(value.Unknown{})
	c.argValues = nil
}

// UpdatePair is one name/value entry of a planner update.
type UpdatePair struct {
	Name  string
	Value value.Value
}

// Update is the payload of an update node.
type Update struct {
	node   *Node
	names  []string
	values []expr.Expression
	fixed  []UpdatePair
	ack    *expr.Variable
}

func newUpdate(n *Node) *Update {
	return &Update{node: n, ack: expr.NewVariable("ack", value.Unknown{})}
}

// Node returns the owning node.
func (u *Update) Node() *Node { return u.node }

// Pairs returns the values fixed when the node started executing.
func (u *Update) Pairs() []UpdatePair { return u.fixed }

// Ack is set true by the interface once the planner has the update.
func (u *Update) Ack() expr.Assignable { return u.ack }

func (u *Update) fix() {
	activateAll(u.values)
	vals := fixAll(u.values)
	u.fixed = make([]UpdatePair, len(vals))
	for i, v := range vals {
		u.fixed[i] = UpdatePair{Name: u.names[i], Value: v}
	}
}

func (u *Update) deactivate() { deactivateAll(u.values) }

func (u *Update) reset() {
	u.ack.Set(value.Unknown{})
	u.fixed = nil
}

// FunctionCall is the payload of a function-call node. Unlike a command it
// cannot be aborted; its abort is complete immediately.
type FunctionCall struct {
	node      *Node
	name      string
	args      []expr.Expression
	argValues []value.Value
	dest      expr.Assignable
	ack       *expr.Variable
}

func newFunctionCall(n *Node) *FunctionCall {
	return &FunctionCall{node: n, ack: expr.NewVariable("ack", value.Unknown{})}
}

// Node returns the owning node.
func (f *FunctionCall) Node() *Node { return f.node }

// Name returns the function name.
func (f *FunctionCall) Name() string { return f.name }

// Args returns the argument values fixed when the node started executing.
func (f *FunctionCall) Args() []value.Value { return f.argValues }

// Dest returns the variable receiving the result, or nil.
func (f *FunctionCall) Dest() expr.Assignable { return f.dest }

// Ack is set true by the interface once the result has been delivered.
func (f *FunctionCall) Ack() expr.Assignable { return f.ack }

func (f *FunctionCall) fix() {
	activateAll(f.args)
	f.argValues = fixAll(f.args)
}

func (f *FunctionCall) deactivate() { deactivateAll(f.args) }

func (f *FunctionCall) reset() {
	f.ack.Set(value.Unknown{})
	f.argValues = nil
}
