package node

import (
	"math"
	"strings"

	"github.com/roach88/plexec/internal/expr"
	"github.com/roach88/plexec/internal/value"
)

// WorstPriority is the priority of a node that does not declare one.
// It loses every resource conflict against a node that does.
const WorstPriority = math.MaxInt32

// Scheduler receives the node's requests for attention and its actions.
// The executive implements it. All calls happen on the exec goroutine.
type Scheduler interface {
	// AddCandidate reports that the node may be able to transition.
	AddCandidate(n *Node)

	EnqueueAssignment(a *Assignment)
	EnqueueRetraction(a *Assignment)
	EnqueueCommand(c *Command)
	EnqueueAbort(c *Command)
	EnqueueUpdate(u *Update)
	EnqueueFunctionCall(f *FunctionCall)
}

// Destination is the result of DestState: the state the node would move to
// and the outcome that move records. NoOutcome leaves the outcome as it is.
type Destination struct {
	State   value.NodeState
	Outcome value.Outcome
	Failure value.FailureType
}

// NoTransition is the Destination of a node that cannot move.
var NoTransition = Destination{State: value.NoState}

// OK reports whether d is a real transition.
func (d Destination) OK() bool {
	return d.State != value.NoState
}

type timepointKey struct {
	state value.NodeState
	end   bool
}

// Node is one node of a running plan tree.
//
// A node owns its children; the parent pointer is a back reference only.
// The exec goroutine is the only one that reads or writes a node.
type Node struct {
	id       string
	kind     Kind
	priority int
	parent   *Node
	children []*Node
	sched    Scheduler

	// scopeRoot is the root of the plan or library this node was built
	// from. Node references do not resolve past it.
	scopeRoot *Node

	state   *expr.Variable
	outcome *expr.Variable
	failure *expr.Variable

	vars       map[string]expr.Assignable
	locals     []*expr.Variable
	timepoints map[timepointKey]*expr.Variable

	conds     [conditionCount]expr.Expression
	user      [userConditionCount]expr.Expression
	condSubs  []expr.Subscription
	exportEnd expr.Expression
	exportInv expr.Expression
	owned     []expr.Expression
	active    bool

	assignment *Assignment
	command    *Command
	update     *Update
	call       *FunctionCall

	lastReported value.NodeState
}

func newNode(id string, kind Kind, priority int, parent *Node, sched Scheduler) *Node {
	n := &Node{
		id:           id,
		kind:         kind,
		priority:     priority,
		parent:       parent,
		sched:        sched,
		state:        expr.NewVariable("state", value.Inactive),
		outcome:      expr.NewVariable("outcome", value.Unknown{}),
		failure:      expr.NewVariable("failure", value.Unknown{}),
		vars:         map[string]expr.Assignable{},
		timepoints:   map[timepointKey]*expr.Variable{},
		lastReported: value.NoState,
	}
	if parent != nil {
		n.scopeRoot = parent.scopeRoot
	} else {
		n.scopeRoot = n
	}
	return n
}

// ID returns the node id from the plan.
func (n *Node) ID() string { return n.id }

// Kind returns the node type.
func (n *Node) Kind() Kind { return n.kind }

// Priority returns the node's priority; lower numbers are more important.
func (n *Node) Priority() int { return n.priority }

// Parent returns the parent node, or nil for a root.
func (n *Node) Parent() *Node { return n.parent }

// Children returns the child nodes in plan order.
func (n *Node) Children() []*Node { return n.children }

// Path returns the ids from the root to n joined with "/".
func (n *Node) Path() string {
	var ids []string
	for c := n; c != nil; c = c.parent {
		ids = append(ids, c.id)
	}
	for i, j := 0, len(ids)-1; i < j; i, j = i+1, j-1 {
		ids[i], ids[j] = ids[j], ids[i]
	}
	return strings.Join(ids, "/")
}

// State returns the current node state.
func (n *Node) State() value.NodeState {
	return n.state.Value().(value.NodeState)
}

// Outcome returns the outcome of the last iteration, or NoOutcome.
func (n *Node) Outcome() value.Outcome {
	if o, ok := n.outcome.Value().(value.Outcome); ok {
		return o
	}
	return value.NoOutcome
}

// Failure returns the failure type of the last iteration, or NoFailure.
func (n *Node) Failure() value.FailureType {
	if f, ok := n.failure.Value().(value.FailureType); ok {
		return f
	}
	return value.NoFailure
}

// StateVariable exposes the state as an expression, for node references.
func (n *Node) StateVariable() expr.Expression { return n.state }

// OutcomeVariable exposes the outcome as an expression.
func (n *Node) OutcomeVariable() expr.Expression { return n.outcome }

// FailureVariable exposes the failure type as an expression.
func (n *Node) FailureVariable() expr.Expression { return n.failure }

// Condition returns one of the node's conditions.
func (n *Node) Condition(c ConditionIndex) expr.Expression { return n.conds[c] }

// Variable returns a variable visible to the node by name.
func (n *Node) Variable(name string) (expr.Assignable, bool) {
	v, ok := n.vars[name]
	return v, ok
}

// Assignment returns the assignment payload of an assignment node.
func (n *Node) Assignment() *Assignment { return n.assignment }

// Command returns the command payload of a command node.
func (n *Node) Command() *Command { return n.command }

// Update returns the update payload of an update node.
func (n *Node) Update() *Update { return n.update }

// FunctionCall returns the payload of a function-call node.
func (n *Node) FunctionCall() *FunctionCall { return n.call }

// Timepoint returns the time n last entered (or, with end set, left)
// state, or Unknown.
func (n *Node) Timepoint(state value.NodeState, end bool) value.Value {
	if tp, ok := n.timepoints[timepointKey{state, end}]; ok {
		return tp.Value()
	}
	return value.Unknown{}
}

func (n *Node) timepointVar(state value.NodeState, end bool) *expr.Variable {
	key := timepointKey{state, end}
	tp, ok := n.timepoints[key]
	if !ok {
		name := state.String() + ".START"
		if end {
			name = state.String() + ".END"
		}
		tp = expr.NewVariable(name, value.Unknown{})
		n.timepoints[key] = tp
	}
	return tp
}

// Find returns the descendant (or n itself) with the given id, searching
// depth first in plan order.
func (n *Node) Find(id string) *Node {
	if n.id == id {
		return n
	}
	for _, c := range n.children {
		if f := c.Find(id); f != nil {
			return f
		}
	}
	return nil
}

// Walk calls fn for n and every descendant, parents first.
func (n *Node) Walk(fn func(*Node)) {
	fn(n)
	for _, c := range n.children {
		c.Walk(fn)
	}
}

// resolve finds the node a reference by id denotes, as seen from n:
// n itself, its children, then each ancestor and that ancestor's children,
// and finally anywhere in the enclosing plan or library.
func (n *Node) resolve(id string) *Node {
	if n.id == id {
		return n
	}
	for _, c := range n.children {
		if c.id == id {
			return c
		}
	}
	for a := n.parent; a != nil; a = a.parent {
		if a.id == id {
			return a
		}
		for _, c := range a.children {
			if c.id == id {
				return c
			}
		}
		if a == n.scopeRoot {
			break
		}
	}
	return n.scopeRoot.Find(id)
}

// CheckConditions recomputes the destination state and reports the node
// to the scheduler if a transition became possible. Repeated changes that
// leave the destination as it was are not reported again.
func (n *Node) CheckConditions() {
	d := n.DestState().State
	if d == n.lastReported {
		return
	}
	n.lastReported = d
	if d != value.NoState {
		n.sched.AddCandidate(n)
	}
}

// Check computes the destination like DestState and records it as the
// last reported one. The executive calls it when it takes the node off the
// candidate queue.
func (n *Node) Check() Destination {
	d := n.DestState()
	n.lastReported = d.State
	return d
}

// Transition commits the move to d, which must come from DestState with
// no condition change since. now stamps the END timepoint of the old state
// and the START timepoint of the new one.
func (n *Node) Transition(d Destination, now float64) value.NodeState {
	from := n.State()
	n.transitionFrom(from, d)
	if d.Outcome != value.NoOutcome {
		n.outcome.Set(d.Outcome)
		if d.Failure != value.NoFailure {
			n.failure.Set(d.Failure)
		}
	}
	n.timepointVar(from, true).Set(value.Real(now))
	n.timepointVar(d.State, false).Set(value.Real(now))
	n.state.Set(d.State)
	n.transitionTo(d.State)

	n.lastReported = value.NoState
	n.CheckConditions()
	return from
}

func (n *Node) transitionFrom(from value.NodeState, d Destination) {
	switch from {
	case value.Inactive:
		if d.State == value.Waiting {
			n.activateConditions()
		}
	case value.Executing:
		n.leaveExecuting(d)
	case value.IterationEnded:
		if d.State == value.Waiting {
			n.reset()
		}
	case value.Finished:
		n.reset()
		for _, v := range n.locals {
			v.Reset()
		}
	}
	if d.State == value.Finished {
		n.deactivateConditions()
	}
}

func (n *Node) leaveExecuting(d Destination) {
	switch n.kind {
	case KindAssignment:
		n.assignment.deactivate()
		if d.Outcome == value.Failure {
			n.sched.EnqueueRetraction(n.assignment)
		}
	case KindCommand:
		n.command.deactivate()
		if d.State == value.Failing {
			n.sched.EnqueueAbort(n.command)
		}
	case KindUpdate:
		n.update.deactivate()
	case KindFunctionCall:
		n.call.deactivate()
	}
}

func (n *Node) transitionTo(to value.NodeState) {
	if to != value.Executing {
		return
	}
	switch n.kind {
	case KindAssignment:
		n.assignment.fix()
		n.sched.EnqueueAssignment(n.assignment)
	case KindCommand:
		n.command.fix()
		n.sched.EnqueueCommand(n.command)
	case KindUpdate:
		n.update.fix()
		n.sched.EnqueueUpdate(n.update)
	case KindFunctionCall:
		n.call.fix()
		n.sched.EnqueueFunctionCall(n.call)
	}
}

// reset clears the per-iteration record: outcome, failure, timepoints
// and the action's acknowledgements.
func (n *Node) reset() {
	n.outcome.Set(value.Unknown{})
	n.failure.Set(value.Unknown{})
	for _, tp := range n.timepoints {
		tp.Set(value.Unknown{})
	}
	switch {
	case n.assignment != nil:
		n.assignment.reset()
	case n.command != nil:
		n.command.reset()
	case n.update != nil:
		n.update.reset()
	case n.call != nil:
		n.call.reset()
	}
}

// activateConditions makes lookups in the user conditions live while the
// node is between WAITING and FINISHED.
func (n *Node) activateConditions() {
	if n.active {
		return
	}
	n.active = true
	for _, c := range n.user {
		if c != nil {
			c.Activate()
		}
	}
}

func (n *Node) deactivateConditions() {
	if !n.active {
		return
	}
	n.active = false
	for _, c := range n.user {
		if c != nil {
			c.Deactivate()
		}
	}
}

// Destroy tears the subtree down, children first. Condition subscriptions
// are cancelled before the expressions they listen to are closed.
func (n *Node) Destroy() {
	for _, c := range n.children {
		c.Destroy()
	}
	n.deactivateConditions()
	for _, s := range n.condSubs {
		s.Cancel()
	}
	n.condSubs = nil
	for i := len(n.owned) - 1; i >= 0; i-- {
		expr.Close(n.owned[i])
	}
	n.owned = nil
}
