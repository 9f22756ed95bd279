package exec_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/plexec/internal/exec"
	"github.com/roach88/plexec/internal/logging"
	"github.com/roach88/plexec/internal/node"
	"github.com/roach88/plexec/internal/plan"
	"github.com/roach88/plexec/internal/testutil"
	"github.com/roach88/plexec/internal/value"
)

// recordingDispatcher keeps every batch the executive hands out.
type recordingDispatcher struct {
	commands [][]*node.Command
	aborts   [][]*node.Command
	updates  [][]*node.Update
	calls    [][]*node.FunctionCall
}

func (d *recordingDispatcher) ExecuteCommands(_ context.Context, cmds []*node.Command) {
	d.commands = append(d.commands, cmds)
}

func (d *recordingDispatcher) InvokeAborts(_ context.Context, cmds []*node.Command) {
	d.aborts = append(d.aborts, cmds)
}

func (d *recordingDispatcher) SendUpdates(_ context.Context, updates []*node.Update) {
	d.updates = append(d.updates, updates)
}

func (d *recordingDispatcher) ExecuteFunctionCalls(_ context.Context, calls []*node.FunctionCall) {
	d.calls = append(d.calls, calls)
}

func newExec(t *testing.T, opts ...exec.Option) (*exec.Executive, *recordingDispatcher, *testutil.RecordingListener) {
	t.Helper()
	d := &recordingDispatcher{}
	rec := testutil.NewRecordingListener()
	opts = append([]exec.Option{
		exec.WithLogger(logging.NewNop()),
		exec.WithListener(rec),
		exec.WithRunIDs(testutil.NewFixedRunIDs("run-test")),
	}, opts...)
	return exec.New(d, nil, opts...), d, rec
}

func step(t *testing.T, e *exec.Executive, now float64) {
	t.Helper()
	require.NoError(t, e.Step(context.Background(), now))
	assertFixedPoint(t, e)
}

// assertFixedPoint checks that after a step no node could still move,
// except assignment nodes held back by a resource conflict.
func assertFixedPoint(t *testing.T, e *exec.Executive) {
	t.Helper()
	parked := map[*node.Node]bool{}
	for _, n := range e.Parked() {
		parked[n] = true
	}
	for _, r := range e.Roots() {
		r.Walk(func(n *node.Node) {
			if parked[n] {
				return
			}
			assert.Equal(t, node.NoTransition, n.DestState(), "%s can still move after Step", n.Path())
		})
	}
}

func intVar(name string, initial int) plan.VarDecl {
	return plan.VarDecl{Name: name, Type: plan.VarInteger, Initial: initial}
}

func boolVar(name string, initial bool) plan.VarDecl {
	return plan.VarDecl{Name: name, Type: plan.VarBoolean, Initial: initial}
}

func assign(id string, priority int, v string, x int64) *plan.Node {
	return &plan.Node{
		ID:         id,
		Type:       plan.TypeAssignment,
		Priority:   &priority,
		Assignment: &plan.Assignment{Var: v, Value: plan.IntLit(x)},
	}
}

func TestExecutive_EmptyPlanCommitsInOrder(t *testing.T) {
	e, _, rec := newExec(t)
	require.NoError(t, e.AddPlan(&plan.Node{ID: "Root", Type: plan.TypeEmpty}))
	assert.Equal(t, []string{"Root"}, rec.Plans())
	assert.True(t, e.NeedsStep())

	step(t, e, 1)

	assert.Equal(t, []string{
		"Root INACTIVE->WAITING",
		"Root WAITING->EXECUTING",
		"Root EXECUTING->ITERATION_ENDED",
		"Root ITERATION_ENDED->FINISHED",
	}, rec.Log())
	for _, tr := range rec.Transitions() {
		assert.Equal(t, "run-test", tr.RunID)
		assert.Equal(t, 1.0, tr.Time)
		assert.Equal(t, uint64(1), tr.Step)
	}
	last := rec.Transitions()[3]
	assert.Equal(t, value.Success, last.Outcome)

	steps := rec.Steps()
	require.Len(t, steps, 1)
	assert.Equal(t, 4, steps[0].Transitions)
	assert.Equal(t, 4, steps[0].MicroSteps)
	assert.False(t, e.NeedsStep())
	assert.True(t, e.AllPlansFinished())
}

// A command starts, is dispatched in the step's batch, and finishes with
// SUCCESS on the step after its handle and return value arrive.
func TestExecutive_CommandRoundTrip(t *testing.T) {
	e, d, rec := newExec(t)
	p := &plan.Node{
		ID:        "Drive",
		Type:      plan.TypeCommand,
		Variables: []plan.VarDecl{intVar("result", 0)},
		Conditions: map[string]*plan.Expr{
			plan.CondStart: plan.BoolLit(true),
		},
		Command: &plan.Command{Name: "drive", Args: []*plan.Expr{plan.IntLit(3)}, Result: "result"},
	}
	require.NoError(t, e.AddPlan(p))

	step(t, e, 1)
	drive := e.Node("Drive")
	require.Equal(t, value.Executing, drive.State())
	require.Len(t, d.commands, 1)
	require.Len(t, d.commands[0], 1)
	cmd := d.commands[0][0]
	assert.Same(t, drive.Command(), cmd)
	assert.Equal(t, []value.Value{value.Int(3)}, cmd.Args())
	assert.False(t, e.NeedsStep())

	cmd.Handle().Set(value.CommandSuccess)
	cmd.Dest().Set(value.Int(7))
	assert.True(t, e.NeedsStep())

	step(t, e, 2)
	assert.Equal(t, value.Finished, drive.State())
	assert.Equal(t, value.Success, drive.Outcome())
	result, _ := drive.Variable("result")
	assert.Equal(t, value.Int(7), result.Value())
	assert.Contains(t, rec.Log(), "Drive EXECUTING->ITERATION_ENDED")
	assert.Len(t, d.commands, 1, "no command is sent twice")
}

// Two assignments to the same variable become eligible together: the
// better priority runs first and the other one waits for a later step.
func TestExecutive_AssignmentConflictByPriority(t *testing.T) {
	e, _, rec := newExec(t)
	p := &plan.Node{
		ID:        "Root",
		Type:      plan.TypeList,
		Variables: []plan.VarDecl{intVar("x", 0)},
		Children: []*plan.Node{
			assign("Low", 10, "x", 10),
			assign("High", 5, "x", 5),
		},
	}
	require.NoError(t, e.AddPlan(p))

	step(t, e, 1)
	root := e.Node("Root")
	x, _ := root.Variable("x")
	low, high := e.Node("Low"), e.Node("High")

	assert.Equal(t, value.Int(5), x.Value())
	assert.Equal(t, value.Finished, high.State())
	assert.Equal(t, value.Waiting, low.State())
	assert.Equal(t, -1, rec.Index("Low WAITING->EXECUTING"), "the loser is not executed")
	assert.Equal(t, []*node.Node{low}, e.Parked())
	assert.True(t, e.NeedsStep())

	step(t, e, 2)
	assert.Equal(t, value.Int(10), x.Value())
	assert.Equal(t, value.Finished, low.State())
	assert.Equal(t, value.Success, low.Outcome())
	assert.Equal(t, value.Finished, root.State())
	assert.Empty(t, e.Parked())
	assert.Less(t, rec.Index("High EXECUTING->ITERATION_ENDED"), rec.Index("Low WAITING->EXECUTING"))
}

func TestExecutive_EqualPrioritiesGoToFirstQueued(t *testing.T) {
	e, _, _ := newExec(t)
	p := &plan.Node{
		ID:        "Root",
		Type:      plan.TypeList,
		Variables: []plan.VarDecl{intVar("x", 0)},
		Children: []*plan.Node{
			assign("First", 3, "x", 1),
			assign("Second", 3, "x", 2),
		},
	}
	require.NoError(t, e.AddPlan(p))

	step(t, e, 1)
	assert.Equal(t, value.Finished, e.Node("First").State())
	assert.Equal(t, value.Waiting, e.Node("Second").State())
}

func TestExecutive_UnprioritizedAssignmentLoses(t *testing.T) {
	e, _, _ := newExec(t)
	p := &plan.Node{
		ID:        "Root",
		Type:      plan.TypeList,
		Variables: []plan.VarDecl{intVar("x", 0)},
		Children: []*plan.Node{
			{ID: "Plain", Type: plan.TypeAssignment, Assignment: &plan.Assignment{Var: "x", Value: plan.IntLit(1)}},
			assign("Ranked", 100, "x", 2),
		},
	}
	require.NoError(t, e.AddPlan(p))

	step(t, e, 1)
	assert.Equal(t, node.WorstPriority, e.Node("Plain").Priority())
	assert.Equal(t, value.Finished, e.Node("Ranked").State())
	assert.Equal(t, value.Waiting, e.Node("Plain").State())
}

// A better-priority assignment never displaces one already executing on
// the same variable.
func TestExecutive_ExecutingAssignmentIsNotDisplaced(t *testing.T) {
	e, _, rec := newExec(t)
	slowStarted := plan.Apply("is_known", &plan.Expr{Timepoint: &plan.Timepoint{Node: "Slow", State: "EXECUTING"}})
	slowPriority := 10
	p := &plan.Node{
		ID:        "Root",
		Type:      plan.TypeList,
		Variables: []plan.VarDecl{intVar("x", 0), boolVar("done", false)},
		Children: []*plan.Node{
			{
				ID:         "Slow",
				Type:       plan.TypeAssignment,
				Priority:   &slowPriority,
				Conditions: map[string]*plan.Expr{plan.CondEnd: plan.VarRef("done")},
				Assignment: &plan.Assignment{Var: "x", Value: plan.IntLit(10)},
			},
			{
				ID:         "Urgent",
				Type:       plan.TypeAssignment,
				Priority:   new(int),
				Conditions: map[string]*plan.Expr{plan.CondStart: slowStarted},
				Assignment: &plan.Assignment{Var: "x", Value: plan.IntLit(1)},
			},
		},
	}
	require.NoError(t, e.AddPlan(p))

	step(t, e, 1)
	slow, urgent := e.Node("Slow"), e.Node("Urgent")
	x, _ := e.Node("Root").Variable("x")
	assert.Equal(t, value.Executing, slow.State())
	assert.Equal(t, value.Waiting, urgent.State())
	assert.Equal(t, value.Int(10), x.Value())
	assert.Equal(t, []*node.Node{urgent}, e.Parked())

	done, _ := e.Node("Root").Variable("done")
	done.Set(value.Bool(true))
	step(t, e, 2)
	assert.Equal(t, value.Finished, slow.State())
	assert.Equal(t, value.Waiting, urgent.State())

	step(t, e, 3)
	assert.Equal(t, value.Finished, urgent.State())
	assert.Equal(t, value.Int(1), x.Value())
	assert.Equal(t, -1, rec.Index("Slow EXECUTING->FAILING"))
	assert.Equal(t, value.Finished, e.Node("Root").State())
}

func TestExecutive_BatchesActions(t *testing.T) {
	e, d, _ := newExec(t)
	p := &plan.Node{
		ID:        "Root",
		Type:      plan.TypeList,
		Variables: []plan.VarDecl{boolVar("ok", true), intVar("r", 0)},
		Conditions: map[string]*plan.Expr{
			plan.CondInvariant: plan.VarRef("ok"),
		},
		Children: []*plan.Node{
			{ID: "Left", Type: plan.TypeCommand, Command: &plan.Command{Name: "left"}},
			{ID: "Right", Type: plan.TypeCommand, Command: &plan.Command{Name: "right"}},
			{ID: "Tell", Type: plan.TypeUpdate, Update: &plan.Update{Pairs: []plan.Pair{{Name: "progress", Value: plan.IntLit(1)}}}},
			{ID: "Ask", Type: plan.TypeFunctionCall, Function: &plan.FunctionCall{Name: "sqrt", Args: []*plan.Expr{plan.RealLit(4)}, Result: "r"}},
		},
	}
	require.NoError(t, e.AddPlan(p))

	step(t, e, 1)
	require.Len(t, d.commands, 1, "commands go out as one batch")
	names := []string{d.commands[0][0].Name(), d.commands[0][1].Name()}
	assert.Equal(t, []string{"left", "right"}, names)
	require.Len(t, d.updates, 1)
	assert.Equal(t, []node.UpdatePair{{Name: "progress", Value: value.Int(1)}}, d.updates[0][0].Pairs())
	require.Len(t, d.calls, 1)
	assert.Equal(t, "sqrt", d.calls[0][0].Name())
	assert.Empty(t, d.aborts)

	ok, _ := e.Node("Root").Variable("ok")
	ok.Set(value.Bool(false))
	step(t, e, 2)

	require.Len(t, d.aborts, 1)
	assert.Len(t, d.aborts[0], 2, "both executing commands are aborted together")
	assert.Equal(t, value.Failing, e.Node("Left").State())
}

func TestExecutive_QuiescenceValve(t *testing.T) {
	e, _, _ := newExec(t, exec.WithMaxIterations(50))
	p := &plan.Node{
		ID:         "Loop",
		Type:       plan.TypeEmpty,
		Conditions: map[string]*plan.Expr{plan.CondRepeat: plan.BoolLit(true)},
	}
	require.NoError(t, e.AddPlan(p))

	err := e.Step(context.Background(), 1)
	require.Error(t, err)
	assert.True(t, exec.IsQuiescenceError(err))

	var qe *exec.QuiescenceExceededError
	require.ErrorAs(t, err, &qe)
	assert.Equal(t, 50, qe.Limit)
	assert.Equal(t, []string{"Loop"}, qe.Pending)
}

func TestExecutive_StepHonorsCancelledContext(t *testing.T) {
	e, _, rec := newExec(t)
	require.NoError(t, e.AddPlan(&plan.Node{ID: "Root", Type: plan.TypeEmpty}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, e.Step(ctx, 1), context.Canceled)
	assert.Empty(t, rec.Log())
	assert.True(t, e.NeedsStep())
}

func TestExecutive_StepStopsBetweenMicroSteps(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	e, _, rec := newExec(t, exec.WithListener(exec.Hooks{
		OnTransition: func(exec.Transition) { cancel() },
	}))
	require.NoError(t, e.AddPlan(&plan.Node{ID: "Root", Type: plan.TypeEmpty}))

	assert.ErrorIs(t, e.Step(ctx, 1), context.Canceled)
	assert.Equal(t, []string{"Root INACTIVE->WAITING"}, rec.Log())
	assert.True(t, e.NeedsStep())

	step(t, e, 2)
	assert.Equal(t, []string{
		"Root INACTIVE->WAITING",
		"Root WAITING->EXECUTING",
		"Root EXECUTING->ITERATION_ENDED",
		"Root ITERATION_ENDED->FINISHED",
	}, rec.Log())
	assert.True(t, e.AllPlansFinished())
}

func TestExecutive_AddPlanErrors(t *testing.T) {
	e, _, _ := newExec(t)

	err := e.AddPlan(&plan.Node{ID: "Bad", Type: plan.TypeCommand})
	require.Error(t, err)
	assert.True(t, plan.IsMalformed(err))

	require.NoError(t, e.AddPlan(&plan.Node{ID: "Root", Type: plan.TypeEmpty}))
	err = e.AddPlan(&plan.Node{ID: "Root", Type: plan.TypeEmpty})
	assert.True(t, exec.IsDuplicatePlan(err))

	err = e.AddPlan(&plan.Node{ID: "Caller", Type: plan.TypeLibraryCall, Library: &plan.LibraryCall{Name: "Nav"}})
	assert.True(t, exec.IsMissingLibrary(err))
	assert.ErrorContains(t, err, "Nav")
	assert.Len(t, e.Roots(), 1)
}

func TestExecutive_PlanWaitsForLibrary(t *testing.T) {
	e, _, rec := newExec(t)
	caller := &plan.Node{
		ID:   "Caller",
		Type: plan.TypeList,
		Children: []*plan.Node{
			{ID: "CallNav", Type: plan.TypeLibraryCall, Library: &plan.LibraryCall{Name: "Nav"}},
		},
	}

	added, err := e.AddPlanWhenReady(caller)
	require.NoError(t, err)
	assert.False(t, added)
	assert.Equal(t, []string{"Caller"}, e.WaitingPlans())
	assert.False(t, e.NeedsStep())

	require.NoError(t, e.AddLibrary(&plan.Node{ID: "Nav", Type: plan.TypeEmpty}))
	assert.Equal(t, []string{"Nav"}, rec.Libraries())
	assert.Equal(t, []string{"Caller"}, rec.Plans())
	assert.Empty(t, e.WaitingPlans())

	step(t, e, 1)
	assert.Equal(t, value.Finished, e.Node("Caller").State())
	assert.Equal(t, value.Finished, e.Node("Nav").State())
	assert.Equal(t, "Caller/CallNav/Nav", e.Node("Nav").Path())
}

func TestExecutive_DeleteFinishedPlans(t *testing.T) {
	e, _, _ := newExec(t)
	assert.False(t, e.AllPlansFinished(), "nothing has run yet")

	require.NoError(t, e.AddPlan(&plan.Node{ID: "Quick", Type: plan.TypeEmpty}))
	require.NoError(t, e.AddPlan(&plan.Node{
		ID:         "Blocked",
		Type:       plan.TypeEmpty,
		Conditions: map[string]*plan.Expr{plan.CondStart: plan.BoolLit(false)},
	}))
	step(t, e, 1)
	assert.False(t, e.AllPlansFinished())

	e.DeleteFinishedPlans()
	require.Len(t, e.Roots(), 1)
	assert.Equal(t, "Blocked", e.Roots()[0].ID())
	assert.Nil(t, e.Node("Quick"))
	assert.False(t, e.AllPlansFinished())

	// The id of a deleted plan may be reused.
	require.NoError(t, e.AddPlan(&plan.Node{ID: "Quick", Type: plan.TypeEmpty}))
}

func TestExecutive_AllPlansFinishedAfterDeletion(t *testing.T) {
	e, _, _ := newExec(t)
	require.NoError(t, e.AddPlan(&plan.Node{ID: "Quick", Type: plan.TypeEmpty}))
	step(t, e, 1)

	e.DeleteFinishedPlans()
	assert.Empty(t, e.Roots())
	assert.True(t, e.AllPlansFinished())
}

// Every transition a listener sees is between two real node states.
func TestExecutive_StatesStayValid(t *testing.T) {
	e, d, rec := newExec(t)
	p := &plan.Node{
		ID:        "Root",
		Type:      plan.TypeList,
		Variables: []plan.VarDecl{intVar("x", 0), intVar("n", 0)},
		Children: []*plan.Node{
			assign("A", 1, "x", 1),
			assign("B", 2, "x", 2),
			{
				ID:   "Count",
				Type: plan.TypeAssignment,
				Conditions: map[string]*plan.Expr{
					plan.CondRepeat: plan.Apply("lt", plan.VarRef("n"), plan.IntLit(3)),
				},
				Assignment: &plan.Assignment{Var: "n", Value: plan.Apply("add", plan.VarRef("n"), plan.IntLit(1))},
			},
			{ID: "Cmd", Type: plan.TypeCommand, Command: &plan.Command{Name: "go"}},
		},
	}
	require.NoError(t, e.AddPlan(p))

	for now := 1.0; now < 6; now++ {
		step(t, e, now)
		for _, batch := range d.commands {
			for _, c := range batch {
				if c.HandleValue() == value.NoHandle {
					c.Handle().Set(value.CommandSuccess)
				}
			}
		}
	}

	for _, tr := range rec.Transitions() {
		assert.True(t, tr.From.Valid(), tr.Node.Path())
		assert.True(t, tr.To.Valid(), tr.Node.Path())
		assert.NotEqual(t, tr.From, tr.To, tr.Node.Path())
	}
	n, _ := e.Node("Root").Variable("n")
	assert.Equal(t, value.Int(3), n.Value())
	assert.True(t, e.AllPlansFinished())
}

func TestHooks_SkipNilFields(t *testing.T) {
	var got []string
	h := exec.Hooks{OnPlan: func(_ string, root *node.Node) { got = append(got, root.ID()) }}

	e, _, _ := newExec(t, exec.WithListener(h))
	require.NoError(t, e.AddPlan(&plan.Node{ID: "Root", Type: plan.TypeEmpty}))
	step(t, e, 1)

	assert.Equal(t, []string{"Root"}, got)
}
