package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"

	"github.com/roach88/plexec/internal/app"
	"github.com/roach88/plexec/internal/exec"
	"github.com/roach88/plexec/internal/intfc"
	"github.com/roach88/plexec/internal/node"
	"github.com/roach88/plexec/internal/plan"
	"github.com/roach88/plexec/internal/store"
	"github.com/roach88/plexec/internal/testutil"
	"github.com/roach88/plexec/internal/value"
)

// Harness runs scenarios. Every run gets a fresh application, a manual
// clock starting at the scenario's start time and a fixed run ID, so the
// same scenario always produces the same trace.
type Harness struct {
	logger  *slog.Logger
	store   *store.Store
	arbiter intfc.Arbiter
}

// Option configures a Harness.
type Option func(*Harness)

// WithLogger sets the logger for the applications the harness runs. The
// default discards everything.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Harness) {
		h.logger = logger
	}
}

// WithStore records every run into s.
func WithStore(s *store.Store) Option {
	return func(h *Harness) {
		h.store = s
	}
}

// WithArbiter arbitrates command resources with arb.
func WithArbiter(arb intfc.Arbiter) Option {
	return func(h *Harness) {
		h.arbiter = arb
	}
}

// New creates a harness.
func New(opts ...Option) *Harness {
	h := &Harness{
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Run executes a scenario with a default harness.
func Run(scenario *Scenario) (*Result, error) {
	return New().Run(context.Background(), scenario)
}

// RunID returns the run ID the harness gives scenario's run.
func RunID(scenario *Scenario) string {
	return "scenario-" + scenario.Name
}

// Run executes a scenario and returns the result.
//
// Execution flow:
//  1. Load the libraries and the plan
//  2. Tick 0: queue them and step until quiescent
//  3. For each script event: apply it and step until quiescent
//  4. Check the expectations and assertions
//
// An error means the scenario could not be run at all: a malformed plan,
// or a script event answering an action that never happened. Failed
// expectations are reported in the Result instead.
func (h *Harness) Run(ctx context.Context, scenario *Scenario) (*Result, error) {
	root, err := plan.LoadFile(scenario.Plan)
	if err != nil {
		return nil, err
	}
	libs := make([]*plan.Node, 0, len(scenario.Libraries))
	for _, path := range scenario.Libraries {
		lib, err := plan.LoadFile(path)
		if err != nil {
			return nil, err
		}
		libs = append(libs, lib)
	}

	trace := NewTrace()
	clock := testutil.NewManualClock(scenario.StartTime)
	adapter, err := NewScriptAdapter(scenario.Adapter, WithClock(clock.Now), WithTrace(trace))
	if err != nil {
		return nil, fmt.Errorf("adapter: %w", err)
	}

	listeners := []exec.Listener{trace}
	var rec *store.Recorder
	if h.store != nil {
		rec = store.NewRecorder(h.store, h.logger)
		listeners = append(listeners, rec)
	}
	a := app.New(intfc.NewRegistry(intfc.WithDefaultAdapter(adapter)),
		app.WithLogger(h.logger),
		app.WithArbiter(h.arbiter),
		app.WithListener(listeners...),
		app.WithExecOptions(exec.WithRunIDs(testutil.NewFixedRunIDs(RunID(scenario)))),
	)
	if err := a.Initialize(); err != nil {
		return nil, err
	}
	if err := a.Start(); err != nil {
		return nil, err
	}
	defer func() {
		_ = a.Stop()
		_ = a.Shutdown()
	}()

	for _, lib := range libs {
		if err := a.AddLibrary(lib); err != nil {
			return nil, err
		}
	}
	if err := a.AddPlan(root); err != nil {
		return nil, err
	}

	trace.BeginTick(clock.Now())
	if err := a.StepUntilQuiescent(ctx); err != nil {
		return nil, fmt.Errorf("tick 0: %w", err)
	}

	for i, ev := range scenario.Script {
		if ev.Time != nil {
			clock.Set(*ev.Time)
		}
		trace.BeginTick(clock.Now())
		if err := h.apply(ctx, adapter, ev); err != nil {
			return nil, fmt.Errorf("script[%d]: %w", i, err)
		}
		if err := a.StepUntilQuiescent(ctx); err != nil {
			return nil, fmt.Errorf("tick %d: %w", i+1, err)
		}
	}

	if rec != nil {
		if err := rec.Err(); err != nil {
			return nil, err
		}
	}

	result := NewResult(trace)
	result.Finished = a.AllPlansFinished()
	for _, r := range a.Executive().Roots() {
		r.Walk(func(n *node.Node) {
			nr := NodeResult{State: n.State().String(), Outcome: n.Outcome().String()}
			if n.Failure() != value.NoFailure {
				nr.Failure = n.Failure().String()
			}
			result.Nodes[n.ID()] = nr
		})
	}
	for _, e := range scenario.Expect {
		checkExpectation(a.Executive(), e, result)
	}
	for _, msg := range EvaluateAssertions(result, scenario.Assertions) {
		result.AddError(msg)
	}

	h.logger.Info("scenario finished",
		"scenario", scenario.Name,
		"ticks", len(trace.Ticks()),
		"pass", result.Pass,
	)
	return result, nil
}

// apply hands one script event to the adapter.
func (h *Harness) apply(ctx context.Context, adapter *ScriptAdapter, ev Event) error {
	if ev.Time != nil {
		adapter.ReportTime(ctx)
	}
	if l := ev.Lookup; l != nil {
		state, err := l.ToState()
		if err != nil {
			return err
		}
		v, err := value.FromAny(l.Value)
		if err != nil {
			return fmt.Errorf("lookup %s: %w", state.Key(), err)
		}
		adapter.SetLookup(ctx, state, v)
	}
	if r := ev.CommandReturn; r != nil {
		v, err := value.FromAny(r.Value)
		if err != nil {
			return fmt.Errorf("command_return %s: %w", r.Name, err)
		}
		if err := adapter.ReturnCommand(ctx, r.Name, v); err != nil {
			return err
		}
	}
	if ack := ev.CommandAck; ack != nil {
		handle, err := value.ParseCommandHandle(ack.Handle)
		if err != nil {
			return err
		}
		if err := adapter.AckCommand(ctx, ack.Name, handle); err != nil {
			return err
		}
	}
	if r := ev.FunctionReturn; r != nil {
		v, err := value.FromAny(r.Value)
		if err != nil {
			return fmt.Errorf("function_return %s: %w", r.Name, err)
		}
		if err := adapter.ReturnFunction(ctx, r.Name, v); err != nil {
			return err
		}
	}
	if u := ev.UpdateAck; u != nil {
		if err := adapter.AckUpdate(ctx, u.Node); err != nil {
			return err
		}
	}
	return nil
}

func checkExpectation(e *exec.Executive, want Expectation, result *Result) {
	n := e.Node(want.Node)
	if n == nil {
		result.AddError(fmt.Sprintf("node %s: not found", want.Node))
		return
	}
	if want.State != "" && n.State().String() != want.State {
		result.AddError(fmt.Sprintf("node %s: state %s, expected %s", want.Node, n.State(), want.State))
	}
	if want.Outcome != "" && n.Outcome().String() != want.Outcome {
		result.AddError(fmt.Sprintf("node %s: outcome %s, expected %s", want.Node, n.Outcome(), want.Outcome))
	}
	if want.Failure != "" && n.Failure().String() != want.Failure {
		result.AddError(fmt.Sprintf("node %s: failure %s, expected %s", want.Node, n.Failure(), want.Failure))
	}

	names := make([]string, 0, len(want.Variables))
	for name := range want.Variables {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		v, ok := n.Variable(name)
		if !ok {
			result.AddError(fmt.Sprintf("node %s: no variable %s", want.Node, name))
			continue
		}
		expected, err := value.FromAny(want.Variables[name])
		if err != nil {
			result.AddError(fmt.Sprintf("node %s: variable %s: %v", want.Node, name, err))
			continue
		}
		if !value.Equal(v.Value(), expected) {
			result.AddError(fmt.Sprintf("node %s: variable %s = %s, expected %s", want.Node, name, v.Value(), expected))
		}
	}
}
