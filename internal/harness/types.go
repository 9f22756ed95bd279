package harness

import (
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/roach88/plexec/internal/exec"
	"github.com/roach88/plexec/internal/node"
	"github.com/roach88/plexec/internal/plan"
	"github.com/roach88/plexec/internal/value"
)

// Trace event kinds.
const (
	EventPlan       = "plan"
	EventLibrary    = "library"
	EventTransition = "transition"
	EventInput      = "input"
	EventCommand    = "command"
	EventAbort      = "abort"
	EventCall       = "call"
	EventUpdate     = "update"
)

// TraceEvent is one line of a scenario trace.
type TraceEvent struct {
	Tick int    `json:"tick"`
	Kind string `json:"kind"`
	Text string `json:"text"`
}

// Tick is one round of script input followed by stepping to quiescence.
// Tick 0 loads the plan; tick i applies script event i-1.
type Tick struct {
	N    int     `json:"n"`
	Time float64 `json:"time"`
}

// Trace collects what happened during a scenario: the executive's
// transitions and plan loads, the script input and the actions the
// adapter was asked to perform, in the order they happened.
//
// Thread-safety: all methods are safe for concurrent use via internal mutex.
type Trace struct {
	mu     sync.Mutex
	ticks  []Tick
	events []TraceEvent
}

var _ exec.Listener = (*Trace)(nil)

// NewTrace creates an empty trace.
func NewTrace() *Trace {
	return &Trace{}
}

// BeginTick starts a new tick at time now. Events added before the first
// tick belong to tick 0.
func (t *Trace) BeginTick(now float64) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := len(t.ticks)
	t.ticks = append(t.ticks, Tick{N: n, Time: now})
	return n
}

// Add appends an event to the current tick.
func (t *Trace) Add(kind, format string, args ...any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	tick := 0
	if len(t.ticks) > 0 {
		tick = len(t.ticks) - 1
	}
	t.events = append(t.events, TraceEvent{Tick: tick, Kind: kind, Text: fmt.Sprintf(format, args...)})
}

// Events returns a copy of every event.
func (t *Trace) Events() []TraceEvent {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]TraceEvent(nil), t.events...)
}

// Ticks returns a copy of the ticks.
func (t *Trace) Ticks() []Tick {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Tick(nil), t.ticks...)
}

// Texts returns the text of every event of the given kinds, or of all
// events when no kind is given.
func (t *Trace) Texts(kinds ...string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []string
	for _, e := range t.events {
		if len(kinds) == 0 || slices.Contains(kinds, e.Kind) {
			out = append(out, e.Text)
		}
	}
	return out
}

// Render formats the trace as text, one tick header followed by its
// indented events:
//
//	scenario command_round_trip
//	tick 0 time=0
//	  + plan Drive
//	  Drive INACTIVE->WAITING
//	  > command drive(3)
//	tick 1 time=1
//	  < ack drive COMMAND_SUCCESS
func (t *Trace) Render(name string) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	var b strings.Builder
	fmt.Fprintf(&b, "scenario %s\n", name)
	i := 0
	for _, tk := range t.ticks {
		fmt.Fprintf(&b, "tick %d time=%s\n", tk.N, value.Real(tk.Time).String())
		for ; i < len(t.events) && t.events[i].Tick == tk.N; i++ {
			fmt.Fprintf(&b, "  %s%s\n", prefix(t.events[i].Kind), t.events[i].Text)
		}
	}
	return b.String()
}

func prefix(kind string) string {
	switch kind {
	case EventPlan, EventLibrary:
		return "+ "
	case EventInput:
		return "< "
	case EventCommand, EventAbort, EventCall, EventUpdate:
		return "> "
	}
	return ""
}

func (t *Trace) TransitionCommitted(tr exec.Transition) {
	t.Add(EventTransition, "%s", TransitionText(tr))
}

func (t *Trace) PlanAdded(_ string, root *node.Node) {
	t.Add(EventPlan, "plan %s", root.ID())
}

func (t *Trace) LibraryAdded(_ string, lib *plan.Node) {
	t.Add(EventLibrary, "library %s", lib.ID)
}

func (t *Trace) StepFinished(exec.StepStats) {}

// TransitionText renders a transition as "ID FROM->TO". A transition that
// ends an iteration also shows the outcome, and the failure type if any.
func TransitionText(tr exec.Transition) string {
	s := fmt.Sprintf("%s %s->%s", tr.Node.ID(), tr.From, tr.To)
	endsIteration := tr.To == value.IterationEnded ||
		(tr.To == value.Finished && tr.From != value.IterationEnded)
	if !endsIteration || tr.Outcome == value.NoOutcome {
		return s
	}
	s += " " + tr.Outcome.String()
	if tr.Failure != value.NoFailure {
		s += " " + tr.Failure.String()
	}
	return s
}

func formatCall(name string, args []value.Value) string {
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = a.String()
	}
	return name + "(" + strings.Join(parts, ", ") + ")"
}

// Result is the outcome of a scenario run.
type Result struct {
	// Pass is true if every expectation and assertion held.
	Pass bool `json:"pass"`

	// Trace holds everything that happened, tick by tick.
	Trace *Trace `json:"-"`

	// Errors lists the failed expectations and assertions.
	Errors []string `json:"errors,omitempty"`

	// Finished is true if every plan had finished after the last tick.
	Finished bool `json:"finished"`

	// Nodes maps the id of every node of the plan to its final state.
	Nodes map[string]NodeResult `json:"nodes"`
}

// NodeResult is the final state of one node.
type NodeResult struct {
	State   string `json:"state"`
	Outcome string `json:"outcome"`
	Failure string `json:"failure,omitempty"`
}

// NewResult creates a passing result around trace.
func NewResult(trace *Trace) *Result {
	return &Result{
		Pass:   true,
		Trace:  trace,
		Errors: []string{},
		Nodes:  make(map[string]NodeResult),
	}
}

// AddError records a failure and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}
