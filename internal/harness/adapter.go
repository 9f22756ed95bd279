package harness

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/roach88/plexec/internal/intfc"
	"github.com/roach88/plexec/internal/node"
	"github.com/roach88/plexec/internal/value"
)

// ScriptAdapter is an interface adapter driven by a script instead of a
// real system. It remembers every command, function call and update it
// is asked to perform and answers them when the script says so, or at
// once for the responses configured up front. Aborts always complete at
// once.
//
// Thread-safety: all methods are safe for concurrent use via internal
// mutex. Reports to the executive are made outside the lock.
type ScriptAdapter struct {
	mu       sync.Mutex
	reporter intfc.Reporter
	clock    func() float64
	trace    *Trace
	values   map[string]value.Value

	commandResponses  map[string]CommandResponse
	functionResponses map[string]FunctionResponse
	ackUpdates        bool

	commands []*node.Command
	calls    []*node.FunctionCall
	updates  []*node.Update
}

var _ intfc.Adapter = (*ScriptAdapter)(nil)

// ScriptOption configures a ScriptAdapter.
type ScriptOption func(*ScriptAdapter)

// WithClock answers time lookups from clock. Without it the time is
// Unknown.
func WithClock(clock func() float64) ScriptOption {
	return func(a *ScriptAdapter) {
		a.clock = clock
	}
}

// WithTrace records script input and dispatched actions in t.
func WithTrace(t *Trace) ScriptOption {
	return func(a *ScriptAdapter) {
		a.trace = t
	}
}

// NewScriptAdapter creates an adapter answering from cfg.
func NewScriptAdapter(cfg AdapterConfig, opts ...ScriptOption) (*ScriptAdapter, error) {
	a := &ScriptAdapter{
		values:            make(map[string]value.Value),
		commandResponses:  make(map[string]CommandResponse),
		functionResponses: make(map[string]FunctionResponse),
		ackUpdates:        cfg.AckUpdates,
	}
	for _, opt := range opts {
		opt(a)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	for _, l := range cfg.Lookups {
		state, err := l.ToState()
		if err != nil {
			return nil, err
		}
		v, err := value.FromAny(l.Value)
		if err != nil {
			return nil, fmt.Errorf("lookup %s: %w", state.Key(), err)
		}
		a.values[state.Key()] = v
	}
	for _, r := range cfg.Commands {
		a.commandResponses[r.Name] = r
	}
	for _, r := range cfg.Functions {
		a.functionResponses[r.Name] = r
	}
	return a, nil
}

func (a *ScriptAdapter) record(kind, format string, args ...any) {
	if a.trace != nil {
		a.trace.Add(kind, format, args...)
	}
}

func (a *ScriptAdapter) Start(r intfc.Reporter) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.reporter = r
	return nil
}

func (a *ScriptAdapter) Stop() error { return nil }

func (a *ScriptAdapter) LookupNow(state value.State) value.Value {
	if state.IsTime() && a.clock != nil {
		return value.Real(a.clock())
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if v, ok := a.values[state.Key()]; ok {
		return v
	}
	return value.Unknown{}
}

// Subscriptions need no bookkeeping: every scripted value is reported.
func (a *ScriptAdapter) SubscribeChange(value.State, float64)    {}
func (a *ScriptAdapter) UnsubscribeChange(value.State)           {}
func (a *ScriptAdapter) SubscribeFrequency(value.State, float64) {}
func (a *ScriptAdapter) UnsubscribeFrequency(value.State)        {}

func (a *ScriptAdapter) ExecuteCommand(ctx context.Context, cmd *node.Command) {
	a.mu.Lock()
	a.commands = append(a.commands, cmd)
	resp, auto := a.commandResponses[cmd.Name()]
	a.mu.Unlock()

	a.record(EventCommand, "command %s", formatCall(cmd.Name(), cmd.Args()))
	if !auto {
		return
	}
	if resp.Result != nil {
		v, err := value.FromAny(resp.Result)
		if err == nil && cmd.Dest() != nil {
			a.record(EventInput, "return %s = %s", cmd.Name(), v)
			a.reporter.HandleValueChange(cmd.Dest(), v)
		}
	}
	h := value.CommandSuccess
	if resp.Handle != "" {
		h, _ = value.ParseCommandHandle(resp.Handle)
	}
	a.record(EventInput, "ack %s %s", cmd.Name(), h)
	a.reporter.HandleValueChange(cmd.Handle(), h)
	a.reporter.NotifyOfExternalEvent(ctx)
}

func (a *ScriptAdapter) InvokeAbort(ctx context.Context, cmd *node.Command) {
	a.record(EventAbort, "abort %s", cmd.Name())
	a.reporter.HandleValueChange(cmd.AbortAck(), value.Bool(true))
	a.reporter.NotifyOfExternalEvent(ctx)
}

func (a *ScriptAdapter) ExecuteFunctionCall(ctx context.Context, call *node.FunctionCall) {
	a.mu.Lock()
	a.calls = append(a.calls, call)
	resp, auto := a.functionResponses[call.Name()]
	a.mu.Unlock()

	a.record(EventCall, "call %s", formatCall(call.Name(), call.Args()))
	if !auto {
		return
	}
	v, err := value.FromAny(resp.Result)
	if err != nil {
		v = value.Unknown{}
	}
	a.returnFunction(call, v)
	a.reporter.NotifyOfExternalEvent(ctx)
}

func (a *ScriptAdapter) SendPlannerUpdate(ctx context.Context, u *node.Update) {
	a.mu.Lock()
	a.updates = append(a.updates, u)
	auto := a.ackUpdates
	a.mu.Unlock()

	pairs := make([]string, len(u.Pairs()))
	for i, p := range u.Pairs() {
		pairs[i] = p.Name + "=" + p.Value.String()
	}
	a.record(EventUpdate, "update %s %s", u.Node().ID(), strings.Join(pairs, " "))
	if !auto {
		return
	}
	a.record(EventInput, "update_ack %s", u.Node().ID())
	a.reporter.HandleValueChange(u.Ack(), value.Bool(true))
	a.reporter.NotifyOfExternalEvent(ctx)
}

// SetLookup changes an external state and reports the new value.
func (a *ScriptAdapter) SetLookup(ctx context.Context, state value.State, v value.Value) {
	a.mu.Lock()
	a.values[state.Key()] = v
	a.mu.Unlock()

	a.record(EventInput, "lookup %s = %s", state.Key(), v)
	a.reporter.HandleLookupValues(state, v)
	a.reporter.NotifyOfExternalEvent(ctx)
}

// ReportTime reports the clock's current time.
func (a *ScriptAdapter) ReportTime(ctx context.Context) {
	if a.clock == nil {
		return
	}
	a.reporter.HandleLookupValues(value.TimeState, value.Real(a.clock()))
	a.reporter.NotifyOfExternalEvent(ctx)
}

// AckCommand delivers handle h to the last dispatch of the named command.
func (a *ScriptAdapter) AckCommand(ctx context.Context, name string, h value.CommandHandle) error {
	cmd, err := a.lastCommand(name)
	if err != nil {
		return err
	}
	a.record(EventInput, "ack %s %s", name, h)
	a.reporter.HandleValueChange(cmd.Handle(), h)
	a.reporter.NotifyOfExternalEvent(ctx)
	return nil
}

// ReturnCommand delivers the return value of the last dispatch of the
// named command. A command without a result variable drops the value.
func (a *ScriptAdapter) ReturnCommand(ctx context.Context, name string, v value.Value) error {
	cmd, err := a.lastCommand(name)
	if err != nil {
		return err
	}
	a.record(EventInput, "return %s = %s", name, v)
	if cmd.Dest() == nil {
		return nil
	}
	a.reporter.HandleValueChange(cmd.Dest(), v)
	a.reporter.NotifyOfExternalEvent(ctx)
	return nil
}

// ReturnFunction delivers the result of the last call of the named
// function and acknowledges it.
func (a *ScriptAdapter) ReturnFunction(ctx context.Context, name string, v value.Value) error {
	a.mu.Lock()
	var call *node.FunctionCall
	for i := len(a.calls) - 1; i >= 0; i-- {
		if a.calls[i].Name() == name {
			call = a.calls[i]
			break
		}
	}
	a.mu.Unlock()
	if call == nil {
		return fmt.Errorf("no function call %q", name)
	}
	a.returnFunction(call, v)
	a.reporter.NotifyOfExternalEvent(ctx)
	return nil
}

func (a *ScriptAdapter) returnFunction(call *node.FunctionCall, v value.Value) {
	a.record(EventInput, "result %s = %s", call.Name(), v)
	if call.Dest() != nil {
		a.reporter.HandleValueChange(call.Dest(), v)
	}
	a.reporter.HandleValueChange(call.Ack(), value.Bool(true))
}

// AckUpdate acknowledges the last update sent by the node with id nodeID.
func (a *ScriptAdapter) AckUpdate(ctx context.Context, nodeID string) error {
	a.mu.Lock()
	var u *node.Update
	for i := len(a.updates) - 1; i >= 0; i-- {
		if a.updates[i].Node().ID() == nodeID {
			u = a.updates[i]
			break
		}
	}
	a.mu.Unlock()
	if u == nil {
		return fmt.Errorf("no update from node %q", nodeID)
	}
	a.record(EventInput, "update_ack %s", nodeID)
	a.reporter.HandleValueChange(u.Ack(), value.Bool(true))
	a.reporter.NotifyOfExternalEvent(ctx)
	return nil
}

func (a *ScriptAdapter) lastCommand(name string) (*node.Command, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i := len(a.commands) - 1; i >= 0; i-- {
		if a.commands[i].Name() == name {
			return a.commands[i], nil
		}
	}
	return nil, fmt.Errorf("no command %q was dispatched", name)
}

// Commands returns the names of the dispatched commands, in order.
func (a *ScriptAdapter) Commands() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	names := make([]string, len(a.commands))
	for i, c := range a.commands {
		names[i] = c.Name()
	}
	return names
}
