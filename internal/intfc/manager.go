package intfc

import (
	"context"
	"log/slog"

	"github.com/roach88/plexec/internal/exec"
	"github.com/roach88/plexec/internal/expr"
	"github.com/roach88/plexec/internal/mailbox"
	"github.com/roach88/plexec/internal/node"
	"github.com/roach88/plexec/internal/plan"
	"github.com/roach88/plexec/internal/value"
)

// PlanSink receives the plans and libraries drained from the mailbox.
// The executive implements it.
type PlanSink interface {
	AddPlanWhenReady(p *plan.Node) (bool, error)
	AddLibrary(lib *plan.Node) error
}

// Manager connects the executive to its adapters.
//
// Adapters report through the Reporter methods from any goroutine; those
// only enqueue. Everything else (ProcessQueue, the Dispatcher methods and
// the state cache) runs on the exec goroutine.
type Manager struct {
	logger   *slog.Logger
	registry *Registry
	arbiter  Arbiter
	cache    *StateCache
	queue    *mailbox.Queue
	sink     PlanSink
	notify   func(ctx context.Context)

	// commands holding resources, keyed by the expressions whose return
	// ends them
	byHandle   map[expr.Assignable]*node.Command
	byDest     map[expr.Assignable]*node.Command
	byAbortAck map[expr.Assignable]*node.Command

	lastMark uint64
}

var (
	_ Reporter        = (*Manager)(nil)
	_ exec.Dispatcher = (*Manager)(nil)
)

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithArbiter sets the resource arbiter. The default accepts every command.
func WithArbiter(a Arbiter) ManagerOption {
	return func(m *Manager) {
		if a != nil {
			m.arbiter = a
		}
	}
}

// WithManagerLogger sets the logger. The default is slog.Default().
func WithManagerLogger(logger *slog.Logger) ManagerOption {
	return func(m *Manager) {
		m.logger = logger
	}
}

// NewManager creates a manager dispatching through registry.
func NewManager(registry *Registry, opts ...ManagerOption) *Manager {
	m := &Manager{
		logger:     slog.Default(),
		registry:   registry,
		arbiter:    AcceptAll{},
		queue:      mailbox.NewQueue(),
		byHandle:   make(map[expr.Assignable]*node.Command),
		byDest:     make(map[expr.Assignable]*node.Command),
		byAbortAck: make(map[expr.Assignable]*node.Command),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.cache = NewStateCache(registry, m.logger)
	return m
}

// Cache returns the state cache, the lookup source of the executive.
func (m *Manager) Cache() *StateCache { return m.cache }

// Mailbox returns the queue adapters report into.
func (m *Manager) Mailbox() *mailbox.Queue { return m.queue }

// Arbiter returns the resource arbiter in use.
func (m *Manager) Arbiter() Arbiter { return m.arbiter }

// SetExecutive sets where drained plans and libraries go.
func (m *Manager) SetExecutive(sink PlanSink) { m.sink = sink }

// SetNotifier sets the function that wakes the exec goroutine after a
// batch of reports.
func (m *Manager) SetNotifier(fn func(ctx context.Context)) { m.notify = fn }

// LastMark returns the sequence number of the last mark processed.
func (m *Manager) LastMark() uint64 { return m.lastMark }

// Start starts every registered adapter.
func (m *Manager) Start() error {
	for _, a := range m.registry.Adapters() {
		if err := a.Start(m); err != nil {
			return err
		}
	}
	return nil
}

// Stop stops every adapter and returns the first error.
func (m *Manager) Stop() error {
	var first error
	for _, a := range m.registry.Adapters() {
		if err := a.Stop(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// ProcessQueue applies mailbox entries until the queue is empty or a mark
// is reached. It returns false only if the queue was empty on the first
// read, that is when there was nothing to do. Once ctx is done it stops
// before the next entry and leaves it queued.
func (m *Manager) ProcessQueue(ctx context.Context) bool {
	first := true
	for {
		if ctx.Err() != nil {
			return !first
		}
		e := m.queue.Dequeue()
		switch e.Kind {
		case mailbox.KindEmpty:
			return !first

		case mailbox.KindMark:
			m.lastMark = e.Seq
			return true

		case mailbox.KindLookup:
			if e.State.IsTime() && m.cache.StaleTime(e.Value) {
				m.logger.Debug("stale time ignored", "time", e.Value.String())
				break
			}
			m.cache.UpdateState(e.State, e.Value)

		case mailbox.KindReturn:
			m.releaseAtTermination(e.Target, e.Value)
			e.Target.Set(e.Value)

		case mailbox.KindPlan:
			if m.sink == nil {
				exec.Fatal(m.logger, "plan %s received with no executive", e.Plan.ID)
			}
			if _, err := m.sink.AddPlanWhenReady(e.Plan); err != nil {
				m.logger.Error("plan rejected", "root", e.Plan.ID, "error", err)
			}

		case mailbox.KindLibrary:
			if m.sink == nil {
				exec.Fatal(m.logger, "library %s received with no executive", e.Plan.ID)
			}
			if err := m.sink.AddLibrary(e.Plan); err != nil {
				m.logger.Error("library rejected", "library", e.Plan.ID, "error", err)
			}

		default:
			exec.Fatal(m.logger, "mailbox entry of unknown kind %s", e.Kind)
		}
		first = false
	}
}

// releaseAtTermination frees a command's resources when target ends it:
// a final handle for a command with no return value, the return value
// itself, or a completed abort.
func (m *Manager) releaseAtTermination(target expr.Assignable, v value.Value) {
	if cmd, ok := m.byHandle[target]; ok {
		h, isHandle := v.(value.CommandHandle)
		if !isHandle {
			return
		}
		switch h {
		case value.CommandSuccess, value.CommandFailed, value.CommandDenied:
			if cmd.Dest() == nil {
				m.release(cmd)
			}
		}
		return
	}
	if cmd, ok := m.byDest[target]; ok {
		m.release(cmd)
		return
	}
	if cmd, ok := m.byAbortAck[target]; ok {
		if b, isBool := v.(value.Bool); isBool && bool(b) {
			m.release(cmd)
		}
	}
}

func (m *Manager) track(cmd *node.Command) {
	m.byHandle[cmd.Handle()] = cmd
	m.byAbortAck[cmd.AbortAck()] = cmd
	if d := cmd.Dest(); d != nil {
		m.byDest[d] = cmd
	}
}

func (m *Manager) release(cmd *node.Command) {
	m.arbiter.ReleaseResourcesForCommand(cmd)
	delete(m.byHandle, cmd.Handle())
	delete(m.byAbortAck, cmd.AbortAck())
	if d := cmd.Dest(); d != nil && m.byDest[d] == cmd {
		delete(m.byDest, d)
	}
}

// HandleValueChange implements Reporter.
func (m *Manager) HandleValueChange(target expr.Assignable, v value.Value) {
	if target == nil {
		return
	}
	m.queue.EnqueueReturn(target, v)
}

// HandleLookupValues implements Reporter.
func (m *Manager) HandleLookupValues(state value.State, v value.Value) {
	m.queue.EnqueueLookup(state, v)
}

// HandleAddPlan implements Reporter. The plan is validated before it is
// queued so malformed plans are reported to the caller.
func (m *Manager) HandleAddPlan(p *plan.Node) error {
	if err := plan.Validate(p); err != nil {
		return err
	}
	m.queue.EnqueuePlan(p)
	return nil
}

// HandleAddLibrary implements Reporter.
func (m *Manager) HandleAddLibrary(p *plan.Node) error {
	if err := plan.Validate(p); err != nil {
		return err
	}
	m.queue.EnqueueLibrary(p)
	return nil
}

// NotifyOfExternalEvent implements Reporter.
func (m *Manager) NotifyOfExternalEvent(ctx context.Context) {
	m.queue.Mark()
	if m.notify != nil {
		m.notify(ctx)
	}
}

// RejectCommand reports cmd as denied.
func (m *Manager) RejectCommand(cmd *node.Command) {
	m.HandleValueChange(cmd.Handle(), value.CommandDenied)
}

// ExecuteCommands implements exec.Dispatcher. The batch is arbitrated as a
// whole; rejected commands are denied through the mailbox.
func (m *Manager) ExecuteCommands(ctx context.Context, cmds []*node.Command) {
	accepted, rejected := m.arbiter.ArbitrateCommands(cmds)
	for _, cmd := range accepted {
		a, err := m.registry.Command(cmd.Name())
		if err != nil {
			exec.Fatal(m.logger, "command %s of node %s: %v", cmd.Name(), cmd.Node().ID(), err)
		}
		m.track(cmd)
		m.logger.Debug("command dispatched", "command", cmd.Name(), "node", cmd.Node().ID())
		a.ExecuteCommand(ctx, cmd)
	}
	for _, cmd := range rejected {
		m.logger.Info("command denied", "command", cmd.Name(), "node", cmd.Node().ID())
		m.RejectCommand(cmd)
	}
	if len(rejected) > 0 {
		m.NotifyOfExternalEvent(ctx)
	}
}

// InvokeAborts implements exec.Dispatcher.
func (m *Manager) InvokeAborts(ctx context.Context, cmds []*node.Command) {
	for _, cmd := range cmds {
		a, err := m.registry.Command(cmd.Name())
		if err != nil {
			exec.Fatal(m.logger, "abort of %s for node %s: %v", cmd.Name(), cmd.Node().ID(), err)
		}
		a.InvokeAbort(ctx, cmd)
	}
}

// ExecuteFunctionCalls implements exec.Dispatcher.
func (m *Manager) ExecuteFunctionCalls(ctx context.Context, calls []*node.FunctionCall) {
	for _, call := range calls {
		a, err := m.registry.Function(call.Name())
		if err != nil {
			exec.Fatal(m.logger, "function %s of node %s: %v", call.Name(), call.Node().ID(), err)
		}
		a.ExecuteFunctionCall(ctx, call)
	}
}

// SendUpdates implements exec.Dispatcher. Without a planner adapter the
// updates are acknowledged at once.
func (m *Manager) SendUpdates(ctx context.Context, updates []*node.Update) {
	a, err := m.registry.Planner()
	if err != nil {
		m.logger.Warn("no planner adapter, acknowledging updates", "count", len(updates))
		for _, u := range updates {
			m.HandleValueChange(u.Ack(), value.Bool(true))
		}
		m.NotifyOfExternalEvent(ctx)
		return
	}
	for _, u := range updates {
		a.SendPlannerUpdate(ctx, u)
	}
}
