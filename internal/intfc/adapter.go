package intfc

import (
	"context"

	"github.com/roach88/plexec/internal/expr"
	"github.com/roach88/plexec/internal/node"
	"github.com/roach88/plexec/internal/plan"
	"github.com/roach88/plexec/internal/value"
)

// Reporter is how adapters hand results back to the executive. Every call
// only queues the value in the mailbox; NotifyOfExternalEvent then wakes
// the exec goroutine to process the batch.
//
// Thread-safety: all methods may be called from any goroutine.
type Reporter interface {
	// HandleValueChange delivers v for target, for example a command
	// handle, a return value or an acknowledgement.
	HandleValueChange(target expr.Assignable, v value.Value)

	// HandleLookupValues delivers a new value of an external state.
	HandleLookupValues(state value.State, v value.Value)

	// HandleAddPlan validates p and queues it to run.
	HandleAddPlan(p *plan.Node) error

	// HandleAddLibrary validates p and queues it for registration.
	HandleAddLibrary(p *plan.Node) error

	// NotifyOfExternalEvent ends a batch of values and wakes the executive.
	NotifyOfExternalEvent(ctx context.Context)
}

// Adapter connects the executive to one part of the outside world.
//
// Dispatch methods are called on the exec goroutine and must not block;
// results are reported later through the Reporter given to Start.
type Adapter interface {
	Start(r Reporter) error
	Stop() error

	// LookupNow returns the current value of state, or Unknown.
	LookupNow(state value.State) value.Value

	SubscribeChange(state value.State, tolerance float64)
	UnsubscribeChange(state value.State)
	SubscribeFrequency(state value.State, rate float64)
	UnsubscribeFrequency(state value.State)

	ExecuteCommand(ctx context.Context, cmd *node.Command)
	InvokeAbort(ctx context.Context, cmd *node.Command)
	ExecuteFunctionCall(ctx context.Context, call *node.FunctionCall)
	SendPlannerUpdate(ctx context.Context, u *node.Update)
}

// NullAdapter accepts everything: commands succeed at once, aborts
// complete, function calls and updates are acknowledged. Lookups are
// Unknown, except time when a clock is set.
type NullAdapter struct {
	clock    func() float64
	reporter Reporter
}

var _ Adapter = (*NullAdapter)(nil)

// NewNullAdapter creates a null adapter. clock, if not nil, answers
// lookups of the time state.
func NewNullAdapter(clock func() float64) *NullAdapter {
	return &NullAdapter{clock: clock}
}

func (a *NullAdapter) Start(r Reporter) error {
	a.reporter = r
	return nil
}

func (a *NullAdapter) Stop() error { return nil }

func (a *NullAdapter) LookupNow(state value.State) value.Value {
	if state.IsTime() && a.clock != nil {
		return value.Real(a.clock())
	}
	return value.Unknown{}
}

func (a *NullAdapter) SubscribeChange(value.State, float64)    {}
func (a *NullAdapter) UnsubscribeChange(value.State)           {}
func (a *NullAdapter) SubscribeFrequency(value.State, float64) {}
func (a *NullAdapter) UnsubscribeFrequency(value.State)        {}

func (a *NullAdapter) ExecuteCommand(ctx context.Context, cmd *node.Command) {
	a.reporter.HandleValueChange(cmd.Handle(), value.CommandSuccess)
	a.reporter.NotifyOfExternalEvent(ctx)
}

func (a *NullAdapter) InvokeAbort(ctx context.Context, cmd *node.Command) {
	a.reporter.HandleValueChange(cmd.AbortAck(), value.Bool(true))
	a.reporter.NotifyOfExternalEvent(ctx)
}

func (a *NullAdapter) ExecuteFunctionCall(ctx context.Context, call *node.FunctionCall) {
	a.reporter.HandleValueChange(call.Ack(), value.Bool(true))
	a.reporter.NotifyOfExternalEvent(ctx)
}

func (a *NullAdapter) SendPlannerUpdate(ctx context.Context, u *node.Update) {
	a.reporter.HandleValueChange(u.Ack(), value.Bool(true))
	a.reporter.NotifyOfExternalEvent(ctx)
}

type execGoroutineKey struct{}

// WithExecGoroutine marks ctx as belonging to the exec goroutine.
func WithExecGoroutine(ctx context.Context) context.Context {
	return context.WithValue(ctx, execGoroutineKey{}, true)
}

// OnExecGoroutine reports whether ctx was marked by WithExecGoroutine. A
// notification made on the exec goroutine needs no wake-up: the exec loop
// checks the mailbox again before it sleeps.
func OnExecGoroutine(ctx context.Context) bool {
	on, _ := ctx.Value(execGoroutineKey{}).(bool)
	return on
}
