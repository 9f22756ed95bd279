// Package app runs an executive on its own goroutine.
//
// An Application owns the executive, the interface manager and the
// semaphore that wakes the exec goroutine. Adapters and callers report
// from any goroutine; everything that touches plans happens on the exec
// goroutine started by Run, or on the caller's goroutine for the manual
// Step methods when the application is not running.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/plexec/internal/exec"
	"github.com/roach88/plexec/internal/intfc"
	"github.com/roach88/plexec/internal/mailbox"
	"github.com/roach88/plexec/internal/plan"
)

// ErrStopped is returned by WaitForPlanFinished when the application stops
// before the plans finish.
var ErrStopped = errors.New("app: stopped")

// Service is a goroutine supervised together with the exec goroutine, for
// example a metrics endpoint. It must return when ctx is done.
type Service func(ctx context.Context) error

// Application is the top-level executive runtime.
//
// Thread-safety model:
//   - AddPlan, AddLibrary, NotifyExec, Suspend, Resume, Stop and the
//     query methods are safe from any goroutine
//   - Run must be called from exactly one goroutine
//   - Step and StepUntilQuiescent must not overlap with Run
type Application struct {
	logger    *slog.Logger
	registry  *intfc.Registry
	arbiter   intfc.Arbiter
	execOpts  []exec.Option
	services  []Service
	listeners []exec.Listener

	exec *exec.Executive
	mgr  *intfc.Manager
	sem  *mailbox.Semaphore

	mu      sync.Mutex
	state   State
	cancel  context.CancelFunc
	runDone chan struct{}
	runErr  error

	suspended atomic.Bool

	// finished mirrors exec.AllPlansFinished after every step; changed is
	// closed and replaced each time it is updated.
	watchMu  sync.Mutex
	finished bool
	changed  chan struct{}
}

// Option configures an Application.
type Option func(*Application)

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(a *Application) {
		a.logger = logger
	}
}

// WithArbiter sets the resource arbiter for command dispatch.
func WithArbiter(arb intfc.Arbiter) Option {
	return func(a *Application) {
		a.arbiter = arb
	}
}

// WithExecOptions passes options through to the executive.
func WithExecOptions(opts ...exec.Option) Option {
	return func(a *Application) {
		a.execOpts = append(a.execOpts, opts...)
	}
}

// WithListener adds executive listeners.
func WithListener(l ...exec.Listener) Option {
	return func(a *Application) {
		a.listeners = append(a.listeners, l...)
	}
}

// WithService runs fn alongside the exec goroutine during Run. An error
// from fn stops the application.
func WithService(fn Service) Option {
	return func(a *Application) {
		a.services = append(a.services, fn)
	}
}

// New creates an application dispatching through registry. Call
// Initialize and Start before Run.
func New(registry *intfc.Registry, opts ...Option) *Application {
	a := &Application{
		logger:   slog.Default(),
		registry: registry,
		sem:      mailbox.NewSemaphore(),
		changed:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// State returns the lifecycle state.
func (a *Application) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// move performs the lifecycle transition op under the lock.
func (a *Application) move(op string) (State, error) {
	return a.moveWith(op, nil)
}

// moveWith performs op and, if it is allowed, runs fn under the same lock.
func (a *Application) moveWith(op string, fn func()) (State, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	t := transitions[op]
	if !slices.Contains(t.from, a.state) {
		return a.state, &StateError{Op: op, State: a.state}
	}
	from := a.state
	a.state = t.to
	if fn != nil {
		fn()
	}
	a.logger.Debug("application state", "from", from.String(), "to", t.to.String())
	return from, nil
}

// Initialize builds the executive and the interface manager.
func (a *Application) Initialize() error {
	if _, err := a.move("initialize"); err != nil {
		return err
	}
	a.mgr = intfc.NewManager(a.registry,
		intfc.WithArbiter(a.arbiter),
		intfc.WithManagerLogger(a.logger),
	)
	opts := append([]exec.Option{exec.WithLogger(a.logger)}, a.execOpts...)
	opts = append(opts, exec.WithListener(a.listeners...))
	a.exec = exec.New(a.mgr, a.mgr.Cache(), opts...)
	a.mgr.SetExecutive(a.exec)
	a.mgr.SetNotifier(a.NotifyExec)
	return nil
}

// Start starts the adapters. Plans may be added from now on.
func (a *Application) Start() error {
	if _, err := a.move("start"); err != nil {
		return err
	}
	if err := a.mgr.Start(); err != nil {
		return fmt.Errorf("start adapters: %w", err)
	}
	a.logger.Info("application ready", "run_id", a.exec.RunID())
	return nil
}

// Executive returns the executive, nil before Initialize. It may only be
// used on the exec goroutine or while the application is not running.
func (a *Application) Executive() *exec.Executive { return a.exec }

// Manager returns the interface manager, nil before Initialize.
func (a *Application) Manager() *intfc.Manager { return a.mgr }

// Run starts the exec goroutine and any services, and blocks until ctx is
// done, Stop is called or a step fails. A failed step (the quiescence
// valve) is returned; a stop is not an error.
func (a *Application) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	done := make(chan struct{})
	// Stop may run as soon as the state says Running.
	if _, err := a.moveWith("run", func() {
		a.cancel = cancel
		a.runDone = done
	}); err != nil {
		return err
	}

	a.logger.Info("application running", "run_id", a.exec.RunID())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.runExec(gctx)
	})
	for _, svc := range a.services {
		svc := svc
		g.Go(func() error {
			return svc(gctx)
		})
	}
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}

	a.mu.Lock()
	if a.state == Running {
		a.state = Stopped
	}
	a.runErr = err
	a.mu.Unlock()
	close(done)

	if err != nil {
		a.logger.Error("application stopped", "error", err)
	} else {
		a.logger.Info("application stopped")
	}
	return err
}

// runExec is the exec goroutine: one step at start-up, then drain and
// step until idle, and sleep until notified.
func (a *Application) runExec(ctx context.Context) error {
	ctx = intfc.WithExecGoroutine(ctx)
	if err := a.step(ctx); err != nil {
		return err
	}
	for {
		if err := a.drive(ctx); err != nil {
			return err
		}
		if _, err := a.sem.Wait(ctx); err != nil {
			return err
		}
	}
}

// drive steps while there is work and the application is not suspended.
func (a *Application) drive(ctx context.Context) error {
	for !a.suspended.Load() && (a.exec.NeedsStep() || a.mgr.ProcessQueue(ctx)) {
		if !a.exec.NeedsStep() {
			continue
		}
		if err := a.step(ctx); err != nil {
			return err
		}
	}
	return ctx.Err()
}

// step starts a new cache cycle, which reads the time, and runs the
// executive at that time.
func (a *Application) step(ctx context.Context) error {
	cache := a.mgr.Cache()
	cache.StartCycle()
	if err := a.exec.Step(ctx, cache.CurrentTime()); err != nil {
		return fmt.Errorf("step: %w", err)
	}
	a.publish()
	return nil
}

func (a *Application) publish() {
	done := a.exec.AllPlansFinished()
	a.watchMu.Lock()
	defer a.watchMu.Unlock()
	a.finished = done
	close(a.changed)
	a.changed = make(chan struct{})
}

// Step drains one batch of reports and runs one step. It is for driving
// the executive by hand and fails while Run is active.
func (a *Application) Step(ctx context.Context) error {
	if err := a.manual("step"); err != nil {
		return err
	}
	ctx = intfc.WithExecGoroutine(ctx)
	a.mgr.ProcessQueue(ctx)
	return a.step(ctx)
}

// StepUntilQuiescent drains every report and steps until nothing is left
// to do.
func (a *Application) StepUntilQuiescent(ctx context.Context) error {
	if err := a.manual("step"); err != nil {
		return err
	}
	ctx = intfc.WithExecGoroutine(ctx)
	for a.exec.NeedsStep() || a.mgr.ProcessQueue(ctx) {
		if !a.exec.NeedsStep() {
			continue
		}
		if err := a.step(ctx); err != nil {
			return err
		}
	}
	return ctx.Err()
}

func (a *Application) manual(op string) error {
	s := a.State()
	if s != Ready && s != Stopped {
		return &StateError{Op: op, State: s}
	}
	return nil
}

// Suspend pauses stepping. Reports keep queueing in the mailbox.
func (a *Application) Suspend() {
	a.suspended.Store(true)
	a.logger.Info("application suspended")
}

// Resume continues after Suspend and processes what queued meanwhile.
func (a *Application) Resume() {
	a.suspended.Store(false)
	a.logger.Info("application resumed")
	a.sem.Post()
}

// Suspended reports whether the application is suspended.
func (a *Application) Suspended() bool {
	return a.suspended.Load()
}

// Stop ends Run and waits for it to return. Stopping a ready application
// that never ran just marks it stopped.
func (a *Application) Stop() error {
	from, err := a.move("stop")
	if err != nil {
		return err
	}
	if from != Running {
		return nil
	}
	a.mu.Lock()
	cancel, done := a.cancel, a.runDone
	a.mu.Unlock()
	cancel()
	<-done
	return nil
}

// Shutdown stops the adapters. The application cannot be used afterwards.
func (a *Application) Shutdown() error {
	if _, err := a.move("shutdown"); err != nil {
		return err
	}
	if err := a.mgr.Stop(); err != nil {
		return fmt.Errorf("stop adapters: %w", err)
	}
	a.logger.Info("application shut down")
	return nil
}

// AddPlan validates p and queues it for the executive.
func (a *Application) AddPlan(p *plan.Node) error {
	if a.mgr == nil {
		return &StateError{Op: "add plan", State: a.State()}
	}
	if err := a.mgr.HandleAddPlan(p); err != nil {
		return err
	}
	a.mgr.NotifyOfExternalEvent(context.Background())
	return nil
}

// AddLibrary validates lib and queues it for the executive.
func (a *Application) AddLibrary(lib *plan.Node) error {
	if a.mgr == nil {
		return &StateError{Op: "add library", State: a.State()}
	}
	if err := a.mgr.HandleAddLibrary(lib); err != nil {
		return err
	}
	a.mgr.NotifyOfExternalEvent(context.Background())
	return nil
}

// NotifyExec wakes the exec goroutine. Called on the exec goroutine
// itself it does nothing, since the loop checks the mailbox again before
// it sleeps.
func (a *Application) NotifyExec(ctx context.Context) {
	if intfc.OnExecGoroutine(ctx) {
		return
	}
	a.sem.Post()
}

// AllPlansFinished reports whether every plan had finished at the end of
// the last step.
func (a *Application) AllPlansFinished() bool {
	a.watchMu.Lock()
	defer a.watchMu.Unlock()
	return a.finished
}

// WaitForPlanFinished blocks until every plan has finished, ctx is done or
// the application stops.
func (a *Application) WaitForPlanFinished(ctx context.Context) error {
	for {
		a.watchMu.Lock()
		done, ch := a.finished, a.changed
		a.watchMu.Unlock()
		if done {
			return nil
		}

		a.mu.Lock()
		runDone := a.runDone
		a.mu.Unlock()
		var stopped <-chan struct{}
		if runDone != nil {
			stopped = runDone
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stopped:
			if a.AllPlansFinished() {
				return nil
			}
			return ErrStopped
		case <-ch:
		}
	}
}
