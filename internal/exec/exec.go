package exec

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/plexec/internal/expr"
	"github.com/roach88/plexec/internal/node"
	"github.com/roach88/plexec/internal/plan"
	"github.com/roach88/plexec/internal/value"
)

// Dispatcher carries the actions a step produced to the outside world.
// The interface manager implements it. Calls happen on the exec goroutine
// at the end of Step; results come back later through the mailbox.
type Dispatcher interface {
	ExecuteCommands(ctx context.Context, cmds []*node.Command)
	InvokeAborts(ctx context.Context, cmds []*node.Command)
	SendUpdates(ctx context.Context, updates []*node.Update)
	ExecuteFunctionCalls(ctx context.Context, calls []*node.FunctionCall)
}

// Executive runs plans to completion.
//
// It owns the plan trees, the candidate queue and the action batches, and
// is driven by Step. Everything happens on one goroutine, the exec
// goroutine; an Executive is not safe for concurrent use. The interface
// manager feeds it external events between steps.
type Executive struct {
	logger        *slog.Logger
	dispatch      Dispatcher
	builder       *node.Builder
	listeners     []Listener
	runIDs        RunIDGenerator
	runID         string
	maxIterations int

	roots     []*node.Node
	libraries map[string]*plan.Node
	// plans delivered before their libraries, in arrival order
	waiting []*plan.Node

	queue *candidateQueue

	// holders maps a variable to the assignment node executing on it;
	// parked holds the nodes that lost a conflict over it.
	holders map[*expr.Variable]*node.Node
	parked  map[*expr.Variable][]*node.Node
	// released holds parked nodes whose variable was freed; they become
	// candidates again at the start of the next step.
	released []*node.Node

	assignments []*node.Assignment
	retractions []*node.Assignment
	commands    []*node.Command
	aborts      []*node.Command
	updates     []*node.Update
	calls       []*node.FunctionCall

	finishedRootsDeleted bool
	now                  float64
	stepCount            uint64
}

// Option configures an Executive.
type Option func(*Executive)

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(e *Executive) {
		e.logger = logger
	}
}

// WithMaxIterations sets the number of micro steps after which a Step gives
// up with QuiescenceExceededError. Values below 1 are ignored.
func WithMaxIterations(n int) Option {
	return func(e *Executive) {
		if n > 0 {
			e.maxIterations = n
		}
	}
}

// WithListener adds listeners, notified in the order given.
func WithListener(l ...Listener) Option {
	return func(e *Executive) {
		e.listeners = append(e.listeners, l...)
	}
}

// WithRunIDs sets the run ID generator. Tests use a fixed one for
// deterministic traces.
func WithRunIDs(gen RunIDGenerator) Option {
	return func(e *Executive) {
		e.runIDs = gen
	}
}

// New creates an executive that sends actions to dispatch and resolves
// lookups through lookups.
func New(dispatch Dispatcher, lookups expr.LookupSource, opts ...Option) *Executive {
	e := &Executive{
		logger:        slog.Default(),
		dispatch:      dispatch,
		runIDs:        UUIDv7Generator{},
		maxIterations: DefaultMaxIterations,
		libraries:     make(map[string]*plan.Node),
		queue:         newCandidateQueue(),
		holders:       make(map[*expr.Variable]*node.Node),
		parked:        make(map[*expr.Variable][]*node.Node),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.runID = e.runIDs.Generate()
	e.builder = node.NewBuilder(e, lookups, e)
	return e
}

// AddListener registers another listener.
func (e *Executive) AddListener(l Listener) {
	e.listeners = append(e.listeners, l)
}

// RunID returns the identifier of this executive's run.
func (e *Executive) RunID() string {
	return e.runID
}

// Now returns the time of the last step.
func (e *Executive) Now() float64 {
	return e.now
}

// Roots returns the root nodes of the loaded plans.
func (e *Executive) Roots() []*node.Node {
	return append([]*node.Node(nil), e.roots...)
}

// Node finds a node by id in the loaded plans, searching the plans in the
// order they were added.
func (e *Executive) Node(id string) *node.Node {
	for _, r := range e.roots {
		if n := r.Find(id); n != nil {
			return n
		}
	}
	return nil
}

// Library implements node.LibraryResolver.
func (e *Executive) Library(name string) (*plan.Node, bool) {
	lib, ok := e.libraries[name]
	return lib, ok
}

// AddLibrary registers a library, replacing any library with the same
// root id, and retries the plans waiting for libraries.
func (e *Executive) AddLibrary(lib *plan.Node) error {
	if err := plan.Validate(lib); err != nil {
		return err
	}
	if _, ok := e.libraries[lib.ID]; ok {
		e.logger.Warn("library replaced", "library", lib.ID)
	}
	e.libraries[lib.ID] = lib
	e.logger.Info("library added", "library", lib.ID)
	for _, l := range e.listeners {
		l.LibraryAdded(e.runID, lib)
	}
	e.retryWaiting()
	return nil
}

// AddPlan builds p and starts it. The plan's root becomes a candidate
// immediately; it runs on the next Step.
//
// Returns *plan.MalformedError for invalid plans and *RuntimeError with
// ErrCodeMissingLibrary or ErrCodeDuplicatePlan.
func (e *Executive) AddPlan(p *plan.Node) error {
	if err := plan.Validate(p); err != nil {
		return err
	}
	if missing := e.missingLibraries(p); len(missing) > 0 {
		return NewMissingLibraryError(p.ID, missing)
	}
	for _, r := range e.roots {
		if r.ID() == p.ID {
			return NewDuplicatePlanError(p.ID)
		}
	}

	root, err := e.builder.Build(p)
	if err != nil {
		if errors.Is(err, node.ErrMissingLibrary) {
			return &RuntimeError{Code: ErrCodeMissingLibrary, Message: err.Error(), NodeID: p.ID}
		}
		return fmt.Errorf("build plan %s: %w", p.ID, err)
	}

	e.roots = append(e.roots, root)
	e.finishedRootsDeleted = false
	e.logger.Info("plan added", "root", root.ID(), "run_id", e.runID)
	for _, l := range e.listeners {
		l.PlanAdded(e.runID, root)
	}
	root.CheckConditions()
	return nil
}

// AddPlanWhenReady adds p now if all its libraries are registered and
// otherwise keeps it until they are. It reports whether p was added.
func (e *Executive) AddPlanWhenReady(p *plan.Node) (bool, error) {
	if err := plan.Validate(p); err != nil {
		return false, err
	}
	if missing := e.missingLibraries(p); len(missing) > 0 {
		e.logger.Info("plan waiting for libraries", "root", p.ID, "libraries", missing)
		e.waiting = append(e.waiting, p)
		return false, nil
	}
	if err := e.AddPlan(p); err != nil {
		return false, err
	}
	return true, nil
}

// WaitingPlans returns the ids of plans still waiting for libraries.
func (e *Executive) WaitingPlans() []string {
	ids := make([]string, len(e.waiting))
	for i, p := range e.waiting {
		ids[i] = p.ID
	}
	return ids
}

func (e *Executive) retryWaiting() {
	var still []*plan.Node
	for _, p := range e.waiting {
		if len(e.missingLibraries(p)) > 0 {
			still = append(still, p)
			continue
		}
		if err := e.AddPlan(p); err != nil {
			e.logger.Error("deferred plan rejected", "root", p.ID, "error", err)
		}
	}
	e.waiting = still
}

// missingLibraries lists the libraries p needs, directly or through other
// libraries, that are not registered.
func (e *Executive) missingLibraries(p *plan.Node) []string {
	var missing []string
	seen := map[string]bool{}
	var visit func(*plan.Node)
	visit = func(n *plan.Node) {
		for _, name := range n.LibraryNames() {
			if seen[name] {
				continue
			}
			seen[name] = true
			lib, ok := e.libraries[name]
			if !ok {
				missing = append(missing, name)
				continue
			}
			visit(lib)
		}
	}
	visit(p)
	return missing
}

// NeedsStep reports whether a Step would do anything.
func (e *Executive) NeedsStep() bool {
	return e.queue.Len() > 0 || len(e.released) > 0
}

// Parked returns the assignment nodes held back by a resource conflict,
// including those released for the next step.
func (e *Executive) Parked() []*node.Node {
	var ns []*node.Node
	for _, ps := range e.parked {
		ns = append(ns, ps...)
	}
	return append(ns, e.released...)
}

// AllPlansFinished reports whether every loaded plan has finished. With no
// plans loaded it is true only if finished plans have been deleted.
func (e *Executive) AllPlansFinished() bool {
	if len(e.roots) == 0 {
		return e.finishedRootsDeleted
	}
	for _, r := range e.roots {
		if r.State() != value.Finished {
			return false
		}
	}
	return true
}

// DeleteFinishedPlans destroys the plans whose root has finished.
func (e *Executive) DeleteFinishedPlans() {
	kept := e.roots[:0]
	for _, r := range e.roots {
		if r.State() != value.Finished {
			kept = append(kept, r)
			continue
		}
		e.forget(r)
		r.Destroy()
		e.finishedRootsDeleted = true
		e.logger.Debug("plan deleted", "root", r.ID())
	}
	for i := len(kept); i < len(e.roots); i++ {
		e.roots[i] = nil
	}
	e.roots = kept
}

// forget drops every reference the executive holds into root's tree.
func (e *Executive) forget(root *node.Node) {
	in := func(n *node.Node) bool { return rootOf(n) == root }
	e.queue.Remove(in)
	released := e.released[:0]
	for _, n := range e.released {
		if !in(n) {
			released = append(released, n)
		}
	}
	e.released = released
	for v, h := range e.holders {
		if in(h) {
			delete(e.holders, v)
		}
	}
	for v, ns := range e.parked {
		kept := ns[:0]
		for _, n := range ns {
			if !in(n) {
				kept = append(kept, n)
			}
		}
		if len(kept) == 0 {
			delete(e.parked, v)
		} else {
			e.parked[v] = kept
		}
	}
}

func rootOf(n *node.Node) *node.Node {
	for n.Parent() != nil {
		n = n.Parent()
	}
	return n
}

// Scheduler implementation. The nodes call these while transitioning.

func (e *Executive) AddCandidate(n *node.Node)                { e.queue.Push(n) }
func (e *Executive) EnqueueAssignment(a *node.Assignment)     { e.assignments = append(e.assignments, a) }
func (e *Executive) EnqueueRetraction(a *node.Assignment)     { e.retractions = append(e.retractions, a) }
func (e *Executive) EnqueueCommand(c *node.Command)           { e.commands = append(e.commands, c) }
func (e *Executive) EnqueueAbort(c *node.Command)             { e.aborts = append(e.aborts, c) }
func (e *Executive) EnqueueUpdate(u *node.Update)             { e.updates = append(e.updates, u) }
func (e *Executive) EnqueueFunctionCall(f *node.FunctionCall) { e.calls = append(e.calls, f) }

// Step runs the executive to quiescence at time now.
//
// It repeats micro steps until no candidate can transition, performs the
// assignments those transitions produced, and starts over until an
// assignment pass changes nothing. The batched commands, function calls,
// updates and aborts are then handed to the dispatcher.
//
// Returns QuiescenceExceededError if the micro steps exceed the limit; the
// plans are then in an undefined state and the caller should stop.
// Returns ctx.Err() if ctx is done before a micro step. What is still
// queued is kept, and the next Step carries on from there.
func (e *Executive) Step(ctx context.Context, now float64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	started := time.Now()
	e.now = now
	e.stepCount++
	limit := newIterationLimit(e.maxIterations)
	stats := StepStats{RunID: e.runID, Step: e.stepCount, Time: now}

	for _, n := range e.released {
		e.queue.Push(n)
	}
	e.released = nil

	for {
		for e.queue.Len() > 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := limit.Check(); err != nil {
				var qe *QuiescenceExceededError
				if errors.As(err, &qe) {
					qe.Pending = e.queue.IDs(10)
				}
				e.logger.Error("step did not reach quiescence",
					"step", e.stepCount,
					"limit", e.maxIterations,
					"pending", e.queue.Len(),
				)
				return err
			}
			stats.Transitions += e.microStep()
		}
		if len(e.assignments) == 0 && len(e.retractions) == 0 {
			break
		}
		e.performAssignments()
	}
	stats.MicroSteps = limit.Current()

	e.dispatchActions(ctx)

	stats.Duration = time.Since(started)
	for _, l := range e.listeners {
		l.StepFinished(stats)
	}
	return nil
}

type pendingTransition struct {
	node *node.Node
	dest node.Destination
}

// microStep takes the candidates queued before it began, decides where
// each goes, resolves conflicts over assigned variables and commits the
// surviving transitions in queue order. Nodes that become candidates
// during the micro step wait for the next one.
func (e *Executive) microStep() int {
	stop := e.queue.Marker()

	var batch []pendingTransition
	conflicts := make(map[*expr.Variable][]int)
	var order []*expr.Variable
	for {
		n, ok := e.queue.PopBefore(stop)
		if !ok {
			break
		}
		d := n.Check()
		if !d.OK() {
			continue
		}
		if !d.State.Valid() {
			Fatal(e.logger, "node %s: destination %d is not a node state", n.Path(), d.State)
		}
		if d.State == value.Executing && n.Kind() == node.KindAssignment {
			v := n.Assignment().Dest().Base()
			if _, seen := conflicts[v]; !seen {
				order = append(order, v)
			}
			conflicts[v] = append(conflicts[v], len(batch))
		}
		batch = append(batch, pendingTransition{node: n, dest: d})
	}

	losers := make(map[*node.Node]bool)
	for _, v := range order {
		e.resolveConflict(v, batch, conflicts[v], losers)
	}

	committed := 0
	for _, p := range batch {
		if losers[p.node] {
			continue
		}
		from := p.node.Transition(p.dest, e.now)
		if p.node.State() != p.dest.State {
			Fatal(e.logger, "node %s: transition to %s left it in %s", p.node.Path(), p.dest.State, p.node.State())
		}
		e.afterTransition(p.node, from, p.dest.State)
		committed++
	}
	return committed
}

// resolveConflict picks which of the assignment nodes in idx may start
// executing on v. A node already executing on v keeps it and every
// candidate waits. Otherwise the lowest priority number wins; among equals
// the first queued wins.
func (e *Executive) resolveConflict(v *expr.Variable, batch []pendingTransition, idx []int, losers map[*node.Node]bool) {
	winner := -1
	if _, held := e.holders[v]; !held {
		for _, i := range idx {
			if winner < 0 || batch[i].node.Priority() < batch[winner].node.Priority() {
				winner = i
			}
		}
	}
	for _, i := range idx {
		if i == winner {
			continue
		}
		n := batch[i].node
		losers[n] = true
		e.park(v, n)
	}
	if winner >= 0 {
		e.holders[v] = batch[winner].node
		if len(idx) > 1 {
			e.logger.Debug("resource conflict resolved",
				"variable", v.Name(),
				"winner", batch[winner].node.Path(),
				"waiting", len(idx)-1,
			)
		}
	}
}

func (e *Executive) park(v *expr.Variable, n *node.Node) {
	for _, p := range e.parked[v] {
		if p == n {
			return
		}
	}
	e.parked[v] = append(e.parked[v], n)
}

// afterTransition releases a variable held by an assignment that stopped
// executing and tells the listeners. The nodes parked on the variable
// compete again in the next step.
func (e *Executive) afterTransition(n *node.Node, from, to value.NodeState) {
	if n.Kind() == node.KindAssignment && from == value.Executing {
		v := n.Assignment().Dest().Base()
		if e.holders[v] == n {
			delete(e.holders, v)
			e.released = append(e.released, e.parked[v]...)
			delete(e.parked, v)
		}
	}

	t := Transition{
		RunID:   e.runID,
		Node:    n,
		From:    from,
		To:      to,
		Outcome: n.Outcome(),
		Failure: n.Failure(),
		Time:    e.now,
		Step:    e.stepCount,
	}
	for _, l := range e.listeners {
		l.TransitionCommitted(t)
	}
}

// performAssignments undoes the retracted assignments, then performs the
// new ones. An assignment whose node stopped executing before its turn is
// dropped.
func (e *Executive) performAssignments() {
	retractions, assignments := e.retractions, e.assignments
	e.retractions, e.assignments = nil, nil
	for _, a := range retractions {
		a.Retract()
	}
	for _, a := range assignments {
		if a.Node().State() != value.Executing {
			e.logger.Debug("assignment dropped", "node", a.Node().Path())
			continue
		}
		a.Execute()
	}
}

func (e *Executive) dispatchActions(ctx context.Context) {
	if len(e.commands) > 0 {
		cmds := e.commands
		e.commands = nil
		e.dispatch.ExecuteCommands(ctx, cmds)
	}
	if len(e.calls) > 0 {
		calls := e.calls
		e.calls = nil
		e.dispatch.ExecuteFunctionCalls(ctx, calls)
	}
	if len(e.updates) > 0 {
		updates := e.updates
		e.updates = nil
		e.dispatch.SendUpdates(ctx, updates)
	}
	if len(e.aborts) > 0 {
		aborts := e.aborts
		e.aborts = nil
		e.dispatch.InvokeAborts(ctx, aborts)
	}
}
