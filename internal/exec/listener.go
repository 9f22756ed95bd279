package exec

import (
	"log/slog"
	"time"

	"github.com/roach88/plexec/internal/node"
	"github.com/roach88/plexec/internal/plan"
	"github.com/roach88/plexec/internal/value"
)

// Transition records one committed node state change.
type Transition struct {
	RunID   string
	Node    *node.Node
	From    value.NodeState
	To      value.NodeState
	Outcome value.Outcome
	Failure value.FailureType
	// Time is the executive time the step ran at.
	Time float64
	// Step is the number of the Step call that committed the transition.
	Step uint64
}

// StepStats summarizes one call to Step.
type StepStats struct {
	RunID       string
	Step        uint64
	Time        float64
	MicroSteps  int
	Transitions int
	Duration    time.Duration
}

// Listener observes the executive. All methods are called synchronously on
// the exec goroutine, in the order the events happen, so a slow listener
// slows the executive down.
type Listener interface {
	TransitionCommitted(t Transition)
	PlanAdded(runID string, root *node.Node)
	LibraryAdded(runID string, lib *plan.Node)
	StepFinished(s StepStats)
}

// Hooks adapts plain functions to Listener. Nil fields are skipped.
type Hooks struct {
	OnTransition func(Transition)
	OnPlan       func(runID string, root *node.Node)
	OnLibrary    func(runID string, lib *plan.Node)
	OnStep       func(StepStats)
}

func (h Hooks) TransitionCommitted(t Transition) {
	if h.OnTransition != nil {
		h.OnTransition(t)
	}
}

func (h Hooks) PlanAdded(runID string, root *node.Node) {
	if h.OnPlan != nil {
		h.OnPlan(runID, root)
	}
}

func (h Hooks) LibraryAdded(runID string, lib *plan.Node) {
	if h.OnLibrary != nil {
		h.OnLibrary(runID, lib)
	}
}

func (h Hooks) StepFinished(s StepStats) {
	if h.OnStep != nil {
		h.OnStep(s)
	}
}

// LogListener writes every event to a structured logger at debug level.
type LogListener struct {
	logger *slog.Logger
}

// NewLogListener creates a listener that logs to logger, or to
// slog.Default() if logger is nil.
func NewLogListener(logger *slog.Logger) *LogListener {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogListener{logger: logger}
}

func (l *LogListener) TransitionCommitted(t Transition) {
	l.logger.Debug("transition",
		"node", t.Node.Path(),
		"from", t.From.String(),
		"to", t.To.String(),
		"outcome", t.Outcome.String(),
		"time", t.Time,
	)
}

func (l *LogListener) PlanAdded(runID string, root *node.Node) {
	l.logger.Info("plan added", "run_id", runID, "root", root.ID())
}

func (l *LogListener) LibraryAdded(runID string, lib *plan.Node) {
	l.logger.Info("library added", "run_id", runID, "library", lib.ID)
}

func (l *LogListener) StepFinished(s StepStats) {
	l.logger.Debug("step finished",
		"step", s.Step,
		"micro_steps", s.MicroSteps,
		"transitions", s.Transitions,
		"duration", s.Duration,
	)
}
