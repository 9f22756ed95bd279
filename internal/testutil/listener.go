package testutil

import (
	"fmt"
	"sync"

	"github.com/roach88/plexec/internal/exec"
	"github.com/roach88/plexec/internal/node"
	"github.com/roach88/plexec/internal/plan"
)

// RecordingListener keeps every event the executive reports, in order.
//
// Thread-safety: the executive calls it from the exec goroutine while
// tests read it from theirs, so all access goes through a mutex.
type RecordingListener struct {
	mu          sync.Mutex
	transitions []exec.Transition
	plans       []string
	libraries   []string
	steps       []exec.StepStats
}

var _ exec.Listener = (*RecordingListener)(nil)

// NewRecordingListener creates an empty recorder.
func NewRecordingListener() *RecordingListener {
	return &RecordingListener{}
}

func (r *RecordingListener) TransitionCommitted(t exec.Transition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transitions = append(r.transitions, t)
}

func (r *RecordingListener) PlanAdded(_ string, root *node.Node) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.plans = append(r.plans, root.ID())
}

func (r *RecordingListener) LibraryAdded(_ string, lib *plan.Node) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.libraries = append(r.libraries, lib.ID)
}

func (r *RecordingListener) StepFinished(s exec.StepStats) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.steps = append(r.steps, s)
}

// Transitions returns the committed transitions in commit order.
func (r *RecordingListener) Transitions() []exec.Transition {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]exec.Transition(nil), r.transitions...)
}

// Log renders the transitions as "ID FROM->TO" lines.
func (r *RecordingListener) Log() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	lines := make([]string, len(r.transitions))
	for i, t := range r.transitions {
		lines[i] = fmt.Sprintf("%s %s->%s", t.Node.ID(), t.From, t.To)
	}
	return lines
}

// Index returns the position of line in Log, or -1.
func (r *RecordingListener) Index(line string) int {
	for i, l := range r.Log() {
		if l == line {
			return i
		}
	}
	return -1
}

// Plans returns the ids of added plans.
func (r *RecordingListener) Plans() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.plans...)
}

// Libraries returns the ids of added libraries.
func (r *RecordingListener) Libraries() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.libraries...)
}

// Steps returns the statistics of every finished step.
func (r *RecordingListener) Steps() []exec.StepStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]exec.StepStats(nil), r.steps...)
}

// Reset forgets everything recorded so far.
func (r *RecordingListener) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transitions, r.plans, r.libraries, r.steps = nil, nil, nil, nil
}
