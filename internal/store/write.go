package store

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/plexec/internal/exec"
	"github.com/roach88/plexec/internal/node"
	"github.com/roach88/plexec/internal/plan"
)

// Recorder writes executive events to a Store. It implements
// exec.Listener.
//
// Listener methods cannot fail, so a write error is logged and kept: Err
// returns the first one. Writes after an error are still attempted.
type Recorder struct {
	store  *Store
	logger *slog.Logger
	now    func() time.Time

	mu   sync.Mutex
	seq  map[string]int64
	runs map[string]bool
	err  error
}

var _ exec.Listener = (*Recorder)(nil)

// NewRecorder creates a recorder writing to s.
func NewRecorder(s *Store, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{
		store:  s,
		logger: logger,
		now:    time.Now,
		seq:    make(map[string]int64),
		runs:   make(map[string]bool),
	}
}

// Err returns the first write error, or nil.
func (r *Recorder) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

func (r *Recorder) fail(what string, err error) {
	r.logger.Error("trace write failed", "record", what, "error", err)
	if r.err == nil {
		r.err = fmt.Errorf("record %s: %w", what, err)
	}
}

// ensureRun begins the run the first time its id is seen. Called with
// r.mu held.
func (r *Recorder) ensureRun(ctx context.Context, runID string) error {
	if r.runs[runID] {
		return nil
	}
	if err := r.store.BeginRun(ctx, runID, r.now()); err != nil {
		return err
	}
	r.runs[runID] = true
	return nil
}

// nextSeq returns the next sequence number of runID, continuing after
// the rows already stored when a run is reopened. Called with r.mu held.
func (r *Recorder) nextSeq(ctx context.Context, runID string) (int64, error) {
	last, ok := r.seq[runID]
	if !ok {
		var err error
		if last, err = r.store.LastSeq(ctx, runID); err != nil {
			return 0, err
		}
	}
	r.seq[runID] = last + 1
	return last + 1, nil
}

func (r *Recorder) writePlan(runID, rootID, kind string) {
	ctx := context.Background()
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.ensureRun(ctx, runID); err != nil {
		r.fail(kind, err)
		return
	}
	seq, err := r.nextSeq(ctx, runID)
	if err != nil {
		r.fail(kind, err)
		return
	}
	_, err = r.store.db.ExecContext(ctx, `
		INSERT INTO plans (run_id, seq, root_id, kind)
		VALUES (?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`, runID, seq, rootID, kind)
	if err != nil {
		r.fail(kind, err)
	}
}

// PlanAdded implements exec.Listener.
func (r *Recorder) PlanAdded(runID string, root *node.Node) {
	r.writePlan(runID, root.ID(), "plan")
}

// LibraryAdded implements exec.Listener.
func (r *Recorder) LibraryAdded(runID string, lib *plan.Node) {
	r.writePlan(runID, lib.ID, "library")
}

// TransitionCommitted implements exec.Listener.
func (r *Recorder) TransitionCommitted(t exec.Transition) {
	ctx := context.Background()
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.ensureRun(ctx, t.RunID); err != nil {
		r.fail("transition", err)
		return
	}
	seq, err := r.nextSeq(ctx, t.RunID)
	if err != nil {
		r.fail("transition", err)
		return
	}
	_, err = r.store.db.ExecContext(ctx, `
		INSERT INTO transitions
		(run_id, seq, step, exec_time, node_id, node_path, from_state, to_state, outcome, failure)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`,
		t.RunID,
		seq,
		int64(t.Step),
		t.Time,
		t.Node.ID(),
		t.Node.Path(),
		t.From.String(),
		t.To.String(),
		t.Outcome.String(),
		t.Failure.String(),
	)
	if err != nil {
		r.fail("transition", err)
	}
}

// StepFinished implements exec.Listener.
func (r *Recorder) StepFinished(s exec.StepStats) {
	ctx := context.Background()
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.ensureRun(ctx, s.RunID); err != nil {
		r.fail("step", err)
		return
	}
	_, err := r.store.db.ExecContext(ctx, `
		INSERT INTO steps (run_id, step, exec_time, micro_steps, transitions, duration_ns)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`, s.RunID, int64(s.Step), s.Time, s.MicroSteps, s.Transitions, s.Duration.Nanoseconds())
	if err != nil {
		r.fail("step", err)
	}
}
