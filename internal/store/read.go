package store

import (
	"context"
	"fmt"
)

// TransitionRow is one recorded node transition.
type TransitionRow struct {
	RunID    string  `json:"run_id"`
	Seq      int64   `json:"seq"`
	Step     int64   `json:"step"`
	Time     float64 `json:"time"`
	NodeID   string  `json:"node_id"`
	NodePath string  `json:"node_path"`
	From     string  `json:"from"`
	To       string  `json:"to"`
	Outcome  string  `json:"outcome"`
	Failure  string  `json:"failure"`
}

// PlanRow is one recorded plan or library.
type PlanRow struct {
	RunID  string `json:"run_id"`
	Seq    int64  `json:"seq"`
	RootID string `json:"root_id"`
	Kind   string `json:"kind"`
}

// RunRow is one recorded run.
type RunRow struct {
	RunID     string `json:"run_id"`
	StartedAt string `json:"started_at"`
}

// Transitions returns the transitions of a run in commit order.
//
// Returns an empty slice (not nil) if the run has none.
func (s *Store) Transitions(ctx context.Context, runID string) ([]TransitionRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, seq, step, exec_time, node_id, node_path, from_state, to_state, outcome, failure
		FROM transitions
		WHERE run_id = ?
		ORDER BY seq ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query transitions: %w", err)
	}
	defer rows.Close()

	out := []TransitionRow{}
	for rows.Next() {
		var t TransitionRow
		if err := rows.Scan(&t.RunID, &t.Seq, &t.Step, &t.Time, &t.NodeID, &t.NodePath,
			&t.From, &t.To, &t.Outcome, &t.Failure); err != nil {
			return nil, fmt.Errorf("scan transition: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transitions: %w", err)
	}
	return out, nil
}

// NodeTransitions returns the transitions of one node of a run.
func (s *Store) NodeTransitions(ctx context.Context, runID, nodeID string) ([]TransitionRow, error) {
	all, err := s.Transitions(ctx, runID)
	if err != nil {
		return nil, err
	}
	out := []TransitionRow{}
	for _, t := range all {
		if t.NodeID == nodeID {
			out = append(out, t)
		}
	}
	return out, nil
}

// Plans returns the plans and libraries of a run in the order they were
// added.
func (s *Store) Plans(ctx context.Context, runID string) ([]PlanRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, seq, root_id, kind
		FROM plans
		WHERE run_id = ?
		ORDER BY seq ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query plans: %w", err)
	}
	defer rows.Close()

	out := []PlanRow{}
	for rows.Next() {
		var p PlanRow
		if err := rows.Scan(&p.RunID, &p.Seq, &p.RootID, &p.Kind); err != nil {
			return nil, fmt.Errorf("scan plan: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate plans: %w", err)
	}
	return out, nil
}

// Runs returns every recorded run in the order they started. Runs that
// started together are ordered by id.
func (s *Store) Runs(ctx context.Context) ([]RunRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, started_at FROM runs ORDER BY started_at ASC, run_id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	out := []RunRow{}
	for rows.Next() {
		var r RunRow
		if err := rows.Scan(&r.RunID, &r.StartedAt); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return out, nil
}

// StepCount returns the number of steps recorded for a run.
func (s *Store) StepCount(ctx context.Context, runID string) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM steps WHERE run_id = ?`, runID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count steps: %w", err)
	}
	return n, nil
}
