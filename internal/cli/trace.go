package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/plexec/internal/store"
	"github.com/roach88/plexec/internal/value"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	Database string
	RunID    string
	Node     string // optional - filter to one node
}

// TraceResult holds the complete trace output.
type TraceResult struct {
	RunID       string                `json:"run_id"`
	Plans       []store.PlanRow       `json:"plans"`
	Transitions []store.TransitionRow `json:"transitions"`
	Stats       TraceStats            `json:"stats"`
}

// TraceStats holds summary statistics for the trace.
type TraceStats struct {
	Steps       int `json:"steps"`
	Transitions int `json:"transitions"`
	Finished    int `json:"finished"`
	Failed      int `json:"failed"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Show the recorded transitions of a run",
		Long: `Show what a recorded run did, from the SQLite trace database
written by "plexec run --db" or "plexec test --db".

Without --run the recorded runs are listed. With --run the plans
and libraries added during the run and every node transition are
printed in commit order.

Examples:
  plexec trace --db ./plexec.db
  plexec trace --db ./plexec.db --run 0191c6b2-...
  plexec trace --db ./plexec.db --run scenario-drive --node Drive
  plexec trace --db ./plexec.db --run scenario-drive --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.RunID, "run", "", "run ID to trace (lists runs when empty)")
	cmd.Flags().StringVar(&opts.Node, "node", "", "only show transitions of this node")

	return cmd
}

func runTrace(opts *TraceOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	formatter := newFormatter(opts.RootOptions, cmd)

	st, err := store.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	if opts.RunID == "" {
		return listRuns(ctx, st, formatter)
	}

	known, err := st.HasRun(ctx, opts.RunID)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read runs", err)
	}
	if !known {
		if formatter.JSON() {
			return formatter.Respond(TraceResult{
				RunID:       opts.RunID,
				Plans:       []store.PlanRow{},
				Transitions: []store.TransitionRow{},
			}, "")
		}
		fmt.Fprintf(formatter.Writer, "No events found for run: %s\n", opts.RunID)
		return nil
	}

	plans, err := st.Plans(ctx, opts.RunID)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read plans", err)
	}
	var rows []store.TransitionRow
	if opts.Node != "" {
		rows, err = st.NodeTransitions(ctx, opts.RunID, opts.Node)
	} else {
		rows, err = st.Transitions(ctx, opts.RunID)
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read transitions", err)
	}
	steps, err := st.StepCount(ctx, opts.RunID)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to count steps", err)
	}

	result := TraceResult{
		RunID:       opts.RunID,
		Plans:       plans,
		Transitions: rows,
		Stats:       traceStats(rows, steps),
	}

	if formatter.JSON() {
		return formatter.Respond(result, opts.RunID)
	}
	outputTraceText(formatter.Writer, result, opts.Verbose)
	return nil
}

func traceStats(rows []store.TransitionRow, steps int) TraceStats {
	stats := TraceStats{Steps: steps, Transitions: len(rows)}
	finished := value.Finished.String()
	failure := value.Failure.String()
	for _, r := range rows {
		if r.To != finished {
			continue
		}
		stats.Finished++
		if r.Outcome == failure {
			stats.Failed++
		}
	}
	return stats
}

func listRuns(ctx context.Context, st *store.Store, formatter *OutputFormatter) error {
	runs, err := st.Runs(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to list runs", err)
	}
	if formatter.JSON() {
		return formatter.Respond(runs, "")
	}
	if len(runs) == 0 {
		fmt.Fprintln(formatter.Writer, "No runs recorded.")
		return nil
	}
	for _, r := range runs {
		fmt.Fprintf(formatter.Writer, "%s  %s\n", r.RunID, r.StartedAt)
	}
	return nil
}

// outputTraceText outputs the trace result as text.
func outputTraceText(w io.Writer, result TraceResult, verbose bool) {
	fmt.Fprintf(w, "Trace for run: %s\n", result.RunID)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "=== Plans ===")
	if len(result.Plans) == 0 {
		fmt.Fprintln(w, "  (none)")
	}
	for _, p := range result.Plans {
		fmt.Fprintf(w, "  [%d] %s %s\n", p.Seq, p.Kind, p.RootID)
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "=== Transitions ===")
	if len(result.Transitions) == 0 {
		fmt.Fprintln(w, "  (none)")
	}
	for _, r := range result.Transitions {
		fmt.Fprintf(w, "  [%d] step %d t=%s %s\n", r.Seq, r.Step, value.Real(r.Time).String(), formatTransition(r))
		if verbose && r.NodePath != "" {
			fmt.Fprintf(w, "       path: %s\n", r.NodePath)
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "=== Stats ===")
	fmt.Fprintf(w, "  Steps:       %d\n", result.Stats.Steps)
	fmt.Fprintf(w, "  Transitions: %d\n", result.Stats.Transitions)
	fmt.Fprintf(w, "  Finished:    %d\n", result.Stats.Finished)
	fmt.Fprintf(w, "  Failed:      %d\n", result.Stats.Failed)
}

// formatTransition renders a row as "ID FROM->TO", followed by the outcome
// and failure once the node has one.
func formatTransition(r store.TransitionRow) string {
	s := fmt.Sprintf("%s %s->%s", r.NodeID, r.From, r.To)
	if r.Outcome != "" && r.Outcome != value.NoOutcome.String() {
		s += " " + r.Outcome
		if r.Failure != "" && r.Failure != value.NoFailure.String() {
			s += " " + r.Failure
		}
	}
	return s
}
