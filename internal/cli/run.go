package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/roach88/plexec/internal/app"
	"github.com/roach88/plexec/internal/config"
	"github.com/roach88/plexec/internal/exec"
	"github.com/roach88/plexec/internal/harness"
	"github.com/roach88/plexec/internal/intfc"
	"github.com/roach88/plexec/internal/logging"
	"github.com/roach88/plexec/internal/metrics"
	"github.com/roach88/plexec/internal/plan"
	"github.com/roach88/plexec/internal/store"
	"github.com/roach88/plexec/internal/value"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	ConfigFile string
	Libraries  []string
	Script     string
	Database   string
	Timeout    time.Duration

	// Clock overrides the wall clock (for testing).
	Clock func() float64
}

// NodeReport is the final state of one plan root.
type NodeReport struct {
	ID      string `json:"id"`
	State   string `json:"state"`
	Outcome string `json:"outcome"`
	Failure string `json:"failure,omitempty"`
}

// RunResult is the outcome of one run.
type RunResult struct {
	RunID    string       `json:"run_id"`
	Finished bool         `json:"finished"`
	Plans    []NodeReport `json:"plans"`
	Commands []string     `json:"commands,omitempty"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <plan>",
		Short: "Execute a plan",
		Long: `Execute a plan until it finishes or the process is interrupted.

Libraries named with --library are registered before the plan. Without
--script every command succeeds at once and every lookup is unknown;
with --script, commands, function calls and lookups are answered from
the canned responses in the given YAML file (the adapter section of a
test scenario).

Settings come from --config (default ./plexec.yaml if present) and
PLEXEC_* environment variables. When trace.database is set, every
transition is recorded to SQLite for "plexec trace"; when metrics.addr
is set, Prometheus metrics are served at /metrics.

Examples:
  plexec run plans/drive.yaml
  plexec run --library lib/move.yaml --script world.yaml plans/mission.yaml
  plexec run --db ./plexec.db --timeout 30s plans/drive.yaml`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPlan(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.ConfigFile, "config", "", "path to config file")
	cmd.Flags().StringArrayVar(&opts.Libraries, "library", nil, "library plan file (repeatable)")
	cmd.Flags().StringVar(&opts.Script, "script", "", "YAML file of canned adapter responses")
	cmd.Flags().StringVar(&opts.Database, "db", "", "SQLite trace database (overrides trace.database)")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", 0, "give up after this long (0 waits forever)")

	return cmd
}

func wallClock() float64 {
	return float64(time.Now().UnixNano()) / float64(time.Second)
}

func runPlan(opts *RunOptions, planFile string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	cfg, err := config.Load(opts.ConfigFile)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}
	if opts.Database != "" {
		cfg.Trace.Database = opts.Database
	}

	logOpts := cfg.LoggingOptions()
	if opts.Verbose {
		logOpts.Level = "debug"
	}
	logger, logCloser, err := logging.New(logOpts, cmd.ErrOrStderr())
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to set up logging", err)
	}
	defer logCloser.Close()

	libs := make([]*plan.Node, 0, len(opts.Libraries))
	for _, path := range opts.Libraries {
		lib, err := plan.LoadFile(path)
		if err != nil {
			return WrapExitError(loadExitCode(err), "failed to load library", err)
		}
		libs = append(libs, lib)
	}
	root, err := plan.LoadFile(planFile)
	if err != nil {
		return WrapExitError(loadExitCode(err), "failed to load plan", err)
	}
	if err := checkLibraries(root, libs); err != nil {
		return WrapExitError(ExitFailure, "failed to load plan", err)
	}

	clock := opts.Clock
	if clock == nil {
		clock = wallClock
	}
	var adapter intfc.Adapter = intfc.NewNullAdapter(clock)
	var script *harness.ScriptAdapter
	if opts.Script != "" {
		adapterCfg, err := harness.LoadAdapterConfig(opts.Script)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to load script", err)
		}
		script, err = harness.NewScriptAdapter(adapterCfg, harness.WithClock(clock))
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to load script", err)
		}
		adapter = script
	}

	appOpts := []app.Option{
		app.WithLogger(logger),
		app.WithExecOptions(exec.WithMaxIterations(cfg.Exec.MaxIterations)),
		app.WithListener(exec.NewLogListener(logger)),
	}

	if cfg.Exec.ResourceFile != "" {
		arb, err := intfc.LoadHierarchyFile(cfg.Exec.ResourceFile, logger)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to load resource hierarchy", err)
		}
		appOpts = append(appOpts, app.WithArbiter(arb))
	}

	var rec *store.Recorder
	if cfg.Trace.Database != "" {
		logger.Info("opening trace database", "path", cfg.Trace.Database)
		st, err := store.Open(cfg.Trace.Database)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to open database", err)
		}
		defer func() {
			if closeErr := st.Close(); closeErr != nil {
				logger.Error("error closing database", "error", closeErr)
			}
		}()
		rec = store.NewRecorder(st, logger)
		appOpts = append(appOpts, app.WithListener(rec))
	}

	if cfg.Metrics.Addr != "" {
		reg := prometheus.NewRegistry()
		ml, err := metrics.NewListener(reg)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to register metrics", err)
		}
		addr := cfg.Metrics.Addr
		appOpts = append(appOpts,
			app.WithListener(ml),
			app.WithService(func(ctx context.Context) error {
				return metrics.Serve(ctx, addr, reg, logger)
			}),
		)
	}

	a := app.New(intfc.NewRegistry(intfc.WithDefaultAdapter(adapter)), appOpts...)
	if err := a.Initialize(); err != nil {
		return WrapExitError(ExitFailure, "failed to initialize", err)
	}
	if err := a.Start(); err != nil {
		return WrapExitError(ExitFailure, "failed to start", err)
	}
	abandon := func() {
		_ = a.Stop()
		_ = a.Shutdown()
	}
	for _, lib := range libs {
		if err := a.AddLibrary(lib); err != nil {
			abandon()
			return WrapExitError(ExitFailure, "failed to add library", err)
		}
	}
	if err := a.AddPlan(root); err != nil {
		abandon()
		return WrapExitError(ExitFailure, "failed to add plan", err)
	}

	// Use command's context if available (for testing), otherwise create one
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, stop := signal.NotifyContext(parentCtx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	// The timeout bounds the wait only; the executive itself ends through
	// Stop so that running out of time is not an executive error.
	waitCtx := ctx
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	logger.Info("running plan", "plan", root.ID, "libraries", len(libs), "run_id", a.Executive().RunID())
	formatter.Notef("Running plan %s (run %s)", root.ID, a.Executive().RunID())

	runErr := make(chan error, 1)
	go func() {
		runErr <- a.Run(ctx)
	}()

	waitErr := a.WaitForPlanFinished(waitCtx)
	if waitErr != nil && !errors.Is(waitErr, app.ErrStopped) {
		logger.Info("run interrupted", "reason", waitErr)
	}
	if err := a.Stop(); err != nil && !app.IsStateError(err) {
		return WrapExitError(ExitFailure, "failed to stop", err)
	}
	execErr := <-runErr
	if app.IsStateError(execErr) {
		// Stopped before the exec goroutine got going.
		execErr = nil
	}
	if err := a.Shutdown(); err != nil {
		logger.Error("shutdown failed", "error", err)
	}

	result := collectRunResult(a, script)
	if execErr != nil {
		if formatter.JSON() {
			_ = formatter.Fail(ErrCodeExecutive, execErr.Error(), result, result.RunID)
		}
		return WrapExitError(ExitFailure, "executive failed", execErr)
	}
	if rec != nil {
		if err := rec.Err(); err != nil {
			return WrapExitError(ExitFailure, "failed to record trace", err)
		}
	}

	logger.Info("run finished", "run_id", result.RunID, "finished", result.Finished)
	switch {
	case !formatter.JSON():
		outputRunText(formatter, result)
	case result.Finished:
		if err := formatter.Respond(result, result.RunID); err != nil {
			return err
		}
	default:
		if err := formatter.Fail(ErrCodeUnfinished, "plans did not finish", result, result.RunID); err != nil {
			return err
		}
	}

	if !result.Finished {
		return NewExitError(ExitFailure, "plans did not finish")
	}
	return nil
}

// loadExitCode reports a malformed plan as a failure and anything else
// (missing file, unreadable) as a command error.
func loadExitCode(err error) int {
	if plan.IsMalformed(err) {
		return ExitFailure
	}
	return ExitCommandError
}

// checkLibraries reports a library called by root or by another library
// that is not among libs. The executive would otherwise park the plan
// until the library arrives, which on the command line is never.
func checkLibraries(root *plan.Node, libs []*plan.Node) error {
	have := make(map[string]bool, len(libs))
	for _, lib := range libs {
		have[lib.ID] = true
	}
	for _, n := range append([]*plan.Node{root}, libs...) {
		for _, name := range n.LibraryNames() {
			if !have[name] {
				return fmt.Errorf("%s calls library %q, which was not given with --library", n.ID, name)
			}
		}
	}
	return nil
}

// collectRunResult reads the final root states. The application must no
// longer be running.
func collectRunResult(a *app.Application, script *harness.ScriptAdapter) RunResult {
	result := RunResult{
		RunID:    a.Executive().RunID(),
		Finished: a.AllPlansFinished(),
		Plans:    []NodeReport{},
	}
	for _, root := range a.Executive().Roots() {
		r := NodeReport{
			ID:      root.ID(),
			State:   root.State().String(),
			Outcome: root.Outcome().String(),
		}
		if root.Failure() != value.NoFailure {
			r.Failure = root.Failure().String()
		}
		result.Plans = append(result.Plans, r)
	}
	if script != nil {
		result.Commands = script.Commands()
	}
	return result
}

func outputRunText(formatter *OutputFormatter, result RunResult) {
	w := formatter.Writer
	fmt.Fprintf(w, "Run: %s\n", result.RunID)
	for _, p := range result.Plans {
		line := fmt.Sprintf("  %s %s %s", p.ID, p.State, p.Outcome)
		if p.Failure != "" {
			line += " " + p.Failure
		}
		fmt.Fprintln(w, line)
	}
	if formatter.Verbose {
		for _, c := range result.Commands {
			fmt.Fprintf(w, "  > %s\n", c)
		}
	}
	if result.Finished {
		fmt.Fprintln(w, "✓ All plans finished")
	} else {
		fmt.Fprintln(w, "✗ Plans did not finish")
	}
}
