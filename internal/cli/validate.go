package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/plexec/internal/plan"
)

// PlanReport is the validation result of one plan file.
type PlanReport struct {
	File      string   `json:"file"`
	Valid     bool     `json:"valid"`
	Root      string   `json:"root,omitempty"`
	Nodes     int      `json:"nodes,omitempty"`
	Libraries []string `json:"libraries,omitempty"`
	Error     string   `json:"error,omitempty"`
	Field     string   `json:"field,omitempty"`
	Line      int      `json:"line,omitempty"`
}

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid bool         `json:"valid"`
	Plans []PlanReport `json:"plans"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <plan>...",
		Short: "Check plans without running them",
		Long: `Load and validate plan files without running them.

YAML plans reject unknown fields; CUE plans are checked against their
own constraints first. Every plan is then checked for unique node ids,
a body matching each node type, known condition names and operators,
and resolvable variable and node references.

Exit codes:
  0 - All plans valid
  1 - One or more plans malformed
  2 - Command error (missing file, etc.)`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args, cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, files []string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)

	result := ValidationResult{Valid: true, Plans: make([]PlanReport, 0, len(files))}
	for _, file := range files {
		if _, err := os.Stat(file); err != nil {
			return outputValidateError(formatter, ErrCodeNotFound, fmt.Sprintf("plan file not found: %s", file))
		}
		formatter.Notef("Validating plan: %s", file)

		report, err := validatePlan(file)
		if err != nil {
			return outputValidateError(formatter, ErrCodeGeneric, err.Error())
		}
		if !report.Valid {
			result.Valid = false
		}
		result.Plans = append(result.Plans, report)
	}

	switch {
	case !formatter.JSON():
		outputValidateText(formatter, result)
	case result.Valid:
		if err := formatter.Respond(result, ""); err != nil {
			return err
		}
	default:
		msg := fmt.Sprintf("%d plan(s) malformed", countInvalid(result))
		if err := formatter.Fail(ErrCodeMalformed, msg, result, ""); err != nil {
			return err
		}
	}

	if !result.Valid {
		return NewExitError(ExitFailure, fmt.Sprintf("validation failed: %d plan(s) malformed", countInvalid(result)))
	}
	return nil
}

// validatePlan loads one plan. A malformed plan is reported, not returned
// as an error; only failures to read the file are errors.
func validatePlan(file string) (PlanReport, error) {
	report := PlanReport{File: file}

	root, err := plan.LoadFile(file)
	if err != nil {
		var me *plan.MalformedError
		if !errors.As(err, &me) {
			return report, err
		}
		report.Error = err.Error()
		report.Field = me.Field
		report.Line = me.Line
		return report, nil
	}

	report.Valid = true
	report.Root = root.ID
	report.Libraries = root.LibraryNames()
	_ = root.Walk(func(*plan.Node, []string) error {
		report.Nodes++
		return nil
	})
	return report, nil
}

func countInvalid(result ValidationResult) int {
	n := 0
	for _, p := range result.Plans {
		if !p.Valid {
			n++
		}
	}
	return n
}

// outputValidateText prints one line per plan and the error under each
// malformed one.
func outputValidateText(formatter *OutputFormatter, result ValidationResult) {
	w := formatter.Writer
	for _, p := range result.Plans {
		if p.Valid {
			fmt.Fprintf(w, "✓ %s (%s, %d nodes)\n", p.File, p.Root, p.Nodes)
			if formatter.Verbose && len(p.Libraries) > 0 {
				fmt.Fprintf(w, "  libraries: %v\n", p.Libraries)
			}
			continue
		}
		fmt.Fprintf(w, "✗ %s\n", p.File)
		fmt.Fprintf(w, "  %s\n", p.Error)
	}

	if result.Valid {
		fmt.Fprintln(w, "✓ All plans valid")
	}
}

// outputValidateError reports a command error (exit code 2).
func outputValidateError(formatter *OutputFormatter, code, message string) error {
	_ = formatter.Error(code, message, nil)
	return NewExitError(ExitCommandError, fmt.Sprintf("%s: %s", code, message))
}
