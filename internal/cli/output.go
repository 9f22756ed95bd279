package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

// Process exit codes. Every command maps its outcome onto one of these.
const (
	ExitSuccess      = 0
	ExitFailure      = 1 // malformed plan, failed scenario, unfinished or failed run
	ExitCommandError = 2 // bad flags, missing files, unreadable config or database
)

// Codes in the error object of a JSON response.
const (
	ErrCodeGeneric    = "E001"
	ErrCodeNotFound   = "E005"
	ErrCodeMalformed  = "E101"
	ErrCodeExecutive  = "E201"
	ErrCodeUnfinished = "E202"
	ErrCodeTestFailed = "E301"
)

// ExitError carries the exit code a command failed with up to main.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return e.Message + ": " + e.Err.Error()
}

func (e *ExitError) Unwrap() error { return e.Err }

// NewExitError fails with code and message.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError fails with code, describing err with message.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode returns the exit code for err. Errors that carry none, such
// as cobra's own flag errors, are failures.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// CLIResponse is the envelope of every JSON response.
type CLIResponse struct {
	Status  string    `json:"status"` // "ok" or "error"
	Data    any       `json:"data,omitempty"`
	Error   *CLIError `json:"error,omitempty"`
	TraceID string    `json:"trace_id,omitempty"` // run id, when there is one
}

// CLIError is the error object of a JSON response.
type CLIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// OutputFormatter writes what a command reports. Results go to Writer,
// as text written by the command or as a JSON envelope; progress notes
// go to ErrWriter so they never mix with JSON.
type OutputFormatter struct {
	Format    string
	Writer    io.Writer
	ErrWriter io.Writer
	Verbose   bool
}

// newFormatter builds the formatter for cmd from the global flags.
func newFormatter(opts *RootOptions, cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
}

// JSON reports whether results are written as JSON envelopes.
func (f *OutputFormatter) JSON() bool { return f.Format == "json" }

// Respond writes data in an ok envelope.
func (f *OutputFormatter) Respond(data any, traceID string) error {
	return f.encode(CLIResponse{Status: "ok", Data: data, TraceID: traceID})
}

// Fail writes data in an error envelope. A command uses it when it ran
// but its result is a failure, such as a malformed plan.
func (f *OutputFormatter) Fail(code, message string, data any, traceID string) error {
	return f.encode(CLIResponse{
		Status:  "error",
		Data:    data,
		Error:   &CLIError{Code: code, Message: message},
		TraceID: traceID,
	})
}

// Error reports a command that could not do its work. In JSON the error
// object is written with details; in text nothing is written, since main
// prints the ExitError the command returns.
func (f *OutputFormatter) Error(code, message string, details any) error {
	if !f.JSON() {
		return nil
	}
	return f.encode(CLIResponse{
		Status: "error",
		Error:  &CLIError{Code: code, Message: message, Details: details},
	})
}

// Notef writes a progress note in verbose mode.
func (f *OutputFormatter) Notef(format string, args ...any) {
	if !f.Verbose {
		return
	}
	w := f.ErrWriter
	if w == nil {
		w = io.Discard
	}
	fmt.Fprintf(w, format+"\n", args...)
}

func (f *OutputFormatter) encode(resp CLIResponse) error {
	enc := json.NewEncoder(f.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(resp)
}
