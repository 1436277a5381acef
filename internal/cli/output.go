package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/roach88/hashcons/internal/atom"
)

// Process exit codes.
const (
	ExitSuccess      = 0
	ExitFailure      = 1 // an atom was rejected or a scenario failed
	ExitCommandError = 2 // bad arguments, bad config, unusable database
)

// Codes reported in JSON error responses. Store errors carry their own
// atom error code (ALLOCATION_EXHAUSTED, SUBSTRATE_UNAVAILABLE, ...).
const (
	ErrCodeGeneric        = "COMMAND_ERROR"
	ErrCodeNotFound       = "NOT_FOUND"
	ErrCodeInvalidTree    = "INVALID_TREE"
	ErrCodeAtom           = "ATOM_REJECTED"
	ErrCodeScenarioFailed = "SCENARIO_FAILED"
)

// ExitError carries the process exit code for a failed command.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Err)
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// NewExitError returns an ExitError without a cause.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError returns an ExitError wrapping err.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode returns the code of the first ExitError in err's chain,
// or ExitFailure.
func GetExitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// OutputFormatter writes command results as text or as a JSON envelope.
type OutputFormatter struct {
	Format string
	Writer io.Writer
	// ErrWriter receives verbose output so JSON on Writer stays parseable.
	// Falls back to Writer when nil.
	ErrWriter io.Writer
	Verbose   bool
}

// CLIResponse is the JSON envelope of every command.
type CLIResponse struct {
	Status    string    `json:"status"` // "ok" or "error"
	Data      any       `json:"data,omitempty"`
	Error     *CLIError `json:"error,omitempty"`
	SessionID string    `json:"session_id,omitempty"`
}

// CLIError describes a failed command in JSON output.
type CLIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

func (f *OutputFormatter) isJSON() bool {
	return f.Format == "json"
}

func (f *OutputFormatter) encode(resp CLIResponse) error {
	return json.NewEncoder(f.Writer).Encode(resp)
}

// Success writes data. Text output prints it with its default format.
func (f *OutputFormatter) Success(data any) error {
	return f.SuccessInSession(data, "")
}

// SuccessInSession is Success with the id of the session that produced
// data. The id appears in JSON output only.
func (f *OutputFormatter) SuccessInSession(data any, sessionID string) error {
	if f.isJSON() {
		return f.encode(CLIResponse{Status: "ok", Data: data, SessionID: sessionID})
	}
	_, err := fmt.Fprintln(f.Writer, data)
	return err
}

// Error writes an error response. Text output shows details only when
// verbose.
func (f *OutputFormatter) Error(code, message string, details any) error {
	if f.isJSON() {
		return f.encode(CLIResponse{
			Status: "error",
			Error:  &CLIError{Code: code, Message: message, Details: details},
		})
	}
	fmt.Fprintf(f.Writer, "Error [%s]: %s\n", code, message)
	if f.Verbose && details != nil {
		fmt.Fprintf(f.Writer, "Details: %v\n", details)
	}
	return nil
}

// VerboseLog writes a line to the diagnostic writer when verbose.
func (f *OutputFormatter) VerboseLog(format string, args ...any) {
	if f.Verbose {
		fmt.Fprintf(f.GetErrWriter(), format+"\n", args...)
	}
}

// GetErrWriter returns the diagnostic writer.
func (f *OutputFormatter) GetErrWriter() io.Writer {
	if f.ErrWriter != nil {
		return f.ErrWriter
	}
	return f.Writer
}

// printer groups digits in text output.
var printer = message.NewPrinter(language.English)

func newFormatter(opts *RootOptions, cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
}

// fail writes a JSON error response in JSON mode and returns an
// ExitError. main prints text-mode errors.
func fail(f *OutputFormatter, exitCode int, code, message string, err error) error {
	if f.isJSON() {
		_ = f.Error(code, fmt.Sprintf("%s: %v", message, err), nil)
	}
	return WrapExitError(exitCode, message, err)
}

// failAtom maps a store error to an exit code: substrate problems are
// command errors, rejected atoms are failures. The JSON code is the atom
// error code when there is one.
func failAtom(f *OutputFormatter, message string, err error) error {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return err
	}
	code := ErrCodeAtom
	var atomErr *atom.Error
	if errors.As(err, &atomErr) {
		code = string(atomErr.Code)
	}
	if atom.IsSubstrateUnavailable(err) {
		return fail(f, ExitCommandError, code, message, err)
	}
	return fail(f, ExitFailure, code, message, err)
}
