package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/roach88/snowcrash/internal/attachments"
	"github.com/roach88/snowcrash/internal/store"
	"github.com/roach88/snowcrash/internal/template"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Successful execution
	ExitFailure      = 1 // The operation was refused (validation, constraint, not found)
	ExitCommandError = 2 // Command error (bad config, database unavailable, etc.)
)

// Error code constants - unified across all CLI commands.
const (
	ErrCodeGeneric    = "E001" // Generic/unknown error
	ErrCodeConfig     = "E002" // Config file missing or invalid
	ErrCodeDatabase   = "E003" // Database could not be opened
	ErrCodeTemplate   = "E004" // Template failed to load
	ErrCodeArgs       = "E005" // Malformed argument
	ErrCodeValidation = "E201" // Record failed validation
	ErrCodeConstraint = "E202" // Operation would break a tree invariant
	ErrCodeNotFound   = "E203" // Referenced record does not exist
)

// ExitError represents an error with a specific exit code.
// Use this to return errors with meaningful exit codes from CLI commands.
type ExitError struct {
	Code    int    // Exit code (use ExitFailure or ExitCommandError)
	Message string // Error message
	Err     error  // Underlying error (optional)
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// NewExitError creates a new ExitError with the given code and message.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError wraps an existing error with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error.
// Returns ExitFailure (1) if the error is not an ExitError.
func GetExitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// OutputFormatter handles JSON vs text output for CLI commands.
type OutputFormatter struct {
	Format    string
	Writer    io.Writer
	ErrWriter io.Writer // Separate writer for verbose/diagnostic output (defaults to Writer)
	Verbose   bool
}

// CLIResponse is the standard JSON response format for CLI output.
type CLIResponse struct {
	Status string    `json:"status"`          // "ok" or "error"
	Data   any       `json:"data,omitempty"`  // success payload
	Error  *CLIError `json:"error,omitempty"` // error details
}

// CLIError is the error structure for CLI responses.
type CLIError struct {
	Code    string `json:"code"`              // "E001", "E201", etc.
	Message string `json:"message"`           // human-readable message
	Details any    `json:"details,omitempty"` // additional context
}

// Success outputs a successful result in the configured format. Text output
// prints data with fmt, so result types render themselves via String.
func (f *OutputFormatter) Success(data any) error {
	if f.Format == "json" {
		return f.encode(CLIResponse{Status: "ok", Data: data})
	}

	fmt.Fprintln(f.Writer, data)
	return nil
}

// Error outputs an error in the configured format.
func (f *OutputFormatter) Error(code, message string, details any) error {
	if f.Format == "json" {
		return f.encode(CLIResponse{
			Status: "error",
			Error: &CLIError{
				Code:    code,
				Message: message,
				Details: details,
			},
		})
	}

	fmt.Fprintf(f.Writer, "Error [%s]: %s\n", code, message)
	if f.Verbose && details != nil {
		fmt.Fprintf(f.Writer, "Details: %v\n", details)
	}
	return nil
}

// encode writes one JSON document. Labels and chart keys are user text, so
// HTML escaping is turned off to keep them readable.
func (f *OutputFormatter) encode(v any) error {
	enc := json.NewEncoder(f.Writer)
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}

// VerboseLog outputs a message only if verbose mode is enabled.
// Uses ErrWriter if set, otherwise falls back to Writer.
func (f *OutputFormatter) VerboseLog(format string, args ...any) {
	if !f.Verbose {
		return
	}
	fmt.Fprintf(f.GetErrWriter(), format+"\n", args...)
}

// GetErrWriter returns the appropriate writer for diagnostic output.
// Returns ErrWriter if set, otherwise Writer.
func (f *OutputFormatter) GetErrWriter() io.Writer {
	if f.ErrWriter != nil {
		return f.ErrWriter
	}
	return f.Writer
}

// Fail reports err through the formatter and returns the matching ExitError.
// Refusals from the store (validation, constraint, not found) exit with
// ExitFailure; anything else is a command error.
func (f *OutputFormatter) Fail(err error) error {
	code, exit, details := classifyError(err)
	_ = f.Error(code, err.Error(), details)
	return NewExitError(exit, fmt.Sprintf("%s: %s", code, err.Error()))
}

func classifyError(err error) (code string, exit int, details any) {
	var (
		ve *store.ValidationError
		ce *store.ConstraintError
		ne *store.NotFoundError
		te *template.Error
		ae *argError
		xe *ExitError
	)
	switch {
	case errors.As(err, &ve):
		return ErrCodeValidation, ExitFailure, map[string]string{"field": ve.Field}
	case errors.As(err, &ce):
		return ErrCodeConstraint, ExitFailure, map[string]any{"op": ce.Op, "node_id": ce.NodeID}
	case errors.As(err, &ne):
		return ErrCodeNotFound, ExitFailure, map[string]any{"kind": ne.Kind}
	case errors.Is(err, attachments.ErrInvalidName):
		return ErrCodeValidation, ExitFailure, nil
	case errors.As(err, &te):
		if te.Pos.IsValid() {
			return ErrCodeTemplate, ExitCommandError, map[string]any{"file": te.Pos.Filename(), "line": te.Pos.Line()}
		}
		return ErrCodeTemplate, ExitCommandError, nil
	case errors.As(err, &ae):
		return ErrCodeArgs, ExitCommandError, nil
	case errors.As(err, &xe):
		return ErrCodeGeneric, xe.Code, nil
	}
	return ErrCodeGeneric, ExitCommandError, nil
}
