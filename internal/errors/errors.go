package apperrors

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Application exit codes define the standard exit statuses for the application.
// These codes are used to signal the outcome of the program execution to the OS.
const (
	ExitSuccess         = 0   // Indicates successful execution.
	ExitErrorGeneric    = 1   // Indicates a generic error.
	ExitErrorTimeout    = 2   // Indicates the job exceeded its time budget.
	ExitErrorConfig     = 4   // Indicates a configuration error.
	ExitErrorSourceRead = 5   // Indicates the raster could not be read.
	ExitErrorCanceled   = 130 // Indicates the operation was canceled (e.g., SIGINT).
)

// ConfigError represents a user configuration error, such as invalid flags or
// tiling parameters. It is raised before any work starts.
type ConfigError struct {
	// Message explains the specific configuration error.
	Message string
}

// Error returns the error message for a ConfigError.
func (e ConfigError) Error() string { return e.Message }

// NewConfigError creates a ConfigError with a formatted message.
func NewConfigError(format string, a ...any) error {
	return ConfigError{Message: fmt.Sprintf(format, a...)}
}

// ValidationError represents an input validation failure. It identifies which
// field failed validation and provides a human-readable explanation.
type ValidationError struct {
	// Field is the name of the field that failed validation.
	Field string
	// Message explains the validation failure.
	Message string
}

// Error returns a formatted message describing the validation failure.
func (e ValidationError) Error() string {
	return fmt.Sprintf("validation error for %q: %s", e.Field, e.Message)
}

// SourceReadError reports a raster that could not be opened or decoded.
// It is fatal for the job that owns the raster.
type SourceReadError struct {
	// Ref identifies the raster (usually a file path).
	Ref string
	// Cause is the underlying decoding or I/O error.
	Cause error
}

// Error returns a formatted message describing the read failure.
func (e SourceReadError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("cannot read raster %q", e.Ref)
	}
	return fmt.Sprintf("cannot read raster %q: %v", e.Ref, e.Cause)
}

// Unwrap returns the underlying cause.
func (e SourceReadError) Unwrap() error { return e.Cause }

// TimeoutError represents an operation that exceeded its wall-clock budget.
type TimeoutError struct {
	// Operation is the name of the operation that timed out.
	Operation string
	// Limit is the duration after which the operation was considered timed out.
	Limit time.Duration
}

// Error returns a formatted message describing the timeout.
func (e TimeoutError) Error() string {
	return fmt.Sprintf("operation %q timed out after %s", e.Operation, e.Limit)
}

// CanceledError reports a job that was canceled before reaching Complete.
type CanceledError struct {
	JobID string
}

func (e CanceledError) Error() string {
	return fmt.Sprintf("job %s canceled", e.JobID)
}

// NotReadyError is returned when results are requested for a job that has
// not reached a terminal phase yet.
type NotReadyError struct {
	JobID string
	Phase string
}

func (e NotReadyError) Error() string {
	return fmt.Sprintf("job %s not ready (phase %s)", e.JobID, e.Phase)
}

// NotFoundError is returned for unknown job identifiers and for jobs whose
// results do not exist because they failed.
type NotFoundError struct {
	JobID string
	// Cause is set when the job exists but failed.
	Cause error
}

func (e NotFoundError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("no results for job %s: %v", e.JobID, e.Cause)
	}
	return fmt.Sprintf("job %s not found", e.JobID)
}

// Unwrap returns the failure that made the results unavailable, if any.
func (e NotFoundError) Unwrap() error { return e.Cause }

// TileFailure describes why a single tile could not be analysed. It is
// absorbed into the metric stream as an invalid record and never fails a job.
type TileFailure struct {
	// GridID identifies the tile.
	GridID string
	// Reason is a short, stable description used in the invalid record.
	Reason string
	// Cause is the underlying error, if any.
	Cause error
}

// Error returns a formatted message describing the tile failure.
func (e TileFailure) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("tile %s: %s", e.GridID, e.Reason)
	}
	return fmt.Sprintf("tile %s: %s: %v", e.GridID, e.Reason, e.Cause)
}

// Unwrap returns the underlying cause.
func (e TileFailure) Unwrap() error { return e.Cause }

// IsContextError checks if the error is a context cancellation or deadline exceeded error.
func IsContextError(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// ExitCode maps an error to the process exit code that best describes it.
func ExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var (
		configErr     ConfigError
		validationErr ValidationError
		sourceErr     SourceReadError
		timeoutErr    TimeoutError
		canceledErr   CanceledError
	)
	switch {
	case errors.As(err, &configErr), errors.As(err, &validationErr):
		return ExitErrorConfig
	case errors.As(err, &sourceErr):
		return ExitErrorSourceRead
	case errors.As(err, &timeoutErr), errors.Is(err, context.DeadlineExceeded):
		return ExitErrorTimeout
	case errors.As(err, &canceledErr), errors.Is(err, context.Canceled):
		return ExitErrorCanceled
	}
	return ExitErrorGeneric
}
