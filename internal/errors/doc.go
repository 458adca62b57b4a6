// Package apperrors defines structured application error types,
// allowing for a clear distinction between error classes (configuration,
// source read, timeout, per-tile failure, job lookup) and for carrying the
// underlying cause.
//
// Error Wrapping Guidelines:
// This package follows Go's error wrapping conventions using fmt.Errorf with %w.
// All error types that carry a cause implement Unwrap() to support
// errors.Is() and errors.As().
package apperrors
