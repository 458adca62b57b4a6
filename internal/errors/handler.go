package apperrors

import (
	"fmt"
	"io"
	"time"
)

// ColorProvider supplies the ANSI sequences used when printing errors.
// It keeps this package free of any dependency on the UI layer.
type ColorProvider interface {
	Red() string
	Yellow() string
	Reset() string
}

// HandleJobError prints a user-facing description of a job error and
// returns the matching exit code.
//
// Parameters:
//   - err: The error that ended the job (nil means success).
//   - elapsed: How long the job ran before the error, shown when non-zero.
//   - out: The writer for the message.
//   - colors: The color provider.
//
// Returns:
//   - int: The exit code for the error.
func HandleJobError(err error, elapsed time.Duration, out io.Writer, colors ColorProvider) int {
	code := ExitCode(err)
	if err == nil {
		return code
	}
	var label string
	switch code {
	case ExitErrorTimeout:
		label = "Timeout"
	case ExitErrorConfig:
		label = "Configuration error"
	case ExitErrorSourceRead:
		label = "Unreadable raster"
	case ExitErrorCanceled:
		label = "Canceled"
	default:
		label = "Error"
	}
	fmt.Fprintf(out, "%s%s:%s %v", colors.Red(), label, colors.Reset(), err)
	if elapsed > 0 {
		fmt.Fprintf(out, " %s(after %s)%s", colors.Yellow(), elapsed.Round(time.Millisecond), colors.Reset())
	}
	fmt.Fprintln(out)
	return code
}
