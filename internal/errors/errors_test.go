package apperrors

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"
)

func TestErrorMessages(t *testing.T) {
	t.Parallel()
	cause := io.ErrUnexpectedEOF
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"config", NewConfigError("overlap (%d) must be smaller than grid size (%d)", 64, 64), "overlap (64) must be smaller than grid size (64)"},
		{"validation", ValidationError{Field: "fd_min", Message: "must not exceed fd_max"}, `validation error for "fd_min": must not exceed fd_max`},
		{"source read", SourceReadError{Ref: "dem.tif", Cause: cause}, `cannot read raster "dem.tif": unexpected EOF`},
		{"source read without cause", SourceReadError{Ref: "dem.tif"}, `cannot read raster "dem.tif"`},
		{"timeout", TimeoutError{Operation: "job 7", Limit: 90 * time.Second}, `operation "job 7" timed out after 1m30s`},
		{"canceled", CanceledError{JobID: "7"}, "job 7 canceled"},
		{"tile", TileFailure{GridID: "grid_00000_00003", Reason: "nodata"}, "tile grid_00000_00003: nodata"},
		{"tile with cause", TileFailure{GridID: "grid_00000_00003", Reason: "read failed", Cause: cause}, "tile grid_00000_00003: read failed: unexpected EOF"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestUnwrap(t *testing.T) {
	t.Parallel()
	if !errors.Is(SourceReadError{Ref: "a", Cause: io.ErrUnexpectedEOF}, io.ErrUnexpectedEOF) {
		t.Error("SourceReadError should unwrap to its cause")
	}
	if !errors.Is(TileFailure{GridID: "g", Reason: "r", Cause: context.Canceled}, context.Canceled) {
		t.Error("TileFailure should unwrap to its cause")
	}
	var cfg ConfigError
	wrapped := fmt.Errorf("loading config: %w", NewConfigError("bad"))
	if !errors.As(wrapped, &cfg) || cfg.Message != "bad" {
		t.Errorf("errors.As(ConfigError) = %v", cfg)
	}
}

func TestIsContextError(t *testing.T) {
	t.Parallel()
	tests := []struct {
		err  error
		want bool
	}{
		{context.Canceled, true},
		{context.DeadlineExceeded, true},
		{fmt.Errorf("splitting: %w", context.Canceled), true},
		{io.EOF, false},
		{SourceReadError{Ref: "a", Cause: io.EOF}, false},
	}
	for _, tt := range tests {
		if got := IsContextError(tt.err); got != tt.want {
			t.Errorf("IsContextError(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
	if IsContextError(nil) {
		t.Error("nil is not a context error")
	}
}

func TestJobLookupErrors(t *testing.T) {
	t.Parallel()

	t.Run("NotReadyError names the phase", func(t *testing.T) {
		t.Parallel()
		err := NotReadyError{JobID: "j1", Phase: "ComputingMetrics"}
		if err.Error() != "job j1 not ready (phase ComputingMetrics)" {
			t.Errorf("unexpected message %q", err.Error())
		}
	})

	t.Run("NotFoundError unwraps the failure", func(t *testing.T) {
		t.Parallel()
		cause := TimeoutError{Operation: "job", Limit: time.Second}
		err := NotFoundError{JobID: "j2", Cause: cause}
		var timeoutErr TimeoutError
		if !errors.As(err, &timeoutErr) {
			t.Error("errors.As should find TimeoutError through NotFoundError")
		}
	})

	t.Run("NotFoundError without cause", func(t *testing.T) {
		t.Parallel()
		err := NotFoundError{JobID: "j3"}
		if err.Error() != "job j3 not found" {
			t.Errorf("unexpected message %q", err.Error())
		}
	})
}

func TestExitCode(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		err      error
		expected int
	}{
		{"nil", nil, ExitSuccess},
		{"config", NewConfigError("bad overlap"), ExitErrorConfig},
		{"validation", ValidationError{Field: "r2_min", Message: "out of range"}, ExitErrorConfig},
		{"wrapped source read", fmt.Errorf("job 3: %w", SourceReadError{Ref: "x"}), ExitErrorSourceRead},
		{"timeout", TimeoutError{Operation: "job", Limit: time.Minute}, ExitErrorTimeout},
		{"deadline", context.DeadlineExceeded, ExitErrorTimeout},
		{"canceled job", CanceledError{JobID: "j"}, ExitErrorCanceled},
		{"context canceled", context.Canceled, ExitErrorCanceled},
		{"generic", errors.New("boom"), ExitErrorGeneric},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := ExitCode(tt.err); got != tt.expected {
				t.Errorf("ExitCode(%v) = %d, expected %d", tt.err, got, tt.expected)
			}
		})
	}
}

func TestExitCodes(t *testing.T) {
	t.Parallel()
	codes := map[string]int{
		"ExitSuccess":         ExitSuccess,
		"ExitErrorGeneric":    ExitErrorGeneric,
		"ExitErrorTimeout":    ExitErrorTimeout,
		"ExitErrorConfig":     ExitErrorConfig,
		"ExitErrorSourceRead": ExitErrorSourceRead,
		"ExitErrorCanceled":   ExitErrorCanceled,
	}

	if ExitSuccess != 0 {
		t.Errorf("ExitSuccess should be 0, got %d", ExitSuccess)
	}
	if ExitErrorCanceled != 130 {
		t.Errorf("ExitErrorCanceled should be 130 (SIGINT convention), got %d", ExitErrorCanceled)
	}

	seen := make(map[int]string)
	for name, code := range codes {
		if existing, ok := seen[code]; ok {
			t.Errorf("duplicate exit code %d: %s and %s", code, existing, name)
		}
		seen[code] = name
	}
}

type plainColors struct{}

func (plainColors) Red() string    { return "" }
func (plainColors) Yellow() string { return "" }
func (plainColors) Reset() string  { return "" }

func TestHandleJobError(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		err      error
		elapsed  time.Duration
		code     int
		contains []string
	}{
		{"nil error prints nothing", nil, 0, ExitSuccess, nil},
		{"timeout", TimeoutError{Operation: "job", Limit: time.Second}, 1500 * time.Millisecond, ExitErrorTimeout, []string{"Timeout:", "after 1.5s"}},
		{"source", SourceReadError{Ref: "a.tif"}, 0, ExitErrorSourceRead, []string{"Unreadable raster:", "a.tif"}},
		{"config", NewConfigError("overlap must be smaller than grid size"), 0, ExitErrorConfig, []string{"Configuration error:"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var buf strings.Builder
			code := HandleJobError(tt.err, tt.elapsed, &buf, plainColors{})
			if code != tt.code {
				t.Errorf("expected code %d, got %d", tt.code, code)
			}
			if tt.err == nil && buf.Len() != 0 {
				t.Errorf("expected no output, got %q", buf.String())
			}
			for _, want := range tt.contains {
				if !strings.Contains(buf.String(), want) {
					t.Errorf("output %q should contain %q", buf.String(), want)
				}
			}
		})
	}
}
