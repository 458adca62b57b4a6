// This file contains environment variable utilities for configuration override.

package config

import (
	"flag"
	"os"
	"strconv"
	"strings"
	"time"

	apperrors "github.com/agbru/xenarch/internal/errors"
)

// isFlagSet checks if a flag was explicitly set on the command line.
func isFlagSet(fs *flag.FlagSet, name string) bool {
	found := false
	fs.Visit(func(f *flag.Flag) {
		if f.Name == name {
			found = true
		}
	})
	return found
}

// isFlagSetAny checks if any of the specified flags were explicitly set.
// Aliased flags may be given in either the short or the long form.
func isFlagSetAny(fs *flag.FlagSet, names ...string) bool {
	for _, name := range names {
		if isFlagSet(fs, name) {
			return true
		}
	}
	return false
}

// envOverride declares a single environment variable override.
// Each entry maps an env key (without the XENARCH_ prefix) to the CLI flag
// name(s) it corresponds to and a function that applies the env value.
type envOverride struct {
	envKey string
	flags  []string
	apply  func(*AppConfig, string) error
}

func setInt(dst *int) func(*AppConfig, string) error {
	return func(_ *AppConfig, v string) error {
		parsed, err := strconv.Atoi(v)
		if err == nil {
			*dst = parsed
		}
		return err
	}
}

func setFloat(dst *float64) func(*AppConfig, string) error {
	return func(_ *AppConfig, v string) error {
		parsed, err := strconv.ParseFloat(v, 64)
		if err == nil {
			*dst = parsed
		}
		return err
	}
}

func setDuration(dst *time.Duration) func(*AppConfig, string) error {
	return func(_ *AppConfig, v string) error {
		parsed, err := time.ParseDuration(v)
		if err == nil {
			*dst = parsed
		}
		return err
	}
}

func setString(dst *string) func(*AppConfig, string) error {
	return func(_ *AppConfig, v string) error {
		*dst = v
		return nil
	}
}

func setBool(dst *bool) func(*AppConfig, string) error {
	return func(_ *AppConfig, v string) error {
		*dst = parseBoolEnv(v, *dst)
		return nil
	}
}

// envOverrides is the declarative table of all environment variable overrides.
// The setters close over the fields of c.
func envOverrides(c *AppConfig) []envOverride {
	return []envOverride{
		// Input
		{"INPUT", []string{"input", "i"}, setString(&c.Input)},
		{"SYNTHETIC", []string{"synthetic"}, setString(&c.Synthetic)},
		{"SEED", []string{"seed"}, func(c *AppConfig, v string) error {
			parsed, err := strconv.ParseUint(v, 10, 64)
			if err == nil {
				c.Seed = parsed
			}
			return err
		}},
		{"NODATA", []string{"nodata"}, func(c *AppConfig, v string) error {
			parsed, err := strconv.ParseFloat(v, 64)
			if err == nil {
				c.NoData = &parsed
			}
			return err
		}},

		// Analysis
		{"GRID_SIZE", []string{"grid-size"}, setInt(&c.GridSize)},
		{"OVERLAP", []string{"overlap"}, setInt(&c.Overlap)},
		{"CPU_FRACTION", []string{"cpu-fraction"}, setFloat(&c.CPUFraction)},
		{"FD_MIN", []string{"fd-min"}, setFloat(&c.FDMin)},
		{"FD_MAX", []string{"fd-max"}, setFloat(&c.FDMax)},
		{"R2_MIN", []string{"r2-min"}, setFloat(&c.R2Min)},
		{"MAX_SAMPLES", []string{"max-samples"}, setInt(&c.MaxSamples)},
		{"TIMEOUT", []string{"timeout"}, setDuration(&c.Timeout)},
		{"THRESHOLD", []string{"threshold"}, setString(&c.Threshold)},
		{"PERCENTILE", []string{"percentile"}, setFloat(&c.Percentile)},
		{"MIN_COVERAGE", []string{"min-coverage"}, setFloat(&c.MinCoverage)},

		// Output
		{"ARTIFACTS", []string{"artifacts"}, setString(&c.Artifacts)},
		{"DB", []string{"db"}, setString(&c.DB)},
		{"OUTPUT", []string{"output", "o"}, setString(&c.OutputFile)},
		{"QUIET", []string{"quiet", "q"}, setBool(&c.Quiet)},
		{"VERBOSE", []string{"verbose", "v"}, setBool(&c.Verbose)},
		{"NO_COLOR", []string{"no-color"}, setBool(&c.NoColor)},
		{"LOG_FORMAT", []string{"log-format"}, setString(&c.LogFormat)},

		// Server
		{"SERVE", []string{"serve"}, setBool(&c.Serve)},
		{"ADDR", []string{"addr"}, setString(&c.Addr)},
		{"UPLOAD_DIR", []string{"upload-dir"}, setString(&c.UploadDir)},
		{"RETENTION", []string{"retention"}, setDuration(&c.Retention)},
		{"MAX_JOBS", []string{"max-jobs"}, setInt(&c.MaxJobs)},
		{"ALLOW_LOCAL_PATHS", []string{"allow-local-paths"}, setBool(&c.AllowLocalPaths)},
	}
}

// parseBoolEnv parses a boolean environment variable value.
// Accepts "true", "1", "yes" as true; "false", "0", "no" as false (case-insensitive).
// Returns defaultVal if the value is not recognized.
func parseBoolEnv(val string, defaultVal bool) bool {
	switch strings.ToLower(val) {
	case "true", "1", "yes":
		return true
	case "false", "0", "no":
		return false
	}
	return defaultVal
}

// applyEnvOverrides applies environment variable values to the configuration
// for any flags that were not explicitly set on the command line.
// A value that does not parse is reported as a ConfigError naming the variable.
func applyEnvOverrides(config *AppConfig, fs *flag.FlagSet) error {
	for _, o := range envOverrides(config) {
		if isFlagSetAny(fs, o.flags...) {
			continue
		}
		val := os.Getenv(EnvPrefix + o.envKey)
		if val == "" {
			continue
		}
		if err := o.apply(config, val); err != nil {
			return apperrors.NewConfigError("invalid %s%s=%q: %v", EnvPrefix, o.envKey, val, err)
		}
	}
	return nil
}
