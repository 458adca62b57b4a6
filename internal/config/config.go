// Package config parses the application configuration from command-line
// flags, XENARCH_* environment variables and an optional YAML file.
//
// Priority, highest first: CLI flags, environment, YAML file, defaults.
package config

import (
	"bytes"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	apperrors "github.com/agbru/xenarch/internal/errors"
	"github.com/agbru/xenarch/internal/fractal"
	"github.com/agbru/xenarch/internal/orchestration"
	"github.com/agbru/xenarch/internal/raster"
)

// EnvPrefix prefixes every environment variable override.
const EnvPrefix = "XENARCH_"

// Log formats.
const (
	LogFormatConsole = "console"
	LogFormatJSON    = "json"
)

// AppConfig is the complete application configuration.
type AppConfig struct {
	ConfigFile string `yaml:"-"`

	// Input selection: exactly one of Input and Synthetic outside server mode.
	Input     string `yaml:"input"`
	Synthetic string `yaml:"synthetic"`
	Seed      uint64 `yaml:"seed"`
	// NoData overrides the raster's no-data sentinel when set.
	NoData *float64 `yaml:"nodata"`

	GridSize    int           `yaml:"grid_size"`
	Overlap     int           `yaml:"overlap"`
	CPUFraction float64       `yaml:"cpu_fraction"`
	FDMin       float64       `yaml:"fd_min"`
	FDMax       float64       `yaml:"fd_max"`
	R2Min       float64       `yaml:"r2_min"`
	MaxSamples  int           `yaml:"max_samples"`
	Timeout     time.Duration `yaml:"timeout"`
	Threshold   string        `yaml:"threshold"`
	Percentile  float64       `yaml:"percentile"`
	MinCoverage float64       `yaml:"min_coverage"`

	Artifacts  string `yaml:"artifacts"`
	DB         string `yaml:"db"`
	OutputFile string `yaml:"output"`
	Quiet      bool   `yaml:"quiet"`
	Verbose    bool   `yaml:"verbose"`
	NoColor    bool   `yaml:"no_color"`
	LogFormat  string `yaml:"log_format"`

	Serve           bool          `yaml:"serve"`
	Addr            string        `yaml:"addr"`
	UploadDir       string        `yaml:"upload_dir"`
	Retention       time.Duration `yaml:"retention"`
	MaxJobs         int           `yaml:"max_jobs"`
	AllowLocalPaths bool          `yaml:"allow_local_paths"`
}

// DefaultAppConfig returns the built-in defaults.
func DefaultAppConfig() AppConfig {
	p := orchestration.DefaultJobParams()
	return AppConfig{
		Seed:        1,
		GridSize:    p.GridSize,
		Overlap:     p.Overlap,
		CPUFraction: p.CPUFraction,
		FDMin:       p.FDMin,
		FDMax:       p.FDMax,
		R2Min:       p.R2Min,
		MaxSamples:  p.MaxSamples,
		Timeout:     p.TimeBudget,
		Threshold:   string(p.Estimator.Threshold),
		Percentile:  p.Estimator.Percentile,
		MinCoverage: p.Estimator.MinCoverage,
		LogFormat:   LogFormatConsole,
		Addr:        ":8080",
		UploadDir:   os.TempDir(),
		Retention:   time.Hour,
	}
}

// ParseConfig builds the configuration for programName from args. Errors
// from flag parsing (including flag.ErrHelp) are returned as is; invalid
// values are reported as ConfigError.
func ParseConfig(programName string, args []string, errorWriter io.Writer) (AppConfig, error) {
	cfg := DefaultAppConfig()
	if path := findConfigPath(args); path != "" {
		if err := loadYAML(path, &cfg); err != nil {
			return AppConfig{}, err
		}
		cfg.ConfigFile = path
	}

	fs := flag.NewFlagSet(programName, flag.ContinueOnError)
	fs.SetOutput(errorWriter)
	fs.Usage = func() {
		fmt.Fprintf(errorWriter, "Usage: %s [options]\n\n", programName)
		fmt.Fprintln(errorWriter, "Splits an elevation raster into tiles, estimates each tile's box-counting")
		fmt.Fprintln(errorWriter, "fractal dimension and ranks the tiles inside a dimension/R² band.")
		fmt.Fprintln(errorWriter, "\nOptions:")
		fs.PrintDefaults()
	}
	registerFlags(fs, &cfg)
	if err := fs.Parse(args); err != nil {
		return AppConfig{}, err
	}
	if fs.NArg() > 0 {
		return AppConfig{}, apperrors.NewConfigError("unexpected arguments: %s", strings.Join(fs.Args(), " "))
	}
	if err := applyEnvOverrides(&cfg, fs); err != nil {
		return AppConfig{}, err
	}
	cfg = ApplyAdaptiveDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return AppConfig{}, err
	}
	return cfg, nil
}

func registerFlags(fs *flag.FlagSet, cfg *AppConfig) {
	fs.StringVar(&cfg.ConfigFile, "config", cfg.ConfigFile, "YAML configuration file.")
	fs.StringVar(&cfg.Input, "input", cfg.Input, "Elevation raster (8/16-bit grayscale GeoTIFF).")
	fs.StringVar(&cfg.Input, "i", cfg.Input, "Alias for --input.")
	fs.StringVar(&cfg.Synthetic, "synthetic", cfg.Synthetic, "Analyse generated terrain of size WxH instead of a file.")
	fs.Uint64Var(&cfg.Seed, "seed", cfg.Seed, "Seed of the synthetic terrain.")
	fs.Func("nodata", "No-data elevation of the input raster.", func(s string) error {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return err
		}
		cfg.NoData = &v
		return nil
	})

	fs.IntVar(&cfg.GridSize, "grid-size", cfg.GridSize, "Tile edge in pixels.")
	fs.IntVar(&cfg.Overlap, "overlap", cfg.Overlap, "Pixels shared by adjacent tiles.")
	fs.Float64Var(&cfg.CPUFraction, "cpu-fraction", cfg.CPUFraction, "Fraction of logical CPUs used by the worker pool.")
	fs.Float64Var(&cfg.FDMin, "fd-min", cfg.FDMin, "Lowest accepted fractal dimension.")
	fs.Float64Var(&cfg.FDMax, "fd-max", cfg.FDMax, "Highest accepted fractal dimension.")
	fs.Float64Var(&cfg.R2Min, "r2-min", cfg.R2Min, "Lowest accepted R² of the log-log fit.")
	fs.IntVar(&cfg.MaxSamples, "max-samples", cfg.MaxSamples, "Maximum number of ranked tiles.")
	fs.DurationVar(&cfg.Timeout, "timeout", cfg.Timeout, "Time budget of a job (0 disables it).")
	fs.StringVar(&cfg.Threshold, "threshold", cfg.Threshold, "Occupancy threshold strategy: mean or percentile.")
	fs.Float64Var(&cfg.Percentile, "percentile", cfg.Percentile, "Quantile used by the percentile strategy.")
	fs.Float64Var(&cfg.MinCoverage, "min-coverage", cfg.MinCoverage, "Minimum fraction of valid cells per tile.")

	fs.StringVar(&cfg.Artifacts, "artifacts", cfg.Artifacts, "Directory receiving per-tile TIFF, world and JSON files.")
	fs.StringVar(&cfg.DB, "db", cfg.DB, "SQLite database recording finished jobs.")
	fs.StringVar(&cfg.OutputFile, "output", cfg.OutputFile, "Write the ranked results as JSON to this file.")
	fs.StringVar(&cfg.OutputFile, "o", cfg.OutputFile, "Alias for --output.")
	fs.BoolVar(&cfg.Quiet, "quiet", cfg.Quiet, "Print only the ranked grid ids.")
	fs.BoolVar(&cfg.Quiet, "q", cfg.Quiet, "Alias for --quiet.")
	fs.BoolVar(&cfg.Verbose, "verbose", cfg.Verbose, "Show the summary and debug logs.")
	fs.BoolVar(&cfg.Verbose, "v", cfg.Verbose, "Alias for --verbose.")
	fs.BoolVar(&cfg.NoColor, "no-color", cfg.NoColor, "Disable colored output.")
	fs.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "Log format: console or json.")

	fs.BoolVar(&cfg.Serve, "serve", cfg.Serve, "Run the HTTP API instead of a one-shot analysis.")
	fs.StringVar(&cfg.Addr, "addr", cfg.Addr, "Listen address of the HTTP API.")
	fs.StringVar(&cfg.UploadDir, "upload-dir", cfg.UploadDir, "Directory receiving uploaded rasters.")
	fs.DurationVar(&cfg.Retention, "retention", cfg.Retention, "How long finished jobs stay in memory.")
	fs.IntVar(&cfg.MaxJobs, "max-jobs", cfg.MaxJobs, "Concurrently running jobs accepted by the server (0 = estimate).")
	fs.BoolVar(&cfg.AllowLocalPaths, "allow-local-paths", cfg.AllowLocalPaths, "Let API clients reference rasters on the server's filesystem.")
	fs.Bool("version", false, "Print the version and exit.")
}

// findConfigPath looks for --config ahead of flag parsing so that the file
// can supply the flag defaults. XENARCH_CONFIG is used when no flag is given.
func findConfigPath(args []string) string {
	for i, a := range args {
		if a == "--" {
			break
		}
		name, value, hasValue := strings.Cut(strings.TrimLeft(a, "-"), "=")
		if !strings.HasPrefix(a, "-") || name != "config" {
			continue
		}
		if hasValue {
			return value
		}
		if i+1 < len(args) {
			return args[i+1]
		}
	}
	return os.Getenv(EnvPrefix + "CONFIG")
}

func loadYAML(path string, cfg *AppConfig) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return apperrors.NewConfigError("cannot read config file: %v", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return apperrors.NewConfigError("invalid config file %s: %v", path, err)
	}
	return nil
}

// Validate checks the configuration and returns the first ConfigError.
func (c AppConfig) Validate() error {
	switch {
	case c.Serve:
	case c.Input == "" && c.Synthetic == "":
		return apperrors.NewConfigError("an input raster is required (--input or --synthetic)")
	case c.Input != "" && c.Synthetic != "":
		return apperrors.NewConfigError("--input and --synthetic are mutually exclusive")
	}
	if c.Synthetic != "" {
		if _, _, err := raster.ParseSize(c.Synthetic); err != nil {
			return apperrors.NewConfigError("invalid --synthetic %q: %v", c.Synthetic, err)
		}
	}
	if c.LogFormat != LogFormatConsole && c.LogFormat != LogFormatJSON {
		return apperrors.NewConfigError("unknown log format %q", c.LogFormat)
	}
	if c.Quiet && c.Verbose {
		return apperrors.NewConfigError("--quiet and --verbose are mutually exclusive")
	}
	if c.Retention < 0 || c.MaxJobs < 0 {
		return apperrors.NewConfigError("retention and max-jobs must not be negative")
	}
	_, err := c.JobParams()
	return err
}

// JobParams converts the analysis settings into orchestrator parameters.
func (c AppConfig) JobParams() (orchestration.JobParams, error) {
	threshold, err := fractal.ParseThreshold(c.Threshold)
	if err != nil {
		return orchestration.JobParams{}, err
	}
	p := orchestration.DefaultJobParams()
	p.GridSize = c.GridSize
	p.Overlap = c.Overlap
	p.CPUFraction = c.CPUFraction
	p.FDMin, p.FDMax, p.R2Min = c.FDMin, c.FDMax, c.R2Min
	p.MaxSamples = c.MaxSamples
	p.TimeBudget = c.Timeout
	p.Estimator.Threshold = threshold
	p.Estimator.Percentile = c.Percentile
	if err := fractal.CheckMinCoverage(c.MinCoverage); err != nil {
		return orchestration.JobParams{}, err
	}
	p.Estimator.MinCoverage = c.MinCoverage
	return p, p.Validate()
}

// Ref returns the raster reference handed to the orchestrator.
func (c AppConfig) Ref() string {
	if c.Synthetic != "" {
		return raster.SyntheticPrefix + c.Synthetic
	}
	return c.Input
}

// FileOpener returns the TIFF opener honouring --nodata.
func (c AppConfig) FileOpener() raster.FileOpener {
	o := raster.FileOpener{}
	if c.NoData != nil {
		o.NoData, o.HasNoData = *c.NoData, true
	}
	return o
}
