package fractal

import (
	"fmt"
	"strings"

	apperrors "github.com/agbru/xenarch/internal/errors"
)

// ThresholdStrategy selects how a tile's occupancy threshold is derived from
// its own elevations.
type ThresholdStrategy string

const (
	// ThresholdMean marks cells above the tile's mean elevation as occupied.
	ThresholdMean ThresholdStrategy = "mean"
	// ThresholdPercentile marks cells above a percentile of the tile's
	// elevations as occupied.
	ThresholdPercentile ThresholdStrategy = "percentile"
)

// ParseThreshold parses a strategy name, case-insensitively.
func ParseThreshold(s string) (ThresholdStrategy, error) {
	switch ThresholdStrategy(strings.ToLower(strings.TrimSpace(s))) {
	case ThresholdMean, "":
		return ThresholdMean, nil
	case ThresholdPercentile:
		return ThresholdPercentile, nil
	}
	return "", apperrors.NewConfigError("unknown threshold strategy %q (want mean or percentile)", s)
}

// Default estimator settings.
const (
	DefaultPercentile     = 0.5
	DefaultMinCoverage    = 0.5
	DefaultMinBoxSize     = 2
	DefaultMaxBoxFraction = 0.25
	DefaultMinBoxSizes    = 4
)

// Options configures an Estimator. Zero fields take their defaults.
type Options struct {
	Threshold ThresholdStrategy `json:"threshold" yaml:"threshold"`
	// Percentile is the split point in (0, 1) for ThresholdPercentile.
	Percentile float64 `json:"percentile" yaml:"percentile"`
	// MinCoverage is the minimum fraction of valid cells in a tile, in
	// (0, 1]. Callers that accept user input reject an explicit zero with
	// CheckMinCoverage.
	MinCoverage float64 `json:"min_coverage" yaml:"min_coverage"`
	// MinBoxSize is the smallest box edge, in pixels.
	MinBoxSize int `json:"min_box_size" yaml:"min_box_size"`
	// MaxBoxFraction bounds the largest box edge relative to the shorter
	// tile side.
	MaxBoxFraction float64 `json:"max_box_fraction" yaml:"max_box_fraction"`
	// MinBoxSizes is the number of usable box sizes required for a fit.
	MinBoxSizes int `json:"min_box_sizes" yaml:"min_box_sizes"`
}

// DefaultOptions returns the estimator defaults.
func DefaultOptions() Options {
	return Options{
		Threshold:      ThresholdMean,
		Percentile:     DefaultPercentile,
		MinCoverage:    DefaultMinCoverage,
		MinBoxSize:     DefaultMinBoxSize,
		MaxBoxFraction: DefaultMaxBoxFraction,
		MinBoxSizes:    DefaultMinBoxSizes,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.Threshold == "" {
		o.Threshold = d.Threshold
	}
	if o.Percentile == 0 {
		o.Percentile = d.Percentile
	}
	if o.MinCoverage == 0 {
		o.MinCoverage = d.MinCoverage
	}
	if o.MinBoxSize == 0 {
		o.MinBoxSize = d.MinBoxSize
	}
	if o.MaxBoxFraction == 0 {
		o.MaxBoxFraction = d.MaxBoxFraction
	}
	if o.MinBoxSizes == 0 {
		o.MinBoxSizes = d.MinBoxSizes
	}
	return o
}

// Validate reports the first invalid setting as a ConfigError.
func (o Options) Validate() error {
	o = o.withDefaults()
	var msg string
	switch {
	case o.Threshold != ThresholdMean && o.Threshold != ThresholdPercentile:
		msg = fmt.Sprintf("unknown threshold strategy %q", o.Threshold)
	case o.Percentile <= 0 || o.Percentile >= 1:
		msg = fmt.Sprintf("percentile must be in (0, 1), got %v", o.Percentile)
	case o.MinCoverage < 0 || o.MinCoverage > 1:
		msg = fmt.Sprintf("minimum coverage must be in (0, 1], got %v", o.MinCoverage)
	case o.MinBoxSize < 1:
		msg = fmt.Sprintf("minimum box size must be at least 1, got %d", o.MinBoxSize)
	case o.MaxBoxFraction <= 0 || o.MaxBoxFraction > 1:
		msg = fmt.Sprintf("maximum box fraction must be in (0, 1], got %v", o.MaxBoxFraction)
	case o.MinBoxSizes < 2:
		msg = fmt.Sprintf("at least 2 box sizes are needed for a fit, got %d", o.MinBoxSizes)
	default:
		return nil
	}
	return apperrors.ConfigError{Message: msg}
}

// CheckMinCoverage validates a user-supplied minimum coverage. Zero is
// refused rather than replaced by DefaultMinCoverage.
func CheckMinCoverage(v float64) error {
	if v <= 0 || v > 1 {
		return apperrors.NewConfigError("minimum coverage must be in (0, 1], got %v", v)
	}
	return nil
}
