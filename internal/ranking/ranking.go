// Package ranking filters metric records by a fractal-dimension band and a
// goodness-of-fit floor, orders the survivors and summarises a job's
// records.
package ranking

import (
	"cmp"
	"slices"

	apperrors "github.com/agbru/xenarch/internal/errors"
	"github.com/agbru/xenarch/internal/fractal"
)

// Criteria is the acceptance band and the result cap.
type Criteria struct {
	FDMin      float64 `json:"fd_min" yaml:"fd_min"`
	FDMax      float64 `json:"fd_max" yaml:"fd_max"`
	R2Min      float64 `json:"r2_min" yaml:"r2_min"`
	MaxSamples int     `json:"max_samples" yaml:"max_samples"`
}

// Validate rejects inconsistent criteria with a ConfigError.
func (c Criteria) Validate() error {
	switch {
	case c.FDMin > c.FDMax:
		return apperrors.NewConfigError("fd_min (%v) must not exceed fd_max (%v)", c.FDMin, c.FDMax)
	case c.R2Min < 0 || c.R2Min > 1:
		return apperrors.NewConfigError("r2_min must be in [0, 1], got %v", c.R2Min)
	case c.MaxSamples < 0:
		return apperrors.NewConfigError("max_samples must not be negative, got %d", c.MaxSamples)
	}
	return nil
}

// Accepts reports whether r is valid and inside the band.
func (c Criteria) Accepts(r fractal.MetricRecord) bool {
	return r.Valid &&
		r.FractalDimension >= c.FDMin && r.FractalDimension <= c.FDMax &&
		r.RSquared >= c.R2Min
}

// Compare orders records by dimension descending, then R² descending, then
// grid id ascending.
func Compare(a, b fractal.MetricRecord) int {
	if c := cmp.Compare(b.FractalDimension, a.FractalDimension); c != 0 {
		return c
	}
	if c := cmp.Compare(b.RSquared, a.RSquared); c != 0 {
		return c
	}
	return cmp.Compare(a.GridID, b.GridID)
}

// Rank returns at most c.MaxSamples accepted records in Compare order. The
// input is not modified. No match yields an empty, non-nil slice.
func Rank(records []fractal.MetricRecord, c Criteria) []fractal.MetricRecord {
	ranked := make([]fractal.MetricRecord, 0, min(len(records), max(c.MaxSamples, 0)))
	if c.MaxSamples <= 0 {
		return ranked
	}
	for _, r := range records {
		if c.Accepts(r) {
			ranked = append(ranked, r)
		}
	}
	slices.SortFunc(ranked, Compare)
	if len(ranked) > c.MaxSamples {
		ranked = slices.Clip(ranked[:c.MaxSamples])
	}
	return ranked
}
