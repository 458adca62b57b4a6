package orchestration

import (
	"time"

	apperrors "github.com/agbru/xenarch/internal/errors"
	"github.com/agbru/xenarch/internal/fractal"
	"github.com/agbru/xenarch/internal/ranking"
	"github.com/agbru/xenarch/internal/tiling"
)

// JobParams are the per-job settings of run_job.
type JobParams struct {
	GridSize    int             `json:"grid_size"`
	Overlap     int             `json:"overlap"`
	CPUFraction float64         `json:"cpu_fraction"`
	FDMin       float64         `json:"fd_min"`
	FDMax       float64         `json:"fd_max"`
	R2Min       float64         `json:"r2_min"`
	MaxSamples  int             `json:"max_samples"`
	TimeBudget  time.Duration   `json:"time_budget"`
	Estimator   fractal.Options `json:"estimator"`
}

// DefaultJobParams returns the defaults used by the CLI and the server.
func DefaultJobParams() JobParams {
	return JobParams{
		GridSize:    512,
		Overlap:     64,
		CPUFraction: 0.8,
		FDMin:       1.0,
		FDMax:       2.0,
		R2Min:       0.8,
		MaxSamples:  16,
		TimeBudget:  10 * time.Minute,
		Estimator:   fractal.DefaultOptions(),
	}
}

// Tiling returns the lattice parameters.
func (p JobParams) Tiling() tiling.Params {
	return tiling.Params{GridSize: p.GridSize, Overlap: p.Overlap}
}

// Criteria returns the ranking band.
func (p JobParams) Criteria() ranking.Criteria {
	return ranking.Criteria{FDMin: p.FDMin, FDMax: p.FDMax, R2Min: p.R2Min, MaxSamples: p.MaxSamples}
}

// Validate checks every parameter and returns the first ConfigError.
func (p JobParams) Validate() error {
	if err := p.Tiling().Validate(); err != nil {
		return err
	}
	if p.CPUFraction <= 0 || p.CPUFraction > 1 {
		return apperrors.NewConfigError("cpu fraction must be in (0, 1], got %v", p.CPUFraction)
	}
	if err := p.Criteria().Validate(); err != nil {
		return err
	}
	if p.TimeBudget < 0 {
		return apperrors.NewConfigError("time budget must not be negative, got %s", p.TimeBudget)
	}
	return p.Estimator.Validate()
}
