package fractal

import (
	"math"
	"slices"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/agbru/xenarch/internal/raster"
	"github.com/agbru/xenarch/internal/tiling"
)

// Reasons recorded on invalid results.
const (
	ReasonLowCoverage = "insufficient coverage"
	ReasonUniform     = "uniform occupancy"
	ReasonTooFewSizes = "too few box sizes"
)

// Elevation summarises the valid cells of a tile.
type Elevation struct {
	Min  float64
	Max  float64
	Mean float64
	Std  float64
}

// Result is the outcome of estimating one tile.
type Result struct {
	FractalDimension float64
	RSquared         float64
	Elevation        Elevation
	// Coverage is the fraction of cells holding valid elevations.
	Coverage float64
	// BoxSizes and Counts are the usable points of the log-log fit.
	BoxSizes []int
	Counts   []int
	Valid    bool
	Reason   string
}

// Estimator computes box-counting dimensions. It holds no mutable state and
// is safe for concurrent use.
type Estimator struct {
	opts Options
}

// NewEstimator creates an Estimator; zero option fields take defaults.
func NewEstimator(opts Options) *Estimator {
	return &Estimator{opts: opts.withDefaults()}
}

// Options returns the effective options.
func (e *Estimator) Options() Options { return e.opts }

// Estimate analyses a single tile. No-data cells (the grid's sentinel and
// NaN) are excluded from the statistics and never occupied.
func (e *Estimator) Estimate(g *raster.Grid) Result {
	total := g.Width * g.Height
	values := make([]float64, 0, total)
	for _, v := range g.Data {
		if g.Valid(v) {
			values = append(values, v)
		}
	}

	var res Result
	if total > 0 {
		res.Coverage = float64(len(values)) / float64(total)
	}
	if len(values) == 0 {
		res.Reason = ReasonLowCoverage
		return res
	}
	res.Elevation.Min = floats.Min(values)
	res.Elevation.Max = floats.Max(values)
	res.Elevation.Mean, res.Elevation.Std = stat.PopMeanStdDev(values, nil)
	if res.Coverage < e.opts.MinCoverage {
		res.Reason = ReasonLowCoverage
		return res
	}

	threshold := e.threshold(values, res.Elevation.Mean)
	occupied := make([]bool, total)
	n := 0
	for i, v := range g.Data {
		if g.Valid(v) && v > threshold {
			occupied[i] = true
			n++
		}
	}
	if n == 0 || n == len(values) {
		res.Reason = ReasonUniform
		return res
	}

	maxSize := float64(min(g.Width, g.Height)) * e.opts.MaxBoxFraction
	for s := e.opts.MinBoxSize; float64(s) <= maxSize; s *= 2 {
		if c := countBoxes(occupied, g.Width, g.Height, s); c > 0 {
			res.BoxSizes = append(res.BoxSizes, s)
			res.Counts = append(res.Counts, c)
		}
	}
	if len(res.BoxSizes) < e.opts.MinBoxSizes {
		res.Reason = ReasonTooFewSizes
		return res
	}

	res.FractalDimension, res.RSquared = fit(res.BoxSizes, res.Counts)
	res.Valid = true
	return res
}

func (e *Estimator) threshold(values []float64, mean float64) float64 {
	if e.opts.Threshold != ThresholdPercentile {
		return mean
	}
	sorted := slices.Clone(values)
	slices.Sort(sorted)
	return stat.Quantile(e.opts.Percentile, stat.Empirical, sorted, nil)
}

// countBoxes counts the full size×size boxes containing at least one
// occupied cell. Rows and columns past the last full box are ignored.
func countBoxes(occupied []bool, width, height, size int) int {
	count := 0
	for by := 0; by+size <= height; by += size {
		for bx := 0; bx+size <= width; bx += size {
			if boxOccupied(occupied, width, bx, by, size) {
				count++
			}
		}
	}
	return count
}

func boxOccupied(occupied []bool, width, bx, by, size int) bool {
	for y := by; y < by+size; y++ {
		row := occupied[y*width+bx : y*width+bx+size]
		for _, o := range row {
			if o {
				return true
			}
		}
	}
	return false
}

// fit regresses ln(count) on ln(size) and returns the negated slope and R².
// A constant count series is fitted exactly, so its R² is 1.
func fit(sizes, counts []int) (dimension, rSquared float64) {
	xs := make([]float64, len(sizes))
	ys := make([]float64, len(counts))
	for i := range sizes {
		xs[i] = math.Log(float64(sizes[i]))
		ys[i] = math.Log(float64(counts[i]))
	}
	alpha, beta := stat.LinearRegression(xs, ys, nil, false)
	rSquared = stat.RSquared(xs, ys, nil, alpha, beta)
	switch {
	case math.IsNaN(rSquared):
		rSquared = 1
	case rSquared < 0:
		rSquared = 0
	case rSquared > 1:
		rSquared = 1
	}
	return -beta, rSquared
}

// Record estimates the tile and wraps the result in a MetricRecord.
func (e *Estimator) Record(tile tiling.Tile, g *raster.Grid) MetricRecord {
	res := e.Estimate(g)
	rec := newRecord(tile)
	rec.Elevation = res.Elevation
	rec.Coverage = res.Coverage
	rec.Valid = res.Valid
	rec.Reason = res.Reason
	if res.Valid {
		rec.FractalDimension = res.FractalDimension
		rec.RSquared = res.RSquared
		rec.BoxSizes = res.BoxSizes
	}
	return rec
}
