package ranking

import (
	"math"
	"slices"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/agbru/xenarch/internal/fractal"
)

// HistogramBins is the number of equal-width dimension bins over [0, 2].
const HistogramBins = 10

// Distribution describes a sample of values.
type Distribution struct {
	Min  float64 `json:"min"`
	Max  float64 `json:"max"`
	Mean float64 `json:"mean"`
	Std  float64 `json:"std"`
}

// Bin is one histogram bucket [Lo, Hi).
type Bin struct {
	Lo    float64 `json:"lo"`
	Hi    float64 `json:"hi"`
	Count int     `json:"count"`
}

// Summary aggregates the records of one job.
type Summary struct {
	Total      int          `json:"total"`
	Valid      int          `json:"valid"`
	Invalid    int          `json:"invalid"`
	OutOfRange int          `json:"out_of_range"`
	Accepted   int          `json:"accepted"`
	Dimension  Distribution `json:"fractal_dimension"`
	RSquared   Distribution `json:"r_squared"`
	Histogram  []Bin        `json:"histogram"`
}

// Summarize computes distribution statistics over the valid records and
// counts how many made it into ranked.
func Summarize(records, ranked []fractal.MetricRecord) Summary {
	s := Summary{Total: len(records), Accepted: len(ranked)}
	var dims, r2s, inRange []float64
	for _, r := range records {
		if !r.Valid {
			s.Invalid++
			continue
		}
		s.Valid++
		dims = append(dims, r.FractalDimension)
		r2s = append(r2s, r.RSquared)
		if r.InRange() {
			inRange = append(inRange, r.FractalDimension)
		} else {
			s.OutOfRange++
		}
	}
	s.Dimension = distribution(dims)
	s.RSquared = distribution(r2s)
	s.Histogram = histogram(inRange)
	return s
}

func distribution(values []float64) Distribution {
	if len(values) == 0 {
		return Distribution{}
	}
	mean, std := stat.PopMeanStdDev(values, nil)
	return Distribution{Min: floats.Min(values), Max: floats.Max(values), Mean: mean, Std: std}
}

func histogram(values []float64) []Bin {
	dividers := floats.Span(make([]float64, HistogramBins+1), 0, 2)
	edges := slices.Clone(dividers)
	// Close the last bin so that D == 2 is counted.
	dividers[HistogramBins] = math.Nextafter(2, math.Inf(1))

	counts := make([]float64, HistogramBins)
	if len(values) > 0 {
		sorted := slices.Clone(values)
		slices.Sort(sorted)
		stat.Histogram(counts, dividers, sorted, nil)
	}
	bins := make([]Bin, HistogramBins)
	for i := range bins {
		bins[i] = Bin{Lo: edges[i], Hi: edges[i+1], Count: int(counts[i])}
	}
	return bins
}
