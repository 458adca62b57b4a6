package fractal

import (
	"encoding/json"

	"github.com/agbru/xenarch/internal/tiling"
)

// Position locates a tile in the lattice and in raster pixels.
type Position struct {
	Row int `json:"row"`
	Col int `json:"col"`
	X   int `json:"x"`
	Y   int `json:"y"`
}

// Size is a tile's extent in pixels.
type Size struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// MetricRecord is the immutable per-tile outcome. Invalid records carry no
// dimension or R² and are kept for auditing only.
type MetricRecord struct {
	GridID           string
	FractalDimension float64
	RSquared         float64
	Elevation        Elevation
	Position         Position
	Size             Size
	Boundary         bool
	Coverage         float64
	BoxSizes         []int
	Valid            bool
	Reason           string
}

func newRecord(tile tiling.Tile) MetricRecord {
	return MetricRecord{
		GridID:   tile.GridID,
		Position: Position{Row: tile.Row, Col: tile.Col, X: tile.XOffset, Y: tile.YOffset},
		Size:     Size{Width: tile.Width, Height: tile.Height},
		Boundary: tile.Boundary,
	}
}

// InvalidRecord builds the audit record of a tile that could not be analysed.
func InvalidRecord(tile tiling.Tile, reason string) MetricRecord {
	rec := newRecord(tile)
	rec.Reason = reason
	return rec
}

// InRange reports whether a valid record's dimension is physically
// plausible for a surface, i.e. within [0, 2].
func (r MetricRecord) InRange() bool {
	return r.Valid && r.FractalDimension >= 0 && r.FractalDimension <= 2
}

type recordJSON struct {
	GridID           string   `json:"grid_id"`
	FractalDimension *float64 `json:"fractal_dimension"`
	RSquared         *float64 `json:"r_squared"`
	ElevationMin     float64  `json:"elevation_min"`
	ElevationMax     float64  `json:"elevation_max"`
	ElevationMean    float64  `json:"elevation_mean"`
	ElevationStd     float64  `json:"elevation_std"`
	Position         Position `json:"position"`
	Size             Size     `json:"size"`
	Boundary         bool     `json:"boundary"`
	Coverage         float64  `json:"coverage"`
	BoxSizes         []int    `json:"box_sizes,omitempty"`
	Valid            bool     `json:"valid"`
	Reason           string   `json:"reason,omitempty"`
}

// MarshalJSON renders the dimension and R² of invalid records as null.
func (r MetricRecord) MarshalJSON() ([]byte, error) {
	out := recordJSON{
		GridID:        r.GridID,
		ElevationMin:  r.Elevation.Min,
		ElevationMax:  r.Elevation.Max,
		ElevationMean: r.Elevation.Mean,
		ElevationStd:  r.Elevation.Std,
		Position:      r.Position,
		Size:          r.Size,
		Boundary:      r.Boundary,
		Coverage:      r.Coverage,
		BoxSizes:      r.BoxSizes,
		Valid:         r.Valid,
		Reason:        r.Reason,
	}
	if r.Valid {
		fd, r2 := r.FractalDimension, r.RSquared
		out.FractalDimension, out.RSquared = &fd, &r2
	}
	return json.Marshal(out)
}

// UnmarshalJSON is the inverse of MarshalJSON.
func (r *MetricRecord) UnmarshalJSON(data []byte) error {
	var in recordJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	*r = MetricRecord{
		GridID:    in.GridID,
		Elevation: Elevation{Min: in.ElevationMin, Max: in.ElevationMax, Mean: in.ElevationMean, Std: in.ElevationStd},
		Position:  in.Position,
		Size:      in.Size,
		Boundary:  in.Boundary,
		Coverage:  in.Coverage,
		BoxSizes:  in.BoxSizes,
		Valid:     in.Valid,
		Reason:    in.Reason,
	}
	if in.FractalDimension != nil {
		r.FractalDimension = *in.FractalDimension
	}
	if in.RSquared != nil {
		r.RSquared = *in.RSquared
	}
	return nil
}
