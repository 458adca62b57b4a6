// Package tiling partitions a raster extent into a regular lattice of
// overlapping analysis tiles.
package tiling

import (
	"fmt"

	apperrors "github.com/agbru/xenarch/internal/errors"
)

// Tile describes one analysis window of the raster. Boundary tiles are
// clipped to the raster edge and smaller than the nominal grid size.
type Tile struct {
	GridID   string `json:"grid_id"`
	Row      int    `json:"row"`
	Col      int    `json:"col"`
	XOffset  int    `json:"x_offset"`
	YOffset  int    `json:"y_offset"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
	Boundary bool   `json:"boundary"`
}

// GridID returns the stable identifier of the tile at (row, col).
func GridID(row, col int) string {
	return fmt.Sprintf("grid_%05d_%05d", row, col)
}

// Params holds the lattice parameters.
type Params struct {
	GridSize int `json:"grid_size" yaml:"grid_size"`
	Overlap  int `json:"overlap" yaml:"overlap"`
}

// Stride is the distance between the origins of adjacent tiles.
func (p Params) Stride() int { return p.GridSize - p.Overlap }

// Validate rejects parameters that cannot produce a lattice.
func (p Params) Validate() error {
	switch {
	case p.GridSize <= 0:
		return apperrors.NewConfigError("grid size must be positive, got %d", p.GridSize)
	case p.Overlap < 0:
		return apperrors.NewConfigError("overlap must not be negative, got %d", p.Overlap)
	case p.Overlap >= p.GridSize:
		return apperrors.NewConfigError("overlap (%d) must be smaller than grid size (%d)", p.Overlap, p.GridSize)
	}
	return nil
}

// Count returns the number of tiles along an axis of the given extent.
func (p Params) Count(extent int) int {
	n := ceilDiv(extent-p.Overlap, p.Stride())
	if n < 1 {
		return 1
	}
	return n
}

// Split returns the row-major tile lattice covering a width × height raster.
// It fails with a ConfigError before producing any tile when the parameters
// or the extent are invalid.
func Split(width, height int, p Params) ([]Tile, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if width <= 0 || height <= 0 {
		return nil, apperrors.NewConfigError("raster extent must be positive, got %dx%d", width, height)
	}

	rows, cols := p.Count(height), p.Count(width)
	stride := p.Stride()
	tiles := make([]Tile, 0, rows*cols)
	for row := 0; row < rows; row++ {
		y := row * stride
		h := min(p.GridSize, height-y)
		for col := 0; col < cols; col++ {
			x := col * stride
			w := min(p.GridSize, width-x)
			tiles = append(tiles, Tile{
				GridID:   GridID(row, col),
				Row:      row,
				Col:      col,
				XOffset:  x,
				YOffset:  y,
				Width:    w,
				Height:   h,
				Boundary: w < p.GridSize || h < p.GridSize,
			})
		}
	}
	return tiles, nil
}

func ceilDiv(a, b int) int {
	if a <= 0 {
		return 0
	}
	return (a + b - 1) / b
}
