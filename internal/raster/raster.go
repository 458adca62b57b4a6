package raster

import (
	"context"
	"fmt"
	"math"
)

// GeoTransform maps pixel coordinates to map coordinates. The origin is the
// outer corner of the top-left pixel.
type GeoTransform struct {
	OriginX     float64 `json:"origin_x"`
	OriginY     float64 `json:"origin_y"`
	PixelWidth  float64 `json:"pixel_width"`
	PixelHeight float64 `json:"pixel_height"`
}

// DefaultGeoTransform is used when a raster carries no georeferencing:
// unit pixels, north-up.
var DefaultGeoTransform = GeoTransform{PixelWidth: 1, PixelHeight: -1}

// Window returns the transform of a sub-window starting at pixel (x, y).
func (g GeoTransform) Window(x, y int) GeoTransform {
	return GeoTransform{
		OriginX:     g.OriginX + float64(x)*g.PixelWidth,
		OriginY:     g.OriginY + float64(y)*g.PixelHeight,
		PixelWidth:  g.PixelWidth,
		PixelHeight: g.PixelHeight,
	}
}

// Grid is a row-major 2D elevation array.
type Grid struct {
	Width     int
	Height    int
	Data      []float64
	NoData    float64
	HasNoData bool
}

// NewGrid allocates a zeroed grid.
func NewGrid(width, height int) *Grid {
	return &Grid{Width: width, Height: height, Data: make([]float64, width*height)}
}

// At returns the value at column x, row y.
func (g *Grid) At(x, y int) float64 { return g.Data[y*g.Width+x] }

// Set stores v at column x, row y.
func (g *Grid) Set(x, y int, v float64) { g.Data[y*g.Width+x] = v }

// Valid reports whether v is a real elevation. NaN is always no-data.
func (g *Grid) Valid(v float64) bool {
	if math.IsNaN(v) {
		return false
	}
	return !g.HasNoData || v != g.NoData
}

// Sub copies the window [x, x+w) × [y, y+h) into a new grid.
func (g *Grid) Sub(x, y, w, h int) (*Grid, error) {
	if err := checkWindow(g.Width, g.Height, x, y, w, h); err != nil {
		return nil, err
	}
	out := &Grid{Width: w, Height: h, Data: make([]float64, w*h), NoData: g.NoData, HasNoData: g.HasNoData}
	for row := 0; row < h; row++ {
		src := (y+row)*g.Width + x
		copy(out.Data[row*w:(row+1)*w], g.Data[src:src+w])
	}
	return out, nil
}

func checkWindow(width, height, x, y, w, h int) error {
	if w <= 0 || h <= 0 || x < 0 || y < 0 || x+w > width || y+h > height {
		return fmt.Errorf("window %dx%d at (%d,%d) outside raster %dx%d", w, h, x, y, width, height)
	}
	return nil
}

// Source is a read-only raster. ReadWindow must be safe for concurrent use.
type Source interface {
	Width() int
	Height() int
	Geo() GeoTransform
	NoData() (float64, bool)
	ReadWindow(ctx context.Context, x, y, w, h int) (*Grid, error)
	Close() error
}

//go:generate mockgen -source=raster.go -destination=mocks/mock_raster.go -package=mocks

// Opener resolves a raster reference (a path or a synthetic size) to a Source.
type Opener interface {
	Open(ctx context.Context, ref string) (Source, error)
}

// OpenerFunc adapts a function to the Opener interface.
type OpenerFunc func(ctx context.Context, ref string) (Source, error)

// Open calls f.
func (f OpenerFunc) Open(ctx context.Context, ref string) (Source, error) { return f(ctx, ref) }

// Memory is a Source over a fully decoded grid. The grid is never written
// after construction, so windows can be read concurrently.
type Memory struct {
	grid *Grid
	geo  GeoTransform
}

// NewMemory wraps grid as a Source.
func NewMemory(grid *Grid, geo GeoTransform) *Memory {
	return &Memory{grid: grid, geo: geo}
}

func (m *Memory) Width() int              { return m.grid.Width }
func (m *Memory) Height() int             { return m.grid.Height }
func (m *Memory) Geo() GeoTransform       { return m.geo }
func (m *Memory) NoData() (float64, bool) { return m.grid.NoData, m.grid.HasNoData }
func (m *Memory) Close() error            { return nil }

// ReadWindow copies a window out of the grid.
func (m *Memory) ReadWindow(ctx context.Context, x, y, w, h int) (*Grid, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return m.grid.Sub(x, y, w, h)
}
