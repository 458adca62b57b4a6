package raster

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strconv"
	"strings"

	apperrors "github.com/agbru/xenarch/internal/errors"
)

const (
	syntheticBaseCell    = 256
	syntheticPersistence = 0.6
	syntheticBaseLevel   = 1000.0
	syntheticRelief      = 400.0
)

// Limits on synthetic rasters. A float64 grid of MaxSyntheticPixels cells
// takes 512 MiB.
const (
	MaxSyntheticSide   = 1 << 16
	MaxSyntheticPixels = 1 << 26
)

// Synthetic generates deterministic fractional Brownian terrain by summing
// octaves of bilinear value noise, from a 256-pixel lattice down to one pixel.
func Synthetic(width, height int, seed uint64) *Grid {
	g := NewGrid(width, height)
	amp := 1.0
	for octave, cell := 0, syntheticBaseCell; cell >= 1; octave, cell = octave+1, cell/2 {
		rng := rand.New(rand.NewPCG(seed, uint64(octave)))
		lw, lh := width/cell+2, height/cell+2
		lattice := make([]float64, lw*lh)
		for i := range lattice {
			lattice[i] = rng.Float64()*2 - 1
		}
		for y := 0; y < height; y++ {
			ly, fy := y/cell, float64(y%cell)/float64(cell)
			for x := 0; x < width; x++ {
				lx, fx := x/cell, float64(x%cell)/float64(cell)
				top := lerp(lattice[ly*lw+lx], lattice[ly*lw+lx+1], fx)
				bottom := lerp(lattice[(ly+1)*lw+lx], lattice[(ly+1)*lw+lx+1], fx)
				g.Data[y*width+x] += amp * lerp(top, bottom, fy)
			}
		}
		amp *= syntheticPersistence
	}
	for i, v := range g.Data {
		g.Data[i] = syntheticBaseLevel + syntheticRelief*v
	}
	return g
}

func lerp(a, b, t float64) float64 { return a + (b-a)*t }

// ParseSize parses a "WxH" raster size. Each side is capped at
// MaxSyntheticSide and the area at MaxSyntheticPixels.
func ParseSize(s string) (width, height int, err error) {
	ws, hs, ok := strings.Cut(strings.ToLower(strings.TrimSpace(s)), "x")
	if !ok {
		return 0, 0, fmt.Errorf("invalid size %q, want WxH", s)
	}
	if width, err = strconv.Atoi(ws); err != nil || width <= 0 {
		return 0, 0, fmt.Errorf("invalid width in %q", s)
	}
	if height, err = strconv.Atoi(hs); err != nil || height <= 0 {
		return 0, 0, fmt.Errorf("invalid height in %q", s)
	}
	if width > MaxSyntheticSide || height > MaxSyntheticSide {
		return 0, 0, fmt.Errorf("size %q exceeds %d pixels per side", s, MaxSyntheticSide)
	}
	if width*height > MaxSyntheticPixels {
		return 0, 0, fmt.Errorf("size %q exceeds %d pixels", s, MaxSyntheticPixels)
	}
	return width, height, nil
}

// SyntheticRef builds the reference understood by SyntheticOpener.
func SyntheticRef(width, height int) string {
	return fmt.Sprintf("%s%dx%d", SyntheticPrefix, width, height)
}

// SyntheticOpener serves "synthetic:WxH" references with terrain generated
// from Seed.
type SyntheticOpener struct {
	Seed uint64
	Geo  GeoTransform
}

// Open generates the raster described by ref.
func (o SyntheticOpener) Open(ctx context.Context, ref string) (Source, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	w, h, err := ParseSize(strings.TrimPrefix(ref, SyntheticPrefix))
	if err != nil {
		return nil, apperrors.SourceReadError{Ref: ref, Cause: err}
	}
	geo := o.Geo
	if geo == (GeoTransform{}) {
		geo = DefaultGeoTransform
	}
	return NewMemory(Synthetic(w, h, o.Seed), geo), nil
}

// Fill returns a grid with every cell set to v.
func Fill(width, height int, v float64) *Grid {
	g := NewGrid(width, height)
	for i := range g.Data {
		g.Data[i] = v
	}
	return g
}

// Compile-time interface checks.
var (
	_ Source = (*Memory)(nil)
	_ Opener = FileOpener{}
	_ Opener = SyntheticOpener{}
	_ Opener = Dispatch{}
)
