package raster

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"io/fs"
	"os"
	"strings"

	"golang.org/x/image/tiff"

	apperrors "github.com/agbru/xenarch/internal/errors"
)

// FileOpener decodes single-band grayscale TIFF files. Samples are mapped to
// elevation as Offset + Scale*sample; a zero Scale means 1. Georeferencing
// comes from a sibling world file (.tfw) when present.
type FileOpener struct {
	Scale     float64
	Offset    float64
	NoData    float64
	HasNoData bool
}

// Open decodes the whole file and releases the handle before returning.
// Any failure is reported as a SourceReadError.
func (o FileOpener) Open(ctx context.Context, path string) (Source, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	grid, err := o.decode(path)
	if err != nil {
		return nil, apperrors.SourceReadError{Ref: path, Cause: err}
	}
	geo, err := ReadWorldFile(WorldFilePath(path))
	switch {
	case errors.Is(err, fs.ErrNotExist):
		geo = DefaultGeoTransform
	case err != nil:
		return nil, apperrors.SourceReadError{Ref: path, Cause: err}
	}
	return NewMemory(grid, geo), nil
}

func (o FileOpener) decode(path string) (*Grid, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, err := tiff.Decode(bufio.NewReader(f))
	if err != nil {
		return nil, fmt.Errorf("decode tiff: %w", err)
	}
	if img.Bounds().Empty() {
		return nil, errors.New("raster has no pixels")
	}
	scale := o.Scale
	if scale == 0 {
		scale = 1
	}
	grid := gridFromImage(img, scale, o.Offset)
	grid.NoData, grid.HasNoData = o.NoData, o.HasNoData
	return grid, nil
}

func gridFromImage(img image.Image, scale, offset float64) *Grid {
	b := img.Bounds()
	g := NewGrid(b.Dx(), b.Dy())
	for y := 0; y < g.Height; y++ {
		for x := 0; x < g.Width; x++ {
			var sample float64
			switch im := img.(type) {
			case *image.Gray16:
				sample = float64(im.Gray16At(b.Min.X+x, b.Min.Y+y).Y)
			case *image.Gray:
				sample = float64(im.GrayAt(b.Min.X+x, b.Min.Y+y).Y)
			default:
				sample = float64(color.Gray16Model.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.Gray16).Y)
			}
			g.Set(x, y, offset+scale*sample)
		}
	}
	return g
}

// SyntheticPrefix marks raster references served by the synthetic opener,
// e.g. "synthetic:1024x1024".
const SyntheticPrefix = "synthetic:"

// Dispatch routes synthetic references to Synthetic and everything else to
// File.
type Dispatch struct {
	File      Opener
	Synthetic Opener
}

// Open resolves ref with the matching opener.
func (d Dispatch) Open(ctx context.Context, ref string) (Source, error) {
	if strings.HasPrefix(ref, SyntheticPrefix) {
		return d.Synthetic.Open(ctx, ref)
	}
	return d.File.Open(ctx, ref)
}
