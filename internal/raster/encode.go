package raster

import (
	"image"
	"io"
	"math"

	"golang.org/x/image/tiff"
)

// Encoding records how elevations were quantised into 16-bit samples:
// elevation = Offset + Scale*sample. Sample 0 is reserved for no-data.
type Encoding struct {
	Offset    float64 `json:"offset"`
	Scale     float64 `json:"scale"`
	NoData    float64 `json:"nodata"`
	HasNoData bool    `json:"has_nodata"`
}

// Opener returns a FileOpener that decodes a tile written with e.
func (e Encoding) Opener() FileOpener {
	return FileOpener{Scale: e.Scale, Offset: e.Offset, NoData: e.NoData, HasNoData: e.HasNoData}
}

// EncodeTile writes grid as a deflate-compressed 16-bit grayscale TIFF.
func EncodeTile(w io.Writer, grid *Grid) (Encoding, error) {
	lo, hi := math.Inf(1), math.Inf(-1)
	hasNoData := false
	for _, v := range grid.Data {
		if !grid.Valid(v) {
			hasNoData = true
			continue
		}
		lo, hi = math.Min(lo, v), math.Max(hi, v)
	}
	if math.IsInf(lo, 1) {
		lo, hi = 0, 0
	}
	scale := (hi - lo) / (math.MaxUint16 - 1)
	if scale == 0 {
		scale = 1
	}
	enc := Encoding{Offset: lo - scale, Scale: scale}
	if hasNoData {
		enc.NoData, enc.HasNoData = enc.Offset, true
	}

	img := image.NewGray16(image.Rect(0, 0, grid.Width, grid.Height))
	for y := 0; y < grid.Height; y++ {
		for x := 0; x < grid.Width; x++ {
			v := grid.At(x, y)
			var sample uint16
			if grid.Valid(v) {
				sample = uint16(math.Round((v-lo)/scale)) + 1
			}
			img.Pix[img.PixOffset(x, y)] = uint8(sample >> 8)
			img.Pix[img.PixOffset(x, y)+1] = uint8(sample)
		}
	}
	if err := tiff.Encode(w, img, &tiff.Options{Compression: tiff.Deflate}); err != nil {
		return Encoding{}, err
	}
	return enc, nil
}
