package raster

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// WorldFilePath returns the ESRI world file path for a TIFF path.
func WorldFilePath(path string) string {
	return strings.TrimSuffix(path, filepath.Ext(path)) + ".tfw"
}

// ReadWorldFile parses a six-line world file. Rotated transforms are
// rejected.
func ReadWorldFile(path string) (GeoTransform, error) {
	f, err := os.Open(path)
	if err != nil {
		return GeoTransform{}, err
	}
	defer f.Close()
	return ParseWorldFile(f)
}

// ParseWorldFile reads the world file terms A, D, B, E, C, F in order.
// C and F locate the centre of the top-left pixel.
func ParseWorldFile(r io.Reader) (GeoTransform, error) {
	var terms []float64
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		v, err := strconv.ParseFloat(line, 64)
		if err != nil {
			return GeoTransform{}, fmt.Errorf("world file line %d: %w", len(terms)+1, err)
		}
		terms = append(terms, v)
	}
	if err := sc.Err(); err != nil {
		return GeoTransform{}, err
	}
	if len(terms) != 6 {
		return GeoTransform{}, fmt.Errorf("world file has %d terms, want 6", len(terms))
	}
	a, d, b, e, c, f := terms[0], terms[1], terms[2], terms[3], terms[4], terms[5]
	if d != 0 || b != 0 {
		return GeoTransform{}, fmt.Errorf("rotated world files are not supported")
	}
	return GeoTransform{
		OriginX:     c - a/2,
		OriginY:     f - e/2,
		PixelWidth:  a,
		PixelHeight: e,
	}, nil
}

// WriteWorldFile writes g as a world file.
func WriteWorldFile(w io.Writer, g GeoTransform) error {
	_, err := fmt.Fprintf(w, "%s\n0\n0\n%s\n%s\n%s\n",
		formatTerm(g.PixelWidth), formatTerm(g.PixelHeight),
		formatTerm(g.OriginX+g.PixelWidth/2), formatTerm(g.OriginY+g.PixelHeight/2))
	return err
}

func formatTerm(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
