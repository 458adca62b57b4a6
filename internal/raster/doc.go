// Package raster holds the elevation grid model and the read-only raster
// sources the pipeline pulls tiles from. It provides an in-memory source,
// a GeoTIFF-style file opener backed by golang.org/x/image/tiff and a
// deterministic synthetic terrain generator.
package raster
