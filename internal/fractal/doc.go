// Package fractal estimates the box-counting fractal dimension of elevation
// tiles.
//
// Each tile is reduced to a binary occupancy surface with an adaptive,
// tile-local elevation threshold. Occupied boxes are counted at power-of-two
// box sizes and the dimension is the negated slope of the least-squares fit
// of log(count) against log(size). Tiles that cannot support a fit (too much
// no-data, uniform occupancy, too few box sizes) yield invalid records
// rather than errors.
package fractal
