// Package parallel runs per-tile work under a bounded number of concurrent
// workers and turns per-tile failures into tagged outcomes.
package parallel

import (
	"context"
	"errors"
	"fmt"
	"math"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"

	apperrors "github.com/agbru/xenarch/internal/errors"
	"github.com/agbru/xenarch/internal/fractal"
	"github.com/agbru/xenarch/internal/tiling"
)

// Failure reasons assigned by the pool.
const (
	ReasonUnitFailed = "unit failed"
	ReasonPanic      = "panic"
)

// WorkerCount returns floor(NumCPU * cpuFraction), at least 1.
func WorkerCount(cpuFraction float64) int {
	return workerCount(runtime.NumCPU(), cpuFraction)
}

func workerCount(cpus int, cpuFraction float64) int {
	n := int(math.Floor(float64(cpus) * cpuFraction))
	if n < 1 {
		return 1
	}
	return n
}

// Work extracts and analyses one tile.
type Work func(ctx context.Context, tile tiling.Tile) (fractal.MetricRecord, error)

// Outcome is the tagged result of one unit: either Record holds a computed
// record and Failure is nil, or Failure explains why the unit failed and
// Record is the matching invalid audit record.
type Outcome struct {
	Tile    tiling.Tile
	Record  fractal.MetricRecord
	Failure *apperrors.TileFailure
	// Elapsed is the wall time spent in the unit.
	Elapsed time.Duration
}

// OK reports whether the unit succeeded.
func (o Outcome) OK() bool { return o.Failure == nil }

// Pool executes Work with at most Workers units in flight.
type Pool struct {
	workers int
}

// NewPool creates a pool bounded to workers concurrent units (minimum 1).
func NewPool(workers int) *Pool {
	if workers < 1 {
		workers = 1
	}
	return &Pool{workers: workers}
}

// Workers returns the concurrency bound.
func (p *Pool) Workers() int { return p.workers }

// Run is a running Stream.
type Run struct {
	outcomes chan Outcome
	err      error
}

// Outcomes delivers one outcome per executed unit, in completion order. The
// channel is closed once every started unit has finished.
func (r *Run) Outcomes() <-chan Outcome { return r.outcomes }

// Err returns the context error that stopped the run early, if any. It is
// only meaningful after Outcomes has been closed.
func (r *Run) Err() error { return r.err }

// Stream starts executing work over tiles. When ctx ends no further unit is
// started; units already running finish and report their outcome. The
// caller must drain Outcomes.
func (p *Pool) Stream(ctx context.Context, tiles []tiling.Tile, work Work) *Run {
	run := &Run{outcomes: make(chan Outcome, p.workers)}
	go func() {
		defer close(run.outcomes)
		var g errgroup.Group
		g.SetLimit(p.workers)
		for _, tile := range tiles {
			if ctx.Err() != nil {
				break
			}
			g.Go(func() error {
				// The slot may have freed up after ctx ended.
				if ctx.Err() != nil {
					return nil
				}
				run.outcomes <- execute(ctx, tile, work)
				return nil
			})
		}
		_ = g.Wait()
		run.err = ctx.Err()
	}()
	return run
}

// Collect runs work over every tile and returns all outcomes.
func (p *Pool) Collect(ctx context.Context, tiles []tiling.Tile, work Work) ([]Outcome, error) {
	run := p.Stream(ctx, tiles, work)
	outcomes := make([]Outcome, 0, len(tiles))
	for o := range run.Outcomes() {
		outcomes = append(outcomes, o)
	}
	return outcomes, run.Err()
}

func execute(ctx context.Context, tile tiling.Tile, work Work) (out Outcome) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			out = failed(tile, apperrors.TileFailure{GridID: tile.GridID, Reason: ReasonPanic, Cause: fmt.Errorf("%v", r)})
		}
		out.Elapsed = time.Since(start)
	}()
	rec, err := work(ctx, tile)
	if err != nil {
		var tf apperrors.TileFailure
		if !errors.As(err, &tf) {
			tf = apperrors.TileFailure{GridID: tile.GridID, Reason: ReasonUnitFailed, Cause: err}
		}
		return failed(tile, tf)
	}
	return Outcome{Tile: tile, Record: rec}
}

func failed(tile tiling.Tile, tf apperrors.TileFailure) Outcome {
	reason := tf.Reason
	if tf.Cause != nil {
		reason += ": " + tf.Cause.Error()
	}
	return Outcome{Tile: tile, Record: fractal.InvalidRecord(tile, reason), Failure: &tf}
}
