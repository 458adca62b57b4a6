package orchestration

import (
	"context"
	"time"

	"github.com/agbru/xenarch/internal/fractal"
	"github.com/agbru/xenarch/internal/raster"
	"github.com/agbru/xenarch/internal/ranking"
	"github.com/agbru/xenarch/internal/tiling"
)

// JobResult is everything a finished job hands to its result sinks.
type JobResult struct {
	JobID      string
	Ref        string
	Params     JobParams
	Geo        raster.GeoTransform
	Tiles      []tiling.Tile
	Records    []fractal.MetricRecord
	Ranked     []fractal.MetricRecord
	Summary    ranking.Summary
	CreatedAt  time.Time
	FinishedAt time.Time
	// Source stays open until every sink has returned. Sinks must not
	// close it.
	Source raster.Source
}

// ResultSink receives completed jobs, e.g. to persist them or to write
// per-tile artifacts. Sink errors are logged and never change the job's
// phase.
type ResultSink interface {
	Persist(ctx context.Context, result JobResult) error
}

// ResultSinkFunc adapts a function to the ResultSink interface.
type ResultSinkFunc func(ctx context.Context, result JobResult) error

// Persist calls f.
func (f ResultSinkFunc) Persist(ctx context.Context, result JobResult) error { return f(ctx, result) }

// Observer receives pipeline events for metrics. Implementations must be
// safe for concurrent use across jobs.
type Observer interface {
	JobSubmitted()
	PhaseEntered(phase Phase)
	TileProcessed(valid, failed bool, elapsed time.Duration)
	JobFinished(phase Phase, elapsed time.Duration)
}

// NopObserver discards every event.
type NopObserver struct{}

func (NopObserver) JobSubmitted()                           {}
func (NopObserver) PhaseEntered(Phase)                      {}
func (NopObserver) TileProcessed(bool, bool, time.Duration) {}
func (NopObserver) JobFinished(Phase, time.Duration)        {}
