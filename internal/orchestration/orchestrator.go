package orchestration

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	apperrors "github.com/agbru/xenarch/internal/errors"
	"github.com/agbru/xenarch/internal/fractal"
	"github.com/agbru/xenarch/internal/logging"
	"github.com/agbru/xenarch/internal/parallel"
	"github.com/agbru/xenarch/internal/ranking"
	"github.com/agbru/xenarch/internal/raster"
	"github.com/agbru/xenarch/internal/tiling"
)

// ReasonExtraction is recorded on tiles whose pixels could not be read.
const ReasonExtraction = "extraction failed"

const tracerName = "github.com/agbru/xenarch/internal/orchestration"

// Orchestrator owns the registry of jobs. Each submitted job runs on its own
// goroutine, which is the only writer of that job's state; every other
// method reads snapshots.
type Orchestrator struct {
	opener   raster.Opener
	logger   logging.Logger
	observer Observer
	sinks    []ResultSink
	tracer   trace.Tracer
	now      func() time.Time
	newID    func() string

	mu   sync.RWMutex
	jobs map[string]*job
	wg   sync.WaitGroup
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l logging.Logger) Option { return func(o *Orchestrator) { o.logger = l } }

// WithObserver sets the metrics observer.
func WithObserver(obs Observer) Option { return func(o *Orchestrator) { o.observer = obs } }

// WithSinks appends result sinks, called in order after a job completes.
func WithSinks(sinks ...ResultSink) Option {
	return func(o *Orchestrator) { o.sinks = append(o.sinks, sinks...) }
}

// WithTracer overrides the tracer taken from the global provider.
func WithTracer(t trace.Tracer) Option { return func(o *Orchestrator) { o.tracer = t } }

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option { return func(o *Orchestrator) { o.now = now } }

// WithIDGenerator overrides the UUID job id generator.
func WithIDGenerator(gen func() string) Option { return func(o *Orchestrator) { o.newID = gen } }

// New creates an Orchestrator that opens rasters with opener.
func New(opener raster.Opener, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		opener:   opener,
		logger:   logging.Nop(),
		observer: NopObserver{},
		now:      time.Now,
		newID:    uuid.NewString,
		jobs:     make(map[string]*job),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.tracer == nil {
		o.tracer = otel.Tracer(tracerName)
	}
	return o
}

// Submit validates params, registers a Pending job for ref and starts it
// asynchronously. Invalid parameters return a ConfigError and no job is
// created. The job outlives ctx's cancellation; use Cancel to stop it.
func (o *Orchestrator) Submit(ctx context.Context, ref string, params JobParams) (string, error) {
	if err := params.Validate(); err != nil {
		return "", err
	}
	j := newJob(o.newID(), ref, params, o.now)

	var jobCtx context.Context
	if params.TimeBudget > 0 {
		jobCtx, j.cancel = context.WithTimeout(context.WithoutCancel(ctx), params.TimeBudget)
	} else {
		jobCtx, j.cancel = context.WithCancel(context.WithoutCancel(ctx))
	}

	o.mu.Lock()
	o.jobs[j.id] = j
	o.mu.Unlock()

	o.observer.JobSubmitted()
	o.logger.Info("job submitted",
		logging.String("job_id", j.id),
		logging.String("raster", ref),
		logging.Int("grid_size", params.GridSize),
		logging.Int("overlap", params.Overlap),
	)

	o.wg.Add(1)
	go o.run(jobCtx, j)
	return j.id, nil
}

func (o *Orchestrator) lookup(id string) (*job, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	j, ok := o.jobs[id]
	if !ok {
		return nil, apperrors.NotFoundError{JobID: id}
	}
	return j, nil
}

// Status returns a snapshot of the job.
func (o *Orchestrator) Status(id string) (Snapshot, error) {
	j, err := o.lookup(id)
	if err != nil {
		return Snapshot{}, err
	}
	return j.snapshot(), nil
}

// completed returns the job once it is Complete. Failed jobs have no
// results and report NotFoundError wrapping their failure.
func (o *Orchestrator) completed(id string) (*job, error) {
	j, err := o.lookup(id)
	if err != nil {
		return nil, err
	}
	j.mu.RLock()
	defer j.mu.RUnlock()
	switch j.phase {
	case Complete:
		return j, nil
	case Failed:
		return nil, apperrors.NotFoundError{JobID: id, Cause: j.err}
	}
	return nil, apperrors.NotReadyError{JobID: id, Phase: j.phase.String()}
}

// Results returns the ranked records of a completed job. An empty slice
// means no tile satisfied the band.
func (o *Orchestrator) Results(id string) ([]fractal.MetricRecord, error) {
	j, err := o.completed(id)
	if err != nil {
		return nil, err
	}
	return slices.Clone(j.ranked), nil
}

// Records returns every record of a completed job, invalid ones included.
func (o *Orchestrator) Records(id string) ([]fractal.MetricRecord, error) {
	j, err := o.completed(id)
	if err != nil {
		return nil, err
	}
	return slices.Clone(j.records), nil
}

// Summary returns the record statistics of a completed job.
func (o *Orchestrator) Summary(id string) (ranking.Summary, error) {
	j, err := o.completed(id)
	if err != nil {
		return ranking.Summary{}, err
	}
	s := j.summary
	s.Histogram = slices.Clone(s.Histogram)
	return s, nil
}

// Wait blocks until the job and its result sinks have finished, or ctx
// ends.
func (o *Orchestrator) Wait(ctx context.Context, id string) (Snapshot, error) {
	j, err := o.lookup(id)
	if err != nil {
		return Snapshot{}, err
	}
	select {
	case <-j.settled:
		return j.snapshot(), nil
	case <-ctx.Done():
		return j.snapshot(), ctx.Err()
	}
}

// Cancel asks a running job to stop. Units already in flight finish and the
// job fails with a CanceledError at its next stage boundary. Cancelling a
// terminal job returns ErrTerminal.
func (o *Orchestrator) Cancel(id string) error {
	j, err := o.lookup(id)
	if err != nil {
		return err
	}
	if j.currentPhase().Terminal() {
		return ErrTerminal
	}
	j.cancel()
	o.logger.Info("job cancel requested", logging.String("job_id", id))
	return nil
}

// Evict forgets a terminal job. Running jobs cannot be evicted.
func (o *Orchestrator) Evict(id string) error {
	j, err := o.lookup(id)
	if err != nil {
		return err
	}
	if phase := j.currentPhase(); !phase.Terminal() {
		return apperrors.NotReadyError{JobID: id, Phase: phase.String()}
	}
	o.mu.Lock()
	delete(o.jobs, id)
	o.mu.Unlock()
	return nil
}

// EvictExpired forgets terminal jobs that finished more than retention ago
// and returns how many were removed.
func (o *Orchestrator) EvictExpired(retention time.Duration) int {
	cutoff := o.now().Add(-retention)
	o.mu.Lock()
	defer o.mu.Unlock()
	n := 0
	for id, j := range o.jobs {
		s := j.snapshot()
		if s.Phase.Terminal() && s.FinishedAt.Before(cutoff) {
			delete(o.jobs, id)
			n++
		}
	}
	return n
}

// Jobs returns snapshots of every registered job, oldest first.
func (o *Orchestrator) Jobs() []Snapshot {
	o.mu.RLock()
	out := make([]Snapshot, 0, len(o.jobs))
	for _, j := range o.jobs {
		out = append(out, j.snapshot())
	}
	o.mu.RUnlock()
	slices.SortFunc(out, func(a, b Snapshot) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		if a.JobID < b.JobID {
			return -1
		}
		return 1
	})
	return out
}

// Shutdown cancels every running job and waits for their goroutines.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.RLock()
	for _, j := range o.jobs {
		j.cancel()
	}
	o.mu.RUnlock()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *Orchestrator) run(ctx context.Context, j *job) {
	defer o.wg.Done()
	defer close(j.settled)
	defer j.cancel()

	ctx, span := o.tracer.Start(ctx, "xenarch.job", trace.WithAttributes(
		attribute.String("job.id", j.id),
		attribute.String("raster.ref", j.ref),
	))
	defer span.End()

	start := o.now()
	result, src, err := o.execute(ctx, j)
	if src != nil {
		defer src.Close()
	}
	if err != nil {
		err = o.classify(j, err)
		if ferr := j.fail(err); ferr != nil {
			o.logger.Error("cannot record job failure", ferr, logging.String("job_id", j.id))
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		o.logger.Error("job failed", err, logging.String("job_id", j.id))
		o.observer.PhaseEntered(Failed)
		o.observer.JobFinished(Failed, o.now().Sub(start))
		return
	}

	o.observer.PhaseEntered(Complete)
	o.observer.JobFinished(Complete, o.now().Sub(start))
	o.logger.Info("job complete",
		logging.String("job_id", j.id),
		logging.Int("tiles", len(result.Records)),
		logging.Int("ranked", len(result.Ranked)),
		logging.Duration("elapsed", o.now().Sub(start)),
	)
	o.deliver(context.WithoutCancel(ctx), result)
}

// execute runs the stages of one job. On success the job is Complete and
// the returned source is still open for the sinks.
func (o *Orchestrator) execute(ctx context.Context, j *job) (JobResult, raster.Source, error) {
	if err := o.enter(ctx, j, Splitting); err != nil {
		return JobResult{}, nil, err
	}
	src, tiles, err := o.split(ctx, j)
	if err != nil {
		return JobResult{}, nil, err
	}

	if err := ctx.Err(); err != nil {
		return JobResult{}, src, err
	}
	if err := j.beginMetrics(len(tiles)); err != nil {
		return JobResult{}, src, err
	}
	o.observer.PhaseEntered(ComputingMetrics)
	records, detached, err := o.computeMetrics(ctx, j, src, tiles)
	if detached {
		return JobResult{}, nil, err
	}
	if err != nil {
		return JobResult{}, src, err
	}

	if err := o.enter(ctx, j, Analyzing); err != nil {
		return JobResult{}, src, err
	}
	_, span := o.tracer.Start(ctx, "xenarch.analyze")
	ranked := ranking.Rank(records, j.params.Criteria())
	summary := ranking.Summarize(records, ranked)
	span.SetAttributes(attribute.Int("ranked", len(ranked)))
	span.End()
	if err := j.complete(records, ranked, summary); err != nil {
		return JobResult{}, src, err
	}

	snap := j.snapshot()
	return JobResult{
		JobID:      j.id,
		Ref:        j.ref,
		Params:     j.params,
		Geo:        src.Geo(),
		Tiles:      tiles,
		Records:    slices.Clone(records),
		Ranked:     slices.Clone(ranked),
		Summary:    summary,
		CreatedAt:  snap.CreatedAt,
		FinishedAt: snap.FinishedAt,
		Source:     src,
	}, src, nil
}

// enter checks for cancellation at a stage boundary and moves the job on.
func (o *Orchestrator) enter(ctx context.Context, j *job, phase Phase) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := j.transition(phase); err != nil {
		return err
	}
	o.observer.PhaseEntered(phase)
	o.logger.Debug("job phase", logging.String("job_id", j.id), logging.String("phase", phase.String()))
	return nil
}

type splitResult struct {
	src   raster.Source
	tiles []tiling.Tile
	err   error
}

// split opens and splits the raster without letting a slow decode outlive
// the job's budget. A source that arrives after the job gave up is closed.
func (o *Orchestrator) split(ctx context.Context, j *job) (raster.Source, []tiling.Tile, error) {
	ctx, span := o.tracer.Start(ctx, "xenarch.split")
	defer span.End()

	ch := make(chan splitResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- splitResult{err: apperrors.SourceReadError{Ref: j.ref, Cause: fmt.Errorf("opener panicked: %v", r)}}
			}
		}()
		src, tiles, err := SplitSource(ctx, o.opener, j.ref, j.params.Tiling())
		ch <- splitResult{src, tiles, err}
	}()
	select {
	case r := <-ch:
		if r.err == nil {
			span.SetAttributes(
				attribute.Int("raster.width", r.src.Width()),
				attribute.Int("raster.height", r.src.Height()),
				attribute.Int("tiles", len(r.tiles)),
			)
			o.logger.Info("raster split",
				logging.String("job_id", j.id),
				logging.Int("width", r.src.Width()),
				logging.Int("height", r.src.Height()),
				logging.Int("tiles", len(r.tiles)),
			)
		}
		return r.src, r.tiles, r.err
	case <-ctx.Done():
		go func() {
			if r := <-ch; r.src != nil {
				r.src.Close()
			}
		}()
		return nil, nil, ctx.Err()
	}
}

// computeMetrics streams the tiles through the worker pool. Cancellation
// lets in-flight tiles finish and be recorded. An expired budget fails the
// job at once: the remaining outcomes are drained in the background, which
// then closes src, and detached reports that ownership of src moved there.
func (o *Orchestrator) computeMetrics(ctx context.Context, j *job, src raster.Source, tiles []tiling.Tile) (records []fractal.MetricRecord, detached bool, err error) {
	ctx, span := o.tracer.Start(ctx, "xenarch.compute_metrics")
	defer span.End()

	pool := parallel.NewPool(parallel.WorkerCount(j.params.CPUFraction))
	est := fractal.NewEstimator(j.params.Estimator)
	span.SetAttributes(attribute.Int("workers", pool.Workers()), attribute.Int("tiles", len(tiles)))

	work := func(ctx context.Context, tile tiling.Tile) (fractal.MetricRecord, error) {
		grid, err := src.ReadWindow(ctx, tile.XOffset, tile.YOffset, tile.Width, tile.Height)
		if err != nil {
			return fractal.MetricRecord{}, apperrors.TileFailure{GridID: tile.GridID, Reason: ReasonExtraction, Cause: err}
		}
		return est.Record(tile, grid), nil
	}

	records = make([]fractal.MetricRecord, 0, len(tiles))
	run := pool.Stream(ctx, tiles, work)
	outcomes := run.Outcomes()
	done := ctx.Done()
	for {
		select {
		case out, ok := <-outcomes:
			if !ok {
				if err := run.Err(); err != nil {
					return nil, false, err
				}
				return records, false, nil
			}
			records = append(records, out.Record)
			if err := j.tileDone(!out.OK()); err != nil {
				o.logger.Error("cannot record tile", err, logging.String("job_id", j.id))
			}
			o.observer.TileProcessed(out.Record.Valid, !out.OK(), out.Elapsed)
			if !out.OK() {
				o.logger.Warn("tile unreadable", logging.Err(out.Failure),
					logging.String("job_id", j.id),
					logging.String("grid_id", out.Tile.GridID),
				)
			}
		case <-done:
			if !errors.Is(ctx.Err(), context.DeadlineExceeded) {
				done = nil
				continue
			}
			o.wg.Add(1)
			go func() {
				defer o.wg.Done()
				for range outcomes {
				}
				src.Close()
			}()
			return nil, true, ctx.Err()
		}
	}
}

// classify turns context errors into the job-level taxonomy.
func (o *Orchestrator) classify(j *job, err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return apperrors.TimeoutError{Operation: "job " + j.id, Limit: j.params.TimeBudget}
	case errors.Is(err, context.Canceled):
		return apperrors.CanceledError{JobID: j.id}
	}
	return err
}

func (o *Orchestrator) deliver(ctx context.Context, result JobResult) {
	for _, sink := range o.sinks {
		if err := sink.Persist(ctx, result); err != nil {
			o.logger.Error("result sink failed", err, logging.String("job_id", result.JobID))
		}
	}
}
