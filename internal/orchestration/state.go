package orchestration

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/agbru/xenarch/internal/fractal"
	"github.com/agbru/xenarch/internal/ranking"
)

// Snapshot is an immutable copy of a job's state, safe to hand to readers.
type Snapshot struct {
	JobID          string                 `json:"job_id"`
	Ref            string                 `json:"raster"`
	Phase          Phase                  `json:"phase"`
	Progress       float64                `json:"progress"`
	ProcessedTiles int                    `json:"processed_tiles"`
	TotalTiles     int                    `json:"total_tiles"`
	FailedTiles    int                    `json:"failed_tiles"`
	ETA            time.Duration          `json:"eta"`
	Err            error                  `json:"-"`
	Error          string                 `json:"error,omitempty"`
	Params         JobParams              `json:"params"`
	Ranked         []fractal.MetricRecord `json:"ranked_results,omitempty"`
	CreatedAt      time.Time              `json:"created_at"`
	StartedAt      time.Time              `json:"started_at,omitzero"`
	FinishedAt     time.Time              `json:"finished_at,omitzero"`
}

// job is the single live state of one submitted raster. Only the job's run
// goroutine mutates it; readers go through snapshot.
type job struct {
	id     string
	ref    string
	params JobParams
	now    func() time.Time

	cancel context.CancelFunc
	// settled is closed when the run goroutine, sinks included, returns.
	settled chan struct{}

	mu         sync.RWMutex
	phase      Phase
	processed  int
	total      int
	failed     int
	progress   *progressTracker
	err        error
	records    []fractal.MetricRecord
	ranked     []fractal.MetricRecord
	summary    ranking.Summary
	createdAt  time.Time
	startedAt  time.Time
	finishedAt time.Time
}

func newJob(id, ref string, params JobParams, now func() time.Time) *job {
	return &job{
		id:        id,
		ref:       ref,
		params:    params,
		now:       now,
		settled:   make(chan struct{}),
		phase:     Pending,
		createdAt: now(),
	}
}

// transition moves the job to next. It never modifies a terminal job.
func (j *job) transition(next Phase) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.transitionLocked(next)
}

func (j *job) transitionLocked(next Phase) error {
	if j.phase.Terminal() {
		return ErrTerminal
	}
	if !j.phase.CanTransition(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, j.phase, next)
	}
	j.phase = next
	switch next {
	case Splitting:
		j.startedAt = j.now()
	case Complete, Failed:
		j.finishedAt = j.now()
	}
	return nil
}

// beginMetrics fixes the tile count and enters ComputingMetrics.
func (j *job) beginMetrics(total int) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.transitionLocked(ComputingMetrics); err != nil {
		return err
	}
	j.total = total
	j.progress = newProgressTracker()
	return nil
}

// tileDone counts one finished unit.
func (j *job) tileDone(failed bool) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.phase.Terminal() {
		return ErrTerminal
	}
	if j.phase != ComputingMetrics {
		return fmt.Errorf("%w: tile reported in phase %s", ErrInvalidTransition, j.phase)
	}
	if j.processed >= j.total {
		return fmt.Errorf("%w: more tiles than the %d announced", ErrInvalidTransition, j.total)
	}
	j.processed++
	if failed {
		j.failed++
	}
	j.progress.update(j.fraction())
	return nil
}

// complete stores the analysis and enters Complete.
func (j *job) complete(records, ranked []fractal.MetricRecord, summary ranking.Summary) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.transitionLocked(Complete); err != nil {
		return err
	}
	j.records, j.ranked, j.summary = records, ranked, summary
	return nil
}

// fail enters Failed with err as the reason.
func (j *job) fail(err error) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.transitionLocked(Failed); err != nil {
		return err
	}
	j.err = err
	return nil
}

func (j *job) fraction() float64 {
	if j.phase == Complete {
		return 1
	}
	if j.total == 0 {
		return 0
	}
	return float64(j.processed) / float64(j.total)
}

func (j *job) currentPhase() Phase {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.phase
}

func (j *job) snapshot() Snapshot {
	j.mu.RLock()
	defer j.mu.RUnlock()
	s := Snapshot{
		JobID:          j.id,
		Ref:            j.ref,
		Phase:          j.phase,
		Progress:       j.fraction(),
		ProcessedTiles: j.processed,
		TotalTiles:     j.total,
		FailedTiles:    j.failed,
		Err:            j.err,
		Params:         j.params,
		Ranked:         slices.Clone(j.ranked),
		CreatedAt:      j.createdAt,
		StartedAt:      j.startedAt,
		FinishedAt:     j.finishedAt,
	}
	if j.err != nil {
		s.Error = j.err.Error()
	}
	if j.progress != nil && j.phase == ComputingMetrics {
		s.ETA = j.progress.eta()
	}
	return s
}
