// Package metrics exposes Prometheus collectors for the analysis pipeline
// and runtime memory snapshots.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/agbru/xenarch/internal/orchestration"
)

const namespace = "xenarch"

// Pipeline records job and tile activity. It implements
// orchestration.Observer and is safe for concurrent use.
type Pipeline struct {
	jobsSubmitted prometheus.Counter
	jobsFinished  *prometheus.CounterVec
	jobsActive    prometheus.Gauge
	phases        *prometheus.CounterVec
	tiles         *prometheus.CounterVec
	tileSeconds   prometheus.Histogram
	jobSeconds    *prometheus.HistogramVec
}

// NewPipeline creates the pipeline collectors and registers them with reg.
func NewPipeline(reg prometheus.Registerer) *Pipeline {
	p := &Pipeline{
		jobsSubmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_submitted_total",
			Help:      "Jobs accepted by the orchestrator.",
		}),
		jobsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_finished_total",
			Help:      "Jobs that reached a terminal phase.",
		}, []string{"phase"}),
		jobsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "jobs_active",
			Help:      "Jobs not yet in a terminal phase.",
		}),
		phases: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_phase_transitions_total",
			Help:      "Phase transitions by target phase.",
		}, []string{"phase"}),
		tiles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tiles_processed_total",
			Help:      "Tiles processed by outcome.",
		}, []string{"outcome"}),
		tileSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tile_duration_seconds",
			Help:      "Time spent extracting and analysing one tile.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8),
		}),
		jobSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Wall time of finished jobs.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 3, 9),
		}, []string{"phase"}),
	}
	reg.MustRegister(p.jobsSubmitted, p.jobsFinished, p.jobsActive, p.phases, p.tiles, p.tileSeconds, p.jobSeconds)
	return p
}

// Tile outcome labels.
const (
	OutcomeValid   = "valid"
	OutcomeInvalid = "invalid"
	OutcomeFailed  = "failed"
)

func (p *Pipeline) JobSubmitted() {
	p.jobsSubmitted.Inc()
	p.jobsActive.Inc()
}

func (p *Pipeline) PhaseEntered(phase orchestration.Phase) {
	p.phases.WithLabelValues(phase.String()).Inc()
}

func (p *Pipeline) TileProcessed(valid, failed bool, elapsed time.Duration) {
	outcome := OutcomeInvalid
	switch {
	case failed:
		outcome = OutcomeFailed
	case valid:
		outcome = OutcomeValid
	}
	p.tiles.WithLabelValues(outcome).Inc()
	p.tileSeconds.Observe(elapsed.Seconds())
}

func (p *Pipeline) JobFinished(phase orchestration.Phase, elapsed time.Duration) {
	p.jobsActive.Dec()
	p.jobsFinished.WithLabelValues(phase.String()).Inc()
	p.jobSeconds.WithLabelValues(phase.String()).Observe(elapsed.Seconds())
}

var _ orchestration.Observer = (*Pipeline)(nil)
