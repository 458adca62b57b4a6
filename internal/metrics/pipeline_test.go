package metrics

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/agbru/xenarch/internal/orchestration"
)

func TestPipeline_Counts(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	p := NewPipeline(reg)

	p.JobSubmitted()
	p.JobSubmitted()
	p.PhaseEntered(orchestration.Splitting)
	p.TileProcessed(true, false, 2*time.Millisecond)
	p.TileProcessed(false, false, time.Millisecond)
	p.TileProcessed(false, true, time.Millisecond)
	p.TileProcessed(true, false, time.Millisecond)
	p.JobFinished(orchestration.Complete, time.Second)

	tests := []struct {
		name      string
		collector prometheus.Collector
		want      float64
	}{
		{"submitted", p.jobsSubmitted, 2},
		{"active", p.jobsActive, 1},
		{"valid tiles", p.tiles.WithLabelValues(OutcomeValid), 2},
		{"invalid tiles", p.tiles.WithLabelValues(OutcomeInvalid), 1},
		{"failed tiles", p.tiles.WithLabelValues(OutcomeFailed), 1},
		{"splitting", p.phases.WithLabelValues("splitting"), 1},
		{"complete", p.jobsFinished.WithLabelValues("complete"), 1},
	}
	for _, tt := range tests {
		if got := testutil.ToFloat64(tt.collector); got != tt.want {
			t.Errorf("%s = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestPipeline_Exposition(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	p := NewPipeline(reg)
	p.JobSubmitted()
	p.JobFinished(orchestration.Failed, 3*time.Second)

	expected := `
# HELP xenarch_jobs_finished_total Jobs that reached a terminal phase.
# TYPE xenarch_jobs_finished_total counter
xenarch_jobs_finished_total{phase="failed"} 1
`
	if err := testutil.GatherAndCompare(reg, strings.NewReader(expected), "xenarch_jobs_finished_total"); err != nil {
		t.Error(err)
	}
}

func TestPipeline_DuplicateRegistrationPanics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	NewPipeline(reg)
	defer func() {
		if recover() == nil {
			t.Error("registering a second pipeline on the same registry should panic")
		}
	}()
	NewPipeline(reg)
}
