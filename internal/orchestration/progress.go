package orchestration

import (
	"time"

	"github.com/agbru/xenarch/internal/format"
)

// progressTracker projects the remaining time of the ComputingMetrics phase
// from the processed-tile fraction.
type progressTracker struct {
	state *format.ETATracker
}

func newProgressTracker() *progressTracker {
	return &progressTracker{state: format.NewETATracker()}
}

func (p *progressTracker) update(fraction float64) { p.state.Update(fraction) }

func (p *progressTracker) eta() time.Duration { return p.state.ETA() }
