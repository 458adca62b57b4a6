//go:generate mockgen -source=ui.go -destination=mocks/mock_ui.go -package=mocks

package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/briandowns/spinner"

	"github.com/agbru/xenarch/internal/format"
	"github.com/agbru/xenarch/internal/orchestration"
)

const (
	// ProgressRefreshRate defines the refresh frequency of the progress bar.
	ProgressRefreshRate = 200 * time.Millisecond
	// ProgressBarWidth defines the width in characters of the progress bar.
	ProgressBarWidth = 40
)

// Spinner is an interface that abstracts the behavior of a terminal spinner.
// This allows for the decoupling of the `DisplayProgress` function from a
// specific spinner implementation, facilitating easier testing and maintenance.
type Spinner interface {
	// Start begins the spinner animation.
	Start()
	// Stop halts the spinner animation.
	Stop()
	// UpdateSuffix sets the text that is displayed after the spinner.
	UpdateSuffix(suffix string)
}

// realSpinner is a wrapper for the `spinner.Spinner` that implements the
// `Spinner` interface.
type realSpinner struct {
	s *spinner.Spinner
}

// Start begins the spinner animation.
func (rs *realSpinner) Start() {
	rs.s.Start()
}

// Stop halts the spinner animation.
func (rs *realSpinner) Stop() {
	rs.s.Stop()
}

// UpdateSuffix sets the text that is displayed after the spinner.
func (rs *realSpinner) UpdateSuffix(suffix string) {
	rs.s.Lock()
	rs.s.Suffix = suffix
	rs.s.Unlock()
}

var newSpinner = func(options ...spinner.Option) Spinner {
	// Using the same interval as ProgressRefreshRate to synchronize
	s := spinner.New(spinner.CharSets[11], ProgressRefreshRate, options...)
	return &realSpinner{s}
}

// StatusFunc returns the current snapshot of the job being displayed.
type StatusFunc func() (orchestration.Snapshot, error)

// DisplayProgress animates a spinner followed by the job's phase, tile count
// and progress bar. It polls status every ProgressRefreshRate and returns the
// last snapshot it saw once the job is terminal, status fails or ctx is done.
func DisplayProgress(ctx context.Context, status StatusFunc, out io.Writer) orchestration.Snapshot {
	s := newSpinner(spinner.WithWriter(out))
	s.Start()
	defer s.Stop()

	ticker := time.NewTicker(ProgressRefreshRate)
	defer ticker.Stop()

	var last orchestration.Snapshot
	for {
		snap, err := status()
		if err != nil {
			return last
		}
		last = snap
		s.UpdateSuffix(" " + FormatProgressLine(snap))
		if snap.Phase.Terminal() {
			return last
		}
		select {
		case <-ctx.Done():
			return last
		case <-ticker.C:
		}
	}
}

// FormatProgressLine renders "computing_metrics 3/16 tiles [bar] 18.8% ETA: 4s".
func FormatProgressLine(snap orchestration.Snapshot) string {
	line := fmt.Sprintf("%-17s %s/%s tiles %s",
		snap.Phase, format.FormatCount(snap.ProcessedTiles), format.FormatCount(snap.TotalTiles),
		format.FormatProgressBarWithETA(snap.Progress, snap.ETA, ProgressBarWidth))
	if snap.FailedTiles > 0 {
		line += fmt.Sprintf(" (%d unreadable)", snap.FailedTiles)
	}
	return line
}
