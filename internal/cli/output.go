// # Naming Conventions
//
// Functions in this package follow consistent naming patterns based on their behavior:
//
//   - Display* functions write formatted output to an [io.Writer].
//     They handle presentation logic and colorization.
//     Examples: [DisplayResultWithConfig], [DisplayQuietResult], [DisplayProgress].
//
//   - Format* functions return a formatted string without performing I/O.
//     Examples: [FormatQuietResult], [FormatProgressLine].
//
//   - Write* functions write data to files on the filesystem.
//     Examples: [WriteResultToFile].

package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/agbru/xenarch/internal/format"
	"github.com/agbru/xenarch/internal/fractal"
	"github.com/agbru/xenarch/internal/orchestration"
	"github.com/agbru/xenarch/internal/ranking"
	"github.com/agbru/xenarch/internal/ui"
)

// OutputConfig holds configuration for result output.
type OutputConfig struct {
	// OutputFile is the path of the JSON report (empty for no file output).
	OutputFile string
	// Quiet prints only the ranked grid ids.
	Quiet bool
	// Verbose adds the summary and histogram.
	Verbose bool
}

// JobReport is everything shown or saved about a finished job.
type JobReport struct {
	JobID     string                  `json:"job_id"`
	Ref       string                  `json:"raster"`
	Params    orchestration.JobParams `json:"params"`
	Elapsed   time.Duration           `json:"elapsed_ns"`
	Ranked    []fractal.MetricRecord  `json:"ranked_results"`
	Summary   ranking.Summary         `json:"summary"`
	Generated time.Time               `json:"generated_at"`
}

// NewJobReport assembles a report from a completed job's snapshot.
func NewJobReport(snap orchestration.Snapshot, summary ranking.Summary) JobReport {
	ranked := snap.Ranked
	if ranked == nil {
		ranked = []fractal.MetricRecord{}
	}
	return JobReport{
		JobID:     snap.JobID,
		Ref:       snap.Ref,
		Params:    snap.Params,
		Elapsed:   snap.FinishedAt.Sub(snap.StartedAt),
		Ranked:    ranked,
		Summary:   summary,
		Generated: time.Now().UTC(),
	}
}

// WriteResultToFile writes the report as indented JSON, creating parent
// directories as needed.
func WriteResultToFile(report JobReport, path string) error {
	if path == "" {
		return nil
	}

	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("failed to write output file: %w", err)
	}
	return nil
}

// FormatQuietResult returns the ranked grid ids, one per line, suitable for
// scripting.
func FormatQuietResult(ranked []fractal.MetricRecord) string {
	ids := make([]string, len(ranked))
	for i, r := range ranked {
		ids[i] = r.GridID
	}
	return strings.Join(ids, "\n")
}

// DisplayQuietResult outputs the ranked grid ids only.
func DisplayQuietResult(out io.Writer, ranked []fractal.MetricRecord) {
	if s := FormatQuietResult(ranked); s != "" {
		fmt.Fprintln(out, s)
	}
}

// DisplayResultWithConfig displays a report in the configured mode and
// saves it when an output file is set.
func DisplayResultWithConfig(out io.Writer, report JobReport, config OutputConfig) error {
	if config.Quiet {
		DisplayQuietResult(out, report.Ranked)
	} else {
		fmt.Fprintf(out, "\n%sJob %s complete%s in %s.\n",
			ui.ColorGreen(), report.JobID, ui.ColorReset(), format.FormatElapsed(report.Elapsed))
		DisplayRankedTable(report.Ranked, out)
		if config.Verbose {
			DisplaySummary(report.Summary, out)
		}
	}

	if config.OutputFile != "" {
		if err := WriteResultToFile(report, config.OutputFile); err != nil {
			return err
		}
		if !config.Quiet {
			fmt.Fprintf(out, "\n%s✓ Result saved to: %s%s%s\n",
				ui.ColorGreen(), ui.ColorCyan(), config.OutputFile, ui.ColorReset())
		}
	}
	return nil
}
