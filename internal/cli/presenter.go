package cli

import (
	"fmt"
	"io"
	"strings"
	"time"
	"unicode/utf8"

	apperrors "github.com/agbru/xenarch/internal/errors"
	"github.com/agbru/xenarch/internal/format"
	"github.com/agbru/xenarch/internal/fractal"
	"github.com/agbru/xenarch/internal/ranking"
	"github.com/agbru/xenarch/internal/ui"
)

// CLIColorProvider supplies the active theme's colors to the error handler.
type CLIColorProvider struct{}

var _ apperrors.ColorProvider = CLIColorProvider{}

// Red returns the error color.
func (CLIColorProvider) Red() string { return ui.ColorRed() }

// Yellow returns the warning color.
func (CLIColorProvider) Yellow() string { return ui.ColorYellow() }

// Reset returns the reset code.
func (CLIColorProvider) Reset() string { return ui.ColorReset() }

// HandleError prints err and returns its exit code.
func HandleError(err error, elapsed time.Duration, out io.Writer) int {
	return apperrors.HandleJobError(err, elapsed, out, CLIColorProvider{})
}

var rankedHeaders = []string{"Rank", "Grid", "D", "R²", "Elevation", "Origin", "Size", ""}

// DisplayRankedTable prints the ranked tiles in a table. Padding is computed
// on the plain cell text so that ANSI codes do not break the alignment.
func DisplayRankedTable(ranked []fractal.MetricRecord, out io.Writer) {
	fmt.Fprintf(out, "\n--- Ranked Tiles ---\n")
	if len(ranked) == 0 {
		fmt.Fprintf(out, "%sNo tile falls inside the ranking band.%s\n", ui.ColorYellow(), ui.ColorReset())
		return
	}

	rows := make([][]string, len(ranked))
	widths := make([]int, len(rankedHeaders))
	for i, h := range rankedHeaders {
		widths[i] = utf8.RuneCountInString(h)
	}
	for i, r := range ranked {
		boundary := ""
		if r.Boundary {
			boundary = "boundary"
		}
		rows[i] = []string{
			fmt.Sprint(i + 1),
			r.GridID,
			fmt.Sprintf("%.4f", r.FractalDimension),
			fmt.Sprintf("%.4f", r.RSquared),
			fmt.Sprintf("%.1f..%.1f", r.Elevation.Min, r.Elevation.Max),
			fmt.Sprintf("(%d,%d)", r.Position.X, r.Position.Y),
			fmt.Sprintf("%dx%d", r.Size.Width, r.Size.Height),
			boundary,
		}
		for j, cell := range rows[i] {
			widths[j] = max(widths[j], utf8.RuneCountInString(cell))
		}
	}

	for i, h := range rankedHeaders {
		fmt.Fprintf(out, "%s%s%s%s   ", ui.ColorUnderline(), h, ui.ColorReset(), padRight("", widths[i]-utf8.RuneCountInString(h)))
	}
	fmt.Fprintln(out)
	plain := func() string { return "" }
	colors := []func() string{ui.ColorBold, ui.ColorBlue, ui.ColorGreen, ui.ColorCyan, ui.ColorMagenta, plain, plain, ui.ColorYellow}
	for _, row := range rows {
		for j, cell := range row {
			fmt.Fprintf(out, "%s%s   ", ui.Paint(colors[j](), cell), padRight("", widths[j]-utf8.RuneCountInString(cell)))
		}
		fmt.Fprintln(out)
	}
}

// padRight returns a string of spaces with the given length.
func padRight(s string, length int) string {
	if length <= 0 {
		return s
	}
	return s + fmt.Sprintf("%*s", length, "")
}

// DisplaySummary prints the record counts, the dimension and R²
// distributions and the histogram of in-range dimensions.
func DisplaySummary(summary ranking.Summary, out io.Writer) {
	fmt.Fprintf(out, "\n--- Summary ---\n")
	fmt.Fprintf(out, "Tiles: %s%s%s total, %s%s%s valid, %s%s%s invalid, %s out of range, %s%s%s ranked.\n",
		ui.ColorBold(), format.FormatCount(summary.Total), ui.ColorReset(),
		ui.ColorGreen(), format.FormatCount(summary.Valid), ui.ColorReset(),
		ui.ColorYellow(), format.FormatCount(summary.Invalid), ui.ColorReset(),
		format.FormatCount(summary.OutOfRange),
		ui.ColorBlue(), format.FormatCount(summary.Accepted), ui.ColorReset())
	if summary.Valid == 0 {
		return
	}
	printDistribution(out, "D ", summary.Dimension)
	printDistribution(out, "R²", summary.RSquared)
	DisplayHistogram(summary.Histogram, out)
}

func printDistribution(out io.Writer, label string, d ranking.Distribution) {
	fmt.Fprintf(out, "%s: min %s%.4f%s  max %s%.4f%s  mean %s%.4f%s  std %.4f\n", label,
		ui.ColorCyan(), d.Min, ui.ColorReset(),
		ui.ColorCyan(), d.Max, ui.ColorReset(),
		ui.ColorMagenta(), d.Mean, ui.ColorReset(), d.Std)
}

// DisplayHistogram draws one bar per bin, scaled to the fullest bin.
func DisplayHistogram(bins []ranking.Bin, out io.Writer) {
	peak := 0
	for _, b := range bins {
		peak = max(peak, b.Count)
	}
	if peak == 0 {
		return
	}
	fmt.Fprintf(out, "\nDimension histogram:\n")
	for _, b := range bins {
		bar := strings.TrimRight(format.ProgressBar(float64(b.Count)/float64(peak), ProgressBarWidth/2), "░")
		fmt.Fprintf(out, "  [%.1f, %.1f) %s%-20s%s %d\n", b.Lo, b.Hi, ui.ColorGreen(), bar, ui.ColorReset(), b.Count)
	}
}
