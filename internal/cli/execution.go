package cli

import (
	"fmt"
	"io"
	"runtime"

	"github.com/agbru/xenarch/internal/config"
	"github.com/agbru/xenarch/internal/format"
	"github.com/agbru/xenarch/internal/ui"
)

// PrintExecutionConfig displays the job about to run: the raster, the tile
// lattice, the ranking band and the execution environment.
//
// Parameters:
//   - cfg: The application configuration.
//   - out: The writer for standard output.
func PrintExecutionConfig(cfg config.AppConfig, out io.Writer) {
	fmt.Fprintf(out, "--- Execution Configuration ---\n")
	fmt.Fprintf(out, "Analysing %s%s%s with a time budget of %s%s%s.\n",
		ui.ColorMagenta(), cfg.Ref(), ui.ColorReset(), ui.ColorYellow(), format.FormatBudget(cfg.Timeout), ui.ColorReset())
	fmt.Fprintf(out, "Tiles: %s%d%s px with %s%d%s px overlap, %s threshold.\n",
		ui.ColorCyan(), cfg.GridSize, ui.ColorReset(), ui.ColorCyan(), cfg.Overlap, ui.ColorReset(), cfg.Threshold)
	fmt.Fprintf(out, "Band: D in [%s%.2f, %.2f%s], R² >= %s%.2f%s, top %s%d%s.\n",
		ui.ColorGreen(), cfg.FDMin, cfg.FDMax, ui.ColorReset(),
		ui.ColorGreen(), cfg.R2Min, ui.ColorReset(),
		ui.ColorGreen(), cfg.MaxSamples, ui.ColorReset())
	fmt.Fprintf(out, "Environment: %s%d%s logical processors (%.0f%% used), Go %s%s%s.\n",
		ui.ColorCyan(), runtime.NumCPU(), ui.ColorReset(), cfg.CPUFraction*100,
		ui.ColorCyan(), runtime.Version(), ui.ColorReset())
	fmt.Fprintf(out, "\n--- Starting Execution ---\n")
}
