// Package artifact writes per-tile artifacts of completed jobs: a cropped
// 16-bit TIFF, its world file and a JSON metric document per tile, plus the
// job's parameters and ranking.
package artifact

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/agbru/xenarch/internal/fractal"
	"github.com/agbru/xenarch/internal/logging"
	"github.com/agbru/xenarch/internal/orchestration"
	"github.com/agbru/xenarch/internal/raster"
	"github.com/agbru/xenarch/internal/tiling"
)

// File names written at the job level.
const (
	ParamsFile = "params.json"
	RankedFile = "ranked.json"
)

// Document is the content of <grid_id>.json.
type Document struct {
	fractal.MetricRecord
	// Encoding maps the TIFF's samples back to elevations.
	Encoding raster.Encoding `json:"encoding"`
}

// MarshalJSON flattens the record next to the encoding.
func (d Document) MarshalJSON() ([]byte, error) {
	rec, err := json.Marshal(d.MetricRecord)
	if err != nil {
		return nil, err
	}
	enc, err := json.Marshal(d.Encoding)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	buf.Write(rec[:len(rec)-1])
	buf.WriteString(`,"encoding":`)
	buf.Write(enc)
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads a document written by MarshalJSON.
func (d *Document) UnmarshalJSON(data []byte) error {
	if err := json.Unmarshal(data, &d.MetricRecord); err != nil {
		return err
	}
	var enc struct {
		Encoding raster.Encoding `json:"encoding"`
	}
	if err := json.Unmarshal(data, &enc); err != nil {
		return err
	}
	d.Encoding = enc.Encoding
	return nil
}

// Writer is an orchestration.ResultSink writing under Dir/<job_id>/.
type Writer struct {
	Dir    string
	Logger logging.Logger
	// Workers bounds concurrent tile writes; zero means GOMAXPROCS.
	Workers int
}

// NewWriter creates a Writer rooted at dir.
func NewWriter(dir string, logger logging.Logger) *Writer {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Writer{Dir: dir, Logger: logger}
}

// JobDir returns the directory holding a job's artifacts.
func (w *Writer) JobDir(jobID string) string { return filepath.Join(w.Dir, jobID) }

// Persist writes every tile's artifacts. A tile whose window cannot be
// re-read is skipped and logged; filesystem errors abort the job's writes.
func (w *Writer) Persist(ctx context.Context, res orchestration.JobResult) error {
	dir := w.JobDir(res.JobID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create artifact dir: %w", err)
	}
	if err := writeJSON(filepath.Join(dir, ParamsFile), res.Params); err != nil {
		return err
	}
	if err := writeJSON(filepath.Join(dir, RankedFile), res.Ranked); err != nil {
		return err
	}

	records := make(map[string]fractal.MetricRecord, len(res.Records))
	for _, r := range res.Records {
		records[r.GridID] = r
	}

	workers := w.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, tile := range res.Tiles {
		rec, ok := records[tile.GridID]
		if !ok {
			continue
		}
		g.Go(func() error {
			return w.writeTile(ctx, dir, res, tile, rec)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	w.Logger.Info("artifacts written",
		logging.String("job_id", res.JobID),
		logging.String("dir", dir),
		logging.Int("tiles", len(res.Tiles)),
	)
	return nil
}

func (w *Writer) writeTile(ctx context.Context, dir string, res orchestration.JobResult, tile tiling.Tile, rec fractal.MetricRecord) error {
	grid, err := res.Source.ReadWindow(ctx, tile.XOffset, tile.YOffset, tile.Width, tile.Height)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		w.Logger.Error("tile artifact skipped", err,
			logging.String("job_id", res.JobID),
			logging.String("grid_id", tile.GridID),
		)
		return nil
	}

	base := filepath.Join(dir, tile.GridID)
	var img bytes.Buffer
	enc, err := raster.EncodeTile(&img, grid)
	if err != nil {
		return fmt.Errorf("encode %s: %w", tile.GridID, err)
	}
	if err := os.WriteFile(base+".tif", img.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", tile.GridID, err)
	}

	var world bytes.Buffer
	if err := raster.WriteWorldFile(&world, res.Geo.Window(tile.XOffset, tile.YOffset)); err != nil {
		return fmt.Errorf("world file %s: %w", tile.GridID, err)
	}
	if err := os.WriteFile(raster.WorldFilePath(base+".tif"), world.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", tile.GridID, err)
	}
	return writeJSON(base+".json", Document{MetricRecord: rec, Encoding: enc})
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	return nil
}

var _ orchestration.ResultSink = (*Writer)(nil)
