package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/agbru/xenarch/internal/errors"
	"github.com/agbru/xenarch/internal/fractal"
	"github.com/agbru/xenarch/internal/orchestration"
	"github.com/agbru/xenarch/internal/ranking"
	"github.com/agbru/xenarch/internal/raster"
	"github.com/agbru/xenarch/internal/tiling"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "xenarch.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// result analyses a synthetic raster the way a job would, without the
// orchestrator.
func result(t *testing.T, id string, finished time.Time) orchestration.JobResult {
	t.Helper()
	params := orchestration.DefaultJobParams()
	params.GridSize, params.Overlap = 64, 16
	params.FDMin, params.R2Min, params.MaxSamples = 0, 0, 3

	grid := raster.Synthetic(160, 112, 3)
	tiles, err := tiling.Split(grid.Width, grid.Height, params.Tiling())
	require.NoError(t, err)
	est := fractal.NewEstimator(params.Estimator)
	records := make([]fractal.MetricRecord, 0, len(tiles))
	for _, tile := range tiles {
		sub, err := grid.Sub(tile.XOffset, tile.YOffset, tile.Width, tile.Height)
		require.NoError(t, err)
		records = append(records, est.Record(tile, sub))
	}
	records = append(records, fractal.InvalidRecord(tiling.Tile{GridID: "grid_00099_00099"}, "extraction failed: eof"))
	ranked := ranking.Rank(records, params.Criteria())
	return orchestration.JobResult{
		JobID:      id,
		Ref:        "synthetic:160x112",
		Params:     params,
		Tiles:      tiles,
		Records:    records,
		Ranked:     ranked,
		Summary:    ranking.Summarize(records, ranked),
		CreatedAt:  finished.Add(-time.Minute),
		FinishedAt: finished,
	}
}

func TestStore_PersistAndLoad(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()
	finished := time.Date(2024, 3, 9, 10, 0, 0, 0, time.UTC)
	res := result(t, "job-a", finished)
	require.Len(t, res.Ranked, 3)

	require.NoError(t, s.Persist(ctx, res))

	job, err := s.LoadJob(ctx, "job-a")
	require.NoError(t, err)
	assert.Equal(t, "synthetic:160x112", job.Ref)
	assert.Equal(t, orchestration.Complete, job.Phase)
	assert.Equal(t, res.Params, job.Params)
	assert.Equal(t, len(res.Records), job.TotalTiles)
	assert.True(t, job.FinishedAt.Equal(finished))
	assert.True(t, job.CreatedAt.Equal(finished.Add(-time.Minute)))
	if diff := cmp.Diff(res.Summary, job.Summary, cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("summary mismatch (-want +got):\n%s", diff)
	}

	ranked, err := s.LoadRanked(ctx, "job-a")
	require.NoError(t, err)
	if diff := cmp.Diff(res.Ranked, ranked, cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("ranked mismatch (-want +got):\n%s", diff)
	}

	records, err := s.LoadRecords(ctx, "job-a")
	require.NoError(t, err)
	sortByID := cmpopts.SortSlices(func(a, b fractal.MetricRecord) bool { return a.GridID < b.GridID })
	if diff := cmp.Diff(res.Records, records, sortByID, cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("records mismatch (-want +got):\n%s", diff)
	}
}

func TestStore_PersistReplaces(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()
	res := result(t, "job-a", time.Now())
	require.NoError(t, s.Persist(ctx, res))

	res.Ranked = res.Ranked[:1]
	require.NoError(t, s.Persist(ctx, res))

	ranked, err := s.LoadRanked(ctx, "job-a")
	require.NoError(t, err)
	assert.Len(t, ranked, 1)
	records, err := s.LoadRecords(ctx, "job-a")
	require.NoError(t, err)
	assert.Len(t, records, len(res.Records))
}

func TestStore_NotFound(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	var nf apperrors.NotFoundError
	_, err := s.LoadJob(ctx, "missing")
	assert.ErrorAs(t, err, &nf)
	_, err = s.LoadRanked(ctx, "missing")
	assert.ErrorAs(t, err, &nf)
	assert.ErrorAs(t, s.Delete(ctx, "missing"), &nf)
}

func TestStore_ListJobsAndDelete(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"old", "mid", "new"} {
		require.NoError(t, s.Persist(ctx, result(t, id, base.Add(time.Duration(i)*time.Hour))))
	}

	jobs, err := s.ListJobs(ctx, 0)
	require.NoError(t, err)
	ids := make([]string, len(jobs))
	for i, j := range jobs {
		ids[i] = j.JobID
	}
	assert.Equal(t, []string{"new", "mid", "old"}, ids)

	jobs, err = s.ListJobs(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, jobs, 2)

	require.NoError(t, s.Delete(ctx, "mid"))
	records, err := s.LoadRecords(ctx, "mid")
	assert.Nil(t, records)
	assert.Error(t, err)

	var count int
	require.NoError(t, s.db.QueryRow(`SELECT COUNT(*) FROM tile_metrics WHERE job_id = 'mid'`).Scan(&count))
	assert.Zero(t, count, "tile metrics must cascade with their job")
}

func TestStore_EmptyListIsNotNil(t *testing.T) {
	t.Parallel()
	s, err := Open(":memory:", nil)
	require.NoError(t, err)
	defer s.Close()

	jobs, err := s.ListJobs(context.Background(), 10)
	require.NoError(t, err)
	assert.NotNil(t, jobs)
	assert.Empty(t, jobs)
}

// TestStore_AsResultSink runs a real job with the store attached.
func TestStore_AsResultSink(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	o := orchestration.New(raster.SyntheticOpener{Seed: 11}, orchestration.WithSinks(s))
	p := orchestration.DefaultJobParams()
	p.GridSize, p.Overlap = 64, 0
	p.FDMin, p.R2Min = 0, 0

	id, err := o.Submit(context.Background(), raster.SyntheticRef(128, 128), p)
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	snap, err := o.Wait(ctx, id)
	require.NoError(t, err)
	require.Equal(t, orchestration.Complete, snap.Phase)

	stored, err := s.LoadRanked(ctx, id)
	require.NoError(t, err)
	live, err := o.Results(id)
	require.NoError(t, err)
	if diff := cmp.Diff(live, stored, cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("stored ranking differs from the live one:\n%s", diff)
	}
}
