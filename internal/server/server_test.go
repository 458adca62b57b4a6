package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	apperrors "github.com/agbru/xenarch/internal/errors"
	"github.com/agbru/xenarch/internal/orchestration"
	"github.com/agbru/xenarch/internal/raster"
	"github.com/agbru/xenarch/internal/store"
)

type fixture struct {
	srv  *Server
	http *httptest.Server
	jobs *orchestration.Orchestrator
}

func newFixture(t *testing.T, opener raster.Opener, archive *store.Store, mutate func(*Config)) *fixture {
	t.Helper()
	m := NewMetrics()
	opts := []orchestration.Option{orchestration.WithObserver(m.Pipeline)}
	if archive != nil {
		opts = append(opts, orchestration.WithSinks(archive))
	}
	jobs := orchestration.New(opener, opts...)

	cfg := DefaultConfig()
	cfg.UploadDir = t.TempDir()
	cfg.Defaults.GridSize, cfg.Defaults.Overlap = 64, 0
	cfg.Defaults.FDMin, cfg.Defaults.R2Min = 0, 0
	if mutate != nil {
		mutate(&cfg)
	}
	var a Archive
	if archive != nil {
		a = archive
	}
	srv := New(cfg, jobs, a, m, nil)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		jobs.Shutdown(context.Background())
	})
	return &fixture{srv: srv, http: ts, jobs: jobs}
}

func syntheticOpener() raster.Opener {
	return raster.Dispatch{File: raster.FileOpener{}, Synthetic: raster.SyntheticOpener{Seed: 4}}
}

// blockingOpener holds every Open until release is closed or the job's
// context ends.
func blockingOpener(release <-chan struct{}) raster.Opener {
	return raster.OpenerFunc(func(ctx context.Context, ref string) (raster.Source, error) {
		select {
		case <-release:
			return raster.SyntheticOpener{}.Open(ctx, ref)
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})
}

func (f *fixture) do(t *testing.T, method, path string, body io.Reader, contentType string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, f.http.URL+path, body)
	if err != nil {
		t.Fatal(err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := f.http.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	return resp, data
}

func (f *fixture) submitJSON(t *testing.T, body string) (int, submitResponse) {
	t.Helper()
	resp, data := f.do(t, http.MethodPost, "/api/jobs", strings.NewReader(body), "application/json")
	var out submitResponse
	if resp.StatusCode == http.StatusAccepted {
		if err := json.Unmarshal(data, &out); err != nil {
			t.Fatalf("decode %s: %v", data, err)
		}
	}
	return resp.StatusCode, out
}

func (f *fixture) waitTerminal(t *testing.T, id string) orchestration.Snapshot {
	t.Helper()
	deadline := time.Now().Add(30 * time.Second)
	for time.Now().Before(deadline) {
		resp, data := f.do(t, http.MethodGet, "/api/jobs/"+id+"/status", nil, "")
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status = %d: %s", resp.StatusCode, data)
		}
		var snap orchestration.Snapshot
		if err := json.Unmarshal(data, &snap); err != nil {
			t.Fatalf("decode %s: %v", data, err)
		}
		if snap.Phase.Terminal() {
			// Sinks run after the phase turns terminal.
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if _, err := f.jobs.Wait(ctx, id); err != nil {
				t.Fatal(err)
			}
			return snap
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("job %s did not finish", id)
	return orchestration.Snapshot{}
}

func TestServer_Health(t *testing.T) {
	t.Parallel()
	f := newFixture(t, syntheticOpener(), nil, func(c *Config) { c.Version = "v-test" })

	resp, data := f.do(t, http.MethodGet, "/api/health", nil, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var h healthResponse
	if err := json.Unmarshal(data, &h); err != nil {
		t.Fatal(err)
	}
	if h.Status != "ok" || h.Version != "v-test" || h.ActiveJobs != 0 {
		t.Errorf("health = %+v", h)
	}
	if resp.Header.Get("X-Content-Type-Options") != "nosniff" {
		t.Error("security headers missing from API responses")
	}
}

func TestServer_JobLifecycle(t *testing.T) {
	t.Parallel()
	f := newFixture(t, syntheticOpener(), nil, nil)

	code, sub := f.submitJSON(t, `{"raster": "synthetic:192x128", "max_samples": 3, "time_budget": "1m"}`)
	if code != http.StatusAccepted || sub.JobID == "" {
		t.Fatalf("submit = %d %+v", code, sub)
	}
	if sub.StatusURL != "/api/jobs/"+sub.JobID+"/status" {
		t.Errorf("status url = %q", sub.StatusURL)
	}

	snap := f.waitTerminal(t, sub.JobID)
	if snap.Phase != orchestration.Complete || snap.TotalTiles != 6 || snap.Progress != 1 {
		t.Fatalf("snapshot = %+v", snap)
	}
	if snap.Params.TimeBudget != time.Minute || snap.Params.MaxSamples != 3 {
		t.Errorf("request parameters not applied: %+v", snap.Params)
	}

	resp, data := f.do(t, http.MethodGet, "/api/jobs/"+sub.JobID+"/results", nil, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("results status = %d: %s", resp.StatusCode, data)
	}
	var res resultsResponse
	if err := json.Unmarshal(data, &res); err != nil {
		t.Fatal(err)
	}
	if len(res.Ranked) != 3 || res.Summary.Total != 6 || res.Archived {
		t.Errorf("results = %d ranked, summary %+v", len(res.Ranked), res.Summary)
	}

	resp, data = f.do(t, http.MethodGet, "/api/jobs/"+sub.JobID+"/records", nil, "")
	var recs recordsResponse
	if resp.StatusCode != http.StatusOK || json.Unmarshal(data, &recs) != nil || len(recs.Records) != 6 {
		t.Errorf("records = %d %s", resp.StatusCode, data)
	}

	resp, data = f.do(t, http.MethodGet, "/api/jobs", nil, "")
	var list listResponse
	if resp.StatusCode != http.StatusOK || json.Unmarshal(data, &list) != nil || len(list.Jobs) != 1 {
		t.Errorf("list = %d %s", resp.StatusCode, data)
	}

	resp, _ = f.do(t, http.MethodGet, "/metrics", nil, "")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("metrics status = %d", resp.StatusCode)
	}
	if n := len(f.jobs.Jobs()); n != 1 {
		t.Errorf("%d jobs registered", n)
	}
}

func TestServer_SubmitRejected(t *testing.T) {
	t.Parallel()
	f := newFixture(t, syntheticOpener(), nil, nil)

	tests := []struct {
		name string
		body string
	}{
		{"overlap not below grid size", `{"raster": "synthetic:64x64", "grid_size": 64, "overlap": 64}`},
		{"band inverted", `{"raster": "synthetic:64x64", "fd_min": 2, "fd_max": 1}`},
		{"bad duration", `{"raster": "synthetic:64x64", "time_budget": "soon"}`},
		{"unknown threshold", `{"raster": "synthetic:64x64", "threshold": "otsu"}`},
		{"zero min coverage", `{"raster": "synthetic:64x64", "min_coverage": 0}`},
		{"negative min coverage", `{"raster": "synthetic:64x64", "min_coverage": -0.5}`},
		{"missing raster", `{}`},
		{"unknown field", `{"raster": "synthetic:64x64", "grid": 3}`},
		{"server path", `{"raster": "/etc/passwd"}`},
		{"not json", `grid_size=64`},
	}
	for _, tt := range tests {
		code, _ := f.submitJSON(t, tt.body)
		if code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", tt.name, code)
		}
	}
	if n := len(f.jobs.Jobs()); n != 0 {
		t.Errorf("%d jobs created by rejected submissions", n)
	}
}

func TestServer_UnknownJob(t *testing.T) {
	t.Parallel()
	f := newFixture(t, syntheticOpener(), nil, nil)
	for _, path := range []string{"/api/jobs/nope/status", "/api/jobs/nope/results", "/api/jobs/nope/records"} {
		if resp, _ := f.do(t, http.MethodGet, path, nil, ""); resp.StatusCode != http.StatusNotFound {
			t.Errorf("GET %s = %d, want 404", path, resp.StatusCode)
		}
	}
	if resp, _ := f.do(t, http.MethodDelete, "/api/jobs/nope", nil, ""); resp.StatusCode != http.StatusNotFound {
		t.Errorf("DELETE = %d, want 404", resp.StatusCode)
	}
}

func TestServer_NotReadyCancelEvict(t *testing.T) {
	t.Parallel()
	release := make(chan struct{})
	defer close(release)
	f := newFixture(t, blockingOpener(release), nil, nil)

	code, sub := f.submitJSON(t, `{"raster": "synthetic:128x128"}`)
	if code != http.StatusAccepted {
		t.Fatalf("submit = %d", code)
	}
	if resp, _ := f.do(t, http.MethodGet, "/api/jobs/"+sub.JobID+"/results", nil, ""); resp.StatusCode != http.StatusConflict {
		t.Errorf("results while running = %d, want 409", resp.StatusCode)
	}

	resp, data := f.do(t, http.MethodDelete, "/api/jobs/"+sub.JobID, nil, "")
	if resp.StatusCode != http.StatusAccepted || !strings.Contains(string(data), "canceling") {
		t.Fatalf("cancel = %d %s", resp.StatusCode, data)
	}
	snap := f.waitTerminal(t, sub.JobID)
	if snap.Phase != orchestration.Failed || snap.Error == "" {
		t.Fatalf("snapshot after cancel = %+v", snap)
	}

	resp, data = f.do(t, http.MethodGet, "/api/jobs/"+sub.JobID+"/results", nil, "")
	if resp.StatusCode != http.StatusNotFound || !strings.Contains(string(data), "canceled") {
		t.Errorf("results of a failed job = %d %s", resp.StatusCode, data)
	}

	resp, data = f.do(t, http.MethodDelete, "/api/jobs/"+sub.JobID, nil, "")
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(data), "evicted") {
		t.Errorf("evict = %d %s", resp.StatusCode, data)
	}
	if resp, _ := f.do(t, http.MethodGet, "/api/jobs/"+sub.JobID+"/status", nil, ""); resp.StatusCode != http.StatusNotFound {
		t.Errorf("status after evict = %d", resp.StatusCode)
	}
}

func TestServer_MaxActiveJobs(t *testing.T) {
	t.Parallel()
	release := make(chan struct{})
	defer close(release)
	f := newFixture(t, blockingOpener(release), nil, func(c *Config) { c.MaxActiveJobs = 1 })

	if code, _ := f.submitJSON(t, `{"raster": "synthetic:64x64"}`); code != http.StatusAccepted {
		t.Fatalf("first submit = %d", code)
	}
	if code, _ := f.submitJSON(t, `{"raster": "synthetic:64x64"}`); code != http.StatusTooManyRequests {
		t.Errorf("second submit = %d, want 429", code)
	}
}

func multipartBody(t *testing.T, fields map[string]string, tif []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatal(err)
		}
	}
	if tif != nil {
		part, err := mw.CreateFormFile("file", "terrain.tif")
		if err != nil {
			t.Fatal(err)
		}
		part.Write(tif)
		world, err := mw.CreateFormFile("world", "terrain.tfw")
		if err != nil {
			t.Fatal(err)
		}
		raster.WriteWorldFile(world, raster.GeoTransform{OriginX: 100, OriginY: 200, PixelWidth: 2, PixelHeight: -2})
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}
	return &buf, mw.FormDataContentType()
}

func TestServer_UploadAndArchive(t *testing.T) {
	t.Parallel()
	archive, err := store.Open(":memory:", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer archive.Close()
	f := newFixture(t, syntheticOpener(), archive, nil)

	var tif bytes.Buffer
	if _, err := raster.EncodeTile(&tif, raster.Synthetic(128, 128, 8)); err != nil {
		t.Fatal(err)
	}
	body, ctype := multipartBody(t, map[string]string{"overlap": "16", "max_samples": "2"}, tif.Bytes())
	resp, data := f.do(t, http.MethodPost, "/api/jobs", body, ctype)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("upload = %d %s", resp.StatusCode, data)
	}
	var sub submitResponse
	if err := json.Unmarshal(data, &sub); err != nil {
		t.Fatal(err)
	}

	snap := f.waitTerminal(t, sub.JobID)
	if snap.Phase != orchestration.Complete || snap.Params.Overlap != 16 {
		t.Fatalf("snapshot = %+v", snap)
	}
	uploads, _ := filepath.Glob(filepath.Join(f.srv.cfg.UploadDir, "upload-*"))
	if len(uploads) != 2 {
		t.Fatalf("uploads on disk = %v, want the raster and its world file", uploads)
	}

	if resp, data := f.do(t, http.MethodDelete, "/api/jobs/"+sub.JobID, nil, ""); resp.StatusCode != http.StatusOK {
		t.Fatalf("evict = %d %s", resp.StatusCode, data)
	}
	if left, _ := filepath.Glob(filepath.Join(f.srv.cfg.UploadDir, "upload-*")); len(left) != 0 {
		t.Errorf("uploads left after evict: %v", left)
	}

	// The archive answers for evicted jobs.
	resp, data = f.do(t, http.MethodGet, "/api/jobs/"+sub.JobID+"/status", nil, "")
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(data), `"phase":"complete"`) {
		t.Errorf("archived status = %d %s", resp.StatusCode, data)
	}
	resp, data = f.do(t, http.MethodGet, "/api/jobs/"+sub.JobID+"/results", nil, "")
	var res resultsResponse
	if resp.StatusCode != http.StatusOK || json.Unmarshal(data, &res) != nil || !res.Archived || len(res.Ranked) != 2 {
		t.Errorf("archived results = %d %s", resp.StatusCode, data)
	}
	resp, data = f.do(t, http.MethodGet, "/api/jobs", nil, "")
	var list listResponse
	if resp.StatusCode != http.StatusOK || json.Unmarshal(data, &list) != nil || len(list.Archived) != 1 {
		t.Errorf("list = %d %s", resp.StatusCode, data)
	}
}

func TestServer_UploadRequiresFile(t *testing.T) {
	t.Parallel()
	f := newFixture(t, syntheticOpener(), nil, nil)
	body, ctype := multipartBody(t, map[string]string{"grid_size": "64"}, nil)
	if resp, _ := f.do(t, http.MethodPost, "/api/jobs", body, ctype); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
	body, ctype = multipartBody(t, map[string]string{"grid_size": "large"}, []byte("II*\x00"))
	if resp, _ := f.do(t, http.MethodPost, "/api/jobs", body, ctype); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad form value status = %d, want 400", resp.StatusCode)
	}
	if left, _ := filepath.Glob(filepath.Join(f.srv.cfg.UploadDir, "upload-*")); len(left) != 0 {
		t.Errorf("rejected uploads left on disk: %v", left)
	}
}

func TestServer_SweepEvictsExpired(t *testing.T) {
	t.Parallel()
	f := newFixture(t, syntheticOpener(), nil, func(c *Config) { c.Retention = time.Nanosecond })

	code, sub := f.submitJSON(t, `{"raster": "synthetic:64x64"}`)
	if code != http.StatusAccepted {
		t.Fatalf("submit = %d", code)
	}
	f.waitTerminal(t, sub.JobID)
	upload := filepath.Join(f.srv.cfg.UploadDir, "upload-fake.tif")
	if err := os.WriteFile(upload, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	f.srv.trackUpload(sub.JobID, upload)

	time.Sleep(time.Millisecond)
	f.srv.sweepOnce()

	if resp, _ := f.do(t, http.MethodGet, "/api/jobs/"+sub.JobID+"/status", nil, ""); resp.StatusCode != http.StatusNotFound {
		t.Errorf("status after sweep = %d", resp.StatusCode)
	}
	if _, err := os.Stat(upload); !os.IsNotExist(err) {
		t.Errorf("upload of an evicted job not removed: %v", err)
	}
}

func TestServer_ServeShutsDown(t *testing.T) {
	t.Parallel()
	jobs := orchestration.New(syntheticOpener())
	srv := New(DefaultConfig(), jobs, nil, nil, nil)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()

	var resp *http.Response
	for i := 0; i < 100; i++ {
		if resp, err = http.Get("http://" + ln.Addr().String() + "/api/health"); err == nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve() = %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}

func TestStatusFor(t *testing.T) {
	t.Parallel()
	tests := []struct {
		err  error
		want int
	}{
		{apperrors.NewConfigError("bad"), http.StatusBadRequest},
		{apperrors.ValidationError{Field: "grid_size", Message: "too small"}, http.StatusBadRequest},
		{apperrors.NotFoundError{JobID: "a"}, http.StatusNotFound},
		{apperrors.NotFoundError{JobID: "a", Cause: apperrors.SourceReadError{Ref: "x"}}, http.StatusNotFound},
		{apperrors.NotReadyError{JobID: "a"}, http.StatusConflict},
		{orchestration.ErrTerminal, http.StatusConflict},
		{apperrors.SourceReadError{Ref: "x"}, http.StatusUnprocessableEntity},
		{io.ErrUnexpectedEOF, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
