package server

import (
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	apperrors "github.com/agbru/xenarch/internal/errors"
	"github.com/agbru/xenarch/internal/fractal"
	"github.com/agbru/xenarch/internal/orchestration"
	"github.com/agbru/xenarch/internal/raster"
)

// jobRequest is the body of POST /api/jobs. Omitted fields take the
// server's defaults.
type jobRequest struct {
	Raster      string   `json:"raster"`
	GridSize    *int     `json:"grid_size"`
	Overlap     *int     `json:"overlap"`
	CPUFraction *float64 `json:"cpu_fraction"`
	FDMin       *float64 `json:"fd_min"`
	FDMax       *float64 `json:"fd_max"`
	R2Min       *float64 `json:"r2_min"`
	MaxSamples  *int     `json:"max_samples"`
	// TimeBudget is a Go duration such as "90s".
	TimeBudget  string   `json:"time_budget"`
	Threshold   string   `json:"threshold"`
	Percentile  *float64 `json:"percentile"`
	MinCoverage *float64 `json:"min_coverage"`
}

func (req jobRequest) params(defaults orchestration.JobParams) (orchestration.JobParams, error) {
	p := defaults
	setInt(&p.GridSize, req.GridSize)
	setInt(&p.Overlap, req.Overlap)
	setInt(&p.MaxSamples, req.MaxSamples)
	setFloat(&p.CPUFraction, req.CPUFraction)
	setFloat(&p.FDMin, req.FDMin)
	setFloat(&p.FDMax, req.FDMax)
	setFloat(&p.R2Min, req.R2Min)
	setFloat(&p.Estimator.Percentile, req.Percentile)
	if req.MinCoverage != nil {
		if err := fractal.CheckMinCoverage(*req.MinCoverage); err != nil {
			return p, err
		}
		p.Estimator.MinCoverage = *req.MinCoverage
	}
	if req.TimeBudget != "" {
		d, err := time.ParseDuration(req.TimeBudget)
		if err != nil {
			return p, apperrors.NewConfigError("invalid time_budget %q", req.TimeBudget)
		}
		p.TimeBudget = d
	}
	if req.Threshold != "" {
		t, err := fractal.ParseThreshold(req.Threshold)
		if err != nil {
			return p, err
		}
		p.Estimator.Threshold = t
	}
	return p, p.Validate()
}

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}

func setFloat(dst *float64, v *float64) {
	if v != nil {
		*dst = *v
	}
}

// formRequest reads a jobRequest from multipart form values.
func formRequest(form *multipart.Form) (jobRequest, error) {
	value := func(key string) string {
		if vs := form.Value[key]; len(vs) > 0 {
			return strings.TrimSpace(vs[0])
		}
		return ""
	}
	var req jobRequest
	ints := map[string]**int{"grid_size": &req.GridSize, "overlap": &req.Overlap, "max_samples": &req.MaxSamples}
	for key, dst := range ints {
		if s := value(key); s != "" {
			n, err := strconv.Atoi(s)
			if err != nil {
				return req, apperrors.NewConfigError("invalid %s %q", key, s)
			}
			*dst = &n
		}
	}
	floats := map[string]**float64{
		"cpu_fraction": &req.CPUFraction,
		"fd_min":       &req.FDMin,
		"fd_max":       &req.FDMax,
		"r2_min":       &req.R2Min,
		"percentile":   &req.Percentile,
		"min_coverage": &req.MinCoverage,
	}
	for key, dst := range floats {
		if s := value(key); s != "" {
			f, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return req, apperrors.NewConfigError("invalid %s %q", key, s)
			}
			*dst = &f
		}
	}
	req.TimeBudget = value("time_budget")
	req.Threshold = value("threshold")
	return req, nil
}

// decodeSubmission parses either a multipart upload or a JSON body. For
// uploads the raster is saved under dir and its path is returned as upload.
func decodeSubmission(w http.ResponseWriter, r *http.Request, sec SecurityConfig, dir string) (req jobRequest, upload string, err error) {
	r.Body = http.MaxBytesReader(w, r.Body, sec.MaxUploadBytes)
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			return req, "", apperrors.NewConfigError("invalid upload: %v", err)
		}
		defer r.MultipartForm.RemoveAll()
		req, err = formRequest(r.MultipartForm)
		if err != nil {
			return req, "", err
		}
		files := r.MultipartForm.File["file"]
		if len(files) == 0 {
			return req, "", apperrors.NewConfigError("missing raster file field %q", "file")
		}
		upload, err = saveUpload(dir, files[0], r.MultipartForm.File["world"])
		if err != nil {
			return req, "", err
		}
		req.Raster = upload
		return req, upload, nil
	}

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		return req, "", apperrors.NewConfigError("invalid request body: %v", err)
	}
	switch {
	case req.Raster == "":
		return req, "", apperrors.NewConfigError("raster is required")
	case strings.HasPrefix(req.Raster, raster.SyntheticPrefix):
	case !sec.AllowLocalPaths:
		return req, "", apperrors.NewConfigError("server-side raster paths are disabled; upload the file instead")
	}
	return req, "", nil
}

// saveUpload copies the uploaded raster, and its world file when given, to
// dir.
func saveUpload(dir string, fh *multipart.FileHeader, world []*multipart.FileHeader) (string, error) {
	dst, err := os.CreateTemp(dir, "upload-*.tif")
	if err != nil {
		return "", fmt.Errorf("store upload: %w", err)
	}
	path := dst.Name()
	err = copyPart(dst, fh)
	if cerr := dst.Close(); err == nil {
		err = cerr
	}
	if err == nil && len(world) > 0 {
		var wf *os.File
		if wf, err = os.Create(worldFileFor(path)); err == nil {
			err = copyPart(wf, world[0])
			if cerr := wf.Close(); err == nil {
				err = cerr
			}
		}
	}
	if err != nil {
		os.Remove(path)
		os.Remove(worldFileFor(path))
		return "", fmt.Errorf("store upload: %w", err)
	}
	return path, nil
}

func copyPart(dst io.Writer, fh *multipart.FileHeader) error {
	src, err := fh.Open()
	if err != nil {
		return err
	}
	defer src.Close()
	_, err = io.Copy(dst, src)
	return err
}

func worldFileFor(path string) string {
	return raster.WorldFilePath(filepath.Clean(path))
}
