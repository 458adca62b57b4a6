package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	apperrors "github.com/agbru/xenarch/internal/errors"
	"github.com/agbru/xenarch/internal/fractal"
	"github.com/agbru/xenarch/internal/logging"
	"github.com/agbru/xenarch/internal/orchestration"
	"github.com/agbru/xenarch/internal/ranking"
	"github.com/agbru/xenarch/internal/store"
	"github.com/agbru/xenarch/internal/sysmon"
)

type errorResponse struct {
	Error string `json:"error"`
}

type submitResponse struct {
	JobID     string `json:"job_id"`
	StatusURL string `json:"status_url"`
}

type resultsResponse struct {
	JobID    string                 `json:"job_id"`
	Ranked   []fractal.MetricRecord `json:"ranked"`
	Summary  ranking.Summary        `json:"summary"`
	Archived bool                   `json:"archived,omitempty"`
}

type recordsResponse struct {
	JobID   string                 `json:"job_id"`
	Records []fractal.MetricRecord `json:"records"`
}

type listResponse struct {
	Jobs     []orchestration.Snapshot `json:"jobs"`
	Archived []store.Job              `json:"archived,omitempty"`
}

type healthResponse struct {
	Status     string  `json:"status"`
	Version    string  `json:"version,omitempty"`
	Uptime     string  `json:"uptime"`
	ActiveJobs int     `json:"active_jobs"`
	CPUPercent float64 `json:"cpu_percent"`
	MemPercent float64 `json:"mem_percent"`
	Load1      float64 `json:"load1"`
	CPUs       int     `json:"cpus"`
	MaxJobs    int     `json:"max_jobs,omitempty"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("cannot encode response", err)
	}
}

// statusFor maps the error taxonomy to HTTP status codes.
func statusFor(err error) int {
	var (
		cfgErr   apperrors.ConfigError
		valErr   apperrors.ValidationError
		notFound apperrors.NotFoundError
		notReady apperrors.NotReadyError
		srcErr   apperrors.SourceReadError
	)
	switch {
	case errors.As(err, &notFound):
		return http.StatusNotFound
	case errors.As(err, &cfgErr), errors.As(err, &valErr):
		return http.StatusBadRequest
	case errors.As(err, &notReady), errors.Is(err, orchestration.ErrTerminal):
		return http.StatusConflict
	case errors.As(err, &srcErr):
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", err, logging.String("path", r.URL.Path))
	}
	s.writeJSON(w, status, errorResponse{Error: err.Error()})
}

func (s *Server) activeJobs() int {
	n := 0
	for _, j := range s.jobs.Jobs() {
		if !j.Phase.Terminal() {
			n++
		}
	}
	return n
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	stats := sysmon.Sample()
	s.writeJSON(w, http.StatusOK, healthResponse{
		Status:     "ok",
		Version:    s.cfg.Version,
		Uptime:     time.Since(s.started).Round(time.Second).String(),
		ActiveJobs: s.activeJobs(),
		CPUPercent: stats.CPUPercent,
		MemPercent: stats.MemPercent,
		Load1:      stats.Load1,
		CPUs:       stats.CPUs,
		MaxJobs:    s.cfg.MaxActiveJobs,
	})
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	if s.cfg.MaxActiveJobs > 0 && s.activeJobs() >= s.cfg.MaxActiveJobs {
		s.writeJSON(w, http.StatusTooManyRequests, errorResponse{Error: "too many running jobs, retry later"})
		return
	}
	req, upload, err := decodeSubmission(w, r, s.cfg.Security, s.cfg.UploadDir)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	params, err := req.params(s.cfg.Defaults)
	if err == nil {
		var id string
		if id, err = s.jobs.Submit(r.Context(), req.Raster, params); err == nil {
			if upload != "" {
				s.trackUpload(id, upload)
			}
			w.Header().Set("Location", "/api/jobs/"+id+"/status")
			s.writeJSON(w, http.StatusAccepted, submitResponse{JobID: id, StatusURL: "/api/jobs/" + id + "/status"})
			return
		}
	}
	if upload != "" {
		s.removeUpload(upload)
	}
	s.writeError(w, r, err)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	resp := listResponse{Jobs: s.jobs.Jobs()}
	if s.archive != nil {
		live := make(map[string]bool, len(resp.Jobs))
		for _, j := range resp.Jobs {
			live[j.JobID] = true
		}
		stored, err := s.archive.ListJobs(r.Context(), 100)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		for _, j := range stored {
			if !live[j.JobID] {
				resp.Archived = append(resp.Archived, j)
			}
		}
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// archived reports whether err is a plain "unknown job" that the archive
// may be able to answer.
func (s *Server) archived(err error) bool {
	var nf apperrors.NotFoundError
	return s.archive != nil && errors.As(err, &nf) && nf.Cause == nil
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	snap, err := s.jobs.Status(id)
	if s.archived(err) {
		var job store.Job
		if job, err = s.archive.LoadJob(r.Context(), id); err == nil {
			snap = orchestration.Snapshot{
				JobID:          job.JobID,
				Ref:            job.Ref,
				Phase:          job.Phase,
				Progress:       1,
				ProcessedTiles: job.TotalTiles,
				TotalTiles:     job.TotalTiles,
				Params:         job.Params,
				CreatedAt:      job.CreatedAt,
				FinishedAt:     job.FinishedAt,
			}
		}
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleResults(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	resp := resultsResponse{JobID: id}
	ranked, err := s.jobs.Results(id)
	if err == nil {
		resp.Ranked = ranked
		resp.Summary, err = s.jobs.Summary(id)
	} else if s.archived(err) {
		var job store.Job
		if job, err = s.archive.LoadJob(r.Context(), id); err == nil {
			resp.Summary, resp.Archived = job.Summary, true
			resp.Ranked, err = s.archive.LoadRanked(r.Context(), id)
		}
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRecords(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	records, err := s.jobs.Records(id)
	if s.archived(err) {
		records, err = s.archive.LoadRecords(r.Context(), id)
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, recordsResponse{JobID: id, Records: records})
}

// handleDelete cancels a running job, or evicts a terminal one.
func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	err := s.jobs.Cancel(id)
	switch {
	case err == nil:
		s.writeJSON(w, http.StatusAccepted, map[string]string{"job_id": id, "status": "canceling"})
		return
	case errors.Is(err, orchestration.ErrTerminal):
		if err = s.jobs.Evict(id); err == nil {
			s.forgetUpload(id)
			s.writeJSON(w, http.StatusOK, map[string]string{"job_id": id, "status": "evicted"})
			return
		}
	}
	s.writeError(w, r, err)
}
