// Package server exposes the job orchestrator over HTTP: submission,
// progress polling, results, cancellation and Prometheus metrics.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/agbru/xenarch/internal/fractal"
	"github.com/agbru/xenarch/internal/logging"
	"github.com/agbru/xenarch/internal/orchestration"
	"github.com/agbru/xenarch/internal/ranking"
	"github.com/agbru/xenarch/internal/store"
)

// JobService is the part of the orchestrator the server drives.
type JobService interface {
	Submit(ctx context.Context, ref string, params orchestration.JobParams) (string, error)
	Status(id string) (orchestration.Snapshot, error)
	Results(id string) ([]fractal.MetricRecord, error)
	Records(id string) ([]fractal.MetricRecord, error)
	Summary(id string) (ranking.Summary, error)
	Cancel(id string) error
	Evict(id string) error
	EvictExpired(retention time.Duration) int
	Jobs() []orchestration.Snapshot
}

// Archive serves jobs that are no longer held in memory.
type Archive interface {
	LoadJob(ctx context.Context, id string) (store.Job, error)
	LoadRanked(ctx context.Context, id string) ([]fractal.MetricRecord, error)
	LoadRecords(ctx context.Context, id string) ([]fractal.MetricRecord, error)
	ListJobs(ctx context.Context, limit int) ([]store.Job, error)
}

// Config holds the server settings.
type Config struct {
	Addr      string
	UploadDir string
	// Retention is how long terminal jobs stay in memory.
	Retention     time.Duration
	SweepInterval time.Duration
	// MaxActiveJobs bounds concurrently running jobs; zero means no limit.
	MaxActiveJobs int
	Defaults      orchestration.JobParams
	Security      SecurityConfig
	Version       string

	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration
}

// DefaultConfig returns a Config listening on :8080.
func DefaultConfig() Config {
	return Config{
		Addr:              ":8080",
		UploadDir:         os.TempDir(),
		Retention:         time.Hour,
		SweepInterval:     time.Minute,
		Defaults:          orchestration.DefaultJobParams(),
		Security:          DefaultSecurityConfig(),
		ReadHeaderTimeout: 10 * time.Second,
		ShutdownTimeout:   30 * time.Second,
	}
}

// Server is the HTTP front end.
type Server struct {
	cfg     Config
	jobs    JobService
	archive Archive
	metrics *Metrics
	logger  logging.Logger
	started time.Time

	mu      sync.Mutex
	uploads map[string]string // job id -> uploaded raster path
}

// New creates a Server. archive may be nil.
func New(cfg Config, jobs JobService, archive Archive, m *Metrics, logger logging.Logger) *Server {
	if logger == nil {
		logger = logging.Nop()
	}
	if m == nil {
		m = NewMetrics()
	}
	return &Server{
		cfg:     cfg,
		jobs:    jobs,
		archive: archive,
		metrics: m,
		logger:  logger,
		started: time.Now(),
		uploads: make(map[string]string),
	}
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("POST /api/jobs", s.handleSubmit)
	mux.HandleFunc("GET /api/jobs", s.handleList)
	mux.HandleFunc("GET /api/jobs/{id}/status", s.handleStatus)
	mux.HandleFunc("GET /api/jobs/{id}/results", s.handleResults)
	mux.HandleFunc("GET /api/jobs/{id}/records", s.handleRecords)
	mux.HandleFunc("DELETE /api/jobs/{id}", s.handleDelete)
	mux.HandleFunc("/metrics", s.handleMetrics)
	return SecurityMiddleware(s.cfg.Security, s.metricsMiddleware(mux.ServeHTTP))
}

// Run serves until ctx ends, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: s.cfg.ReadHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	go s.sweep(ctx)

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server listening", logging.String("addr", ln.Addr().String()))
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.ShutdownTimeout)
	defer cancel()
	s.logger.Info("server shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// sweep evicts expired jobs and deletes their uploads until ctx ends.
func (s *Server) sweep(ctx context.Context) {
	if s.cfg.Retention <= 0 || s.cfg.SweepInterval <= 0 {
		return
	}
	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweepOnce()
		}
	}
}

func (s *Server) sweepOnce() {
	if n := s.jobs.EvictExpired(s.cfg.Retention); n > 0 {
		s.logger.Info("expired jobs evicted", logging.Int("count", n))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, path := range s.uploads {
		if _, err := s.jobs.Status(id); err == nil {
			continue
		}
		s.removeUpload(path)
		delete(s.uploads, id)
	}
}

func (s *Server) trackUpload(id, path string) {
	s.mu.Lock()
	s.uploads[id] = path
	s.mu.Unlock()
}

func (s *Server) forgetUpload(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if path, ok := s.uploads[id]; ok {
		s.removeUpload(path)
		delete(s.uploads, id)
	}
}

func (s *Server) removeUpload(path string) {
	for _, p := range []string{path, worldFileFor(path)} {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			s.logger.Error("cannot remove upload", err, logging.String("path", p))
		}
	}
}
