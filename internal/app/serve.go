package app

import (
	"context"
	"io"
	"time"

	"github.com/agbru/xenarch/internal/cli"
	apperrors "github.com/agbru/xenarch/internal/errors"
	"github.com/agbru/xenarch/internal/logging"
	"github.com/agbru/xenarch/internal/orchestration"
	"github.com/agbru/xenarch/internal/server"
)

// serverConfig maps the application settings onto the HTTP server's.
func (a *Application) serverConfig() (server.Config, error) {
	params, err := a.Config.JobParams()
	if err != nil {
		return server.Config{}, err
	}
	cfg := server.DefaultConfig()
	cfg.Addr = a.Config.Addr
	cfg.UploadDir = a.Config.UploadDir
	cfg.Retention = a.Config.Retention
	if cfg.Retention > 0 && cfg.Retention < cfg.SweepInterval {
		cfg.SweepInterval = cfg.Retention
	}
	cfg.MaxActiveJobs = a.Config.MaxJobs
	cfg.Defaults = params
	cfg.Security.AllowLocalPaths = a.Config.AllowLocalPaths
	cfg.Version = Version
	return cfg, nil
}

// runServer serves the HTTP API until ctx is canceled.
func (a *Application) runServer(ctx context.Context, _ io.Writer) int {
	logger := a.newLogger()
	cfg, err := a.serverConfig()
	if err != nil {
		return cli.HandleError(err, 0, a.ErrWriter)
	}

	db, err := a.openStore(logger.With(logging.String("sink", "sqlite")))
	if err != nil {
		return cli.HandleError(err, 0, a.ErrWriter)
	}

	m := server.NewMetrics()
	orch := orchestration.New(a.Opener,
		orchestration.WithLogger(logger),
		orchestration.WithObserver(m.Pipeline),
		orchestration.WithSinks(a.sinks(db, logger)...),
	)

	var archive server.Archive
	if db != nil {
		defer db.Close()
		archive = db
	}
	srv := server.New(cfg, orch, archive, m, logger)

	logger.Info("server starting",
		logging.String("addr", cfg.Addr),
		logging.String("version", Version),
		logging.Int("max_active_jobs", cfg.MaxActiveJobs),
	)
	start := time.Now()
	runErr := srv.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := orch.Shutdown(shutdownCtx); err != nil {
		logger.Error("orchestrator shutdown", err)
	}
	if runErr != nil {
		logger.Error("server stopped", runErr)
		return apperrors.ExitErrorGeneric
	}
	logger.Info("server stopped", logging.Duration("uptime", time.Since(start)))
	return apperrors.ExitSuccess
}
