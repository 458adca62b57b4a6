package app

import (
	"context"
	"io"
	"time"

	"github.com/agbru/xenarch/internal/cli"
	apperrors "github.com/agbru/xenarch/internal/errors"
	"github.com/agbru/xenarch/internal/logging"
	"github.com/agbru/xenarch/internal/orchestration"
)

const shutdownTimeout = 30 * time.Second

// runAnalyze runs one job to completion in the foreground and prints its
// ranked tiles.
func (a *Application) runAnalyze(ctx context.Context, out io.Writer) int {
	logger := a.newLogger()
	params, err := a.Config.JobParams()
	if err != nil {
		return cli.HandleError(err, 0, a.ErrWriter)
	}

	db, err := a.openStore(logger.With(logging.String("sink", "sqlite")))
	if err != nil {
		return cli.HandleError(err, 0, a.ErrWriter)
	}
	if db != nil {
		defer db.Close()
	}

	orch := orchestration.New(a.Opener,
		orchestration.WithLogger(logger),
		orchestration.WithSinks(a.sinks(db, logger)...),
	)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := orch.Shutdown(shutdownCtx); err != nil {
			logger.Error("orchestrator shutdown", err)
		}
	}()

	if !a.Config.Quiet {
		cli.PrintExecutionConfig(a.Config, out)
	}

	id, err := orch.Submit(ctx, a.Config.Ref(), params)
	if err != nil {
		return cli.HandleError(err, 0, a.ErrWriter)
	}

	progressOut := out
	if a.Config.Quiet {
		progressOut = io.Discard
	}
	cli.DisplayProgress(ctx, func() (orchestration.Snapshot, error) { return orch.Status(id) }, progressOut)
	if ctx.Err() != nil {
		if err := orch.Cancel(id); err == nil {
			logger.Info("interrupted, waiting for in-flight tiles", logging.String("job_id", id))
		}
	}

	// Wait also covers the result sinks.
	snap, err := orch.Wait(context.WithoutCancel(ctx), id)
	if err != nil {
		return cli.HandleError(err, 0, a.ErrWriter)
	}
	elapsed := snap.FinishedAt.Sub(snap.CreatedAt)
	if snap.Phase == orchestration.Failed {
		return cli.HandleError(snap.Err, elapsed, a.ErrWriter)
	}

	summary, err := orch.Summary(id)
	if err != nil {
		return cli.HandleError(err, elapsed, a.ErrWriter)
	}
	outputCfg := cli.OutputConfig{
		OutputFile: a.Config.OutputFile,
		Quiet:      a.Config.Quiet,
		Verbose:    a.Config.Verbose,
	}
	if err := cli.DisplayResultWithConfig(out, cli.NewJobReport(snap, summary), outputCfg); err != nil {
		logger.Error("saving result", err, logging.String("path", a.Config.OutputFile))
		return apperrors.ExitErrorGeneric
	}
	return apperrors.ExitSuccess
}
