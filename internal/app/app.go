package app

import (
	"context"
	"errors"
	"flag"
	"io"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/agbru/xenarch/internal/artifact"
	"github.com/agbru/xenarch/internal/config"
	"github.com/agbru/xenarch/internal/logging"
	"github.com/agbru/xenarch/internal/orchestration"
	"github.com/agbru/xenarch/internal/raster"
	"github.com/agbru/xenarch/internal/store"
	"github.com/agbru/xenarch/internal/ui"
)

// Application represents the xenarch application instance.
type Application struct {
	Config    config.AppConfig
	ErrWriter io.Writer
	// Opener resolves raster references; nil selects the file/synthetic
	// dispatcher built from Config.
	Opener raster.Opener
}

// AppOption configures an Application during construction.
type AppOption func(*Application)

// WithOpener sets a custom raster opener for the application.
func WithOpener(o raster.Opener) AppOption {
	return func(a *Application) { a.Opener = o }
}

// New creates a new Application instance by parsing command-line arguments.
// args[0] is the program name.
func New(args []string, errWriter io.Writer, opts ...AppOption) (*Application, error) {
	app := &Application{ErrWriter: errWriter}
	for _, opt := range opts {
		opt(app)
	}

	programName := "xenarch"
	var cmdArgs []string
	if len(args) > 0 {
		programName = args[0]
		cmdArgs = args[1:]
	}

	cfg, err := config.ParseConfig(programName, cmdArgs, errWriter)
	if err != nil {
		return nil, err
	}
	app.Config = cfg
	if app.Opener == nil {
		app.Opener = raster.Dispatch{
			File:      cfg.FileOpener(),
			Synthetic: raster.SyntheticOpener{Seed: cfg.Seed},
		}
	}
	return app, nil
}

// Run executes the application based on the configured mode and returns
// the process exit code.
func (a *Application) Run(ctx context.Context, out io.Writer) int {
	ui.InitTheme(a.Config.NoColor)
	switch {
	case a.Config.Verbose:
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case a.Config.Quiet:
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	ctx, stopSignals := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stopSignals()

	if a.Config.Serve {
		return a.runServer(ctx, out)
	}
	return a.runAnalyze(ctx, out)
}

func (a *Application) newLogger() *logging.ZerologAdapter {
	if a.Config.LogFormat == config.LogFormatJSON {
		return logging.NewLogger(a.ErrWriter, "xenarch")
	}
	noColor := ui.GetCurrentTheme().Name == ui.NoColorTheme.Name
	return logging.NewConsoleLogger(a.ErrWriter, "xenarch", noColor)
}

// openStore opens the job database when --db is set. The returned store is
// nil otherwise.
func (a *Application) openStore(logger logging.Logger) (*store.Store, error) {
	if a.Config.DB == "" {
		return nil, nil
	}
	return store.Open(a.Config.DB, logger)
}

// sinks returns the result sinks selected by the configuration.
func (a *Application) sinks(db *store.Store, logger logging.Logger) []orchestration.ResultSink {
	var sinks []orchestration.ResultSink
	if db != nil {
		sinks = append(sinks, db)
	}
	if a.Config.Artifacts != "" {
		sinks = append(sinks, artifact.NewWriter(a.Config.Artifacts, logger))
	}
	return sinks
}

// IsHelpError checks if the error is a help flag error (--help was used).
func IsHelpError(err error) bool {
	return errors.Is(err, flag.ErrHelp)
}
