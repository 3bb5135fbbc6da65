// Package app initializes and holds long-lived application services, acting
// as the composition root for the harvester binaries.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/fictionharvest/harvester/internal/archive"
	"github.com/fictionharvest/harvester/internal/catalog"
	"github.com/fictionharvest/harvester/internal/chapters"
	"github.com/fictionharvest/harvester/internal/checkpoint"
	"github.com/fictionharvest/harvester/internal/config"
	"github.com/fictionharvest/harvester/internal/extract"
	"github.com/fictionharvest/harvester/internal/harvest"
	"github.com/fictionharvest/harvester/internal/ops"
	"github.com/fictionharvest/harvester/internal/probe"
	"github.com/fictionharvest/harvester/internal/render"
	"github.com/fictionharvest/harvester/internal/scheduler"
	"github.com/fictionharvest/harvester/internal/store"
	"github.com/fictionharvest/harvester/internal/translate"
)

// App holds the shared, long-lived services of the harvester. It is built
// once at startup and torn down in reverse order by Close.
type App struct {
	Config      config.Config
	Logger      *zap.Logger
	Store       *store.Postgres
	Renderer    *render.Chromedp
	Prober      *probe.CollyProber
	Checkpoints *checkpoint.FileStore
	Archive     *archive.FileSystemArchive
	Board       *ops.StatusBoard
	Clock       harvest.Clock
}

// New builds every service from config, failing fast when any critical
// dependency cannot be initialized.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	st, err := store.New(ctx, store.Config{
		DSN:      cfg.DB.DSN,
		MaxConns: cfg.DB.MaxConns,
		MinConns: cfg.DB.MinConns,
	})
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}
	if err := st.EnsureSchema(ctx); err != nil {
		st.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	renderer, err := render.New(render.Config{
		UserAgent:   cfg.Renderer.UserAgent,
		MaxParallel: cfg.Renderer.MaxParallel,
		NavTimeout:  cfg.Renderer.NavTimeout(),
		SettleDelay: cfg.Renderer.SettleDelay(),
		DomainQPS:   cfg.Renderer.DomainQPS,
	}, logger.Named("render"))
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("init renderer: %w", err)
	}

	checkpoints, err := checkpoint.NewFileStore(cfg.Checkpoint.Dir, logger.Named("checkpoint"))
	if err != nil {
		_ = renderer.Close(ctx)
		st.Close()
		return nil, fmt.Errorf("init checkpoint store: %w", err)
	}

	failures, err := archive.NewFileSystemArchive(cfg.Archive.Dir, cfg.Archive.MaxBytes, logger.Named("archive"))
	if err != nil {
		_ = renderer.Close(ctx)
		st.Close()
		return nil, fmt.Errorf("init failure archive: %w", err)
	}

	return &App{
		Config:      cfg,
		Logger:      logger,
		Store:       st,
		Renderer:    renderer,
		Prober:      probe.New(probe.Config{UserAgent: cfg.Renderer.UserAgent}),
		Checkpoints: checkpoints,
		Archive:     failures,
		Board:       &ops.StatusBoard{},
		Clock:       harvest.SystemClock{},
	}, nil
}

// Phases assembles the cycle stages from the app's services.
func (a *App) Phases() scheduler.Phases {
	phases := scheduler.Phases{
		Chapters: chapters.NewDiscoverer(
			a.Renderer, a.Store, a.Clock,
			a.Config.Chapters, a.Config.Renderer,
			a.Logger.Named("chapters"),
		),
		Extract:     a.extractor(),
		Checkpoints: a.Checkpoints,
	}
	if a.Config.Catalog.Enabled {
		phases.Catalog = catalog.NewDiscoverer(
			a.Prober, a.Renderer, a.Store, a.Checkpoints, a.Clock,
			a.Config.Catalog, a.Config.Renderer,
			a.Logger.Named("catalog"),
		)
		phases.Listing = catalog.NewWalker(
			a.Renderer, a.Store, a.Clock,
			a.Config.Catalog, a.Config.Renderer,
			a.Logger.Named("listing"),
		)
	}
	if a.Config.Translator.Endpoint != "" {
		client := translate.NewClient(a.Config.Translator, a.Logger.Named("translate"))
		phases.Translate = translate.NewOrchestrator(
			a.Store, client, a.Clock,
			a.Config.Translator,
			a.Logger.Named("translate"),
		)
	}
	return phases
}

func (a *App) extractor() *extract.Extractor {
	return extract.New(
		a.Renderer, a.Store, a.Store, extract.DefaultStrategies(), a.Archive, a.Clock,
		extract.Config{
			BatchLimit:    a.Config.Extract.BatchLimit,
			MinContentLen: a.Config.Extract.MinContentLen,
			SettleDelay:   a.Config.Renderer.SettleDelay(),
			NavTimeout:    a.Config.Renderer.NavTimeout(),
		},
		a.Logger.Named("extract"),
	)
}

// Run starts the ops server and the cycle scheduler, blocking until ctx is
// canceled, then shuts both down.
func (a *App) Run(ctx context.Context) error {
	opsServer := ops.NewServer(a.Config.Ops.Port, a.Board, a.Logger.Named("ops"))

	errCh := make(chan error, 1)
	go func() {
		errCh <- opsServer.Start()
	}()

	sched := scheduler.New(a.Phases(), a.Board, a.Clock, a.Config.Harvest, a.Logger.Named("scheduler"))
	runErr := sched.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := opsServer.Shutdown(shutdownCtx); err != nil {
		a.Logger.Warn("ops server shutdown error", zap.Error(err))
	}

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			a.Logger.Warn("ops server exited with error", zap.Error(err))
		}
	default:
	}
	return runErr
}

// Close tears down the app's services.
func (a *App) Close(ctx context.Context) {
	if err := a.Renderer.Close(ctx); err != nil {
		a.Logger.Warn("renderer close error", zap.Error(err))
	}
	a.Store.Close()
}
