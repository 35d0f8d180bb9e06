package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"SelectionBuilder/internal/config"
	"SelectionBuilder/internal/httpapi"
	"SelectionBuilder/internal/infrastructure/models"
	"SelectionBuilder/internal/infrastructure/objectstore"
	"SelectionBuilder/internal/infrastructure/queue"
	"SelectionBuilder/internal/infrastructure/scheduler"
	"SelectionBuilder/internal/infrastructure/storage"
	"SelectionBuilder/internal/infrastructure/telegram"
	"SelectionBuilder/internal/infrastructure/zimfarm"
	"SelectionBuilder/internal/logging"
	"SelectionBuilder/internal/model"
	"SelectionBuilder/internal/ports"
	"SelectionBuilder/internal/usecase"
	"SelectionBuilder/internal/worker"
	"SelectionBuilder/internal/zimtask"
)

// Application wires configs to use cases and lifecycle orchestration.
type Application struct {
	cfg    config.Config
	logger *slog.Logger

	db    *storage.DB
	jobs  *queue.Store
	files *objectstore.Filesystem

	Builders    *usecase.BuilderService
	Packaging   *usecase.PackagingService
	Materialize *usecase.MaterializeService
}

// New opens the database and builds every component.
func New(ctx context.Context, cfg config.Config, baseLogger *slog.Logger) (*Application, error) {
	if baseLogger == nil {
		baseLogger = logging.New(cfg.Logging.Level, cfg.Logging.Format)
	}

	db, err := storage.Open(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}

	files, err := objectstore.NewFilesystem(cfg.Storage)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	httpClient := &http.Client{Timeout: 60 * time.Second}
	registry := model.NewRegistry(
		models.NewSimple(),
		models.NewPopularArticles(cfg.Models.PageviewsURL, httpClient),
		models.NewPetScan(httpClient, cfg.Models.PetScanHosts),
	)

	repo := storage.NewRepository(db)
	jobs := queue.New(db)

	var notifier ports.Notifier
	if n := telegram.NewNotifier(cfg.Notifications.Telegram); n != nil {
		notifier = n
	}

	policy := zimtask.Policy{
		MaxPollAttempts: cfg.ZimFarm.PollMaxAttempts,
		BaseDelay:       cfg.ZimFarm.PollBaseDelay,
		MaxDelay:        cfg.ZimFarm.PollMaxDelay,
	}

	return &Application{
		cfg:    cfg,
		logger: baseLogger,
		db:     db,
		jobs:   jobs,
		files:  files,
		Builders: usecase.NewBuilderService(usecase.BuilderDeps{
			Builders:   repo,
			Selections: repo,
			Queue:      jobs,
			Store:      files,
			Models:     registry,
			Logger:     baseLogger.With("component", "builders"),
		}),
		Packaging: usecase.NewPackagingService(usecase.PackagingDeps{
			Builders:   repo,
			Selections: repo,
			Tasks:      repo,
			Queue:      jobs,
			Farm:       zimfarm.NewClient(cfg.ZimFarm, baseLogger.With("component", "zimfarm")),
			Store:      files,
			Notifier:   notifier,
			Policy:     policy,
			Logger:     baseLogger.With("component", "packaging"),
		}),
		Materialize: usecase.NewMaterializeService(usecase.MaterializeDeps{
			Builders:   repo,
			Selections: repo,
			Store:      files,
			Models:     registry,
			Logger:     baseLogger.With("component", "materialize"),
		}),
	}, nil
}

// Close releases the database.
func (a *Application) Close() error {
	return a.db.Close()
}

// Handler returns the HTTP API.
func (a *Application) Handler() *httpapi.Server {
	return httpapi.New(httpapi.Deps{
		Builders:  a.Builders,
		Packaging: a.Packaging,
		Files:     http.FileServer(http.Dir(a.files.Root())),
		Server:    a.cfg.Server,
		HookToken: a.cfg.ZimFarm.HookToken,
		Logger:    a.logger.With("component", "api"),
	})
}

// Worker builds a queue consumer.
func (a *Application) Worker() (*worker.Worker, error) {
	return worker.New(worker.Deps{
		Jobs:         a.jobs,
		Materializer: a.Materialize,
		Poller:       a.Packaging,
		Driver:       scheduler.NewTicker(a.cfg.Worker.PollInterval),
		Config:       a.cfg.Worker,
		Logger:       a.logger.With("component", "worker"),
	})
}

// Serve runs the HTTP API, and optionally a worker, until ctx is cancelled
// or one of them fails.
func (a *Application) Serve(ctx context.Context, withWorker bool) error {
	var w *worker.Worker
	if withWorker {
		var err error
		if w, err = a.Worker(); err != nil {
			return fmt.Errorf("build worker: %w", err)
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errs := make(chan error, 2)
	running := 1
	go func() { errs <- a.Handler().ListenAndServe(ctx, a.cfg.Server.Bind) }()
	if w != nil {
		running++
		go func() { errs <- w.Run(ctx) }()
	}

	var first error
	for i := 0; i < running; i++ {
		if err := <-errs; err != nil && first == nil {
			first = err
		}
		cancel()
	}
	return first
}

// RunWorker drains the queue until ctx is cancelled.
func (a *Application) RunWorker(ctx context.Context) error {
	w, err := a.Worker()
	if err != nil {
		return fmt.Errorf("build worker: %w", err)
	}
	return w.Run(ctx)
}

// JobStats tallies the queue.
func (a *Application) JobStats(ctx context.Context) ([]queue.Count, error) {
	return a.jobs.Stats(ctx)
}
