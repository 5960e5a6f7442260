package app

import (
	"fmt"

	"github.com/ternarybob/arbor"

	"github.com/shelfwatch/shelfwatch/internal/common"
	"github.com/shelfwatch/shelfwatch/internal/detection"
	"github.com/shelfwatch/shelfwatch/internal/fetcher"
	"github.com/shelfwatch/shelfwatch/internal/handlers"
	"github.com/shelfwatch/shelfwatch/internal/interfaces"
	"github.com/shelfwatch/shelfwatch/internal/pool"
	"github.com/shelfwatch/shelfwatch/internal/scheduler"
	"github.com/shelfwatch/shelfwatch/internal/solutions"
	storage "github.com/shelfwatch/shelfwatch/internal/storage/badger"
)

// App holds all application components and dependencies
type App struct {
	Config *common.Config
	Logger arbor.ILogger

	// Storage
	DB             *storage.BadgerDB
	DetectionStore interfaces.DetectionStore

	// Core services
	Classifier       interfaces.Classifier
	Executor         *fetcher.Executor
	WorkerPool       interfaces.WorkerPool
	SuggestionEngine *solutions.Engine
	Scheduler        interfaces.MonitorService

	// HTTP handlers
	APIHandler       *handlers.APIHandler
	MonitorHandler   *handlers.MonitorHandler
	DetectionHandler *handlers.DetectionHandler
	SolutionHandler  *handlers.SolutionHandler
}

// New wires the application together. Construction order matters: storage
// first, then the classifier and fetch layer, then the pool, and the
// scheduler last since it drives everything else.
func New(config *common.Config, logger arbor.ILogger) (*App, error) {
	a := &App{
		Config: config,
		Logger: logger,
	}

	db, err := storage.NewBadgerDB(logger, &config.Storage.Badger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	a.DB = db
	a.DetectionStore = storage.NewDetectionStorage(db, logger)

	a.Classifier = detection.NewService(a.DetectionStore)

	rotator := fetcher.NewRotator(config.Fetcher.UserAgentRotation)
	limiter := fetcher.NewHostLimiter(config.Fetcher.PerHostRPS)
	a.Executor = fetcher.NewExecutor(config, rotator, limiter, a.Classifier)

	a.SuggestionEngine = solutions.NewEngine(&config.Solutions, a.Executor, a.DetectionStore)

	a.WorkerPool = pool.NewPool(&config.Pool, a.Executor)

	sched, err := scheduler.NewService(&config.Monitor, a.WorkerPool, a.SuggestionEngine)
	if err != nil {
		a.WorkerPool.Destroy()
		db.Close()
		return nil, fmt.Errorf("failed to initialize scheduler: %w", err)
	}
	a.Scheduler = sched
	a.SuggestionEngine.SetBackoffEscalator(sched.EscalateBackoff)

	a.APIHandler = handlers.NewAPIHandler(a.WorkerPool)
	a.MonitorHandler = handlers.NewMonitorHandler(a.Scheduler)
	a.DetectionHandler = handlers.NewDetectionHandler(a.Classifier, a.DetectionStore, a.SuggestionEngine)
	a.SolutionHandler = handlers.NewSolutionHandler(a.SuggestionEngine, a.DetectionStore)

	logger.Info().
		Int("pool_size", a.WorkerPool.Stats().PoolSize).
		Msg("Application initialized")

	return a, nil
}

// Close shuts components down in reverse dependency order.
func (a *App) Close() {
	if a.Scheduler != nil {
		a.Scheduler.Stop()
	}
	if a.WorkerPool != nil {
		a.WorkerPool.Destroy()
	}
	if a.DetectionStore != nil {
		if err := a.DetectionStore.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close detection store")
		}
	}

	a.Logger.Info().Msg("Application closed")
}
