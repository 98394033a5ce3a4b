// -----------------------------------------------------------------------
// Last Modified: Thursday, 15th October 2026 3:05:27 pm
// Modified By: Bob McAllan
// -----------------------------------------------------------------------

package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/tempo/internal/common"
	"github.com/ternarybob/tempo/internal/dataforseo"
	"github.com/ternarybob/tempo/internal/interfaces"
	"github.com/ternarybob/tempo/internal/metrics"
	"github.com/ternarybob/tempo/internal/models"
	"github.com/ternarybob/tempo/internal/queue"
	"github.com/ternarybob/tempo/internal/services/browser"
	"github.com/ternarybob/tempo/internal/services/discovery"
	"github.com/ternarybob/tempo/internal/services/enrichment"
	"github.com/ternarybob/tempo/internal/services/geocode"
	"github.com/ternarybob/tempo/internal/services/metro"
	"github.com/ternarybob/tempo/internal/services/normalize"
	"github.com/ternarybob/tempo/internal/services/scheduler"
	"github.com/ternarybob/tempo/internal/services/venues"
	"github.com/ternarybob/tempo/internal/storage"
	"github.com/ternarybob/tempo/internal/workers"
)

// App holds all application components and dependencies
type App struct {
	Config         *common.Config
	Logger         arbor.ILogger
	StorageManager interfaces.StorageManager
	Queues         *queue.Set // nil when opened without queues
	Metrics        *metrics.Metrics

	// Services
	MetroService      *metro.Service
	VenueResolver     *venues.Resolver
	Orchestrator      *discovery.Orchestrator
	Normalizer        *normalize.Normalizer
	EnrichmentService *enrichment.Service // nil when enrichment is disabled
	SchedulerService  *scheduler.Service
}

// Option adjusts what New opens
type Option func(*options)

type options struct {
	withoutQueues bool
}

// WithoutQueues skips the queue backend. Used by commands that only touch the store.
func WithoutQueues() Option {
	return func(o *options) {
		o.withoutQueues = true
	}
}

// New initializes the application with all dependencies
func New(ctx context.Context, cfg *common.Config, logger arbor.ILogger, opts ...Option) (*App, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	app := &App{
		Config: cfg,
		Logger: logger,
	}

	if cfg.Metrics.Enabled {
		app.Metrics = metrics.New(cfg.Metrics.Namespace)
	}

	if err := app.initDatabase(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	if !o.withoutQueues {
		if err := app.initQueues(ctx); err != nil {
			app.Close()
			return nil, fmt.Errorf("failed to initialize queues: %w", err)
		}
	}

	if err := app.initServices(ctx); err != nil {
		app.Close()
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	logger.Info().
		Str("storage", cfg.Storage.Type).
		Bool("queues", app.Queues != nil).
		Bool("enrichment_enabled", app.EnrichmentService != nil).
		Bool("metrics_enabled", app.Metrics != nil).
		Msg("Application initialization complete")

	return app, nil
}

// initDatabase initializes the storage layer (Postgres or Badger)
func (a *App) initDatabase(ctx context.Context) error {
	storageManager, err := storage.NewStorageManager(ctx, a.Logger, a.Config)
	if err != nil {
		return fmt.Errorf("failed to create storage manager: %w", err)
	}

	a.StorageManager = storageManager
	a.Logger.Debug().
		Str("storage", a.Config.Storage.Type).
		Msg("Storage layer initialized")

	return nil
}

// initQueues opens the URL and blob queues on the configured backend
func (a *App) initQueues(ctx context.Context) error {
	set, err := queue.NewSet(ctx, a.Logger, &a.Config.Queue)
	if err != nil {
		return err
	}
	a.Queues = set
	return nil
}

// initServices initializes all business services in dependency order:
// metros -> venue resolver -> orchestrator -> normalizer -> enrichment -> scheduler
func (a *App) initServices(ctx context.Context) error {
	a.MetroService = metro.NewService(a.StorageManager.MetroStorage(), a.Logger)

	// Venue resolver: cache + quota in front of the external geocoder
	geoCfg := &a.Config.Geocoding
	geocoder := geocode.NewClient(
		geoCfg.APIKey,
		geocode.WithBaseURL(geoCfg.BaseURL),
		geocode.WithInterval(common.MustDuration(geoCfg.RateLimit, geocode.DefaultInterval)),
		geocode.WithHTTPClient(&http.Client{Timeout: common.MustDuration(geoCfg.RequestTimeout, geocode.DefaultTimeout)}),
		geocode.WithLogger(a.Logger),
	)
	a.VenueResolver = venues.NewResolver(geocoder, a.StorageManager.VenueCacheStorage(), geoCfg, a.Metrics, a.Logger)

	// The normalizer only geocodes when a key is configured
	var resolver interfaces.VenueResolver
	if geoCfg.APIKey != "" {
		resolver = a.VenueResolver
	} else {
		a.Logger.Warn().Msg("Geocoding API key not configured - records without coordinates will have no geometry")
	}

	// Search-task orchestrator
	discoveryCfg := &a.Config.Discovery
	if discoveryCfg.Login == "" || discoveryCfg.Password == "" {
		a.Logger.Warn().Msg("Search API credentials not configured - discovery commands will fail")
	}
	client := dataforseo.NewClient(
		discoveryCfg.Login,
		discoveryCfg.Password,
		dataforseo.WithBaseURL(discoveryCfg.BaseURL),
		dataforseo.WithRateLimit(discoveryCfg.RateLimit),
		dataforseo.WithHTTPClient(&http.Client{Timeout: common.MustDuration(discoveryCfg.RequestTimeout, dataforseo.DefaultTimeout)}),
		dataforseo.WithLogger(a.Logger),
	)
	var urls interfaces.PackageQueue
	if a.Queues != nil {
		urls = a.Queues.URLs
	}
	a.Orchestrator = discovery.NewOrchestrator(client, a.StorageManager.EventStorage(), urls, discoveryCfg, a.Metrics, a.Logger)

	a.Normalizer = normalize.NewNormalizer(
		a.StorageManager.EventStorage(),
		resolver,
		a.MetroService,
		&a.Config.Normalize,
		a.Metrics,
		a.Logger,
	)

	if a.Config.Enrichment.Enabled {
		provider, err := enrichment.NewProvider(ctx, &a.Config.Enrichment, a.Logger)
		if err != nil {
			return fmt.Errorf("failed to create enrichment provider: %w", err)
		}
		a.EnrichmentService = enrichment.NewService(a.StorageManager.EventStorage(), provider, &a.Config.Enrichment, a.Metrics, a.Logger)
		a.Logger.Info().Str("provider", provider.Name()).Msg("Enrichment service initialized")
	}

	a.SchedulerService = scheduler.NewService(a.Logger)

	return nil
}

// Discover runs one full discovery pass over every searchable metro and the configured terms
func (a *App) Discover(ctx context.Context) (*models.DiscoveryStats, error) {
	metros, err := a.MetroService.Searchable(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list searchable metros: %w", err)
	}
	if len(metros) == 0 {
		return nil, fmt.Errorf("no searchable metros - run seed-metros first")
	}
	return a.Orchestrator.Run(ctx, metros, a.Config.Discovery.Terms)
}

// RegisterJobs wires the periodic jobs into the scheduler. Empty schedules are skipped.
func (a *App) RegisterJobs() error {
	sched := a.Config.Scheduler

	if err := a.SchedulerService.RegisterJob("discovery", sched.Discovery, func(ctx context.Context) error {
		_, err := a.Discover(ctx)
		return err
	}); err != nil {
		return err
	}

	if err := a.SchedulerService.RegisterJob("recovery", sched.Recovery, func(ctx context.Context) error {
		_, err := a.Orchestrator.RecoverRecent(ctx)
		return err
	}); err != nil {
		return err
	}

	if a.EnrichmentService != nil {
		if err := a.SchedulerService.RegisterJob("enrich", sched.Enrich, func(ctx context.Context) error {
			_, err := a.EnrichmentService.Backfill(ctx, 0)
			return err
		}); err != nil {
			return err
		}
	}

	if err := a.SchedulerService.RegisterJob("requeue", sched.Requeue, func(ctx context.Context) error {
		_, err := a.Normalizer.RequeueErrors(ctx, models.StatusError)
		return err
	}); err != nil {
		return err
	}

	return nil
}

// FetchWorker launches the browser and builds the fetch worker. The returned func closes the browser.
func (a *App) FetchWorker() (*workers.FetchWorker, func() error, error) {
	if a.Queues == nil {
		return nil, nil, fmt.Errorf("queues not initialized")
	}
	fetcher, err := browser.NewFetcher(&a.Config.Fetch, a.Logger)
	if err != nil {
		return nil, nil, err
	}
	return workers.NewFetchWorker(a.Queues.URLs, a.Queues.Blobs, fetcher, a.Metrics, a.Logger), fetcher.Close, nil
}

// ParseWorker builds the admission worker over the blob queue
func (a *App) ParseWorker() (*workers.ParseWorker, error) {
	if a.Queues == nil {
		return nil, fmt.Errorf("queues not initialized")
	}
	return workers.NewParseWorker(a.Queues.Blobs, a.StorageManager.EventStorage(), &a.Config.Parse, a.Metrics, a.Logger), nil
}

// NormalizeStep processes one batch of awaiting raw records per call
func (a *App) NormalizeStep() workers.Step {
	return workers.NormalizeStep(a.Normalizer, a.Config.Normalize.BatchSize)
}

// EnrichStep processes one batch of pending clean records per call
func (a *App) EnrichStep() (workers.Step, error) {
	if a.EnrichmentService == nil {
		return nil, fmt.Errorf("enrichment is disabled (set enrichment.enabled = true)")
	}
	return workers.EnrichStep(a.EnrichmentService, a.Config.Enrichment.BatchSize), nil
}

// QueueIdleSleep is the pause of the queue-fed workers when their queue is empty
func (a *App) QueueIdleSleep() time.Duration {
	return common.MustDuration(a.Config.Queue.IdleSleep, 100*time.Millisecond)
}

// BatchIdleSleep is the pause of the store-fed workers when a batch comes back empty
func (a *App) BatchIdleSleep() time.Duration {
	return common.MustDuration(a.Config.Normalize.IdleSleep, 5*time.Second)
}

// Close closes all application resources
func (a *App) Close() error {
	if a.SchedulerService != nil {
		a.SchedulerService.Stop()
	}

	if a.Queues != nil {
		if err := a.Queues.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close queues")
		}
	}

	if a.StorageManager != nil {
		if err := a.StorageManager.Close(); err != nil {
			return fmt.Errorf("failed to close storage: %w", err)
		}
		a.Logger.Info().Msg("Storage closed")
	}

	return nil
}
