// Package server provides the core application server and dependency injection.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/scholar-ingest/internal/api"
	"github.com/JakeFAU/scholar-ingest/internal/articles"
	"github.com/JakeFAU/scholar-ingest/internal/bibliographic"
	"github.com/JakeFAU/scholar-ingest/internal/clock/system"
	"github.com/JakeFAU/scholar-ingest/internal/config"
	"github.com/JakeFAU/scholar-ingest/internal/consumer"
	"github.com/JakeFAU/scholar-ingest/internal/crawler"
	"github.com/JakeFAU/scholar-ingest/internal/dedup"
	"github.com/JakeFAU/scholar-ingest/internal/dispatcher"
	"github.com/JakeFAU/scholar-ingest/internal/id/uuid"
	"github.com/JakeFAU/scholar-ingest/internal/logging"
	"github.com/JakeFAU/scholar-ingest/internal/metrics"
	"github.com/JakeFAU/scholar-ingest/internal/policy/ratelimit"
	queueMemory "github.com/JakeFAU/scholar-ingest/internal/queue/memory"
	queuePubsub "github.com/JakeFAU/scholar-ingest/internal/queue/pubsub"
	"github.com/JakeFAU/scholar-ingest/internal/review"
	"github.com/JakeFAU/scholar-ingest/internal/scheduler"
	"github.com/JakeFAU/scholar-ingest/internal/scholar"
	gcsstorage "github.com/JakeFAU/scholar-ingest/internal/storage/gcs"
	localstorage "github.com/JakeFAU/scholar-ingest/internal/storage/local"
	memoryStorage "github.com/JakeFAU/scholar-ingest/internal/storage/memory"
	pgstore "github.com/JakeFAU/scholar-ingest/internal/storage/postgres"
)

// stores groups the persistence collaborators so memory and Postgres can be swapped.
type stores struct {
	jobs       crawler.JobStore
	articles   crawler.ArticleStore
	authors    crawler.AuthorStore
	candidates crawler.CandidateStore
	config     crawler.ConfigStore
}

// App contains the application's dependencies.
type App struct {
	cfg     *config.Config
	logger  *zap.Logger
	clock   crawler.Clock
	ids     crawler.IDGenerator
	stores  stores
	pg      *pgstore.Store
	broker  crawler.Broker
	archive crawler.BlobStore
	gcs     *storage.Client
	browser *scholar.Browser

	dispatch *dispatcher.Dispatcher
	review   *review.Service
}

// Build creates the application's dependencies.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	logger, err := logging.New(logging.Config{
		Development: cfg.Logging.Development,
		Level:       cfg.Logging.Level,
	})
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)
	metrics.Init()

	app := &App{
		cfg:    cfg,
		logger: logger,
		clock:  system.New(),
		ids:    uuid.New(),
	}
	logger.Info("building application dependencies",
		zap.Int("server_port", cfg.Server.Port),
		zap.String("broker", cfg.Broker.Backend),
		zap.String("storage", cfg.Storage.Backend),
		zap.Bool("postgres", cfg.Database.DSN != ""),
	)

	if err := app.setupDatabase(ctx); err != nil {
		app.Close()
		return nil, err
	}
	if err := app.seedSystemConfig(ctx); err != nil {
		app.Close()
		return nil, err
	}
	if err := app.setupStorage(ctx); err != nil {
		app.Close()
		return nil, err
	}
	if err := app.setupBroker(ctx); err != nil {
		app.Close()
		return nil, err
	}

	app.dispatch = dispatcher.New(
		app.stores.jobs,
		app.stores.authors,
		app.broker,
		app.ids,
		app.clock,
		dispatcher.Config{Queue: cfg.Broker.Queue, PublishTimeout: cfg.PublishTimeout()},
		logger,
	)
	app.review = review.NewService(app.stores.candidates, app.stores.articles, app.stores.authors, logger)
	return app, nil
}

func (a *App) setupDatabase(ctx context.Context) error {
	if a.cfg.Database.DSN == "" {
		a.logger.Warn("no database DSN configured, using in-memory stores")
		a.stores = stores{
			jobs:       memoryStorage.NewJobStore(),
			articles:   memoryStorage.NewArticleStore(),
			authors:    memoryStorage.NewAuthorStore(),
			candidates: memoryStorage.NewCandidateStore(),
			config:     memoryStorage.NewConfigStore(),
		}
		return nil
	}
	pg, err := pgstore.New(ctx, pgstore.Config{
		DSN:             a.cfg.Database.DSN,
		MaxConns:        a.cfg.Database.MaxConns,
		MinConns:        a.cfg.Database.MinConns,
		MaxConnLifetime: time.Duration(a.cfg.Database.MaxConnLifetimeMinutes) * time.Minute,
	})
	if err != nil {
		return fmt.Errorf("postgres init failed: %w", err)
	}
	a.pg = pg
	if a.cfg.Database.AutoMigrate {
		if err := pg.Migrate(ctx); err != nil {
			return fmt.Errorf("postgres migrate failed: %w", err)
		}
		a.logger.Info("postgres schema applied")
	}
	a.stores = stores{jobs: pg, articles: pg, authors: pg, candidates: pg, config: pg}
	a.logger.Info("postgres stores initialized")
	return nil
}

func (a *App) seedSystemConfig(ctx context.Context) error {
	defaults := crawler.SystemConfig{
		MatchingThreshold:    a.cfg.Similarity.MatchingThreshold,
		NotMatchingThreshold: a.cfg.Similarity.NotMatchingThreshold,
		DefaultQuery:         a.cfg.Similarity.DefaultQuery,
		UpdatedAt:            a.clock.Now(),
	}
	stored, err := a.stores.config.EnsureSystemConfig(ctx, defaults)
	if err != nil {
		return fmt.Errorf("seed system config: %w", err)
	}
	a.logger.Info("system config loaded",
		zap.Float64("matching_threshold", stored.MatchingThreshold),
		zap.Float64("not_matching_threshold", stored.NotMatchingThreshold),
	)
	return nil
}

func (a *App) setupStorage(ctx context.Context) error {
	var err error
	switch a.cfg.Storage.Backend {
	case "gcs":
		a.gcs, err = storage.NewClient(ctx)
		if err != nil {
			return fmt.Errorf("gcs client init failed: %w", err)
		}
		a.archive, err = gcsstorage.New(a.gcs, gcsstorage.Config{Bucket: a.cfg.Storage.Bucket})
		if err != nil {
			return fmt.Errorf("gcs blob store init failed: %w", err)
		}
		a.logger.Info("using GCS archive", zap.String("bucket", a.cfg.Storage.Bucket))
	case "local":
		a.archive, err = localstorage.New(a.cfg.Storage.Local)
		if err != nil {
			return fmt.Errorf("local blob store init failed: %w", err)
		}
		a.logger.Info("using local archive", zap.String("path", a.cfg.Storage.Local.BaseDir))
	case "memory":
		a.archive = memoryStorage.NewBlobStore()
		a.logger.Info("using in-memory archive")
	default:
		a.logger.Info("raw payload archive disabled")
	}
	return nil
}

func (a *App) setupBroker(ctx context.Context) error {
	if a.cfg.Broker.Backend != "pubsub" {
		a.logger.Warn("using in-memory broker; jobs do not survive restarts")
		a.broker = queueMemory.NewBroker(a.cfg.Broker.MemoryCapacity, a.logger.Named("broker"))
		return nil
	}
	b, err := queuePubsub.New(queuePubsub.Config{
		ProjectID:          a.cfg.Broker.ProjectID,
		SubscriptionSuffix: a.cfg.Broker.SubscriptionSuffix,
		ReconnectDelay:     a.cfg.ReconnectDelay(),
		MaxOutstanding:     1,
		CreateMissing:      a.cfg.Broker.CreateMissing,
	}, a.logger.Named("broker"))
	if err != nil {
		return fmt.Errorf("pubsub broker init failed: %w", err)
	}
	a.broker = b
	if err := b.Connect(ctx, a.cfg.Broker.Queue, a.cfg.Broker.DeadLetterQueue); err != nil {
		return fmt.Errorf("pubsub connect failed: %w", err)
	}
	a.logger.Info("pubsub broker connected",
		zap.String("project", a.cfg.Broker.ProjectID),
		zap.String("queue", a.cfg.Broker.Queue),
	)
	return nil
}

// Consumer builds the job consumer with its scraping and API clients.
func (a *App) Consumer() (*consumer.Consumer, error) {
	cfg := a.cfg
	svc := articles.NewService(a.stores.articles, a.stores.authors, a.ids, a.clock, a.logger)

	browser, err := scholar.NewBrowser(scholar.BrowserConfig{
		MaxParallel:       cfg.Scholar.MaxParallel,
		UserAgent:         cfg.Scholar.UserAgent,
		NavigationTimeout: time.Duration(cfg.Scholar.NavTimeoutSeconds) * time.Second,
		MaxPagination:     cfg.Scholar.MaxPagination,
		ClickWait:         time.Duration(cfg.Scholar.ClickWaitMillis) * time.Millisecond,
	})
	if err != nil {
		return nil, fmt.Errorf("browser init failed: %w", err)
	}
	a.browser = browser

	var details scholar.DetailFetcher = browser
	if cfg.Scholar.DetailFetcher == "colly" {
		details = scholar.NewCollyFetcher(scholar.CollyConfig{
			UserAgent: cfg.Scholar.UserAgent,
			Timeout:   time.Duration(cfg.Scholar.RequestTimeoutSeconds) * time.Second,
		})
	}
	limiter := ratelimit.New(ratelimit.Config{
		Interval: time.Duration(cfg.Scholar.DetailDelayMillis) * time.Millisecond,
		Burst:    1,
	})
	a.logger.Info("scholar scraper configured",
		zap.String("detail_fetcher", cfg.Scholar.DetailFetcher),
		zap.Int("max_pagination", cfg.Scholar.MaxPagination),
	)

	deps := consumer.Deps{
		Jobs:     a.stores.jobs,
		Authors:  a.stores.authors,
		Config:   a.stores.config,
		Articles: svc,
		Scraper:  scholar.NewScraper(browser, details, limiter, a.logger),
		Archive:  a.archive,
		Broker:   a.broker,
		Clock:    a.clock,
	}
	if cfg.Bibliographic.APIKey != "" {
		client, err := bibliographic.New(bibliographic.Config{
			BaseURL:        cfg.Bibliographic.BaseURL,
			APIKey:         cfg.Bibliographic.APIKey,
			Country:        cfg.Bibliographic.Country,
			PageSize:       cfg.Bibliographic.PageSize,
			MaxResults:     cfg.Bibliographic.MaxResults,
			PageDelay:      cfg.PageDelay(),
			RequestTimeout: time.Duration(cfg.Bibliographic.RequestTimeoutSeconds) * time.Second,
		}, a.logger)
		if err != nil {
			return nil, fmt.Errorf("bibliographic client init failed: %w", err)
		}
		deps.Fetcher = client
		deps.Detector = dedup.NewDetector(a.stores.articles, a.stores.candidates, a.stores.config, nil, a.ids, a.clock, a.logger)
	} else {
		a.logger.Warn("bibliographic.api_key not set; bibliographic jobs will fail")
	}

	return consumer.New(deps, consumer.Config{
		Queue:           cfg.Broker.Queue,
		DeadLetterQueue: cfg.Broker.DeadLetterQueue,
		Concurrency:     cfg.Consumer.Concurrency,
		MaxAttempts:     cfg.Consumer.MaxAttempts,
		JobTimeout:      cfg.JobTimeout(),
		FailFastDetails: cfg.Consumer.FailFastDetails,
		ArchivePrefix:   cfg.Consumer.ArchivePrefix,
	}, a.logger), nil
}

// Scheduler builds the recrawl scheduler.
func (a *App) Scheduler() *scheduler.Scheduler {
	return scheduler.New(a.stores.authors, a.dispatch, a.clock, scheduler.Config{
		Interval:   a.cfg.SchedulerInterval(),
		RunOnStart: a.cfg.Scheduler.RunOnStart,
	}, a.logger)
}

// APIServer builds the HTTP handler tree.
func (a *App) APIServer() *api.Server {
	deps := api.Deps{
		Jobs:       a.stores.jobs,
		Dispatcher: a.dispatch,
		Review:     a.review,
		Config:     a.stores.config,
		Clock:      a.clock,
	}
	if a.pg != nil {
		deps.Ready = a.pg.Ping
	}
	return api.NewServer(deps, *a.cfg, a.logger)
}

// Serve runs the HTTP API plus, when enabled, the consumer and scheduler in
// this process. It blocks until SIGINT/SIGTERM or ctx ends.
func (a *App) Serve(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	if a.cfg.Consumer.Enabled {
		c, err := a.Consumer()
		if err != nil {
			return err
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := c.Run(ctx); err != nil {
				a.logger.Error("consumer stopped", zap.Error(err))
				stop()
			}
		}()
	}
	if a.cfg.Scheduler.Enabled {
		s := a.Scheduler()
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.Run(ctx)
		}()
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.APIServer().Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	wg.Wait()
	return nil
}

// Consume runs only the consumer until SIGINT/SIGTERM or ctx ends.
func (a *App) Consume(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	c, err := a.Consumer()
	if err != nil {
		return err
	}
	return c.Run(ctx)
}

// Schedule runs the scheduler loop, or a single pass when once is set.
func (a *App) Schedule(ctx context.Context, once bool) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	s := a.Scheduler()
	if once {
		_, err := s.RunOnce(ctx)
		return err
	}
	return s.Run(ctx)
}

// Migrate applies the Postgres schema.
func (a *App) Migrate(ctx context.Context) error {
	if a.pg == nil {
		return errors.New("database.dsn is required to migrate")
	}
	return a.pg.Migrate(ctx)
}

// Close releases every client the App opened.
func (a *App) Close() {
	if a.browser != nil {
		a.browser.Close()
	}
	if a.broker != nil {
		if err := a.broker.Close(); err != nil {
			a.logger.Warn("broker close failed", zap.Error(err))
		}
	}
	if a.gcs != nil {
		if err := a.gcs.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.pg != nil {
		a.pg.Close()
	}
	_ = a.logger.Sync()
}
