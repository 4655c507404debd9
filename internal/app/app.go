// Package app initializes and holds long-lived application services, acting as a dependency injection container.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"cloud.google.com/go/storage"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/press-digest/internal/api"
	"github.com/JakeFAU/press-digest/internal/archive/gcs"
	"github.com/JakeFAU/press-digest/internal/archive/local"
	memoryarchive "github.com/JakeFAU/press-digest/internal/archive/memory"
	"github.com/JakeFAU/press-digest/internal/clock/system"
	"github.com/JakeFAU/press-digest/internal/config"
	"github.com/JakeFAU/press-digest/internal/digest"
	"github.com/JakeFAU/press-digest/internal/extract"
	collyfetcher "github.com/JakeFAU/press-digest/internal/fetcher/colly"
	"github.com/JakeFAU/press-digest/internal/fetcher/headless"
	"github.com/JakeFAU/press-digest/internal/hash/sha256"
	"github.com/JakeFAU/press-digest/internal/pipeline"
	"github.com/JakeFAU/press-digest/internal/policy/ratelimit"
	"github.com/JakeFAU/press-digest/internal/progress"
	progresssinks "github.com/JakeFAU/press-digest/internal/progress/sinks"
	"github.com/JakeFAU/press-digest/internal/publisher/pubsub"
	"github.com/JakeFAU/press-digest/internal/runner"
	"github.com/JakeFAU/press-digest/internal/storage/memory"
	"github.com/JakeFAU/press-digest/internal/storage/postgres"
	"github.com/JakeFAU/press-digest/internal/storage/sqlite"
	"github.com/JakeFAU/press-digest/internal/store"
	"github.com/JakeFAU/press-digest/internal/summarizer/ollama"
)

const shutdownTimeout = 10 * time.Second

// Store is the full content store surface used by the pipeline and the API.
type Store interface {
	digest.ContentStore
	digest.ReadStore
}

// Option customizes Build.
type Option func(*options)

type options struct {
	registerer prometheus.Registerer
	httpClient *http.Client
}

// WithRegisterer registers progress collectors against reg instead of the
// default Prometheus registry.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

// WithHTTPClient sets the client used to reach the summarization backend.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.httpClient = c }
}

// App holds all the shared, long-lived services for the application.
// It is built once at startup and closed once on shutdown.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	content   Store
	runs      store.RunRepository
	archive   digest.Archive
	publisher *pubsub.Publisher
	renderer  *headless.Renderer
	hub       *progress.Hub
	runner    *runner.Runner
	apiServer *api.Server

	pool      *pgxpool.Pool
	sqlite    *sqlite.Store
	gcsClient *storage.Client

	baseCtx    context.Context
	cancelBase context.CancelFunc
}

// Logger returns the application logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Content returns the configured content store.
func (a *App) Content() Store {
	return a.content
}

// Runs returns the run history repository.
func (a *App) Runs() store.RunRepository {
	return a.runs
}

// Runner returns the pipeline runner.
func (a *App) Runner() *runner.Runner {
	return a.runner
}

// Handler returns the HTTP handler for the read API.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Run executes one pipeline run in the foreground.
func (a *App) Run(ctx context.Context, trigger string, mode runner.Mode) (runner.RunResult, error) {
	return a.runner.Run(ctx, trigger, mode)
}

// Stats ensures the schema exists and returns the content store statistics.
func (a *App) Stats(ctx context.Context) (digest.StoreStats, error) {
	if err := a.content.EnsureSchema(ctx); err != nil {
		return digest.StoreStats{}, fmt.Errorf("stats: %w", err)
	}
	stats, err := a.content.Stats(ctx)
	if err != nil {
		return digest.StoreStats{}, fmt.Errorf("stats: %w", err)
	}
	return stats, nil
}

// Build creates the application's dependencies. On error every resource
// opened so far is released.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	o := options{registerer: prometheus.DefaultRegisterer}
	for _, opt := range opts {
		opt(&o)
	}

	baseCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	a := &App{cfg: cfg, logger: logger, baseCtx: baseCtx, cancelBase: cancel}
	a.logger.Info("building application dependencies",
		zap.String("db_driver", cfg.DB.Driver),
		zap.String("archive_backend", cfg.Archive.Backend),
		zap.Bool("pubsub", cfg.PubSub.Enabled()),
		zap.Bool("headless", cfg.Headless.Enabled),
	)

	if err := a.build(ctx, o); err != nil {
		closeCtx, cancelClose := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancelClose()
		if closeErr := a.Close(closeCtx); closeErr != nil {
			a.logger.Warn("cleanup after failed build", zap.Error(closeErr))
		}
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context, o options) error {
	if err := a.setupStores(ctx); err != nil {
		return err
	}
	if err := a.setupArchive(ctx); err != nil {
		return err
	}
	if err := a.setupPublisher(ctx); err != nil {
		return err
	}
	fetcher, err := a.setupFetcher()
	if err != nil {
		return err
	}
	if err := a.setupProgress(o.registerer); err != nil {
		return err
	}

	clock := system.New()
	ingester := pipeline.NewIngester(
		a.content,
		fetcher,
		sha256.New(),
		clock,
		a.archive,
		pipeline.IngestConfig{
			ArchivePrefix: a.cfg.Archive.Prefix,
			RecentWindow:  a.cfg.Pipeline.RecentWindow,
		},
		a.logger,
	)

	summarizer := ollama.New(ollama.Config{
		Host:          a.cfg.Summarizer.Host,
		Port:          a.cfg.Summarizer.Port,
		Model:         a.cfg.Summarizer.Model,
		Timeout:       a.cfg.Summarizer.Timeout,
		HealthTimeout: a.cfg.Summarizer.HealthTimeout,
		MaxInputRunes: a.cfg.Summarizer.MaxInputRunes,
	}, o.httpClient, a.logger)

	var pub digest.Publisher
	if a.publisher != nil {
		pub = a.publisher
	}
	enricher := pipeline.NewEnricher(
		a.content,
		summarizer,
		clock,
		pub,
		pipeline.EnrichConfig{
			BatchSize: a.cfg.Pipeline.BatchSize,
			Topic:     a.cfg.PubSub.TopicName,
		},
		a.logger,
	)

	a.runner = runner.New(ingester, enricher, a.hub, clock, runner.Config{
		ItemLimit:   a.cfg.Pipeline.ItemLimit,
		Interval:    a.cfg.Pipeline.Interval,
		RunOnStart:  a.cfg.Pipeline.RunOnStart,
		BaseContext: a.baseCtx,
	}, a.logger)

	a.apiServer = api.NewServer(a.content, a.runs, a.runner, a.logger.Named("api"))
	return nil
}

func (a *App) setupStores(ctx context.Context) error {
	switch a.cfg.DB.Driver {
	case config.DriverPostgres:
		dsn := a.cfg.DB.DSN
		if dsn == "" {
			dsn = postgres.BuildDSN(a.cfg.DB.Host, a.cfg.DB.Port, a.cfg.DB.User, a.cfg.DB.Password, a.cfg.DB.Name)
		}
		pool, err := postgres.Connect(ctx, postgres.Config{
			DSN:          dsn,
			MaxConns:     a.cfg.DB.MaxConns,
			QueryTimeout: a.cfg.DB.QueryTimeout,
		})
		if err != nil {
			return fmt.Errorf("postgres init failed: %w", err)
		}
		a.pool = pool
		content, err := postgres.NewContentStore(pool, a.cfg.DB.QueryTimeout)
		if err != nil {
			return fmt.Errorf("postgres content store init failed: %w", err)
		}
		runs, err := postgres.NewRunStore(pool, a.cfg.DB.QueryTimeout)
		if err != nil {
			return fmt.Errorf("postgres run store init failed: %w", err)
		}
		a.content, a.runs = content, runs
		a.logger.Info("using postgres stores", zap.String("host", a.cfg.DB.Host), zap.String("database", a.cfg.DB.Name))
	case config.DriverSQLite:
		db, err := sqlite.Open(a.cfg.DB.SQLitePath, a.cfg.DB.QueryTimeout)
		if err != nil {
			return fmt.Errorf("sqlite init failed: %w", err)
		}
		a.sqlite = db
		a.content, a.runs = db.ContentStore(), db.RunStore()
		a.logger.Info("using sqlite stores", zap.String("path", db.Path()))
	case config.DriverMemory:
		a.content, a.runs = memory.NewContentStore(), memory.NewRunStore()
		a.logger.Warn("using in-memory stores; data is lost on exit")
	default:
		return fmt.Errorf("unknown db driver %q", a.cfg.DB.Driver)
	}
	return nil
}

func (a *App) setupArchive(ctx context.Context) error {
	switch a.cfg.Archive.Backend {
	case "", config.ArchiveNone:
		a.logger.Debug("raw payload archiving disabled")
	case config.ArchiveMemory:
		a.archive = memoryarchive.New()
	case config.ArchiveLocal:
		arch, err := local.New(local.Config{BaseDir: a.cfg.Archive.BaseDir})
		if err != nil {
			return fmt.Errorf("local archive init failed: %w", err)
		}
		a.archive = arch
		a.logger.Info("using local archive", zap.String("path", a.cfg.Archive.BaseDir))
	case config.ArchiveGCS:
		client, err := storage.NewClient(ctx)
		if err != nil {
			return fmt.Errorf("gcs client init failed: %w", err)
		}
		a.gcsClient = client
		arch, err := gcs.New(client, gcs.Config{Bucket: a.cfg.Archive.GCSBucket})
		if err != nil {
			return fmt.Errorf("gcs archive init failed: %w", err)
		}
		a.archive = arch
		a.logger.Info("using GCS archive", zap.String("bucket", a.cfg.Archive.GCSBucket))
	default:
		return fmt.Errorf("unknown archive backend %q", a.cfg.Archive.Backend)
	}
	return nil
}

func (a *App) setupPublisher(ctx context.Context) error {
	if !a.cfg.PubSub.Enabled() {
		a.logger.Debug("no Pub/Sub topic configured, summary notices disabled")
		return nil
	}
	pub, err := pubsub.New(ctx, pubsub.Config{
		ProjectID: a.cfg.PubSub.ProjectID,
		TopicName: a.cfg.PubSub.TopicName,
	})
	if err != nil {
		return fmt.Errorf("pubsub init failed: %w", err)
	}
	a.publisher = pub
	a.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", a.cfg.PubSub.ProjectID),
		zap.String("topic", a.cfg.PubSub.TopicName),
	)
	return nil
}

func (a *App) setupFetcher() (*collyfetcher.Fetcher, error) {
	opts := []collyfetcher.Option{
		collyfetcher.WithLimiter(ratelimit.New(ratelimit.Config{
			RatePerSecond: a.cfg.Fetcher.RatePerSecond,
			Burst:         a.cfg.Fetcher.Burst,
		})),
		collyfetcher.WithExtractor(extract.New(extract.Selectors{})),
		collyfetcher.WithLogger(a.logger),
	}
	if a.cfg.Headless.Enabled {
		renderer, err := headless.NewChromedp(headless.Config{
			MaxParallel:       a.cfg.Headless.MaxParallel,
			UserAgent:         a.cfg.Fetcher.UserAgent,
			NavigationTimeout: a.cfg.Headless.NavigationTimeout,
		})
		if err != nil {
			a.logger.Warn("headless renderer init failed, listing pages are fetched directly", zap.Error(err))
		} else {
			a.renderer = renderer
			opts = append(opts, collyfetcher.WithRenderer(renderer))
			a.logger.Info("using headless renderer", zap.Int("max_parallel", a.cfg.Headless.MaxParallel))
		}
	}
	fetcher, err := collyfetcher.New(collyfetcher.Config{
		UserAgent:        a.cfg.Fetcher.UserAgent,
		Timeout:          a.cfg.Fetcher.Timeout,
		RespectRobots:    a.cfg.Fetcher.RespectRobots,
		APIKey:           a.cfg.Fetcher.APIKey,
		ProxyEndpoint:    a.cfg.Fetcher.ProxyEndpoint,
		ListingURL:       a.cfg.Fetcher.ListingURL,
		LinkContains:     a.cfg.Fetcher.LinkContains,
		MaxListingPages:  a.cfg.Fetcher.MaxListingPages,
		RenderListing:    a.cfg.Fetcher.RenderListing,
		FallbackLocators: a.cfg.Fetcher.FallbackLocators,
		MaxAttempts:      a.cfg.Fetcher.MaxAttempts,
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("fetcher init failed: %w", err)
	}
	return fetcher, nil
}

func (a *App) setupProgress(reg prometheus.Registerer) error {
	promSink, err := progresssinks.NewPrometheusSink(reg)
	if err != nil {
		return fmt.Errorf("progress metrics init failed: %w", err)
	}
	a.hub = progress.NewHub(progress.Config{
		Logger: a.logger.Named("progress_hub"),
	},
		progresssinks.NewLogSink(a.logger.Named("progress_log")),
		promSink,
		progresssinks.NewStoreSink(a.runs, a.logger.Named("progress_store")),
	)
	return nil
}

// Serve runs the HTTP API and the scheduler until ctx is canceled, then shuts
// both down and waits for an in-flight run to finish.
func (a *App) Serve(ctx context.Context) error {
	ctx, stop := context.WithCancel(ctx)
	defer stop()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	schedulerDone := make(chan struct{})
	go func() {
		defer close(schedulerDone)
		a.runner.Start(ctx)
	}()

	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			serveErr <- err
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")
	a.cancelBase()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	<-schedulerDone

	select {
	case err := <-serveErr:
		return fmt.Errorf("http server: %w", err)
	default:
		return nil
	}
}

// Close cancels API-triggered runs, waits for them, flushes progress, and
// releases every backend.
func (a *App) Close(ctx context.Context) error {
	if a.cancelBase != nil {
		a.cancelBase()
	}
	if a.runner != nil {
		a.runner.Wait()
	}
	var errs []error
	if a.hub != nil {
		if err := a.hub.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close progress hub: %w", err))
		}
	}
	if a.renderer != nil {
		a.renderer.Close()
	}
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if a.gcsClient != nil {
		if err := a.gcsClient.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close gcs client: %w", err))
		}
	}
	if a.sqlite != nil {
		if err := a.sqlite.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if a.pool != nil {
		a.pool.Close()
	}
	err := errors.Join(errs...)
	if err != nil {
		a.logger.Warn("shutdown finished with errors", zap.Error(err))
	} else {
		a.logger.Info("shutdown complete")
	}
	return err
}
