// Package app builds the stores, buses and services shared by the API server
// and the job workers.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"lessonforge/internal/clock"
	"lessonforge/internal/config"
	"lessonforge/internal/eventbus"
	"lessonforge/internal/generation"
	"lessonforge/internal/metrics"
	"lessonforge/internal/model"
	"lessonforge/internal/pgmq"
	"lessonforge/internal/pubsub"
	"lessonforge/internal/repository"
	"lessonforge/internal/repository/memory"
	"lessonforge/internal/secrets"
	"lessonforge/internal/service"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// App holds the wired services of one process.
type App struct {
	Config   *config.Config
	Logger   zerolog.Logger
	Registry *prometheus.Registry

	Ledger       service.UsageLedger
	Orchestrator service.GenerationOrchestrator
	Writer       *service.ArtifactWriter
	Runner       *service.JobRunner
	Jobs         service.JobService
	Ratings      service.RatingService
	Billing      *service.BillingService

	Bus eventbus.Bus
	Hub *service.JobHub

	// Queue is set when JOB_DISPATCHER=pgmq, PubSub when JOB_DISPATCHER=pubsub.
	Queue  *pgmq.Client
	PubSub *pubsub.Client

	pool    *pgxpool.Pool
	db      *sql.DB
	redis   *redis.Client
	inline  *service.InlineDispatcher
	closers []func() error
}

// New connects to every configured backend and wires the services.
func New(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*App, error) {
	a := &App{
		Config:   cfg,
		Logger:   logger,
		Registry: prometheus.NewRegistry(),
		Hub:      service.NewJobHub(),
	}
	a.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(a.Registry)
	clk := clock.System{}

	var (
		usageRepo   repository.UsageRepository
		jobRepo     repository.JobRepository
		libraryRepo repository.LibraryRepository
		ratingRepo  repository.RatingRepository
	)
	switch cfg.StoreDriver {
	case "postgres":
		if err := a.openPostgres(ctx); err != nil {
			a.Close()
			return nil, err
		}
		usageRepo = repository.NewUsageRepo(a.pool)
		jobRepo = repository.NewJobRepo(a.pool)
		libraryRepo = repository.NewLibraryRepo(a.pool)
		ratingRepo = repository.NewRatingRepo(a.pool)
	default:
		logger.Warn().Msg("Using in-memory stores; data is lost on restart")
		usageRepo = memory.NewUsageRepo()
		jobRepo = memory.NewJobRepo()
		libraryRepo = memory.NewLibraryRepo()
		ratingRepo = memory.NewRatingRepo()
	}

	var archive repository.ArtifactArchive
	if cfg.S3Bucket != "" {
		s3Archive, err := repository.NewS3Archive(ctx, repository.S3Settings{
			URL:       cfg.S3URL,
			Bucket:    cfg.S3Bucket,
			Region:    cfg.S3Region,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
		})
		if err != nil {
			a.Close()
			return nil, err
		}
		archive = s3Archive
		logger.Info().Str("bucket", cfg.S3Bucket).Msg("Artifact archive enabled")
	}

	if cfg.RedisAddr != "" {
		a.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := a.redis.Ping(ctx).Err(); err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to ping Redis: %w", err)
		}
		a.closers = append(a.closers, a.redis.Close)
		a.Bus = eventbus.NewRedisBus(a.redis, eventbus.DefaultChannel, logger)
		logger.Info().Str("addr", cfg.RedisAddr).Msg("Job events fan out over Redis")
	} else {
		a.Bus = eventbus.NewMemoryBus()
	}

	provider, err := a.newProvider(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.Ledger = service.NewUsageLedger(usageRepo, model.DefaultTierTable(), clk, m, logger)
	a.Orchestrator = service.NewGenerationOrchestrator(provider, a.Ledger, service.OrchestratorConfig{ItemDelay: cfg.ItemDelay()}, clk, m, logger)
	a.Writer = service.NewArtifactWriter(libraryRepo, archive, logger)
	a.Runner = service.NewJobRunner(jobRepo, a.Orchestrator, a.Writer, a.Bus, clk, m, logger)

	dispatcher, err := a.newDispatcher(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Jobs = service.NewJobService(jobRepo, a.Ledger, dispatcher, a.Bus, a.Hub, clk,
		service.JobServiceConfig{RecencyWindow: cfg.NotifyRecencyWindow()}, m, logger)
	a.Ratings = service.NewRatingService(ratingRepo, libraryRepo, archive, clk, m, logger)
	a.Billing = service.NewBillingService(a.Ledger, cfg.StripeWebhookSecret, priceTiers(cfg), clk, logger)
	return a, nil
}

// openPostgres opens one pgx pool for the repositories and exposes it through
// database/sql for the queue client.
func (a *App) openPostgres(ctx context.Context) error {
	poolCfg, err := pgxpool.ParseConfig(tuneDSN(a.Config.DBConnectionString, a.Config.Environment))
	if err != nil {
		return fmt.Errorf("failed to parse DB connection string: %w", err)
	}
	poolCfg.MaxConns = 25
	poolCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return fmt.Errorf("failed to open DB connection: %w", err)
	}
	a.pool = pool
	a.closers = append(a.closers, func() error { pool.Close(); return nil })

	if err := pool.Ping(ctx); err != nil {
		return fmt.Errorf("failed to ping DB: %w", err)
	}
	a.Logger.Info().Msg("Database connection successful")

	if err := repository.EnsureSchema(ctx, pool); err != nil {
		return err
	}

	a.db = stdlib.OpenDBFromPool(pool)
	a.closers = append(a.closers, a.db.Close)
	return nil
}

func (a *App) newProvider(ctx context.Context) (generation.Provider, error) {
	cfg := a.Config
	switch cfg.GenerationProvider {
	case "static":
		a.Logger.Warn().Msg("Using static generation provider")
		return generation.StaticProvider{}, nil
	case "http":
		return generation.NewHTTPProvider(cfg.GenerationServiceBaseURL, cfg.RequestTimeout(), a.Logger), nil
	}

	apiKey := cfg.OpenAIAPIKey
	if cfg.OpenAIAPIKeySecret != "" {
		sm, err := secrets.NewSecretManager(ctx, cfg.GCPProjectID)
		if err != nil {
			return nil, err
		}
		defer sm.Close()
		apiKey, err = sm.Resolve(ctx, cfg.OpenAIAPIKeySecret)
		if err != nil {
			return nil, err
		}
		a.Logger.Info().Str("secret", cfg.OpenAIAPIKeySecret).Msg("OpenAI API key loaded from Secret Manager")
	}
	return generation.NewOpenAIProvider(generation.OpenAISettings{
		APIKey:  apiKey,
		Model:   cfg.OpenAIModel,
		BaseURL: cfg.OpenAIBaseURL,
	}, a.Logger)
}

func (a *App) newDispatcher(ctx context.Context) (service.Dispatcher, error) {
	cfg := a.Config
	switch cfg.JobDispatcher {
	case "pgmq":
		a.Queue = pgmq.New(a.db)
		for _, q := range []string{cfg.GenerationQueueName, cfg.GenerationDeadLetterQueueName} {
			if err := a.Queue.CreateQueue(ctx, q); err != nil {
				return nil, err
			}
		}
		return service.NewQueueDispatcher(a.Queue, cfg.GenerationQueueName, a.Logger), nil
	case "pubsub":
		client, err := pubsub.NewClient(ctx, cfg)
		if err != nil {
			return nil, err
		}
		a.PubSub = client
		a.closers = append(a.closers, client.Close)
		return service.NewPubSubDispatcher(client, cfg.PubSubGenerationTopic, a.Logger), nil
	default:
		a.inline = service.NewInlineDispatcher(a.Runner, cfg.JobTimeout(), a.Logger)
		return a.inline, nil
	}
}

// RunHub feeds job events from the bus into the local hub until ctx is done.
func (a *App) RunHub(ctx context.Context) error {
	stop, err := a.Bus.Subscribe(ctx, a.Hub.Handle)
	if err != nil {
		return fmt.Errorf("subscribing to job events: %w", err)
	}
	defer stop()
	<-ctx.Done()
	return nil
}

// Ready reports whether the backing stores answer.
func (a *App) Ready(ctx context.Context) error {
	if a.pool != nil {
		if err := a.pool.Ping(ctx); err != nil {
			return fmt.Errorf("database: %w", err)
		}
	}
	if a.redis != nil {
		if err := a.redis.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
	}
	return nil
}

// Close waits for in-process jobs and releases connections in reverse order of opening.
func (a *App) Close() {
	if a.inline != nil {
		a.inline.Wait()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close resource")
		}
	}
	a.closers = nil
}

func priceTiers(cfg *config.Config) map[string]model.Tier {
	tiers := make(map[string]model.Tier, 2)
	if cfg.StripePriceBasic != "" {
		tiers[cfg.StripePriceBasic] = model.TierBasic
	}
	if cfg.StripePricePremium != "" {
		tiers[cfg.StripePricePremium] = model.TierPremium
	}
	return tiers
}

// tuneDSN disables SSL for local development and switches to the simple query
// protocol elsewhere, where a transaction pooler sits in front of Postgres.
func tuneDSN(dsn, environment string) string {
	if environment == "development" && !strings.Contains(dsn, "sslmode") {
		dsn = appendParam(dsn, "sslmode=disable")
	}
	if environment != "development" && !strings.Contains(dsn, "default_query_exec_mode") {
		dsn = appendParam(dsn, "default_query_exec_mode=simple_protocol")
	}
	return dsn
}

func appendParam(dsn, param string) string {
	if !strings.HasPrefix(dsn, "postgres://") && !strings.HasPrefix(dsn, "postgresql://") {
		return dsn + " " + param
	}
	if strings.Contains(dsn, "?") {
		return dsn + "&" + param
	}
	return dsn + "?" + param
}
