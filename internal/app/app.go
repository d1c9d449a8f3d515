// Package app wires configuration into a runnable crawl: it builds every
// backend the config selects and owns their shutdown.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub"
	gcsstorage "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/zhihu-live-crawler/internal/api"
	"github.com/JakeFAU/zhihu-live-crawler/internal/clock"
	"github.com/JakeFAU/zhihu-live-crawler/internal/config"
	"github.com/JakeFAU/zhihu-live-crawler/internal/coordinator"
	"github.com/JakeFAU/zhihu-live-crawler/internal/crawler"
	"github.com/JakeFAU/zhihu-live-crawler/internal/dispatcher"
	collyfetcher "github.com/JakeFAU/zhihu-live-crawler/internal/fetcher/colly"
	"github.com/JakeFAU/zhihu-live-crawler/internal/frontier"
	"github.com/JakeFAU/zhihu-live-crawler/internal/hash/sha256"
	"github.com/JakeFAU/zhihu-live-crawler/internal/id/uuid"
	"github.com/JakeFAU/zhihu-live-crawler/internal/ingest"
	"github.com/JakeFAU/zhihu-live-crawler/internal/policy/ratelimit"
	kafkapub "github.com/JakeFAU/zhihu-live-crawler/internal/publisher/kafka"
	mempub "github.com/JakeFAU/zhihu-live-crawler/internal/publisher/memory"
	pubsubpub "github.com/JakeFAU/zhihu-live-crawler/internal/publisher/pubsub"
	"github.com/JakeFAU/zhihu-live-crawler/internal/session"
	"github.com/JakeFAU/zhihu-live-crawler/internal/storage/gcs"
	"github.com/JakeFAU/zhihu-live-crawler/internal/storage/local"
	"github.com/JakeFAU/zhihu-live-crawler/internal/storage/memory"
	"github.com/JakeFAU/zhihu-live-crawler/internal/storage/postgres"
	"github.com/JakeFAU/zhihu-live-crawler/internal/telemetry"
	"github.com/JakeFAU/zhihu-live-crawler/internal/worker"
)

type closer struct {
	name string
	fn   func() error
}

// App holds the services built for one crawl run.
type App struct {
	cfg         config.Config
	logger      *zap.Logger
	runID       string
	lives       crawler.LiveStore
	coordinator *coordinator.Coordinator
	server      *api.Server
	closers     []closer
}

// New builds every component selected by cfg. On error, anything already
// opened is closed before returning.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{cfg: cfg, logger: logger}
	if err := a.build(ctx); err != nil {
		if closeErr := a.Close(); closeErr != nil {
			logger.Warn("cleanup after failed startup", zap.Error(closeErr))
		}
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context) error {
	cfg := a.cfg

	runID, err := uuid.New().NewID()
	if err != nil {
		return fmt.Errorf("generate run id: %w", err)
	}
	a.runID = runID
	a.logger = a.logger.With(zap.String("run_id", runID))

	if cfg.Telemetry.Tracing {
		tp, err := telemetry.InitTracerProvider(ctx, cfg.Telemetry.ServiceName, runID)
		if err != nil {
			return fmt.Errorf("init tracing: %w", err)
		}
		a.onClose("tracer provider", func() error {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return tp.Shutdown(shutdownCtx)
		})
	}

	sess, err := session.New(session.Config{
		AuthToken:    cfg.Session.AuthToken,
		TokenFile:    cfg.Session.TokenFile,
		UserAgent:    cfg.Session.UserAgent,
		APIVersion:   cfg.Session.APIVersion,
		ExtraHeaders: cfg.Session.ExtraHeaders,
		Timeout:      cfg.Session.Timeout,
		MaxIdleConns: cfg.Crawler.MaxTasks,
	}, a.logger.Named("session"))
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	a.onClose("session", sess.Close)

	seen, err := a.buildSeenSet(runID)
	if err != nil {
		return err
	}
	front := frontier.New(seen, cfg.Crawler.MaxRedirect)

	lives, recorder, err := a.buildLiveStore(ctx)
	if err != nil {
		return err
	}
	a.lives = lives

	blobs, err := a.buildArchive(ctx)
	if err != nil {
		return err
	}

	publisher, err := a.buildPublisher(ctx)
	if err != nil {
		return err
	}

	ingester := ingest.New(lives, blobs, publisher, sha256.New(), clock.System{}, ingest.Config{
		RunID:      runID,
		BlobPrefix: cfg.Storage.Prefix,
		Topic:      cfg.Publisher.Topic,
	}, a.logger.Named("ingest"))

	var limiter worker.Limiter
	if cfg.Crawler.RateLimitRPS > 0 {
		limiter = ratelimit.New(ratelimit.Config{
			RPS:   cfg.Crawler.RateLimitRPS,
			Burst: cfg.Crawler.RateLimitBurst,
		})
	}

	fetcher := collyfetcher.New(collyfetcher.Config{
		Client:      sess.Client(),
		MaxBodySize: cfg.Crawler.MaxBodyBytes,
	})
	executor := worker.NewExecutor(fetcher, ingester, front, retryPolicy(cfg.Crawler), limiter, a.logger.Named("executor"))

	workers := make([]dispatcher.Runner, 0, cfg.Crawler.MaxTasks)
	for i := 0; i < cfg.Crawler.MaxTasks; i++ {
		workers = append(workers, worker.New(front, executor, worker.Config{
			PostFetchDelay: cfg.Crawler.PostFetchDelay,
		}, a.logger.Named("worker").With(zap.Int("index", i))))
	}

	a.coordinator = coordinator.New(front, dispatcher.New(workers), clock.System{}, sess, coordinator.Config{
		RunID:    runID,
		Seeds:    cfg.Crawler.Seeds(),
		Recorder: recorder,
	}, a.logger.Named("coordinator"))

	if cfg.Server.Enabled {
		a.server = api.NewServer(a.coordinator, api.Config{
			Addr:   cfg.Server.Addr,
			APIKey: cfg.Server.APIKey,
		}, a.logger.Named("api"))
	}
	return nil
}

func (a *App) buildSeenSet(runID string) (frontier.SeenSet, error) {
	fc := a.cfg.Frontier
	switch fc.SeenBackend {
	case config.BackendRedis:
		a.logger.Info("using redis seen-set", zap.String("addr", fc.RedisAddr))
		seen := frontier.NewRedisSeenSet(fc.RedisAddr, fc.RedisPrefix, runID, fc.RedisTTL)
		a.onClose("redis seen-set", seen.Close)
		return seen, nil
	case config.BackendMemory, "":
		return frontier.NewMemorySeenSet(), nil
	default:
		return nil, fmt.Errorf("unknown seen backend: %s", fc.SeenBackend)
	}
}

func (a *App) buildLiveStore(ctx context.Context) (crawler.LiveStore, crawler.RunRecorder, error) {
	db := a.cfg.DB
	if db.DSN == "" {
		a.logger.Info("no database configured, lives are kept in memory")
		return memory.NewLiveStore(), nil, nil
	}

	a.logger.Info("connecting to postgres")
	store, err := postgres.New(ctx, postgres.Config{
		DSN:         db.DSN,
		TablePrefix: db.TablePrefix,
		MaxConns:    db.MaxConns,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	a.onClose("postgres", func() error {
		store.Close()
		return nil
	})
	if db.EnsureSchema {
		if err := store.EnsureSchema(ctx); err != nil {
			return nil, nil, fmt.Errorf("ensure schema: %w", err)
		}
	}
	return store, store, nil
}

func (a *App) buildArchive(ctx context.Context) (crawler.BlobStore, error) {
	sc := a.cfg.Storage
	switch sc.Archive {
	case config.BackendNone, "":
		return nil, nil
	case config.BackendMemory:
		return memory.NewBlobStore(), nil
	case config.BackendLocal:
		store, err := local.New(local.Config{BaseDir: sc.LocalDir})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize local archive: %w", err)
		}
		return store, nil
	case config.BackendGCS:
		a.logger.Info("using gcs archive", zap.String("bucket", sc.GCSBucket))
		client, err := gcsstorage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("create gcs client: %w", err)
		}
		store, err := gcs.New(client, gcs.Config{Bucket: sc.GCSBucket})
		if err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("failed to initialize gcs archive: %w", err)
		}
		a.onClose("gcs archive", store.Close)
		return store, nil
	default:
		return nil, fmt.Errorf("unknown archive backend: %s", sc.Archive)
	}
}

func (a *App) buildPublisher(ctx context.Context) (crawler.Publisher, error) {
	switch a.cfg.Publisher.Backend {
	case config.BackendNone, "":
		return nil, nil
	case config.BackendMemory:
		return mempub.New(), nil
	case config.BackendPubSub:
		a.logger.Info("connecting to pub/sub", zap.String("project", a.cfg.PubSub.ProjectID))
		client, err := pubsub.NewClient(ctx, a.cfg.PubSub.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("create pubsub client: %w", err)
		}
		pub := pubsubpub.New(client)
		a.onClose("pubsub publisher", pub.Close)
		return pub, nil
	case config.BackendKafka:
		a.logger.Info("using kafka publisher", zap.Strings("brokers", a.cfg.Kafka.Brokers))
		pub := kafkapub.New(a.cfg.Kafka.Brokers)
		a.onClose("kafka publisher", pub.Close)
		return pub, nil
	default:
		return nil, fmt.Errorf("unknown publisher backend: %s", a.cfg.Publisher.Backend)
	}
}

func retryPolicy(cc config.CrawlerConfig) *crawler.RetryPolicy {
	if cc.RetryBackoffBase > 0 {
		return crawler.NewExponentialRetryPolicy(cc.MaxTries, cc.RetryBackoffBase, cc.RetryBackoffMax)
	}
	return crawler.NewImmediateRetryPolicy(cc.MaxTries)
}

func (a *App) onClose(name string, fn func() error) {
	a.closers = append(a.closers, closer{name: name, fn: fn})
}

// RunID returns the identifier of this crawl run.
func (a *App) RunID() string {
	return a.runID
}

// Coordinator exposes the crawl coordinator, mainly for status snapshots.
func (a *App) Coordinator() *coordinator.Coordinator {
	return a.coordinator
}

// LiveStore returns the store lives are written to.
func (a *App) LiveStore() crawler.LiveStore {
	return a.lives
}

// Run executes the crawl and, when enabled, serves the ops endpoint for its
// duration. It returns the elapsed crawl time.
func (a *App) Run(ctx context.Context) (time.Duration, error) {
	serverErr := make(chan error, 1)
	serverCtx, stopServer := context.WithCancel(ctx)
	if a.server != nil {
		go func() {
			serverErr <- a.server.Serve(serverCtx)
		}()
	} else {
		serverErr <- nil
	}

	elapsed, err := a.coordinator.Run(ctx)
	stopServer()
	if srvErr := <-serverErr; srvErr != nil {
		a.logger.Warn("ops server stopped with error", zap.Error(srvErr))
	}
	return elapsed, err
}

// Close releases every backend in reverse order of creation and flushes the logger.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.fn(); err != nil {
			a.logger.Warn("error closing service", zap.String("service", c.name), zap.Error(err))
			errs = append(errs, fmt.Errorf("close %s: %w", c.name, err))
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
