// Package bootstrap assembles the pipeline's components from configuration
// for the binaries under cmd/.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/business-search-sync/internal/engine"
	"github.com/Adithya-Monish-Kumar-K/business-search-sync/internal/engine/elasticsearch"
	"github.com/Adithya-Monish-Kumar-K/business-search-sync/internal/migration"
	"github.com/Adithya-Monish-Kumar-K/business-search-sync/internal/query"
	"github.com/Adithya-Monish-Kumar-K/business-search-sync/internal/search"
	pgstore "github.com/Adithya-Monish-Kumar-K/business-search-sync/internal/store/postgres"
	"github.com/Adithya-Monish-Kumar-K/business-search-sync/internal/sync/alertsink"
	"github.com/Adithya-Monish-Kumar-K/business-search-sync/internal/sync/changefeed"
	"github.com/Adithya-Monish-Kumar-K/business-search-sync/internal/sync/jobs"
	"github.com/Adithya-Monish-Kumar-K/business-search-sync/internal/sync/monitor"
	"github.com/Adithya-Monish-Kumar-K/business-search-sync/internal/sync/orchestrator"
	"github.com/Adithya-Monish-Kumar-K/business-search-sync/internal/sync/processor"
	"github.com/Adithya-Monish-Kumar-K/business-search-sync/internal/sync/queue"
	"github.com/Adithya-Monish-Kumar-K/business-search-sync/internal/transform"
	"github.com/Adithya-Monish-Kumar-K/business-search-sync/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/business-search-sync/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/business-search-sync/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/business-search-sync/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/business-search-sync/pkg/postgres"
	pkgredis "github.com/Adithya-Monish-Kumar-K/business-search-sync/pkg/redis"
	"github.com/Adithya-Monish-Kumar-K/business-search-sync/pkg/resilience"
)

const slowPing = 500 * time.Millisecond

// App holds the connections shared by the components of one process.
// Fields are nil when the process does not need them.
type App struct {
	Config   *config.Config
	Metrics  *metrics.Metrics
	Engine   engine.Engine
	Redis    *pkgredis.Client
	Postgres *postgres.Client
	Queue    queue.Queue
	Monitor  *monitor.Monitor

	closers []func() error
	logger  *slog.Logger
}

// Needs selects the connections Open establishes.
type Needs struct {
	Queue bool
	Store bool
	Cache bool
}

// Open connects to the search engine and whatever else needs asks for.
// On error every connection already made is closed.
func Open(cfg *config.Config, prom *metrics.Metrics, needs Needs) (_ *App, err error) {
	app := &App{
		Config:  cfg,
		Metrics: prom,
		logger:  slog.Default().With("component", "bootstrap"),
	}
	defer func() {
		if err != nil {
			app.Close()
		}
	}()

	es, err := elasticsearch.New(cfg.Elasticsearch)
	if err != nil {
		return nil, fmt.Errorf("connecting to search engine: %w", err)
	}
	app.Engine = engine.WithBreaker(es, resilience.NewCircuitBreaker("search-engine", resilience.CircuitBreakerConfig{
		FailureThreshold: cfg.Sync.BreakerThreshold,
		ResetTimeout:     cfg.Sync.BreakerResetTimeout,
		OnStateChange: func(name string, _, to resilience.State) {
			if prom != nil {
				prom.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
			}
		},
	}))

	redisQueue := needs.Queue && cfg.Sync.QueueBackend == "redis"
	if redisQueue || (needs.Cache && cfg.Search.CacheEnabled) {
		client, rerr := pkgredis.NewClient(cfg.Redis)
		switch {
		case rerr == nil:
			app.Redis = client
			app.closers = append(app.closers, client.Close)
			app.logger.Info("connected to redis", "addr", cfg.Redis.Addr)
		case redisQueue:
			return nil, fmt.Errorf("connecting to redis: %w", rerr)
		default:
			app.logger.Warn("redis unavailable, search caching disabled", "error", rerr)
		}
	}

	if needs.Store {
		db, perr := postgres.New(cfg.Postgres)
		if perr != nil {
			return nil, fmt.Errorf("connecting to postgres: %w", perr)
		}
		app.Postgres = db
		app.closers = append(app.closers, db.Close)
		if prom != nil {
			if merr := prom.Register(db.Collector(cfg.Postgres.Database)); merr != nil {
				app.logger.Warn("postgres pool metrics unavailable", "error", merr)
			}
		}
		app.logger.Info("connected to postgres", "host", cfg.Postgres.Host, "table", cfg.Postgres.EntityTable)
	}

	if needs.Queue {
		if redisQueue {
			app.Queue = queue.NewRedis(app.Redis, queue.RedisConfig{
				Name:         cfg.Sync.QueueName,
				StallTimeout: cfg.Sync.StallTimeout,
			})
		} else {
			app.Queue = queue.NewMemory(queue.MemoryConfig{StallTimeout: cfg.Sync.StallTimeout})
		}
		// The queue closes before the redis client it runs on.
		app.closers = append(app.closers, app.Queue.Close)
		app.logger.Info("job queue ready", "backend", cfg.Sync.QueueBackend, "name", cfg.Sync.QueueName)

		opts := []monitor.Option{}
		if prom != nil {
			opts = append(opts, monitor.WithPrometheus(prom))
		}
		app.Monitor, err = monitor.New(cfg.Sync.HistorySize, opts...)
		if err != nil {
			return nil, err
		}
	}
	return app, nil
}

// Close releases connections in reverse order of opening.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("closing connection", "error", err)
		}
	}
	a.closers = nil
}

// Orchestrator creates the sync orchestrator. The caller runs it.
func (a *App) Orchestrator() (*orchestrator.Orchestrator, error) {
	if a.Queue == nil {
		return nil, errors.New("orchestrator requires a job queue")
	}
	return orchestrator.New(a.Queue, a.Monitor, a.Metrics, orchestrator.Config{
		QueueAttempts:      a.Config.Sync.QueueAttempts,
		RebuildBackoff:     a.Config.Sync.RebuildQueueBackoff,
		IncrementalBackoff: a.Config.Sync.IncrementalQueueBackoff,
		StatusCacheSize:    a.Config.Sync.HistorySize,
	})
}

// Cache returns the search result cache, or nil when caching is off or
// Redis is unavailable.
func (a *App) Cache() *search.Cache {
	if a.Redis == nil || !a.Config.Search.CacheEnabled {
		return nil
	}
	return search.NewCache(a.Redis, search.CacheConfig{TTL: a.Config.Redis.CacheTTL}, a.Metrics)
}

// Search creates the search service.
func (a *App) Search(cache *search.Cache) *search.Service {
	b := query.NewBuilder(query.Options{
		DefaultTake: a.Config.Search.DefaultTake,
		MaxTake:     a.Config.Search.MaxTake,
	})
	return search.NewService(a.Engine, b, cache, a.Metrics, search.Config{
		Index:             a.Config.Elasticsearch.IndexName,
		Timeout:           a.Config.Elasticsearch.RequestTimeout,
		AutocompleteLimit: a.Config.Search.AutocompleteLimit,
		SimilarLimit:      a.Config.Search.SimilarLimit,
	})
}

// Migrator creates the index migrator.
func (a *App) Migrator() *migration.Migrator {
	es := a.Config.Elasticsearch
	return migration.New(a.Engine, es.IndexName, es.Shards, es.Replicas)
}

// Processor creates the worker pool. Each successful job invalidates cache
// when it is non-nil.
func (a *App) Processor(cache *search.Cache) (*processor.Processor, error) {
	if a.Queue == nil || a.Postgres == nil {
		return nil, errors.New("processor requires a job queue and the entity store")
	}
	sc := a.Config.Sync
	es := a.Config.Elasticsearch
	entities := pgstore.New(a.Postgres, a.Config.Postgres.EntityTable)
	tr := transform.New()
	target := jobs.IndexTarget{Name: es.IndexName, Shards: es.Shards, Replicas: es.Replicas}

	rebuild := jobs.NewRebuildJob(entities, a.Engine, tr, a.Monitor, a.Metrics, jobs.RebuildConfig{
		Index:     target,
		BatchSize: sc.BatchSize,
		Retry:     jobs.RetryPolicy{MaxAttempts: sc.MaxAttempts, BaseDelay: sc.RebuildBaseDelay},
	})
	incremental := jobs.NewIncrementalJob(entities, a.Engine, tr, a.Monitor, a.Metrics, jobs.IncrementalConfig{
		Index: target,
		Retry: jobs.RetryPolicy{MaxAttempts: sc.MaxAttempts, BaseDelay: sc.IncrementalBaseDelay},
	})
	p := processor.New(a.Queue, rebuild, incremental, a.Metrics, processor.Config{
		Workers:      sc.Workers,
		PollInterval: sc.PollInterval,
		StallTimeout: sc.StallTimeout,
	})
	if cache != nil {
		p.OnSuccess(func(ctx context.Context, d jobs.Descriptor, _ monitor.Metrics) {
			if err := cache.Invalidate(ctx); err != nil {
				a.logger.Warn("invalidating search cache", "operation", string(d.Operation), "error", err)
			}
		})
	}
	return p, nil
}

// AlertSink publishes monitor alerts to Kafka when Kafka is enabled. It
// returns nil otherwise. The sink is registered and started; Close flushes
// it.
func (a *App) AlertSink(ctx context.Context) *alertsink.Sink {
	kc := a.Config.Kafka
	if !kc.Enabled || a.Monitor == nil {
		return nil
	}
	producer := kafka.NewProducer(kc, kc.Topics.SyncAlerts)
	sink := alertsink.New(producer, alertsink.Config{})
	sink.Start(ctx)
	a.Monitor.OnAlert(sink)
	a.closers = append(a.closers, func() error {
		sink.Close()
		return producer.Close()
	})
	a.logger.Info("alert sink started", "topic", kc.Topics.SyncAlerts)
	return sink
}

// ChangeFeed creates the entity change consumer when Kafka is enabled, or
// returns nil.
func (a *App) ChangeFeed(e changefeed.Enqueuer) *kafka.Consumer {
	kc := a.Config.Kafka
	if !kc.Enabled {
		return nil
	}
	c := changefeed.NewConsumer(kc, e, a.Metrics)
	a.closers = append(a.closers, c.Close)
	if kc.Topics.DeadLetter != "" {
		dlq := kafka.NewProducer(kc, kc.Topics.DeadLetter)
		c.WithDeadLetter(dlq)
		a.closers = append(a.closers, dlq.Close)
	}
	return c
}

// Health registers a check for every open connection. Redis is optional
// when it only backs the result cache.
func (a *App) Health() *health.Checker {
	checker := health.NewChecker()
	checker.Register("search_engine", health.PingCheck(a.Engine.Ping, slowPing))
	if a.Redis != nil {
		var opts []health.Option
		if a.Config.Sync.QueueBackend != "redis" {
			opts = append(opts, health.Optional())
		}
		checker.Register("redis", health.PingCheck(a.Redis.Ping, slowPing), opts...)
	}
	if a.Postgres != nil {
		checker.Register("postgres", health.PingCheck(a.Postgres.DB.PingContext, slowPing))
	}
	return checker
}
