// Command searchsync-api serves the sync administration API and the business
// search API.
//
// With sync.embeddedWorkers set, the process also runs the job workers, which
// suits single-node deployments and the memory queue backend.
//
// Usage:
//
//	go run ./cmd/searchsync-api [-config configs/development.yaml]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Adithya-Monish-Kumar-K/business-search-sync/internal/admin"
	"github.com/Adithya-Monish-Kumar-K/business-search-sync/internal/bootstrap"
	"github.com/Adithya-Monish-Kumar-K/business-search-sync/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/business-search-sync/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/business-search-sync/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/business-search-sync/pkg/middleware"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting search sync api",
		"port", cfg.Server.Port,
		"queue_backend", cfg.Sync.QueueBackend,
		"embedded_workers", cfg.Sync.EmbeddedWorkers,
	)

	if err := run(cfg); err != nil {
		slog.Error("search sync api failed", "error", err)
		os.Exit(1)
	}
	slog.Info("search sync api stopped")
}

func run(cfg *config.Config) error {
	prom := metrics.New()

	app, err := bootstrap.Open(cfg, prom, bootstrap.Needs{
		Queue: true,
		Store: cfg.Sync.EmbeddedWorkers,
		Cache: true,
	})
	if err != nil {
		return err
	}
	defer app.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	orch, err := app.Orchestrator()
	if err != nil {
		return err
	}
	cache := app.Cache()

	g, gctx := errgroup.WithContext(ctx)
	if cfg.Metrics.Enabled {
		g.Go(func() error { return metrics.Serve(gctx, cfg.Metrics.Port) })
	}
	g.Go(func() error { return orch.Run(gctx) })

	if cfg.Sync.EmbeddedWorkers {
		proc, err := app.Processor(cache)
		if err != nil {
			return err
		}
		app.AlertSink(gctx)
		g.Go(func() error { return proc.Run(gctx) })
	}

	h := admin.NewHandler(orch, app.Search(cache))
	cors := middleware.DefaultCORSConfig()
	cors.AllowOrigins = cfg.Server.CORSOrigins
	var limiter *middleware.Limiter
	if cfg.Server.SearchRateLimit > 0 {
		limiter = middleware.NewLimiter(cfg.Server.SearchRateLimit, time.Minute)
		go limiter.Run(gctx, 5*time.Minute)
	}
	server := &http.Server{
		Addr: fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: admin.NewRouter(h, admin.RouterConfig{
			Health:         app.Health(),
			Metrics:        prom,
			RequestTimeout: cfg.Server.RequestTimeout,
			CORS:           cors,
			SearchLimiter:  limiter,
		}),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		slog.Info("search sync api listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	return g.Wait()
}
