// Command searchsync-worker runs the sync job workers.
//
// Workers pull rebuild and incremental jobs from the shared queue. When Kafka
// is enabled the worker also consumes entity change events, turning each into
// an incremental job, and publishes job alerts to the alerts topic.
//
// Usage:
//
//	go run ./cmd/searchsync-worker [-config configs/development.yaml]
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

	"golang.org/x/sync/errgroup"

	"github.com/Adithya-Monish-Kumar-K/business-search-sync/internal/bootstrap"
	"github.com/Adithya-Monish-Kumar-K/business-search-sync/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/business-search-sync/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/business-search-sync/pkg/metrics"
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
	slog.Info("starting search sync worker",
		"workers", cfg.Sync.Workers,
		"queue", cfg.Sync.QueueName,
		"kafka_enabled", cfg.Kafka.Enabled,
	)

	if err := run(cfg); err != nil {
		slog.Error("search sync worker failed", "error", err)
		os.Exit(1)
	}
	slog.Info("search sync worker stopped")
}

func run(cfg *config.Config) error {
	prom := metrics.New()

	app, err := bootstrap.Open(cfg, prom, bootstrap.Needs{Queue: true, Store: true, Cache: true})
	if err != nil {
		return err
	}
	defer app.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	proc, err := app.Processor(app.Cache())
	if err != nil {
		return err
	}
	orch, err := app.Orchestrator()
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	if cfg.Metrics.Enabled {
		g.Go(func() error { return metrics.Serve(gctx, cfg.Metrics.Port) })
	}
	g.Go(func() error { return orch.Run(gctx) })
	g.Go(func() error { return proc.Run(gctx) })

	app.AlertSink(gctx)
	if feed := app.ChangeFeed(orch); feed != nil {
		g.Go(func() error {
			slog.Info("change feed started", "topic", cfg.Kafka.Topics.EntityChanges)
			return feed.Start(gctx)
		})
	}

	checker := app.Health()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      mux,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		slog.Info("worker health endpoint listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	return g.Wait()
}
