// Package processor runs queued sync jobs. Each worker pulls a job, validates
// its descriptor, dispatches it to the rebuild or incremental job, and
// reports the outcome back to the queue so that retryable failures are
// rescheduled with the job's backoff.
package processor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Adithya-Monish-Kumar-K/business-search-sync/internal/sync/jobs"
	"github.com/Adithya-Monish-Kumar-K/business-search-sync/internal/sync/monitor"
	"github.com/Adithya-Monish-Kumar-K/business-search-sync/internal/sync/queue"
	apperrors "github.com/Adithya-Monish-Kumar-K/business-search-sync/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/business-search-sync/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/business-search-sync/pkg/metrics"
)

// RebuildRunner executes a rebuild descriptor.
type RebuildRunner interface {
	Execute(ctx context.Context, jobID string, p jobs.RebuildParams) (monitor.Metrics, error)
}

// IncrementalRunner executes an index, update or delete descriptor.
type IncrementalRunner interface {
	Execute(ctx context.Context, jobID string, p jobs.IncrementalParams) (monitor.Metrics, error)
}

// AfterSuccess is called once a job completed and wrote at least one
// document.
type AfterSuccess func(ctx context.Context, d jobs.Descriptor, mt monitor.Metrics)

// Config tunes the worker pool.
type Config struct {
	Workers      int
	PollInterval time.Duration
	// StallTimeout must match the queue's lease; heartbeats are sent at a
	// third of it.
	StallTimeout time.Duration
	// MaintenanceInterval paces stall recovery and the queue gauges.
	MaintenanceInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 1
	}
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.StallTimeout <= 0 {
		c.StallTimeout = 30 * time.Minute
	}
	if c.MaintenanceInterval <= 0 {
		c.MaintenanceInterval = min(c.StallTimeout/2, 30*time.Second)
	}
	return c
}

// Result is stored on the queue as the outcome of a completed job.
type Result struct {
	JobID   string          `json:"jobId"`
	Success bool            `json:"success"`
	Metrics monitor.Metrics `json:"metrics"`
}

// Processor is a pool of queue workers.
type Processor struct {
	queue       queue.Queue
	rebuild     RebuildRunner
	incremental IncrementalRunner
	afterHooks  []AfterSuccess
	cfg         Config
	prom        *metrics.Metrics
	logger      *slog.Logger
}

// New creates a Processor. prom may be nil.
func New(q queue.Queue, rebuild RebuildRunner, incremental IncrementalRunner, prom *metrics.Metrics, cfg Config) *Processor {
	return &Processor{
		queue:       q,
		rebuild:     rebuild,
		incremental: incremental,
		cfg:         cfg.withDefaults(),
		prom:        prom,
		logger:      slog.Default().With("component", "sync-processor"),
	}
}

// OnSuccess registers fn to run after every successful job. It must be
// called before Run.
func (p *Processor) OnSuccess(fn AfterSuccess) {
	p.afterHooks = append(p.afterHooks, fn)
}

// Run starts the workers and the maintenance loop and blocks until ctx is
// cancelled. Jobs already dequeued run to completion.
func (p *Processor) Run(ctx context.Context) error {
	p.logger.Info("processor starting",
		"workers", p.cfg.Workers,
		"poll_interval", p.cfg.PollInterval,
	)
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < p.cfg.Workers; i++ {
		worker := i
		g.Go(func() error {
			p.work(gctx, worker)
			return nil
		})
	}
	g.Go(func() error {
		p.maintain(gctx)
		return nil
	})
	err := g.Wait()
	p.logger.Info("processor stopped")
	return err
}

func (p *Processor) work(ctx context.Context, worker int) {
	log := p.logger.With("worker", worker)
	for ctx.Err() == nil {
		job, err := p.queue.Dequeue(ctx, p.cfg.PollInterval)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Error("dequeue failed", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(p.cfg.PollInterval):
			}
			continue
		}
		if job == nil {
			continue
		}
		// Shutdown stops dequeuing but lets the in-flight job finish.
		p.Process(context.WithoutCancel(ctx), job)
	}
}

// Process runs one dequeued job and reports its outcome to the queue.
func (p *Processor) Process(ctx context.Context, job *queue.Job) {
	ctx = logger.WithJobID(ctx, job.ID)
	log := logger.FromContext(ctx).With("component", "sync-processor", "job_type", job.Type, "attempt", job.AttemptsMade)

	stop := p.heartbeat(ctx, job.ID)
	d, mt, err := p.run(ctx, job)
	stop()

	if err != nil {
		retryable := isRetryable(err)
		log.Error("job failed", "error", err, "retryable", retryable)
		if ferr := p.queue.Fail(ctx, job.ID, err, retryable); ferr != nil {
			log.Error("recording job failure", "error", ferr)
		}
		return
	}

	result := Result{JobID: job.ID, Success: mt.Status == monitor.StatusCompleted, Metrics: mt}
	if cerr := p.queue.Complete(ctx, job.ID, result); cerr != nil {
		log.Error("recording job completion", "error", cerr)
	}
	log.Info("job completed",
		"success_count", mt.SuccessCount,
		"failure_count", mt.FailureCount,
		"duration_ms", mt.DurationMs,
	)
	if mt.SuccessCount > 0 {
		for _, fn := range p.afterHooks {
			fn(ctx, d, mt)
		}
	}
}

func (p *Processor) run(ctx context.Context, job *queue.Job) (d jobs.Descriptor, mt monitor.Metrics, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &panicError{value: r, stack: debug.Stack()}
		}
	}()
	d, err = jobs.DecodeDescriptor(job.Type, job.Payload)
	if err != nil {
		return d, mt, err
	}
	switch job.Type {
	case jobs.TypeRebuild:
		mt, err = p.rebuild.Execute(ctx, job.ID, d.RebuildParams())
	case jobs.TypeIncremental:
		mt, err = p.incremental.Execute(ctx, job.ID, d.IncrementalParams())
	default:
		err = apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest, "unknown job type %q", job.Type)
	}
	return d, mt, err
}

// heartbeat extends the job's lease until the returned stop func is called.
func (p *Processor) heartbeat(ctx context.Context, id string) func() {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		t := time.NewTicker(max(p.cfg.StallTimeout/3, time.Millisecond))
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				if err := p.queue.Heartbeat(ctx, id); err != nil && ctx.Err() == nil {
					p.logger.Warn("heartbeat failed", "job_id", id, "error", err)
				}
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

func (p *Processor) maintain(ctx context.Context) {
	t := time.NewTicker(p.cfg.MaintenanceInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			p.Maintain(ctx)
		}
	}
}

// Maintain returns stalled jobs to the queue and refreshes the queue gauges.
func (p *Processor) Maintain(ctx context.Context) {
	if n, err := p.queue.RecoverStalled(ctx); err != nil {
		p.logger.Error("recovering stalled jobs", "error", err)
	} else if n > 0 {
		p.logger.Warn("recovered stalled jobs", "count", n)
	}
	if p.prom == nil {
		return
	}
	counts, err := p.queue.Counts(ctx)
	if err != nil {
		p.logger.Error("reading queue counts", "error", err)
		return
	}
	counts.Observe(p.prom)
}

type panicError struct {
	value any
	stack []byte
}

func (e *panicError) Error() string {
	return fmt.Sprintf("job panicked: %v\n%s", e.value, e.stack)
}

// isRetryable decides whether the queue should schedule another attempt.
// Panics are bugs and are not retried.
func isRetryable(err error) bool {
	var pe *panicError
	if errors.As(err, &pe) {
		return false
	}
	return apperrors.IsRetryable(err)
}
