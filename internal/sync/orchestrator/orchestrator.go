// Package orchestrator is the administrative entry point of the sync
// pipeline. It enqueues rebuild and incremental jobs, answers status and
// statistics queries, and controls the queue.
//
// Job status is kept in a bounded cache owned by the goroutine running Run
// and is fed only by queue lifecycle events. The cache is local to this
// process: a replica that neither enqueued nor observed a job reports it as
// not-found.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"

	"github.com/Adithya-Monish-Kumar-K/business-search-sync/internal/sync/jobs"
	"github.com/Adithya-Monish-Kumar-K/business-search-sync/internal/sync/monitor"
	"github.com/Adithya-Monish-Kumar-K/business-search-sync/internal/sync/queue"
	apperrors "github.com/Adithya-Monish-Kumar-K/business-search-sync/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/business-search-sync/pkg/metrics"
)

// ErrStopped is returned by queries issued after Run has returned.
var ErrStopped = errors.New("orchestrator stopped")

// Status is the orchestrator's view of a job.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusNotFound   Status = "not-found"
)

// JobStatus answers a status lookup.
type JobStatus struct {
	JobID       string          `json:"jobId"`
	Status      Status          `json:"status"`
	Type        string          `json:"type,omitempty"`
	Attempts    int             `json:"attempts,omitempty"`
	MaxAttempts int             `json:"maxAttempts,omitempty"`
	Error       string          `json:"error,omitempty"`
	Stacktrace  []string        `json:"stacktrace,omitempty"`
	Result      json.RawMessage `json:"result,omitempty"`
	UpdatedAt   time.Time       `json:"updatedAt,omitzero"`
	Message     string          `json:"message,omitempty"`
}

// Stats aggregates queue counts and the job metrics summary.
type Stats struct {
	Queue   queue.Counts    `json:"queue"`
	Metrics monitor.Summary `json:"metrics"`
}

// Enqueued is returned by every enqueue operation.
type Enqueued struct {
	JobID   string `json:"jobId"`
	Message string `json:"message"`
}

// Config holds queue-level retry settings and the status cache bound.
type Config struct {
	QueueAttempts      int
	RebuildBackoff     time.Duration
	IncrementalBackoff time.Duration
	StatusCacheSize    int
}

func (c Config) withDefaults() Config {
	if c.QueueAttempts <= 0 {
		c.QueueAttempts = 3
	}
	if c.RebuildBackoff <= 0 {
		c.RebuildBackoff = 2 * time.Second
	}
	if c.IncrementalBackoff <= 0 {
		c.IncrementalBackoff = time.Second
	}
	if c.StatusCacheSize <= 0 {
		c.StatusCacheSize = 1000
	}
	return c
}

type request func(statuses *simplelru.LRU[string, JobStatus])

// Orchestrator enqueues sync jobs and tracks their status.
type Orchestrator struct {
	queue   queue.Queue
	monitor *monitor.Monitor
	prom    *metrics.Metrics
	cfg     Config
	logger  *slog.Logger
	now     func() time.Time

	requests chan request
	stopped  chan struct{}
	statuses *simplelru.LRU[string, JobStatus]
}

// New creates an Orchestrator. Run must be started before status lookups or
// enqueues are made. prom may be nil.
func New(q queue.Queue, mon *monitor.Monitor, prom *metrics.Metrics, cfg Config) (*Orchestrator, error) {
	cfg = cfg.withDefaults()
	statuses, err := simplelru.NewLRU[string, JobStatus](cfg.StatusCacheSize, nil)
	if err != nil {
		return nil, fmt.Errorf("creating status cache: %w", err)
	}
	return &Orchestrator{
		queue:    q,
		monitor:  mon,
		prom:     prom,
		cfg:      cfg,
		logger:   slog.Default().With("component", "sync-orchestrator"),
		now:      time.Now,
		requests: make(chan request),
		stopped:  make(chan struct{}),
		statuses: statuses,
	}, nil
}

// Run applies queue events and serves status requests until ctx is done.
func (o *Orchestrator) Run(ctx context.Context) error {
	defer close(o.stopped)
	events := o.queue.Events(ctx)
	o.logger.Info("orchestrator listening for queue events")
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			o.apply(ev)
		case req := <-o.requests:
			req(o.statuses)
		}
	}
}

// apply folds one lifecycle event into the status cache.
func (o *Orchestrator) apply(ev queue.Event) {
	log := o.logger.With("job_id", ev.JobID, "job_type", ev.JobType)
	if ev.Type == queue.EventError {
		log.Error("queue error", "error", ev.Error)
		return
	}
	st, _ := o.statuses.Peek(ev.JobID)
	st.JobID = ev.JobID
	if ev.JobType != "" {
		st.Type = ev.JobType
	}
	if ev.Attempt > 0 {
		st.Attempts = ev.Attempt
	}
	st.UpdatedAt = ev.Timestamp
	switch ev.Type {
	case queue.EventActive:
		st.Status = StatusProcessing
	case queue.EventCompleted:
		log.Info("job completed")
		st.Status = StatusCompleted
		st.Result = ev.Result
		st.Error = ""
	case queue.EventFailed:
		st.Error = ev.Error
		if ev.WillRetry {
			log.Warn("job failed, will retry", "attempt", ev.Attempt, "error", ev.Error)
			st.Status = StatusPending
		} else {
			log.Error("job failed", "attempt", ev.Attempt, "error", ev.Error)
			st.Status = StatusFailed
		}
	case queue.EventStalled:
		log.Warn("job stalled")
		st.Status = StatusPending
	default:
		return
	}
	o.statuses.Add(ev.JobID, st)
}

// call runs fn on the Run goroutine and waits for it.
func (o *Orchestrator) call(ctx context.Context, fn request) error {
	done := make(chan struct{})
	wrapped := func(s *simplelru.LRU[string, JobStatus]) {
		fn(s)
		close(done)
	}
	select {
	case o.requests <- wrapped:
	case <-o.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RebuildRequest scopes a rebuild. The zero value rebuilds the whole corpus
// with the configured batch size.
type RebuildRequest struct {
	TenantID       string `json:"tenantId,omitempty"`
	OrganizationID string `json:"organizationId,omitempty"`
	BatchSize      int    `json:"batchSize,omitempty"`
}

// Rebuild enqueues a rebuild job.
func (o *Orchestrator) Rebuild(ctx context.Context, r RebuildRequest) (Enqueued, error) {
	d := jobs.Descriptor{
		Operation:      jobs.OpRebuild,
		TenantID:       r.TenantID,
		OrganizationID: r.OrganizationID,
		BatchSize:      r.BatchSize,
	}
	id, err := o.enqueue(ctx, d, o.cfg.RebuildBackoff)
	if err != nil {
		return Enqueued{}, err
	}
	log := o.logger.With("job_id", id)
	if r.TenantID != "" {
		log = log.With("tenant_id", r.TenantID)
	}
	log.Info("rebuild job queued")
	return Enqueued{JobID: id, Message: "Rebuild search index job queued successfully"}, nil
}

// RebuildCorpus enqueues an unscoped rebuild. A zero batchSize uses the
// worker's default.
func (o *Orchestrator) RebuildCorpus(ctx context.Context, batchSize int) (Enqueued, error) {
	return o.Rebuild(ctx, RebuildRequest{BatchSize: batchSize})
}

// RebuildTenant enqueues a rebuild limited to one tenant.
func (o *Orchestrator) RebuildTenant(ctx context.Context, tenantID, organizationID string) (Enqueued, error) {
	if tenantID == "" {
		return Enqueued{}, &jobs.ValidationError{Fields: map[string]string{"tenantId": "tenantId is required"}}
	}
	return o.Rebuild(ctx, RebuildRequest{TenantID: tenantID, OrganizationID: organizationID})
}

// IncrementalRequest describes one entity mutation.
type IncrementalRequest struct {
	Operation      jobs.Operation `json:"operation"`
	EntityID       string         `json:"entityId"`
	EntityType     string         `json:"entityType,omitempty"`
	TenantID       string         `json:"tenantId,omitempty"`
	OrganizationID string         `json:"organizationId,omitempty"`
}

// SyncIncremental enqueues an index, update or delete job.
func (o *Orchestrator) SyncIncremental(ctx context.Context, r IncrementalRequest) (Enqueued, error) {
	if !r.Operation.Incremental() {
		return Enqueued{}, &jobs.ValidationError{Fields: map[string]string{
			"operation": fmt.Sprintf("must be one of index, update, delete; got %q", r.Operation),
		}}
	}
	entityType := r.EntityType
	if entityType == "" {
		entityType = jobs.DefaultEntityType
	}
	d := jobs.Descriptor{
		Operation:      r.Operation,
		EntityID:       r.EntityID,
		EntityType:     entityType,
		TenantID:       r.TenantID,
		OrganizationID: r.OrganizationID,
	}
	id, err := o.enqueue(ctx, d, o.cfg.IncrementalBackoff)
	if err != nil {
		return Enqueued{}, err
	}
	o.logger.Info("incremental sync job queued",
		"job_id", id,
		"operation", string(r.Operation),
		"entity_id", r.EntityID,
	)
	return Enqueued{JobID: id, Message: "Incremental sync job queued successfully"}, nil
}

// IndexEntity enqueues an index of one entity.
func (o *Orchestrator) IndexEntity(ctx context.Context, entityID, tenantID, organizationID string) (Enqueued, error) {
	return o.SyncIncremental(ctx, IncrementalRequest{Operation: jobs.OpIndex, EntityID: entityID, TenantID: tenantID, OrganizationID: organizationID})
}

// UpdateEntity enqueues a re-index of one entity.
func (o *Orchestrator) UpdateEntity(ctx context.Context, entityID, tenantID, organizationID string) (Enqueued, error) {
	return o.SyncIncremental(ctx, IncrementalRequest{Operation: jobs.OpUpdate, EntityID: entityID, TenantID: tenantID, OrganizationID: organizationID})
}

// DeleteEntity enqueues removal of one entity's document.
func (o *Orchestrator) DeleteEntity(ctx context.Context, entityID, tenantID, organizationID string) (Enqueued, error) {
	return o.SyncIncremental(ctx, IncrementalRequest{Operation: jobs.OpDelete, EntityID: entityID, TenantID: tenantID, OrganizationID: organizationID})
}

func (o *Orchestrator) enqueue(ctx context.Context, d jobs.Descriptor, backoff time.Duration) (string, error) {
	d = d.Normalize()
	if err := d.Validate(); err != nil {
		return "", err
	}
	id, err := o.queue.Enqueue(ctx, d.JobType(), d, queue.EnqueueOptions{
		Attempts:         o.cfg.QueueAttempts,
		Backoff:          queue.Backoff{Type: queue.BackoffExponential, Delay: backoff},
		RetainOnComplete: true,
		RetainOnFail:     true,
	})
	if err != nil {
		o.logger.Error("failed to queue job", "job_type", d.JobType(), "error", err)
		return "", fmt.Errorf("queueing %s job: %w", d.JobType(), err)
	}
	pending := JobStatus{
		JobID:       id,
		Status:      StatusPending,
		Type:        d.JobType(),
		MaxAttempts: o.cfg.QueueAttempts,
		UpdatedAt:   o.now(),
	}
	// An event for the job may already have been applied.
	err = o.call(ctx, func(s *simplelru.LRU[string, JobStatus]) {
		if !s.Contains(id) {
			s.Add(id, pending)
		}
	})
	if err != nil {
		o.logger.Warn("job queued but status not recorded", "job_id", id, "error", err)
	}
	return id, nil
}

// JobStatus reports what this process knows about id. Unknown ids report
// StatusNotFound. Known ids are enriched with the queue's attempt count,
// failure reason and stacktrace when the queue still holds the job.
func (o *Orchestrator) JobStatus(ctx context.Context, id string) (JobStatus, error) {
	var st JobStatus
	var ok bool
	if err := o.call(ctx, func(s *simplelru.LRU[string, JobStatus]) {
		st, ok = s.Get(id)
	}); err != nil {
		return JobStatus{}, err
	}
	if !ok {
		return JobStatus{JobID: id, Status: StatusNotFound, Message: "Job not found"}, nil
	}

	job, err := o.queue.GetJob(ctx, id)
	if err != nil {
		o.logger.Warn("reading job from queue", "job_id", id, "error", err)
		return st, nil
	}
	if job != nil {
		st.Type = job.Type
		st.Attempts = job.AttemptsMade
		st.MaxAttempts = job.MaxAttempts
		st.Stacktrace = job.Stacktrace
		if st.Error == "" {
			st.Error = job.FailedReason
		}
		if len(st.Result) == 0 {
			st.Result = job.Result
		}
	}
	return st, nil
}

// Stats returns queue counts and the metrics summary.
func (o *Orchestrator) Stats(ctx context.Context) (Stats, error) {
	counts, err := o.queue.Counts(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("%w: reading queue counts: %w", apperrors.ErrQueue, err)
	}
	if o.prom != nil {
		counts.Observe(o.prom)
	}
	return Stats{Queue: counts, Metrics: o.monitor.Summary()}, nil
}

// Pause stops workers from taking new jobs. Active jobs finish.
func (o *Orchestrator) Pause(ctx context.Context) error {
	if err := o.queue.Pause(ctx); err != nil {
		return fmt.Errorf("pausing queue: %w", err)
	}
	o.logger.Info("search sync queue paused")
	return nil
}

// Resume lets workers take jobs again.
func (o *Orchestrator) Resume(ctx context.Context) error {
	if err := o.queue.Resume(ctx); err != nil {
		return fmt.Errorf("resuming queue: %w", err)
	}
	o.logger.Info("search sync queue resumed")
	return nil
}

// Drain removes queued jobs that have not started.
func (o *Orchestrator) Drain(ctx context.Context) (int, error) {
	n, err := o.queue.Drain(ctx)
	if err != nil {
		return 0, fmt.Errorf("draining queue: %w", err)
	}
	o.logger.Info("search sync queue drained", "removed", n)
	return n, nil
}

// Clean removes retained completed and failed jobs.
func (o *Orchestrator) Clean(ctx context.Context) (int, error) {
	total := 0
	for _, state := range []queue.State{queue.StateCompleted, queue.StateFailed} {
		n, err := o.queue.Clean(ctx, state)
		if err != nil {
			return total, fmt.Errorf("cleaning %s jobs: %w", state, err)
		}
		total += n
	}
	o.logger.Info("search sync queue cleaned", "removed", total)
	return total, nil
}
