package jobs

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Adithya-Monish-Kumar-K/business-search-sync/internal/engine"
	"github.com/Adithya-Monish-Kumar-K/business-search-sync/internal/store"
	"github.com/Adithya-Monish-Kumar-K/business-search-sync/internal/sync/monitor"
	"github.com/Adithya-Monish-Kumar-K/business-search-sync/internal/transform"
	"github.com/Adithya-Monish-Kumar-K/business-search-sync/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/business-search-sync/pkg/tracing"
)

// RebuildParams scopes one rebuild run.
type RebuildParams struct {
	TenantID       string
	OrganizationID string
	BatchSize      int
}

// RebuildConfig configures a RebuildJob.
type RebuildConfig struct {
	Index     IndexTarget
	BatchSize int
	Retry     RetryPolicy
}

// RebuildJob re-indexes the corpus, or one tenant's slice of it, page by
// page.
type RebuildJob struct {
	store       store.EntityStore
	engine      engine.Engine
	transformer transform.Transformer
	monitor     *monitor.Monitor
	prom        *metrics.Metrics
	cfg         RebuildConfig
	logger      *slog.Logger
}

// NewRebuildJob creates a RebuildJob. prom may be nil.
func NewRebuildJob(
	s store.EntityStore,
	e engine.Engine,
	t transform.Transformer,
	mon *monitor.Monitor,
	prom *metrics.Metrics,
	cfg RebuildConfig,
) *RebuildJob {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	return &RebuildJob{
		store:       s,
		engine:      e,
		transformer: t,
		monitor:     mon,
		prom:        prom,
		cfg:         cfg,
		logger:      slog.Default().With("component", "rebuild-job"),
	}
}

// Execute runs the rebuild. A failed batch is counted against FailureCount
// and the loop moves on; only failures before the first batch (index
// creation, counting) fail the job, in which case the returned error is
// non-nil and the metrics carry status failed.
func (j *RebuildJob) Execute(ctx context.Context, jobID string, p RebuildParams) (monitor.Metrics, error) {
	log := j.logger.With("job_id", jobID)
	if p.TenantID != "" {
		log = log.With("tenant_id", p.TenantID)
	}
	batchSize := p.BatchSize
	if batchSize <= 0 {
		batchSize = j.cfg.BatchSize
	}
	index := j.cfg.Index.name()
	scope := store.Scope{TenantID: p.TenantID}

	mt := j.monitor.Start(j.monitor.Create(jobID, TypeRebuild))
	log.Info("rebuild started", "index", index, "batch_size", batchSize)

	ctx, span := tracing.Start(ctx, "rebuild", jobID)
	defer func() {
		span.End()
		span.Log(ctx, log)
	}()

	fail := func(err error) (monitor.Metrics, error) {
		log.Error("rebuild failed", "error", err)
		j.monitor.EmitError(ctx, fmt.Sprintf("rebuild search index failed: %v", err), &mt)
		return j.monitor.Complete(mt, monitor.StatusFailed), err
	}

	if err := ensureIndex(ctx, j.engine, j.cfg.Index); err != nil {
		return fail(err)
	}
	total, err := j.store.Count(ctx, scope)
	if err != nil {
		return fail(fmt.Errorf("counting entities: %w", err))
	}
	mt.TotalCount = total

	if total == 0 {
		log.Warn("no entities found to index")
		j.monitor.EmitWarning(ctx, "no entities found to index", &mt)
		return j.monitor.Complete(mt, monitor.StatusCompleted), nil
	}

	var success, failure, processed int
	for offset := 0; offset < total; offset += batchSize {
		bctx, batch := tracing.Child(ctx, "batch")
		batch.Set("offset", offset)
		fctx, fetch := tracing.Child(bctx, "fetch")
		var page []store.Entity
		err := j.cfg.Retry.run(fctx, "rebuild_fetch_page", j.prom, func() error {
			var ferr error
			page, ferr = j.store.FindPage(fctx, scope, offset, batchSize)
			return ferr
		})
		fetch.End()
		if err != nil {
			if ctx.Err() != nil {
				mt = j.monitor.Update(mt, success, failure, total)
				return fail(fmt.Errorf("fetching page at offset %d: %w", offset, err))
			}
			expected := min(batchSize, total-offset)
			failure += expected
			j.countBatchFailure()
			log.Error("fetching page failed, skipping batch", "offset", offset, "entities", expected, "error", err)
			batch.Set("error", err.Error())
			batch.End()
			continue
		}
		if len(page) == 0 {
			batch.End()
			break
		}

		written, rejected, invalid, err := j.writeBatch(bctx, page, p)
		if invalid > 0 {
			mt = j.monitor.RecordInvalid(mt, invalid)
		}
		success += written
		failure += rejected
		if err != nil {
			j.countBatchFailure()
			log.Error("bulk indexing batch failed", "offset", offset, "written", written, "rejected", rejected, "error", err)
		}
		processed += len(page)
		batch.Set("written", written)
		batch.Set("invalid", invalid)
		batch.End()
		mt = j.monitor.Update(mt, success, failure, total)
		log.Info("batch processed", "processed", processed, "total", total)
	}

	log.Info("rebuild completed",
		"success_count", success,
		"failure_count", failure,
		"invalid_count", mt.InvalidCount,
	)
	if failure > 0 {
		j.monitor.EmitError(ctx, fmt.Sprintf("rebuild search index completed with %d failed entities", failure), &mt)
	} else {
		j.monitor.EmitSuccess(ctx, "rebuild search index completed successfully", &mt)
	}
	return j.monitor.Complete(mt, monitor.StatusCompleted), nil
}

// writeBatch transforms page, drops documents that fail validation, and bulk
// writes the rest. It returns how many documents the engine stored, how many
// it rejected, and how many were dropped. When the engine reports per-item
// outcomes those are counted; a write that failed outright counts every
// document as rejected.
func (j *RebuildJob) writeBatch(ctx context.Context, page []store.Entity, p RebuildParams) (written, rejected, invalid int, err error) {
	docs := j.transformer.TransformBatch(page, p.TenantID, p.OrganizationID)
	items := make([]engine.BulkItem, 0, len(docs))
	for _, doc := range docs {
		if !j.transformer.Validate(doc) {
			invalid++
			j.logger.Warn("dropping invalid document", "entity_id", doc.ID)
			continue
		}
		items = append(items, engine.BulkItem{ID: doc.ID, Doc: doc})
	}
	if len(items) == 0 {
		j.logger.Warn("no valid documents in batch", "entities", len(page))
		return 0, 0, invalid, nil
	}

	index := j.cfg.Index.name()
	ctx, span := tracing.Child(ctx, "bulk_index")
	var res *engine.BulkResult
	err = j.cfg.Retry.run(ctx, "rebuild_bulk_index", j.prom, func() error {
		var berr error
		res, berr = j.engine.BulkIndex(ctx, index, items)
		return berr
	})
	span.End()
	if err == nil {
		return len(items), 0, invalid, nil
	}
	err = fmt.Errorf("bulk indexing %d documents: %w", len(items), err)
	if res == nil || len(res.Items) == 0 {
		return 0, len(items), invalid, err
	}
	failed := res.FailedItems()
	for _, it := range failed {
		j.logger.Warn("document rejected by engine",
			"entity_id", it.ID,
			"status", it.Status,
			"error_type", it.ErrorType,
			"reason", it.Reason,
		)
	}
	return res.Succeeded(), len(failed), invalid, err
}

func (j *RebuildJob) countBatchFailure() {
	if j.prom != nil {
		j.prom.BatchFailuresTotal.Inc()
	}
}
