package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/business-search-sync/internal/engine"
	"github.com/Adithya-Monish-Kumar-K/business-search-sync/internal/engine/enginetest"
	"github.com/Adithya-Monish-Kumar-K/business-search-sync/internal/store"
	"github.com/Adithya-Monish-Kumar-K/business-search-sync/internal/store/storetest"
	"github.com/Adithya-Monish-Kumar-K/business-search-sync/internal/sync/monitor"
	"github.com/Adithya-Monish-Kumar-K/business-search-sync/internal/transform"
	apperrors "github.com/Adithya-Monish-Kumar-K/business-search-sync/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/business-search-sync/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/business-search-sync/pkg/resilience"
)

const testIndex = "business_leads_test"

type harness struct {
	store   *storetest.Memory
	engine  *enginetest.Fake
	monitor *monitor.Monitor
	prom    *metrics.Metrics

	mu     sync.Mutex
	sleeps []time.Duration
	alerts []monitor.Alert
}

func newHarness(t *testing.T, entities ...store.Entity) *harness {
	t.Helper()
	h := &harness{
		store:  storetest.NewMemory(entities...),
		engine: enginetest.New(),
		prom:   metrics.NewWithRegistry(prometheus.NewRegistry()),
	}
	mon, err := monitor.New(100, monitor.WithPrometheus(h.prom))
	require.NoError(t, err)
	mon.OnAlert(monitor.SinkFunc(func(_ context.Context, a monitor.Alert) error {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.alerts = append(h.alerts, a)
		return nil
	}))
	h.monitor = mon
	return h
}

func (h *harness) sleep(_ context.Context, d time.Duration) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sleeps = append(h.sleeps, d)
	return nil
}

func (h *harness) rebuild(batchSize int) *RebuildJob {
	return NewRebuildJob(h.store, h.engine, transform.New(), h.monitor, h.prom, RebuildConfig{
		Index:     IndexTarget{Name: testIndex},
		BatchSize: batchSize,
		Retry:     RetryPolicy{MaxAttempts: 3, BaseDelay: 2 * time.Second, Sleep: h.sleep},
	})
}

func (h *harness) incremental() *IncrementalJob {
	return NewIncrementalJob(h.store, h.engine, transform.New(), h.monitor, h.prom, IncrementalConfig{
		Index: IndexTarget{Name: testIndex},
		Retry: RetryPolicy{MaxAttempts: 3, BaseDelay: time.Second, Sleep: h.sleep},
	})
}

func (h *harness) alertTypes() []monitor.AlertType {
	h.mu.Lock()
	defer h.mu.Unlock()
	types := make([]monitor.AlertType, 0, len(h.alerts))
	for _, a := range h.alerts {
		types = append(types, a.Type)
	}
	return types
}

func corpus(n int) []store.Entity {
	entities := make([]store.Entity, 0, n)
	for i := 0; i < n; i++ {
		entities = append(entities, store.Entity{
			ID:   fmt.Sprintf("b-%05d", i),
			Name: fmt.Sprintf("Business %d", i),
		})
	}
	return entities
}

func TestRebuildProcessesFixedSizeBatches(t *testing.T) {
	h := newHarness(t, corpus(2500)...)

	mt, err := h.rebuild(1000).Execute(context.Background(), "job-1", RebuildParams{})
	require.NoError(t, err)

	assert.Equal(t, []int{1000, 1000, 500}, h.engine.BulkSizes())
	assert.Equal(t, monitor.StatusCompleted, mt.Status)
	assert.Equal(t, 2500, mt.TotalCount)
	assert.Equal(t, 2500, mt.SuccessCount)
	assert.Equal(t, 0, mt.FailureCount)
	assert.Equal(t, mt.TotalCount, mt.SuccessCount+mt.FailureCount)
	assert.Equal(t, 2500, h.engine.DocCount(testIndex))
	assert.Empty(t, h.sleeps)
	assert.Equal(t, []monitor.AlertType{monitor.AlertSuccess}, h.alertTypes())

	stored, ok := h.monitor.Get("job-1")
	require.True(t, ok)
	assert.Equal(t, mt, stored)
}

func TestRebuildCreatesIndexFromSchema(t *testing.T) {
	h := newHarness(t, corpus(1)...)
	_, err := h.rebuild(10).Execute(context.Background(), "job-1", RebuildParams{})
	require.NoError(t, err)

	def, ok := h.engine.Indices[testIndex]
	require.True(t, ok)
	assert.Contains(t, def, "settings")
	assert.Contains(t, def, "mappings")
}

func TestRebuildBatchSizeOverride(t *testing.T) {
	h := newHarness(t, corpus(25)...)
	_, err := h.rebuild(1000).Execute(context.Background(), "job-1", RebuildParams{BatchSize: 10})
	require.NoError(t, err)
	assert.Equal(t, []int{10, 10, 5}, h.engine.BulkSizes())
}

func TestRebuildEmptyCorpusWarns(t *testing.T) {
	h := newHarness(t)

	mt, err := h.rebuild(1000).Execute(context.Background(), "job-1", RebuildParams{})
	require.NoError(t, err)

	assert.Equal(t, monitor.StatusCompleted, mt.Status)
	assert.Equal(t, 0, mt.TotalCount)
	assert.Empty(t, h.engine.BulkBatches)
	assert.Equal(t, []monitor.AlertType{monitor.AlertWarning}, h.alertTypes())
}

func TestRebuildContinuesPastFailedBatch(t *testing.T) {
	h := newHarness(t, corpus(2500)...)
	h.engine.BulkErr = func(call int, _ []engine.BulkItem) error {
		if call <= 3 {
			return apperrors.Transientf("status 503")
		}
		return nil
	}

	mt, err := h.rebuild(1000).Execute(context.Background(), "job-1", RebuildParams{})
	require.NoError(t, err)

	assert.Equal(t, []int{1000, 1000, 1000, 1000, 500}, h.engine.BulkSizes())
	assert.Equal(t, 1500, mt.SuccessCount)
	assert.Equal(t, 1000, mt.FailureCount)
	assert.Equal(t, 2500, mt.SuccessCount+mt.FailureCount)
	assert.Equal(t, monitor.StatusCompleted, mt.Status)
	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second}, h.sleeps)
	assert.Equal(t, []monitor.AlertType{monitor.AlertError}, h.alertTypes())
	assert.Equal(t, 1.0, testutil.ToFloat64(h.prom.BatchFailuresTotal))
	assert.Equal(t, 2.0, testutil.ToFloat64(h.prom.RetriesTotal.WithLabelValues("rebuild_bulk_index")))
}

func TestRebuildRejectedBatchIsNotRetried(t *testing.T) {
	h := newHarness(t, corpus(5)...)
	h.engine.BulkErr = func(int, []engine.BulkItem) error {
		return apperrors.New(apperrors.ErrEngineRequest, 502, "strict mapping")
	}

	mt, err := h.rebuild(1000).Execute(context.Background(), "job-1", RebuildParams{})
	require.NoError(t, err)
	assert.Len(t, h.engine.BulkBatches, 1)
	assert.Equal(t, 5, mt.FailureCount)
	assert.Empty(t, h.sleeps)
}

// rejectingEngine stores every bulk item except those in reject, reporting
// per-item outcomes the way the engine does for a partially rejected batch.
type rejectingEngine struct {
	*enginetest.Fake
	reject map[string]bool
}

func (e *rejectingEngine) BulkIndex(ctx context.Context, name string, items []engine.BulkItem) (*engine.BulkResult, error) {
	var accepted []engine.BulkItem
	res := &engine.BulkResult{}
	for _, it := range items {
		if e.reject[it.ID] {
			res.Items = append(res.Items, engine.BulkItemResult{
				ID:        it.ID,
				Status:    400,
				ErrorType: "mapper_parsing_exception",
				Reason:    "failed to parse field [location]",
			})
			continue
		}
		accepted = append(accepted, it)
		res.Items = append(res.Items, engine.BulkItemResult{ID: it.ID, Status: 201})
	}
	if _, err := e.Fake.BulkIndex(ctx, name, accepted); err != nil {
		return res, err
	}
	if len(res.FailedItems()) > 0 {
		return res, apperrors.Newf(apperrors.ErrEngineRequest, 502, "bulk indexing: %s", res.Summary())
	}
	return res, nil
}

func TestRebuildCountsPartiallyRejectedBatchPerItem(t *testing.T) {
	h := newHarness(t, corpus(10)...)
	eng := &rejectingEngine{Fake: h.engine, reject: map[string]bool{"b-00000": true}}
	job := NewRebuildJob(h.store, eng, transform.New(), h.monitor, h.prom, RebuildConfig{
		Index:     IndexTarget{Name: testIndex},
		BatchSize: 1000,
		Retry:     RetryPolicy{MaxAttempts: 3, BaseDelay: time.Second, Sleep: h.sleep},
	})

	mt, err := job.Execute(context.Background(), "job-1", RebuildParams{})
	require.NoError(t, err)

	assert.Equal(t, 9, mt.SuccessCount)
	assert.Equal(t, 1, mt.FailureCount)
	assert.Equal(t, mt.TotalCount, mt.SuccessCount+mt.FailureCount)
	assert.Equal(t, 9, h.engine.DocCount(testIndex))
	assert.Empty(t, h.sleeps)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.prom.BatchFailuresTotal))

	h.mu.Lock()
	defer h.mu.Unlock()
	require.Len(t, h.alerts, 1)
	assert.Equal(t, monitor.AlertError, h.alerts[0].Type)
	assert.Equal(t, "rebuild search index completed with 1 failed entities", h.alerts[0].Message)
}

func TestRebuildDropsInvalidDocuments(t *testing.T) {
	entities := corpus(5)
	entities[1].Name = ""
	entities[3].Name = ""
	h := newHarness(t, entities...)

	mt, err := h.rebuild(1000).Execute(context.Background(), "job-1", RebuildParams{})
	require.NoError(t, err)

	assert.Equal(t, []int{3}, h.engine.BulkSizes())
	assert.Equal(t, 3, mt.SuccessCount)
	assert.Equal(t, 0, mt.FailureCount)
	assert.Equal(t, 2, mt.InvalidCount)
	assert.Equal(t, 5, mt.TotalCount)
	_, indexed := h.engine.Doc(testIndex, entities[1].ID)
	assert.False(t, indexed)
	assert.Equal(t, 2.0, testutil.ToFloat64(h.prom.DocsInvalidTotal))
}

func TestRebuildSkipsBatchWithoutValidDocuments(t *testing.T) {
	entities := corpus(2)
	entities[0].Name = ""
	entities[1].Name = ""
	h := newHarness(t, entities...)

	mt, err := h.rebuild(1000).Execute(context.Background(), "job-1", RebuildParams{})
	require.NoError(t, err)
	assert.Empty(t, h.engine.BulkBatches)
	assert.Equal(t, 2, mt.InvalidCount)
	assert.Equal(t, monitor.StatusCompleted, mt.Status)
}

func TestRebuildTenantScope(t *testing.T) {
	entities := corpus(4)
	entities[0].TenantID = "t-1"
	entities[2].TenantID = "t-1"
	entities[3].TenantID = "t-2"
	h := newHarness(t, entities...)

	mt, err := h.rebuild(1000).Execute(context.Background(), "job-1", RebuildParams{TenantID: "t-1", OrganizationID: "org-7"})
	require.NoError(t, err)

	assert.Equal(t, 2, mt.SuccessCount)
	require.Equal(t, []int{2}, h.engine.BulkSizes())
	doc, ok := h.engine.BulkBatches[0][0].Doc.(transform.Document)
	require.True(t, ok)
	assert.Equal(t, "t-1", doc.TenantID)
	assert.Equal(t, "org-7", doc.OrganizationID)
}

func TestRebuildFailsWhenCountFails(t *testing.T) {
	h := newHarness(t, corpus(3)...)
	h.store.CountErr = errors.New("connection refused")

	mt, err := h.rebuild(1000).Execute(context.Background(), "job-1", RebuildParams{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
	assert.Equal(t, monitor.StatusFailed, mt.Status)
	assert.Equal(t, []monitor.AlertType{monitor.AlertError}, h.alertTypes())
}

func TestRebuildFailsWhenIndexCannotBeCreated(t *testing.T) {
	h := newHarness(t, corpus(3)...)
	h.engine.CreateErr = apperrors.Transientf("cluster unavailable")

	mt, err := h.rebuild(1000).Execute(context.Background(), "job-1", RebuildParams{})
	assert.ErrorIs(t, err, apperrors.ErrTransient)
	assert.Equal(t, monitor.StatusFailed, mt.Status)
	assert.Empty(t, h.engine.BulkBatches)
}

func TestRebuildCountsUnreadablePageAsFailure(t *testing.T) {
	h := newHarness(t, corpus(25)...)
	h.store.PageErr = func(_ int, offset int) error {
		if offset == 10 {
			return errors.New("statement timeout")
		}
		return nil
	}

	mt, err := h.rebuild(10).Execute(context.Background(), "job-1", RebuildParams{})
	require.NoError(t, err)
	assert.Equal(t, []int{10, 5}, h.engine.BulkSizes())
	assert.Equal(t, 15, mt.SuccessCount)
	assert.Equal(t, 10, mt.FailureCount)
}

func TestIncrementalIndexWritesDocument(t *testing.T) {
	for _, op := range []Operation{OpIndex, OpUpdate} {
		t.Run(string(op), func(t *testing.T) {
			h := newHarness(t, store.Entity{ID: "b-1", Name: "Acme", TenantID: "t-1"})

			mt, err := h.incremental().Execute(context.Background(), "job-1", IncrementalParams{Operation: op, EntityID: "b-1"})
			require.NoError(t, err)

			assert.Equal(t, monitor.StatusCompleted, mt.Status)
			assert.Equal(t, 1, mt.SuccessCount)
			assert.Equal(t, 1, mt.TotalCount)
			doc, ok := h.engine.Doc(testIndex, "b-1")
			require.True(t, ok)
			assert.Equal(t, "Acme", doc.(transform.Document).Name)
			assert.Equal(t, "t-1", doc.(transform.Document).TenantID)
			assert.Equal(t, []monitor.AlertType{monitor.AlertSuccess}, h.alertTypes())
		})
	}
}

func TestIncrementalMissingEntityFailsWithoutRetry(t *testing.T) {
	h := newHarness(t)

	mt, err := h.incremental().Execute(context.Background(), "job-1", IncrementalParams{Operation: OpIndex, EntityID: "ghost"})
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	assert.False(t, apperrors.IsRetryable(err))
	assert.Equal(t, monitor.StatusFailed, mt.Status)
	assert.Equal(t, 1, mt.FailureCount)
	assert.Equal(t, 1, h.store.FindCalls)
	assert.Zero(t, h.engine.IndexCalls)
	assert.Empty(t, h.sleeps)
	assert.Equal(t, []monitor.AlertType{monitor.AlertError}, h.alertTypes())
}

func TestIncrementalInvalidDocumentFailsWithoutRetry(t *testing.T) {
	h := newHarness(t, store.Entity{ID: "b-1"})

	_, err := h.incremental().Execute(context.Background(), "job-1", IncrementalParams{Operation: OpUpdate, EntityID: "b-1"})
	assert.ErrorIs(t, err, apperrors.ErrValidation)
	assert.Zero(t, h.engine.IndexCalls)
	assert.Empty(t, h.sleeps)
}

func TestIncrementalDeleteOfUnknownDocumentSucceeds(t *testing.T) {
	h := newHarness(t)

	mt, err := h.incremental().Execute(context.Background(), "job-1", IncrementalParams{Operation: OpDelete, EntityID: "never-indexed"})
	require.NoError(t, err)
	assert.Equal(t, monitor.StatusCompleted, mt.Status)
	assert.Equal(t, 1, h.engine.DeleteCalls)
	assert.Zero(t, h.store.FindCalls, "delete does not consult the store")
}

func TestIncrementalRetriesTransientFailures(t *testing.T) {
	h := newHarness(t, store.Entity{ID: "b-1", Name: "Acme"})
	h.engine.IndexErr = func(call int, _ string) error {
		if call <= 2 {
			return apperrors.Transientf("status 503")
		}
		return nil
	}

	mt, err := h.incremental().Execute(context.Background(), "job-1", IncrementalParams{Operation: OpIndex, EntityID: "b-1"})
	require.NoError(t, err)
	assert.Equal(t, 3, h.engine.IndexCalls)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, h.sleeps)
	assert.Equal(t, monitor.StatusCompleted, mt.Status)
}

func TestIncrementalExhaustsRetries(t *testing.T) {
	h := newHarness(t)
	h.engine.DeleteErr = func(int, string) error { return apperrors.Transientf("connection reset") }

	mt, err := h.incremental().Execute(context.Background(), "job-1", IncrementalParams{Operation: OpDelete, EntityID: "b-1"})
	require.Error(t, err)
	assert.ErrorIs(t, err, resilience.ErrRetriesExhausted)
	assert.Contains(t, err.Error(), "connection reset")
	assert.Equal(t, 3, h.engine.DeleteCalls)
	assert.Equal(t, monitor.StatusFailed, mt.Status)
}

func TestIncrementalRequiresEntityID(t *testing.T) {
	h := newHarness(t)
	_, err := h.incremental().Execute(context.Background(), "job-1", IncrementalParams{Operation: OpIndex})
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

func TestOperation(t *testing.T) {
	assert.True(t, OpRebuild.Valid())
	assert.False(t, OpRebuild.Incremental())
	assert.True(t, OpDelete.Incremental())
	assert.False(t, Operation("upsert").Valid())
}
