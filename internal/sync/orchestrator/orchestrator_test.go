package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/business-search-sync/internal/sync/jobs"
	"github.com/Adithya-Monish-Kumar-K/business-search-sync/internal/sync/monitor"
	"github.com/Adithya-Monish-Kumar-K/business-search-sync/internal/sync/queue"
	apperrors "github.com/Adithya-Monish-Kumar-K/business-search-sync/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/business-search-sync/pkg/metrics"
)

const tenant = "5d8c1a52-9e0f-4a63-8c2e-0f3b1d6a7e44"

type running struct {
	*Orchestrator
	prom *metrics.Metrics
	stop func()
}

func start(t *testing.T, q queue.Queue, cfg Config) *running {
	t.Helper()
	mon, err := monitor.New(10)
	require.NoError(t, err)
	prom := metrics.NewWithRegistry(prometheus.NewRegistry())
	o, err := New(q, mon, prom, cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		o.Run(ctx)
	}()
	var once sync.Once
	stop := func() {
		once.Do(func() {
			cancel()
			<-done
		})
	}
	t.Cleanup(stop)
	return &running{Orchestrator: o, prom: prom, stop: stop}
}

func waitStatus(t *testing.T, o *running, id string, want Status) JobStatus {
	t.Helper()
	var st JobStatus
	require.Eventually(t, func() bool {
		got, err := o.JobStatus(context.Background(), id)
		if err != nil {
			return false
		}
		st = got
		return got.Status == want
	}, 2*time.Second, 5*time.Millisecond, "job %s never reached %s", id, want)
	return st
}

func dequeue(t *testing.T, q queue.Queue) *queue.Job {
	t.Helper()
	job, err := q.Dequeue(context.Background(), time.Second)
	require.NoError(t, err)
	require.NotNil(t, job)
	return job
}

func TestRebuildCorpusEnqueuesWithRebuildBackoff(t *testing.T) {
	q := queue.NewMemory(queue.MemoryConfig{})
	o := start(t, q, Config{})
	ctx := context.Background()

	res, err := o.RebuildCorpus(ctx, 500)
	require.NoError(t, err)
	assert.NotEmpty(t, res.JobID)

	job, err := q.GetJob(ctx, res.JobID)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, jobs.TypeRebuild, job.Type)
	assert.Equal(t, 3, job.MaxAttempts)
	assert.Equal(t, queue.Backoff{Type: queue.BackoffExponential, Delay: 2 * time.Second}, job.Backoff)
	assert.True(t, job.RetainOnComplete)
	assert.True(t, job.RetainOnFail)
	assert.JSONEq(t, `{"operation":"rebuild","batchSize":500}`, string(job.Payload))

	st, err := o.JobStatus(ctx, res.JobID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, st.Status)
	assert.Equal(t, jobs.TypeRebuild, st.Type)
}

func TestRebuildTenant(t *testing.T) {
	q := queue.NewMemory(queue.MemoryConfig{})
	o := start(t, q, Config{})
	ctx := context.Background()

	res, err := o.RebuildTenant(ctx, tenant, "org-7")
	require.NoError(t, err)
	job, err := q.GetJob(ctx, res.JobID)
	require.NoError(t, err)
	var d jobs.Descriptor
	require.NoError(t, json.Unmarshal(job.Payload, &d))
	assert.Equal(t, tenant, d.TenantID)
	assert.Equal(t, "org-7", d.OrganizationID)

	_, err = o.RebuildTenant(ctx, "", "")
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
	_, err = o.RebuildTenant(ctx, "acme", "")
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

func TestIncrementalEnqueue(t *testing.T) {
	q := queue.NewMemory(queue.MemoryConfig{})
	o := start(t, q, Config{})
	ctx := context.Background()

	for _, tc := range []struct {
		op  jobs.Operation
		run func(context.Context, string, string, string) (Enqueued, error)
	}{
		{jobs.OpIndex, o.IndexEntity},
		{jobs.OpUpdate, o.UpdateEntity},
		{jobs.OpDelete, o.DeleteEntity},
	} {
		res, err := tc.run(ctx, "b-42", "", "")
		require.NoError(t, err, tc.op)
		job, err := q.GetJob(ctx, res.JobID)
		require.NoError(t, err)
		assert.Equal(t, jobs.TypeIncremental, job.Type)
		assert.Equal(t, time.Second, job.Backoff.Delay)
		var d jobs.Descriptor
		require.NoError(t, json.Unmarshal(job.Payload, &d))
		assert.Equal(t, tc.op, d.Operation)
		assert.Equal(t, "b-42", d.EntityID)
		assert.Equal(t, jobs.DefaultEntityType, d.EntityType)
	}
}

func TestInvalidRequestsAreNotQueued(t *testing.T) {
	q := queue.NewMemory(queue.MemoryConfig{})
	o := start(t, q, Config{})
	ctx := context.Background()

	_, err := o.IndexEntity(ctx, "", "", "")
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
	_, err = o.SyncIncremental(ctx, IncrementalRequest{Operation: jobs.OpRebuild, EntityID: "b-1"})
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
	_, err = o.RebuildCorpus(ctx, -5)
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)

	counts, err := q.Counts(ctx)
	require.NoError(t, err)
	assert.Zero(t, counts.Waiting)
}

func TestStatusFollowsQueueEvents(t *testing.T) {
	q := queue.NewMemory(queue.MemoryConfig{})
	o := start(t, q, Config{})
	ctx := context.Background()

	res, err := o.IndexEntity(ctx, "b-1", "", "")
	require.NoError(t, err)

	dequeue(t, q)
	st := waitStatus(t, o, res.JobID, StatusProcessing)
	assert.Equal(t, 1, st.Attempts)

	require.NoError(t, q.Complete(ctx, res.JobID, map[string]any{"success": true}))
	st = waitStatus(t, o, res.JobID, StatusCompleted)
	assert.JSONEq(t, `{"success":true}`, string(st.Result))
	assert.Equal(t, 3, st.MaxAttempts)
	assert.Empty(t, st.Error)
}

func TestStatusReportsRetryThenFailure(t *testing.T) {
	q := queue.NewMemory(queue.MemoryConfig{})
	o := start(t, q, Config{QueueAttempts: 2, IncrementalBackoff: time.Millisecond})
	ctx := context.Background()

	res, err := o.UpdateEntity(ctx, "b-1", "", "")
	require.NoError(t, err)

	dequeue(t, q)
	waitStatus(t, o, res.JobID, StatusProcessing)
	require.NoError(t, q.Fail(ctx, res.JobID, errors.New("engine returned 503"), true))
	st := waitStatus(t, o, res.JobID, StatusPending)
	assert.Equal(t, "engine returned 503", st.Error)

	dequeue(t, q)
	waitStatus(t, o, res.JobID, StatusProcessing)
	require.NoError(t, q.Fail(ctx, res.JobID, errors.New("engine returned 503 again"), true))
	st = waitStatus(t, o, res.JobID, StatusFailed)
	assert.Equal(t, "engine returned 503 again", st.Error)
	assert.Equal(t, 2, st.Attempts)
	assert.Equal(t, []string{"engine returned 503", "engine returned 503 again"}, st.Stacktrace)
}

func TestUnknownJobIsNotFound(t *testing.T) {
	q := queue.NewMemory(queue.MemoryConfig{})
	o := start(t, q, Config{})

	st, err := o.JobStatus(context.Background(), "does-not-exist")
	require.NoError(t, err)
	assert.Equal(t, StatusNotFound, st.Status)
	assert.Equal(t, "Job not found", st.Message)
}

func TestStatusIsLocalToTheObservingProcess(t *testing.T) {
	q := queue.NewMemory(queue.MemoryConfig{})
	first := start(t, q, Config{})
	ctx := context.Background()

	res, err := first.RebuildCorpus(ctx, 0)
	require.NoError(t, err)
	dequeue(t, q)
	require.NoError(t, q.Complete(ctx, res.JobID, nil))
	waitStatus(t, first, res.JobID, StatusCompleted)

	second := start(t, q, Config{})
	st, err := second.JobStatus(ctx, res.JobID)
	require.NoError(t, err)
	assert.Equal(t, StatusNotFound, st.Status)
}

func TestStatsAndQueueControl(t *testing.T) {
	q := queue.NewMemory(queue.MemoryConfig{})
	o := start(t, q, Config{})
	ctx := context.Background()

	done, err := o.IndexEntity(ctx, "b-1", "", "")
	require.NoError(t, err)
	dequeue(t, q)
	require.NoError(t, q.Complete(ctx, done.JobID, nil))
	for _, id := range []string{"b-2", "b-3"} {
		_, err := o.DeleteEntity(ctx, id, "", "")
		require.NoError(t, err)
	}

	require.NoError(t, o.Pause(ctx))
	stats, err := o.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.Queue.Waiting)
	assert.Equal(t, int64(1), stats.Queue.Completed)
	assert.True(t, stats.Queue.Paused)
	assert.Equal(t, monitor.Summary{}, stats.Metrics)
	assert.Equal(t, 2.0, testutil.ToFloat64(o.prom.QueueJobs.WithLabelValues("waiting")))

	require.NoError(t, o.Resume(ctx))
	n, err := o.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	n, err = o.Clean(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	stats, err = o.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, queue.Counts{}, stats.Queue)
}

func TestCallsAfterStopFail(t *testing.T) {
	q := queue.NewMemory(queue.MemoryConfig{})
	o := start(t, q, Config{})
	o.stop()

	_, err := o.JobStatus(context.Background(), "x")
	assert.ErrorIs(t, err, ErrStopped)
}

func TestIncrementalEnqueueTrimsEntityID(t *testing.T) {
	q := queue.NewMemory(queue.MemoryConfig{})
	o := start(t, q, Config{})
	ctx := context.Background()

	res, err := o.IndexEntity(ctx, " b-1 ", "", "")
	require.NoError(t, err)
	job, err := q.GetJob(ctx, res.JobID)
	require.NoError(t, err)
	var d jobs.Descriptor
	require.NoError(t, json.Unmarshal(job.Payload, &d))
	assert.Equal(t, "b-1", d.EntityID)
}
