package monitor

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/business-search-sync/pkg/metrics"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }

func newTestMonitor(t *testing.T, size int) (*Monitor, *fakeClock, *metrics.Metrics) {
	t.Helper()
	clock := &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	prom := metrics.NewWithRegistry(prometheus.NewRegistry())
	m, err := New(size, WithClock(clock.now), WithPrometheus(prom))
	require.NoError(t, err)
	return m, clock, prom
}

func TestLifecycleCountsAndDuration(t *testing.T) {
	m, clock, prom := newTestMonitor(t, 10)

	mt := m.Create("job-1", "rebuild-search-index")
	assert.Equal(t, StatusPending, mt.Status)
	_, ok := m.Get("job-1")
	assert.False(t, ok, "pending metrics are not recorded until started")

	mt = m.Start(mt)
	mt = m.RecordSuccess(mt)
	mt = m.RecordSuccess(mt)
	mt = m.RecordFailure(mt)
	clock.t = clock.t.Add(1500 * time.Millisecond)
	mt = m.Complete(mt, StatusCompleted)

	assert.Equal(t, 2, mt.SuccessCount)
	assert.Equal(t, 1, mt.FailureCount)
	assert.Equal(t, 3, mt.TotalCount)
	assert.Equal(t, int64(1500), mt.DurationMs)

	got, ok := m.Get("job-1")
	require.True(t, ok)
	assert.Equal(t, mt, got)

	assert.Equal(t, 1.0, testutil.ToFloat64(prom.SyncJobsTotal.WithLabelValues("rebuild-search-index", "completed")))
	assert.Equal(t, 2.0, testutil.ToFloat64(prom.DocsIndexedTotal))
}

func TestRecordInvalidIsSeparateFromTotals(t *testing.T) {
	m, _, prom := newTestMonitor(t, 10)
	mt := m.Start(m.Create("job-1", "rebuild-search-index"))
	mt = m.Update(mt, 8, 0, 10)
	mt = m.RecordInvalid(mt, 2)

	assert.Equal(t, 2, mt.InvalidCount)
	assert.Equal(t, 10, mt.TotalCount)
	assert.Equal(t, 8, mt.SuccessCount)
	assert.Equal(t, 2.0, testutil.ToFloat64(prom.DocsInvalidTotal))
}

func TestHistoryIsBoundedAndClearable(t *testing.T) {
	m, _, _ := newTestMonitor(t, 2)
	for _, id := range []string{"a", "b", "c"} {
		m.Complete(m.Create(id, "incremental-sync"), StatusCompleted)
	}

	all := m.All()
	require.Len(t, all, 2)
	assert.Equal(t, "b", all[0].JobID)
	assert.Equal(t, "c", all[1].JobID)

	m.Clear("b")
	assert.Len(t, m.All(), 1)
	m.Clear("")
	assert.Empty(t, m.All())
}

func TestMetricsWithoutJobIDAreNotRetained(t *testing.T) {
	m, _, _ := newTestMonitor(t, 10)
	m.Complete(m.Create("", "incremental-sync"), StatusCompleted)
	assert.Empty(t, m.All())
}

func TestSummary(t *testing.T) {
	m, clock, _ := newTestMonitor(t, 10)

	ok := m.Start(m.Create("ok", "rebuild-search-index"))
	ok = m.Update(ok, 90, 10, 100)
	clock.t = clock.t.Add(2 * time.Second)
	m.Complete(ok, StatusCompleted)

	bad := m.Start(m.Create("bad", "incremental-sync"))
	bad = m.RecordFailure(bad)
	m.Complete(bad, StatusFailed)

	s := m.Summary()
	assert.Equal(t, 2, s.TotalJobs)
	assert.Equal(t, 1, s.SuccessfulJobs)
	assert.Equal(t, 1, s.FailedJobs)
	assert.Equal(t, 90, s.TotalSuccessCount)
	assert.Equal(t, 11, s.TotalFailureCount)
	assert.Equal(t, int64(1000), s.AverageDurationMs)

	m.Clear("")
	assert.Equal(t, Summary{}, m.Summary())
}

func TestEmitFansOutAndIsolatesSinks(t *testing.T) {
	m, _, prom := newTestMonitor(t, 10)
	var buf bytes.Buffer
	m.logger = slog.New(slog.NewTextHandler(&buf, nil))

	var received []Alert
	m.OnAlert(SinkFunc(func(_ context.Context, a Alert) error {
		panic("sink exploded")
	}))
	m.OnAlert(SinkFunc(func(_ context.Context, a Alert) error {
		return errors.New("broker down")
	}))
	m.OnAlert(SinkFunc(func(_ context.Context, a Alert) error {
		received = append(received, a)
		return nil
	}))

	mt := m.Create("job-9", "rebuild-search-index")
	m.EmitWarning(context.Background(), "no entities to index", &mt)
	mt.SuccessCount = 99

	require.Len(t, received, 1)
	assert.Equal(t, AlertWarning, received[0].Type)
	assert.Equal(t, "no entities to index", received[0].Message)
	require.NotNil(t, received[0].Metrics)
	assert.Equal(t, 0, received[0].Metrics.SuccessCount, "alert carries a snapshot")

	out := buf.String()
	assert.Contains(t, out, "no entities to index")
	assert.Contains(t, out, "sink exploded")
	assert.Contains(t, out, "broker down")
	assert.Equal(t, 1.0, testutil.ToFloat64(prom.AlertsTotal.WithLabelValues("warning")))
}
