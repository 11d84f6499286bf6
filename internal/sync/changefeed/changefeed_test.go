package changefeed

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/business-search-sync/internal/sync/jobs"
	"github.com/Adithya-Monish-Kumar-K/business-search-sync/internal/sync/orchestrator"
	"github.com/Adithya-Monish-Kumar-K/business-search-sync/pkg/metrics"
)

type recordingEnqueuer struct {
	requests []orchestrator.IncrementalRequest
	err      error
}

func (r *recordingEnqueuer) SyncIncremental(_ context.Context, req orchestrator.IncrementalRequest) (orchestrator.Enqueued, error) {
	if r.err != nil {
		return orchestrator.Enqueued{}, r.err
	}
	r.requests = append(r.requests, req)
	return orchestrator.Enqueued{JobID: "job-1"}, nil
}

func TestHandlerQueuesChangeEvents(t *testing.T) {
	prom := metrics.NewWithRegistry(prometheus.NewRegistry())
	e := &recordingEnqueuer{}
	h := Handler(e, prom)

	err := h(context.Background(), []byte("b-1"),
		[]byte(`{"entityId":"b-1","operation":"update","tenantId":"t-1","organizationId":"o-1"}`))
	require.NoError(t, err)

	require.Len(t, e.requests, 1)
	assert.Equal(t, orchestrator.IncrementalRequest{
		Operation:      jobs.OpUpdate,
		EntityID:       "b-1",
		TenantID:       "t-1",
		OrganizationID: "o-1",
	}, e.requests[0])
	assert.Equal(t, 1.0, testutil.ToFloat64(prom.ChangeEventsTotal.WithLabelValues("queued")))
}

func TestHandlerSkipsMalformedEvents(t *testing.T) {
	prom := metrics.NewWithRegistry(prometheus.NewRegistry())
	e := &recordingEnqueuer{}
	h := Handler(e, prom)

	assert.NoError(t, h(context.Background(), nil, []byte(`{not json`)))
	assert.Empty(t, e.requests)
	assert.Equal(t, 1.0, testutil.ToFloat64(prom.ChangeEventsTotal.WithLabelValues("invalid")))
}

func TestHandlerSkipsEventsTheOrchestratorRejects(t *testing.T) {
	prom := metrics.NewWithRegistry(prometheus.NewRegistry())
	e := &recordingEnqueuer{err: &jobs.ValidationError{Fields: map[string]string{"entityId": "required"}}}
	h := Handler(e, prom)

	assert.NoError(t, h(context.Background(), nil, []byte(`{"operation":"index"}`)))
	assert.Equal(t, 1.0, testutil.ToFloat64(prom.ChangeEventsTotal.WithLabelValues("invalid")))
}

func TestHandlerReturnsQueueFailures(t *testing.T) {
	e := &recordingEnqueuer{err: errors.New("redis: connection refused")}
	h := Handler(e, nil)

	err := h(context.Background(), nil, []byte(`{"entityId":"b-1","operation":"delete"}`))
	assert.Error(t, err)
}
