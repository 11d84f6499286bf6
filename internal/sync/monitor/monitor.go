// Package monitor tracks per-job sync metrics, keeps a bounded in-memory
// history of them, and fans alerts out to registered sinks.
package monitor

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/Adithya-Monish-Kumar-K/business-search-sync/pkg/metrics"
)

// Status is the lifecycle state of a sync job.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Metrics are the counters of one job execution. Values are passed around
// by copy; the history keeps the latest copy per job id.
type Metrics struct {
	JobID        string    `json:"jobId,omitempty"`
	JobType      string    `json:"jobType,omitempty"`
	SuccessCount int       `json:"successCount"`
	FailureCount int       `json:"failureCount"`
	TotalCount   int       `json:"totalCount"`
	InvalidCount int       `json:"invalidCount"`
	DurationMs   int64     `json:"durationMs"`
	StartedAt    time.Time `json:"startedAt"`
	Status       Status    `json:"status"`
}

// Duration returns the elapsed time recorded in m.
func (m Metrics) Duration() time.Duration {
	return time.Duration(m.DurationMs) * time.Millisecond
}

// Summary aggregates the retained history.
type Summary struct {
	TotalJobs         int   `json:"totalJobs"`
	SuccessfulJobs    int   `json:"successfulJobs"`
	FailedJobs        int   `json:"failedJobs"`
	TotalSuccessCount int   `json:"totalSuccessCount"`
	TotalFailureCount int   `json:"totalFailureCount"`
	TotalInvalidCount int   `json:"totalInvalidCount"`
	AverageDurationMs int64 `json:"averageDurationMs"`
}

const defaultHistorySize = 1000

// Monitor records job metrics and emits alerts.
type Monitor struct {
	history *lru.Cache[string, Metrics]
	prom    *metrics.Metrics
	now     func() time.Time
	logger  *slog.Logger

	mu    sync.RWMutex
	sinks []Sink
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithPrometheus mirrors completions and alerts into m.
func WithPrometheus(m *metrics.Metrics) Option {
	return func(mon *Monitor) { mon.prom = m }
}

// WithClock replaces the wall clock.
func WithClock(now func() time.Time) Option {
	return func(mon *Monitor) { mon.now = now }
}

// New creates a Monitor retaining at most historySize jobs, evicting the
// least recently touched.
func New(historySize int, opts ...Option) (*Monitor, error) {
	if historySize <= 0 {
		historySize = defaultHistorySize
	}
	history, err := lru.New[string, Metrics](historySize)
	if err != nil {
		return nil, fmt.Errorf("creating metrics history: %w", err)
	}
	m := &Monitor{
		history: history,
		now:     time.Now,
		logger:  slog.Default().With("component", "sync-monitor"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Create starts a pending Metrics for jobID.
func (m *Monitor) Create(jobID, jobType string) Metrics {
	return Metrics{
		JobID:     jobID,
		JobType:   jobType,
		StartedAt: m.now(),
		Status:    StatusPending,
	}
}

// Start marks mt as processing and records it.
func (m *Monitor) Start(mt Metrics) Metrics {
	mt.Status = StatusProcessing
	m.store(mt)
	return mt
}

// Update replaces the counters of mt, refreshes its duration and records
// it.
func (m *Monitor) Update(mt Metrics, success, failure, total int) Metrics {
	mt.SuccessCount = success
	mt.FailureCount = failure
	mt.TotalCount = total
	mt.DurationMs = m.elapsed(mt)
	m.store(mt)
	return mt
}

// RecordSuccess counts one successful entity.
func (m *Monitor) RecordSuccess(mt Metrics) Metrics {
	return m.Update(mt, mt.SuccessCount+1, mt.FailureCount, mt.TotalCount+1)
}

// RecordFailure counts one failed entity.
func (m *Monitor) RecordFailure(mt Metrics) Metrics {
	return m.Update(mt, mt.SuccessCount, mt.FailureCount+1, mt.TotalCount+1)
}

// RecordInvalid counts n documents dropped by validation. They are not part
// of SuccessCount, FailureCount or TotalCount.
func (m *Monitor) RecordInvalid(mt Metrics, n int) Metrics {
	mt.InvalidCount += n
	if m.prom != nil && n > 0 {
		m.prom.DocsInvalidTotal.Add(float64(n))
	}
	m.store(mt)
	return mt
}

// Complete finalises mt with a terminal status.
func (m *Monitor) Complete(mt Metrics, status Status) Metrics {
	mt.Status = status
	mt.DurationMs = m.elapsed(mt)
	m.store(mt)
	if m.prom != nil {
		m.prom.SyncJobsTotal.WithLabelValues(mt.JobType, string(status)).Inc()
		m.prom.SyncJobDuration.WithLabelValues(mt.JobType).Observe(mt.Duration().Seconds())
		if mt.SuccessCount > 0 {
			m.prom.DocsIndexedTotal.Add(float64(mt.SuccessCount))
		}
	}
	return mt
}

// Get returns the retained metrics of jobID.
func (m *Monitor) Get(jobID string) (Metrics, bool) {
	return m.history.Get(jobID)
}

// All returns the retained metrics, oldest first.
func (m *Monitor) All() []Metrics {
	keys := m.history.Keys()
	all := make([]Metrics, 0, len(keys))
	for _, k := range keys {
		if mt, ok := m.history.Peek(k); ok {
			all = append(all, mt)
		}
	}
	return all
}

// Clear drops jobID from the history, or everything when jobID is empty.
func (m *Monitor) Clear(jobID string) {
	if jobID == "" {
		m.history.Purge()
		return
	}
	m.history.Remove(jobID)
}

// Summary aggregates the retained history.
func (m *Monitor) Summary() Summary {
	all := m.All()
	var s Summary
	if len(all) == 0 {
		return s
	}
	var totalMs int64
	for _, mt := range all {
		switch mt.Status {
		case StatusCompleted:
			s.SuccessfulJobs++
		case StatusFailed:
			s.FailedJobs++
		}
		s.TotalSuccessCount += mt.SuccessCount
		s.TotalFailureCount += mt.FailureCount
		s.TotalInvalidCount += mt.InvalidCount
		totalMs += mt.DurationMs
	}
	s.TotalJobs = len(all)
	s.AverageDurationMs = (totalMs + int64(len(all))/2) / int64(len(all))
	return s
}

func (m *Monitor) elapsed(mt Metrics) int64 {
	if mt.StartedAt.IsZero() {
		return mt.DurationMs
	}
	return m.now().Sub(mt.StartedAt).Milliseconds()
}

func (m *Monitor) store(mt Metrics) {
	if mt.JobID != "" {
		m.history.Add(mt.JobID, mt)
	}
}
