package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryConfig configures a Memory queue.
type MemoryConfig struct {
	StallTimeout time.Duration
	// Now replaces the wall clock, for tests.
	Now func() time.Time
}

// Memory is a single-process Queue.
type Memory struct {
	mu        sync.Mutex
	jobs      map[string]*Job
	waiting   []string
	leases    map[string]time.Time
	delayed   map[string]time.Time
	completed []string
	failed    []string
	paused    bool

	wake   chan struct{}
	events *broadcaster
	cfg    MemoryConfig
	logger *slog.Logger
}

var _ Queue = (*Memory)(nil)

// NewMemory creates an empty Memory queue.
func NewMemory(cfg MemoryConfig) *Memory {
	if cfg.StallTimeout <= 0 {
		cfg.StallTimeout = 30 * time.Minute
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	logger := slog.Default().With("component", "memory-queue")
	return &Memory{
		jobs:    make(map[string]*Job),
		leases:  make(map[string]time.Time),
		delayed: make(map[string]time.Time),
		wake:    make(chan struct{}, 1),
		events:  newBroadcaster(logger),
		cfg:     cfg,
		logger:  logger,
	}
}

func (m *Memory) Enqueue(_ context.Context, jobType string, payload any, opts EnqueueOptions) (string, error) {
	raw, err := marshalPayload(payload)
	if err != nil {
		return "", fmt.Errorf("encoding %s payload: %w", jobType, err)
	}
	opts = normalizeOptions(opts)
	job := &Job{
		ID:               uuid.NewString(),
		Type:             jobType,
		Payload:          raw,
		State:            StateWaiting,
		MaxAttempts:      opts.Attempts,
		Backoff:          opts.Backoff,
		RetainOnComplete: opts.RetainOnComplete,
		RetainOnFail:     opts.RetainOnFail,
		CreatedAt:        m.cfg.Now(),
	}
	m.mu.Lock()
	m.jobs[job.ID] = job
	m.waiting = append(m.waiting, job.ID)
	m.mu.Unlock()
	m.signal()
	return job.ID, nil
}

func (m *Memory) Dequeue(ctx context.Context, timeout time.Duration) (*Job, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for {
		job, nextDue := m.take()
		if job != nil {
			m.events.publish(Event{Type: EventActive, JobID: job.ID, JobType: job.Type, Attempt: job.AttemptsMade, Timestamp: m.cfg.Now()})
			return job, nil
		}
		var due *time.Timer
		var dueC <-chan time.Time
		if !nextDue.IsZero() {
			due = time.NewTimer(max(nextDue.Sub(m.cfg.Now()), time.Millisecond))
			dueC = due.C
		}
		select {
		case <-ctx.Done():
			stopTimer(due)
			return nil, ctx.Err()
		case <-deadline.C:
			stopTimer(due)
			return nil, nil
		case <-m.wake:
		case <-dueC:
		}
		stopTimer(due)
	}
}

// take pops the next waiting job, promoting due delayed jobs first. When
// nothing is ready it reports the earliest delayed due time.
func (m *Memory) take() (*Job, time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.cfg.Now()
	var nextDue time.Time
	var due []string
	for id, at := range m.delayed {
		if !at.After(now) {
			due = append(due, id)
		} else if nextDue.IsZero() || at.Before(nextDue) {
			nextDue = at
		}
	}
	sort.Slice(due, func(i, j int) bool { return m.delayed[due[i]].Before(m.delayed[due[j]]) })
	for _, id := range due {
		delete(m.delayed, id)
		m.jobs[id].State = StateWaiting
		m.waiting = append(m.waiting, id)
	}
	if m.paused || len(m.waiting) == 0 {
		return nil, nextDue
	}
	id := m.waiting[0]
	m.waiting = m.waiting[1:]
	job := m.jobs[id]
	job.State = StateActive
	job.AttemptsMade++
	job.ProcessedAt = now
	m.leases[id] = now.Add(m.cfg.StallTimeout)
	cp := *job
	return &cp, time.Time{}
}

func (m *Memory) Heartbeat(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.leases[id]; !ok {
		return fmt.Errorf("heartbeat %s: %w", id, ErrJobNotFound)
	}
	m.leases[id] = m.cfg.Now().Add(m.cfg.StallTimeout)
	return nil
}

func (m *Memory) Complete(_ context.Context, id string, result any) error {
	raw, err := marshalPayload(result)
	if err != nil {
		return fmt.Errorf("encoding result of %s: %w", id, err)
	}
	m.mu.Lock()
	job, ok := m.jobs[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("completing %s: %w", id, ErrJobNotFound)
	}
	delete(m.leases, id)
	job.State = StateCompleted
	job.Result = raw
	job.FinishedAt = m.cfg.Now()
	if job.RetainOnComplete {
		m.completed = append(m.completed, id)
	} else {
		delete(m.jobs, id)
	}
	ev := Event{Type: EventCompleted, JobID: id, JobType: job.Type, Attempt: job.AttemptsMade, Result: raw, Timestamp: job.FinishedAt}
	m.mu.Unlock()

	m.events.publish(ev)
	return nil
}

func (m *Memory) Fail(_ context.Context, id string, cause error, retryable bool) error {
	m.mu.Lock()
	job, ok := m.jobs[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("failing %s: %w", id, ErrJobNotFound)
	}
	delete(m.leases, id)
	now := m.cfg.Now()
	reason := errorText(cause)
	job.FailedReason = reason
	job.Stacktrace = append(job.Stacktrace, reason)
	willRetry := retryable && job.AttemptsMade < job.MaxAttempts
	if willRetry {
		job.State = StateDelayed
		m.delayed[id] = now.Add(job.Backoff.After(job.AttemptsMade))
	} else {
		job.State = StateFailed
		job.FinishedAt = now
		if job.RetainOnFail {
			m.failed = append(m.failed, id)
		} else {
			delete(m.jobs, id)
		}
	}
	ev := Event{Type: EventFailed, JobID: id, JobType: job.Type, Attempt: job.AttemptsMade, Error: reason, WillRetry: willRetry, Timestamp: now}
	m.mu.Unlock()

	m.events.publish(ev)
	if willRetry {
		m.signal()
	}
	return nil
}

func (m *Memory) GetJob(_ context.Context, id string) (*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, nil
	}
	cp := *job
	cp.Stacktrace = append([]string(nil), job.Stacktrace...)
	return &cp, nil
}

func (m *Memory) Counts(context.Context) (Counts, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Counts{
		Waiting:   int64(len(m.waiting)),
		Active:    int64(len(m.leases)),
		Delayed:   int64(len(m.delayed)),
		Completed: int64(len(m.completed)),
		Failed:    int64(len(m.failed)),
		Paused:    m.paused,
	}, nil
}

func (m *Memory) Pause(context.Context) error {
	m.mu.Lock()
	m.paused = true
	m.mu.Unlock()
	return nil
}

func (m *Memory) Resume(context.Context) error {
	m.mu.Lock()
	m.paused = false
	m.mu.Unlock()
	m.signal()
	return nil
}

func (m *Memory) Drain(context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.waiting) + len(m.delayed)
	for _, id := range m.waiting {
		delete(m.jobs, id)
	}
	for id := range m.delayed {
		delete(m.jobs, id)
	}
	m.waiting = nil
	m.delayed = make(map[string]time.Time)
	return n, nil
}

func (m *Memory) Clean(_ context.Context, state State) (int, error) {
	if err := checkCleanState(state); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := &m.completed
	if state == StateFailed {
		ids = &m.failed
	}
	n := len(*ids)
	for _, id := range *ids {
		delete(m.jobs, id)
	}
	*ids = nil
	return n, nil
}

func (m *Memory) RecoverStalled(context.Context) (int, error) {
	m.mu.Lock()
	now := m.cfg.Now()
	var stalled []Event
	for id, until := range m.leases {
		if until.After(now) {
			continue
		}
		delete(m.leases, id)
		job := m.jobs[id]
		job.State = StateWaiting
		m.waiting = append([]string{id}, m.waiting...)
		stalled = append(stalled, Event{Type: EventStalled, JobID: id, JobType: job.Type, Attempt: job.AttemptsMade, Timestamp: now})
	}
	m.mu.Unlock()

	for _, ev := range stalled {
		m.logger.Warn("job stalled, returned to waiting", "job_id", ev.JobID)
		m.events.publish(ev)
	}
	if len(stalled) > 0 {
		m.signal()
	}
	return len(stalled), nil
}

func (m *Memory) Events(ctx context.Context) <-chan Event {
	return m.events.subscribe(ctx)
}

func (m *Memory) Close() error {
	m.events.closeAll()
	return nil
}

func (m *Memory) signal() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

func errorText(err error) string {
	if err == nil {
		return "unknown error"
	}
	return err.Error()
}

func stopTimer(t *time.Timer) {
	if t != nil {
		t.Stop()
	}
}
