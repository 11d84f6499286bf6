// Package queue is the job queue the orchestrator enqueues into and the
// processor pulls from. Two backends share the Queue contract: Redis for
// multi-process deployments and an in-process memory queue for development
// and tests.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"time"

	"github.com/Adithya-Monish-Kumar-K/business-search-sync/pkg/metrics"
)

// ErrJobNotFound is returned when an operation names a job the queue does
// not hold.
var ErrJobNotFound = errors.New("job not found")

// State is where a job currently sits in the queue.
type State string

const (
	StateWaiting   State = "waiting"
	StateActive    State = "active"
	StateDelayed   State = "delayed"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// BackoffType selects how the retry delay grows with attempts.
type BackoffType string

const (
	BackoffExponential BackoffType = "exponential"
	BackoffFixed       BackoffType = "fixed"
)

// Backoff is the queue-level delay between attempts of a failed job.
type Backoff struct {
	Type  BackoffType   `json:"type"`
	Delay time.Duration `json:"delay"`
}

// After returns the delay before the attempt that follows attemptsMade
// failures.
func (b Backoff) After(attemptsMade int) time.Duration {
	if b.Delay <= 0 || attemptsMade <= 0 {
		return 0
	}
	if b.Type == BackoffFixed {
		return b.Delay
	}
	return time.Duration(float64(b.Delay) * math.Pow(2, float64(attemptsMade-1)))
}

// EnqueueOptions controls retries and retention of one job.
type EnqueueOptions struct {
	Attempts         int
	Backoff          Backoff
	RetainOnComplete bool
	RetainOnFail     bool
}

// Job is a queued unit of work.
type Job struct {
	ID               string          `json:"id"`
	Type             string          `json:"type"`
	Payload          json.RawMessage `json:"payload"`
	State            State           `json:"state"`
	AttemptsMade     int             `json:"attemptsMade"`
	MaxAttempts      int             `json:"maxAttempts"`
	Backoff          Backoff         `json:"backoff"`
	RetainOnComplete bool            `json:"-"`
	RetainOnFail     bool            `json:"-"`
	FailedReason     string          `json:"failedReason,omitempty"`
	Stacktrace       []string        `json:"stacktrace,omitempty"`
	Result           json.RawMessage `json:"result,omitempty"`
	CreatedAt        time.Time       `json:"createdAt"`
	ProcessedAt      time.Time       `json:"processedAt,omitzero"`
	FinishedAt       time.Time       `json:"finishedAt,omitzero"`
}

// Counts are the number of jobs per state.
type Counts struct {
	Waiting   int64 `json:"waiting"`
	Active    int64 `json:"active"`
	Delayed   int64 `json:"delayed"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Paused    bool  `json:"paused"`
}

// Observe publishes c on the sync_queue_jobs gauge.
func (c Counts) Observe(m *metrics.Metrics) {
	m.QueueJobs.WithLabelValues(string(StateWaiting)).Set(float64(c.Waiting))
	m.QueueJobs.WithLabelValues(string(StateActive)).Set(float64(c.Active))
	m.QueueJobs.WithLabelValues(string(StateDelayed)).Set(float64(c.Delayed))
	m.QueueJobs.WithLabelValues(string(StateCompleted)).Set(float64(c.Completed))
	m.QueueJobs.WithLabelValues(string(StateFailed)).Set(float64(c.Failed))
}

// EventType names a job lifecycle event.
type EventType string

const (
	EventActive    EventType = "active"
	EventCompleted EventType = "completed"
	EventFailed    EventType = "failed"
	EventStalled   EventType = "stalled"
	// EventError reports a broker-level failure not tied to a job.
	EventError EventType = "error"
)

// Event is a job lifecycle notification.
type Event struct {
	Type      EventType       `json:"type"`
	JobID     string          `json:"jobId,omitempty"`
	JobType   string          `json:"jobType,omitempty"`
	Attempt   int             `json:"attempt,omitempty"`
	Error     string          `json:"error,omitempty"`
	WillRetry bool            `json:"willRetry,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// Queue is the job queue contract.
type Queue interface {
	Enqueue(ctx context.Context, jobType string, payload any, opts EnqueueOptions) (string, error)
	// Dequeue waits up to timeout for a job and marks it active. It returns
	// nil, nil when nothing became available, including while paused.
	Dequeue(ctx context.Context, timeout time.Duration) (*Job, error)
	// Heartbeat extends the lease of an active job.
	Heartbeat(ctx context.Context, id string) error
	Complete(ctx context.Context, id string, result any) error
	// Fail records a failed attempt. The job is rescheduled with its backoff
	// when retryable is true and attempts remain; otherwise it is final.
	Fail(ctx context.Context, id string, cause error, retryable bool) error
	// GetJob returns nil, nil for unknown ids.
	GetJob(ctx context.Context, id string) (*Job, error)
	Counts(ctx context.Context) (Counts, error)
	// Pause stops Dequeue from handing out jobs. Active jobs finish.
	Pause(ctx context.Context) error
	Resume(ctx context.Context) error
	// Drain removes waiting and delayed jobs. Active jobs are untouched.
	Drain(ctx context.Context) (int, error)
	// Clean removes retained jobs in the completed or failed state.
	Clean(ctx context.Context, state State) (int, error)
	// RecoverStalled returns active jobs whose lease expired to waiting and
	// emits a stalled event for each.
	RecoverStalled(ctx context.Context) (int, error)
	// Events streams lifecycle events until ctx is done.
	Events(ctx context.Context) <-chan Event
	Close() error
}

func normalizeOptions(opts EnqueueOptions) EnqueueOptions {
	if opts.Attempts <= 0 {
		opts.Attempts = 1
	}
	if opts.Backoff.Type == "" {
		opts.Backoff.Type = BackoffExponential
	}
	return opts
}

func marshalPayload(v any) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	if raw, ok := v.(json.RawMessage); ok {
		return raw, nil
	}
	return json.Marshal(v)
}
