// Package alertsink publishes sync alerts to Kafka. Alerts are buffered and
// flushed in batches so that a slow broker never stalls a sync job.
package alertsink

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/business-search-sync/internal/sync/monitor"
	"github.com/Adithya-Monish-Kumar-K/business-search-sync/pkg/kafka"
)

// Publisher writes a batch of events. *kafka.Producer satisfies it.
type Publisher interface {
	PublishBatch(ctx context.Context, events []kafka.Event) error
}

// Message is the JSON value published for one alert.
type Message struct {
	Type      monitor.AlertType `json:"type"`
	Message   string            `json:"message"`
	JobID     string            `json:"jobId,omitempty"`
	JobType   string            `json:"jobType,omitempty"`
	Metrics   *monitor.Metrics  `json:"metrics,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// Config tunes buffering.
type Config struct {
	BufferSize    int
	BatchSize     int
	FlushInterval time.Duration
}

// Sink is a monitor.Sink backed by Kafka.
type Sink struct {
	publisher Publisher
	cfg       Config
	logger    *slog.Logger

	mu     sync.RWMutex
	closed bool
	ch     chan Message
	done   chan struct{}
}

var _ monitor.Sink = (*Sink)(nil)

// New creates a Sink. Call Start before sending.
func New(p Publisher, cfg Config) *Sink {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1000
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = time.Second
	}
	return &Sink{
		publisher: p,
		cfg:       cfg,
		logger:    slog.Default().With("component", "alert-sink"),
		ch:        make(chan Message, cfg.BufferSize),
		done:      make(chan struct{}),
	}
}

// Start launches the flush loop. Buffered alerts are flushed when ctx is
// cancelled or Close is called.
func (s *Sink) Start(ctx context.Context) {
	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.cfg.FlushInterval)
		defer ticker.Stop()
		batch := make([]kafka.Event, 0, s.cfg.BatchSize)
		for {
			select {
			case msg, ok := <-s.ch:
				if !ok {
					s.flush(context.Background(), batch)
					return
				}
				batch = append(batch, event(msg))
				if len(batch) >= s.cfg.BatchSize {
					s.flush(ctx, batch)
					batch = batch[:0]
				}
			case <-ticker.C:
				s.flush(ctx, batch)
				batch = batch[:0]
			case <-ctx.Done():
				s.drainRemaining(batch)
				return
			}
		}
	}()
	s.logger.Info("alert sink started", "buffer_size", s.cfg.BufferSize, "batch_size", s.cfg.BatchSize)
}

// Send buffers alert for publishing. When the buffer is full the alert is
// dropped with a warning.
func (s *Sink) Send(_ context.Context, alert monitor.Alert) error {
	msg := Message{Type: alert.Type, Message: alert.Message, Timestamp: alert.Timestamp}
	if alert.Metrics != nil {
		mt := *alert.Metrics
		msg.Metrics = &mt
		msg.JobID = mt.JobID
		msg.JobType = mt.JobType
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		s.logger.Warn("alert dropped (sink closed)", "alert_type", string(alert.Type))
		return nil
	}
	select {
	case s.ch <- msg:
	default:
		s.logger.Warn("alert dropped (buffer full)", "alert_type", string(alert.Type))
	}
	return nil
}

// Close stops accepting alerts and waits for the buffered ones to be
// published.
func (s *Sink) Close() {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
	s.mu.Unlock()
	<-s.done
}

func (s *Sink) drainRemaining(batch []kafka.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		select {
		case msg, ok := <-s.ch:
			if !ok {
				s.flush(ctx, batch)
				return
			}
			batch = append(batch, event(msg))
		default:
			s.flush(ctx, batch)
			return
		}
	}
}

func (s *Sink) flush(ctx context.Context, batch []kafka.Event) {
	if len(batch) == 0 {
		return
	}
	if err := s.publisher.PublishBatch(ctx, batch); err != nil {
		s.logger.Error("failed to publish alerts", "count", len(batch), "error", err)
	}
}

func event(msg Message) kafka.Event {
	key := msg.JobID
	if key == "" {
		key = string(msg.Type)
	}
	return kafka.Event{Key: key, Value: msg, Headers: map[string]string{"alert-type": string(msg.Type)}}
}
