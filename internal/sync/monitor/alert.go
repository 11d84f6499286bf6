package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// AlertType classifies an alert.
type AlertType string

const (
	AlertSuccess AlertType = "success"
	AlertWarning AlertType = "warning"
	AlertError   AlertType = "error"
)

// Alert is a push notification about a job outcome. Alerts are emitted,
// never stored.
type Alert struct {
	Type      AlertType `json:"type"`
	Message   string    `json:"message"`
	Metrics   *Metrics  `json:"metrics,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Sink receives alerts. Implementations must not block for long; Emit calls
// sinks synchronously.
type Sink interface {
	Send(ctx context.Context, alert Alert) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, alert Alert) error

func (f SinkFunc) Send(ctx context.Context, alert Alert) error { return f(ctx, alert) }

// LogSink writes alerts to a slog logger at a level matching the type.
type LogSink struct {
	Logger *slog.Logger
}

func (s LogSink) Send(ctx context.Context, alert Alert) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	level := slog.LevelInfo
	switch alert.Type {
	case AlertWarning:
		level = slog.LevelWarn
	case AlertError:
		level = slog.LevelError
	}
	args := []any{"alert_type", string(alert.Type)}
	if alert.Metrics != nil {
		args = append(args,
			"job_id", alert.Metrics.JobID,
			"success_count", alert.Metrics.SuccessCount,
			"failure_count", alert.Metrics.FailureCount,
			"total_count", alert.Metrics.TotalCount,
			"duration_ms", alert.Metrics.DurationMs,
		)
	}
	logger.Log(ctx, level, alert.Message, args...)
	return nil
}

// OnAlert registers an additional sink. The log sink is always active.
func (m *Monitor) OnAlert(s Sink) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sinks = append(m.sinks, s)
}

// EmitSuccess sends a success alert.
func (m *Monitor) EmitSuccess(ctx context.Context, message string, mt *Metrics) {
	m.Emit(ctx, AlertSuccess, message, mt)
}

// EmitWarning sends a warning alert.
func (m *Monitor) EmitWarning(ctx context.Context, message string, mt *Metrics) {
	m.Emit(ctx, AlertWarning, message, mt)
}

// EmitError sends an error alert.
func (m *Monitor) EmitError(ctx context.Context, message string, mt *Metrics) {
	m.Emit(ctx, AlertError, message, mt)
}

// Emit fans the alert out to the log sink and every registered sink. A
// failing or panicking sink does not affect the others.
func (m *Monitor) Emit(ctx context.Context, typ AlertType, message string, mt *Metrics) {
	alert := Alert{Type: typ, Message: message, Timestamp: m.now()}
	if mt != nil {
		cp := *mt
		alert.Metrics = &cp
	}
	if m.prom != nil {
		m.prom.AlertsTotal.WithLabelValues(string(typ)).Inc()
	}

	m.mu.RLock()
	sinks := make([]Sink, 0, len(m.sinks)+1)
	sinks = append(sinks, LogSink{Logger: m.logger})
	sinks = append(sinks, m.sinks...)
	m.mu.RUnlock()

	for _, s := range sinks {
		if err := m.send(ctx, s, alert); err != nil {
			m.logger.Error("alert sink failed", "alert_type", string(typ), "error", err)
		}
	}
}

func (m *Monitor) send(ctx context.Context, s Sink, alert Alert) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("alert sink panic: %v", r)
		}
	}()
	return s.Send(ctx, alert)
}
