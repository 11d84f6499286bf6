// Package changefeed turns entity change events from Kafka into incremental
// sync jobs.
package changefeed

import (
	"context"
	"errors"
	"log/slog"

	"github.com/Adithya-Monish-Kumar-K/business-search-sync/internal/sync/jobs"
	"github.com/Adithya-Monish-Kumar-K/business-search-sync/internal/sync/orchestrator"
	"github.com/Adithya-Monish-Kumar-K/business-search-sync/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/business-search-sync/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/business-search-sync/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/business-search-sync/pkg/metrics"
)

// ChangeEvent is published by the system of record whenever an entity is
// created, changed or removed.
type ChangeEvent struct {
	EntityID       string         `json:"entityId"`
	Operation      jobs.Operation `json:"operation"`
	EntityType     string         `json:"entityType,omitempty"`
	TenantID       string         `json:"tenantId,omitempty"`
	OrganizationID string         `json:"organizationId,omitempty"`
}

// Enqueuer accepts incremental sync requests.
type Enqueuer interface {
	SyncIncremental(ctx context.Context, r orchestrator.IncrementalRequest) (orchestrator.Enqueued, error)
}

const (
	outcomeQueued  = "queued"
	outcomeInvalid = "invalid"
	outcomeFailed  = "failed"
)

// Handler returns a kafka.MessageHandler that enqueues one incremental job
// per change event. Malformed or invalid events are logged and skipped so
// they never block the partition; enqueue failures are returned for the
// consumer to retry. prom may be nil.
func Handler(e Enqueuer, prom *metrics.Metrics) kafka.MessageHandler {
	logger := slog.Default().With("component", "changefeed")
	count := func(outcome string) {
		if prom != nil {
			prom.ChangeEventsTotal.WithLabelValues(outcome).Inc()
		}
	}
	return func(ctx context.Context, key []byte, value []byte) error {
		event, err := kafka.DecodeJSON[ChangeEvent](value)
		if err != nil {
			logger.Error("failed to decode change event", "error", err, "key", string(key))
			count(outcomeInvalid)
			return nil
		}
		res, err := e.SyncIncremental(ctx, orchestrator.IncrementalRequest{
			Operation:      event.Operation,
			EntityID:       event.EntityID,
			EntityType:     event.EntityType,
			TenantID:       event.TenantID,
			OrganizationID: event.OrganizationID,
		})
		if err != nil {
			if errors.Is(err, apperrors.ErrInvalidInput) {
				logger.Warn("skipping invalid change event",
					"entity_id", event.EntityID,
					"operation", string(event.Operation),
					"error", err,
				)
				count(outcomeInvalid)
				return nil
			}
			count(outcomeFailed)
			return err
		}
		count(outcomeQueued)
		logger.Debug("change event queued",
			"entity_id", event.EntityID,
			"operation", string(event.Operation),
			"job_id", res.JobID,
		)
		return nil
	}
}

// NewConsumer subscribes to the entity change topic.
func NewConsumer(cfg config.KafkaConfig, e Enqueuer, prom *metrics.Metrics) *kafka.Consumer {
	return kafka.NewConsumer(cfg, cfg.Topics.EntityChanges, Handler(e, prom))
}
