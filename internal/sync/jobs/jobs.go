// Package jobs implements the two units of sync work: the corpus rebuild and
// the single-entity incremental sync. Both read from the entity store, run
// entities through the transformer, and write to the search engine under a
// shared exponential-backoff retry policy.
package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/Adithya-Monish-Kumar-K/business-search-sync/internal/engine"
	"github.com/Adithya-Monish-Kumar-K/business-search-sync/internal/schema"
	"github.com/Adithya-Monish-Kumar-K/business-search-sync/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/business-search-sync/pkg/resilience"
)

// Job type names as they appear on the queue.
const (
	TypeRebuild     = "rebuild-search-index"
	TypeIncremental = "incremental-sync"
)

// Operation discriminates sync job descriptors.
type Operation string

const (
	OpRebuild Operation = "rebuild"
	OpIndex   Operation = "index"
	OpUpdate  Operation = "update"
	OpDelete  Operation = "delete"
)

// Incremental reports whether op targets a single entity.
func (op Operation) Incremental() bool {
	return op == OpIndex || op == OpUpdate || op == OpDelete
}

// Valid reports whether op is a known operation.
func (op Operation) Valid() bool {
	return op == OpRebuild || op.Incremental()
}

// DefaultBatchSize is the rebuild page size when none is configured.
const DefaultBatchSize = 1000

// RetryPolicy is the job-level retry ceiling and backoff base. The delay
// after the n-th failed attempt (from zero) is BaseDelay * 2^n.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	// Sleep replaces the context-aware timer, for tests.
	Sleep resilience.SleepFunc
}

func (p RetryPolicy) run(ctx context.Context, name string, prom *metrics.Metrics, fn func() error) error {
	return resilience.Retry(ctx, name, resilience.RetryConfig{
		MaxAttempts:  p.MaxAttempts,
		InitialDelay: p.BaseDelay,
		MaxDelay:     time.Hour,
		Multiplier:   2,
		Sleep:        p.Sleep,
		OnRetry: func(int, error) {
			if prom != nil {
				prom.RetriesTotal.WithLabelValues(name).Inc()
			}
		},
	}, fn)
}

// IndexTarget names the index the jobs write to and the shape it is created
// with when missing.
type IndexTarget struct {
	Name     string
	Shards   int
	Replicas int
}

func (t IndexTarget) name() string {
	if t.Name == "" {
		return schema.DefaultIndexName
	}
	return t.Name
}

// ensureIndex creates the index from the schema definition unless it exists.
func ensureIndex(ctx context.Context, e engine.Engine, t IndexTarget) error {
	exists, err := e.IndexExists(ctx, t.name())
	if err != nil {
		return fmt.Errorf("checking index %s: %w", t.name(), err)
	}
	if exists {
		return nil
	}
	if err := e.CreateIndex(ctx, t.name(), schema.Definition(t.Shards, t.Replicas)); err != nil {
		return fmt.Errorf("creating index %s: %w", t.name(), err)
	}
	return nil
}
