package engine

import (
	"context"
	"fmt"

	apperrors "github.com/Adithya-Monish-Kumar-K/business-search-sync/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/business-search-sync/pkg/resilience"
)

// WithBreaker guards the document write paths of e with cb. Only retryable
// failures count against the breaker; rejected requests and not-found
// results pass through without tripping it. While the breaker is open the
// writes fail fast with an error that is itself retryable, so callers back
// off instead of hammering a degraded cluster.
func WithBreaker(e Engine, cb *resilience.CircuitBreaker) Engine {
	return &breakerEngine{Engine: e, cb: cb}
}

type breakerEngine struct {
	Engine
	cb *resilience.CircuitBreaker
}

func (b *breakerEngine) guard(fn func() error) error {
	if err := b.cb.Allow(); err != nil {
		return fmt.Errorf("%w: %w", apperrors.ErrTransient, err)
	}
	err := fn()
	b.cb.Record(apperrors.IsRetryable(err))
	return err
}

func (b *breakerEngine) IndexDocument(ctx context.Context, name, id string, doc any) error {
	return b.guard(func() error { return b.Engine.IndexDocument(ctx, name, id, doc) })
}

func (b *breakerEngine) BulkIndex(ctx context.Context, name string, items []BulkItem) (*BulkResult, error) {
	var res *BulkResult
	err := b.guard(func() error {
		var err error
		res, err = b.Engine.BulkIndex(ctx, name, items)
		return err
	})
	return res, err
}

func (b *breakerEngine) DeleteDocument(ctx context.Context, name, id string) error {
	return b.guard(func() error { return b.Engine.DeleteDocument(ctx, name, id) })
}
