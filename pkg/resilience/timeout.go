package resilience

import (
	"context"
	"errors"
	"fmt"
	"time"

	apperrors "github.com/Adithya-Monish-Kumar-K/business-search-sync/pkg/errors"
)

// WithTimeout runs fn under a deadline of timeout. fn must honour its
// context. When the deadline, and not the caller, ends the call, the error
// wraps apperrors.ErrTimeout and context.DeadlineExceeded. A non-positive
// timeout runs fn unbounded.
func WithTimeout(ctx context.Context, timeout time.Duration, op string, fn func(ctx context.Context) error) error {
	if timeout <= 0 {
		return fn(ctx)
	}
	tctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err := fn(tctx)
	switch {
	case err == nil:
		return nil
	case ctx.Err() != nil:
		return fmt.Errorf("%s: %w", op, ctx.Err())
	case errors.Is(tctx.Err(), context.DeadlineExceeded):
		return fmt.Errorf("%s exceeded %v: %w: %w", op, timeout, apperrors.ErrTimeout, context.DeadlineExceeded)
	default:
		return err
	}
}
