package queue

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	apperrors "github.com/Adithya-Monish-Kumar-K/business-search-sync/pkg/errors"
)

const subscriberBuffer = 256

// broadcaster fans events out to in-process subscribers. Slow subscribers
// lose events rather than stall the queue.
type broadcaster struct {
	mu     sync.Mutex
	subs   map[int]chan Event
	next   int
	logger *slog.Logger
}

func newBroadcaster(logger *slog.Logger) *broadcaster {
	return &broadcaster{subs: make(map[int]chan Event), logger: logger}
}

func (b *broadcaster) subscribe(ctx context.Context) <-chan Event {
	ch := make(chan Event, subscriberBuffer)
	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = ch
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		defer b.mu.Unlock()
		if _, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(ch)
		}
	}()
	return ch
}

func (b *broadcaster) publish(e Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
			b.logger.Warn("queue event dropped (subscriber full)", "event", string(e.Type), "job_id", e.JobID)
		}
	}
}

func (b *broadcaster) closeAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}

func checkCleanState(state State) error {
	if state != StateCompleted && state != StateFailed {
		return apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest, "cannot clean jobs in state %q", state)
	}
	return nil
}

func queueError(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", apperrors.ErrQueue, op, err)
}
