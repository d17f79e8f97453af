// Package publisher emits audit events to a store, either synchronously or
// through a buffered channel. The admission decision path uses a synchronous
// publisher so a failed audit write blocks the decision; lower-stakes events
// can use an async buffer.
package publisher

import (
	"context"
	"sync"
	"time"

	dErrors "buildgate/pkg/domain-errors"
	audit "buildgate/pkg/platform/audit"
)

// Publisher captures structured audit events. It is append-only and uses the
// storage layer for persistence so tests can swap sinks easily.
type Publisher struct {
	store audit.Store

	inbox     chan audit.Event
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// Option configures a Publisher.
type Option func(*Publisher)

// WithAsyncBuffer switches the publisher to asynchronous mode with the given
// channel capacity. Emit then enqueues instead of writing through; a full
// buffer drops the event with an error rather than blocking the caller.
func WithAsyncBuffer(size int) Option {
	return func(p *Publisher) {
		if size > 0 {
			p.inbox = make(chan audit.Event, size)
		}
	}
}

// NewPublisher constructs a publisher. Without options it is synchronous:
// Emit returns only after the store accepted the event.
func NewPublisher(store audit.Store, opts ...Option) *Publisher {
	p := &Publisher{store: store}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	if p.inbox != nil {
		p.wg.Add(1)
		go p.drain()
	}
	return p
}

// Emit records one audit event. A zero timestamp is stamped with the current
// time. In synchronous mode store errors surface as retryable so callers can
// apply backpressure instead of proceeding unaudited.
func (p *Publisher) Emit(ctx context.Context, event audit.Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.Category == "" {
		event.Category = audit.AuditEvent(event.Action).Category()
	}

	if p.inbox == nil {
		if err := p.store.Append(ctx, event); err != nil {
			return dErrors.Wrap(err, dErrors.CodeUnavailable, "audit store unavailable")
		}
		return nil
	}

	select {
	case p.inbox <- event:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return dErrors.New(dErrors.CodeUnavailable, "audit buffer full")
	}
}

// ListRecent returns the most recent events from the underlying store.
func (p *Publisher) ListRecent(ctx context.Context, limit int) ([]audit.Event, error) {
	return p.store.ListRecent(ctx, limit)
}

// Close stops the async worker after draining buffered events. Safe to call
// on a synchronous publisher and safe to call twice.
func (p *Publisher) Close() {
	p.closeOnce.Do(func() {
		if p.inbox != nil {
			close(p.inbox)
			p.wg.Wait()
		}
	})
}

func (p *Publisher) drain() {
	defer p.wg.Done()
	for event := range p.inbox {
		// Best effort: async events are droppable by contract.
		_ = p.store.Append(context.Background(), event)
	}
}
