// Package worker ships audit events from the PostgreSQL outbox to Kafka.
// Events are committed to the outbox in the same transaction as the action
// they describe, so the worker can fail and retry without losing records.
package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/twmb/franz-go/pkg/kgo"

	"buildgate/pkg/platform/audit/store/postgres"
)

const defaultBatchSize = 100

// Producer is the part of the Kafka client the worker uses.
type Producer interface {
	ProduceSync(ctx context.Context, records ...*kgo.Record) kgo.ProduceResults
}

// OutboxWorker polls unpublished outbox entries and produces them to Kafka.
type OutboxWorker struct {
	store    *postgres.Store
	producer Producer
	topic    string
	logger   *slog.Logger

	interval  time.Duration
	batchSize int
}

// Option configures an OutboxWorker.
type Option func(*OutboxWorker)

// WithBatchSize caps how many entries one sweep publishes.
func WithBatchSize(n int) Option {
	return func(w *OutboxWorker) {
		if n > 0 {
			w.batchSize = n
		}
	}
}

// NewOutboxWorker constructs a worker that sweeps the outbox on the given
// interval.
func NewOutboxWorker(store *postgres.Store, producer Producer, topic string, interval time.Duration, logger *slog.Logger, opts ...Option) *OutboxWorker {
	if logger == nil {
		logger = slog.Default()
	}
	w := &OutboxWorker{
		store:     store,
		producer:  producer,
		topic:     topic,
		logger:    logger,
		interval:  interval,
		batchSize: defaultBatchSize,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(w)
		}
	}
	return w
}

// Run sweeps until the context is cancelled.
func (w *OutboxWorker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := w.sweep(ctx); err != nil {
				w.logger.ErrorContext(ctx, "outbox sweep failed", "error", err)
			}
		}
	}
}

// sweep publishes one batch inside a single transaction: the fetch locks the
// rows with SKIP LOCKED, so concurrent sweepers partition the backlog, and
// entries are marked published only after Kafka acknowledged every record. A
// partial produce failure rolls back and republishes the whole batch, which
// the idempotent consumer tolerates.
func (w *OutboxWorker) sweep(ctx context.Context) error {
	var count int
	err := w.store.RunInTx(ctx, func(ctx context.Context) error {
		entries, err := w.store.FetchUnpublished(ctx, w.batchSize)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			return nil
		}
		count = len(entries)

		records := make([]*kgo.Record, len(entries))
		ids := make([]uuid.UUID, len(entries))
		for i, entry := range entries {
			records[i] = &kgo.Record{
				Topic:     w.topic,
				Key:       []byte(entry.ID.String()),
				Value:     entry.Payload,
				Timestamp: entry.CreatedAt,
			}
			ids[i] = entry.ID
		}

		if err := w.producer.ProduceSync(ctx, records...).FirstErr(); err != nil {
			return err
		}
		return w.store.MarkPublished(ctx, ids)
	})
	if err != nil {
		return err
	}

	if count > 0 {
		w.logger.InfoContext(ctx, "published audit outbox batch", "count", count)
	}
	return nil
}
