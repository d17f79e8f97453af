// Package consumer materializes audit events from Kafka into the queryable
// audit_events table. Kafka is the source of truth; this is a projection.
package consumer

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"buildgate/internal/platform/kafka/consumer"
	audit "buildgate/pkg/platform/audit"
)

// EventStore is the part of the audit postgres store the materializer needs.
type EventStore interface {
	AppendWithID(ctx context.Context, recordID uuid.UUID, event audit.Event) error
}

// Materializer writes consumed audit events into the audit_events table.
// Writes are idempotent on record ID, so Kafka redelivery is safe.
type Materializer struct {
	store  EventStore
	logger *slog.Logger
}

func NewMaterializer(store EventStore, logger *slog.Logger) *Materializer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Materializer{store: store, logger: logger}
}

// payload matches the outbox JSON structure.
type payload struct {
	ID         string `json:"ID"`
	Category   string `json:"Category"`
	Timestamp  string `json:"Timestamp"`
	EventID    string `json:"EventID"`
	Actor      string `json:"Actor"`
	Repository string `json:"Repository"`
	Action     string `json:"Action"`
	Outcome    string `json:"Outcome"`
	Tier       string `json:"Tier"`
	Reason     string `json:"Reason"`
	ApprovalID string `json:"ApprovalID"`
	RequestID  string `json:"RequestID"`
}

// Handle materializes one audit event. Malformed messages are logged and
// committed: they can never become well-formed, so retrying would wedge the
// partition.
func (m *Materializer) Handle(ctx context.Context, msg *consumer.Message) error {
	var p payload
	if err := json.Unmarshal(msg.Value, &p); err != nil {
		m.logger.ErrorContext(ctx, "unparseable audit payload, skipping",
			"key", string(msg.Key),
			"error", err,
		)
		return nil
	}

	recordID, err := uuid.Parse(p.ID)
	if err != nil {
		m.logger.ErrorContext(ctx, "invalid audit record id, skipping",
			"id", p.ID,
			"error", err,
		)
		return nil
	}

	timestamp, err := time.Parse(time.RFC3339Nano, p.Timestamp)
	if err != nil {
		timestamp = msg.Timestamp
	}

	event := audit.Event{
		Category:   audit.EventCategory(p.Category),
		Timestamp:  timestamp,
		EventID:    p.EventID,
		Actor:      p.Actor,
		Repository: p.Repository,
		Action:     p.Action,
		Outcome:    p.Outcome,
		Tier:       p.Tier,
		Reason:     p.Reason,
		ApprovalID: p.ApprovalID,
		RequestID:  p.RequestID,
	}
	return m.store.AppendWithID(ctx, recordID, event)
}
