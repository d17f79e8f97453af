package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	audit "buildgate/pkg/platform/audit"
	txcontext "buildgate/pkg/platform/tx"
)

// Store implements audit.Store using the transactional outbox pattern.
// Events are written to the outbox table and published to Kafka by the
// outbox worker. The audit_events table is the queryable materialization,
// written by the Kafka consumer.
//
// Schema:
//
//	CREATE TABLE outbox (
//	    id             UUID PRIMARY KEY,
//	    aggregate_type TEXT NOT NULL,
//	    aggregate_id   TEXT NOT NULL,
//	    event_type     TEXT NOT NULL,
//	    payload        JSONB NOT NULL,
//	    created_at     TIMESTAMPTZ NOT NULL,
//	    published_at   TIMESTAMPTZ
//	);
//
//	CREATE TABLE audit_events (
//	    id          UUID PRIMARY KEY,
//	    category    TEXT NOT NULL,
//	    timestamp   TIMESTAMPTZ NOT NULL,
//	    event_id    TEXT NOT NULL DEFAULT '',
//	    actor       TEXT NOT NULL DEFAULT '',
//	    repository  TEXT NOT NULL DEFAULT '',
//	    action      TEXT NOT NULL,
//	    outcome     TEXT NOT NULL DEFAULT '',
//	    tier        TEXT NOT NULL DEFAULT '',
//	    reason      TEXT NOT NULL DEFAULT '',
//	    approval_id TEXT NOT NULL DEFAULT '',
//	    request_id  TEXT NOT NULL DEFAULT ''
//	);
type Store struct {
	db *sql.DB
}

// New creates a PostgreSQL audit store that writes to the outbox.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (s *Store) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

// defaultTxTimeout bounds RunInTx. Generous because the outbox sweep holds
// its transaction across the Kafka produce call.
const defaultTxTimeout = 15 * time.Second

// RunInTx executes fn within a transaction carried on the context, so every
// store call inside fn joins it. Rolls back on error or panic.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("transaction aborted: %w", err)
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultTxTimeout)
		defer cancel()
	}

	dbTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = dbTx.Rollback()
	}()

	if err := fn(txcontext.WithTx(ctx, dbTx)); err != nil {
		return err
	}
	return dbTx.Commit()
}

// outboxPayload is the JSON structure published to Kafka.
// Field names match audit.Event for deserialization by the consumer.
type outboxPayload struct {
	ID         string `json:"ID"`
	Category   string `json:"Category"`
	Timestamp  string `json:"Timestamp"`
	EventID    string `json:"EventID,omitempty"`
	Actor      string `json:"Actor,omitempty"`
	Repository string `json:"Repository,omitempty"`
	Action     string `json:"Action"`
	Outcome    string `json:"Outcome,omitempty"`
	Tier       string `json:"Tier,omitempty"`
	Reason     string `json:"Reason,omitempty"`
	ApprovalID string `json:"ApprovalID,omitempty"`
	RequestID  string `json:"RequestID,omitempty"`
}

// Append writes an audit event to the outbox table for Kafka publishing.
// When the context carries a transaction, the write joins it so the audit
// record commits atomically with the decision it describes.
func (s *Store) Append(ctx context.Context, event audit.Event) error {
	recordID := uuid.New()

	// Always derive category from action, eventCategories is the source of truth
	category := audit.AuditEvent(event.Action).Category()

	payload := outboxPayload{
		ID:         recordID.String(),
		Category:   string(category),
		Timestamp:  event.Timestamp.Format(time.RFC3339Nano),
		EventID:    event.EventID,
		Actor:      event.Actor,
		Repository: event.Repository,
		Action:     event.Action,
		Outcome:    event.Outcome,
		Tier:       event.Tier,
		Reason:     event.Reason,
		ApprovalID: event.ApprovalID,
		RequestID:  event.RequestID,
	}
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal audit payload: %w", err)
	}

	aggregateType := "audit"
	aggregateID := recordID.String()
	if event.EventID != "" {
		aggregateType = "build_event"
		aggregateID = event.EventID
	}

	query := `
		INSERT INTO outbox (id, aggregate_type, aggregate_id, event_type, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err = s.execer(ctx).ExecContext(ctx, query,
		recordID,
		aggregateType,
		aggregateID,
		event.Action,
		payloadBytes,
		time.Now(),
	)
	if err != nil {
		return fmt.Errorf("insert outbox entry: %w", err)
	}
	return nil
}

// AppendWithID inserts an audit event into audit_events with a specific ID.
// Used by the Kafka consumer to materialize events for querying. Idempotent
// via ON CONFLICT DO NOTHING so redelivered messages are harmless.
func (s *Store) AppendWithID(ctx context.Context, recordID uuid.UUID, event audit.Event) error {
	query := `
		INSERT INTO audit_events (
			id, category, timestamp, event_id, actor, repository,
			action, outcome, tier, reason, approval_id, request_id
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO NOTHING
	`
	_, err := s.db.ExecContext(ctx, query,
		recordID,
		string(event.Category),
		event.Timestamp,
		event.EventID,
		event.Actor,
		event.Repository,
		event.Action,
		event.Outcome,
		event.Tier,
		event.Reason,
		event.ApprovalID,
		event.RequestID,
	)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

// ListRecent returns the N most recent materialized events.
func (s *Store) ListRecent(ctx context.Context, limit int) ([]audit.Event, error) {
	query := `
		SELECT category, timestamp, event_id, actor, repository,
		       action, outcome, tier, reason, approval_id, request_id
		FROM audit_events
		ORDER BY timestamp DESC
		LIMIT $1
	`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

func scanEvents(rows *sql.Rows) ([]audit.Event, error) {
	var events []audit.Event
	for rows.Next() {
		var (
			category string
			event    audit.Event
		)
		err := rows.Scan(
			&category,
			&event.Timestamp,
			&event.EventID,
			&event.Actor,
			&event.Repository,
			&event.Action,
			&event.Outcome,
			&event.Tier,
			&event.Reason,
			&event.ApprovalID,
			&event.RequestID,
		)
		if err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		event.Category = audit.EventCategory(category)
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit events: %w", err)
	}
	return events, nil
}

// OutboxEntry is one unpublished row awaiting delivery to Kafka.
type OutboxEntry struct {
	ID        uuid.UUID
	EventType string
	Payload   []byte
	CreatedAt time.Time
}

// FetchUnpublished returns up to limit outbox entries that have not been
// delivered yet, oldest first. Inside a transaction the rows are locked with
// SKIP LOCKED so concurrent sweepers partition the backlog instead of
// publishing the same entries twice.
func (s *Store) FetchUnpublished(ctx context.Context, limit int) ([]OutboxEntry, error) {
	query := `
		SELECT id, event_type, payload, created_at
		FROM outbox
		WHERE published_at IS NULL
		ORDER BY created_at
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`
	rows, err := s.execer(ctx).QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query outbox: %w", err)
	}
	defer rows.Close()

	var entries []OutboxEntry
	for rows.Next() {
		var entry OutboxEntry
		if err := rows.Scan(&entry.ID, &entry.EventType, &entry.Payload, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan outbox entry: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outbox entries: %w", err)
	}
	return entries, nil
}

// MarkPublished stamps outbox entries as delivered.
func (s *Store) MarkPublished(ctx context.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	query := `
		UPDATE outbox
		SET published_at = $2
		WHERE id = ANY($1::uuid[])
	`
	idStrings := make([]string, len(ids))
	for i, entryID := range ids {
		idStrings[i] = entryID.String()
	}
	if _, err := s.execer(ctx).ExecContext(ctx, query, pq.Array(idStrings), time.Now()); err != nil {
		return fmt.Errorf("mark outbox published: %w", err)
	}
	return nil
}
