package registry

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"buildgate/internal/admission/models"
	id "buildgate/pkg/domain"
	"buildgate/pkg/requestcontext"
)

// PostgresStore persists registry entries in PostgreSQL.
//
// Schema (migrations live alongside the deployment, not in this package):
//
//	CREATE TABLE registry_entries (
//	    id         UUID PRIMARY KEY,
//	    list       TEXT NOT NULL,
//	    identifier TEXT NOT NULL,
//	    reason     TEXT NOT NULL DEFAULT '',
//	    expires_at TIMESTAMPTZ,
//	    created_at TIMESTAMPTZ NOT NULL,
//	    created_by TEXT NOT NULL DEFAULT '',
//	    UNIQUE (list, identifier)
//	);
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed registry store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Add upserts an entry keyed by (list, identifier).
func (s *PostgresStore) Add(ctx context.Context, entry *models.RegistryEntry) error {
	if entry == nil {
		return fmt.Errorf("registry entry is required")
	}
	query := `
		INSERT INTO registry_entries (id, list, identifier, reason, expires_at, created_at, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (list, identifier) DO UPDATE SET
			reason = EXCLUDED.reason,
			expires_at = EXCLUDED.expires_at,
			created_at = EXCLUDED.created_at,
			created_by = EXCLUDED.created_by
	`
	_, err := s.db.ExecContext(ctx, query,
		uuid.UUID(entry.ID),
		string(entry.List),
		entry.Identifier.String(),
		entry.Reason,
		nullTime(entry.ExpiresAt),
		entry.CreatedAt,
		entry.CreatedBy,
	)
	if err != nil {
		return fmt.Errorf("add registry entry: %w", err)
	}
	return nil
}

// Remove deletes an entry by (list, identifier).
func (s *PostgresStore) Remove(ctx context.Context, list models.ListKind, identifier id.ActorLogin) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM registry_entries WHERE list = $1 AND identifier = $2`,
		string(list), identifier.String(),
	)
	if err != nil {
		return fmt.Errorf("remove registry entry: %w", err)
	}
	return nil
}

// ActiveEntries returns the non-expired entries matching the identifier by
// exact equality. The WHERE clause uses =, never LIKE or a pattern operator.
func (s *PostgresStore) ActiveEntries(ctx context.Context, identifier id.ActorLogin) ([]*models.RegistryEntry, error) {
	now := requestcontext.Now(ctx)
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, list, identifier, reason, expires_at, created_at, created_by
		FROM registry_entries
		WHERE identifier = $1 AND (expires_at IS NULL OR expires_at > $2)
	`, identifier.String(), now)
	if err != nil {
		return nil, fmt.Errorf("query registry entries: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

// List returns all active entries for one list.
func (s *PostgresStore) List(ctx context.Context, list models.ListKind) ([]*models.RegistryEntry, error) {
	now := requestcontext.Now(ctx)
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, list, identifier, reason, expires_at, created_at, created_by
		FROM registry_entries
		WHERE list = $1 AND (expires_at IS NULL OR expires_at > $2)
		ORDER BY created_at
	`, string(list), now)
	if err != nil {
		return nil, fmt.Errorf("list registry entries: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

// RemoveExpiredAt removes all entries expired as of the given time.
// Exported for testability; the background sweep passes wall-clock time.
func (s *PostgresStore) RemoveExpiredAt(ctx context.Context, now time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM registry_entries WHERE expires_at IS NOT NULL AND expires_at <= $1`, now)
	if err != nil {
		return fmt.Errorf("cleanup registry entries: %w", err)
	}
	return nil
}

// StartCleanup runs periodic cleanup of expired entries until ctx is cancelled.
func (s *PostgresStore) StartCleanup(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := s.RemoveExpiredAt(ctx, time.Now()); err != nil {
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func scanEntries(rows *sql.Rows) ([]*models.RegistryEntry, error) {
	var entries []*models.RegistryEntry
	for rows.Next() {
		var (
			entryID    uuid.UUID
			list       string
			identifier string
			reason     string
			expiresAt  sql.NullTime
			createdAt  time.Time
			createdBy  string
		)
		if err := rows.Scan(&entryID, &list, &identifier, &reason, &expiresAt, &createdAt, &createdBy); err != nil {
			return nil, fmt.Errorf("scan registry entry: %w", err)
		}
		entry := &models.RegistryEntry{
			ID:         id.EntryID(entryID),
			List:       models.ListKind(list),
			Identifier: id.ActorLogin(identifier),
			Reason:     reason,
			CreatedAt:  createdAt,
			CreatedBy:  createdBy,
		}
		if expiresAt.Valid {
			t := expiresAt.Time
			entry.ExpiresAt = &t
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate registry entries: %w", err)
	}
	return entries, nil
}

func nullTime(value *time.Time) sql.NullTime {
	if value == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *value, Valid: true}
}
