package approvalstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"buildgate/internal/admission/models"
	id "buildgate/pkg/domain"
	dErrors "buildgate/pkg/domain-errors"
)

// PostgresStore persists approval requests in PostgreSQL. The event snapshot
// and approver set are stored as JSONB: they are read back whole, never
// queried into.
//
// Schema:
//
//	CREATE TABLE approval_requests (
//	    id           UUID PRIMARY KEY,
//	    state        TEXT NOT NULL,
//	    event        JSONB NOT NULL,
//	    approvers    JSONB NOT NULL DEFAULT '[]',
//	    requested_at TIMESTAMPTZ NOT NULL,
//	    expires_at   TIMESTAMPTZ NOT NULL,
//	    resolved_at  TIMESTAMPTZ
//	);
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed approval store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Create(ctx context.Context, req *models.ApprovalRequest) error {
	if req == nil {
		return dErrors.New(dErrors.CodeInvalidInput, "approval request is required")
	}
	eventJSON, approversJSON, err := marshalFields(req)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO approval_requests (id, state, event, approvers, requested_at, expires_at, resolved_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`,
		uuid.UUID(req.ID), string(req.State), eventJSON, approversJSON,
		req.RequestedAt, req.ExpiresAt, nullTime(req.ResolvedAt),
	)
	if err != nil {
		return fmt.Errorf("create approval request: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, approvalID id.ApprovalID) (*models.ApprovalRequest, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, state, event, approvers, requested_at, expires_at, resolved_at
		FROM approval_requests
		WHERE id = $1
	`, uuid.UUID(approvalID))

	req, err := scanRequest(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, dErrors.Newf(dErrors.CodeNotFound, "approval request %s not found", approvalID)
		}
		return nil, fmt.Errorf("get approval request: %w", err)
	}
	return req, nil
}

func (s *PostgresStore) Update(ctx context.Context, req *models.ApprovalRequest) error {
	if req == nil {
		return dErrors.New(dErrors.CodeInvalidInput, "approval request is required")
	}
	eventJSON, approversJSON, err := marshalFields(req)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE approval_requests
		SET state = $2, event = $3, approvers = $4, requested_at = $5, expires_at = $6, resolved_at = $7
		WHERE id = $1
	`,
		uuid.UUID(req.ID), string(req.State), eventJSON, approversJSON,
		req.RequestedAt, req.ExpiresAt, nullTime(req.ResolvedAt),
	)
	if err != nil {
		return fmt.Errorf("update approval request: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update approval request: %w", err)
	}
	if affected == 0 {
		return dErrors.Newf(dErrors.CodeNotFound, "approval request %s not found", req.ID)
	}
	return nil
}

func (s *PostgresStore) ListPending(ctx context.Context) ([]*models.ApprovalRequest, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, state, event, approvers, requested_at, expires_at, resolved_at
		FROM approval_requests
		WHERE state = $1
		ORDER BY requested_at
	`, string(models.ApprovalPending))
	if err != nil {
		return nil, fmt.Errorf("list pending approvals: %w", err)
	}
	defer rows.Close()
	return scanRequests(rows)
}

func (s *PostgresStore) ListExpiredPending(ctx context.Context, now time.Time) ([]*models.ApprovalRequest, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, state, event, approvers, requested_at, expires_at, resolved_at
		FROM approval_requests
		WHERE state = $1 AND expires_at <= $2
		ORDER BY expires_at
	`, string(models.ApprovalPending), now)
	if err != nil {
		return nil, fmt.Errorf("list expired approvals: %w", err)
	}
	defer rows.Close()
	return scanRequests(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRequest(row rowScanner) (*models.ApprovalRequest, error) {
	var (
		approvalID    uuid.UUID
		state         string
		eventJSON     []byte
		approversJSON []byte
		requestedAt   time.Time
		expiresAt     time.Time
		resolvedAt    sql.NullTime
	)
	if err := row.Scan(&approvalID, &state, &eventJSON, &approversJSON, &requestedAt, &expiresAt, &resolvedAt); err != nil {
		return nil, err
	}

	req := &models.ApprovalRequest{
		ID:          id.ApprovalID(approvalID),
		State:       models.ApprovalState(state),
		RequestedAt: requestedAt,
		ExpiresAt:   expiresAt,
	}
	if err := json.Unmarshal(eventJSON, &req.Event); err != nil {
		return nil, fmt.Errorf("unmarshal event snapshot: %w", err)
	}
	if err := json.Unmarshal(approversJSON, &req.Approvers); err != nil {
		return nil, fmt.Errorf("unmarshal approvers: %w", err)
	}
	if resolvedAt.Valid {
		t := resolvedAt.Time
		req.ResolvedAt = &t
	}
	return req, nil
}

func scanRequests(rows *sql.Rows) ([]*models.ApprovalRequest, error) {
	var out []*models.ApprovalRequest
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("scan approval request: %w", err)
		}
		out = append(out, req)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate approval requests: %w", err)
	}
	return out, nil
}

func marshalFields(req *models.ApprovalRequest) (eventJSON, approversJSON []byte, err error) {
	eventJSON, err = json.Marshal(req.Event)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal event snapshot: %w", err)
	}
	approvers := req.Approvers
	if approvers == nil {
		approvers = []id.ActorLogin{}
	}
	approversJSON, err = json.Marshal(approvers)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal approvers: %w", err)
	}
	return eventJSON, approversJSON, nil
}

func nullTime(value *time.Time) sql.NullTime {
	if value == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *value, Valid: true}
}
