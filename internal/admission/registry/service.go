// Package registry manages allowlist and denylist entries: operator CRUD,
// policy-file seeding at startup, and the expiry sweep. Every mutation is
// audited; the lists are a security control and silent edits are not
// acceptable.
package registry

import (
	"context"
	"log/slog"
	"time"

	"buildgate/internal/admission/config"
	"buildgate/internal/admission/models"
	id "buildgate/pkg/domain"
	dErrors "buildgate/pkg/domain-errors"
	audit "buildgate/pkg/platform/audit"
	"buildgate/pkg/requestcontext"
)

// Store persists registry entries keyed by exact identifier.
type Store interface {
	Add(ctx context.Context, entry *models.RegistryEntry) error
	Remove(ctx context.Context, list models.ListKind, identifier id.ActorLogin) error
	List(ctx context.Context, list models.ListKind) ([]*models.RegistryEntry, error)
	RemoveExpiredAt(ctx context.Context, now time.Time) error
}

// AuditRecorder accepts audit events for registry mutations.
type AuditRecorder interface {
	Emit(ctx context.Context, event audit.Event) error
}

// Service wraps the registry store with auditing and lifecycle management.
type Service struct {
	store   Store
	auditor AuditRecorder
	logger  *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewService constructs the registry service.
func NewService(store Store, auditor AuditRecorder, opts ...Option) *Service {
	s := &Service{
		store:   store,
		auditor: auditor,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Add inserts or replaces an entry and audits the mutation. The change is
// acknowledged only after the audit record is durably accepted.
func (s *Service) Add(ctx context.Context, list models.ListKind, identifier id.ActorLogin, reason string, expiresAt *time.Time, addedBy string) (*models.RegistryEntry, error) {
	now := requestcontext.Now(ctx)
	if expiresAt != nil && !expiresAt.After(now) {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "expires_at must be in the future")
	}

	entry := &models.RegistryEntry{
		ID:         id.NewEntryID(),
		List:       list,
		Identifier: identifier,
		Reason:     reason,
		ExpiresAt:  expiresAt,
		CreatedAt:  now,
		CreatedBy:  addedBy,
	}
	if err := s.store.Add(ctx, entry); err != nil {
		return nil, err
	}

	if err := s.emit(ctx, audit.EventRegistryEntryAdded, entry); err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "registry entry added",
		"list", string(list),
		"identifier", identifier.String(),
		"added_by", addedBy,
	)
	return entry, nil
}

// Remove deletes the (list, identifier) entry and audits the mutation.
// Removing a nonexistent entry is a no-op but is still audited: the operator
// intent matters for forensics even when the entry was already gone.
func (s *Service) Remove(ctx context.Context, list models.ListKind, identifier id.ActorLogin, removedBy string) error {
	if err := s.store.Remove(ctx, list, identifier); err != nil {
		return err
	}

	entry := &models.RegistryEntry{List: list, Identifier: identifier, CreatedBy: removedBy}
	if err := s.emit(ctx, audit.EventRegistryEntryRemoved, entry); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "registry entry removed",
		"list", string(list),
		"identifier", identifier.String(),
		"removed_by", removedBy,
	)
	return nil
}

// List returns all active entries for one list.
func (s *Service) List(ctx context.Context, list models.ListKind) ([]*models.RegistryEntry, error) {
	return s.store.List(ctx, list)
}

// Seed loads the policy file's declared entries into the store. Runs at
// startup before the engine accepts traffic; seeding is idempotent because
// Add upserts on (list, identifier).
func (s *Service) Seed(ctx context.Context, cfg *config.Config) error {
	now := requestcontext.Now(ctx)
	for _, seed := range cfg.Allowlist {
		if err := s.seedEntry(ctx, models.ListAllow, seed, now); err != nil {
			return err
		}
	}
	for _, seed := range cfg.Denylist {
		if err := s.seedEntry(ctx, models.ListDeny, seed, now); err != nil {
			return err
		}
	}
	s.logger.InfoContext(ctx, "registry seeded from policy",
		"allowlist", len(cfg.Allowlist),
		"denylist", len(cfg.Denylist),
	)
	return nil
}

func (s *Service) seedEntry(ctx context.Context, list models.ListKind, seed config.SeedEntry, now time.Time) error {
	return s.store.Add(ctx, &models.RegistryEntry{
		ID:         id.NewEntryID(),
		List:       list,
		Identifier: seed.Identifier,
		Reason:     seed.Reason,
		ExpiresAt:  seed.ExpiresAt,
		CreatedAt:  now,
		CreatedBy:  "policy",
	})
}

// StartCleanup drops expired entries on a fixed interval until ctx is
// cancelled. Stores also filter expired entries at read time, so the sweep
// is housekeeping, not correctness.
func (s *Service) StartCleanup(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := s.store.RemoveExpiredAt(ctx, time.Now()); err != nil {
				s.logger.ErrorContext(ctx, "registry expiry sweep failed", "error", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

// emit writes the audit record for a list mutation. Actor is the listed
// identifier so the trail is searchable by the same key decisions use; the
// operating identity is persisted on the entry itself as created_by.
func (s *Service) emit(ctx context.Context, action audit.AuditEvent, entry *models.RegistryEntry) error {
	record := audit.Event{
		Timestamp: requestcontext.Now(ctx),
		Actor:     entry.Identifier.String(),
		Action:    string(action),
		Outcome:   string(entry.List),
		Reason:    entry.Reason,
		RequestID: requestcontext.RequestID(ctx),
	}
	if err := s.auditor.Emit(ctx, record); err != nil {
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "audit log unavailable")
	}
	return nil
}
