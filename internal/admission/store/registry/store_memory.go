// Package registry persists allowlist and denylist entries. Lookups are by
// exact identifier key; the store never exposes a pattern-matching surface.
package registry

import (
	"context"
	"sync"
	"time"

	"buildgate/internal/admission/models"
	id "buildgate/pkg/domain"
	dErrors "buildgate/pkg/domain-errors"
	"buildgate/pkg/requestcontext"
)

// InMemoryStore keeps registry entries in memory. Suitable for tests and
// single-node dev mode; production uses PostgresStore.
type InMemoryStore struct {
	mu      sync.RWMutex
	entries map[id.ActorLogin][]*models.RegistryEntry
}

// NewInMemoryStore creates an empty in-memory registry store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{entries: make(map[id.ActorLogin][]*models.RegistryEntry)}
}

// Add inserts an entry. Re-adding the same (list, identifier) pair replaces
// the earlier entry, mirroring the upsert semantics of the postgres store.
func (s *InMemoryStore) Add(_ context.Context, entry *models.RegistryEntry) error {
	if entry == nil {
		return dErrors.New(dErrors.CodeInvalidInput, "registry entry is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	existing := s.entries[entry.Identifier]
	for i, e := range existing {
		if e.List == entry.List {
			existing[i] = entry
			return nil
		}
	}
	s.entries[entry.Identifier] = append(existing, entry)
	return nil
}

// Remove deletes the entry for (list, identifier). Removing a nonexistent
// entry is a no-op.
func (s *InMemoryStore) Remove(_ context.Context, list models.ListKind, identifier id.ActorLogin) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing := s.entries[identifier]
	for i, e := range existing {
		if e.List == list {
			s.entries[identifier] = append(existing[:i], existing[i+1:]...)
			return nil
		}
	}
	return nil
}

// ActiveEntries returns the non-expired entries stored under the exact
// identifier key.
func (s *InMemoryStore) ActiveEntries(ctx context.Context, identifier id.ActorLogin) ([]*models.RegistryEntry, error) {
	now := requestcontext.Now(ctx)

	s.mu.RLock()
	defer s.mu.RUnlock()

	var active []*models.RegistryEntry
	for _, e := range s.entries[identifier] {
		if e.Active(now) {
			active = append(active, e)
		}
	}
	return active, nil
}

// List returns all active entries for one list.
func (s *InMemoryStore) List(ctx context.Context, list models.ListKind) ([]*models.RegistryEntry, error) {
	now := requestcontext.Now(ctx)

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.RegistryEntry
	for _, entries := range s.entries {
		for _, e := range entries {
			if e.List == list && e.Active(now) {
				out = append(out, e)
			}
		}
	}
	return out, nil
}

// RemoveExpiredAt drops all entries expired as of the given time.
func (s *InMemoryStore) RemoveExpiredAt(_ context.Context, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for identifier, entries := range s.entries {
		kept := entries[:0]
		for _, e := range entries {
			if e.Active(now) {
				kept = append(kept, e)
			}
		}
		if len(kept) == 0 {
			delete(s.entries, identifier)
			continue
		}
		s.entries[identifier] = kept
	}
	return nil
}
