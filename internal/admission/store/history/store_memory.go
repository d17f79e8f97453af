// Package history stores per-actor contribution history used by tier
// classification. Lookups for unknown actors return an empty history, never
// an error: an actor the platform has never seen is a first-time contributor.
package history

import (
	"context"
	"sync"

	"buildgate/internal/admission/models"
	id "buildgate/pkg/domain"
)

// InMemoryStore keeps contributor history in process memory. Suitable for
// tests and single-instance deployments.
type InMemoryStore struct {
	mu      sync.RWMutex
	entries map[id.ActorLogin]models.ContributorHistory
}

// NewInMemoryStore constructs an empty in-memory history store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		entries: make(map[id.ActorLogin]models.ContributorHistory),
	}
}

// Get returns the recorded history for an actor, or a zero history when the
// actor is unknown.
func (s *InMemoryStore) Get(_ context.Context, login id.ActorLogin) (models.ContributorHistory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.entries[login], nil
}

// RecordContribution increments the actor's merged contribution count.
func (s *InMemoryStore) RecordContribution(_ context.Context, login id.ActorLogin) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := s.entries[login]
	h.MergedContributions++
	s.entries[login] = h
	return nil
}

// RecordDenial marks the actor as having a prior denial on record.
func (s *InMemoryStore) RecordDenial(_ context.Context, login id.ActorLogin) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := s.entries[login]
	h.PriorDenial = true
	s.entries[login] = h
	return nil
}

// Set replaces an actor's history wholesale. Used for seeding and admin
// corrections.
func (s *InMemoryStore) Set(_ context.Context, login id.ActorLogin, h models.ContributorHistory) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[login] = h
	return nil
}
