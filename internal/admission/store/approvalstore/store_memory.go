// Package approvalstore persists approval requests. The store is pure I/O;
// lifecycle rules (legal transitions, approver thresholds) live in the
// approval service.
package approvalstore

import (
	"context"
	"sync"
	"time"

	"buildgate/internal/admission/models"
	id "buildgate/pkg/domain"
	dErrors "buildgate/pkg/domain-errors"
)

// InMemoryStore keeps approval requests in memory for tests and dev mode.
type InMemoryStore struct {
	mu       sync.RWMutex
	requests map[id.ApprovalID]*models.ApprovalRequest
}

// NewInMemoryStore creates an empty in-memory approval store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{requests: make(map[id.ApprovalID]*models.ApprovalRequest)}
}

// Create inserts a new request. Creating an existing ID is a conflict.
func (s *InMemoryStore) Create(_ context.Context, req *models.ApprovalRequest) error {
	if req == nil {
		return dErrors.New(dErrors.CodeInvalidInput, "approval request is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.requests[req.ID]; exists {
		return dErrors.Newf(dErrors.CodeConflict, "approval request %s already exists", req.ID)
	}
	s.requests[req.ID] = cloneRequest(req)
	return nil
}

// Get returns the request or CodeNotFound.
func (s *InMemoryStore) Get(_ context.Context, approvalID id.ApprovalID) (*models.ApprovalRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	req, ok := s.requests[approvalID]
	if !ok {
		return nil, dErrors.Newf(dErrors.CodeNotFound, "approval request %s not found", approvalID)
	}
	return cloneRequest(req), nil
}

// Update persists the request state. Updating a nonexistent request is
// CodeNotFound.
func (s *InMemoryStore) Update(_ context.Context, req *models.ApprovalRequest) error {
	if req == nil {
		return dErrors.New(dErrors.CodeInvalidInput, "approval request is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.requests[req.ID]; !ok {
		return dErrors.Newf(dErrors.CodeNotFound, "approval request %s not found", req.ID)
	}
	s.requests[req.ID] = cloneRequest(req)
	return nil
}

// ListPending returns all requests still in the Pending state.
func (s *InMemoryStore) ListPending(_ context.Context) ([]*models.ApprovalRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.ApprovalRequest
	for _, req := range s.requests {
		if req.State == models.ApprovalPending {
			out = append(out, cloneRequest(req))
		}
	}
	return out, nil
}

// ListExpiredPending returns pending requests whose deadline has passed as
// of the given time. Used by the expiry sweep.
func (s *InMemoryStore) ListExpiredPending(_ context.Context, now time.Time) ([]*models.ApprovalRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.ApprovalRequest
	for _, req := range s.requests {
		if req.State == models.ApprovalPending && !req.ExpiresAt.After(now) {
			out = append(out, cloneRequest(req))
		}
	}
	return out, nil
}

// cloneRequest guards callers against aliasing the store's copy.
func cloneRequest(req *models.ApprovalRequest) *models.ApprovalRequest {
	out := *req
	out.Approvers = append([]id.ActorLogin(nil), req.Approvers...)
	out.Event.ChangedPaths = append([]string(nil), req.Event.ChangedPaths...)
	if req.ResolvedAt != nil {
		t := *req.ResolvedAt
		out.ResolvedAt = &t
	}
	return &out
}
