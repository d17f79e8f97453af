// Package approval implements the manual review workflow for builds that
// were admitted pending approval. Requests move from Pending to exactly one
// terminal state (Approved, Rejected, Expired); terminal states never change.
package approval

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"buildgate/internal/admission/models"
	id "buildgate/pkg/domain"
	dErrors "buildgate/pkg/domain-errors"
	"buildgate/pkg/requestcontext"
)

// Store persists approval requests.
type Store interface {
	Create(ctx context.Context, req *models.ApprovalRequest) error
	Get(ctx context.Context, approvalID id.ApprovalID) (*models.ApprovalRequest, error)
	Update(ctx context.Context, req *models.ApprovalRequest) error
	ListPending(ctx context.Context) ([]*models.ApprovalRequest, error)
	ListExpiredPending(ctx context.Context, now time.Time) ([]*models.ApprovalRequest, error)
}

// Finalizer is notified once per request, when it reaches a terminal state.
// The admission service implements it to issue the final build decision.
type Finalizer interface {
	FinalizeApproval(ctx context.Context, req *models.ApprovalRequest) error
}

// Metrics records workflow transitions. Implementations must tolerate a nil
// receiver.
type Metrics interface {
	ApprovalTransition(state models.ApprovalState)
}

// Service enforces the approval state machine. All transitions for a given
// request are serialized through a per-request lock so that concurrent
// approvals count distinct approvers exactly once.
type Service struct {
	store     Store
	finalizer Finalizer
	metrics   Metrics
	logger    *slog.Logger

	roster       map[id.ActorLogin]bool
	minApprovers int
	ttl          time.Duration

	mu    sync.Mutex
	locks map[id.ApprovalID]*sync.Mutex
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

// WithMetrics sets the transition metrics recorder.
func WithMetrics(m Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// NewService constructs the approval workflow service. roster lists the
// actors allowed to approve or reject; minApprovers is the number of
// distinct approvals required to grant a request.
func NewService(store Store, finalizer Finalizer, roster []id.ActorLogin, minApprovers int, ttl time.Duration, opts ...Option) *Service {
	rosterSet := make(map[id.ActorLogin]bool, len(roster))
	for _, login := range roster {
		rosterSet[login] = true
	}
	if minApprovers < 1 {
		minApprovers = 1
	}
	s := &Service{
		store:        store,
		finalizer:    finalizer,
		logger:       slog.Default(),
		roster:       rosterSet,
		minApprovers: minApprovers,
		ttl:          ttl,
		locks:        make(map[id.ApprovalID]*sync.Mutex),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Open creates a pending approval request for the given event and returns it.
func (s *Service) Open(ctx context.Context, event models.Event) (*models.ApprovalRequest, error) {
	now := requestcontext.Now(ctx)
	req := &models.ApprovalRequest{
		ID:          id.NewApprovalID(),
		Event:       event,
		State:       models.ApprovalPending,
		RequestedAt: now,
		ExpiresAt:   now.Add(s.ttl),
	}
	if err := s.store.Create(ctx, req); err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "approval request opened",
		"approval_id", req.ID.String(),
		"event_id", event.ID.String(),
		"actor", event.Actor.Login.String(),
		"expires_at", req.ExpiresAt,
	)
	if s.metrics != nil {
		s.metrics.ApprovalTransition(models.ApprovalPending)
	}
	return req, nil
}

// Get returns the request by ID.
func (s *Service) Get(ctx context.Context, approvalID id.ApprovalID) (*models.ApprovalRequest, error) {
	return s.store.Get(ctx, approvalID)
}

// ListPending returns all requests still awaiting review.
func (s *Service) ListPending(ctx context.Context) ([]*models.ApprovalRequest, error) {
	return s.store.ListPending(ctx)
}

// Approve records one approver's vote. The same approver voting twice has no
// additional effect. Once the configured number of distinct approvers is
// reached, the request becomes Approved and the finalizer runs. Approving a
// request that is already Approved is a no-op; a vote on a request resolved
// any other way is a conflict.
func (s *Service) Approve(ctx context.Context, approvalID id.ApprovalID, approver id.ActorLogin) (*models.ApprovalRequest, error) {
	unlock := s.lock(approvalID)
	defer unlock()

	req, err := s.loadCurrent(ctx, approvalID)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(req, approver); err != nil {
		return nil, err
	}
	if req.State.IsTerminal() {
		// Replaying the transition already taken is a no-op.
		if req.State == models.ApprovalApproved {
			return req, nil
		}
		return nil, dErrors.Newf(dErrors.CodeConflict, "approval request %s already resolved to %s", approvalID, req.State)
	}

	if !req.HasApprover(approver) {
		req.Approvers = append(req.Approvers, approver)
	}
	if len(req.Approvers) >= s.minApprovers {
		return s.finalize(ctx, req, models.ApprovalApproved)
	}

	if err := s.store.Update(ctx, req); err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "approval vote recorded",
		"approval_id", req.ID.String(),
		"approver", approver.String(),
		"votes", len(req.Approvers),
		"required", s.minApprovers,
	)
	return req, nil
}

// Reject moves the request to Rejected. A single rejection is final
// regardless of approvals already collected. Rejecting a request that is
// already Rejected is a no-op.
func (s *Service) Reject(ctx context.Context, approvalID id.ApprovalID, approver id.ActorLogin) (*models.ApprovalRequest, error) {
	unlock := s.lock(approvalID)
	defer unlock()

	req, err := s.loadCurrent(ctx, approvalID)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(req, approver); err != nil {
		return nil, err
	}
	if req.State.IsTerminal() {
		if req.State == models.ApprovalRejected {
			return req, nil
		}
		return nil, dErrors.Newf(dErrors.CodeConflict, "approval request %s already resolved to %s", approvalID, req.State)
	}
	return s.finalize(ctx, req, models.ApprovalRejected)
}

// ExpireDue moves every pending request past its deadline to Expired.
// Returns the number of requests expired.
func (s *Service) ExpireDue(ctx context.Context) (int, error) {
	now := requestcontext.Now(ctx)
	due, err := s.store.ListExpiredPending(ctx, now)
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, req := range due {
		if err := s.expireOne(ctx, req.ID); err != nil {
			// Already resolved by a concurrent vote; skip.
			if dErrors.HasCode(err, dErrors.CodeConflict) {
				continue
			}
			return expired, err
		}
		expired++
	}
	return expired, nil
}

func (s *Service) expireOne(ctx context.Context, approvalID id.ApprovalID) error {
	unlock := s.lock(approvalID)
	defer unlock()

	req, err := s.store.Get(ctx, approvalID)
	if err != nil {
		return err
	}
	if req.State.IsTerminal() {
		return dErrors.Newf(dErrors.CodeConflict, "approval request %s already resolved", approvalID)
	}
	_, err = s.finalize(ctx, req, models.ApprovalExpired)
	return err
}

// loadCurrent fetches the request in its current state. A pending request
// past its deadline is expired on the spot rather than waiting for the
// sweeper, so callers see the state the request would settle in anyway.
func (s *Service) loadCurrent(ctx context.Context, approvalID id.ApprovalID) (*models.ApprovalRequest, error) {
	req, err := s.store.Get(ctx, approvalID)
	if err != nil {
		return nil, err
	}
	if req.State == models.ApprovalPending {
		if now := requestcontext.Now(ctx); now.After(req.ExpiresAt) {
			return s.finalize(ctx, req, models.ApprovalExpired)
		}
	}
	if req.State.IsTerminal() {
		s.evictLock(approvalID)
	}
	return req, nil
}

func (s *Service) authorize(req *models.ApprovalRequest, approver id.ActorLogin) error {
	if !s.roster[approver] {
		return dErrors.Newf(dErrors.CodeForbidden, "%s is not an authorized approver", approver)
	}
	if approver == req.Event.Actor.Login {
		return dErrors.New(dErrors.CodeForbidden, "actors cannot review their own builds")
	}
	return nil
}

// finalize commits the terminal transition and notifies the finalizer. The
// store update happens first so a crashed finalizer never reopens a request.
func (s *Service) finalize(ctx context.Context, req *models.ApprovalRequest, state models.ApprovalState) (*models.ApprovalRequest, error) {
	now := requestcontext.Now(ctx)
	req.State = state
	req.ResolvedAt = &now
	if err := s.store.Update(ctx, req); err != nil {
		return nil, err
	}
	s.evictLock(req.ID)
	s.logger.InfoContext(ctx, "approval request resolved",
		"approval_id", req.ID.String(),
		"state", string(state),
		"approvers", len(req.Approvers),
	)
	if s.metrics != nil {
		s.metrics.ApprovalTransition(state)
	}
	if s.finalizer != nil {
		if err := s.finalizer.FinalizeApproval(ctx, req); err != nil {
			return nil, err
		}
	}
	return req, nil
}

// lock returns the per-request mutex, held for the duration of one
// transition attempt. Entries are evicted once the request turns terminal;
// a vote that recreates one only observes the terminal state.
func (s *Service) lock(approvalID id.ApprovalID) func() {
	s.mu.Lock()
	m, ok := s.locks[approvalID]
	if !ok {
		m = &sync.Mutex{}
		s.locks[approvalID] = m
	}
	s.mu.Unlock()

	m.Lock()
	return m.Unlock
}

func (s *Service) evictLock(approvalID id.ApprovalID) {
	s.mu.Lock()
	delete(s.locks, approvalID)
	s.mu.Unlock()
}
