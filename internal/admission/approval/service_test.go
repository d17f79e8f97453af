package approval

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"buildgate/internal/admission/models"
	"buildgate/internal/admission/store/approvalstore"
	id "buildgate/pkg/domain"
	dErrors "buildgate/pkg/domain-errors"
	"buildgate/pkg/requestcontext"
)

type countingFinalizer struct {
	calls atomic.Int64
	mu    sync.Mutex
	last  *models.ApprovalRequest
}

func (f *countingFinalizer) FinalizeApproval(_ context.Context, req *models.ApprovalRequest) error {
	f.calls.Add(1)
	f.mu.Lock()
	f.last = req
	f.mu.Unlock()
	return nil
}

type fixture struct {
	service   *Service
	finalizer *countingFinalizer
	actor     id.ActorLogin
	reviewers []id.ActorLogin
}

func newFixture(t *testing.T, minApprovers int) *fixture {
	t.Helper()
	actor := mustLogin(t, "external-contributor")
	reviewers := []id.ActorLogin{
		mustLogin(t, "reviewer-one"),
		mustLogin(t, "reviewer-two"),
		mustLogin(t, "reviewer-three"),
	}
	fin := &countingFinalizer{}
	svc := NewService(approvalstore.NewInMemoryStore(), fin, reviewers, minApprovers, 72*time.Hour)
	return &fixture{service: svc, finalizer: fin, actor: actor, reviewers: reviewers}
}

func (f *fixture) openRequest(t *testing.T, ctx context.Context) *models.ApprovalRequest {
	t.Helper()
	event := models.Event{
		ID:           id.NewEventID(),
		Repository:   "acme/pipeline",
		Type:         models.EventPullRequest,
		SourceBranch: "feature/x",
		TargetBranch: "main",
		IsFork:       true,
		Actor: models.Actor{
			Login:     f.actor,
			CreatedAt: time.Now().Add(-10 * 24 * time.Hour),
		},
		ReceivedAt: time.Now(),
	}
	req, err := f.service.Open(ctx, event)
	require.NoError(t, err)
	require.Equal(t, models.ApprovalPending, req.State)
	return req
}

func mustLogin(t *testing.T, raw string) id.ActorLogin {
	t.Helper()
	login, err := id.ParseActorLogin(raw)
	require.NoError(t, err)
	return login
}

func TestApprovalReachesThreshold(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 2)
	req := f.openRequest(t, ctx)

	got, err := f.service.Approve(ctx, req.ID, f.reviewers[0])
	require.NoError(t, err)
	require.Equal(t, models.ApprovalPending, got.State)
	require.EqualValues(t, 0, f.finalizer.calls.Load())

	got, err = f.service.Approve(ctx, req.ID, f.reviewers[1])
	require.NoError(t, err)
	require.Equal(t, models.ApprovalApproved, got.State)
	require.NotNil(t, got.ResolvedAt)
	require.EqualValues(t, 1, f.finalizer.calls.Load())
}

func TestDuplicateApproverCountsOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 2)
	req := f.openRequest(t, ctx)

	for i := 0; i < 3; i++ {
		got, err := f.service.Approve(ctx, req.ID, f.reviewers[0])
		require.NoError(t, err)
		require.Equal(t, models.ApprovalPending, got.State)
		require.Len(t, got.Approvers, 1)
	}
	require.EqualValues(t, 0, f.finalizer.calls.Load())
}

func TestConcurrentApproversResolveExactlyOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 2)
	req := f.openRequest(t, ctx)

	var wg sync.WaitGroup
	errs := make([]error, len(f.reviewers))
	for i, reviewer := range f.reviewers {
		wg.Add(1)
		go func(i int, reviewer id.ActorLogin) {
			defer wg.Done()
			_, errs[i] = f.service.Approve(ctx, req.ID, reviewer)
		}(i, reviewer)
	}
	wg.Wait()

	// Two votes resolve the request; the third either lands before
	// resolution or replays the approval as a no-op. The finalizer must
	// run exactly once either way.
	for _, err := range errs {
		require.NoError(t, err)
	}
	require.EqualValues(t, 1, f.finalizer.calls.Load())

	got, err := f.service.Get(ctx, req.ID)
	require.NoError(t, err)
	require.Equal(t, models.ApprovalApproved, got.State)
}

func TestApproveOnApprovedIsNoOp(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 1)
	req := f.openRequest(t, ctx)

	got, err := f.service.Approve(ctx, req.ID, f.reviewers[0])
	require.NoError(t, err)
	require.Equal(t, models.ApprovalApproved, got.State)
	require.EqualValues(t, 1, f.finalizer.calls.Load())

	// Replaying the same vote, or adding another approver after the fact,
	// succeeds without re-finalizing or growing the approver set.
	for _, reviewer := range []id.ActorLogin{f.reviewers[0], f.reviewers[1]} {
		got, err = f.service.Approve(ctx, req.ID, reviewer)
		require.NoError(t, err)
		require.Equal(t, models.ApprovalApproved, got.State)
		require.Len(t, got.Approvers, 1)
	}
	require.EqualValues(t, 1, f.finalizer.calls.Load())

	// A replay is still a review action: outsiders and the build's own
	// actor stay refused.
	_, err = f.service.Approve(ctx, req.ID, mustLogin(t, "random-passerby"))
	require.Error(t, err)
	require.True(t, dErrors.HasCode(err, dErrors.CodeForbidden))
}

func TestRejectOnRejectedIsNoOp(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 2)
	req := f.openRequest(t, ctx)

	_, err := f.service.Reject(ctx, req.ID, f.reviewers[0])
	require.NoError(t, err)

	got, err := f.service.Reject(ctx, req.ID, f.reviewers[1])
	require.NoError(t, err)
	require.Equal(t, models.ApprovalRejected, got.State)
	require.EqualValues(t, 1, f.finalizer.calls.Load())

	// The opposite transition on a rejected request is still a conflict.
	_, err = f.service.Approve(ctx, req.ID, f.reviewers[1])
	require.Error(t, err)
	require.True(t, dErrors.HasCode(err, dErrors.CodeConflict))
}

func TestRejectIsImmediatelyFinal(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 2)
	req := f.openRequest(t, ctx)

	_, err := f.service.Approve(ctx, req.ID, f.reviewers[0])
	require.NoError(t, err)

	got, err := f.service.Reject(ctx, req.ID, f.reviewers[1])
	require.NoError(t, err)
	require.Equal(t, models.ApprovalRejected, got.State)
	require.EqualValues(t, 1, f.finalizer.calls.Load())

	_, err = f.service.Approve(ctx, req.ID, f.reviewers[2])
	require.Error(t, err)
	require.True(t, dErrors.HasCode(err, dErrors.CodeConflict))
	require.EqualValues(t, 1, f.finalizer.calls.Load())
}

func TestUnauthorizedApproverIsRefused(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 1)
	req := f.openRequest(t, ctx)

	outsider := mustLogin(t, "random-passerby")
	_, err := f.service.Approve(ctx, req.ID, outsider)
	require.Error(t, err)
	require.True(t, dErrors.HasCode(err, dErrors.CodeForbidden))
	require.EqualValues(t, 0, f.finalizer.calls.Load())
}

func TestActorCannotReviewOwnBuild(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 1)

	// Put the build actor on the reviewer roster, then have them vote on
	// their own request.
	self := f.reviewers[0]
	f.actor = self
	req := f.openRequest(t, ctx)

	_, err := f.service.Approve(ctx, req.ID, self)
	require.Error(t, err)
	require.True(t, dErrors.HasCode(err, dErrors.CodeForbidden))
}

func TestApproveUnknownRequest(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 1)

	_, err := f.service.Approve(ctx, id.NewApprovalID(), f.reviewers[0])
	require.Error(t, err)
	require.True(t, dErrors.HasCode(err, dErrors.CodeNotFound))
}

func TestVoteOnOverdueRequestExpiresIt(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 1)
	req := f.openRequest(t, ctx)

	late := requestcontext.WithTime(ctx, time.Now().Add(73*time.Hour))
	_, err := f.service.Approve(late, req.ID, f.reviewers[0])
	require.Error(t, err)
	require.True(t, dErrors.HasCode(err, dErrors.CodeConflict))

	got, err := f.service.Get(ctx, req.ID)
	require.NoError(t, err)
	require.Equal(t, models.ApprovalExpired, got.State)
	require.EqualValues(t, 1, f.finalizer.calls.Load())
}

func TestResolvedRequestLockIsEvicted(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 1)
	req := f.openRequest(t, ctx)

	_, err := f.service.Approve(ctx, req.ID, f.reviewers[0])
	require.NoError(t, err)
	require.Empty(t, heldLocks(f.service))

	// Replayed votes must not leave entries behind either.
	_, err = f.service.Approve(ctx, req.ID, f.reviewers[0])
	require.NoError(t, err)
	require.Empty(t, heldLocks(f.service))
}

func heldLocks(s *Service) []id.ApprovalID {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]id.ApprovalID, 0, len(s.locks))
	for approvalID := range s.locks {
		ids = append(ids, approvalID)
	}
	return ids
}

func TestExpireDueSweepsOnlyOverduePending(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 1)

	overdue := f.openRequest(t, ctx)
	fresh := f.openRequest(t, ctx)
	resolved := f.openRequest(t, ctx)
	_, err := f.service.Reject(ctx, resolved.ID, f.reviewers[0])
	require.NoError(t, err)

	late := requestcontext.WithTime(ctx, overdue.ExpiresAt.Add(time.Minute))

	// Both open requests share the same deadline in this fixture, so bump
	// the fresh one out of sweep range first.
	freshCopy, err := f.service.Get(ctx, fresh.ID)
	require.NoError(t, err)
	freshCopy.ExpiresAt = overdue.ExpiresAt.Add(time.Hour)
	require.NoError(t, f.service.store.Update(ctx, freshCopy))

	count, err := f.service.ExpireDue(late)
	require.NoError(t, err)
	require.Equal(t, 1, count)

	got, err := f.service.Get(ctx, overdue.ID)
	require.NoError(t, err)
	require.Equal(t, models.ApprovalExpired, got.State)

	got, err = f.service.Get(ctx, fresh.ID)
	require.NoError(t, err)
	require.Equal(t, models.ApprovalPending, got.State)
}
