package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"buildgate/internal/admission/approval"
	"buildgate/internal/admission/config"
	"buildgate/internal/admission/identity"
	"buildgate/internal/admission/models"
	"buildgate/internal/admission/sandbox"
	"buildgate/internal/admission/store/approvalstore"
	"buildgate/internal/admission/store/history"
	"buildgate/internal/admission/store/registry"
	"buildgate/internal/admission/throttle"
	"buildgate/internal/admission/token"
	id "buildgate/pkg/domain"
	dErrors "buildgate/pkg/domain-errors"
	audit "buildgate/pkg/platform/audit"
	"buildgate/pkg/platform/audit/publisher"
	auditmem "buildgate/pkg/platform/audit/store/memory"
)

const testPolicy = `
min_account_age_days: 30
min_recurring_contributions: 5
min_approvers: 2
approval_ttl: 72h
protected_branches: [main]
sensitive_paths:
  - package.json
  - go.mod
  - .github/workflows/
internal_roster: [internal-dev]
approver_roster: [reviewer-one, reviewer-two, reviewer-three]
allowlist:
  - identifier: "123456"
    reason: partner bot
denylist:
  - identifier: banned-actor
    reason: credential mining
ingest_limit: 100
ingest_window: 1m
sandbox_profiles:
  revoked:
    network_mode: none
    filesystem_mode: read_only
    cpu_millis: 100
    memory_mb: 64
  first_time_external:
    network_mode: none
    filesystem_mode: read_only
    cpu_millis: 1000
    memory_mb: 2048
  recurring_external:
    network_mode: isolated
    filesystem_mode: read_only
    cpu_millis: 2000
    memory_mb: 4096
  internal:
    network_mode: full
    filesystem_mode: read_write
    cpu_millis: 4000
    memory_mb: 8192
    credential_scope: [artifact:push, cache:write]
    token_ttl: 1h
`

type testGate struct {
	cfg       *config.Config
	service   *Service
	approvals *approval.Service
	registry  *registry.InMemoryStore
	history   *history.InMemoryStore
	auditLog  *auditmem.InMemoryStore
}

func newTestGate(t *testing.T, opts ...Option) *testGate {
	t.Helper()

	cfg, err := config.Parse([]byte(testPolicy))
	require.NoError(t, err)

	reg := registry.NewInMemoryStore()
	seedRegistry(t, reg, cfg)

	hist := history.NewInMemoryStore()
	auditLog := auditmem.NewInMemoryStore()
	pub := publisher.NewPublisher(auditLog)
	t.Cleanup(pub.Close)

	svc := NewService(
		cfg,
		identity.NewMatcher(reg),
		hist,
		sandbox.NewResolver(cfg.Profiles),
		token.NewService("test-signing-key", "buildgate", "build-runners"),
		pub,
		opts...,
	)
	approvals := approval.NewService(
		approvalstore.NewInMemoryStore(), svc, cfg.ApproverRoster, cfg.MinApprovers, cfg.ApprovalTTL,
	)
	svc.SetApprovals(approvals)

	return &testGate{
		cfg:       cfg,
		service:   svc,
		approvals: approvals,
		registry:  reg,
		history:   hist,
		auditLog:  auditLog,
	}
}

func seedRegistry(t *testing.T, store *registry.InMemoryStore, cfg *config.Config) {
	t.Helper()
	ctx := context.Background()
	for _, seed := range cfg.Allowlist {
		require.NoError(t, store.Add(ctx, &models.RegistryEntry{
			ID:         id.NewEntryID(),
			List:       models.ListAllow,
			Identifier: seed.Identifier,
			Reason:     seed.Reason,
			ExpiresAt:  seed.ExpiresAt,
			CreatedAt:  time.Now(),
		}))
	}
	for _, seed := range cfg.Denylist {
		require.NoError(t, store.Add(ctx, &models.RegistryEntry{
			ID:         id.NewEntryID(),
			List:       models.ListDeny,
			Identifier: seed.Identifier,
			Reason:     seed.Reason,
			ExpiresAt:  seed.ExpiresAt,
			CreatedAt:  time.Now(),
		}))
	}
}

func mustLogin(t *testing.T, raw string) id.ActorLogin {
	t.Helper()
	login, err := id.ParseActorLogin(raw)
	require.NoError(t, err)
	return login
}

func buildEvent(t *testing.T, actorLogin string, mutate func(*models.Event)) (string, models.Event) {
	t.Helper()
	event := models.Event{
		ID:           id.NewEventID(),
		Repository:   "acme/pipeline",
		Type:         models.EventPullRequest,
		SourceBranch: "feature/x",
		TargetBranch: "main",
		Actor: models.Actor{
			Login:       mustLogin(t, actorLogin),
			CreatedAt:   time.Now().Add(-400 * 24 * time.Hour),
			Association: models.AssociationContributor,
		},
		ReceivedAt: time.Now(),
	}
	if mutate != nil {
		mutate(&event)
	}
	return actorLogin, event
}

func TestInternalPushToProtectedBranchAdmitsWithCredentials(t *testing.T) {
	ctx := context.Background()
	gate := newTestGate(t)

	raw, event := buildEvent(t, "internal-dev", func(e *models.Event) {
		e.Type = models.EventPush
		e.TargetBranch = "main"
		e.Actor.Association = models.AssociationMember
	})

	decision, err := gate.service.AdmitEvent(ctx, raw, event)
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeAdmit, decision.Outcome)
	assert.Equal(t, id.TierInternal, decision.Tier)
	assert.Equal(t, models.ReasonTrustedInternal, decision.Reason)
	assert.NotEmpty(t, decision.BuildToken)
	assert.Equal(t, models.NetworkFull, decision.Profile.NetworkMode)

	records, err := gate.auditLog.ListRecent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, string(audit.EventDecisionIssued), records[0].Action)
	assert.Equal(t, string(models.OutcomeAdmit), records[0].Outcome)
}

func TestAllowlistedSuperstringIsNotTrusted(t *testing.T) {
	ctx := context.Background()
	gate := newTestGate(t)

	// "123456" is allowlisted. "123456evil" shares the prefix and must get
	// zero benefit from it.
	raw, event := buildEvent(t, "123456evil", nil)

	decision, err := gate.service.AdmitEvent(ctx, raw, event)
	require.NoError(t, err)
	assert.Equal(t, id.TierFirstTimeExternal, decision.Tier)
	assert.Equal(t, models.OutcomeAdmitWithApproval, decision.Outcome)
	assert.Empty(t, decision.Profile.CredentialScope)
	assert.Empty(t, decision.BuildToken)
}

func TestDenylistedActorIsDeniedEverywhere(t *testing.T) {
	ctx := context.Background()
	gate := newTestGate(t)

	raw, event := buildEvent(t, "banned-actor", func(e *models.Event) {
		e.Actor.Association = models.AssociationMember
	})

	decision, err := gate.service.AdmitEvent(ctx, raw, event)
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeDeny, decision.Outcome)
	assert.Equal(t, id.TierRevoked, decision.Tier)
	assert.Equal(t, models.ReasonActorRevoked, decision.Reason)
	assert.Empty(t, decision.BuildToken)
}

func TestForkPRTouchingDependencyManifestNeedsApproval(t *testing.T) {
	ctx := context.Background()
	gate := newTestGate(t)

	// Recurring contributor, but the change shape forces review anyway.
	actor := mustLogin(t, "veteran-contributor")
	require.NoError(t, gate.history.Set(ctx, actor, models.ContributorHistory{MergedContributions: 20}))

	raw, event := buildEvent(t, "veteran-contributor", func(e *models.Event) {
		e.IsFork = true
		e.ChangedPaths = []string{"package.json", "src/main.go"}
	})

	decision, err := gate.service.AdmitEvent(ctx, raw, event)
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeAdmitWithApproval, decision.Outcome)
	assert.Equal(t, models.ReasonDependencyOrCIChange, decision.Reason)
	require.NotNil(t, decision.ApprovalID)

	req, err := gate.approvals.Get(ctx, *decision.ApprovalID)
	require.NoError(t, err)
	assert.Equal(t, models.ApprovalPending, req.State)
}

func TestMalformedIdentityDeniesWithoutError(t *testing.T) {
	ctx := context.Background()
	gate := newTestGate(t)

	event := models.Event{
		ID:         id.NewEventID(),
		Repository: "acme/pipeline",
		Type:       models.EventPullRequest,
		ReceivedAt: time.Now(),
	}

	decision, err := gate.service.AdmitEvent(ctx, "evil\x00actor", event)
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeDeny, decision.Outcome)
	assert.Equal(t, models.ReasonMalformedIdentity, decision.Reason)
	assert.Equal(t, sandbox.Locked(), decision.Profile)

	records, err := gate.auditLog.ListRecent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, string(audit.EventIdentityRejected), records[0].Action)
	assert.Equal(t, "evil\x00actor", records[0].Actor)
}

func TestApprovalGrantedAdmitsOnFinalize(t *testing.T) {
	ctx := context.Background()
	gate := newTestGate(t)

	raw, event := buildEvent(t, "newcomer", nil)
	decision, err := gate.service.AdmitEvent(ctx, raw, event)
	require.NoError(t, err)
	require.Equal(t, models.OutcomeAdmitWithApproval, decision.Outcome)
	require.NotNil(t, decision.ApprovalID)

	_, err = gate.approvals.Approve(ctx, *decision.ApprovalID, mustLogin(t, "reviewer-one"))
	require.NoError(t, err)
	req, err := gate.approvals.Approve(ctx, *decision.ApprovalID, mustLogin(t, "reviewer-two"))
	require.NoError(t, err)
	assert.Equal(t, models.ApprovalApproved, req.State)

	records, err := gate.auditLog.ListRecent(ctx, 10)
	require.NoError(t, err)
	var final *audit.Event
	for i := range records {
		if records[i].Action == string(audit.EventDecisionIssued) &&
			records[i].Reason == string(models.ReasonApprovalGranted) {
			final = &records[i]
		}
	}
	require.NotNil(t, final, "finalized decision must be audited")
	assert.Equal(t, string(models.OutcomeAdmit), final.Outcome)

	h, err := gate.history.Get(ctx, mustLogin(t, "newcomer"))
	require.NoError(t, err)
	assert.Equal(t, 1, h.MergedContributions)
}

func TestApprovalCannotResurrectRevokedActor(t *testing.T) {
	ctx := context.Background()
	gate := newTestGate(t)

	raw, event := buildEvent(t, "newcomer", nil)
	decision, err := gate.service.AdmitEvent(ctx, raw, event)
	require.NoError(t, err)
	require.NotNil(t, decision.ApprovalID)

	// Actor lands on the denylist while the request is pending.
	require.NoError(t, gate.registry.Add(ctx, &models.RegistryEntry{
		ID:         id.NewEntryID(),
		List:       models.ListDeny,
		Identifier: mustLogin(t, "newcomer"),
		Reason:     "abuse report",
		CreatedAt:  time.Now(),
	}))

	_, err = gate.approvals.Approve(ctx, *decision.ApprovalID, mustLogin(t, "reviewer-one"))
	require.NoError(t, err)
	_, err = gate.approvals.Approve(ctx, *decision.ApprovalID, mustLogin(t, "reviewer-two"))
	require.NoError(t, err)

	records, err := gate.auditLog.ListRecent(ctx, 10)
	require.NoError(t, err)
	var final *audit.Event
	for i := range records {
		if records[i].Action == string(audit.EventDecisionIssued) && records[i].ApprovalID != "" {
			final = &records[i]
		}
	}
	require.NotNil(t, final)
	assert.Equal(t, string(models.OutcomeDeny), final.Outcome)
	assert.Equal(t, string(models.ReasonActorRevoked), final.Reason)
}

func TestRejectionRecordsPriorDenial(t *testing.T) {
	ctx := context.Background()
	gate := newTestGate(t)

	raw, event := buildEvent(t, "newcomer", nil)
	decision, err := gate.service.AdmitEvent(ctx, raw, event)
	require.NoError(t, err)
	require.NotNil(t, decision.ApprovalID)

	_, err = gate.approvals.Reject(ctx, *decision.ApprovalID, mustLogin(t, "reviewer-one"))
	require.NoError(t, err)

	h, err := gate.history.Get(ctx, mustLogin(t, "newcomer"))
	require.NoError(t, err)
	assert.True(t, h.PriorDenial)
}

func TestAuditOutageWithholdsDecision(t *testing.T) {
	ctx := context.Background()
	cfg, err := config.Parse([]byte(testPolicy))
	require.NoError(t, err)

	reg := registry.NewInMemoryStore()
	svc := NewService(
		cfg,
		identity.NewMatcher(reg),
		history.NewInMemoryStore(),
		sandbox.NewResolver(cfg.Profiles),
		token.NewService("test-signing-key", "buildgate", "build-runners"),
		failingRecorder{},
	)
	svc.SetApprovals(approval.NewService(
		approvalstore.NewInMemoryStore(), svc, cfg.ApproverRoster, cfg.MinApprovers, cfg.ApprovalTTL,
	))

	raw, event := buildEvent(t, "internal-dev", func(e *models.Event) {
		e.Type = models.EventPush
		e.Actor.Association = models.AssociationMember
	})

	decision, err := svc.AdmitEvent(ctx, raw, event)
	require.Error(t, err)
	assert.Nil(t, decision)
	assert.True(t, dErrors.IsRetryable(err))
}

func TestThrottleRefusesWithRetryableError(t *testing.T) {
	ctx := context.Background()
	gate := newTestGate(t, WithThrottle(oneShotThrottle{}))

	raw, event := buildEvent(t, "internal-dev", nil)
	_, err := gate.service.AdmitEvent(ctx, raw, event)
	require.NoError(t, err)

	_, err = gate.service.AdmitEvent(ctx, raw, event)
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeThrottled))

	records, err := gate.auditLog.ListRecent(ctx, 10)
	require.NoError(t, err)
	var throttled bool
	for _, r := range records {
		if r.Action == string(audit.EventIngestionThrottle) {
			throttled = true
		}
	}
	assert.True(t, throttled, "throttle refusal must be audited")
}

type failingRecorder struct{}

func (failingRecorder) Emit(context.Context, audit.Event) error {
	return errors.New("audit store down")
}

// oneShotThrottle allows the first event per key and refuses the rest.
type oneShotThrottle struct{}

var oneShotSeen = map[string]bool{}

func (oneShotThrottle) Allow(_ context.Context, key string, limit int, window time.Duration) (*throttle.Result, error) {
	if oneShotSeen[key] {
		return &throttle.Result{Allowed: false, ResetAt: time.Now().Add(window), Limit: limit}, nil
	}
	oneShotSeen[key] = true
	return &throttle.Result{Allowed: true, Remaining: limit - 1, Limit: limit}, nil
}
