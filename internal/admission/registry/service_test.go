package registry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"buildgate/internal/admission/config"
	"buildgate/internal/admission/models"
	registrystore "buildgate/internal/admission/store/registry"
	id "buildgate/pkg/domain"
	dErrors "buildgate/pkg/domain-errors"
	audit "buildgate/pkg/platform/audit"
	"buildgate/pkg/platform/audit/publisher"
	auditmem "buildgate/pkg/platform/audit/store/memory"
)

func newFixture(t *testing.T) (*Service, *registrystore.InMemoryStore, *auditmem.InMemoryStore) {
	t.Helper()
	store := registrystore.NewInMemoryStore()
	auditLog := auditmem.NewInMemoryStore()
	pub := publisher.NewPublisher(auditLog)
	t.Cleanup(pub.Close)
	return NewService(store, pub), store, auditLog
}

func mustLogin(t *testing.T, raw string) id.ActorLogin {
	t.Helper()
	login, err := id.ParseActorLogin(raw)
	require.NoError(t, err)
	return login
}

func TestAddPersistsAndAudits(t *testing.T) {
	ctx := context.Background()
	svc, store, auditLog := newFixture(t)

	expires := time.Now().Add(24 * time.Hour)
	entry, err := svc.Add(ctx, models.ListDeny, mustLogin(t, "bad-actor"), "credential mining", &expires, "ops-admin")
	require.NoError(t, err)
	assert.Equal(t, models.ListDeny, entry.List)
	assert.Equal(t, "ops-admin", entry.CreatedBy)

	active, err := store.ActiveEntries(ctx, mustLogin(t, "bad-actor"))
	require.NoError(t, err)
	require.Len(t, active, 1)

	records, err := auditLog.ListRecent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, string(audit.EventRegistryEntryAdded), records[0].Action)
	assert.Equal(t, "bad-actor", records[0].Actor)
	assert.Equal(t, string(models.ListDeny), records[0].Outcome)
}

func TestAddRejectsPastExpiry(t *testing.T) {
	ctx := context.Background()
	svc, _, auditLog := newFixture(t)

	past := time.Now().Add(-time.Hour)
	_, err := svc.Add(ctx, models.ListAllow, mustLogin(t, "partner-bot"), "partner", &past, "ops-admin")
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))

	records, err := auditLog.ListRecent(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestRemoveAuditsEvenWhenAbsent(t *testing.T) {
	ctx := context.Background()
	svc, _, auditLog := newFixture(t)

	require.NoError(t, svc.Remove(ctx, models.ListAllow, mustLogin(t, "ghost"), "ops-admin"))

	records, err := auditLog.ListRecent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, string(audit.EventRegistryEntryRemoved), records[0].Action)
}

func TestSeedLoadsPolicyEntries(t *testing.T) {
	ctx := context.Background()
	svc, store, _ := newFixture(t)

	expires := time.Now().Add(48 * time.Hour)
	cfg := &config.Config{
		Allowlist: []config.SeedEntry{
			{Identifier: mustLogin(t, "partner-bot"), Reason: "partner"},
		},
		Denylist: []config.SeedEntry{
			{Identifier: mustLogin(t, "bad-actor"), Reason: "abuse", ExpiresAt: &expires},
		},
	}
	require.NoError(t, svc.Seed(ctx, cfg))
	// Seeding twice must not duplicate.
	require.NoError(t, svc.Seed(ctx, cfg))

	allow, err := store.List(ctx, models.ListAllow)
	require.NoError(t, err)
	require.Len(t, allow, 1)
	assert.Equal(t, "policy", allow[0].CreatedBy)

	deny, err := store.List(ctx, models.ListDeny)
	require.NoError(t, err)
	require.Len(t, deny, 1)
	require.NotNil(t, deny[0].ExpiresAt)
}

func TestAuditOutageBlocksMutation(t *testing.T) {
	ctx := context.Background()
	store := registrystore.NewInMemoryStore()
	svc := NewService(store, failingRecorder{})

	_, err := svc.Add(ctx, models.ListDeny, mustLogin(t, "bad-actor"), "abuse", nil, "ops-admin")
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnavailable))
}

type failingRecorder struct{}

func (failingRecorder) Emit(context.Context, audit.Event) error {
	return errors.New("audit store down")
}
