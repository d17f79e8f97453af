package registry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"buildgate/internal/admission/models"
	id "buildgate/pkg/domain"
	"buildgate/pkg/requestcontext"
)

type InMemoryStoreSuite struct {
	suite.Suite
	store *InMemoryStore
	ctx   context.Context
}

func TestInMemoryStoreSuite(t *testing.T) {
	suite.Run(t, new(InMemoryStoreSuite))
}

func (s *InMemoryStoreSuite) SetupTest() {
	s.store = NewInMemoryStore()
	s.ctx = context.Background()
}

func (s *InMemoryStoreSuite) entry(list models.ListKind, identifier string, expiresAt *time.Time) *models.RegistryEntry {
	return &models.RegistryEntry{
		ID:         id.NewEntryID(),
		List:       list,
		Identifier: id.ActorLogin(identifier),
		Reason:     "test",
		CreatedAt:  time.Now(),
		ExpiresAt:  expiresAt,
	}
}

func (s *InMemoryStoreSuite) TestLookupIsExactKeyOnly() {
	s.Require().NoError(s.store.Add(s.ctx, s.entry(models.ListAllow, "123456", nil)))

	entries, err := s.store.ActiveEntries(s.ctx, "123456evil")
	s.Require().NoError(err)
	s.Empty(entries, "superstring identifier must not see the trusted entry")

	entries, err = s.store.ActiveEntries(s.ctx, "12345")
	s.Require().NoError(err)
	s.Empty(entries, "substring identifier must not see the trusted entry")

	entries, err = s.store.ActiveEntries(s.ctx, "123456")
	s.Require().NoError(err)
	s.Len(entries, 1)
}

func (s *InMemoryStoreSuite) TestAddReplacesSameListEntry() {
	s.Require().NoError(s.store.Add(s.ctx, s.entry(models.ListAllow, "octocat", nil)))

	replacement := s.entry(models.ListAllow, "octocat", nil)
	replacement.Reason = "renewed"
	s.Require().NoError(s.store.Add(s.ctx, replacement))

	entries, err := s.store.ActiveEntries(s.ctx, "octocat")
	s.Require().NoError(err)
	s.Require().Len(entries, 1)
	s.Equal("renewed", entries[0].Reason)
}

func (s *InMemoryStoreSuite) TestBothListsCoexist() {
	s.Require().NoError(s.store.Add(s.ctx, s.entry(models.ListAllow, "turncoat", nil)))
	s.Require().NoError(s.store.Add(s.ctx, s.entry(models.ListDeny, "turncoat", nil)))

	entries, err := s.store.ActiveEntries(s.ctx, "turncoat")
	s.Require().NoError(err)
	s.Len(entries, 2)
}

func (s *InMemoryStoreSuite) TestExpiredEntriesFilteredAndSwept() {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Minute)
	s.Require().NoError(s.store.Add(s.ctx, s.entry(models.ListAllow, "temp-bot", &past)))
	s.Require().NoError(s.store.Add(s.ctx, s.entry(models.ListAllow, "keeper", nil)))

	ctx := requestcontext.WithTime(s.ctx, now)
	entries, err := s.store.ActiveEntries(ctx, "temp-bot")
	s.Require().NoError(err)
	s.Empty(entries, "expired entry must not be returned")

	s.Require().NoError(s.store.RemoveExpiredAt(s.ctx, now))

	all, err := s.store.List(ctx, models.ListAllow)
	s.Require().NoError(err)
	s.Require().Len(all, 1)
	s.Equal(id.ActorLogin("keeper"), all[0].Identifier)
}

func (s *InMemoryStoreSuite) TestRemove() {
	s.Require().NoError(s.store.Add(s.ctx, s.entry(models.ListDeny, "banned", nil)))
	s.Require().NoError(s.store.Remove(s.ctx, models.ListDeny, "banned"))

	entries, err := s.store.ActiveEntries(s.ctx, "banned")
	s.Require().NoError(err)
	s.Empty(entries)

	// Removing again is a no-op.
	s.Require().NoError(s.store.Remove(s.ctx, models.ListDeny, "banned"))
}
