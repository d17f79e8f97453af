//go:build integration

package postgres

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	audit "buildgate/pkg/platform/audit"
	"buildgate/pkg/testutil/containers"
)

func newStoreFixture(t *testing.T) (*Store, context.Context) {
	t.Helper()
	pg := containers.NewPostgresContainer(t)
	require.NoError(t, pg.TruncateAll(context.Background()))
	return New(pg.DB), context.Background()
}

func decisionEvent(eventID string) audit.Event {
	return audit.Event{
		Timestamp:  time.Now().UTC(),
		EventID:    eventID,
		Actor:      "external-dev",
		Repository: "acme/widgets",
		Action:     string(audit.EventDecisionIssued),
		Outcome:    "deny",
		Tier:       "first_time_external",
		Reason:     "default_deny",
		RequestID:  "req-1",
	}
}

func TestAppendWritesOutboxEntry(t *testing.T) {
	store, ctx := newStoreFixture(t)

	require.NoError(t, store.Append(ctx, decisionEvent("evt-1")))

	entries, err := store.FetchUnpublished(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, string(audit.EventDecisionIssued), entries[0].EventType)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(entries[0].Payload, &payload))
	assert.Equal(t, "evt-1", payload["EventID"])
	// Category is derived from the action, not trusted from the caller.
	assert.Equal(t, string(audit.CategoryCompliance), payload["Category"])
}

func TestMarkPublishedExcludesFromFetch(t *testing.T) {
	store, ctx := newStoreFixture(t)

	require.NoError(t, store.Append(ctx, decisionEvent("evt-1")))
	require.NoError(t, store.Append(ctx, decisionEvent("evt-2")))

	entries, err := store.FetchUnpublished(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	require.NoError(t, store.MarkPublished(ctx, []uuid.UUID{entries[0].ID}))

	remaining, err := store.FetchUnpublished(ctx, 10)
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, entries[1].ID, remaining[0].ID)
}

func TestRunInTxRollsBackOutboxWrites(t *testing.T) {
	store, ctx := newStoreFixture(t)

	sentinel := assert.AnError
	err := store.RunInTx(ctx, func(txCtx context.Context) error {
		if err := store.Append(txCtx, decisionEvent("evt-tx")); err != nil {
			return err
		}
		return sentinel
	})
	require.ErrorIs(t, err, sentinel)

	entries, err := store.FetchUnpublished(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestMaterializationIsIdempotent(t *testing.T) {
	store, ctx := newStoreFixture(t)

	recordID := uuid.New()
	event := decisionEvent("evt-1")
	event.Category = audit.CategoryCompliance

	require.NoError(t, store.AppendWithID(ctx, recordID, event))
	// Redelivered Kafka messages replay the same record ID.
	require.NoError(t, store.AppendWithID(ctx, recordID, event))

	events, err := store.ListRecent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, audit.CategoryCompliance, events[0].Category)
	assert.Equal(t, "external-dev", events[0].Actor)
}

func TestListRecentOrdersNewestFirst(t *testing.T) {
	store, ctx := newStoreFixture(t)

	older := decisionEvent("evt-old")
	older.Timestamp = time.Now().UTC().Add(-time.Hour)
	newer := decisionEvent("evt-new")
	newer.Timestamp = time.Now().UTC()
	older.Category = audit.CategoryCompliance
	newer.Category = audit.CategoryCompliance

	require.NoError(t, store.AppendWithID(ctx, uuid.New(), older))
	require.NoError(t, store.AppendWithID(ctx, uuid.New(), newer))

	events, err := store.ListRecent(ctx, 1)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "evt-new", events[0].EventID)
}
