package memory

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	audit "buildgate/pkg/platform/audit"
)

func seededStore(t *testing.T, n int) *InMemoryStore {
	t.Helper()
	store := NewInMemoryStore()
	for i := 0; i < n; i++ {
		err := store.Append(context.Background(), audit.Event{
			Category:  audit.CategorySecurity,
			Timestamp: time.Now(),
			Actor:     fmt.Sprintf("actor-%d", i),
			Action:    string(audit.EventDecisionIssued),
		})
		require.NoError(t, err)
	}
	return store
}

func TestListRecentLimits(t *testing.T) {
	ctx := context.Background()
	store := seededStore(t, 3)

	cases := []struct {
		limit int
		want  []string
	}{
		{limit: 2, want: []string{"actor-1", "actor-2"}},
		{limit: 3, want: []string{"actor-0", "actor-1", "actor-2"}},
		{limit: 10, want: []string{"actor-0", "actor-1", "actor-2"}},
		{limit: 0, want: []string{}},
		{limit: -5, want: []string{}},
	}
	for _, tc := range cases {
		events, err := store.ListRecent(ctx, tc.limit)
		require.NoError(t, err, "limit %d", tc.limit)
		require.Len(t, events, len(tc.want), "limit %d", tc.limit)
		for i, actor := range tc.want {
			require.Equal(t, actor, events[i].Actor)
		}
	}
}

func TestListByActorFiltersExactly(t *testing.T) {
	ctx := context.Background()
	store := seededStore(t, 3)

	events, err := store.ListByActor(ctx, "actor-1")
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, "actor-1", events[0].Actor)

	events, err = store.ListByActor(ctx, "actor")
	require.NoError(t, err)
	require.Empty(t, events)
}
