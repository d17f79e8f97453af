package throttle

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllowWithinLimit(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()

	for i := 0; i < 5; i++ {
		res, err := store.Allow(ctx, "acme/pipeline", 5, time.Minute)
		require.NoError(t, err)
		assert.True(t, res.Allowed)
		assert.Equal(t, 5-i-1, res.Remaining)
	}
}

func TestRefusesOverLimit(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()

	for i := 0; i < 3; i++ {
		_, err := store.Allow(ctx, "acme/pipeline", 3, time.Minute)
		require.NoError(t, err)
	}

	res, err := store.Allow(ctx, "acme/pipeline", 3, time.Minute)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.False(t, res.ResetAt.IsZero())
}

func TestKeysAreIndependent(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()

	_, err := store.Allow(ctx, "acme/one", 1, time.Minute)
	require.NoError(t, err)

	res, err := store.Allow(ctx, "acme/two", 1, time.Minute)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestWindowSlides(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()
	window := 40 * time.Millisecond

	res, err := store.Allow(ctx, "acme/pipeline", 1, window)
	require.NoError(t, err)
	require.True(t, res.Allowed)

	res, err = store.Allow(ctx, "acme/pipeline", 1, window)
	require.NoError(t, err)
	require.False(t, res.Allowed)

	time.Sleep(window + 10*time.Millisecond)

	res, err = store.Allow(ctx, "acme/pipeline", 1, window)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestResetClearsWindow(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()

	_, err := store.Allow(ctx, "acme/pipeline", 1, time.Minute)
	require.NoError(t, err)
	require.NoError(t, store.Reset(ctx, "acme/pipeline"))

	res, err := store.Allow(ctx, "acme/pipeline", 1, time.Minute)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}
