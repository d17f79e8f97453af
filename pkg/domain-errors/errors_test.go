package domainerrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodeOf(t *testing.T) {
	t.Run("coded error returns its code", func(t *testing.T) {
		err := New(CodeMalformedIdentity, "bad charset")
		assert.Equal(t, CodeMalformedIdentity, CodeOf(err))
	})

	t.Run("uncoded error maps to internal", func(t *testing.T) {
		assert.Equal(t, CodeInternal, CodeOf(errors.New("boom")))
	})

	t.Run("outermost code wins", func(t *testing.T) {
		inner := New(CodeNotFound, "missing")
		outer := Wrap(inner, CodeUnavailable, "store down")
		assert.Equal(t, CodeUnavailable, CodeOf(outer))
	})
}

func TestHasCode(t *testing.T) {
	inner := New(CodeNotFound, "missing")
	outer := Wrap(inner, CodeInternal, "lookup failed")

	assert.True(t, HasCode(outer, CodeInternal))
	assert.True(t, HasCode(outer, CodeNotFound))
	assert.False(t, HasCode(outer, CodeConflict))
	assert.False(t, HasCode(nil, CodeInternal))
}

func TestWrap(t *testing.T) {
	t.Run("nil error wraps to nil", func(t *testing.T) {
		require.NoError(t, Wrap(nil, CodeInternal, "ignored"))
	})

	t.Run("cause is reachable via errors.Is", func(t *testing.T) {
		cause := errors.New("disk full")
		err := Wrap(fmt.Errorf("append: %w", cause), CodeUnavailable, "audit write failed")
		assert.ErrorIs(t, err, cause)
	})
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(New(CodeUnavailable, "backpressure")))
	assert.False(t, IsRetryable(New(CodeForbidden, "denied")))
	assert.False(t, IsRetryable(nil))
}
