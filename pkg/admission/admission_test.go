package admission

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalLimiterBurstThenDeny(t *testing.T) {
	l := NewLocalLimiter(1, 2)

	ok, err := l.Allow(context.Background(), "llm")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, _ = l.Allow(context.Background(), "llm")
	assert.True(t, ok)
	ok, _ = l.Allow(context.Background(), "llm")
	assert.False(t, ok, "burst exhausted")
}

func TestLocalLimiterIsolatesSources(t *testing.T) {
	l := NewLocalLimiter(1, 1)

	ok, _ := l.Allow(context.Background(), "llm")
	assert.True(t, ok)
	ok, _ = l.Allow(context.Background(), "llm")
	assert.False(t, ok)

	// A different source has its own bucket.
	ok, _ = l.Allow(context.Background(), "user")
	assert.True(t, ok)
}

func TestLocalLimiterMinimumBurst(t *testing.T) {
	l := NewLocalLimiter(10, 0)
	ok, err := l.Allow(context.Background(), "system")
	require.NoError(t, err)
	assert.True(t, ok)
}
