package compensation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCompensateSuccess(t *testing.T) {
	r := NewRegistry()
	var gotParams map[string]any
	r.Register("WRITE_FILE", func(_ context.Context, params map[string]any, _ any) error {
		gotParams = params
		return nil
	})

	res := r.Compensate(context.Background(), "WRITE_FILE", map[string]any{"path": "/tmp/x"}, nil)
	assert.True(t, res.Attempted)
	assert.True(t, res.Success)
	assert.Empty(t, res.Detail)
	assert.Equal(t, "/tmp/x", gotParams["path"])
}

func TestCompensateMissingHandler(t *testing.T) {
	r := NewRegistry()
	res := r.Compensate(context.Background(), "DELETE_BRANCH", nil, nil)
	assert.False(t, res.Attempted)
	assert.False(t, res.Success)
	assert.Equal(t, "No compensation registered for DELETE_BRANCH", res.Detail)
}

func TestCompensateHandlerError(t *testing.T) {
	r := NewRegistry()
	r.Register("X", func(context.Context, map[string]any, any) error {
		return errors.New("remote refused rollback")
	})

	res := r.Compensate(context.Background(), "X", nil, nil)
	assert.True(t, res.Attempted)
	assert.False(t, res.Success)
	assert.Contains(t, res.Detail, "remote refused rollback")
}

func TestCompensateHandlerPanic(t *testing.T) {
	r := NewRegistry()
	r.Register("X", func(context.Context, map[string]any, any) error { panic("boom") })

	res := r.Compensate(context.Background(), "X", nil, nil)
	assert.True(t, res.Attempted)
	assert.False(t, res.Success)
	assert.Contains(t, res.Detail, "panic")
}

func TestCompensateTimeout(t *testing.T) {
	r := NewRegistry().WithTimeout(20 * time.Millisecond)
	r.Register("X", func(ctx context.Context, _ map[string]any, _ any) error {
		select {
		case <-time.After(time.Second):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})

	res := r.Compensate(context.Background(), "X", nil, nil)
	assert.True(t, res.Attempted)
	assert.False(t, res.Success)
}

func TestRegisterReplaces(t *testing.T) {
	r := NewRegistry()
	r.Register("X", func(context.Context, map[string]any, any) error { return errors.New("old") })
	r.Register("X", func(context.Context, map[string]any, any) error { return nil })
	assert.True(t, r.Has("X"))

	res := r.Compensate(context.Background(), "X", nil, nil)
	assert.True(t, res.Success)
}
