// Package compensation holds per-tool undo handlers, invoked when a
// pipeline pass fails verification or breaks an invariant after the
// tool's side effects already landed.
package compensation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Mindburn-Labs/autonomy-kernel/pkg/contracts"
)

// Handler reverses the side effects of one executed tool call. It
// receives the original params and the execution result.
type Handler func(ctx context.Context, params map[string]any, result any) error

// DefaultTimeout bounds a single compensation attempt.
const DefaultTimeout = 30 * time.Second

// Registry maps tool names to compensation handlers.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	timeout  time.Duration
}

func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[string]Handler),
		timeout:  DefaultTimeout,
	}
}

func (r *Registry) WithTimeout(d time.Duration) *Registry {
	r.timeout = d
	return r
}

// Register installs the handler for a tool, replacing any prior one.
func (r *Registry) Register(toolName string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[toolName] = h
}

// Has reports whether a handler exists for the tool.
func (r *Registry) Has(toolName string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.handlers[toolName]
	return ok
}

// Compensate runs the tool's handler. A missing handler is reported as
// an unattempted failure so the caller can open an incident; a handler
// error or panic is an attempted failure.
func (r *Registry) Compensate(ctx context.Context, toolName string, params map[string]any, result any) contracts.CompensationResult {
	r.mu.RLock()
	h, ok := r.handlers[toolName]
	r.mu.RUnlock()

	if !ok {
		return contracts.CompensationResult{
			Attempted: false,
			Success:   false,
			Detail:    fmt.Sprintf("No compensation registered for %s", toolName),
		}
	}

	cctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				errCh <- fmt.Errorf("compensation panic: %v", rec)
			}
		}()
		errCh <- h(cctx, params, result)
	}()

	var err error
	select {
	case err = <-errCh:
	case <-cctx.Done():
		err = cctx.Err()
	}

	res := contracts.CompensationResult{Attempted: true, Success: err == nil}
	if err != nil {
		res.Detail = err.Error()
	}
	return res
}
