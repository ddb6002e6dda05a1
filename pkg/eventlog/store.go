// Package eventlog implements the append-only, hash-chained event store
// that is the kernel's system of record.
//
// Guarantees:
//   - sequence IDs are dense and monotonic, assigned from 1, and never
//     reused until Clear resets the store
//   - no mutation after append; retention is enforced by eviction only
//   - every event's hash covers the previous event's hash, forming a
//     verifiable chain across the whole store
package eventlog

import (
	"context"
	"errors"
	"time"

	"github.com/Mindburn-Labs/autonomy-kernel/pkg/contracts"
)

var ErrPayload = errors.New("event payload cannot be canonicalized")

// Store is the event log contract. An in-memory implementation must pass
// every test the persistent ones do.
type Store interface {
	// Append records one event and returns its sequence ID.
	Append(ctx context.Context, requestID, eventType string, payload map[string]any, correlationID string) (uint64, error)
	GetByRequestID(requestID string) []contracts.ExecutionEvent
	GetByCorrelationID(correlationID string) []contracts.ExecutionEvent
	GetRecent(n int) []contracts.ExecutionEvent
	All() []contracts.ExecutionEvent
	Size() int
	Clear()
	// VerifyChain walks the whole chain; on break it reports the first
	// offending sequence ID.
	VerifyChain() (bool, string)
	// EvictExpired removes events older than the retention window and
	// returns the count. A zero window is a no-op.
	EvictExpired(now time.Time) int
}
