package eventlog

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Mindburn-Labs/autonomy-kernel/pkg/canonical"
	"github.com/Mindburn-Labs/autonomy-kernel/pkg/contracts"
)

// Options bound the in-memory store. Zero values disable the bound.
type Options struct {
	// MaxEvents caps the arena; the oldest events are evicted FIFO.
	MaxEvents int
	// Retention evicts events older than this on every append.
	Retention time.Duration
}

// MemoryStore is the arena-plus-indexes implementation: a vector of
// records and two hash indexes (requestId -> sequenceIds,
// correlationId -> sequenceIds). Eviction mutates the vector and both
// indexes under the same lock, so no dangling index entries survive.
type MemoryStore struct {
	mu    sync.RWMutex
	arena []contracts.ExecutionEvent

	byRequest     map[string][]uint64
	byCorrelation map[string][]uint64

	nextSeq  uint64
	headHash string

	opts  Options
	clock func() time.Time
}

func NewMemoryStore(opts Options) *MemoryStore {
	return &MemoryStore{
		arena:         make([]contracts.ExecutionEvent, 0),
		byRequest:     make(map[string][]uint64),
		byCorrelation: make(map[string][]uint64),
		nextSeq:       1,
		opts:          opts,
		clock:         time.Now,
	}
}

// WithClock overrides the clock for deterministic testing.
func (s *MemoryStore) WithClock(clock func() time.Time) *MemoryStore {
	s.clock = clock
	return s
}

func (s *MemoryStore) Append(ctx context.Context, requestID, eventType string, payload map[string]any, correlationID string) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock().UTC()
	seq := s.nextSeq

	hash, err := canonical.EventHash(s.headHash, seq, requestID, eventType, payload, now)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrPayload, err)
	}

	ev := contracts.ExecutionEvent{
		SequenceID:    seq,
		RequestID:     requestID,
		Type:          eventType,
		Payload:       payload,
		Timestamp:     now,
		CorrelationID: correlationID,
		PrevHash:      s.headHash,
		EventHash:     hash,
	}

	s.arena = append(s.arena, ev)
	s.byRequest[requestID] = append(s.byRequest[requestID], seq)
	if correlationID != "" {
		s.byCorrelation[correlationID] = append(s.byCorrelation[correlationID], seq)
	}
	s.nextSeq++
	s.headHash = hash

	s.evictLocked(now)
	return seq, nil
}

// evictLocked enforces MaxEvents (FIFO) and Retention (age).
func (s *MemoryStore) evictLocked(now time.Time) {
	drop := 0
	if s.opts.MaxEvents > 0 && len(s.arena) > s.opts.MaxEvents {
		drop = len(s.arena) - s.opts.MaxEvents
	}
	if s.opts.Retention > 0 {
		cutoff := now.Add(-s.opts.Retention)
		for drop < len(s.arena) && s.arena[drop].Timestamp.Before(cutoff) {
			drop++
		}
	}
	if drop > 0 {
		s.dropFrontLocked(drop)
	}
}

// dropFrontLocked removes the n oldest events and prunes both indexes.
func (s *MemoryStore) dropFrontLocked(n int) {
	for i := 0; i < n; i++ {
		ev := s.arena[i]
		s.byRequest[ev.RequestID] = removeSeq(s.byRequest[ev.RequestID], ev.SequenceID)
		if len(s.byRequest[ev.RequestID]) == 0 {
			delete(s.byRequest, ev.RequestID)
		}
		if ev.CorrelationID != "" {
			s.byCorrelation[ev.CorrelationID] = removeSeq(s.byCorrelation[ev.CorrelationID], ev.SequenceID)
			if len(s.byCorrelation[ev.CorrelationID]) == 0 {
				delete(s.byCorrelation, ev.CorrelationID)
			}
		}
	}
	s.arena = append(s.arena[:0:0], s.arena[n:]...)
}

func removeSeq(seqs []uint64, seq uint64) []uint64 {
	for i, v := range seqs {
		if v == seq {
			return append(seqs[:i], seqs[i+1:]...)
		}
	}
	return seqs
}

// eventBySeqLocked resolves a sequence ID against the arena. Sequences
// are dense, so the offset from the first retained event is the index.
func (s *MemoryStore) eventBySeqLocked(seq uint64) (contracts.ExecutionEvent, bool) {
	if len(s.arena) == 0 {
		return contracts.ExecutionEvent{}, false
	}
	first := s.arena[0].SequenceID
	if seq < first || seq >= first+uint64(len(s.arena)) {
		return contracts.ExecutionEvent{}, false
	}
	return s.arena[seq-first], true
}

func (s *MemoryStore) GetByRequestID(requestID string) []contracts.ExecutionEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collectLocked(s.byRequest[requestID])
}

func (s *MemoryStore) GetByCorrelationID(correlationID string) []contracts.ExecutionEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collectLocked(s.byCorrelation[correlationID])
}

func (s *MemoryStore) collectLocked(seqs []uint64) []contracts.ExecutionEvent {
	out := make([]contracts.ExecutionEvent, 0, len(seqs))
	for _, seq := range seqs {
		if ev, ok := s.eventBySeqLocked(seq); ok {
			out = append(out, ev)
		}
	}
	return out
}

func (s *MemoryStore) GetRecent(n int) []contracts.ExecutionEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if n <= 0 || len(s.arena) == 0 {
		return nil
	}
	if n > len(s.arena) {
		n = len(s.arena)
	}
	out := make([]contracts.ExecutionEvent, n)
	copy(out, s.arena[len(s.arena)-n:])
	return out
}

func (s *MemoryStore) All() []contracts.ExecutionEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]contracts.ExecutionEvent, len(s.arena))
	copy(out, s.arena)
	return out
}

func (s *MemoryStore) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.arena)
}

// Clear resets the store. The next append receives sequence ID 1 and the
// hash chain restarts from genesis.
func (s *MemoryStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.arena = s.arena[:0]
	s.byRequest = make(map[string][]uint64)
	s.byCorrelation = make(map[string][]uint64)
	s.nextSeq = 1
	s.headHash = ""
}

// VerifyChain delegates to VerifyEvents over the live arena. After
// eviction the first retained event keeps its original PrevHash; only
// link continuity within the arena is checkable.
func (s *MemoryStore) VerifyChain() (bool, string) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return VerifyEvents(s.arena)
}

// VerifyRequestChain checks hash integrity of the events recorded for a
// single request. Used by the built-in invariants.
func (s *MemoryStore) VerifyRequestChain(requestID string) (bool, string) {
	for _, ev := range s.GetByRequestID(requestID) {
		computed, err := canonical.EventHash(ev.PrevHash, ev.SequenceID, ev.RequestID, ev.Type, ev.Payload, ev.Timestamp)
		if err != nil || computed != ev.EventHash {
			return false, fmt.Sprintf("hash mismatch at sequence %d", ev.SequenceID)
		}
	}
	return true, "request chain verified"
}

func (s *MemoryStore) EvictExpired(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.opts.Retention <= 0 {
		return 0
	}
	cutoff := now.Add(-s.opts.Retention)
	drop := 0
	for drop < len(s.arena) && s.arena[drop].Timestamp.Before(cutoff) {
		drop++
	}
	if drop > 0 {
		s.dropFrontLocked(drop)
	}
	return drop
}
