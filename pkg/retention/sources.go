package retention

import (
	"sync"
	"time"

	"github.com/Mindburn-Labs/autonomy-kernel/pkg/eventlog"
)

// EventSource adapts the event store. The retention window here must
// match the store's own, since the store performs the actual eviction.
type EventSource struct {
	Store     eventlog.Store
	Retention time.Duration
}

func (s *EventSource) Kind() string { return "events" }

func (s *EventSource) Expired(now time.Time) []ExportRecord {
	if s.Retention <= 0 {
		return nil
	}
	cutoff := now.Add(-s.Retention)
	var out []ExportRecord
	for _, e := range s.Store.All() {
		if !e.Timestamp.After(cutoff) {
			out = append(out, ExportRecord{
				Kind:        "events",
				RetainUntil: e.Timestamp.Add(s.Retention),
				Data: map[string]any{
					"sequenceId":    e.SequenceID,
					"requestId":     e.RequestID,
					"type":          e.Type,
					"payload":       e.Payload,
					"timestamp":     e.Timestamp,
					"correlationId": e.CorrelationID,
					"prevHash":      e.PrevHash,
					"eventHash":     e.EventHash,
				},
			})
		}
	}
	return out
}

func (s *EventSource) Evict(now time.Time) int {
	return s.Store.EvictExpired(now)
}

func (s *EventSource) Summary(now time.Time) KindSummary {
	events := s.Store.All()
	sum := KindSummary{Total: len(events)}
	for _, e := range events {
		retainUntil := e.Timestamp.Add(s.Retention)
		if !retainUntil.After(now) {
			sum.Expired++
		}
		if sum.OldestRetainUntil.IsZero() || retainUntil.Before(sum.OldestRetainUntil) {
			sum.OldestRetainUntil = retainUntil
		}
		if retainUntil.After(sum.NewestRetainUntil) {
			sum.NewestRetainUntil = retainUntil
		}
	}
	return sum
}

// TimedRecord is one entry in a RecordSource.
type TimedRecord struct {
	RetainUntil time.Time
	Data        map[string]any
}

// RecordSource is a generic retained store for non-event kinds (audit
// records, resolved approvals). Appenders set retainUntil explicitly.
type RecordSource struct {
	mu      sync.Mutex
	kind    string
	records []TimedRecord
}

func NewRecordSource(kind string) *RecordSource {
	return &RecordSource{kind: kind}
}

func (s *RecordSource) Add(rec TimedRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
}

func (s *RecordSource) Kind() string { return s.kind }

func (s *RecordSource) Expired(now time.Time) []ExportRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []ExportRecord
	for _, r := range s.records {
		if !r.RetainUntil.After(now) {
			out = append(out, ExportRecord{Kind: s.kind, RetainUntil: r.RetainUntil, Data: r.Data})
		}
	}
	return out
}

func (s *RecordSource) Evict(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.records[:0]
	evicted := 0
	for _, r := range s.records {
		if r.RetainUntil.After(now) {
			kept = append(kept, r)
		} else {
			evicted++
		}
	}
	s.records = kept
	return evicted
}

func (s *RecordSource) Summary(now time.Time) KindSummary {
	s.mu.Lock()
	defer s.mu.Unlock()

	sum := KindSummary{Total: len(s.records)}
	for _, r := range s.records {
		if !r.RetainUntil.After(now) {
			sum.Expired++
		}
		if sum.OldestRetainUntil.IsZero() || r.RetainUntil.Before(sum.OldestRetainUntil) {
			sum.OldestRetainUntil = r.RetainUntil
		}
		if r.RetainUntil.After(sum.NewestRetainUntil) {
			sum.NewestRetainUntil = r.RetainUntil
		}
	}
	return sum
}
