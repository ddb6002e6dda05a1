// Package retention is the mandatory backstop on the append-only
// stores: expired records are exported as JSONL and then evicted, and a
// compliance summary reports what is held and for how long.
package retention

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// ExportRecord is one exported line: the original record plus the
// retention envelope.
type ExportRecord struct {
	Kind        string         `json:"kind"`
	RetainUntil time.Time      `json:"retainUntil"`
	ExportedAt  time.Time      `json:"exportedAt"`
	Data        map[string]any `json:"data"`
}

// KindSummary is the per-kind slice of the compliance summary.
type KindSummary struct {
	Total             int       `json:"total"`
	Expired           int       `json:"expired"`
	OldestRetainUntil time.Time `json:"oldestRetainUntil,omitzero"`
	NewestRetainUntil time.Time `json:"newestRetainUntil,omitzero"`
}

// ComplianceSummary reports holdings by record kind.
type ComplianceSummary struct {
	GeneratedAt time.Time              `json:"generatedAt"`
	Kinds       map[string]KindSummary `json:"kinds"`
}

// Source is one retained record kind. The event store and the audit
// record store adapt to it.
type Source interface {
	Kind() string
	// Expired returns records whose retainUntil <= now.
	Expired(now time.Time) []ExportRecord
	// Evict removes them and returns the count.
	Evict(now time.Time) int
	Summary(now time.Time) KindSummary
}

// ExportSink receives one JSONL document per export pass.
type ExportSink interface {
	Put(ctx context.Context, key string, body []byte) error
}

// Options for the retention manager. Retention windows live in the
// sources; the manager owns ordering.
type Options struct {
	ExportBeforeEviction bool
}

// Manager drives export and eviction across all registered sources.
type Manager struct {
	mu      sync.Mutex
	sources []Source
	sink    ExportSink
	opts    Options
	clock   func() time.Time
}

func NewManager(sink ExportSink, opts Options, sources ...Source) *Manager {
	return &Manager{
		sources: sources,
		sink:    sink,
		opts:    opts,
		clock:   time.Now,
	}
}

func (m *Manager) WithClock(clock func() time.Time) *Manager {
	m.clock = clock
	return m
}

// ExportExpired serializes expired records, grouped by kind, one JSON
// object per line, keyed exports/<kind>/<timestamp>.jsonl.
func (m *Manager) ExportExpired(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.exportLocked(ctx, m.clock())
}

func (m *Manager) exportLocked(ctx context.Context, now time.Time) (int, error) {
	total := 0
	for _, src := range m.sources {
		records := src.Expired(now)
		if len(records) == 0 {
			continue
		}
		var body []byte
		for i := range records {
			records[i].ExportedAt = now
			line, err := json.Marshal(records[i])
			if err != nil {
				return total, fmt.Errorf("retention: encode %s record: %w", src.Kind(), err)
			}
			body = append(body, line...)
			body = append(body, '\n')
		}
		key := fmt.Sprintf("exports/%s/%s.jsonl", src.Kind(), now.UTC().Format("20060102T150405Z"))
		if m.sink != nil {
			if err := m.sink.Put(ctx, key, body); err != nil {
				return total, fmt.Errorf("retention: export %s: %w", src.Kind(), err)
			}
		}
		total += len(records)
	}
	return total, nil
}

// EvictExpired removes expired records from every source. When
// ExportBeforeEviction is set, a failed export aborts the eviction so
// nothing is lost unexported.
func (m *Manager) EvictExpired(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock()
	if m.opts.ExportBeforeEviction {
		if _, err := m.exportLocked(ctx, now); err != nil {
			return 0, err
		}
	}

	evicted := 0
	for _, src := range m.sources {
		evicted += src.Evict(now)
	}
	return evicted, nil
}

// GetComplianceSummary reports per-kind totals and retention bounds.
func (m *Manager) GetComplianceSummary() ComplianceSummary {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock()
	out := ComplianceSummary{
		GeneratedAt: now,
		Kinds:       make(map[string]KindSummary, len(m.sources)),
	}
	for _, src := range m.sources {
		out.Kinds[src.Kind()] = src.Summary(now)
	}
	return out
}
