// Package audit writes structured kernel audit records to a line
// oriented sink.
package audit

import (
	"encoding/json"
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventType categorizes an audit record.
type EventType string

const (
	EventAnomaly  EventType = "ANOMALY"
	EventApproval EventType = "APPROVAL"
	EventSafeMode EventType = "SAFE_MODE"
	EventSystem   EventType = "SYSTEM"
)

// Event is one structured audit record.
type Event struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"type"`
	Kind      string         `json:"kind"`
	Detail    string         `json:"detail"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Logger records audit events as JSON lines, each prefixed with
// "AUDIT: " so they can be filtered out of mixed streams.
type Logger struct {
	mu     sync.Mutex
	writer io.Writer
	clock  func() time.Time
}

// NewLogger writes to os.Stdout.
func NewLogger() *Logger {
	return NewLoggerWithWriter(os.Stdout)
}

// NewLoggerWithWriter writes to the given sink. A nil writer falls
// back to os.Stdout.
func NewLoggerWithWriter(w io.Writer) *Logger {
	if w == nil {
		w = os.Stdout
	}
	return &Logger{writer: w, clock: time.Now}
}

func (l *Logger) WithClock(clock func() time.Time) *Logger {
	l.clock = clock
	return l
}

// Log writes one event, assigning its ID and timestamp.
func (l *Logger) Log(eventType EventType, kind, detail string, metadata map[string]any) error {
	event := Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Kind:      kind,
		Detail:    detail,
		Timestamp: l.clock(),
		Metadata:  metadata,
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	bytes, err := json.Marshal(event)
	if err != nil {
		return err
	}
	_, err = l.writer.Write(append([]byte("AUDIT: "), append(bytes, '\n')...))
	return err
}

// Record satisfies the orchestrator's anomaly sink. Write failures are
// swallowed; anomalies are already mirrored to the structured log.
func (l *Logger) Record(kind, detail string) {
	_ = l.Log(EventAnomaly, kind, detail, nil)
}
