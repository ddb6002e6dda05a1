package eventlog

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"

	"github.com/Mindburn-Labs/autonomy-kernel/pkg/contracts"
)

// WriteJSONL serializes events as one JSON object per line, in the order
// given. This is the export schema consumers receive.
func WriteJSONL(w io.Writer, events []contracts.ExecutionEvent) error {
	bw := bufio.NewWriter(w)
	enc := json.NewEncoder(bw)
	for i := range events {
		if err := enc.Encode(&events[i]); err != nil {
			return fmt.Errorf("eventlog: encode event %d: %w", events[i].SequenceID, err)
		}
	}
	return bw.Flush()
}

// ReadJSONL parses an events.jsonl stream.
func ReadJSONL(r io.Reader) ([]contracts.ExecutionEvent, error) {
	var events []contracts.ExecutionEvent
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		raw := sc.Bytes()
		if len(raw) == 0 {
			continue
		}
		var ev contracts.ExecutionEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			return nil, fmt.Errorf("eventlog: line %d: %w", line, err)
		}
		events = append(events, ev)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return events, nil
}
