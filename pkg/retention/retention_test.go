package retention

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/autonomy-kernel/pkg/eventlog"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestRecordSourceExportAndEvict(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	src := NewRecordSource("audit")
	src.Add(TimedRecord{RetainUntil: now.Add(-time.Hour), Data: map[string]any{"id": "old"}})
	src.Add(TimedRecord{RetainUntil: now.Add(time.Hour), Data: map[string]any{"id": "fresh"}})

	var buf bytes.Buffer
	m := NewManager(NewWriterSink(&buf), Options{ExportBeforeEviction: true}, src).
		WithClock(fixedClock(now))

	exported, err := m.ExportExpired(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, exported)
	assert.Contains(t, buf.String(), "# exports/audit/")
	assert.Contains(t, buf.String(), `"id":"old"`)

	evicted, err := m.EvictExpired(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, evicted)

	sum := m.GetComplianceSummary()
	assert.Equal(t, 1, sum.Kinds["audit"].Total)
	assert.Zero(t, sum.Kinds["audit"].Expired)
}

func TestExportLinesAreValidJSON(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	src := NewRecordSource("approvals")
	for i := 0; i < 3; i++ {
		src.Add(TimedRecord{RetainUntil: now.Add(-time.Minute), Data: map[string]any{"n": i}})
	}

	var buf bytes.Buffer
	m := NewManager(NewWriterSink(&buf), Options{}, src).WithClock(fixedClock(now))
	_, err := m.ExportExpired(context.Background())
	require.NoError(t, err)

	lines := 0
	scanner := bufio.NewScanner(&buf)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "#") {
			continue
		}
		var rec ExportRecord
		require.NoError(t, json.Unmarshal([]byte(line), &rec))
		assert.Equal(t, "approvals", rec.Kind)
		assert.Equal(t, now, rec.ExportedAt)
		lines++
	}
	assert.Equal(t, 3, lines)
}

type failingSink struct{}

func (failingSink) Put(context.Context, string, []byte) error {
	return errors.New("bucket gone")
}

func TestFailedExportAbortsEviction(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	src := NewRecordSource("audit")
	src.Add(TimedRecord{RetainUntil: now.Add(-time.Hour), Data: map[string]any{"id": "old"}})

	m := NewManager(failingSink{}, Options{ExportBeforeEviction: true}, src).
		WithClock(fixedClock(now))

	_, err := m.EvictExpired(context.Background())
	require.Error(t, err)
	assert.Equal(t, 1, src.Summary(now).Total, "nothing may be evicted unexported")
}

func TestEvictWithoutExportWhenDisabled(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	src := NewRecordSource("audit")
	src.Add(TimedRecord{RetainUntil: now.Add(-time.Hour), Data: nil})

	m := NewManager(failingSink{}, Options{ExportBeforeEviction: false}, src).
		WithClock(fixedClock(now))

	evicted, err := m.EvictExpired(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, evicted)
}

func TestEventSourceRoundTrip(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := now
	store := eventlog.NewMemoryStore(eventlog.Options{Retention: time.Hour}).
		WithClock(func() time.Time { return clock })

	_, err := store.Append(context.Background(), "r1", "tool:proposed", map[string]any{"tool": "X"}, "")
	require.NoError(t, err)

	clock = now.Add(2 * time.Hour)
	_, err = store.Append(context.Background(), "r2", "tool:proposed", nil, "")
	require.NoError(t, err)

	src := &EventSource{Store: store, Retention: time.Hour}

	expired := src.Expired(clock)
	require.Len(t, expired, 1)
	assert.Equal(t, "r1", expired[0].Data["requestId"])
	assert.Equal(t, now.Add(time.Hour), expired[0].RetainUntil)

	sum := src.Summary(clock)
	assert.Equal(t, 2, sum.Total)
	assert.Equal(t, 1, sum.Expired)

	assert.Equal(t, 1, src.Evict(clock))
	assert.Equal(t, 1, store.Size())
}

type fakeS3 struct {
	keys   []string
	bodies [][]byte
}

func (f *fakeS3) PutObject(_ context.Context, input *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.keys = append(f.keys, *input.Key)
	body, err := io.ReadAll(input.Body)
	if err != nil {
		return nil, err
	}
	f.bodies = append(f.bodies, body)
	return &s3.PutObjectOutput{}, nil
}

func TestS3SinkKeysAndBody(t *testing.T) {
	fake := &fakeS3{}
	sink := &S3Sink{client: fake, bucket: "b", prefix: "kernel/"}

	err := sink.Put(context.Background(), "exports/events/20260301T120000Z.jsonl", []byte("{}\n"))
	require.NoError(t, err)
	require.Len(t, fake.keys, 1)
	assert.Equal(t, "kernel/exports/events/20260301T120000Z.jsonl", fake.keys[0])
	assert.Equal(t, "{}\n", string(fake.bodies[0]))
}
