package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Mindburn-Labs/autonomy-kernel/pkg/canonical"
	"github.com/Mindburn-Labs/autonomy-kernel/pkg/contracts"
)

// SQLStore implements eventlog.Store on a SQL database. Appends are
// serialized through a transaction that reads the current head row, so a
// single writer at a time is enforced by the database itself.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
	agentID string
	clock   func() time.Time
}

func New(db *sql.DB, dialect Dialect) *SQLStore {
	return &SQLStore{db: db, dialect: dialect, clock: time.Now}
}

// WithAgentID stamps appended rows with the owning agent.
func (s *SQLStore) WithAgentID(agentID string) *SQLStore {
	s.agentID = agentID
	return s
}

// WithClock overrides the clock for deterministic testing.
func (s *SQLStore) WithClock(clock func() time.Time) *SQLStore {
	s.clock = clock
	return s
}

// EnsureSchema creates the six tables and their indexes.
func (s *SQLStore) EnsureSchema(ctx context.Context) error {
	for _, stmt := range SchemaStatements(s.dialect) {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sqlstore: schema: %w", err)
		}
	}
	return nil
}

func (s *SQLStore) Append(ctx context.Context, requestID, eventType string, payload map[string]any, correlationID string) (uint64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("sqlstore: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var seq uint64 = 1
	prevHash := ""
	row := tx.QueryRowContext(ctx, rebind(s.dialect,
		"SELECT sequence_id, event_hash FROM events ORDER BY sequence_id DESC LIMIT 1"))
	var lastSeq sql.NullInt64
	var lastHash sql.NullString
	if err := row.Scan(&lastSeq, &lastHash); err != nil && err != sql.ErrNoRows {
		return 0, fmt.Errorf("sqlstore: head: %w", err)
	}
	if lastSeq.Valid {
		seq = uint64(lastSeq.Int64) + 1
		prevHash = lastHash.String
	}

	now := s.clock().UTC()
	hash, err := canonical.EventHash(prevHash, seq, requestID, eventType, payload, now)
	if err != nil {
		return 0, fmt.Errorf("sqlstore: hash: %w", err)
	}

	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("sqlstore: payload: %w", err)
	}

	_, err = tx.ExecContext(ctx, rebind(s.dialect,
		`INSERT INTO events (sequence_id, request_id, correlation_id, type, agent_id, payload, timestamp, prev_hash, event_hash)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`),
		int64(seq), requestID, nullable(correlationID), eventType, nullable(s.agentID),
		string(payloadJSON), now, nullable(prevHash), hash)
	if err != nil {
		return 0, fmt.Errorf("sqlstore: insert event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("sqlstore: commit: %w", err)
	}
	return seq, nil
}

const eventColumns = "sequence_id, request_id, correlation_id, type, payload, timestamp, prev_hash, event_hash"

func (s *SQLStore) GetByRequestID(requestID string) []contracts.ExecutionEvent {
	return s.query("SELECT "+eventColumns+" FROM events WHERE request_id = $1 ORDER BY sequence_id", requestID)
}

func (s *SQLStore) GetByCorrelationID(correlationID string) []contracts.ExecutionEvent {
	return s.query("SELECT "+eventColumns+" FROM events WHERE correlation_id = $1 ORDER BY sequence_id", correlationID)
}

func (s *SQLStore) GetRecent(n int) []contracts.ExecutionEvent {
	events := s.query("SELECT "+eventColumns+" FROM events ORDER BY sequence_id DESC LIMIT $1", n)
	// Reverse into ascending order.
	for i, j := 0, len(events)-1; i < j; i, j = i+1, j-1 {
		events[i], events[j] = events[j], events[i]
	}
	return events
}

func (s *SQLStore) All() []contracts.ExecutionEvent {
	return s.query("SELECT " + eventColumns + " FROM events ORDER BY sequence_id")
}

func (s *SQLStore) Size() int {
	var n int
	_ = s.db.QueryRow("SELECT COUNT(*) FROM events").Scan(&n)
	return n
}

func (s *SQLStore) Clear() {
	_, _ = s.db.Exec("DELETE FROM events")
}

func (s *SQLStore) VerifyChain() (bool, string) {
	prevHash := ""
	for i, ev := range s.All() {
		if i > 0 && ev.PrevHash != prevHash {
			return false, fmt.Sprintf("chain broken at sequence %d: prev hash mismatch", ev.SequenceID)
		}
		computed, err := canonical.EventHash(ev.PrevHash, ev.SequenceID, ev.RequestID, ev.Type, ev.Payload, ev.Timestamp)
		if err != nil || computed != ev.EventHash {
			return false, fmt.Sprintf("hash mismatch at sequence %d", ev.SequenceID)
		}
		prevHash = ev.EventHash
	}
	return true, "chain verified"
}

func (s *SQLStore) EvictExpired(now time.Time) int {
	// Retention windows are the retention manager's concern; the SQL
	// store evicts rows it is told are expired via the audit table.
	return 0
}

func (s *SQLStore) query(q string, args ...any) []contracts.ExecutionEvent {
	rows, err := s.db.Query(rebind(s.dialect, q), args...)
	if err != nil {
		return nil
	}
	defer func() { _ = rows.Close() }()

	var out []contracts.ExecutionEvent
	for rows.Next() {
		var ev contracts.ExecutionEvent
		var seq int64
		var corr, prev sql.NullString
		var payloadJSON []byte
		if err := rows.Scan(&seq, &ev.RequestID, &corr, &ev.Type, &payloadJSON, &ev.Timestamp, &prev, &ev.EventHash); err != nil {
			return out
		}
		ev.SequenceID = uint64(seq)
		ev.CorrelationID = corr.String
		ev.PrevHash = prev.String
		if len(payloadJSON) > 0 {
			_ = json.Unmarshal(payloadJSON, &ev.Payload)
		}
		out = append(out, ev)
	}
	return out
}

// SaveGoal upserts a goal row.
func (s *SQLStore) SaveGoal(ctx context.Context, g *contracts.Goal) error {
	data, err := json.Marshal(g)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, rebind(s.dialect,
		`INSERT INTO goals (id, description, priority, status, parent_goal_id, source, source_trust, data, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (id) DO UPDATE SET status = EXCLUDED.status, data = EXCLUDED.data, updated_at = EXCLUDED.updated_at`),
		g.ID, g.Description, g.Priority, g.Status, nullable(g.ParentGoalID), g.Source, g.SourceTrust,
		string(data), g.CreatedAt, g.UpdatedAt)
	return err
}

// SaveApproval persists a terminal or pending approval request.
func (s *SQLStore) SaveApproval(ctx context.Context, r *contracts.ApprovalRequest) error {
	payload, err := json.Marshal(r.CallPayload)
	if err != nil {
		return err
	}
	var decidedAt any
	if !r.DecidedAt.IsZero() {
		decidedAt = r.DecidedAt
	}
	_, err = s.db.ExecContext(ctx, rebind(s.dialect,
		`INSERT INTO approvals (id, tool_name, risk_class, call_payload, decision, decided_by, created_at, expires_at, decided_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (id) DO UPDATE SET decision = EXCLUDED.decision, decided_by = EXCLUDED.decided_by, decided_at = EXCLUDED.decided_at`),
		r.ID, r.ToolName, string(r.RiskClass), string(payload),
		nullable(string(r.Decision)), nullable(r.DecidedBy), r.CreatedAt, r.ExpiresAt, decidedAt)
	return err
}

// SaveStateSnapshot records the state machine's current position.
func (s *SQLStore) SaveStateSnapshot(ctx context.Context, agentID, state string, consecutiveErrors int) error {
	_, err := s.db.ExecContext(ctx, rebind(s.dialect,
		`INSERT INTO state (id, agent_id, current_state, consecutive_errors, data, snapshot_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`),
		uuid.New().String(), agentID, state, consecutiveErrors, "{}", s.clock().UTC())
	return err
}

// SaveAuditRecord stores a retention-tracked audit row.
func (s *SQLStore) SaveAuditRecord(ctx context.Context, kind string, data map[string]any, retainUntil time.Time) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, rebind(s.dialect,
		`INSERT INTO audit (id, kind, data, retain_until, created_at)
		 VALUES ($1, $2, $3, $4, $5)`),
		uuid.New().String(), kind, string(raw), retainUntil, s.clock().UTC())
	return err
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
