package sqlstore

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/autonomy-kernel/pkg/contracts"
)

func fixedClock() time.Time {
	return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
}

func TestAppendFirstEvent(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	store := New(db, Postgres).WithClock(fixedClock).WithAgentID("agent-1")

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT sequence_id, event_hash FROM events").
		WillReturnRows(sqlmock.NewRows([]string{"sequence_id", "event_hash"}))
	mock.ExpectExec("INSERT INTO events").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	seq, err := store.Append(context.Background(), "r1", contracts.EventToolProposed, map[string]any{"a": 1}, "")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), seq)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAppendChainsFromHead(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	store := New(db, Postgres).WithClock(fixedClock)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT sequence_id, event_hash FROM events").
		WillReturnRows(sqlmock.NewRows([]string{"sequence_id", "event_hash"}).
			AddRow(int64(41), "sha256:abc"))
	mock.ExpectExec("INSERT INTO events").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	seq, err := store.Append(context.Background(), "r2", contracts.EventToolValidated, nil, "c9")
	require.NoError(t, err)
	assert.Equal(t, uint64(42), seq)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveApprovalAndGoal(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	store := New(db, Postgres).WithClock(fixedClock)
	ctx := context.Background()

	mock.ExpectExec("INSERT INTO approvals").
		WillReturnResult(sqlmock.NewResult(1, 1))
	require.NoError(t, store.SaveApproval(ctx, &contracts.ApprovalRequest{
		ID:        "ap-1",
		ToolName:  "RUN_IN_TERMINAL",
		RiskClass: contracts.RiskIrreversible,
		CreatedAt: fixedClock(),
		ExpiresAt: fixedClock().Add(time.Minute),
		Decision:  contracts.DecisionApproved,
		DecidedBy: "admin",
		DecidedAt: fixedClock(),
	}))

	mock.ExpectExec("INSERT INTO goals").
		WillReturnResult(sqlmock.NewResult(1, 1))
	require.NoError(t, store.SaveGoal(ctx, &contracts.Goal{
		ID:          "g-1",
		Description: "ship it",
		Priority:    contracts.PriorityHigh,
		Status:      contracts.GoalActive,
		Source:      contracts.SourceUser,
		SourceTrust: 1,
		CreatedAt:   fixedClock(),
		UpdatedAt:   fixedClock(),
	}))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSchemaStatementsDialects(t *testing.T) {
	pg := SchemaStatements(Postgres)
	lite := SchemaStatements(SQLite)
	require.Equal(t, len(pg), len(lite))

	joinedPG := ""
	for _, s := range pg {
		joinedPG += s + "\n"
	}
	assert.Contains(t, joinedPG, "JSONB")
	assert.Contains(t, joinedPG, "idx_identity_agent_version")
	assert.Contains(t, joinedPG, "idx_events_event_hash")

	joinedLite := ""
	for _, s := range lite {
		joinedLite += s + "\n"
	}
	assert.NotContains(t, joinedLite, "JSONB")
	assert.NotContains(t, joinedLite, "TIMESTAMPTZ")
}

func TestRebind(t *testing.T) {
	q := "INSERT INTO t (a, b) VALUES ($1, $2)"
	assert.Equal(t, q, rebind(Postgres, q))
	assert.Equal(t, "INSERT INTO t (a, b) VALUES (?, ?)", rebind(SQLite, q))
	assert.Equal(t, "SELECT ? FROM t WHERE x = ?", rebind(SQLite, "SELECT $1 FROM t WHERE x = $12"))
}
