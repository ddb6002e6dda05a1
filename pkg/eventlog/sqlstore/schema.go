// Package sqlstore persists the kernel's records in a SQL table store.
// Postgres (lib/pq) backs production deployments; SQLite (modernc.org)
// backs lite mode. Both share one statement set; only placeholders and
// column types differ.
package sqlstore

import "strings"

// Dialect selects placeholder style and column types.
type Dialect int

const (
	Postgres Dialect = iota
	SQLite
)

// Six tables keyed by generated identifiers. Index names are globally
// unique across the schema.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS events (
		sequence_id BIGINT PRIMARY KEY,
		request_id TEXT NOT NULL,
		correlation_id TEXT,
		type TEXT NOT NULL,
		agent_id TEXT,
		payload {{JSON}},
		timestamp TIMESTAMPTZ NOT NULL,
		prev_hash TEXT,
		event_hash TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_events_request_id ON events (request_id)`,
	`CREATE INDEX IF NOT EXISTS idx_events_correlation_id ON events (correlation_id)`,
	`CREATE INDEX IF NOT EXISTS idx_events_type ON events (type)`,
	`CREATE INDEX IF NOT EXISTS idx_events_agent_id ON events (agent_id)`,
	`CREATE INDEX IF NOT EXISTS idx_events_timestamp ON events (timestamp)`,
	`CREATE INDEX IF NOT EXISTS idx_events_event_hash ON events (event_hash)`,

	`CREATE TABLE IF NOT EXISTS goals (
		id TEXT PRIMARY KEY,
		description TEXT NOT NULL,
		priority TEXT NOT NULL,
		status TEXT NOT NULL,
		parent_goal_id TEXT,
		source TEXT NOT NULL,
		source_trust DOUBLE PRECISION NOT NULL,
		data {{JSON}},
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_goals_status ON goals (status)`,
	`CREATE INDEX IF NOT EXISTS idx_goals_parent ON goals (parent_goal_id)`,

	`CREATE TABLE IF NOT EXISTS state (
		id TEXT PRIMARY KEY,
		agent_id TEXT NOT NULL,
		current_state TEXT NOT NULL,
		consecutive_errors INTEGER NOT NULL,
		data {{JSON}},
		snapshot_at TIMESTAMPTZ NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS audit (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		data {{JSON}},
		retain_until TIMESTAMPTZ NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_retain_until ON audit (retain_until)`,

	`CREATE TABLE IF NOT EXISTS approvals (
		id TEXT PRIMARY KEY,
		tool_name TEXT NOT NULL,
		risk_class TEXT NOT NULL,
		call_payload {{JSON}},
		decision TEXT,
		decided_by TEXT,
		created_at TIMESTAMPTZ NOT NULL,
		expires_at TIMESTAMPTZ NOT NULL,
		decided_at TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS idx_approvals_decision ON approvals (decision)`,
	`CREATE INDEX IF NOT EXISTS idx_approvals_tool_name ON approvals (tool_name)`,

	`CREATE TABLE IF NOT EXISTS identity (
		id TEXT PRIMARY KEY,
		agent_id TEXT NOT NULL,
		version TEXT NOT NULL,
		active BOOLEAN NOT NULL,
		identity {{JSON}},
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_identity_agent_version ON identity (agent_id, version)`,
	`CREATE INDEX IF NOT EXISTS idx_identity_agent_active ON identity (agent_id, active)`,
}

// SchemaStatements renders the DDL for a dialect.
func SchemaStatements(d Dialect) []string {
	jsonType := "JSONB"
	out := make([]string, len(schemaStatements))
	for i, stmt := range schemaStatements {
		s := stmt
		if d == SQLite {
			s = strings.ReplaceAll(s, "TIMESTAMPTZ", "TIMESTAMP")
			s = strings.ReplaceAll(s, "DOUBLE PRECISION", "REAL")
			s = strings.ReplaceAll(s, "{{JSON}}", "TEXT")
		} else {
			s = strings.ReplaceAll(s, "{{JSON}}", jsonType)
		}
		out[i] = s
	}
	return out
}

// rebind rewrites $N placeholders for SQLite.
func rebind(d Dialect, query string) string {
	if d == Postgres {
		return query
	}
	var b strings.Builder
	skip := false
	for i := 0; i < len(query); i++ {
		if skip {
			if query[i] >= '0' && query[i] <= '9' {
				continue
			}
			skip = false
		}
		if query[i] == '$' {
			b.WriteByte('?')
			skip = true
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}
