package sqlstore

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite" // pure-Go sqlite driver for lite mode
)

// OpenLite opens (or creates) an embedded SQLite store at path and
// applies the schema. This is the zero-infrastructure deployment mode;
// everything else behaves exactly like the Postgres store.
func OpenLite(ctx context.Context, path string) (*SQLStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: open sqlite: %w", err)
	}
	// The append transaction assumes one writer; sqlite serializes
	// writers natively, a single connection avoids SQLITE_BUSY churn.
	db.SetMaxOpenConns(1)

	store := New(db, SQLite)
	if err := store.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}
