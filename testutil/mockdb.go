package testutil

import (
	"database/sql"
	"testing"

	_ "modernc.org/sqlite"
)

const createKVTableSQL = `
CREATE TABLE IF NOT EXISTS kv (
	key TEXT PRIMARY KEY,
	value TEXT,
	updated_at INTEGER NOT NULL DEFAULT 0
)`

// CreateInMemoryDB creates an in-memory SQLite database with an empty kv
// table
func CreateInMemoryDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("Failed to create in-memory database: %v", err)
	}
	// one connection, or every new one sees a fresh empty database
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(createKVTableSQL); err != nil {
		db.Close()
		t.Fatalf("Failed to create kv table: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

// CreateTestDB creates an in-memory database holding the state a client
// leaves behind after a few sessions
func CreateTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db := CreateInMemoryDB(t)
	for _, row := range SampleState() {
		InsertKV(t, db, row.Key, row.Value)
	}
	// a key written with no value, as older clients did on delete
	if _, err := db.Exec("INSERT INTO kv (key, value) VALUES (?, NULL)", "lastSelectedSession"); err != nil {
		t.Fatalf("Failed to insert null row: %v", err)
	}
	return db
}

// KV is one row of the kv table
type KV struct {
	Key   string
	Value string
}

// SampleState returns the rows CreateTestDB inserts
func SampleState() []KV {
	return []KV{
		{Key: "@servers", Value: `[{"id":"server_1","name":"Laptop","url":"http://localhost:4096","isPinned":true,"connectionCount":3},{"id":"server_2","name":"Box","url":"http://10.0.0.2:4096","isPinned":false,"connectionCount":1}]`},
		{Key: "lastConnectedUrl", Value: `"http://localhost:4096"`},
		{Key: "lastSelectedModel", Value: `{"providerId":"anthropic","modelId":"claude-sonnet","timestamp":1700000000000}`},
		{Key: "lastSelectedProject", Value: `{"id":"p1","worktree":"/work/app"}`},
	}
}

// InsertKV inserts or replaces a raw row
func InsertKV(t *testing.T, db *sql.DB, key, value string) {
	t.Helper()
	if _, err := db.Exec("INSERT OR REPLACE INTO kv (key, value) VALUES (?, ?)", key, value); err != nil {
		t.Fatalf("Failed to insert %s: %v", key, err)
	}
}
