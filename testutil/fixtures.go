package testutil

import (
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	_ "modernc.org/sqlite"
)

// CreateSQLiteFixture creates a state database file at dbPath holding
// SampleState
func CreateSQLiteFixture(t *testing.T, dbPath string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		t.Fatalf("Failed to create fixture directory: %v", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	defer func() { _ = db.Close() }()

	if _, err := db.Exec(createKVTableSQL); err != nil {
		t.Fatalf("Failed to create table: %v", err)
	}
	for _, row := range SampleState() {
		InsertKV(t, db, row.Key, row.Value)
	}
}

// CreateConfigFixture writes a config.yaml with the given contents
func CreateConfigFixture(t *testing.T, path, contents string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("Failed to create config directory: %v", err)
	}
	if err := os.WriteFile(path, []byte(contents), 0644); err != nil {
		t.Fatalf("Failed to write config %s: %v", path, err)
	}
}

// CreateDataDir lays out a data directory with a config file and a state
// database, and returns its path
func CreateDataDir(t *testing.T, config string) string {
	t.Helper()
	dir := CreateTempDir(t)
	CreateConfigFixture(t, filepath.Join(dir, "config.yaml"), config)
	CreateSQLiteFixture(t, filepath.Join(dir, "state.db"))
	return dir
}
