package internal

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Storage keys shared with other opencode clients
const (
	KeyLastConnectedURL    = "lastConnectedUrl"
	KeyLastSelectedModel   = "lastSelectedModel"
	KeyLastSelectedProject = "lastSelectedProject"
	KeyLastSelectedSession = "lastSelectedSession"
	KeyPendingDeepLink     = "pendingDeepLink"
	KeyServers             = "@servers"
)

// KeyValueStore is the opaque persistence collaborator. Values are JSON
// encoded; Get reports false when the key is absent.
type KeyValueStore interface {
	Get(ctx context.Context, key string, v any) (bool, error)
	Set(ctx context.Context, key string, v any) error
	Delete(ctx context.Context, key string) error
}

// Storage is a KeyValueStore backed by the kv table of a SQLite database
type Storage struct {
	db   *sql.DB
	path string
}

// NewStorage creates a new Storage instance
func NewStorage(db *sql.DB, path string) *Storage {
	return &Storage{db: db, path: path}
}

// OpenStorage opens the database at path and wraps it
func OpenStorage(path string) (*Storage, error) {
	db, err := OpenDatabase(path)
	if err != nil {
		return nil, &StorageError{Path: path, Op: "open", Err: err}
	}
	return NewStorage(db, path), nil
}

// Path returns the database path
func (s *Storage) Path() string {
	return s.path
}

// Close closes the underlying database
func (s *Storage) Close() error {
	return s.db.Close()
}

// Get loads the value stored under key into v
func (s *Storage) Get(ctx context.Context, key string, v any) (bool, error) {
	var raw sql.NullString
	err := s.db.QueryRowContext(ctx, "SELECT value FROM kv WHERE key = ?", key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && !raw.Valid) {
		return false, nil
	}
	if err != nil {
		return false, &StorageError{Path: s.path, Op: "get", Err: err}
	}
	if err := json.Unmarshal([]byte(raw.String), v); err != nil {
		return false, &StorageError{Path: s.path, Op: "get", Err: fmt.Errorf("decode %s: %w", key, err)}
	}
	return true, nil
}

// Set stores v under key, replacing any previous value
func (s *Storage) Set(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return &StorageError{Path: s.path, Op: "set", Err: fmt.Errorf("encode %s: %w", key, err)}
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, string(data), time.Now().UnixMilli())
	if err != nil {
		return &StorageError{Path: s.path, Op: "set", Err: err}
	}
	return nil
}

// Delete removes key
func (s *Storage) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM kv WHERE key = ?", key); err != nil {
		return &StorageError{Path: s.path, Op: "delete", Err: err}
	}
	return nil
}

// Keys lists the stored keys matching a LIKE pattern
func (s *Storage) Keys(pattern string) ([]string, error) {
	pairs, err := QueryKV(s.db, pattern)
	if err != nil {
		return nil, &StorageError{Path: s.path, Op: "get", Err: err}
	}
	keys := make([]string, 0, len(pairs))
	for _, p := range pairs {
		keys = append(keys, p.Key)
	}
	return keys, nil
}

// MemoryStore is an in-process KeyValueStore, used when no database is
// configured and in tests.
type MemoryStore struct {
	mu     sync.Mutex
	values map[string][]byte
}

// NewMemoryStore creates an empty MemoryStore
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: make(map[string][]byte)}
}

func (m *MemoryStore) Get(_ context.Context, key string, v any) (bool, error) {
	m.mu.Lock()
	data, ok := m.values[key]
	m.mu.Unlock()
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, &StorageError{Path: ":memory:", Op: "get", Err: err}
	}
	return true, nil
}

func (m *MemoryStore) Set(_ context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return &StorageError{Path: ":memory:", Op: "set", Err: err}
	}
	m.mu.Lock()
	m.values[key] = data
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.values, key)
	m.mu.Unlock()
	return nil
}
